package proxy

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/any-cache/internal/logging"
	"github.com/any-hub/any-cache/internal/manager"
	"github.com/any-hub/any-cache/internal/server"
)

// 响应头中的命中层级。
const (
	tierMemory = "memory"
	tierMiss   = "miss"
)

// Handler 把一次 HTTP GET 转换为 Manager.Request，并等待回调交付结果。
// 客户端断开或超过 timeout 时取消 Token，不再等待。
type Handler struct {
	logger  *logrus.Logger
	timeout time.Duration
}

// NewHandler 创建资源处理器，timeout <= 0 时使用 30s。
func NewHandler(logger *logrus.Logger, timeout time.Duration) *Handler {
	if logger == nil {
		logger = logging.Discard()
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Handler{logger: logger, timeout: timeout}
}

// Handle 解析标识符、发起请求并输出资源；任何阶段出错都会输出结构化日志。
func (h *Handler) Handle(c fiber.Ctx, route *server.SourceRoute) error {
	started := time.Now()
	requestID := server.RequestID(c)

	identifier, err := route.Identify(string(c.Request().URI().Path()), string(c.Request().URI().QueryString()))
	if err != nil {
		h.logResult(route, requestID, "", "", fiber.StatusBadRequest, started, err)
		return h.writeError(c, fiber.StatusBadRequest, "invalid_identifier")
	}

	results := make(chan manager.Result, 1)
	token, err := route.Manager.Request(identifier, nil, func(r manager.Result) {
		select {
		case results <- r:
		default:
		}
	})
	if err != nil {
		status, code := fiber.StatusBadRequest, "invalid_identifier"
		if errors.Is(err, manager.ErrClosed) {
			status, code = fiber.StatusServiceUnavailable, "source_closed"
		}
		h.logResult(route, requestID, "", "", status, started, err)
		return h.writeError(c, status, code)
	}

	tier := tierMiss
	if token.IsReady() {
		tier = tierMemory
	}

	ctx := c.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	timer := time.NewTimer(h.timeout)
	defer timer.Stop()

	var result manager.Result
	select {
	case result = <-results:
	case <-ctx.Done():
		token.Cancel()
		h.logResult(route, requestID, token.Key(), tier, 499, started, ctx.Err())
		return ctx.Err()
	case <-timer.C:
		token.Cancel()
		h.logResult(route, requestID, token.Key(), tier, fiber.StatusGatewayTimeout, started, errors.New("request timed out"))
		return h.writeError(c, fiber.StatusGatewayTimeout, "timeout")
	}

	if result.Resource == nil {
		h.logResult(route, requestID, token.Key(), tier, fiber.StatusBadGateway, started, errors.New("fetch failed"))
		return h.writeError(c, fiber.StatusBadGateway, "fetch_failed")
	}

	res := result.Resource
	if res.ContentType != "" {
		c.Set(fiber.HeaderContentType, res.ContentType)
	}
	c.Set("X-Any-Cache-Tier", tier)
	c.Set("X-Any-Cache-Key", token.Key())
	if !res.FetchedAt.IsZero() {
		c.Set(fiber.HeaderLastModified, res.FetchedAt.UTC().Format(time.RFC1123))
		c.Set("Age", strconv.FormatInt(int64(time.Since(res.FetchedAt).Seconds()), 10))
	}
	h.logResult(route, requestID, token.Key(), tier, fiber.StatusOK, started, nil)
	return c.Status(fiber.StatusOK).Send(res.Data)
}

func (h *Handler) writeError(c fiber.Ctx, status int, code string) error {
	return c.Status(status).JSON(fiber.Map{"error": code})
}

func (h *Handler) logResult(
	route *server.SourceRoute,
	requestID string,
	key string,
	tier string,
	status int,
	started time.Time,
	err error,
) {
	fields := logging.RequestFields(
		route.Config.Name,
		route.Config.Domain,
		route.Config.Type,
		tier,
		key,
	)
	fields["action"] = "serve"
	fields["status"] = status
	fields["auth_mode"] = route.Config.AuthMode()
	fields["elapsed_ms"] = time.Since(started).Milliseconds()
	if requestID != "" {
		fields["request_id"] = requestID
	}
	if err != nil {
		fields["error"] = err.Error()
		h.logger.WithFields(fields).Warn("serve_failed")
		return
	}
	h.logger.WithFields(fields).Info("serve_complete")
}
