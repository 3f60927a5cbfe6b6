package server

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// SourceHandler serves a resource request for a resolved source. Tests swap in
// recorders to observe routing without touching a Manager.
type SourceHandler interface {
	Handle(fiber.Ctx, *SourceRoute) error
}

// SourceHandlerFunc adapts a function to the SourceHandler interface.
type SourceHandlerFunc func(fiber.Ctx, *SourceRoute) error

// Handle calls f(c, route).
func (f SourceHandlerFunc) Handle(c fiber.Ctx, route *SourceRoute) error {
	return f(c, route)
}

// AppOptions wires the Fiber application to a registry and a resource handler.
type AppOptions struct {
	Logger     *logrus.Logger
	Registry   *SourceRegistry
	Handler    SourceHandler
	ListenPort int
}

func (o AppOptions) validate() error {
	switch {
	case o.Logger == nil:
		return errors.New("logger is required")
	case o.Registry == nil:
		return errors.New("source registry is required")
	case o.Handler == nil:
		return errors.New("source handler is required")
	case o.ListenPort <= 0 || o.ListenPort > 65535:
		return fmt.Errorf("invalid listen port: %d", o.ListenPort)
	}
	return nil
}

const (
	localsRoute     = "_anycache_route"
	localsRequestID = "_anycache_request_id"

	headerRequestID = "X-Request-ID"
	headerSource    = "X-Any-Cache-Source"
	headerHost      = "X-Any-Cache-Host"

	diagnosticsPrefix = "/-/"
)

// NewApp builds the Fiber application: every request gets an id, resource
// requests are routed by Host to their source, and paths under /-/ are left
// for the diagnostics routes registered afterwards.
func NewApp(opts AppOptions) (*fiber.App, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}

	app := fiber.New(fiber.Config{
		CaseSensitive: true,
		ErrorHandler:  errorHandler(opts.Logger),
	})
	app.Use(recover.New())
	app.Use(assignRequestID)
	app.Use(resolveSource(opts))

	app.Get("/*", func(c fiber.Ctx) error {
		route, ok := routeFromLocals(c)
		if !ok {
			// 诊断路径由后续注册的路由处理。
			return c.Next()
		}
		return opts.Handler.Handle(c, route)
	})

	return app, nil
}

func assignRequestID(c fiber.Ctx) error {
	id := uuid.NewString()
	c.Locals(localsRequestID, id)
	c.Set(headerRequestID, id)
	return c.Next()
}

// resolveSource 根据 Host（可带端口）查找源；未知 Host 直接返回 404。
func resolveSource(opts AppOptions) fiber.Handler {
	return func(c fiber.Ctx) error {
		if strings.HasPrefix(string(c.Request().URI().Path()), diagnosticsPrefix) {
			return c.Next()
		}

		host := strings.TrimSpace(requestHost(c))
		route, ok := opts.Registry.Lookup(host)
		if !ok {
			opts.Logger.WithFields(logrus.Fields{
				"action":     "host_lookup",
				"host":       host,
				"port":       opts.ListenPort,
				"request_id": RequestID(c),
			}).Warn("host_unmapped")
			if host != "" {
				c.Set(headerHost, host)
			}
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "host_unmapped"})
		}

		c.Locals(localsRoute, route)
		c.Set(headerSource, route.Config.Name)
		return c.Next()
	}
}

// errorHandler 把未处理的错误统一渲染为 {"error": code} 并记录日志。
func errorHandler(logger *logrus.Logger) fiber.ErrorHandler {
	return func(c fiber.Ctx, err error) error {
		status := fiber.StatusInternalServerError
		code := "internal_error"
		var fe *fiber.Error
		if errors.As(err, &fe) {
			status = fe.Code
			code = strings.ReplaceAll(strings.ToLower(http.StatusText(status)), " ", "_")
		}
		logger.WithFields(logrus.Fields{
			"action":     "http_error",
			"status":     status,
			"path":       string(c.Request().URI().Path()),
			"request_id": RequestID(c),
		}).WithError(err).Warn("request_failed")
		return c.Status(status).JSON(fiber.Map{"error": code})
	}
}

func requestHost(c fiber.Ctx) string {
	if raw := c.Request().Header.Peek(fiber.HeaderHost); len(raw) > 0 {
		return string(raw)
	}
	return c.Hostname()
}

func routeFromLocals(c fiber.Ctx) (*SourceRoute, bool) {
	route, ok := c.Locals(localsRoute).(*SourceRoute)
	return route, ok && route != nil
}

// RequestID returns the id assigned to the current request.
func RequestID(c fiber.Ctx) string {
	id, _ := c.Locals(localsRequestID).(string)
	return id
}
