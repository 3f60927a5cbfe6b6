package provider

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/any-cache/internal/cache"
	"github.com/any-hub/any-cache/internal/logging"
	"github.com/any-hub/any-cache/internal/resource"
	"github.com/any-hub/any-cache/internal/version"
)

// maxResourceSize 与磁盘记录上限一致，超过视为失败。
const maxResourceSize = cache.MaxRecordSize

// maxBackoff 限制单次重试等待的上限。
const maxBackoff = 30 * time.Second

// ErrTooLarge 表示上游返回的资源超过 maxResourceSize。
var ErrTooLarge = errors.New("resource exceeds size limit")

// StatusError 表示上游返回了非 2xx 状态码。
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream %s returned %d", e.URL, e.StatusCode)
}

// Transient 报告该状态码是否值得重试：429 与 5xx。
func (e *StatusError) Transient() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// FetcherOptions 配置 Fetcher 的鉴权与重试策略。
type FetcherOptions struct {
	Client         *http.Client
	Username       string
	Password       string
	MaxRetries     int
	InitialBackoff time.Duration
	Logger         *logrus.Logger
}

// Fetcher 以 GET 拉取单个 URL，对连接错误、429 和 5xx 做指数退避重试。
type Fetcher struct {
	client     *http.Client
	authHeader string
	maxRetries int
	backoff    time.Duration
	logger     *logrus.Logger
	now        func() time.Time
	onRetry    func(wait time.Duration)
}

// NewFetcher 创建 Fetcher，未指定 Client 时使用 NewUpstreamClient 的默认配置。
func NewFetcher(opts FetcherOptions) *Fetcher {
	client := opts.Client
	if client == nil {
		client = NewUpstreamClient(0)
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	initial := opts.InitialBackoff
	if initial <= 0 {
		initial = time.Second
	}
	retries := opts.MaxRetries
	if retries < 0 {
		retries = 0
	}
	return &Fetcher{
		client:     client,
		authHeader: buildCredentialHeader(opts.Username, opts.Password),
		maxRetries: retries,
		backoff:    initial,
		logger:     logger,
		now:        time.Now,
	}
}

// Get 下载 rawURL 并返回资源；key 为空，由调用方填写。
func (f *Fetcher) Get(ctx context.Context, rawURL string) (*resource.Resource, error) {
	attempt := 0
	operation := func() (*resource.Resource, error) {
		res, err := f.get(ctx, rawURL)
		if err != nil && !isTransient(ctx, err) {
			return nil, backoff.Permanent(err)
		}
		return res, err
	}
	notify := func(err error, wait time.Duration) {
		attempt++
		f.logger.WithFields(logrus.Fields{
			"action":  "upstream_retry",
			"url":     rawURL,
			"attempt": attempt,
			"wait_ms": wait.Milliseconds(),
		}).WithError(err).Warn("upstream_retrying")
		if f.onRetry != nil {
			f.onRetry(wait)
		}
	}
	return backoff.RetryNotifyWithData(operation, f.policy(ctx), notify)
}

// policy 返回无抖动的指数退避：InitialBackoff、2x、4x...，最多 maxRetries 次重试。
func (f *Fetcher) policy(ctx context.Context) backoff.BackOffContext {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = f.backoff
	exp.Multiplier = 2
	exp.RandomizationFactor = 0
	exp.MaxInterval = maxBackoff
	exp.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(exp, uint64(f.maxRetries)), ctx)
}

func (f *Fetcher) get(ctx context.Context, rawURL string) (*resource.Resource, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", version.UserAgent())
	if f.authHeader != "" {
		req.Header.Set("Authorization", f.authHeader)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, &StatusError{URL: rawURL, StatusCode: resp.StatusCode}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResourceSize+1))
	if err != nil {
		return nil, err
	}
	if len(data) > maxResourceSize {
		return nil, ErrTooLarge
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}
	return &resource.Resource{
		Data:        data,
		ContentType: contentType,
		FetchedAt:   f.now(),
	}, nil
}

// isTransient 判断错误是否可重试；调用方取消或资源过大都不重试。
func isTransient(ctx context.Context, err error) bool {
	if ctx.Err() != nil || errors.Is(err, ErrTooLarge) {
		return false
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Transient()
	}
	return true
}

func buildCredentialHeader(username, password string) string {
	if username == "" || password == "" {
		return ""
	}
	token := username + ":" + password
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(token))
}
