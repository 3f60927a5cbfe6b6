package provider

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path"
	"reflect"
	"strings"

	"github.com/any-hub/any-cache/internal/resource"
)

// DefaultMaxConcurrentDownloads 是未配置时的下载并发上限。
const DefaultMaxConcurrentDownloads = 4

// ErrEmptyPath 表示标识符规整后为空路径。
var ErrEmptyPath = errors.New("empty resource path")

var stringType = reflect.TypeOf("")

// HTTPOptions 描述一个 HTTP 源。
type HTTPOptions struct {
	Source        string
	Upstream      string
	MaxConcurrent int
	Fetcher       *Fetcher
}

// HTTPProvider 把字符串路径映射到上游 URL：标识符是相对于 Upstream 的路径（可带查询串），
// key 为 `<source>:<规整后的路径>`。
type HTTPProvider struct {
	source        string
	base          *url.URL
	maxConcurrent int
	fetcher       *Fetcher
}

var _ resource.Provider = (*HTTPProvider)(nil)

// NewHTTPProvider 校验上游地址并创建 Provider。
func NewHTTPProvider(opts HTTPOptions) (*HTTPProvider, error) {
	if opts.Source == "" {
		return nil, errors.New("source name required")
	}
	base, err := url.Parse(opts.Upstream)
	if err != nil {
		return nil, fmt.Errorf("parse upstream: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("unsupported upstream scheme: %s", opts.Upstream)
	}
	fetcher := opts.Fetcher
	if fetcher == nil {
		fetcher = NewFetcher(FetcherOptions{})
	}
	maxConcurrent := opts.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrentDownloads
	}
	return &HTTPProvider{
		source:        opts.Source,
		base:          base,
		maxConcurrent: maxConcurrent,
		fetcher:       fetcher,
	}, nil
}

func (p *HTTPProvider) MaxConcurrentDownloadsCount() int {
	return p.maxConcurrent
}

func (p *HTTPProvider) IdentifierType() reflect.Type {
	return stringType
}

func (p *HTTPProvider) KeyForIdentifier(identifier any) string {
	raw, _ := identifier.(string)
	return p.source + ":" + normalizeIdentifier(raw)
}

// DownloadResource 阻塞下载标识符对应的上游资源。
func (p *HTTPProvider) DownloadResource(ctx context.Context, identifier any) (*resource.Resource, error) {
	raw, ok := identifier.(string)
	if !ok {
		return nil, fmt.Errorf("unexpected identifier %T", identifier)
	}
	target, err := p.ResolveURL(raw)
	if err != nil {
		return nil, err
	}
	return p.fetcher.Get(ctx, target.String())
}

// ResolveURL 返回标识符对应的上游地址。
func (p *HTTPProvider) ResolveURL(identifier string) (*url.URL, error) {
	normalized := normalizeIdentifier(identifier)
	rawPath, rawQuery, _ := strings.Cut(normalized, "?")
	if rawPath == "" {
		return nil, ErrEmptyPath
	}
	target := *p.base
	target.Path = strings.TrimSuffix(p.base.Path, "/") + "/" + rawPath
	target.RawPath = ""
	target.RawQuery = rawQuery
	return &target, nil
}

// normalizeIdentifier 清理路径中的 `.`、`..` 与多余斜杠，并去掉开头的 `/`，
// 使 "/a//b.png" 与 "a/b.png" 得到同一个 key。
func normalizeIdentifier(raw string) string {
	rawPath, rawQuery, hasQuery := strings.Cut(strings.TrimSpace(raw), "?")
	cleaned := strings.TrimPrefix(path.Clean("/"+rawPath), "/")
	if hasQuery && rawQuery != "" {
		return cleaned + "?" + rawQuery
	}
	return cleaned
}
