package tiles

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/any-hub/any-cache/internal/provider"
	"github.com/any-hub/any-cache/internal/resource"
)

var tileType = reflect.TypeOf(Tile{})

// Provider 以 Tile 为标识符，把 {z}/{x}/{y} 模板展开为上游 URL。
type Provider struct {
	source        string
	template      string
	maxConcurrent int
	fetcher       *provider.Fetcher
}

var _ resource.Provider = (*Provider)(nil)

// NewProvider 创建瓦片 Provider，模板必须包含 {z}、{x}、{y}。
func NewProvider(source, template string, maxConcurrent int, fetcher *provider.Fetcher) (*Provider, error) {
	if source == "" {
		return nil, errors.New("source name required")
	}
	for _, placeholder := range []string{"{z}", "{x}", "{y}"} {
		if !strings.Contains(template, placeholder) {
			return nil, fmt.Errorf("tile template %q is missing %s", template, placeholder)
		}
	}
	if maxConcurrent <= 0 {
		maxConcurrent = provider.DefaultMaxConcurrentDownloads
	}
	if fetcher == nil {
		fetcher = provider.NewFetcher(provider.FetcherOptions{})
	}
	return &Provider{
		source:        source,
		template:      template,
		maxConcurrent: maxConcurrent,
		fetcher:       fetcher,
	}, nil
}

func (p *Provider) MaxConcurrentDownloadsCount() int {
	return p.maxConcurrent
}

func (p *Provider) IdentifierType() reflect.Type {
	return tileType
}

func (p *Provider) KeyForIdentifier(identifier any) string {
	tile, _ := identifier.(Tile)
	return p.source + ":" + tile.String()
}

func (p *Provider) DownloadResource(ctx context.Context, identifier any) (*resource.Resource, error) {
	tile, ok := identifier.(Tile)
	if !ok {
		return nil, fmt.Errorf("unexpected identifier %T", identifier)
	}
	if err := tile.Validate(); err != nil {
		return nil, err
	}
	return p.fetcher.Get(ctx, p.URL(tile))
}

// URL 返回瓦片的上游地址。
func (p *Provider) URL(tile Tile) string {
	return strings.NewReplacer(
		"{z}", strconv.Itoa(tile.Zoom),
		"{x}", strconv.Itoa(tile.X),
		"{y}", strconv.Itoa(tile.Y),
	).Replace(p.template)
}
