package server

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/any-cache/internal/cache"
	"github.com/any-hub/any-cache/internal/config"
	"github.com/any-hub/any-cache/internal/logging"
	"github.com/any-hub/any-cache/internal/manager"
	"github.com/any-hub/any-cache/internal/provider"
	"github.com/any-hub/any-cache/internal/resource"
	"github.com/any-hub/any-cache/internal/tiles"
)

// IdentifyFunc 把请求路径（不含开头的 `/`）与查询串转换为 Provider 接受的标识符。
type IdentifyFunc func(path, rawQuery string) (any, error)

// SourceRoute 聚合源配置与其运行时组件，供路由/处理层直接复用。
type SourceRoute struct {
	// Config 是 config.toml 中声明的源字段副本。
	Config config.SourceConfig
	// ListenPort 记录当前监听端口，方便日志输出。
	ListenPort int
	// StoragePath 是该源的磁盘缓存目录。
	StoragePath string
	// Manager 负责该源的三层缓存。
	Manager *manager.Manager
	// Identify 由源类型决定：http 使用路径字符串，tile 解析 z/x/y。
	Identify IdentifyFunc
}

// SourceRegistry 提供 Host/Host:port 到 SourceRoute 的查询能力，所有源共享同一个监听端口。
type SourceRegistry struct {
	routes  map[string]*SourceRoute
	byName  map[string]*SourceRoute
	ordered []*SourceRoute
	logger  *logrus.Logger
}

// NewSourceRegistry 根据配置为每个源创建 Manager 并构建 Host 映射。调用方应在启动阶段创建一次并复用，
// 退出前调用 Close。
func NewSourceRegistry(cfg *config.Config, logger *logrus.Logger) (*SourceRegistry, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	if logger == nil {
		logger = logging.Discard()
	}

	registry := &SourceRegistry{
		routes: make(map[string]*SourceRoute, len(cfg.Sources)),
		byName: make(map[string]*SourceRoute, len(cfg.Sources)),
		logger: logger,
	}

	for _, source := range cfg.Sources {
		normalizedHost := normalizeDomain(source.Domain)
		if normalizedHost == "" {
			registry.Close()
			return nil, fmt.Errorf("invalid domain for source %s", source.Name)
		}
		if _, exists := registry.routes[normalizedHost]; exists {
			registry.Close()
			return nil, fmt.Errorf("duplicate domain mapping detected for %s", normalizedHost)
		}

		route, err := buildSourceRoute(cfg, source, logger)
		if err != nil {
			registry.Close()
			return nil, err
		}

		registry.routes[normalizedHost] = route
		registry.byName[source.Name] = route
		registry.ordered = append(registry.ordered, route)
	}

	return registry, nil
}

// Lookup 根据 Host 或 Host:port 查找 SourceRoute。
func (r *SourceRegistry) Lookup(host string) (*SourceRoute, bool) {
	if r == nil {
		return nil, false
	}

	normalizedHost, _ := normalizeHost(host)
	if normalizedHost == "" {
		return nil, false
	}

	route, ok := r.routes[normalizedHost]
	return route, ok
}

// Route 按源名称查找，供诊断接口使用。
func (r *SourceRegistry) Route(name string) (*SourceRoute, bool) {
	if r == nil {
		return nil, false
	}
	route, ok := r.byName[name]
	return route, ok
}

// List 返回当前注册的 SourceRoute 列表（按配置定义的顺序）。
func (r *SourceRegistry) List() []*SourceRoute {
	if r == nil || len(r.ordered) == 0 {
		return nil
	}
	return append([]*SourceRoute(nil), r.ordered...)
}

// Apply 将热更新后的容量配置应用到已存在的源；新增或删除源需要重启。
func (r *SourceRegistry) Apply(cfg *config.Config) {
	if r == nil || cfg == nil {
		return
	}
	seen := make(map[string]struct{}, len(cfg.Sources))
	for _, source := range cfg.Sources {
		seen[source.Name] = struct{}{}
		route, ok := r.byName[source.Name]
		if !ok {
			r.logger.WithFields(logrus.Fields{"action": "config_apply", "source": source.Name}).
				Warn("source_added_requires_restart")
			continue
		}
		memoryLimit := cfg.EffectiveMemoryCacheCountLimit(source)
		diskLimit := cfg.EffectiveDiskCacheSizeLimit(source)
		concurrency := cfg.EffectiveMaxConcurrentDownloads(source)
		route.Manager.SetMemoryCacheCountLimit(memoryLimit)
		route.Manager.SetDiskCacheTotalSizeLimit(diskLimit)
		route.Manager.SetMaxConcurrentDownloads(concurrency)
		r.logger.WithFields(logrus.Fields{
			"action":       "config_apply",
			"source":       source.Name,
			"memory_limit": memoryLimit,
			"disk_limit":   diskLimit,
			"concurrency":  concurrency,
		}).Info("source_limits_applied")
	}
	for name := range r.byName {
		if _, ok := seen[name]; !ok {
			r.logger.WithFields(logrus.Fields{"action": "config_apply", "source": name}).
				Warn("source_removed_requires_restart")
		}
	}
}

// Close 关闭所有源的 Manager。
func (r *SourceRegistry) Close() {
	if r == nil {
		return
	}
	for _, route := range r.ordered {
		route.Manager.Close()
	}
}

func buildSourceRoute(cfg *config.Config, source config.SourceConfig, logger *logrus.Logger) (*SourceRoute, error) {
	codec, err := cache.ParseCodec(cfg.Global.DiskCompression)
	if err != nil {
		return nil, fmt.Errorf("source %s: %w", source.Name, err)
	}
	storagePath := cfg.SourceStoragePath(source)
	store, err := cache.NewStore(storagePath, codec)
	if err != nil {
		return nil, fmt.Errorf("source %s: %w", source.Name, err)
	}

	fetcher := provider.NewFetcher(provider.FetcherOptions{
		Client:         provider.NewUpstreamClient(cfg.Global.UpstreamTimeout.DurationValue()),
		Username:       source.Username,
		Password:       source.Password,
		MaxRetries:     cfg.Global.MaxRetries,
		InitialBackoff: cfg.Global.InitialBackoff.DurationValue(),
		Logger:         logger,
	})
	concurrency := cfg.EffectiveMaxConcurrentDownloads(source)

	var (
		p        resource.Provider
		identify IdentifyFunc
	)
	switch source.Type {
	case config.SourceTypeTile:
		tp, err := tiles.NewProvider(source.Name, source.Upstream, concurrency, fetcher)
		if err != nil {
			return nil, fmt.Errorf("source %s: %w", source.Name, err)
		}
		p, identify = tp, identifyTile
	default:
		hp, err := provider.NewHTTPProvider(provider.HTTPOptions{
			Source:        source.Name,
			Upstream:      source.Upstream,
			MaxConcurrent: concurrency,
			Fetcher:       fetcher,
		})
		if err != nil {
			return nil, fmt.Errorf("source %s: %w", source.Name, err)
		}
		p, identify = hp, identifyPath
	}

	m, err := manager.New(manager.Options{
		Provider:                p,
		Store:                   store,
		Logger:                  logger,
		MemoryCacheCountLimit:   cfg.EffectiveMemoryCacheCountLimit(source),
		DiskCacheTotalSizeLimit: cfg.EffectiveDiskCacheSizeLimit(source),
		MaxConcurrentDownloads:  concurrency,
	})
	if err != nil {
		return nil, fmt.Errorf("source %s: %w", source.Name, err)
	}

	return &SourceRoute{
		Config:      source,
		ListenPort:  cfg.Global.ListenPort,
		StoragePath: storagePath,
		Manager:     m,
		Identify:    identify,
	}, nil
}

func identifyPath(path, rawQuery string) (any, error) {
	path = strings.TrimPrefix(path, "/")
	if path == "" {
		return nil, provider.ErrEmptyPath
	}
	if rawQuery != "" {
		return path + "?" + rawQuery, nil
	}
	return path, nil
}

func identifyTile(path, _ string) (any, error) {
	return tiles.ParsePath(path)
}

func normalizeDomain(domain string) string {
	host, _ := normalizeHost(domain)
	return host
}

func normalizeHost(raw string) (string, int) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", 0
	}

	host := raw
	port := 0

	if strings.Contains(raw, ":") {
		if h, p, err := net.SplitHostPort(raw); err == nil {
			host = h
			if parsedPort, err := strconv.Atoi(p); err == nil {
				port = parsedPort
			}
		} else if idx := strings.LastIndex(raw, ":"); idx > -1 && strings.Count(raw[idx+1:], ":") == 0 {
			if parsedPort, err := strconv.Atoi(raw[idx+1:]); err == nil {
				host = raw[:idx]
				port = parsedPort
			}
		}
	}

	host = strings.TrimSuffix(host, ".")
	host = strings.ToLower(host)
	return host, port
}
