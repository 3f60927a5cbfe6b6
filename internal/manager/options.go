package manager

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/any-cache/internal/cache"
	"github.com/any-hub/any-cache/internal/resource"
)

// Dispatcher 决定异步回调在哪里执行；lane.Lane 满足该接口。
type Dispatcher interface {
	Dispatch(func())
}

// Options 是构造 Manager 所需的全部配置。
type Options struct {
	Provider resource.Provider
	Store    cache.Store

	// Dispatcher 为 nil 时 Manager 创建并持有一条专用的投递 lane。
	Dispatcher Dispatcher
	Logger     *logrus.Logger

	// MemoryCacheCountLimit 为 0 表示不限制。
	MemoryCacheCountLimit int
	// DiskCacheTotalSizeLimit 以字节计，0 表示不限制。
	DiskCacheTotalSizeLimit int64
	// MaxConcurrentDownloads 为 0 时使用 Provider.MaxConcurrentDownloadsCount()。
	MaxConcurrentDownloads int

	Now func() time.Time
}

// DefaultOptions 返回带默认容量（25 条 / 150MiB）的 Options。
func DefaultOptions(provider resource.Provider, store cache.Store) Options {
	return Options{
		Provider:                provider,
		Store:                   store,
		MemoryCacheCountLimit:   cache.DefaultMemoryCountLimit,
		DiskCacheTotalSizeLimit: cache.DefaultDiskSizeLimit,
	}
}
