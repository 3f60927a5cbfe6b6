package manager

import (
	"context"
	"errors"
	"reflect"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/any-cache/internal/cache"
	"github.com/any-hub/any-cache/internal/fetch"
	"github.com/any-hub/any-cache/internal/lane"
	"github.com/any-hub/any-cache/internal/logging"
	"github.com/any-hub/any-cache/internal/resource"
)

// Result 是交付给回调的一次结果；IsPlaceholder 为 true 时 Resource 是调用方提供的占位资源。
type Result struct {
	Resource      *resource.Resource
	IsPlaceholder bool
}

// Callback 接收请求结果。失败时 Resource 为 nil。
type Callback func(Result)

// Stats 汇总各层的运行时状态。
type Stats struct {
	MemoryEntries int             `json:"memory_entries"`
	MemoryLimit   int             `json:"memory_limit"`
	Disk          cache.DiskStats `json:"disk"`
	Fetch         fetch.Stats     `json:"fetch"`
}

// Manager 串联内存、磁盘与远程三层。
type Manager struct {
	provider resource.Provider
	idType   reflect.Type
	logger   *logrus.Logger
	now      func() time.Time

	memory *cache.MemoryCache[*resource.Resource]
	disk   *cache.DiskCache
	coord  *fetch.Coordinator

	dispatcher Dispatcher
	delivery   *lane.Lane

	ctx    context.Context
	cancel context.CancelFunc
	closed atomic.Bool
}

// New 根据 Options 构建 Manager。
func New(opts Options) (*Manager, error) {
	if opts.Provider == nil {
		return nil, errors.New("provider required")
	}
	if opts.Store == nil {
		return nil, errors.New("cache store required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	disk, err := cache.NewDiskCache(opts.Store, cache.DiskOptions{
		SizeLimit: opts.DiskCacheTotalSizeLimit,
		Logger:    logger,
		Now:       now,
	})
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		provider: opts.Provider,
		idType:   opts.Provider.IdentifierType(),
		logger:   logger,
		now:      now,
		memory:   cache.NewMemoryCache[*resource.Resource](opts.MemoryCacheCountLimit),
		disk:     disk,
		ctx:      ctx,
		cancel:   cancel,
	}

	concurrency := opts.MaxConcurrentDownloads
	if concurrency <= 0 {
		concurrency = opts.Provider.MaxConcurrentDownloadsCount()
	}
	m.coord = fetch.NewCoordinator(concurrency, m.download, logger)

	m.dispatcher = opts.Dispatcher
	if m.dispatcher == nil {
		m.delivery = lane.New()
		m.dispatcher = m.delivery
	}
	return m, nil
}

// Request 按 内存 -> 磁盘 -> 远程 的顺序获取资源。
// 内存命中时 cb 在返回前同步调用；未命中且 placeholder 非 nil 时先同步交付占位资源，
// 最终结果随后通过 Dispatcher 异步交付。标识符类型不符时返回 *ValidationError 且不会调用 cb。
func (m *Manager) Request(identifier any, placeholder *resource.Resource, cb Callback) (*Token, error) {
	if m.closed.Load() {
		return nil, ErrClosed
	}
	if err := validateIdentifier(m.idType, identifier); err != nil {
		return nil, err
	}
	key := m.provider.KeyForIdentifier(identifier)
	token := newToken(key)

	if res, ok := m.memory.Get(key); ok {
		token.markReady()
		if cb != nil {
			cb(Result{Resource: res})
		}
		return token, nil
	}

	if placeholder != nil && cb != nil {
		cb(Result{Resource: placeholder, IsPlaceholder: true})
	}

	waiter, created := m.coord.Attach(key, identifier, func(res *resource.Resource) {
		m.deliver(token, cb, res)
	})
	token.coord = m.coord
	token.waiter = waiter

	if created {
		m.lookupDisk(waiter.Pending())
	}
	return token, nil
}

// lookupDisk 在磁盘 lane 上查找；命中则回填内存并直接完成，否则交给下载池。
func (m *Manager) lookupDisk(p *fetch.Pending) {
	key := p.Key()
	m.disk.Lookup(key, func(record *cache.Record, ok bool) {
		if res, hit := m.memory.Get(key); hit {
			m.coord.Resolve(p, res)
			return
		}
		if ok {
			res := &resource.Resource{
				Key:         key,
				Data:        record.Data,
				ContentType: record.ContentType,
				FetchedAt:   record.StoredAt,
			}
			m.memory.Add(key, res)
			m.logger.WithFields(logrus.Fields{"action": "request", "tier": "disk", "key": key}).Debug("disk_hit")
			m.coord.Resolve(p, res)
			return
		}
		if !m.coord.Schedule(p) {
			m.logger.WithFields(logrus.Fields{"action": "request", "key": key}).Debug("fetch_skipped")
		}
	})
}

// download 在下载池的 goroutine 中执行：成功后异步写盘、回填内存，再交给协调器通知等待者。
func (m *Manager) download(key string, identifier any) *resource.Resource {
	started := m.now()
	fields := logrus.Fields{"action": "download", "key": key}

	fetched, err := m.provider.DownloadResource(m.ctx, identifier)
	if err == nil && fetched == nil {
		err = errors.New("provider returned no resource")
	}
	if err != nil {
		m.logger.WithFields(fields).WithError(err).Warn("download_failed")
		return nil
	}

	res := &resource.Resource{
		Key:         key,
		Data:        fetched.Data,
		ContentType: fetched.ContentType,
		FetchedAt:   fetched.FetchedAt,
	}
	if res.FetchedAt.IsZero() {
		res.FetchedAt = m.now()
	}

	m.disk.Store(cache.Record{
		Key:         key,
		Data:        res.Data,
		ContentType: res.ContentType,
		StoredAt:    res.FetchedAt,
	})
	m.memory.Add(key, res)

	fields["bytes"] = res.Size()
	fields["elapsed_ms"] = m.now().Sub(started).Milliseconds()
	m.logger.WithFields(fields).Debug("download_completed")
	return res
}

// deliver 把结果投递到 Dispatcher；投递时再次检查取消标记。
func (m *Manager) deliver(token *Token, cb Callback, res *resource.Resource) {
	m.dispatcher.Dispatch(func() {
		fields := logrus.Fields{"action": "deliver", "token": token.ID(), "key": token.Key()}
		if !token.markReady() {
			m.logger.WithFields(fields).Debug("delivery_dropped")
			return
		}
		m.logger.WithFields(fields).Debug("request_delivered")
		if cb != nil {
			cb(Result{Resource: res})
		}
	})
}

// ClearCachedResource 校验标识符后从内存与磁盘中删除对应资源。
// 会阻塞到磁盘 lane 完成删除，不应在需要保持响应的投递上下文中调用。
func (m *Manager) ClearCachedResource(identifier any) error {
	if err := validateIdentifier(m.idType, identifier); err != nil {
		return err
	}
	return m.ClearCachedKey(m.provider.KeyForIdentifier(identifier))
}

// ClearCachedKey 按 key 删除内存与磁盘中的资源。
func (m *Manager) ClearCachedKey(key string) error {
	m.memory.Remove(key)
	return m.disk.Remove(context.Background(), key)
}

// ClearMemoryCache 清空内存层，可在任意 goroutine 调用。
func (m *Manager) ClearMemoryCache() {
	m.memory.Purge()
}

// ClearDiskCache 删除全部磁盘条目并将占用归零。
func (m *Manager) ClearDiskCache() error {
	return m.disk.Clear(context.Background())
}

// ClearCache 同时清空内存与磁盘。
func (m *Manager) ClearCache() error {
	m.ClearMemoryCache()
	return m.ClearDiskCache()
}

// DeferCurrentDownloads 把所有尚未开始的下载降为低优先级，之后提交的请求优先执行。
func (m *Manager) DeferCurrentDownloads() {
	moved := m.coord.Defer()
	m.logger.WithFields(logrus.Fields{"action": "defer_downloads", "moved": moved}).Debug("downloads_deferred")
}

// SetMemoryCacheCountLimit 调整内存条目上限，0 表示不限制。
func (m *Manager) SetMemoryCacheCountLimit(limit int) {
	m.memory.SetLimit(limit)
}

func (m *Manager) MemoryCacheCountLimit() int {
	return m.memory.Limit()
}

// SetDiskCacheTotalSizeLimit 调整磁盘容量上限（字节），0 表示不限制。
func (m *Manager) SetDiskCacheTotalSizeLimit(limit int64) {
	m.disk.SetSizeLimit(limit)
}

func (m *Manager) DiskCacheTotalSizeLimit() int64 {
	return m.disk.SizeLimit()
}

// SetMaxConcurrentDownloads 调整下载并发上限，对之后启动的下载生效。
func (m *Manager) SetMaxConcurrentDownloads(n int) {
	m.coord.SetConcurrency(n)
}

func (m *Manager) MaxConcurrentDownloads() int {
	return m.coord.Concurrency()
}

// Stats 返回各层快照；磁盘部分需要在 lane 上读取。
func (m *Manager) Stats(ctx context.Context) (Stats, error) {
	disk, err := m.disk.Stats(ctx)
	if err != nil {
		return Stats{}, err
	}
	return Stats{
		MemoryEntries: m.memory.Len(),
		MemoryLimit:   m.memory.Limit(),
		Disk:          disk,
		Fetch:         m.coord.Stats(),
	}, nil
}

// Flush 等待已提交的磁盘任务与回调投递执行完毕。
func (m *Manager) Flush(ctx context.Context) error {
	if err := m.disk.Flush(ctx); err != nil {
		return err
	}
	if m.delivery != nil {
		return m.delivery.Flush(ctx)
	}
	return nil
}

// Close 取消进行中的下载、丢弃排队的下载，排空磁盘任务后停止所有 lane，可重复调用。
func (m *Manager) Close() {
	if m.closed.Swap(true) {
		return
	}
	m.cancel()
	m.coord.Close()
	m.disk.Close()
	if m.delivery != nil {
		m.delivery.Close()
	}
}
