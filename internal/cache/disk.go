package cache

import (
	"context"
	"errors"
	"sort"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/any-cache/internal/lane"
	"github.com/any-hub/any-cache/internal/logging"
)

// DefaultDiskSizeLimit 是磁盘缓存的默认容量上限（字节）。
const DefaultDiskSizeLimit int64 = 150 * 1024 * 1024

// evictionTarget 计算淘汰的目标占用：limit 的 3/4。
func evictionTarget(limit int64) int64 {
	return limit * 3 / 4
}

// DiskOptions 控制 DiskCache 的容量、时钟与日志。
type DiskOptions struct {
	// SizeLimit 为 0 表示不限制。
	SizeLimit int64
	Logger    *logrus.Logger
	Now       func() time.Time
}

// DiskCache 在 Store 之上维护索引与占用统计，所有操作都串行地在同一条 lane 上执行。
// index/occupancy/seq 只在 lane 上读写，因此不需要额外加锁。
type DiskCache struct {
	store  Store
	lane   *lane.Lane
	limit  atomic.Int64
	logger *logrus.Logger
	now    func() time.Time

	index     map[string]*diskEntry
	occupancy int64
	seq       uint64
}

type diskEntry struct {
	name       string
	key        string
	size       int64
	accessedAt time.Time
	seq        uint64
}

// DiskStats 是某一时刻的磁盘缓存快照。
type DiskStats struct {
	Entries   int   `json:"entries"`
	Occupancy int64 `json:"occupancy_bytes"`
	Limit     int64 `json:"limit_bytes"`
	Queued    int   `json:"queued_ops"`
}

// NewDiskCache 创建磁盘缓存，并把重建索引作为 lane 上的第一个任务。
func NewDiskCache(store Store, opts DiskOptions) (*DiskCache, error) {
	if store == nil {
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

	d := &DiskCache{
		store:  store,
		lane:   lane.New(),
		logger: logger,
		now:    now,
		index:  make(map[string]*diskEntry),
	}
	if opts.SizeLimit < 0 {
		opts.SizeLimit = 0
	}
	d.limit.Store(opts.SizeLimit)

	if err := d.lane.Submit(d.loadIndex); err != nil {
		return nil, err
	}
	return d, nil
}

// Lookup 在 lane 上读取 key，done 同样在 lane 上被调用；损坏或读取失败按未命中处理。
func (d *DiskCache) Lookup(key string, done func(*Record, bool)) {
	err := d.lane.Submit(func() {
		record, ok := d.lookup(key)
		done(record, ok)
	})
	if err != nil {
		done(nil, false)
	}
}

// Store 异步写入记录，写入后超过上限则触发淘汰。
func (d *DiskCache) Store(record Record) {
	if err := d.lane.Submit(func() { d.storeRecord(record) }); err != nil {
		d.logger.WithFields(logrus.Fields{"action": "disk_store", "key": record.Key}).
			WithError(err).Warn("disk_store_dropped")
	}
}

// Remove 删除单个 key，阻塞直到 lane 执行完成。
func (d *DiskCache) Remove(ctx context.Context, key string) error {
	var opErr error
	if err := d.lane.Do(ctx, func() { opErr = d.remove(key) }); err != nil {
		return err
	}
	return opErr
}

// Clear 删除全部条目并将占用归零，阻塞直到 lane 执行完成。
func (d *DiskCache) Clear(ctx context.Context) error {
	var opErr error
	if err := d.lane.Do(ctx, func() { opErr = d.clear() }); err != nil {
		return err
	}
	return opErr
}

// SetSizeLimit 调整容量上限；新上限小于当前占用时在 lane 上触发淘汰。
func (d *DiskCache) SetSizeLimit(limit int64) {
	if limit < 0 {
		limit = 0
	}
	d.limit.Store(limit)
	_ = d.lane.Submit(d.evictIfNeeded)
}

// SizeLimit 返回当前容量上限。
func (d *DiskCache) SizeLimit() int64 {
	return d.limit.Load()
}

// Stats 在 lane 上读取占用快照。
func (d *DiskCache) Stats(ctx context.Context) (DiskStats, error) {
	var stats DiskStats
	queued := d.lane.Pending()
	err := d.lane.Do(ctx, func() {
		stats = DiskStats{
			Entries:   len(d.index),
			Occupancy: d.occupancy,
			Limit:     d.limit.Load(),
			Queued:    queued,
		}
	})
	return stats, err
}

// Flush 等待此前提交的磁盘操作全部完成。
func (d *DiskCache) Flush(ctx context.Context) error {
	return d.lane.Flush(ctx)
}

// Close 执行完剩余任务后停止 lane。
func (d *DiskCache) Close() {
	d.lane.Close()
}

func (d *DiskCache) loadIndex() {
	entries, err := d.store.List(context.Background())
	if err != nil {
		d.logger.WithFields(logrus.Fields{"action": "disk_index"}).WithError(err).Warn("disk_index_failed")
		return
	}
	// 按最后访问时间排序后分配序号，重启后仍保持稳定的淘汰顺序。
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].AccessedAt.Before(entries[j].AccessedAt)
	})
	for _, entry := range entries {
		d.track(entry)
	}
	d.logger.WithFields(logrus.Fields{
		"action":    "disk_index",
		"entries":   len(d.index),
		"occupancy": d.occupancy,
	}).Debug("disk_index_loaded")
	d.evictIfNeeded()
}

func (d *DiskCache) lookup(key string) (*Record, bool) {
	ctx := context.Background()
	record, err := d.store.Get(ctx, key)
	switch {
	case err == nil:
	case errors.Is(err, ErrNotFound):
		d.untrack(d.store.EntryName(key))
		return nil, false
	case errors.Is(err, ErrCorrupt):
		d.logger.WithFields(logrus.Fields{"action": "disk_lookup", "key": key}).
			WithError(err).Warn("disk_entry_corrupt")
		_ = d.remove(key)
		return nil, false
	default:
		d.logger.WithFields(logrus.Fields{"action": "disk_lookup", "key": key}).
			WithError(err).Warn("disk_lookup_failed")
		return nil, false
	}

	name := d.store.EntryName(key)
	at := d.now()
	if entry, ok := d.index[name]; ok {
		entry.accessedAt = at
		entry.key = key
	}
	if err := d.store.Touch(ctx, name, at); err != nil {
		d.logger.WithFields(logrus.Fields{"action": "disk_touch", "key": key}).
			WithError(err).Debug("disk_touch_failed")
	}
	return record, true
}

func (d *DiskCache) storeRecord(record Record) {
	if record.StoredAt.IsZero() {
		record.StoredAt = d.now()
	}
	entry, err := d.store.Put(context.Background(), record)
	if err != nil {
		d.logger.WithFields(logrus.Fields{"action": "disk_store", "key": record.Key}).
			WithError(err).Warn("disk_store_failed")
		return
	}
	// 访问时间取写入时刻；StoredAt 只是记录元数据，可能早于其它条目的访问时间。
	at := d.now()
	if err := d.store.Touch(context.Background(), entry.Name, at); err != nil {
		d.logger.WithFields(logrus.Fields{"action": "disk_touch", "key": record.Key}).
			WithError(err).Debug("disk_touch_failed")
	}
	entry.AccessedAt = at
	d.track(*entry)
	d.evictIfNeeded()
}

func (d *DiskCache) remove(key string) error {
	name := d.store.EntryName(key)
	if err := d.store.Remove(context.Background(), name); err != nil {
		return err
	}
	d.untrack(name)
	return nil
}

func (d *DiskCache) clear() error {
	if err := d.store.Clear(context.Background()); err != nil {
		return err
	}
	d.index = make(map[string]*diskEntry)
	d.occupancy = 0
	return nil
}

// track 记录（或替换）一个条目；替换视为一次新的插入。
func (d *DiskCache) track(entry Entry) {
	d.untrack(entry.Name)
	d.seq++
	d.index[entry.Name] = &diskEntry{
		name:       entry.Name,
		key:        entry.Key,
		size:       entry.SizeBytes,
		accessedAt: entry.AccessedAt,
		seq:        d.seq,
	}
	d.occupancy += entry.SizeBytes
}

func (d *DiskCache) untrack(name string) {
	if existing, ok := d.index[name]; ok {
		d.occupancy -= existing.size
		delete(d.index, name)
	}
}

// evictIfNeeded 在超过上限时按最后访问时间（相同则按插入顺序）淘汰，直到占用 ≤ 3/4 上限。
func (d *DiskCache) evictIfNeeded() {
	limit := d.limit.Load()
	if limit <= 0 || d.occupancy <= limit {
		return
	}
	target := evictionTarget(limit)

	candidates := make([]*diskEntry, 0, len(d.index))
	for _, entry := range d.index {
		candidates = append(candidates, entry)
	}
	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if !a.accessedAt.Equal(b.accessedAt) {
			return a.accessedAt.Before(b.accessedAt)
		}
		return a.seq < b.seq
	})

	before := d.occupancy
	removed := 0
	for _, entry := range candidates {
		if d.occupancy <= target {
			break
		}
		if err := d.store.Remove(context.Background(), entry.name); err != nil {
			d.logger.WithFields(logrus.Fields{"action": "disk_evict", "entry": entry.name}).
				WithError(err).Warn("disk_evict_failed")
			continue
		}
		d.untrack(entry.name)
		removed++
	}

	d.logger.WithFields(logrus.Fields{
		"action":  "disk_evict",
		"removed": removed,
		"before":  before,
		"after":   d.occupancy,
		"limit":   limit,
	}).Debug("disk_evicted")
}
