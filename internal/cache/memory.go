package cache

import (
	"math"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultMemoryCountLimit 是内存缓存的默认条目上限。
const DefaultMemoryCountLimit = 25

// unlimitedCount 在 limit=0 时作为 LRU 容量，相当于不淘汰。
const unlimitedCount = math.MaxInt32

// MemoryCache 是按条目数量限制的严格 LRU，读写均为同步调用，可并发使用。
type MemoryCache[V any] struct {
	// mu 只保护 limit 与 Resize 的组合；items 自带锁，Get/Add 等直接调用。
	mu    sync.Mutex
	limit int
	items *lru.Cache[string, V]
}

// NewMemoryCache 创建内存缓存，limit<=0 表示不限制数量。
func NewMemoryCache[V any](limit int) *MemoryCache[V] {
	items, err := lru.New[string, V](capacityFor(limit))
	if err != nil {
		// capacityFor 总是返回正数，lru.New 仅在 size<=0 时报错。
		panic(err)
	}
	if limit < 0 {
		limit = 0
	}
	return &MemoryCache[V]{limit: limit, items: items}
}

// Get 查找条目并刷新其最近使用时间。
func (m *MemoryCache[V]) Get(key string) (V, bool) {
	return m.items.Get(key)
}

// Add 写入条目，超出上限时淘汰最久未使用的条目。
func (m *MemoryCache[V]) Add(key string, value V) {
	m.items.Add(key, value)
}

// Remove 删除单个条目。
func (m *MemoryCache[V]) Remove(key string) {
	m.items.Remove(key)
}

// Purge 清空全部条目。
func (m *MemoryCache[V]) Purge() {
	m.items.Purge()
}

// Len 返回当前条目数量。
func (m *MemoryCache[V]) Len() int {
	return m.items.Len()
}

// Limit 返回当前数量上限，0 表示不限。
func (m *MemoryCache[V]) Limit() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.limit
}

// SetLimit 调整数量上限，缩小时立即淘汰多余条目，返回被淘汰的数量。
func (m *MemoryCache[V]) SetLimit(limit int) int {
	if limit < 0 {
		limit = 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.limit = limit
	return m.items.Resize(capacityFor(limit))
}

func capacityFor(limit int) int {
	if limit <= 0 {
		return unlimitedCount
	}
	return limit
}
