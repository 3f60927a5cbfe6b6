// Package cache implements the two local tiers of the resource cache.
//
// MemoryCache is a count-bounded, strict LRU map guarded by its own lock and
// safe to call from any goroutine. DiskCache keeps durable records through a
// Store (temp file + rename writes, one record file per key) and runs every
// read, write, removal and eviction on a single serial lane, so at most one
// disk operation is in flight per DiskCache and operations take effect in
// submission order. Once occupancy exceeds the size limit, entries are evicted
// oldest-access first until occupancy is at most three quarters of the limit.
package cache
