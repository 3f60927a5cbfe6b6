package cache

import (
	"context"
	"errors"
	"time"
)

// Store 负责单个 key 的持久化读写。磁盘布局遵循：
//
//	<StoragePath>/<name[0:2]>/<name>.rec    # CBOR 头 + 编码后的正文
//
// name 是 key 的 BLAKE3 keyed hash，文件 ModTime 记录最后访问时间。
// Store 本身不做容量控制，淘汰由 DiskCache 在磁盘 lane 上完成。
type Store interface {
	// EntryName 返回 key 对应的条目名（与 key 一一对应，可用于 Remove/Touch）。
	EntryName(key string) string

	// Get 读取完整记录。不存在返回 ErrNotFound，内容损坏返回 ErrCorrupt。
	Get(ctx context.Context, key string) (*Record, error)

	// Put 以临时文件 + rename 的方式原子写入记录，并返回新的 Entry 描述。
	Put(ctx context.Context, record Record) (*Entry, error)

	// Touch 更新条目的最后访问时间。
	Touch(ctx context.Context, name string, at time.Time) error

	// Remove 删除条目，条目不存在时不报错。
	Remove(ctx context.Context, name string) error

	// List 枚举全部条目及其大小、最后访问时间，用于重建索引。
	List(ctx context.Context) ([]Entry, error)

	// Clear 删除全部条目。
	Clear(ctx context.Context) error
}

// Record 是一次写入/读取的完整内容。
type Record struct {
	Key         string
	Data        []byte
	ContentType string
	StoredAt    time.Time
}

// Entry 描述一个已落盘的条目，SizeBytes 为磁盘占用（含记录头）。
type Entry struct {
	Name       string    `json:"name"`
	Key        string    `json:"key,omitempty"`
	FilePath   string    `json:"file_path"`
	SizeBytes  int64     `json:"size_bytes"`
	AccessedAt time.Time `json:"accessed_at"`
}

var (
	// ErrNotFound 表示缓存不存在。
	ErrNotFound = errors.New("cache entry not found")
	// ErrCorrupt 表示记录无法解析，调用方应按未命中处理。
	ErrCorrupt = errors.New("cache entry corrupt")
)
