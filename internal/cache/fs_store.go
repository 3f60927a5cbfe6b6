package cache

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/spf13/afero"
)

const (
	recordExt  = ".rec"
	tempPrefix = ".cache-"
)

// NewStore 以 basePath 为根目录在本地文件系统上构建磁盘缓存。
func NewStore(basePath string, codec Codec) (Store, error) {
	if basePath == "" {
		return nil, errors.New("storage path required")
	}
	abs, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("resolve storage path: %w", err)
	}
	return NewStoreFs(afero.NewOsFs(), abs, codec)
}

// NewStoreFs 在任意 afero 文件系统上构建磁盘缓存，测试中通常传入 MemMapFs。
func NewStoreFs(fsys afero.Fs, basePath string, codec Codec) (Store, error) {
	if fsys == nil {
		return nil, errors.New("filesystem required")
	}
	if basePath == "" {
		return nil, errors.New("storage path required")
	}
	if err := fsys.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("create storage path: %w", err)
	}

	return &fileStore{
		fs:       fsys,
		basePath: filepath.Clean(basePath),
		codec:    codec,
		locks:    make(map[string]*entryLock),
		now:      time.Now,
	}, nil
}

// fileStore 通过 entryLock 避免同一条目并发写入；经由 DiskCache 使用时所有调用已在单一 lane 上串行。
type fileStore struct {
	fs       afero.Fs
	basePath string
	codec    Codec
	now      func() time.Time

	mu    sync.Mutex
	locks map[string]*entryLock
}

type entryLock struct {
	mu   sync.Mutex
	refs int
}

func (s *fileStore) EntryName(key string) string {
	return entryName(key)
}

func (s *fileStore) Get(ctx context.Context, key string) (*Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	filePath := s.entryPath(entryName(key))
	info, err := s.fs.Stat(filePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if info.IsDir() {
		return nil, ErrNotFound
	}

	data, err := afero.ReadFile(s.fs, filePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	record, err := decodeRecord(data)
	if err != nil {
		return nil, err
	}
	if record.Key != key {
		return nil, fmt.Errorf("%w: key mismatch", ErrCorrupt)
	}
	return record, nil
}

func (s *fileStore) Put(ctx context.Context, record Record) (*Entry, error) {
	if record.Key == "" {
		return nil, errors.New("record key required")
	}
	if record.StoredAt.IsZero() {
		record.StoredAt = s.now().UTC()
	}

	name := entryName(record.Key)
	unlock := s.lockEntry(name)
	defer unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	encoded, err := encodeRecord(record, s.codec)
	if err != nil {
		return nil, err
	}

	filePath := s.entryPath(name)
	if err := s.fs.MkdirAll(filepath.Dir(filePath), 0o755); err != nil {
		return nil, err
	}

	tempFile, err := afero.TempFile(s.fs, filepath.Dir(filePath), tempPrefix+"*")
	if err != nil {
		return nil, err
	}
	tempName := tempFile.Name()

	_, err = tempFile.Write(encoded)
	closeErr := tempFile.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		_ = s.fs.Remove(tempName)
		return nil, err
	}

	if err := s.fs.Rename(tempName, filePath); err != nil {
		_ = s.fs.Remove(tempName)
		return nil, err
	}

	accessed := record.StoredAt
	if err := s.fs.Chtimes(filePath, accessed, accessed); err != nil {
		return nil, err
	}

	return &Entry{
		Name:       name,
		Key:        record.Key,
		FilePath:   filePath,
		SizeBytes:  int64(len(encoded)),
		AccessedAt: accessed,
	}, nil
}

func (s *fileStore) Touch(ctx context.Context, name string, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := s.fs.Chtimes(s.entryPath(name), at, at)
	if err != nil && errors.Is(err, fs.ErrNotExist) {
		return ErrNotFound
	}
	return err
}

func (s *fileStore) Remove(ctx context.Context, name string) error {
	unlock := s.lockEntry(name)
	defer unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.fs.Remove(s.entryPath(name)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

func (s *fileStore) List(ctx context.Context) ([]Entry, error) {
	var entries []Entry
	err := afero.Walk(s.fs, s.basePath, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if info.IsDir() {
			return nil
		}
		base := filepath.Base(p)
		if strings.HasPrefix(base, tempPrefix) {
			// 上次进程中断遗留的临时文件。
			_ = s.fs.Remove(p)
			return nil
		}
		if !strings.HasSuffix(base, recordExt) {
			return nil
		}
		entries = append(entries, Entry{
			Name:       strings.TrimSuffix(base, recordExt),
			FilePath:   p,
			SizeBytes:  info.Size(),
			AccessedAt: info.ModTime(),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

func (s *fileStore) Clear(ctx context.Context) error {
	children, err := afero.ReadDir(s.fs, s.basePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return s.fs.MkdirAll(s.basePath, 0o755)
		}
		return err
	}
	for _, child := range children {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.fs.RemoveAll(filepath.Join(s.basePath, child.Name())); err != nil {
			return err
		}
	}
	return nil
}

func (s *fileStore) lockEntry(name string) func() {
	s.mu.Lock()
	lock := s.locks[name]
	if lock == nil {
		lock = &entryLock{}
		s.locks[name] = lock
	}
	lock.refs++
	s.mu.Unlock()

	lock.mu.Lock()
	return func() {
		lock.mu.Unlock()
		s.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(s.locks, name)
		}
		s.mu.Unlock()
	}
}

// entryPath 以名称前两位分目录，避免单目录文件过多。
func (s *fileStore) entryPath(name string) string {
	shard := "00"
	if len(name) >= 2 {
		shard = name[:2]
	}
	return filepath.Join(s.basePath, shard, name+recordExt)
}
