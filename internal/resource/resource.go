// Package resource holds the types shared by every cache tier: the decoded
// Resource itself and the Provider contract the caller implements to name,
// validate and fetch resources.
package resource

import (
	"context"
	"reflect"
	"time"
)

// Resource 是一次成功获取后的内存形态。发布后不可修改，各层共享同一指针。
type Resource struct {
	Key         string
	Data        []byte
	ContentType string
	FetchedAt   time.Time
}

// Size 返回正文字节数。
func (r *Resource) Size() int64 {
	if r == nil {
		return 0
	}
	return int64(len(r.Data))
}

// Provider 提供与具体场景相关的全部能力：并发度、标识符类型、key 推导与下载。
type Provider interface {
	// MaxConcurrentDownloadsCount 决定同时执行的下载数量上限。
	MaxConcurrentDownloadsCount() int
	// IdentifierType 返回可接受的标识符类型，用于运行时校验。
	IdentifierType() reflect.Type
	// KeyForIdentifier 将标识符映射为缓存/去重使用的字符串 key。
	KeyForIdentifier(identifier any) string
	// DownloadResource 阻塞执行实际下载。
	DownloadResource(ctx context.Context, identifier any) (*Resource, error)
}
