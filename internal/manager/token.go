package manager

import (
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/any-hub/any-cache/internal/fetch"
)

const (
	tokenPending int32 = iota
	tokenReady
	tokenCanceled
)

// Token 代表一次未完成的请求。回调触发后 Token 进入 ready，取消后进入 canceled，两者互斥。
type Token struct {
	id    uuid.UUID
	key   string
	state atomic.Int32

	coord  *fetch.Coordinator
	waiter *fetch.Waiter
}

func newToken(key string) *Token {
	return &Token{id: uuid.New(), key: key}
}

// ID 返回请求的唯一标识，便于日志关联。
func (t *Token) ID() string { return t.id.String() }

// Key 返回请求对应的缓存 key。
func (t *Token) Key() string { return t.key }

// IsCanceled 报告 Token 是否已被取消。
func (t *Token) IsCanceled() bool { return t.state.Load() == tokenCanceled }

// IsReady 报告最终结果是否已经交付。
func (t *Token) IsReady() bool { return t.state.Load() == tokenReady }

// Cancel 阻止回调再次触发，并在这是最后一个等待者时放弃尚未开始的下载。
// 对已交付或已取消的 Token 调用没有效果。
func (t *Token) Cancel() {
	if !t.state.CompareAndSwap(tokenPending, tokenCanceled) {
		return
	}
	if t.coord != nil && t.waiter != nil {
		t.coord.Cancel(t.waiter)
	}
}

func (t *Token) markReady() bool {
	return t.state.CompareAndSwap(tokenPending, tokenReady)
}
