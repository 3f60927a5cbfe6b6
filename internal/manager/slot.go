package manager

import (
	"sync"

	"github.com/any-hub/any-cache/internal/resource"
)

// Slot 让一个消费者同一时刻只持有一个请求：重新绑定时先取消上一个 Token，
// 因此被复用的消费者不会收到过期的结果。
type Slot struct {
	manager *Manager

	mu    sync.Mutex
	token *Token
}

// NewSlot 创建绑定到 m 的 Slot。
func NewSlot(m *Manager) *Slot {
	return &Slot{manager: m}
}

// Bind 取消当前请求并发起新的请求；出错时 Slot 保持为空。
func (s *Slot) Bind(identifier any, placeholder *resource.Resource, cb Callback) (*Token, error) {
	s.Cancel()

	token, err := s.manager.Request(identifier, placeholder, cb)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	previous := s.token
	s.token = token
	s.mu.Unlock()
	// 并发 Bind 时只保留最后一个请求。
	if previous != nil {
		previous.Cancel()
	}
	return token, nil
}

// Cancel 取消当前绑定的请求。
func (s *Slot) Cancel() {
	s.mu.Lock()
	token := s.token
	s.token = nil
	s.mu.Unlock()
	if token != nil {
		token.Cancel()
	}
}

// Current 返回当前绑定的 Token，可能为 nil。
func (s *Slot) Current() *Token {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token
}
