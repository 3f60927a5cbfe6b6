package fetch

import (
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/any-cache/internal/logging"
	"github.com/any-hub/any-cache/internal/resource"
)

// State 是 Pending 的生命周期状态：Queued -> Running -> {Resolved, Abandoned}，
// 也可以从 Queued 直接进入 Abandoned。
type State int

const (
	StateQueued State = iota
	StateRunning
	StateResolved
	StateAbandoned
)

func (s State) String() string {
	switch s {
	case StateQueued:
		return "queued"
	case StateRunning:
		return "running"
	case StateResolved:
		return "resolved"
	case StateAbandoned:
		return "abandoned"
	default:
		return "unknown"
	}
}

func (s State) terminal() bool {
	return s == StateResolved || s == StateAbandoned
}

// FetchFunc 在 worker goroutine 中执行下载并负责写入缓存，失败时返回 nil。
type FetchFunc func(key string, identifier any) *resource.Resource

// Pending 表示某个 key 正在进行中的获取，所有字段受 Coordinator.mu 保护。
type Pending struct {
	key        string
	identifier any
	state      State
	waiters    []*Waiter
	active     int
	job        *Job
	deferred   bool
}

// Key 返回资源 key。
func (p *Pending) Key() string { return p.key }

// Waiter 是挂在 Pending 上的单个调用方。
type Waiter struct {
	pending  *Pending
	notify   func(*resource.Resource)
	canceled atomic.Bool
}

// Pending 返回 waiter 所属的 Pending。
func (w *Waiter) Pending() *Pending { return w.pending }

// Canceled 报告 waiter 是否已取消。
func (w *Waiter) Canceled() bool { return w.canceled.Load() }

// Stats 是 Coordinator 的运行时快照。
type Stats struct {
	Pending int       `json:"pending"`
	Pool    PoolStats `json:"pool"`
}

// Coordinator 按 key 合并并发请求，并把下载交给 Pool 执行。
type Coordinator struct {
	mu      sync.Mutex
	pending map[string]*Pending
	pool    *Pool
	fetch   FetchFunc
	logger  *logrus.Logger
}

// NewCoordinator 创建协调器，concurrency 为下载池的并发上限。
func NewCoordinator(concurrency int, fetch FetchFunc, logger *logrus.Logger) *Coordinator {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Coordinator{
		pending: make(map[string]*Pending),
		pool:    NewPool(concurrency),
		fetch:   fetch,
		logger:  logger,
	}
}

// Attach 将调用方挂到 key 对应的 Pending 上；created 为 true 时调用方负责随后
// 调用 Schedule 或 Resolve。挂到仍在 deferred 队列中的 Pending 会把它提升回 normal。
func (c *Coordinator) Attach(key string, identifier any, notify func(*resource.Resource)) (*Waiter, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if p, ok := c.pending[key]; ok && !p.state.terminal() {
		w := &Waiter{pending: p, notify: notify}
		p.waiters = append(p.waiters, w)
		p.active++
		if p.state == StateQueued {
			p.deferred = false
			if p.job != nil && c.pool.Promote(p.job) {
				c.logger.WithFields(logrus.Fields{"action": "fetch_promote", "key": key}).Debug("fetch_promoted")
			}
		}
		return w, false
	}

	p := &Pending{key: key, identifier: identifier, state: StateQueued}
	w := &Waiter{pending: p, notify: notify}
	p.waiters = append(p.waiters, w)
	p.active = 1
	c.pending[key] = p
	return w, true
}

// Schedule 把 Pending 提交到下载池；已放弃或已完成的 Pending 返回 false。
// 池已关闭时 Pending 以失败结束。
func (c *Coordinator) Schedule(p *Pending) bool {
	c.mu.Lock()
	if p.state != StateQueued || p.job != nil {
		c.mu.Unlock()
		return false
	}
	priority := PriorityNormal
	if p.deferred {
		priority = PriorityDeferred
	}
	job := c.pool.Submit(p.key, priority, func() { c.run(p) })
	if job == nil {
		c.mu.Unlock()
		c.Resolve(p, nil)
		return false
	}
	p.job = job
	c.mu.Unlock()
	return true
}

// Resolve 以 res 结束 Pending 并通知所有未取消的 waiter；res 为 nil 表示失败。
// 没有存活 waiter 时进入 Abandoned。
func (c *Coordinator) Resolve(p *Pending, res *resource.Resource) {
	c.mu.Lock()
	if p.state.terminal() {
		c.mu.Unlock()
		return
	}
	live := make([]*Waiter, 0, len(p.waiters))
	for _, w := range p.waiters {
		if !w.canceled.Load() {
			live = append(live, w)
		}
	}
	if len(live) == 0 {
		p.state = StateAbandoned
	} else {
		p.state = StateResolved
	}
	if c.pending[p.key] == p {
		delete(c.pending, p.key)
	}
	p.waiters = nil
	c.mu.Unlock()

	c.logger.WithFields(logrus.Fields{
		"action":  "fetch_resolve",
		"key":     p.key,
		"state":   p.state.String(),
		"waiters": len(live),
		"ok":      res != nil,
	}).Debug("fetch_resolved")

	for _, w := range live {
		if w.notify != nil {
			w.notify(res)
		}
	}
}

// Cancel 取消 waiter；最后一个 waiter 在下载开始前取消时 Pending 被放弃并移出队列。
// 已开始的下载继续执行，结果仍会写入缓存。
func (c *Coordinator) Cancel(w *Waiter) {
	if w == nil || w.canceled.Swap(true) {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	p := w.pending
	if p.state.terminal() {
		return
	}
	p.active--
	if p.active > 0 || p.state != StateQueued {
		return
	}
	if p.job != nil {
		c.pool.Cancel(p.job)
	}
	c.abandonLocked(p)
	c.logger.WithFields(logrus.Fields{"action": "fetch_abandon", "key": p.key}).Debug("fetch_abandoned")
}

// Defer 降级所有尚未开始的下载，包括仍在磁盘查找阶段的 Pending。
func (c *Coordinator) Defer() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, p := range c.pending {
		if p.state == StateQueued && p.job == nil {
			p.deferred = true
		}
	}
	return c.pool.Defer()
}

// SetConcurrency 调整下载池并发上限。
func (c *Coordinator) SetConcurrency(n int) {
	c.pool.SetSize(n)
}

// Concurrency 返回下载池并发上限。
func (c *Coordinator) Concurrency() int {
	return c.pool.Size()
}

// StateOf 返回 key 当前 Pending 的状态；不存在时 ok 为 false。
func (c *Coordinator) StateOf(key string) (State, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.pending[key]
	if !ok {
		return 0, false
	}
	return p.state, true
}

func (c *Coordinator) Stats() Stats {
	c.mu.Lock()
	n := len(c.pending)
	c.mu.Unlock()
	return Stats{Pending: n, Pool: c.pool.Stats()}
}

// Close 丢弃排队的下载并等待运行中的下载结束；被丢弃的 Pending 以失败结束。
func (c *Coordinator) Close() {
	c.pool.Close()

	c.mu.Lock()
	queued := make([]*Pending, 0, len(c.pending))
	for _, p := range c.pending {
		if p.state == StateQueued && p.job != nil {
			queued = append(queued, p)
		}
	}
	c.mu.Unlock()

	for _, p := range queued {
		c.Resolve(p, nil)
	}
}

func (c *Coordinator) run(p *Pending) {
	c.mu.Lock()
	if p.state != StateQueued {
		c.mu.Unlock()
		return
	}
	p.state = StateRunning
	key, identifier := p.key, p.identifier
	c.mu.Unlock()

	var res *resource.Resource
	if c.fetch != nil {
		res = c.fetch(key, identifier)
	}
	c.Resolve(p, res)
}

func (c *Coordinator) abandonLocked(p *Pending) {
	p.state = StateAbandoned
	p.waiters = nil
	if c.pending[p.key] == p {
		delete(c.pending, p.key)
	}
}
