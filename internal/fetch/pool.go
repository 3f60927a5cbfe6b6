package fetch

import (
	"sync"
)

// Priority 标识任务所在的队列。
type Priority int

const (
	PriorityNormal Priority = iota
	PriorityDeferred
)

func (p Priority) String() string {
	if p == PriorityDeferred {
		return "deferred"
	}
	return "normal"
}

// Job 是池中排队的单个任务；只有尚未开始的 Job 可以被提升或取消。
type Job struct {
	key      string
	fn       func()
	priority Priority
	started  bool
	removed  bool
}

// Key 返回任务对应的资源 key。
func (j *Job) Key() string { return j.key }

// PoolStats 是池的运行时快照。
type PoolStats struct {
	Size     int `json:"size"`
	Running  int `json:"running"`
	Queued   int `json:"queued"`
	Deferred int `json:"deferred"`
}

// Pool 以有界并发执行任务：优先取 normal 队列，其次 deferred 队列，同一队列内 FIFO。
type Pool struct {
	mu       sync.Mutex
	size     int
	running  int
	normal   []*Job
	deferred []*Job
	closed   bool
	wg       sync.WaitGroup
}

// NewPool 创建并发上限为 size 的池，size < 1 时按 1 处理。
func NewPool(size int) *Pool {
	return &Pool{size: normalizeSize(size)}
}

func normalizeSize(size int) int {
	if size < 1 {
		return 1
	}
	return size
}

// Submit 以指定优先级入队；池关闭后返回 nil。
func (p *Pool) Submit(key string, priority Priority, fn func()) *Job {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed || fn == nil {
		return nil
	}
	job := &Job{key: key, fn: fn, priority: priority}
	if priority == PriorityDeferred {
		p.deferred = append(p.deferred, job)
	} else {
		p.normal = append(p.normal, job)
	}
	p.dispatchLocked()
	return job
}

// Defer 将所有尚未开始的 normal 任务按原顺序追加到 deferred 队尾，返回移动数量。
func (p *Pool) Defer() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	moved := len(p.normal)
	for _, job := range p.normal {
		job.priority = PriorityDeferred
	}
	p.deferred = append(p.deferred, p.normal...)
	p.normal = nil
	return moved
}

// Promote 把仍在 deferred 队列中的任务移回 normal 队尾。
func (p *Pool) Promote(job *Job) bool {
	if job == nil {
		return false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if job.started || job.removed || job.priority != PriorityDeferred {
		return false
	}
	p.deferred = removeJob(p.deferred, job)
	job.priority = PriorityNormal
	p.normal = append(p.normal, job)
	p.dispatchLocked()
	return true
}

// Cancel 从队列中移除尚未开始的任务；已开始的任务不受影响。
func (p *Pool) Cancel(job *Job) bool {
	if job == nil {
		return false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if job.started || job.removed {
		return false
	}
	job.removed = true
	if job.priority == PriorityDeferred {
		p.deferred = removeJob(p.deferred, job)
	} else {
		p.normal = removeJob(p.normal, job)
	}
	return true
}

// SetSize 调整并发上限；调大时立即启动排队任务，调小时等待运行中任务自然结束。
func (p *Pool) SetSize(size int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.size = normalizeSize(size)
	p.dispatchLocked()
}

// Size 返回当前并发上限。
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.size
}

func (p *Pool) Stats() PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return PoolStats{
		Size:     p.size,
		Running:  p.running,
		Queued:   len(p.normal),
		Deferred: len(p.deferred),
	}
}

// Close 丢弃所有排队任务并等待运行中的任务结束，可重复调用。
func (p *Pool) Close() {
	p.mu.Lock()
	p.closed = true
	for _, job := range p.normal {
		job.removed = true
	}
	for _, job := range p.deferred {
		job.removed = true
	}
	p.normal = nil
	p.deferred = nil
	p.mu.Unlock()
	p.wg.Wait()
}

func (p *Pool) dispatchLocked() {
	for p.running < p.size {
		job := p.nextLocked()
		if job == nil {
			return
		}
		job.started = true
		p.running++
		p.wg.Add(1)
		go p.run(job)
	}
}

func (p *Pool) nextLocked() *Job {
	if len(p.normal) > 0 {
		job := p.normal[0]
		p.normal[0] = nil
		p.normal = p.normal[1:]
		return job
	}
	if len(p.deferred) > 0 {
		job := p.deferred[0]
		p.deferred[0] = nil
		p.deferred = p.deferred[1:]
		return job
	}
	return nil
}

func (p *Pool) run(job *Job) {
	defer p.wg.Done()
	job.fn()

	p.mu.Lock()
	p.running--
	if !p.closed {
		p.dispatchLocked()
	}
	p.mu.Unlock()
}

func removeJob(queue []*Job, job *Job) []*Job {
	for i, candidate := range queue {
		if candidate == job {
			copy(queue[i:], queue[i+1:])
			queue[len(queue)-1] = nil
			return queue[:len(queue)-1]
		}
	}
	return queue
}
