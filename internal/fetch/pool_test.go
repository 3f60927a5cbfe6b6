package fetch

import (
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestPoolBoundsConcurrency(t *testing.T) {
	pool := NewPool(3)
	defer pool.Close()

	var current, peak atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		pool.Submit(strconv.Itoa(i), PriorityNormal, func() {
			defer wg.Done()
			n := current.Add(1)
			for {
				old := peak.Load()
				if n <= old || peak.CompareAndSwap(old, n) {
					break
				}
			}
			time.Sleep(2 * time.Millisecond)
			current.Add(-1)
		})
	}
	wg.Wait()
	if peak.Load() > 3 {
		t.Fatalf("expected at most 3 concurrent jobs, saw %d", peak.Load())
	}
}

func TestPoolDeferredRunsAfterNewWork(t *testing.T) {
	pool := NewPool(2)
	defer pool.Close()

	release := []chan struct{}{make(chan struct{}), make(chan struct{})}
	running := make(chan struct{}, 2)
	for i := range release {
		gate := release[i]
		pool.Submit("running-"+strconv.Itoa(i), PriorityNormal, func() {
			running <- struct{}{}
			<-gate
		})
	}
	<-running
	<-running

	started := make(chan string, 8)
	hold := make(chan struct{})
	for i := 0; i < 5; i++ {
		key := "queued-" + strconv.Itoa(i)
		pool.Submit(key, PriorityNormal, func() {
			started <- key
			<-hold
		})
	}
	if moved := pool.Defer(); moved != 5 {
		t.Fatalf("expected 5 queued jobs to move, got %d", moved)
	}
	pool.Submit("fresh", PriorityNormal, func() {
		started <- "fresh"
		<-hold
	})

	stats := pool.Stats()
	if stats.Running != 2 || stats.Queued != 1 || stats.Deferred != 5 {
		t.Fatalf("unexpected stats %+v", stats)
	}

	close(release[0])
	if first := waitKey(t, started); first != "fresh" {
		t.Fatalf("new work should run before deferred work, got %s", first)
	}
	close(release[1])
	if next := waitKey(t, started); next != "queued-0" {
		t.Fatalf("deferred work should keep FIFO order, got %s", next)
	}
	close(hold)
	rest := make(map[string]bool)
	for i := 1; i < 5; i++ {
		rest[waitKey(t, started)] = true
	}
	for i := 1; i < 5; i++ {
		if !rest["queued-"+strconv.Itoa(i)] {
			t.Fatalf("queued-%d never ran: %v", i, rest)
		}
	}
}

func TestPoolPromoteAndCancel(t *testing.T) {
	pool := NewPool(1)
	defer pool.Close()

	gate := make(chan struct{})
	busy := make(chan struct{})
	pool.Submit("busy", PriorityNormal, func() {
		close(busy)
		<-gate
	})
	<-busy

	started := make(chan string, 4)
	record := func(key string) func() { return func() { started <- key } }
	low := pool.Submit("low", PriorityDeferred, record("low"))
	pool.Submit("normal", PriorityNormal, record("normal"))
	dropped := pool.Submit("dropped", PriorityNormal, record("dropped"))

	if !pool.Cancel(dropped) {
		t.Fatalf("queued job should be cancellable")
	}
	if !pool.Promote(low) {
		t.Fatalf("deferred job should be promotable")
	}
	if pool.Promote(low) {
		t.Fatalf("promoting a normal job should be a no-op")
	}

	close(gate)
	if got := waitKey(t, started); got != "normal" {
		t.Fatalf("expected normal first, got %s", got)
	}
	if got := waitKey(t, started); got != "low" {
		t.Fatalf("expected promoted job second, got %s", got)
	}
	select {
	case got := <-started:
		t.Fatalf("cancelled job should never run, got %s", got)
	case <-time.After(20 * time.Millisecond):
	}
	if pool.Cancel(low) {
		t.Fatalf("started job cannot be cancelled")
	}
}

func TestPoolSetSizeStartsQueuedWork(t *testing.T) {
	pool := NewPool(1)
	defer pool.Close()

	gate := make(chan struct{})
	started := make(chan string, 3)
	for _, key := range []string{"a", "b", "c"} {
		key := key
		pool.Submit(key, PriorityNormal, func() {
			started <- key
			<-gate
		})
	}
	waitKey(t, started)
	pool.SetSize(3)
	waitKey(t, started)
	waitKey(t, started)
	if stats := pool.Stats(); stats.Running != 3 || stats.Size != 3 {
		t.Fatalf("unexpected stats after resize %+v", stats)
	}
	close(gate)
}

func waitKey(t *testing.T, ch <-chan string) string {
	t.Helper()
	select {
	case key := <-ch:
		return key
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for job start")
		return ""
	}
}
