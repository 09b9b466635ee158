// Package worker implements a FIFO task pool (unbounded queue) with dynamic
// thread resizing, cooperative worker shutdown, and a cancel hook that
// removes queued-but-not-started tasks without racing in-flight execution.
//
// Grounded on pkg/queue/pool.go + pkg/queue/worker.go (pool/worker split,
// health reporting) and original_source's
// task_pool.hpp / task_pool_worker.hpp (queue mutex + condvar, downsize
// rotation, cancel-hook-on-submit).
package worker

import (
	"container/list"
	"context"
	"log/slog"
	"sync"
	"time"
)

// waitTimeout bounds how long a worker or the pool waits on a condition
// variable before rechecking its wake condition, so a missed notification
// can never block a wait indefinitely.
const waitTimeout = time.Second

// Task is a single schedulable unit of work. Run must not panic across the
// pool boundary; if it does, the pool recovers, logs, and the worker
// continues rather than dying silently.
type Task interface {
	Run(ctx context.Context)
}

// Report is a snapshot of pool occupancy.
type Report struct {
	Pending int
	Active  int
}

// Pool is a worker task pool. The zero value is not usable; use New.
type Pool struct {
	ctx context.Context

	mu       sync.Mutex
	cond     *sync.Cond
	tasks    *list.List // of Task
	elemOf   map[Task]*list.Element
	stopping bool

	workers []*workerHandle
	nextID  int
}

type workerHandle struct {
	id     int
	onDuty bool
	busy   bool
	done   chan struct{}
}

// New creates a pool with numThreads workers. ctx is passed to every task's
// Run; cancelling it does not stop the workers — only Shutdown does, and
// Shutdown joins every worker goroutine before it returns.
func New(ctx context.Context, numThreads int) *Pool {
	p := &Pool{
		ctx:    ctx,
		tasks:  list.New(),
		elemOf: make(map[Task]*list.Element),
	}
	p.cond = sync.NewCond(&p.mu)

	p.mu.Lock()
	defer p.mu.Unlock()
	for i := 0; i < numThreads; i++ {
		p.startWorkerLocked()
	}
	return p
}

// startWorkerLocked must be called with p.mu held.
func (p *Pool) startWorkerLocked() {
	p.nextID++
	h := &workerHandle{id: p.nextID, onDuty: true, done: make(chan struct{})}
	p.workers = append(p.workers, h)
	go p.runWorker(h)
}

// Submit enqueues task for execution in FIFO order and installs the pool's
// cancel hook is implicit: callers cancel a queued task via Cancel(task).
func (p *Pool) Submit(task Task) {
	p.mu.Lock()
	defer p.mu.Unlock()

	elem := p.tasks.PushBack(task)
	p.elemOf[task] = elem
	p.cond.Signal()
}

// Cancel removes task from the queue if it has not yet been dequeued by a
// worker and reports whether it did. A removed task never has Run called,
// so the caller must account for its completion some other way. If the
// task is already running or has already finished, Cancel is a no-op and
// returns false — the task's own cancellation flag governs in-flight
// behaviour.
func (p *Pool) Cancel(task Task) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	elem, ok := p.elemOf[task]
	if !ok {
		return false
	}
	p.tasks.Remove(elem)
	delete(p.elemOf, task)
	return true
}

// Report returns the current pending/active task counts.
func (p *Pool) Report() Report {
	p.mu.Lock()
	defer p.mu.Unlock()

	active := 0
	for _, h := range p.workers {
		if h.busy {
			active++
		}
	}
	return Report{Pending: p.tasks.Len(), Active: active}
}

// Resize changes the number of worker threads to newCount. Growing appends
// new workers immediately. Shrinking blocks until enough workers are idle
// to remove, rotating through the worker list rather than always picking
// the same one.
func (p *Pool) Resize(newCount int) {
	if newCount < 0 {
		newCount = 0
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	for len(p.workers) < newCount {
		p.startWorkerLocked()
	}

	idx := 0
	for len(p.workers) > newCount {
		if idx >= len(p.workers) {
			idx = 0
		}
		h := p.workers[idx]
		if h.busy {
			idx++
			if idx >= len(p.workers) {
				// Every remaining worker is busy: release the lock so they
				// can finish and clear busy, then rescan.
				p.mu.Unlock()
				time.Sleep(time.Millisecond)
				p.mu.Lock()
			}
			continue
		}

		h.onDuty = false
		p.cond.Broadcast()

		p.workers = append(p.workers[:idx], p.workers[idx+1:]...)

		p.mu.Unlock()
		<-h.done
		p.mu.Lock()
		// idx now refers to the next candidate; don't advance since the
		// slice shifted left under us.
	}
}

// Shutdown signals every worker to stop, wakes them, and joins them. It is
// idempotent and drain-free: queued-but-undequeued tasks are simply
// abandoned, not run.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	if p.stopping {
		p.mu.Unlock()
		return
	}
	p.stopping = true
	for _, h := range p.workers {
		h.onDuty = false
	}
	toJoin := make([]*workerHandle, len(p.workers))
	copy(toJoin, p.workers)
	p.workers = nil
	p.cond.Broadcast()
	p.mu.Unlock()

	for _, h := range toJoin {
		<-h.done
	}
}

// runWorker is the per-worker loop: acquire the mutex; while not stopping,
// on duty, and the queue is empty, wait; on wake, either exit or pop the
// front task, release the mutex, execute, and loop.
func (p *Pool) runWorker(h *workerHandle) {
	defer close(h.done)

	for {
		p.mu.Lock()
		for !p.stopping && h.onDuty && p.tasks.Len() == 0 {
			p.condWaitTimeout()
		}

		if p.stopping || !h.onDuty {
			p.mu.Unlock()
			return
		}

		front := p.tasks.Front()
		task := front.Value.(Task)
		p.tasks.Remove(front)
		delete(p.elemOf, task)
		h.busy = true
		p.mu.Unlock()

		p.execute(task)

		p.mu.Lock()
		h.busy = false
		p.mu.Unlock()
	}
}

// condWaitTimeout waits on p.cond bounded by waitTimeout so the wake
// condition is always rechecked even if a notification is missed. Must be
// called with p.mu held; it releases and reacquires the lock like
// sync.Cond.Wait.
func (p *Pool) condWaitTimeout() {
	timer := time.AfterFunc(waitTimeout, func() {
		p.mu.Lock()
		p.cond.Broadcast()
		p.mu.Unlock()
	})
	defer timer.Stop()
	p.cond.Wait()
}

// execute runs task, recovering and logging any panic so the worker
// goroutine survives it.
func (p *Pool) execute(task Task) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("worker task panicked", "panic", r)
		}
	}()
	task.Run(p.ctx)
}
