// Package jobpool implements a per-session job pool with a dedicated
// reaper goroutine that serialises post-completion bookkeeping, so neither
// Schedule nor a job's done callback blocks on a job's teardown logic.
// Stop does wait for the reaper to finish.
//
// Grounded on original_source's session_job_pool_base.hpp (sessions map,
// stopping flag, job_count, done_list, reaper goroutine, injected
// done_notifier and on_new_job hooks) and pkg/queue/pool.go's
// session-bucketed job bookkeeping.
package jobpool

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// waitTimeout bounds how long the reaper waits on its condition variable
// before rechecking its wake condition, matching pkg/worker's condWaitTimeout
// so the reaper's wait is bounded rather than an indefinite cond.Wait.
const waitTimeout = time.Second

// Job is a unit of work scheduled against a session. Schedule installs a
// done callback on the job via SetDoneCallback; the job implementation
// must invoke that callback exactly once, after which it must not touch
// pool-visible state again.
type Job interface {
	ID() uint64
	SessionID() uint64
	// Cancel requests cooperative cancellation; it must not block.
	Cancel()
	// SetDoneCallback installs the function the job must call exactly
	// once, when it has finished running.
	SetDoneCallback(cb func())
}

var (
	// ErrDuplicateJob signals a fatal invariant violation: the same
	// (session, job) id pair was scheduled twice while the first was
	// still live.
	ErrDuplicateJob = errors.New("jobpool: duplicate job id within session")
	// ErrStopped is returned by Schedule after Stop has been called.
	ErrStopped = errors.New("jobpool: pool stopped")
)

// DoneNotifier is invoked by the reaper for every job immediately before
// it is dropped from the index, letting a derived pool send final
// responses or update external state.
type DoneNotifier func(job Job)

// NewJobHook is invoked synchronously by Schedule once a job has been
// indexed, typically to hand it to a worker pool. A non-nil error causes
// Schedule to remove the job from the index and return the error.
type NewJobHook func(job Job) error

// Pool tracks jobs bucketed by session and reaps finished jobs on a single
// background goroutine. The zero value is not usable; use New.
type Pool struct {
	onNewJob     NewJobHook
	doneNotifier DoneNotifier

	mu       sync.Mutex
	cond     *sync.Cond
	sessions map[uint64]map[uint64]Job
	doneList []Job
	jobCount int
	stopping bool
	reaperWG sync.WaitGroup
}

// New creates a Pool and starts its reaper goroutine. onNewJob may be nil
// (no-op); doneNotifier may be nil (no-op).
func New(onNewJob NewJobHook, doneNotifier DoneNotifier) *Pool {
	if onNewJob == nil {
		onNewJob = func(Job) error { return nil }
	}
	if doneNotifier == nil {
		doneNotifier = func(Job) {}
	}
	p := &Pool{
		onNewJob:     onNewJob,
		doneNotifier: doneNotifier,
		sessions:     make(map[uint64]map[uint64]Job),
	}
	p.cond = sync.NewCond(&p.mu)
	p.reaperWG.Add(1)
	go p.reap()
	return p
}

// Schedule is atomic with respect to Stop. If the pool is stopping,
// Schedule returns ErrStopped. Otherwise it installs the done callback,
// indexes the job, increments the live job count, and invokes onNewJob.
// If onNewJob returns an error the job is removed from the index before
// the error is returned to the caller — the job is never left
// half-registered.
func (p *Pool) Schedule(job Job) error {
	p.mu.Lock()
	if p.stopping {
		p.mu.Unlock()
		return ErrStopped
	}

	bucket, ok := p.sessions[job.SessionID()]
	if !ok {
		bucket = make(map[uint64]Job)
		p.sessions[job.SessionID()] = bucket
	}
	if _, dup := bucket[job.ID()]; dup {
		p.mu.Unlock()
		panic(fmt.Sprintf("%v: session=%d job=%d", ErrDuplicateJob, job.SessionID(), job.ID()))
	}
	bucket[job.ID()] = job
	p.jobCount++
	job.SetDoneCallback(func() { p.jobDone(job) })
	p.mu.Unlock()

	if err := p.onNewJob(job); err != nil {
		p.removeFromIndex(job)
		return err
	}
	return nil
}

func (p *Pool) removeFromIndex(job Job) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if bucket, ok := p.sessions[job.SessionID()]; ok {
		delete(bucket, job.ID())
		if len(bucket) == 0 {
			delete(p.sessions, job.SessionID())
		}
	}
	p.jobCount--
}

// jobDone is the callback installed on every scheduled job. It pushes the
// job onto the done-list and wakes the reaper; it must never block.
func (p *Pool) jobDone(job Job) {
	p.mu.Lock()
	p.doneList = append(p.doneList, job)
	p.cond.Signal()
	p.mu.Unlock()
}

// CancelSession requests cancellation of every job belonging to a
// session. It does not remove jobs from the index — the reaper does that
// once each job finishes and calls back via jobDone.
func (p *Pool) CancelSession(sessionID uint64) {
	p.mu.Lock()
	bucket := p.sessions[sessionID]
	jobs := make([]Job, 0, len(bucket))
	for _, job := range bucket {
		jobs = append(jobs, job)
	}
	p.mu.Unlock()

	for _, job := range jobs {
		job.Cancel()
	}
}

// CancelAll requests cancellation of every job in the pool, across every
// session.
func (p *Pool) CancelAll() {
	p.mu.Lock()
	var jobs []Job
	for _, bucket := range p.sessions {
		for _, job := range bucket {
			jobs = append(jobs, job)
		}
	}
	p.mu.Unlock()

	for _, job := range jobs {
		job.Cancel()
	}
}

// JobCount reports the number of jobs currently indexed (including jobs
// awaiting reaping).
func (p *Pool) JobCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.jobCount
}

// Stop is atomic and idempotent. It marks the pool stopping (rejecting
// further Schedule calls), cancels every outstanding job, then waits for
// the reaper to finish reaping all of them before returning. Stop must
// not hold the pool's lock across CancelAll — the reaper needs it to
// drain the done-list concurrently, and holding it here would deadlock.
func (p *Pool) Stop() {
	p.mu.Lock()
	if p.stopping {
		p.mu.Unlock()
		p.reaperWG.Wait()
		return
	}
	p.stopping = true
	p.mu.Unlock()

	p.CancelAll()

	p.mu.Lock()
	p.cond.Broadcast()
	p.mu.Unlock()

	p.reaperWG.Wait()
}

// reap drains the done-list, notifying and un-indexing each job, until
// the pool is stopping and both the done-list and job count have
// drained to zero.
func (p *Pool) reap() {
	defer p.reaperWG.Done()

	for {
		p.mu.Lock()
		for len(p.doneList) == 0 && !(p.stopping && p.jobCount == 0) {
			p.condWaitTimeout()
		}
		if len(p.doneList) == 0 && p.stopping && p.jobCount == 0 {
			p.mu.Unlock()
			return
		}
		batch := p.doneList
		p.doneList = nil
		p.mu.Unlock()

		for _, job := range batch {
			p.doneNotifier(job)

			p.mu.Lock()
			if bucket, ok := p.sessions[job.SessionID()]; ok {
				delete(bucket, job.ID())
				if len(bucket) == 0 {
					delete(p.sessions, job.SessionID())
				}
			}
			p.jobCount--
			if p.stopping && p.jobCount == 0 {
				p.cond.Broadcast()
			}
			p.mu.Unlock()
		}
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
