package jobpool

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeJob struct {
	id, session uint64
	canceled    int32
	cb          func()
}

func newFakeJob(session, id uint64) *fakeJob {
	return &fakeJob{id: id, session: session}
}

func (j *fakeJob) ID() uint64                  { return j.id }
func (j *fakeJob) SessionID() uint64           { return j.session }
func (j *fakeJob) SetDoneCallback(cb func())   { j.cb = cb }
func (j *fakeJob) Cancel() {
	atomic.AddInt32(&j.canceled, 1)
	j.finish()
}
func (j *fakeJob) finish() {
	if j.cb != nil {
		j.cb()
	}
}

func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition never became true")
}

func TestPool_ScheduleAndNaturalCompletionIsNotified(t *testing.T) {
	var notified int32
	var notifiedJob Job
	var mu sync.Mutex
	p := New(nil, func(job Job) {
		mu.Lock()
		notifiedJob = job
		mu.Unlock()
		atomic.AddInt32(&notified, 1)
	})
	defer p.Stop()

	j := newFakeJob(1, 1)
	require.NoError(t, p.Schedule(j))
	j.finish()

	waitUntil(t, func() bool { return atomic.LoadInt32(&notified) == 1 })
	mu.Lock()
	assert.Same(t, j, notifiedJob)
	mu.Unlock()
	assert.EqualValues(t, 0, atomic.LoadInt32(&j.canceled))
}

func TestPool_ScheduleInvokesOnNewJobHook(t *testing.T) {
	var seen []uint64
	p := New(func(job Job) error {
		seen = append(seen, job.ID())
		return nil
	}, nil)
	defer p.Stop()

	j := newFakeJob(1, 7)
	require.NoError(t, p.Schedule(j))
	assert.Equal(t, []uint64{7}, seen)
	j.finish()
}

func TestPool_OnNewJobErrorRemovesFromIndex(t *testing.T) {
	boom := assert.AnError
	p := New(func(job Job) error { return boom }, nil)
	defer p.Stop()

	j := newFakeJob(1, 1)
	err := p.Schedule(j)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, p.JobCount())
}

func TestPool_ScheduleDuplicateJobIDPanics(t *testing.T) {
	p := New(nil, nil)
	defer p.Stop()

	j1 := newFakeJob(1, 1)
	j2 := newFakeJob(1, 1)
	require.NoError(t, p.Schedule(j1))

	assert.Panics(t, func() { _ = p.Schedule(j2) })
	j1.finish()
}

func TestPool_CancelSessionCancelsOnlyThatSession(t *testing.T) {
	p := New(nil, nil)
	defer p.Stop()

	a := newFakeJob(1, 1)
	b := newFakeJob(1, 2)
	c := newFakeJob(2, 1)
	require.NoError(t, p.Schedule(a))
	require.NoError(t, p.Schedule(b))
	require.NoError(t, p.Schedule(c))

	p.CancelSession(1)
	waitUntil(t, func() bool { return atomic.LoadInt32(&a.canceled) == 1 && atomic.LoadInt32(&b.canceled) == 1 })

	assert.EqualValues(t, 0, atomic.LoadInt32(&c.canceled))
	c.finish()
}

func TestPool_CancelAllCancelsEverySession(t *testing.T) {
	p := New(nil, nil)
	defer p.Stop()

	jobs := []*fakeJob{newFakeJob(1, 1), newFakeJob(2, 1), newFakeJob(3, 1)}
	for _, j := range jobs {
		require.NoError(t, p.Schedule(j))
	}

	p.CancelAll()
	for _, j := range jobs {
		waitUntil(t, func() bool { return atomic.LoadInt32(&j.canceled) == 1 })
	}
}

func TestPool_StopCancelsAndWaitsForAllReaping(t *testing.T) {
	p := New(nil, nil)

	jobs := []*fakeJob{newFakeJob(1, 1), newFakeJob(1, 2), newFakeJob(2, 1)}
	for _, j := range jobs {
		require.NoError(t, p.Schedule(j))
	}

	p.Stop()

	for _, j := range jobs {
		assert.EqualValues(t, 1, atomic.LoadInt32(&j.canceled))
	}
	assert.Equal(t, 0, p.JobCount())
}

func TestPool_ScheduleAfterStopIsRejected(t *testing.T) {
	p := New(nil, nil)
	p.Stop()

	err := p.Schedule(newFakeJob(1, 1))
	assert.ErrorIs(t, err, ErrStopped)
}

func TestPool_JobCountTracksOutstandingJobs(t *testing.T) {
	p := New(nil, nil)
	defer p.Stop()

	assert.Equal(t, 0, p.JobCount())

	j := newFakeJob(1, 1)
	require.NoError(t, p.Schedule(j))
	assert.Equal(t, 1, p.JobCount())

	j.finish()
	waitUntil(t, func() bool { return p.JobCount() == 0 })
}
