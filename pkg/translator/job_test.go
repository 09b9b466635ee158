package translator

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bpbd-project/bpbd/pkg/envelope"
	"github.com/bpbd-project/bpbd/pkg/worker"
)

type fakeSender struct {
	mu   sync.Mutex
	msgs [][]byte
}

func (s *fakeSender) Send(sessionID uint64, data []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs = append(s.msgs, data)
	return true
}

func (s *fakeSender) responses(t *testing.T) []envelope.TranslationJobResponse {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []envelope.TranslationJobResponse
	for _, data := range s.msgs {
		e, err := envelope.Parse(data)
		require.NoError(t, err)
		resp, err := envelope.DecodeTranslationJobResponse(e)
		require.NoError(t, err)
		out = append(out, resp)
	}
	return out
}

type errBackend struct{ failAt int }

func (b errBackend) Translate(_ context.Context, _, _, sentence string, _ []string) (string, error) {
	if sentence == "" {
		return "", errors.New("empty sentence")
	}
	return sentence + "-ok", nil
}

func runAll(tasks []*Task) {
	for _, t := range tasks {
		t.Run(context.Background())
	}
}

func TestJob_AssemblesResultsInOrder(t *testing.T) {
	req := envelope.TranslationJobRequest{
		JobID:      7,
		SourceLang: "en",
		TargetLang: "nl",
		SourceSent: []string{"hello", "world"},
	}
	sender := &fakeSender{}
	j, tasks := New(req, 1, DummyBackend{}, sender, nil)
	done := make(chan struct{})
	j.SetDoneCallback(func() { close(done) })

	runAll(tasks)
	<-done

	resps := sender.responses(t)
	require.Len(t, resps, 1)
	require.Len(t, resps[0].TargetData, 2)
	assert.Equal(t, "hello", resps[0].TargetData[0].TransText)
	assert.Equal(t, "world", resps[0].TargetData[1].TransText)
	assert.Equal(t, uint64(7), resps[0].JobID)
}

func TestJob_BackendErrorSendsErrorResponse(t *testing.T) {
	req := envelope.TranslationJobRequest{
		JobID:      1,
		SourceSent: []string{"", "ok"},
	}
	sender := &fakeSender{}
	j, tasks := New(req, 1, errBackend{}, sender, nil)
	done := make(chan struct{})
	j.SetDoneCallback(func() { close(done) })

	runAll(tasks)
	<-done

	resps := sender.responses(t)
	require.Len(t, resps, 1)
	assert.Empty(t, resps[0].TargetData)
}

func TestJob_CancelSkipsSend(t *testing.T) {
	req := envelope.TranslationJobRequest{
		JobID:      1,
		SourceSent: []string{"a", "b"},
	}
	sender := &fakeSender{}
	j, tasks := New(req, 1, DummyBackend{}, sender, nil)
	done := make(chan struct{})
	j.SetDoneCallback(func() { close(done) })

	j.Cancel()
	runAll(tasks)
	<-done

	assert.Empty(t, sender.responses(t))
}

func TestJob_DoneCallbackInvokedExactlyOnce(t *testing.T) {
	req := envelope.TranslationJobRequest{JobID: 1, SourceSent: []string{"a", "b", "c"}}
	j, tasks := New(req, 1, DummyBackend{}, &fakeSender{}, nil)

	var calls int
	j.SetDoneCallback(func() { calls++ })
	runAll(tasks)

	assert.Equal(t, 1, calls)
}

func TestJob_HistoryAccumulatesSuccessfulSentences(t *testing.T) {
	req := envelope.TranslationJobRequest{JobID: 1, SourceSent: []string{"a", "b"}}
	j, tasks := New(req, 1, DummyBackend{}, &fakeSender{}, nil)
	j.SetDoneCallback(func() {})

	runAll(tasks)

	assert.ElementsMatch(t, []string{"a", "b"}, j.recentHistory())
}

func TestNew_EmptySentencesPanics(t *testing.T) {
	req := envelope.TranslationJobRequest{JobID: 1}
	assert.Panics(t, func() {
		New(req, 1, DummyBackend{}, &fakeSender{}, nil)
	})
}

type cancelTrackingPool struct {
	mu       sync.Mutex
	canceled []*Task
}

func (p *cancelTrackingPool) Cancel(task worker.Task) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if t, ok := task.(*Task); ok {
		p.canceled = append(p.canceled, t)
	}
	return true
}

func TestJob_CancelDropsQueuedTasksFromBoundPool(t *testing.T) {
	req := envelope.TranslationJobRequest{JobID: 1, SourceSent: []string{"a", "b"}}
	j, tasks := New(req, 1, DummyBackend{}, &fakeSender{}, nil)
	j.SetDoneCallback(func() {})

	pool := &cancelTrackingPool{}
	j.Bind(pool)
	j.Cancel()

	pool.mu.Lock()
	defer pool.mu.Unlock()
	assert.Len(t, pool.canceled, len(tasks))
}

// TestJob_CancelOfDroppedTasksStillFiresDoneCallback guards against a job
// leak: if every task is dropped from the pool's queue before ever running,
// Run is never called for them, so Cancel itself must account for pending
// reaching 0 and doneCb firing exactly once.
func TestJob_CancelOfDroppedTasksStillFiresDoneCallback(t *testing.T) {
	req := envelope.TranslationJobRequest{JobID: 1, SourceSent: []string{"a", "b", "c"}}
	j, _ := New(req, 1, DummyBackend{}, &fakeSender{}, nil)

	done := make(chan struct{})
	var calls int32
	j.SetDoneCallback(func() {
		atomic.AddInt32(&calls, 1)
		close(done)
	})

	pool := &cancelTrackingPool{}
	j.Bind(pool)
	j.Cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("doneCb never fired after every task was dropped from the queue")
	}
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

func TestDummyBackend_ReverseReversesWordOrder(t *testing.T) {
	b := DummyBackend{Reverse: true}
	out, err := b.Translate(context.Background(), "en", "nl", "one two three", nil)
	require.NoError(t, err)
	assert.Equal(t, "three two one", out)
}
