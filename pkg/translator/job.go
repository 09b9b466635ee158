// Package translator implements the decoder-role translation job: a
// request is split one sentence per task, each task runs independently on
// the shared worker pool, and the job assembles per-sentence results back
// into a single ordered response once every task has reported in.
//
// Grounded on original_source's trans_job.hpp (one task per sentence,
// done-task counter, done_job_notifier callback) and trans_task.hpp /
// dummy_trans_task.hpp (the decoder itself is out of scope — a
// DecoderBackend stands in for it, the way dummy_trans_task stands in for
// the real decoder in the original's own test builds).
package translator

import (
	"context"
	"fmt"
	"sync"

	"github.com/bpbd-project/bpbd/pkg/envelope"
	"github.com/bpbd-project/bpbd/pkg/jobpool"
	"github.com/bpbd-project/bpbd/pkg/ring"
	"github.com/bpbd-project/bpbd/pkg/worker"
)

// historyCapacity bounds the per-job rolling window of already-translated
// sentences kept for language-model context, mirroring the original's use
// of a fixed-size circular_queue for LM history.
const historyCapacity = 8

// DecoderBackend performs the actual sentence-level translation. It is
// the seam standing in for the out-of-scope search algorithm, language
// model queries, reordering-model lookup, and phrase-table representation
// are out of scope here; a real decoder implements this interface.
type DecoderBackend interface {
	Translate(ctx context.Context, sourceLang, targetLang, sentence string, history []string) (string, error)
}

// Sender hands a serialized envelope to the owning session, mirroring
// session.Manager.Send without importing pkg/session.
type Sender interface {
	Send(sessionID uint64, data []byte) bool
}

// Encode builds the wire bytes for an envelope.Envelope. A nil Encode
// falls back to e.Serialize.
type Encode func(*envelope.Envelope) ([]byte, error)

// sentenceResult is one task's outcome, stored at its position in the job.
type sentenceResult struct {
	text string
	err  error
}

// Job is a translation job for one job id. It implements jobpool.Job; it
// never implements worker.Task itself — its work is the set of per-
// sentence Tasks it creates in New.
type Job struct {
	id         uint64
	sessID     uint64
	sourceLang string
	targetLang string
	transInfo  bool

	backend DecoderBackend
	sender  Sender
	encode  Encode

	mu       sync.Mutex
	results  []sentenceResult
	pending  int
	canceled bool
	history  *ring.Queue[string]
	tasks    []*Task
	pool     taskCanceler

	doneCb   func()
	doneOnce sync.Once
}

// taskCanceler is the subset of worker.Pool that Job needs to drop
// not-yet-started tasks on Cancel, kept narrow so this package does not
// need to import worker for anything but the Task interface it satisfies.
type taskCanceler interface {
	Cancel(task worker.Task) bool
}

// New splits req into one Task per sentence and returns the owning Job
// plus its tasks, ready to submit to a worker.Pool. req.SourceSent must be
// non-empty; an empty request is a caller error, asserted by panic since
// it can only arise from a malformed internal call, not untrusted input
// (the wire decoder already rejects a missing source_sent field).
func New(req envelope.TranslationJobRequest, sessionID uint64, backend DecoderBackend, sender Sender, encode Encode) (*Job, []*Task) {
	if len(req.SourceSent) == 0 {
		panic("translator: translation job request has no sentences")
	}

	j := &Job{
		id:         req.JobID,
		sessID:     sessionID,
		sourceLang: req.SourceLang,
		targetLang: req.TargetLang,
		transInfo:  req.TransInfo,
		backend:    backend,
		sender:     sender,
		encode:     encode,
		results:    make([]sentenceResult, len(req.SourceSent)),
		pending:    len(req.SourceSent),
		history:    ring.New[string](historyCapacity),
	}

	tasks := make([]*Task, len(req.SourceSent))
	for i, sentence := range req.SourceSent {
		tasks[i] = &Task{job: j, index: i, sentence: sentence}
	}
	j.tasks = tasks
	return j, tasks
}

// ID satisfies jobpool.Job.
func (j *Job) ID() uint64 { return j.id }

// SessionID satisfies jobpool.Job.
func (j *Job) SessionID() uint64 { return j.sessID }

// SetDoneCallback satisfies jobpool.Job.
func (j *Job) SetDoneCallback(cb func()) { j.doneCb = cb }

// Tasks returns the job's per-sentence tasks, the same slice New returned
// alongside the job. A jobpool.NewJobHook that only receives the jobpool.Job
// interface uses this to submit them to a worker pool.
func (j *Job) Tasks() []*Task {
	return j.tasks
}

// Bind records the worker pool the job's tasks are submitted to, so
// Cancel can drop any of them still queued. cmd/decoder binds before
// submitting; a task not yet submitted when Cancel runs is not dropped and
// reports in through Run, which observes the canceled flag.
func (j *Job) Bind(pool taskCanceler) {
	j.mu.Lock()
	j.pool = pool
	j.mu.Unlock()
}

// Cancel marks every still-pending sentence canceled and drops any of the
// job's tasks still sitting in the worker queue. Tasks already running
// finish and report in normally, but taskDone skips sending once canceled
// is set at the job level — cancellation is observed, not preempted,
// matching the processor job's cooperative model.
//
// A task pool.Cancel actually removes from its queue will never have Run
// called on it, so it would never call taskDone and pending would never
// reach 0 — the job (and jobpool's reaper waiting on it) would leak
// forever. Cancel accounts for every dropped task itself, right here,
// exactly once, so pending still drains to 0 and doneCb still fires.
func (j *Job) Cancel() {
	j.mu.Lock()
	j.canceled = true
	pool := j.pool
	tasks := j.tasks
	j.mu.Unlock()

	if pool == nil {
		return
	}
	for _, t := range tasks {
		if pool.Cancel(t) {
			j.taskDone(t.index, "", nil)
		}
	}
}

func (j *Job) isCanceled() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.canceled
}

// recentHistory returns a snapshot of the job's translated-sentence
// history for language-model context, oldest first.
func (j *Job) recentHistory() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.history.Elements()
}

// taskDone records one sentence's result and, once every sentence has
// reported in, assembles and sends the complete response. It is called by
// each Task's Run on completion; it is safe for concurrent tasks of the
// same job to call it.
func (j *Job) taskDone(index int, text string, err error) {
	j.mu.Lock()
	j.results[index] = sentenceResult{text: text, err: err}
	j.pending--
	done := j.pending == 0
	if err == nil {
		j.history.PushBack(text)
	}
	j.mu.Unlock()

	if !done {
		return
	}

	defer j.doneOnce.Do(func() {
		if j.doneCb != nil {
			j.doneCb()
		}
	})

	if j.isCanceled() {
		return
	}
	j.sendResult()
}

func (j *Job) sendResult() {
	j.mu.Lock()
	results := make([]sentenceResult, len(j.results))
	copy(results, j.results)
	j.mu.Unlock()

	data := make([]envelope.TargetSentence, len(results))
	for i, r := range results {
		if r.err != nil {
			j.sendError(fmt.Sprintf("sentence %d: %v", i, r.err))
			return
		}
		data[i] = envelope.TargetSentence{TransText: r.text}
	}

	resp := envelope.TranslationJobResponse{JobID: j.id, TargetData: data}
	e, err := resp.Encode(envelope.StatusOK, "")
	if err != nil {
		return
	}
	j.send(e)
}

func (j *Job) sendError(msg string) {
	resp := envelope.TranslationJobResponse{JobID: j.id}
	e, err := resp.Encode(envelope.StatusError, msg)
	if err != nil {
		return
	}
	j.send(e)
}

func (j *Job) send(e *envelope.Envelope) {
	data, err := e.Serialize()
	if err != nil {
		return
	}
	if j.encode != nil {
		data, err = j.encode(e)
		if err != nil {
			return
		}
	}
	j.sender.Send(j.sessID, data)
}

var _ jobpool.Job = (*Job)(nil)
