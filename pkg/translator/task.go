package translator

import (
	"context"

	"github.com/bpbd-project/bpbd/pkg/worker"
)

// Task translates one sentence of a Job. It implements worker.Task; the
// worker pool is oblivious to which job a task belongs to, matching
// original_source's trans_task_pool submitting bare trans_task_ptr values.
type Task struct {
	job      *Job
	index    int
	sentence string
}

// Run invokes the job's decoder backend on this sentence and reports the
// result back to the job, regardless of outcome (including cancellation,
// which Run observes cooperatively before and after the backend call but
// does not use to abort a backend call already in flight — the backend is
// responsible for honoring ctx cancellation itself).
func (t *Task) Run(ctx context.Context) {
	if t.job.isCanceled() {
		t.job.taskDone(t.index, "", nil)
		return
	}

	history := t.job.recentHistory()
	text, err := t.job.backend.Translate(ctx, t.job.sourceLang, t.job.targetLang, t.sentence, history)
	t.job.taskDone(t.index, text, err)
}

var _ worker.Task = (*Task)(nil)
