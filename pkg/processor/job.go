// Package processor implements the pre/post-processor job: materialise an
// assembled request into a work file, hand it to an external script, and
// stream the script's output back to the client as UTF-8-safe chunks.
//
// Grounded on original_source's processor_job.hpp (file lock, finalisation
// lock, store_text_to_file/call_processor_script/send_success_response
// flow) and processor_consts.hpp (the fixed size/retry constants below),
// with process invocation in the style of pkg/mcp/transport.go's
// createStdioTransport (os/exec.Command usage).
package processor

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/bpbd-project/bpbd/pkg/chunked"
	"github.com/bpbd-project/bpbd/pkg/envelope"
	"github.com/bpbd-project/bpbd/pkg/jobpool"
	"github.com/bpbd-project/bpbd/pkg/worker"
)

// Fixed constants carried over verbatim from the original processor role.
const (
	// MaxProcessorOutputBytes bounds a single read of the script's stdout.
	MaxProcessorOutputBytes = 1024
	// MessageMaxCharLen bounds a single outbound chunk, in characters.
	MessageMaxCharLen = 10 * 1024
	// MaxConsoleAttempts bounds retries of starting the child process or
	// removing the job's work files.
	MaxConsoleAttempts = 10
	// ConsoleRetryTimeout is the fixed delay between retry attempts.
	ConsoleRetryTimeout = 20 * time.Millisecond
)

// Variant distinguishes the pre-processor role (source-language
// detection before translation) from the post-processor role (target
// text clean-up after translation).
type Variant int

const (
	Pre Variant = iota
	Post
)

func (v Variant) String() string {
	if v == Pre {
		return "pre"
	}
	return "post"
}

// LanguageConfig is the per-language processor configuration. A job whose
// LanguageConfig.Defined is false cannot be executed.
type LanguageConfig struct {
	Defined  bool
	WorkDir  string
	CallTmpl string // contains <WORK_DIR>, <JOB_UID>, <LANGUAGE> placeholders
}

// BuildCallString substitutes the fixed placeholders into the call
// template. A template missing any of them is a configuration-time fatal
// error, asserted by the caller that loads the config.
func (c LanguageConfig) BuildCallString(jobToken, language string) string {
	s := strings.ReplaceAll(c.CallTmpl, "<WORK_DIR>", c.WorkDir)
	s = strings.ReplaceAll(s, "<JOB_UID>", jobToken)
	s = strings.ReplaceAll(s, "<LANGUAGE>", language)
	return s
}

// Sender hands a serialized envelope to the owning session. It mirrors
// session.Manager.Send without importing the session package's Handle
// type, so a Job can be tested without a transport.
type Sender interface {
	Send(sessionID uint64, data []byte) bool
}

// Encode builds the wire bytes for an envelope.Envelope. Kept as
// a seam so tests can assert on the envelope fields directly.
type Encode func(*envelope.Envelope) ([]byte, error)

// chunkRequest is one received chunk of the assembled input, keyed by
// its index.
type chunkRequest struct {
	language string
	chunk    string
}

// Job is a processor job for one job token. It implements jobpool.Job and
// worker.Task.
type Job struct {
	variant  Variant
	config   LanguageConfig
	sessID   uint64
	jobToken string
	priority int

	mu            sync.Mutex // guards chunk storage
	expectedCount int
	chunks        []*chunkRequest
	receivedCount int

	fileMu       sync.Mutex // serialises file/process lifecycle with Cancel
	isCanceled   bool
	isFileGen    bool
	resultLang   string

	sender  Sender
	encode  Encode
	doneCb  func()
	doneOnce sync.Once
}

// New creates a processor job expecting expectedChunks request fragments.
func New(variant Variant, config LanguageConfig, sessionID uint64, jobToken string, priority int, expectedChunks int, sender Sender, encode Encode) *Job {
	return &Job{
		variant:       variant,
		config:        config,
		sessID:        sessionID,
		jobToken:      jobToken,
		priority:      priority,
		expectedCount: expectedChunks,
		chunks:        make([]*chunkRequest, expectedChunks),
		sender:        sender,
		encode:        encode,
	}
}

// ID satisfies jobpool.Job. The job token is unique server-wide, so it
// doubles as the job id within its session bucket; jobpool indexes by a
// uint64, so ID returns tokenHash of the token.
func (j *Job) ID() uint64 { return tokenHash(j.jobToken) }

// SessionID satisfies jobpool.Job.
func (j *Job) SessionID() uint64 { return j.sessID }

// Priority reports the task's scheduling priority (higher runs first in
// a priority-aware worker pool; the generic worker.Pool in this module is
// FIFO and ignores it, but the field is preserved for a priority-aware
// substitute).
func (j *Job) Priority() int { return j.priority }

// SetDoneCallback satisfies jobpool.Job.
func (j *Job) SetDoneCallback(cb func()) { j.doneCb = cb }

// AddChunk stores one received request fragment at its chunk index.
// Chunks may arrive in any order. A duplicate or out-of-range index is a
// fatal invariant violation.
func (j *Job) AddChunk(idx int, language, chunk string) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if idx < 0 || idx >= j.expectedCount {
		panic(fmt.Sprintf("processor: chunk index %d out of range [0,%d)", idx, j.expectedCount))
	}
	if j.chunks[idx] != nil {
		panic(fmt.Sprintf("processor: chunk index %d already set for job %s", idx, j.jobToken))
	}
	j.chunks[idx] = &chunkRequest{language: language, chunk: chunk}
	j.receivedCount++
}

// IsComplete reports whether every expected chunk has been received.
func (j *Job) IsComplete() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.receivedCount == j.expectedCount
}

// Cancel marks the job canceled. The flag is polled at every externally
// observable boundary inside Run; cancellation does not preempt an
// already-running child process.
func (j *Job) Cancel() {
	j.fileMu.Lock()
	j.isCanceled = true
	j.fileMu.Unlock()
}

func (j *Job) canceled() bool {
	j.fileMu.Lock()
	defer j.fileMu.Unlock()
	return j.isCanceled
}

// Run executes the job: materialise the input file, invoke the external
// script, and stream its output or a structured error back to the
// client. It always calls the done callback exactly once on return,
// satisfying jobpool's "exactly one notification per job" invariant.
func (j *Job) Run(ctx context.Context) {
	defer j.doneOnce.Do(func() {
		if j.doneCb != nil {
			j.doneCb()
		}
	})

	if !j.config.Defined {
		j.sendError("language not supported, no default processor")
		return
	}

	if !j.IsComplete() {
		panic(fmt.Sprintf("processor: job %s scheduled with incomplete chunk set", j.jobToken))
	}

	if j.canceled() {
		return
	}

	inFile := j.fileName(true)
	if err := j.materializeInput(inFile); err != nil {
		j.sendError(fmt.Sprintf("could not materialize input: %v", err))
		return
	}

	if j.canceled() {
		return
	}

	language := j.firstLanguage()
	callStr := j.config.BuildCallString(j.jobToken, language)

	output, ok, err := j.callProcessorScript(ctx, callStr)
	if err != nil {
		j.sendError(err.Error())
		return
	}
	if j.canceled() {
		return
	}

	if ok {
		j.resultLang = output
		if err := j.streamOutputFile(ctx); err != nil {
			j.sendError(fmt.Sprintf("could not stream output: %v", err))
		}
		return
	}

	if strings.TrimSpace(output) == "" {
		output = fmt.Sprintf("Failed to execute: '%s': An internal script error or a missing script!", callStr)
	}
	j.sendError(output)
}

// materializeInput writes every chunk to fileName in index order, with
// no inserted newlines, marking isFileGen true. Synchronised on the file
// lock the same way as script invocation and cleanup.
func (j *Job) materializeInput(fileName string) error {
	j.fileMu.Lock()
	defer j.fileMu.Unlock()

	if j.isCanceled {
		return nil
	}

	j.mu.Lock()
	chunks := make([]*chunkRequest, len(j.chunks))
	copy(chunks, j.chunks)
	j.mu.Unlock()

	f, err := os.Create(fileName)
	if err != nil {
		return fmt.Errorf("open %s for writing: %w", fileName, err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	for idx, c := range chunks {
		if j.isCanceled {
			break
		}
		if c == nil {
			return fmt.Errorf("missing chunk %d", idx)
		}
		if _, err := w.WriteString(c.chunk); err != nil {
			return err
		}
	}
	if err := w.Flush(); err != nil {
		return err
	}
	j.isFileGen = true
	return nil
}

func (j *Job) firstLanguage() string {
	j.mu.Lock()
	defer j.mu.Unlock()
	if len(j.chunks) == 0 || j.chunks[0] == nil {
		return ""
	}
	return j.chunks[0].language
}

// callProcessorScript starts callStr as a shell command, retrying up to
// MaxConsoleAttempts times on start failure with ConsoleRetryTimeout
// between attempts. It returns the accumulated, whitespace-reduced
// stdout and whether the script exited successfully.
func (j *Job) callProcessorScript(ctx context.Context, callStr string) (string, bool, error) {
	j.fileMu.Lock()
	defer j.fileMu.Unlock()

	if j.isCanceled {
		return "", false, nil
	}

	var lastErr error
	for attempt := 0; attempt < MaxConsoleAttempts; attempt++ {
		cmd := exec.CommandContext(ctx, "sh", "-c", callStr)
		stdout, err := cmd.StdoutPipe()
		if err != nil {
			lastErr = err
			time.Sleep(ConsoleRetryTimeout)
			continue
		}
		if err := cmd.Start(); err != nil {
			lastErr = err
			time.Sleep(ConsoleRetryTimeout)
			continue
		}

		output, readErr := readBounded(stdout, MaxProcessorOutputBytes)
		waitErr := cmd.Wait()
		j.isFileGen = true

		if readErr != nil {
			return "", false, fmt.Errorf("reading script output: %w", readErr)
		}
		reduced := reduceWhitespace(output)

		if waitErr == nil {
			return reduced, true, nil
		}
		if exitErr, ok := waitErr.(*exec.ExitError); ok && exitErr.Exited() {
			return reduced, false, nil
		}
		return "", false, fmt.Errorf("the processor script %q terminated abnormally: %w", callStr, waitErr)
	}
	return "", false, fmt.Errorf("tried %d times but failed to execute: %s: %w", MaxConsoleAttempts, callStr, lastErr)
}

// readBounded reads r to completion MaxProcessorOutputBytes at a time,
// mirroring the original's fixed-size fgets buffer.
func readBounded(r io.Reader, bufSize int) (string, error) {
	var out bytes.Buffer
	buf := make([]byte, bufSize)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			out.Write(buf[:n])
		}
		if err != nil {
			if err == io.EOF {
				return out.String(), nil
			}
			return out.String(), err
		}
	}
}

func reduceWhitespace(s string) string {
	return strings.TrimSpace(s)
}

// streamOutputFile opens the job's output file and sends it to the
// client as UTF-8-safe chunks of at most MessageMaxCharLen characters.
func (j *Job) streamOutputFile(ctx context.Context) error {
	j.fileMu.Lock()
	defer j.fileMu.Unlock()

	if j.isCanceled {
		return nil
	}

	outFile := j.fileName(false)
	data, err := os.ReadFile(outFile)
	if err != nil {
		return fmt.Errorf("open %s: %w", outFile, err)
	}

	return chunked.Split(data, MessageMaxCharLen, func(c chunked.Chunk) error {
		if j.isCanceled {
			return nil
		}
		return j.sendChunk(string(c.Bytes), c.Index, c.NumChunks)
	})
}

func (j *Job) sendChunk(chunk string, idx, numChunks int) error {
	resp := envelope.ProcessorResponse{
		JobToken:  j.jobToken,
		Language:  j.resultLang,
		Chunk:     chunk,
		ChunkIdx:  idx,
		NumChunks: numChunks,
	}
	e, err := resp.Encode(envelope.StatusOK, "")
	if err != nil {
		return err
	}
	return j.send(e)
}

func (j *Job) sendError(msg string) {
	if j.canceled() {
		return
	}
	resp := envelope.ProcessorResponse{JobToken: j.jobToken}
	e, err := resp.Encode(envelope.StatusError, msg)
	if err != nil {
		return
	}
	_ = j.send(e)
}

func (j *Job) send(e *envelope.Envelope) error {
	data, err := e.Serialize()
	if err != nil {
		return err
	}
	if j.encode != nil {
		data, err = j.encode(e)
		if err != nil {
			return err
		}
	}
	j.sender.Send(j.sessID, data)
	return nil
}

func (j *Job) fileName(isInput bool) string {
	kind := "in"
	if !isInput {
		kind = "out"
	}
	return fmt.Sprintf("%s/%s.%s.%s.txt", j.config.WorkDir, j.jobToken, j.variant, kind)
}

// Cleanup removes the job's work files if any were generated, retrying
// the removal up to MaxConsoleAttempts times. Call once after the job's
// done notification has fired.
func (j *Job) Cleanup() error {
	j.fileMu.Lock()
	defer j.fileMu.Unlock()

	if !j.isFileGen {
		return nil
	}

	cmd := fmt.Sprintf("rm -f %s %s", j.fileName(true), j.fileName(false))
	var lastErr error
	for attempt := 0; attempt < MaxConsoleAttempts; attempt++ {
		if err := exec.Command("sh", "-c", cmd).Run(); err != nil {
			lastErr = err
			time.Sleep(ConsoleRetryTimeout)
			continue
		}
		return nil
	}
	return fmt.Errorf("tried %d times but failed to execute: %s: %w", MaxConsoleAttempts, cmd, lastErr)
}

// tokenHash folds a job token string into a uint64 for use as the
// jobpool index key. Collisions are acceptable only in the sense that a
// true collision is astronomically unlikely for random uuid-derived
// tokens; it is not used for anything security sensitive.
func tokenHash(token string) uint64 {
	var h uint64 = 1469598103934665603 // FNV offset basis
	for i := 0; i < len(token); i++ {
		h ^= uint64(token[i])
		h *= 1099511628211 // FNV prime
	}
	return h
}

var _ jobpool.Job = (*Job)(nil)
var _ worker.Task = (*Job)(nil)
