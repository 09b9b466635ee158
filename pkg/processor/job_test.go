package processor

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bpbd-project/bpbd/pkg/envelope"
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

func (s *fakeSender) responses(t *testing.T) []envelope.ProcessorResponse {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []envelope.ProcessorResponse
	for _, data := range s.msgs {
		e, err := envelope.Parse(data)
		require.NoError(t, err)
		resp, err := envelope.DecodeProcessorResponse(e)
		require.NoError(t, err)
		out = append(out, resp)
	}
	return out
}

func (s *fakeSender) statusMessages(t *testing.T) []string {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []string
	for _, data := range s.msgs {
		e, err := envelope.Parse(data)
		require.NoError(t, err)
		_, msg := e.Status()
		out = append(out, msg)
	}
	return out
}

func TestJob_UndefinedLanguageConfigSendsError(t *testing.T) {
	sender := &fakeSender{}
	j := New(Pre, LanguageConfig{Defined: false}, 1, "T1", 0, 1, sender, nil)
	j.AddChunk(0, "auto", "hello")

	done := make(chan struct{})
	j.SetDoneCallback(func() { close(done) })

	j.Run(context.Background())
	<-done

	resps := sender.responses(t)
	require.Len(t, resps, 1)
	assert.Equal(t, "T1", resps[0].JobToken)
}

func TestJob_IncompleteChunkSetPanics(t *testing.T) {
	sender := &fakeSender{}
	j := New(Pre, LanguageConfig{Defined: true, WorkDir: t.TempDir(), CallTmpl: "echo en"}, 1, "T1", 0, 2, sender, nil)
	j.AddChunk(0, "auto", "hello")

	assert.Panics(t, func() { j.Run(context.Background()) })
}

func TestJob_SuccessfulScriptStreamsOutput(t *testing.T) {
	dir := t.TempDir()
	cfg := LanguageConfig{
		Defined:  true,
		WorkDir:  dir,
		CallTmpl: "cp <WORK_DIR>/<JOB_UID>.pre.in.txt <WORK_DIR>/<JOB_UID>.pre.out.txt && echo en",
	}
	sender := &fakeSender{}
	j := New(Pre, cfg, 1, "T1", 0, 1, sender, nil)
	j.AddChunk(0, "auto", "hello world")

	done := make(chan struct{})
	j.SetDoneCallback(func() { close(done) })
	j.Run(context.Background())
	<-done

	resps := sender.responses(t)
	require.Len(t, resps, 1)
	assert.Equal(t, "en", resps[0].Language)
	assert.Equal(t, "hello world", resps[0].Chunk)
	assert.Equal(t, 0, resps[0].ChunkIdx)
	assert.Equal(t, 1, resps[0].NumChunks)

	_, err := os.Stat(filepath.Join(dir, "T1.pre.in.txt"))
	require.NoError(t, err)
}

func TestJob_ScriptNonZeroExitSendsErrorWithStdout(t *testing.T) {
	dir := t.TempDir()
	cfg := LanguageConfig{
		Defined:  true,
		WorkDir:  dir,
		CallTmpl: "echo bad input; exit 1",
	}
	sender := &fakeSender{}
	j := New(Pre, cfg, 1, "T1", 0, 1, sender, nil)
	j.AddChunk(0, "auto", "hello")

	done := make(chan struct{})
	j.SetDoneCallback(func() { close(done) })
	j.Run(context.Background())
	<-done

	msgs := sender.statusMessages(t)
	require.Len(t, msgs, 1)
	assert.Equal(t, "bad input", msgs[0])
}

func TestJob_CancelBeforeRunSkipsExecution(t *testing.T) {
	dir := t.TempDir()
	cfg := LanguageConfig{Defined: true, WorkDir: dir, CallTmpl: "echo en"}
	sender := &fakeSender{}
	j := New(Pre, cfg, 1, "T1", 0, 1, sender, nil)
	j.AddChunk(0, "auto", "hello")
	j.Cancel()

	done := make(chan struct{})
	j.SetDoneCallback(func() { close(done) })
	j.Run(context.Background())
	<-done

	assert.Empty(t, sender.responses(t))
}

func TestJob_DoneCallbackInvokedExactlyOnce(t *testing.T) {
	dir := t.TempDir()
	cfg := LanguageConfig{Defined: true, WorkDir: dir, CallTmpl: "echo en"}
	sender := &fakeSender{}
	j := New(Pre, cfg, 1, "T1", 0, 1, sender, nil)
	j.AddChunk(0, "auto", "x")

	var calls int
	j.SetDoneCallback(func() { calls++ })
	j.Run(context.Background())

	assert.Equal(t, 1, calls)
}

func TestJob_IsCompleteTracksReceivedChunks(t *testing.T) {
	j := New(Post, LanguageConfig{}, 1, "T1", 0, 2, &fakeSender{}, nil)
	assert.False(t, j.IsComplete())
	j.AddChunk(0, "en", "a")
	assert.False(t, j.IsComplete())
	j.AddChunk(1, "en", "b")
	assert.True(t, j.IsComplete())
}

func TestJob_AddChunkDuplicateIndexPanics(t *testing.T) {
	j := New(Post, LanguageConfig{}, 1, "T1", 0, 2, &fakeSender{}, nil)
	j.AddChunk(0, "en", "a")
	assert.Panics(t, func() { j.AddChunk(0, "en", "a-again") })
}

func TestJob_CleanupRemovesGeneratedFiles(t *testing.T) {
	dir := t.TempDir()
	cfg := LanguageConfig{Defined: true, WorkDir: dir, CallTmpl: "echo en"}
	sender := &fakeSender{}
	j := New(Pre, cfg, 1, "T1", 0, 1, sender, nil)
	j.AddChunk(0, "auto", "x")

	done := make(chan struct{})
	j.SetDoneCallback(func() { close(done) })
	j.Run(context.Background())
	<-done

	require.NoError(t, j.Cleanup())
	_, err := os.Stat(filepath.Join(dir, "T1.pre.in.txt"))
	assert.True(t, os.IsNotExist(err))
}

func TestVariant_String(t *testing.T) {
	assert.Equal(t, "pre", Pre.String())
	assert.Equal(t, "post", Post.String())
}
