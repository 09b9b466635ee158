// Command processor runs the pre/post-processor role: it accepts
// WebSocket connections, assembles chunked processor requests per job
// token, and executes each completed job against a configured external
// script once all of its chunks have arrived.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/bpbd-project/bpbd/pkg/config"
	"github.com/bpbd-project/bpbd/pkg/envelope"
	"github.com/bpbd-project/bpbd/pkg/jobpool"
	"github.com/bpbd-project/bpbd/pkg/processor"
	"github.com/bpbd-project/bpbd/pkg/session"
	"github.com/bpbd-project/bpbd/pkg/transport"
	"github.com/bpbd-project/bpbd/pkg/version"
	"github.com/bpbd-project/bpbd/pkg/worker"
)

func main() {
	configPath := flag.String("c", "", "path to the INI configuration file (required)")
	logLevel := flag.String("d", "info", "log level: debug, info, warn, error")
	flag.Parse()

	level, err := parseLevel(*logLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	if *configPath == "" {
		slog.Error("missing required -c flag")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, *configPath); err != nil {
		slog.Error("processor exited with error", "error", err)
		os.Exit(1)
	}
}

func parseLevel(name string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(name)); err != nil {
		return 0, fmt.Errorf("invalid -d level %q: %w", name, err)
	}
	return l, nil
}

// jobKey is the (variant, job token) bucket used to
// assemble chunks before a job is complete, since jobpool only indexes
// fully-scheduled jobs.
type jobKey struct {
	variant  processor.Variant
	jobToken string
}

func run(ctx context.Context, configPath string) error {
	slog.Info("starting", "app", version.Full())

	cfg, err := config.Initialize(ctx, configPath)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	if cfg.Server.PreCallTempl == "" && cfg.Server.PostCallTempl == "" {
		return fmt.Errorf("processor requires pre_call_templ or post_call_templ to be set")
	}

	variant := processor.Pre
	callTmpl := cfg.Server.PreCallTempl
	if callTmpl == "" {
		variant = processor.Post
		callTmpl = cfg.Server.PostCallTempl
	}
	langCfg := processor.LanguageConfig{
		Defined:  callTmpl != "",
		WorkDir:  cfg.Server.WorkDir,
		CallTmpl: callTmpl,
	}
	slog.Info("processor role selected", "variant", variant.String(), "defined", langCfg.Defined)

	tlsCfg, err := cfg.TLSConfig()
	if err != nil {
		return fmt.Errorf("building TLS config: %w", err)
	}

	pool := worker.New(ctx, cfg.Server.NumThreads)
	defer pool.Shutdown()

	var pendingMu sync.Mutex
	pending := make(map[jobKey]*processor.Job)

	// sessions is assigned once srv exists, below; the Handlers closures
	// below only observe it once a connection actually fires an event,
	// by which point it is set.
	var sessions *session.Manager

	jp := jobpool.New(
		func(job jobpool.Job) error {
			pool.Submit(job.(worker.Task))
			return nil
		},
		func(job jobpool.Job) {
			if j, ok := job.(*processor.Job); ok {
				if err := j.Cleanup(); err != nil {
					slog.Warn("cleanup failed", "error", err)
				}
			}
		},
	)
	defer jp.Stop()

	// srv is forward-declared since its own OnMessage handler needs to
	// refer back to it (to close the connection on a protocol mismatch
	// with no job token to reply through).
	var srv *transport.Server
	srv = transport.New(transport.Handlers{
		OnOpen: func(handle session.Handle) {
			sessions.Open(handle)
		},
		OnClose: func(handle session.Handle) {
			sessions.Close(handle)
		},
		OnFail: func(handle session.Handle, err error) {
			slog.Warn("connection failed", "error", err)
		},
		OnMessage: func(handle session.Handle, data []byte) {
			handleMessage(srv, sessions, jp, &pendingMu, pending, variant, langCfg, handle, data)
		},
	}, tlsCfg)

	sessions = session.NewManager(srv)
	sessions.OnClose = func(id session.ID) {
		jp.CancelSession(uint64(id))
	}

	ln, err := srv.Listen(cfg.Server.ServerPort)
	if err != nil {
		return fmt.Errorf("listening on port %d: %w", cfg.Server.ServerPort, err)
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(ln); err != nil {
			errCh <- err
		}
	}()
	slog.Info("listening", "port", cfg.Server.ServerPort)

	select {
	case <-ctx.Done():
		slog.Info("shutting down")
	case err := <-errCh:
		return fmt.Errorf("transport: %w", err)
	}

	return srv.Stop(context.Background())
}

func handleMessage(
	srv *transport.Server,
	sessions *session.Manager,
	jp *jobpool.Pool,
	pendingMu *sync.Mutex,
	pending map[jobKey]*processor.Job,
	variant processor.Variant,
	langCfg processor.LanguageConfig,
	handle session.Handle,
	data []byte,
) {
	sessID, ok := sessions.SessionOf(handle)
	if !ok {
		return
	}

	e, err := envelope.Parse(data)
	if err != nil {
		slog.Error("malformed frame", "error", err, "session", sessID)
		return
	}
	if err := e.VerifyVersion(); err != nil {
		slog.Error("protocol mismatch", "error", err, "session", sessID)
		var token string
		if e.HasField("job_token") && e.Field("job_token", &token) == nil && token != "" {
			sendProcessorError(sessions, sessID, token, err.Error())
		} else {
			srv.Close(handle, "protocol mismatch")
		}
		return
	}

	if e.MsgType() != envelope.MsgProcessorRequest {
		slog.Warn("unexpected message type", "msg_type", e.MsgType(), "session", sessID)
		return
	}

	req, err := envelope.DecodeProcessorRequest(e)
	if err != nil {
		slog.Error("missing field", "error", err, "session", sessID)
		return
	}

	key := jobKey{variant: variant, jobToken: req.JobToken}

	pendingMu.Lock()
	job, ok := pending[key]
	if !ok {
		job = processor.New(variant, langCfg, uint64(sessID), req.JobToken, req.Priority, req.NumChunks, adaptSender(sessions), nil)
		pending[key] = job
	}
	job.AddChunk(req.ChunkIdx, req.Language, req.Chunk)
	complete := job.IsComplete()
	if complete {
		delete(pending, key)
	}
	pendingMu.Unlock()

	if complete {
		if err := jp.Schedule(job); err != nil {
			slog.Error("scheduling job", "error", err, "job_token", req.JobToken)
		}
	}
}

// sendProcessorError builds and sends a job-scoped error response directly
// through the session manager, bypassing jobpool/processor.Job entirely —
// used when a frame fails validation before a Job even exists yet still
// names the job token it belongs to.
func sendProcessorError(sessions *session.Manager, sessID session.ID, jobToken, msg string) {
	resp := envelope.ProcessorResponse{JobToken: jobToken}
	e, err := resp.Encode(envelope.StatusError, msg)
	if err != nil {
		return
	}
	data, err := e.Serialize()
	if err != nil {
		return
	}
	sessions.Send(sessID, data)
}

// sessionSender adapts session.Manager.Send (keyed by session.ID) to
// processor.Sender (keyed by a plain uint64), since the two are distinct
// named types and Go requires exact method-signature matches for
// interface satisfaction.
type sessionSender struct {
	sessions *session.Manager
}

func (s sessionSender) Send(sessionID uint64, data []byte) bool {
	return s.sessions.Send(session.ID(sessionID), data)
}

func adaptSender(sessions *session.Manager) processor.Sender {
	return sessionSender{sessions: sessions}
}
