// Command decoder runs the decoder-front-end role: it accepts WebSocket
// connections, splits each translation job request one task per sentence,
// and runs every task on a shared worker pool before assembling and
// sending back the ordered per-sentence response.
//
// Grounded on original_source's trans_job.hpp / trans_task.hpp (the
// decoder front-end's job-to-task decomposition) and cmd/processor's
// wiring of the same config/jobpool/worker/session/transport stack around
// a different per-job unit of work.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/bpbd-project/bpbd/pkg/config"
	"github.com/bpbd-project/bpbd/pkg/envelope"
	"github.com/bpbd-project/bpbd/pkg/jobpool"
	"github.com/bpbd-project/bpbd/pkg/session"
	"github.com/bpbd-project/bpbd/pkg/transport"
	"github.com/bpbd-project/bpbd/pkg/translator"
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
		slog.Error("decoder exited with error", "error", err)
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

func run(ctx context.Context, configPath string) error {
	slog.Info("starting", "app", version.Full())

	cfg, err := config.Initialize(ctx, configPath)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	tlsCfg, err := cfg.TLSConfig()
	if err != nil {
		return fmt.Errorf("building TLS config: %w", err)
	}

	pool := worker.New(ctx, cfg.Server.NumThreads)
	defer pool.Shutdown()

	// backend is the decoder itself; the real search/LM/reordering/
	// phrase-table stack is out of scope, so the shipped default is the
	// same dummy stand-in the original's own demo/test builds use.
	var backend translator.DecoderBackend = translator.DummyBackend{}

	jp := jobpool.New(
		func(job jobpool.Job) error {
			j, ok := job.(*translator.Job)
			if !ok {
				return fmt.Errorf("decoder: unexpected job type %T", job)
			}
			j.Bind(pool)
			for _, t := range j.Tasks() {
				pool.Submit(t)
			}
			return nil
		},
		nil,
	)
	defer jp.Stop()

	// srv is forward-declared since its own OnMessage handler needs to
	// refer back to it (to close the connection on a protocol mismatch
	// with no job id to reply through).
	var sessions *session.Manager
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
			handleMessage(srv, sessions, jp, backend, handle, data)
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

func handleMessage(srv *transport.Server, sessions *session.Manager, jp *jobpool.Pool, backend translator.DecoderBackend, handle session.Handle, data []byte) {
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
		var jobID uint64
		if e.HasField("job_id") && e.Field("job_id", &jobID) == nil && jobID != 0 {
			sendTranslationError(sessions, sessID, jobID, err.Error())
		} else {
			srv.Close(handle, "protocol mismatch")
		}
		return
	}

	if e.MsgType() != envelope.MsgTranslationJobRequest {
		slog.Warn("unexpected message type", "msg_type", e.MsgType(), "session", sessID)
		return
	}

	req, err := envelope.DecodeTranslationJobRequest(e)
	if err != nil {
		slog.Error("missing field", "error", err, "session", sessID)
		return
	}
	if len(req.SourceSent) == 0 {
		slog.Error("empty translation job request", "session", sessID, "job_id", req.JobID)
		return
	}

	job, _ := translator.New(req, uint64(sessID), backend, adaptSender(sessions), nil)
	if err := jp.Schedule(job); err != nil {
		slog.Error("scheduling job", "error", err, "job_id", req.JobID)
	}
}

// sendTranslationError builds and sends a job-scoped error response
// directly through the session manager, bypassing jobpool/translator.Job
// entirely — used when a frame fails validation before a Job even exists
// yet still names the job id it belongs to.
func sendTranslationError(sessions *session.Manager, sessID session.ID, jobID uint64, msg string) {
	resp := envelope.TranslationJobResponse{JobID: jobID}
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
// translator.Sender (keyed by a plain uint64), since the two are distinct
// named types and Go requires exact method-signature matches for
// interface satisfaction.
type sessionSender struct {
	sessions *session.Manager
}

func (s sessionSender) Send(sessionID uint64, data []byte) bool {
	return s.sessions.Send(session.ID(sessionID), data)
}

func adaptSender(sessions *session.Manager) translator.Sender {
	return sessionSender{sessions: sessions}
}
