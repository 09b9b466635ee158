// Command balancer runs the session-manager + envelope stack with no job
// pool of its own: it answers SuppLangRequest directly from a seeded
// language registry, and forwards translation and processor requests on to
// a configured decoder or processor address, routing their responses back
// to the originating client by job id / job token.
//
// Grounded on original_source/inc/balancer/language_registry.hpp (the
// balancer as a supported-languages responder). balancer, processor, and
// decoder are sibling roles sharing one control plane.
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
	"github.com/bpbd-project/bpbd/pkg/langreg"
	"github.com/bpbd-project/bpbd/pkg/session"
	"github.com/bpbd-project/bpbd/pkg/transport"
	"github.com/bpbd-project/bpbd/pkg/version"
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
		slog.Error("balancer exited with error", "error", err)
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

// router tracks the in-flight requests the balancer has forwarded upstream,
// so a decoder or processor response can be routed back to the client
// handle that originated it. Keyed separately per message kind since
// translation jobs correlate on a uint64 job id and processor jobs on a
// string job token.
type router struct {
	mu         sync.Mutex
	byJobID    map[uint64]session.Handle
	byJobToken map[string]session.Handle
}

func newRouter() *router {
	return &router{
		byJobID:    make(map[uint64]session.Handle),
		byJobToken: make(map[string]session.Handle),
	}
}

func (r *router) putJobID(id uint64, h session.Handle) {
	r.mu.Lock()
	r.byJobID[id] = h
	r.mu.Unlock()
}

func (r *router) takeJobID(id uint64) (session.Handle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.byJobID[id]
	delete(r.byJobID, id)
	return h, ok
}

func (r *router) putJobToken(token string, h session.Handle) {
	r.mu.Lock()
	r.byJobToken[token] = h
	r.mu.Unlock()
}

func (r *router) takeJobToken(token string) (session.Handle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.byJobToken[token]
	delete(r.byJobToken, token)
	return h, ok
}

// lookupJobToken returns the route for token without removing it, for a
// processor response that is one chunk of a larger stream.
func (r *router) lookupJobToken(token string) (session.Handle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.byJobToken[token]
	return h, ok
}

// forgetHandle drops every route pointing at h, called on client
// disconnect so a late upstream response finds nothing to deliver to.
func (r *router) forgetHandle(h session.Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, v := range r.byJobID {
		if v == h {
			delete(r.byJobID, id)
		}
	}
	for tok, v := range r.byJobToken {
		if v == h {
			delete(r.byJobToken, tok)
		}
	}
}

func run(ctx context.Context, configPath string) error {
	slog.Info("starting", "app", version.Full())

	cfg, err := config.Initialize(ctx, configPath)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	if cfg.Balancer == nil {
		return fmt.Errorf("missing required [balancer] section")
	}

	registry := langreg.New()
	for src, targets := range cfg.Balancer.Languages {
		registry.RegisterUID(src)
		for _, tgt := range targets {
			registry.RegisterUID(tgt)
		}
	}
	slog.Info("languages seeded", "count", registry.Size())

	tlsCfg, err := cfg.TLSConfig()
	if err != nil {
		return fmt.Errorf("building TLS config: %w", err)
	}

	routes := newRouter()
	// sessions, srv, decoder, and processor are all assigned once, below,
	// before any connection can actually fire an event that reaches these
	// closures — Go closures observe the variable, not a snapshot of it.
	// srv must be forward-declared too since its own OnMessage handler
	// needs to refer back to it.
	var sessions *session.Manager
	var srv *transport.Server
	var decoder, processor *transport.Client

	srv = transport.New(transport.Handlers{
		OnOpen: func(handle session.Handle) {
			sessions.Open(handle)
		},
		OnClose: func(handle session.Handle) {
			sessions.Close(handle)
			routes.forgetHandle(handle)
		},
		OnFail: func(handle session.Handle, err error) {
			slog.Warn("connection failed", "error", err)
		},
		OnMessage: func(handle session.Handle, data []byte) {
			handleClientMessage(srv, cfg.Balancer.Languages, routes, decoder, processor, handle, data)
		},
	}, tlsCfg)
	sessions = session.NewManager(srv)

	if addr := cfg.Balancer.DecoderAddr; addr != "" {
		decoder, err = transport.Dial(ctx, addr, func(data []byte) {
			handleUpstreamResponse(srv, routes, data)
		})
		if err != nil {
			return fmt.Errorf("dialing decoder at %s: %w", addr, err)
		}
		defer decoder.Close()
	}
	if addr := cfg.Balancer.ProcessorAddr; addr != "" {
		processor, err = transport.Dial(ctx, addr, func(data []byte) {
			handleUpstreamResponse(srv, routes, data)
		})
		if err != nil {
			return fmt.Errorf("dialing processor at %s: %w", addr, err)
		}
		defer processor.Close()
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

func handleClientMessage(srv *transport.Server, langs map[string][]string, routes *router, decoder, processor *transport.Client, handle session.Handle, data []byte) {
	e, err := envelope.Parse(data)
	if err != nil {
		slog.Error("malformed frame", "error", err)
		return
	}
	if err := e.VerifyVersion(); err != nil {
		slog.Error("protocol mismatch", "error", err)
		return
	}

	switch e.MsgType() {
	case envelope.MsgSuppLangRequest:
		resp := envelope.SuppLangResponse{Langs: langs}
		re, err := resp.Encode()
		if err != nil {
			return
		}
		out, err := re.Serialize()
		if err != nil {
			return
		}
		srv.Send(handle, out)

	case envelope.MsgTranslationJobRequest:
		req, err := envelope.DecodeTranslationJobRequest(e)
		if err != nil {
			slog.Error("missing field", "error", err)
			return
		}
		if decoder == nil || !decoder.Send(data) {
			sendTranslationError(srv, handle, req.JobID, "no decoder available")
			return
		}
		routes.putJobID(req.JobID, handle)

	case envelope.MsgProcessorRequest:
		req, err := envelope.DecodeProcessorRequest(e)
		if err != nil {
			slog.Error("missing field", "error", err)
			return
		}
		if processor == nil || !processor.Send(data) {
			sendProcessorError(srv, handle, req.JobToken, "no processor available")
			return
		}
		routes.putJobToken(req.JobToken, handle)

	default:
		slog.Warn("unexpected message type", "msg_type", e.MsgType())
	}
}

// handleUpstreamResponse routes a decoder or processor response back to
// the client handle that originated the request, by job id or job token.
func handleUpstreamResponse(srv *transport.Server, routes *router, data []byte) {
	e, err := envelope.Parse(data)
	if err != nil {
		slog.Error("malformed upstream frame", "error", err)
		return
	}

	switch e.MsgType() {
	case envelope.MsgTranslationJobResponse:
		resp, err := envelope.DecodeTranslationJobResponse(e)
		if err != nil {
			return
		}
		if handle, ok := routes.takeJobID(resp.JobID); ok {
			srv.Send(handle, data)
		}

	case envelope.MsgProcessorResponse:
		resp, err := envelope.DecodeProcessorResponse(e)
		if err != nil {
			return
		}

		// A processor job streams one ProcessorResponse frame per chunk
		// (see pkg/processor/job.go sendChunk); only the terminal chunk —
		// the last index of NumChunks, or any error status — should drop
		// the route, else every frame after the first finds no route and
		// is silently lost.
		code, _ := e.Status()
		terminal := code == envelope.StatusError || resp.ChunkIdx >= resp.NumChunks-1

		var handle session.Handle
		var ok bool
		if terminal {
			handle, ok = routes.takeJobToken(resp.JobToken)
		} else {
			handle, ok = routes.lookupJobToken(resp.JobToken)
		}
		if ok {
			srv.Send(handle, data)
		}

	default:
		slog.Warn("unexpected upstream message type", "msg_type", e.MsgType())
	}
}

func sendTranslationError(srv *transport.Server, handle session.Handle, jobID uint64, msg string) {
	resp := envelope.TranslationJobResponse{JobID: jobID}
	e, err := resp.Encode(envelope.StatusError, msg)
	if err != nil {
		return
	}
	out, err := e.Serialize()
	if err != nil {
		return
	}
	srv.Send(handle, out)
}

func sendProcessorError(srv *transport.Server, handle session.Handle, jobToken string, msg string) {
	resp := envelope.ProcessorResponse{JobToken: jobToken}
	e, err := resp.Encode(envelope.StatusError, msg)
	if err != nil {
		return
	}
	out, err := e.Serialize()
	if err != nil {
		return
	}
	srv.Send(handle, out)
}
