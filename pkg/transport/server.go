// Package transport adapts the core's event contract — on_open, on_close,
// on_fail, on_message, send, close, listen/start/stop — onto an
// echo/v5 HTTP server upgrading connections to WebSocket via
// github.com/coder/websocket, with TLS profile selection per §4.8.
//
// Grounded on pkg/api/handler_ws.go (echo/v5 handler upgrading via
// websocket.Accept) and pkg/events/manager.go
// (per-connection read loop, bounded-timeout writes, register/unregister
// bookkeeping).
package transport

import (
	"context"
	"crypto/tls"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/coder/websocket"
	echo "github.com/labstack/echo/v5"

	"github.com/bpbd-project/bpbd/pkg/session"
)

// writeTimeout bounds how long a single Send may block on a slow client.
const writeTimeout = 10 * time.Second

// Handlers are the four inbound events the core consumes from the
// transport. All four may be called concurrently from different
// connections' goroutines, never for the same connection.
type Handlers struct {
	OnOpen    func(handle session.Handle)
	OnClose   func(handle session.Handle)
	OnFail    func(handle session.Handle, err error)
	OnMessage func(handle session.Handle, data []byte)
}

// conn wraps one accepted WebSocket connection, providing the handle
// identity used as session.Handle.
type conn struct {
	ws     *websocket.Conn
	ctx    context.Context
	cancel context.CancelFunc
}

// Server is the transport adapter. The zero value is not usable; use New.
type Server struct {
	handlers Handlers
	tlsCfg   *tls.Config

	echo *echo.Echo
	http *http.Server

	mu    sync.RWMutex
	conns map[session.Handle]*conn
}

// New creates a Server. tlsCfg may be nil to serve plaintext (e.g. behind
// a terminating proxy in development).
func New(handlers Handlers, tlsCfg *tls.Config) *Server {
	s := &Server{
		handlers: handlers,
		tlsCfg:   tlsCfg,
		echo:     echo.New(),
		conns:    make(map[session.Handle]*conn),
	}
	s.echo.GET("/", s.wsHandler)
	return s
}

// Listen binds port without yet serving requests, so startup failures
// (port in use, permission denied) surface synchronously to the caller.
func (s *Server) Listen(port int) (net.Listener, error) {
	return net.Listen("tcp", ":"+strconv.Itoa(port))
}

// Start serves on ln until Stop is called. It blocks the calling
// goroutine; callers typically run it in its own goroutine.
func (s *Server) Start(ln net.Listener) error {
	s.http = &http.Server{
		Handler:   s.echo,
		TLSConfig: s.tlsCfg,
	}
	if s.tlsCfg != nil {
		return s.http.ServeTLS(ln, "", "")
	}
	return s.http.Serve(ln)
}

// StopListening closes the listening socket without tearing down
// existing connections. Subsequent Start calls require a fresh Listen.
func (s *Server) StopListening(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

// Stop closes every tracked connection and shuts the HTTP server down.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	conns := make([]*conn, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		_ = c.ws.Close(websocket.StatusGoingAway, "server shutting down")
	}
	return s.StopListening(ctx)
}

// Send hands data to handle's connection without blocking on a stalled
// client beyond writeTimeout. It returns false if the handle is unknown
// or the write fails.
func (s *Server) Send(handle session.Handle, data []byte) bool {
	s.mu.RLock()
	c, ok := s.conns[handle]
	s.mu.RUnlock()
	if !ok {
		return false
	}

	writeCtx, cancel := context.WithTimeout(c.ctx, writeTimeout)
	defer cancel()
	if err := c.ws.Write(writeCtx, websocket.MessageText, data); err != nil {
		return false
	}
	return true
}

// Close closes handle's connection with reason as the close message.
func (s *Server) Close(handle session.Handle, reason string) {
	s.mu.RLock()
	c, ok := s.conns[handle]
	s.mu.RUnlock()
	if !ok {
		return
	}
	_ = c.ws.Close(websocket.StatusNormalClosure, reason)
}

// wsHandler upgrades the HTTP request to a WebSocket, registers the
// connection, and runs its read loop until the socket closes.
func (s *Server) wsHandler(c *echo.Context) error {
	ws, err := websocket.Accept(c.Response(), c.Request(), &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(c.Request().Context())
	cn := &conn{ws: ws, ctx: ctx, cancel: cancel}

	s.mu.Lock()
	s.conns[cn] = cn
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.conns, cn)
		s.mu.Unlock()
		cancel()
		_ = ws.Close(websocket.StatusNormalClosure, "")
	}()

	if s.handlers.OnOpen != nil {
		s.handlers.OnOpen(cn)
	}
	defer func() {
		if s.handlers.OnClose != nil {
			s.handlers.OnClose(cn)
		}
	}()

	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			if s.handlers.OnFail != nil {
				s.handlers.OnFail(cn, err)
			}
			return nil
		}
		if s.handlers.OnMessage != nil {
			s.handlers.OnMessage(cn, data)
		}
	}
}
