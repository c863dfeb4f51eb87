// Package server implements the accept loop, per-connection multiplexing,
// request dispatch, and graceful shutdown of the agent transport.
//
// Request processing pipeline:
//
//	Accept conn → conn.serve (single goroutine reads frames)
//	  → for each request: go conn.handleRequest (parallel processing)
//	    → codec decode → middleware chain → method handler
//	    → response enqueued on the connection's write queue → writer flushes
//
// The method table is frozen at Start and shared read-only by every
// connection, so dispatch needs no locking. Shutdown is two distinct steps:
// StopListen stops accepting while handing back live listener descriptors,
// Disconnect broadcasts a stop signal and blocks until every in-flight
// request on every connection has finished.
package server

import (
	"context"
	"net"
	"os"
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/net/netutil"

	"agentrpc/message"
	"agentrpc/middleware"
	"agentrpc/sock"
	"agentrpc/status"
)

// Handler is the calling contract every registered method satisfies.
type Handler = middleware.Handler

const defaultQueueDepth = 32

// Server accepts connections on one or more bound addresses and serves
// requests against an immutable method table.
type Server struct {
	logger     logrus.FieldLogger
	queueDepth int
	maxConns   int

	mu          sync.Mutex
	methods     map[string]Handler
	middlewares []middleware.Middleware
	invoke      Handler
	listeners   []net.Listener // accept side, possibly connection-capped
	raw         []net.Listener // unwrapped, for descriptor duplication
	files       []*os.File
	started     bool
	stopped     bool

	stopListen chan struct{} // closed by StopListen; accept loops exit
	disconnect chan struct{} // closed by Disconnect; every conn and request observes it
	discOnce   sync.Once

	// wg counts connection handlers plus their per-request units. A
	// connection's own token is taken before its first request can add one,
	// so the counter never touches zero while requests can still appear and
	// Disconnect's Wait races no bare Add.
	wg       sync.WaitGroup
	acceptWG sync.WaitGroup
}

// Option configures a Server.
type Option func(*Server)

// WithLogger replaces the default logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(s *Server) { s.logger = l }
}

// WithQueueDepth sets the per-connection outbound frame queue capacity.
func WithQueueDepth(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.queueDepth = n
		}
	}
}

// WithMaxConns caps concurrently accepted connections per listener.
func WithMaxConns(n int) Option {
	return func(s *Server) { s.maxConns = n }
}

// NewServer creates a server with an empty method table.
func NewServer(opts ...Option) *Server {
	s := &Server{
		logger:     logrus.StandardLogger().WithField("source", "agentrpc"),
		queueDepth: defaultQueueDepth,
		methods:    make(map[string]Handler),
		stopListen: make(chan struct{}),
		disconnect: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Bind parses a scheme-qualified address (unix:// or vsock://) and adds a
// listener for it.
func (s *Server) Bind(address string) error {
	l, err := sock.Listen(address)
	if err != nil {
		return err
	}
	return s.AddListener(l)
}

// AddListener adds an already-bound listener, e.g. one inherited through
// socket activation.
func (s *Server) AddListener(l net.Listener) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		l.Close()
		return errors.New("server: cannot add listener after Start")
	}
	// The connection-cap wrapper hides the raw descriptor, so the unwrapped
	// listener is kept alongside for StopListen's duplication.
	s.raw = append(s.raw, l)
	if s.maxConns > 0 {
		l = netutil.LimitListener(l, s.maxConns)
	}
	s.listeners = append(s.listeners, l)
	return nil
}

// RegisterService adds a service's methods to the table under
// "/<service>/<method>". Registration is construction-time only: once Start
// has run, the table is immutable and further registration is an error.
func (s *Server) RegisterService(service string, methods map[string]Handler) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return errors.New("server: cannot register service after Start")
	}
	for name, h := range methods {
		if h == nil {
			return errors.Errorf("server: nil handler for /%s/%s", service, name)
		}
		path := "/" + service + "/" + name
		if _, dup := s.methods[path]; dup {
			return errors.Errorf("server: duplicate handler for %s", path)
		}
		s.methods[path] = h
	}
	return nil
}

// Use appends a middleware. Like registration, only valid before Start.
func (s *Server) Use(mw middleware.Middleware) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return errors.New("server: cannot add middleware after Start")
	}
	s.middlewares = append(s.middlewares, mw)
	return nil
}

// Start freezes the method table and begins accepting on every bound
// listener. It does not block; use Shutdown to stop.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return errors.New("server: already started")
	}
	if len(s.listeners) == 0 {
		return errors.New("server: no listeners bound")
	}
	s.started = true
	s.invoke = middleware.Chain(s.middlewares...)(s.dispatch)
	for _, l := range s.listeners {
		s.acceptWG.Add(1)
		go s.acceptLoop(l)
	}
	return nil
}

// dispatch resolves the path in the frozen method table and invokes the
// handler. It sits at the center of the middleware onion.
func (s *Server) dispatch(ctx context.Context, req *message.Request) ([]byte, error) {
	h, ok := s.methods[req.Path()]
	if !ok {
		return nil, status.Newf(status.InvalidArgument, "%s does not exist", req.Path())
	}
	return h(ctx, req)
}

func (s *Server) acceptLoop(l net.Listener) {
	defer s.acceptWG.Done()
	for {
		nc, err := l.Accept()
		if err != nil {
			// StopListen closes the listener after duplicating its
			// descriptor; the resulting Accept error is the exit signal.
			select {
			case <-s.stopListen:
				return
			default:
			}
			s.logger.WithError(err).Error("accept failed")
			return
		}
		s.wg.Add(1)
		go newConn(s, nc).serve()
	}
}

// StopListen stops accepting new connections without touching the ones
// already open. Each listening socket is duplicated before its wrapper is
// closed, so the server keeps owning bound descriptors afterwards (see
// ListenerFiles); useful for socket-activation style handoff.
func (s *Server) StopListen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return errors.New("server: not started")
	}
	if s.stopped {
		return nil
	}
	s.stopped = true
	close(s.stopListen)
	for i, l := range s.listeners {
		f, err := sock.DupFile(s.raw[i])
		if err != nil {
			s.logger.WithError(err).Warn("listener descriptor not recoverable")
		} else {
			s.files = append(s.files, f)
		}
		l.Close()
	}
	s.acceptWG.Wait()
	return nil
}

// ListenerFiles returns the duplicated listener descriptors recovered by
// StopListen. The caller owns them once retrieved.
func (s *Server) ListenerFiles() []*os.File {
	s.mu.Lock()
	defer s.mu.Unlock()
	files := make([]*os.File, len(s.files))
	copy(files, s.files)
	return files
}

// Disconnect broadcasts the stop signal to every connection and in-flight
// request, then blocks until all of them have reached a terminal state.
// Requests already executing either complete or are abandoned without a
// wire write; nothing is written after Disconnect returns.
//
// Callers who still have listeners accepting should StopListen first (or
// call Shutdown, which sequences both).
func (s *Server) Disconnect() {
	s.discOnce.Do(func() { close(s.disconnect) })
	s.wg.Wait()
}

// Shutdown stops listening, then disconnects everyone and drains.
func (s *Server) Shutdown() error {
	err := s.StopListen()
	s.Disconnect()
	return err
}
