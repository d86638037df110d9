// Package server implements the TCP connection broker shared by the lobby and
// the rooms: one owned listener, an accept loop, and the mutex-guarded set of
// live connections with broadcast over a snapshot.
package server

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/cedricfoucault/bomberman/internal/protocol"
	"github.com/cedricfoucault/bomberman/internal/task"
)

const (
	// DefaultPollInterval is how often the accept and receive loops wake up
	// to check for cancellation; it also bounds shutdown latency.
	DefaultPollInterval = 500 * time.Millisecond

	// DefaultIdleTimeout is how long a connection may stay silent before it
	// is reaped.
	DefaultIdleTimeout = 600 * time.Second
)

// Options tune a broker. Zero values fall back to the defaults above.
type Options struct {
	PollInterval time.Duration
	IdleTimeout  time.Duration
}

func (o Options) withDefaults() Options {
	if o.PollInterval <= 0 {
		o.PollInterval = DefaultPollInterval
	}
	if o.IdleTimeout <= 0 {
		o.IdleTimeout = DefaultIdleTimeout
	}
	return o
}

// Server is a connection broker: it owns one listening socket, accepts
// connections into Conn handles, and keeps the active set. The lobby registry
// and each room hold one by composition and differ only in their Handler.
type Server struct {
	ln      *net.TCPListener
	handler Handler
	log     *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	pollInterval time.Duration
	idleTimeout  time.Duration

	mu         sync.Mutex
	conns      map[uint32]*Conn
	nextConnID uint32

	accept    *task.Loop
	closeOnce sync.Once
}

// Listen binds addr and returns a broker ready to Serve. The listener is
// owned by the returned Server until Shutdown.
func Listen(parent context.Context, addr string, h Handler, opts Options, log *zap.Logger) (*Server, error) {
	ln, err := net.Listen("tcp4", addr)
	if err != nil {
		return nil, err
	}
	opts = opts.withDefaults()
	ctx, cancel := context.WithCancel(parent)
	s := &Server{
		ln:           ln.(*net.TCPListener),
		handler:      h,
		log:          log,
		ctx:          ctx,
		cancel:       cancel,
		pollInterval: opts.PollInterval,
		idleTimeout:  opts.IdleTimeout,
		conns:        make(map[uint32]*Conn),
	}
	s.accept = task.NewLoop(ctx)
	return s, nil
}

// Addr is the bound listening address.
func (s *Server) Addr() *net.TCPAddr {
	return s.ln.Addr().(*net.TCPAddr)
}

// Serve runs the accept loop until StopAccepting or Shutdown. Run it on its
// own goroutine.
func (s *Server) Serve() {
	s.accept.Run(s.acceptStep)
}

func (s *Server) acceptStep() {
	_ = s.ln.SetDeadline(time.Now().Add(s.pollInterval))
	sock, err := s.ln.Accept()
	if err != nil {
		var nerr net.Error
		if errors.As(err, &nerr) && nerr.Timeout() {
			return
		}
		if !errors.Is(err, net.ErrClosed) && !s.accept.Stopping() {
			s.log.Warn("accept failed", zap.Error(err))
		}
		return
	}
	if tcp, ok := sock.(*net.TCPConn); ok {
		_ = tcp.SetNoDelay(true)
	}

	s.mu.Lock()
	s.nextConnID++
	c := newConn(s.nextConnID, sock, s)
	s.conns[c.id] = c
	s.mu.Unlock()

	s.log.Debug("accepted connection", zap.Uint32("conn", c.id),
		zap.String("peer", sock.RemoteAddr().String()))
	s.handler.ConnOpened(c)
	c.start()
}

// Conns is a snapshot of the active set. The lock is never held during I/O on
// the members.
func (s *Server) Conns() []*Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Conn, 0, len(s.conns))
	for _, c := range s.conns {
		out = append(out, c)
	}
	return out
}

// NumConns is the size of the active set.
func (s *Server) NumConns() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// Broadcast sends p to every active connection, best effort: a failure on one
// peer only tears that peer down and never aborts delivery to the rest.
func (s *Server) Broadcast(p protocol.Packet) {
	for _, c := range s.Conns() {
		_ = c.Send(p)
	}
}

// StopAccepting halts the accept loop but leaves the listener bound and every
// accepted connection running. A room entering its in-game phase uses this so
// late arrivals are simply never accepted.
func (s *Server) StopAccepting(wait bool) {
	if wait {
		s.accept.StopWait()
	} else {
		s.accept.Stop()
	}
}

// Shutdown stops accepting, closes every active connection, then releases the
// listening socket. Connections closed this way do not fire ConnClosed; the
// whole broker is going away.
func (s *Server) Shutdown() {
	s.closeOnce.Do(func() {
		s.accept.Stop()
		s.mu.Lock()
		conns := make([]*Conn, 0, len(s.conns))
		for _, c := range s.conns {
			conns = append(conns, c)
		}
		clear(s.conns)
		s.mu.Unlock()
		for _, c := range conns {
			c.ShutdownSilent(false)
		}
		s.cancel()
		_ = s.ln.Close()
	})
}

// removeConn is the single authority for taking a connection out of the
// active set. It reports the closure to the handler only if the connection
// was still a member, so the notification fires exactly once.
func (s *Server) removeConn(c *Conn) {
	s.mu.Lock()
	_, present := s.conns[c.id]
	delete(s.conns, c.id)
	s.mu.Unlock()
	if present {
		s.log.Debug("connection closed", zap.Uint32("conn", c.id))
		s.handler.ConnClosed(c)
	}
}
