package server

import (
	"bufio"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/cedricfoucault/bomberman/internal/protocol"
	"github.com/cedricfoucault/bomberman/internal/task"
)

// frameTimeout bounds how long a peer may take to deliver the rest of a frame
// once its first byte has arrived. The idle countdown only applies between
// frames, never inside one.
const frameTimeout = 5 * time.Second

const writeTimeout = 5 * time.Second

// Conn owns one accepted socket: a dedicated receive goroutine, a serialized
// send path, and the idle countdown. Its owning Server is the only entity that
// removes it from the active set, and does so exactly once.
type Conn struct {
	id   uint32
	sock net.Conn
	br   *bufio.Reader
	srv  *Server
	log  *zap.Logger

	pollInterval time.Duration
	idleTimeout  time.Duration
	idleLeft     time.Duration

	writeMu   sync.Mutex
	loop      *task.Loop
	closeOnce sync.Once
}

func newConn(id uint32, sock net.Conn, srv *Server) *Conn {
	c := &Conn{
		id:           id,
		sock:         sock,
		br:           bufio.NewReader(sock),
		srv:          srv,
		log:          srv.log.With(zap.Uint32("conn", id), zap.String("peer", sock.RemoteAddr().String())),
		pollInterval: srv.pollInterval,
		idleTimeout:  srv.idleTimeout,
		idleLeft:     srv.idleTimeout,
		loop:         task.NewLoop(srv.ctx),
	}
	return c
}

func (c *Conn) ID() uint32           { return c.id }
func (c *Conn) RemoteAddr() net.Addr { return c.sock.RemoteAddr() }

// start launches the receive loop. Called once, by the owning Server.
func (c *Conn) start() {
	go func() {
		c.loop.Run(c.recvStep)
		// The loop can also exit through parent context cancellation, so
		// make sure the socket is released either way.
		c.shutdown(false, true)
	}()
}

// recvStep is one poll iteration: wait up to pollInterval for the start of a
// frame, then read it whole. No traffic decrements the idle budget; a frame
// resets it.
func (c *Conn) recvStep() {
	_ = c.sock.SetReadDeadline(time.Now().Add(c.pollInterval))
	if _, err := c.br.Peek(1); err != nil {
		var nerr net.Error
		if errors.As(err, &nerr) && nerr.Timeout() {
			c.idleLeft -= c.pollInterval
			if c.idleLeft < 0 {
				c.log.Info("idle timeout, reaping connection",
					zap.Duration("timeout", c.idleTimeout))
				c.shutdown(false, true)
			}
			return
		}
		// Peer closed or reset: fatal to this connection only.
		if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
			c.log.Debug("read failed", zap.Error(err))
		}
		c.shutdown(false, true)
		return
	}

	_ = c.sock.SetReadDeadline(time.Now().Add(frameTimeout))
	p, err := protocol.Read(c.br)
	if err != nil {
		// A malformed length prefix means the stream can no longer be
		// trusted to stay framed, so it is fatal too.
		c.log.Debug("dropping connection mid-frame", zap.Error(err))
		c.shutdown(false, true)
		return
	}
	c.idleLeft = c.idleTimeout
	c.srv.handler.HandlePacket(c, p)
}

// Send writes one frame to the peer. A per-connection mutex guarantees at
// most one writer on the socket, so a broadcast and a direct reply can never
// interleave bytes. A failed send shuts the connection down.
func (c *Conn) Send(p protocol.Packet) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.sock.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := protocol.Write(c.sock, p); err != nil {
		c.log.Debug("send failed", zap.Error(err))
		c.shutdown(false, true)
		return err
	}
	return nil
}

// Shutdown closes the connection and notifies the owning broker. Idempotent,
// callable from any goroutine. With wait it blocks until the receive loop has
// fully exited.
func (c *Conn) Shutdown(wait bool) {
	c.shutdown(wait, true)
}

// ShutdownSilent closes the connection without the owner notification. Used
// when the broker is tearing everything down itself and does not want
// per-connection callbacks firing mid-teardown.
func (c *Conn) ShutdownSilent(wait bool) {
	c.shutdown(wait, false)
}

func (c *Conn) shutdown(wait, notify bool) {
	c.closeOnce.Do(func() {
		c.loop.Stop()
		_ = c.sock.Close()
		if notify {
			c.srv.removeConn(c)
		}
	})
	if wait {
		<-c.loop.Done()
	}
}
