// Package lobby implements the long-lived registry clients first connect to:
// it tracks pending rooms, opens new ones on request, and periodically
// broadcasts the room list to everyone connected.
package lobby

import (
	"context"
	"net"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/cedricfoucault/bomberman/internal/protocol"
	"github.com/cedricfoucault/bomberman/internal/room"
	"github.com/cedricfoucault/bomberman/internal/server"
	"github.com/cedricfoucault/bomberman/internal/task"
)

// DefaultListInterval is how often the pending-room list goes out. It is
// independent of any room's turn length.
const DefaultListInterval = 500 * time.Millisecond

// Config tunes the registry and the rooms it spawns.
type Config struct {
	Room         room.Config
	ListInterval time.Duration
	Server       server.Options
}

// Registry is a broker specialization whose connections only ever trigger
// room creation; everything else inbound is ignored.
type Registry struct {
	cfg Config
	log *zap.Logger
	srv *server.Server
	ctx context.Context

	listing *task.Loop

	mu         sync.Mutex
	pending    map[uint32]*room.Room
	nextRoomID uint32
}

// New binds the registry's well-known address. Run Serve and RunListing on
// their own goroutines afterwards.
func New(ctx context.Context, addr string, cfg Config, log *zap.Logger) (*Registry, error) {
	if cfg.ListInterval <= 0 {
		cfg.ListInterval = DefaultListInterval
	}
	g := &Registry{
		cfg:     cfg,
		log:     log,
		ctx:     ctx,
		pending: make(map[uint32]*room.Room),
	}
	srv, err := server.Listen(ctx, addr, g, cfg.Server, log)
	if err != nil {
		return nil, err
	}
	g.srv = srv
	g.listing = task.NewLoop(ctx)
	return g, nil
}

// Addr is the registry's bound listening address.
func (g *Registry) Addr() *net.TCPAddr { return g.srv.Addr() }

// Serve runs the accept loop until Shutdown.
func (g *Registry) Serve() {
	g.srv.Serve()
}

// RunListing periodically broadcasts the pending-room list to every client
// connected to the registry.
func (g *Registry) RunListing() {
	g.listing.Run(func() {
		if !g.listing.Sleep(g.cfg.ListInterval) {
			return
		}
		listing := protocol.RoomListing{Rooms: g.Snapshot()}
		g.srv.Broadcast(listing.Packet())
	})
}

// ConnOpened implements server.Handler.
func (g *Registry) ConnOpened(c *server.Conn) {
	g.log.Debug("lobby client connected", zap.Uint32("conn", c.ID()))
}

// HandlePacket implements server.Handler: a CREATE_ROOM request opens a new
// room, any other packet type is ignored.
func (g *Registry) HandlePacket(c *server.Conn, p protocol.Packet) {
	if p.Type != protocol.TypeCreateRoom {
		return
	}
	if _, err := g.CreateRoom(); err != nil {
		g.log.Error("room creation failed", zap.Uint32("conn", c.ID()), zap.Error(err))
	}
}

// ConnClosed implements server.Handler.
func (g *Registry) ConnClosed(c *server.Conn) {
	g.log.Debug("lobby client disconnected", zap.Uint32("conn", c.ID()))
}

// CreateRoom allocates the next room id, binds a fresh listener on an
// OS-chosen port on the registry's interface, starts the room's accept loop
// and clock, and adds it to the pending set.
func (g *Registry) CreateRoom() (*room.Room, error) {
	g.mu.Lock()
	id := g.nextRoomID
	g.nextRoomID++
	g.mu.Unlock()

	// Rooms bind on the same interface as the lobby, OS-chosen port.
	ip := g.srv.Addr().IP
	if ip == nil || ip.IsUnspecified() {
		ip = net.IPv4zero
	}
	addr := net.JoinHostPort(ip.String(), "0")
	rm, err := room.New(g.ctx, id, addr, g.cfg.Room, g.noticeRoomStarted,
		g.log.Named("room").With(zap.Uint32("room", id)))
	if err != nil {
		return nil, err
	}
	go rm.Serve()
	go rm.RunClock()

	g.mu.Lock()
	g.pending[id] = rm
	g.mu.Unlock()
	g.log.Info("room created", zap.Uint32("room", id),
		zap.String("addr", rm.Addr().String()))
	return rm, nil
}

// noticeRoomStarted drops a room that just went in-game from the pending set,
// so it never appears in another listing broadcast.
func (g *Registry) noticeRoomStarted(rm *room.Room) {
	g.mu.Lock()
	delete(g.pending, rm.ID())
	g.mu.Unlock()
	g.log.Info("room started", zap.Uint32("room", rm.ID()))
}

// Snapshot lists the pending rooms in id order.
func (g *Registry) Snapshot() []protocol.RoomInfo {
	g.mu.Lock()
	rooms := make([]*room.Room, 0, len(g.pending))
	for _, rm := range g.pending {
		rooms = append(rooms, rm)
	}
	g.mu.Unlock()

	slices.SortFunc(rooms, func(a, b *room.Room) int {
		return int(a.ID()) - int(b.ID())
	})
	infos := make([]protocol.RoomInfo, 0, len(rooms))
	for _, rm := range rooms {
		infos = append(infos, rm.Info())
	}
	return infos
}

// Shutdown stops the listing loop, tears down every pending room, and closes
// the registry's own broker.
func (g *Registry) Shutdown() {
	g.listing.Stop()
	g.mu.Lock()
	rooms := make([]*room.Room, 0, len(g.pending))
	for _, rm := range g.pending {
		rooms = append(rooms, rm)
	}
	clear(g.pending)
	g.mu.Unlock()
	for _, rm := range rooms {
		rm.Shutdown()
	}
	g.srv.Shutdown()
}
