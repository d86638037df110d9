// Package room implements one game session: a waiting room that fills up,
// then a fixed-tick turn loop that aggregates one action per player per turn
// and rebroadcasts the consolidated commit.
package room

import (
	"context"
	"fmt"
	"net"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/cedricfoucault/bomberman/internal/protocol"
	"github.com/cedricfoucault/bomberman/internal/server"
	"github.com/cedricfoucault/bomberman/internal/task"
)

// Phase is the room lifecycle: Waiting until the seats fill, InGame until the
// last player leaves. There is no way back to Waiting.
type Phase int

const (
	PhaseWaiting Phase = iota
	PhaseInGame
)

// Config carries everything a room needs beyond its listening address.
type Config struct {
	MaxPlayers  int
	TurnLength  time.Duration
	BoardWidth  int
	BoardHeight int

	// DropStale, when set, discards action requests whose turn number does
	// not match the room's current turn. This is the canonical mode; turning
	// it off accepts any turn number.
	DropStale bool

	// Generate produces the flattened tile array for a fresh board.
	Generate func(width, height int) []byte

	Server server.Options
}

// Room is a short-lived broker specialization. Its Server owns the sockets;
// the Room adds the two-phase state machine and the turn clock on top.
type Room struct {
	id  uint32
	cfg Config
	log *zap.Logger
	srv *server.Server

	// onStarted tells the registry this room left the pending set. Called
	// exactly once, at the Waiting -> InGame transition.
	onStarted func(*Room)

	clock *task.Loop

	mu         sync.Mutex
	phase      Phase
	players    int
	turn       uint32
	actions    map[uint32]byte // conn id -> pending action for the current turn
	terminated bool
}

func (cfg Config) validate() error {
	if cfg.MaxPlayers < 1 || cfg.MaxPlayers > 4 {
		return fmt.Errorf("room: player count %d outside 1..4 (spawns are the four corners)", cfg.MaxPlayers)
	}
	if cfg.TurnLength <= 0 {
		return fmt.Errorf("room: turn length %v must be positive", cfg.TurnLength)
	}
	if cfg.BoardWidth < 5 || cfg.BoardHeight < 5 {
		return fmt.Errorf("room: board %dx%d too small for spawn pockets", cfg.BoardWidth, cfg.BoardHeight)
	}
	if cfg.Generate == nil {
		return fmt.Errorf("room: nil board generator")
	}
	return nil
}

// New binds the room's own listener (addr normally "<lobby ip>:0" so the OS
// picks the port). The caller starts Serve and RunClock on their own
// goroutines.
func New(parent context.Context, id uint32, addr string, cfg Config, onStarted func(*Room), log *zap.Logger) (*Room, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	r := &Room{
		id:        id,
		cfg:       cfg,
		log:       log,
		onStarted: onStarted,
		phase:     PhaseWaiting,
		actions:   make(map[uint32]byte),
	}
	srv, err := server.Listen(parent, addr, r, cfg.Server, log)
	if err != nil {
		return nil, err
	}
	r.srv = srv
	r.clock = task.NewLoop(parent)
	return r, nil
}

func (r *Room) ID() uint32 { return r.id }

// Addr is the room's own listening address, the one advertised in RoomInfo.
func (r *Room) Addr() *net.TCPAddr { return r.srv.Addr() }

// Phase is the current lifecycle phase.
func (r *Room) Phase() Phase {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.phase
}

// Turn is the current turn number (0 while waiting, 1-based in game).
func (r *Room) Turn() uint32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.turn
}

// Info snapshots the listing entry the lobby advertises for this room.
func (r *Room) Info() protocol.RoomInfo {
	addr := r.srv.Addr()
	var ip [4]byte
	if v4 := addr.IP.To4(); v4 != nil {
		copy(ip[:], v4)
	}
	r.mu.Lock()
	players := r.players
	r.mu.Unlock()
	return protocol.RoomInfo{
		ID:         r.id,
		IP:         ip,
		Port:       uint16(addr.Port),
		Players:    uint32(players),
		MaxPlayers: uint32(r.cfg.MaxPlayers),
	}
}

// Serve runs the accept loop. It returns once the room fills up (accepting
// stops) or the room shuts down.
func (r *Room) Serve() {
	r.srv.Serve()
}

// RunClock drives the fixed-period tick: status broadcasts while waiting,
// action commits in game. It exits when the room terminates.
func (r *Room) RunClock() {
	r.clock.Run(func() {
		if !r.clock.Sleep(r.cfg.TurnLength) {
			return
		}
		r.tick()
	})
}

// ConnOpened implements server.Handler. Runs on the accept goroutine, so the
// exact-fill check is naturally serialized.
func (r *Room) ConnOpened(c *server.Conn) {
	r.mu.Lock()
	r.players++
	players := r.players
	full := r.phase == PhaseWaiting && players == r.cfg.MaxPlayers
	r.mu.Unlock()
	r.log.Info("player joined", zap.Uint32("conn", c.ID()),
		zap.Int("players", players), zap.Int("max", r.cfg.MaxPlayers))
	if full {
		r.startGame()
	}
}

// HandlePacket implements server.Handler. Everything is ignored until the
// game starts; in game, ACTION requests feed the action record.
func (r *Room) HandlePacket(c *server.Conn, p protocol.Packet) {
	if p.Type != protocol.TypeAction {
		return
	}
	req, err := protocol.DecodeActionRequest(p.Payload)
	if err != nil {
		// Recoverable: the frame is already consumed, the stream is intact.
		r.log.Debug("ignoring malformed action request",
			zap.Uint32("conn", c.ID()), zap.Error(err))
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.phase != PhaseInGame {
		return
	}
	if r.cfg.DropStale && req.Turn != r.turn {
		return
	}
	// Latest submission within the turn wins. The key exists only while the
	// player is connected.
	if _, connected := r.actions[c.ID()]; connected {
		r.actions[c.ID()] = req.Action
	}
}

// ConnClosed implements server.Handler. A departed player loses its action
// slot immediately; an in-game room with nobody left terminates.
func (r *Room) ConnClosed(c *server.Conn) {
	r.mu.Lock()
	r.players--
	delete(r.actions, c.ID())
	empty := r.phase == PhaseInGame && r.players == 0 && !r.terminated
	if empty {
		r.terminated = true
	}
	players := r.players
	r.mu.Unlock()
	r.log.Info("player left", zap.Uint32("conn", c.ID()), zap.Int("players", players))
	if empty {
		r.log.Info("last player left, closing room")
		r.Shutdown()
	}
}

// startGame runs the Waiting -> InGame transition: board generation, player
// index assignment in acceptance order, one GameInit per player, registry
// notice, and the silent stop of the accept loop.
func (r *Room) startGame() {
	conns := r.srv.Conns()
	slices.SortFunc(conns, func(a, b *server.Conn) int {
		return int(a.ID()) - int(b.ID())
	})
	if len(conns) > r.cfg.MaxPlayers {
		conns = conns[:r.cfg.MaxPlayers]
	}

	w, h := r.cfg.BoardWidth, r.cfg.BoardHeight
	tiles := r.cfg.Generate(w, h)
	spawns := []protocol.Point{
		{X: 0, Y: 0},
		{X: uint32(w - 1), Y: 0},
		{X: 0, Y: uint32(h - 1)},
		{X: uint32(w - 1), Y: uint32(h - 1)},
	}
	if len(spawns) > len(conns) {
		spawns = spawns[:len(conns)]
	}

	r.mu.Lock()
	r.actions = make(map[uint32]byte, len(conns))
	for _, c := range conns {
		r.actions[c.ID()] = protocol.ActionDoNothing
	}
	r.turn = 1
	r.phase = PhaseInGame
	r.mu.Unlock()

	for i, c := range conns {
		init := protocol.GameInit{
			PlayerIndex: uint32(i),
			PlayerCount: uint32(len(conns)),
			TurnMillis:  uint32(r.cfg.TurnLength / time.Millisecond),
			Width:       uint32(w),
			Height:      uint32(h),
			Tiles:       tiles,
			Spawns:      spawns,
		}
		_ = c.Send(init.Packet())
	}

	r.log.Info("room full, game starting", zap.Int("players", len(conns)))
	if r.onStarted != nil {
		r.onStarted(r)
	}
	// Halt accepting without touching the live connections or the listener.
	r.srv.StopAccepting(false)
}

// tick is one beat of the clock: a status broadcast while waiting, an actions
// commit in game. The record lock is never held during sends.
func (r *Room) tick() {
	r.mu.Lock()
	if r.phase == PhaseWaiting {
		status := protocol.RoomStatus{
			Players:    uint32(r.players),
			MaxPlayers: uint32(r.cfg.MaxPlayers),
		}
		r.mu.Unlock()
		r.srv.Broadcast(status.Packet())
		return
	}

	if r.players == 0 {
		r.mu.Unlock()
		r.clock.Stop()
		return
	}

	// Snapshot and flush: submissions landing after this point belong to the
	// next turn.
	turn := r.turn
	record := r.actions
	r.actions = make(map[uint32]byte, len(record))
	for id := range record {
		r.actions[id] = protocol.ActionDoNothing
	}
	r.turn++
	r.mu.Unlock()

	ids := make([]uint32, 0, len(record))
	for id := range record {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	actions := make([]byte, r.cfg.MaxPlayers)
	for i := range actions {
		actions[i] = protocol.ActionDoNothing
	}
	for i, id := range ids {
		if i >= len(actions) {
			break
		}
		actions[i] = record[id]
	}

	commit := protocol.ActionsCommit{Turn: turn, Actions: actions}
	r.srv.Broadcast(commit.Packet())
}

// Shutdown stops the clock and tears the broker down, releasing the
// listening socket. Idempotent.
func (r *Room) Shutdown() {
	r.clock.Stop()
	r.srv.Shutdown()
}
