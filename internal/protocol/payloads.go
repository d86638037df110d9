package protocol

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// RoomInfo describes one pending room as advertised by the lobby.
type RoomInfo struct {
	ID         uint32
	IP         [4]byte // raw IPv4 octets
	Port       uint16
	Players    uint32
	MaxPlayers uint32
}

const roomInfoSize = 4 + 4 + 2 + 4 + 4

func (ri RoomInfo) append(buf *bytes.Buffer) {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], ri.ID)
	buf.Write(tmp[:])
	buf.Write(ri.IP[:])
	binary.LittleEndian.PutUint16(tmp[:2], ri.Port)
	buf.Write(tmp[:2])
	binary.LittleEndian.PutUint32(tmp[:], ri.Players)
	buf.Write(tmp[:])
	binary.LittleEndian.PutUint32(tmp[:], ri.MaxPlayers)
	buf.Write(tmp[:])
}

func decodeRoomInfo(b []byte) RoomInfo {
	var ri RoomInfo
	ri.ID = binary.LittleEndian.Uint32(b[0:4])
	copy(ri.IP[:], b[4:8])
	ri.Port = binary.LittleEndian.Uint16(b[8:10])
	ri.Players = binary.LittleEndian.Uint32(b[10:14])
	ri.MaxPlayers = binary.LittleEndian.Uint32(b[14:18])
	return ri
}

// RoomListing is the LOBBY payload: a count followed by that many RoomInfo
// records.
type RoomListing struct {
	Rooms []RoomInfo
}

func (l RoomListing) Packet() Packet {
	var buf bytes.Buffer
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], uint32(len(l.Rooms)))
	buf.Write(tmp[:])
	for _, ri := range l.Rooms {
		ri.append(&buf)
	}
	return Packet{Type: TypeLobby, Payload: buf.Bytes()}
}

func DecodeRoomListing(payload []byte) (RoomListing, error) {
	if len(payload) < 4 {
		return RoomListing{}, fmt.Errorf("%w: lobby payload %d bytes", ErrMalformedPacket, len(payload))
	}
	count := binary.LittleEndian.Uint32(payload[0:4])
	rest := payload[4:]
	if uint64(len(rest)) != uint64(count)*roomInfoSize {
		return RoomListing{}, fmt.Errorf("%w: lobby payload wants %d rooms in %d bytes", ErrMalformedPacket, count, len(rest))
	}
	l := RoomListing{Rooms: make([]RoomInfo, 0, count)}
	for i := uint32(0); i < count; i++ {
		l.Rooms = append(l.Rooms, decodeRoomInfo(rest[i*roomInfoSize:]))
	}
	return l, nil
}

// CreateRoomPacket is the empty-payload request asking the lobby to open a
// new room.
func CreateRoomPacket() Packet {
	return Packet{Type: TypeCreateRoom}
}

// RoomStatus is broadcast by a waiting room: how many seats are taken.
type RoomStatus struct {
	Players    uint32
	MaxPlayers uint32
}

func (s RoomStatus) Packet() Packet {
	payload := make([]byte, 8)
	binary.LittleEndian.PutUint32(payload[0:4], s.Players)
	binary.LittleEndian.PutUint32(payload[4:8], s.MaxPlayers)
	return Packet{Type: TypeRoomStatus, Payload: payload}
}

func DecodeRoomStatus(payload []byte) (RoomStatus, error) {
	if len(payload) != 8 {
		return RoomStatus{}, fmt.Errorf("%w: status payload %d bytes", ErrMalformedPacket, len(payload))
	}
	return RoomStatus{
		Players:    binary.LittleEndian.Uint32(payload[0:4]),
		MaxPlayers: binary.LittleEndian.Uint32(payload[4:8]),
	}, nil
}

// Point is a board coordinate.
type Point struct {
	X uint32
	Y uint32
}

// GameInit is sent once per player when a room fills up. Spawns has exactly
// PlayerCount entries, Tiles exactly Width*Height.
type GameInit struct {
	PlayerIndex uint32
	PlayerCount uint32
	TurnMillis  uint32
	Width       uint32
	Height      uint32
	Tiles       []byte
	Spawns      []Point
}

func (g GameInit) Packet() Packet {
	var buf bytes.Buffer
	var tmp [4]byte
	for _, v := range []uint32{g.PlayerIndex, g.PlayerCount, g.TurnMillis, g.Width, g.Height} {
		binary.LittleEndian.PutUint32(tmp[:], v)
		buf.Write(tmp[:])
	}
	buf.Write(g.Tiles)
	for _, p := range g.Spawns {
		binary.LittleEndian.PutUint32(tmp[:], p.X)
		buf.Write(tmp[:])
		binary.LittleEndian.PutUint32(tmp[:], p.Y)
		buf.Write(tmp[:])
	}
	return Packet{Type: TypeGameInit, Payload: buf.Bytes()}
}

func DecodeGameInit(payload []byte) (GameInit, error) {
	const headSize = 5 * 4
	if len(payload) < headSize {
		return GameInit{}, fmt.Errorf("%w: init payload %d bytes", ErrMalformedPacket, len(payload))
	}
	g := GameInit{
		PlayerIndex: binary.LittleEndian.Uint32(payload[0:4]),
		PlayerCount: binary.LittleEndian.Uint32(payload[4:8]),
		TurnMillis:  binary.LittleEndian.Uint32(payload[8:12]),
		Width:       binary.LittleEndian.Uint32(payload[12:16]),
		Height:      binary.LittleEndian.Uint32(payload[16:20]),
	}
	tileCount := uint64(g.Width) * uint64(g.Height)
	want := uint64(headSize) + tileCount + uint64(g.PlayerCount)*8
	if uint64(len(payload)) != want {
		return GameInit{}, fmt.Errorf("%w: init payload %d bytes, want %d", ErrMalformedPacket, len(payload), want)
	}
	g.Tiles = make([]byte, tileCount)
	copy(g.Tiles, payload[headSize:])
	rest := payload[uint64(headSize)+tileCount:]
	g.Spawns = make([]Point, g.PlayerCount)
	for i := range g.Spawns {
		g.Spawns[i].X = binary.LittleEndian.Uint32(rest[i*8:])
		g.Spawns[i].Y = binary.LittleEndian.Uint32(rest[i*8+4:])
	}
	return g, nil
}

// ActionRequest is a client's action for one turn: the turn it was issued on
// and a one-byte action code. Always exactly 5 payload bytes, which is what
// tells it apart from an ActionsCommit under the shared ACTION type code.
type ActionRequest struct {
	Turn   uint32
	Action byte
}

const actionRequestSize = 5

func (a ActionRequest) Packet() Packet {
	payload := make([]byte, actionRequestSize)
	binary.LittleEndian.PutUint32(payload[0:4], a.Turn)
	payload[4] = a.Action
	return Packet{Type: TypeAction, Payload: payload}
}

func DecodeActionRequest(payload []byte) (ActionRequest, error) {
	if len(payload) != actionRequestSize {
		return ActionRequest{}, fmt.Errorf("%w: action request payload %d bytes", ErrMalformedPacket, len(payload))
	}
	return ActionRequest{
		Turn:   binary.LittleEndian.Uint32(payload[0:4]),
		Action: payload[4],
	}, nil
}

// ActionsCommit is the server's consolidated per-turn broadcast: one action
// per player slot, in player-index order.
type ActionsCommit struct {
	Turn    uint32
	Actions []byte
}

func (c ActionsCommit) Packet() Packet {
	payload := make([]byte, 8+len(c.Actions))
	binary.LittleEndian.PutUint32(payload[0:4], c.Turn)
	binary.LittleEndian.PutUint32(payload[4:8], uint32(len(c.Actions)))
	copy(payload[8:], c.Actions)
	return Packet{Type: TypeAction, Payload: payload}
}

func DecodeActionsCommit(payload []byte) (ActionsCommit, error) {
	if len(payload) < 8 {
		return ActionsCommit{}, fmt.Errorf("%w: commit payload %d bytes", ErrMalformedPacket, len(payload))
	}
	count := binary.LittleEndian.Uint32(payload[4:8])
	if uint64(len(payload)) != 8+uint64(count) {
		return ActionsCommit{}, fmt.Errorf("%w: commit payload %d bytes for %d players", ErrMalformedPacket, len(payload), count)
	}
	c := ActionsCommit{Turn: binary.LittleEndian.Uint32(payload[0:4])}
	c.Actions = make([]byte, count)
	copy(c.Actions, payload[8:])
	return c, nil
}
