package protocol

import (
	"bytes"
	"encoding/binary"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrameRoundTrip(t *testing.T) {
	p := Packet{Type: TypeAction, Payload: []byte{1, 0, 0, 0, ActionMoveUp}}

	var buf bytes.Buffer
	require.NoError(t, Write(&buf, p))

	got, err := Read(&buf)
	require.NoError(t, err)
	assert.Equal(t, p, got)
	assert.Zero(t, buf.Len(), "frame should be fully consumed")
}

func TestFrameEncoding(t *testing.T) {
	raw := Encode(Packet{Type: TypeCreateRoom})
	// 4-byte LE length counting the type byte, then the type, no payload.
	assert.Equal(t, []byte{1, 0, 0, 0, TypeCreateRoom}, raw)
}

func TestReadUnknownTypePassesThrough(t *testing.T) {
	p := Packet{Type: 0xEE, Payload: []byte{1, 2, 3}}
	got, err := Read(bytes.NewReader(Encode(p)))
	require.NoError(t, err, "an unknown type code must not fail frame decoding")
	assert.Equal(t, p, got)
}

func TestReadTruncatedFrame(t *testing.T) {
	raw := Encode(Packet{Type: TypeRoomStatus, Payload: make([]byte, 8)})

	for _, cut := range []int{2, 4, 7} {
		_, err := Read(bytes.NewReader(raw[:cut]))
		require.Error(t, err, "cut at %d", cut)
		assert.NotErrorIs(t, err, ErrMalformedPacket, "a short read is a transport failure, cut at %d", cut)
	}

	// Nothing at all on the stream is a clean EOF.
	_, err := Read(bytes.NewReader(nil))
	assert.ErrorIs(t, err, io.EOF)
}

func TestReadRejectsBadLength(t *testing.T) {
	var zero [4]byte
	_, err := Read(bytes.NewReader(zero[:]))
	assert.ErrorIs(t, err, ErrMalformedPacket, "zero-length frame")

	var huge [8]byte
	binary.LittleEndian.PutUint32(huge[:4], MaxFrameSize+1)
	_, err = Read(bytes.NewReader(huge[:]))
	assert.ErrorIs(t, err, ErrMalformedPacket, "oversized frame")
}

func TestRoomListingRoundTrip(t *testing.T) {
	l := RoomListing{Rooms: []RoomInfo{
		{ID: 0, IP: [4]byte{127, 0, 0, 1}, Port: 42042, Players: 1, MaxPlayers: 4},
		{ID: 7, IP: [4]byte{192, 168, 1, 20}, Port: 61234, Players: 3, MaxPlayers: 4},
	}}

	p := l.Packet()
	require.Equal(t, TypeLobby, p.Type)
	got, err := DecodeRoomListing(p.Payload)
	require.NoError(t, err)
	assert.Equal(t, l, got)
}

func TestRoomListingEmpty(t *testing.T) {
	p := RoomListing{Rooms: []RoomInfo{}}.Packet()
	got, err := DecodeRoomListing(p.Payload)
	require.NoError(t, err)
	assert.Empty(t, got.Rooms)
}

func TestRoomListingMalformed(t *testing.T) {
	_, err := DecodeRoomListing([]byte{1, 2})
	assert.ErrorIs(t, err, ErrMalformedPacket)

	// count says two rooms, payload carries one
	p := RoomListing{Rooms: []RoomInfo{{ID: 1}}}.Packet()
	binary.LittleEndian.PutUint32(p.Payload[0:4], 2)
	_, err = DecodeRoomListing(p.Payload)
	assert.ErrorIs(t, err, ErrMalformedPacket)
}

func TestRoomStatusRoundTrip(t *testing.T) {
	s := RoomStatus{Players: 2, MaxPlayers: 4}
	p := s.Packet()
	require.Equal(t, TypeRoomStatus, p.Type)
	got, err := DecodeRoomStatus(p.Payload)
	require.NoError(t, err)
	assert.Equal(t, s, got)

	_, err = DecodeRoomStatus(p.Payload[:7])
	assert.ErrorIs(t, err, ErrMalformedPacket)
}

func TestGameInitRoundTrip(t *testing.T) {
	g := GameInit{
		PlayerIndex: 2,
		PlayerCount: 4,
		TurnMillis:  200,
		Width:       17,
		Height:      15,
		Tiles:       bytes.Repeat([]byte{TileFree, TileSoftBlock, TileHardBlock}, 85),
		Spawns: []Point{
			{X: 0, Y: 0}, {X: 16, Y: 0}, {X: 0, Y: 14}, {X: 16, Y: 14},
		},
	}
	p := g.Packet()
	require.Equal(t, TypeGameInit, p.Type)
	got, err := DecodeGameInit(p.Payload)
	require.NoError(t, err)
	assert.Equal(t, g, got)
}

func TestGameInitMalformed(t *testing.T) {
	g := GameInit{PlayerCount: 1, Width: 2, Height: 2, Tiles: make([]byte, 4), Spawns: []Point{{}}}
	p := g.Packet()

	_, err := DecodeGameInit(p.Payload[:10])
	assert.ErrorIs(t, err, ErrMalformedPacket)

	_, err = DecodeGameInit(p.Payload[:len(p.Payload)-1])
	assert.ErrorIs(t, err, ErrMalformedPacket)
}

func TestActionRequestRoundTrip(t *testing.T) {
	a := ActionRequest{Turn: 9, Action: ActionPlaceBomb}
	p := a.Packet()
	require.Equal(t, TypeAction, p.Type)
	require.Len(t, p.Payload, 5)
	got, err := DecodeActionRequest(p.Payload)
	require.NoError(t, err)
	assert.Equal(t, a, got)

	_, err = DecodeActionRequest([]byte{1, 2, 3})
	assert.ErrorIs(t, err, ErrMalformedPacket)
}

func TestActionsCommitRoundTrip(t *testing.T) {
	c := ActionsCommit{Turn: 3, Actions: []byte{ActionMoveUp, ActionPlaceBomb, ActionDoNothing, ActionDoNothing}}
	p := c.Packet()
	require.Equal(t, TypeAction, p.Type)
	got, err := DecodeActionsCommit(p.Payload)
	require.NoError(t, err)
	assert.Equal(t, c, got)
}

func TestActionsCommitMalformed(t *testing.T) {
	_, err := DecodeActionsCommit([]byte{1, 2, 3})
	assert.ErrorIs(t, err, ErrMalformedPacket)

	p := ActionsCommit{Turn: 1, Actions: []byte{ActionDoNothing}}.Packet()
	binary.LittleEndian.PutUint32(p.Payload[4:8], 5)
	_, err = DecodeActionsCommit(p.Payload)
	assert.ErrorIs(t, err, ErrMalformedPacket)
}

// The two ACTION payload shapes are told apart by length alone: a request is
// always 5 bytes, a commit at least 8.
func TestActionShapesDisjoint(t *testing.T) {
	req := ActionRequest{Turn: 1, Action: ActionMoveLeft}.Packet()
	_, err := DecodeActionsCommit(req.Payload)
	assert.Error(t, err)

	commit := ActionsCommit{Turn: 1, Actions: make([]byte, 4)}.Packet()
	_, err = DecodeActionRequest(commit.Payload)
	assert.Error(t, err)
}
