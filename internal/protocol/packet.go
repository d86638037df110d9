// Package protocol implements the length-prefixed binary wire format spoken
// between clients, the lobby and the rooms.
//
// A frame on the wire is:
//
//	length:uint32 (little endian, counts every byte after itself)
//	type:byte
//	payload:byte[length-1]
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Packet type codes.
const (
	TypeLobby      byte = 1  // server -> client, room listing
	TypeCreateRoom byte = 15 // client -> lobby, empty payload
	TypeRoomStatus byte = 21 // room -> client while waiting
	TypeGameInit   byte = 32 // room -> client, once, at game start
	TypeAction     byte = 42 // both directions, request or commit by length
)

// MaxFrameSize bounds the length field accepted from the wire so a corrupt
// or hostile peer cannot make Read allocate arbitrary amounts of memory.
const MaxFrameSize = 1 << 20

var ErrMalformedPacket = errors.New("protocol: malformed packet payload")

// Packet is one typed frame. It carries the raw payload; interpreting the
// payload is a separate, optional step so that unknown types can be read off
// the stream (keeping it in sync) and then ignored.
type Packet struct {
	Type    byte
	Payload []byte
}

// Encode renders the full frame, length prefix included.
func Encode(p Packet) []byte {
	buf := make([]byte, 4+1+len(p.Payload))
	binary.LittleEndian.PutUint32(buf[0:4], uint32(1+len(p.Payload)))
	buf[4] = p.Type
	copy(buf[5:], p.Payload)
	return buf
}

// Write sends one frame. The caller is responsible for serializing writers;
// Write itself performs a single w.Write so a frame is never interleaved at
// this layer.
func Write(w io.Writer, p Packet) error {
	if _, err := w.Write(Encode(p)); err != nil {
		return fmt.Errorf("protocol: write frame: %w", err)
	}
	return nil
}

// Read consumes exactly one frame from r. A connection closed or reset before
// the full frame arrived surfaces as the underlying transport error
// (io.EOF only when zero bytes of the frame were read, io.ErrUnexpectedEOF
// otherwise). An unknown type code is not an error here.
func Read(r io.Reader) (Packet, error) {
	var head [4]byte
	if _, err := io.ReadFull(r, head[:]); err != nil {
		return Packet{}, err
	}
	length := binary.LittleEndian.Uint32(head[:])
	if length == 0 || length > MaxFrameSize {
		return Packet{}, fmt.Errorf("%w: frame length %d", ErrMalformedPacket, length)
	}
	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return Packet{}, err
	}
	return Packet{Type: body[0], Payload: body[1:]}, nil
}
