package server

import "github.com/cedricfoucault/bomberman/internal/protocol"

// Handler is what a broker variant (lobby, room) plugs into its Server to
// give accepted connections their behavior.
type Handler interface {
	// ConnOpened runs on the accept goroutine, after the connection has been
	// added to the active set and before its receive loop starts.
	ConnOpened(c *Conn)

	// HandlePacket runs on the connection's receive goroutine for every frame
	// read off the wire, known type or not.
	HandlePacket(c *Conn, p protocol.Packet)

	// ConnClosed runs exactly once per connection that was removed from the
	// active set through its own shutdown. It does not run for connections
	// torn down by Server.Shutdown.
	ConnClosed(c *Conn)
}
