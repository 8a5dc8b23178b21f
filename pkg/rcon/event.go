package rcon

// Event is the closed set of values delivered on Client.Events. Use a type
// switch over the concrete types below.
type Event interface {
	rconEvent()
}

// Connected is sent once the socket is ready, before any handshake.
type Connected struct {
	Addr string
}

// Authenticated is sent when the server accepted the password, or when a
// challenge token was obtained over the datagram transport.
type Authenticated struct{}

// Response is a reply addressed to the client's request id. Replies are not
// correlated to individual commands by the protocol.
type Response struct {
	Body string
}

// Broadcast is a packet carrying some other id. Servers with their console
// log redirected into the rcon stream send their own log lines this way.
type Broadcast struct {
	ID   int32
	Body string
}

// Error carries a transport, authentication or framing failure. The
// connection may still be usable after a framing error.
type Error struct {
	Err error
}

// End is sent when the connection was closed, either by the remote end or
// through Disconnect.
type End struct{}

func (Connected) rconEvent()     {}
func (Authenticated) rconEvent() {}
func (Response) rconEvent()      {}
func (Broadcast) rconEvent()     {}
func (Error) rconEvent()         {}
func (End) rconEvent()           {}
