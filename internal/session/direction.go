package session

import (
	"context"

	"partyline/internal/transport"
)

// Direction records which side asked for the connection.  It is fixed
// when the session is created and is either Outbound or Inbound.
type Direction interface {
	// Identity is the remote party the session talks to.
	Identity() string
	String() string

	establish(ctx context.Context, hs transport.Handshaker) (transport.Conn, error)
	abandon()
}

// Outbound is a session this side initiates towards Peer.
type Outbound struct {
	Peer string
}

func (o Outbound) Identity() string { return o.Peer }
func (o Outbound) String() string { return "outbound" }

func (o Outbound) establish(ctx context.Context, hs transport.Handshaker) (transport.Conn, error) {
	return hs.Connect(ctx, o.Peer)
}

func (o Outbound) abandon() {}

// Inbound is a session the remote party requested.
type Inbound struct {
	Request transport.Request
}

func (i Inbound) Identity() string { return i.Request.Identity }
func (i Inbound) String() string { return "inbound" }

func (i Inbound) establish(ctx context.Context, hs transport.Handshaker) (transport.Conn, error) {
	return hs.Accept(ctx, i.Request)
}

// abandon drops a stream the requester already presented.
func (i Inbound) abandon() {
	if i.Request.Conn != nil {
		i.Request.Conn.Close()
	}
}
