// Package transport establishes the line streams sessions run over.
//
// A Handshaker turns a session request into a connected stream: it
// dials a peer we want to chat with, or completes a chat a peer
// offered us.  Dialers underneath handle the "how" of reaching an
// address (plain TCP, or through an SSH gateway).
package transport

import (
	"context"
	"io"
	"net"
)

// Conn is an established bidirectional stream carrying newline
// terminated text.  Implementations that also provide
// SetWriteDeadline (every net.Conn does) get bounded writes.
type Conn interface {
	io.ReadWriteCloser
}

// Request is a chat offered to us by a remote party.
type Request struct {
	// Identity keys the resulting session in the registry.
	Identity string

	// Addr is where the peer is waiting for us to connect, as sent in
	// a DCC CHAT offer.  Ignored when Conn is set.
	Addr string

	// Conn is a stream the peer already opened to us, for example
	// through the login gateway.
	Conn Conn
}

// Handshaker establishes session transports.  Both methods must give
// up when ctx is done.
type Handshaker interface {
	// Connect opens a chat we initiate with identity.
	Connect(ctx context.Context, identity string) (Conn, error)

	// Accept completes a chat offered to us.
	Accept(ctx context.Context, req Request) (Conn, error)
}

// Dialer opens outbound network connections.
type Dialer interface {
	// Dial establishes a connection to the given network address.
	Dial(ctx context.Context, network, address string) (net.Conn, error)

	// Close releases any long-lived resources held by the dialer
	// (e.g. an SSH session).  Stateless dialers return nil.
	Close() error
}
