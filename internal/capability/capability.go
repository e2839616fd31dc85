// Package capability defines what the party line does with the lines
// it receives and who may do what.  Chat is the default message
// handler; ACL is the default authorizer.  Both plug into the relay
// through its Handler and Authorizer interfaces, which keeps them
// testable without a transport.
package capability

import (
	"partyline/internal/relay"
	"partyline/internal/session"
)

// Party is the part of the relay a handler talks back to.
type Party interface {
	Broadcast(message string, restrictToAuthorized bool) int
	BroadcastExcept(from *session.Session, message string) int
	Identities() []string
}

var (
	_ Party            = (*relay.Relay)(nil)
	_ relay.Handler    = (*Chat)(nil)
	_ relay.Authorizer = (*ACL)(nil)
)
