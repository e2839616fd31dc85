package config

import "time"

// ── Default values ───────────────────────────────────────────────────
//
// All tuneable defaults live here so they are easy to audit and reuse
// across CLI flags, config file parsing, and environment variable
// loading.

const (
	// DefaultSSHPort is the standard SSH port.
	DefaultSSHPort = 22

	// DefaultHandshakeTimeout bounds every session handshake.
	DefaultHandshakeTimeout = 30 * time.Second

	// DefaultWriteTimeout bounds a single line write to one peer.
	DefaultWriteTimeout = 10 * time.Second

	// DefaultConnTimeout is the SSH gateway connection timeout.
	DefaultConnTimeout = 30 * time.Second

	// DefaultExitToken is the line that leaves the party line.
	DefaultExitToken = ".exit"

	// DefaultFarewell is sent to a peer that leaves.
	DefaultFarewell = "Goodbye."

	// DefaultJoinFormat and DefaultLeaveFormat take the identity.
	DefaultJoinFormat  = "%s has joined the party line"
	DefaultLeaveFormat = "%s has left the party line"

	// DefaultMaxLineLength caps one received line.
	DefaultMaxLineLength = 4096

	// DefaultBroadcastConcurrency limits recipient writes in flight per
	// broadcast.
	DefaultBroadcastConcurrency = 32

	// DefaultBroadcastCapability gates restricted broadcasts.
	DefaultBroadcastCapability = "broadcast"

	// DefaultVerbosity prints Info and Warn.
	DefaultVerbosity = 1

	// DefaultGracePeriod is how long shutdown waits for the metrics
	// server to drain.
	DefaultGracePeriod = 5 * time.Second
)
