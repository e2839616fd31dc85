package relay

import "partyline/internal/session"

const (
	DefaultJoinFormat           = "%s has joined the party line"
	DefaultLeaveFormat          = "%s has left the party line"
	DefaultBroadcastConcurrency = 32
	DefaultBroadcastCapability  = "broadcast"
)

// Config holds the relay tunables.
type Config struct {
	Session session.Config

	// JoinFormat and LeaveFormat take the identity as their only verb.
	JoinFormat  string
	LeaveFormat string

	// BroadcastConcurrency bounds the recipient writes in flight per
	// broadcast.
	BroadcastConcurrency int
	// BroadcastCapability is checked for restricted broadcasts.
	BroadcastCapability string
}

// DefaultConfig returns a Config with every default filled in.
func DefaultConfig() Config {
	return Config{
		Session:              session.DefaultConfig(),
		JoinFormat:           DefaultJoinFormat,
		LeaveFormat:          DefaultLeaveFormat,
		BroadcastConcurrency: DefaultBroadcastConcurrency,
		BroadcastCapability:  DefaultBroadcastCapability,
	}
}

func (c Config) withDefaults() Config {
	if c.JoinFormat == "" {
		c.JoinFormat = DefaultJoinFormat
	}
	if c.LeaveFormat == "" {
		c.LeaveFormat = DefaultLeaveFormat
	}
	if c.BroadcastConcurrency <= 0 {
		c.BroadcastConcurrency = DefaultBroadcastConcurrency
	}
	if c.BroadcastCapability == "" {
		c.BroadcastCapability = DefaultBroadcastCapability
	}
	return c
}
