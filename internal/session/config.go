package session

import "time"

// Defaults applied by Config when a field is left zero.
const (
	DefaultHandshakeTimeout = 30 * time.Second
	DefaultWriteTimeout     = 10 * time.Second
	DefaultExitToken        = ".exit"
	DefaultFarewell         = "Goodbye."
	DefaultMaxLineLength    = 4096
)

// Config holds the per-session tunables.
type Config struct {
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration // 0 uses the default; negative disables deadlines
	ExitToken        string
	Farewell         string // empty sends nothing on exit
	MaxLineLength    int
}

// DefaultConfig returns a Config with every default filled in.
func DefaultConfig() Config {
	return Config{
		HandshakeTimeout: DefaultHandshakeTimeout,
		WriteTimeout:     DefaultWriteTimeout,
		ExitToken:        DefaultExitToken,
		Farewell:         DefaultFarewell,
		MaxLineLength:    DefaultMaxLineLength,
	}
}

func (c Config) withDefaults() Config {
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = DefaultWriteTimeout
	}
	if c.ExitToken == "" {
		c.ExitToken = DefaultExitToken
	}
	if c.MaxLineLength <= 0 {
		c.MaxLineLength = DefaultMaxLineLength
	}
	return c
}
