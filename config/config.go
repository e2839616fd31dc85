// Package config defines the runtime configuration for partyline and
// provides helpers for parsing peer and tunnel specifications.
package config

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	plerr "partyline/internal/errors"
	"partyline/util"
)

// Config holds every tuneable of one relay process.
type Config struct {
	// ── Relay ────────────────────────────────────────────────────────
	Listen               string            // gateway listen address, "" disables it
	Peers                map[string]string // identity → host:port
	Initiate             []string          // identities to open sessions to at startup
	HandshakeTimeout     time.Duration
	WriteTimeout         time.Duration
	ExitToken            string
	Farewell             string
	JoinFormat           string
	LeaveFormat          string
	MaxLineLength        int
	BroadcastConcurrency int
	BroadcastCapability  string
	ACL                  []ACLRule

	// ── Metrics ──────────────────────────────────────────────────────
	MetricsAddr string // "" disables the HTTP endpoint

	// ── SSH tunnel ───────────────────────────────────────────────────
	TunnelSpec     string // raw user@host[:port] from -T
	TunnelEnabled  bool
	TunnelUser     string
	TunnelHost     string
	TunnelPort     int
	SSHKeyPath     string
	SSHPassword    bool // true → prompt interactively
	UseSSHAgent    bool
	StrictHostKey  bool
	KnownHostsPath string

	// ── Output ───────────────────────────────────────────────────────
	ConfigFile string
	Verbose    int
	DryRun     bool
}

// ACLRule grants capabilities to identities matching Mask.
type ACLRule struct {
	Mask         string   `yaml:"mask"`
	Capabilities []string `yaml:"capabilities"`
}

// Default returns a Config populated from defaults.go.
func Default() *Config {
	return &Config{
		Peers:                make(map[string]string),
		HandshakeTimeout:     DefaultHandshakeTimeout,
		WriteTimeout:         DefaultWriteTimeout,
		ExitToken:            DefaultExitToken,
		Farewell:             DefaultFarewell,
		JoinFormat:           DefaultJoinFormat,
		LeaveFormat:          DefaultLeaveFormat,
		MaxLineLength:        DefaultMaxLineLength,
		BroadcastConcurrency: DefaultBroadcastConcurrency,
		BroadcastCapability:  DefaultBroadcastCapability,
		Verbose:              DefaultVerbosity,
	}
}

// PeerIdentities returns the configured peer identities, sorted.
func (c *Config) PeerIdentities() []string {
	ids := make([]string, 0, len(c.Peers))
	for id := range c.Peers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ── Peer-spec parser ─────────────────────────────────────────────────

// ParsePeerSpec splits "alice=10.0.0.7:5000" into identity and address.
func ParsePeerSpec(spec string) (identity, addr string, err error) {
	identity, addr, ok := strings.Cut(spec, "=")
	identity = strings.TrimSpace(identity)
	addr = strings.TrimSpace(addr)
	if !ok || identity == "" || addr == "" {
		return "", "", fmt.Errorf("invalid peer spec %q – expected identity=host:port", spec)
	}
	if _, _, err := util.SplitAddr(addr); err != nil {
		return "", "", fmt.Errorf("invalid peer address for %s: %w", identity, err)
	}
	return identity, addr, nil
}

// ── Tunnel-spec parser ───────────────────────────────────────────────

// tunnelRe matches [user@]host[:port].
var tunnelRe = regexp.MustCompile(`^(?:([^@]+)@)?([^:]+)(?::(\d+))?$`)

// ParseTunnelSpec extracts user, host, and port from a string such as
// "admin@bastion.example.com:2222".  Port defaults to 22.
func ParseTunnelSpec(spec string) (user, host string, port int, err error) {
	m := tunnelRe.FindStringSubmatch(spec)
	if m == nil {
		return "", "", 0, fmt.Errorf("invalid tunnel spec %q – expected [user@]host[:port]", spec)
	}
	user = m[1]
	host = m[2]
	port = DefaultSSHPort
	if m[3] != "" {
		port, err = strconv.Atoi(m[3])
		if err != nil || port < 1 || port > 65535 {
			return "", "", 0, fmt.Errorf("invalid tunnel port %q", m[3])
		}
	}
	if host == "" {
		return "", "", 0, fmt.Errorf("tunnel host is required")
	}
	return user, host, port, nil
}

// ApplyTunnelSpec parses TunnelSpec into the Tunnel* fields.
func (c *Config) ApplyTunnelSpec() error {
	if c.TunnelSpec == "" {
		return nil
	}
	user, host, port, err := ParseTunnelSpec(c.TunnelSpec)
	if err != nil {
		return err
	}
	c.TunnelEnabled = true
	c.TunnelUser = user
	c.TunnelHost = host
	c.TunnelPort = port
	return nil
}

// ── Validation ───────────────────────────────────────────────────────

// Validate checks that the configuration is internally consistent.
func (c *Config) Validate() error {
	if c.Listen == "" && len(c.Initiate) == 0 {
		return &plerr.ConfigError{
			Field:   "listen",
			Message: "nothing to do: no listen address and no peers to initiate",
			Hint:    "use -l :7000 to accept logins, or --initiate alice with --peer alice=host:port",
		}
	}
	if c.Listen != "" {
		if _, _, err := util.SplitListenAddr(c.Listen); err != nil {
			return &plerr.ConfigError{Field: "listen", Value: c.Listen, Message: err.Error()}
		}
	}
	for _, id := range c.Initiate {
		if _, ok := c.Peers[id]; !ok {
			return &plerr.ConfigError{
				Field:   "initiate",
				Value:   id,
				Message: "no address known for this identity",
				Hint:    fmt.Sprintf("add --peer %s=host:port", id),
			}
		}
	}
	if c.HandshakeTimeout <= 0 {
		return &plerr.ConfigError{
			Field:   "handshake-timeout",
			Value:   c.HandshakeTimeout,
			Message: "must be positive",
			Hint:    "use -w 30s",
		}
	}
	if c.WriteTimeout < 0 {
		return &plerr.ConfigError{Field: "write-timeout", Value: c.WriteTimeout, Message: "must not be negative"}
	}
	if strings.TrimSpace(c.ExitToken) == "" || strings.ContainsAny(c.ExitToken, " \t") {
		return &plerr.ConfigError{Field: "exit-token", Value: c.ExitToken, Message: "must be a single non-empty word"}
	}
	for field, f := range map[string]string{"join-format": c.JoinFormat, "leave-format": c.LeaveFormat} {
		if strings.Count(f, "%s") != 1 || strings.Count(f, "%") != 1 {
			return &plerr.ConfigError{
				Field:   field,
				Value:   f,
				Message: "must contain exactly one %s for the identity",
			}
		}
	}
	if c.MaxLineLength < util.DefaultBufSize {
		return &plerr.ConfigError{
			Field:   "max-line",
			Value:   c.MaxLineLength,
			Message: fmt.Sprintf("must be at least %d bytes", util.DefaultBufSize),
		}
	}
	if c.BroadcastConcurrency < 1 {
		return &plerr.ConfigError{Field: "broadcast-concurrency", Value: c.BroadcastConcurrency, Message: "must be at least 1"}
	}
	for _, r := range c.ACL {
		if r.Mask == "" || len(r.Capabilities) == 0 {
			return &plerr.ConfigError{
				Field:   "acl",
				Value:   r.Mask,
				Message: "every rule needs a mask and at least one capability",
			}
		}
	}
	if c.TunnelEnabled && c.TunnelHost == "" {
		return &plerr.ConfigError{Field: "tunnel", Message: "tunnel host is required"}
	}
	return nil
}
