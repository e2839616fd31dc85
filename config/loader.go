package config

// loader.go - configuration loading from environment variables.
//
// Precedence order (highest wins):
//   1. CLI flags  (handled by cmd/root.go)
//   2. Environment variables  (this file)
//   3. Config file  (file.go)
//   4. Defaults   (defaults.go)

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// ── Environment variable mapping ─────────────────────────────────────
//
// Every supported env var uses the PARTYLINE_ prefix.  Boolean values
// accept "1", "true", "yes" (case-insensitive).  Durations accept Go
// syntax ("30s") or a bare number of seconds.

// LoadFromEnv overlays environment variables onto cfg.  Only non-empty
// env vars override the existing value.  This should be called BEFORE
// CLI flag parsing so that flags take precedence.
func LoadFromEnv(cfg *Config) {
	if v := os.Getenv("PARTYLINE_LISTEN"); v != "" {
		cfg.Listen = v
	}
	if v := os.Getenv("PARTYLINE_PEERS"); v != "" {
		// comma-separated identity=host:port pairs
		for _, spec := range strings.Split(v, ",") {
			if id, addr, err := ParsePeerSpec(spec); err == nil {
				if cfg.Peers == nil {
					cfg.Peers = make(map[string]string)
				}
				cfg.Peers[id] = addr
			}
		}
	}
	if v := os.Getenv("PARTYLINE_INITIATE"); v != "" {
		cfg.Initiate = splitList(v)
	}
	if v := envDuration("PARTYLINE_HANDSHAKE_TIMEOUT"); v > 0 {
		cfg.HandshakeTimeout = v
	}
	if v := envDuration("PARTYLINE_WRITE_TIMEOUT"); v > 0 {
		cfg.WriteTimeout = v
	}
	if v := os.Getenv("PARTYLINE_EXIT_TOKEN"); v != "" {
		cfg.ExitToken = v
	}
	if v := os.Getenv("PARTYLINE_FAREWELL"); v != "" {
		cfg.Farewell = v
	}
	if v := envInt("PARTYLINE_MAX_LINE"); v > 0 {
		cfg.MaxLineLength = v
	}
	if v := envInt("PARTYLINE_BROADCAST_CONCURRENCY"); v > 0 {
		cfg.BroadcastConcurrency = v
	}
	if v := os.Getenv("PARTYLINE_METRICS"); v != "" {
		cfg.MetricsAddr = v
	}

	// SSH tunnel
	if v := os.Getenv("PARTYLINE_TUNNEL"); v != "" {
		cfg.TunnelSpec = v
	}
	if v := os.Getenv("PARTYLINE_SSH_KEY"); v != "" {
		cfg.SSHKeyPath = v
	}
	if envBool("PARTYLINE_SSH_PASSWORD") {
		cfg.SSHPassword = true
	}
	if envBool("PARTYLINE_SSH_AGENT") {
		cfg.UseSSHAgent = true
	}
	if envBool("PARTYLINE_STRICT_HOSTKEY") {
		cfg.StrictHostKey = true
	}
	if v := os.Getenv("PARTYLINE_KNOWN_HOSTS"); v != "" {
		cfg.KnownHostsPath = v
	}

	// Output
	if v := os.Getenv("PARTYLINE_CONFIG"); v != "" {
		cfg.ConfigFile = v
	}
	if v := envInt("PARTYLINE_VERBOSE"); v > 0 {
		cfg.Verbose = v
	}
}

// ── helpers ──────────────────────────────────────────────────────────

func envInt(key string) int {
	v := os.Getenv(key)
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return n
}

func envBool(key string) bool {
	v := strings.ToLower(os.Getenv(key))
	return v == "1" || v == "true" || v == "yes"
}

func envDuration(key string) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return 0
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil {
		return secondsDuration(n)
	}
	return 0
}

func secondsDuration(sec int) time.Duration {
	return time.Duration(sec) * time.Second
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
