package core

import (
	"context"
	"fmt"

	"partyline/config"
	"partyline/internal/capability"
	"partyline/internal/metrics"
	"partyline/internal/relay"
	"partyline/internal/retry"
	"partyline/internal/session"
	"partyline/internal/transport"
	"partyline/util"
)

// Build constructs the serve mode from the given configuration.  It is
// the single place where configuration turns into wired components.
func Build(cfg *config.Config, logger *util.Logger) (Mode, error) {
	acl, err := buildACL(cfg)
	if err != nil {
		return nil, err
	}

	collector := metrics.New()
	chat := &capability.Chat{Logger: logger.With("chat")}
	hs := buildHandshaker(cfg, logger)

	r := relay.New(context.Background(), relay.Options{
		Handshaker: hs,
		Handler:    chat,
		Authorizer: acl,
		Logger:     logger,
		Metrics:    collector,
		Config:     relayConfig(cfg),
	})
	chat.Party = r

	mode := &ServeMode{
		Relay:       r,
		Dialer:      hs.Dialer,
		Initiate:    cfg.Initiate,
		MetricsAddr: cfg.MetricsAddr,
		Metrics:     collector,
		GracePeriod: config.DefaultGracePeriod,
		Logger:      logger,
	}
	if cfg.Listen != "" {
		mode.Gateway = &Gateway{
			Address:      cfg.Listen,
			Acceptor:     r,
			LoginTimeout: cfg.HandshakeTimeout,
			Logger:       logger.With("gateway"),
		}
	}
	return mode, nil
}

// ── shared helpers ───────────────────────────────────────────────────

func relayConfig(cfg *config.Config) relay.Config {
	// --write-timeout 0 turns deadlines off; session treats 0 as unset.
	writeTimeout := cfg.WriteTimeout
	if writeTimeout == 0 {
		writeTimeout = -1
	}
	return relay.Config{
		Session: session.Config{
			HandshakeTimeout: cfg.HandshakeTimeout,
			WriteTimeout:     writeTimeout,
			ExitToken:        cfg.ExitToken,
			Farewell:         cfg.Farewell,
			MaxLineLength:    cfg.MaxLineLength,
		},
		JoinFormat:           cfg.JoinFormat,
		LeaveFormat:          cfg.LeaveFormat,
		BroadcastConcurrency: cfg.BroadcastConcurrency,
		BroadcastCapability:  cfg.BroadcastCapability,
	}
}

// buildHandshaker creates the DCC handshaker over the right dialer.
func buildHandshaker(cfg *config.Config, logger *util.Logger) *transport.DCC {
	return &transport.DCC{
		Dialer:    buildDialer(cfg, logger),
		Directory: transport.StaticDirectory(cfg.Peers),
		Backoff:   retry.DefaultBackoff(),
		Logger:    logger.With("dcc"),
	}
}

// buildDialer creates the right transport.Dialer for the given config.
func buildDialer(cfg *config.Config, logger *util.Logger) transport.Dialer {
	if cfg.TunnelEnabled {
		return transport.NewSSHDialer(&transport.SSHConfig{
			User:          cfg.TunnelUser,
			Host:          cfg.TunnelHost,
			Port:          cfg.TunnelPort,
			KeyPath:       cfg.SSHKeyPath,
			PromptPass:    cfg.SSHPassword,
			UseAgent:      cfg.UseSSHAgent,
			StrictHostKey: cfg.StrictHostKey,
			KnownHosts:    cfg.KnownHostsPath,
			ConnTimeout:   config.DefaultConnTimeout,
		}, logger.With("ssh"))
	}
	return &transport.TCPDialer{Timeout: cfg.HandshakeTimeout}
}

func buildACL(cfg *config.Config) (*capability.ACL, error) {
	rules := make([]capability.Rule, 0, len(cfg.ACL))
	for _, r := range cfg.ACL {
		rules = append(rules, capability.Rule{Mask: r.Mask, Capabilities: r.Capabilities})
	}
	acl, err := capability.NewACL(rules...)
	if err != nil {
		return nil, fmt.Errorf("acl: %w", err)
	}
	return acl, nil
}
