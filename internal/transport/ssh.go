package transport

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"

	plerr "partyline/internal/errors"
	"partyline/internal/retry"
	"partyline/util"
)

// SSHConfig describes the SSH gateway outbound chats are dialled
// through, for peers only reachable from behind a bastion.
type SSHConfig struct {
	User          string
	Host          string
	Port          int
	KeyPath       string
	PromptPass    bool
	UseAgent      bool
	StrictHostKey bool
	KnownHosts    string
	ConnTimeout   time.Duration
}

// SSHDialer routes connections through an SSH gateway.  The gateway
// connection is opened on the first Dial, shared by every session, and
// re-opened after it drops.  Repeated gateway failures open a circuit
// breaker so a dead bastion fails sessions fast instead of stalling
// every handshake for its full timeout.
type SSHDialer struct {
	config  *SSHConfig
	logger  *util.Logger
	breaker *retry.Breaker

	mu     sync.Mutex
	client *ssh.Client
}

// NewSSHDialer returns a dialer for the gateway in cfg.
func NewSSHDialer(cfg *SSHConfig, logger *util.Logger) *SSHDialer {
	if cfg.Port == 0 {
		cfg.Port = 22
	}
	if cfg.ConnTimeout == 0 {
		cfg.ConnTimeout = 30 * time.Second
	}
	d := &SSHDialer{config: cfg, logger: logger}
	d.breaker = retry.NewBreaker(retry.BreakerConfig{
		Threshold: 3,
		Cooldown:  30 * time.Second,
		OnChange: func(from, to retry.State) {
			logger.Warn("ssh gateway %s:%d: circuit %s → %s", cfg.Host, cfg.Port, from, to)
		},
	})
	return d
}

// Dial connects to address through the gateway.
func (d *SSHDialer) Dial(ctx context.Context, network, address string) (net.Conn, error) {
	var client *ssh.Client
	err := d.breaker.Do(func() error {
		var err error
		client, err = d.gateway(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}

	d.logger.Debug("ssh gateway: dialing %s %s", network, address)
	conn, err := client.Dial(network, address)
	if err != nil {
		return nil, plerr.Wrap("dial", address, fmt.Errorf("via ssh gateway: %w", err))
	}
	return conn, nil
}

// Close tears down the gateway connection.
func (d *SSHDialer) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.client == nil {
		return nil
	}
	err := d.client.Close()
	d.client = nil
	return err
}

// gateway returns the live gateway client, connecting if needed.
func (d *SSHDialer) gateway(ctx context.Context) (*ssh.Client, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.client != nil {
		return d.client, nil
	}

	authMethods, err := BuildAuthMethods(d.config)
	if err != nil {
		return nil, plerr.WrapSSH("auth", d.config.Host, d.config.Port, err)
	}
	hkCallback, err := hostKeyCallback(d.config)
	if err != nil {
		return nil, plerr.WrapSSH("hostkey", d.config.Host, d.config.Port, err)
	}

	addr := util.FormatAddr(d.config.Host, d.config.Port)
	d.logger.Verbose("connecting to ssh gateway %s as %s", addr, d.config.User)

	dialer := net.Dialer{Timeout: d.config.ConnTimeout}
	tcpConn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, plerr.Wrap("dial", addr, err)
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(tcpConn, addr, &ssh.ClientConfig{
		User:            d.config.User,
		Auth:            authMethods,
		HostKeyCallback: hkCallback,
		Timeout:         d.config.ConnTimeout,
	})
	if err != nil {
		tcpConn.Close()
		return nil, plerr.WrapSSH("handshake", d.config.Host, d.config.Port, err)
	}

	client := ssh.NewClient(sshConn, chans, reqs)
	d.client = client
	go d.monitor(client)
	return client, nil
}

// monitor forgets client once the gateway connection ends, so the
// next Dial reconnects.
func (d *SSHDialer) monitor(client *ssh.Client) {
	err := client.Wait()

	d.mu.Lock()
	if d.client == client {
		d.client = nil
	}
	d.mu.Unlock()

	if err != nil {
		d.logger.Verbose("ssh gateway closed: %v", err)
	} else {
		d.logger.Verbose("ssh gateway closed")
	}
}
