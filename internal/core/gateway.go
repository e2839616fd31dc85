package core

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"partyline/internal/session"
	"partyline/internal/transport"
	"partyline/util"
)

// LoginPrompt is written to every gateway connection before the
// identity is read.
const LoginPrompt = "Please enter your nickname."

// maxNickLen bounds the identity a gateway login may claim.
const maxNickLen = 32

// Acceptor receives inbound chat requests.  *relay.Relay implements it.
type Acceptor interface {
	Accept(req transport.Request) (*session.Session, error)
}

// Gateway accepts plain TCP logins (telnet, nc) and turns each into an
// inbound chat request.  The first line a client sends is its identity
// and must arrive within LoginTimeout.
type Gateway struct {
	Address      string // ":port"
	Acceptor     Acceptor
	LoginTimeout time.Duration
	Logger       *util.Logger

	// OnListen, when set, is called with the bound address once the
	// listener is up.
	OnListen func(net.Addr)
}

// Run listens until ctx is cancelled.
func (g *Gateway) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", g.Address)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", g.Address, err)
	}
	defer ln.Close()

	g.Logger.Info("gateway listening on %s", ln.Addr())
	if g.OnListen != nil {
		g.OnListen(ln.Addr())
	}

	// Shut the listener down when the context expires.
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return fmt.Errorf("accept: %w", err)
			}
		}

		g.Logger.Verbose("connection from %s", conn.RemoteAddr())
		go g.login(conn)
	}
}

// ── Login ────────────────────────────────────────────────────────────

// bufferedConn keeps bytes the login reader buffered past the identity
// line so the session sees them.
type bufferedConn struct {
	net.Conn
	r *bufio.Reader
}

func (c *bufferedConn) Read(p []byte) (int, error) { return c.r.Read(p) }

func (g *Gateway) login(conn net.Conn) {
	timeout := g.LoginTimeout
	if timeout <= 0 {
		timeout = session.DefaultHandshakeTimeout
	}
	conn.SetDeadline(time.Now().Add(timeout)) //nolint:errcheck

	if _, err := fmt.Fprintf(conn, "%s\n", LoginPrompt); err != nil {
		conn.Close()
		return
	}

	br := bufio.NewReaderSize(conn, util.DefaultBufSize)
	line, err := br.ReadString('\n')
	if err != nil {
		g.Logger.Verbose("login from %s abandoned: %v", conn.RemoteAddr(), err)
		conn.Close()
		return
	}

	nick, err := parseNick(line)
	if err != nil {
		fmt.Fprintf(conn, "%v\n", err) //nolint:errcheck
		g.Logger.Verbose("login from %s rejected: %v", conn.RemoteAddr(), err)
		conn.Close()
		return
	}
	conn.SetDeadline(time.Time{}) //nolint:errcheck

	req := transport.Request{
		Identity: nick,
		Addr:     conn.RemoteAddr().String(),
		Conn:     &bufferedConn{Conn: conn, r: br},
	}
	if _, err := g.Acceptor.Accept(req); err != nil {
		g.Logger.Warn("login %s from %s: %v", nick, util.RemoteHost(conn), err)
	}
}

// parseNick validates a login line as an identity.
func parseNick(line string) (string, error) {
	nick := strings.TrimSpace(util.TrimLine(strings.TrimSuffix(line, "\n")))
	switch {
	case nick == "":
		return "", fmt.Errorf("a nickname is required")
	case len(nick) > maxNickLen:
		return "", fmt.Errorf("nickname longer than %d characters", maxNickLen)
	case strings.ContainsAny(nick, " \t!@*?,"):
		return "", fmt.Errorf("nickname %q contains reserved characters", nick)
	case strings.HasPrefix(nick, "."):
		return "", fmt.Errorf("nickname %q may not start with a dot", nick)
	}
	return nick, nil
}
