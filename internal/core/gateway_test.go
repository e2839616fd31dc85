package core

import (
	"bufio"
	"context"
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"partyline/internal/capability"
	"partyline/internal/relay"
	"partyline/internal/session"
	"partyline/internal/transport"
	"partyline/util"
)

// newChatRelay returns a relay running the chat handler over plain TCP.
func newChatRelay(t *testing.T, ctx context.Context) *relay.Relay {
	t.Helper()
	chat := &capability.Chat{Logger: util.NewLogger(0)}
	r := relay.New(ctx, relay.Options{
		Handshaker: &transport.DCC{Dialer: &transport.TCPDialer{Timeout: time.Second}},
		Handler:    chat,
		Logger:     util.NewLogger(0),
	})
	chat.Party = r
	t.Cleanup(r.Close)
	return r
}

// startGateway runs g until the test ends and returns its bound address.
func startGateway(t *testing.T, ctx context.Context, g *Gateway) string {
	t.Helper()
	bound := make(chan net.Addr, 1)
	g.Address = "127.0.0.1:0"
	g.Logger = util.NewLogger(0)
	g.OnListen = func(a net.Addr) { bound <- a }

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- g.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(3 * time.Second):
			t.Error("gateway did not shut down in time")
		}
	})

	select {
	case a := <-bound:
		return a.String()
	case err := <-done:
		t.Fatalf("gateway exited early: %v", err)
	case <-time.After(3 * time.Second):
		t.Fatal("gateway did not start listening")
	}
	return ""
}

// client is a telnet-style user of the gateway.
type client struct {
	conn net.Conn
	br   *bufio.Reader
}

func dialGateway(t *testing.T, addr string) *client {
	t.Helper()
	conn, err := net.DialTimeout("tcp", addr, 2*time.Second)
	if err != nil {
		t.Fatalf("dial gateway: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	c := &client{conn: conn, br: bufio.NewReader(conn)}
	c.expect(t, LoginPrompt)
	return c
}

func (c *client) write(t *testing.T, s string) {
	t.Helper()
	if _, err := io.WriteString(c.conn, s); err != nil {
		t.Fatalf("write: %v", err)
	}
}

// expect reads lines until want arrives.
func (c *client) expect(t *testing.T, want string) {
	t.Helper()
	c.conn.SetReadDeadline(time.Now().Add(3 * time.Second)) //nolint:errcheck
	for {
		line, err := c.br.ReadString('\n')
		if err != nil {
			t.Fatalf("waiting for %q: %v", want, err)
		}
		if strings.TrimRight(line, "\r\n") == want {
			return
		}
	}
}

// expectClosed reads until the gateway hangs up.
func (c *client) expectClosed(t *testing.T) {
	t.Helper()
	c.conn.SetReadDeadline(time.Now().Add(3 * time.Second)) //nolint:errcheck
	if _, err := io.ReadAll(c.br); err != nil {
		t.Fatalf("connection was not closed: %v", err)
	}
}

// TestGateway_LoginJoinsPartyLine verifies that the first line becomes
// the identity of a registered inbound session.
func TestGateway_LoginJoinsPartyLine(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	r := newChatRelay(t, ctx)
	addr := startGateway(t, ctx, &Gateway{Acceptor: r, LoginTimeout: 2 * time.Second})

	bob := dialGateway(t, addr)
	bob.write(t, "bob\n")
	bob.expect(t, "bob has joined the party line")

	// The chat line rides in the same segment as the login.
	alice := dialGateway(t, addr)
	alice.write(t, "alice\r\nhi there\n")
	bob.expect(t, "alice has joined the party line")
	bob.expect(t, "<alice> hi there")

	s, ok := r.Registry().Lookup("alice")
	if !ok {
		t.Fatal("alice is not registered")
	}
	if _, inbound := s.Direction().(session.Inbound); !inbound {
		t.Errorf("direction = %T, want session.Inbound", s.Direction())
	}
	if got := r.Identities(); strings.Join(got, ",") != "alice,bob" {
		t.Errorf("identities = %v", got)
	}
}

// TestGateway_RejectsBadNick verifies an invalid login is answered and
// hung up on without reaching the relay.
func TestGateway_RejectsBadNick(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	r := newChatRelay(t, ctx)
	addr := startGateway(t, ctx, &Gateway{Acceptor: r, LoginTimeout: 2 * time.Second})

	c := dialGateway(t, addr)
	c.write(t, "bad nick\n")
	c.expect(t, `nickname "bad nick" contains reserved characters`)
	c.expectClosed(t)

	if n := r.Registry().Len(); n != 0 {
		t.Errorf("registry holds %d sessions, want 0", n)
	}
}

// TestGateway_LoginTimeout verifies a silent client is dropped.
func TestGateway_LoginTimeout(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	r := newChatRelay(t, ctx)
	addr := startGateway(t, ctx, &Gateway{Acceptor: r, LoginTimeout: 150 * time.Millisecond})

	c := dialGateway(t, addr)
	c.expectClosed(t)
}

func TestParseNick(t *testing.T) {
	tests := []struct {
		line    string
		want    string
		wantErr bool
	}{
		{"alice\n", "alice", false},
		{"  bob \r\n", "bob", false},
		{"\n", "", true},
		{"two words\n", "", true},
		{"nick!user@host\n", "", true},
		{"a*\n", "", true},
		{".exit\n", "", true},
		{strings.Repeat("x", maxNickLen) + "\n", strings.Repeat("x", maxNickLen), false},
		{strings.Repeat("x", maxNickLen+1) + "\n", "", true},
	}
	for _, tt := range tests {
		got, err := parseNick(tt.line)
		if (err != nil) != tt.wantErr {
			t.Errorf("parseNick(%q) error = %v, wantErr %v", tt.line, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("parseNick(%q) = %q, want %q", tt.line, got, tt.want)
		}
	}
}
