package relay

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	plerr "partyline/internal/errors"
	"partyline/internal/metrics"
	"partyline/internal/session"
	"partyline/internal/transport"
	"partyline/util"
)

// ── Harness ──────────────────────────────────────────────────────────

// peer is the remote end of one session: it records every line the
// relay writes to it.
type peer struct {
	conn  net.Conn
	mu    sync.Mutex
	lines []string
}

func newPeer(c net.Conn) *peer {
	p := &peer{conn: c}
	go func() {
		sc := bufio.NewScanner(c)
		for sc.Scan() {
			p.mu.Lock()
			p.lines = append(p.lines, sc.Text())
			p.mu.Unlock()
		}
	}()
	return p
}

func (p *peer) count(line string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, l := range p.lines {
		if l == line {
			n++
		}
	}
	return n
}

func (p *peer) waitFor(t *testing.T, line string) {
	t.Helper()
	eventually(t, fmt.Sprintf("peer to receive %q", line), func() bool { return p.count(line) > 0 })
}

func (p *peer) say(t *testing.T, line string) {
	t.Helper()
	if _, err := fmt.Fprintf(p.conn, "%s\n", line); err != nil {
		t.Fatalf("peer write: %v", err)
	}
}

// faultConn fails every write once fail is set.
type faultConn struct {
	net.Conn
	fail atomic.Bool
}

func (c *faultConn) Write(b []byte) (int, error) {
	if c.fail.Load() {
		return 0, errors.New("injected write failure")
	}
	return c.Conn.Write(b)
}

// pipeNet is a Handshaker that connects every session over net.Pipe.
type pipeNet struct {
	mu      sync.Mutex
	peers   map[string][]*peer
	conns   map[string]*faultConn
	hang    map[string]bool
	release chan struct{}
}

func newPipeNet() *pipeNet {
	return &pipeNet{
		peers:   make(map[string][]*peer),
		conns:   make(map[string]*faultConn),
		hang:    make(map[string]bool),
		release: make(chan struct{}),
	}
}

func (n *pipeNet) Connect(ctx context.Context, identity string) (transport.Conn, error) {
	n.mu.Lock()
	hang := n.hang[identity]
	n.mu.Unlock()
	if hang {
		<-n.release // ignores ctx
		return nil, errors.New("released")
	}

	local, remote := net.Pipe()
	fc := &faultConn{Conn: local}
	n.mu.Lock()
	n.peers[identity] = append(n.peers[identity], newPeer(remote))
	n.conns[identity] = fc
	n.mu.Unlock()
	return fc, nil
}

func (n *pipeNet) Accept(ctx context.Context, req transport.Request) (transport.Conn, error) {
	return n.Connect(ctx, req.Identity)
}

// peer waits for the i-th connection made to identity.
func (n *pipeNet) peer(t *testing.T, identity string, i int) *peer {
	t.Helper()
	var p *peer
	eventually(t, "connection to "+identity, func() bool {
		n.mu.Lock()
		defer n.mu.Unlock()
		if len(n.peers[identity]) > i {
			p = n.peers[identity][i]
			return true
		}
		return false
	})
	return p
}

func (n *pipeNet) breakWrites(identity string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.conns[identity].fail.Store(true)
}

// aclStub is a mutable authorizer.
type aclStub struct {
	mu      sync.Mutex
	allowed map[string]bool
}

func (a *aclStub) set(identity string, ok bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.allowed[identity] = ok
}

func (a *aclStub) IsAuthorized(identity, capability string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return capability == DefaultBroadcastCapability && a.allowed[identity]
}

type harness struct {
	relay   *Relay
	net     *pipeNet
	acl     *aclStub
	events  chan ChatMessageEvent
	metrics *metrics.Collector
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	h := &harness{
		net:     newPipeNet(),
		acl:     &aclStub{allowed: make(map[string]bool)},
		events:  make(chan ChatMessageEvent, 64),
		metrics: metrics.New(),
	}
	h.relay = New(context.Background(), Options{
		Handshaker: h.net,
		Handler:    HandlerFunc(func(ctx context.Context, ev ChatMessageEvent) { h.events <- ev }),
		Authorizer: h.acl,
		Logger:     util.NewLogger(0),
		Metrics:    h.metrics,
		Config:     cfg,
	})
	t.Cleanup(func() {
		h.relay.Close()
		close(h.net.release)
	})
	return h
}

// join initiates a session and waits until its peer saw the arrival.
func (h *harness) join(t *testing.T, identity string) (*session.Session, *peer) {
	t.Helper()
	s, err := h.relay.Initiate(identity)
	if err != nil {
		t.Fatalf("Initiate(%s): %v", identity, err)
	}
	p := h.net.peer(t, identity, 0)
	p.waitFor(t, identity+" has joined the party line")
	return s, p
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func settle() { time.Sleep(50 * time.Millisecond) }

// ── Tests ────────────────────────────────────────────────────────────

func TestRelay_ArrivalAnnouncedToEveryone(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	_, a := h.join(t, "alice")
	_, b := h.join(t, "bob")

	a.waitFor(t, "bob has joined the party line")
	settle()
	if n := b.count("alice has joined the party line"); n != 0 {
		t.Errorf("bob saw an arrival that happened before bob joined (%d)", n)
	}
	if n := a.count("bob has joined the party line"); n != 1 {
		t.Errorf("alice saw bob's arrival %d times, want 1", n)
	}
}

func TestRelay_BroadcastIsolatesFailedRecipient(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	_, a := h.join(t, "alice")
	_, b := h.join(t, "bob")
	c, cp := h.join(t, "carol")

	h.net.breakWrites("carol")

	if n := h.relay.Broadcast("ping", false); n != 2 {
		t.Errorf("Broadcast delivered %d, want 2", n)
	}
	a.waitFor(t, "ping")
	b.waitFor(t, "ping")
	settle()

	for name, p := range map[string]*peer{"alice": a, "bob": b} {
		if n := p.count("ping"); n != 1 {
			t.Errorf("%s received ping %d times, want 1", name, n)
		}
	}
	if cp.count("ping") != 0 {
		t.Error("carol's write was supposed to fail")
	}

	select {
	case <-c.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("failed recipient should be closed")
	}
	if got := h.metrics.DeliveryFailures(); got != 1 {
		t.Errorf("DeliveryFailures = %d, want 1", got)
	}
	if _, ok := h.relay.Registry().Lookup("carol"); ok {
		t.Error("carol should be removed after the failed write")
	}
}

func TestRelay_ExitSendsFarewellAndOneDeparture(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	as, a := h.join(t, "alice")
	_, b := h.join(t, "bob")

	a.say(t, ".exit")
	a.waitFor(t, session.DefaultFarewell)
	b.waitFor(t, "alice has left the party line")

	select {
	case <-as.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("alice's session did not close")
	}
	settle()

	if n := a.count(session.DefaultFarewell); n != 1 {
		t.Errorf("farewell sent %d times, want 1", n)
	}
	if n := b.count("alice has left the party line"); n != 1 {
		t.Errorf("departure broadcast %d times, want 1", n)
	}
	if a.count("alice has left the party line") != 0 {
		t.Error("departing peer should not receive its own departure")
	}
	if _, ok := h.relay.Registry().Lookup("alice"); ok {
		t.Error("alice should be removed from the registry")
	}
	select {
	case ev := <-h.events:
		t.Errorf(".exit must not be routed, handler got %q", ev.Text)
	default:
	}
}

func TestRelay_RouteDeliversToHandlerOnly(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	_, a := h.join(t, "alice")
	_, b := h.join(t, "bob")

	a.say(t, "hello there")

	select {
	case ev := <-h.events:
		if ev.Identity != "alice" || ev.Text != "hello there" {
			t.Errorf("event = {%s %q}, want {alice \"hello there\"}", ev.Identity, ev.Text)
		}
		if ev.Session == nil || ev.Received.IsZero() {
			t.Error("event should carry its session and receipt time")
		}
		if err := ev.Reply("noted"); err != nil {
			t.Errorf("Reply: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("handler never saw the line")
	}

	a.waitFor(t, "noted")
	settle()
	if b.count("hello there") != 0 || b.count("noted") != 0 {
		t.Error("routing must not broadcast")
	}
}

func TestRelay_RouteKeepsReceiptOrder(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	_, a := h.join(t, "alice")

	for i := 0; i < 5; i++ {
		a.say(t, fmt.Sprintf("line %d", i))
	}
	for i := 0; i < 5; i++ {
		select {
		case ev := <-h.events:
			if want := fmt.Sprintf("line %d", i); ev.Text != want {
				t.Fatalf("event %d = %q, want %q", i, ev.Text, want)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("missing event %d", i)
		}
	}
}

func TestRelay_RestrictedBroadcastFollowsAuthorization(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	_, a := h.join(t, "alice")
	_, b := h.join(t, "bob")

	h.acl.set("alice", true)
	if n := h.relay.Broadcast("ops only", true); n != 1 {
		t.Errorf("restricted Broadcast delivered %d, want 1", n)
	}
	a.waitFor(t, "ops only")

	h.acl.set("alice", false)
	h.acl.set("bob", true)
	if n := h.relay.Broadcast("second", true); n != 1 {
		t.Errorf("restricted Broadcast delivered %d, want 1", n)
	}
	b.waitFor(t, "second")
	settle()

	if b.count("ops only") != 0 {
		t.Error("bob was not authorized for the first broadcast")
	}
	if a.count("second") != 0 {
		t.Error("alice lost authorization before the second broadcast")
	}
}

func TestRelay_RestrictedBroadcastWithoutAuthorizer(t *testing.T) {
	r := New(context.Background(), Options{Handshaker: newPipeNet(), Logger: util.NewLogger(0)})
	defer r.Close()
	if n := r.Broadcast("nobody", true); n != 0 {
		t.Errorf("Broadcast = %d, want 0", n)
	}
}

func TestRelay_ReadFailureRemovesSilently(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	_, a := h.join(t, "alice")
	bs, b := h.join(t, "bob")

	b.conn.Close()

	select {
	case <-bs.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("bob's session did not close")
	}
	for _, s := range h.relay.Registry().ActiveOnly() {
		if s.Identity() == "bob" {
			t.Error("bob should not be active")
		}
	}
	if _, ok := h.relay.Registry().Lookup("bob"); ok {
		t.Error("bob should be removed from the registry")
	}
	settle()
	if a.count("bob has left the party line") != 0 {
		t.Error("abrupt disconnect must not announce a departure")
	}
}

func TestRelay_SupersededSessionIsClosed(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	first, p1 := h.join(t, "alice")

	second, err := h.relay.Initiate("alice")
	if err != nil {
		t.Fatal(err)
	}
	h.net.peer(t, "alice", 1).waitFor(t, "alice has joined the party line")

	select {
	case <-first.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("superseded session should be closed")
	}
	got, ok := h.relay.Registry().Lookup("alice")
	if !ok || got != second {
		t.Fatal("replacement must stay registered after the old session's teardown")
	}
	if h.relay.Registry().Len() != 1 {
		t.Errorf("Len = %d, want 1", h.relay.Registry().Len())
	}
	if p1.count("alice has left the party line") != 0 {
		t.Error("superseding is not a departure")
	}
}

func TestRelay_CloseWaitsForSupersededSession(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	first, _ := h.join(t, "alice")

	if _, err := h.relay.Initiate("alice"); err != nil {
		t.Fatal(err)
	}
	h.relay.Close()

	select {
	case <-first.Done():
	default:
		t.Fatal("superseded session still running after Close")
	}
}

func TestRelay_HandshakeNeverCompletes(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Session.HandshakeTimeout = 50 * time.Millisecond
	h := newHarness(t, cfg)
	h.net.hang["ghost"] = true

	s, err := h.relay.Initiate("ghost")
	if err != nil {
		t.Fatal(err)
	}
	select {
	case <-s.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("handshake timeout was not enforced")
	}
	if s.State() != session.Closed {
		t.Errorf("state = %v, want closed", s.State())
	}
	if _, ok := h.relay.Registry().Lookup("ghost"); ok {
		t.Error("ghost should be removed from the registry")
	}
}

func TestRelay_BroadcastExceptSkipsSender(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	as, a := h.join(t, "alice")
	_, b := h.join(t, "bob")

	if n := h.relay.BroadcastExcept(as, "<alice> hi"); n != 1 {
		t.Errorf("BroadcastExcept delivered %d, want 1", n)
	}
	b.waitFor(t, "<alice> hi")
	settle()
	if a.count("<alice> hi") != 0 {
		t.Error("sender should be skipped")
	}
}

func TestRelay_SendByIdentity(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	_, a := h.join(t, "alice")

	if err := h.relay.Send("alice", "direct"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	a.waitFor(t, "direct")

	if err := h.relay.Send("nobody", "x"); !errors.Is(err, plerr.ErrUnknownPeer) {
		t.Errorf("Send(nobody) = %v, want ErrUnknownPeer", err)
	}
}

func TestRelay_HandlerPanicKeepsSession(t *testing.T) {
	calls := make(chan string, 4)
	pn := newPipeNet()
	r := New(context.Background(), Options{
		Handshaker: pn,
		Handler: HandlerFunc(func(ctx context.Context, ev ChatMessageEvent) {
			calls <- ev.Text
			if ev.Text == "boom" {
				panic("handler bug")
			}
		}),
		Logger: util.NewLogger(0),
	})
	defer func() {
		r.Close()
		close(pn.release)
	}()

	s, err := r.Initiate("alice")
	if err != nil {
		t.Fatal(err)
	}
	p := pn.peer(t, "alice", 0)
	p.waitFor(t, "alice has joined the party line")

	p.say(t, "boom")
	p.say(t, "after")
	for _, want := range []string{"boom", "after"} {
		select {
		case got := <-calls:
			if got != want {
				t.Fatalf("handler got %q, want %q", got, want)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("handler never got %q", want)
		}
	}
	if !s.IsActive() {
		t.Error("a handler panic must not close the session")
	}
}

func TestRelay_AcceptInbound(t *testing.T) {
	h := newHarness(t, DefaultConfig())

	s, err := h.relay.Accept(transport.Request{Identity: "dora", Addr: "10.0.0.9:5000"})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := s.Direction().(session.Inbound); !ok {
		t.Errorf("direction = %T, want session.Inbound", s.Direction())
	}
	h.net.peer(t, "dora", 0).waitFor(t, "dora has joined the party line")
}

func TestRelay_EmptyIdentity(t *testing.T) {
	h := newHarness(t, DefaultConfig())

	if _, err := h.relay.Initiate(""); !errors.Is(err, plerr.ErrEmptyIdentity) {
		t.Errorf("Initiate(\"\") = %v, want ErrEmptyIdentity", err)
	}

	local, remote := net.Pipe()
	defer remote.Close()
	if _, err := h.relay.Accept(transport.Request{Conn: local}); !errors.Is(err, plerr.ErrEmptyIdentity) {
		t.Errorf("Accept without identity = %v, want ErrEmptyIdentity", err)
	}
	remote.SetReadDeadline(time.Now().Add(time.Second))
	if _, err := remote.Read(make([]byte, 1)); err == nil {
		t.Error("rejected request's connection should be closed")
	}
	if h.relay.Registry().Len() != 0 {
		t.Error("nothing should be registered")
	}
}

func TestRelay_CloseEmptiesRegistry(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	a, _ := h.join(t, "alice")
	b, _ := h.join(t, "bob")

	h.relay.Close()

	for _, s := range []*session.Session{a, b} {
		select {
		case <-s.Done():
		default:
			t.Errorf("%s still running after Close", s.Identity())
		}
	}
	if n := h.relay.Registry().Len(); n != 0 {
		t.Errorf("registry has %d entries after Close, want 0", n)
	}
	if _, err := h.relay.Initiate("carol"); !errors.Is(err, plerr.ErrRelayClosed) {
		t.Errorf("Initiate after Close = %v, want ErrRelayClosed", err)
	}
	h.relay.Close()
}
