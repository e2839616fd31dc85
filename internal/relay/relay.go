// Package relay multiplexes many direct chat sessions into a single
// party line.
//
// The relay creates and registers sessions, hands every received line
// to the configured Handler, and fans messages out to the connected
// sessions.  Arrival is announced when a session connects; departure
// only when the peer leaves with the exit command.
package relay

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	plerr "partyline/internal/errors"
	"partyline/internal/metrics"
	"partyline/internal/registry"
	"partyline/internal/session"
	"partyline/internal/transport"
	"partyline/util"
)

// ChatMessageEvent is one line received from a connected session.
type ChatMessageEvent struct {
	Session  *session.Session
	Identity string
	Text     string
	Received time.Time
}

// Reply sends line back to the originating session only.
func (e ChatMessageEvent) Reply(line string) error {
	return e.Session.Send(line)
}

// Handler consumes routed lines.  Handle runs on the originating
// session's goroutine, so lines from one session arrive in order.
type Handler interface {
	Handle(ctx context.Context, ev ChatMessageEvent)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, ev ChatMessageEvent)

func (f HandlerFunc) Handle(ctx context.Context, ev ChatMessageEvent) { f(ctx, ev) }

// Authorizer decides whether identity holds capability.
type Authorizer interface {
	IsAuthorized(identity, capability string) bool
}

// AuthorizerFunc adapts a function to Authorizer.
type AuthorizerFunc func(identity, capability string) bool

func (f AuthorizerFunc) IsAuthorized(identity, capability string) bool { return f(identity, capability) }

// Options wires a Relay to its collaborators.
type Options struct {
	Handshaker transport.Handshaker
	Handler    Handler    // nil drops routed lines
	Authorizer Authorizer // nil authorizes nobody for restricted broadcasts
	Logger     *util.Logger
	Metrics    *metrics.Collector

	// Config zero fields take the defaults; see session.Options for the
	// one exception, an empty farewell.
	Config Config
}

// Relay owns the session registry of one party line.
type Relay struct {
	ctx    context.Context
	cancel context.CancelFunc

	cfg     Config
	hs      transport.Handshaker
	handler Handler
	authz   Authorizer
	logger  *util.Logger
	metrics *metrics.Collector
	reg     *registry.Registry

	mu     sync.Mutex // orders registration against Close
	closed bool

	retired sync.WaitGroup // superseded sessions still winding down
}

// New creates a Relay.  Sessions run under ctx; cancelling it
// interrupts all of them.
func New(ctx context.Context, opts Options) *Relay {
	ctx, cancel := context.WithCancel(ctx)
	logger := opts.Logger
	if logger == nil {
		logger = util.NewLogger(0)
	}
	return &Relay{
		ctx:     ctx,
		cancel:  cancel,
		cfg:     opts.Config.withDefaults(),
		hs:      opts.Handshaker,
		handler: opts.Handler,
		authz:   opts.Authorizer,
		logger:  logger,
		metrics: opts.Metrics,
		reg:     registry.New(),
	}
}

// Registry exposes the session registry for introspection.
func (r *Relay) Registry() *registry.Registry { return r.reg }

// Identities returns the sorted identities of the connected sessions.
func (r *Relay) Identities() []string { return r.reg.Identities() }

// ── Session creation ─────────────────────────────────────────────────

// Initiate opens an outbound session to identity.  It returns as soon
// as the session is registered and started; the handshake runs on the
// session's goroutine.
func (r *Relay) Initiate(identity string) (*session.Session, error) {
	if identity == "" {
		return nil, fmt.Errorf("initiate: %w", plerr.ErrEmptyIdentity)
	}
	return r.open(session.Outbound{Peer: identity})
}

// Accept opens an inbound session for a remote request.
func (r *Relay) Accept(req transport.Request) (*session.Session, error) {
	if req.Identity == "" {
		closeRequest(req)
		return nil, fmt.Errorf("accept: %w", plerr.ErrEmptyIdentity)
	}
	s, err := r.open(session.Inbound{Request: req})
	if err != nil {
		closeRequest(req)
	}
	return s, err
}

func closeRequest(req transport.Request) {
	if req.Conn != nil {
		req.Conn.Close()
	}
}

func (r *Relay) open(dir session.Direction) (*session.Session, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, plerr.ErrRelayClosed
	}
	s := session.New(dir, session.Options{
		Handshaker: r.hs,
		Hooks:      hooks{r},
		Logger:     r.logger,
		Metrics:    r.metrics,
		Config:     r.cfg.Session,
	})
	prev := r.reg.Register(dir.Identity(), s)
	if prev != nil {
		r.retired.Add(1)
	}
	r.mu.Unlock()

	if prev != nil {
		r.logger.Info("%s superseded by %s session %s", dir.Identity(), dir, s.ID()[:8])
		prev.Close()
		go func() {
			defer r.retired.Done()
			prev.Wait()
		}()
	}
	r.logger.Verbose("opening %s session with %s", dir, dir.Identity())
	s.Start(r.ctx)
	return s, nil
}

// ── Routing ──────────────────────────────────────────────────────────

// Route hands one received line to the Handler.  It never broadcasts
// on its own.
func (r *Relay) Route(s *session.Session, line string) {
	if r.handler == nil {
		r.logger.Debug("%s: no handler, dropped %q", s.Identity(), line)
		return
	}
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("handler panic on line from %s: %v", s.Identity(), p)
			r.metrics.RecordError(fmt.Sprintf("handler panic: %v", p))
		}
	}()
	r.handler.Handle(r.ctx, ChatMessageEvent{
		Session:  s,
		Identity: s.Identity(),
		Text:     line,
		Received: time.Now(),
	})
}

// ── Broadcast ────────────────────────────────────────────────────────

// Broadcast writes message to every connected session, or with
// restrictToAuthorized only to those holding the broadcast
// capability.  It returns the number of successful deliveries.
func (r *Relay) Broadcast(message string, restrictToAuthorized bool) int {
	recipients := r.reg.ActiveOnly()
	if restrictToAuthorized {
		allowed := recipients[:0]
		for _, s := range recipients {
			if r.authz != nil && r.authz.IsAuthorized(s.Identity(), r.cfg.BroadcastCapability) {
				allowed = append(allowed, s)
			}
		}
		recipients = allowed
	}
	return r.deliver(recipients, message)
}

// BroadcastExcept writes message to every connected session other
// than from.
func (r *Relay) BroadcastExcept(from *session.Session, message string) int {
	recipients := r.reg.ActiveOnly()
	others := recipients[:0]
	for _, s := range recipients {
		if s != from {
			others = append(others, s)
		}
	}
	return r.deliver(others, message)
}

// deliver writes to each recipient on its own goroutine.  A failed
// write closes only that recipient's session.
func (r *Relay) deliver(recipients []*session.Session, message string) int {
	r.metrics.Broadcast()

	var delivered atomic.Int64
	var g errgroup.Group
	g.SetLimit(r.cfg.BroadcastConcurrency)
	for _, s := range recipients {
		s := s
		g.Go(func() error {
			if err := s.Send(message); err != nil {
				r.metrics.DeliveryFailed()
				r.logger.Warn("delivery to %s failed: %v", s.Identity(), err)
				return nil
			}
			delivered.Add(1)
			return nil
		})
	}
	_ = g.Wait()

	n := int(delivered.Load())
	r.logger.Debug("broadcast delivered to %d/%d", n, len(recipients))
	return n
}

// Send writes message to the session registered for identity.
func (r *Relay) Send(identity, message string) error {
	s, ok := r.reg.Lookup(identity)
	if !ok {
		return fmt.Errorf("send to %s: %w", identity, plerr.ErrUnknownPeer)
	}
	return s.Send(message)
}

// ── Shutdown ─────────────────────────────────────────────────────────

// Close rejects new sessions, closes every registered session and waits
// for their goroutines to finish, along with any superseded session
// still shutting down.
func (r *Relay) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	r.mu.Unlock()

	r.cancel()
	sessions := r.reg.All()
	for _, s := range sessions {
		s.Close()
	}
	for _, s := range sessions {
		s.Wait()
	}
	r.retired.Wait()
	r.logger.Verbose("relay closed (%d sessions)", len(sessions))
}

// ── Session hooks ────────────────────────────────────────────────────

// hooks keeps the session callbacks off the Relay's exported API.
type hooks struct{ r *Relay }

func (h hooks) Connected(s *session.Session) {
	h.r.Broadcast(fmt.Sprintf(h.r.cfg.JoinFormat, s.Identity()), false)
}

func (h hooks) Line(s *session.Session, line string) { h.r.Route(s, line) }

func (h hooks) Closed(s *session.Session) {
	if h.r.reg.RemoveSession(s) {
		h.r.logger.Verbose("%s removed from the party line", s.Identity())
	}
}

func (h hooks) Exited(s *session.Session) {
	h.r.Broadcast(fmt.Sprintf(h.r.cfg.LeaveFormat, s.Identity()), false)
}
