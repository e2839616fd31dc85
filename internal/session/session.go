// Package session runs one direct chat connection on the party line.
//
// A Session owns its transport from the moment the handshake succeeds
// until it closes.  Its goroutine performs the handshake, announces
// the arrival, reads lines in order and hands each one to its Hooks.
// Every failure ends in the Closed state inside that goroutine; none
// is returned to the caller of Start.
//
//	Waiting ──handshake ok──▶ Connected ──EOF / error / exit / Close──▶ Closed
//	   └──────timeout / failure / Close──────────────────────────────────┘
package session

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	plerr "partyline/internal/errors"
	"partyline/internal/metrics"
	"partyline/internal/transport"
	"partyline/util"
)

// State is a session's lifecycle state.
type State int32

const (
	// Waiting is the initial state: the handshake is in progress.
	Waiting State = iota
	// Connected means the transport is up and lines are relayed.
	Connected
	// Closed is terminal: the transport has been released.
	Closed
)

func (s State) String() string {
	switch s {
	case Waiting:
		return "waiting"
	case Connected:
		return "connected"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// Hooks receives a session's lifecycle events.  All calls come from
// the session's own goroutine, in order.
type Hooks interface {
	// Connected fires once, when the session reaches Connected.
	Connected(s *Session)
	// Line fires for every received line that is not the exit command.
	Line(s *Session, line string)
	// Closed fires once, after the session reached Closed and released
	// its transport.
	Closed(s *Session)
	// Exited fires after Closed when the peer left with the exit
	// command.
	Exited(s *Session)
}

// Options wires a Session to its collaborators.
type Options struct {
	Handshaker transport.Handshaker
	Hooks      Hooks
	Logger     *util.Logger
	Metrics    *metrics.Collector // may be nil

	// Config zero fields take the package defaults, except Farewell:
	// an empty Farewell sends nothing on exit.  Start from
	// DefaultConfig for the standard farewell.
	Config Config
}

type connBox struct{ c transport.Conn }

// Session is one peer's connection to the party line.
type Session struct {
	id      string
	dir     Direction
	cfg     Config
	hs      transport.Handshaker
	hooks   Hooks
	logger  *util.Logger
	metrics *metrics.Collector

	state       atomic.Int32
	conn        atomic.Pointer[connBox] // stored once, after the handshake
	connectedAt atomic.Int64            // unix nanoseconds

	writeMu sync.Mutex // serialises writes to conn

	mu      sync.Mutex
	started bool
	closing bool
	cancel  context.CancelFunc

	releaseOnce sync.Once
	finishOnce  sync.Once
	done        chan struct{}
}

// New creates a Waiting session for dir.  Nothing happens until Start.
func New(dir Direction, opts Options) *Session {
	id := uuid.NewString()
	logger := opts.Logger
	if logger == nil {
		logger = util.NewLogger(0)
	}
	return &Session{
		id:      id,
		dir:     dir,
		cfg:     opts.Config.withDefaults(),
		hs:      opts.Handshaker,
		hooks:   opts.Hooks,
		logger:  logger.With(dir.Identity() + "#" + id[:8]),
		metrics: opts.Metrics,
		done:    make(chan struct{}),
	}
}

// ── Accessors ────────────────────────────────────────────────────────

// ID returns the session's unique identifier.
func (s *Session) ID() string { return s.id }

// Identity returns the remote party's identity.
func (s *Session) Identity() string { return s.dir.Identity() }

// Direction returns how the session was requested.
func (s *Session) Direction() Direction { return s.dir }

// State returns the current lifecycle state.
func (s *Session) State() State { return State(s.state.Load()) }

// IsActive reports whether the session is Connected.
func (s *Session) IsActive() bool { return s.State() == Connected }

// ConnectedAt returns when the handshake completed, or the zero time.
func (s *Session) ConnectedAt() time.Time {
	ns := s.connectedAt.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// Done is closed once the session has reached Closed and its hooks
// have run.
func (s *Session) Done() <-chan struct{} { return s.done }

// Wait blocks until Done is closed.
func (s *Session) Wait() { <-s.done }

func (s *Session) String() string {
	return fmt.Sprintf("%s#%s(%s, %s)", s.Identity(), s.id[:8], s.dir, s.State())
}

// ── Lifecycle ────────────────────────────────────────────────────────

// Start launches the session goroutine and returns immediately.
// Calling Start again, or after Close, does nothing.
func (s *Session) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started || s.closing {
		return
	}
	s.started = true
	ctx, s.cancel = context.WithCancel(ctx)
	go s.run(ctx)
}

// Close interrupts the session and releases its transport.  It does
// not wait; use Wait for that.  Close is idempotent.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		return
	}
	s.closing = true
	s.state.Store(int32(Closed))
	started, cancel := s.started, s.cancel
	s.mu.Unlock()

	if !started {
		s.finish()
		return
	}
	cancel()
}

func (s *Session) run(ctx context.Context) {
	defer s.cancel()
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("session aborted: panic: %v", r)
			s.metrics.RecordError(fmt.Sprintf("%s: panic: %v", s.Identity(), r))
			s.finish()
		}
	}()

	conn, err := s.handshake(ctx)
	if err != nil {
		switch {
		case plerr.IsInterrupted(err):
			s.logger.Verbose("interrupted during %s handshake", s.dir)
		case plerr.IsHandshakeTimeout(err):
			s.logger.Warn("%v (limit %s)", err, s.cfg.HandshakeTimeout)
		default:
			s.logger.Warn("%v", err)
		}
		s.metrics.HandshakeFailed()
		s.finish()
		return
	}

	s.conn.Store(&connBox{c: conn})
	s.connectedAt.Store(time.Now().UnixNano())
	if !s.state.CompareAndSwap(int32(Waiting), int32(Connected)) {
		// Closed while the handshake was finishing.
		s.finish()
		return
	}

	s.metrics.SessionConnected()
	defer s.metrics.SessionClosed()
	s.logger.Info("connected (%s)", s.dir)
	if s.hooks != nil {
		s.hooks.Connected(s)
	}

	exited := s.readLoop(ctx, conn)
	s.finish()

	if exited {
		s.metrics.SessionExited()
		if s.hooks != nil {
			s.hooks.Exited(s)
		}
	}
}

// handshake runs the direction's handshake under the handshake
// timeout.  A handshaker that ignores its context is abandoned at the
// deadline; a stream it produces later is closed.
func (s *Session) handshake(ctx context.Context) (transport.Conn, error) {
	hctx, cancel := context.WithTimeout(ctx, s.cfg.HandshakeTimeout)
	defer cancel()

	type result struct {
		conn transport.Conn
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				ch <- result{err: fmt.Errorf("handshaker panic: %v", p)}
			}
		}()
		conn, err := s.dir.establish(hctx, s.hs)
		ch <- result{conn, err}
	}()

	select {
	case r := <-ch:
		if r.err != nil {
			return nil, plerr.Handshake(s.Identity(), s.dir.String(), r.err)
		}
		if r.conn == nil {
			return nil, plerr.Handshake(s.Identity(), s.dir.String(), plerr.ErrHandshakeFailed)
		}
		return r.conn, nil
	case <-hctx.Done():
		s.dir.abandon()
		go func() {
			if r := <-ch; r.conn != nil {
				r.conn.Close()
			}
		}()
		return nil, plerr.Handshake(s.Identity(), s.dir.String(), hctx.Err())
	}
}

// readLoop relays lines until the stream ends.  It reports whether the
// peer left with the exit command.
func (s *Session) readLoop(ctx context.Context, conn transport.Conn) (exited bool) {
	stop := context.AfterFunc(ctx, s.release)
	defer stop()

	sc, release := util.NewLineScanner(conn, s.cfg.MaxLineLength)
	defer release()

	for sc.Scan() {
		line := util.TrimLine(sc.Text())
		s.metrics.LineReceived()

		if s.isExit(line) {
			s.leave()
			return true
		}
		if s.hooks != nil {
			s.hooks.Line(s, line)
		}
	}

	err := sc.Err()
	switch {
	case ctx.Err() != nil:
		s.logger.Verbose("interrupted")
	case err == nil:
		s.logger.Verbose("peer disconnected")
	case errors.Is(err, bufio.ErrTooLong):
		s.logger.Warn("%v", plerr.Wrap("read", s.Identity(),
			fmt.Errorf("%w (limit %d bytes)", plerr.ErrLineTooLong, s.cfg.MaxLineLength)))
	case util.IsHarmless(err):
		s.logger.Verbose("connection closed")
	default:
		s.logger.Warn("%v", plerr.Wrap("read", s.Identity(), err))
	}
	return false
}

func (s *Session) isExit(line string) bool {
	fields := strings.Fields(line)
	return len(fields) > 0 && fields[0] == s.cfg.ExitToken
}

// leave handles the exit command: one farewell line, then release.
func (s *Session) leave() {
	s.logger.Info("left with %s", s.cfg.ExitToken)
	if s.cfg.Farewell != "" {
		if err := s.Send(s.cfg.Farewell); err != nil {
			s.logger.Verbose("farewell: %v", err)
		}
	}
	s.state.Store(int32(Closed))
	s.release()
}

// release closes the transport, if one was established.
func (s *Session) release() {
	s.releaseOnce.Do(func() {
		if b := s.conn.Load(); b != nil {
			if err := b.c.Close(); err != nil && !util.IsHarmless(err) {
				s.logger.Debug("close transport: %v", err)
			}
		}
	})
}

// finish performs the one-time transition into Closed.
func (s *Session) finish() {
	s.finishOnce.Do(func() {
		s.state.Store(int32(Closed))
		s.release()
		if s.hooks != nil {
			s.hooks.Closed(s)
		}
		close(s.done)
	})
}

// ── Writing ──────────────────────────────────────────────────────────

type writeDeadliner interface {
	SetWriteDeadline(t time.Time) error
}

// Send writes line to the peer, terminated by a newline.  Writes from
// concurrent callers are serialised.  A failed write closes the
// session.
func (s *Session) Send(line string) error {
	switch s.State() {
	case Waiting:
		return fmt.Errorf("%s: %w", s.Identity(), plerr.ErrNotConnected)
	case Closed:
		return fmt.Errorf("%s: %w", s.Identity(), plerr.ErrSessionClosed)
	}
	b := s.conn.Load()
	if b == nil {
		return fmt.Errorf("%s: %w", s.Identity(), plerr.ErrNotConnected)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if s.cfg.WriteTimeout > 0 {
		if wd, ok := b.c.(writeDeadliner); ok {
			_ = wd.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
		}
	}

	if _, err := io.WriteString(b.c, strings.TrimRight(line, "\r\n")+"\n"); err != nil {
		nerr := plerr.Wrap("write", s.Identity(), err)
		s.logger.Verbose("%v", nerr)
		s.Close()
		return nerr
	}
	s.metrics.LineSent()
	return nil
}
