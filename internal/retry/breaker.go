package retry

import (
	"fmt"
	"sync"
	"time"

	plerr "partyline/internal/errors"
)

// State is where a [Breaker] is in its trip cycle.
type State int

const (
	StateClosed   State = iota // calls pass
	StateOpen                  // calls fail fast until the cooldown ends
	StateHalfOpen              // one probe call decides
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerConfig tunes a [Breaker].
type BreakerConfig struct {
	// Threshold is how many consecutive failures trip the breaker
	// (default 3).
	Threshold int

	// Cooldown is how long a tripped breaker rejects calls before it
	// lets a probe through (default 30s).
	Cooldown time.Duration

	// OnChange observes every state change.  It runs with the breaker
	// locked and must not call back into it.
	OnChange func(from, to State)

	// Now overrides the clock.
	Now func() time.Time
}

// Breaker stops every session from waiting out a full handshake against
// an SSH gateway that is known to be down.  After Threshold straight
// failures calls are rejected with [plerr.ErrCircuitOpen] until
// Cooldown passes.  Then a single probe is admitted: its success closes
// the breaker, its failure re-opens it.  Calls arriving while the probe
// is in flight are rejected.
type Breaker struct {
	cfg BreakerConfig

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
	probing  bool
}

// NewBreaker returns a closed breaker.
func NewBreaker(cfg BreakerConfig) *Breaker {
	if cfg.Threshold <= 0 {
		cfg.Threshold = 3
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Breaker{cfg: cfg}
}

// Do runs fn unless the breaker rejects the call, and records the
// outcome.
func (b *Breaker) Do(fn func() error) error {
	if err := b.admit(); err != nil {
		return err
	}
	err := fn()
	b.record(err)
	return err
}

// State returns the current state.  An open breaker whose cooldown has
// passed still reports open until the next call probes.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Failures returns the current run of consecutive failures.
func (b *Breaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}

// Reset closes the breaker and forgets past failures.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	b.probing = false
	b.setState(StateClosed)
}

func (b *Breaker) admit() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateOpen:
		wait := b.cfg.Cooldown - b.cfg.Now().Sub(b.openedAt)
		if wait > 0 {
			return fmt.Errorf("%w: %d consecutive failures, retry in %v",
				plerr.ErrCircuitOpen, b.failures, wait.Round(time.Second))
		}
		b.setState(StateHalfOpen)
		b.probing = true
	case StateHalfOpen:
		if b.probing {
			return fmt.Errorf("%w: probe in flight", plerr.ErrCircuitOpen)
		}
		b.probing = true
	}
	return nil
}

func (b *Breaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.probing = false
	if err == nil {
		b.failures = 0
		b.setState(StateClosed)
		return
	}
	b.failures++
	if b.state == StateHalfOpen || b.failures >= b.cfg.Threshold {
		b.openedAt = b.cfg.Now()
		b.setState(StateOpen)
	}
}

func (b *Breaker) setState(to State) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	if b.cfg.OnChange != nil {
		b.cfg.OnChange(from, to)
	}
}
