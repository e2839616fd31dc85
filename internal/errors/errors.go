// Package errors provides the error taxonomy of the party-line relay.
//
// Handshake failures, transport failures and interruptions all end a
// session, but they are logged and counted differently, so they carry
// enough structure for callers to tell them apart.
package errors

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
)

// ── Sentinel errors ──────────────────────────────────────────────────

var (
	ErrHandshakeTimeout = errors.New("handshake timed out")
	ErrHandshakeFailed  = errors.New("handshake failed")
	ErrNotConnected     = errors.New("session not connected")
	ErrSessionClosed    = errors.New("session closed")
	ErrRelayClosed      = errors.New("relay is closed")
	ErrUnknownPeer      = errors.New("unknown peer")
	ErrEmptyIdentity    = errors.New("empty identity")
	ErrLineTooLong      = errors.New("line too long")
	ErrCircuitOpen      = errors.New("circuit breaker is open")
	ErrAuthFailed       = errors.New("authentication failed")
)

// ── Structured error types ───────────────────────────────────────────

// NetworkError is a transport failure: a dial, read or write that did
// not complete.
type NetworkError struct {
	Op        string // "dial", "accept", "read", "write"
	Addr      string // peer address or identity
	Err       error
	Retryable bool
}

func (e *NetworkError) Error() string {
	s := fmt.Sprintf("%s %s: %v", e.Op, e.Addr, e.Err)
	if e.Retryable {
		s += " (retryable)"
	}
	return s
}

func (e *NetworkError) Unwrap() error { return e.Err }

// HandshakeError records why a session never reached the connected
// state.
type HandshakeError struct {
	Identity  string
	Direction string // "outbound" or "inbound"
	Err       error
}

func (e *HandshakeError) Error() string {
	return fmt.Sprintf("%s handshake with %s: %v", e.Direction, e.Identity, e.Err)
}

func (e *HandshakeError) Unwrap() error { return e.Err }

// SSHError represents an SSH gateway failure with host context.
type SSHError struct {
	Op   string // "handshake", "auth", "hostkey", "dial"
	Host string
	Port int
	Err  error
}

func (e *SSHError) Error() string {
	return fmt.Sprintf("ssh %s %s:%d: %v", e.Op, e.Host, e.Port, e.Err)
}

func (e *SSHError) Unwrap() error { return e.Err }

// ConfigError represents an invalid configuration value.
type ConfigError struct {
	Field   string      // flag name
	Value   interface{} // nil if missing
	Message string
	Hint    string // optional
}

func (e *ConfigError) Error() string {
	msg := fmt.Sprintf("config: --%s", e.Field)
	if e.Value != nil {
		msg += fmt.Sprintf("=%v", e.Value)
	}
	msg += ": " + e.Message
	if e.Hint != "" {
		msg += "\n  hint: " + e.Hint
	}
	return msg
}

// ── Constructors ─────────────────────────────────────────────────────

// Wrap creates a NetworkError, detecting retryability from err.
func Wrap(op, addr string, err error) *NetworkError {
	return &NetworkError{
		Op:        op,
		Addr:      addr,
		Err:       err,
		Retryable: classifyRetryable(err),
	}
}

// WrapSSH creates an SSHError.
func WrapSSH(op, host string, port int, err error) *SSHError {
	return &SSHError{Op: op, Host: host, Port: port, Err: err}
}

// Handshake wraps a failed handshake.  A context deadline becomes
// ErrHandshakeTimeout so callers can match on it with Is.
func Handshake(identity, direction string, err error) *HandshakeError {
	if errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, ErrHandshakeTimeout) {
		err = fmt.Errorf("%w: %w", ErrHandshakeTimeout, err)
	}
	return &HandshakeError{Identity: identity, Direction: direction, Err: err}
}

// ── Classification helpers ───────────────────────────────────────────

// IsRetryable reports whether err is worth retrying.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var ne *NetworkError
	if errors.As(err, &ne) {
		return ne.Retryable
	}
	return classifyRetryable(err)
}

// IsHandshakeTimeout reports whether err is a handshake that ran out
// of time.
func IsHandshakeTimeout(err error) bool {
	return errors.Is(err, ErrHandshakeTimeout)
}

// IsInterrupted reports whether err came from a cancelled context.
func IsInterrupted(err error) bool {
	return errors.Is(err, context.Canceled)
}

// classifyRetryable inspects standard library error types.  A refused
// connection is retryable: the peer may not be listening yet.
func classifyRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, syscall.ECONNREFUSED) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return opErr.Temporary() //nolint:staticcheck // Temporary is deprecated but still useful
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return dnsErr.Temporary() //nolint:staticcheck
	}
	return false
}

// ── Re-exports for convenience ───────────────────────────────────────

// As is [errors.As].
func As(err error, target interface{}) bool { return errors.As(err, target) }

// Is is [errors.Is].
func Is(err, target error) bool { return errors.Is(err, target) }

// New is [errors.New].
func New(text string) error { return errors.New(text) }

// Unwrap is [errors.Unwrap].
func Unwrap(err error) error { return errors.Unwrap(err) }

// Join is [errors.Join].
func Join(errs ...error) error { return errors.Join(errs...) }
