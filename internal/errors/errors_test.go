package errors

import (
	"context"
	"fmt"
	"io"
	"net"
	"syscall"
	"testing"
)

func TestNetworkError_Format(t *testing.T) {
	tests := []struct {
		name string
		err  NetworkError
		want string
	}{
		{
			name: "retryable",
			err:  NetworkError{Op: "dial", Addr: "10.0.0.7:5000", Err: io.EOF, Retryable: true},
			want: "dial 10.0.0.7:5000: EOF (retryable)",
		},
		{
			name: "non-retryable",
			err:  NetworkError{Op: "write", Addr: "alice", Err: fmt.Errorf("broken pipe")},
			want: "write alice: broken pipe",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestNetworkError_Unwrap(t *testing.T) {
	err := &NetworkError{Op: "read", Addr: "bob", Err: io.EOF}
	if !Is(err, io.EOF) {
		t.Error("should unwrap to io.EOF")
	}
}

func TestHandshake_DeadlineBecomesTimeout(t *testing.T) {
	err := Handshake("alice", "outbound", context.DeadlineExceeded)

	if !IsHandshakeTimeout(err) {
		t.Errorf("expected handshake timeout, got %v", err)
	}
	if !Is(err, context.DeadlineExceeded) {
		t.Error("should still unwrap to context.DeadlineExceeded")
	}
	want := "outbound handshake with alice: handshake timed out: context deadline exceeded"
	if got := err.Error(); got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestHandshake_Failure(t *testing.T) {
	inner := fmt.Errorf("rejected")
	err := Handshake("bob", "inbound", inner)

	if IsHandshakeTimeout(err) {
		t.Error("plain failure must not look like a timeout")
	}
	if !Is(err, inner) {
		t.Error("should unwrap to inner error")
	}
}

func TestSSHError_Format(t *testing.T) {
	err := WrapSSH("handshake", "bastion.example.com", 22, fmt.Errorf("connection refused"))
	want := "ssh handshake bastion.example.com:22: connection refused"
	if got := err.Error(); got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestConfigError_Format(t *testing.T) {
	tests := []struct {
		name string
		err  ConfigError
		want string
	}{
		{
			name: "with value and hint",
			err: ConfigError{
				Field:   "handshake-timeout",
				Value:   -1,
				Message: "must be positive",
				Hint:    "use -w 30",
			},
			want: "config: --handshake-timeout=-1: must be positive\n  hint: use -w 30",
		},
		{
			name: "missing value no hint",
			err: ConfigError{
				Field:   "exit-token",
				Message: "must not be empty",
			},
			want: "config: --exit-token: must not be empty",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("got:\n%s\nwant:\n%s", got, tt.want)
			}
		})
	}
}

func TestWrap(t *testing.T) {
	inner := fmt.Errorf("connection reset")
	err := Wrap("read", "carol", inner)

	if err.Op != "read" || err.Addr != "carol" {
		t.Errorf("wrong fields: Op=%q Addr=%q", err.Op, err.Addr)
	}
	if !Is(err, inner) {
		t.Error("should unwrap to inner error")
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"retryable network", &NetworkError{Op: "dial", Addr: "x", Err: io.EOF, Retryable: true}, true},
		{"non-retryable network", &NetworkError{Op: "dial", Addr: "x", Err: io.EOF, Retryable: false}, false},
		{"refused", Wrap("dial", "x", &net.OpError{Op: "dial", Net: "tcp", Err: syscall.ECONNREFUSED}), true},
		{"plain error", fmt.Errorf("boom"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.want {
				t.Errorf("IsRetryable() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsInterrupted(t *testing.T) {
	if !IsInterrupted(fmt.Errorf("read loop: %w", context.Canceled)) {
		t.Error("wrapped context.Canceled should be an interruption")
	}
	if IsInterrupted(io.EOF) {
		t.Error("EOF is not an interruption")
	}
}

func TestSentinels(t *testing.T) {
	sentinels := []error{
		ErrHandshakeTimeout, ErrHandshakeFailed, ErrNotConnected,
		ErrSessionClosed, ErrRelayClosed, ErrUnknownPeer, ErrEmptyIdentity,
		ErrLineTooLong, ErrCircuitOpen, ErrAuthFailed,
	}
	for i, a := range sentinels {
		for j, b := range sentinels {
			if i != j && Is(a, b) {
				t.Errorf("sentinel %d and %d should not match", i, j)
			}
		}
	}
}
