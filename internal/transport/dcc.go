package transport

import (
	"context"
	"fmt"
	"io"

	plerr "partyline/internal/errors"
	"partyline/internal/retry"
	"partyline/util"
)

// DCC is the default [Handshaker].  Outbound chats resolve the peer
// through Directory and dial it; inbound chats either reuse the stream
// carried by the request or dial the address the peer offered.
// Retryable dial errors are retried with Backoff until ctx expires.
type DCC struct {
	Dialer    Dialer
	Directory Directory
	Backoff   *retry.Backoff
	Logger    *util.Logger

	// Greeting, when set, is written as the first line on every stream
	// this handshaker dials.
	Greeting string
}

// Connect implements [Handshaker].
func (d *DCC) Connect(ctx context.Context, identity string) (Conn, error) {
	if d.Directory == nil {
		return nil, fmt.Errorf("%w: %q (no directory)", plerr.ErrUnknownPeer, identity)
	}
	addr, err := d.Directory.Resolve(identity)
	if err != nil {
		return nil, err
	}
	return d.dial(ctx, identity, addr)
}

// Accept implements [Handshaker].
func (d *DCC) Accept(ctx context.Context, req Request) (Conn, error) {
	if req.Conn != nil {
		if err := ctx.Err(); err != nil {
			req.Conn.Close()
			return nil, err
		}
		return req.Conn, nil
	}
	if req.Addr == "" {
		return nil, fmt.Errorf("%w: offer from %q carries no address",
			plerr.ErrHandshakeFailed, req.Identity)
	}
	return d.dial(ctx, req.Identity, req.Addr)
}

func (d *DCC) dial(ctx context.Context, identity, addr string) (Conn, error) {
	bo := d.Backoff
	if bo == nil {
		bo = retry.DefaultBackoff()
	}

	var conn Conn
	err := bo.Do(ctx, func(attempt int) error {
		if attempt > 1 && d.Logger != nil {
			d.Logger.Debug("dial %s (%s): attempt %d", identity, addr, attempt)
		}
		c, err := d.Dialer.Dial(ctx, "tcp", addr)
		if err != nil {
			nerr := plerr.Wrap("dial", addr, err)
			if !plerr.IsRetryable(nerr) {
				return retry.Permanent(nerr)
			}
			return nerr
		}
		conn = c
		return nil
	})
	if err != nil {
		return nil, err
	}

	if d.Greeting != "" {
		if _, err := io.WriteString(conn, d.Greeting+"\n"); err != nil {
			conn.Close()
			return nil, plerr.Wrap("write", addr, err)
		}
	}
	return conn, nil
}
