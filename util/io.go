package util

import (
	"bufio"
	"errors"
	"io"
	"net"
	"strings"
	"sync"
)

// DefaultBufSize is the initial line buffer size (4 KiB).  Scanners
// grow past it up to the caller's maximum line length.
const DefaultBufSize = 4 * 1024

// lineBufs recycles initial scanner buffers across sessions.  A buffer
// the scanner outgrows is simply dropped; the pool keeps the original.
var lineBufs = sync.Pool{
	New: func() any {
		buf := make([]byte, DefaultBufSize)
		return &buf
	},
}

// NewLineScanner returns a scanner that splits r into lines of at most
// maxLen bytes, starting from a pooled buffer.  Call release once the
// scanner is no longer used; the scanner must not be used after.
func NewLineScanner(r io.Reader, maxLen int) (sc *bufio.Scanner, release func()) {
	buf := lineBufs.Get().(*[]byte)
	if maxLen < len(*buf) {
		maxLen = len(*buf)
	}
	sc = bufio.NewScanner(r)
	sc.Buffer((*buf)[:0], maxLen)

	var once sync.Once
	return sc, func() { once.Do(func() { lineBufs.Put(buf) }) }
}

// TrimLine strips the trailing carriage return telnet-style clients
// send before the newline.
func TrimLine(line string) string {
	return strings.TrimSuffix(line, "\r")
}

// IsHarmless returns true for errors that are expected when a peer
// hangs up or a connection is closed locally.
func IsHarmless(err error) bool {
	if err == nil {
		return true
	}
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe) {
		return true
	}
	// net.OpError wrapping "use of closed network connection"
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return errors.Is(opErr.Err, net.ErrClosed)
	}
	return false
}
