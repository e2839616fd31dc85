package util

import (
	"fmt"
	"net"
	"strconv"
)

// FormatAddr returns "host:port".
func FormatAddr(host string, port int) string {
	return net.JoinHostPort(host, strconv.Itoa(port))
}

// SplitAddr validates a "host:port" string to dial and returns its
// parts.
func SplitAddr(addr string) (host string, port int, err error) {
	return splitAddr(addr, 1)
}

// SplitListenAddr is SplitAddr for a bind address, where port 0 asks
// the kernel for any free port.
func SplitListenAddr(addr string) (host string, port int, err error) {
	return splitAddr(addr, 0)
}

func splitAddr(addr string, minPort int) (string, int, error) {
	h, p, err := net.SplitHostPort(addr)
	if err != nil {
		return "", 0, fmt.Errorf("invalid address %q: %w", addr, err)
	}
	port, err := strconv.Atoi(p)
	if err != nil || port < minPort || port > 65535 {
		return "", 0, fmt.Errorf("invalid port in %q", addr)
	}
	return h, port, nil
}

// RemoteHost returns the host part of a connection's remote address,
// or the full address string if it has no port.
func RemoteHost(conn net.Conn) string {
	addr := conn.RemoteAddr().String()
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}

// FindFreePort returns an available TCP port on 127.0.0.1.
func FindFreePort() (int, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, fmt.Errorf("finding free port: %w", err)
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}
