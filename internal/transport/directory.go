package transport

import (
	"fmt"
	"sort"

	plerr "partyline/internal/errors"
)

// Directory maps a remote-party identity to the address its chat
// endpoint listens on.
type Directory interface {
	Resolve(identity string) (string, error)
}

// StaticDirectory is a fixed identity → "host:port" table, filled from
// configuration.
type StaticDirectory map[string]string

// Resolve implements [Directory].
func (d StaticDirectory) Resolve(identity string) (string, error) {
	addr, ok := d[identity]
	if !ok || addr == "" {
		return "", fmt.Errorf("%w: %q", plerr.ErrUnknownPeer, identity)
	}
	return addr, nil
}

// Identities returns the known identities in sorted order.
func (d StaticDirectory) Identities() []string {
	out := make([]string, 0, len(d))
	for id := range d {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
