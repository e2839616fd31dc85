// Package core is the orchestration layer.  It composes the relay,
// its transports and its capabilities into a runnable mode and
// provides a builder that assembles that mode from a Config.
//
// Architecture layers (bottom → top):
//
//	transport  →  session  →  registry  →  relay  →  capability  →  core  →  cmd (CLI)
package core

import "context"

// Mode represents a complete operational mode of partyline.  Each mode
// owns its full lifecycle from startup to teardown.
type Mode interface {
	Run(ctx context.Context) error
}
