// Package entity projects snapshots onto controllable entities:
// switches that map on/off to rule active/paused, and sensors that
// summarize rule and device state.
package entity

import (
	"context"
	"strings"

	"grimm.is/boxwatch/internal/coordinator"
	"grimm.is/boxwatch/internal/msp"
)

// Kind classifies an entity.
type Kind string

const (
	KindSwitch Kind = "switch"
	KindSensor Kind = "sensor"
)

// Entity is one addressable piece of state.
type Entity interface {
	// ID is the stable slug, e.g. "switch.block_aa_bb_cc_dd_ee_01".
	ID() string
	// UID is the per-process unique instance id.
	UID() string
	Name() string
	Kind() Kind
	State() string
	Attributes() map[string]any
}

// Controllable is an entity that accepts turn on/off commands.
type Controllable interface {
	Entity
	TurnOn(ctx context.Context) error
	TurnOff(ctx context.Context) error
}

// Controller is the slice of the coordinator entities act through.
type Controller interface {
	Snapshot() *coordinator.Snapshot
	PauseRule(ctx context.Context, id string) error
	UnpauseRule(ctx context.Context, id string) error
	CreateRule(ctx context.Context, nr msp.NewRule) (msp.Rule, error)
}

// slugify lowercases and replaces separator characters so MACs and
// device names form stable entity ids.
func slugify(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}
