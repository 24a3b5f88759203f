// Package events provides a unified pub/sub event bus for boxwatch.
// Snapshot updates, rule changes, and command outcomes flow through this hub.
package events

import "time"

// EventType identifies the category of event.
type EventType string

const (
	// Coordinator events
	EventSnapshotUpdated EventType = "snapshot.updated"
	EventRulesChanged    EventType = "rules.changed"
	EventRefreshFailed   EventType = "refresh.failed"
	EventAuthRequired    EventType = "auth.required"

	// Command events
	EventCommandIssued EventType = "command.issued"
	EventCommandFailed EventType = "command.failed"

	// Entity events
	EventEntityState EventType = "entity.state"
)

// Event is the core message passed through the event bus.
type Event struct {
	Type      EventType   `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Source    string      `json:"source"` // Component that emitted: "coordinator", "entity", etc.
	Data      interface{} `json:"data"`   // Type-specific payload
}

// ──────────────────────────────────────────────────────────────────────────────
// Type-Specific Payloads
// ──────────────────────────────────────────────────────────────────────────────

// SnapshotData is the payload for EventSnapshotUpdated.
type SnapshotData struct {
	Generation uint64 `json:"generation"`
	Total      int    `json:"total"`
	Active     int    `json:"active"`
	Paused     int    `json:"paused"`
	Devices    int    `json:"devices"`
}

// RulesChangedData is the payload for EventRulesChanged.
type RulesChangedData struct {
	Added    []string `json:"added"`
	Removed  []string `json:"removed"`
	Modified []string `json:"modified"`
}

// RefreshFailedData is the payload for EventRefreshFailed.
type RefreshFailedData struct {
	Error      string `json:"error"`
	Terminal   bool   `json:"terminal"`
	StaleSince string `json:"stale_since,omitempty"`
}

// CommandData is the payload for command events.
type CommandData struct {
	Command string `json:"command"` // "pause", "unpause", "create"
	RuleID  string `json:"rule_id,omitempty"`
	Error   string `json:"error,omitempty"`
}

// EntityStateData is the payload for EventEntityState.
type EntityStateData struct {
	EntityID string `json:"entity_id"`
	State    string `json:"state"`
}
