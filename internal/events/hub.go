package events

import (
	"sync"
	"time"
)

// Hub is the central event bus for boxwatch.
// It provides pub/sub semantics with typed events and non-blocking fan-out.
type Hub struct {
	mu   sync.RWMutex
	subs map[EventType][]chan Event

	// Global subscribers receive all events
	global []chan Event

	published uint64
	dropped   uint64
}

// NewHub creates a new event hub.
func NewHub() *Hub {
	return &Hub{
		subs: make(map[EventType][]chan Event),
	}
}

// Publish sends an event to all subscribers of that event type.
// This is non-blocking - if a subscriber's channel is full, the event is dropped.
func (h *Hub) Publish(e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	h.published++

	for _, ch := range h.subs[e.Type] {
		select {
		case ch <- e:
		default:
			h.dropped++
		}
	}

	for _, ch := range h.global {
		select {
		case ch <- e:
		default:
			h.dropped++
		}
	}
}

// Subscribe returns a channel that receives events of the specified types.
// If no types are specified, subscribes to all events.
// The caller is responsible for draining the channel to avoid drops.
func (h *Hub) Subscribe(bufSize int, types ...EventType) <-chan Event {
	if bufSize <= 0 {
		bufSize = 256
	}

	ch := make(chan Event, bufSize)

	h.mu.Lock()
	defer h.mu.Unlock()

	if len(types) == 0 {
		h.global = append(h.global, ch)
	} else {
		for _, t := range types {
			h.subs[t] = append(h.subs[t], ch)
		}
	}

	return ch
}

// Unsubscribe removes a channel from all subscriptions.
// The channel is NOT closed by this method.
func (h *Hub) Unsubscribe(ch <-chan Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.global = removeFromSlice(h.global, ch)

	for t, subs := range h.subs {
		h.subs[t] = removeFromSlice(subs, ch)
	}
}

// Stats returns publish/drop counts for monitoring.
func (h *Hub) Stats() (published, dropped uint64) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.published, h.dropped
}

func removeFromSlice(slice []chan Event, target <-chan Event) []chan Event {
	result := make([]chan Event, 0, len(slice))
	for _, ch := range slice {
		if ch != target {
			result = append(result, ch)
		}
	}
	return result
}

// ──────────────────────────────────────────────────────────────────────────────
// Convenience Methods
// ──────────────────────────────────────────────────────────────────────────────

// EmitSnapshotUpdated publishes a snapshot replacement event.
func (h *Hub) EmitSnapshotUpdated(generation uint64, total, active, paused, devices int) {
	h.Publish(Event{
		Type:   EventSnapshotUpdated,
		Source: "coordinator",
		Data: SnapshotData{
			Generation: generation,
			Total:      total,
			Active:     active,
			Paused:     paused,
			Devices:    devices,
		},
	})
}

// EmitRulesChanged publishes a rule diff event.
func (h *Hub) EmitRulesChanged(added, removed, modified []string) {
	h.Publish(Event{
		Type:   EventRulesChanged,
		Source: "coordinator",
		Data: RulesChangedData{
			Added:    added,
			Removed:  removed,
			Modified: modified,
		},
	})
}

// EmitAuthRequired publishes a terminal-auth-failure event.
func (h *Hub) EmitAuthRequired(reason string) {
	h.Publish(Event{
		Type:   EventAuthRequired,
		Source: "coordinator",
		Data:   RefreshFailedData{Error: reason, Terminal: true},
	})
}

// EmitCommand publishes a command outcome event.
func (h *Hub) EmitCommand(command, ruleID string, err error) {
	data := CommandData{Command: command, RuleID: ruleID}
	typ := EventCommandIssued
	if err != nil {
		typ = EventCommandFailed
		data.Error = err.Error()
	}
	h.Publish(Event{Type: typ, Source: "coordinator", Data: data})
}
