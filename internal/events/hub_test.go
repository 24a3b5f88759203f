package events

import (
	"testing"
	"time"
)

func TestHub_PublishSubscribe(t *testing.T) {
	h := NewHub()
	ch := h.Subscribe(10, EventSnapshotUpdated)

	h.EmitSnapshotUpdated(1, 3, 2, 1, 5)

	select {
	case e := <-ch:
		if e.Type != EventSnapshotUpdated {
			t.Errorf("wrong type: %s", e.Type)
		}
		data, ok := e.Data.(SnapshotData)
		if !ok {
			t.Fatalf("wrong payload type: %T", e.Data)
		}
		if data.Generation != 1 || data.Total != 3 {
			t.Errorf("wrong payload: %+v", data)
		}
		if e.Timestamp.IsZero() {
			t.Error("timestamp not set")
		}
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}
}

func TestHub_TypeFiltering(t *testing.T) {
	h := NewHub()
	ch := h.Subscribe(10, EventRulesChanged)

	h.EmitSnapshotUpdated(1, 0, 0, 0, 0)
	h.EmitRulesChanged([]string{"r1"}, nil, nil)

	select {
	case e := <-ch:
		if e.Type != EventRulesChanged {
			t.Errorf("filter leaked event type %s", e.Type)
		}
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}

	select {
	case e := <-ch:
		t.Errorf("unexpected second event: %s", e.Type)
	default:
	}
}

func TestHub_GlobalSubscription(t *testing.T) {
	h := NewHub()
	ch := h.Subscribe(10)

	h.EmitAuthRequired("token rejected")
	h.EmitCommand("pause", "r1", nil)

	for i := 0; i < 2; i++ {
		select {
		case <-ch:
		case <-time.After(time.Second):
			t.Fatalf("global subscriber got %d of 2 events", i)
		}
	}
}

func TestHub_NonBlockingDrop(t *testing.T) {
	h := NewHub()
	h.Subscribe(1, EventCommandIssued)

	// Second publish overflows the 1-slot buffer and must not block.
	done := make(chan struct{})
	go func() {
		h.EmitCommand("pause", "r1", nil)
		h.EmitCommand("pause", "r2", nil)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on full subscriber")
	}

	_, dropped := h.Stats()
	if dropped != 1 {
		t.Errorf("expected 1 dropped event, got %d", dropped)
	}
}

func TestHub_Unsubscribe(t *testing.T) {
	h := NewHub()
	ch := h.Subscribe(10, EventRulesChanged)
	h.Unsubscribe(ch)

	h.EmitRulesChanged([]string{"r1"}, nil, nil)

	select {
	case e := <-ch:
		t.Errorf("received event after unsubscribe: %s", e.Type)
	default:
	}
}
