package clock

import (
	"testing"
	"time"
)

func TestRealClock(t *testing.T) {
	c := &RealClock{}
	before := time.Now()
	now := c.Now()
	if now.Before(before) {
		t.Error("RealClock.Now went backwards")
	}
	if c.Since(before) < 0 {
		t.Error("RealClock.Since returned negative duration")
	}
}

func TestMockClock_SetAndAdvance(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	c := NewMockClock(base)

	if !c.Now().Equal(base) {
		t.Errorf("expected %v, got %v", base, c.Now())
	}

	c.Advance(90 * time.Second)
	want := base.Add(90 * time.Second)
	if !c.Now().Equal(want) {
		t.Errorf("expected %v after advance, got %v", want, c.Now())
	}

	c.Set(base)
	if !c.Now().Equal(base) {
		t.Errorf("Set did not reset time")
	}
}

func TestMockClock_AfterFiresImmediately(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	c := NewMockClock(base)

	select {
	case now := <-c.After(2 * time.Second):
		if !now.Equal(base.Add(2 * time.Second)) {
			t.Errorf("After delivered wrong time: %v", now)
		}
	case <-time.After(time.Second):
		t.Fatal("MockClock.After did not fire")
	}

	c.After(4 * time.Second)
	waits := c.Waits()
	if len(waits) != 2 || waits[0] != 2*time.Second || waits[1] != 4*time.Second {
		t.Errorf("unexpected recorded waits: %v", waits)
	}
}
