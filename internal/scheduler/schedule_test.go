package scheduler

import (
	"testing"
	"time"
)

func TestIntervalSchedule(t *testing.T) {
	s := Every(30 * time.Second)
	now := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)

	next := s.Next(now)
	if got, want := next, now.Add(30*time.Second); !got.Equal(want) {
		t.Errorf("Next() = %v, want %v", got, want)
	}
}

func TestJitteredScheduleBounds(t *testing.T) {
	base := Every(time.Minute)
	s := WithJitter(base, 10*time.Second)
	now := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 50; i++ {
		next := s.Next(now)
		delta := next.Sub(now)
		if delta < time.Minute || delta >= 70*time.Second {
			t.Fatalf("jittered delay %v outside [1m, 1m10s)", delta)
		}
	}
}

func TestWithJitterZeroReturnsBase(t *testing.T) {
	base := Every(time.Minute)
	if WithJitter(base, 0) != Schedule(base) {
		t.Error("zero jitter should return the base schedule unchanged")
	}
}

func TestDailySchedule(t *testing.T) {
	s := Daily(3, 30)

	before := time.Date(2026, 9, 1, 2, 0, 0, 0, time.UTC)
	next := s.Next(before)
	if want := time.Date(2026, 9, 1, 3, 30, 0, 0, time.UTC); !next.Equal(want) {
		t.Errorf("Next(before) = %v, want %v", next, want)
	}

	after := time.Date(2026, 9, 1, 4, 0, 0, 0, time.UTC)
	next = s.Next(after)
	if want := time.Date(2026, 9, 2, 3, 30, 0, 0, time.UTC); !next.Equal(want) {
		t.Errorf("Next(after) = %v, want %v", next, want)
	}
}
