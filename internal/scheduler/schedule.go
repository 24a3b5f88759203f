package scheduler

import (
	"math/rand"
	"time"
)

// IntervalSchedule runs a task at a fixed interval.
type IntervalSchedule struct {
	Interval time.Duration
}

// Every creates an interval schedule.
func Every(d time.Duration) *IntervalSchedule {
	return &IntervalSchedule{Interval: d}
}

// Next returns the next run time.
func (s *IntervalSchedule) Next(after time.Time) time.Time {
	return after.Add(s.Interval)
}

// JitteredSchedule adds uniform random jitter on top of a base
// schedule so many daemons polling the same portal do not line up.
type JitteredSchedule struct {
	Base   Schedule
	Jitter time.Duration
}

// WithJitter wraps a schedule with up to jitter of random delay.
// A non-positive jitter returns the base schedule unchanged.
func WithJitter(base Schedule, jitter time.Duration) Schedule {
	if jitter <= 0 {
		return base
	}
	return &JitteredSchedule{Base: base, Jitter: jitter}
}

// Next returns the next run time with jitter applied.
func (s *JitteredSchedule) Next(after time.Time) time.Time {
	next := s.Base.Next(after)
	if next.IsZero() {
		return next
	}
	return next.Add(time.Duration(rand.Int63n(int64(s.Jitter))))
}

// DailySchedule runs a task at a specific time each day.
type DailySchedule struct {
	Hour   int
	Minute int
}

// Daily creates a daily schedule at the specified time.
func Daily(hour, minute int) *DailySchedule {
	return &DailySchedule{Hour: hour, Minute: minute}
}

// Next returns the next run time.
func (s *DailySchedule) Next(after time.Time) time.Time {
	next := time.Date(after.Year(), after.Month(), after.Day(), s.Hour, s.Minute, 0, 0, after.Location())
	if !next.After(after) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}
