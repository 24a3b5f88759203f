package scheduler

import (
	"context"
	"time"
)

// NewRefreshTask creates the main polling task. The refresh function is
// the coordinator's Refresh; jitter spreads polls across daemons
// sharing a portal.
func NewRefreshTask(refresh func(ctx context.Context) error, interval, timeout, jitter time.Duration) *Task {
	return &Task{
		ID:          "refresh",
		Name:        "Snapshot Refresh",
		Description: "Poll the MSP portal for rules and devices",
		Schedule:    WithJitter(Every(interval), jitter),
		Enabled:     true,
		RunOnStart:  true,
		Timeout:     timeout,
		Func:        refresh,
	}
}

// NewPruneTask creates the nightly journal retention sweep.
func NewPruneTask(prune func() (int64, error)) *Task {
	return &Task{
		ID:          "history-prune",
		Name:        "History Prune",
		Description: "Remove journal entries past the retention period",
		Schedule:    Daily(3, 30),
		Enabled:     true,
		RunOnStart:  false,
		Timeout:     time.Minute,
		Func: func(ctx context.Context) error {
			_, err := prune()
			return err
		},
	}
}

// NewSnapshotAgeTask keeps the snapshot age gauge current between
// refreshes.
func NewSnapshotAgeTask(update func(ctx context.Context) error) *Task {
	return &Task{
		ID:          "snapshot-age",
		Name:        "Snapshot Age",
		Description: "Update the snapshot age gauge",
		Schedule:    Every(15 * time.Second),
		Enabled:     true,
		RunOnStart:  false,
		Timeout:     5 * time.Second,
		Func:        update,
	}
}
