package coordinator

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/pmezard/go-difflib/difflib"

	"grimm.is/boxwatch/internal/msp"
)

// Snapshot is one consistent view of upstream state. It is built once
// per refresh and replaced wholesale; readers hold the pointer they got
// and never see partial updates.
type Snapshot struct {
	Generation uint64                `json:"generation"`
	FetchedAt  time.Time             `json:"fetched_at"`
	Rules      map[string]msp.Rule   `json:"rules"`
	Devices    map[string]msp.Device `json:"devices"`
	Stats      Stats                 `json:"stats"`
	Changes    Changes               `json:"changes"`
}

// Rule looks up a rule by id.
func (s *Snapshot) Rule(id string) (msp.Rule, bool) {
	if s == nil {
		return msp.Rule{}, false
	}
	r, ok := s.Rules[id]
	return r, ok
}

// Device looks up a device by MAC.
func (s *Snapshot) Device(mac string) (msp.Device, bool) {
	if s == nil {
		return msp.Device{}, false
	}
	d, ok := s.Devices[mac]
	return d, ok
}

// RuleList returns the rules sorted by id.
func (s *Snapshot) RuleList() []msp.Rule {
	if s == nil {
		return nil
	}
	out := make([]msp.Rule, 0, len(s.Rules))
	for _, r := range s.Rules {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// DeviceList returns the devices sorted by MAC.
func (s *Snapshot) DeviceList() []msp.Device {
	if s == nil {
		return nil
	}
	out := make([]msp.Device, 0, len(s.Devices))
	for _, d := range s.Devices {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MAC < out[j].MAC })
	return out
}

// Stats summarizes a rule set. Active, Paused and Disabled are
// disjoint: a disabled rule is counted as disabled even if its status
// still reads paused.
type Stats struct {
	Total    int            `json:"total"`
	Active   int            `json:"active"`
	Paused   int            `json:"paused"`
	Disabled int            `json:"disabled"`
	ByType   map[string]int `json:"by_type"`
}

// calculateStats buckets rules three ways and counts per type. An
// empty or nil input yields zeros with an empty ByType map.
func calculateStats(rules map[string]msp.Rule) Stats {
	stats := Stats{ByType: make(map[string]int)}
	for _, r := range rules {
		stats.Total++
		switch {
		case r.Disabled:
			stats.Disabled++
		case r.Paused:
			stats.Paused++
		default:
			stats.Active++
		}
		if r.Type != "" {
			stats.ByType[r.Type]++
		}
	}
	return stats
}

// Changes records the id-level diff between two consecutive snapshots.
type Changes struct {
	Added    []string `json:"added"`
	Removed  []string `json:"removed"`
	Modified []string `json:"modified"`
}

// Empty reports whether the diff carries no changes.
func (c Changes) Empty() bool {
	return len(c.Added) == 0 && len(c.Removed) == 0 && len(c.Modified) == 0
}

// detectChanges diffs two rule sets by id. A rule counts as modified
// when its paused flag, disabled flag, or modification timestamp
// differ. Output slices are sorted for stable event payloads.
func detectChanges(prev, curr map[string]msp.Rule) Changes {
	var c Changes
	for id, rule := range curr {
		old, ok := prev[id]
		if !ok {
			c.Added = append(c.Added, id)
			continue
		}
		if old.Paused != rule.Paused || old.Disabled != rule.Disabled || !old.ModifiedAt.Equal(rule.ModifiedAt) {
			c.Modified = append(c.Modified, id)
		}
	}
	for id := range prev {
		if _, ok := curr[id]; !ok {
			c.Removed = append(c.Removed, id)
		}
	}
	sort.Strings(c.Added)
	sort.Strings(c.Removed)
	sort.Strings(c.Modified)
	return c
}

// ruleDiff renders a unified diff of two rule versions for debug logs.
func ruleDiff(prev, curr msp.Rule) string {
	a, err := json.MarshalIndent(prev, "", "  ")
	if err != nil {
		return ""
	}
	b, err := json.MarshalIndent(curr, "", "  ")
	if err != nil {
		return ""
	}
	text, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(string(a) + "\n"),
		B:        difflib.SplitLines(string(b) + "\n"),
		FromFile: fmt.Sprintf("rule %s (previous)", prev.ID),
		ToFile:   fmt.Sprintf("rule %s (current)", curr.ID),
		Context:  2,
	})
	if err != nil {
		return ""
	}
	return text
}
