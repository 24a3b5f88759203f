package msp

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Rule is one firewall policy as reported by the MSP portal, normalized
// from the several shapes the API emits. ID is the only stable key.
type Rule struct {
	ID          string `json:"id"`
	Type        string `json:"type"`   // internet|app|category|domain|ip|gaming|...
	Target      string `json:"target"` // semantics depend on Type: "mac:AA:BB:...", a domain, a tag
	TargetName  string `json:"target_name,omitempty"`
	Action      string `json:"action"` // block|allow|qos
	Status      string `json:"status"` // active|paused
	Paused      bool   `json:"paused"`
	Disabled    bool   `json:"disabled"`
	Priority    int    `json:"priority,omitempty"`
	Direction   string `json:"direction,omitempty"`
	Description string `json:"description,omitempty"`
	DNSOnly     bool   `json:"dns_only,omitempty"`
	ScopeType   string `json:"scope_type,omitempty"`
	ScopeValue  string `json:"scope_value,omitempty"`
	GID         string `json:"gid,omitempty"`

	CreatedAt  time.Time `json:"created_at,omitempty"`
	ModifiedAt time.Time `json:"modified_at,omitempty"`

	// Telemetry, passthrough only.
	HitCount int64     `json:"hit_count,omitempty"`
	LastHit  time.Time `json:"last_hit,omitempty"`

	// Extra preserves vendor fields we do not model, keyed by their
	// original names, so entity adapters can still surface them.
	Extra map[string]json.RawMessage `json:"extra,omitempty"`
}

// Active reports whether the rule is currently enforced.
func (r Rule) Active() bool {
	return !r.Paused && !r.Disabled
}

// DisplayName derives a human-readable name from the description,
// falling back to type/target.
func (r Rule) DisplayName() string {
	if r.Description != "" {
		return r.Description
	}
	if r.Target != "" {
		return r.Type + " " + r.Target
	}
	return r.Type + " rule " + r.ID
}

// NewRule is the payload for creating a rule. The service assigns the id.
type NewRule struct {
	Action      string `json:"action"`
	Type        string `json:"type,omitempty"`
	Target      string `json:"target,omitempty"`
	Description string `json:"description,omitempty"`
	Direction   string `json:"direction,omitempty"`
	GID         string `json:"gid,omitempty"`
}

// Device is a network endpoint known to the box. MAC is the stable key.
type Device struct {
	MAC         string    `json:"mac"`
	Name        string    `json:"name,omitempty"`
	Hostname    string    `json:"hostname,omitempty"`
	IP          string    `json:"ip,omitempty"`
	Online      bool      `json:"online"`
	DeviceClass string    `json:"device_class,omitempty"`
	LastActive  time.Time `json:"last_active,omitempty"`
}

// DisplayName returns the friendliest available device label.
func (d Device) DisplayName() string {
	if d.Name != "" {
		return d.Name
	}
	if d.Hostname != "" {
		return d.Hostname
	}
	return d.MAC
}

// Box is a managed firewall device registered with the MSP portal.
type Box struct {
	GID     string `json:"gid"`
	Name    string `json:"name,omitempty"`
	Model   string `json:"model,omitempty"`
	Version string `json:"version,omitempty"`
	Online  bool   `json:"online"`
}

// EpochTime converts an epoch value of ambiguous unit to a time.Time.
// Values above 1e10 are taken as milliseconds, everything else as
// seconds; zero and negative values yield the zero time.
func EpochTime(v float64) time.Time {
	if v <= 0 {
		return time.Time{}
	}
	if v > 1e10 {
		return time.UnixMilli(int64(v)).UTC()
	}
	sec := int64(v)
	nsec := int64((v - float64(sec)) * 1e9)
	return time.Unix(sec, nsec).UTC()
}

// flexString decodes a JSON value that may be a string or a number.
type flexString string

func (v *flexString) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		*v = ""
		return nil
	}

	var s string
	if err := json.Unmarshal(trimmed, &s); err == nil {
		*v = flexString(s)
		return nil
	}

	var n json.Number
	if err := json.Unmarshal(trimmed, &n); err == nil {
		*v = flexString(n.String())
		return nil
	}

	return fmt.Errorf("unsupported string value: %s", string(trimmed))
}

// flexEpoch decodes an epoch timestamp that may be a number or a
// numeric string, in seconds or milliseconds.
type flexEpoch time.Time

func (v *flexEpoch) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		*v = flexEpoch(time.Time{})
		return nil
	}

	var n json.Number
	if err := json.Unmarshal(trimmed, &n); err == nil {
		f, err := n.Float64()
		if err != nil {
			return fmt.Errorf("invalid epoch value: %s", string(trimmed))
		}
		*v = flexEpoch(EpochTime(f))
		return nil
	}

	var s string
	if err := json.Unmarshal(trimmed, &s); err == nil {
		s = strings.TrimSpace(s)
		if s == "" {
			*v = flexEpoch(time.Time{})
			return nil
		}
		f, err := json.Number(s).Float64()
		if err != nil {
			return fmt.Errorf("invalid epoch string: %q", s)
		}
		*v = flexEpoch(EpochTime(f))
		return nil
	}

	return fmt.Errorf("unsupported epoch value: %s", string(trimmed))
}

func (v flexEpoch) Time() time.Time {
	return time.Time(v)
}
