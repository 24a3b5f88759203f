package msp

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// The rules endpoint has emitted three shapes in the wild: a bare JSON
// array, an envelope {"results": [...], "count": N}, and an object
// already keyed by rule id. decodeRecords flattens all three into a
// list of raw records before any field-level parsing happens, so the
// rest of the package sees exactly one representation.
func decodeRecords(data []byte) ([]json.RawMessage, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}

	switch trimmed[0] {
	case '[':
		var list []json.RawMessage
		if err := json.Unmarshal(trimmed, &list); err != nil {
			return nil, fmt.Errorf("decode record array: %w", err)
		}
		return list, nil

	case '{':
		var envelope struct {
			Results *[]json.RawMessage `json:"results"`
		}
		if err := json.Unmarshal(trimmed, &envelope); err == nil && envelope.Results != nil {
			return *envelope.Results, nil
		}

		// No results key: treat as a map keyed by id.
		var keyed map[string]json.RawMessage
		if err := json.Unmarshal(trimmed, &keyed); err != nil {
			return nil, fmt.Errorf("decode record map: %w", err)
		}
		records := make([]json.RawMessage, 0, len(keyed))
		for key, raw := range keyed {
			records = append(records, withFallbackID(raw, key))
		}
		return records, nil

	default:
		return nil, fmt.Errorf("unexpected payload shape: %s", previewJSON(trimmed))
	}
}

// withFallbackID injects the map key as "id" when the record itself
// carries none, so id-keyed payloads survive normalization.
func withFallbackID(raw json.RawMessage, key string) json.RawMessage {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(raw, &probe); err != nil {
		return raw
	}
	if _, ok := probe["id"]; ok {
		return raw
	}
	if _, ok := probe["rid"]; ok {
		return raw
	}
	probe["id"] = json.RawMessage(`"` + key + `"`)
	patched, err := json.Marshal(probe)
	if err != nil {
		return raw
	}
	return patched
}

// ruleFields are the keys parseRule consumes; everything else is
// preserved verbatim in Rule.Extra.
var ruleFields = map[string]bool{
	"id": true, "rid": true, "type": true, "value": true, "target": true,
	"target_name": true, "action": true, "status": true, "disabled": true,
	"priority": true, "direction": true, "description": true, "notes": true,
	"scope": true, "ts": true, "updateTs": true, "createdAt": true,
	"modifiedAt": true, "hit": true, "gid": true,
}

type rawTarget struct {
	Type    string `json:"type"`
	Value   string `json:"value"`
	DNSOnly bool   `json:"dnsOnly"`
}

type rawRule struct {
	ID          flexString      `json:"id"`
	RID         flexString      `json:"rid"`
	Type        string          `json:"type"`
	Value       string          `json:"value"`
	Target      json.RawMessage `json:"target"`
	TargetName  string          `json:"target_name"`
	Action      string          `json:"action"`
	Status      string          `json:"status"`
	Disabled    bool            `json:"disabled"`
	Priority    int             `json:"priority"`
	Direction   string          `json:"direction"`
	Description string          `json:"description"`
	Notes       string          `json:"notes"`
	Scope       *rawTarget      `json:"scope"`
	TS          flexEpoch       `json:"ts"`
	UpdateTS    flexEpoch       `json:"updateTs"`
	CreatedAt   flexEpoch       `json:"createdAt"`
	ModifiedAt  flexEpoch       `json:"modifiedAt"`
	Hit         *struct {
		Count     int64     `json:"count"`
		LastHitTS flexEpoch `json:"lastHitTs"`
	} `json:"hit"`
	GID string `json:"gid"`
}

// parseRule normalizes one raw record into a Rule. Records without a
// usable id are rejected; the caller counts and skips them.
func parseRule(raw json.RawMessage) (Rule, error) {
	var rr rawRule
	if err := json.Unmarshal(raw, &rr); err != nil {
		return Rule{}, fmt.Errorf("malformed rule record: %w", err)
	}

	id := string(rr.ID)
	if id == "" {
		id = string(rr.RID)
	}
	if id == "" {
		return Rule{}, fmt.Errorf("rule record has no id: %s", previewJSON(raw))
	}

	rule := Rule{
		ID:          id,
		Type:        rr.Type,
		Target:      rr.Value,
		TargetName:  rr.TargetName,
		Action:      rr.Action,
		Status:      rr.Status,
		Disabled:    rr.Disabled,
		Priority:    rr.Priority,
		Direction:   rr.Direction,
		Description: rr.Description,
		GID:         rr.GID,
	}

	// Schema drift: target may be a nested {type,value} object or a
	// plain string alongside flat type/value fields. Nested wins.
	if len(rr.Target) > 0 {
		var nested rawTarget
		if err := json.Unmarshal(rr.Target, &nested); err == nil {
			if nested.Type != "" {
				rule.Type = nested.Type
			}
			if nested.Value != "" {
				rule.Target = nested.Value
			}
			rule.DNSOnly = nested.DNSOnly
		} else {
			var flat string
			if err := json.Unmarshal(rr.Target, &flat); err == nil && flat != "" {
				rule.Target = flat
			}
		}
	}

	if rule.Status == "" {
		rule.Status = "active"
	}
	rule.Paused = rule.Status == "paused"

	if rule.Action == "" {
		rule.Action = "block"
	}
	if rule.Description == "" {
		rule.Description = rr.Notes
	}
	if rr.Scope != nil {
		rule.ScopeType = rr.Scope.Type
		rule.ScopeValue = rr.Scope.Value
	}

	rule.CreatedAt = rr.TS.Time()
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = rr.CreatedAt.Time()
	}
	rule.ModifiedAt = rr.UpdateTS.Time()
	if rule.ModifiedAt.IsZero() {
		rule.ModifiedAt = rr.ModifiedAt.Time()
	}

	if rr.Hit != nil {
		rule.HitCount = rr.Hit.Count
		rule.LastHit = rr.Hit.LastHitTS.Time()
	}

	// Preserve vendor fields we do not model.
	var all map[string]json.RawMessage
	if err := json.Unmarshal(raw, &all); err == nil {
		for key, val := range all {
			if ruleFields[key] {
				continue
			}
			if rule.Extra == nil {
				rule.Extra = make(map[string]json.RawMessage)
			}
			rule.Extra[key] = val
		}
	}

	return rule, nil
}

// DecodeRules flattens any accepted payload shape and parses each
// record. Malformed records are skipped, never fatal; the skip count is
// returned for logging and metrics.
func DecodeRules(data []byte) (rules []Rule, skipped int, err error) {
	records, err := decodeRecords(data)
	if err != nil {
		return nil, 0, err
	}

	for _, raw := range records {
		rule, err := parseRule(raw)
		if err != nil {
			skipped++
			continue
		}
		rules = append(rules, rule)
	}
	return rules, skipped, nil
}

type rawDevice struct {
	MAC         string    `json:"mac"`
	Name        string    `json:"name"`
	Hostname    string    `json:"hostname"`
	IP          string    `json:"ip"`
	Online      bool      `json:"online"`
	DeviceClass string    `json:"deviceClass"`
	LastActive  flexEpoch `json:"lastActiveTimestamp"`
}

// DecodeDevices parses a devices payload in any accepted shape.
// Records without a MAC are skipped.
func DecodeDevices(data []byte) (devices []Device, skipped int, err error) {
	records, err := decodeRecords(data)
	if err != nil {
		return nil, 0, err
	}

	for _, raw := range records {
		var rd rawDevice
		if err := json.Unmarshal(raw, &rd); err != nil || rd.MAC == "" {
			skipped++
			continue
		}
		devices = append(devices, Device{
			MAC:         rd.MAC,
			Name:        rd.Name,
			Hostname:    rd.Hostname,
			IP:          rd.IP,
			Online:      rd.Online,
			DeviceClass: rd.DeviceClass,
			LastActive:  rd.LastActive.Time(),
		})
	}
	return devices, skipped, nil
}

// DecodeBoxes parses a boxes payload in any accepted shape.
func DecodeBoxes(data []byte) ([]Box, error) {
	records, err := decodeRecords(data)
	if err != nil {
		return nil, err
	}

	var boxes []Box
	for _, raw := range records {
		var b Box
		if err := json.Unmarshal(raw, &b); err != nil || b.GID == "" {
			continue
		}
		boxes = append(boxes, b)
	}
	return boxes, nil
}

func previewJSON(data []byte) string {
	const limit = 120
	s := string(bytes.TrimSpace(data))
	if len(s) > limit {
		return s[:limit] + "..."
	}
	return s
}
