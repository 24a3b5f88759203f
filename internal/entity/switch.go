package entity

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"grimm.is/boxwatch/internal/msp"
)

// ruleSwitch maps one (device, rule type) pair onto a switch. On means
// an active matching rule is enforcing; off means the rule is paused or
// absent. Turning off never deletes the rule, so its configuration
// survives round trips.
type ruleSwitch struct {
	ctrl       Controller
	mac        string
	deviceName string
	ruleType   string
	slugPrefix string
	uid        string
}

// NewBlockSwitch creates the internet-block switch for a device.
func NewBlockSwitch(ctrl Controller, device msp.Device) Controllable {
	return &ruleSwitch{
		ctrl:       ctrl,
		mac:        device.MAC,
		deviceName: device.DisplayName(),
		ruleType:   "internet",
		slugPrefix: "block",
		uid:        uuid.NewString(),
	}
}

// NewGamingSwitch creates the gaming-block switch for a device.
func NewGamingSwitch(ctrl Controller, device msp.Device) Controllable {
	return &ruleSwitch{
		ctrl:       ctrl,
		mac:        device.MAC,
		deviceName: device.DisplayName(),
		ruleType:   "gaming",
		slugPrefix: "gaming",
		uid:        uuid.NewString(),
	}
}

func (s *ruleSwitch) ID() string {
	return "switch." + s.slugPrefix + "_" + slugify(s.mac)
}

func (s *ruleSwitch) UID() string { return s.uid }

func (s *ruleSwitch) Name() string {
	switch s.slugPrefix {
	case "gaming":
		return s.deviceName + " Gaming Block"
	default:
		return s.deviceName + " Internet Block"
	}
}

func (s *ruleSwitch) Kind() Kind { return KindSwitch }

// match finds the rule this switch controls: same type, targeting this
// device's MAC, with a block action.
func (s *ruleSwitch) match() (msp.Rule, bool) {
	snap := s.ctrl.Snapshot()
	if snap == nil {
		return msp.Rule{}, false
	}
	want := "mac:" + strings.ToUpper(s.mac)
	for _, r := range snap.Rules {
		if r.Type != s.ruleType || r.Action != "block" {
			continue
		}
		if strings.EqualFold(r.Target, want) {
			return r, true
		}
	}
	return msp.Rule{}, false
}

// IsOn reports whether an active matching rule exists. No matching
// rule is a valid off state, never an error.
func (s *ruleSwitch) IsOn() bool {
	rule, ok := s.match()
	return ok && rule.Active()
}

func (s *ruleSwitch) State() string {
	if s.IsOn() {
		return "on"
	}
	return "off"
}

func (s *ruleSwitch) Attributes() map[string]any {
	attrs := map[string]any{
		"mac":       s.mac,
		"device":    s.deviceName,
		"rule_type": s.ruleType,
	}
	if rule, ok := s.match(); ok {
		attrs["rule_id"] = rule.ID
		attrs["paused"] = rule.Paused
		if !rule.ModifiedAt.IsZero() {
			attrs["rule_modified_at"] = rule.ModifiedAt
		}
	}
	return attrs
}

// TurnOn starts enforcement: unpause the paused rule if one exists,
// create the rule otherwise, no-op if already enforcing.
func (s *ruleSwitch) TurnOn(ctx context.Context) error {
	rule, ok := s.match()
	if ok {
		if rule.Active() {
			return nil
		}
		return s.ctrl.UnpauseRule(ctx, rule.ID)
	}

	_, err := s.ctrl.CreateRule(ctx, msp.NewRule{
		Action:      "block",
		Type:        s.ruleType,
		Target:      "mac:" + strings.ToUpper(s.mac),
		Description: s.Name(),
	})
	return err
}

// TurnOff pauses the active rule. The rule is kept so its settings
// survive; absence of a rule is already off.
func (s *ruleSwitch) TurnOff(ctx context.Context) error {
	rule, ok := s.match()
	if !ok || !rule.Active() {
		return nil
	}
	return s.ctrl.PauseRule(ctx, rule.ID)
}
