package entity

import (
	"strconv"

	"github.com/google/uuid"

	"grimm.is/boxwatch/internal/msp"
)

// RulesSensor summarizes the rule inventory. Its state is the active
// rule count; the full stats and last diff ride along as attributes.
type RulesSensor struct {
	ctrl Controller
	uid  string
}

// NewRulesSensor creates the rules summary sensor.
func NewRulesSensor(ctrl Controller) *RulesSensor {
	return &RulesSensor{ctrl: ctrl, uid: uuid.NewString()}
}

func (s *RulesSensor) ID() string   { return "sensor.rules" }
func (s *RulesSensor) UID() string  { return s.uid }
func (s *RulesSensor) Name() string { return "Firewall Rules" }
func (s *RulesSensor) Kind() Kind   { return KindSensor }

func (s *RulesSensor) State() string {
	snap := s.ctrl.Snapshot()
	if snap == nil {
		return "unavailable"
	}
	return strconv.Itoa(snap.Stats.Active)
}

func (s *RulesSensor) Attributes() map[string]any {
	snap := s.ctrl.Snapshot()
	if snap == nil {
		return nil
	}
	return map[string]any{
		"total":         snap.Stats.Total,
		"active":        snap.Stats.Active,
		"paused":        snap.Stats.Paused,
		"disabled":      snap.Stats.Disabled,
		"by_type":       snap.Stats.ByType,
		"generation":    snap.Generation,
		"fetched_at":    snap.FetchedAt,
		"last_added":    snap.Changes.Added,
		"last_removed":  snap.Changes.Removed,
		"last_modified": snap.Changes.Modified,
	}
}

// DeviceSensor reports one device's presence.
type DeviceSensor struct {
	ctrl Controller
	mac  string
	name string
	uid  string
}

// NewDeviceSensor creates the presence sensor for a device.
func NewDeviceSensor(ctrl Controller, device msp.Device) *DeviceSensor {
	return &DeviceSensor{
		ctrl: ctrl,
		mac:  device.MAC,
		name: device.DisplayName(),
		uid:  uuid.NewString(),
	}
}

func (s *DeviceSensor) ID() string   { return "sensor.device_" + slugify(s.mac) }
func (s *DeviceSensor) UID() string  { return s.uid }
func (s *DeviceSensor) Name() string { return s.name }
func (s *DeviceSensor) Kind() Kind   { return KindSensor }

func (s *DeviceSensor) device() (msp.Device, bool) {
	return s.ctrl.Snapshot().Device(s.mac)
}

func (s *DeviceSensor) State() string {
	d, ok := s.device()
	if !ok {
		return "unavailable"
	}
	if d.Online {
		return "online"
	}
	return "offline"
}

func (s *DeviceSensor) Attributes() map[string]any {
	d, ok := s.device()
	if !ok {
		return nil
	}
	attrs := map[string]any{
		"mac":    d.MAC,
		"online": d.Online,
	}
	if d.IP != "" {
		attrs["ip"] = d.IP
	}
	if d.Hostname != "" {
		attrs["hostname"] = d.Hostname
	}
	if d.DeviceClass != "" {
		attrs["device_class"] = d.DeviceClass
	}
	if !d.LastActive.IsZero() {
		attrs["last_seen"] = d.LastActive
	}
	return attrs
}
