package entity

import (
	"strings"

	"grimm.is/boxwatch/internal/msp"
)

// Device classes the box tags consoles with.
var gamingClasses = map[string]bool{
	"gaming":       true,
	"game_console": true,
	"gameConsole":  true,
	"playstation":  true,
	"xbox":         true,
	"nintendo":     true,
}

// Name fragments that identify a console when the class is missing.
var gamingKeywords = []string{
	"xbox",
	"playstation",
	"ps4",
	"ps5",
	"nintendo",
	"switch",
	"steam deck",
	"wii",
}

// GamingCapable reports whether a device should get a gaming switch,
// by device class first and name keywords as fallback.
func GamingCapable(d msp.Device) bool {
	if gamingClasses[d.DeviceClass] {
		return true
	}
	name := strings.ToLower(d.DisplayName())
	for _, kw := range gamingKeywords {
		if strings.Contains(name, kw) {
			return true
		}
	}
	return false
}
