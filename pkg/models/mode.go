package models

import "fmt"

// Mode is the operating persona governing the system prompt and which
// tools are exposed for a turn.
type Mode string

const (
	ModeChat      Mode = "chat"
	ModeDebug     Mode = "debug"
	ModeArchitect Mode = "architect"
	ModePlan      Mode = "plan"
	ModeTest      Mode = "test"
	ModeSupport   Mode = "support"
)

// AllModes lists every valid mode.
var AllModes = []Mode{ModeChat, ModeDebug, ModeArchitect, ModePlan, ModeTest, ModeSupport}

// ParseMode validates a mode string. Empty input is not a valid mode.
func ParseMode(s string) (Mode, error) {
	for _, m := range AllModes {
		if string(m) == s {
			return m, nil
		}
	}
	return "", fmt.Errorf("unknown mode %q", s)
}

// Valid reports whether m is one of the defined modes.
func (m Mode) Valid() bool {
	for _, v := range AllModes {
		if m == v {
			return true
		}
	}
	return false
}
