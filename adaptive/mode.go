package adaptive

import (
	"strings"

	apperrors "github.com/kbukum/flowkit/errors"
)

// Mode is the degree to which an Engine may create and apply strategies.
type Mode int

const (
	// Disabled never consults the learner.
	Disabled Mode = iota
	// Observe records proposals without applying them.
	Observe
	// Validate puts proposals on probation before they become regular strategies.
	Validate
	// Active applies proposals immediately.
	Active
)

func (m Mode) String() string {
	switch m {
	case Disabled:
		return "disabled"
	case Observe:
		return "observe"
	case Validate:
		return "validate"
	case Active:
		return "active"
	default:
		return "unknown"
	}
}

// ParseMode parses a mode name, case-insensitively. The empty string is Observe.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "disabled", "off":
		return Disabled, nil
	case "", "observe":
		return Observe, nil
	case "validate":
		return Validate, nil
	case "active":
		return Active, nil
	default:
		return Disabled, apperrors.Configurationf("unknown learning mode %q", s)
	}
}

func (m Mode) MarshalText() ([]byte, error) { return []byte(m.String()), nil }

func (m *Mode) UnmarshalText(b []byte) error {
	parsed, err := ParseMode(string(b))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}
