package tone

import (
	"errors"
	"fmt"
	"strings"
)

// Mode selects the rewrite strategy. The set of modes is closed.
type Mode int

const (
	// ModeNeutral leaves text untouched apart from whitespace normalization.
	ModeNeutral Mode = iota
	// ModeFormal expands contractions and slang and drops intensifiers.
	ModeFormal
	// ModeCasual applies the formal-to-casual simplification map.
	ModeCasual
	// ModeConcise drops hedge phrases and intensifiers.
	ModeConcise
)

// ErrUnknownMode is returned when a mode name is not recognized.
var ErrUnknownMode = errors.New("unknown tone mode")

// Modes lists every supported mode.
func Modes() []Mode {
	return []Mode{ModeNeutral, ModeFormal, ModeCasual, ModeConcise}
}

// ParseMode resolves a mode name. Matching ignores case and surrounding
// whitespace; anything else is rejected.
func ParseMode(name string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "neutral":
		return ModeNeutral, nil
	case "formal":
		return ModeFormal, nil
	case "casual":
		return ModeCasual, nil
	case "concise":
		return ModeConcise, nil
	default:
		return ModeNeutral, fmt.Errorf("%w: %q", ErrUnknownMode, name)
	}
}

// Valid reports whether m is one of the supported modes.
func (m Mode) Valid() bool {
	return m >= ModeNeutral && m <= ModeConcise
}

// String returns the configuration name of the mode.
func (m Mode) String() string {
	switch m {
	case ModeNeutral:
		return "neutral"
	case ModeFormal:
		return "formal"
	case ModeCasual:
		return "casual"
	case ModeConcise:
		return "concise"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", int(m))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (m Mode) MarshalText() ([]byte, error) {
	if !m.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownMode, int(m))
	}
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *Mode) UnmarshalText(b []byte) error {
	mode, err := ParseMode(string(b))
	if err != nil {
		return err
	}
	*m = mode
	return nil
}
