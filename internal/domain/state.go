package domain

import (
	"encoding"
	"fmt"
)

// CardState is the scheduling stage a card is in. The numeric values
// are persisted in the snapshot store and must not be reordered.
type CardState int

const (
	StateNew        CardState = iota // imported, never reviewed
	StateLearning                    // in the initial learning ladder
	StateReview                      // graduated to the long-term cycle
	StateRelearning                  // lapsed, relearning
)

var (
	stateNames  = [...]string{StateNew: "New", StateLearning: "Learning", StateReview: "Review", StateRelearning: "Relearning"}
	stateByName = map[string]CardState{
		"New":        StateNew,
		"Learning":   StateLearning,
		"Review":     StateReview,
		"Relearning": StateRelearning,
	}
)

// Compile-time interface checks.
var (
	_ fmt.Stringer             = CardState(0)
	_ encoding.TextMarshaler   = CardState(0)
	_ encoding.TextUnmarshaler = (*CardState)(nil)
)

// IsValid reports whether s is a known state.
func (s CardState) IsValid() bool {
	return s >= StateNew && s <= StateRelearning
}

// String returns the state name, or "CardState(n)" for invalid values.
func (s CardState) String() string {
	if s.IsValid() {
		return stateNames[s]
	}
	return fmt.Sprintf("CardState(%d)", int(s))
}

// MarshalText implements encoding.TextMarshaler.
func (s CardState) MarshalText() ([]byte, error) {
	if !s.IsValid() {
		return nil, fmt.Errorf("domain: invalid card state: %d", int(s))
	}
	return []byte(stateNames[s]), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *CardState) UnmarshalText(text []byte) error {
	v, ok := stateByName[string(text)]
	if !ok {
		return fmt.Errorf("domain: invalid card state: %q", text)
	}
	*s = v
	return nil
}
