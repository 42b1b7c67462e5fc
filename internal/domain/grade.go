package domain

import (
	"encoding"
	"fmt"
)

// Grade is the user's assessment of recall quality for one review.
type Grade int

const (
	Again Grade = iota + 1 // failed to recall
	Hard                   // recalled with significant difficulty
	Good                   // recalled with some effort
	Easy                   // recalled effortlessly
)

var (
	gradeNames  = [...]string{Again: "Again", Hard: "Hard", Good: "Good", Easy: "Easy"}
	gradeByName = map[string]Grade{
		"Again": Again,
		"Hard":  Hard,
		"Good":  Good,
		"Easy":  Easy,
	}
)

// Compile-time interface checks.
var (
	_ fmt.Stringer             = Grade(0)
	_ encoding.TextMarshaler   = Grade(0)
	_ encoding.TextUnmarshaler = (*Grade)(nil)
)

// IsValid reports whether g is one of Again..Easy.
func (g Grade) IsValid() bool {
	return g >= Again && g <= Easy
}

// String returns the grade name, or "Grade(n)" for invalid values.
func (g Grade) String() string {
	if g.IsValid() {
		return gradeNames[g]
	}
	return fmt.Sprintf("Grade(%d)", int(g))
}

// MarshalText implements encoding.TextMarshaler.
func (g Grade) MarshalText() ([]byte, error) {
	if !g.IsValid() {
		return nil, fmt.Errorf("domain: invalid grade: %d", int(g))
	}
	return []byte(gradeNames[g]), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (g *Grade) UnmarshalText(text []byte) error {
	v, ok := gradeByName[string(text)]
	if !ok {
		return fmt.Errorf("domain: invalid grade: %q", text)
	}
	*g = v
	return nil
}
