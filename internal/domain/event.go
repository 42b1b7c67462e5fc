package domain

import "time"

// EventKind distinguishes record types in the replay log.
type EventKind int

const (
	// KindRating records one grading of one card.
	KindRating EventKind = iota + 1
	// KindUndo compensates exactly one earlier rating of the same card.
	// History is never rewritten; an undo is a new record.
	KindUndo
)

func (k EventKind) String() string {
	switch k {
	case KindRating:
		return "rate"
	case KindUndo:
		return "undo"
	}
	return "unknown"
}

// RatingEvent is the immutable record of one scheduler action. Created
// by the scheduler, appended to the replay log before the action is
// acknowledged, and never mutated or deleted afterwards.
//
// For KindRating the Prev/New pairs describe the transition the grade
// caused. For KindUndo they describe the abandoned and restored values;
// replay does not consume them, they keep the log self-describing.
type RatingEvent struct {
	Seq          int64
	CardID       int64
	Kind         EventKind
	Grade        Grade // zero for KindUndo
	PrevInterval int
	NewInterval  int
	PrevEase     float64
	NewEase      float64
	Timestamp    time.Time
}
