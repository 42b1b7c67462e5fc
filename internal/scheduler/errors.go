package scheduler

import "errors"

// Sentinel errors. Check with errors.Is.
var (
	// ErrUnknownCard reports a rating or lookup for a card id that is
	// not part of the loaded deck.
	ErrUnknownCard = errors.New("scheduler: unknown card")

	// ErrInvalidGrade reports a grade outside Again..Easy.
	ErrInvalidGrade = errors.New("scheduler: invalid grade")

	// ErrPersistence reports that the durable append failed. The rating
	// was rejected and in-memory state rolled back; the caller may retry.
	ErrPersistence = errors.New("scheduler: rating not persisted")

	// ErrNoUndo reports that fewer ratings exist in the undo buffer
	// than the requested depth.
	ErrNoUndo = errors.New("scheduler: no undo available")

	// ErrInvariantViolation reports a transition that broke a scheduling
	// invariant. Unreachable by construction; the affected card is
	// refused rather than stored in an invalid state.
	ErrInvariantViolation = errors.New("scheduler: invariant violation")

	// ErrLogMismatch reports a replay log that references cards or
	// history the deck does not contain.
	ErrLogMismatch = errors.New("scheduler: replay log does not match deck")
)
