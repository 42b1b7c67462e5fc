package scheduler

import (
	"fmt"

	"github.com/conorfennell/cardbrick/internal/domain"
)

// Replay reconstructs card state from scratch by applying every event
// in sequence order to the imported base state. It uses the same pure
// transition as live rating, so for any prefix of a valid log the
// result is identical to the state the scheduler held when that prefix
// was written.
//
// Undo events restore the affected card to its state before that
// card's most recent un-undone rating, mirroring the live buffer.
func Replay(p *Params, base map[int64]domain.Card, events []domain.RatingEvent) (map[int64]domain.Card, error) {
	if p == nil {
		p = DefaultParams()
	}
	cards := make(map[int64]domain.Card, len(base))
	for id, c := range base {
		cards[id] = c
	}

	// Per-card history of pre-rating states, consumed by undo events.
	history := make(map[int64][]domain.Card)

	var lastSeq int64
	for _, ev := range events {
		if ev.Seq <= lastSeq {
			return nil, fmt.Errorf("%w: sequence %d after %d", ErrLogMismatch, ev.Seq, lastSeq)
		}
		lastSeq = ev.Seq

		c, ok := cards[ev.CardID]
		if !ok {
			return nil, fmt.Errorf("%w: event %d references card %d", ErrLogMismatch, ev.Seq, ev.CardID)
		}

		switch ev.Kind {
		case domain.KindRating:
			history[ev.CardID] = append(history[ev.CardID], c)
			cards[ev.CardID] = p.Next(c, ev.Grade, ev.Timestamp)
		case domain.KindUndo:
			h := history[ev.CardID]
			if len(h) == 0 {
				return nil, fmt.Errorf("%w: event %d undoes card %d with no prior rating", ErrLogMismatch, ev.Seq, ev.CardID)
			}
			cards[ev.CardID] = h[len(h)-1]
			history[ev.CardID] = h[:len(h)-1]
		default:
			return nil, fmt.Errorf("%w: event %d has unknown kind", ErrLogMismatch, ev.Seq)
		}
	}
	return cards, nil
}
