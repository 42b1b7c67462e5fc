// Package scheduler owns the canonical in-memory card table and the
// SM-2-derived transition that advances it. Every rating is made
// durable through an EventWriter before the in-memory state changes;
// the same pure transition is used live and during log replay.
package scheduler

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/conorfennell/cardbrick/internal/domain"
)

// EventWriter is the durable sink for rating events. Append must not
// return nil until the event is safely on stable storage.
type EventWriter interface {
	Append(domain.RatingEvent) error
}

const undoDepthMax = 2

type undoEntry struct {
	prev domain.Card
}

// Scheduler drives reviews for one loaded deck. It is confined to the
// single consumer goroutine; no internal locking.
type Scheduler struct {
	params *Params
	log    EventWriter
	clock  *Clock
	now    func() time.Time

	cards map[int64]domain.Card
	notes map[int64]domain.Note

	undo []undoEntry // most recent last, capped at undoDepthMax

	sessionTotal int
	sessionDone  int
	hardCards    []int64
}

// New builds a scheduler for deck, overlaying any persisted card state
// on top of the freshly imported cards. lastSeq is the last sequence
// number already in the replay log.
func New(deck *domain.Deck, persisted map[int64]domain.Card, lastSeq int64, w EventWriter, p *Params) *Scheduler {
	if p == nil {
		p = DefaultParams()
	}
	cards := deck.CardMap()
	for id, c := range persisted {
		if _, ok := cards[id]; ok {
			cards[id] = c
		}
	}
	return &Scheduler{
		params:       p,
		log:          w,
		clock:        NewClockAt(lastSeq),
		now:          time.Now,
		cards:        cards,
		notes:        deck.Notes,
		sessionTotal: len(cards),
	}
}

// Rate grades a card. The event is appended durably first; on append
// failure the in-memory card is left untouched and the caller sees
// ErrPersistence.
func (s *Scheduler) Rate(cardID int64, g domain.Grade) (domain.Card, error) {
	if !g.IsValid() {
		return domain.Card{}, fmt.Errorf("%w: %d", ErrInvalidGrade, int(g))
	}
	cur, ok := s.cards[cardID]
	if !ok {
		return domain.Card{}, fmt.Errorf("%w: %d", ErrUnknownCard, cardID)
	}

	now := s.now().UTC()
	next := s.params.Next(cur, g, now)
	if err := s.params.Check(next); err != nil {
		return domain.Card{}, fmt.Errorf("card %d graded %s: %w", cardID, g, err)
	}

	ev := domain.RatingEvent{
		Seq:          s.clock.Next(),
		CardID:       cardID,
		Kind:         domain.KindRating,
		Grade:        g,
		PrevInterval: cur.IntervalDays,
		NewInterval:  next.IntervalDays,
		PrevEase:     cur.Ease,
		NewEase:      next.Ease,
		Timestamp:    now,
	}
	if err := s.log.Append(ev); err != nil {
		s.clock.rewind()
		return domain.Card{}, fmt.Errorf("card %d: %w", cardID, errors.Join(ErrPersistence, err))
	}

	s.cards[cardID] = next
	s.pushUndo(undoEntry{prev: cur})

	if g != domain.Again {
		s.sessionDone++
	}
	if g == domain.Hard && !contains(s.hardCards, cardID) {
		s.hardCards = append(s.hardCards, cardID)
	}
	return next, nil
}

// Undo reverts the most recent depth ratings (depth 1 or 2), each to
// the state captured before it, appending one compensating event per
// reverted rating. The undo buffer does not survive a restart.
func (s *Scheduler) Undo(depth int) (domain.Card, error) {
	if depth < 1 || depth > undoDepthMax {
		return domain.Card{}, fmt.Errorf("%w: depth %d", ErrNoUndo, depth)
	}
	if len(s.undo) < depth {
		return domain.Card{}, fmt.Errorf("%w: %d rating(s) buffered, depth %d requested", ErrNoUndo, len(s.undo), depth)
	}

	var restored domain.Card
	for i := 0; i < depth; i++ {
		e := s.undo[len(s.undo)-1]
		cur := s.cards[e.prev.ID]

		ev := domain.RatingEvent{
			Seq:          s.clock.Next(),
			CardID:       e.prev.ID,
			Kind:         domain.KindUndo,
			PrevInterval: cur.IntervalDays,
			NewInterval:  e.prev.IntervalDays,
			PrevEase:     cur.Ease,
			NewEase:      e.prev.Ease,
			Timestamp:    s.now().UTC(),
		}
		if err := s.log.Append(ev); err != nil {
			s.clock.rewind()
			return domain.Card{}, fmt.Errorf("undo card %d: %w", e.prev.ID, errors.Join(ErrPersistence, err))
		}

		s.undo = s.undo[:len(s.undo)-1]
		s.cards[e.prev.ID] = e.prev
		restored = e.prev
	}
	return restored, nil
}

// DueQueue returns the cards due at now, ordered by state priority
// (Relearning, Learning, Review, New), then due time, then card id.
// It never mutates scheduling state and never includes future cards.
func (s *Scheduler) DueQueue(now time.Time) []domain.Card {
	now = now.UTC()
	var due []domain.Card
	for _, c := range s.cards {
		if !c.Due.After(now) {
			due = append(due, c)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		pi, pj := statePriority(due[i].State), statePriority(due[j].State)
		if pi != pj {
			return pi < pj
		}
		if !due[i].Due.Equal(due[j].Due) {
			return due[i].Due.Before(due[j].Due)
		}
		return due[i].ID < due[j].ID
	})
	return due
}

func statePriority(st domain.CardState) int {
	switch st {
	case domain.StateRelearning:
		return 0
	case domain.StateLearning:
		return 1
	case domain.StateReview:
		return 2
	default:
		return 3
	}
}

// Card returns a card by id.
func (s *Scheduler) Card(id int64) (domain.Card, bool) {
	c, ok := s.cards[id]
	return c, ok
}

// Note returns a note by id.
func (s *Scheduler) Note(id int64) (domain.Note, bool) {
	n, ok := s.notes[id]
	return n, ok
}

// Cards returns a copy of the card table, safe to hand to collaborators.
func (s *Scheduler) Cards() map[int64]domain.Card {
	out := make(map[int64]domain.Card, len(s.cards))
	for id, c := range s.cards {
		out[id] = c
	}
	return out
}

// LastSeq returns the sequence number of the last committed event.
func (s *Scheduler) LastSeq() int64 {
	return s.clock.Current()
}

// ReviewsComplete returns the count of non-Again ratings this session.
func (s *Scheduler) ReviewsComplete() int {
	return s.sessionDone
}

// SessionTotal returns the number of cards in the session.
func (s *Scheduler) SessionTotal() int {
	return s.sessionTotal
}

// HardCards returns the ids of cards rated Hard this session, in first-
// rated order.
func (s *Scheduler) HardCards() []int64 {
	out := make([]int64, len(s.hardCards))
	copy(out, s.hardCards)
	return out
}

func (s *Scheduler) pushUndo(e undoEntry) {
	s.undo = append(s.undo, e)
	if len(s.undo) > undoDepthMax {
		s.undo = s.undo[len(s.undo)-undoDepthMax:]
	}
}

func contains(ids []int64, id int64) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
