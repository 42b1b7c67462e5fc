package domain

import "time"

// Card is a single reviewable unit derived from one Note.
type Card struct {
	ID           int64
	NoteID       int64
	State        CardState
	Step         int // position in the learning/relearning ladder; 0 outside it
	Ease         float64
	IntervalDays int
	Due          time.Time
	Lapses       int
	LastReview   time.Time // zero before the first review
}

// Note holds the raw imported content a card is generated from.
// Fields are raw HTML strings in deck order (Front, Back for the Basic
// layout). Notes are immutable after import.
type Note struct {
	ID     int64
	Fields []string
}

// DerivedText is the pair of plain-text renditions computed from one
// note field. Both renditions always come from the same normalization
// pass over the same source HTML.
type DerivedText struct {
	// Kanji is the base text with furigana annotations discarded.
	Kanji string
	// Furigana is the base text with readings expanded inline as
	// base(reading).
	Furigana string
}

// Deck is the fully loaded, normalized form of one archive. It is built
// once by the loader and read-only afterwards.
type Deck struct {
	Cards []Card
	Notes map[int64]Note
	// Texts holds one DerivedText per note field, keyed by note id.
	Texts map[int64][]DerivedText
	// Media maps logical media filenames to their decoded bytes.
	Media map[string][]byte
	// Warnings counts non-fatal content loss during normalization.
	Warnings int
	// SkippedMedia counts media entries dropped during extraction.
	SkippedMedia int
}

// CardMap returns the deck's cards keyed by id.
func (d *Deck) CardMap() map[int64]Card {
	m := make(map[int64]Card, len(d.Cards))
	for _, c := range d.Cards {
		m[c.ID] = c
	}
	return m
}
