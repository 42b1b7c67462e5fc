// Package loader coordinates archive extraction, collection reading
// and normalization on a single background goroutine, reporting
// progress to the consumer over an ordered channel. It performs only
// reads; nothing touches the persistence engine until the deck is
// fully validated.
package loader

import (
	"context"
	"log/slog"
	"time"

	"github.com/conorfennell/cardbrick/internal/archive"
	"github.com/conorfennell/cardbrick/internal/domain"
	"github.com/conorfennell/cardbrick/internal/normalize"
	"github.com/conorfennell/cardbrick/internal/scheduler"
)

// Stage names the loader's progress phases.
type Stage string

const (
	StageExtract   Stage = "extract"
	StageNotes     Stage = "notes"
	StageNormalize Stage = "normalize"
	StageCards     Stage = "cards"
)

// Message is one update from the loader. Progress messages arrive in
// order and are followed by exactly one terminal message: Deck set on
// success, Err set on failure. The channel is closed after the
// terminal message, or without one if the context is cancelled first.
type Message struct {
	Stage    Stage
	Fraction float64

	Terminal bool
	Deck     *domain.Deck
	Err      error
}

// Load starts loading the archive at path on a dedicated goroutine and
// returns the message channel. Cancelling ctx discards in-flight work;
// no previously committed persistence state is affected because the
// loader never writes.
func Load(ctx context.Context, path string) <-chan Message {
	ch := make(chan Message, 8)
	go func() {
		defer close(ch)
		run(ctx, path, ch)
	}()
	return ch
}

func run(ctx context.Context, path string, ch chan<- Message) {
	send := func(m Message) bool {
		select {
		case ch <- m:
			return true
		case <-ctx.Done():
			return false
		}
	}
	fail := func(err error) {
		send(Message{Terminal: true, Err: err})
	}

	start := time.Now()
	slog.Info("loading deck", "path", path)

	x, err := archive.Open(path)
	if err != nil {
		fail(err)
		return
	}
	defer x.Close()
	if !send(Message{Stage: StageExtract, Fraction: 0.25}) {
		return
	}

	col, err := archive.ReadCollection(x.DBPath, time.Now(), scheduler.DefaultParams().EaseStart)
	if err != nil {
		fail(err)
		return
	}
	if !send(Message{Stage: StageNotes, Fraction: 0.50}) {
		return
	}

	deck := &domain.Deck{
		Cards:        col.Cards,
		Notes:        col.Notes,
		Texts:        make(map[int64][]domain.DerivedText, len(col.Notes)),
		Media:        x.Media,
		SkippedMedia: x.SkippedMedia,
	}
	for id, note := range col.Notes {
		texts, warnings := normalize.Fields(note.Fields)
		deck.Texts[id] = texts
		deck.Warnings += warnings
		select {
		case <-ctx.Done():
			return
		default:
		}
	}
	if !send(Message{Stage: StageNormalize, Fraction: 0.75}) {
		return
	}

	if !send(Message{Stage: StageCards, Fraction: 1.0}) {
		return
	}

	slog.Info("deck loaded",
		"path", path,
		"cards", len(deck.Cards),
		"notes", len(deck.Notes),
		"media", len(deck.Media),
		"skipped_media", deck.SkippedMedia,
		"warnings", deck.Warnings,
		"elapsed", time.Since(start))
	send(Message{Terminal: true, Deck: deck})
}
