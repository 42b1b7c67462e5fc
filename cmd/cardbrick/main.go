package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/conorfennell/cardbrick/internal/config"
	"github.com/conorfennell/cardbrick/internal/domain"
	"github.com/conorfennell/cardbrick/internal/gitsource"
	"github.com/conorfennell/cardbrick/internal/loader"
	"github.com/conorfennell/cardbrick/internal/scheduler"
	"github.com/conorfennell/cardbrick/internal/storage"
)

func main() {
	defaults := config.Default()

	flags := pflag.NewFlagSet("cardbrick", pflag.ExitOnError)
	configPath := flags.String("config", "", "Path to a YAML config file")
	deckPath := flags.String("deck", "", "Path to the .apkg deck archive (defaults to the first archive in the decks directory)")
	review := flags.Bool("review", false, "Start an interactive review session")
	flags.String("data-dir", defaults.DataDir, "Directory for per-deck persistence state")
	flags.String("decks-dir", defaults.DecksDir, "Directory scanned for deck archives")
	flags.String("deck-source", defaults.DeckSource, "Git repository of deck archives to sync into the decks directory")
	flags.Int64("quota-bytes", defaults.QuotaBytes, "Byte cap for a deck's persistence directory (0 disables)")
	flags.Parse(os.Args[1:])

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, nil)))

	cfg, err := config.Load(*configPath, flags)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	params := scheduler.DefaultParams()
	params.EaseFloor = cfg.EaseFloor
	params.LearningSteps = cfg.LearningSteps
	params.RelearnStep = cfg.RelearnStep

	if cfg.DeckSource != "" {
		if err := gitsource.Sync(cfg.DeckSource, cfg.DecksDir); err != nil {
			log.Fatalf("Failed to sync deck source: %v", err)
		}
	}

	path := *deckPath
	if path == "" {
		path, err = firstDeck(cfg.DecksDir)
		if err != nil {
			log.Fatalf("No deck to load: %v", err)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	deck, err := awaitDeck(ctx, path)
	if err != nil {
		log.Fatalf("Failed to load deck %s: %v", path, err)
	}

	deckID := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	engine, err := storage.Open(filepath.Join(cfg.DataDir, deckID), cfg.QuotaBytes, params)
	if err != nil {
		log.Fatalf("Failed to open deck storage: %v", err)
	}
	defer engine.Close()
	if engine.ReadOnly() {
		slog.Warn("replay log unrecoverable: deck is read-only, ratings will not be saved", "deck", deckID)
	}

	for name, data := range deck.Media {
		if err := engine.StoreMedia(name, data); err != nil {
			slog.Warn("failed to cache media", "name", name, "error", err)
		}
	}

	cards, rebuilt, err := engine.OpenSnapshot(deck.CardMap())
	if err != nil {
		log.Fatalf("Failed to open card state: %v", err)
	}
	if rebuilt {
		slog.Info("card state rebuilt from replay log", "deck", deckID)
	}

	sched := scheduler.New(deck, cards, engine.LastSeq(), engine, params)

	due := sched.DueQueue(time.Now())
	fmt.Printf("Deck %s: %d cards, %d due", deckID, sched.SessionTotal(), len(due))
	if deck.Warnings > 0 || deck.SkippedMedia > 0 {
		fmt.Printf(" (%d content warnings, %d media skipped)", deck.Warnings, deck.SkippedMedia)
	}
	fmt.Println()

	if *review {
		runReview(sched, deck)
	} else {
		for _, c := range due {
			fmt.Printf("  #%d [%s] %s\n", c.ID, c.State, front(deck, c))
		}
	}

	if !engine.ReadOnly() {
		if err := engine.Checkpoint(sched.Cards(), sched.LastSeq()); err != nil {
			log.Fatalf("Failed to write snapshot: %v", err)
		}
	}
}

// firstDeck returns the first .apkg archive in dir.
func firstDeck(dir string) (string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*.apkg"))
	if err != nil {
		return "", err
	}
	if len(matches) == 0 {
		return "", fmt.Errorf("no .apkg archives in %s", dir)
	}
	return matches[0], nil
}

// awaitDeck consumes the loader channel, logging progress, until the
// terminal message arrives.
func awaitDeck(ctx context.Context, path string) (*domain.Deck, error) {
	for msg := range loader.Load(ctx, path) {
		if msg.Terminal {
			return msg.Deck, msg.Err
		}
		slog.Info("loading", "stage", msg.Stage, "progress", msg.Fraction)
	}
	return nil, ctx.Err()
}

// runReview is a minimal stand-in for the device's input layer: fronts
// and backs on stdout, grades and undo on stdin.
func runReview(sched *scheduler.Scheduler, deck *domain.Deck) {
	in := bufio.NewScanner(os.Stdin)
	for {
		due := sched.DueQueue(time.Now())
		if len(due) == 0 {
			fmt.Printf("Session complete: %d/%d reviews.\n", sched.ReviewsComplete(), sched.SessionTotal())
			if hard := sched.HardCards(); len(hard) > 0 {
				fmt.Printf("Rated hard this session: %v\n", hard)
			}
			return
		}
		card := due[0]

		fmt.Printf("\n[%d due] %s\n", len(due), front(deck, card))
		fmt.Print("(enter = show answer, q = quit) ")
		if !in.Scan() || in.Text() == "q" {
			return
		}
		fmt.Println(back(deck, card))
		fmt.Print("1) Again  2) Hard  3) Good  4) Easy  u) undo  q) quit: ")
		if !in.Scan() {
			return
		}

		switch strings.TrimSpace(in.Text()) {
		case "1", "2", "3", "4":
			g := domain.Grade(in.Text()[0] - '0')
			if _, err := sched.Rate(card.ID, g); err != nil {
				if errors.Is(err, scheduler.ErrPersistence) {
					fmt.Println("Rating not saved, please retry:", err)
					continue
				}
				log.Fatalf("Rating failed: %v", err)
			}
		case "u":
			if _, err := sched.Undo(1); err != nil {
				fmt.Println("Cannot undo:", err)
			}
		case "q":
			return
		}
	}
}

func front(deck *domain.Deck, c domain.Card) string {
	return fieldText(deck, c, 0)
}

func back(deck *domain.Deck, c domain.Card) string {
	return fieldText(deck, c, 1)
}

func fieldText(deck *domain.Deck, c domain.Card, i int) string {
	texts := deck.Texts[c.NoteID]
	if i >= len(texts) {
		return ""
	}
	return texts[i].Furigana
}
