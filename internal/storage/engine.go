// Package storage is the persistence engine for one open deck: an
// append-only replay log that is the source of truth, plus a sqlite
// snapshot that is only an optimization. A single engine instance is
// the sole writer to both files, enforced by an exclusive lock file
// rather than runtime locking.
package storage

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/conorfennell/cardbrick/internal/domain"
	"github.com/conorfennell/cardbrick/internal/scheduler"
)

// ErrDeckLocked reports that another engine instance already owns the
// deck directory.
var ErrDeckLocked = errors.New("storage: deck already open")

const (
	logFile      = "events.log"
	snapshotFile = "snapshot.db"
	lockFile     = "deck.lock"
	mediaDir     = "media"
)

// Engine owns the on-disk state of one deck.
type Engine struct {
	dir    string
	quota  int64
	params *scheduler.Params

	db   *DB
	log  *Log
	lock *os.File
}

// Open acquires the deck directory, creating it if needed. quota is
// the total byte budget for the directory; zero disables enforcement.
func Open(dir string, quota int64, p *scheduler.Params) (*Engine, error) {
	if p == nil {
		p = scheduler.DefaultParams()
	}
	if err := os.MkdirAll(filepath.Join(dir, mediaDir), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create deck directory: %w", err)
	}

	lock, err := os.OpenFile(filepath.Join(dir, lockFile), os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrDeckLocked, dir)
		}
		return nil, fmt.Errorf("failed to acquire deck lock: %w", err)
	}
	fmt.Fprintf(lock, "%d\n", os.Getpid())

	e := &Engine{dir: dir, quota: quota, params: p, lock: lock}

	e.log, err = OpenLog(filepath.Join(dir, logFile))
	if err != nil {
		e.releaseLock()
		return nil, err
	}
	snapPath := filepath.Join(dir, snapshotFile)
	e.db, err = OpenDB(snapPath)
	if err != nil {
		// A snapshot that is not even a database is set aside like any
		// other corruption; the log still holds the truth.
		slog.Warn("snapshot unreadable, setting aside", "dir", dir, "error", err)
		aside := snapPath + ".corrupt." + strconv.FormatInt(time.Now().Unix(), 10)
		if renameErr := os.Rename(snapPath, aside); renameErr == nil {
			e.db, err = OpenDB(snapPath)
		}
	}
	if err != nil {
		e.log.Close()
		e.releaseLock()
		return nil, err
	}

	if err := e.enforceQuota(); err != nil {
		slog.Warn("storage quota enforcement failed", "dir", dir, "error", err)
	}
	return e, nil
}

// Append commits one event to the replay log. Implements
// scheduler.EventWriter.
func (e *Engine) Append(ev domain.RatingEvent) error {
	return e.log.Append(ev)
}

// LastSeq returns the last committed sequence number in the log.
func (e *Engine) LastSeq() int64 {
	return e.log.LastSeq()
}

// Events returns the full replay log, the read-only enumeration used
// by rebuild and by the export surface.
func (e *Engine) Events() ([]domain.RatingEvent, error) {
	return e.log.Events()
}

// Cards returns the snapshot's card rows read-only, for the export
// surface. The live scheduler table, not this, is authoritative while
// the deck is open.
func (e *Engine) Cards() (map[int64]domain.Card, error) {
	cards, _, _, ok, err := e.db.LoadCards()
	if err != nil {
		return nil, err
	}
	if !ok {
		return map[int64]domain.Card{}, nil
	}
	return cards, nil
}

// OpenSnapshot returns the current card state for the deck, preferring
// the snapshot when its sequence marker and checksum agree with the
// log. Any disagreement is treated as corruption: the snapshot file is
// renamed aside for forensics and the state is rebuilt by replaying
// the log over base. rebuilt reports whether that happened.
func (e *Engine) OpenSnapshot(base map[int64]domain.Card) (cards map[int64]domain.Card, rebuilt bool, err error) {
	snapCards, snapSeq, snapSum, ok, loadErr := e.db.LoadCards()
	if damage := e.log.Damaged(); damage != nil {
		// The log cannot be replayed, so the snapshot cannot be
		// verified or rebuilt. Serve the last one written for viewing;
		// Append and Checkpoint refuse until the log is resolved.
		slog.Warn("replay log unrecoverable, deck is read-only", "dir", e.dir, "error", damage)
		if loadErr == nil && ok {
			merged := cloneCards(base)
			for id, c := range snapCards {
				merged[id] = c
			}
			return merged, false, nil
		}
		return cloneCards(base), false, nil
	}
	if loadErr == nil && !ok && e.log.LastSeq() == 0 {
		// Fresh deck: nothing logged, nothing snapshotted.
		if err := e.Checkpoint(base, 0); err != nil {
			return nil, false, err
		}
		return cloneCards(base), false, nil
	}

	if loadErr == nil && ok &&
		snapSeq == e.log.LastSeq() &&
		snapSum == checksumCards(snapCards) {
		merged := cloneCards(base)
		for id, c := range snapCards {
			merged[id] = c
		}
		return merged, false, nil
	}

	if loadErr != nil {
		slog.Warn("snapshot unreadable, rebuilding from log", "dir", e.dir, "error", loadErr)
	} else {
		slog.Warn("snapshot inconsistent with log, rebuilding",
			"dir", e.dir, "snapshot_seq", snapSeq, "log_seq", e.log.LastSeq())
	}

	cards, err = e.Rebuild(base)
	if err != nil {
		return nil, false, err
	}
	return cards, true, nil
}

// Rebuild discards the snapshot (renaming it aside, never deleting)
// and reconstructs card state by replaying the full log over base via
// the same pure transition used live.
func (e *Engine) Rebuild(base map[int64]domain.Card) (map[int64]domain.Card, error) {
	events, err := e.log.Events()
	if err != nil {
		return nil, err
	}

	if err := e.db.Close(); err != nil {
		return nil, fmt.Errorf("failed to close snapshot before rebuild: %w", err)
	}
	snapPath := filepath.Join(e.dir, snapshotFile)
	aside := snapPath + ".corrupt." + strconv.FormatInt(time.Now().Unix(), 10)
	if err := os.Rename(snapPath, aside); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to set aside corrupt snapshot: %w", err)
	}
	e.db, err = OpenDB(snapPath)
	if err != nil {
		return nil, err
	}

	cards, err := scheduler.Replay(e.params, base, events)
	if err != nil {
		return nil, err
	}
	if err := e.Checkpoint(cards, e.log.LastSeq()); err != nil {
		return nil, err
	}
	slog.Info("snapshot rebuilt from replay log", "dir", e.dir, "events", len(events), "cards", len(cards))
	return cards, nil
}

// Checkpoint overwrites the snapshot with the given card table, stamped
// with the sequence number it reflects. Refused while the deck is
// read-only: the stale snapshot is all that is left to view.
func (e *Engine) Checkpoint(cards map[int64]domain.Card, lastSeq int64) error {
	if err := e.log.Damaged(); err != nil {
		return err
	}
	return e.db.ReplaceCards(cards, lastSeq, checksumCards(cards))
}

// ReadOnly reports whether the deck refuses new ratings because the
// replay log is unrecoverable.
func (e *Engine) ReadOnly() bool {
	return e.log.Damaged() != nil
}

// StoreMedia writes one media blob into the deck's media cache and
// re-applies the storage quota.
func (e *Engine) StoreMedia(name string, data []byte) error {
	path := filepath.Join(e.dir, mediaDir, filepath.Base(name))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to store media %s: %w", name, err)
	}
	return e.enforceQuota()
}

// MediaPath returns the on-disk path for a cached media file.
func (e *Engine) MediaPath(name string) string {
	return filepath.Join(e.dir, mediaDir, filepath.Base(name))
}

// enforceQuota keeps the deck directory under the configured byte cap
// by purging the oldest media cache files first. The replay log and
// snapshot are never purged.
func (e *Engine) enforceQuota() error {
	if e.quota <= 0 {
		return nil
	}
	var total int64
	type aux struct {
		path string
		size int64
		mod  time.Time
	}
	var media []aux

	err := filepath.WalkDir(e.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		total += info.Size()
		if filepath.Dir(path) == filepath.Join(e.dir, mediaDir) {
			media = append(media, aux{path: path, size: info.Size(), mod: info.ModTime()})
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to measure deck directory: %w", err)
	}
	if total <= e.quota {
		return nil
	}

	sort.Slice(media, func(i, j int) bool { return media[i].mod.Before(media[j].mod) })
	for _, m := range media {
		if total <= e.quota {
			break
		}
		if err := os.Remove(m.path); err != nil {
			slog.Warn("failed to purge media file", "path", m.path, "error", err)
			continue
		}
		total -= m.size
		slog.Info("purged media file for quota", "path", m.path, "bytes", m.size)
	}
	if total > e.quota {
		slog.Warn("deck over quota after purging media", "dir", e.dir, "bytes", total, "quota", e.quota)
	}
	return nil
}

// Close releases the deck. The snapshot is not implicitly check-
// pointed; callers checkpoint before closing.
func (e *Engine) Close() error {
	var errs []error
	if err := e.db.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := e.log.Close(); err != nil {
		errs = append(errs, err)
	}
	e.releaseLock()
	return errors.Join(errs...)
}

func (e *Engine) releaseLock() {
	e.lock.Close()
	os.Remove(filepath.Join(e.dir, lockFile))
}

// checksumCards hashes the card table in id order so any two equal
// tables produce equal sums regardless of map iteration order.
func checksumCards(cards map[int64]domain.Card) string {
	ids := make([]int64, 0, len(cards))
	for id := range cards {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	h := sha256.New()
	for _, id := range ids {
		c := cards[id]
		var lastReview int64
		if !c.LastReview.IsZero() {
			lastReview = c.LastReview.Unix()
		}
		fmt.Fprintf(h, "%d|%d|%d|%d|%s|%d|%d|%d|%d\n",
			c.ID, c.NoteID, int(c.State), c.Step,
			strconv.FormatFloat(c.Ease, 'g', -1, 64),
			c.IntervalDays, c.Due.Unix(), c.Lapses, lastReview)
	}
	return hex.EncodeToString(h.Sum(nil))
}

func cloneCards(cards map[int64]domain.Card) map[int64]domain.Card {
	out := make(map[int64]domain.Card, len(cards))
	for id, c := range cards {
		out[id] = c
	}
	return out
}
