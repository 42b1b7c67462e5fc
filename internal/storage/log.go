package storage

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/conorfennell/cardbrick/internal/domain"
)

// ErrUnrecoverableLog reports corruption inside the body of the replay
// log. The log is authoritative, so this is fatal for new ratings: the
// deck must be treated as read-only until resolved.
var ErrUnrecoverableLog = errors.New("storage: replay log unrecoverable")

// logFieldCount is the fixed field count of one record:
// seq,card_id,grade,prev_ivl,new_ivl,prev_ease,new_ease,unix_ts,kind
const logFieldCount = 9

// Log is the append-only replay log. One record per line, strictly
// increasing sequence numbers, never rewritten in place and never
// purged.
type Log struct {
	path    string
	f       *os.File
	lastSeq int64
	damaged error
}

// OpenLog opens (or creates) the log at path and scans it to find the
// last committed sequence number. A torn trailing record from a crash
// mid-append is truncated away so the next append starts on a fresh
// line. A log with interior corruption still opens, but refuses all
// writes: the deck stays viewable and nothing else.
func OpenLog(path string) (*Log, error) {
	if err := truncateTornTail(path); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open replay log: %w", err)
	}
	l := &Log{path: path, f: f}
	events, err := l.Events()
	switch {
	case errors.Is(err, ErrUnrecoverableLog):
		l.damaged = err
	case err != nil:
		f.Close()
		return nil, err
	default:
		if n := len(events); n > 0 {
			l.lastSeq = events[n-1].Seq
		}
	}
	return l, nil
}

// truncateTornTail drops any bytes after the last newline. Append only
// acknowledges a record after writing it with its newline and syncing,
// so an unterminated tail was never committed and is safe to discard.
func truncateTornTail(path string) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read replay log: %w", err)
	}
	if len(data) == 0 || data[len(data)-1] == '\n' {
		return nil
	}
	keep := int64(bytes.LastIndexByte(data, '\n') + 1)
	if err := os.Truncate(path, keep); err != nil {
		return fmt.Errorf("failed to drop torn record from replay log: %w", err)
	}
	return nil
}

// Append writes one event followed by an fsync. The event is not
// committed until Append returns nil.
func (l *Log) Append(ev domain.RatingEvent) error {
	if l.damaged != nil {
		return l.damaged
	}
	line := encodeEvent(ev)
	if _, err := l.f.WriteString(line + "\n"); err != nil {
		return fmt.Errorf("failed to append event %d: %w", ev.Seq, err)
	}
	if err := l.f.Sync(); err != nil {
		return fmt.Errorf("failed to sync replay log: %w", err)
	}
	l.lastSeq = ev.Seq
	return nil
}

// LastSeq returns the sequence number of the last committed record.
func (l *Log) LastSeq() int64 {
	return l.lastSeq
}

// Damaged returns ErrUnrecoverableLog if the log body is corrupt and
// the deck is therefore read-only, nil otherwise.
func (l *Log) Damaged() error {
	return l.damaged
}

// Events reads the full log in sequence order. A torn final line (a
// crash between write and sync) is dropped; corruption anywhere else
// returns ErrUnrecoverableLog.
func (l *Log) Events() ([]domain.RatingEvent, error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read replay log: %w", err)
	}
	if len(data) == 0 {
		return nil, nil
	}

	lines := strings.Split(string(data), "\n")
	// A complete log ends with a newline, leaving one empty trailing
	// element. Anything after the last newline is a torn append.
	torn := lines[len(lines)-1] != ""
	if !torn {
		lines = lines[:len(lines)-1]
	}

	var events []domain.RatingEvent
	for i, line := range lines {
		ev, err := parseEvent(line)
		if err != nil {
			if torn && i == len(lines)-1 {
				break // incomplete tail from an interrupted append
			}
			return nil, fmt.Errorf("%w: line %d: %v", ErrUnrecoverableLog, i+1, err)
		}
		if n := len(events); n > 0 && ev.Seq <= events[n-1].Seq {
			return nil, fmt.Errorf("%w: line %d: sequence %d not increasing", ErrUnrecoverableLog, i+1, ev.Seq)
		}
		events = append(events, ev)
	}
	return events, nil
}

func encodeEvent(ev domain.RatingEvent) string {
	grade := ""
	if ev.Kind == domain.KindRating {
		grade = ev.Grade.String()
	}
	return strings.Join([]string{
		strconv.FormatInt(ev.Seq, 10),
		strconv.FormatInt(ev.CardID, 10),
		grade,
		strconv.Itoa(ev.PrevInterval),
		strconv.Itoa(ev.NewInterval),
		strconv.FormatFloat(ev.PrevEase, 'g', -1, 64),
		strconv.FormatFloat(ev.NewEase, 'g', -1, 64),
		strconv.FormatInt(ev.Timestamp.Unix(), 10),
		ev.Kind.String(),
	}, ",")
}

func parseEvent(line string) (domain.RatingEvent, error) {
	parts := strings.Split(line, ",")
	if len(parts) != logFieldCount {
		return domain.RatingEvent{}, fmt.Errorf("expected %d fields, got %d", logFieldCount, len(parts))
	}
	var ev domain.RatingEvent
	var err error
	if ev.Seq, err = strconv.ParseInt(parts[0], 10, 64); err != nil {
		return domain.RatingEvent{}, fmt.Errorf("bad sequence %q", parts[0])
	}
	if ev.CardID, err = strconv.ParseInt(parts[1], 10, 64); err != nil {
		return domain.RatingEvent{}, fmt.Errorf("bad card id %q", parts[1])
	}
	if ev.PrevInterval, err = strconv.Atoi(parts[3]); err != nil {
		return domain.RatingEvent{}, fmt.Errorf("bad prev interval %q", parts[3])
	}
	if ev.NewInterval, err = strconv.Atoi(parts[4]); err != nil {
		return domain.RatingEvent{}, fmt.Errorf("bad new interval %q", parts[4])
	}
	if ev.PrevEase, err = strconv.ParseFloat(parts[5], 64); err != nil {
		return domain.RatingEvent{}, fmt.Errorf("bad prev ease %q", parts[5])
	}
	if ev.NewEase, err = strconv.ParseFloat(parts[6], 64); err != nil {
		return domain.RatingEvent{}, fmt.Errorf("bad new ease %q", parts[6])
	}
	ts, err := strconv.ParseInt(parts[7], 10, 64)
	if err != nil {
		return domain.RatingEvent{}, fmt.Errorf("bad timestamp %q", parts[7])
	}
	ev.Timestamp = time.Unix(ts, 0).UTC()

	switch parts[8] {
	case domain.KindRating.String():
		ev.Kind = domain.KindRating
		if err := ev.Grade.UnmarshalText([]byte(parts[2])); err != nil {
			return domain.RatingEvent{}, err
		}
	case domain.KindUndo.String():
		ev.Kind = domain.KindUndo
		if parts[2] != "" {
			return domain.RatingEvent{}, fmt.Errorf("undo record carries grade %q", parts[2])
		}
	default:
		return domain.RatingEvent{}, fmt.Errorf("unknown record kind %q", parts[8])
	}
	return ev, nil
}

// Close closes the underlying file.
func (l *Log) Close() error {
	return l.f.Close()
}
