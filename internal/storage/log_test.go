package storage

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conorfennell/cardbrick/internal/domain"
)

var logNow = time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC)

func sampleEvents() []domain.RatingEvent {
	return []domain.RatingEvent{
		{Seq: 1, CardID: 10, Kind: domain.KindRating, Grade: domain.Good,
			PrevInterval: 0, NewInterval: 1, PrevEase: 2.5, NewEase: 2.5, Timestamp: logNow},
		{Seq: 2, CardID: 10, Kind: domain.KindRating, Grade: domain.Again,
			PrevInterval: 1, NewInterval: 0, PrevEase: 2.5, NewEase: 2.3, Timestamp: logNow.Add(time.Minute)},
		{Seq: 3, CardID: 10, Kind: domain.KindUndo,
			PrevInterval: 0, NewInterval: 1, PrevEase: 2.3, NewEase: 2.5, Timestamp: logNow.Add(2 * time.Minute)},
	}
}

func TestLogRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.log")
	l, err := OpenLog(path)
	require.NoError(t, err)
	defer l.Close()

	want := sampleEvents()
	for _, ev := range want {
		require.NoError(t, l.Append(ev))
	}
	assert.Equal(t, int64(3), l.LastSeq())

	got, err := l.Events()
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestLogEaseSurvivesRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.log")
	l, err := OpenLog(path)
	require.NoError(t, err)
	defer l.Close()

	// Repeated multiplications leave eases that do not print tidily.
	ease := 2.5
	for i := 0; i < 5; i++ {
		ease = ease*1.2 - 0.15
	}
	require.NoError(t, l.Append(domain.RatingEvent{
		Seq: 1, CardID: 1, Kind: domain.KindRating, Grade: domain.Hard,
		PrevEase: ease, NewEase: ease - 0.15, Timestamp: logNow,
	}))

	got, err := l.Events()
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, ease, got[0].PrevEase)
	assert.Equal(t, ease-0.15, got[0].NewEase)
}

func TestLogResumesLastSeq(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.log")
	l, err := OpenLog(path)
	require.NoError(t, err)
	for _, ev := range sampleEvents() {
		require.NoError(t, l.Append(ev))
	}
	require.NoError(t, l.Close())

	reopened, err := OpenLog(path)
	require.NoError(t, err)
	defer reopened.Close()
	assert.Equal(t, int64(3), reopened.LastSeq())
}

func TestLogDropsTornTail(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.log")
	l, err := OpenLog(path)
	require.NoError(t, err)
	for _, ev := range sampleEvents() {
		require.NoError(t, l.Append(ev))
	}
	require.NoError(t, l.Close())

	// Simulate a crash mid-append: a partial record with no newline.
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString("4,10,go")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	reopened, err := OpenLog(path)
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.Events()
	require.NoError(t, err)
	assert.Len(t, got, 3, "the torn record is dropped, the rest survives")
	assert.Equal(t, int64(3), reopened.LastSeq())
}

func TestLogAppendAfterTornTail(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.log")
	l, err := OpenLog(path)
	require.NoError(t, err)
	require.NoError(t, l.Append(sampleEvents()[0]))
	require.NoError(t, l.Close())

	// Crash mid-append, then keep reviewing after restart.
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString("2,10,go")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	reopened, err := OpenLog(path)
	require.NoError(t, err)
	defer reopened.Close()
	require.Equal(t, int64(1), reopened.LastSeq())

	next := sampleEvents()[1]
	require.NoError(t, reopened.Append(next))

	got, err := reopened.Events()
	require.NoError(t, err, "a new record must not fuse with the torn bytes")
	require.Len(t, got, 2)
	assert.Equal(t, int64(1), got[0].Seq)
	assert.Equal(t, next, got[1])
}

func TestLogTruncatesUnterminatedRecordOnOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.log")
	l, err := OpenLog(path)
	require.NoError(t, err)
	require.NoError(t, l.Append(sampleEvents()[0]))
	require.NoError(t, l.Close())

	// A crash can lose just the trailing newline of an otherwise
	// complete record; it was never acknowledged, so it is dropped.
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString("2,10,Good,1,2,2.5,2.5,1767348060,rate")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	reopened, err := OpenLog(path)
	require.NoError(t, err)
	defer reopened.Close()
	assert.Equal(t, int64(1), reopened.LastSeq())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, len(data) > 0 && data[len(data)-1] == '\n',
		"the log ends on a record boundary after reopening")
}

func TestLogInteriorCorruptionRefusesWrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.log")
	l, err := OpenLog(path)
	require.NoError(t, err)
	for _, ev := range sampleEvents() {
		require.NoError(t, l.Append(ev))
	}
	require.NoError(t, l.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	data[0] = 'x' // mangle the first record's sequence
	require.NoError(t, os.WriteFile(path, data, 0o644))

	reopened, err := OpenLog(path)
	require.NoError(t, err, "a corrupt log still opens for viewing")
	defer reopened.Close()

	assert.ErrorIs(t, reopened.Damaged(), ErrUnrecoverableLog)
	assert.ErrorIs(t, reopened.Append(sampleEvents()[0]), ErrUnrecoverableLog)
	_, err = reopened.Events()
	assert.ErrorIs(t, err, ErrUnrecoverableLog)
}

func TestLogRejectsNonIncreasingSeq(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.log")
	l, err := OpenLog(path)
	require.NoError(t, err)
	require.NoError(t, l.Append(domain.RatingEvent{
		Seq: 5, CardID: 1, Kind: domain.KindRating, Grade: domain.Good, Timestamp: logNow,
	}))
	require.NoError(t, l.Append(domain.RatingEvent{
		Seq: 5, CardID: 1, Kind: domain.KindRating, Grade: domain.Good, Timestamp: logNow,
	}))
	_, err = l.Events()
	assert.ErrorIs(t, err, ErrUnrecoverableLog)
	l.Close()
}

func TestParseEventRejectsUndoWithGrade(t *testing.T) {
	_, err := parseEvent("1,10,good,0,1,2.5,2.5,1767348000,undo")
	assert.Error(t, err)
}

func TestParseEventRejectsUnknownKind(t *testing.T) {
	_, err := parseEvent("1,10,good,0,1,2.5,2.5,1767348000,merge")
	assert.Error(t, err)
}
