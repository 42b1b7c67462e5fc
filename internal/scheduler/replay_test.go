package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conorfennell/cardbrick/internal/domain"
)

func TestReplayMatchesLiveState(t *testing.T) {
	s, log := newTestScheduler(t, 1, 2, 3)
	base := s.Cards()

	when := testNow
	s.now = func() time.Time { return when }

	steps := []struct {
		card  int64
		grade domain.Grade
	}{
		{1, domain.Good},
		{2, domain.Again},
		{1, domain.Good},
		{3, domain.Easy},
		{2, domain.Good},
		{1, domain.Good},
	}
	for _, st := range steps {
		_, err := s.Rate(st.card, st.grade)
		require.NoError(t, err)
		when = when.Add(time.Minute)
	}

	rebuilt, err := Replay(DefaultParams(), base, log.events)
	require.NoError(t, err)
	assert.Equal(t, s.Cards(), rebuilt)
}

func TestReplayMatchesLiveStateAfterUndo(t *testing.T) {
	s, log := newTestScheduler(t, 1, 2)
	base := s.Cards()

	_, err := s.Rate(1, domain.Good)
	require.NoError(t, err)
	_, err = s.Rate(2, domain.Again)
	require.NoError(t, err)
	_, err = s.Undo(2)
	require.NoError(t, err)
	_, err = s.Rate(1, domain.Easy)
	require.NoError(t, err)

	rebuilt, err := Replay(DefaultParams(), base, log.events)
	require.NoError(t, err)
	assert.Equal(t, s.Cards(), rebuilt)
}

func TestReplayPrefixMatchesIntermediateState(t *testing.T) {
	s, log := newTestScheduler(t, 1)
	base := s.Cards()

	_, err := s.Rate(1, domain.Good)
	require.NoError(t, err)
	afterOne := s.Cards()
	_, err = s.Rate(1, domain.Good)
	require.NoError(t, err)

	rebuilt, err := Replay(DefaultParams(), base, log.events[:1])
	require.NoError(t, err)
	assert.Equal(t, afterOne, rebuilt)
}

func TestReplayEmptyLog(t *testing.T) {
	base := map[int64]domain.Card{1: newCard(1)}
	rebuilt, err := Replay(DefaultParams(), base, nil)
	require.NoError(t, err)
	assert.Equal(t, base, rebuilt)
}

func TestReplayDoesNotMutateBase(t *testing.T) {
	base := map[int64]domain.Card{1: newCard(1)}
	events := []domain.RatingEvent{
		{Seq: 1, CardID: 1, Kind: domain.KindRating, Grade: domain.Good, Timestamp: testNow},
	}
	_, err := Replay(DefaultParams(), base, events)
	require.NoError(t, err)
	assert.Equal(t, newCard(1), base[1])
}

func TestReplayRejectsNonIncreasingSeq(t *testing.T) {
	base := map[int64]domain.Card{1: newCard(1)}
	events := []domain.RatingEvent{
		{Seq: 1, CardID: 1, Kind: domain.KindRating, Grade: domain.Good, Timestamp: testNow},
		{Seq: 1, CardID: 1, Kind: domain.KindRating, Grade: domain.Good, Timestamp: testNow},
	}
	_, err := Replay(DefaultParams(), base, events)
	assert.ErrorIs(t, err, ErrLogMismatch)
}

func TestReplayRejectsUnknownCard(t *testing.T) {
	base := map[int64]domain.Card{1: newCard(1)}
	events := []domain.RatingEvent{
		{Seq: 1, CardID: 42, Kind: domain.KindRating, Grade: domain.Good, Timestamp: testNow},
	}
	_, err := Replay(DefaultParams(), base, events)
	assert.ErrorIs(t, err, ErrLogMismatch)
}

func TestReplayRejectsOrphanUndo(t *testing.T) {
	base := map[int64]domain.Card{1: newCard(1)}
	events := []domain.RatingEvent{
		{Seq: 1, CardID: 1, Kind: domain.KindUndo, Timestamp: testNow},
	}
	_, err := Replay(DefaultParams(), base, events)
	assert.ErrorIs(t, err, ErrLogMismatch)
}
