package scheduler

import (
	"math"
	"time"

	"github.com/conorfennell/cardbrick/internal/domain"
)

// Params holds the tunable constants of the scheduling algorithm.
type Params struct {
	EaseFloor    float64 // lower bound for the ease factor
	EaseStart    float64 // ease assigned to cards with no imported factor
	AgainPenalty float64 // ease subtracted on Again
	HardPenalty  float64 // ease subtracted on Hard
	EasyBonus    float64 // ease added on Easy

	HardMultiplier float64 // interval growth on Hard
	EasyMultiplier float64 // extra interval growth on Easy

	// LearningSteps is the fixed ladder a New card climbs before it
	// graduates to Review. Sub-day durations are permitted here only.
	LearningSteps []time.Duration
	// RelearnStep is the single step a lapsed card repeats before it
	// re-graduates.
	RelearnStep time.Duration

	GraduateDays     int // first Review interval after the ladder
	EasyGraduateDays int // first Review interval when Easy skips the ladder
}

// DefaultParams returns the stock SM-2-derived parameter set.
func DefaultParams() *Params {
	return &Params{
		EaseFloor:        1.30,
		EaseStart:        2.50,
		AgainPenalty:     0.20,
		HardPenalty:      0.15,
		EasyBonus:        0.15,
		HardMultiplier:   1.2,
		EasyMultiplier:   1.3,
		LearningSteps:    []time.Duration{time.Minute, 10 * time.Minute},
		RelearnStep:      10 * time.Minute,
		GraduateDays:     1,
		EasyGraduateDays: 4,
	}
}

// Next computes the card state after one grading. It is a pure function
// of (card, grade, now): replaying the same inputs always produces the
// same output, which is what makes log-based reconstruction possible.
// The input card is not mutated.
func (p *Params) Next(c domain.Card, g domain.Grade, now time.Time) domain.Card {
	now = now.UTC()

	switch c.State {
	case domain.StateNew, domain.StateLearning:
		c = p.nextLadder(c, g, now, p.LearningSteps, domain.StateLearning)
	case domain.StateRelearning:
		c = p.nextLadder(c, g, now, []time.Duration{p.RelearnStep}, domain.StateRelearning)
	case domain.StateReview:
		c = p.nextReview(c, g, now)
	}

	c.LastReview = now
	return c
}

// nextLadder handles New/Learning and Relearning cards. The ladder is
// independent of the ease factor: step durations are fixed.
func (p *Params) nextLadder(c domain.Card, g domain.Grade, now time.Time, steps []time.Duration, state domain.CardState) domain.Card {
	c.Ease = p.adjustEase(c.Ease, g)

	switch g {
	case domain.Again:
		c.Lapses++
		c.State = state
		c.Step = 0
		c.IntervalDays = 0
		c.Due = now.Add(steps[0])
	case domain.Hard:
		// Repeat the current step.
		c.State = state
		c.Due = now.Add(steps[min(c.Step, len(steps)-1)])
	case domain.Good:
		if c.State == domain.StateNew {
			// First grading enters the ladder at its first step.
			c.State = state
			c.Step = 0
			c.Due = now.Add(steps[0])
			return c
		}
		c.Step++
		if c.Step >= len(steps) {
			return p.graduate(c, p.GraduateDays, now)
		}
		c.State = state
		c.Due = now.Add(steps[c.Step])
	case domain.Easy:
		days := p.EasyGraduateDays
		if state == domain.StateRelearning {
			days = p.GraduateDays
		}
		return p.graduate(c, days, now)
	}
	return c
}

// nextReview handles graduated cards.
func (p *Params) nextReview(c domain.Card, g domain.Grade, now time.Time) domain.Card {
	c.Ease = p.adjustEase(c.Ease, g)

	switch g {
	case domain.Again:
		c.Lapses++
		c.State = domain.StateRelearning
		c.Step = 0
		c.IntervalDays = 0
		c.Due = now.Add(p.RelearnStep)
	case domain.Hard:
		c.IntervalDays = grow(c.IntervalDays, p.HardMultiplier)
		c.Due = dueDay(now, c.IntervalDays)
	case domain.Good:
		c.IntervalDays = grow(c.IntervalDays, c.Ease)
		c.Due = dueDay(now, c.IntervalDays)
	case domain.Easy:
		c.IntervalDays = grow(c.IntervalDays, c.Ease*p.EasyMultiplier)
		c.Due = dueDay(now, c.IntervalDays)
	}
	return c
}

func (p *Params) graduate(c domain.Card, days int, now time.Time) domain.Card {
	c.State = domain.StateReview
	c.Step = 0
	c.IntervalDays = days
	c.Due = dueDay(now, days)
	return c
}

func (p *Params) adjustEase(ease float64, g domain.Grade) float64 {
	if ease == 0 {
		ease = p.EaseStart
	}
	switch g {
	case domain.Again:
		ease -= p.AgainPenalty
	case domain.Hard:
		ease -= p.HardPenalty
	case domain.Easy:
		ease += p.EasyBonus
	}
	return math.Max(ease, p.EaseFloor)
}

// grow scales an interval and guarantees at least one day of growth
// over the previous value.
func grow(days int, factor float64) int {
	next := int(math.Round(float64(days) * factor))
	if next < days+1 {
		next = days + 1
	}
	return next
}

// dueDay rounds a review that lands days ahead of now down to day
// granularity, in UTC.
func dueDay(now time.Time, days int) time.Time {
	d := now.UTC().AddDate(0, 0, days)
	return time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, time.UTC)
}

// Check verifies the numerical invariants that every transition must
// preserve. A failure here is a programming defect, not user error.
func (p *Params) Check(c domain.Card) error {
	if c.Ease < p.EaseFloor {
		return ErrInvariantViolation
	}
	if c.State == domain.StateReview && c.IntervalDays < 1 {
		return ErrInvariantViolation
	}
	return nil
}
