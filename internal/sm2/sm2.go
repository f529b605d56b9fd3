// Package sm2 implements the SuperMemo-2 review update used to schedule review cards.
package sm2

import (
	"time"

	"github.com/conorfennell/drill/internal/domain"
	"github.com/google/uuid"
)

// Quality is the 0-5 recall rating of a single review.
type Quality int

const (
	QualityBlackout          Quality = 0 // complete failure to recall
	QualityIncorrect         Quality = 1
	QualityIncorrectFamiliar Quality = 2
	QualityCorrectDifficult  Quality = 3
	QualityCorrectHesitation Quality = 4
	QualityPerfect           Quality = 5 // perfect instant recall
)

// Clamp forces q into [QualityBlackout, QualityPerfect].
func (q Quality) Clamp() Quality {
	if q < QualityBlackout {
		return QualityBlackout
	}
	if q > QualityPerfect {
		return QualityPerfect
	}
	return q
}

const (
	// DefaultEaseFactor is the ease of a card that has never been reviewed.
	DefaultEaseFactor = 2.5
	// MinEaseFactor is the floor applied after every ease update.
	MinEaseFactor = 1.3

	day = 24 * time.Hour

	// DefaultMaxInterval caps geometric growth well below the range of time.Duration.
	DefaultMaxInterval = 100 * 365 * day
)

// Scheduler holds the tunables of the review update.
type Scheduler struct {
	PassThreshold   Quality       `koanf:"pass_threshold" validate:"gte=1,lte=5"`
	MinEase         float64       `koanf:"min_ease" validate:"gte=1.3"`
	InitialEase     float64       `koanf:"initial_ease" validate:"gtefield=MinEase"`
	InitialInterval time.Duration `koanf:"initial_interval" validate:"gt=0"`
	RelearnInterval time.Duration `koanf:"relearn_interval" validate:"gt=0"`
	FirstInterval   time.Duration `koanf:"first_interval" validate:"gt=0"`
	SecondInterval  time.Duration `koanf:"second_interval" validate:"gtefield=FirstInterval"`
	MaxInterval     time.Duration `koanf:"max_interval" validate:"gtefield=SecondInterval,lte=1752000h"`
	FastAnswer      time.Duration `koanf:"fast_answer" validate:"gt=0"`
	SteadyAnswer    time.Duration `koanf:"steady_answer" validate:"gtefield=FastAnswer"`
}

// Default returns the standard SM-2 parameters: a ten minute relearn step,
// then one day, six days and geometric growth.
func Default() *Scheduler {
	return &Scheduler{
		PassThreshold:   QualityCorrectDifficult,
		MinEase:         MinEaseFactor,
		InitialEase:     DefaultEaseFactor,
		InitialInterval: day,
		RelearnInterval: 10 * time.Minute,
		FirstInterval:   day,
		SecondInterval:  6 * day,
		MaxInterval:     DefaultMaxInterval,
		FastAnswer:      5 * time.Second,
		SteadyAnswer:    10 * time.Second,
	}
}

// NewCard returns a card for an item the learner has just met. It is due immediately.
func (s *Scheduler) NewCard(userID, itemID, subjectID string, now time.Time) domain.ReviewCard {
	return domain.ReviewCard{
		ID:          uuid.New(),
		UserID:      userID,
		ItemID:      itemID,
		SubjectID:   subjectID,
		DueDate:     now,
		Interval:    s.InitialInterval,
		EaseFactor:  s.InitialEase,
		Repetitions: 0,
		CreatedAt:   now,
	}
}

// NextEase applies the SM-2 ease update for quality q and floors the result.
func (s *Scheduler) NextEase(ease float64, q Quality) float64 {
	miss := float64(QualityPerfect - q.Clamp())
	ease += 0.1 - miss*(0.08+miss*0.02)
	floor := max(s.MinEase, MinEaseFactor)
	if ease < floor {
		ease = floor
	}
	return ease
}

// RecordReview returns card as it stands after a review of quality q at now.
// The argument is not modified. Out of range qualities are clamped.
func (s *Scheduler) RecordReview(card domain.ReviewCard, q Quality, now time.Time) domain.ReviewCard {
	q = q.Clamp()
	next := card
	next.EaseFactor = s.NextEase(card.EaseFactor, q)

	if q < s.PassThreshold {
		next.Repetitions = 0
		next.Interval = s.RelearnInterval
	} else {
		switch card.Repetitions {
		case 0:
			next.Interval = s.FirstInterval
		case 1:
			next.Interval = s.SecondInterval
		default:
			next.Interval = s.grow(card.Interval, next.EaseFactor)
		}
		next.Repetitions = card.Repetitions + 1
	}

	reviewed := now
	next.LastReviewedAt = &reviewed
	next.DueDate = now.Add(next.Interval)
	return next
}

// grow multiplies interval by ease, saturating at MaxInterval. The product is
// bounded as a float, before the conversion back to Duration can wrap.
func (s *Scheduler) grow(interval time.Duration, ease float64) time.Duration {
	limit := s.MaxInterval
	if limit <= 0 {
		limit = DefaultMaxInterval
	}
	next := float64(interval) * ease
	if next >= float64(limit) {
		return limit
	}
	if d := time.Duration(next); d > interval {
		return d
	}
	return interval
}

// QualityFromOutcome maps a correctness verdict and answer latency onto the 0-5 scale.
// Wrong answers score 0; faster correct answers never score below slower ones.
func (s *Scheduler) QualityFromOutcome(correct bool, timeSpent time.Duration) Quality {
	if !correct {
		return QualityBlackout
	}
	switch {
	case timeSpent < s.FastAnswer:
		return QualityPerfect
	case timeSpent < s.SteadyAnswer:
		return QualityCorrectHesitation
	default:
		return QualityCorrectDifficult
	}
}

// MasteredAfter is the interval beyond which a card counts as mastered.
const MasteredAfter = 30 * day

// IsMastered reports whether a card has settled into long intervals.
func IsMastered(card domain.ReviewCard) bool {
	return card.Interval > MasteredAfter
}
