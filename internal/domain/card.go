package domain

import (
	"time"

	"github.com/google/uuid"
)

// ReviewCard is one learner's spaced-repetition record for one item.
type ReviewCard struct {
	ID             uuid.UUID     `json:"id"`
	UserID         string        `json:"user_id"`
	ItemID         string        `json:"item_id"`
	SubjectID      string        `json:"subject_id"`
	DueDate        time.Time     `json:"due_date"`
	Interval       time.Duration `json:"interval"`
	EaseFactor     float64       `json:"ease_factor"`
	Repetitions    int           `json:"repetitions"`
	LastReviewedAt *time.Time    `json:"last_reviewed_at,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
}

// IsDue reports whether the card should be presented at now.
func (c ReviewCard) IsDue(now time.Time) bool {
	return !c.DueDate.After(now)
}

// ReviewLog records a single graded review of a card.
type ReviewLog struct {
	CardID     uuid.UUID     `json:"card_id"`
	UserID     string        `json:"user_id"`
	Quality    int           `json:"quality"`
	Interval   time.Duration `json:"interval"`
	EaseFactor float64       `json:"ease_factor"`
	ReviewedAt time.Time     `json:"reviewed_at"`
}
