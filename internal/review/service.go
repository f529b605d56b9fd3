// Package review runs spaced-repetition reviews on top of the card store.
package review

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/conorfennell/drill/internal/clock"
	"github.com/conorfennell/drill/internal/domain"
	"github.com/conorfennell/drill/internal/event"
	"github.com/conorfennell/drill/internal/sm2"
	"github.com/conorfennell/drill/internal/storage"
	"github.com/google/uuid"
)

// ErrSessionNotFound is returned for an unknown or expired review session.
var ErrSessionNotFound = errors.New("review: session not found")

// DefaultXPPerCorrect is the XP earned for each correct review.
const DefaultXPPerCorrect = 5

// DefaultSessionTTL is how long an untouched review session is kept.
const DefaultSessionTTL = 2 * time.Hour

// CardStore loads and saves review cards.
type CardStore interface {
	LoadDueCards(ctx context.Context, userID, subjectID string, asOf time.Time) ([]domain.ReviewCard, error)
	SaveCard(ctx context.Context, card domain.ReviewCard) error
}

// Store is the persistence the Service needs beyond CardStore.
type Store interface {
	CardStore
	FindCard(ctx context.Context, id uuid.UUID) (domain.ReviewCard, error)
	UpdateCard(ctx context.Context, id uuid.UUID, fn func(domain.ReviewCard) domain.ReviewCard) (domain.ReviewCard, error)
	InsertReviewLog(ctx context.Context, entry domain.ReviewLog) error
	CardStats(ctx context.Context, userID string, now, since time.Time, masteredAfter time.Duration) (storage.CardStats, error)
	ActivityDays(ctx context.Context, userID string) ([]time.Time, error)
}

// Service records reviews and tracks review sessions.
type Service struct {
	store        Store
	scheduler    *sm2.Scheduler
	clock        clock.Clock
	sink         event.Sink
	log          *slog.Logger
	xpPerCorrect int
	sessionTTL   time.Duration

	mu       sync.Mutex
	sessions map[uuid.UUID]*Session
}

// Option configures a Service.
type Option func(*Service)

// WithClock sets the time source.
func WithClock(c clock.Clock) Option { return func(s *Service) { s.clock = c } }

// WithSink sets where review events are published.
func WithSink(sink event.Sink) Option { return func(s *Service) { s.sink = sink } }

func WithLogger(l *slog.Logger) Option { return func(s *Service) { s.log = l } }

// WithXPPerCorrect sets the XP a session awards per correct answer.
func WithXPPerCorrect(xp int) Option { return func(s *Service) { s.xpPerCorrect = xp } }

// WithSessionTTL sets how long an idle session survives before it is dropped.
func WithSessionTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.sessionTTL = ttl
		}
	}
}

// NewService returns a Service. A nil scheduler uses sm2.Default().
func NewService(store Store, scheduler *sm2.Scheduler, opts ...Option) *Service {
	s := &Service{
		store:        store,
		scheduler:    scheduler,
		clock:        clock.Real{},
		sink:         event.Discard{},
		log:          slog.Default(),
		xpPerCorrect: DefaultXPPerCorrect,
		sessionTTL:   DefaultSessionTTL,
		sessions:     make(map[uuid.UUID]*Session),
	}
	if s.scheduler == nil {
		s.scheduler = sm2.Default()
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DueCards returns up to limit cards due now, earliest first. limit <= 0 returns all.
func (s *Service) DueCards(ctx context.Context, userID, subjectID string, limit int) ([]domain.ReviewCard, error) {
	cards, err := s.store.LoadDueCards(ctx, userID, subjectID, s.clock.Now())
	if err != nil {
		return nil, fmt.Errorf("failed to load due cards for %s: %w", userID, err)
	}
	if limit > 0 && len(cards) > limit {
		cards = cards[:limit]
	}
	return cards, nil
}

// Record applies a review of quality q to the card and persists the result.
func (s *Service) Record(ctx context.Context, cardID uuid.UUID, q sm2.Quality) (domain.ReviewCard, error) {
	now := s.clock.Now()
	card, err := s.store.UpdateCard(ctx, cardID, func(c domain.ReviewCard) domain.ReviewCard {
		return s.scheduler.RecordReview(c, q, now)
	})
	if err != nil {
		return domain.ReviewCard{}, fmt.Errorf("failed to record review of card %s: %w", cardID, err)
	}

	entry := domain.ReviewLog{
		CardID:     card.ID,
		UserID:     card.UserID,
		Quality:    int(q.Clamp()),
		Interval:   card.Interval,
		EaseFactor: card.EaseFactor,
		ReviewedAt: now,
	}
	if err := s.store.InsertReviewLog(ctx, entry); err != nil {
		s.log.Warn("Failed to write review log", "card", card.ID, "error", err)
	}

	s.publish(ctx, event.Event{Type: event.TypeReviewRecorded, Payload: card, At: now})
	s.log.Debug("review recorded",
		"card", card.ID,
		"user", card.UserID,
		"quality", int(q.Clamp()),
		"interval", card.Interval,
		"due", card.DueDate,
	)
	return card, nil
}

// Answer grades a correctness verdict by its latency and records it.
func (s *Service) Answer(ctx context.Context, cardID uuid.UUID, correct bool, timeSpent time.Duration) (domain.ReviewCard, sm2.Quality, error) {
	q := s.scheduler.QualityFromOutcome(correct, timeSpent)
	card, err := s.Record(ctx, cardID, q)
	return card, q, err
}

// Stats summarizes a user's review state.
type Stats struct {
	storage.CardStats
	ReviewedToday int `json:"reviewed_today"`
	CurrentStreak int `json:"current_streak"`
	LongestStreak int `json:"longest_streak"`
}

// Stats returns counts for the user's cards and their daily streaks. Days are UTC;
// a streak stays current until a whole day passes without a review or lesson.
func (s *Service) Stats(ctx context.Context, userID string) (Stats, error) {
	now := s.clock.Now().UTC()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	cs, err := s.store.CardStats(ctx, userID, now, midnight, sm2.MasteredAfter)
	if err != nil {
		return Stats{}, fmt.Errorf("failed to get stats for %s: %w", userID, err)
	}
	days, err := s.store.ActivityDays(ctx, userID)
	if err != nil {
		return Stats{}, fmt.Errorf("failed to get activity for %s: %w", userID, err)
	}
	current, longest := streaks(days, midnight)
	return Stats{
		CardStats:     cs,
		ReviewedToday: cs.ReviewedSince,
		CurrentStreak: current,
		LongestStreak: longest,
	}, nil
}

// streaks counts runs of consecutive days in days, which are distinct UTC midnights
// sorted newest first. The current run must reach today or yesterday.
func streaks(days []time.Time, today time.Time) (current, longest int) {
	run := 0
	first := true
	for i, d := range days {
		if i > 0 && days[i-1].Sub(d) != 24*time.Hour {
			run = 0
			first = false
		}
		run++
		longest = max(longest, run)
		if first {
			current = run
		}
	}
	if len(days) == 0 || days[0].Before(today.AddDate(0, 0, -1)) {
		current = 0
	}
	return current, longest
}

func (s *Service) publish(ctx context.Context, e event.Event) {
	if err := s.sink.Publish(ctx, e); err != nil {
		s.log.Warn("Failed to publish event", "type", e.Type, "error", err)
	}
}
