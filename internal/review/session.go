package review

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/conorfennell/drill/internal/domain"
	"github.com/conorfennell/drill/internal/sm2"
	"github.com/google/uuid"
)

// ErrNotCurrent is returned when an answer names a card other than the session's current one.
var ErrNotCurrent = errors.New("review: card is not the current card")

// Session is one sitting over a fixed batch of due cards.
type Session struct {
	mu         sync.Mutex
	id         uuid.UUID
	userID     string
	cards      []domain.ReviewCard
	next       int
	reviewed   int
	correct    int
	xp         int
	startedAt  time.Time
	finishedAt time.Time

	// lastSeen is guarded by Service.mu, not mu.
	lastSeen time.Time
}

// SessionSummary is a snapshot of a session's progress.
type SessionSummary struct {
	ID        uuid.UUID `json:"id"`
	UserID    string    `json:"user_id"`
	Total     int       `json:"total"`
	Reviewed  int       `json:"reviewed"`
	Correct   int       `json:"correct"`
	XP        int       `json:"xp"`
	Accuracy  float64   `json:"accuracy"`
	Duration  string    `json:"duration"`
	Done      bool      `json:"done"`
	StartedAt time.Time `json:"started_at"`
}

// StartSession collects up to limit due cards into a new session.
func (s *Service) StartSession(ctx context.Context, userID, subjectID string, limit int) (*Session, error) {
	cards, err := s.DueCards(ctx, userID, subjectID, limit)
	if err != nil {
		return nil, err
	}
	sess := &Session{
		id:        uuid.New(),
		userID:    userID,
		cards:     cards,
		startedAt: s.clock.Now(),
	}
	if len(cards) == 0 {
		sess.finishedAt = sess.startedAt
	}

	s.mu.Lock()
	s.prune(sess.startedAt)
	sess.lastSeen = sess.startedAt
	s.sessions[sess.id] = sess
	s.mu.Unlock()

	s.log.Info("review session started", "session", sess.id, "user", userID, "cards", len(cards))
	return sess, nil
}

// Session returns a running or finished session by id. Sessions idle for longer
// than the session TTL are gone.
func (s *Service) Session(id uuid.UUID) (*Session, error) {
	now := s.clock.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prune(now)
	sess, ok := s.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	sess.lastSeen = now
	return sess, nil
}

// prune drops idle sessions. The caller holds s.mu.
func (s *Service) prune(now time.Time) {
	for id, sess := range s.sessions {
		if now.Sub(sess.lastSeen) > s.sessionTTL {
			delete(s.sessions, id)
			s.log.Info("review session expired", "session", id)
		}
	}
}

// EndSession forgets a session and returns its final summary.
func (s *Service) EndSession(id uuid.UUID) (SessionSummary, error) {
	now := s.clock.Now()
	s.mu.Lock()
	s.prune(now)
	sess, ok := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()
	if !ok {
		return SessionSummary{}, ErrSessionNotFound
	}
	return sess.Summary(now), nil
}

// Summary reports a session's progress as of the service clock.
func (s *Service) Summary(sess *Session) SessionSummary {
	return sess.Summary(s.clock.Now())
}

// AnswerInSession records an answer to the session's current card and moves on.
func (s *Service) AnswerInSession(ctx context.Context, sess *Session, cardID uuid.UUID, correct bool, timeSpent time.Duration) (domain.ReviewCard, sm2.Quality, error) {
	sess.mu.Lock()
	defer sess.mu.Unlock()

	if sess.next >= len(sess.cards) {
		return domain.ReviewCard{}, 0, fmt.Errorf("session %s is finished: %w", sess.id, ErrNotCurrent)
	}
	if sess.cards[sess.next].ID != cardID {
		return domain.ReviewCard{}, 0, ErrNotCurrent
	}

	card, q, err := s.Answer(ctx, cardID, correct, timeSpent)
	if err != nil {
		return domain.ReviewCard{}, 0, err
	}

	sess.cards[sess.next] = card
	sess.next++
	sess.reviewed++
	if correct {
		sess.correct++
		sess.xp += s.xpPerCorrect
	}
	if sess.next == len(sess.cards) {
		sess.finishedAt = s.clock.Now()
	}
	return card, q, nil
}

// ID returns the session id.
func (sess *Session) ID() uuid.UUID { return sess.id }

// Current returns the card to review next. ok is false when the session is done.
func (sess *Session) Current() (card domain.ReviewCard, ok bool) {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.next >= len(sess.cards) {
		return domain.ReviewCard{}, false
	}
	return sess.cards[sess.next], true
}

// Summary reports the session's progress as of now.
func (sess *Session) Summary(now time.Time) SessionSummary {
	sess.mu.Lock()
	defer sess.mu.Unlock()

	end := now
	done := sess.next >= len(sess.cards)
	if done {
		end = sess.finishedAt
	}
	var accuracy float64
	if sess.reviewed > 0 {
		accuracy = float64(sess.correct) / float64(sess.reviewed)
	}
	return SessionSummary{
		ID:        sess.id,
		UserID:    sess.userID,
		Total:     len(sess.cards),
		Reviewed:  sess.reviewed,
		Correct:   sess.correct,
		XP:        sess.xp,
		Accuracy:  accuracy,
		Duration:  end.Sub(sess.startedAt).Round(time.Second).String(),
		Done:      done,
		StartedAt: sess.startedAt,
	}
}
