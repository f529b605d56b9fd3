// Package lesson runs lesson attempts: every item is presented until it has been
// answered correctly, and the attempt earns XP when it completes.
package lesson

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
	"github.com/conorfennell/drill/internal/grading"
	"github.com/conorfennell/drill/internal/mastery"
	"github.com/conorfennell/drill/internal/sm2"
	"github.com/conorfennell/drill/internal/storage"
	"github.com/google/uuid"
)

// ErrSessionNotFound is returned for an unknown session id.
var ErrSessionNotFound = errors.New("lesson: session not found")

// Default XP rules: a base award plus a bonus per item answered correctly first time.
const (
	DefaultBaseXP       = 10
	DefaultXPPerCorrect = 10
)

// DefaultSessionTTL is how long an untouched session is kept in memory.
const DefaultSessionTTL = 2 * time.Hour

// Store is the persistence a Manager needs.
type Store interface {
	FindLesson(ctx context.Context, id string) (domain.Lesson, error)
	CreateCardIfMissing(ctx context.Context, card domain.ReviewCard) (domain.ReviewCard, bool, error)
	InsertLessonCompletion(ctx context.Context, c storage.LessonCompletion) (int64, error)
}

// Config holds the XP rules, queue strictness and session expiry.
type Config struct {
	BaseXP       int           `koanf:"base_xp" validate:"gte=0"`
	XPPerCorrect int           `koanf:"xp_per_correct" validate:"gte=0"`
	Strict       bool          `koanf:"strict"`
	SessionTTL   time.Duration `koanf:"session_ttl" validate:"gt=0"`
}

// DefaultConfig returns the standard XP rules with lax queue checks.
func DefaultConfig() Config {
	return Config{BaseXP: DefaultBaseXP, XPPerCorrect: DefaultXPPerCorrect, SessionTTL: DefaultSessionTTL}
}

// Manager owns the in-memory lesson sessions.
type Manager struct {
	store     Store
	scheduler *sm2.Scheduler
	cfg       Config
	clock     clock.Clock
	sink      event.Sink
	log       *slog.Logger

	mu       sync.Mutex
	sessions map[string]*session
}

// Option configures a Manager.
type Option func(*Manager)

func WithClock(c clock.Clock) Option { return func(m *Manager) { m.clock = c } }

func WithSink(sink event.Sink) Option { return func(m *Manager) { m.sink = sink } }

func WithLogger(l *slog.Logger) Option { return func(m *Manager) { m.log = l } }

// NewManager returns a Manager. A nil scheduler uses sm2.Default().
func NewManager(store Store, scheduler *sm2.Scheduler, cfg Config, opts ...Option) *Manager {
	m := &Manager{
		store:     store,
		scheduler: scheduler,
		cfg:       cfg,
		clock:     clock.Real{},
		sink:      event.Discard{},
		log:       slog.Default(),
		sessions:  make(map[string]*session),
	}
	if m.scheduler == nil {
		m.scheduler = sm2.Default()
	}
	if m.cfg.SessionTTL <= 0 {
		m.cfg.SessionTTL = DefaultSessionTTL
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start begins an attempt at a lesson. Items the learner has not met before get a
// review card that is due immediately.
func (m *Manager) Start(ctx context.Context, userID, lessonID string) (State, error) {
	lesson, err := m.store.FindLesson(ctx, lessonID)
	if err != nil {
		return State{}, fmt.Errorf("failed to load lesson %s: %w", lessonID, err)
	}

	now := m.clock.Now()
	created := 0
	for _, item := range lesson.Items {
		card := m.scheduler.NewCard(userID, item.ID, lesson.SubjectID, now)
		if _, isNew, err := m.store.CreateCardIfMissing(ctx, card); err != nil {
			return State{}, fmt.Errorf("failed to create card for item %s: %w", item.ID, err)
		} else if isNew {
			created++
		}
	}

	s := &session{
		id:        uuid.NewString(),
		userID:    userID,
		lesson:    lesson,
		items:     make(map[string]domain.Item, len(lesson.Items)),
		firstTry:  make(map[string]bool, len(lesson.Items)),
		startedAt: now,
	}
	for _, item := range lesson.Items {
		s.items[item.ID] = item
	}
	s.queue = mastery.New(lesson.ItemIDs(),
		mastery.WithObserver(s),
		mastery.WithStrict(m.cfg.Strict),
		mastery.WithLogger(m.log.With("session", s.id)),
	)

	m.mu.Lock()
	m.prune(now)
	s.lastSeen = now
	m.sessions[s.id] = s
	m.mu.Unlock()

	m.log.Info("lesson started",
		"session", s.id,
		"user", userID,
		"lesson", lessonID,
		"items", len(lesson.Items),
		"new_cards", created,
	)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := m.afterTransition(ctx, s); err != nil {
		return State{}, err
	}
	return s.state(), nil
}

// Get returns the current state of a session.
func (m *Manager) Get(sessionID string) (State, error) {
	s, err := m.session(sessionID)
	if err != nil {
		return State{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state(), nil
}

// Submit grades a response to the presented item.
func (m *Manager) Submit(ctx context.Context, sessionID, itemID string, resp domain.Response, timeSpent time.Duration) (Feedback, error) {
	s, err := m.session(sessionID)
	if err != nil {
		return Feedback{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.items[itemID]
	if !ok {
		return Feedback{}, fmt.Errorf("item %s is not part of lesson %s: %w", itemID, s.lesson.ID, mastery.ErrNotPresented)
	}
	result := grading.Grade(m.scheduler, item, resp, timeSpent)
	if err := s.queue.Submit(itemID, result.Correct); err != nil {
		return Feedback{}, err
	}
	m.flush(ctx, s)

	return Feedback{
		Result:      result,
		Answer:      item.Answer,
		Explanation: item.Explanation,
		Progress:    s.queue.Progress(),
	}, nil
}

// Advance moves to the next item. When the attempt completes the returned state
// carries the completion record.
func (m *Manager) Advance(ctx context.Context, sessionID string) (State, error) {
	s, err := m.session(sessionID)
	if err != nil {
		return State{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.queue.Advance()
	if err := m.afterTransition(ctx, s); err != nil {
		return State{}, err
	}
	return s.state(), nil
}

// End forgets a session.
func (m *Manager) End(sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[sessionID]; !ok {
		return ErrSessionNotFound
	}
	delete(m.sessions, sessionID)
	return nil
}

func (m *Manager) session(id string) (*session, error) {
	now := m.clock.Now()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prune(now)
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	s.lastSeen = now
	return s, nil
}

// prune drops sessions nobody has touched for SessionTTL, finished or not.
// The caller holds m.mu.
func (m *Manager) prune(now time.Time) {
	for id, s := range m.sessions {
		if now.Sub(s.lastSeen) > m.cfg.SessionTTL {
			delete(m.sessions, id)
			m.log.Info("lesson session expired", "session", id, "idle", now.Sub(s.lastSeen))
		}
	}
}

// afterTransition publishes queued events and records a completion the first time
// the queue reports one. The caller holds s.mu.
func (m *Manager) afterTransition(ctx context.Context, s *session) error {
	m.flush(ctx, s)
	if s.summary == nil || s.completion != nil {
		return nil
	}

	c := &Completion{
		Summary:     *s.summary,
		FirstTry:    s.firstTryCorrect(),
		XP:          m.xp(s),
		CompletedAt: m.clock.Now(),
	}
	c.Duration = c.CompletedAt.Sub(s.startedAt)

	_, err := m.store.InsertLessonCompletion(ctx, storage.LessonCompletion{
		UserID:      s.userID,
		LessonID:    s.lesson.ID,
		ItemsTotal:  c.Summary.ItemsTotal,
		ItemsMissed: c.Summary.ItemsMissed,
		PassesTaken: c.Summary.PassesTaken,
		XPEarned:    c.XP,
		CompletedAt: c.CompletedAt,
	})
	if err != nil {
		return fmt.Errorf("failed to save completion of lesson %s: %w", s.lesson.ID, err)
	}
	s.completion = c

	m.publish(ctx, event.Event{
		Type: event.TypeLessonCompleted,
		Payload: event.LessonCompleted{
			SessionID:   s.id,
			UserID:      s.userID,
			LessonID:    s.lesson.ID,
			ItemsTotal:  c.Summary.ItemsTotal,
			ItemsMissed: c.Summary.ItemsMissed,
			PassesTaken: c.Summary.PassesTaken,
			XP:          c.XP,
		},
		At: c.CompletedAt,
	})
	m.log.Info("lesson completed",
		"session", s.id,
		"user", s.userID,
		"lesson", s.lesson.ID,
		"missed", c.Summary.ItemsMissed,
		"passes", c.Summary.PassesTaken,
		"xp", c.XP,
	)
	return nil
}

// xp is the lesson's award (or the configured base) plus a bonus per item
// answered correctly on its first attempt.
func (m *Manager) xp(s *session) int {
	base := m.cfg.BaseXP
	if s.lesson.XPAward > 0 {
		base = s.lesson.XPAward
	}
	return base + m.cfg.XPPerCorrect*s.firstTryCorrect()
}

func (m *Manager) flush(ctx context.Context, s *session) {
	now := m.clock.Now()
	for _, g := range s.graded {
		m.publish(ctx, event.Event{
			Type: event.TypeItemGraded,
			Payload: event.ItemGraded{
				SessionID: s.id,
				UserID:    s.userID,
				ItemID:    g.itemID,
				Correct:   g.correct,
			},
			At: now,
		})
	}
	s.graded = s.graded[:0]
}

func (m *Manager) publish(ctx context.Context, e event.Event) {
	if err := m.sink.Publish(ctx, e); err != nil {
		m.log.Warn("Failed to publish event", "type", e.Type, "error", err)
	}
}
