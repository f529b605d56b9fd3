// Package event publishes domain events to logs and message brokers.
package event

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// Event types. They double as AMQP routing keys.
const (
	TypeReviewRecorded  = "review.recorded"
	TypeLessonCompleted = "lesson.completed"
	TypeItemGraded      = "item.graded"
	TypeReviewsDue      = "reviews.due"
)

// Event is a single domain event.
type Event struct {
	Type    string    `json:"type"`
	Payload any       `json:"payload"`
	At      time.Time `json:"at"`
}

// Sink receives events. Publish must be safe for concurrent use.
type Sink interface {
	Publish(ctx context.Context, e Event) error
}

// LessonCompleted is the payload of TypeLessonCompleted.
type LessonCompleted struct {
	SessionID   string `json:"session_id"`
	UserID      string `json:"user_id"`
	LessonID    string `json:"lesson_id"`
	ItemsTotal  int    `json:"items_total"`
	ItemsMissed int    `json:"items_missed"`
	PassesTaken int    `json:"passes_taken"`
	XP          int    `json:"xp"`
}

// ItemGraded is the payload of TypeItemGraded.
type ItemGraded struct {
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id"`
	ItemID    string `json:"item_id"`
	Correct   bool   `json:"correct"`
}

// ReviewsDue is the payload of TypeReviewsDue.
type ReviewsDue struct {
	UserID string `json:"user_id"`
	Count  int    `json:"count"`
}

// Discard drops every event.
type Discard struct{}

func (Discard) Publish(context.Context, Event) error { return nil }

// LogSink writes events to a structured logger.
type LogSink struct {
	Logger *slog.Logger
}

func (s LogSink) Publish(ctx context.Context, e Event) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.InfoContext(ctx, "event", "type", e.Type, "at", e.At, "payload", e.Payload)
	return nil
}

// Multi fans an event out to every sink. All sinks are tried; failures are joined.
type Multi []Sink

func (m Multi) Publish(ctx context.Context, e Event) error {
	var errs []error
	for _, s := range m {
		if err := s.Publish(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Recorder keeps published events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Publish(_ context.Context, e Event) error {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
	return nil
}

// Events returns a copy of everything published so far.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// OfType returns the recorded events of type t.
func (r *Recorder) OfType(t string) []Event {
	var out []Event
	for _, e := range r.Events() {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}
