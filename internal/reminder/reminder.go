// Package reminder periodically announces how many reviews each learner has due.
package reminder

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/conorfennell/drill/internal/clock"
	"github.com/conorfennell/drill/internal/event"
	"github.com/go-co-op/gocron"
)

// Default reminder window, in UTC hours.
const (
	DefaultStartHour = 8
	DefaultEndHour   = 22
)

// Counter reports the number of due cards per user.
type Counter interface {
	DueCounts(ctx context.Context, asOf time.Time) (map[string]int, error)
}

// Config controls when sweeps run.
type Config struct {
	Enabled   bool          `koanf:"enabled"`
	Interval  time.Duration `koanf:"interval" validate:"gt=0"`
	StartHour int           `koanf:"start_hour" validate:"gte=0,lte=23"`
	EndHour   int           `koanf:"end_hour" validate:"gte=0,lte=23"`
}

// DefaultConfig sweeps hourly between 08:00 and 22:59 UTC.
func DefaultConfig() Config {
	return Config{
		Enabled:   true,
		Interval:  time.Hour,
		StartHour: DefaultStartHour,
		EndHour:   DefaultEndHour,
	}
}

// InWindow reports whether hour falls in [StartHour, EndHour]. A window whose start
// is after its end wraps past midnight.
func (c Config) InWindow(hour int) bool {
	if c.StartHour <= c.EndHour {
		return hour >= c.StartHour && hour <= c.EndHour
	}
	return hour >= c.StartHour || hour <= c.EndHour
}

// Reminder manages the scheduled sweep.
type Reminder struct {
	scheduler *gocron.Scheduler
	counter   Counter
	sink      event.Sink
	clock     clock.Clock
	cfg       Config
	log       *slog.Logger
}

// New creates a reminder. It does nothing until Start is called.
func New(counter Counter, sink event.Sink, cfg Config, c clock.Clock, logger *slog.Logger) *Reminder {
	if c == nil {
		c = clock.Real{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := gocron.NewScheduler(time.UTC)
	s.SingletonModeAll()
	return &Reminder{
		scheduler: s,
		counter:   counter,
		sink:      sink,
		clock:     c,
		cfg:       cfg,
		log:       logger,
	}
}

// Start schedules the sweep every cfg.Interval, starting now, without blocking.
func (r *Reminder) Start() error {
	_, err := r.scheduler.Every(r.cfg.Interval).Do(r.run)
	if err != nil {
		return fmt.Errorf("failed to schedule reminder sweep: %w", err)
	}
	r.scheduler.StartAsync()
	r.log.Info("reminder sweep scheduled",
		"interval", r.cfg.Interval,
		"start_hour", r.cfg.StartHour,
		"end_hour", r.cfg.EndHour,
	)
	return nil
}

// Stop terminates the scheduled sweep.
func (r *Reminder) Stop() {
	r.scheduler.Stop()
}

func (r *Reminder) run() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	if _, err := r.Sweep(ctx); err != nil {
		r.log.Error("Reminder sweep failed", "error", err)
	}
}

// Sweep publishes a reviews.due event for every user with due cards and returns
// how many were published. Outside the window it does nothing.
func (r *Reminder) Sweep(ctx context.Context) (int, error) {
	now := r.clock.Now().UTC()
	if !r.cfg.InWindow(now.Hour()) {
		r.log.Debug("Outside reminder hours, skipping", "hour", now.Hour())
		return 0, nil
	}

	counts, err := r.counter.DueCounts(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("failed to count due cards: %w", err)
	}

	users := make([]string, 0, len(counts))
	for user, n := range counts {
		if n > 0 {
			users = append(users, user)
		}
	}
	sort.Strings(users)

	sent := 0
	for _, user := range users {
		e := event.Event{
			Type:    event.TypeReviewsDue,
			Payload: event.ReviewsDue{UserID: user, Count: counts[user]},
			At:      now,
		}
		if err := r.sink.Publish(ctx, e); err != nil {
			r.log.Warn("Failed to publish reminder", "user", user, "error", err)
			continue
		}
		sent++
	}
	r.log.Info("reminder sweep complete", "users", sent)
	return sent, nil
}
