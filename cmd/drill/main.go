package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/conorfennell/drill/internal/clock"
	"github.com/conorfennell/drill/internal/config"
	"github.com/conorfennell/drill/internal/event"
	"github.com/conorfennell/drill/internal/lesson"
	"github.com/conorfennell/drill/internal/reminder"
	"github.com/conorfennell/drill/internal/review"
	"github.com/conorfennell/drill/internal/storage"
	"github.com/conorfennell/drill/internal/sync"
	"github.com/conorfennell/drill/internal/web"
	"github.com/spf13/pflag"
)

func main() {
	flags := pflag.NewFlagSet("drill", pflag.ExitOnError)
	config.RegisterFlags(flags)
	addSource := flags.String("add-source", "", "Add a local directory or Git URL as a lesson source")
	syncNow := flags.Bool("sync", false, "Sync all sources before serving")
	serve := flags.Bool("serve", true, "Run the HTTP API")
	_ = flags.Parse(os.Args[1:])

	cfg, err := config.Load(flags)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(2)
	}
	logger := cfg.Log.NewStderrLogger()
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger, *addSource, *syncNow, *serve); err != nil {
		logger.Error("drill exited with error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger, addSource string, syncNow, serve bool) error {
	db, err := storage.Open(cfg.DB.Path)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()
	logger.Info("Database opened", "path", cfg.DB.Path)

	sink, closeSink, err := newSink(cfg.Events, logger)
	if err != nil {
		return err
	}
	defer closeSink()

	c := clock.Real{}
	reviews := review.NewService(db, &cfg.SM2,
		review.WithClock(c),
		review.WithSink(sink),
		review.WithLogger(logger.With("component", "review")),
		review.WithXPPerCorrect(cfg.Review.XPPerCorrect),
		review.WithSessionTTL(cfg.Review.SessionTTL),
	)
	lessons := lesson.NewManager(db, &cfg.SM2, cfg.Lesson,
		lesson.WithClock(c),
		lesson.WithSink(sink),
		lesson.WithLogger(logger.With("component", "lesson")),
	)
	syncer := sync.New(db, cfg.Sources.ReposDir, logger.With("component", "sync"))
	if !serve {
		syncer.SetProgress(os.Stderr)
	}

	if addSource != "" {
		source, err := syncer.AddSource(ctx, addSource)
		if err != nil {
			return fmt.Errorf("failed to add source: %w", err)
		}
		logger.Info("Source added", "id", source.ID, "path", source.Path, "type", source.Type)
	}
	if syncNow {
		report, err := syncer.RunSync(ctx)
		if err != nil {
			return fmt.Errorf("sync failed: %w", err)
		}
		for _, msg := range report.ErrorMessages() {
			logger.Warn("Sync error", "error", msg)
		}
	}
	if !serve {
		return nil
	}

	if cfg.Reminder.Enabled {
		r := reminder.New(db, sink, cfg.Reminder, c, logger.With("component", "reminder"))
		if err := r.Start(); err != nil {
			return fmt.Errorf("failed to start reminders: %w", err)
		}
		defer r.Stop()
	}

	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           web.NewServer(db, reviews, lessons, syncer, logger.With("component", "web")),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		logger.Info("Starting server", "addr", cfg.HTTP.Addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("Shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down server: %w", err)
	}
	return nil
}

// newSink logs every event and, when configured, also publishes it to AMQP.
func newSink(cfg config.EventsConfig, logger *slog.Logger) (event.Sink, func(), error) {
	logSink := event.LogSink{Logger: logger.With("component", "events")}
	if cfg.AMQPURL == "" {
		return logSink, func() {}, nil
	}
	amqpSink, err := event.NewAMQPSink(cfg.AMQPURL, cfg.Exchange)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to event broker: %w", err)
	}
	closeSink := func() {
		if err := amqpSink.Close(); err != nil {
			logger.Warn("Failed to close event broker connection", "error", err)
		}
	}
	return event.Multi{logSink, amqpSink}, closeSink, nil
}
