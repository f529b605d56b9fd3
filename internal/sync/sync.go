// Package sync loads lesson files from every configured source into the store.
package sync

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/conorfennell/drill/internal/clock"
	"github.com/conorfennell/drill/internal/domain"
	"github.com/conorfennell/drill/internal/gitsource"
	"github.com/conorfennell/drill/internal/parser"
	"github.com/conorfennell/drill/internal/storage"
)

// Store is the persistence the Syncer needs.
type Store interface {
	InsertSource(ctx context.Context, path, sourceType string) (int64, error)
	FindSourceByPath(ctx context.Context, path string) (storage.Source, error)
	GetAllSources(ctx context.Context) ([]storage.Source, error)
	UpdateSourceLastScanned(ctx context.Context, sourceID int64, at time.Time) error
	UpsertLesson(ctx context.Context, sourceID int64, lesson domain.Lesson) error
	LessonIDsBySource(ctx context.Context, sourceID int64) ([]string, error)
	DeleteLesson(ctx context.Context, id string) error
}

// Report summarizes a sync run.
type Report struct {
	Sources int     `json:"sources"`
	Lessons int     `json:"lessons"`
	Items   int     `json:"items"`
	Removed int     `json:"removed"`
	Errors  []error `json:"-"`
}

// ErrorMessages returns the collected errors as strings.
func (r Report) ErrorMessages() []string {
	out := make([]string, len(r.Errors))
	for i, err := range r.Errors {
		out[i] = err.Error()
	}
	return out
}

func (r *Report) add(o Report) {
	r.Sources += o.Sources
	r.Lessons += o.Lessons
	r.Items += o.Items
	r.Removed += o.Removed
	r.Errors = append(r.Errors, o.Errors...)
}

// Syncer reconciles sources with the store.
type Syncer struct {
	store    Store
	reposDir string
	clock    clock.Clock
	log      *slog.Logger
	progress io.Writer
}

// New returns a Syncer that clones git sources under reposDir.
func New(store Store, reposDir string, logger *slog.Logger) *Syncer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Syncer{store: store, reposDir: reposDir, clock: clock.Real{}, log: logger}
}

// SetProgress sends git clone and pull progress to w.
func (s *Syncer) SetProgress(w io.Writer) {
	s.progress = w
}

// AddSource registers a local directory or git URL. Local paths are stored absolute.
// Adding a known source returns the existing one.
func (s *Syncer) AddSource(ctx context.Context, path string) (storage.Source, error) {
	sourceType := storage.SourceLocal
	if gitsource.IsURL(path) {
		sourceType = storage.SourceGit
	} else {
		abs, err := filepath.Abs(path)
		if err != nil {
			return storage.Source{}, fmt.Errorf("failed to resolve %s: %w", path, err)
		}
		info, err := os.Stat(abs)
		if err != nil {
			return storage.Source{}, fmt.Errorf("failed to add source %s: %w", path, err)
		}
		if !info.IsDir() {
			return storage.Source{}, fmt.Errorf("failed to add source %s: not a directory", path)
		}
		path = abs
	}

	if existing, err := s.store.FindSourceByPath(ctx, path); err == nil {
		return existing, nil
	} else if !errors.Is(err, storage.ErrNotFound) {
		return storage.Source{}, err
	}

	id, err := s.store.InsertSource(ctx, path, sourceType)
	if err != nil {
		return storage.Source{}, err
	}
	s.log.Info("Source added", "id", id, "type", sourceType, "path", path)
	return storage.Source{ID: id, Path: path, Type: sourceType}, nil
}

// RunSync iterates over all sources and reconciles them. Failures of single sources
// are logged and collected in the report; only failing to list sources is an error.
func (s *Syncer) RunSync(ctx context.Context) (Report, error) {
	s.log.Info("Starting sync process for all sources...")
	sources, err := s.store.GetAllSources(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("failed to get sources: %w", err)
	}

	var report Report
	if len(sources) == 0 {
		s.log.Info("No sources configured. Add one with --add-source <path/or/url.git>")
		return report, nil
	}

	for _, source := range sources {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		report.add(s.SyncSource(ctx, source))
	}
	s.log.Info("Sync process complete.",
		"sources", report.Sources,
		"lessons", report.Lessons,
		"removed", report.Removed,
		"errors", len(report.Errors),
	)
	return report, nil
}

// SyncSource fetches a git source if needed and reconciles its lessons.
func (s *Syncer) SyncSource(ctx context.Context, source storage.Source) Report {
	s.log.Info("Syncing source", "id", source.ID, "type", source.Type, "path", source.Path)

	dir := source.Path
	if source.Type == storage.SourceGit {
		localRepoPath, err := gitsource.LocalPath(s.reposDir, source.Path)
		if err != nil {
			return Report{Errors: []error{fmt.Errorf("source %d: %w", source.ID, err)}}
		}
		if err := os.MkdirAll(filepath.Dir(localRepoPath), os.ModePerm); err != nil {
			return Report{Errors: []error{fmt.Errorf("failed to create repos directory: %w", err)}}
		}
		if err := gitsource.Sync(ctx, source.Path, localRepoPath, s.progress); err != nil {
			s.log.Error("Error syncing git repo", "url", source.Path, "error", err)
			return Report{Errors: []error{err}}
		}
		dir = localRepoPath
	}
	return s.reconcile(ctx, source.ID, dir)
}

func (s *Syncer) reconcile(ctx context.Context, sourceID int64, dir string) Report {
	report := Report{Sources: 1}
	found := make(map[string]bool)

	walkErr := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() && d.Name() == ".git" {
			return filepath.SkipDir
		}
		if d.IsDir() || !strings.HasSuffix(strings.ToLower(d.Name()), ".md") {
			return nil
		}

		lesson, parseErr := parser.ParseFile(path)
		if parseErr != nil {
			report.Errors = append(report.Errors, fmt.Errorf("parsing %s: %w", path, parseErr))
			return nil
		}
		if found[lesson.ID] {
			report.Errors = append(report.Errors, fmt.Errorf("parsing %s: duplicate lesson %q in subject %q", path, lesson.Title, lesson.SubjectID))
			return nil
		}
		found[lesson.ID] = true

		if err := s.store.UpsertLesson(ctx, sourceID, lesson); err != nil {
			report.Errors = append(report.Errors, fmt.Errorf("db upsert for %s: %w", path, err))
			return nil
		}
		report.Lessons++
		report.Items += len(lesson.Items)
		return nil
	})
	if walkErr != nil {
		s.log.Error("Error walking directory", "path", dir, "error", walkErr)
		report.Errors = append(report.Errors, walkErr)
		return report
	}

	// A file that failed to parse may still hold a known lesson, so nothing is
	// removed until the whole source parses.
	if len(report.Errors) == 0 {
		known, err := s.store.LessonIDsBySource(ctx, sourceID)
		if err != nil {
			report.Errors = append(report.Errors, err)
			return report
		}
		for _, id := range known {
			if found[id] {
				continue
			}
			s.log.Info("Orphaned lesson, deleting", "lesson", id)
			if err := s.store.DeleteLesson(ctx, id); err != nil {
				s.log.Warn("Failed to delete orphaned lesson", "lesson", id, "error", err)
				continue
			}
			report.Removed++
		}
	}

	if err := s.store.UpdateSourceLastScanned(ctx, sourceID, s.clock.Now()); err != nil {
		s.log.Warn("Failed to update last scanned for source", "source_id", sourceID, "error", err)
	}

	s.log.Info("reconciliation complete",
		"path", dir,
		"lessons", report.Lessons,
		"items", report.Items,
		"orphaned_deleted", report.Removed,
		"errors", len(report.Errors),
	)
	return report
}
