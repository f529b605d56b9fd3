package storage

import (
	"context"
	"fmt"
	"time"
)

// LessonCompletion records a finished lesson attempt.
type LessonCompletion struct {
	ID          int64     `db:"id" json:"id"`
	UserID      string    `db:"user_id" json:"user_id"`
	LessonID    string    `db:"lesson_id" json:"lesson_id"`
	ItemsTotal  int       `db:"items_total" json:"items_total"`
	ItemsMissed int       `db:"items_missed" json:"items_missed"`
	PassesTaken int       `db:"passes_taken" json:"passes_taken"`
	XPEarned    int       `db:"xp_earned" json:"xp_earned"`
	CompletedAt time.Time `db:"completed_at" json:"completed_at"`
}

// InsertLessonCompletion stores c and returns its id.
func (db *DB) InsertLessonCompletion(ctx context.Context, c LessonCompletion) (int64, error) {
	c.CompletedAt = c.CompletedAt.UTC()
	res, err := db.conn.NamedExecContext(ctx, `
		INSERT INTO lesson_completions (user_id, lesson_id, items_total, items_missed, passes_taken, xp_earned, completed_at)
		VALUES (:user_id, :lesson_id, :items_total, :items_missed, :passes_taken, :xp_earned, :completed_at)
	`, c)
	if err != nil {
		return 0, fmt.Errorf("failed to insert completion of lesson %s: %w", c.LessonID, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert ID for completion: %w", err)
	}
	return id, nil
}

// CompletionsByUser returns the user's completed lessons, newest first.
func (db *DB) CompletionsByUser(ctx context.Context, userID string) ([]LessonCompletion, error) {
	var out []LessonCompletion
	err := db.conn.SelectContext(ctx, &out, `
		SELECT id, user_id, lesson_id, items_total, items_missed, passes_taken, xp_earned, completed_at
		FROM lesson_completions WHERE user_id = ? ORDER BY completed_at DESC, id DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get completions for user %s: %w", userID, err)
	}
	return out, nil
}

// TotalXP sums the XP a user earned from lessons.
func (db *DB) TotalXP(ctx context.Context, userID string) (int, error) {
	var total int
	err := db.conn.GetContext(ctx, &total,
		`SELECT COALESCE(SUM(xp_earned), 0) FROM lesson_completions WHERE user_id = ?`, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to sum xp for user %s: %w", userID, err)
	}
	return total, nil
}

// ActivityDays returns the UTC days on which the user reviewed a card or finished a
// lesson, newest first.
func (db *DB) ActivityDays(ctx context.Context, userID string) ([]time.Time, error) {
	var raw []string
	err := db.conn.SelectContext(ctx, &raw, `
		SELECT day FROM (
			SELECT substr(reviewed_at, 1, 10) AS day FROM review_logs WHERE user_id = ?
			UNION
			SELECT substr(completed_at, 1, 10) AS day FROM lesson_completions WHERE user_id = ?
		) ORDER BY day DESC`, userID, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get activity days for user %s: %w", userID, err)
	}
	days := make([]time.Time, 0, len(raw))
	for _, d := range raw {
		t, err := time.Parse(time.DateOnly, d)
		if err != nil {
			return nil, fmt.Errorf("failed to parse activity day %q: %w", d, err)
		}
		days = append(days, t)
	}
	return days, nil
}
