package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/conorfennell/drill/internal/domain"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

const cardColumns = `id, user_id, item_id, subject_id, due_date, interval_seconds, ease_factor,
    repetitions, last_reviewed_at, created_at`

type cardRow struct {
	ID              string       `db:"id"`
	UserID          string       `db:"user_id"`
	ItemID          string       `db:"item_id"`
	SubjectID       string       `db:"subject_id"`
	DueDate         time.Time    `db:"due_date"`
	IntervalSeconds float64      `db:"interval_seconds"`
	EaseFactor      float64      `db:"ease_factor"`
	Repetitions     int          `db:"repetitions"`
	LastReviewedAt  sql.NullTime `db:"last_reviewed_at"`
	CreatedAt       time.Time    `db:"created_at"`
}

func newCardRow(c domain.ReviewCard) cardRow {
	row := cardRow{
		ID:              c.ID.String(),
		UserID:          c.UserID,
		ItemID:          c.ItemID,
		SubjectID:       c.SubjectID,
		DueDate:         c.DueDate.UTC(),
		IntervalSeconds: c.Interval.Seconds(),
		EaseFactor:      c.EaseFactor,
		Repetitions:     c.Repetitions,
		CreatedAt:       c.CreatedAt.UTC(),
	}
	if c.LastReviewedAt != nil {
		row.LastReviewedAt = sql.NullTime{Time: c.LastReviewedAt.UTC(), Valid: true}
	}
	return row
}

func (r cardRow) card() (domain.ReviewCard, error) {
	id, err := uuid.Parse(r.ID)
	if err != nil {
		return domain.ReviewCard{}, fmt.Errorf("failed to parse card id %q: %w", r.ID, err)
	}
	c := domain.ReviewCard{
		ID:          id,
		UserID:      r.UserID,
		ItemID:      r.ItemID,
		SubjectID:   r.SubjectID,
		DueDate:     r.DueDate.UTC(),
		Interval:    time.Duration(r.IntervalSeconds * float64(time.Second)),
		EaseFactor:  r.EaseFactor,
		Repetitions: r.Repetitions,
		CreatedAt:   r.CreatedAt.UTC(),
	}
	if r.LastReviewedAt.Valid {
		t := r.LastReviewedAt.Time.UTC()
		c.LastReviewedAt = &t
	}
	return c, nil
}

func toCards(rows []cardRow) ([]domain.ReviewCard, error) {
	cards := make([]domain.ReviewCard, 0, len(rows))
	for _, r := range rows {
		c, err := r.card()
		if err != nil {
			return nil, err
		}
		cards = append(cards, c)
	}
	return cards, nil
}

// SaveCard inserts the card or replaces the stored row with the same id.
func (db *DB) SaveCard(ctx context.Context, card domain.ReviewCard) error {
	return saveCard(ctx, db.conn, card)
}

func saveCard(ctx context.Context, ext sqlx.ExtContext, card domain.ReviewCard) error {
	query := `
        INSERT INTO review_cards (` + cardColumns + `)
        VALUES (:id, :user_id, :item_id, :subject_id, :due_date, :interval_seconds, :ease_factor,
            :repetitions, :last_reviewed_at, :created_at)
        ON CONFLICT(id) DO UPDATE SET
            due_date = excluded.due_date,
            interval_seconds = excluded.interval_seconds,
            ease_factor = excluded.ease_factor,
            repetitions = excluded.repetitions,
            last_reviewed_at = excluded.last_reviewed_at`
	if _, err := sqlx.NamedExecContext(ctx, ext, query, newCardRow(card)); err != nil {
		return fmt.Errorf("failed to save card %s: %w", card.ID, err)
	}
	return nil
}

// CreateCardIfMissing stores card unless the user already has a card for the same item.
// It returns the stored card and whether it was created by this call.
func (db *DB) CreateCardIfMissing(ctx context.Context, card domain.ReviewCard) (domain.ReviewCard, bool, error) {
	query := `
        INSERT INTO review_cards (` + cardColumns + `)
        VALUES (:id, :user_id, :item_id, :subject_id, :due_date, :interval_seconds, :ease_factor,
            :repetitions, :last_reviewed_at, :created_at)
        ON CONFLICT(user_id, item_id) DO NOTHING`
	res, err := db.conn.NamedExecContext(ctx, query, newCardRow(card))
	if err != nil {
		return domain.ReviewCard{}, false, fmt.Errorf("failed to create card for item %s: %w", card.ItemID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return domain.ReviewCard{}, false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 1 {
		return card, true, nil
	}
	existing, err := db.FindCardByItem(ctx, card.UserID, card.ItemID)
	return existing, false, err
}

// FindCard returns the card with the given id, or ErrNotFound.
func (db *DB) FindCard(ctx context.Context, id uuid.UUID) (domain.ReviewCard, error) {
	return findCard(ctx, db.conn, id)
}

func findCard(ctx context.Context, q sqlx.QueryerContext, id uuid.UUID) (domain.ReviewCard, error) {
	var row cardRow
	err := sqlx.GetContext(ctx, q, &row, `SELECT `+cardColumns+` FROM review_cards WHERE id = ?`, id.String())
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ReviewCard{}, ErrNotFound
	}
	if err != nil {
		return domain.ReviewCard{}, fmt.Errorf("failed to find card %s: %w", id, err)
	}
	return row.card()
}

// FindCardByItem returns the user's card for an item, or ErrNotFound.
func (db *DB) FindCardByItem(ctx context.Context, userID, itemID string) (domain.ReviewCard, error) {
	var row cardRow
	err := db.conn.GetContext(ctx, &row,
		`SELECT `+cardColumns+` FROM review_cards WHERE user_id = ? AND item_id = ?`, userID, itemID)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ReviewCard{}, ErrNotFound
	}
	if err != nil {
		return domain.ReviewCard{}, fmt.Errorf("failed to find card for item %s: %w", itemID, err)
	}
	return row.card()
}

// LoadDueCards returns the user's cards due at or before asOf, earliest first.
// An empty subjectID matches every subject.
func (db *DB) LoadDueCards(ctx context.Context, userID, subjectID string, asOf time.Time) ([]domain.ReviewCard, error) {
	query := `SELECT ` + cardColumns + ` FROM review_cards WHERE user_id = ? AND due_date <= ?`
	args := []any{userID, asOf.UTC()}
	if subjectID != "" {
		query += ` AND subject_id = ?`
		args = append(args, subjectID)
	}
	query += ` ORDER BY due_date, id`

	var rows []cardRow
	if err := db.conn.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to load due cards: %w", err)
	}
	return toCards(rows)
}

// UpdateCard reads the card, applies fn and writes the result back in one transaction.
// Concurrent updates of the same card are applied one after the other.
func (db *DB) UpdateCard(ctx context.Context, id uuid.UUID, fn func(domain.ReviewCard) domain.ReviewCard) (domain.ReviewCard, error) {
	var updated domain.ReviewCard
	err := db.inTx(ctx, func(tx *sqlx.Tx) error {
		card, err := findCard(ctx, tx, id)
		if err != nil {
			return err
		}
		updated = fn(card)
		updated.ID = card.ID
		return saveCard(ctx, tx, updated)
	})
	if err != nil {
		return domain.ReviewCard{}, err
	}
	return updated, nil
}

// InsertReviewLog appends an entry to the review history.
func (db *DB) InsertReviewLog(ctx context.Context, entry domain.ReviewLog) error {
	_, err := db.conn.ExecContext(ctx, `
        INSERT INTO review_logs (card_id, user_id, quality, interval_seconds, ease_factor, reviewed_at)
        VALUES (?, ?, ?, ?, ?, ?)`,
		entry.CardID.String(), entry.UserID, entry.Quality, entry.Interval.Seconds(), entry.EaseFactor, entry.ReviewedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to insert review log: %w", err)
	}
	return nil
}

// CardStats summarizes a user's cards.
type CardStats struct {
	TotalCards    int     `db:"total_cards" json:"total_cards"`
	DueNow        int     `db:"due_now" json:"due_now"`
	Mastered      int     `db:"mastered" json:"mastered"`
	AverageEase   float64 `db:"average_ease" json:"average_ease"`
	ReviewedSince int     `db:"-" json:"reviewed_since"`
}

// CardStats counts the user's cards as of now. Cards whose interval exceeds
// masteredAfter count as mastered; reviews at or after since count as recent.
func (db *DB) CardStats(ctx context.Context, userID string, now, since time.Time, masteredAfter time.Duration) (CardStats, error) {
	var stats CardStats
	err := db.conn.GetContext(ctx, &stats, `
        SELECT
            COUNT(*) AS total_cards,
            COALESCE(SUM(CASE WHEN due_date <= ? THEN 1 ELSE 0 END), 0) AS due_now,
            COALESCE(SUM(CASE WHEN interval_seconds > ? THEN 1 ELSE 0 END), 0) AS mastered,
            COALESCE(AVG(ease_factor), 0) AS average_ease
        FROM review_cards WHERE user_id = ?`,
		now.UTC(), masteredAfter.Seconds(), userID)
	if err != nil {
		return CardStats{}, fmt.Errorf("failed to compute card stats: %w", err)
	}

	err = db.conn.GetContext(ctx, &stats.ReviewedSince,
		`SELECT COUNT(*) FROM review_logs WHERE user_id = ? AND reviewed_at >= ?`, userID, since.UTC())
	if err != nil {
		return CardStats{}, fmt.Errorf("failed to count recent reviews: %w", err)
	}
	return stats, nil
}

// DueCounts returns the number of due cards per user as of asOf.
func (db *DB) DueCounts(ctx context.Context, asOf time.Time) (map[string]int, error) {
	var rows []struct {
		UserID string `db:"user_id"`
		Count  int    `db:"n"`
	}
	err := db.conn.SelectContext(ctx, &rows,
		`SELECT user_id, COUNT(*) AS n FROM review_cards WHERE due_date <= ? GROUP BY user_id ORDER BY user_id`, asOf.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to count due cards: %w", err)
	}
	counts := make(map[string]int, len(rows))
	for _, r := range rows {
		counts[r.UserID] = r.Count
	}
	return counts, nil
}
