package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/conorfennell/drill/internal/domain"
	"github.com/jmoiron/sqlx"
)

type lessonRow struct {
	ID          string        `db:"id"`
	SourceID    sql.NullInt64 `db:"source_id"`
	SubjectID   string        `db:"subject_id"`
	Title       string        `db:"title"`
	Description string        `db:"description"`
	OrderIndex  int           `db:"order_index"`
	XPAward     int           `db:"xp_award"`
}

func (r lessonRow) lesson() domain.Lesson {
	return domain.Lesson{
		ID:          r.ID,
		SourceID:    r.SourceID.Int64,
		SubjectID:   r.SubjectID,
		Title:       r.Title,
		Description: r.Description,
		OrderIndex:  r.OrderIndex,
		XPAward:     r.XPAward,
	}
}

type itemRow struct {
	ID          string `db:"id"`
	LessonID    string `db:"lesson_id"`
	Type        string `db:"type"`
	OrderIndex  int    `db:"order_index"`
	Prompt      string `db:"prompt"`
	Options     string `db:"options"`
	Answer      string `db:"answer"`
	Explanation string `db:"explanation"`
	MediaURL    string `db:"media_url"`
	XPValue     int    `db:"xp_value"`
}

func newItemRow(item domain.Item) (itemRow, error) {
	options, err := json.Marshal(item.Options)
	if err != nil {
		return itemRow{}, fmt.Errorf("failed to encode options of item %s: %w", item.ID, err)
	}
	answer, err := json.Marshal(item.Answer)
	if err != nil {
		return itemRow{}, fmt.Errorf("failed to encode answer of item %s: %w", item.ID, err)
	}
	return itemRow{
		ID:          item.ID,
		LessonID:    item.LessonID,
		Type:        string(item.Type),
		OrderIndex:  item.OrderIndex,
		Prompt:      item.Prompt,
		Options:     string(options),
		Answer:      string(answer),
		Explanation: item.Explanation,
		MediaURL:    item.MediaURL,
		XPValue:     item.XPValue,
	}, nil
}

func (r itemRow) item() (domain.Item, error) {
	item := domain.Item{
		ID:          r.ID,
		LessonID:    r.LessonID,
		Type:        domain.ItemType(r.Type),
		OrderIndex:  r.OrderIndex,
		Prompt:      r.Prompt,
		Explanation: r.Explanation,
		MediaURL:    r.MediaURL,
		XPValue:     r.XPValue,
	}
	if err := json.Unmarshal([]byte(r.Options), &item.Options); err != nil {
		return domain.Item{}, fmt.Errorf("failed to decode options of item %s: %w", r.ID, err)
	}
	if err := json.Unmarshal([]byte(r.Answer), &item.Answer); err != nil {
		return domain.Item{}, fmt.Errorf("failed to decode answer of item %s: %w", r.ID, err)
	}
	return item, nil
}

// UpsertLesson stores the lesson and its items, removing items no longer in it.
func (db *DB) UpsertLesson(ctx context.Context, sourceID int64, lesson domain.Lesson) error {
	return db.inTx(ctx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO lessons (id, source_id, subject_id, title, description, order_index, xp_award)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				source_id = excluded.source_id,
				subject_id = excluded.subject_id,
				title = excluded.title,
				description = excluded.description,
				order_index = excluded.order_index,
				xp_award = excluded.xp_award
		`, lesson.ID, sql.NullInt64{Int64: sourceID, Valid: sourceID != 0}, lesson.SubjectID,
			lesson.Title, lesson.Description, lesson.OrderIndex, lesson.XPAward)
		if err != nil {
			return fmt.Errorf("failed to upsert lesson %s: %w", lesson.ID, err)
		}

		keep := make([]string, 0, len(lesson.Items))
		for _, item := range lesson.Items {
			row, err := newItemRow(item)
			if err != nil {
				return err
			}
			row.LessonID = lesson.ID
			_, err = tx.NamedExecContext(ctx, `
				INSERT INTO items (id, lesson_id, type, order_index, prompt, options, answer, explanation, media_url, xp_value)
				VALUES (:id, :lesson_id, :type, :order_index, :prompt, :options, :answer, :explanation, :media_url, :xp_value)
				ON CONFLICT(id) DO UPDATE SET
					lesson_id = excluded.lesson_id,
					type = excluded.type,
					order_index = excluded.order_index,
					prompt = excluded.prompt,
					options = excluded.options,
					answer = excluded.answer,
					explanation = excluded.explanation,
					media_url = excluded.media_url,
					xp_value = excluded.xp_value
			`, row)
			if err != nil {
				return fmt.Errorf("failed to upsert item %s: %w", item.ID, err)
			}
			keep = append(keep, item.ID)
		}

		if len(keep) == 0 {
			_, err = tx.ExecContext(ctx, `DELETE FROM items WHERE lesson_id = ?`, lesson.ID)
		} else {
			var query string
			var args []any
			query, args, err = sqlx.In(`DELETE FROM items WHERE lesson_id = ? AND id NOT IN (?)`, lesson.ID, keep)
			if err != nil {
				return fmt.Errorf("failed to build item cleanup: %w", err)
			}
			_, err = tx.ExecContext(ctx, tx.Rebind(query), args...)
		}
		if err != nil {
			return fmt.Errorf("failed to delete stale items of lesson %s: %w", lesson.ID, err)
		}
		return nil
	})
}

// FindLesson returns the lesson with its items in order, or ErrNotFound.
func (db *DB) FindLesson(ctx context.Context, id string) (domain.Lesson, error) {
	var row lessonRow
	err := db.conn.GetContext(ctx, &row, `
		SELECT id, source_id, subject_id, title, description, order_index, xp_award
		FROM lessons WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Lesson{}, ErrNotFound
	}
	if err != nil {
		return domain.Lesson{}, fmt.Errorf("failed to find lesson %s: %w", id, err)
	}

	var itemRows []itemRow
	err = db.conn.SelectContext(ctx, &itemRows, `
		SELECT id, lesson_id, type, order_index, prompt, options, answer, explanation, media_url, xp_value
		FROM items WHERE lesson_id = ? ORDER BY order_index, id`, id)
	if err != nil {
		return domain.Lesson{}, fmt.Errorf("failed to load items of lesson %s: %w", id, err)
	}

	lesson := row.lesson()
	for _, r := range itemRows {
		item, err := r.item()
		if err != nil {
			return domain.Lesson{}, err
		}
		lesson.Items = append(lesson.Items, item)
	}
	return lesson, nil
}

// ListLessons returns lessons without their items, ordered for presentation.
// An empty subjectID lists every subject.
func (db *DB) ListLessons(ctx context.Context, subjectID string) ([]domain.Lesson, error) {
	query := `SELECT id, source_id, subject_id, title, description, order_index, xp_award FROM lessons`
	var args []any
	if subjectID != "" {
		query += ` WHERE subject_id = ?`
		args = append(args, subjectID)
	}
	query += ` ORDER BY subject_id, order_index, title`

	var rows []lessonRow
	if err := db.conn.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list lessons: %w", err)
	}
	lessons := make([]domain.Lesson, 0, len(rows))
	for _, r := range rows {
		lessons = append(lessons, r.lesson())
	}
	return lessons, nil
}

// LessonIDsBySource returns the ids of every lesson loaded from a source.
func (db *DB) LessonIDsBySource(ctx context.Context, sourceID int64) ([]string, error) {
	var ids []string
	if err := db.conn.SelectContext(ctx, &ids, `SELECT id FROM lessons WHERE source_id = ? ORDER BY id`, sourceID); err != nil {
		return nil, fmt.Errorf("failed to get lessons for source ID %d: %w", sourceID, err)
	}
	return ids, nil
}

// DeleteLesson removes a lesson and its items.
func (db *DB) DeleteLesson(ctx context.Context, id string) error {
	if _, err := db.conn.ExecContext(ctx, `DELETE FROM lessons WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete lesson %s: %w", id, err)
	}
	return nil
}

// FindItem returns a single item, or ErrNotFound.
func (db *DB) FindItem(ctx context.Context, id string) (domain.Item, error) {
	var row itemRow
	err := db.conn.GetContext(ctx, &row, `
		SELECT id, lesson_id, type, order_index, prompt, options, answer, explanation, media_url, xp_value
		FROM items WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Item{}, ErrNotFound
	}
	if err != nil {
		return domain.Item{}, fmt.Errorf("failed to find item %s: %w", id, err)
	}
	return row.item()
}
