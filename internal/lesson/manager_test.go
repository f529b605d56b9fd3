package lesson

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/conorfennell/drill/internal/clock"
	"github.com/conorfennell/drill/internal/domain"
	"github.com/conorfennell/drill/internal/event"
	"github.com/conorfennell/drill/internal/mastery"
	"github.com/conorfennell/drill/internal/sm2"
	"github.com/conorfennell/drill/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2025, 11, 15, 9, 0, 0, 0, time.UTC)

var (
	right = domain.Response{Kind: domain.ResponseSingle, Index: 0}
	wrong = domain.Response{Kind: domain.ResponseSingle, Index: 1}
)

type fixture struct {
	db    *storage.DB
	clock *clock.Manual
	sink  *event.Recorder
	mgr   *Manager
}

func newFixture(t *testing.T, ids ...string) *fixture {
	t.Helper()
	ctx := context.Background()
	db, err := storage.Open(filepath.Join(t.TempDir(), "drill.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	lesson := domain.Lesson{ID: "scoring", SubjectID: "football", Title: "Scoring"}
	for i, id := range ids {
		lesson.Items = append(lesson.Items, domain.Item{
			ID:          id,
			LessonID:    lesson.ID,
			Type:        domain.ItemMCQ,
			OrderIndex:  i + 1,
			Prompt:      "Question " + id,
			Options:     []string{"right", "wrong"},
			Answer:      domain.Answer{Kind: domain.AnswerSingle, Index: 0},
			Explanation: "Because " + id,
		})
	}
	require.NoError(t, db.UpsertLesson(ctx, 0, lesson))

	f := &fixture{db: db, clock: clock.NewManual(t0), sink: &event.Recorder{}}
	f.mgr = NewManager(db, sm2.Default(), Config{BaseXP: 10, XPPerCorrect: 10, Strict: true},
		WithClock(f.clock), WithSink(f.sink))
	return f
}

func (f *fixture) answer(t *testing.T, sessionID string, resp domain.Response) (string, Feedback) {
	t.Helper()
	st, err := f.mgr.Get(sessionID)
	require.NoError(t, err)
	require.NotNil(t, st.Current)
	fb, err := f.mgr.Submit(context.Background(), sessionID, st.Current.ID, resp, 2*time.Second)
	require.NoError(t, err)
	return st.Current.ID, fb
}

func TestLessonAttempt(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "A", "B", "C")

	st, err := f.mgr.Start(ctx, "u1", "scoring")
	require.NoError(t, err)
	assert.Equal(t, mastery.Primary, st.Mode)
	require.NotNil(t, st.Current)
	assert.Equal(t, "A", st.Current.ID)
	assert.Equal(t, 3, st.Remaining)

	for _, id := range []string{"A", "B", "C"} {
		card, err := f.db.FindCardByItem(ctx, "u1", id)
		require.NoError(t, err, "a card is created for %s", id)
		assert.True(t, card.IsDue(t0))
	}

	id, fb := f.answer(t, st.SessionID, right)
	assert.Equal(t, "A", id)
	assert.True(t, fb.Correct)
	assert.Equal(t, sm2.QualityPerfect, fb.Quality)
	assert.Equal(t, "Because A", fb.Explanation)
	st, err = f.mgr.Advance(ctx, st.SessionID)
	require.NoError(t, err)

	id, fb = f.answer(t, st.SessionID, wrong)
	assert.Equal(t, "B", id)
	assert.False(t, fb.Correct)
	assert.Equal(t, 0, fb.Answer.Index)
	st, err = f.mgr.Advance(ctx, st.SessionID)
	require.NoError(t, err)
	assert.Equal(t, 1, st.RetryItems)

	f.answer(t, st.SessionID, right)
	st, err = f.mgr.Advance(ctx, st.SessionID)
	require.NoError(t, err)
	assert.Equal(t, mastery.Retry, st.Mode)
	require.NotNil(t, st.Current)
	assert.Equal(t, "B", st.Current.ID)

	f.clock.Advance(3 * time.Minute)
	f.answer(t, st.SessionID, right)
	st, err = f.mgr.Advance(ctx, st.SessionID)
	require.NoError(t, err)

	assert.Equal(t, mastery.Complete, st.Mode)
	assert.Nil(t, st.Current)
	assert.Equal(t, 1.0, st.Progress)
	require.NotNil(t, st.Completion)
	assert.Equal(t, mastery.Summary{ItemsTotal: 3, ItemsMissed: 1, PassesTaken: 2}, st.Completion.Summary)
	assert.Equal(t, 2, st.Completion.FirstTry)
	assert.Equal(t, 30, st.Completion.XP)
	assert.Equal(t, 3*time.Minute, st.Completion.Duration)

	total, err := f.db.TotalXP(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 30, total)

	assert.Len(t, f.sink.OfType(event.TypeItemGraded), 4)
	completed := f.sink.OfType(event.TypeLessonCompleted)
	require.Len(t, completed, 1)
	payload := completed[0].Payload.(event.LessonCompleted)
	assert.Equal(t, 30, payload.XP)
	assert.Equal(t, 2, payload.PassesTaken)

	// Advancing a finished session neither re-records nor re-publishes.
	_, err = f.mgr.Advance(ctx, st.SessionID)
	require.NoError(t, err)
	assert.Len(t, f.sink.OfType(event.TypeLessonCompleted), 1)
	total, err = f.db.TotalXP(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 30, total)

	_, err = f.mgr.Submit(ctx, st.SessionID, "A", right, time.Second)
	assert.ErrorIs(t, err, mastery.ErrComplete)
}

func TestRestartKeepsCards(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "A")

	_, err := f.mgr.Start(ctx, "u1", "scoring")
	require.NoError(t, err)
	first, err := f.db.FindCardByItem(ctx, "u1", "A")
	require.NoError(t, err)

	f.clock.Advance(time.Hour)
	_, err = f.mgr.Start(ctx, "u1", "scoring")
	require.NoError(t, err)
	again, err := f.db.FindCardByItem(ctx, "u1", "A")
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)
	assert.True(t, again.CreatedAt.Equal(t0))
}

func TestLessonXPAwardReplacesBase(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "A", "B")
	lesson, err := f.db.FindLesson(ctx, "scoring")
	require.NoError(t, err)
	lesson.XPAward = 50
	require.NoError(t, f.db.UpsertLesson(ctx, 0, lesson))

	st, err := f.mgr.Start(ctx, "u1", "scoring")
	require.NoError(t, err)
	f.answer(t, st.SessionID, right)
	_, err = f.mgr.Advance(ctx, st.SessionID)
	require.NoError(t, err)
	f.answer(t, st.SessionID, wrong)
	f.answer(t, st.SessionID, right) // regrade before advancing
	st, err = f.mgr.Advance(ctx, st.SessionID)
	require.NoError(t, err)

	require.NotNil(t, st.Completion)
	assert.Equal(t, 1, st.Completion.FirstTry, "only the first attempt counts toward the bonus")
	assert.Equal(t, 60, st.Completion.XP)
}

func TestSubmitErrors(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "A", "B")
	f.mgr.cfg.Strict = false

	_, err := f.mgr.Submit(ctx, "missing", "A", right, time.Second)
	assert.ErrorIs(t, err, ErrSessionNotFound)

	st, err := f.mgr.Start(ctx, "u1", "scoring")
	require.NoError(t, err)

	_, err = f.mgr.Submit(ctx, st.SessionID, "Z", right, time.Second)
	assert.ErrorIs(t, err, mastery.ErrNotPresented)
	_, err = f.mgr.Submit(ctx, st.SessionID, "B", right, time.Second)
	assert.ErrorIs(t, err, mastery.ErrNotPresented)
	assert.Empty(t, f.sink.OfType(event.TypeItemGraded))

	_, err = f.mgr.Start(ctx, "u1", "nope")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	require.NoError(t, f.mgr.End(st.SessionID))
	assert.ErrorIs(t, f.mgr.End(st.SessionID), ErrSessionNotFound)
	_, err = f.mgr.Get(st.SessionID)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestEmptyLessonCompletesOnStart(t *testing.T) {
	f := newFixture(t)
	st, err := f.mgr.Start(context.Background(), "u1", "scoring")
	require.NoError(t, err)
	assert.Equal(t, mastery.Complete, st.Mode)
	require.NotNil(t, st.Completion)
	assert.Equal(t, 10, st.Completion.XP)
}

func TestConcurrentLearners(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "A", "B", "C")

	const learners = 8
	var wg sync.WaitGroup
	for i := 0; i < learners; i++ {
		wg.Add(1)
		go func(user string) {
			defer wg.Done()
			st, err := f.mgr.Start(ctx, user, "scoring")
			if !assert.NoError(t, err) {
				return
			}
			for st.Current != nil {
				_, err := f.mgr.Submit(ctx, st.SessionID, st.Current.ID, right, time.Second)
				if !assert.NoError(t, err) {
					return
				}
				st, err = f.mgr.Advance(ctx, st.SessionID)
				if !assert.NoError(t, err) {
					return
				}
			}
			assert.Equal(t, mastery.Complete, st.Mode)
		}(string(rune('a' + i)))
	}
	wg.Wait()
	assert.Len(t, f.sink.OfType(event.TypeLessonCompleted), learners)
}

func TestIdleSessionsExpire(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "A", "B")

	abandoned, err := f.mgr.Start(ctx, "u1", "scoring")
	require.NoError(t, err)
	active, err := f.mgr.Start(ctx, "u2", "scoring")
	require.NoError(t, err)

	// Touching a session keeps it alive past the original deadline.
	for i := 0; i < 3; i++ {
		f.clock.Advance(DefaultSessionTTL - time.Minute)
		_, err = f.mgr.Get(active.SessionID)
		require.NoError(t, err)
	}

	_, err = f.mgr.Get(abandoned.SessionID)
	assert.ErrorIs(t, err, ErrSessionNotFound)
	_, err = f.mgr.Submit(ctx, abandoned.SessionID, "A", right, time.Second)
	assert.ErrorIs(t, err, ErrSessionNotFound)

	f.clock.Advance(DefaultSessionTTL + time.Second)
	_, err = f.mgr.Advance(ctx, active.SessionID)
	assert.ErrorIs(t, err, ErrSessionNotFound)

	f.mgr.mu.Lock()
	assert.Empty(t, f.mgr.sessions)
	f.mgr.mu.Unlock()
}
