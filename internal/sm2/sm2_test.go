package sm2

import (
	"math"
	"testing"
	"time"
)

var t0 = time.Date(2025, 11, 15, 9, 0, 0, 0, time.UTC)

func TestNewCard(t *testing.T) {
	s := Default()
	card := s.NewCard("user-1", "item-1", "football", t0)

	if card.Interval != 24*time.Hour {
		t.Errorf("Expected interval of 1 day, got %v", card.Interval)
	}
	if card.EaseFactor != 2.5 {
		t.Errorf("Expected ease 2.5, got %.2f", card.EaseFactor)
	}
	if card.Repetitions != 0 {
		t.Errorf("Expected 0 repetitions, got %d", card.Repetitions)
	}
	if !card.DueDate.Equal(t0) || !card.CreatedAt.Equal(t0) {
		t.Errorf("Expected due and created at %v, got %v and %v", t0, card.DueDate, card.CreatedAt)
	}
	if card.LastReviewedAt != nil {
		t.Errorf("Expected no last review, got %v", card.LastReviewedAt)
	}
	if !card.IsDue(t0) {
		t.Error("Expected a new card to be due immediately")
	}
}

func TestRecordReview(t *testing.T) {
	s := Default()
	fresh := s.NewCard("user-1", "item-1", "football", t0)

	t.Run("Perfect first review", func(t *testing.T) {
		got := s.RecordReview(fresh, QualityPerfect, t0)
		if got.Interval != 86400*time.Second {
			t.Errorf("Expected interval 86400s, got %v", got.Interval)
		}
		if !got.DueDate.Equal(t0.Add(86400 * time.Second)) {
			t.Errorf("Expected due date %v, got %v", t0.Add(86400*time.Second), got.DueDate)
		}
		if got.Repetitions != 1 {
			t.Errorf("Expected 1 repetition, got %d", got.Repetitions)
		}
		if math.Abs(got.EaseFactor-2.6) > 1e-9 {
			t.Errorf("Expected ease of about 2.6, got %.4f", got.EaseFactor)
		}
		if fresh.Repetitions != 0 || fresh.LastReviewedAt != nil {
			t.Error("Expected the input card to be left untouched")
		}
	})

	t.Run("Failure after a success", func(t *testing.T) {
		first := s.RecordReview(fresh, QualityPerfect, t0)
		at := t0.Add(86400 * time.Second)
		got := s.RecordReview(first, QualityBlackout, at)

		if got.Repetitions != 0 {
			t.Errorf("Expected repetitions reset to 0, got %d", got.Repetitions)
		}
		if got.Interval != 600*time.Second {
			t.Errorf("Expected relearn interval of 600s, got %v", got.Interval)
		}
		if !got.DueDate.Equal(at.Add(600 * time.Second)) {
			t.Errorf("Expected due date %v, got %v", at.Add(600*time.Second), got.DueDate)
		}
		if got.EaseFactor >= first.EaseFactor || got.EaseFactor < MinEaseFactor {
			t.Errorf("Expected ease to drop from %.2f but stay >= 1.3, got %.2f", first.EaseFactor, got.EaseFactor)
		}
		if math.Abs(got.EaseFactor-1.8) > 1e-9 {
			t.Errorf("Expected ease of about 1.8, got %.4f", got.EaseFactor)
		}
	})

	t.Run("Repeated success grows the interval", func(t *testing.T) {
		card := fresh
		now := t0
		var intervals []time.Duration
		for i := 0; i < 3; i++ {
			card = s.RecordReview(card, QualityPerfect, now)
			intervals = append(intervals, card.Interval)
			now = card.DueDate.Add(time.Minute)
		}
		if intervals[0] != 24*time.Hour {
			t.Errorf("Expected first interval of 1 day, got %v", intervals[0])
		}
		if intervals[1] != 6*24*time.Hour {
			t.Errorf("Expected second interval of 6 days, got %v", intervals[1])
		}
		if intervals[2] <= intervals[1] {
			t.Errorf("Expected third interval to exceed 6 days, got %v", intervals[2])
		}
	})

	t.Run("Due date follows last review", func(t *testing.T) {
		card := fresh
		now := t0
		for _, q := range []Quality{5, 4, 2, 3, 5, 0, 4} {
			card = s.RecordReview(card, q, now)
			if card.LastReviewedAt == nil {
				t.Fatal("Expected LastReviewedAt to be set")
			}
			if !card.DueDate.Equal(card.LastReviewedAt.Add(card.Interval)) {
				t.Errorf("Expected due date %v, got %v", card.LastReviewedAt.Add(card.Interval), card.DueDate)
			}
			now = now.Add(7 * time.Hour)
		}
	})
}

func TestRecordReviewInvariants(t *testing.T) {
	s := Default()
	priorIntervals := []time.Duration{time.Minute, 24 * time.Hour, 40 * 24 * time.Hour}
	eases := []float64{1.3, 1.4, 2.5, 3.2}
	reps := []int{0, 1, 2, 9}

	for q := Quality(-3); q <= 8; q++ {
		for _, ease := range eases {
			for _, iv := range priorIntervals {
				for _, r := range reps {
					card := s.NewCard("u", "i", "s", t0)
					card.EaseFactor = ease
					card.Interval = iv
					card.Repetitions = r

					got := s.RecordReview(card, q, t0)
					if got.EaseFactor < MinEaseFactor {
						t.Errorf("q=%d ease=%.1f: ease %.3f below floor", q, ease, got.EaseFactor)
					}
					if q.Clamp() < 3 {
						if got.Repetitions != 0 {
							t.Errorf("q=%d: expected repetitions 0, got %d", q, got.Repetitions)
						}
						if got.Interval != 600*time.Second {
							t.Errorf("q=%d: expected 600s interval, got %v", q, got.Interval)
						}
					} else if got.Repetitions != r+1 {
						t.Errorf("q=%d: expected %d repetitions, got %d", q, r+1, got.Repetitions)
					}
				}
			}
		}
	}
}

func TestQualityClamp(t *testing.T) {
	s := Default()
	card := s.NewCard("u", "i", "s", t0)

	low := s.RecordReview(card, -4, t0)
	zero := s.RecordReview(card, 0, t0)
	if low.EaseFactor != zero.EaseFactor || low.Interval != zero.Interval {
		t.Errorf("Expected quality -4 to behave like 0, got ease %.2f vs %.2f", low.EaseFactor, zero.EaseFactor)
	}

	high := s.RecordReview(card, 11, t0)
	five := s.RecordReview(card, 5, t0)
	if high.EaseFactor != five.EaseFactor || high.Interval != five.Interval {
		t.Errorf("Expected quality 11 to behave like 5, got ease %.2f vs %.2f", high.EaseFactor, five.EaseFactor)
	}
}

func TestQualityFromOutcome(t *testing.T) {
	s := Default()
	testCases := []struct {
		name      string
		correct   bool
		timeSpent time.Duration
		expected  Quality
	}{
		{"Incorrect fast", false, time.Second, 0},
		{"Incorrect slow", false, time.Minute, 0},
		{"Correct instant", true, 0, 5},
		{"Correct under five seconds", true, 4900 * time.Millisecond, 5},
		{"Correct at five seconds", true, 5 * time.Second, 4},
		{"Correct under ten seconds", true, 9 * time.Second, 4},
		{"Correct at ten seconds", true, 10 * time.Second, 3},
		{"Correct slow", true, 2 * time.Minute, 3},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := s.QualityFromOutcome(tc.correct, tc.timeSpent); got != tc.expected {
				t.Errorf("Expected quality %d, got %d", tc.expected, got)
			}
		})
	}

	t.Run("Monotonic in latency", func(t *testing.T) {
		prev := QualityPerfect
		for ms := 0; ms <= 20000; ms += 250 {
			q := s.QualityFromOutcome(true, time.Duration(ms)*time.Millisecond)
			if q > prev {
				t.Fatalf("Quality rose from %d to %d at %dms", prev, q, ms)
			}
			prev = q
		}
	})
}

func TestIsMastered(t *testing.T) {
	s := Default()
	card := s.NewCard("u", "i", "s", t0)
	if IsMastered(card) {
		t.Error("Expected a new card not to be mastered")
	}
	card.Interval = 31 * 24 * time.Hour
	if !IsMastered(card) {
		t.Error("Expected a 31 day card to be mastered")
	}
}

func TestIntervalSaturates(t *testing.T) {
	s := Default()
	card := s.NewCard("u", "i", "s", t0)
	now := t0
	prev := time.Duration(0)
	for i := 1; i <= 40; i++ {
		card = s.RecordReview(card, QualityPerfect, now)
		if card.Interval <= 0 {
			t.Fatalf("Review %d: interval went non-positive: %v", i, card.Interval)
		}
		if card.Interval < prev {
			t.Fatalf("Review %d: interval shrank from %v to %v", i, prev, card.Interval)
		}
		if card.Interval > s.MaxInterval {
			t.Fatalf("Review %d: interval %v exceeds the cap %v", i, card.Interval, s.MaxInterval)
		}
		if !card.DueDate.After(now) {
			t.Fatalf("Review %d: due date %v is not after %v", i, card.DueDate, now)
		}
		prev = card.Interval
		now = now.Add(time.Hour)
	}
	if card.Interval != DefaultMaxInterval {
		t.Errorf("Expected the interval to settle at %v, got %v", DefaultMaxInterval, card.Interval)
	}

	t.Run("Custom cap", func(t *testing.T) {
		capped := Default()
		capped.MaxInterval = 10 * 24 * time.Hour
		card := capped.NewCard("u", "i", "s", t0)
		for i := 0; i < 4; i++ {
			card = capped.RecordReview(card, QualityPerfect, t0)
		}
		if card.Interval != capped.MaxInterval {
			t.Errorf("Expected interval %v, got %v", capped.MaxInterval, card.Interval)
		}
	})
}

func TestEaseFloorIgnoresLowerSetting(t *testing.T) {
	s := Default()
	s.MinEase = 0.5
	ease := DefaultEaseFactor
	for i := 0; i < 20; i++ {
		ease = s.NextEase(ease, QualityBlackout)
	}
	if ease != MinEaseFactor {
		t.Errorf("Expected ease to stop at %.1f, got %.2f", MinEaseFactor, ease)
	}
}
