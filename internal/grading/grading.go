// Package grading decides whether a learner's response answers an item.
package grading

import (
	"slices"
	"strings"
	"time"

	"github.com/conorfennell/drill/internal/domain"
	"github.com/conorfennell/drill/internal/sm2"
)

// Result is the outcome of grading one response.
type Result struct {
	Correct bool        `json:"correct"`
	Quality sm2.Quality `json:"quality"`
}

// Check reports whether resp is a correct answer to item.
// Combinations the item cannot accept are wrong.
func Check(item domain.Item, resp domain.Response) bool {
	want := item.Answer
	switch resp.Kind {
	case domain.ResponseSingle:
		switch want.Kind {
		case domain.AnswerSingle:
			return resp.Index == want.Index
		case domain.AnswerBoolean:
			// Option 0 is "true", option 1 is "false".
			return (resp.Index == 0 && want.Bool) || (resp.Index == 1 && !want.Bool)
		}
	case domain.ResponseMultiple:
		if want.Kind == domain.AnswerMultiple {
			return sameSet(resp.Indices, want.Indices)
		}
	case domain.ResponseSlider:
		if want.Kind == domain.AnswerRange {
			return resp.Value >= want.RangeMin && resp.Value <= want.RangeMax
		}
	case domain.ResponseText:
		if want.Kind == domain.AnswerText {
			return strings.EqualFold(strings.TrimSpace(resp.Text), strings.TrimSpace(want.Text))
		}
	}
	return false
}

// Grade checks resp and converts the verdict and latency into a review quality.
func Grade(s *sm2.Scheduler, item domain.Item, resp domain.Response, timeSpent time.Duration) Result {
	correct := Check(item, resp)
	return Result{
		Correct: correct,
		Quality: s.QualityFromOutcome(correct, timeSpent),
	}
}

func sameSet(a, b []int) bool {
	x := slices.Compact(slices.Sorted(slices.Values(a)))
	y := slices.Compact(slices.Sorted(slices.Values(b)))
	return slices.Equal(x, y)
}
