package lesson

import (
	"sync"
	"time"

	"github.com/conorfennell/drill/internal/domain"
	"github.com/conorfennell/drill/internal/grading"
	"github.com/conorfennell/drill/internal/mastery"
)

// ItemView is an item as shown to the learner, without its answer.
type ItemView struct {
	ID       string          `json:"id"`
	Type     domain.ItemType `json:"type"`
	Prompt   string          `json:"prompt"`
	Options  []string        `json:"options,omitempty"`
	MediaURL string          `json:"media_url,omitempty"`
}

// State is a snapshot of a lesson session.
type State struct {
	SessionID  string       `json:"session_id"`
	LessonID   string       `json:"lesson_id"`
	Title      string       `json:"title"`
	Mode       mastery.Mode `json:"mode"`
	Current    *ItemView    `json:"current,omitempty"`
	Progress   float64      `json:"progress"`
	Remaining  int          `json:"remaining"`
	RetryItems int          `json:"retry_items"`
	Completion *Completion  `json:"completion,omitempty"`
}

// Feedback is the result of submitting a response.
type Feedback struct {
	grading.Result
	Answer      domain.Answer `json:"answer"`
	Explanation string        `json:"explanation,omitempty"`
	Progress    float64       `json:"progress"`
}

// Completion describes a finished lesson attempt.
type Completion struct {
	Summary     mastery.Summary `json:"summary"`
	FirstTry    int             `json:"first_try_correct"`
	XP          int             `json:"xp"`
	Duration    time.Duration   `json:"duration"`
	CompletedAt time.Time       `json:"completed_at"`
}

type gradedItem struct {
	itemID  string
	correct bool
}

// session is one learner's attempt. All fields are guarded by mu, which is held
// across every queue call, so the observer methods run under it too.
type session struct {
	mu         sync.Mutex
	id         string
	userID     string
	lesson     domain.Lesson
	items      map[string]domain.Item
	queue      *mastery.Queue
	firstTry   map[string]bool
	graded     []gradedItem
	summary    *mastery.Summary
	completion *Completion
	startedAt  time.Time

	// lastSeen is guarded by Manager.mu, not mu.
	lastSeen time.Time
}

// ItemGraded implements mastery.Observer.
func (s *session) ItemGraded(itemID string, correct bool) {
	if _, seen := s.firstTry[itemID]; !seen {
		s.firstTry[itemID] = correct
	}
	s.graded = append(s.graded, gradedItem{itemID: itemID, correct: correct})
}

// SessionComplete implements mastery.Observer.
func (s *session) SessionComplete(summary mastery.Summary) {
	s.summary = &summary
}

func (s *session) firstTryCorrect() int {
	n := 0
	for _, ok := range s.firstTry {
		if ok {
			n++
		}
	}
	return n
}

func (s *session) state() State {
	st := State{
		SessionID:  s.id,
		LessonID:   s.lesson.ID,
		Title:      s.lesson.Title,
		Mode:       s.queue.Mode(),
		Progress:   s.queue.Progress(),
		Remaining:  s.queue.Len() - len(s.queue.Mastered()),
		RetryItems: len(s.queue.RetryQueue()),
		Completion: s.completion,
	}
	if id, ok := s.queue.Current(); ok {
		item := s.items[id]
		st.Current = &ItemView{
			ID:       item.ID,
			Type:     item.Type,
			Prompt:   item.Prompt,
			Options:  item.Options,
			MediaURL: item.MediaURL,
		}
	}
	return st
}
