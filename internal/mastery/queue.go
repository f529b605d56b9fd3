// Package mastery sequences the items of a lesson attempt so that every item is
// eventually answered correctly.
//
// Items are first presented in lesson order (the primary pass). Items answered
// wrongly are deferred to a retry queue which is replayed, looping, until it is
// empty. The session is complete exactly when every item has been answered
// correctly at least once.
package mastery

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
)

// Mode is the sequence currently driving presentation.
type Mode int

const (
	Primary Mode = iota
	Retry
	Complete
)

func (m Mode) String() string {
	switch m {
	case Primary:
		return "primary"
	case Retry:
		return "retry"
	case Complete:
		return "complete"
	}
	return fmt.Sprintf("Mode(%d)", int(m))
}

// MarshalText renders the mode by name.
func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

var (
	// ErrComplete is returned when an answer is submitted after the session finished.
	ErrComplete = errors.New("mastery: session is complete")
	// ErrNotPresented is returned when an answer names an item other than the one presented.
	ErrNotPresented = errors.New("mastery: item is not currently presented")
	// ErrAwaitingAdvance is returned when a retry answer is submitted twice without advancing.
	ErrAwaitingAdvance = errors.New("mastery: answer already recorded, advance first")
)

// Summary describes a finished session.
type Summary struct {
	ItemsTotal  int `json:"items_total"`
	ItemsMissed int `json:"items_missed"`
	PassesTaken int `json:"passes_taken"`
}

// Observer is told about grading and completion. Implementations must not call
// back into the Queue.
type Observer interface {
	ItemGraded(itemID string, correct bool)
	SessionComplete(summary Summary)
}

// Option configures a Queue.
type Option func(*Queue)

// WithObserver registers o for queue events.
func WithObserver(o Observer) Option {
	return func(q *Queue) { q.observer = o }
}

// WithStrict makes invariant violations panic instead of degrading to "no current item".
func WithStrict(strict bool) Option {
	return func(q *Queue) { q.strict = strict }
}

// WithLogger sets the logger used to report invariant violations.
func WithLogger(l *slog.Logger) Option {
	return func(q *Queue) { q.log = l }
}

// Queue is the per-attempt mastery state. It is not safe for concurrent use.
type Queue struct {
	items       []string
	primary     int
	retry       []string
	retryCursor int
	mastered    map[string]struct{}
	missed      map[string]struct{}
	mode        Mode
	passes      int

	pending     bool
	lastItem    string
	lastCorrect bool

	strict   bool
	notified bool
	observer Observer
	log      *slog.Logger
}

// New starts a session over itemIDs. Repeated ids are presented once.
func New(itemIDs []string, opts ...Option) *Queue {
	q := &Queue{
		mastered: make(map[string]struct{}, len(itemIDs)),
		missed:   make(map[string]struct{}),
		passes:   1,
	}
	seen := make(map[string]struct{}, len(itemIDs))
	for _, id := range itemIDs {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		q.items = append(q.items, id)
	}
	for _, opt := range opts {
		opt(q)
	}
	if q.log == nil {
		q.log = slog.Default()
	}
	if len(q.items) == 0 {
		q.finish()
	}
	return q
}

// Mode returns the current presentation mode.
func (q *Queue) Mode() Mode { return q.mode }

// Len returns the number of distinct items in the session.
func (q *Queue) Len() int { return len(q.items) }

// Current returns the item being presented. While an answer awaits Advance this is
// the answered item. ok is false once the session is complete.
func (q *Queue) Current() (itemID string, ok bool) {
	if q.pending {
		return q.lastItem, true
	}
	switch q.mode {
	case Primary:
		if q.primary < len(q.items) {
			return q.items[q.primary], true
		}
		q.violation("primary cursor past end of items", "cursor", q.primary, "items", len(q.items))
	case Retry:
		if q.retryCursor < len(q.retry) {
			return q.retry[q.retryCursor], true
		}
		q.violation("retry cursor past end of queue", "cursor", q.retryCursor, "queue", len(q.retry))
	}
	return "", false
}

// Submit records the verdict for the presented item.
func (q *Queue) Submit(itemID string, correct bool) error {
	if q.mode == Complete {
		q.violation("submit after completion", "item", itemID)
		return ErrComplete
	}
	if q.pending {
		if itemID != q.lastItem {
			q.violation("submit for an item that is not presented", "item", itemID, "presented", q.lastItem)
			return ErrNotPresented
		}
		if q.mode == Retry {
			return ErrAwaitingAdvance
		}
		// A repeated primary answer is regraded; enqueueing stays idempotent.
		q.grade(itemID, correct)
		return nil
	}

	current, ok := q.Current()
	if !ok || itemID != current {
		q.violation("submit for an item that is not presented", "item", itemID, "presented", current)
		return ErrNotPresented
	}
	q.grade(itemID, correct)
	return nil
}

func (q *Queue) grade(itemID string, correct bool) {
	if correct {
		q.mastered[itemID] = struct{}{}
		if q.mode == Retry && !q.pending {
			q.retry = slices.Delete(q.retry, q.retryCursor, q.retryCursor+1)
		}
	} else {
		q.missed[itemID] = struct{}{}
		if q.mode == Primary && !slices.Contains(q.retry, itemID) {
			q.retry = append(q.retry, itemID)
		}
	}
	q.pending = true
	q.lastItem = itemID
	q.lastCorrect = correct
	if q.observer != nil {
		q.observer.ItemGraded(itemID, correct)
	}
}

// Advance moves past the answered item and returns the next one to present.
// Without a pending answer it returns the current item unchanged.
func (q *Queue) Advance() (itemID string, ok bool) {
	if q.mode == Complete {
		return "", false
	}
	if !q.pending {
		return q.Current()
	}
	q.pending = false

	switch q.mode {
	case Primary:
		if q.primary < len(q.items)-1 {
			q.primary++
			break
		}
		if len(q.retry) == 0 {
			q.mode = Complete
			break
		}
		q.mode = Retry
		q.retryCursor = 0
		q.passes++
	case Retry:
		if !q.lastCorrect {
			q.retryCursor++
		}
		if len(q.retry) == 0 {
			q.mode = Complete
			break
		}
		if q.retryCursor >= len(q.retry) {
			q.retryCursor = 0
			q.passes++
		}
	}

	q.reconcile()
	return q.Current()
}

// reconcile makes the mastered set the authority on completion.
func (q *Queue) reconcile() {
	if len(q.mastered) == len(q.items) {
		q.finish()
		return
	}
	if q.mode != Complete {
		return
	}
	q.violation("queue drained with unmastered items", "mastered", len(q.mastered), "items", len(q.items))
	q.retry = q.retry[:0]
	for _, id := range q.items {
		if _, ok := q.mastered[id]; !ok {
			q.retry = append(q.retry, id)
		}
	}
	q.mode = Retry
	q.retryCursor = 0
	q.passes++
}

func (q *Queue) finish() {
	q.mode = Complete
	q.retry = nil
	q.retryCursor = 0
	if q.notified {
		return
	}
	q.notified = true
	if q.observer != nil {
		q.observer.SessionComplete(q.Summary())
	}
}

// Progress returns the mastered fraction of the lesson in [0, 1].
func (q *Queue) Progress() float64 {
	if len(q.items) == 0 {
		return 1
	}
	return float64(len(q.mastered)) / float64(len(q.items))
}

// IsMastered reports whether itemID has been answered correctly.
func (q *Queue) IsMastered(itemID string) bool {
	_, ok := q.mastered[itemID]
	return ok
}

// Mastered returns the mastered item ids in lesson order.
func (q *Queue) Mastered() []string {
	out := make([]string, 0, len(q.mastered))
	for _, id := range q.items {
		if _, ok := q.mastered[id]; ok {
			out = append(out, id)
		}
	}
	return out
}

// RetryQueue returns a copy of the items waiting for another attempt.
func (q *Queue) RetryQueue() []string {
	return slices.Clone(q.retry)
}

// Summary reports totals for the session so far.
func (q *Queue) Summary() Summary {
	return Summary{
		ItemsTotal:  len(q.items),
		ItemsMissed: len(q.missed),
		PassesTaken: q.passes,
	}
}

func (q *Queue) violation(msg string, args ...any) {
	if q.strict {
		panic(fmt.Sprintf("mastery: %s %v", msg, args))
	}
	q.log.Error("mastery invariant violated: "+msg, args...)
}
