// Package domain holds the entities shared by the scheduler, lesson and storage layers.
package domain

// ItemType is the kind of interaction an item asks for.
type ItemType string

const (
	ItemMCQ         ItemType = "mcq"
	ItemMultiSelect ItemType = "multi_select"
	ItemSlider      ItemType = "slider"
	ItemFreeText    ItemType = "free_text"
	ItemClipLabel   ItemType = "clip_label"
	ItemBinary      ItemType = "binary"
)

// HasOptions reports whether items of this type present a list of choices.
func (t ItemType) HasOptions() bool {
	switch t {
	case ItemMCQ, ItemMultiSelect, ItemBinary:
		return true
	}
	return false
}

// AnswerKind selects which field of an Answer is meaningful.
type AnswerKind string

const (
	AnswerSingle   AnswerKind = "single"
	AnswerMultiple AnswerKind = "multiple"
	AnswerRange    AnswerKind = "range"
	AnswerText     AnswerKind = "text"
	AnswerBoolean  AnswerKind = "boolean"
)

// Answer is the expected answer of an item.
type Answer struct {
	Kind     AnswerKind `json:"type" validate:"required,oneof=single multiple range text boolean"`
	Index    int        `json:"singleValue,omitempty"`
	Indices  []int      `json:"multipleValue,omitempty"`
	RangeMin float64    `json:"rangeMin,omitempty"`
	RangeMax float64    `json:"rangeMax,omitempty" validate:"gtefield=RangeMin"`
	Text     string     `json:"textValue,omitempty"`
	Bool     bool       `json:"boolValue,omitempty"`
}

// ResponseKind selects which field of a Response is meaningful.
type ResponseKind string

const (
	ResponseSingle   ResponseKind = "single"
	ResponseMultiple ResponseKind = "multiple"
	ResponseSlider   ResponseKind = "slider"
	ResponseText     ResponseKind = "text"
)

// Response is a learner's raw answer to an item.
type Response struct {
	Kind    ResponseKind `json:"type" binding:"required,oneof=single multiple slider text"`
	Index   int          `json:"index"`
	Indices []int        `json:"indices"`
	Value   float64      `json:"value"`
	Text    string       `json:"text"`
}

// Item is a single gradeable question within a lesson.
type Item struct {
	ID          string   `json:"id"`
	LessonID    string   `json:"lesson_id"`
	Type        ItemType `json:"type" validate:"required,oneof=mcq multi_select slider free_text clip_label binary"`
	OrderIndex  int      `json:"order_index"`
	Prompt      string   `json:"prompt" validate:"required"`
	Options     []string `json:"options,omitempty" validate:"omitempty,dive,required"`
	Answer      Answer   `json:"answer"`
	Explanation string   `json:"explanation,omitempty"`
	MediaURL    string   `json:"media_url,omitempty" validate:"omitempty,url"`
	XPValue     int      `json:"xp_value" validate:"gte=0"`
}

// Lesson is an ordered set of items on one subject.
type Lesson struct {
	ID          string `json:"id"`
	SourceID    int64  `json:"source_id"`
	SubjectID   string `json:"subject_id" validate:"required"`
	Title       string `json:"title" validate:"required"`
	Description string `json:"description,omitempty"`
	OrderIndex  int    `json:"order_index"`
	XPAward     int    `json:"xp_award" validate:"gte=0"`
	Items       []Item `json:"items,omitempty" validate:"dive"`
}

// ItemIDs returns the ids of the lesson's items in presentation order.
func (l Lesson) ItemIDs() []string {
	ids := make([]string, len(l.Items))
	for i, it := range l.Items {
		ids[i] = it.ID
	}
	return ids
}
