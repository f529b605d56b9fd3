// Package parser reads lessons from line-oriented markdown files.
//
// A lesson file looks like:
//
//	# Scoring Basics
//	S: football
//	D: How points are scored
//	X: 50
//
//	Q: A touchdown is worth 6 points.
//	T: binary
//	A: true
//	E: Plus a try for one or two more.
//	---
//	Q: How many points is a field goal worth?
//	O: 1 point | 2 points | 3 points | 6 points
//	A: 3 points
//
// Q: and E: may continue over several lines. X: before the first question is the
// lesson's XP award, after it the item's XP value.
package parser

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/conorfennell/drill/internal/domain"
	"github.com/conorfennell/drill/internal/itemkey"
	"github.com/go-playground/validator/v10"
)

const (
	titlePrefix       = "# "
	subjectPrefix     = "S:"
	descriptionPrefix = "D:"
	orderPrefix       = "N:"
	xpPrefix          = "X:"
	questionPrefix    = "Q:"
	typePrefix        = "T:"
	optionsPrefix     = "O:"
	answerPrefix      = "A:"
	explainPrefix     = "E:"
	mediaPrefix       = "M:"

	defaultItemXP = 10
)

type state int

const (
	seeking state = iota
	readingQuestion
	readingExplanation
	readingFields
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Error reports a problem at a line of a lesson file.
type Error struct {
	Line int
	Msg  string
}

func (e *Error) Error() string {
	return fmt.Sprintf("line %d: %s", e.Line, e.Msg)
}

// pendingItem collects the raw fields of one question before they are interpreted.
type pendingItem struct {
	line        int
	prompt      []string
	typ         string
	options     string
	answer      string
	explanation []string
	media       string
	xp          string
}

// ParseFile reads the lesson at path. A missing "# " title falls back to the file name.
func ParseFile(path string) (domain.Lesson, error) {
	file, err := os.Open(path)
	if err != nil {
		return domain.Lesson{}, err
	}
	defer file.Close()

	lesson, err := parse(file, strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)))
	if err != nil {
		return domain.Lesson{}, fmt.Errorf("%s: %w", path, err)
	}
	return lesson, nil
}

// Parse reads a lesson from r.
func Parse(r io.Reader) (domain.Lesson, error) {
	return parse(r, "")
}

func parse(r io.Reader, fallbackTitle string) (domain.Lesson, error) {
	scanner := bufio.NewScanner(r)
	var lesson domain.Lesson
	var raw []pendingItem
	var current *pendingItem
	currentState := seeking
	lineNo := 0

	finishItem := func() {
		if current != nil {
			raw = append(raw, *current)
		}
		current = nil
		currentState = seeking
	}

	for scanner.Scan() {
		lineNo++
		line := scanner.Text()

		if line == "---" {
			finishItem()
			continue
		}

		if current == nil && !strings.HasPrefix(line, questionPrefix) {
			switch {
			case strings.HasPrefix(line, titlePrefix):
				lesson.Title = strings.TrimSpace(line[len(titlePrefix):])
			case strings.HasPrefix(line, subjectPrefix):
				lesson.SubjectID = value(line, subjectPrefix)
			case strings.HasPrefix(line, descriptionPrefix):
				lesson.Description = value(line, descriptionPrefix)
			case strings.HasPrefix(line, orderPrefix):
				n, err := strconv.Atoi(value(line, orderPrefix))
				if err != nil {
					return domain.Lesson{}, &Error{Line: lineNo, Msg: "order must be an integer"}
				}
				lesson.OrderIndex = n
			case strings.HasPrefix(line, xpPrefix):
				n, err := strconv.Atoi(value(line, xpPrefix))
				if err != nil {
					return domain.Lesson{}, &Error{Line: lineNo, Msg: "xp must be an integer"}
				}
				lesson.XPAward = n
			}
			continue
		}

		switch {
		case strings.HasPrefix(line, questionPrefix):
			finishItem()
			current = &pendingItem{line: lineNo, prompt: []string{value(line, questionPrefix)}}
			currentState = readingQuestion
		case strings.HasPrefix(line, typePrefix):
			current.typ = value(line, typePrefix)
			currentState = readingFields
		case strings.HasPrefix(line, optionsPrefix):
			current.options = value(line, optionsPrefix)
			currentState = readingFields
		case strings.HasPrefix(line, answerPrefix):
			current.answer = value(line, answerPrefix)
			currentState = readingFields
		case strings.HasPrefix(line, mediaPrefix):
			current.media = value(line, mediaPrefix)
			currentState = readingFields
		case strings.HasPrefix(line, xpPrefix):
			current.xp = value(line, xpPrefix)
			currentState = readingFields
		case strings.HasPrefix(line, explainPrefix):
			current.explanation = append(current.explanation, value(line, explainPrefix))
			currentState = readingExplanation
		case currentState == readingQuestion:
			current.prompt = append(current.prompt, line)
		case currentState == readingExplanation:
			current.explanation = append(current.explanation, line)
		}
	}

	finishItem() // Finish the very last item in the file

	if err := scanner.Err(); err != nil {
		return domain.Lesson{}, err
	}

	if lesson.Title == "" {
		lesson.Title = fallbackTitle
	}
	lesson.ID = itemkey.LessonID(lesson.SubjectID, lesson.Title)

	for i, p := range raw {
		item, err := p.build(lesson.ID, i+1)
		if err != nil {
			return domain.Lesson{}, &Error{Line: p.line, Msg: err.Error()}
		}
		lesson.Items = append(lesson.Items, item)
	}

	if err := validate.Struct(lesson); err != nil {
		return domain.Lesson{}, fmt.Errorf("invalid lesson %q: %w", lesson.Title, err)
	}
	return lesson, nil
}

// value strips prefix and a single following space.
func value(line, prefix string) string {
	v := line[len(prefix):]
	if strings.HasPrefix(v, " ") {
		v = v[1:]
	}
	return strings.TrimRight(v, " \t")
}

func (p pendingItem) build(lessonID string, order int) (domain.Item, error) {
	item := domain.Item{
		LessonID:    lessonID,
		OrderIndex:  order,
		Prompt:      strings.TrimSpace(strings.Join(p.prompt, "\n")),
		Explanation: strings.TrimSpace(strings.Join(p.explanation, "\n")),
		MediaURL:    p.media,
		XPValue:     defaultItemXP,
	}
	if p.options != "" {
		for _, opt := range strings.Split(p.options, "|") {
			item.Options = append(item.Options, strings.TrimSpace(opt))
		}
	}

	item.Type = domain.ItemType(strings.ToLower(p.typ))
	if p.typ == "" {
		item.Type = domain.ItemFreeText
		if len(item.Options) > 0 {
			item.Type = domain.ItemMCQ
		}
	}
	if item.Type == domain.ItemBinary && len(item.Options) == 0 {
		item.Options = []string{"True", "False"}
	}

	if p.xp != "" {
		n, err := strconv.Atoi(p.xp)
		if err != nil {
			return domain.Item{}, fmt.Errorf("xp must be an integer, got %q", p.xp)
		}
		item.XPValue = n
	}

	if p.answer == "" {
		return domain.Item{}, fmt.Errorf("question %q has no answer", item.Prompt)
	}
	answer, err := parseAnswer(item, p.answer)
	if err != nil {
		return domain.Item{}, err
	}
	item.Answer = answer

	if item.Type.HasOptions() && len(item.Options) < 2 {
		return domain.Item{}, fmt.Errorf("%s question needs at least two options", item.Type)
	}
	if err := validate.Struct(item); err != nil {
		return domain.Item{}, err
	}

	item.ID = itemkey.Hash(item)
	return item, nil
}

func parseAnswer(item domain.Item, raw string) (domain.Answer, error) {
	switch item.Type {
	case domain.ItemMCQ:
		idx, err := optionIndex(item.Options, raw)
		if err != nil {
			return domain.Answer{}, err
		}
		return domain.Answer{Kind: domain.AnswerSingle, Index: idx}, nil
	case domain.ItemMultiSelect:
		var indices []int
		for _, part := range strings.Split(raw, ",") {
			idx, err := optionIndex(item.Options, strings.TrimSpace(part))
			if err != nil {
				return domain.Answer{}, err
			}
			indices = append(indices, idx)
		}
		return domain.Answer{Kind: domain.AnswerMultiple, Indices: indices}, nil
	case domain.ItemBinary:
		b, err := parseBool(raw)
		if err != nil {
			return domain.Answer{}, err
		}
		return domain.Answer{Kind: domain.AnswerBoolean, Bool: b}, nil
	case domain.ItemSlider:
		lo, hi, found := strings.Cut(raw, "..")
		if !found {
			hi = lo
		}
		low, err := strconv.ParseFloat(strings.TrimSpace(lo), 64)
		if err != nil {
			return domain.Answer{}, fmt.Errorf("slider answer %q is not a number or range", raw)
		}
		high, err := strconv.ParseFloat(strings.TrimSpace(hi), 64)
		if err != nil {
			return domain.Answer{}, fmt.Errorf("slider answer %q is not a number or range", raw)
		}
		if high < low {
			return domain.Answer{}, fmt.Errorf("slider range %q is reversed", raw)
		}
		return domain.Answer{Kind: domain.AnswerRange, RangeMin: low, RangeMax: high}, nil
	case domain.ItemFreeText, domain.ItemClipLabel:
		return domain.Answer{Kind: domain.AnswerText, Text: raw}, nil
	}
	return domain.Answer{}, fmt.Errorf("unknown question type %q", item.Type)
}

// optionIndex accepts either a 0-based index or the text of an option.
func optionIndex(options []string, raw string) (int, error) {
	if n, err := strconv.Atoi(raw); err == nil {
		if n < 0 || n >= len(options) {
			return 0, fmt.Errorf("answer index %d out of range", n)
		}
		return n, nil
	}
	for i, opt := range options {
		if strings.EqualFold(opt, raw) {
			return i, nil
		}
	}
	return 0, fmt.Errorf("answer %q is not one of the options", raw)
}

func parseBool(raw string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "true", "yes", "t", "y":
		return true, nil
	case "false", "no", "f", "n":
		return false, nil
	}
	return false, fmt.Errorf("binary answer %q must be true or false", raw)
}
