// Package itemkey derives stable identifiers for lesson content so that review
// cards stay attached to an item across content re-syncs.
package itemkey

import (
	"crypto/sha256"
	"fmt"
	"strings"

	"github.com/conorfennell/drill/internal/domain"
)

// normalizePart lowercases, trims and normalizes line endings of one field.
func normalizePart(part string) string {
	p := strings.ToLower(part)
	p = strings.ReplaceAll(p, "\r\n", "\n")
	return strings.TrimSpace(p)
}

// Normalize joins the identifying fields of an item after cleaning each one.
// Explanation, XP and ordering are deliberately left out: editing them keeps the id.
func Normalize(item domain.Item) string {
	parts := []string{
		normalizePart(item.LessonID),
		normalizePart(string(item.Type)),
		normalizePart(item.Prompt),
	}
	for _, opt := range item.Options {
		parts = append(parts, normalizePart(opt))
	}
	// Newline separation keeps "ab"+"c" distinct from "a"+"bc".
	return strings.Join(parts, "\n")
}

// Hash returns the item's SHA-256 id as a hex string.
func Hash(item domain.Item) string {
	sum := sha256.Sum256([]byte(Normalize(item)))
	return fmt.Sprintf("%x", sum)
}

// LessonID returns a short stable id for a lesson from its subject and title.
func LessonID(subjectID, title string) string {
	sum := sha256.Sum256([]byte(normalizePart(subjectID) + "\n" + normalizePart(title)))
	return fmt.Sprintf("%x", sum[:8])
}
