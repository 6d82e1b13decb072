package shared

import (
	"math"
	"strings"
	"unicode/utf8"
)

// ══════════════════════════════════════════════════════════════════════════════
// IDENTIFIERS
// ══════════════════════════════════════════════════════════════════════════════

// maxIDLength bounds every external identifier accepted by the engine.
const maxIDLength = 128

// StudentID identifies a learner. The engine treats it as opaque; the
// transport collaborator decides what it contains (Telegram ID, UUID, ...).
type StudentID string

// IsValid checks that the ID is non-blank and reasonably short.
func (s StudentID) IsValid() bool {
	return validID(string(s))
}

// String implements fmt.Stringer.
func (s StudentID) String() string {
	return string(s)
}

// NewStudentID trims and validates a student identifier.
func NewStudentID(id string) (StudentID, error) {
	id = strings.TrimSpace(id)
	if !validID(id) {
		return "", NewDomainError("student", "Validate", ErrInvalidID, "invalid student ID")
	}
	return StudentID(id), nil
}

// QuizID identifies a quiz, i.e. a question bank.
type QuizID string

// IsValid checks that the ID is non-blank and reasonably short.
func (q QuizID) IsValid() bool {
	return validID(string(q))
}

// String implements fmt.Stringer.
func (q QuizID) String() string {
	return string(q)
}

// NewQuizID trims and validates a quiz identifier.
func NewQuizID(id string) (QuizID, error) {
	id = strings.TrimSpace(id)
	if !validID(id) {
		return "", NewDomainError("quiz", "Validate", ErrInvalidID, "invalid quiz ID")
	}
	return QuizID(id), nil
}

func validID(id string) bool {
	if strings.TrimSpace(id) == "" {
		return false
	}
	return utf8.RuneCountInString(id) <= maxIDLength
}

// ══════════════════════════════════════════════════════════════════════════════
// PERCENTAGE
// ══════════════════════════════════════════════════════════════════════════════

// Percentage is a score in the closed range [0, 100].
type Percentage float64

// IsValid reports whether the value is inside [0, 100].
func (p Percentage) IsValid() bool {
	return !math.IsNaN(float64(p)) && p >= 0 && p <= 100
}

// Float64 returns the raw value.
func (p Percentage) Float64() float64 {
	return float64(p)
}

// Rounded returns the value rounded to two decimals, for display only.
func (p Percentage) Rounded() float64 {
	return math.Round(float64(p)*100) / 100
}

// AtLeast reports whether p meets the given threshold.
func (p Percentage) AtLeast(threshold float64) bool {
	return float64(p) >= threshold
}

// NewPercentage computes 100*part/whole. whole must be positive.
func NewPercentage(part, whole int) (Percentage, error) {
	if whole <= 0 || part < 0 || part > whole {
		return 0, NewDomainError("score", "Compute", ErrValueOutOfRange, "invalid score fraction")
	}
	return Percentage(100 * float64(part) / float64(whole)), nil
}
