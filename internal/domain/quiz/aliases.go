package quiz

import (
	"fmt"
	"sort"
	"strings"
	"unicode"

	"github.com/alem-hub/quiz-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// COLUMN ALIASES
// Таблица псевдонимов: логическое поле → набор распознаваемых заголовков.
// Заголовки сравниваются после normalizeHeader, поэтому здесь хранятся уже
// нормализованные формы.
// ══════════════════════════════════════════════════════════════════════════════

// Field - логическое поле строки с вопросом.
type Field string

const (
	FieldID          Field = "id"
	FieldQuestion    Field = "question"
	FieldOption      Field = "option"
	FieldCorrect     Field = "correct_answer"
	FieldExplanation Field = "explanation"
	FieldDifficulty  Field = "difficulty"
)

// Aliases maps each fixed logical field to its recognized headers. Option
// columns are recognized by pattern in optionLabel instead.
var Aliases = map[Field][]string{
	FieldID:          {"id", "question id", "qid", "رقم", "رقم السؤال"},
	FieldQuestion:    {"question", "question text", "سؤال", "السؤال"},
	FieldCorrect:     {"correct answer", "correct", "answer", "الإجابة الصحيحة", "الاجابة الصحيحة", "إجابة", "الإجابة"},
	FieldExplanation: {"explanation", "hint", "تفسير", "شرح", "تلميح"},
	FieldDifficulty:  {"difficulty", "difficulty level", "level", "صعوبة", "الصعوبة", "مستوى"},
}

// arabicLetters maps Arabic option letters (abjad order) to Latin labels.
var arabicLetters = map[string]string{
	"أ": "A", "ا": "A", "ب": "B", "ج": "C", "د": "D", "ه": "E", "هـ": "E", "و": "F",
}

var optionPrefixes = []string{"option", "choice", "الخيار", "خيار"}

// aliasIndex is the inverse of Aliases, built once.
var aliasIndex = func() map[string]Field {
	idx := make(map[string]Field)
	for field, names := range Aliases {
		for _, n := range names {
			idx[normalizeHeader(n)] = field
		}
	}
	return idx
}()

// normalizeHeader lower-cases, maps '_' and '-' to spaces, trims and
// collapses inner whitespace. It is also used for cell comparisons.
func normalizeHeader(s string) string {
	s = strings.Map(func(r rune) rune {
		switch r {
		case '_', '-':
			return ' '
		case '\ufeff':
			return -1
		}
		return unicode.ToLower(r)
	}, s)
	return strings.Join(strings.Fields(s), " ")
}

// optionLabel recognizes option headers: "option a", "option_b", "a",
// "الخيار أ", "أ". It returns the canonical upper-case Latin label.
func optionLabel(header string) (string, bool) {
	h := normalizeHeader(header)
	for _, p := range optionPrefixes {
		if rest, ok := strings.CutPrefix(h, p+" "); ok {
			h = strings.TrimSpace(rest)
			break
		}
	}
	return canonicalLabel(h)
}

// canonicalLabel turns a single Latin or Arabic letter into its Latin label.
func canonicalLabel(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if l, ok := arabicLetters[s]; ok {
		return l, true
	}
	r := []rune(s)
	if len(r) == 1 && r[0] < unicode.MaxASCII && unicode.IsLetter(r[0]) {
		return strings.ToUpper(s), true
	}
	return "", false
}

// ══════════════════════════════════════════════════════════════════════════════
// COLUMN MAPPING
// ══════════════════════════════════════════════════════════════════════════════

type optionColumn struct {
	label string
	index int
}

// columnMap is the fixed header → column index mapping for one load.
// Absent fields hold -1.
type columnMap struct {
	id          int
	question    int
	correct     int
	explanation int
	difficulty  int
	options     []optionColumn
}

// resolveColumns resolves the header row once. It fails when the question
// column is missing or when two headers claim the same logical field.
func resolveColumns(header []string) (columnMap, error) {
	cm := columnMap{id: -1, question: -1, correct: -1, explanation: -1, difficulty: -1}
	seenOption := make(map[string]string)
	seenField := make(map[Field]string)

	claim := func(f Field, raw string, idx int, slot *int) error {
		if prev, dup := seenField[f]; dup {
			return fmt.Errorf("field %s: %q and %q", f, prev, raw)
		}
		seenField[f] = raw
		*slot = idx
		return nil
	}

	for i, raw := range header {
		h := normalizeHeader(raw)
		if h == "" {
			continue
		}
		if f, ok := aliasIndex[h]; ok {
			var err error
			switch f {
			case FieldID:
				err = claim(f, raw, i, &cm.id)
			case FieldQuestion:
				err = claim(f, raw, i, &cm.question)
			case FieldCorrect:
				err = claim(f, raw, i, &cm.correct)
			case FieldExplanation:
				err = claim(f, raw, i, &cm.explanation)
			case FieldDifficulty:
				err = claim(f, raw, i, &cm.difficulty)
			}
			if err != nil {
				return columnMap{}, ambiguous(err)
			}
			continue
		}
		if label, ok := optionLabel(raw); ok {
			if prev, dup := seenOption[label]; dup {
				return columnMap{}, ambiguous(fmt.Errorf("option %s: %q and %q", label, prev, raw))
			}
			seenOption[label] = raw
			cm.options = append(cm.options, optionColumn{label: label, index: i})
		}
		// Unknown headers are ignored.
	}

	if cm.question < 0 {
		return columnMap{}, shared.WrapError("quiz", "ResolveColumns", shared.ErrInvalidFormat,
			"required column is missing", fmt.Errorf("no question column in header %q", header))
	}

	sort.Slice(cm.options, func(a, b int) bool { return cm.options[a].label < cm.options[b].label })
	return cm, nil
}

func ambiguous(cause error) error {
	return shared.WrapError("quiz", "ResolveColumns", shared.ErrInvalidFormat, "column is mapped more than once", cause)
}
