package quiz

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/alem-hub/quiz-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// QUESTION BANK LOADER
// Превращает табличные строки (первая строка - заголовок) в неизменяемый
// банк. Политика частичного успеха: плохая строка даёт ValidationError и
// пропускается, загрузка падает только если не осталось ни одного вопроса.
// ══════════════════════════════════════════════════════════════════════════════

// ValidationError описывает отклонённую строку источника.
type ValidationError struct {
	// Row - номер строки данных, начиная с 1 (заголовок не считается).
	Row int `json:"row"`

	// Reason - причина отказа.
	Reason string `json:"reason"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	return fmt.Sprintf("row %d: %s", e.Row, e.Reason)
}

// Unwrap lets errors.Is(err, shared.ErrValidation) match.
func (e ValidationError) Unwrap() error {
	return shared.ErrValidation
}

// LoadOptions настраивает загрузку.
type LoadOptions struct {
	// BankID - идентификатор банка (quiz id). Обязателен.
	BankID string

	// DetectTrueFalse - распознавать вопросы "правда/ложь" без вариантов.
	DetectTrueFalse bool
}

// DefaultLoadOptions returns options with true/false detection enabled.
func DefaultLoadOptions(bankID string) LoadOptions {
	return LoadOptions{BankID: bankID, DetectTrueFalse: true}
}

// LoadResult bundles the outcome of a load for callers that log it.
type LoadResult struct {
	Bank       *Bank
	Errors     []ValidationError
	TotalRows  int
	ValidRows  int
	SkippedRaw int
}

var blankCells = map[string]bool{"": true, "nan": true, "none": true, "null": true, "n/a": true}

var trueFalseMarkers = []string{"true or false", "true/false", "صح أم خطأ", "صح ام خطأ", "صح/خطأ", "صح او خطأ"}

var (
	trueWords  = map[string]bool{"true": true, "t": true, "yes": true, "صح": true, "صحيح": true, "نعم": true}
	falseWords = map[string]bool{"false": true, "f": true, "no": true, "خطأ": true, "خاطئ": true, "لا": true}
)

// Load parses rows into a bank. rows[0] is the header.
//
// The returned error is non-nil only for configuration problems
// (ErrMissingColumn, ErrAmbiguousColumn, missing bank id) or when no valid row
// remains (ErrEmptyBank). Row problems are reported in the error slice and
// never abort the load.
func Load(rows [][]string, opts LoadOptions) (*Bank, []ValidationError, error) {
	res, err := LoadDetailed(rows, opts)
	if res == nil {
		return nil, nil, err
	}
	return res.Bank, res.Errors, err
}

// LoadDetailed is Load with row accounting.
func LoadDetailed(rows [][]string, opts LoadOptions) (*LoadResult, error) {
	if strings.TrimSpace(opts.BankID) == "" {
		return nil, shared.NewDomainError("quiz", "Load", shared.ErrInvalidID, "bank id is required")
	}
	if len(rows) == 0 {
		return &LoadResult{}, shared.ErrEmptyBank
	}

	cols, err := resolveColumns(rows[0])
	if err != nil {
		return nil, err
	}

	res := &LoadResult{}
	questions := make([]*Question, 0, len(rows)-1)
	seenIDs := make(map[string]int)

	for i, row := range rows[1:] {
		rowNum := i + 1
		if isBlankRow(row) {
			res.SkippedRaw++
			continue
		}
		res.TotalRows++

		q, reason := parseRow(row, rowNum, cols, opts)
		if reason == "" {
			if first, dup := seenIDs[q.ID()]; dup {
				reason = fmt.Sprintf("duplicate question id %q (first seen in row %d)", q.ID(), first)
			}
		}
		if reason != "" {
			res.Errors = append(res.Errors, ValidationError{Row: rowNum, Reason: reason})
			continue
		}
		seenIDs[q.ID()] = rowNum
		questions = append(questions, q)
	}

	res.ValidRows = len(questions)
	if len(questions) == 0 {
		return res, shared.ErrEmptyBank
	}

	bank, err := NewBank(opts.BankID, questions)
	if err != nil {
		return res, err
	}
	res.Bank = bank
	return res, nil
}

// parseRow validates one data row. A non-empty reason means the row is rejected.
func parseRow(row []string, rowNum int, cols columnMap, opts LoadOptions) (*Question, string) {
	text := cell(row, cols.question)
	if text == "" {
		return nil, "question text is empty"
	}

	options := make([]Option, 0, len(cols.options))
	for _, oc := range cols.options {
		if v := cell(row, oc.index); v != "" {
			options = append(options, Option{Label: oc.label, Text: v})
		}
	}

	rawCorrect := cell(row, cols.correct)
	trueFalse := false
	if len(options) < 2 && opts.DetectTrueFalse && isTrueFalseQuestion(text) {
		options = []Option{{Label: "A", Text: "True"}, {Label: "B", Text: "False"}}
		trueFalse = true
	}
	if len(options) < 2 {
		return nil, fmt.Sprintf("need at least 2 non-empty options, got %d", len(options))
	}

	if rawCorrect == "" {
		return nil, "correct answer is empty"
	}
	correct, ok := matchCorrect(rawCorrect, options, trueFalse)
	if !ok {
		return nil, fmt.Sprintf("correct answer %q matches no option label or text", rawCorrect)
	}

	id := cell(row, cols.id)
	if id == "" {
		id = opts.BankID + "-" + strconv.Itoa(rowNum)
	}

	q, err := NewQuestion(QuestionSpec{
		ID:          id,
		Text:        text,
		Options:     options,
		Correct:     correct,
		Explanation: cell(row, cols.explanation),
		Difficulty:  ParseDifficulty(cell(row, cols.difficulty)),
	})
	if err != nil {
		return nil, err.Error()
	}
	return q, ""
}

// matchCorrect resolves the correct-answer cell: option labels first, then
// option text, case-insensitively.
func matchCorrect(raw string, options []Option, trueFalse bool) (string, bool) {
	if label, ok := canonicalLabel(raw); ok {
		for _, o := range options {
			if o.Label == label {
				return label, true
			}
		}
	}
	norm := normalizeHeader(raw)
	for _, o := range options {
		if normalizeHeader(o.Text) == norm {
			return o.Label, true
		}
	}
	if trueFalse {
		switch {
		case trueWords[norm]:
			return "A", true
		case falseWords[norm]:
			return "B", true
		}
	}
	return "", false
}

func isTrueFalseQuestion(text string) bool {
	t := normalizeHeader(text)
	for _, m := range trueFalseMarkers {
		if strings.Contains(t, m) {
			return true
		}
	}
	return false
}

// cell returns the trimmed value at idx, or "" for absent/blank cells.
func cell(row []string, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	v := strings.TrimSpace(row[idx])
	if blankCells[strings.ToLower(v)] {
		return ""
	}
	return v
}

func isBlankRow(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
