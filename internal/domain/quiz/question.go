package quiz

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/blake2b"

	"github.com/alem-hub/quiz-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// DIFFICULTY
// ══════════════════════════════════════════════════════════════════════════════

// Difficulty - сложность вопроса, закрытый набор значений.
type Difficulty string

const (
	DifficultyEasy   Difficulty = "easy"
	DifficultyMedium Difficulty = "medium"
	DifficultyHard   Difficulty = "hard"
)

// IsValid проверяет, что значение входит в набор.
func (d Difficulty) IsValid() bool {
	switch d {
	case DifficultyEasy, DifficultyMedium, DifficultyHard:
		return true
	}
	return false
}

// String implements fmt.Stringer.
func (d Difficulty) String() string {
	return string(d)
}

// ParseDifficulty нормализует произвольный текст к Difficulty.
// Нераспознанное или пустое значение даёт medium.
func ParseDifficulty(s string) Difficulty {
	switch normalizeHeader(s) {
	case "easy", "e", "1", "سهل", "low":
		return DifficultyEasy
	case "hard", "h", "3", "صعب", "high":
		return DifficultyHard
	default:
		return DifficultyMedium
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// QUESTION
// ══════════════════════════════════════════════════════════════════════════════

// Option - один вариант ответа.
type Option struct {
	Label string `json:"label"`
	Text  string `json:"text"`
}

// Question - неизменяемый вопрос банка. Все поля закрыты, доступ только
// через методы, которые возвращают копии.
type Question struct {
	id          string
	text        string
	options     []Option
	index       map[string]int
	correct     string
	explanation string
	difficulty  Difficulty
}

// QuestionSpec - входные данные для NewQuestion.
type QuestionSpec struct {
	ID          string
	Text        string
	Options     []Option
	Correct     string
	Explanation string
	Difficulty  Difficulty
}

// NewQuestion собирает вопрос и проверяет инварианты: не меньше двух
// вариантов, уникальные непустые метки, правильная метка среди вариантов.
func NewQuestion(spec QuestionSpec) (*Question, error) {
	id := strings.TrimSpace(spec.ID)
	text := strings.TrimSpace(spec.Text)
	if id == "" {
		return nil, invalidQuestion("question id is empty")
	}
	if text == "" {
		return nil, invalidQuestion("question text is empty")
	}
	if len(spec.Options) < 2 {
		return nil, invalidQuestion(fmt.Sprintf("need at least 2 options, got %d", len(spec.Options)))
	}

	q := &Question{
		id:          id,
		text:        text,
		options:     make([]Option, 0, len(spec.Options)),
		index:       make(map[string]int, len(spec.Options)),
		explanation: strings.TrimSpace(spec.Explanation),
		difficulty:  spec.Difficulty,
	}
	if !q.difficulty.IsValid() {
		q.difficulty = DifficultyMedium
	}

	for _, opt := range spec.Options {
		label := strings.TrimSpace(opt.Label)
		optText := strings.TrimSpace(opt.Text)
		if label == "" || optText == "" {
			return nil, invalidQuestion("option label and text must be non-empty")
		}
		if label == SlotUnanswered || label == SlotTimedOut {
			return nil, invalidQuestion(fmt.Sprintf("option label %q is reserved", label))
		}
		if _, dup := q.index[label]; dup {
			return nil, invalidQuestion(fmt.Sprintf("duplicate option label %q", label))
		}
		q.index[label] = len(q.options)
		q.options = append(q.options, Option{Label: label, Text: optText})
	}

	correct := strings.TrimSpace(spec.Correct)
	if _, ok := q.index[correct]; !ok {
		return nil, invalidQuestion(fmt.Sprintf("correct label %q is not an option", correct))
	}
	q.correct = correct

	return q, nil
}

func invalidQuestion(msg string) error {
	return shared.WrapError("quiz", "NewQuestion", shared.ErrValidation, "invalid question", fmt.Errorf("%s", msg))
}

// ID возвращает идентификатор вопроса.
func (q *Question) ID() string { return q.id }

// Text возвращает текст вопроса.
func (q *Question) Text() string { return q.text }

// CorrectLabel возвращает метку правильного варианта.
func (q *Question) CorrectLabel() string { return q.correct }

// Explanation возвращает пояснение (может быть пустым).
func (q *Question) Explanation() string { return q.explanation }

// Difficulty возвращает сложность вопроса.
func (q *Question) Difficulty() Difficulty { return q.difficulty }

// Options возвращает копию упорядоченных вариантов.
func (q *Question) Options() []Option {
	out := make([]Option, len(q.options))
	copy(out, q.options)
	return out
}

// HasOption сообщает, есть ли вариант с такой меткой.
func (q *Question) HasOption(label string) bool {
	_, ok := q.index[label]
	return ok
}

// ResolveLabel сопоставляет ответ с меткой варианта: сначала точное
// совпадение, затем без учёта регистра. Неизвестный ответ возвращается как есть.
func (q *Question) ResolveLabel(given string) string {
	if _, ok := q.index[given]; ok {
		return given
	}
	for _, o := range q.options {
		if strings.EqualFold(o.Label, given) {
			return o.Label
		}
	}
	return given
}

// OptionText возвращает текст варианта по метке.
func (q *Question) OptionText(label string) (string, bool) {
	i, ok := q.index[label]
	if !ok {
		return "", false
	}
	return q.options[i].Text, true
}

// ══════════════════════════════════════════════════════════════════════════════
// BANK
// ══════════════════════════════════════════════════════════════════════════════

// Bank - неизменяемый упорядоченный набор вопросов одной викторины.
// Безопасен для конкурентного чтения без синхронизации.
type Bank struct {
	id        string
	version   string
	questions []*Question
	byID      map[string]int
}

// NewBank собирает банк. Пустой банк и повторяющиеся ID вопросов запрещены.
func NewBank(id string, questions []*Question) (*Bank, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, shared.NewDomainError("quiz", "NewBank", shared.ErrInvalidID, "bank id is empty")
	}
	if len(questions) == 0 {
		return nil, shared.ErrEmptyBank
	}

	b := &Bank{
		id:        id,
		questions: make([]*Question, len(questions)),
		byID:      make(map[string]int, len(questions)),
	}
	copy(b.questions, questions)
	for i, q := range b.questions {
		if q == nil {
			return nil, shared.NewDomainError("quiz", "NewBank", shared.ErrInvalidInput, "nil question")
		}
		if _, dup := b.byID[q.id]; dup {
			return nil, shared.WrapError("quiz", "NewBank", shared.ErrAlreadyExists, "duplicate question id",
				fmt.Errorf("%q", q.id))
		}
		b.byID[q.id] = i
	}
	b.version = fingerprint(b.questions)

	return b, nil
}

// ID возвращает идентификатор банка (он же quiz id).
func (b *Bank) ID() string { return b.id }

// Version возвращает отпечаток содержимого банка.
func (b *Bank) Version() string { return b.version }

// Len возвращает количество вопросов.
func (b *Bank) Len() int { return len(b.questions) }

// At возвращает вопрос по позиции в банке.
func (b *Bank) At(i int) *Question { return b.questions[i] }

// Question ищет вопрос по ID.
func (b *Bank) Question(id string) (*Question, bool) {
	i, ok := b.byID[id]
	if !ok {
		return nil, false
	}
	return b.questions[i], true
}

// Questions возвращает копию списка в порядке банка.
func (b *Bank) Questions() []*Question {
	out := make([]*Question, len(b.questions))
	copy(out, b.questions)
	return out
}

// fingerprint hashes the canonical content: every field is length-prefixed so
// that concatenation boundaries cannot collide.
func fingerprint(questions []*Question) string {
	h, _ := blake2b.New256(nil)
	write := func(s string) {
		var n [8]byte
		binary.BigEndian.PutUint64(n[:], uint64(len(s)))
		h.Write(n[:])
		h.Write([]byte(s))
	}
	for _, q := range questions {
		write(q.id)
		write(q.text)
		write(string(q.difficulty))
		write(q.correct)
		write(q.explanation)
		for _, o := range q.options {
			write(o.Label)
			write(o.Text)
		}
	}
	sum := h.Sum(nil)
	return hex.EncodeToString(sum[:16])
}
