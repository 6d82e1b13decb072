package quiz

import (
	"github.com/alem-hub/quiz-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// GRADING ENGINE
// Чистая функция над порядком вопросов и слотами ответов. Ничего не хранит,
// поэтому безопасна для вызова из любого числа горутин.
// ══════════════════════════════════════════════════════════════════════════════

// Slot sentinels. They never equal a correct label.
const (
	SlotUnanswered = "unanswered"
	SlotTimedOut   = "timed-out"
)

// Outcome - итог по одному вопросу.
type Outcome string

const (
	OutcomeCorrect    Outcome = "correct"
	OutcomeIncorrect  Outcome = "incorrect"
	OutcomeTimedOut   Outcome = "timed-out"
	OutcomeUnanswered Outcome = "unanswered"
)

// WeightTable maps difficulty to points.
type WeightTable map[Difficulty]int

// DefaultWeights returns easy=1, medium=2, hard=3.
func DefaultWeights() WeightTable {
	return WeightTable{DifficultyEasy: 1, DifficultyMedium: 2, DifficultyHard: 3}
}

// Weight returns the weight of d, or 0 for unknown difficulties.
func (w WeightTable) Weight(d Difficulty) int {
	return w[d]
}

func (w WeightTable) clone() WeightTable {
	if w == nil {
		return DefaultWeights()
	}
	out := make(WeightTable, len(w))
	for k, v := range w {
		out[k] = v
	}
	return out
}

// BreakdownItem - строка разбора результата.
type BreakdownItem struct {
	QuestionID   string     `json:"question_id"`
	Difficulty   Difficulty `json:"difficulty"`
	Weight       int        `json:"weight"`
	Given        string     `json:"given"`
	CorrectLabel string     `json:"correct_label"`
	Correct      bool       `json:"correct"`
	Outcome      Outcome    `json:"outcome"`
	Explanation  string     `json:"explanation,omitempty"`
}

// Score - результат попытки.
type Score struct {
	Raw        int               `json:"raw"`
	Max        int               `json:"max"`
	Percentage shared.Percentage `json:"percentage"`
	Breakdown  []BreakdownItem   `json:"breakdown"`
}

// Passed reports whether the percentage meets threshold.
func (s Score) Passed(threshold float64) bool {
	return s.Percentage.AtLeast(threshold)
}

// CountOutcome counts breakdown items with the given outcome.
func (s Score) CountOutcome(o Outcome) int {
	n := 0
	for _, b := range s.Breakdown {
		if b.Outcome == o {
			n++
		}
	}
	return n
}

// Correct returns the number of correctly answered questions.
func (s Score) Correct() int { return s.CountOutcome(OutcomeCorrect) }

// Grade scores slots against order. A question is correct iff its slot equals
// the correct label exactly; sentinels and missing slots are incorrect.
// weights is copied; nil means DefaultWeights. Max 0 gives Percentage 0.
func Grade(order []*Question, slots map[string]string, weights WeightTable) Score {
	w := weights.clone()
	score := Score{Breakdown: make([]BreakdownItem, 0, len(order))}

	for _, q := range order {
		weight := w.Weight(q.Difficulty())
		given, ok := slots[q.ID()]
		if !ok {
			given = SlotUnanswered
		}

		item := BreakdownItem{
			QuestionID:   q.ID(),
			Difficulty:   q.Difficulty(),
			Weight:       weight,
			Given:        given,
			CorrectLabel: q.CorrectLabel(),
			Explanation:  q.Explanation(),
		}
		switch given {
		case SlotUnanswered:
			item.Outcome = OutcomeUnanswered
		case SlotTimedOut:
			item.Outcome = OutcomeTimedOut
		default:
			if given == q.CorrectLabel() {
				item.Correct = true
				item.Outcome = OutcomeCorrect
			} else {
				item.Outcome = OutcomeIncorrect
			}
		}

		score.Max += weight
		if item.Correct {
			score.Raw += weight
		}
		score.Breakdown = append(score.Breakdown, item)
	}

	if score.Max > 0 {
		score.Percentage = shared.Percentage(100 * float64(score.Raw) / float64(score.Max))
	}
	return score
}
