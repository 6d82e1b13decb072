package progress

// ══════════════════════════════════════════════════════════════════════════════
// STATS
// Производная аналитика поверх истории. Ничего не хранится, всё считается
// из Record на лету.
// ══════════════════════════════════════════════════════════════════════════════

// Trend - направление изменения результатов.
type Trend string

const (
	TrendInsufficientData Trend = "insufficient_data"
	TrendImproving        Trend = "improving"
	TrendDeclining        Trend = "declining"
	TrendStable           Trend = "stable"
)

const (
	recentWindow   = 10
	trendWindow    = 3
	trendThreshold = 5.0
)

// Stats - сводка по записи.
type Stats struct {
	Attempts     int       `json:"attempts"`
	Passes       int       `json:"passes"`
	PassRate     float64   `json:"pass_rate"`
	AverageScore float64   `json:"average_score"`
	BestScore    float64   `json:"best_score"`
	Streak       int       `json:"streak"`
	BestStreak   int       `json:"best_streak"`
	RecentScores []float64 `json:"recent_scores"`
	Trend        Trend     `json:"trend"`
}

// Stats computes the summary.
func (r Record) Stats() Stats {
	st := Stats{
		Attempts:   r.Attempts,
		Passes:     r.Passes,
		BestScore:  r.BestScore,
		Streak:     r.Streak,
		BestStreak: r.BestStreak,
		Trend:      TrendInsufficientData,
	}
	if len(r.History) == 0 {
		return st
	}

	scores := make([]float64, len(r.History))
	for i, h := range r.History {
		scores[i] = h.Percentage
	}

	st.AverageScore = mean(scores)
	if r.Attempts > 0 {
		st.PassRate = 100 * float64(r.Passes) / float64(r.Attempts)
	}

	from := len(scores) - recentWindow
	if from < 0 {
		from = 0
	}
	st.RecentScores = append([]float64(nil), scores[from:]...)
	st.Trend = trend(st.RecentScores)
	return st
}

// trend compares the mean of the last three scores with the mean of the
// earlier ones in the window.
func trend(scores []float64) Trend {
	if len(scores) < trendWindow {
		return TrendInsufficientData
	}
	recent := scores[len(scores)-trendWindow:]
	earlier := scores[:len(scores)-trendWindow]
	if len(earlier) == 0 {
		// Ровно три попытки: сравнивать не с чем.
		return TrendStable
	}

	diff := mean(recent) - mean(earlier)
	switch {
	case diff > trendThreshold:
		return TrendImproving
	case diff < -trendThreshold:
		return TrendDeclining
	default:
		return TrendStable
	}
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}
