package stats

import (
	"time"

	"github.com/joescharf/revu/internal/models"
	"github.com/joescharf/revu/internal/review"
)

// Score band thresholds, shared with the terminal colors.
const (
	GoodScore = 80
	FairScore = 60
)

// Band classifies an overall score.
type Band string

const (
	BandGood Band = "good"
	BandFair Band = "fair"
	BandPoor Band = "poor"
)

// BandFor places score into a band.
func BandFor(score float64) Band {
	switch {
	case score >= GoodScore:
		return BandGood
	case score >= FairScore:
		return BandFair
	default:
		return BandPoor
	}
}

// Summary aggregates a set of submissions.
type Summary struct {
	Total        int                   `json:"total"`
	ByStatus     map[models.Status]int `json:"by_status"`
	Scored       int                   `json:"scored"`
	AverageScore *float64              `json:"average_score,omitempty"`
	TotalIssues  int                   `json:"total_issues"`
	Bands        map[Band]int          `json:"bands"`
	LastWeek     int                   `json:"last_week"`
}

// Summarizer computes summaries of submission sets.
type Summarizer struct {
	now func() time.Time
}

// NewSummarizer returns a Summarizer using the wall clock.
func NewSummarizer() *Summarizer {
	return &Summarizer{now: time.Now}
}

// Summarize counts submissions by status and aggregates the results of
// completed ones. Issue totals use the canonical count from review.
func (s *Summarizer) Summarize(subs []*models.Submission) *Summary {
	sum := &Summary{
		ByStatus: map[models.Status]int{},
		Bands:    map[Band]int{},
	}
	weekAgo := s.now().Add(-7 * 24 * time.Hour)

	var scoreTotal float64
	for _, sub := range subs {
		if sub == nil {
			continue
		}
		sum.Total++
		sum.ByStatus[sub.Status]++
		if !sub.CreatedAt.IsZero() && sub.CreatedAt.After(weekAgo) {
			sum.LastWeek++
		}

		if !sub.HasResult() {
			continue
		}
		r := review.Normalize(sub.Result)
		sum.TotalIssues += r.IssueCount()
		if r.Scores.Overall != nil {
			sum.Scored++
			scoreTotal += *r.Scores.Overall
			sum.Bands[BandFor(*r.Scores.Overall)]++
		}
	}

	if sum.Scored > 0 {
		avg := scoreTotal / float64(sum.Scored)
		sum.AverageScore = &avg
	}
	return sum
}
