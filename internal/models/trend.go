package models

// TrendPoint is one day of a project's score history.
type TrendPoint struct {
	Date                 string   `json:"date"`
	OverallScore         *float64 `json:"overall_score"`
	QualityScore         *float64 `json:"quality_score"`
	SecurityScore        *float64 `json:"security_score"`
	MaintainabilityScore *float64 `json:"maintainability_score"`
	TotalIssues          *int     `json:"total_issues,omitempty"`
}

// Trends is a project's day-granularity score series, oldest first.
type Trends struct {
	ProjectID    string       `json:"project_id"`
	PeriodDays   int          `json:"period_days"`
	Trend        string       `json:"trend"`
	ScoreChange  float64      `json:"score_change"`
	CurrentScore *float64     `json:"current_score"`
	Points       []TrendPoint `json:"trends"`
}
