package models

// BatchReceipt is returned when a zip archive is accepted for review.
type BatchReceipt struct {
	BatchID       string   `json:"batch_id"`
	ProjectName   string   `json:"project_name"`
	TotalFiles    int      `json:"total_files"`
	SubmissionIDs []string `json:"submission_ids"`
	Status        string   `json:"status,omitempty"`
	Message       string   `json:"message,omitempty"`
}

// BatchFile is the per-file row of a batch status report.
type BatchFile struct {
	SubmissionID string `json:"submission_id"`
	Filename     string `json:"filename"`
	Status       Status `json:"status"`
}

// BatchStatus aggregates the progress of every file in a batch.
type BatchStatus struct {
	BatchID            string      `json:"batch_id"`
	ProjectName        string      `json:"project_name"`
	TotalFiles         int         `json:"total_files"`
	Completed          int         `json:"completed"`
	Processing         int         `json:"processing"`
	Failed             int         `json:"failed"`
	ProgressPercentage float64     `json:"progress_percentage"`
	AverageScore       *float64    `json:"average_score"`
	Files              []BatchFile `json:"files"`
}

// Done reports whether every file in the batch reached a terminal status.
func (b *BatchStatus) Done() bool {
	return b.TotalFiles > 0 && b.Completed+b.Failed >= b.TotalFiles
}

// BatchReport aggregates the finished reviews of a batch.
type BatchReport struct {
	BatchID               string                  `json:"batch_id"`
	ProjectName           string                  `json:"project_name"`
	Summary               BatchReportSummary      `json:"summary"`
	LanguageBreakdown     map[string]LanguageStat `json:"language_breakdown,omitempty"`
	FilesNeedingAttention []AttentionFile         `json:"files_needing_attention,omitempty"`
}

// BatchReportSummary holds batch-wide totals. Message is set instead of the
// numbers when no review of the batch has completed.
type BatchReportSummary struct {
	Message                string   `json:"message,omitempty"`
	TotalFiles             int      `json:"total_files"`
	TotalIssues            int      `json:"total_issues"`
	AverageQualityScore    *float64 `json:"average_quality_score"`
	AverageSecurityScore   *float64 `json:"average_security_score"`
	AverageMaintainability *float64 `json:"average_maintainability"`
}

type LanguageStat struct {
	Count    int     `json:"count"`
	AvgScore float64 `json:"avg_score"`
}

// AttentionFile is one of the files with the most issues.
type AttentionFile struct {
	Filename     string   `json:"filename"`
	IssuesCount  int      `json:"issues_count"`
	OverallScore *float64 `json:"overall_score"`
}

// HasResults reports whether at least one review of the batch completed.
func (r *BatchReport) HasResults() bool {
	return r.Summary.Message == ""
}
