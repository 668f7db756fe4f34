package models

import (
	"encoding/json"
	"path/filepath"
	"strings"
	"time"
)

// Status is the lifecycle state of a submission. The backend owns it; the
// client only observes it.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// IsTerminal reports whether no further transitions can occur.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Rank orders statuses along pending -> processing -> terminal.
// Unknown statuses rank lowest.
func (s Status) Rank() int {
	switch s {
	case StatusPending:
		return 1
	case StatusProcessing:
		return 2
	case StatusCompleted, StatusFailed:
		return 3
	default:
		return 0
	}
}

// Advances reports whether moving from s to next keeps status monotonic.
// A terminal status never changes to a different terminal status.
func (s Status) Advances(next Status) bool {
	if s.IsTerminal() {
		return next == s
	}
	return next.Rank() >= s.Rank()
}

// ParseStatus normalizes a backend status string. Unknown values map to pending.
func ParseStatus(s string) Status {
	switch Status(strings.ToLower(strings.TrimSpace(s))) {
	case StatusProcessing:
		return StatusProcessing
	case StatusCompleted:
		return StatusCompleted
	case StatusFailed:
		return StatusFailed
	default:
		return StatusPending
	}
}

// Language is the declared language of a submission.
type Language string

const (
	LanguagePython     Language = "python"
	LanguageJavaScript Language = "javascript"
	LanguageTypeScript Language = "typescript"
	LanguageJava       Language = "java"
	LanguageCPP        Language = "cpp"
	LanguageC          Language = "c"
	LanguageGo         Language = "go"
	LanguageUnknown    Language = "unknown"
)

var extLanguages = map[string]Language{
	".py":   LanguagePython,
	".js":   LanguageJavaScript,
	".jsx":  LanguageJavaScript,
	".ts":   LanguageTypeScript,
	".tsx":  LanguageTypeScript,
	".java": LanguageJava,
	".cpp":  LanguageCPP,
	".c":    LanguageC,
	".go":   LanguageGo,
}

// LanguageFromFilename infers a language from the file extension.
func LanguageFromFilename(name string) Language {
	if lang, ok := extLanguages[strings.ToLower(filepath.Ext(name))]; ok {
		return lang
	}
	return LanguageUnknown
}

// ParseLanguage accepts a language name or a common alias (py, js, ts, c++, golang).
// The empty string parses to "" so callers can leave the language undeclared.
func ParseLanguage(s string) (Language, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return "", true
	case "python", "py":
		return LanguagePython, true
	case "javascript", "js", "jsx":
		return LanguageJavaScript, true
	case "typescript", "ts", "tsx":
		return LanguageTypeScript, true
	case "java":
		return LanguageJava, true
	case "cpp", "c++", "cxx":
		return LanguageCPP, true
	case "c":
		return LanguageC, true
	case "go", "golang":
		return LanguageGo, true
	case "unknown":
		return LanguageUnknown, true
	default:
		return "", false
	}
}

// Submission is one unit of code sent for review.
type Submission struct {
	ID          string          `json:"id"`
	Filename    string          `json:"filename"`
	Language    Language        `json:"language"`
	Status      Status          `json:"status"`
	Message     string          `json:"message,omitempty"`
	BatchID     string          `json:"batch_id,omitempty"`
	ProjectName string          `json:"project_name,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	Result      json.RawMessage `json:"review_result,omitempty"`
}

// HasResult reports whether a review payload is attached.
func (s *Submission) HasResult() bool {
	return len(s.Result) > 0 && string(s.Result) != "null"
}
