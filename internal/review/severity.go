package review

import (
	"slices"
	"strings"
)

// Severity is a free-form severity label. Known labels map onto a fixed
// four-level scale; anything else ranks as medium.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityError    Severity = "error"
	SeverityWarning  Severity = "warning"
	SeverityMedium   Severity = "medium"
	SeverityInfo     Severity = "info"
	SeverityLow      Severity = "low"
)

// ParseSeverity lowercases s, returning fallback when s is blank.
func ParseSeverity(s string, fallback Severity) Severity {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return fallback
	}
	return Severity(s)
}

// Rank places s on the scale critical/high > error > warning/medium > info/low.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical, SeverityHigh:
		return 3
	case SeverityError:
		return 2
	case SeverityInfo, SeverityLow:
		return 0
	default:
		return 1
	}
}

// SortBySeverity returns a copy of vulns ordered most severe first. Entries
// of equal rank keep their original order.
func SortBySeverity(vulns []Vulnerability) []Vulnerability {
	out := slices.Clone(vulns)
	slices.SortStableFunc(out, func(a, b Vulnerability) int {
		return b.Severity.Rank() - a.Severity.Rank()
	})
	return out
}

// SortIssues returns a copy of issues ordered most severe first, stable.
func SortIssues(issues []Issue) []Issue {
	out := slices.Clone(issues)
	slices.SortStableFunc(out, func(a, b Issue) int {
		return b.Severity.Rank() - a.Severity.Rank()
	})
	return out
}
