// Package review turns the review payloads produced by either backend
// generation into one canonical Result.
package review

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// Shape records which payload family a Result was built from.
type Shape string

const (
	ShapeLegacy Shape = "legacy"
	ShapeV1     Shape = "v1"
	ShapeEmpty  Shape = "empty"
)

// Scores holds the numeric scores of a review. Nil means absent.
type Scores struct {
	Overall         *float64 `json:"overall,omitempty"`
	Quality         *float64 `json:"quality,omitempty"`
	Security        *float64 `json:"security,omitempty"`
	Maintainability *float64 `json:"maintainability,omitempty"`
}

// Issue is one finding of the review.
type Issue struct {
	Severity Severity `json:"severity,omitempty"`
	Line     *int     `json:"line,omitempty"`
	Message  string   `json:"message"`
	Category string   `json:"category,omitempty"`
}

// Vulnerability is one entry of the security analysis.
type Vulnerability struct {
	Severity       Severity `json:"severity"`
	Line           *int     `json:"line,omitempty"`
	Description    string   `json:"description"`
	Recommendation string   `json:"recommendation,omitempty"`
}

// Result is the canonical, display-ready form of a review payload.
type Result struct {
	Shape           Shape           `json:"shape"`
	Scores          Scores          `json:"scores"`
	Issues          []Issue         `json:"issues"`
	Suggestions     []string        `json:"suggestions"`
	Vulnerabilities []Vulnerability `json:"vulnerabilities"`
	PositiveAspects []string        `json:"positive_aspects"`
	Summary         string          `json:"summary"`

	issuesFromText bool
}

// IssueCount is the number of canonical issues.
func (r Result) IssueCount() int { return len(r.Issues) }

// CountIssues normalizes raw and returns its canonical issue count.
func CountIssues(raw json.RawMessage) int {
	return Normalize(raw).IssueCount()
}

var (
	v1Keys     = []string{"overall_score", "quality_score", "security_score", "maintainability_score", "static_analysis", "issues_count"}
	legacyKeys = []string{"score", "issues", "summary", "summary_json", "ai_review", "security_analysis"}
)

// Normalize converts raw into a Result. It never fails: invalid JSON and
// missing or mistyped fields produce an empty Result or empty fields.
func Normalize(raw json.RawMessage) Result {
	r := Result{
		Shape:           ShapeEmpty,
		Issues:          []Issue{},
		Suggestions:     []string{},
		Vulnerabilities: []Vulnerability{},
		PositiveAspects: []string{},
	}
	if !gjson.ValidBytes(raw) {
		return r
	}
	doc := gjson.ParseBytes(raw)
	if !doc.IsObject() {
		return r
	}

	switch {
	case hasAny(doc, v1Keys):
		r.Shape = ShapeV1
	case hasAny(doc, legacyKeys):
		r.Shape = ShapeLegacy
	default:
		return r
	}

	r.Scores = Scores{
		Overall:         number(doc, "overall_score", "score"),
		Quality:         number(doc, "quality_score"),
		Security:        number(doc, "security_score"),
		Maintainability: number(doc, "maintainability_score"),
	}

	if lines := splitIssues(doc.Get("issues")); len(lines) > 0 {
		for _, l := range lines {
			r.Issues = append(r.Issues, Issue{Message: l})
		}
		r.issuesFromText = true
	} else {
		r.Issues = append(r.Issues, aiIssues(doc.Get("ai_review.issues"))...)
	}

	r.Suggestions = stringList(doc.Get("summary_json.suggestions"))
	if len(r.Suggestions) == 0 {
		r.Suggestions = stringList(doc.Get("ai_review.suggestions"))
	}
	r.PositiveAspects = stringList(doc.Get("ai_review.positive_aspects"))

	doc.Get("security_analysis.vulnerabilities").ForEach(func(_, v gjson.Result) bool {
		if !v.IsObject() {
			return true
		}
		r.Vulnerabilities = append(r.Vulnerabilities, Vulnerability{
			Severity:       ParseSeverity(firstString(v, "severity", "issue_severity"), SeverityMedium),
			Line:           integer(v.Get("line")),
			Description:    firstString(v, "description", "issue"),
			Recommendation: v.Get("recommendation").String(),
		})
		return true
	})

	if s := doc.Get("summary"); s.Type == gjson.String {
		r.Summary = s.Str
	}
	return r
}

// Raw encodes r back into a payload that Normalize reads to the same
// issue count, scores and lists.
func (r Result) Raw() json.RawMessage {
	out := "{}"
	set := func(path string, v any) {
		if s, err := sjson.Set(out, path, v); err == nil {
			out = s
		}
	}

	if r.Scores.Overall != nil {
		if r.Shape == ShapeLegacy {
			set("score", *r.Scores.Overall)
		} else {
			set("overall_score", *r.Scores.Overall)
		}
	}
	if r.Scores.Quality != nil {
		set("quality_score", *r.Scores.Quality)
	}
	if r.Scores.Security != nil {
		set("security_score", *r.Scores.Security)
	}
	if r.Scores.Maintainability != nil {
		set("maintainability_score", *r.Scores.Maintainability)
	}

	if r.issuesFromText {
		msgs := make([]string, len(r.Issues))
		for i, is := range r.Issues {
			msgs[i] = is.Message
		}
		set("issues", strings.Join(msgs, "\n"))
	} else if len(r.Issues) > 0 {
		set("ai_review.issues", r.Issues)
	}

	if len(r.Suggestions) > 0 {
		set("summary_json.suggestions", r.Suggestions)
	}
	if len(r.PositiveAspects) > 0 {
		set("ai_review.positive_aspects", r.PositiveAspects)
	}
	if len(r.Vulnerabilities) > 0 {
		set("security_analysis.vulnerabilities", r.Vulnerabilities)
	}
	if r.Summary != "" {
		set("summary", r.Summary)
	}
	return json.RawMessage(out)
}

// splitIssues splits a newline-delimited issue list, dropping blank lines.
func splitIssues(v gjson.Result) []string {
	if v.Type != gjson.String {
		return nil
	}
	var out []string
	for _, line := range strings.Split(v.Str, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			out = append(out, line)
		}
	}
	return out
}

// aiIssues reads ai_review.issues. Object entries and non-blank string
// entries each count as one issue.
func aiIssues(v gjson.Result) []Issue {
	var out []Issue
	v.ForEach(func(_, item gjson.Result) bool {
		switch {
		case item.IsObject():
			out = append(out, Issue{
				Severity: ParseSeverity(item.Get("severity").String(), SeverityWarning),
				Line:     integer(item.Get("line")),
				Message:  firstString(item, "message", "description", "issue"),
				Category: item.Get("category").String(),
			})
		case item.Type == gjson.String && strings.TrimSpace(item.Str) != "":
			out = append(out, Issue{Severity: SeverityWarning, Message: strings.TrimSpace(item.Str)})
		}
		return true
	})
	return out
}

// stringList keeps the string entries of an array. Non-arrays yield an empty list.
func stringList(v gjson.Result) []string {
	out := []string{}
	if !v.IsArray() {
		return out
	}
	for _, item := range v.Array() {
		if item.Type == gjson.String {
			out = append(out, item.Str)
		}
	}
	return out
}

func number(doc gjson.Result, keys ...string) *float64 {
	for _, k := range keys {
		v := doc.Get(k)
		switch v.Type {
		case gjson.Number:
			f := v.Num
			return &f
		case gjson.String:
			if f, err := strconv.ParseFloat(strings.TrimSpace(v.Str), 64); err == nil {
				return &f
			}
		}
	}
	return nil
}

func integer(v gjson.Result) *int {
	if v.Type != gjson.Number {
		return nil
	}
	n := int(v.Int())
	return &n
}

func firstString(doc gjson.Result, keys ...string) string {
	for _, k := range keys {
		if v := doc.Get(k); v.Type == gjson.String && v.Str != "" {
			return v.Str
		}
	}
	return ""
}

func hasAny(doc gjson.Result, keys []string) bool {
	for _, k := range keys {
		if doc.Get(k).Exists() {
			return true
		}
	}
	return false
}
