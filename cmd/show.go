package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/joescharf/revu/internal/apperr"
	"github.com/joescharf/revu/internal/models"
	"github.com/joescharf/revu/internal/output"
	"github.com/joescharf/revu/internal/review"
)

var showJSON bool

var showCmd = &cobra.Command{
	Use:   "show <submission-id>",
	Short: "Show the review of a submission",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return showRun(cmd.Context(), args[0])
	},
}

func init() {
	showCmd.Flags().BoolVar(&showJSON, "json", false, "Print the normalized review as JSON")
	rootCmd.AddCommand(showCmd)
}

func showRun(ctx context.Context, id string) error {
	sub, err := fetchSubmission(ctx, id)
	if err != nil {
		return err
	}
	if showJSON {
		return printJSON(review.Normalize(sub.Result))
	}
	renderSubmission(sub)
	return nil
}

// fetchSubmission reads id from the backend and records it. When the backend
// cannot be reached the cached copy is used instead.
func fetchSubmission(ctx context.Context, id string) (*models.Submission, error) {
	gw, err := newGateway()
	if err != nil {
		return nil, err
	}
	sub, err := gw.GetSubmission(ctx, id)
	if err == nil {
		recordSubmission(ctx, sub)
		return sub, nil
	}
	if !errors.Is(err, apperr.ErrTransport) {
		return nil, err
	}

	s, serr := getStore()
	if serr != nil {
		return nil, err
	}
	cached, cerr := s.GetSubmission(ctx, id)
	if cerr != nil {
		return nil, err
	}
	ui.Warning("Backend unreachable (%v), showing cached copy", err)
	return cached, nil
}

func renderSubmission(sub *models.Submission) {
	fmt.Fprintf(ui.Out, "%s  %s\n", output.Cyan(sub.Filename), output.StatusColor(string(sub.Status)))
	fmt.Fprintf(ui.Out, "  ID:        %s\n", sub.ID)
	fmt.Fprintf(ui.Out, "  Language:  %s\n", sub.Language)
	if !sub.CreatedAt.IsZero() {
		fmt.Fprintf(ui.Out, "  Submitted: %s\n", sub.CreatedAt.Local().Format("2006-01-02 15:04"))
	}
	if sub.BatchID != "" {
		fmt.Fprintf(ui.Out, "  Batch:     %s (%s)\n", sub.BatchID, sub.ProjectName)
	}
	fmt.Fprintln(ui.Out)

	if !sub.HasResult() {
		switch sub.Status {
		case models.StatusFailed:
			ui.Error("Review failed: %s", orDash(sub.Message))
		default:
			ui.Info("Review not ready yet. Run 'revu watch %s' to wait for it.", sub.ID)
		}
		return
	}

	res := review.Normalize(sub.Result)
	renderScores(res.Scores)
	if res.Summary != "" {
		fmt.Fprintln(ui.Out, output.Cyan("Summary"))
		fmt.Fprintf(ui.Out, "  %s\n\n", res.Summary)
	}

	fmt.Fprintln(ui.Out, output.Cyan(fmt.Sprintf("Issues (%d)", res.IssueCount())))
	if len(res.Issues) == 0 {
		fmt.Fprintln(ui.Out, "  none")
	}
	for _, is := range review.SortIssues(res.Issues) {
		fmt.Fprintf(ui.Out, "  %s%s %s\n", severityTag(is.Severity), lineRef(is.Line), is.Message)
	}
	fmt.Fprintln(ui.Out)

	if len(res.Vulnerabilities) > 0 {
		fmt.Fprintln(ui.Out, output.Cyan(fmt.Sprintf("Security (%d)", len(res.Vulnerabilities))))
		for _, v := range review.SortBySeverity(res.Vulnerabilities) {
			fmt.Fprintf(ui.Out, "  %s%s %s\n", severityTag(v.Severity), lineRef(v.Line), v.Description)
			if v.Recommendation != "" {
				fmt.Fprintf(ui.Out, "      fix: %s\n", v.Recommendation)
			}
		}
		fmt.Fprintln(ui.Out)
	}

	renderList("Suggestions", res.Suggestions)
	renderList("What's good", res.PositiveAspects)
}

func renderScores(s review.Scores) {
	fmt.Fprintln(ui.Out, output.Cyan("Scores"))
	fmt.Fprintf(ui.Out, "  Overall:          %s\n", output.ScoreColor(s.Overall))
	if s.Quality != nil || s.Security != nil || s.Maintainability != nil {
		fmt.Fprintf(ui.Out, "  Quality:          %s\n", output.ScoreColor(s.Quality))
		fmt.Fprintf(ui.Out, "  Security:         %s\n", output.ScoreColor(s.Security))
		fmt.Fprintf(ui.Out, "  Maintainability:  %s\n", output.ScoreColor(s.Maintainability))
	}
	fmt.Fprintln(ui.Out)
}

func renderList(title string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintln(ui.Out, output.Cyan(title))
	for _, it := range items {
		fmt.Fprintf(ui.Out, "  - %s\n", it)
	}
	fmt.Fprintln(ui.Out)
}

func severityTag(sev review.Severity) string {
	if sev == "" {
		return "-"
	}
	return "[" + output.SeverityColor(sev) + "]"
}

func lineRef(line *int) string {
	if line == nil {
		return ""
	}
	return fmt.Sprintf(" L%d", *line)
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(ui.Out, string(data))
	return nil
}
