package cmd

import (
	"context"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/joescharf/revu/internal/models"
	"github.com/joescharf/revu/internal/output"
	"github.com/joescharf/revu/internal/review"
	"github.com/joescharf/revu/internal/store"
)

var (
	listLocal  bool
	listStatus string
	listBatch  string
	listLimit  int
)

var listCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List submissions",
	Long: `List submissions known to the backend, newest as the backend orders them.
With --local, list the submissions this machine has recorded instead.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return listRun(cmd.Context())
	},
}

func init() {
	listCmd.Flags().BoolVar(&listLocal, "local", false, "List local history instead of the backend")
	listCmd.Flags().StringVar(&listStatus, "status", "", "Filter by status (pending, processing, completed, failed)")
	listCmd.Flags().StringVar(&listBatch, "batch", "", "Filter local history by batch ID")
	listCmd.Flags().IntVar(&listLimit, "limit", 0, "Show at most this many submissions")
	rootCmd.AddCommand(listCmd)
}

func listRun(ctx context.Context) error {
	var status models.Status
	if listStatus != "" {
		status = models.ParseStatus(listStatus)
	}

	var subs []*models.Submission
	if listLocal || listBatch != "" {
		s, err := getStore()
		if err != nil {
			return err
		}
		subs, err = s.ListSubmissions(ctx, store.SubmissionFilter{Status: status, BatchID: listBatch, Limit: listLimit})
		if err != nil {
			return err
		}
	} else {
		gw, err := newGateway()
		if err != nil {
			return err
		}
		remote, err := gw.ListSubmissions(ctx)
		if err != nil {
			return err
		}
		for _, sub := range remote {
			recordSubmission(ctx, sub)
			if status == "" || sub.Status == status {
				subs = append(subs, sub)
			}
		}
		if listLimit > 0 && len(subs) > listLimit {
			subs = subs[:listLimit]
		}
	}

	if len(subs) == 0 {
		ui.Info("No submissions found")
		return nil
	}
	return renderSubmissionTable(subs)
}

func renderSubmissionTable(subs []*models.Submission) error {
	table := ui.Table([]string{"ID", "File", "Language", "Status", "Score", "Issues", "Submitted"})
	for _, sub := range subs {
		score, issues := "-", "-"
		if sub.HasResult() {
			res := review.Normalize(sub.Result)
			score = output.ScoreColor(res.Scores.Overall)
			issues = strconv.Itoa(res.IssueCount())
		}
		submitted := "-"
		if !sub.CreatedAt.IsZero() {
			submitted = sub.CreatedAt.Local().Format("2006-01-02 15:04")
		}
		_ = table.Append([]string{
			sub.ID,
			sub.Filename,
			string(sub.Language),
			output.StatusColor(string(sub.Status)),
			score,
			issues,
			submitted,
		})
	}
	return table.Render()
}
