package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/joescharf/revu/internal/models"
	"github.com/joescharf/revu/internal/output"
	"github.com/joescharf/revu/internal/stats"
	"github.com/joescharf/revu/internal/store"
)

var statsRemote bool

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Summarize submissions by status, score and issues",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return statsRun(cmd.Context())
	},
}

func init() {
	statsCmd.Flags().BoolVar(&statsRemote, "remote", false, "Summarize the backend's submissions instead of local history")
	rootCmd.AddCommand(statsCmd)
}

func statsRun(ctx context.Context) error {
	var subs []*models.Submission
	if statsRemote {
		gw, err := newGateway()
		if err != nil {
			return err
		}
		if subs, err = gw.ListSubmissions(ctx); err != nil {
			return err
		}
	} else {
		s, err := getStore()
		if err != nil {
			return err
		}
		if subs, err = s.ListSubmissions(ctx, store.SubmissionFilter{}); err != nil {
			return err
		}
	}

	sum := stats.NewSummarizer().Summarize(subs)
	fmt.Fprintf(ui.Out, "Submissions:    %d (%d this week)\n", sum.Total, sum.LastWeek)
	for _, st := range []models.Status{models.StatusPending, models.StatusProcessing, models.StatusCompleted, models.StatusFailed} {
		fmt.Fprintf(ui.Out, "  %-12s  %d\n", output.StatusColor(string(st)), sum.ByStatus[st])
	}
	fmt.Fprintf(ui.Out, "Average score:  %s (%d scored)\n", output.ScoreColor(sum.AverageScore), sum.Scored)
	fmt.Fprintf(ui.Out, "  good %d  fair %d  poor %d\n",
		sum.Bands[stats.BandGood], sum.Bands[stats.BandFair], sum.Bands[stats.BandPoor])
	fmt.Fprintf(ui.Out, "Total issues:   %d\n", sum.TotalIssues)
	return nil
}
