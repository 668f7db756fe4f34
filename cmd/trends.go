package cmd

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/joescharf/revu/internal/models"
	"github.com/joescharf/revu/internal/output"
)

var trendsDays int

var trendsCmd = &cobra.Command{
	Use:   "trends <project-id>",
	Short: "Show score trends of a project",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return trendsRun(cmd.Context(), args[0])
	},
}

func init() {
	trendsCmd.Flags().IntVarP(&trendsDays, "days", "d", 30, "Period in days (1-365)")
	rootCmd.AddCommand(trendsCmd)
}

func trendsRun(ctx context.Context, projectID string) error {
	gw, err := newGateway()
	if err != nil {
		return err
	}
	tr, err := gw.Trends(ctx, projectID, trendsDays)
	if err != nil {
		return err
	}

	fmt.Fprintf(ui.Out, "%s  last %d days  trend: %s (%+.1f)\n",
		output.Cyan(projectID), tr.PeriodDays, trendColor(tr.Trend), tr.ScoreChange)
	fmt.Fprintf(ui.Out, "Current score: %s\n\n", output.ScoreColor(tr.CurrentScore))
	if len(tr.Points) == 0 {
		ui.Info("No reviews in this period")
		return nil
	}

	table := ui.Table([]string{"Date", "Overall", "Quality", "Security", "Maintainability", "Issues"})
	for _, p := range tr.Points {
		_ = table.Append([]string{
			p.Date,
			output.ScoreColor(p.OverallScore),
			output.ScoreColor(p.QualityScore),
			output.ScoreColor(p.SecurityScore),
			output.ScoreColor(p.MaintainabilityScore),
			issueTotal(p),
		})
	}
	return table.Render()
}

func trendColor(trend string) string {
	switch trend {
	case "improving":
		return output.Green(trend)
	case "declining":
		return output.Red(trend)
	case "":
		return "-"
	default:
		return output.Yellow(trend)
	}
}

func issueTotal(p models.TrendPoint) string {
	if p.TotalIssues == nil {
		return "-"
	}
	return strconv.Itoa(*p.TotalIssues)
}
