package cmd

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"os/signal"
	"path/filepath"
	"slices"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/joescharf/revu/internal/gateway"
	"github.com/joescharf/revu/internal/models"
	"github.com/joescharf/revu/internal/output"
	"github.com/joescharf/revu/internal/poller"
)

var (
	batchProject    string
	batchWatch      bool
	batchReportJSON bool
)

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Submit and track zip archives of source files",
}

var batchSubmitCmd = &cobra.Command{
	Use:   "submit <archive.zip>",
	Short: "Submit a zip archive; every source file in it is reviewed",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return batchSubmitRun(cmd.Context(), args[0])
	},
}

var batchStatusCmd = &cobra.Command{
	Use:   "status <batch-id>",
	Short: "Show progress of a batch",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		gw, err := newGateway()
		if err != nil {
			return err
		}
		return batchStatusRun(cmd.Context(), gw, args[0])
	},
}

var batchReportCmd = &cobra.Command{
	Use:   "report <batch-id>",
	Short: "Show aggregated review metrics for a batch",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		gw, err := newGateway()
		if err != nil {
			return err
		}
		return batchReportRun(cmd.Context(), gw, args[0])
	},
}

func init() {
	batchSubmitCmd.Flags().StringVarP(&batchProject, "project", "p", "", "Project name (default: archive name)")
	batchSubmitCmd.Flags().BoolVarP(&batchWatch, "watch", "w", false, "Follow batch progress until every file finishes")
	batchStatusCmd.Flags().BoolVarP(&batchWatch, "watch", "w", false, "Follow batch progress until every file finishes")
	batchCmd.AddCommand(batchSubmitCmd)
	batchReportCmd.Flags().BoolVar(&batchReportJSON, "json", false, "Print the raw report as JSON")
	batchCmd.AddCommand(batchStatusCmd)
	batchCmd.AddCommand(batchReportCmd)
	rootCmd.AddCommand(batchCmd)
}

func batchSubmitRun(ctx context.Context, path string) error {
	if dryRun {
		ui.DryRunMsg("Would submit archive %s (project: %s)", path, orUnset(batchProject))
		return nil
	}

	gw, err := newGateway()
	if err != nil {
		return err
	}
	receipt, err := gw.SubmitBatch(ctx, path, batchProject)
	if err != nil {
		return err
	}

	for _, id := range receipt.SubmissionIDs {
		recordSubmission(ctx, &models.Submission{
			ID:          id,
			Filename:    filepath.Base(path),
			Language:    models.LanguageUnknown,
			Status:      models.StatusPending,
			BatchID:     receipt.BatchID,
			ProjectName: receipt.ProjectName,
		})
	}
	ui.Success("Batch %s created for %s: %d files", receipt.BatchID, receipt.ProjectName, receipt.TotalFiles)
	if receipt.Message != "" {
		ui.VerboseLog("%s", receipt.Message)
	}
	if !batchWatch {
		ui.Info("Run 'revu batch status %s --watch' to follow it", receipt.BatchID)
		return nil
	}
	return batchStatusRun(ctx, gw, receipt.BatchID)
}

func batchStatusRun(ctx context.Context, gw *gateway.Gateway, batchID string) error {
	st, err := gw.BatchStatus(ctx, batchID)
	if err != nil {
		return err
	}
	if !batchWatch || st.Done() {
		renderBatch(st)
		return nil
	}

	ctx, stop := signal.NotifyContext(ctx, shutdownSignals()...)
	defer stop()

	printBatchProgress(st)
	err = poller.Until(ctx, pollInterval(), func(ctx context.Context) (bool, error) {
		next, err := gw.BatchStatus(ctx, batchID)
		if err != nil {
			return false, err
		}
		st = next
		if !st.Done() {
			printBatchProgress(st)
		}
		return st.Done(), nil
	}, func(err error) {
		ui.Warning("Status check failed: %v (retrying)", err)
	})
	if errors.Is(err, context.Canceled) {
		return fmt.Errorf("stopped watching batch %s", batchID)
	}
	if err != nil {
		return err
	}
	fmt.Fprintln(ui.Out)
	renderBatch(st)
	return nil
}

func printBatchProgress(st *models.BatchStatus) {
	fmt.Fprintf(ui.Out, "%s %d/%d done, %d failed\n",
		output.ProgressBar(st.ProgressPercentage, 30), st.Completed, st.TotalFiles, st.Failed)
}

func batchReportRun(ctx context.Context, gw *gateway.Gateway, batchID string) error {
	rep, err := gw.BatchReport(ctx, batchID)
	if err != nil {
		return err
	}
	if batchReportJSON {
		return printJSON(rep)
	}
	renderBatchReport(rep)
	return nil
}

func renderBatchReport(rep *models.BatchReport) {
	fmt.Fprintf(ui.Out, "%s  %s\n", output.Cyan(rep.ProjectName), rep.BatchID)
	if !rep.HasResults() {
		ui.Info("%s", rep.Summary.Message)
		return
	}
	sum := rep.Summary
	fmt.Fprintf(ui.Out, "  Files: %d  Issues: %d\n", sum.TotalFiles, sum.TotalIssues)
	fmt.Fprintf(ui.Out, "  Quality: %s  Security: %s  Maintainability: %s\n",
		output.ScoreColor(sum.AverageQualityScore),
		output.ScoreColor(sum.AverageSecurityScore),
		output.ScoreColor(sum.AverageMaintainability))

	if len(rep.LanguageBreakdown) > 0 {
		fmt.Fprintln(ui.Out)
		table := ui.Table([]string{"Language", "Files", "Avg score"})
		for _, lang := range slices.Sorted(maps.Keys(rep.LanguageBreakdown)) {
			ls := rep.LanguageBreakdown[lang]
			avg := ls.AvgScore
			_ = table.Append([]string{lang, strconv.Itoa(ls.Count), output.ScoreColor(&avg)})
		}
		_ = table.Render()
	}
	if len(rep.FilesNeedingAttention) > 0 {
		fmt.Fprintln(ui.Out)
		fmt.Fprintln(ui.Out, output.Yellow("Needs attention"))
		table := ui.Table([]string{"File", "Issues", "Score"})
		for _, f := range rep.FilesNeedingAttention {
			_ = table.Append([]string{f.Filename, strconv.Itoa(f.IssuesCount), output.ScoreColor(f.OverallScore)})
		}
		_ = table.Render()
	}
}

func renderBatch(st *models.BatchStatus) {
	fmt.Fprintf(ui.Out, "%s  %s\n", output.Cyan(st.ProjectName), st.BatchID)
	fmt.Fprintf(ui.Out, "  %s\n", output.ProgressBar(st.ProgressPercentage, 30))
	fmt.Fprintf(ui.Out, "  Files: %d  Completed: %d  Processing: %d  Failed: %d\n",
		st.TotalFiles, st.Completed, st.Processing, st.Failed)
	fmt.Fprintf(ui.Out, "  Average score: %s\n", output.ScoreColor(st.AverageScore))
	if len(st.Files) == 0 {
		return
	}
	fmt.Fprintln(ui.Out)
	table := ui.Table([]string{"Submission", "File", "Status"})
	for _, f := range st.Files {
		_ = table.Append([]string{f.SubmissionID, f.Filename, output.StatusColor(string(f.Status))})
	}
	_ = table.Render()
}

func pollInterval() time.Duration {
	if d := viper.GetDuration("poll.interval"); d > 0 {
		return d
	}
	return 5 * time.Second
}
