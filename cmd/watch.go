package cmd

import (
	"context"
	"fmt"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/joescharf/revu/internal/gateway"
	"github.com/joescharf/revu/internal/models"
	"github.com/joescharf/revu/internal/output"
	"github.com/joescharf/revu/internal/poller"
)

var watchCmd = &cobra.Command{
	Use:   "watch <submission-id>",
	Short: "Poll a submission until its review finishes",
	Long: `Poll a submission every poll.interval until it is completed or failed,
then print the review. Ctrl-C stops watching; the review keeps running
on the backend.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		gw, err := newGateway()
		if err != nil {
			return err
		}
		return watchAndShow(cmd.Context(), gw, args[0])
	},
}

func init() {
	rootCmd.AddCommand(watchCmd)
}

func watchAndShow(ctx context.Context, gw *gateway.Gateway, id string) error {
	sub, err := watchSubmission(ctx, gw, id)
	if err != nil {
		return err
	}
	fmt.Fprintln(ui.Out)
	renderSubmission(sub)
	return nil
}

// watchSubmission polls id until it settles. Interrupting the command
// cancels the subscription and returns an error.
func watchSubmission(ctx context.Context, gw *gateway.Gateway, id string) (*models.Submission, error) {
	ctx, stop := signal.NotifyContext(ctx, shutdownSignals()...)
	defer stop()

	sched := newScheduler(gw)
	ui.Info("Watching %s (every %s, Ctrl-C to stop)", id, sched.Interval())

	var (
		last     models.Status
		final    *models.Submission
		finalErr error
	)
	sub := sched.Subscribe(ctx, id, poller.Observer{
		OnStatus: func(s *models.Submission) {
			if s.Status != last {
				ui.Info("%s: %s", id, output.StatusColor(string(s.Status)))
				last = s.Status
			}
			recordSubmission(ctx, s)
		},
		OnSettled: func(s *models.Submission, err error) {
			final, finalErr = s, err
		},
		OnError: func(err error) {
			ui.Warning("Status check failed: %v (retrying)", err)
		},
	})
	sub.Wait()

	if sub.State() == poller.StateCanceled {
		return nil, fmt.Errorf("stopped watching %s after %d checks", id, sub.Fetches())
	}
	if finalErr != nil {
		return nil, finalErr
	}
	return final, nil
}
