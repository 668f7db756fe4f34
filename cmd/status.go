package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/joescharf/revu/internal/output"
	"github.com/joescharf/revu/internal/store"
)

const statusRecent = 5

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show backend health and recent submissions",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return statusRun(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func statusRun(ctx context.Context) error {
	gw, err := newGateway()
	if err != nil {
		return err
	}

	ui.Info("Backend: %s (%s routes)", viper.GetString("backend.url"), gw.Routes().Name)
	if health, err := gw.Health(ctx); err != nil {
		ui.Warning("Backend unreachable: %v", err)
	} else {
		ui.Success("Backend %s", health)
	}

	s, err := getStore()
	if err != nil {
		return err
	}
	subs, err := s.ListSubmissions(ctx, store.SubmissionFilter{Limit: statusRecent})
	if err != nil {
		return err
	}
	fmt.Fprintln(ui.Out)
	if len(subs) == 0 {
		ui.Info("No submissions yet. Use 'revu submit <file>' to get started.")
		return nil
	}

	fmt.Fprintln(ui.Out, output.Cyan("Recent submissions"))
	return renderSubmissionTable(subs)
}
