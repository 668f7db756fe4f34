package cmd

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	revumcp "github.com/joescharf/revu/internal/mcp"
)

var mcpMetricsAddr string

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start MCP stdio server for agent integration",
	Long: `Start an MCP (Model Context Protocol) server on stdio so coding agents
can submit code and read reviews. Configure it with:

  {
    "mcpServers": {
      "revu": { "command": "revu", "args": ["mcp"] }
    }
  }

Available tools: revu_submit_file, revu_submit_code, revu_show,
revu_list_submissions, revu_wait, revu_stats, revu_trends`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return mcpRun(cmd.Context())
	},
}

func init() {
	mcpCmd.Flags().StringVar(&mcpMetricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9464)")
	rootCmd.AddCommand(mcpCmd)
}

func mcpRun(ctx context.Context) error {
	gw, err := newGateway()
	if err != nil {
		return err
	}
	s, err := getStore()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, shutdownSignals()...)
	defer stop()

	if mcpMetricsAddr != "" {
		srv := &http.Server{Addr: mcpMetricsAddr, Handler: appMetrics.Handler(), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Warn("metrics server stopped", zap.Error(err))
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	server := revumcp.NewServer(gw, s,
		revumcp.WithPollInterval(viper.GetDuration("poll.interval")),
		revumcp.WithLogger(logger),
		revumcp.WithMetrics(appMetrics),
		revumcp.WithVersion(buildVersion),
	)
	logger.Info("mcp server starting", zap.String("backend", viper.GetString("backend.url")))
	return server.ServeStdio(ctx)
}
