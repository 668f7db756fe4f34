package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/joescharf/revu/internal/chat"
	"github.com/joescharf/revu/internal/gateway"
	"github.com/joescharf/revu/internal/logging"
	"github.com/joescharf/revu/internal/metrics"
	"github.com/joescharf/revu/internal/models"
	"github.com/joescharf/revu/internal/output"
	"github.com/joescharf/revu/internal/poller"
	"github.com/joescharf/revu/internal/store"
	"github.com/joescharf/revu/internal/transport"
)

// Package-level shared dependencies, initialized in cobra.OnInitialize.
var (
	ui         *output.UI
	logger     *zap.Logger
	appMetrics *metrics.Metrics
	dataStore  store.Store

	verbose bool
	dryRun  bool
)

var rootCmd = &cobra.Command{
	Use:   "revu",
	Short: "Submit code for review and read the results",
	Long: `revu sends source files to a code review backend, watches the
analysis until it finishes, and shows the normalized review: scores,
issues, security findings and suggestions. You can then chat with the
reviewer about a submission.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	DisableAutoGenTag: true,
}

// Execute is the main entry point called from main.go.
func Execute(version, commit, date string) {
	buildVersion = version
	buildCommit = commit
	buildDate = date

	err := rootCmd.Execute()
	if dataStore != nil {
		_ = dataStore.Close()
	}
	if logger != nil {
		_ = logger.Sync()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig, initDeps)

	rootCmd.RunE = func(cmd *cobra.Command, args []string) error {
		return rootRun(cmd)
	}

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")
	rootCmd.PersistentFlags().BoolVarP(&dryRun, "dry-run", "n", false, "Show what would happen without making changes")
	rootCmd.PersistentFlags().String("config", "", "Config file (default ~/.config/revu/config.yaml)")
	rootCmd.PersistentFlags().String("backend", "", "Review backend base URL (overrides backend.url)")
	_ = viper.BindPFlag("backend.url", rootCmd.PersistentFlags().Lookup("backend"))
}

func initConfig() {
	// A .env in the working directory feeds REVU_* variables; it is optional.
	_ = godotenv.Load()

	// If --config is explicitly set, use that file
	if cfgFile, _ := rootCmd.PersistentFlags().GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: cannot find home directory: %v\n", err)
			os.Exit(1)
		}

		configDir := filepath.Join(home, ".config", "revu")
		viper.AddConfigPath(configDir)
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("REVU")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	home, _ := os.UserHomeDir()
	setDefaults(filepath.Join(home, ".config", "revu"))

	// Read config file if it exists (optional)
	_ = viper.ReadInConfig()
}

// setDefaults registers every config key's default value.
func setDefaults(configDir string) {
	viper.SetDefault("db_path", filepath.Join(configDir, "revu.db"))
	viper.SetDefault("backend.url", "http://localhost:8000")
	viper.SetDefault("backend.routes", gateway.RoutesV1.Name)
	viper.SetDefault("backend.timeout", "30s")
	viper.SetDefault("poll.interval", poller.DefaultInterval.String())
	viper.SetDefault("log.level", "warn")
	viper.SetDefault("log.format", "console")
}

func initDeps() {
	ui = output.New()
	ui.Verbose = verbose
	ui.DryRun = dryRun

	level := viper.GetString("log.level")
	if verbose {
		level = "debug"
	}
	l, err := logging.New(logging.Config{Level: level, Format: viper.GetString("log.format")})
	if err != nil {
		l = zap.NewNop()
	}
	logger = l
	appMetrics = metrics.New()

	// Store and backend client are built lazily so config/version work offline.
}

// rootRun handles `revu` with no subcommand: show the status overview.
func rootRun(cmd *cobra.Command) error {
	if err := statusRun(cmd.Context()); err != nil {
		return cmd.Help()
	}
	return nil
}

// getStore returns the shared store, initializing it on first call.
func getStore() (store.Store, error) {
	if dataStore != nil {
		return dataStore, nil
	}

	dbPath := viper.GetString("db_path")
	s, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	ctx := rootCmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if err := s.Migrate(ctx); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	dataStore = s
	return dataStore, nil
}

// newClient builds the backend transport from config.
func newClient() (*transport.Client, error) {
	return transport.New(viper.GetString("backend.url"),
		transport.WithTimeout(viper.GetDuration("backend.timeout")),
		transport.WithUserAgent("revu/"+buildVersion),
		transport.WithLogger(logger),
		transport.WithMetrics(appMetrics),
	)
}

// newGateway builds the submission gateway from config.
func newGateway() (*gateway.Gateway, error) {
	routes, err := gateway.RoutesFor(viper.GetString("backend.routes"))
	if err != nil {
		return nil, err
	}
	c, err := newClient()
	if err != nil {
		return nil, err
	}
	return gateway.New(c, gateway.WithRoutes(routes), gateway.WithLogger(logger)), nil
}

func newScheduler(gw *gateway.Gateway) *poller.Scheduler {
	return poller.New(gw,
		poller.WithInterval(viper.GetDuration("poll.interval")),
		poller.WithLogger(logger),
		poller.WithMetrics(appMetrics),
	)
}

func newChatManager() (*chat.Manager, error) {
	c, err := newClient()
	if err != nil {
		return nil, err
	}
	return chat.New(c, chat.WithLogger(logger), chat.WithMetrics(appMetrics)), nil
}

// recordSubmission caches sub in the local history. Failures are only
// reported in verbose mode.
func recordSubmission(ctx context.Context, sub *models.Submission) {
	s, err := getStore()
	if err != nil {
		ui.VerboseLog("history unavailable: %v", err)
		return
	}
	if err := s.SaveSubmission(ctx, sub); err != nil {
		ui.VerboseLog("history not updated for %s: %v", sub.ID, err)
	}
}
