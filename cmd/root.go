package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tubeq/tubeq/internal/config"
	"github.com/tubeq/tubeq/internal/core"
	"github.com/tubeq/tubeq/internal/engine"
	"github.com/tubeq/tubeq/internal/engine/types"
	"github.com/tubeq/tubeq/internal/engine/ytdlp"
	"github.com/tubeq/tubeq/internal/history"
	"github.com/tubeq/tubeq/internal/utils"
)

// Version information - set via ldflags during build
var (
	Version   = "dev"
	BuildTime = "unknown"
)

// Connection overrides shared by the commands that talk to a daemon
var (
	globalHost  string
	globalToken string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:     "tubeq",
	Short:   "A yt-dlp download queue for the terminal",
	Long:    `tubeq downloads videos and audio through yt-dlp with quality presets, format fallback and a bounded download queue.`,
	Version: Version,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		initializeGlobalState()
	},
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&globalHost, "host", "", "Daemon address (host:port or URL, or set TUBEQ_HOST)")
	rootCmd.PersistentFlags().StringVar(&globalToken, "token", "", "Bearer token for the daemon (or set TUBEQ_TOKEN)")
	rootCmd.SetVersionTemplate("tubeq version {{.Version}}\n")
}

// initializeGlobalState creates the app directories and configures logging
func initializeGlobalState() {
	if err := config.EnsureDirs(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
	}

	utils.ConfigureDebug(config.GetLogsDir())
	utils.CleanupLogs(loadSettings().General.LogRetentionCount)
	utils.Debug("tubeq %s (built %s) starting", Version, BuildTime)
}

// loadSettings returns the user's settings, or the defaults when the file
// is missing or unreadable.
func loadSettings() *config.Settings {
	settings, err := config.LoadSettings()
	if err != nil {
		utils.Debug("Failed to load settings, using defaults: %v", err)
		return config.DefaultSettings()
	}
	return settings
}

// newEngine builds an engine driving yt-dlp with the user's tuning.
func newEngine(settings *config.Settings) *engine.Engine {
	return engine.New(ytdlp.New(), engine.Options{
		Runtime: types.ConvertRuntimeConfig(settings.ToRuntimeConfig()),
	})
}

// newLocalService wires an engine to the history store.
func newLocalService(settings *config.Settings) (*core.LocalDownloadService, error) {
	store, err := history.Open(config.GetHistoryPath(), settings.General.HistoryLimit)
	if err != nil {
		return nil, fmt.Errorf("open history: %w", err)
	}
	return core.NewLocalDownloadService(newEngine(settings), store, settings), nil
}
