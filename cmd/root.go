package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/marcus/cardsync/internal/logging"
	"github.com/marcus/cardsync/internal/syncconfig"
)

var (
	version    string
	configPath string
	verbose    bool

	cfg       *syncconfig.Config
	logCloser io.Closer
)

// SetVersion sets the version string
func SetVersion(v string) {
	version = v
	rootCmd.Version = v
}

var rootCmd = &cobra.Command{
	Use:   "cardsync",
	Short: "Push locally recorded flashcard progress to the remote store",
	Long: `cardsync - Local-first sync for flashcard reviews, lesson progress and streaks.

Records are written on the device first and pushed to the remote store
whenever the device is online. Failed tables are retried on the next cycle.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return loadConfig(cmd)
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logCloser != nil {
			logCloser.Close()
		}
	},
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ~/.config/cardsync/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log at the configured level instead of warnings only")

	rootCmd.AddGroup(
		&cobra.Group{ID: "core", Title: "Core Commands:"},
		&cobra.Group{ID: "data", Title: "Data Commands:"},
		&cobra.Group{ID: "system", Title: "System Commands:"},
	)

	rootCmd.SetHelpCommandGroupID("system")
	rootCmd.SetCompletionCommandGroupID("system")
}

// loadConfig reads configuration and installs the logger. Interactive
// commands log warnings only unless --verbose; the daemon always uses the
// configured level.
func loadConfig(cmd *cobra.Command) error {
	var err error
	cfg, err = syncconfig.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return err
	}

	lc := logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format, File: cfg.Log.File}
	if cmd.Name() != "daemon" && !verbose && lc.File == "" {
		if logging.ParseLevel(lc.Level) < logging.ParseLevel("warn") {
			lc.Level = "warn"
		}
	}
	_, logCloser = logging.Setup(lc)
	return nil
}
