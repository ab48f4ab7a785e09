package main

import (
	"errors"
	"fmt"

	"github.com/amariwan/cronexec/internal/control"
	"github.com/amariwan/cronexec/internal/storage"
	"github.com/amariwan/cronexec/internal/util"
	"github.com/spf13/cobra"
)

// usageError signals usage related error which maps to exit code 64
type usageError struct {
	msg string
}

func (u *usageError) Error() string { return u.msg }

var (
	version = "dev"

	// Global flags
	configFile string
	logLevel   string
	logFile    string

	// Populated by persistentPreRunE
	cfg    *storage.Config
	logger util.Logger
)

// rootCmd and its subcommands live here and in commands.go / run.go.
var rootCmd *cobra.Command

func init() {
	rootCmd = &cobra.Command{
		Use:   "cronexec",
		Short: "Minute-granularity crontab executor",
		Long: `cronexec loads cron-style rules from a plain text file and runs the
matching commands once a minute.

Rule format (one per line, # starts a comment):
  minute hour day month weekday command...
Weekday 0 is Sunday.`,
		Version:           version,
		Args:              cobra.NoArgs,
		SilenceUsage:      true,
		PersistentPreRunE: persistentPreRunE,
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Println(control.Usage)
		},
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "cronexec.yml", "Config file (YAML, optional)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug|info|warn|error), overrides config")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "Optional log file path (also mirrored to stderr)")

	rootCmd.AddCommand(newRunCmd(), newReloadCmd(), newListCmd(), newCheckCmd(), newHistoryCmd())
}

// persistentPreRunE loads the config file and initializes the logger
func persistentPreRunE(cmd *cobra.Command, args []string) error {
	loaded, err := storage.LoadConfig(configFile)
	missing := errors.Is(err, storage.ErrConfigNotFound)
	if err != nil && !missing {
		return &usageError{msg: err.Error()}
	}
	cfg = loaded

	if cmd.Flags().Changed("log-level") {
		cfg.Log.Level = logLevel
	}
	if cmd.Flags().Changed("log-file") {
		cfg.Log.File = logFile
	}

	logger, err = util.InitLogger(cfg.Log.Level, cfg.Log.File)
	if err != nil {
		return fmt.Errorf("logger init failed: %w", err)
	}
	if missing {
		logger.Debug("Config file not found, using defaults", "path", configFile)
	}
	return nil
}
