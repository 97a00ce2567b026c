// Package main is the entry point for the mirror CLI.
// The mirror listens for its wake phrase, answers spoken questions with live
// weather, calendar and market context, and speaks the reply.
package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/legitHacker23/SmartMirror/internal/config"
	"github.com/legitHacker23/SmartMirror/internal/logging"
)

var (
	version = "0.1.0"
	cfgDir  string
	verbose bool

	cfg *config.Config
	log *logging.Logger
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "mirror",
		Short: "Mirror - voice assistant for a smart mirror",
		Long: `Mirror listens for "hey mirror", captures the question that follows,
gathers live context and speaks the answer.

Start listening:   mirror run
Ask by typing:     mirror ask what's the weather today
Configuration:     mirror config show`,
		PersistentPreRunE:  initLogging,
		PersistentPostRunE: closeLogging,
		SilenceUsage:       true,
	}

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgDir, "config", "", "config directory (default ~/.mirror)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "Mirror v%s\n", version)
		},
	})

	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(askCmd())
	rootCmd.AddCommand(usageCmd())
	rootCmd.AddCommand(historyCmd())
	rootCmd.AddCommand(voicesCmd())
	rootCmd.AddCommand(configCmd())

	return rootCmd
}

// ═══════════════════════════════════════════════════════════════════════════════
// LOGGING INITIALIZATION
// ═══════════════════════════════════════════════════════════════════════════════

func initLogging(cmd *cobra.Command, args []string) error {
	var err error
	cfg, err = config.Load(cfgDir)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	level := logging.ParseLevel(cfg.Log.Level)
	if verbose {
		level = logging.LevelDebug
	}

	log, err = logging.New(&logging.Config{
		Dir:     cfg.Log.Dir,
		Level:   level,
		Console: cfg.Log.Console || verbose,
	})
	if err != nil {
		// keep going on the console
		zlog.Warn().Err(err).Msg("File logging unavailable")
		log, err = logging.New(&logging.Config{Level: level, Console: true})
		if err != nil {
			return err
		}
	}

	zerolog.SetGlobalLevel(level.Zerolog())
	l := log.Zerolog()
	l.Debug().Str("command", cmd.Name()).Str("config_dir", configPath()).Msg("Mirror starting")
	return nil
}

func closeLogging(cmd *cobra.Command, args []string) error {
	if log != nil {
		return log.Close()
	}
	return nil
}

func configPath() string {
	if cfgDir != "" {
		return cfgDir
	}
	return config.Dir()
}
