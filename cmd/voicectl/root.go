package main

import (
	"fmt"
	"os"

	"github.com/dkeye/meshvoice/internal/config"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	flagConfig   string
	flagLogLevel string
	flagServer   string
)

var rootCmd = &cobra.Command{
	Use:   "voicectl",
	Short: "Headless participant for meshvoice rooms",
	Long: `voicectl joins a meshvoice room from the terminal: it chats, joins voice
with a generated or file-backed audio stream, and records what it hears.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "config file (default config/config.$CONFIG_ENV.yaml)")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "override log_level from config")
	rootCmd.PersistentFlags().StringVar(&flagServer, "server", "", "relay base URL, overrides server_url")
	rootCmd.AddCommand(joinCmd, tokenCmd)
}

// loadConfig applies the persistent flag overrides on top of the file.
func loadConfig() (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if flagConfig != "" {
		cfg, err = config.LoadFile(flagConfig)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}
	if flagLogLevel != "" {
		cfg.LogLevel = flagLogLevel
	}
	lvl, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	zerolog.SetGlobalLevel(lvl)
	if flagServer != "" {
		cfg.ServerURL = flagServer
	}
	return cfg, nil
}

func Execute() {
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
