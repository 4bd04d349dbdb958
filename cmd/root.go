package cmd

import (
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/ericsoncardosoweb/apollo-ai/core/config"
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "apollo-ai",
	Short: "Multi-tenant messaging automation engine",
	Long: `Apollo AI runs the message-flow core of the platform: inbound message
debouncing, stale-conversation re-engagement and rate-limited campaign
dispatch, backed by Valkey and a relational store.`,
	Run: runServe,
}

func Execute() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	if err := rootCmd.Execute(); err != nil {
		logrus.Fatalf("Command failed: %v", err)
	}
}

// initLogging configures logrus from the loaded config.
func initLogging(cfg *config.Config) {
	logrus.SetOutput(os.Stdout)
	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})
	if cfg.App.Debug {
		logrus.SetLevel(logrus.DebugLevel)
	} else {
		logrus.SetLevel(logrus.InfoLevel)
	}
}
