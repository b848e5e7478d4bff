package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var cfgFile string

// rootCmd is the base command: persistent flags that override config
// file values, read directly by loadConfig rather than bound through
// viper.
var rootCmd = &cobra.Command{
	Use:   "synebot",
	Short: "synebot - a multi-tenant conversational agent runtime",
	Long: `synebot runs a single conversational agent across Telegram and a
local CLI, backed by a pluggable LLM provider, persistent memory, a
tool/ability registry, and a task scheduler.`,
}

// Execute runs the root command, exiting non-zero on failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.SetHelpTemplate(`{{with (or .Long .Short)}}{{. | trimTrailingWhitespaces}}

{{end}}{{if or .Runnable .HasSubCommands}}{{.UsageString}}{{end}}
Support:
  Issues: file them against this repository
`)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./synebot.yaml)")

	rootCmd.PersistentFlags().String("db-driver", "", "storage driver (sqlite, postgres) - overrides config")
	rootCmd.PersistentFlags().String("db-dsn", "", "storage DSN - overrides config")
	rootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error) - overrides config")
	rootCmd.PersistentFlags().String("log-format", "", "log format (text, json) - overrides config")
}
