// Package main is the ccrouter entry point.
package main

import (
	"log"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var configPath string

// rootCmd is the base command when ccrouter is invoked with no subcommand.
var rootCmd = &cobra.Command{
	Use:   "ccrouter",
	Short: "An Anthropic Messages API proxy that routes across LLM providers",
	Long: `ccrouter fronts the Anthropic Messages API and dispatches each request
to one of several configured providers (Anthropic-native, OpenAI-compatible,
Gemini) based on a model-to-category router and a per-category fallback
list of providers.`,
}

func main() {
	configureLogging()
	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", defaultConfigPath(), "path to the ccrouter config file")
}

// configureLogging installs the process-wide slog handler: JSON in
// production, human-readable text under CCROUTER_ENV=development.
func configureLogging() {
	var handler slog.Handler
	if os.Getenv("CCROUTER_ENV") == "development" {
		handler = slog.NewTextHandler(os.Stderr, nil)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, nil)
	}
	slog.SetDefault(slog.New(handler))
}
