// Package main provides the CLI entry point for the Codeforge agent runtime.
//
// Codeforge runs a single-workspace coding agent: it drives an LLM-powered
// tool-calling loop against one working directory, persists every turn to an
// append-only session log, and compacts that log when it grows past the
// model's context budget.
//
// # Basic Usage
//
// Start the server:
//
//	codeforge serve --config codeforge.yaml
//
// List sessions for the current workspace:
//
//	codeforge session list
//
// Force compaction of a session:
//
//	codeforge compact <session-id>
//
// # Environment Variables
//
//   - CODEFORGE_CONFIG: Path to configuration file (default: codeforge.yaml)
//   - ANTHROPIC_API_KEY: Anthropic API key for Claude models
//   - OPENAI_API_KEY: OpenAI API key for GPT models
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Build information, populated by ldflags during build.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

// buildRootCmd assembles the root command and every subcommand. Kept
// separate from main so tests can exercise the command tree directly.
func buildRootCmd() *cobra.Command {
	var configPath string

	rootCmd := &cobra.Command{
		Use:   "codeforge",
		Short: "Codeforge - single-workspace coding agent runtime",
		Long: `Codeforge drives an LLM tool-calling loop against a single working
directory, persists the conversation as a branch-capable session log, and
compacts that log as it approaches the model's context window.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", defaultConfigPath(), "path to YAML configuration file")

	rootCmd.AddCommand(
		buildServeCmd(&configPath),
		buildSessionCmd(&configPath),
		buildCompactCmd(&configPath),
		buildDoctorCmd(&configPath),
		buildModelsCmd(&configPath),
		buildRPCCmd(&configPath),
	)
	return rootCmd
}

func defaultConfigPath() string {
	if v := os.Getenv("CODEFORGE_CONFIG"); v != "" {
		return v
	}
	return "codeforge.yaml"
}
