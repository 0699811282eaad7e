package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cloo-solutions/profundo/internal/cli"
	"github.com/cloo-solutions/profundo/internal/cli/commands"
)

var version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:   "profundo",
		Short: "Profundo - semantic memory over chat sessions",
		Long: `Profundo indexes chat session transcripts into a local vector store,
extracts learnings from them and answers recall queries by meaning.

Environment variables:
  PROFUNDO_API_KEY      Provider API key (falls back to OPENROUTER_API_KEY, OPENAI_API_KEY)
  PROFUNDO_SESSIONS_DIR Session transcripts directory
  PROFUNDO_MEMORY_DIR   Memory directory for the index and learnings`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cli.AddWorkspaceFlags(rootCmd)
	cli.AddHelpJSONFlag(rootCmd)

	rootCmd.AddCommand(commands.EmbedCmd())
	rootCmd.AddCommand(commands.RecallCmd())
	rootCmd.AddCommand(commands.HarvestCmd())
	rootCmd.AddCommand(commands.LearningsCmd())
	rootCmd.AddCommand(commands.StatusCmd())
	rootCmd.AddCommand(commands.StatsCmd())
	rootCmd.AddCommand(commands.ExportCmd())
	rootCmd.AddCommand(commands.RollupCmd())

	cli.CheckHelpJSON(rootCmd)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
