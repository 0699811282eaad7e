package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cloo-solutions/profundo/internal/cli"
	"github.com/cloo-solutions/profundo/internal/cli/admin"
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "profundod",
		Short:        "Profundo daemon",
		Long:         "Profundo daemon for serving recall over HTTP and indexing sessions in the background",
		SilenceUsage: true,
	}

	cli.AddWorkspaceFlags(rootCmd)
	cli.AddHelpJSONFlag(rootCmd)
	rootCmd.AddCommand(admin.ServeCmd())

	if len(os.Args) == 1 {
		os.Args = append(os.Args, "serve")
	}

	cli.CheckHelpJSON(rootCmd)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
