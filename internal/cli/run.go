package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// Run builds the App for cmd, runs fn with a context cancelled on SIGINT
// or SIGTERM, and releases the App afterwards.
func Run(cmd *cobra.Command, fn func(ctx context.Context, app *App) error) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := NewApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer app.Close()

	return fn(ctx, app)
}

// PrintJSON writes v to stdout as indented JSON.
func PrintJSON(v any) error {
	output, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	fmt.Println(string(output))
	return nil
}
