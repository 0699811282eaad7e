package commands

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cloo-solutions/profundo/internal/cli"
	"github.com/cloo-solutions/profundo/internal/domain"
	"github.com/cloo-solutions/profundo/internal/service"
)

// HarvestCmd creates the harvest command.
func HarvestCmd() *cobra.Command {
	var (
		since       string
		model       string
		minMessages int
		sessions    []string
	)

	cmd := &cobra.Command{
		Use:   "harvest",
		Short: "Extract learnings from sessions",
		Long: `Sends each new or grown session transcript to the chat model and appends
the extracted topics, decisions, facts, action items and summary to the
learnings log.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			day, err := domain.ParseDay(since)
			if err != nil {
				return err
			}
			return cli.Run(cmd, func(ctx context.Context, app *cli.App) error {
				if model != "" {
					app.Config.ChatModel = model
				}
				if cmd.Flags().Changed("min-messages") {
					app.Config.HarvestMinMessages = minMessages
				}
				return runHarvest(ctx, app, service.HarvestOptions{Since: day, Sessions: sessions}, cli.JSONOutput(cmd))
			})
		},
	}

	cmd.Flags().StringVar(&since, "since", "", "Only process sessions since this date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&model, "model", "", "Model to use for extraction (overrides PROFUNDO_CHAT_MODEL)")
	cmd.Flags().IntVar(&minMessages, "min-messages", service.DefaultHarvestConfig().MinMessages, "Minimum messages to process a session")
	cmd.Flags().StringSliceVar(&sessions, "session", nil, "Only process these session ids")

	return cmd
}

type failureOutput struct {
	SessionID string `json:"session_id"`
	Error     string `json:"error"`
}

type harvestOutput struct {
	Sessions  int             `json:"sessions"`
	Harvested int             `json:"harvested"`
	Skipped   int             `json:"skipped"`
	Records   int             `json:"records"`
	Failures  []failureOutput `json:"failures"`
}

func runHarvest(ctx context.Context, app *cli.App, opts service.HarvestOptions, outputJSON bool) error {
	svc, err := app.HarvestService()
	if err != nil {
		return err
	}

	report, err := svc.Run(ctx, opts)
	if errors.Is(err, domain.ErrAlreadyRunning) {
		return fmt.Errorf("another embed or harvest is running on %s", app.Config.MemoryDir)
	}
	if err != nil {
		return err
	}

	if outputJSON {
		out := harvestOutput{
			Sessions:  report.Sessions,
			Harvested: report.Harvested,
			Skipped:   report.Skipped,
			Records:   report.Records,
			Failures:  make([]failureOutput, 0, len(report.Failures)),
		}
		for _, f := range report.Failures {
			out.Failures = append(out.Failures, failureOutput{SessionID: f.SessionID, Error: f.Err.Error()})
		}
		return cli.PrintJSON(out)
	}

	fmt.Printf("Harvested %d of %d sessions (%d skipped), %d learnings written to %s\n",
		report.Harvested, report.Sessions, report.Skipped, report.Records, app.Learnings.Path())
	for _, f := range report.Failures {
		fmt.Printf("  failed %s: %v\n", shortID(f.SessionID), f.Err)
	}
	if len(report.Failures) > 0 {
		return fmt.Errorf("%d sessions failed", len(report.Failures))
	}
	return nil
}
