package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/cloo-solutions/profundo/internal/cli"
	"github.com/cloo-solutions/profundo/internal/domain"
)

// ExportCmd creates the export command.
func ExportCmd() *cobra.Command {
	var (
		output string
		upload bool
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export learnings to markdown for memory search",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.Run(cmd, func(ctx context.Context, app *cli.App) error {
				path := output
				if path == "" {
					path = app.Config.ExportPath()
				}
				svc, err := app.ExportService(upload)
				if err != nil {
					return err
				}
				report, err := svc.Export(ctx, path, upload)
				if err != nil {
					return err
				}

				if cli.JSONOutput(cmd) {
					return cli.PrintJSON(report)
				}
				if report.Sessions == 0 {
					fmt.Println("No learnings to export. Run profundo harvest first.")
					return nil
				}
				fmt.Printf("Exported %d sessions (%d decisions, %d facts, %d actions) to %s\n",
					report.Sessions, report.Decisions, report.Facts, report.Actions, report.Path)
				if report.Key != "" {
					fmt.Printf("Uploaded to s3://%s/%s\n", app.Config.S3Bucket, report.Key)
					if report.URL != "" {
						fmt.Printf("Download link: %s\n", report.URL)
					}
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "Output file (default <memory-dir>/learnings.md)")
	cmd.Flags().BoolVar(&upload, "s3", false, "Also upload the export to the configured S3 bucket")

	return cmd
}

// RollupCmd creates the rollup command.
func RollupCmd() *cobra.Command {
	var date string

	cmd := &cobra.Command{
		Use:   "rollup",
		Short: "Append a daily summary to the memory log",
		Long:  "Writes a Profundo section with the day's learnings and token usage to <memory-dir>/<date>.md, replacing an earlier section.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			day, err := rollupDay(date, time.Now())
			if err != nil {
				return err
			}
			return cli.Run(cmd, func(ctx context.Context, app *cli.App) error {
				svc, err := app.ExportService(false)
				if err != nil {
					return err
				}
				report, err := svc.Rollup(ctx, day)
				if err != nil {
					return err
				}
				if cli.JSONOutput(cmd) {
					return cli.PrintJSON(report)
				}
				fmt.Printf("Rolled up %s: %d harvested sessions, %d sessions with usage -> %s\n",
					report.Date, report.Sessions, report.StatsSessions, report.Path)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&date, "date", "", "Date to roll up (YYYY-MM-DD, default yesterday)")

	return cmd
}

// rollupDay parses date, defaulting to the UTC day before now.
func rollupDay(date string, now time.Time) (time.Time, error) {
	if date == "" {
		y := now.UTC().AddDate(0, 0, -1)
		return time.Date(y.Year(), y.Month(), y.Day(), 0, 0, 0, 0, time.UTC), nil
	}
	return domain.ParseDay(date)
}
