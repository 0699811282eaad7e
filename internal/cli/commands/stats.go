package commands

import (
	"context"
	"fmt"
	"sort"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/cloo-solutions/profundo/internal/cli"
	"github.com/cloo-solutions/profundo/internal/domain"
	"github.com/cloo-solutions/profundo/internal/service"
	"github.com/cloo-solutions/profundo/internal/transcript"
)

const recentDays = 7

// StatsCmd creates the stats command.
func StatsCmd() *cobra.Command {
	var since, until string

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show token usage and cost statistics",
		Long:  "Aggregates per-message usage accounting from session transcripts by model and by day.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			from, err := domain.ParseDay(since)
			if err != nil {
				return err
			}
			to, err := domain.ParseDay(until)
			if err != nil {
				return err
			}
			return cli.Run(cmd, func(ctx context.Context, app *cli.App) error {
				report, err := app.StatsService().Usage(ctx, from, to)
				if err != nil {
					return err
				}
				if cli.JSONOutput(cmd) {
					return cli.PrintJSON(report)
				}
				printStats(report)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&since, "since", "", "Start date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&until, "until", "", "End date (YYYY-MM-DD, inclusive)")

	return cmd
}

func printStats(r *service.UsageReport) {
	if r.Sessions == 0 {
		fmt.Println("No usage data found.")
		return
	}

	t := r.Total
	fmt.Printf("Token usage: %s sessions, %s messages (%s to %s)\n\n",
		humanize.Comma(int64(r.Sessions)), humanize.Comma(int64(t.MessageCount)), r.FirstDate, r.LastDate)

	fmt.Println("Tokens")
	fmt.Printf("  Input:        %s\n", humanize.Comma(t.InputTokens))
	fmt.Printf("  Output:       %s\n", humanize.Comma(t.OutputTokens))
	fmt.Printf("  Cache read:   %s\n", humanize.Comma(t.CacheReadTokens))
	fmt.Printf("  Cache write:  %s\n", humanize.Comma(t.CacheWriteTokens))
	fmt.Printf("  Total:        %s\n", humanize.Comma(t.TotalTokens))
	fmt.Printf("  Cache hit:    %.1f%%\n\n", t.CacheHitRate()*100)

	fmt.Println("Costs")
	fmt.Printf("  Input:        $%.4f\n", t.InputCost)
	fmt.Printf("  Output:       $%.4f\n", t.OutputCost)
	fmt.Printf("  Cache read:   $%.4f\n", t.CacheReadCost)
	fmt.Printf("  Cache write:  $%.4f\n", t.CacheWriteCost)
	fmt.Printf("  Total:        $%.4f\n\n", t.TotalCost)

	fmt.Println("By model")
	for _, model := range sortedByCost(r.ByModel) {
		m := r.ByModel[model]
		fmt.Printf("  %-36s %10s tokens  $%.4f\n", model, humanize.Comma(m.TotalTokens), m.TotalCost)
	}

	dates := make([]string, 0, len(r.ByDate))
	for d := range r.ByDate {
		dates = append(dates, d)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(dates)))
	if len(dates) > recentDays {
		dates = dates[:recentDays]
	}
	fmt.Println("\nRecent days")
	for _, d := range dates {
		day := r.ByDate[d]
		fmt.Printf("  %s  %10s tokens  $%.4f\n", d, humanize.Comma(day.TotalTokens), day.TotalCost)
	}
}

func sortedByCost(stats map[string]transcript.TokenStats) []string {
	keys := make([]string, 0, len(stats))
	for k := range stats {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if stats[keys[i]].TotalCost != stats[keys[j]].TotalCost {
			return stats[keys[i]].TotalCost > stats[keys[j]].TotalCost
		}
		return keys[i] < keys[j]
	})
	return keys
}
