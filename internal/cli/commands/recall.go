package commands

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/cloo-solutions/profundo/internal/cli"
	"github.com/cloo-solutions/profundo/internal/domain"
	"github.com/cloo-solutions/profundo/internal/service"
)

const previewRunes = 300

type recallFlags struct {
	limit     int
	expand    bool
	threshold float64
	since     string
	until     string
	policy    string
}

// RecallCmd creates the recall command.
func RecallCmd() *cobra.Command {
	var f recallFlags

	cmd := &cobra.Command{
		Use:   "recall <query>",
		Short: "Search memory for similar content",
		Long: `Embeds the query and ranks stored conversation chunks by cosine
similarity, merged with keyword-matched learnings from harvest.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := strings.Join(args, " ")
			return cli.Run(cmd, func(ctx context.Context, app *cli.App) error {
				return runRecall(ctx, app, query, f, cli.JSONOutput(cmd))
			})
		},
	}

	cmd.Flags().IntVarP(&f.limit, "top-k", "n", service.DefaultRecallK, "Number of results to return")
	cmd.Flags().BoolVar(&f.expand, "expand", false, "Also search keyword and sub-question variants of the query")
	cmd.Flags().Float64VarP(&f.threshold, "threshold", "t", 0, "Minimum similarity for conversation results (-1.0 - 1.0)")
	cmd.Flags().StringVar(&f.since, "since", "", "Only include results from this day on (YYYY-MM-DD)")
	cmd.Flags().StringVar(&f.until, "until", "", "Only include results up to this day (YYYY-MM-DD)")
	cmd.Flags().StringVar(&f.policy, "policy", string(domain.FusionMinMax), "Score fusion policy: minmax or rank")

	return cmd
}

func runRecall(ctx context.Context, app *cli.App, query string, f recallFlags, outputJSON bool) error {
	since, until, err := domain.DayRange(f.since, f.until)
	if err != nil {
		return err
	}
	policy, err := domain.ParseFusionPolicy(f.policy)
	if err != nil {
		return err
	}

	svc, err := app.RecallService()
	if err != nil {
		return err
	}

	result, err := svc.Recall(ctx, domain.Query{
		Text:     query,
		Expand:   f.expand,
		K:        f.limit,
		Since:    since,
		Until:    until,
		MinScore: f.threshold,
		Policy:   policy,
	})
	if err != nil {
		return err
	}

	if outputJSON {
		return cli.PrintJSON(result)
	}
	printRecall(result)
	return nil
}

func printRecall(result *service.RecallResult) {
	if len(result.Items) == 0 {
		fmt.Printf("No results for %q (%d chunks searched).\n", result.Query, result.Scanned)
		return
	}

	fmt.Printf("Found %d results for %q (%s chunks searched):\n\n",
		len(result.Items), result.Query, humanize.Comma(int64(result.Scanned)))
	if len(result.Variants) > 0 {
		fmt.Printf("Also searched: %s\n\n", strings.Join(result.Variants, " | "))
	}

	for i, item := range result.Items {
		switch {
		case item.Chunk != nil:
			fmt.Printf("%d. [%.3f] %s  %s\n", item.Rank, item.RawScore, item.Chunk.ID(), formatDay(item))
			fmt.Printf("   %s\n", indent(preview(item.Chunk.Text)))
		case item.Learning != nil:
			fmt.Printf("%d. [learning %s] %s  %s\n", item.Rank, item.Learning.Kind, shortID(item.Learning.SessionID), item.Learning.Date())
			fmt.Printf("   %s\n", indent(preview(item.Learning.Text)))
		}
		if i < len(result.Items)-1 {
			fmt.Println(strings.Repeat("-", 40))
		}
	}
}

func formatDay(item domain.ResultItem) string {
	ts := item.Timestamp()
	if ts.IsZero() {
		return ""
	}
	return ts.UTC().Format(domain.DayLayout)
}

func preview(text string) string {
	text = strings.TrimSpace(text)
	if utf8.RuneCountInString(text) <= previewRunes {
		return text
	}
	runes := []rune(text)
	return string(runes[:previewRunes-3]) + "..."
}

func indent(text string) string {
	return strings.ReplaceAll(text, "\n", "\n   ")
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
