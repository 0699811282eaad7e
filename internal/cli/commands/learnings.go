package commands

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cloo-solutions/profundo/internal/cli"
	"github.com/cloo-solutions/profundo/internal/domain"
)

// LearningsCmd creates the learnings command.
func LearningsCmd() *cobra.Command {
	var last int

	cmd := &cobra.Command{
		Use:   "learnings [query]",
		Short: "Search extracted learnings",
		Long:  "Lists the most recent harvests, optionally filtered by a case-insensitive substring of topics, summaries, facts or decisions.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := ""
			if len(args) == 1 {
				query = args[0]
			}
			return cli.Run(cmd, func(ctx context.Context, app *cli.App) error {
				return runLearnings(app, query, last, cli.JSONOutput(cmd))
			})
		},
	}

	cmd.Flags().IntVarP(&last, "last", "n", 10, "Show last N harvests")

	return cmd
}

type harvestView struct {
	SessionID string   `json:"session_id"`
	Date      string   `json:"date"`
	Topics    []string `json:"topics,omitempty"`
	Decisions []string `json:"decisions,omitempty"`
	Facts     []string `json:"facts,omitempty"`
	Actions   []string `json:"action_items,omitempty"`
	Summary   string   `json:"summary,omitempty"`
}

func runLearnings(app *cli.App, query string, last int, outputJSON bool) error {
	records, err := app.Learnings.Search(query, 0)
	if err != nil {
		return err
	}

	views := groupHarvests(records)
	if last > 0 && len(views) > last {
		views = views[len(views)-last:]
	}

	if outputJSON {
		return cli.PrintJSON(views)
	}

	suffix := ""
	if query != "" {
		suffix = fmt.Sprintf(" matching '%s'", query)
	}
	if len(views) == 0 {
		fmt.Printf("No learnings found%s. Run profundo harvest first.\n", suffix)
		return nil
	}

	fmt.Printf("%d learnings%s\n\n", len(views), suffix)
	for _, v := range views {
		fmt.Printf("● %s [%s]\n", v.Date, shortID(v.SessionID))
		if len(v.Topics) > 0 {
			fmt.Printf("  Topics: %s\n", strings.Join(v.Topics, ", "))
		}
		printBullets("Decisions", v.Decisions)
		printBullets("Facts", v.Facts)
		printBullets("Actions", v.Actions)
		if v.Summary != "" {
			fmt.Printf("  Summary: %s\n", v.Summary)
		}
		fmt.Println()
	}
	return nil
}

// groupHarvests folds records back into one view per harvest, in log
// order. Topics come from the tags shared by a harvest's records.
func groupHarvests(records []domain.LearningRecord) []*harvestView {
	var views []*harvestView
	index := make(map[string]*harvestView)
	for _, r := range records {
		v, ok := index[r.HarvestID]
		if !ok {
			v = &harvestView{SessionID: r.SessionID, Date: r.Date()}
			index[r.HarvestID] = v
			views = append(views, v)
		}
		switch r.Kind {
		case domain.LearningKindTopic:
			v.Topics = append(v.Topics, r.Text)
		case domain.LearningKindDecision:
			v.Decisions = append(v.Decisions, r.Text)
		case domain.LearningKindFact:
			v.Facts = append(v.Facts, r.Text)
		case domain.LearningKindActionItem:
			v.Actions = append(v.Actions, r.Text)
		case domain.LearningKindSummary:
			v.Summary = r.Text
		}
	}
	return views
}

func printBullets(title string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Printf("  %s:\n", title)
	for _, item := range items {
		fmt.Printf("    • %s\n", item)
	}
}
