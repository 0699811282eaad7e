package commands

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/cloo-solutions/profundo/internal/cli"
	"github.com/cloo-solutions/profundo/internal/domain"
	"github.com/cloo-solutions/profundo/internal/service"
)

// EmbedCmd creates the embed command.
func EmbedCmd() *cobra.Command {
	var (
		full     bool
		sessions []string
	)

	cmd := &cobra.Command{
		Use:   "embed",
		Short: "Embed session logs for semantic search",
		Long: `Chunks new conversation turns from every session log, embeds them and
stores the vectors. Already embedded turns are skipped, so running embed
repeatedly only processes what was appended since the last run.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.Run(cmd, func(ctx context.Context, app *cli.App) error {
				return runEmbed(ctx, app, service.IndexOptions{Full: full, Sessions: sessions}, cli.JSONOutput(cmd))
			})
		},
	}

	cmd.Flags().BoolVar(&full, "full", false, "Reprocess all sessions, even if already embedded")
	cmd.Flags().StringSliceVar(&sessions, "session", nil, "Only process these session ids")

	return cmd
}

func runEmbed(ctx context.Context, app *cli.App, opts service.IndexOptions, outputJSON bool) error {
	svc, err := app.IndexService()
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
		return cli.PrintJSON(newEmbedOutput(report))
	}

	if report.ChunksEmbedded == 0 && !report.Halted() {
		fmt.Printf("Up to date: %d sessions, nothing new to embed.\n", report.SessionsSeen)
	} else {
		fmt.Printf("Embedded %s\n", report)
	}
	if report.ChunksPruned > 0 {
		fmt.Printf("Pruned %d stale chunks.\n", report.ChunksPruned)
	}
	for _, h := range report.Halts {
		fmt.Printf("  halted %s at chunk %d: %v\n", h.Source, h.Position, h.Err)
	}
	fmt.Printf("Took %s\n", report.Duration.Round(time.Millisecond))

	if report.Halted() {
		return fmt.Errorf("%d sources halted", len(report.Halts))
	}
	return nil
}

type haltOutput struct {
	Source   string `json:"source"`
	Position int    `json:"position"`
	Error    string `json:"error"`
}

type embedOutput struct {
	Model           string       `json:"model"`
	SessionsSeen    int          `json:"sessions_seen"`
	SessionsIndexed int          `json:"sessions_indexed"`
	SessionsSkipped int          `json:"sessions_skipped"`
	ChunksEmbedded  int          `json:"chunks_embedded"`
	ChunksPruned    int64        `json:"chunks_pruned"`
	Halts           []haltOutput `json:"halts"`
	DurationMS      int64        `json:"duration_ms"`
}

func newEmbedOutput(r *service.IndexReport) embedOutput {
	out := embedOutput{
		Model:           r.Model,
		SessionsSeen:    r.SessionsSeen,
		SessionsIndexed: r.SessionsIndexed,
		SessionsSkipped: r.SessionsSkipped,
		ChunksEmbedded:  r.ChunksEmbedded,
		ChunksPruned:    r.ChunksPruned,
		Halts:           make([]haltOutput, 0, len(r.Halts)),
		DurationMS:      r.Duration.Milliseconds(),
	}
	for _, h := range r.Halts {
		out.Halts = append(out.Halts, haltOutput{Source: h.Source, Position: h.Position, Error: h.Err.Error()})
	}
	return out
}
