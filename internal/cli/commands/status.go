package commands

import (
	"context"
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/cloo-solutions/profundo/internal/cli"
	"github.com/cloo-solutions/profundo/internal/service"
)

// StatusCmd creates the status command.
func StatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show memory status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.Run(cmd, func(ctx context.Context, app *cli.App) error {
				svc, err := app.StatusService()
				if err != nil {
					return err
				}
				st, err := svc.Status(ctx)
				if err != nil {
					return err
				}
				if cli.JSONOutput(cmd) {
					return cli.PrintJSON(st)
				}
				printStatus(app, st)
				return nil
			})
		},
	}
}

func printStatus(app *cli.App, st *service.Status) {
	fmt.Println("Profundo Status")
	fmt.Println("===============")
	fmt.Printf("Memory dir:    %s\n", app.Config.MemoryDir)
	fmt.Printf("Sessions dir:  %s\n", app.Config.SessionsDir)
	fmt.Printf("Backend:       %s\n", app.Config.VectorBackend)
	fmt.Printf("API key:       %s\n", configured(app.Config.HasAPIKey()))
	fmt.Println()

	fmt.Printf("Chunks:        %s from %s sessions\n", humanize.Comma(int64(st.Chunks)), humanize.Comma(int64(st.Sessions)))
	for _, m := range st.Models {
		fmt.Printf("  %-32s %s chunks, %d dims\n", m.Model, humanize.Comma(int64(m.Chunks)), m.Dimensions)
	}
	if st.LastIndexed.IsZero() {
		fmt.Println("Last indexed:  never")
	} else {
		fmt.Printf("Last indexed:  %s\n", humanize.Time(st.LastIndexed))
	}
	fmt.Printf("Cursors:       %d embed, %d harvest\n", st.EmbedCursors, st.HarvestCursors)
	fmt.Printf("Learnings:     %s from %d sessions\n", humanize.Comma(int64(st.Learnings)), st.HarvestedSessions)
	fmt.Printf("Session logs:  %d (%s)\n", st.SessionLogs, humanize.Bytes(uint64(st.SessionLogBytes)))
}

func configured(ok bool) string {
	if ok {
		return "configured"
	}
	return "missing"
}
