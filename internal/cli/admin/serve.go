package admin

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/cloo-solutions/profundo/internal/api/handlers"
	"github.com/cloo-solutions/profundo/internal/cli"
	"github.com/cloo-solutions/profundo/internal/jobs"
	"github.com/cloo-solutions/profundo/internal/server"
)

const shutdownTimeout = 30 * time.Second

// ServeCmd returns the serve command
func ServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the recall API and background indexer",
		Long: `Serves recall, learnings and status over HTTP while keeping the index
current: sessions are re-indexed on an interval and shortly after a
transcript changes.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.Run(cmd, func(ctx context.Context, app *cli.App) error {
				return runServe(ctx, cmd, app)
			})
		},
	}

	cmd.Flags().StringP("port", "p", "", "Port to listen on (overrides PROFUNDO_PORT)")
	cmd.Flags().Duration("interval", 0, "Index interval (overrides PROFUNDO_INDEX_INTERVAL)")
	cmd.Flags().Bool("no-watch", false, "Do not watch the sessions directory for changes")

	return cmd
}

func runServe(ctx context.Context, cmd *cobra.Command, app *cli.App) error {
	cfg := app.Config
	logger := app.Logger

	if v, _ := cmd.Flags().GetString("port"); v != "" {
		cfg.Port = v
	}
	if v, _ := cmd.Flags().GetDuration("interval"); v > 0 {
		cfg.IndexInterval = v
	}
	if !cfg.HasAPIKey() {
		return errors.New("no API key configured: set PROFUNDO_API_KEY or OPENROUTER_API_KEY")
	}

	indexSvc, err := app.IndexService()
	if err != nil {
		return err
	}
	recallSvc, err := app.RecallService()
	if err != nil {
		return err
	}
	statusSvc, err := app.StatusService()
	if err != nil {
		return err
	}

	worker := jobs.NewWorker(jobs.NewIndexWorker(indexSvc, logger), cfg.IndexInterval, logger)

	router := server.NewRouter(server.RouterConfig{
		Logger:           logger,
		RecallHandler:    handlers.NewRecallHandler(recallSvc),
		LearningsHandler: handlers.NewLearningsHandler(app.Learnings),
		StatusHandler:    handlers.NewStatusHandler(statusSvc, worker),
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		worker.Start(gctx)
		return nil
	})

	if noWatch, _ := cmd.Flags().GetBool("no-watch"); !noWatch {
		watcher := jobs.NewSessionWatcher(cfg.SessionsDir, cfg.WatchDebounce, worker.Trigger, logger)
		g.Go(func() error {
			if err := watcher.Run(gctx); err != nil {
				// the interval worker still keeps the index current
				logger.Warn("session watcher stopped", zap.Error(err))
			}
			return nil
		})
	}

	g.Go(func() error {
		logger.Info("starting server",
			zap.String("port", cfg.Port),
			zap.String("sessions_dir", cfg.SessionsDir),
			zap.String("backend", cfg.VectorBackend))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server forced to shutdown: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("server exited")
	return nil
}
