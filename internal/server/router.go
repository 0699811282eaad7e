package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/cloo-solutions/profundo/internal/api"
	"github.com/cloo-solutions/profundo/internal/api/handlers"
	"github.com/cloo-solutions/profundo/internal/api/middleware"
	"github.com/cloo-solutions/profundo/internal/metrics"
)

type RouterConfig struct {
	Logger           *zap.Logger
	RecallHandler    *handlers.RecallHandler
	LearningsHandler *handlers.LearningsHandler
	StatusHandler    *handlers.StatusHandler
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	const maxBodyBytes int64 = 1 * 1024 * 1024

	r.Use(middleware.RequestID)
	r.Use(middleware.SentryMiddleware)
	r.Use(middleware.AccessLog(cfg.Logger))
	r.Use(middleware.MaxBodyBytes(maxBodyBytes))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		api.Success(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/recall", func(r chi.Router) {
		r.Get("/", cfg.RecallHandler.Get)
		r.Post("/", cfg.RecallHandler.Post)
	})
	r.Get("/learnings", cfg.LearningsHandler.List)
	r.Get("/status", cfg.StatusHandler.Get)
	r.Post("/index", cfg.StatusHandler.Reindex)

	return r
}
