package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/spf13/cobra"

	api "github.com/mind-engage/mindengage-cat/internal/api/http"
	"github.com/mind-engage/mindengage-cat/internal/bank"
	"github.com/mind-engage/mindengage-cat/internal/cat"
	"github.com/mind-engage/mindengage-cat/internal/config"
	"github.com/mind-engage/mindengage-cat/internal/logger"
	"github.com/mind-engage/mindengage-cat/internal/metrics"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	RunE:  runServe,
}

// routes holds what the router needs; the store behind it is chosen by serve.
type routes struct {
	Engine     api.Engine
	Abilities  cat.AbilityReader
	Importer   bank.Importer
	Ready      []api.Pinger
	OnImported func(assignmentID string)
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	log, err := logger.New(cfg.LogMode)
	if err != nil {
		return err
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	openCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	store, conn, err := openStore(openCtx, cfg)
	if err != nil {
		return err
	}
	defer conn.Close()

	locker, closeLocker, err := newLocker(openCtx, cfg, log)
	if err != nil {
		return err
	}
	defer closeLocker()

	qbank := cat.NewCachedBank(store, cfg.BankCacheTTL)
	eng := newEngine(cfg, qbank, store, locker, log)

	onImported := func(string) {}
	if cb, ok := qbank.(*cat.CachedBank); ok {
		onImported = cb.Invalidate
	}

	h := newRouter(cfg, log, routes{
		Engine:     eng,
		Abilities:  store,
		Importer:   store,
		Ready:      []api.Pinger{store},
		OnImported: onImported,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Info("catd listening", "addr", cfg.HTTPAddr, "mode", cfg.Mode, "db", cfg.DBDriver)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancelShutdown()
	return srv.Shutdown(shutdownCtx)
}

func newRouter(cfg config.Config, log *logger.Logger, rt routes) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, requestLogger(log), middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type"},
		ExposedHeaders:   []string{"Content-Length"},
		AllowCredentials: cfg.Mode == config.ModeOnline,
		MaxAge:           300,
	}))
	if cfg.MetricsEnabled {
		r.Use(metrics.Middleware)
		r.Handle("/metrics", metrics.Handler())
	}

	r.Get("/healthz", api.HealthzHandler())
	r.Get("/readyz", api.ReadyzHandler(rt.Ready...))

	r.Route("/cat", func(r chi.Router) {
		r.Post("/next-question", api.NextQuestionHandler(rt.Engine))
		r.Post("/submit", api.SubmitHandler(rt.Engine))
	})
	r.Get("/abilities/{examineeID}/{courseID}", api.GetAbilityHandler(rt.Abilities))
	r.Post("/assignments/{assignmentID}/items", api.ImportItemsHandler(rt.Importer, rt.OnImported))

	return r
}

func requestLogger(log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			log.Debug("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
				"request_id", middleware.GetReqID(r.Context()),
			)
		})
	}
}
