package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/p-n-ai/pai-courses/internal/authoring"
	"github.com/p-n-ai/pai-courses/internal/catalog"
	"github.com/p-n-ai/pai-courses/internal/course"
	"github.com/p-n-ai/pai-courses/internal/notify"
	"github.com/p-n-ai/pai-courses/internal/platform/cache"
	"github.com/p-n-ai/pai-courses/internal/platform/config"
	"github.com/p-n-ai/pai-courses/internal/platform/database"
	"github.com/p-n-ai/pai-courses/internal/platform/logging"
	"github.com/p-n-ai/pai-courses/internal/progress"
	"github.com/p-n-ai/pai-courses/internal/quiz"
	"github.com/p-n-ai/pai-courses/internal/report"
)

// catalogActor owns courses imported from the catalog directory.
var catalogActor = authoring.Actor{UserID: "catalog", AuthorID: "catalog"}

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	logger, err := logging.New(os.Stdout, cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		slog.Error("failed to build logger", "error", err)
		os.Exit(1)
	}
	slog.SetDefault(logger)

	// Graceful shutdown on SIGTERM/SIGINT.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
}

// app holds the wired engine services.
type app struct {
	dispatcher *notify.Dispatcher

	store     course.Store
	authoring *authoring.Service
	quizzes   *quiz.Service
	progress  *progress.Service
	reports   *report.Service

	readiness []readinessCheck
	closers   []closer
}

// closer releases one resource on shutdown.
type closer struct {
	name  string
	close func(ctx context.Context) error
}

func run(ctx context.Context, cfg *config.Config) error {
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	return a.serve(ctx, cfg)
}

// serve runs the HTTP server until ctx is done or the listener fails, and
// releases the app's resources on every return.
func (a *app) serve(ctx context.Context, cfg *config.Config) error {
	defer a.close()
	// Stops the sweep before the resources it uses are closed.
	ctx, stop := context.WithCancel(ctx)
	defer stop()

	if cfg.CatalogPath != "" {
		if err := a.importCatalog(ctx, cfg.CatalogPath); err != nil {
			return err
		}
	}
	if cfg.Engine.SweepInterval > 0 {
		go a.sweep(ctx, cfg.Engine.SweepInterval)
	}

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      newMux(a.reports, a.readiness...),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		slog.Info("server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errc:
		return err
	}
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "error", err)
	}
	return nil
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{}

	db, err := database.New(ctx, database.Options{
		URL:      cfg.Database.URL,
		MaxConns: cfg.Database.MaxConns,
		MinConns: cfg.Database.MinConns,
	})
	if err != nil {
		return nil, err
	}
	a.onClose("database", func(context.Context) error {
		db.Close()
		return nil
	})
	a.readiness = append(a.readiness, readinessCheck{name: "database", check: db.HealthCheck})

	if err := db.Migrate(ctx); err != nil {
		a.close()
		return nil, err
	}
	store, err := course.NewPostgresStore(db.Pool)
	if err != nil {
		a.close()
		return nil, err
	}
	a.store = store

	var percentages progress.Cache = progress.NopCache{}
	if cfg.Cache.Enabled {
		c, err := cache.New(ctx, cfg.Cache.URL)
		if err != nil {
			a.close()
			return nil, err
		}
		a.onClose("cache", func(context.Context) error { return c.Close() })
		a.readiness = append(a.readiness, readinessCheck{name: "cache", check: c.HealthCheck})
		percentages = c.Percentages(cfg.Cache.TTL)
	}

	var pub notify.Publisher = notify.NopPublisher{}
	switch cfg.Events.Sink {
	case config.SinkLog:
		pub = notify.LogPublisher{}
	case config.SinkPostgres:
		pub = notify.NewPostgresPublisher(db.Pool)
	}
	a.dispatcher = notify.NewDispatcher(pub, cfg.Events.Buffer)
	a.onClose("events", a.dispatcher.Close)

	a.authoring = authoring.New(authoring.Config{
		Store:         store,
		RetryAttempts: cfg.Engine.RetryAttempts,
	})
	a.progress = progress.New(progress.Config{
		Store:         store,
		Cache:         percentages,
		Events:        a.dispatcher,
		RetryAttempts: cfg.Engine.RetryAttempts,
	})
	a.quizzes = quiz.New(quiz.Config{
		Store:         store,
		Events:        a.dispatcher,
		Progress:      a.progress,
		RetryAttempts: cfg.Engine.RetryAttempts,
		AbandonGrace:  cfg.Engine.AbandonGrace,
	})
	a.reports = report.New(report.Config{Store: store, Progress: a.progress})
	return a, nil
}

// onClose registers a resource to release on shutdown. Resources close in
// reverse registration order, so the event dispatcher drains before the
// pool it publishes to is closed.
func (a *app) onClose(name string, fn func(ctx context.Context) error) {
	a.closers = append(a.closers, closer{name: name, close: fn})
}

func (a *app) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for i := len(a.closers) - 1; i >= 0; i-- {
		c := a.closers[i]
		if err := c.close(ctx); err != nil {
			slog.Warn("closing resource", "resource", c.name, "error", err)
		}
	}
	a.closers = nil
}

func (a *app) importCatalog(ctx context.Context, path string) error {
	loader, err := catalog.NewLoader(path)
	if err != nil {
		return err
	}
	im := catalog.NewImporter(catalog.ImporterConfig{Authoring: a.authoring, Store: a.store, Actor: catalogActor})
	res, err := im.ImportAll(ctx, loader.Documents())
	if err != nil {
		return fmt.Errorf("importing catalog: %w", err)
	}
	slog.Info("catalog imported", "path", path, "imported", res.Imported, "skipped", res.Skipped)
	return nil
}

// sweep finalizes abandoned quiz attempts until ctx is done.
func (a *app) sweep(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := a.quizzes.FinalizeExpired(ctx)
			if err != nil {
				slog.Warn("expired attempt sweep failed", "error", err)
				continue
			}
			if n > 0 {
				slog.Info("expired attempts finalized", "count", n)
			}
		}
	}
}
