// Command linkdeck serves the links bookmark/activity tracker: a REST API
// over a persistence coordinator with a configurable storage backend, plus
// an embedded single-page front end.
package main

import (
	"context"
	"embed"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/hazyhaar/linkdeck/api"
	"github.com/hazyhaar/linkdeck/config"
	"github.com/hazyhaar/linkdeck/coordinator"
	"github.com/hazyhaar/linkdeck/shield"
	"github.com/hazyhaar/linkdeck/storage"
	"github.com/hazyhaar/linkdeck/storage/bolt"
	"github.com/hazyhaar/linkdeck/storage/file"
	"github.com/hazyhaar/linkdeck/storage/gist"
	"github.com/hazyhaar/linkdeck/storage/sqlite"
)

//go:embed static
var staticFS embed.FS

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("configuration", "error", err)
		os.Exit(1)
	}

	// Logging.
	var lvl slog.Level
	switch cfg.LogLevel {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(logger)

	// Signal context.
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	backend, closeBackend, err := buildBackend(cfg)
	if err != nil {
		slog.Error("backend", "backend", cfg.Backend, "error", err)
		os.Exit(1)
	}
	if closeBackend != nil {
		defer closeBackend()
	}
	slog.Info("backend ready", "backend", cfg.Backend)

	coord := coordinator.New(ctx, backend, coordinator.Options{
		MaxAttempts:  cfg.SaveAttempts,
		Backoff:      cfg.SaveBackoff.Std(),
		StaleAfter:   cfg.StaleAfter.Std(),
		RefreshEvery: cfg.RefreshEvery.Std(),
		Logger:       logger,
	})
	go coord.Run(ctx)

	svc := api.New(coord, logger, api.WithActivityCap(cfg.ActivityCap))

	// Router.
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	for _, mw := range shield.DefaultStack() {
		r.Use(mw)
	}
	svc.RegisterHTTP(r)

	// SPA: index.html at the root, assets under /static/.
	r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		f, err := staticFS.Open("static/index.html")
		if err != nil {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		defer f.Close()
		io.Copy(w, f)
	})
	r.Handle("/static/*", http.FileServer(http.FS(staticFS)))

	srv := &http.Server{
		Addr:         cfg.Addr,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		slog.Info("linkdeck listening", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server", "error", err)
			cancel()
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown", "error", err)
	}
	slog.Info("stopped")
}

// buildBackend constructs the storage backend selected by configuration.
// The returned close func is nil for backends without a handle to release.
func buildBackend(cfg config.Config) (storage.Backend, func() error, error) {
	switch cfg.Backend {
	case "file":
		return file.New(cfg.File.Path), nil, nil
	case "gist":
		var opts []gist.Option
		if cfg.Gist.APIBase != "" {
			opts = append(opts, gist.WithBaseURL(cfg.Gist.APIBase))
		}
		if cfg.Gist.Filename != "" {
			opts = append(opts, gist.WithFilename(cfg.Gist.Filename))
		}
		return gist.New(cfg.Gist.ID, cfg.Gist.Token, opts...), nil, nil
	case "sqlite":
		s, err := sqlite.Open(cfg.SQLite.Path, sqlite.WithMkdirAll())
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	case "bolt":
		s, err := bolt.Open(cfg.Bolt.Path)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}
}
