package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"isocity/server/config"
	"isocity/server/handlers"
	"isocity/server/persistence"
	"isocity/server/services"
)

func main() {
	configPath := flag.String("config", "", "path to the YAML config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		slog.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := setupLogging(cfg.Log); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := persistence.Open(ctx, cfg.Storage)
	if err != nil {
		return err
	}
	defer db.Close()
	slog.Info("persistence initialized", "type", cfg.Storage.Type)

	world, err := services.OpenWorldService(ctx, services.WorldOptions{
		WorldID:    cfg.World.ID,
		Seed:       cfg.World.Seed,
		ChunkSize:  cfg.World.ChunkSize,
		GridWidth:  cfg.World.GridWidth,
		GridHeight: cfg.World.GridHeight,
	}, db, services.NewAtlasRenderer(services.DefaultAtlas()))
	if err != nil {
		return err
	}

	players := services.NewPlayerService(world, services.PlayerOptions{
		SpawnX:     cfg.World.SpawnX,
		SpawnY:     cfg.World.SpawnY,
		ViewRadius: cfg.World.ViewRadius,
	})

	mux := http.NewServeMux()
	mux.Handle("/ws", handlers.NewServer(world, players, handlers.NewClientManager()))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("server starting", "addr", srv.Addr, "world", cfg.World.ID)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return world.RunAutosave(gctx, cfg.World.AutosaveInterval)
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	runErr := g.Wait()

	saveCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := world.Close(saveCtx); err != nil {
		slog.Error("final save", "error", err)
		runErr = errors.Join(runErr, err)
	}
	slog.Info("server stopped")
	return runErr
}

func setupLogging(cfg config.LogConfig) error {
	level, err := cfg.SlogLevel()
	if err != nil {
		return err
	}

	opts := &slog.HandlerOptions{Level: level}
	var h slog.Handler
	if cfg.Format == "json" {
		h = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		h = slog.NewTextHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(h))
	return nil
}
