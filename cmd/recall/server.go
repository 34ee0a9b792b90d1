package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/kalambet/recall/internal/api"
	"github.com/kalambet/recall/internal/chunk"
	"github.com/kalambet/recall/internal/config"
	"github.com/kalambet/recall/internal/embed"
	"github.com/kalambet/recall/internal/inference"
	"github.com/kalambet/recall/internal/ingest"
	"github.com/kalambet/recall/internal/profile"
	"github.com/kalambet/recall/internal/search"
	"github.com/kalambet/recall/internal/storage"
	"github.com/kalambet/recall/internal/vector"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the recall server and ingestion worker (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show recall system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus()
	},
}

func runServer() error {
	fmt.Fprintf(os.Stderr, "recall version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logLevel := slog.LevelInfo
	if strings.EqualFold(cfg.Log.Level, "debug") {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Check inference engine readiness. Missing models are a warning, not a
	// hard failure: the embed model only matters once something is ingested.
	engine := inference.New(cfg.Engine.BaseURL, inference.Models{
		Embed:  cfg.Engine.EmbedModel,
		Vision: cfg.Engine.VisionModel,
		Rerank: cfg.Engine.RerankModel,
	}, 0)
	if !engine.IsRunning(ctx) {
		return fmt.Errorf("inference engine not reachable at %s", cfg.Engine.BaseURL)
	}
	for _, model := range []string{cfg.Engine.EmbedModel, cfg.Engine.VisionModel, cfg.Engine.RerankModel} {
		if !engine.HasModel(ctx, model) {
			slog.Warn("model not available in engine", "model", model)
		}
	}

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
		}
	}()

	index := vector.NewSQLiteIndex(store.DB())
	profiles := profile.NewProvider(store)
	engineSearch := search.NewEngine(engine, index, store, engine, profiles)

	handler := api.NewHandler(api.AppDeps{
		Store:         store,
		Search:        engineSearch,
		Profile:       profiles,
		Embedder:      engine,
		Vectors:       index,
		RerankDefault: cfg.Search.RerankEnabled,
	})

	poll, err := time.ParseDuration(cfg.Worker.PollInterval)
	if err != nil {
		slog.Warn("invalid worker poll interval, using default 500ms", "value", cfg.Worker.PollInterval, "error", err)
		poll = 500 * time.Millisecond
	}
	worker := ingest.NewWorker(store, engine, index, ingest.Options{
		Poll: poll,
		Chunking: chunk.Config{
			MaxTokensPerChunk: cfg.Chunking.MaxTokens,
			OverlapTokens:     cfg.Chunking.OverlapTokens,
			MinChunkSize:      cfg.Chunking.MinChunkSize,
		},
		Embedding: embed.Config{
			Model:          cfg.Engine.EmbedModel,
			MaxInputLength: cfg.Embedding.MaxInputLength,
		},
		HTTPClient: &http.Client{Timeout: 15 * time.Second},
	})
	go worker.Run(ctx)

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: handler,
	}

	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "recall listening on %s\n", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func showStatus() error {
	cfg, err := config.Load()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}

	serverURL := fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port)
	client := &http.Client{Timeout: 2 * time.Second}

	resp, err := client.Get(serverURL + "/health")
	if err != nil {
		printStatus("Server", "stopped")
	} else {
		resp.Body.Close()
		if resp.StatusCode == 200 {
			printStatus("Server", "running on port %d", cfg.Server.Port)
		} else {
			printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		}
	}

	engineResp, err := client.Get(cfg.Engine.BaseURL + "/api/version")
	if err != nil {
		printStatus("Engine", "not running")
	} else {
		engineResp.Body.Close()
		printStatus("Engine", "running at %s", cfg.Engine.BaseURL)
	}

	printStatus("Embed model", "%s", cfg.Engine.EmbedModel)
	printStatus("Vision model", "%s", cfg.Engine.VisionModel)
	printStatus("Rerank model", "%s", cfg.Engine.RerankModel)
	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}
