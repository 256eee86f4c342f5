package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fathomlabs/fathomd/internal/changeset"
	"github.com/fathomlabs/fathomd/internal/config"
	"github.com/fathomlabs/fathomd/internal/embeddings"
	fathomhttp "github.com/fathomlabs/fathomd/internal/http"
	"github.com/fathomlabs/fathomd/internal/ingest"
	"github.com/fathomlabs/fathomd/internal/logging"
	"github.com/fathomlabs/fathomd/internal/metastore"
	"github.com/fathomlabs/fathomd/internal/query"
	"github.com/fathomlabs/fathomd/internal/reranker"
	"github.com/fathomlabs/fathomd/internal/scope"
	"github.com/fathomlabs/fathomd/internal/status"
	"github.com/fathomlabs/fathomd/internal/telemetry"
	"github.com/fathomlabs/fathomd/internal/vectorstore"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the fathomd daemon",
	Long: `Start the HTTP API server with full service initialization:
PostgreSQL metastore, Qdrant vector store, embedding services and the
retrieval engine.

Examples:
  # Start with defaults
  fathomd serve

  # Configure via environment
  SERVER_PORT=9700 QDRANT_HOST=qdrant fathomd serve

  # Use an explicit config file
  fathomd serve --config /etc/fathomd/config.yaml`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()
		return runServe(ctx)
	},
}

func init() {
	serveCmd.Flags().StringVar(&configPath, "config", "", "config file path (default ~/.config/fathomd/config.yaml)")
}

// runServe wires every service and blocks until the context is canceled.
func runServe(ctx context.Context) error {
	cfg, err := config.LoadWithFile(configPath)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	defer func() {
		_ = logging.Sync(logger)
	}()

	logger.Info("starting fathomd",
		zap.String("version", version),
		zap.Int("port", cfg.Server.Port),
		zap.Bool("hybrid", cfg.Search.EnableHybrid),
		zap.Bool("rerank", cfg.Search.EnableRerank),
	)

	shutdownTracing, err := telemetry.Setup(ctx, telemetry.Config{
		Enabled:     cfg.Telemetry.Enabled,
		Endpoint:    cfg.Telemetry.Endpoint,
		ServiceName: cfg.Telemetry.ServiceName,
	})
	if err != nil {
		return fmt.Errorf("initializing telemetry: %w", err)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.Warn("trace shutdown failed", zap.Error(err))
		}
	}()

	registry := prometheus.NewRegistry()

	pool, err := pgxpool.New(ctx, cfg.Postgres.DSN)
	if err != nil {
		return fmt.Errorf("connecting to postgres: %w", err)
	}
	defer pool.Close()

	store := metastore.New(pool, logger)
	if err := store.Init(ctx); err != nil {
		return fmt.Errorf("initializing metastore schema: %w", err)
	}
	logger.Info("metastore ready")

	vectors, err := vectorstore.New(vectorstore.Config{
		Host:          cfg.Qdrant.Host,
		Port:          cfg.Qdrant.Port,
		UseTLS:        cfg.Qdrant.UseTLS,
		MaxRetries:    cfg.Qdrant.MaxRetries,
		SearchTimeout: cfg.Qdrant.SearchTimeout,
	}, logger)
	if err != nil {
		return fmt.Errorf("connecting to qdrant: %w", err)
	}
	defer func() {
		if err := vectors.Close(); err != nil {
			logger.Warn("closing qdrant connection failed", zap.Error(err))
		}
	}()
	logger.Info("vector store ready",
		zap.String("host", cfg.Qdrant.Host),
		zap.Int("port", cfg.Qdrant.Port),
	)

	embedMetrics := embeddings.NewMetrics(registry)
	dense, err := embeddings.NewTEI(embeddings.TEIConfig{
		BaseURL:   cfg.Embedding.BaseURL,
		Model:     cfg.Embedding.Model,
		Dimension: cfg.Embedding.Dimension,
		Timeout:   cfg.Embedding.Timeout,
	}, embedMetrics)
	if err != nil {
		return fmt.Errorf("creating dense embedder: %w", err)
	}

	var sparse embeddings.Sparse
	if cfg.Sparse.Enabled {
		splade, err := embeddings.NewSplade(embeddings.SpladeConfig{
			BaseURL: cfg.Sparse.BaseURL,
			Model:   cfg.Sparse.Model,
			Timeout: cfg.Sparse.Timeout,
		}, embedMetrics)
		if err != nil {
			return fmt.Errorf("creating sparse encoder: %w", err)
		}
		sparse = splade
	}

	coordinator, err := embeddings.NewCoordinator(dense, sparse, embeddings.CoordinatorConfig{
		BatchSize:            cfg.Embedding.BatchSize,
		MaxConcurrentBatches: cfg.Embedding.MaxConcurrentBatches,
		MaxChunks:            cfg.Chunk.MaxPerSource,
	}, logger)
	if err != nil {
		return fmt.Errorf("creating embedding coordinator: %w", err)
	}
	logger.Info("embedding services ready",
		zap.String("model", cfg.Embedding.Model),
		zap.Int("dimension", dense.Dimension()),
		zap.Bool("sparse", sparse != nil),
	)

	rr := buildReranker(cfg, logger)

	detector := changeset.NewDetector(nil)
	detector.MaxFileSize = cfg.Chunk.MaxFileSize

	orchestrator, err := ingest.New(store, vectors, coordinator, detector, ingest.Config{
		ChunkSize:       cfg.Chunk.CharTarget,
		Overlap:         cfg.Chunk.CharOverlap,
		UpsertBatchSize: cfg.Chunk.BatchSize,
		MaxChunks:       cfg.Chunk.MaxPerSource,
		MaxFileSize:     cfg.Chunk.MaxFileSize,
	}, logger, ingest.NewMetrics(registry))
	if err != nil {
		return fmt.Errorf("creating ingest orchestrator: %w", err)
	}

	engine, err := query.New(scope.NewAccess(store), store, vectors, dense, sparse, rr, query.Config{
		EnableHybrid:   cfg.Search.EnableHybrid,
		EnableRerank:   cfg.Search.EnableRerank,
		InitialK:       cfg.Search.RerankInitialK,
		CandidateLimit: cfg.Search.RerankCandidateLimit,
		TextMaxChars:   cfg.Search.RerankTextMaxChars,
		DenseWeight:    cfg.Search.DenseWeight,
		SparseWeight:   cfg.Search.SparseWeight,
	}, logger, query.NewMetrics(registry))
	if err != nil {
		return fmt.Errorf("creating query engine: %w", err)
	}

	checker, err := status.New(store, detector, logger)
	if err != nil {
		return fmt.Errorf("creating status service: %w", err)
	}

	cleaner, err := ingest.NewCleaner(store, vectors, logger)
	if err != nil {
		return fmt.Errorf("creating cleaner: %w", err)
	}

	srv, err := fathomhttp.NewServer(fathomhttp.Deps{
		Query:    engine,
		Indexer:  orchestrator,
		Status:   checker,
		Clearer:  cleaner,
		Gatherer: registry,
	}, logger, &fathomhttp.Config{
		Host: cfg.Server.Host,
		Port: cfg.Server.Port,
	})
	if err != nil {
		return fmt.Errorf("creating http server: %w", err)
	}

	// Surface index-state churn from database triggers in the logs.
	listener := metastore.NewStatsListener(pool, logger)
	go func() {
		err := listener.Listen(ctx, func(update metastore.StatsUpdate) {
			logger.Debug("index stats changed",
				zap.String("table", update.Table),
				zap.String("op", update.Op),
				zap.String("dataset_id", update.DatasetID),
			)
		})
		if err != nil {
			logger.Warn("stats listener stopped", zap.Error(err))
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down http server: %w", err)
	}
	logger.Info("shutdown complete")
	return nil
}

// buildReranker selects the cross-encoder service when configured, falling
// back to the in-process lexical reranker.
func buildReranker(cfg *config.Config, logger *zap.Logger) reranker.Reranker {
	if cfg.Rerank.BaseURL == "" {
		logger.Info("no rerank service configured, using lexical reranker")
		return reranker.NewLexical()
	}
	rr, err := reranker.NewTEI(reranker.TEIConfig{
		BaseURL:      cfg.Rerank.BaseURL,
		TextMaxChars: cfg.Search.RerankTextMaxChars,
		Timeout:      cfg.Rerank.Timeout,
	})
	if err != nil {
		logger.Warn("rerank service rejected, using lexical reranker", zap.Error(err))
		return reranker.NewLexical()
	}
	return rr
}
