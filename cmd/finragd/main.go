package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"finrag/internal/cache"
	"finrag/internal/chunker"
	"finrag/internal/config"
	"finrag/internal/embedder"
	"finrag/internal/extractor"
	"finrag/internal/index"
	"finrag/internal/llm"
	"finrag/internal/pipeline"
	"finrag/internal/repository"
	"finrag/internal/repository/postgres"
	"finrag/internal/reranker"
	"finrag/internal/server"
	"finrag/internal/vectorstore"
)

func main() {
	logLevel := slog.LevelInfo
	if os.Getenv("LOG_LEVEL") == "debug" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	if err := run(); err != nil {
		slog.Error("failed to run server", "error", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	slog.Info("starting report Q&A service",
		"http_port", cfg.HTTPPort,
		"environment", cfg.Environment,
		"report", cfg.ReportPath,
	)

	// Chunk registry.
	db, err := postgres.New(ctx, postgres.PoolConfig{
		URL:          cfg.DatabaseURL,
		MaxConns:     cfg.DBMaxConns,
		MinConns:     cfg.DBMinConns,
		ConnLifetime: cfg.DBConnLifetime,
	})
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()
	if err := db.Migrate(ctx); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	documentRepo := postgres.NewDocumentRepo(db)
	slog.Info("connected to PostgreSQL")

	// Vector store.
	store, err := vectorstore.NewQdrantStore(ctx, cfg.QdrantGRPCURL, cfg.CollectionName)
	if err != nil {
		return fmt.Errorf("failed to connect to Qdrant: %w", err)
	}
	defer store.Close()
	slog.Info("connected to Qdrant", "collection", cfg.CollectionName)

	// Embedder with an in-process vector cache in front.
	embed := embedder.NewCachedEmbedder(embedder.NewOllamaEmbedder(embedder.OllamaConfig{
		BaseURL: cfg.OllamaURL,
		Model:   cfg.OllamaEmbeddingModel,
	}), embedder.DefaultEmbeddingCacheSize)
	slog.Info("initialized embedder", "model", cfg.OllamaEmbeddingModel)

	generator, model, err := newLLM(cfg)
	if err != nil {
		return err
	}
	slog.Info("initialized LLM", "provider", cfg.LLMProvider, "model", model)

	// Build the index before accepting traffic.
	idx := index.New(index.Config{
		Extractor: extractor.ForPath(cfg.ReportPath),
		Chunker:   chunker.New(chunker.Config{Size: cfg.ChunkSize, Overlap: cfg.ChunkOverlap}),
		Embedder:  embed,
		Store:     store,
		Documents: documentRepo,
		Logger:    slog.Default(),
	})
	if err := idx.Build(ctx, cfg.ReportPath); err != nil {
		return fmt.Errorf("failed to build index: %w", err)
	}

	var answerCache *cache.Cache[pipeline.Result]
	if cfg.CacheEnabled {
		answerCache = cache.New[pipeline.Result](cfg.CacheCapacity, cfg.CacheTTL)
	}

	pipe := pipeline.New(
		idx,
		reranker.NewScoreReranker(
			reranker.WithWeights(cfg.SimWeight, cfg.KeywordWeight, cfg.LengthWeight),
			reranker.WithIdealWords(cfg.IdealChunkWords),
		),
		generator,
		answerCache,
		pipeline.Options{
			TopNRetrieval:     cfg.TopNRetrieval,
			TopKFinal:         cfg.TopKFinal,
			MinScore:          cfg.MinScore,
			GenerationTimeout: cfg.GenerationTimeout,
			Model:             model,
			Temperature:       cfg.LLMTemperature,
			MaxTokens:         cfg.LLMMaxTokens,
			CacheEnabled:      cfg.CacheEnabled,
		},
		slog.Default(),
	)

	httpServer := server.NewHTTPServer(server.HTTPServerConfig{
		Port:           cfg.HTTPPort,
		APIKey:         cfg.APIKey,
		Logger:         slog.Default(),
		AllowedOrigins: []string{"*"}, // Configure in production
	}, pipe)

	errCh := make(chan error, 1)
	go func() {
		if err := httpServer.Start(); err != nil {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		slog.Info("received shutdown signal", "signal", sig)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("failed to shutdown HTTP server", "error", err)
	}

	slog.Info("server stopped")
	return nil
}

// newLLM selects the generation backend from config.
func newLLM(cfg *config.Config) (llm.LLM, string, error) {
	switch cfg.LLMProvider {
	case "groq":
		return llm.NewGroqClient(cfg.GroqAPIKey, llm.WithGroqModel(cfg.GroqModel)), cfg.GroqModel, nil
	case "ollama":
		return llm.NewOllamaClient(
			llm.WithBaseURL(cfg.OllamaURL),
			llm.WithModel(cfg.OllamaLLMModel),
		), cfg.OllamaLLMModel, nil
	default:
		return nil, "", fmt.Errorf("unknown LLM provider %q", cfg.LLMProvider)
	}
}

// Ensure interfaces are satisfied at compile time
var (
	_ repository.DocumentRepository = (*postgres.DocumentRepo)(nil)
	_ vectorstore.VectorStore       = (*vectorstore.QdrantStore)(nil)
	_ embedder.Embedder             = (*embedder.CachedEmbedder)(nil)
	_ llm.LLM                       = (*llm.OllamaClient)(nil)
	_ pipeline.Searcher             = (*index.Index)(nil)
)
