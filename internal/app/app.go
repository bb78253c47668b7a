// Package app wires the application together from configuration and owns the
// lifecycle of the shared resources.
package app

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/a-marczewski/ragpipe/internal/api"
	"github.com/a-marczewski/ragpipe/internal/cache"
	"github.com/a-marczewski/ragpipe/internal/classify"
	"github.com/a-marczewski/ragpipe/internal/config"
	"github.com/a-marczewski/ragpipe/internal/eval"
	"github.com/a-marczewski/ragpipe/internal/judge"
	"github.com/a-marczewski/ragpipe/internal/llm"
	"github.com/a-marczewski/ragpipe/internal/memory"
	"github.com/a-marczewski/ragpipe/internal/pipeline"
	"github.com/a-marczewski/ragpipe/internal/retrieval"
	"github.com/a-marczewski/ragpipe/internal/router"
	"github.com/a-marczewski/ragpipe/internal/storage"
)

// App is the assembled application.
type App struct {
	Config    *config.Config
	Logger    *zap.Logger
	Cache     *cache.Cache
	Pipeline  *pipeline.Pipeline
	Router    *router.Router
	Retriever retrieval.Retriever
	Server    *api.Server

	db *storage.DB
}

// New builds the application from configuration.
func New(cfg *config.Config, logger *zap.Logger) (*App, error) {
	db, err := storage.Open(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open storage: %w", err)
	}

	answerCache, err := cache.New(db, cfg.CacheL1MaxEntries, cfg.CacheL1TTL, cfg.DocSetVersion, logger)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to build cache: %w", err)
	}

	registry := llm.NewRegistry(cfg, logger)

	generationModel := cfg.GenerationModel
	if generationModel == "" {
		generationModel = firstAvailable(cfg, registry)
	}
	judgeModel := cfg.JudgeModel
	if judgeModel == "" {
		judgeModel = generationModel
	}

	qualityJudge := judge.New(llm.Bind(registry, judgeModel), logger)
	classifier := classify.New(cfg.SimpleThreshold, cfg.MediumThreshold, cfg.TierModels)
	modelRouter := router.New(classifier, registry, qualityJudge, cfg.FallbackChain, cfg.MinQualityScore, logger)

	retriever := retrieval.NewKNNClient(cfg.RetrievalBaseURL, cfg.RetrievalTimeout)
	shortTerm := memory.NewShortTerm(cfg.ShortTermMaxMessages)
	longTerm := memory.NewLongTerm(db, logger)
	evalLog := eval.NewLogger(logger)

	pipe := pipeline.New(answerCache, retriever, llm.Bind(registry, generationModel), qualityJudge,
		shortTerm, longTerm, evalLog,
		pipeline.Options{
			TopK:             cfg.RetrievalTopK,
			MaxTokens:        cfg.GenerationMaxTokens,
			QualityThreshold: cfg.QualityThreshold,
			EnableFallback:   cfg.EnableFallback,
			JudgeFailure:     cfg.JudgeFailure,
		}, logger)

	server := api.New(cfg.ServerPort, pipe, modelRouter, retriever, answerCache, cfg.RetrievalTopK, logger)

	return &App{
		Config:    cfg,
		Logger:    logger,
		Cache:     answerCache,
		Pipeline:  pipe,
		Router:    modelRouter,
		Retriever: retriever,
		Server:    server,
		db:        db,
	}, nil
}

// Close releases the application's resources.
func (a *App) Close() error {
	a.Cache.Wait()
	a.Cache.Close()
	return a.db.Close()
}

// Shutdown stops the HTTP server and then releases resources.
func (a *App) Shutdown(ctx context.Context) error {
	if err := a.Server.Shutdown(ctx); err != nil {
		a.Logger.Warn("server shutdown error", zap.Error(err))
	}
	return a.Close()
}

func firstAvailable(cfg *config.Config, registry *llm.Registry) string {
	for _, name := range cfg.ModelNames() {
		if registry.Available(name) {
			return name
		}
	}
	return ""
}
