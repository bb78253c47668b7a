package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/a-marczewski/ragpipe/internal/app"
	"github.com/a-marczewski/ragpipe/internal/config"
	"github.com/a-marczewski/ragpipe/internal/logging"
	"github.com/a-marczewski/ragpipe/internal/router"
)

var rootCmd = &cobra.Command{
	Use:   "ragpipe",
	Short: "ragpipe - Quality-gated RAG answering service",
	Long:  `ragpipe answers questions over a document corpus with caching, model routing, and LLM-based quality gating.`,
}

var configPath string

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "ragpipe.toml", "Path to the configuration file")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(queryCmd)
	rootCmd.AddCommand(routeCmd)
	rootCmd.AddCommand(cacheCmd)
	cacheCmd.AddCommand(cacheStatsCmd)
	cacheCmd.AddCommand(cacheClearCmd)
}

func buildApp() (*app.App, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	logger, err := logging.NewLogger(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logging: %w", err)
	}
	return app.New(cfg, logger)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("ragpipe v0.1.0")
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := buildApp()
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		errCh := make(chan error, 1)
		go func() {
			errCh <- a.Server.Start()
		}()

		select {
		case <-ctx.Done():
			a.Logger.Info("shutting down")
			return a.Shutdown(context.Background())
		case err := <-errCh:
			a.Close()
			return err
		}
	},
}

var (
	queryUserID    string
	querySessionID string
)

func init() {
	queryCmd.Flags().StringVarP(&queryUserID, "user", "u", "cli", "User id attributed to the query")
	queryCmd.Flags().StringVarP(&querySessionID, "session", "s", "", "Session id (a new one is minted when empty)")
}

var queryCmd = &cobra.Command{
	Use:   "query [question]",
	Short: "Run one question through the full pipeline",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := buildApp()
		if err != nil {
			return err
		}
		defer a.Close()

		sessionID := querySessionID
		if sessionID == "" {
			sessionID = uuid.NewString()
		}

		result := a.Pipeline.Process(cmd.Context(), strings.Join(args, " "), queryUserID, sessionID)

		fmt.Println(result.Answer)
		fmt.Println()
		fmt.Printf("Session: %s\n", sessionID)
		fmt.Printf("Cache hit: %v", result.CacheHit)
		if result.CacheTier != "" {
			fmt.Printf(" (%s)", result.CacheTier)
		}
		fmt.Println()
		fmt.Printf("Quality passed: %v\n", result.QualityPassed)
		if result.Evaluation != nil {
			fmt.Printf("Judge score: %.2f\n", result.Evaluation.Score)
		}
		fmt.Printf("Processing time: %.0f ms\n", result.ProcessingTimeMS)
		for _, e := range result.Errors {
			fmt.Printf("Warning: %s\n", e)
		}
		return nil
	},
}

var routeOptimizeFor string

func init() {
	routeCmd.Flags().StringVarP(&routeOptimizeFor, "optimize", "o", router.OptimizeBalanced, "Optimization preference: cost, speed, quality, balanced")
}

var routeCmd = &cobra.Command{
	Use:   "route [question]",
	Short: "Route one question directly through the model router",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := buildApp()
		if err != nil {
			return err
		}
		defer a.Close()

		question := strings.Join(args, " ")
		docs, err := a.Retriever.Retrieve(cmd.Context(), question, a.Config.RetrievalTopK)
		if err != nil {
			a.Logger.Warn("retrieval failed, routing without documents", zap.Error(err))
		}

		result, err := a.Router.Route(cmd.Context(), question, routeOptimizeFor, docs)
		if err != nil {
			return err
		}

		fmt.Println(result.Answer)
		fmt.Println()
		fmt.Printf("Model: %s\n", result.ModelUsed)
		fmt.Printf("Score: %.2f\n", result.Score)
		fmt.Printf("Difficulty: %s (%.2f)\n", result.Classification.Difficulty, result.Classification.ComplexityScore)
		fmt.Printf("Cost: $%.6f\n", result.TotalCostUSD)
		fmt.Printf("Attempts: %d\n", len(result.Attempts))
		return nil
	},
}

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect and manage the answer cache",
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show cache statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := buildApp()
		if err != nil {
			return err
		}
		defer a.Close()

		stats := a.Cache.Stats(cmd.Context())
		out, err := json.MarshalIndent(stats, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	},
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Clear both cache tiers",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := buildApp()
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.Cache.Clear(cmd.Context()); err != nil {
			return fmt.Errorf("failed to clear cache: %w", err)
		}
		fmt.Println("Cache cleared.")
		return nil
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
