// Package api exposes the query pipeline and router over HTTP.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/a-marczewski/ragpipe/internal/cache"
	"github.com/a-marczewski/ragpipe/internal/pipeline"
	"github.com/a-marczewski/ragpipe/internal/retrieval"
	"github.com/a-marczewski/ragpipe/internal/router"
)

const (
	defaultUserID   = "anonymous"
	shutdownTimeout = 10 * time.Second
)

// CacheAdmin is the cache surface the admin endpoints need.
type CacheAdmin interface {
	Stats(ctx context.Context) cache.Stats
	Clear(ctx context.Context) error
}

// Processor runs a query through the full pipeline.
type Processor interface {
	Process(ctx context.Context, query, userID, sessionID string) *pipeline.Result
}

// DirectRouter bypasses the pipeline: given retrieved documents and an
// optimization preference it returns the routed generation.
type DirectRouter interface {
	Route(ctx context.Context, query, optimizeFor string, docs []retrieval.Document) (*router.Result, error)
}

// Server is the HTTP front end.
type Server struct {
	httpServer *http.Server
	processor  Processor
	router     DirectRouter
	retriever  retrieval.Retriever
	cacheAdmin CacheAdmin
	topK       int
	logger     *zap.Logger
}

// New creates the HTTP server on the given port.
func New(port int, processor Processor, direct DirectRouter, retriever retrieval.Retriever,
	cacheAdmin CacheAdmin, topK int, logger *zap.Logger) *Server {
	s := &Server{
		processor:  processor,
		router:     direct,
		retriever:  retriever,
		cacheAdmin: cacheAdmin,
		topK:       topK,
		logger:     logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/query", s.handleQuery)
	mux.HandleFunc("/route", s.handleRoute)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/cache/stats", s.handleCacheStats)
	mux.HandleFunc("/cache/clear", s.handleCacheClear)

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
	}
	return s
}

// Start blocks serving HTTP until the server is shut down.
func (s *Server) Start() error {
	s.logger.Info("http server listening", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests and stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}

type queryRequest struct {
	Query     string `json:"query"`
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id"`
}

type queryResponse struct {
	*pipeline.Result
	SessionID string `json:"session_id"`
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "POST required")
		return
	}
	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return
	}
	if req.UserID == "" {
		req.UserID = defaultUserID
	}
	// A missing session id starts a new conversation.
	if req.SessionID == "" {
		req.SessionID = uuid.NewString()
	}

	result := s.processor.Process(r.Context(), req.Query, req.UserID, req.SessionID)
	writeJSON(w, http.StatusOK, queryResponse{Result: result, SessionID: req.SessionID})
}

type routeRequest struct {
	Query       string `json:"query"`
	OptimizeFor string `json:"optimize_for"`
}

func (s *Server) handleRoute(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "POST required")
		return
	}
	var req routeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return
	}
	if req.OptimizeFor == "" {
		req.OptimizeFor = router.OptimizeBalanced
	}

	docs, err := s.retriever.Retrieve(r.Context(), req.Query, s.topK)
	if err != nil {
		s.logger.Warn("retrieval failed for direct route", zap.Error(err))
		docs = nil
	}

	result, err := s.router.Route(r.Context(), req.Query, req.OptimizeFor, docs)
	if err != nil {
		if result != nil {
			// Exhaustion still carries the attempt log; surface it with the error.
			writeJSON(w, http.StatusBadGateway, map[string]any{
				"error":    err.Error(),
				"attempts": result.Attempts,
			})
			return
		}
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "GET required")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "GET required")
		return
	}
	writeJSON(w, http.StatusOK, s.cacheAdmin.Stats(r.Context()))
}

func (s *Server) handleCacheClear(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "POST required")
		return
	}
	if err := s.cacheAdmin.Clear(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to clear cache")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
