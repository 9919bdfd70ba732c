// Package api exposes the scoring, regime, and backtest components over
// HTTP/JSON and WebSocket (spec §6).
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/marcusvale/equityscore/internal/backtester"
	"github.com/marcusvale/equityscore/internal/cache"
	"github.com/marcusvale/equityscore/internal/executor"
	"github.com/marcusvale/equityscore/internal/provider"
	"github.com/marcusvale/equityscore/internal/regime"
	"github.com/marcusvale/equityscore/internal/risk"
	"github.com/marcusvale/equityscore/internal/runstore"
	"github.com/marcusvale/equityscore/internal/scorer"
	"github.com/marcusvale/equityscore/pkg/types"
)

const maxBatchSymbols = 50

// Server is the HTTP/WebSocket API server. Grounded in the teacher's
// internal/api/server.go for the overall shape (mux router, CORS via
// rs/cors, a websocket upgrader, a client registry); the route table
// and every handler are new, repointed at the scoring/backtest domain
// (spec §6) instead of crypto symbol/history/order endpoints.
type Server struct {
	logger *zap.Logger
	config *types.ServerConfig
	router *mux.Router

	prov      provider.Provider
	exec      *executor.Executor
	sc        *scorer.Scorer
	regimeSvc *regime.Service
	analysisCache *cache.Cache
	runStore  *runstore.Store
	riskLimits types.RiskLimits
	benchmark  string
	metrics    *Metrics

	httpServer *http.Server
	upgrader   websocket.Upgrader
	hub        *Hub

	mu        sync.RWMutex
	backtests map[string]*BacktestState

	healthProbe *provider.SyntheticProvider
}

// BacktestState tracks one run's lifecycle for the HTTP/WebSocket
// surface (supplemented — the teacher keeps no persisted or even
// in-memory record of completed runs beyond the process lifetime).
type BacktestState struct {
	ID        string
	Status    string // running, completed, failed, cancelled
	Cancel    context.CancelFunc
	StartedAt time.Time
	Result    *types.BacktestResult
	Err       string
}

// Deps bundles the already-constructed domain components a Server
// wires together; cmd/server owns their lifecycle.
type Deps struct {
	Provider      provider.Provider
	Executor      *executor.Executor
	Scorer        *scorer.Scorer
	RegimeService *regime.Service
	AnalysisCache *cache.Cache
	RunStore      *runstore.Store
	RiskLimits    types.RiskLimits
	Benchmark     string
}

// NewServer constructs a Server and registers its routes.
func NewServer(logger *zap.Logger, config *types.ServerConfig, deps Deps) *Server {
	s := &Server{
		logger:        logger,
		config:        config,
		router:        mux.NewRouter(),
		prov:          deps.Provider,
		exec:          deps.Executor,
		sc:            deps.Scorer,
		regimeSvc:     deps.RegimeService,
		analysisCache: deps.AnalysisCache,
		runStore:      deps.RunStore,
		riskLimits:    deps.RiskLimits,
		benchmark:     deps.Benchmark,
		metrics:       NewMetrics(),
		hub:           NewHub(logger),
		backtests:     make(map[string]*BacktestState),
		healthProbe:   provider.NewSyntheticProvider(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
	go s.hub.Run()
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(s.requestIDMiddleware)
	s.router.Use(s.metricsMiddleware)

	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
	s.router.HandleFunc("/metrics", s.metrics.Handler()).Methods("GET")

	s.router.HandleFunc("/analyze", s.handleAnalyzePost).Methods("POST")
	s.router.HandleFunc("/analyze/batch", s.handleAnalyzeBatch).Methods("POST")
	s.router.HandleFunc("/analyze/{symbol}", s.handleAnalyzeGet).Methods("GET")

	s.router.HandleFunc("/market/regime", s.handleRegime).Methods("GET")

	s.router.HandleFunc("/backtest/run", s.handleBacktestRun).Methods("POST")
	s.router.HandleFunc("/backtest", s.handleBacktestList).Methods("GET")
	s.router.HandleFunc("/backtest/{id}", s.handleBacktestGet).Methods("GET")
	s.router.HandleFunc("/backtest/{id}/trades", s.handleBacktestTrades).Methods("GET")
	s.router.HandleFunc("/backtest/{id}/cancel", s.handleBacktestCancel).Methods("POST")

	s.router.HandleFunc("/ws/backtest/{id}", s.handleBacktestWebSocket)
}

// Router exposes the underlying mux.Router, primarily for tests that
// drive the server through httptest.NewServer without a real listener.
func (s *Server) Router() *mux.Router { return s.router }

// Start runs the HTTP server until it is stopped or fails.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	handler := cors.New(cors.Options{
		AllowedOrigins:   s.allowedOrigins(),
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	}).Handler(s.router)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	s.logger.Info("starting API server", zap.String("addr", addr))
	return s.httpServer.ListenAndServe()
}

func (s *Server) allowedOrigins() []string {
	if len(s.config.AllowedOrigins) == 0 {
		return []string{"*"}
	}
	return s.config.AllowedOrigins
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.New().String()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r)
	})
}

func (s *Server) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		route := r.URL.Path
		if m, err := mux.CurrentRoute(r).GetPathTemplate(); err == nil {
			route = m
		}
		s.metrics.ObserveRequest(route, r.Method, rec.status, time.Since(start))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, requestID, reason string) {
	writeJSON(w, status, map[string]interface{}{
		"error":     reason,
		"requestId": requestID,
	})
}

// handleHealth runs a lightweight smoke call through every agent and
// reports healthy/degraded/unhealthy per spec §6's 4-of-5/3-of-5
// thresholds. It probes agents against a self-contained synthetic
// bundle rather than the configured Provider, so the health surface
// reflects agent logic itself rather than external data availability
// — mirroring original_source/core/parallel_executor.py's
// _quick_health_check, which calls each agent directly with minimal
// args rather than through the full data pipeline.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	probeBundle, err := s.healthProbe.Comprehensive(r.Context(), "HEALTHCHECK", time.Now())
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"status": "unhealthy",
			"error":  "health probe bundle could not be constructed",
		})
		return
	}

	bundle := s.exec.ExecuteAll(r.Context(), "HEALTHCHECK", probeBundle)

	agentStatus := make(map[string]string, len(bundle.Results))
	passing := 0
	for name, result := range bundle.Results {
		if result.Failed {
			agentStatus[string(name)] = "unhealthy"
			continue
		}
		agentStatus[string(name)] = "healthy"
		passing++
	}

	status := "healthy"
	code := http.StatusOK
	switch {
	case passing < 3:
		status = "unhealthy"
		code = http.StatusServiceUnavailable
	case passing == 3:
		status = "degraded"
	}

	writeJSON(w, code, map[string]interface{}{
		"status": status,
		"agents": agentStatus,
	})
}

// handleAnalyzePost handles POST /analyze {symbol}.
func (s *Server) handleAnalyzePost(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Symbol  string        `json:"symbol"`
		Weights *types.Weights `json:"weights,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Symbol == "" {
		writeError(w, http.StatusBadRequest, w.Header().Get("X-Request-ID"), "symbol is required")
		return
	}
	s.analyzeOne(w, r, req.Symbol, req.Weights)
}

// handleAnalyzeGet handles GET /analyze/{symbol}.
func (s *Server) handleAnalyzeGet(w http.ResponseWriter, r *http.Request) {
	symbol := mux.Vars(r)["symbol"]
	s.analyzeOne(w, r, symbol, nil)
}

func (s *Server) analyzeOne(w http.ResponseWriter, r *http.Request, symbol string, overrideWeights *types.Weights) {
	requestID := w.Header().Get("X-Request-ID")

	if cached, ok := s.analysisCache.Get(symbol); ok {
		s.metrics.ObserveCache(true)
		writeJSON(w, http.StatusOK, cached)
		return
	}
	s.metrics.ObserveCache(false)

	result, err := s.sc.ScoreStock(r.Context(), symbol, time.Time{}, overrideWeights)
	if err != nil {
		s.handleScoreError(w, requestID, err)
		return
	}

	s.analysisCache.Set(symbol, result)
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleScoreError(w http.ResponseWriter, requestID string, err error) {
	var unknown *provider.ErrSymbolUnknown
	switch {
	case errors.As(err, &unknown):
		writeError(w, http.StatusNotFound, requestID, "symbol unknown")
	default:
		s.logger.Error("analyze failed", zap.Error(err), zap.String("requestId", requestID))
		writeError(w, http.StatusServiceUnavailable, requestID, "provider unavailable")
	}
}

// handleAnalyzeBatch handles POST /analyze/batch {symbols[1..50]}.
func (s *Server) handleAnalyzeBatch(w http.ResponseWriter, r *http.Request) {
	requestID := w.Header().Get("X-Request-ID")

	var req struct {
		Symbols []string       `json:"symbols"`
		Weights *types.Weights `json:"weights,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Symbols) == 0 {
		writeError(w, http.StatusBadRequest, requestID, "symbols[1..50] is required")
		return
	}
	if len(req.Symbols) > maxBatchSymbols {
		writeError(w, http.StatusBadRequest, requestID, fmt.Sprintf("at most %d symbols per batch", maxBatchSymbols))
		return
	}

	outcomes := s.sc.ScoreBatch(r.Context(), req.Symbols, time.Time{}, req.Weights)

	results := make([]map[string]interface{}, 0, len(req.Symbols))
	for _, symbol := range req.Symbols {
		outcome, ok := outcomes[symbol]
		if !ok {
			continue
		}
		if outcome.Err != nil {
			results = append(results, map[string]interface{}{"symbol": symbol, "error": outcome.Err.Error()})
			continue
		}
		s.analysisCache.Set(symbol, outcome.Result)
		results = append(results, map[string]interface{}{"symbol": symbol, "result": outcome.Result})
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"results": results})
}

// handleRegime handles GET /market/regime.
func (s *Server) handleRegime(w http.ResponseWriter, r *http.Request) {
	info := s.regimeSvc.GetCurrentRegime(r.Context(), false)
	s.metrics.ObserveRegimeCacheHit(info.CacheHit)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"label":       info.Label,
		"weights":     info.Weights,
		"explanation": info.Explanation,
		"asOf":        info.AsOf,
		"cacheHit":    info.CacheHit,
		"fetchError":  info.FetchError,
	})
}

// handleBacktestRun handles POST /backtest/run: starts a backtest in the
// background and returns immediately with its ID.
func (s *Server) handleBacktestRun(w http.ResponseWriter, r *http.Request) {
	requestID := w.Header().Get("X-Request-ID")

	var config types.BacktestConfig
	if err := json.NewDecoder(r.Body).Decode(&config); err != nil {
		writeError(w, http.StatusBadRequest, requestID, "invalid backtest config")
		return
	}
	if config.ID == "" {
		config.ID = uuid.New().String()
	}
	if config.RiskLimits.MaxPortfolioDrawdown.IsZero() {
		config.RiskLimits = s.riskLimits
	}

	ctx, cancel := context.WithCancel(context.Background())
	state := &BacktestState{ID: config.ID, Status: "running", Cancel: cancel, StartedAt: time.Now()}

	s.mu.Lock()
	s.backtests[config.ID] = state
	s.mu.Unlock()

	go s.runBacktest(ctx, state, config)

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"id":      config.ID,
		"status":  "running",
		"started": state.StartedAt,
	})
}

func (s *Server) runBacktest(ctx context.Context, state *BacktestState, config types.BacktestConfig) {
	progress := make(chan types.BacktestProgress, 8)
	defer close(progress)
	go func() {
		for p := range progress {
			s.hub.PublishToChannel("backtest:"+config.ID, MsgTypeProgress, p)
		}
	}()

	riskMgr := risk.New(s.logger, config.RiskLimits)
	engine := backtester.New(s.logger, s.prov, s.sc, riskMgr, s.benchmark)
	engine.Progress = progress

	result, err := engine.Run(ctx, config)

	s.mu.Lock()
	if err != nil {
		if errors.Is(err, context.Canceled) {
			state.Status = "cancelled"
		} else {
			state.Status = "failed"
		}
		state.Err = err.Error()
		s.logger.Error("backtest failed", zap.String("id", config.ID), zap.Error(err))
	} else {
		state.Status = "completed"
		state.Result = &result
		if s.runStore != nil {
			if err := s.runStore.Save(result); err != nil {
				s.logger.Warn("failed to persist backtest result", zap.String("id", config.ID), zap.Error(err))
			}
		}
	}
	s.mu.Unlock()

	s.hub.PublishToChannel("backtest:"+config.ID, MsgTypeComplete, map[string]interface{}{
		"id": config.ID, "status": state.Status, "error": state.Err,
	})
}

// handleBacktestGet handles GET /backtest/{id}.
func (s *Server) handleBacktestGet(w http.ResponseWriter, r *http.Request) {
	requestID := w.Header().Get("X-Request-ID")
	id := mux.Vars(r)["id"]

	s.mu.RLock()
	state, ok := s.backtests[id]
	s.mu.RUnlock()
	if !ok {
		if s.runStore != nil {
			if saved, ok := s.runStore.Get(id); ok {
				writeJSON(w, http.StatusOK, saved)
				return
			}
		}
		writeError(w, http.StatusNotFound, requestID, "backtest not found")
		return
	}

	resp := map[string]interface{}{"id": state.ID, "status": state.Status, "started": state.StartedAt}
	if state.Result != nil {
		resp["result"] = state.Result
	}
	if state.Err != "" {
		resp["error"] = state.Err
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleBacktestTrades handles GET /backtest/{id}/trades.
func (s *Server) handleBacktestTrades(w http.ResponseWriter, r *http.Request) {
	requestID := w.Header().Get("X-Request-ID")
	id := mux.Vars(r)["id"]

	result, ok := s.completedResult(id)
	if !ok {
		writeError(w, http.StatusNotFound, requestID, "backtest not found or not complete")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"id": id, "trades": result.Trades, "count": len(result.Trades),
	})
}

func (s *Server) completedResult(id string) (types.BacktestResult, bool) {
	s.mu.RLock()
	state, ok := s.backtests[id]
	s.mu.RUnlock()
	if ok && state.Result != nil {
		return *state.Result, true
	}
	if s.runStore != nil {
		return s.runStore.Get(id)
	}
	return types.BacktestResult{}, false
}

// handleBacktestList handles GET /backtest, listing persisted runs.
func (s *Server) handleBacktestList(w http.ResponseWriter, r *http.Request) {
	if s.runStore == nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{"runs": []runstore.Summary{}})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"runs": s.runStore.List()})
}

// handleBacktestCancel handles POST /backtest/{id}/cancel.
func (s *Server) handleBacktestCancel(w http.ResponseWriter, r *http.Request) {
	requestID := w.Header().Get("X-Request-ID")
	id := mux.Vars(r)["id"]

	s.mu.Lock()
	state, ok := s.backtests[id]
	if ok && state.Status == "running" {
		state.Cancel()
		state.Status = "cancelled"
	}
	s.mu.Unlock()

	if !ok {
		writeError(w, http.StatusNotFound, requestID, "backtest not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"id": id, "status": "cancelled"})
}

// handleBacktestWebSocket upgrades to a websocket subscribed to one
// backtest's progress channel.
func (s *Server) handleBacktestWebSocket(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", zap.Error(err))
		return
	}

	client := NewClient(uuid.New().String(), s.hub, conn)
	s.hub.register <- client
	s.hub.Subscribe(client, "backtest:"+id)

	go client.WritePump()
	go client.ReadPump()
}
