// Package api_test exercises the HTTP surface end to end against the
// deterministic SyntheticProvider, grounded in the teacher's
// internal/api/server_test.go (httptest.NewServer over Server.Router()).
package api_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/marcusvale/equityscore/internal/agents"
	"github.com/marcusvale/equityscore/internal/api"
	"github.com/marcusvale/equityscore/internal/cache"
	"github.com/marcusvale/equityscore/internal/executor"
	"github.com/marcusvale/equityscore/internal/provider"
	"github.com/marcusvale/equityscore/internal/regime"
	"github.com/marcusvale/equityscore/internal/runstore"
	"github.com/marcusvale/equityscore/internal/scorer"
	"github.com/marcusvale/equityscore/pkg/types"
)

func setupTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	logger := zap.NewNop()

	prov := provider.NewSyntheticProvider()
	agentSet := []agents.Agent{
		agents.NewFundamentalsAgent(),
		agents.NewMomentumAgent(),
		agents.NewQualityAgent(),
		agents.NewSentimentAgent(nil),
		agents.NewInstitutionalFlowAgent(),
	}
	exec := executor.New(logger, agentSet, types.DefaultExecutorConfig())
	sc := scorer.New(logger, prov, exec, nil, 0)
	regimeSvc := regime.New(logger, prov, "SPY", types.DefaultRegimeConfig())
	analysisCache := cache.New(types.DefaultCacheConfig())
	runStore, err := runstore.New(logger, types.RunStoreConfig{Dir: t.TempDir(), Capacity: 10})
	if err != nil {
		t.Fatalf("failed to create run store: %v", err)
	}

	config := &types.ServerConfig{
		Host:         "127.0.0.1",
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}
	server := api.NewServer(logger, config, api.Deps{
		Provider:      prov,
		Executor:      exec,
		Scorer:        sc,
		RegimeService: regimeSvc,
		AnalysisCache: analysisCache,
		RunStore:      runStore,
		RiskLimits:    types.DefaultRiskLimits(),
		Benchmark:     "SPY",
	})

	return httptest.NewServer(server.Router())
}

func TestHealthEndpoint(t *testing.T) {
	ts := setupTestServer(t)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatalf("health request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200, got %d", resp.StatusCode)
	}

	var result map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if result["status"] != "healthy" {
		t.Errorf("expected status healthy, got %v", result["status"])
	}
	agentsField, ok := result["agents"].(map[string]interface{})
	if !ok || len(agentsField) != 5 {
		t.Errorf("expected 5 agent statuses, got %v", result["agents"])
	}
}

func TestAnalyzeEndpoint(t *testing.T) {
	ts := setupTestServer(t)
	defer ts.Close()

	body, _ := json.Marshal(map[string]string{"symbol": "AAPL"})
	resp, err := http.Post(ts.URL+"/analyze", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("analyze request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if resp.Header.Get("X-Request-ID") == "" {
		t.Error("expected X-Request-ID header to be set")
	}

	var result types.ScoreResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatalf("failed to decode score result: %v", err)
	}
	if result.Symbol != "AAPL" {
		t.Errorf("expected symbol AAPL, got %q", result.Symbol)
	}
	if len(result.PerAgent.Results) != 5 {
		t.Errorf("expected 5 agent results, got %d", len(result.PerAgent.Results))
	}
}

func TestAnalyzeBatchRejectsOversizedRequest(t *testing.T) {
	ts := setupTestServer(t)
	defer ts.Close()

	symbols := make([]string, 51)
	for i := range symbols {
		symbols[i] = "SYM"
	}
	body, _ := json.Marshal(map[string]interface{}{"symbols": symbols})
	resp, err := http.Post(ts.URL+"/analyze/batch", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("batch request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 for oversized batch, got %d", resp.StatusCode)
	}
}

func TestRegimeEndpoint(t *testing.T) {
	ts := setupTestServer(t)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/market/regime")
	if err != nil {
		t.Fatalf("regime request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var result map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatalf("failed to decode regime response: %v", err)
	}
	if result["label"] == nil {
		t.Error("expected a regime label in the response")
	}
}

func TestBacktestRunAndGet(t *testing.T) {
	ts := setupTestServer(t)
	defer ts.Close()

	config := types.BacktestConfig{
		Universe:          []string{"AAPL", "MSFT"},
		StartDate:         time.Now().AddDate(-1, 0, 0),
		EndDate:           time.Now(),
		RebalanceFreq:     types.RebalanceMonthly,
		TopN:               2,
		MinCompositeScore: 0,
		InitialCapital:    decimal.NewFromInt(100000),
	}
	body, _ := json.Marshal(config)

	resp, err := http.Post(ts.URL+"/backtest/run", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("backtest run request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var started map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&started); err != nil {
		t.Fatalf("failed to decode start response: %v", err)
	}
	id, _ := started["id"].(string)
	if id == "" {
		t.Fatal("expected a backtest id in the response")
	}

	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		resp, err := http.Get(ts.URL + "/backtest/" + id)
		if err != nil {
			t.Fatalf("backtest status request failed: %v", err)
		}
		var status map[string]interface{}
		json.NewDecoder(resp.Body).Decode(&status)
		resp.Body.Close()
		if status["status"] == "completed" || status["status"] == "failed" {
			return
		}
		time.Sleep(100 * time.Millisecond)
	}
	t.Fatal("backtest did not complete within the deadline")
}
