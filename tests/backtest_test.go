package tests

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/marcusvale/equityscore/internal/agents"
	"github.com/marcusvale/equityscore/internal/backtester"
	"github.com/marcusvale/equityscore/internal/executor"
	"github.com/marcusvale/equityscore/internal/provider"
	"github.com/marcusvale/equityscore/internal/regime"
	"github.com/marcusvale/equityscore/internal/risk"
	"github.com/marcusvale/equityscore/internal/scorer"
	"github.com/marcusvale/equityscore/pkg/types"
)

func newScorer(t *testing.T, adaptive bool) (*scorer.Scorer, provider.Provider) {
	t.Helper()
	logger := zap.NewNop()
	prov := provider.NewSyntheticProvider()
	exec := executor.New(logger, agents.All(), types.DefaultExecutorConfig())

	var opts []scorer.Option
	if adaptive {
		regimeSvc := regime.New(logger, prov, "SPY", types.DefaultRegimeConfig())
		opts = append(opts, scorer.WithAdaptiveWeights(regimeSvc))
	}
	return scorer.New(logger, prov, exec, nil, 0, opts...), prov
}

// S5: with adaptive weights disabled, scoring the same symbol twice
// must be deterministic (the synthetic provider is seeded by symbol),
// and every weight vector served must be valid.
func TestScoringIsDeterministicWithoutAdaptiveWeights(t *testing.T) {
	sc, _ := newScorer(t, false)

	first, err := sc.ScoreStock(context.Background(), "MSFT", time.Time{}, nil)
	if err != nil {
		t.Fatalf("first ScoreStock failed: %v", err)
	}
	second, err := sc.ScoreStock(context.Background(), "MSFT", time.Time{}, nil)
	if err != nil {
		t.Fatalf("second ScoreStock failed: %v", err)
	}

	if first.Composite != second.Composite {
		t.Fatalf("expected deterministic composite score, got %f then %f", first.Composite, second.Composite)
	}
	if !first.Weights.Valid() {
		t.Fatalf("static weights must be valid: %v", first.Weights)
	}
}

// S5: the Regime Service always serves a valid weight vector, whatever
// label the current benchmark history classifies to.
func TestRegimeServiceAlwaysServesValidWeights(t *testing.T) {
	logger := zap.NewNop()
	prov := provider.NewSyntheticProvider()
	svc := regime.New(logger, prov, "SPY", types.DefaultRegimeConfig())

	info := svc.GetCurrentRegime(context.Background(), false)
	if !info.Weights.Valid() {
		t.Fatalf("regime %s served invalid weights: %v", info.Label, info.Weights)
	}

	cached := svc.GetCurrentRegime(context.Background(), false)
	if !cached.CacheHit {
		t.Fatal("expected the second call within the TTL to be served from cache")
	}
}

// S6: a HIGH quality-tier position only stops out once its drop from
// peak passes -30%; a LOW tier position stops out far sooner, at -10%.
func TestStopLossTieringMatchesQualityTier(t *testing.T) {
	mgr := risk.New(zap.NewNop(), types.DefaultRiskLimits())
	now := time.Now()

	highTier := &types.Position{
		Symbol: "AAPL", Shares: decimal.NewFromInt(10),
		EntryPrice: decimal.NewFromInt(100), PeakPrice: decimal.NewFromInt(100),
		CurrentPrice: decimal.NewFromFloat(85), EntryQualityTier: types.QualityTierHigh,
	}
	lowTier := &types.Position{
		Symbol: "GME", Shares: decimal.NewFromInt(10),
		EntryPrice: decimal.NewFromInt(100), PeakPrice: decimal.NewFromInt(100),
		CurrentPrice: decimal.NewFromFloat(85), EntryQualityTier: types.QualityTierLow,
	}

	hits := mgr.CheckStopLosses([]*types.Position{highTier, lowTier}, now)

	if len(hits) != 1 || hits[0].Symbol != "GME" {
		t.Fatalf("expected only the LOW-tier position to stop out at -15%%, got %+v", hits)
	}
}

// A backtest run over a short window must finish with non-negative
// cash, every equity point at or above its cash, populated metrics, and
// at least one trade.
func TestBacktestRunMaintainsCoreInvariants(t *testing.T) {
	logger := zap.NewNop()
	sc, prov := newScorer(t, false)
	riskMgr := risk.New(logger, types.DefaultRiskLimits())
	engine := backtester.New(logger, prov, sc, riskMgr, "SPY")

	config := types.BacktestConfig{
		ID:                "invariant-check",
		Universe:          []string{"AAPL", "MSFT", "GOOG"},
		StartDate:         time.Now().AddDate(-1, 0, 0),
		EndDate:           time.Now(),
		RebalanceFreq:     types.RebalanceMonthly,
		TopN:              2,
		MinCompositeScore: 0,
		InitialCapital:    decimal.NewFromInt(100000),
		RiskLimits:        types.DefaultRiskLimits(),
	}

	result, err := engine.Run(context.Background(), config)
	if err != nil {
		t.Fatalf("backtest run failed: %v", err)
	}

	if len(result.EquityCurve) == 0 {
		t.Fatal("expected at least one equity curve point")
	}

	var peak decimal.Decimal
	for i, point := range result.EquityCurve {
		if point.Cash.IsNegative() {
			t.Fatalf("equity point %d has negative cash: %s", i, point.Cash)
		}
		if point.Equity.LessThan(point.Cash) {
			t.Fatalf("equity point %d: equity (%s) less than cash (%s)", i, point.Equity, point.Cash)
		}
		if point.Equity.GreaterThan(peak) {
			peak = point.Equity
		}
	}
	if result.Metrics == nil {
		t.Fatal("expected performance metrics to be populated")
	}
	if len(result.Trades) == 0 {
		t.Fatal("expected the engine to open at least one position over a 1-year monthly-rebalanced run")
	}
}

// Regression test for a batch pool that was never started: ScoreBatch
// must actually execute and score every symbol, not return
// ErrPoolStopped for all of them.
func TestScoreBatchExecutesEverySymbol(t *testing.T) {
	sc, _ := newScorer(t, false)

	results := sc.ScoreBatch(context.Background(), []string{"AAPL", "MSFT", "AAPL"}, time.Time{}, nil)

	if len(results) != 2 {
		t.Fatalf("expected 2 deduplicated symbols, got %d: %+v", len(results), results)
	}
	for symbol, br := range results {
		if br.Err != nil {
			t.Fatalf("ScoreBatch(%s) returned an error, batch pool may not be running: %v", symbol, br.Err)
		}
		if br.Result.Symbol != symbol {
			t.Fatalf("ScoreBatch(%s) returned result for wrong symbol %q", symbol, br.Result.Symbol)
		}
	}
}
