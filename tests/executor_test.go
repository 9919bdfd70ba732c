// Package tests exercises the scoring pipeline end to end: Provider ->
// Parallel Executor -> Scorer, across the agent-failure and
// data-validation scenarios the Parallel Executor must degrade
// gracefully under.
package tests

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/marcusvale/equityscore/internal/agents"
	"github.com/marcusvale/equityscore/internal/executor"
	"github.com/marcusvale/equityscore/internal/provider"
	"github.com/marcusvale/equityscore/internal/scorer"
	"github.com/marcusvale/equityscore/pkg/types"
)

// stubAgent lets each scenario control exactly how one slot behaves
// without needing a real data dependency.
type stubAgent struct {
	name   types.AgentName
	behave func(symbol string, bundle *types.DataBundle) types.AgentResult
}

func (s *stubAgent) Name() types.AgentName { return s.name }
func (s *stubAgent) Analyze(symbol string, bundle *types.DataBundle) types.AgentResult {
	return s.behave(symbol, bundle)
}

func okResult(score, confidence float64) types.AgentResult {
	return types.AgentResult{Score: score, Confidence: confidence, Metrics: map[string]float64{}, Reasoning: "ok"}
}

func fullAgentSet(overrides map[types.AgentName]*stubAgent) []agents.Agent {
	set := make([]agents.Agent, 0, len(types.AllAgentNames))
	for _, name := range types.AllAgentNames {
		if ov, ok := overrides[name]; ok {
			set = append(set, ov)
			continue
		}
		n := name
		set = append(set, &stubAgent{name: n, behave: func(string, *types.DataBundle) types.AgentResult {
			return okResult(60, 0.8)
		}})
	}
	return set
}

func syntheticBundle(t *testing.T) *types.DataBundle {
	t.Helper()
	prov := provider.NewSyntheticProvider()
	bundle, err := prov.Comprehensive(context.Background(), "AAPL", time.Time{})
	if err != nil {
		t.Fatalf("failed to build a synthetic bundle: %v", err)
	}
	return bundle
}

// S1: every agent succeeds -> a complete bundle with zero failures and
// weights summing to 1.
func TestExecuteAllAllAgentsSucceed(t *testing.T) {
	exec := executor.New(zap.NewNop(), fullAgentSet(nil), types.DefaultExecutorConfig())
	bundle := syntheticBundle(t)

	out := exec.ExecuteAll(context.Background(), "AAPL", bundle)

	if out.Meta.SuccessCount != 5 || out.Meta.TotalAgents != 5 {
		t.Fatalf("expected 5/5 successes, got %d/%d", out.Meta.SuccessCount, out.Meta.TotalAgents)
	}
	if len(out.Meta.FailedAgents) != 0 {
		t.Fatalf("expected no failed agents, got %v", out.Meta.FailedAgents)
	}
	if !types.StaticAgentWeights.Valid() {
		t.Fatal("static weights must be valid")
	}
}

// S2: one agent panics (a non-transient fault) -> it fails on the first
// attempt without being retried, and every other slot is unaffected.
func TestExecuteAllOneAgentPanicsNonTransient(t *testing.T) {
	var calls int
	panicking := &stubAgent{
		name: types.AgentSentiment,
		behave: func(string, *types.DataBundle) types.AgentResult {
			calls++
			panic("sentiment blew up")
		},
	}
	exec := executor.New(zap.NewNop(), fullAgentSet(map[types.AgentName]*stubAgent{
		types.AgentSentiment: panicking,
	}), types.DefaultExecutorConfig())

	out := exec.ExecuteAll(context.Background(), "AAPL", syntheticBundle(t))

	if out.Meta.SuccessCount != 4 {
		t.Fatalf("expected 4 successes, got %d", out.Meta.SuccessCount)
	}
	if !out.Results[types.AgentSentiment].Failed {
		t.Fatal("expected sentiment slot to be failed")
	}
	if calls != 1 {
		t.Fatalf("expected a panic to be attempted exactly once (non-transient, no retry), got %d calls", calls)
	}
}

// S3: an agent whose deadline always expires is a transient fault and is
// attempted MaxRetries times in total, then fails its slot.
func TestExecuteAllAgentTimesOutIsRetried(t *testing.T) {
	var calls int
	slow := &stubAgent{
		name: types.AgentMomentum,
		behave: func(string, *types.DataBundle) types.AgentResult {
			calls++
			time.Sleep(50 * time.Millisecond)
			return okResult(60, 0.8)
		},
	}
	cfg := types.ExecutorConfig{
		AgentTimeout: 5 * time.Millisecond,
		MaxRetries:   3,
		BackoffMin:   1 * time.Millisecond,
		BackoffMax:   2 * time.Millisecond,
	}
	exec := executor.New(zap.NewNop(), fullAgentSet(map[types.AgentName]*stubAgent{
		types.AgentMomentum: slow,
	}), cfg)

	out := exec.ExecuteAll(context.Background(), "AAPL", syntheticBundle(t))

	if !out.Results[types.AgentMomentum].Failed {
		t.Fatal("expected momentum slot to fail after exhausting retries")
	}
	if calls != cfg.MaxRetries {
		t.Fatalf("expected %d attempts (MaxRetries in total), got %d", cfg.MaxRetries, calls)
	}
}

// S4: a bundle missing historical data fails pre-validation, and every
// slot fails naming that reason without any agent ever being called.
func TestExecuteAllDataValidationShortCircuits(t *testing.T) {
	var invoked bool
	tripwire := map[types.AgentName]*stubAgent{}
	for _, name := range types.AllAgentNames {
		n := name
		tripwire[n] = &stubAgent{name: n, behave: func(string, *types.DataBundle) types.AgentResult {
			invoked = true
			return okResult(60, 0.8)
		}}
	}
	exec := executor.New(zap.NewNop(), fullAgentSet(tripwire), types.DefaultExecutorConfig())

	emptyBundle := &types.DataBundle{Symbol: "AAPL", AsOf: time.Now()}
	out := exec.ExecuteAll(context.Background(), "AAPL", emptyBundle)

	if invoked {
		t.Fatal("no agent should have been invoked for a bundle that fails pre-validation")
	}
	if out.Meta.SuccessCount != 0 {
		t.Fatalf("expected 0 successes, got %d", out.Meta.SuccessCount)
	}
	for name, result := range out.Results {
		if !result.Failed {
			t.Fatalf("expected %s to be failed", name)
		}
		if result.Error != "historical_data is empty" {
			t.Fatalf("expected %s's error to name the missing field, got %q", name, result.Error)
		}
	}
}

// The composite score always falls within the convex hull of the
// per-agent scores, since it is a non-negative weighted average.
func TestScoreStockCompositeWithinAgentScoreRange(t *testing.T) {
	logger := zap.NewNop()
	prov := provider.NewSyntheticProvider()
	exec := executor.New(logger, agents.All(), types.DefaultExecutorConfig())
	sc := scorer.New(logger, prov, exec, nil, 0)

	result, err := sc.ScoreStock(context.Background(), "AAPL", time.Time{}, nil)
	if err != nil {
		t.Fatalf("ScoreStock failed: %v", err)
	}

	var lo, hi float64 = 1e9, -1e9
	for _, r := range result.PerAgent.Results {
		if r.Score < lo {
			lo = r.Score
		}
		if r.Score > hi {
			hi = r.Score
		}
	}
	if result.Composite < lo-1e-6 || result.Composite > hi+1e-6 {
		t.Fatalf("composite %f outside agent score range [%f, %f]", result.Composite, lo, hi)
	}
	if !result.Weights.Valid() {
		t.Fatalf("weights used for scoring must be valid: %v", result.Weights)
	}
}
