// Package scorer implements the Scorer: it orchestrates the Provider,
// Regime Service, and Parallel Executor into one ScoreResult per
// symbol, and fans batch requests out over a bounded worker pool
// (spec §4.5).
package scorer

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/marcusvale/equityscore/internal/executor"
	"github.com/marcusvale/equityscore/internal/provider"
	"github.com/marcusvale/equityscore/internal/regime"
	"github.com/marcusvale/equityscore/internal/workers"
	"github.com/marcusvale/equityscore/pkg/types"
)

// Scorer combines Provider data, agent execution, and the current
// weight vector into a ScoreResult.
//
// Grounded in original_source/core/stock_scorer.py: the static
// 36/27/18/9/10 default, the adaptive-vs-static weight switch, and the
// confidence-discounted rank-category thresholds are ported directly
// from that file's score_stock/_get_rank_category.
type Scorer struct {
	logger   *zap.Logger
	prov     provider.Provider
	exec     *executor.Executor
	regimeSvc *regime.Service // nil disables adaptive weights
	batchPool *workers.Pool
}

// Option configures a Scorer at construction.
type Option func(*Scorer)

// WithAdaptiveWeights enables regime-sourced weights via svc. Without
// this option the Scorer always uses types.StaticAgentWeights.
func WithAdaptiveWeights(svc *regime.Service) Option {
	return func(s *Scorer) { s.regimeSvc = svc }
}

// New constructs a Scorer. batchPool bounds in-flight batch
// concurrency; pass nil to build one sized to fanoutCap (spec §5: ~10
// in-flight; fanoutCap<=0 falls back to
// types.DefaultExecutorConfig().BatchFanoutCap).
func New(logger *zap.Logger, prov provider.Provider, exec *executor.Executor, batchPool *workers.Pool, fanoutCap int, opts ...Option) *Scorer {
	if batchPool == nil {
		if fanoutCap <= 0 {
			fanoutCap = types.DefaultExecutorConfig().BatchFanoutCap
		}
		cfg := workers.DefaultPoolConfig("scorer-batch")
		cfg.NumWorkers = fanoutCap
		batchPool = workers.NewPool(logger, cfg)
	}
	batchPool.Start()

	s := &Scorer{logger: logger, prov: prov, exec: exec, batchPool: batchPool}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Close stops the batch pool's workers, releasing their goroutines.
// Safe to call even if the pool was supplied by the caller; Pool.Stop
// is idempotent.
func (s *Scorer) Close() error {
	return s.batchPool.Stop()
}

// ScoreStock scores one symbol as of asOf (zero time = latest).
// overrideWeights, if non-nil and valid, takes precedence over both
// adaptive and static weights.
func (s *Scorer) ScoreStock(ctx context.Context, symbol string, asOf time.Time, overrideWeights *types.Weights) (types.ScoreResult, error) {
	bundle, err := s.prov.Comprehensive(ctx, symbol, asOf)
	if err != nil {
		return types.ScoreResult{}, err
	}

	weights, regimeLabel := s.currentWeights(ctx, overrideWeights)

	agentBundle := s.exec.ExecuteAll(ctx, symbol, bundle)

	var composite, confidence float64
	for name, w := range weights {
		if result, ok := agentBundle.Results[name]; ok {
			composite += w * result.Score
			confidence += w * result.Confidence
		}
	}

	category := categoryFor(composite, confidence)

	return types.ScoreResult{
		Symbol:     symbol,
		Composite:  composite,
		Confidence: confidence,
		PerAgent:   agentBundle,
		Weights:    weights,
		Category:   category,
		Regime:     regimeLabel,
		ScoredAt:   time.Now(),
	}, nil
}

// currentWeights resolves the weight vector: override > adaptive >
// static, per stock_scorer.py's _get_current_weights precedence.
func (s *Scorer) currentWeights(ctx context.Context, override *types.Weights) (types.Weights, *types.RegimeLabel) {
	if override != nil && override.Valid() {
		return *override, nil
	}
	if s.regimeSvc != nil {
		info := s.regimeSvc.GetCurrentRegime(ctx, false)
		label := info.Label
		return info.Weights, &label
	}
	return types.StaticAgentWeights, nil
}

// categoryFor derives the rank category from the confidence-discounted
// composite, per spec §4.5's table.
func categoryFor(composite, confidence float64) types.Category {
	adjusted := composite * (0.5 + 0.5*confidence)
	switch {
	case adjusted >= 75:
		return types.CategoryStrongBuy
	case adjusted >= 65:
		return types.CategoryBuy
	case adjusted >= 50:
		return types.CategoryHold
	case adjusted >= 35:
		return types.CategoryUnderweight
	default:
		return types.CategorySell
	}
}

// BatchResult is one symbol's outcome within a ScoreBatch call.
type BatchResult struct {
	Result types.ScoreResult
	Err    error
}

// ScoreBatch scores each distinct symbol in symbols at most once,
// fanned out over the bounded batch pool, per spec §4.5's
// dedup-per-batch requirement.
func (s *Scorer) ScoreBatch(ctx context.Context, symbols []string, asOf time.Time, overrideWeights *types.Weights) map[string]BatchResult {
	seen := make(map[string]bool, len(symbols))
	unique := make([]string, 0, len(symbols))
	for _, sym := range symbols {
		if !seen[sym] {
			seen[sym] = true
			unique = append(unique, sym)
		}
	}

	out := make(map[string]BatchResult, len(unique))
	var mu sync.Mutex
	done := make(chan struct{}, len(unique))

	for _, symbol := range unique {
		symbol := symbol
		err := s.batchPool.SubmitFunc(func() error {
			result, scoreErr := s.ScoreStock(ctx, symbol, asOf, overrideWeights)
			mu.Lock()
			out[symbol] = BatchResult{Result: result, Err: scoreErr}
			mu.Unlock()
			done <- struct{}{}
			return scoreErr
		})
		if err != nil {
			mu.Lock()
			out[symbol] = BatchResult{Err: err}
			mu.Unlock()
			done <- struct{}{}
		}
	}

	for range unique {
		<-done
	}

	return out
}
