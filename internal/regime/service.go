// Package regime classifies the current market trend × volatility into
// one of nine discrete labels and maps each to an adaptive agent-weight
// vector (spec §4.2).
//
// Grounded in original_source/core/market_regime_service.py: the
// cache-then-fetch-then-default control flow, the 6h default TTL, and
// the SIDEWAYS_NORMAL_VOL fallback-on-failure behavior are ported
// directly from that file (its own ml/regime_detector.py, which
// supplied the HMM-based classifier, is not present in this pack — the
// trend/volatility classifiers below are the closed-form
// slope-sign/realized-vol alternative the specification calls for).
package regime

import (
	"context"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/marcusvale/equityscore/internal/provider"
	"github.com/marcusvale/equityscore/pkg/types"
)

// Info is the service's public result, mirroring the original's
// get_current_regime return shape.
type Info struct {
	Label     types.RegimeLabel
	Weights   types.Weights
	Explanation string
	AsOf      time.Time
	CacheHit  bool
	FetchError string
}

// Service classifies the market regime from a benchmark symbol's
// recent history and serves the corresponding adaptive weight vector,
// with single-flight-guarded TTL caching.
type Service struct {
	logger    *zap.Logger
	prov      provider.Provider
	benchmark string
	config    types.RegimeConfig

	mu       sync.Mutex
	cached   *Info
	cachedAt time.Time
	inflight chan struct{} // non-nil while a refresh is in progress
}

// New constructs a Service. benchmark is the ticker used as the market
// proxy (e.g. "SPY"); cfg falls back to types.DefaultRegimeConfig() on
// zero values.
func New(logger *zap.Logger, prov provider.Provider, benchmark string, cfg types.RegimeConfig) *Service {
	if cfg.CacheTTL <= 0 || cfg.TrendWindow <= 0 || cfg.VolWindow <= 0 {
		cfg = types.DefaultRegimeConfig()
	}
	if benchmark == "" {
		benchmark = "SPY"
	}
	return &Service{logger: logger, prov: prov, benchmark: benchmark, config: cfg}
}

// GetCurrentRegime returns the current regime, refreshing it if the
// cache is stale or force is true. It never returns an error: fetch
// failures degrade to the SIDEWAYS_NORMAL_VOL default, recorded in
// Info.FetchError.
func (s *Service) GetCurrentRegime(ctx context.Context, force bool) Info {
	s.mu.Lock()
	if !force && s.cached != nil && time.Since(s.cachedAt) < s.config.CacheTTL {
		info := *s.cached
		info.CacheHit = true
		s.mu.Unlock()
		return info
	}
	if ch := s.inflight; ch != nil {
		s.mu.Unlock()
		<-ch
		s.mu.Lock()
		if s.cached != nil {
			info := *s.cached
			info.CacheHit = true
			s.mu.Unlock()
			return info
		}
		s.mu.Unlock()
		return s.defaultInfo("")
	}
	done := make(chan struct{})
	s.inflight = done
	s.mu.Unlock()

	info := s.refresh(ctx)

	s.mu.Lock()
	s.cached = &info
	s.cachedAt = time.Now()
	s.inflight = nil
	s.mu.Unlock()
	close(done)

	return info
}

func (s *Service) refresh(ctx context.Context) Info {
	end := time.Now()
	start := end.AddDate(0, -3, 0)

	bars, err := s.prov.History(ctx, s.benchmark, start, end)
	if err != nil || len(bars) < 30 {
		reason := "insufficient benchmark data"
		if err != nil {
			reason = err.Error()
		}
		if s.logger != nil {
			s.logger.Warn("regime detection falling back to default", zap.String("benchmark", s.benchmark), zap.String("reason", reason))
		}
		return s.defaultInfo(reason)
	}

	closes := make([]float64, len(bars))
	for i, b := range bars {
		closes[i], _ = b.Close.Float64()
	}

	trend := classifyTrend(closes, s.config.TrendWindow, s.config.TrendThreshold)
	vol := classifyVolatility(closes, s.config.VolWindow, s.config.LowVolThreshold, s.config.HighVolThreshold)
	label := types.RegimeLabel{Trend: trend, Volatility: vol}

	return Info{
		Label:       label,
		Weights:     weightsFor(label),
		Explanation: Explain(label),
		AsOf:        end,
	}
}

func (s *Service) defaultInfo(reason string) Info {
	label := types.RegimeLabel{Trend: types.TrendSideways, Volatility: types.VolNormal}
	return Info{
		Label:       label,
		Weights:     weightsFor(label),
		Explanation: Explain(label),
		AsOf:        time.Now(),
		FetchError:  reason,
	}
}

// classifyTrend classifies the sign of the least-squares slope of the
// last window closes, using threshold as the minimum normalized slope
// magnitude to call a direction (otherwise SIDEWAYS).
func classifyTrend(closes []float64, window int, threshold float64) types.Trend {
	if len(closes) > window {
		closes = closes[len(closes)-window:]
	}
	n := len(closes)
	if n < 2 {
		return types.TrendSideways
	}
	var sumX, sumY, sumXY, sumXX float64
	for i, y := range closes {
		x := float64(i)
		sumX += x
		sumY += y
		sumXY += x * y
		sumXX += x * x
	}
	nf := float64(n)
	denom := nf*sumXX - sumX*sumX
	if denom == 0 {
		return types.TrendSideways
	}
	slope := (nf*sumXY - sumX*sumY) / denom
	mean := sumY / nf
	if mean == 0 {
		return types.TrendSideways
	}
	normalized := slope / math.Abs(mean) * nf

	switch {
	case normalized > threshold:
		return types.TrendBull
	case normalized < -threshold:
		return types.TrendBear
	default:
		return types.TrendSideways
	}
}

// classifyVolatility buckets annualized realized volatility (stdev of
// daily log returns over window days, scaled by sqrt(252)) against the
// configured low/high cutoffs.
func classifyVolatility(closes []float64, window int, lowCut, highCut float64) types.VolatilityRegime {
	if len(closes) > window+1 {
		closes = closes[len(closes)-(window+1):]
	}
	if len(closes) < 2 {
		return types.VolNormal
	}
	rets := make([]float64, 0, len(closes)-1)
	for i := 1; i < len(closes); i++ {
		if closes[i-1] == 0 {
			continue
		}
		rets = append(rets, math.Log(closes[i]/closes[i-1]))
	}
	if len(rets) == 0 {
		return types.VolNormal
	}
	var mean float64
	for _, r := range rets {
		mean += r
	}
	mean /= float64(len(rets))
	var sumSq float64
	for _, r := range rets {
		d := r - mean
		sumSq += d * d
	}
	dailyVol := math.Sqrt(sumSq / float64(len(rets)))
	annualized := dailyVol * math.Sqrt(252)

	switch {
	case annualized > highCut:
		return types.VolHigh
	case annualized < lowCut:
		return types.VolLow
	default:
		return types.VolNormal
	}
}

// weightsFor looks up the adaptive weight vector for a regime label
// from the fixed 9-row table. BULL_NORMAL_VOL and SIDEWAYS_NORMAL_VOL
// both use the full static default weights.
func weightsFor(label types.RegimeLabel) types.Weights {
	if w, ok := regimeWeights[label.Canonical()]; ok {
		return w
	}
	return types.StaticAgentWeights
}

var regimeWeights = map[string]types.Weights{
	// Balanced rows fall back to the static default — fundamentals-leaning,
	// no regime-specific tilt warranted.
	"BULL_NORMAL_VOL":     types.StaticAgentWeights,
	"SIDEWAYS_NORMAL_VOL": types.StaticAgentWeights,

	"BULL_LOW_VOL": {
		types.AgentFundamentals: 0.45, types.AgentMomentum: 0.20, types.AgentQuality: 0.15,
		types.AgentSentiment: 0.08, types.AgentInstitutionalFlow: 0.12,
	},
	"BULL_HIGH_VOL": {
		types.AgentFundamentals: 0.22, types.AgentMomentum: 0.40, types.AgentQuality: 0.14,
		types.AgentSentiment: 0.10, types.AgentInstitutionalFlow: 0.14,
	},
	"BEAR_LOW_VOL": {
		types.AgentFundamentals: 0.48, types.AgentMomentum: 0.12, types.AgentQuality: 0.20,
		types.AgentSentiment: 0.06, types.AgentInstitutionalFlow: 0.14,
	},
	"BEAR_NORMAL_VOL": {
		types.AgentFundamentals: 0.35, types.AgentMomentum: 0.12, types.AgentQuality: 0.30,
		types.AgentSentiment: 0.05, types.AgentInstitutionalFlow: 0.18,
	},
	"BEAR_HIGH_VOL": {
		types.AgentFundamentals: 0.25, types.AgentMomentum: 0.10, types.AgentQuality: 0.40,
		types.AgentSentiment: 0.03, types.AgentInstitutionalFlow: 0.22,
	},
	"SIDEWAYS_LOW_VOL": {
		types.AgentFundamentals: 0.42, types.AgentMomentum: 0.18, types.AgentQuality: 0.20,
		types.AgentSentiment: 0.08, types.AgentInstitutionalFlow: 0.12,
	},
	"SIDEWAYS_HIGH_VOL": {
		types.AgentFundamentals: 0.20, types.AgentMomentum: 0.28, types.AgentQuality: 0.28,
		types.AgentSentiment: 0.08, types.AgentInstitutionalFlow: 0.16,
	},
}

var regimeExplanations = map[string]string{
	"BULL_HIGH_VOL":       "Bull market with high volatility - strong uptrend but choppy. Momentum matters more.",
	"BULL_NORMAL_VOL":     "Bull market with normal volatility - steady uptrend. Balanced approach.",
	"BULL_LOW_VOL":        "Bull market with low volatility - calm uptrend. Fundamentals lead.",
	"BEAR_HIGH_VOL":       "Bear market with high volatility - panic selling. Quality and safety first.",
	"BEAR_NORMAL_VOL":     "Bear market with normal volatility - downtrend. Focus on quality and fundamentals.",
	"BEAR_LOW_VOL":        "Bear market with low volatility - slow decline. Fundamentals critical.",
	"SIDEWAYS_HIGH_VOL":   "Sideways market with high volatility - range-bound but choppy. Balance quality and momentum.",
	"SIDEWAYS_NORMAL_VOL": "Sideways market with normal volatility - neutral trend. Standard balanced approach.",
	"SIDEWAYS_LOW_VOL":    "Sideways market with low volatility - calm consolidation. Fundamentals matter most.",
}

// Explain returns a human-readable description of label, falling back
// to a generic message for an unrecognized combination.
func Explain(label types.RegimeLabel) string {
	if s, ok := regimeExplanations[label.Canonical()]; ok {
		return s
	}
	return "Unknown market regime"
}
