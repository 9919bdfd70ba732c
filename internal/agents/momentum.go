package agents

import (
	"math"

	"github.com/marcusvale/equityscore/pkg/types"
)

// MomentumAgent scores price trend and relative strength: multi-horizon
// returns, moving-average positioning with a golden-cross bonus,
// relative strength versus a benchmark series, and trend consistency.
//
// Ported from original_source/agents/momentum_agent.py: the
// 40/30/20/10 sub-weighting, the 252-bar full-data gate, and every
// score-banding threshold below are taken directly from that file's
// _score_* methods.
type MomentumAgent struct{}

func NewMomentumAgent() *MomentumAgent { return &MomentumAgent{} }

func (a *MomentumAgent) Name() types.AgentName { return types.AgentMomentum }

func (a *MomentumAgent) Analyze(symbol string, bundle *types.DataBundle) types.AgentResult {
	if bundle == nil || len(bundle.History) < 252 {
		return types.DegradedResult("Limited analysis: insufficient price history for momentum analysis").Clamp()
	}
	closes := closesOf(bundle.History)

	returnsScore := scoreReturns(closes)
	maScore := scoreMovingAverages(closes)
	rsScore := scoreRelativeStrength(closes, bundle.Benchmark)
	qualityScore := scoreTrendQuality(closes)

	composite := 0.40*returnsScore + 0.30*maScore + 0.20*rsScore + 0.10*qualityScore
	confidence := momentumConfidence(closes)

	n := len(closes)
	ret3m := pctChange(closes[n-1], closes[n-63])
	ret6m := pctChange(closes[n-1], closes[n-126])
	ret12m := pctChange(closes[n-1], closes[n-252])
	ma50 := mean(closes[n-50:])
	ma200 := mean(closes[n-200:])

	metrics := map[string]float64{
		"returns":            returnsScore,
		"moving_averages":    maScore,
		"relative_strength":  rsScore,
		"trend_quality":      qualityScore,
		"3m_return":          ret3m,
		"6m_return":          ret6m,
		"12m_return":         ret12m,
		"price_vs_ma50":      (closes[n-1]/ma50 - 1) * 100,
		"price_vs_ma200":     (closes[n-1]/ma200 - 1) * 100,
	}

	reasoning := buildMomentumReasoning(returnsScore, maScore, rsScore, qualityScore)

	return types.AgentResult{
		Score:      clampScore(composite),
		Confidence: confidence,
		Metrics:    metrics,
		Reasoning:  reasoning,
	}.Clamp()
}

func pctChange(cur, past float64) float64 {
	if past == 0 {
		return 0
	}
	return (cur - past) / past * 100
}

func mean(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	var sum float64
	for _, v := range vals {
		sum += v
	}
	return sum / float64(len(vals))
}

func scoreReturns(closes []float64) float64 {
	n := len(closes)
	var score float64

	if n >= 63 {
		ret3m := pctChange(closes[n-1], closes[n-63])
		switch {
		case ret3m > 15:
			score += 25
		case ret3m > 10:
			score += 20
		case ret3m > 5:
			score += 15
		case ret3m > 0:
			score += 10
		}
	}
	if n >= 126 {
		ret6m := pctChange(closes[n-1], closes[n-126])
		switch {
		case ret6m > 20:
			score += 35
		case ret6m > 15:
			score += 25
		case ret6m > 10:
			score += 20
		case ret6m > 0:
			score += 10
		}
	}
	if n >= 252 {
		ret12m := pctChange(closes[n-1], closes[n-252])
		switch {
		case ret12m > 30:
			score += 40
		case ret12m > 20:
			score += 30
		case ret12m > 10:
			score += 20
		case ret12m > 0:
			score += 10
		}
	}
	return math.Min(score, 100)
}

func scoreMovingAverages(closes []float64) float64 {
	n := len(closes)
	if n == 0 {
		return 0
	}
	current := closes[n-1]
	if current <= 0 {
		return 0
	}

	var score float64
	var ma50, ma200 float64
	haveMA50, haveMA200 := false, false

	if n >= 50 {
		ma50 = mean(closes[n-50:])
		haveMA50 = ma50 > 0
		if haveMA50 {
			diff50 := (current/ma50 - 1) * 100
			switch {
			case diff50 > 10:
				score += 40
			case diff50 > 5:
				score += 30
			case diff50 > 0:
				score += 20
			case diff50 > -5:
				score += 10
			}
		}
	}
	if n >= 200 {
		ma200 = mean(closes[n-200:])
		haveMA200 = ma200 > 0
		if haveMA200 {
			diff200 := (current/ma200 - 1) * 100
			switch {
			case diff200 > 15:
				score += 40
			case diff200 > 10:
				score += 30
			case diff200 > 5:
				score += 20
			case diff200 > 0:
				score += 10
			}
		}
		if haveMA50 && haveMA200 && ma50 > ma200 {
			score += 20
		}
	}
	return math.Min(score, 100)
}

// scoreRelativeStrength compares the stock's 6-month return against a
// benchmark series; absent a benchmark it falls back to the stock's own
// 6-month momentum as a proxy, per the original's fallback path.
func scoreRelativeStrength(closes []float64, benchmark []types.Bar) float64 {
	if len(benchmark) == 0 {
		return fallbackRelativeStrength(closes)
	}
	benchCloses := closesOf(benchmark)
	minLen := len(closes)
	if len(benchCloses) < minLen {
		minLen = len(benchCloses)
	}
	if minLen < 126 {
		return 50
	}
	stockAligned := closes[len(closes)-minLen:]
	benchAligned := benchCloses[len(benchCloses)-minLen:]

	stockRet := (stockAligned[minLen-1] - stockAligned[minLen-126]) / stockAligned[minLen-126]
	benchRet := (benchAligned[minLen-1] - benchAligned[minLen-126]) / benchAligned[minLen-126]
	relStrength := (stockRet - benchRet) * 100

	switch {
	case relStrength > 20:
		return 100
	case relStrength > 10:
		return 80
	case relStrength > 5:
		return 60
	case relStrength > 0:
		return 50
	case relStrength > -5:
		return 40
	case relStrength > -10:
		return 30
	default:
		return 20
	}
}

func fallbackRelativeStrength(closes []float64) float64 {
	n := len(closes)
	if n < 126 {
		return 50
	}
	momentum6m := pctChange(closes[n-1], closes[n-126])
	switch {
	case momentum6m > 25:
		return 75
	case momentum6m > 15:
		return 65
	case momentum6m > 5:
		return 55
	case momentum6m > -5:
		return 45
	case momentum6m > -15:
		return 35
	default:
		return 25
	}
}

func scoreTrendQuality(closes []float64) float64 {
	n := len(closes)
	var score float64

	if n >= 60 {
		positive := 0
		total := 0
		for i := n - 20; i < n; i++ {
			ret := (closes[i] - closes[i-20]) / closes[i-20]
			total++
			if ret > 0 {
				positive++
			}
		}
		ratio := float64(positive) / float64(total)
		switch {
		case ratio > 0.8:
			score += 50
		case ratio > 0.6:
			score += 40
		case ratio > 0.5:
			score += 30
		}
	}

	if n >= 30 {
		window := closes[n-30:]
		rets := make([]float64, 0, len(window)-1)
		for i := 1; i < len(window); i++ {
			rets = append(rets, (window[i]-window[i-1])/window[i-1])
		}
		vol := stdDev(rets)
		switch {
		case vol < 0.02:
			score += 50
		case vol < 0.03:
			score += 30
		case vol < 0.04:
			score += 20
		}
	}
	return math.Min(score, 100)
}

func stdDev(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	m := mean(vals)
	var sumSq float64
	for _, v := range vals {
		d := v - m
		sumSq += d * d
	}
	return math.Sqrt(sumSq / float64(len(vals)))
}

func momentumConfidence(closes []float64) float64 {
	n := len(closes)
	switch {
	case n < 63:
		return 0.3
	case n < 126:
		return 0.5
	case n < 252:
		return 0.7
	}
	ret3m := (closes[n-1] - closes[n-63]) / closes[n-63]
	ret6m := (closes[n-1] - closes[n-126]) / closes[n-126]
	ret12m := (closes[n-1] - closes[n-252]) / closes[n-252]
	if (ret3m > 0 && ret6m > 0 && ret12m > 0) || (ret3m < 0 && ret6m < 0 && ret12m < 0) {
		return 0.95
	}
	return 0.75
}

func buildMomentumReasoning(returns, ma, rs, quality float64) string {
	var reasons []string
	switch {
	case returns > 70:
		reasons = append(reasons, "strong returns across all timeframes")
	case returns > 50:
		reasons = append(reasons, "positive momentum")
	case returns < 30:
		reasons = append(reasons, "weak returns")
	}
	switch {
	case ma > 70:
		reasons = append(reasons, "strong uptrend vs moving averages")
	case ma > 50:
		reasons = append(reasons, "above moving averages")
	case ma < 30:
		reasons = append(reasons, "below moving averages")
	}
	switch {
	case rs > 70:
		reasons = append(reasons, "outperforming benchmark")
	case rs < 40:
		reasons = append(reasons, "underperforming benchmark")
	}
	switch {
	case quality > 70:
		reasons = append(reasons, "consistent trend")
	case quality < 30:
		reasons = append(reasons, "choppy price action")
	}
	if len(reasons) == 0 {
		return "Mixed momentum signals"
	}
	return capitalizeJoin(reasons)
}
