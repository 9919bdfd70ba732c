package agents

import (
	"fmt"
	"math"

	"github.com/marcusvale/equityscore/pkg/types"
)

// InstitutionalFlowAgent scores a symbol's institutional ("smart money")
// flow from volume-derived indicators: OBV/AD trend, MFI/CMF banding,
// unusual volume activity, and VWAP positioning.
//
// Ported faithfully (not translated line-for-line) from
// original_source/agents/institutional_flow_agent.py: the 40/30/20/10
// sub-weighting, the len>=60 confidence gate, and every score-banding
// threshold below are taken directly from that file.
type InstitutionalFlowAgent struct{}

// NewInstitutionalFlowAgent constructs the institutional-flow agent.
func NewInstitutionalFlowAgent() *InstitutionalFlowAgent { return &InstitutionalFlowAgent{} }

func (a *InstitutionalFlowAgent) Name() types.AgentName { return types.AgentInstitutionalFlow }

func (a *InstitutionalFlowAgent) Analyze(symbol string, bundle *types.DataBundle) types.AgentResult {
	if bundle == nil || len(bundle.History) < 60 {
		return types.DegradedResult("Limited analysis: insufficient history for institutional flow analysis").Clamp()
	}

	closes := closesOf(bundle.History)
	volumes := volumesOf(bundle.History)

	obv, obvOK := bundle.IndicatorSeries("obv")
	ad, adOK := bundle.IndicatorSeries("ad")
	mfi, mfiOK := bundle.IndicatorSeries("mfi_14")
	cmf, cmfOK := bundle.IndicatorSeries("cmf_20")
	vwap, vwapOK := bundle.IndicatorSeries("vwap")
	zscore, zscoreOK := bundle.IndicatorSeries("volume_zscore")

	flowScore := scoreVolumeFlow(obv, ad)
	moneyFlowScore := scoreMoneyFlow(mfi, cmf)
	unusualScore := scoreUnusualActivity(zscore, volumes)
	vwapScore := scoreVWAP(closes, vwap)

	composite := 0.40*flowScore + 0.30*moneyFlowScore + 0.20*unusualScore + 0.10*vwapScore

	present := 0
	for _, ok := range []bool{obvOK, adOK, mfiOK, cmfOK, vwapOK, zscoreOK} {
		if ok {
			present++
		}
	}
	confidence := coverage(present, 6)

	metrics := map[string]float64{
		"volume_flow":       flowScore,
		"money_flow":        moneyFlowScore,
		"unusual_activity":  unusualScore,
		"vwap_position":     vwapScore,
		"volume_zscore":     lastOrZero(zscore),
		"mfi":               lastOrDefault(mfi, 50),
		"cmf":               lastOrZero(cmf),
	}

	reasoning := fmt.Sprintf(
		"Institutional flow: volume_flow=%.0f money_flow=%.0f unusual_activity=%.0f vwap=%.0f",
		flowScore, moneyFlowScore, unusualScore, vwapScore,
	)

	return types.AgentResult{
		Score:      clampScore(composite),
		Confidence: confidence,
		Metrics:    metrics,
		Reasoning:  reasoning,
	}.Clamp()
}

func scoreVolumeFlow(obv, ad []*float64) float64 {
	var score float64
	if trend, ok := trendOf(obv); ok {
		score += bandTrend50(trend)
	}
	if trend, ok := trendOf(ad); ok {
		score += bandTrend50(trend)
	}
	return math.Min(score, 100)
}

func bandTrend50(trend float64) float64 {
	switch {
	case trend > 0.10:
		return 50
	case trend > 0.05:
		return 35
	case trend > 0:
		return 20
	case trend > -0.05:
		return 10
	default:
		return 0
	}
}

func scoreMoneyFlow(mfi, cmf []*float64) float64 {
	var score float64
	if v, ok := lastValid(mfi); ok {
		switch {
		case v >= 40 && v <= 60:
			score += 30
		case v >= 30 && v < 40:
			score += 40
		case v >= 20 && v < 30:
			score += 50
		case v > 60 && v <= 70:
			score += 35
		case v > 70 && v <= 80:
			score += 20
		default:
			score += 10
		}
	}
	if v, ok := lastValid(cmf); ok {
		switch {
		case v > 0.15:
			score += 50
		case v > 0.05:
			score += 40
		case v > 0:
			score += 30
		case v > -0.05:
			score += 20
		case v > -0.15:
			score += 10
		}
	}
	return math.Min(score, 100)
}

func scoreUnusualActivity(zscore []*float64, volumes []float64) float64 {
	var score float64
	if v, ok := lastValid(zscore); ok {
		switch {
		case v > 3.0:
			score += 70
		case v > 2.0:
			score += 60
		case v > 1.5:
			score += 50
		case v > 1.0:
			score += 40
		case v > 0.5:
			score += 30
		default:
			score += 20
		}
	}
	if len(volumes) >= 20 {
		if trend, ok := trendOfFloats(volumes); ok {
			switch {
			case trend > 0.20:
				score += 30
			case trend > 0.10:
				score += 20
			case trend > 0:
				score += 10
			}
		}
	}
	return math.Min(score, 100)
}

func scoreVWAP(closes []float64, vwap []*float64) float64 {
	v, ok := lastValid(vwap)
	if !ok || len(closes) == 0 || v == 0 {
		return 50
	}
	price := closes[len(closes)-1]
	diffPct := (price/v - 1) * 100
	switch {
	case diffPct > 5:
		return 100
	case diffPct > 2:
		return 80
	case diffPct > 0:
		return 60
	case diffPct > -2:
		return 40
	case diffPct > -5:
		return 20
	default:
		return 0
	}
}

// trendOf computes a linear-regression-slope trend normalized by the
// series mean, over the trailing 60 observations, per
// original_source's _calculate_trend.
func trendOf(series []*float64) (float64, bool) {
	if len(series) < 20 {
		return 0, false
	}
	window := series
	if len(window) > 60 {
		window = window[len(window)-60:]
	}
	vals := make([]float64, 0, len(window))
	for _, v := range window {
		if v != nil {
			vals = append(vals, *v)
		}
	}
	return trendOfFloats(vals)
}

func trendOfFloats(vals []float64) (float64, bool) {
	n := len(vals)
	if n < 2 {
		return 0, false
	}
	window := vals
	if n > 60 {
		window = vals[n-60:]
		n = 60
	}
	var sumX, sumY, sumXY, sumXX float64
	for i, y := range window {
		x := float64(i)
		sumX += x
		sumY += y
		sumXY += x * y
		sumXX += x * x
	}
	nf := float64(n)
	denom := nf*sumXX - sumX*sumX
	if denom == 0 {
		return 0, true
	}
	slope := (nf*sumXY - sumX*sumY) / denom
	mean := sumY / nf
	if mean == 0 {
		return 0, true
	}
	return slope / math.Abs(mean), true
}

func lastValid(series []*float64) (float64, bool) {
	for i := len(series) - 1; i >= 0; i-- {
		if series[i] != nil {
			return *series[i], true
		}
	}
	return 0, false
}

func lastOrZero(series []*float64) float64 {
	v, ok := lastValid(series)
	if !ok {
		return 0
	}
	return v
}

func lastOrDefault(series []*float64, def float64) float64 {
	v, ok := lastValid(series)
	if !ok {
		return def
	}
	return v
}

func closesOf(bars []types.Bar) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i], _ = b.Close.Float64()
	}
	return out
}

func volumesOf(bars []types.Bar) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i], _ = b.Volume.Float64()
	}
	return out
}
