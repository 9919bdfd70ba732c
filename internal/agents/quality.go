package agents

import (
	"math"

	"github.com/marcusvale/equityscore/pkg/types"
)

// QualityAgent scores business quality: market position, earnings
// stability, competitive moat, and cash-generation quality.
//
// Ported from original_source/agents/quality_agent.py: the
// 30/30/20/20 sub-weighting and every score-banding threshold below
// are taken directly from that file's _score_* methods. The original's
// share-buyback sub-item is dropped — a point-in-time snapshot carries
// no prior-period shares-outstanding to diff against.
type QualityAgent struct{}

func NewQualityAgent() *QualityAgent { return &QualityAgent{} }

func (a *QualityAgent) Name() types.AgentName { return types.AgentQuality }

func (a *QualityAgent) Analyze(symbol string, bundle *types.DataBundle) types.AgentResult {
	if bundle == nil || bundle.Info == nil {
		return types.DegradedResult("Limited analysis: no fundamentals snapshot available").Clamp()
	}
	info := bundle.Info

	marketPosition := scoreMarketPosition(info)
	stability := scoreStability(info, bundle.Financials)
	moat := scoreCompetitiveMoat(info)
	qualityMetrics := scoreQualityMetrics(info)

	composite := 0.30*marketPosition + 0.30*stability + 0.20*moat + 0.20*qualityMetrics
	confidence := qualityConfidence(info, bundle.Financials)

	metrics := map[string]float64{
		"market_position":   marketPosition,
		"stability":         stability,
		"competitive_moat":  moat,
		"quality_metrics":    qualityMetrics,
		"market_cap":        valOr(info.MarketCap, 0),
		"profit_margin":     pctOr(info.ProfitMargins, 0),
	}

	reasoning := buildQualityReasoning(marketPosition, stability, moat, qualityMetrics)

	return types.AgentResult{
		Score:      clampScore(composite),
		Confidence: confidence,
		Metrics:    metrics,
		Reasoning:  reasoning,
	}.Clamp()
}

func scoreMarketPosition(info *types.FundamentalsSnapshot) float64 {
	var score float64
	marketCap := valOr(info.MarketCap, 0)
	switch {
	case marketCap > 500e9:
		score += 50
	case marketCap > 200e9:
		score += 40
	case marketCap > 100e9:
		score += 30
	case marketCap > 50e9:
		score += 20
	default:
		score += 10
	}

	switch info.Sector {
	case "Technology", "Healthcare", "Financial", "Financial Services":
		score += 20
	}

	switch info.Exchange {
	case "NMS", "NYQ", "NASDAQ", "NYSE":
		score += 20
	}

	if info.Sector != "" {
		score += 10
	}

	return math.Min(score, 100)
}

func scoreStability(info *types.FundamentalsSnapshot, financials *types.FinancialStatement) float64 {
	var score float64

	if financials != nil {
		if revenues, ok := financials.Rows["Total Revenue"]; ok && len(revenues) >= 3 {
			changes := make([]float64, 0, len(revenues)-1)
			valid := true
			for i := 0; i < len(revenues)-1; i++ {
				if revenues[i] == nil || revenues[i+1] == nil || *revenues[i+1] == 0 {
					valid = false
					break
				}
				changes = append(changes, (*revenues[i]-*revenues[i+1])/ *revenues[i+1])
			}
			if valid && len(changes) > 0 {
				volatility := stdDev(changes)
				switch {
				case volatility < 0.1:
					score += 40
				case volatility < 0.2:
					score += 30
				case volatility < 0.3:
					score += 20
				}
				allPositive := true
				for _, c := range changes {
					if c <= 0 {
						allPositive = false
						break
					}
				}
				if allPositive {
					score += 20
				}
			}
		}
	}

	profitMargin := valOr(info.ProfitMargins, 0)
	switch {
	case profitMargin > 0.15:
		score += 40
	case profitMargin > 0.10:
		score += 30
	case profitMargin > 0.05:
		score += 20
	}

	return math.Min(score, 100)
}

func scoreCompetitiveMoat(info *types.FundamentalsSnapshot) float64 {
	var score float64

	grossMargin := valOr(info.GrossMargins, 0)
	switch {
	case grossMargin > 0.50:
		score += 40
	case grossMargin > 0.40:
		score += 30
	case grossMargin > 0.30:
		score += 20
	}

	opMargin := valOr(info.OperatingMargins, 0)
	switch {
	case opMargin > 0.25:
		score += 30
	case opMargin > 0.20:
		score += 20
	case opMargin > 0.15:
		score += 10
	}

	roa := valOr(info.ReturnOnAssets, 0)
	switch {
	case roa > 0.15:
		score += 30
	case roa > 0.10:
		score += 20
	case roa > 0.05:
		score += 10
	}

	return math.Min(score, 100)
}

func scoreQualityMetrics(info *types.FundamentalsSnapshot) float64 {
	var score float64

	roe := valOr(info.ReturnOnEquity, 0)
	switch {
	case roe > 0.20:
		score += 40
	case roe > 0.15:
		score += 30
	case roe > 0.10:
		score += 20
	}

	fcf := valOr(info.FreeCashflow, 0)
	marketCap := valOr(info.MarketCap, 0)
	if fcf > 0 && marketCap > 0 {
		fcfYield := fcf / marketCap * 100
		switch {
		case fcfYield > 5:
			score += 40
		case fcfYield > 3:
			score += 30
		case fcfYield > 1:
			score += 20
		}
	}

	return math.Min(score, 100)
}

func qualityConfidence(info *types.FundamentalsSnapshot, financials *types.FinancialStatement) float64 {
	present := 0
	total := 0
	for _, v := range []*float64{
		info.MarketCap, info.ProfitMargins, info.GrossMargins, info.OperatingMargins,
		info.ReturnOnEquity, info.ReturnOnAssets, info.FreeCashflow,
	} {
		total++
		if v != nil {
			present++
		}
	}
	total++
	if financials != nil && len(financials.Rows) > 0 {
		present++
	}
	return coverage(present, total)
}

func buildQualityReasoning(market, stability, moat, quality float64) string {
	var reasons []string
	switch {
	case market > 70:
		reasons = append(reasons, "strong market position")
	case market < 40:
		reasons = append(reasons, "smaller market presence")
	}
	switch {
	case stability > 70:
		reasons = append(reasons, "highly stable business")
	case stability > 50:
		reasons = append(reasons, "stable operations")
	case stability < 30:
		reasons = append(reasons, "volatile business")
	}
	switch {
	case moat > 70:
		reasons = append(reasons, "strong competitive moat")
	case moat > 50:
		reasons = append(reasons, "good competitive position")
	case moat < 30:
		reasons = append(reasons, "weak competitive advantages")
	}
	switch {
	case quality > 70:
		reasons = append(reasons, "excellent quality metrics")
	case quality < 40:
		reasons = append(reasons, "mixed quality signals")
	}
	if len(reasons) == 0 {
		return "Average quality business"
	}
	return capitalizeJoin(reasons)
}
