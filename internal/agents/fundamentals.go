package agents

import (
	"github.com/marcusvale/equityscore/pkg/types"
)

// FundamentalsAgent scores profitability, growth, financial health, and
// valuation from a symbol's fundamentals snapshot and statement tables.
// Price history is unused.
//
// Ported from original_source/stock_picker/agents/fundamentals_agent.py:
// the four equal-weight sub-scores and every threshold band below are
// taken directly from that file's _score_* methods.
type FundamentalsAgent struct{}

func NewFundamentalsAgent() *FundamentalsAgent { return &FundamentalsAgent{} }

func (a *FundamentalsAgent) Name() types.AgentName { return types.AgentFundamentals }

func (a *FundamentalsAgent) Analyze(symbol string, bundle *types.DataBundle) types.AgentResult {
	if bundle == nil || bundle.Info == nil {
		return types.DegradedResult("Limited analysis: no fundamentals snapshot available").Clamp()
	}
	info := bundle.Info

	profitability := scoreProfitability(info)
	growth := scoreGrowth(info, bundle.Financials)
	health := scoreFinancialHealth(info)
	valuation := scoreValuation(info)

	composite := (profitability + growth + health + valuation) / 4.0
	confidence := fundamentalsConfidence(info, bundle)

	reasoning := buildFundamentalsReasoning(profitability, growth, health, valuation)

	metrics := map[string]float64{
		"profitability":     profitability,
		"growth":            growth,
		"financial_health":  health,
		"valuation":         valuation,
		"roe":               pctOr(info.ReturnOnEquity, 0),
		"net_margin":        pctOr(info.ProfitMargins, 0),
		"revenue_growth":    pctOr(info.RevenueGrowth, 0),
		"debt_to_equity":    valOr(info.DebtToEquity, 0),
		"pe_ratio":          valOr(info.TrailingPE, 0),
	}

	return types.AgentResult{
		Score:      clampScore(composite),
		Confidence: confidence,
		Metrics:    metrics,
		Reasoning:  reasoning,
	}.Clamp()
}

func valOr(v *float64, def float64) float64 {
	if v == nil {
		return def
	}
	return *v
}

func pctOr(v *float64, def float64) float64 {
	if v == nil {
		return def
	}
	return *v * 100
}

func scoreProfitability(info *types.FundamentalsSnapshot) float64 {
	var score float64
	roe := pctOr(info.ReturnOnEquity, 0)
	switch {
	case roe > 20:
		score += 40
	case roe > 15:
		score += 30
	case roe > 10:
		score += 20
	case roe > 5:
		score += 10
	}
	netMargin := pctOr(info.ProfitMargins, 0)
	switch {
	case netMargin > 20:
		score += 30
	case netMargin > 15:
		score += 20
	case netMargin > 10:
		score += 15
	case netMargin > 5:
		score += 10
	}
	opMargin := pctOr(info.OperatingMargins, 0)
	switch {
	case opMargin > 25:
		score += 30
	case opMargin > 20:
		score += 20
	case opMargin > 15:
		score += 15
	case opMargin > 10:
		score += 10
	}
	if score > 100 {
		score = 100
	}
	return score
}

func scoreGrowth(info *types.FundamentalsSnapshot, financials *types.FinancialStatement) float64 {
	var score float64
	revGrowth := pctOr(info.RevenueGrowth, 0)
	switch {
	case revGrowth > 20:
		score += 40
	case revGrowth > 15:
		score += 30
	case revGrowth > 10:
		score += 20
	case revGrowth > 5:
		score += 10
	}
	earnGrowth := pctOr(info.EarningsGrowth, 0)
	switch {
	case earnGrowth > 20:
		score += 40
	case earnGrowth > 15:
		score += 30
	case earnGrowth > 10:
		score += 20
	case earnGrowth > 5:
		score += 10
	}
	if financials != nil {
		if equity, ok := financials.Rows["Total Stockholder Equity"]; ok && len(equity) >= 2 && equity[0] != nil && equity[1] != nil && *equity[1] != 0 {
			equityGrowth := (*equity[0] - *equity[1]) / *equity[1] * 100
			switch {
			case equityGrowth > 15:
				score += 20
			case equityGrowth > 10:
				score += 15
			case equityGrowth > 5:
				score += 10
			}
		}
	}
	if score > 100 {
		score = 100
	}
	return score
}

func scoreFinancialHealth(info *types.FundamentalsSnapshot) float64 {
	var score float64
	currentRatio := valOr(info.CurrentRatio, 0)
	switch {
	case currentRatio > 2.0:
		score += 35
	case currentRatio > 1.5:
		score += 25
	case currentRatio > 1.0:
		score += 15
	}
	dte := valOr(info.DebtToEquity, 0)
	switch {
	case dte < 0.5:
		score += 35
	case dte < 1.0:
		score += 25
	case dte < 2.0:
		score += 15
	case dte < 3.0:
		score += 5
	}
	fcf := valOr(info.FreeCashflow, 0)
	if fcf > 0 {
		score += 30
		marketCap := valOr(info.MarketCap, 1)
		if marketCap > 0 {
			fcfYield := fcf / marketCap * 100
			if fcfYield > 5 {
				score += 10
			}
		}
	}
	if score > 100 {
		score = 100
	}
	return score
}

func scoreValuation(info *types.FundamentalsSnapshot) float64 {
	var score float64
	pe := valOr(info.TrailingPE, 0)
	switch {
	case pe > 0 && pe < 15:
		score += 40
	case pe < 20:
		score += 30
	case pe < 25:
		score += 20
	case pe < 30:
		score += 10
	}
	pb := valOr(info.PriceToBook, 0)
	switch {
	case pb > 0 && pb < 2:
		score += 30
	case pb < 3:
		score += 20
	case pb < 5:
		score += 10
	}
	peg := valOr(info.PEGRatio, 0)
	switch {
	case peg > 0 && peg < 1:
		score += 30
	case peg < 1.5:
		score += 20
	case peg < 2:
		score += 10
	}
	if score > 100 {
		score = 100
	}
	return score
}

func fundamentalsConfidence(info *types.FundamentalsSnapshot, bundle *types.DataBundle) float64 {
	present := 0
	total := 0
	for _, v := range []*float64{
		info.ReturnOnEquity, info.ProfitMargins, info.OperatingMargins,
		info.RevenueGrowth, info.EarningsGrowth,
		info.CurrentRatio, info.DebtToEquity, info.FreeCashflow,
		info.TrailingPE, info.PriceToBook, info.PEGRatio,
	} {
		total++
		if v != nil {
			present++
		}
	}
	total++
	if bundle.Financials != nil && len(bundle.Financials.Rows) > 0 {
		present++
	}
	total++
	if bundle.BalanceSheet != nil && len(bundle.BalanceSheet.Rows) > 0 {
		present++
	}
	return coverage(present, total)
}

func buildFundamentalsReasoning(prof, growth, health, val float64) string {
	var reasons []string
	switch {
	case prof > 70:
		reasons = append(reasons, "excellent profitability")
	case prof > 50:
		reasons = append(reasons, "good profitability")
	case prof < 30:
		reasons = append(reasons, "weak profitability")
	}
	switch {
	case growth > 70:
		reasons = append(reasons, "strong growth")
	case growth > 50:
		reasons = append(reasons, "moderate growth")
	case growth < 30:
		reasons = append(reasons, "low growth")
	}
	switch {
	case health > 70:
		reasons = append(reasons, "solid financial health")
	case health > 50:
		reasons = append(reasons, "adequate financial health")
	case health < 30:
		reasons = append(reasons, "weak balance sheet")
	}
	switch {
	case val > 70:
		reasons = append(reasons, "attractive valuation")
	case val > 50:
		reasons = append(reasons, "fair valuation")
	case val < 30:
		reasons = append(reasons, "expensive valuation")
	}
	if len(reasons) == 0 {
		return "Mixed signals"
	}
	return capitalizeJoin(reasons)
}
