package backtester

import (
	"math"
	"time"

	"github.com/shopspring/decimal"

	"github.com/marcusvale/equityscore/pkg/types"
	"github.com/marcusvale/equityscore/pkg/utils"
)

// MetricsCalculator derives PerformanceMetrics from a completed
// backtest's trade log and equity curve.
//
// Grounded in the teacher's internal/backtester/metrics.go
// (MetricsCalculator.Calculate): the expectancy formula and the
// Sharpe/Sortino annualization (daily ratio * sqrt(252)) are kept
// verbatim; win rate, profit factor, and max drawdown now delegate to
// pkg/utils's decimal equivalents rather than re-deriving them inline.
// CAGR and alpha/beta vs. a benchmark equity curve are new, required
// by spec §4.7 and absent from the teacher (a crypto backtester with
// no benchmark-relative metric).
type MetricsCalculator struct{}

// NewMetricsCalculator constructs a MetricsCalculator.
func NewMetricsCalculator() *MetricsCalculator { return &MetricsCalculator{} }

// Calculate computes PerformanceMetrics from trades and equityCurve.
// benchmarkCurve, if non-empty, must align index-for-index with
// equityCurve (same sampling dates) and is used for alpha/beta.
func (mc *MetricsCalculator) Calculate(trades []types.Trade, equityCurve []types.EquityPoint, benchmarkCurve []types.EquityPoint, initialCapital decimal.Decimal) types.PerformanceMetrics {
	var metrics types.PerformanceMetrics
	if len(equityCurve) == 0 {
		return metrics
	}

	var winning, losing int
	var totalWins, totalLosses, largestWin, largestLoss decimal.Decimal
	pnls := make([]decimal.Decimal, len(trades))
	for i, t := range trades {
		pnls[i] = t.PnL
		switch {
		case t.PnL.GreaterThan(decimal.Zero):
			winning++
			totalWins = totalWins.Add(t.PnL)
			if t.PnL.GreaterThan(largestWin) {
				largestWin = t.PnL
			}
		case t.PnL.LessThan(decimal.Zero):
			losing++
			totalLosses = totalLosses.Add(t.PnL.Abs())
			if t.PnL.Abs().GreaterThan(largestLoss) {
				largestLoss = t.PnL.Abs()
			}
		}
	}

	metrics.TotalTrades = len(trades)
	metrics.WinningTrades = winning
	metrics.LosingTrades = losing
	metrics.LargestWin = largestWin
	metrics.LargestLoss = largestLoss

	if metrics.TotalTrades > 0 {
		metrics.WinRate = utils.CalculateWinRate(pnls)
	}
	if winning > 0 {
		metrics.AvgWin = totalWins.Div(decimal.NewFromInt(int64(winning)))
	}
	if losing > 0 {
		metrics.AvgLoss = totalLosses.Div(decimal.NewFromInt(int64(losing)))
	}
	if !totalLosses.IsZero() {
		metrics.ProfitFactor = utils.CalculateProfitFactor(pnls)
	}
	if metrics.TotalTrades > 0 {
		lossPct := decimal.NewFromInt(1).Sub(metrics.WinRate)
		metrics.Expectancy = metrics.WinRate.Mul(metrics.AvgWin).Sub(lossPct.Mul(metrics.AvgLoss))
	}

	if !initialCapital.IsZero() {
		finalEquity := equityCurve[len(equityCurve)-1].Equity
		metrics.TotalReturn = finalEquity.Sub(initialCapital).Div(initialCapital)
	}

	returns := dailyReturns(equityCurve)

	years := yearsSpanned(equityCurve)
	if years > 0 && !initialCapital.IsZero() {
		finalEquity := equityCurve[len(equityCurve)-1].Equity
		ratio, _ := finalEquity.Div(initialCapital).Float64()
		if ratio > 0 {
			metrics.CAGR = decimal.NewFromFloat(math.Pow(ratio, 1/years) - 1)
		}
	}
	if len(returns) > 0 {
		metrics.AnnualizedReturn = decimal.NewFromFloat(mean(returns) * 252)
	}

	if len(returns) > 1 {
		avg, sd := mean(returns), stdDevMetric(returns)
		if sd > 0 {
			metrics.SharpeRatio = decimal.NewFromFloat(avg / sd * math.Sqrt(252))
		}
		if dd := downsideDeviation(returns); dd > 0 {
			metrics.SortinoRatio = decimal.NewFromFloat(avg / dd * math.Sqrt(252))
		}
	}

	equities := make([]decimal.Decimal, len(equityCurve))
	for i, p := range equityCurve {
		equities[i] = p.Equity
	}
	metrics.MaxDrawdown = utils.CalculateMaxDrawdown(equities)
	if !metrics.MaxDrawdown.IsZero() {
		metrics.CalmarRatio = metrics.AnnualizedReturn.Div(metrics.MaxDrawdown)
	}

	if len(benchmarkCurve) == len(equityCurve) && len(equityCurve) > 1 {
		benchReturns := dailyReturns(benchmarkCurve)
		alpha, beta := alphaBeta(returns, benchReturns)
		metrics.Alpha = decimal.NewFromFloat(alpha * 252)
		metrics.Beta = decimal.NewFromFloat(beta)
	}

	if metrics.TotalTrades > 0 {
		metrics.AvgHoldingTime = holdingTimeAvg(trades)
	}

	return metrics
}

func dailyReturns(curve []types.EquityPoint) []float64 {
	if len(curve) < 2 {
		return nil
	}
	returns := make([]float64, 0, len(curve)-1)
	for i := 1; i < len(curve); i++ {
		prev := curve[i-1].Equity
		if prev.IsZero() {
			continue
		}
		ret, _ := curve[i].Equity.Sub(prev).Div(prev).Float64()
		returns = append(returns, ret)
	}
	return returns
}

func yearsSpanned(curve []types.EquityPoint) float64 {
	if len(curve) < 2 {
		return 0
	}
	span := curve[len(curve)-1].Date.Sub(curve[0].Date)
	return span.Hours() / (24 * 365.25)
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func stdDevMetric(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	avg := mean(values)
	var sumSq float64
	for _, v := range values {
		d := v - avg
		sumSq += d * d
	}
	return math.Sqrt(sumSq / float64(len(values)-1))
}

func downsideDeviation(returns []float64) float64 {
	var negative []float64
	for _, r := range returns {
		if r < 0 {
			negative = append(negative, r)
		}
	}
	if len(negative) == 0 {
		return 0
	}
	return stdDevMetric(negative)
}

// alphaBeta regresses portfolio daily returns against benchmark daily
// returns: beta is the regression slope, alpha the daily intercept.
func alphaBeta(portfolioReturns, benchmarkReturns []float64) (alpha, beta float64) {
	n := len(portfolioReturns)
	if n > len(benchmarkReturns) {
		n = len(benchmarkReturns)
	}
	if n < 2 {
		return 0, 0
	}
	var sumX, sumY, sumXY, sumXX float64
	for i := 0; i < n; i++ {
		x, y := benchmarkReturns[i], portfolioReturns[i]
		sumX += x
		sumY += y
		sumXY += x * y
		sumXX += x * x
	}
	nf := float64(n)
	denom := nf*sumXX - sumX*sumX
	if denom == 0 {
		return 0, 0
	}
	beta = (nf*sumXY - sumX*sumY) / denom
	alpha = (sumY - beta*sumX) / nf
	return alpha, beta
}

func holdingTimeAvg(trades []types.Trade) time.Duration {
	entries := map[string]time.Time{}
	var total time.Duration
	var count int
	for _, t := range trades {
		if t.Side == types.TradeSideBuy {
			if _, ok := entries[t.Symbol]; !ok {
				entries[t.Symbol] = t.Timestamp
			}
			continue
		}
		if entry, ok := entries[t.Symbol]; ok {
			total += t.Timestamp.Sub(entry)
			count++
			delete(entries, t.Symbol)
		}
	}
	if count == 0 {
		return 0
	}
	return total / time.Duration(count)
}
