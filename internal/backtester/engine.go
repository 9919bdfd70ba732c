// Package backtester implements the Backtest Engine: a rebalance-driven
// event loop that walks a historical calendar, scores the universe via
// the Scorer, applies Risk Manager constraints, trades at each day's
// close net of commission and slippage, and between rebalances updates
// marks, trailing stops, and the equity curve (spec §4.7).
package backtester

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/marcusvale/equityscore/internal/provider"
	"github.com/marcusvale/equityscore/internal/risk"
	"github.com/marcusvale/equityscore/internal/scorer"
	"github.com/marcusvale/equityscore/pkg/utils"
	"github.com/marcusvale/equityscore/pkg/types"
)

// EngineVersion is recorded in every BacktestResult's metadata.
const EngineVersion = "1.0.0"

// Engine drives one backtest run to completion. It is not safe for
// concurrent Run calls on the same Engine — construct one per run (per
// spec §5's "engine's own goroutine is the sole mutator").
//
// Grounded in the teacher's internal/backtester/engine.go: the overall
// shape (load data → loop over dates → accumulate trades/equity curve
// → compute metrics → assemble BacktestResult) is kept; its generic
// tick-level event queue (MarketData/Signal/Order/Fill/Risk/KillSwitch
// events, a crypto strategy's natural granularity) is replaced by a
// calendar walk with periodic rebalances, which is what spec §4.7 asks
// for instead.
type Engine struct {
	logger          *zap.Logger
	prov            provider.Provider
	scorer          *scorer.Scorer
	riskMgr         *risk.Manager
	benchmarkSymbol string

	portfolio *Portfolio
	slippage  SlippageModel
	config    types.BacktestConfig

	// Progress, if non-nil, receives a BacktestProgress snapshot once per
	// trading day. Sends are non-blocking: a slow consumer misses updates
	// rather than stalling the run. Set it before calling Run.
	Progress chan<- types.BacktestProgress
}

// New constructs an Engine. benchmarkSymbol is the index used for the
// equity curve's alpha/beta comparison (e.g. "SPY"); empty defaults to
// "SPY".
func New(logger *zap.Logger, prov provider.Provider, sc *scorer.Scorer, riskMgr *risk.Manager, benchmarkSymbol string) *Engine {
	if benchmarkSymbol == "" {
		benchmarkSymbol = "SPY"
	}
	return &Engine{logger: logger, prov: prov, scorer: sc, riskMgr: riskMgr, benchmarkSymbol: benchmarkSymbol}
}

// Run executes one backtest end to end.
func (e *Engine) Run(ctx context.Context, config types.BacktestConfig) (types.BacktestResult, error) {
	startedAt := time.Now()
	e.config = config
	e.portfolio = NewPortfolio(config.InitialCapital)
	e.slippage = NewSlippageModel(config.Slippage)

	calendar, priceIndex, err := e.loadCalendarAndPrices(ctx, config)
	if err != nil {
		return types.BacktestResult{}, fmt.Errorf("failed to load universe prices: %w", err)
	}
	if len(calendar) == 0 {
		return types.BacktestResult{}, fmt.Errorf("no trading days in [%s, %s]", config.StartDate, config.EndDate)
	}

	benchmarkBars, err := e.prov.History(ctx, e.benchmarkSymbol, config.StartDate, config.EndDate)
	if err != nil && e.logger != nil {
		e.logger.Warn("benchmark history unavailable, alpha/beta will be omitted", zap.String("benchmark", e.benchmarkSymbol), zap.Error(err))
	}
	benchmarkByDate := indexBarsByDate(benchmarkBars)

	var (
		equityCurve     []types.EquityPoint
		benchmarkCurve  []types.EquityPoint
		trades          []types.Trade
		rebalanceEvents []types.RebalanceEvent
		riskEvents      []types.RiskEvent
	)

	var lastPeriodKey string
	for _, day := range calendar {
		select {
		case <-ctx.Done():
			return types.BacktestResult{}, ctx.Err()
		default:
		}

		for symbol, bars := range priceIndex {
			if bar, ok := barOn(bars, day); ok {
				e.portfolio.UpdatePrice(symbol, bar.Close)
			}
		}

		for _, hit := range e.riskMgr.CheckStopLosses(e.portfolio.Positions(), day) {
			if bar, ok := barOn(priceIndex[hit.Symbol], day); ok {
				if trade, ok := e.sellPosition(hit.Symbol, bar, day, "stop_loss"); ok {
					trades = append(trades, trade)
				}
			}
			riskEvents = append(riskEvents, hit.Event)
		}

		if dd := e.riskMgr.CheckDrawdown(e.portfolio.Equity(), day); dd.Event != nil {
			riskEvents = append(riskEvents, *dd.Event)
		}

		periodKey := rebalancePeriodKey(day, config.RebalanceFreq)
		if periodKey != lastPeriodKey {
			lastPeriodKey = periodKey
			event, newRiskEvents, rebalanceTrades, err := e.rebalance(ctx, day, priceIndex)
			if err != nil {
				if e.logger != nil {
					e.logger.Warn("rebalance failed, holding current positions", zap.Time("date", day), zap.Error(err))
				}
			} else {
				rebalanceEvents = append(rebalanceEvents, event)
				riskEvents = append(riskEvents, newRiskEvents...)
				trades = append(trades, rebalanceTrades...)
			}
		}

		equityCurve = append(equityCurve, types.EquityPoint{Date: day, Equity: e.portfolio.Equity(), Cash: e.portfolio.Cash()})
		if bar, ok := benchmarkByDate[day]; ok {
			benchmarkCurve = append(benchmarkCurve, types.EquityPoint{Date: day, Equity: bar.Close})
		}

		if e.Progress != nil {
			pct := float64(len(equityCurve)) / float64(len(calendar)) * 100
			select {
			case e.Progress <- types.BacktestProgress{
				ID:             config.ID,
				Status:         "running",
				Progress:       pct,
				CurrentDate:    day,
				TradesExecuted: len(trades),
				CurrentEquity:  e.portfolio.Equity(),
			}:
			default:
			}
		}
	}

	if len(benchmarkCurve) != len(equityCurve) {
		benchmarkCurve = nil
	}

	metrics := NewMetricsCalculator().Calculate(trades, equityCurve, benchmarkCurve, config.InitialCapital)
	runDuration := time.Since(startedAt)
	if e.logger != nil {
		e.logger.Info("backtest run completed",
			zap.String("id", config.ID),
			zap.Int("trades", len(trades)),
			zap.String("duration", utils.FormatDuration(runDuration)),
		)
	}

	return types.BacktestResult{
		ID:              config.ID,
		Config:          &config,
		Metrics:         &metrics,
		EquityCurve:     equityCurve,
		Trades:          trades,
		RebalanceEvents: rebalanceEvents,
		RiskEvents:      riskEvents,
		StartedAt:       startedAt,
		CompletedAt:     time.Now(),
		Duration:        runDuration,
		EngineVersion:   EngineVersion,
		ProviderVariant: e.prov.Variant(),
		BiasNote:        "price history is truncated at each rebalance date, but fundamentals and analyst-sentiment inputs are one current snapshot rather than point-in-time data, so historical scores carry an upward bias (roughly 5-10%)",
	}, nil
}

// rebalance scores the universe as of day, selects the top-N symbols
// clearing MinCompositeScore, applies sector/position caps, and trades
// the portfolio to the resulting target allocation.
func (e *Engine) rebalance(ctx context.Context, day time.Time, priceIndex map[string][]types.Bar) (types.RebalanceEvent, []types.RiskEvent, []types.Trade, error) {
	var overrideWeights *types.Weights
	if !e.config.AdaptiveWeights {
		static := types.StaticAgentWeights
		overrideWeights = &static
	}

	results := e.scorer.ScoreBatch(ctx, e.config.Universe, day, overrideWeights)

	type candidate struct {
		symbol string
		result types.ScoreResult
	}
	var candidates []candidate
	for symbol, br := range results {
		if br.Err != nil || br.Result.Composite < e.config.MinCompositeScore {
			continue
		}
		if _, ok := priceIndex[symbol]; !ok {
			continue
		}
		if _, ok := barOn(priceIndex[symbol], day); !ok {
			continue
		}
		candidates = append(candidates, candidate{symbol: symbol, result: br.Result})
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].result.Composite > candidates[j].result.Composite })
	if len(candidates) > e.config.TopN {
		candidates = candidates[:e.config.TopN]
	}

	allocations := make(map[string]decimal.Decimal, len(candidates))
	scores := make(map[string]types.ScoreResult, len(candidates))
	if n := len(candidates); n > 0 {
		equalWeight := decimal.NewFromInt(1).Div(decimal.NewFromInt(int64(n)))
		for _, c := range candidates {
			allocations[c.symbol] = equalWeight
			scores[c.symbol] = c.result
		}
	}

	var riskEvents []types.RiskEvent
	allocations, sectorEvents := e.riskMgr.EnforceSectorLimits(allocations, e.config.SectorMap, day)
	riskEvents = append(riskEvents, sectorEvents...)
	allocations, positionEvents := e.riskMgr.EnforcePositionLimits(allocations, day)
	riskEvents = append(riskEvents, positionEvents...)

	targetValue := e.portfolio.Equity()

	current := map[string]bool{}
	for _, pos := range e.portfolio.Positions() {
		current[pos.Symbol] = true
	}

	var bought, sold, held []string
	var trades []types.Trade

	for symbol := range current {
		if _, wanted := allocations[symbol]; !wanted {
			if bar, ok := barOn(priceIndex[symbol], day); ok {
				if trade, ok := e.sellPosition(symbol, bar, day, "rebalance_exit"); ok {
					trades = append(trades, trade)
					sold = append(sold, symbol)
				}
			}
		}
	}

	for symbol, weight := range allocations {
		bar, ok := barOn(priceIndex[symbol], day)
		if !ok {
			continue
		}
		target := targetValue.Mul(weight)
		pos := e.portfolio.Position(symbol)
		var currentValue decimal.Decimal
		if pos != nil {
			currentValue = pos.MarketValue()
		}
		diff := target.Sub(currentValue)

		switch {
		case diff.GreaterThan(decimal.Zero):
			tier := types.QualityTierFor(scores[symbol].PerAgent.Results[types.AgentQuality].Score)
			if trade, ok := e.buyToValue(symbol, diff, bar, day, scores[symbol].Composite, tier, e.config.SectorMap[symbol]); ok {
				trades = append(trades, trade)
				if pos == nil {
					bought = append(bought, symbol)
				} else {
					held = append(held, symbol)
				}
			}
		case diff.LessThan(decimal.Zero):
			if trade, ok := e.sellToValue(symbol, diff.Neg(), bar, day); ok {
				trades = append(trades, trade)
				held = append(held, symbol)
			}
		default:
			held = append(held, symbol)
		}
	}

	event := types.RebalanceEvent{Date: day, Bought: bought, Sold: sold, Held: held}
	return event, riskEvents, trades, nil
}

func (e *Engine) buyToValue(symbol string, value decimal.Decimal, bar types.Bar, day time.Time, score float64, tier types.QualityTier, sector string) (types.Trade, bool) {
	slip := e.slippage.Calculate(value.Div(bar.Close), bar)
	execPrice := bar.Close.Mul(decimal.NewFromInt(1).Add(slip))
	if execPrice.IsZero() {
		return types.Trade{}, false
	}
	shares := value.Div(execPrice)
	commission := execPrice.Mul(shares).Mul(e.config.Commission)

	cost := shares.Mul(execPrice).Add(commission)
	if cash := e.portfolio.Cash(); cost.GreaterThan(cash) {
		if cash.LessThanOrEqual(decimal.Zero) {
			return types.Trade{}, false
		}
		scale := cash.Div(cost)
		shares = shares.Mul(scale)
		commission = commission.Mul(scale)
	}
	if shares.LessThanOrEqual(decimal.Zero) {
		return types.Trade{}, false
	}

	e.portfolio.Buy(symbol, shares, execPrice, commission, day, score, tier, sector)
	return types.Trade{
		ID:         uuid.New().String(),
		Symbol:     symbol,
		Side:       types.TradeSideBuy,
		Shares:     shares,
		Price:      execPrice,
		Commission: commission,
		Timestamp:  day,
		Reason:     "rebalance",
	}, true
}

func (e *Engine) sellToValue(symbol string, value decimal.Decimal, bar types.Bar, day time.Time) (types.Trade, bool) {
	pos := e.portfolio.Position(symbol)
	if pos == nil || pos.Shares.IsZero() {
		return types.Trade{}, false
	}
	slip := e.slippage.Calculate(pos.Shares, bar)
	execPrice := bar.Close.Mul(decimal.NewFromInt(1).Sub(slip))
	shares := value.Div(bar.Close)
	if shares.GreaterThan(pos.Shares) {
		shares = pos.Shares
	}
	commission := execPrice.Mul(shares).Mul(e.config.Commission)
	pnl := e.portfolio.Sell(symbol, shares, execPrice, commission)

	return types.Trade{
		ID:         uuid.New().String(),
		Symbol:     symbol,
		Side:       types.TradeSideSell,
		Shares:     shares,
		Price:      execPrice,
		Commission: commission,
		Timestamp:  day,
		PnL:        pnl,
		Reason:     "rebalance",
	}, true
}

func (e *Engine) sellPosition(symbol string, bar types.Bar, day time.Time, reason string) (types.Trade, bool) {
	pos := e.portfolio.Position(symbol)
	if pos == nil || pos.Shares.IsZero() {
		return types.Trade{}, false
	}
	slip := e.slippage.Calculate(pos.Shares, bar)
	execPrice := bar.Close.Mul(decimal.NewFromInt(1).Sub(slip))
	commission := execPrice.Mul(pos.Shares).Mul(e.config.Commission)
	pnl := e.portfolio.Sell(symbol, pos.Shares, execPrice, commission)

	return types.Trade{
		ID:         uuid.New().String(),
		Symbol:     symbol,
		Side:       types.TradeSideSell,
		Shares:     pos.Shares,
		Price:      execPrice,
		Commission: commission,
		Timestamp:  day,
		PnL:        pnl,
		Reason:     reason,
	}, true
}

// loadCalendarAndPrices fetches each universe symbol's history once and
// derives the trading calendar as the union of all observed bar dates
// in [StartDate, EndDate].
func (e *Engine) loadCalendarAndPrices(ctx context.Context, config types.BacktestConfig) ([]time.Time, map[string][]types.Bar, error) {
	priceIndex := make(map[string][]types.Bar, len(config.Universe))
	dateSet := make(map[time.Time]bool)

	for _, symbol := range config.Universe {
		bars, err := e.prov.History(ctx, symbol, config.StartDate, config.EndDate)
		if err != nil {
			if e.logger != nil {
				e.logger.Warn("symbol history unavailable, excluding from universe", zap.String("symbol", symbol), zap.Error(err))
			}
			continue
		}
		priceIndex[symbol] = bars
		for _, bar := range bars {
			dateSet[bar.Date] = true
		}
	}

	calendar := make([]time.Time, 0, len(dateSet))
	for d := range dateSet {
		calendar = append(calendar, d)
	}
	sort.Slice(calendar, func(i, j int) bool { return calendar[i].Before(calendar[j]) })

	return calendar, priceIndex, nil
}

func indexBarsByDate(bars []types.Bar) map[time.Time]types.Bar {
	out := make(map[time.Time]types.Bar, len(bars))
	for _, bar := range bars {
		out[bar.Date] = bar
	}
	return out
}

func barOn(bars []types.Bar, day time.Time) (types.Bar, bool) {
	b, ok := indexBarsByDate(bars)[day]
	return b, ok
}

// rebalancePeriodKey buckets day into the period identified by freq, so
// the caller can trigger a rebalance the first trading day a bucket is
// seen.
func rebalancePeriodKey(day time.Time, freq types.RebalanceFrequency) string {
	switch freq {
	case types.RebalanceWeekly:
		year, week := day.ISOWeek()
		return fmt.Sprintf("%d-W%02d", year, week)
	case types.RebalanceQuarterly:
		quarter := (int(day.Month())-1)/3 + 1
		return fmt.Sprintf("%d-Q%d", day.Year(), quarter)
	default: // RebalanceMonthly
		return day.Format("2006-01")
	}
}
