// Package types provides the core domain types shared across the
// equity scoring and backtesting system.
package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// AgentName identifies one of the five fixed scoring agents.
type AgentName string

const (
	AgentFundamentals      AgentName = "fundamentals"
	AgentMomentum          AgentName = "momentum"
	AgentQuality           AgentName = "quality"
	AgentSentiment         AgentName = "sentiment"
	AgentInstitutionalFlow AgentName = "institutional_flow"
)

// AllAgentNames is the fixed, ordered set of agents every AgentBundle
// and Weights map must cover.
var AllAgentNames = []AgentName{
	AgentFundamentals,
	AgentMomentum,
	AgentQuality,
	AgentSentiment,
	AgentInstitutionalFlow,
}

// Category is the categorical recommendation derived from a ScoreResult.
type Category string

const (
	CategoryStrongBuy   Category = "Strong Buy"
	CategoryBuy         Category = "Buy"
	CategoryHold        Category = "Hold"
	CategoryUnderweight Category = "Underweight"
	CategorySell        Category = "Sell"
)

// Trend is the trend component of a RegimeLabel.
type Trend string

const (
	TrendBull     Trend = "BULL"
	TrendBear     Trend = "BEAR"
	TrendSideways Trend = "SIDEWAYS"
)

// VolatilityRegime is the volatility component of a RegimeLabel.
type VolatilityRegime string

const (
	VolLow    VolatilityRegime = "LOW_VOL"
	VolNormal VolatilityRegime = "NORMAL_VOL"
	VolHigh   VolatilityRegime = "HIGH_VOL"
)

// RegimeLabel is the (trend, volatility) pair that names a market regime.
type RegimeLabel struct {
	Trend      Trend            `json:"trend"`
	Volatility VolatilityRegime `json:"volatility"`
}

// Canonical returns the "<trend>_<volatility>" composite string, e.g.
// "BULL_HIGH_VOL".
func (r RegimeLabel) Canonical() string {
	return string(r.Trend) + "_" + string(r.Volatility)
}

// QualityTier buckets a position's entry quality sub-score into the
// trailing-stop tier the Risk Manager applies.
type QualityTier string

const (
	QualityTierHigh QualityTier = "HIGH"
	QualityTierMed  QualityTier = "MED"
	QualityTierLow  QualityTier = "LOW"
)

// QualityTierFor buckets a quality sub-score (0-100) into its tier.
func QualityTierFor(qualityScore float64) QualityTier {
	switch {
	case qualityScore > 70:
		return QualityTierHigh
	case qualityScore >= 50:
		return QualityTierMed
	default:
		return QualityTierLow
	}
}

// Bar is one daily OHLCV observation.
type Bar struct {
	Date   time.Time       `json:"date"`
	Open   decimal.Decimal `json:"open"`
	High   decimal.Decimal `json:"high"`
	Low    decimal.Decimal `json:"low"`
	Close  decimal.Decimal `json:"close"`
	Volume decimal.Decimal `json:"volume"`
}

// Indicator is a named technical-indicator series or scalar aligned with
// a DataBundle's history. Missing values are represented by a nil
// pointer at that index, never NaN.
type Indicator struct {
	Scalar *float64   `json:"scalar,omitempty"`
	Series []*float64 `json:"series,omitempty"`
}

// FundamentalsSnapshot is the nullable fundamentals info block. All
// fields are pointers so that "missing" is explicit rather than a zero
// value that could be mistaken for a real observation.
type FundamentalsSnapshot struct {
	MarketCap          *float64 `json:"marketCap,omitempty"`
	ProfitMargins      *float64 `json:"profitMargins,omitempty"`
	OperatingMargins   *float64 `json:"operatingMargins,omitempty"`
	GrossMargins       *float64 `json:"grossMargins,omitempty"`
	ReturnOnEquity     *float64 `json:"returnOnEquity,omitempty"`
	ReturnOnAssets     *float64 `json:"returnOnAssets,omitempty"`
	TrailingPE         *float64 `json:"trailingPE,omitempty"`
	ForwardPE          *float64 `json:"forwardPE,omitempty"`
	PriceToBook        *float64 `json:"priceToBook,omitempty"`
	PEGRatio           *float64 `json:"pegRatio,omitempty"`
	DebtToEquity       *float64 `json:"debtToEquity,omitempty"`
	CurrentRatio       *float64 `json:"currentRatio,omitempty"`
	QuickRatio         *float64 `json:"quickRatio,omitempty"`
	FreeCashflow       *float64 `json:"freeCashflow,omitempty"`
	RevenueGrowth      *float64 `json:"revenueGrowth,omitempty"`
	EarningsGrowth     *float64 `json:"earningsGrowth,omitempty"`
	CurrentPrice       *float64 `json:"currentPrice,omitempty"`
	TargetMeanPrice    *float64 `json:"targetMeanPrice,omitempty"`
	RecommendationMean *float64 `json:"recommendationMean,omitempty"`
	NumberOfAnalysts   *int     `json:"numberOfAnalysts,omitempty"`
	StrongBuyCount     *int     `json:"strongBuyCount,omitempty"`
	BuyCount           *int     `json:"buyCount,omitempty"`
	HoldCount          *int     `json:"holdCount,omitempty"`
	SellCount          *int     `json:"sellCount,omitempty"`
	StrongSellCount    *int     `json:"strongSellCount,omitempty"`
	Sector             string   `json:"sector,omitempty"`
	Exchange           string   `json:"exchange,omitempty"`
	SharesOutstanding  *float64 `json:"sharesOutstanding,omitempty"`
}

// FinancialStatement is a tabular statement: rows are line items,
// columns are reporting periods (most recent first).
type FinancialStatement struct {
	Periods []time.Time            `json:"periods"`
	Rows    map[string][]*float64  `json:"rows"`
}

// DataBundle is everything an agent may read for one (Symbol, AsOfDate).
type DataBundle struct {
	Symbol     string                `json:"symbol"`
	AsOf       time.Time             `json:"asOf"`
	History    []Bar                 `json:"history"`
	Indicators map[string]Indicator  `json:"indicators"`
	Info       *FundamentalsSnapshot `json:"info,omitempty"`

	Financials          *FinancialStatement `json:"financials,omitempty"`
	QuarterlyFinancials *FinancialStatement `json:"quarterlyFinancials,omitempty"`
	BalanceSheet        *FinancialStatement `json:"balanceSheet,omitempty"`
	Cashflow            *FinancialStatement `json:"cashflow,omitempty"`

	// Benchmark is the broad-market series (e.g. a benchmark index) used
	// by the Momentum agent for relative-strength scoring. Nil when the
	// provider has no benchmark series, in which case the agent falls
	// back to an absolute-momentum proxy.
	Benchmark []Bar `json:"benchmark,omitempty"`
}

// IndicatorScalar is a convenience accessor returning a scalar
// indicator value, or ok=false if absent.
func (b *DataBundle) IndicatorScalar(name string) (float64, bool) {
	ind, ok := b.Indicators[name]
	if !ok || ind.Scalar == nil {
		return 0, false
	}
	return *ind.Scalar, true
}

// IndicatorSeries is a convenience accessor returning an indicator
// series, or ok=false if absent.
func (b *DataBundle) IndicatorSeries(name string) ([]*float64, bool) {
	ind, ok := b.Indicators[name]
	if !ok || ind.Series == nil {
		return nil, false
	}
	return ind.Series, true
}

// AgentResult is the uniform output of any Agent.
type AgentResult struct {
	Score      float64            `json:"score"`
	Confidence float64            `json:"confidence"`
	Metrics    map[string]float64 `json:"metrics"`
	Reasoning  string             `json:"reasoning"`
	Failed     bool               `json:"failed,omitempty"`
	Error      string             `json:"error,omitempty"`
}

// FailedResult builds the canonical neutral degraded result.
func FailedResult(reasoning, errText string) AgentResult {
	if len(reasoning) > 300 {
		reasoning = reasoning[:300]
	}
	return AgentResult{
		Score:      50,
		Confidence: 0,
		Metrics:    map[string]float64{},
		Reasoning:  reasoning,
		Failed:     true,
		Error:      errText,
	}
}

// DegradedResult builds an agent's own "insufficient data for my
// analysis" verdict: unlike FailedResult, this is the agent's
// considered judgment rather than an executor-level fault (timeout,
// panic, shape validation), so it carries a minimum confidence instead
// of zero and never sets Failed. Keeping Failed false means a
// DegradedResult does not count toward ExecutionMeta.FailedAgents or
// the 3-of-5 degradation rule.
func DegradedResult(reasoning string) AgentResult {
	if len(reasoning) > 300 {
		reasoning = reasoning[:300]
	}
	return AgentResult{
		Score:      50,
		Confidence: 0.2,
		Metrics:    map[string]float64{},
		Reasoning:  reasoning,
	}
}

// Clamp enforces the [0,100]/[0,1] bounds on score and confidence.
func (r AgentResult) Clamp() AgentResult {
	if r.Score < 0 {
		r.Score = 0
	} else if r.Score > 100 {
		r.Score = 100
	}
	if r.Confidence < 0 {
		r.Confidence = 0
	} else if r.Confidence > 1 {
		r.Confidence = 1
	}
	return r
}

// ExecutionMeta describes how a Parallel Executor call completed.
type ExecutionMeta struct {
	Elapsed      time.Duration `json:"elapsed"`
	FailedAgents []AgentName   `json:"failedAgents"`
	SuccessCount int           `json:"successCount"`
	TotalAgents  int           `json:"totalAgents"`
	Timestamp    time.Time     `json:"timestamp"`
}

// AgentBundle maps every agent name to its result, plus metadata about
// the execution that produced it. The map always contains all five
// keys, regardless of failures.
type AgentBundle struct {
	Results map[AgentName]AgentResult `json:"results"`
	Meta    ExecutionMeta             `json:"meta"`
}

// Weights maps each agent name to its contribution to the composite
// score. Weights must be non-negative and sum to 1 within 1e-4.
type Weights map[AgentName]float64

// Sum returns the sum of all weight values.
func (w Weights) Sum() float64 {
	var total float64
	for _, v := range w {
		total += v
	}
	return total
}

// Valid reports whether w contains exactly the five required agents,
// all non-negative, summing to 1 within 1e-4.
func (w Weights) Valid() bool {
	if len(w) != len(AllAgentNames) {
		return false
	}
	var sum float64
	for _, name := range AllAgentNames {
		v, ok := w[name]
		if !ok || v < 0 {
			return false
		}
		sum += v
	}
	diff := sum - 1.0
	if diff < 0 {
		diff = -diff
	}
	return diff <= 1e-4
}

// StaticAgentWeights is the canonical static weight vector, calibrated
// per the original scoring system: fundamentals 36%, momentum 27%,
// quality 18%, sentiment 9%, institutional flow 10%.
var StaticAgentWeights = Weights{
	AgentFundamentals:      0.36,
	AgentMomentum:          0.27,
	AgentQuality:           0.18,
	AgentSentiment:         0.09,
	AgentInstitutionalFlow: 0.10,
}

func init() {
	if !StaticAgentWeights.Valid() {
		panic("types: StaticAgentWeights does not sum to 1")
	}
}

// ScoreResult is the Scorer's output for one symbol.
type ScoreResult struct {
	Symbol     string       `json:"symbol"`
	Composite  float64      `json:"composite"`
	Confidence float64      `json:"confidence"`
	PerAgent   AgentBundle  `json:"perAgent"`
	Weights    Weights      `json:"weights"`
	Category   Category     `json:"category"`
	Regime     *RegimeLabel `json:"regime,omitempty"`
	ScoredAt   time.Time    `json:"scoredAt"`
}

// Position is one open holding in a Portfolio.
type Position struct {
	Symbol           string          `json:"symbol"`
	Shares           decimal.Decimal `json:"shares"`
	EntryPrice       decimal.Decimal `json:"entryPrice"`
	EntryDate        time.Time       `json:"entryDate"`
	EntryScore       float64         `json:"entryScore"`
	EntryQualityTier QualityTier     `json:"entryQualityTier"`
	PeakPrice        decimal.Decimal `json:"peakPrice"`
	CurrentPrice     decimal.Decimal `json:"currentPrice"`
	Sector           string          `json:"sector,omitempty"`
}

// MarketValue returns shares * currentPrice.
func (p *Position) MarketValue() decimal.Decimal {
	return p.Shares.Mul(p.CurrentPrice)
}

// UnrealizedPnL returns the position's unrealized gain/loss.
func (p *Position) UnrealizedPnL() decimal.Decimal {
	return p.Shares.Mul(p.CurrentPrice.Sub(p.EntryPrice))
}

// DropFromPeak returns (currentPrice - peakPrice) / peakPrice, always
// <= 0 once peakPrice has been set to a positive value.
func (p *Position) DropFromPeak() decimal.Decimal {
	if p.PeakPrice.IsZero() {
		return decimal.Zero
	}
	return p.CurrentPrice.Sub(p.PeakPrice).Div(p.PeakPrice)
}

// TradeSide identifies a buy or sell leg of a Trade.
type TradeSide string

const (
	TradeSideBuy  TradeSide = "BUY"
	TradeSideSell TradeSide = "SELL"
)

// Trade is an append-only record of one executed backtest fill.
type Trade struct {
	ID         string          `json:"id"`
	Symbol     string          `json:"symbol"`
	Side       TradeSide       `json:"side"`
	Shares     decimal.Decimal `json:"shares"`
	Price      decimal.Decimal `json:"price"`
	Commission decimal.Decimal `json:"commission"`
	Timestamp  time.Time       `json:"timestamp"`
	PnL        decimal.Decimal `json:"pnl,omitempty"`
	Reason     string          `json:"reason,omitempty"`
}

// EquityPoint is one append-only sample of total portfolio value.
type EquityPoint struct {
	Date   time.Time       `json:"date"`
	Equity decimal.Decimal `json:"equity"`
	Cash   decimal.Decimal `json:"cash"`
}

// RiskEventKind enumerates the typed risk-trigger events the Risk
// Manager logs. RiskTrigger events are not errors.
type RiskEventKind string

const (
	RiskEventDrawdownProtection RiskEventKind = "DRAWDOWN_PROTECTION"
	RiskEventStopLoss           RiskEventKind = "STOP_LOSS"
	RiskEventSectorCap          RiskEventKind = "SECTOR_CAP"
	RiskEventPositionCap        RiskEventKind = "POSITION_CAP"
	RiskEventVolatilityScale    RiskEventKind = "VOLATILITY_SCALE"
)

// RiskEvent is one logged risk-manager action.
type RiskEvent struct {
	Kind      RiskEventKind  `json:"kind"`
	Symbol    string         `json:"symbol,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Detail    map[string]any `json:"detail,omitempty"`
	Reason    string         `json:"reason"`
}

// RebalanceEvent is an append-only record of one rebalance pass.
type RebalanceEvent struct {
	Date   time.Time `json:"date"`
	Bought []string  `json:"bought"`
	Sold   []string  `json:"sold"`
	Held   []string  `json:"held"`
}

// PerformanceMetrics summarizes a completed backtest run.
type PerformanceMetrics struct {
	TotalTrades      int             `json:"totalTrades"`
	WinningTrades    int             `json:"winningTrades"`
	LosingTrades     int             `json:"losingTrades"`
	WinRate          decimal.Decimal `json:"winRate"`
	AvgWin           decimal.Decimal `json:"avgWin"`
	AvgLoss          decimal.Decimal `json:"avgLoss"`
	LargestWin       decimal.Decimal `json:"largestWin"`
	LargestLoss      decimal.Decimal `json:"largestLoss"`
	ProfitFactor     decimal.Decimal `json:"profitFactor"`
	Expectancy       decimal.Decimal `json:"expectancy"`
	TotalReturn      decimal.Decimal `json:"totalReturn"`
	AnnualizedReturn decimal.Decimal `json:"annualizedReturn"`
	CAGR             decimal.Decimal `json:"cagr"`
	SharpeRatio      decimal.Decimal `json:"sharpeRatio"`
	SortinoRatio     decimal.Decimal `json:"sortinoRatio"`
	CalmarRatio      decimal.Decimal `json:"calmarRatio"`
	MaxDrawdown      decimal.Decimal `json:"maxDrawdown"`
	Alpha            decimal.Decimal `json:"alpha"`
	Beta             decimal.Decimal `json:"beta"`
	AvgHoldingTime   time.Duration   `json:"avgHoldingTime"`
}

// CacheEntry is one Analysis Cache slot.
type CacheEntry struct {
	Key        string      `json:"key"`
	Value      ScoreResult `json:"value"`
	InsertedAt time.Time   `json:"insertedAt"`
}
