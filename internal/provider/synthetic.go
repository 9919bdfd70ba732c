package provider

import (
	"context"
	"hash/fnv"
	"math"
	"math/rand"
	"time"

	"github.com/marcusvale/equityscore/pkg/types"
	"github.com/shopspring/decimal"
)

// SyntheticProvider is a deterministic Provider implementation for
// tests and local runs. It has no external dependency and requires no
// network access; given the same symbol and as-of date it always
// produces the same DataBundle, grounded in the teacher's
// generateSampleData idiom but reseeded per-symbol instead of sampling
// from the wall clock, so results are reproducible across runs.
type SyntheticProvider struct {
	startPrice   float64
	annualDrift  float64
	annualVol    float64
	historyYears int
}

// NewSyntheticProvider constructs a SyntheticProvider with reasonable
// defaults: a 2-year history window, modest upward drift, and
// moderate daily volatility.
func NewSyntheticProvider() *SyntheticProvider {
	return &SyntheticProvider{
		startPrice:   100.0,
		annualDrift:  0.08,
		annualVol:    0.22,
		historyYears: 2,
	}
}

func (p *SyntheticProvider) Variant() string { return "synthetic-v1" }

func seedFor(symbol string, salt string) int64 {
	h := fnv.New64a()
	h.Write([]byte(symbol))
	h.Write([]byte(salt))
	return int64(h.Sum64())
}

// History returns a deterministic daily bar series covering [start,end].
func (p *SyntheticProvider) History(ctx context.Context, symbol string, start, end time.Time) ([]types.Bar, error) {
	bars := p.generateBars(symbol, start, end)
	return bars, nil
}

// Comprehensive builds a full DataBundle: history ending at asOf (or
// "now" if asOf is zero), derived indicators, and a deterministic
// fundamentals snapshot.
func (p *SyntheticProvider) Comprehensive(ctx context.Context, symbol string, asOf time.Time) (*types.DataBundle, error) {
	if asOf.IsZero() {
		asOf = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	}
	start := asOf.AddDate(-p.historyYears, 0, 0)
	bars := p.generateBars(symbol, start, asOf)

	bundle := &types.DataBundle{
		Symbol:     symbol,
		AsOf:       asOf,
		History:    bars,
		Indicators: computeIndicators(bars),
		Info:       p.syntheticFundamentals(symbol, bars),
	}
	return bundle, nil
}

func (p *SyntheticProvider) generateBars(symbol string, start, end time.Time) []types.Bar {
	rng := rand.New(rand.NewSource(seedFor(symbol, "history")))
	var bars []types.Bar
	price := p.startPrice
	dailyDrift := p.annualDrift / 252
	dailyVol := p.annualVol / math.Sqrt(252)

	current := start
	for !current.After(end) {
		wd := current.Weekday()
		if wd == time.Saturday || wd == time.Sunday {
			current = current.AddDate(0, 0, 1)
			continue
		}
		change := dailyDrift + dailyVol*rng.NormFloat64()
		open := price
		price = price * (1 + change)
		if price < 0.01 {
			price = 0.01
		}
		high := math.Max(open, price) * (1 + rng.Float64()*0.004)
		low := math.Min(open, price) * (1 - rng.Float64()*0.004)
		volume := 1_000_000 + rng.Float64()*4_000_000

		bars = append(bars, types.Bar{
			Date:   current,
			Open:   decimal.NewFromFloat(open),
			High:   decimal.NewFromFloat(high),
			Low:    decimal.NewFromFloat(low),
			Close:  decimal.NewFromFloat(price),
			Volume: decimal.NewFromFloat(volume),
		})
		current = current.AddDate(0, 0, 1)
	}
	return bars
}

func (p *SyntheticProvider) syntheticFundamentals(symbol string, bars []types.Bar) *types.FundamentalsSnapshot {
	rng := rand.New(rand.NewSource(seedFor(symbol, "fundamentals")))
	f := func(lo, hi float64) *float64 {
		v := lo + rng.Float64()*(hi-lo)
		return &v
	}
	i := func(lo, hi int) *int {
		v := lo + rng.Intn(hi-lo+1)
		return &v
	}
	var currentPrice *float64
	if len(bars) > 0 {
		cp, _ := bars[len(bars)-1].Close.Float64()
		currentPrice = &cp
	}
	target := 100.0
	if currentPrice != nil {
		target = *currentPrice * (1 + (rng.Float64()-0.3)*0.3)
	}
	return &types.FundamentalsSnapshot{
		MarketCap:          f(1e9, 5e11),
		ProfitMargins:      f(-0.05, 0.35),
		OperatingMargins:   f(-0.05, 0.40),
		GrossMargins:       f(0.10, 0.70),
		ReturnOnEquity:     f(-0.05, 0.45),
		ReturnOnAssets:     f(-0.02, 0.20),
		TrailingPE:         f(8, 45),
		ForwardPE:          f(7, 40),
		PriceToBook:        f(0.8, 15),
		PEGRatio:           f(0.5, 3.5),
		DebtToEquity:       f(0.0, 2.0),
		CurrentRatio:       f(0.6, 3.0),
		QuickRatio:         f(0.4, 2.5),
		FreeCashflow:       f(-1e8, 2e10),
		RevenueGrowth:      f(-0.10, 0.35),
		EarningsGrowth:     f(-0.15, 0.40),
		CurrentPrice:       currentPrice,
		TargetMeanPrice:    &target,
		RecommendationMean: f(1.5, 3.5),
		NumberOfAnalysts:   i(3, 40),
		StrongBuyCount:     i(0, 12),
		BuyCount:           i(0, 15),
		HoldCount:          i(0, 15),
		SellCount:          i(0, 5),
		StrongSellCount:    i(0, 3),
		Sector:             syntheticSector(symbol),
		Exchange:           "NASDAQ",
		SharesOutstanding:  f(1e8, 5e9),
	}
}

var sectorPool = []string{
	"Technology", "Healthcare", "Financials", "Consumer Discretionary",
	"Industrials", "Energy", "Utilities", "Materials", "Real Estate",
	"Communication Services", "Consumer Staples",
}

func syntheticSector(symbol string) string {
	h := fnv.New32a()
	h.Write([]byte(symbol))
	return sectorPool[int(h.Sum32())%len(sectorPool)]
}

