package backtester

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/marcusvale/equityscore/pkg/types"
)

// Portfolio is the Backtest Engine's sole mutable trading state: cash
// plus open positions keyed by symbol. Per spec §5 the engine's own
// goroutine is the sole mutator, but the mutex is kept (as the teacher
// does for every stateful component) so a caller reading progress
// concurrently — e.g. an API progress handler — never observes a torn
// read.
//
// Grounded in the teacher's internal/backtester/portfolio.go
// (Buy/Sell/CloseAll/equity-and-peak bookkeeping kept); its local
// Position type (Quantity/AvgPrice/Trades, no quality tier or peak
// price) is replaced by pkg/types.Position, which the Risk Manager's
// CheckStopLosses (spec §4.6) requires for trailing-stop bookkeeping.
type Portfolio struct {
	mu          sync.RWMutex
	cash        decimal.Decimal
	initialCash decimal.Decimal
	positions   map[string]*types.Position
	peakEquity  decimal.Decimal
}

// NewPortfolio constructs a Portfolio starting fully in cash.
func NewPortfolio(initialCash decimal.Decimal) *Portfolio {
	return &Portfolio{
		cash:        initialCash,
		initialCash: initialCash,
		positions:   make(map[string]*types.Position),
		peakEquity:  initialCash,
	}
}

// Cash returns available cash.
func (p *Portfolio) Cash() decimal.Decimal {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cash
}

// Equity returns cash plus the market value of every open position.
func (p *Portfolio) Equity() decimal.Decimal {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.equity()
}

func (p *Portfolio) equity() decimal.Decimal {
	total := p.cash
	for _, pos := range p.positions {
		total = total.Add(pos.MarketValue())
	}
	return total
}

// Drawdown returns the current drawdown from the running equity peak,
// always <= 0.
func (p *Portfolio) Drawdown() decimal.Decimal {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.peakEquity.IsZero() {
		return decimal.Zero
	}
	return p.equity().Sub(p.peakEquity).Div(p.peakEquity)
}

// Position returns a copy of symbol's open position, or nil if none is
// held.
func (p *Portfolio) Position(symbol string) *types.Position {
	p.mu.RLock()
	defer p.mu.RUnlock()
	pos, ok := p.positions[symbol]
	if !ok {
		return nil
	}
	copyOf := *pos
	return &copyOf
}

// Positions returns a new slice holding pointers to every open
// position (not copies), suitable for passing to
// risk.Manager.CheckStopLosses, whose PeakPrice updates therefore persist.
func (p *Portfolio) Positions() []*types.Position {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*types.Position, 0, len(p.positions))
	for _, pos := range p.positions {
		out = append(out, pos)
	}
	return out
}

// UpdatePrice marks symbol's current price (and trailing peak, via the
// caller invoking risk.Manager.CheckStopLosses separately) and
// refreshes the running equity peak.
func (p *Portfolio) UpdatePrice(symbol string, price decimal.Decimal) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if pos, ok := p.positions[symbol]; ok {
		pos.CurrentPrice = price
	}
	if eq := p.equity(); eq.GreaterThan(p.peakEquity) {
		p.peakEquity = eq
	}
}

// Buy opens or adds to a position, debiting cash for cost plus
// commission. qualityTier/score/sector stamp a freshly opened
// position's entry metadata; an existing position keeps its original
// entry metadata and is cost-averaged.
func (p *Portfolio) Buy(symbol string, shares, price, commission decimal.Decimal, now time.Time, score float64, tier types.QualityTier, sector string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	cost := shares.Mul(price).Add(commission)
	p.cash = p.cash.Sub(cost)

	if pos, ok := p.positions[symbol]; ok {
		totalShares := pos.Shares.Add(shares)
		totalCost := pos.Shares.Mul(pos.EntryPrice).Add(shares.Mul(price))
		pos.EntryPrice = totalCost.Div(totalShares)
		pos.Shares = totalShares
		pos.CurrentPrice = price
	} else {
		p.positions[symbol] = &types.Position{
			Symbol:           symbol,
			Shares:           shares,
			EntryPrice:       price,
			EntryDate:        now,
			EntryScore:       score,
			EntryQualityTier: tier,
			PeakPrice:        price,
			CurrentPrice:     price,
			Sector:           sector,
		}
	}

	if eq := p.equity(); eq.GreaterThan(p.peakEquity) {
		p.peakEquity = eq
	}
}

// Sell reduces or closes a position, crediting cash and returning the
// realized PnL net of commission. Selling more shares than held clips
// to the held quantity.
func (p *Portfolio) Sell(symbol string, shares, price, commission decimal.Decimal) decimal.Decimal {
	p.mu.Lock()
	defer p.mu.Unlock()

	pos, ok := p.positions[symbol]
	if !ok {
		return decimal.Zero
	}
	if shares.GreaterThan(pos.Shares) {
		shares = pos.Shares
	}

	proceeds := shares.Mul(price)
	costBasis := shares.Mul(pos.EntryPrice)
	pnl := proceeds.Sub(costBasis).Sub(commission)

	p.cash = p.cash.Add(proceeds).Sub(commission)
	pos.Shares = pos.Shares.Sub(shares)
	if pos.Shares.LessThanOrEqual(decimal.Zero) {
		delete(p.positions, symbol)
	}

	if eq := p.equity(); eq.GreaterThan(p.peakEquity) {
		p.peakEquity = eq
	}
	return pnl
}

// CloseAll liquidates every open position at its current mark,
// returning total realized PnL. Engine.Run does not call it; a run
// ends with its positions still open.
func (p *Portfolio) CloseAll() decimal.Decimal {
	p.mu.Lock()
	defer p.mu.Unlock()

	var totalPnL decimal.Decimal
	for symbol, pos := range p.positions {
		proceeds := pos.Shares.Mul(pos.CurrentPrice)
		costBasis := pos.Shares.Mul(pos.EntryPrice)
		totalPnL = totalPnL.Add(proceeds.Sub(costBasis))
		p.cash = p.cash.Add(proceeds)
		delete(p.positions, symbol)
	}
	return totalPnL
}
