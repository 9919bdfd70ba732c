// Package risk implements the Risk Manager: portfolio drawdown defense,
// quality-tiered trailing stop-losses, volatility-scaled sizing, and
// position/sector concentration caps (spec §4.6). Callers own the
// Portfolio and execute any trades; the Manager decides and logs typed
// RiskEvents, and its only write to a Position is CheckStopLosses'
// PeakPrice update.
package risk

import (
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/marcusvale/equityscore/pkg/types"
	"github.com/marcusvale/equityscore/pkg/utils"
)

// Manager evaluates risk policy against portfolio state. It is
// stateful only in tracking the running peak value and whether
// defensive mode is currently active — both required to decide
// recovery transitions, ported from
// original_source/core/risk_manager.py's peak_value/is_defensive_mode
// instance fields.
type Manager struct {
	logger *zap.Logger
	limits types.RiskLimits

	peakValue      decimal.Decimal
	defensiveMode  bool
}

// New constructs a Manager from limits, falling back to
// types.DefaultRiskLimits() when limits is the zero value.
func New(logger *zap.Logger, limits types.RiskLimits) *Manager {
	if limits.MaxPortfolioDrawdown.IsZero() {
		limits = types.DefaultRiskLimits()
	}
	return &Manager{logger: logger, limits: limits}
}

// DrawdownCheck is the result of CheckDrawdown.
type DrawdownCheck struct {
	Exceeded            bool
	CurrentDrawdown     decimal.Decimal
	PeakValue           decimal.Decimal
	RecommendedCashPct  decimal.Decimal
	Event               *types.RiskEvent
}

// CheckDrawdown updates the running peak and evaluates whether the
// portfolio has breached MaxPortfolioDrawdown, entering or exiting
// defensive mode as appropriate. Ported from
// risk_manager.py's check_portfolio_drawdown.
func (m *Manager) CheckDrawdown(currentValue decimal.Decimal, now time.Time) DrawdownCheck {
	if currentValue.GreaterThan(m.peakValue) {
		m.peakValue = currentValue
		m.defensiveMode = false
	}

	var drawdown decimal.Decimal
	if m.peakValue.IsPositive() {
		drawdown = currentValue.Sub(m.peakValue).Div(m.peakValue)
	}

	exceeded := drawdown.LessThan(m.limits.MaxPortfolioDrawdown.Neg())

	result := DrawdownCheck{
		Exceeded:        exceeded,
		CurrentDrawdown: drawdown,
		PeakValue:       m.peakValue,
	}

	switch {
	case exceeded && !m.defensiveMode:
		m.defensiveMode = true
		result.RecommendedCashPct = m.limits.CashBufferOnDrawdown
		result.Event = &types.RiskEvent{
			Kind:      types.RiskEventDrawdownProtection,
			Timestamp: now,
			Reason:    "portfolio drawdown exceeded limit, entering defensive mode",
			Detail: map[string]any{
				"drawdown":      drawdown.String(),
				"cashBufferPct": m.limits.CashBufferOnDrawdown.String(),
			},
		}
		if m.logger != nil {
			m.logger.Warn("drawdown protection triggered", zap.String("drawdown", drawdown.String()))
		}
	case !exceeded && m.defensiveMode:
		m.defensiveMode = false
	}

	return result
}

// IsDefensiveMode reports whether the Manager is currently in
// drawdown-driven defensive mode.
func (m *Manager) IsDefensiveMode() bool { return m.defensiveMode }

// StopLossHit describes a position whose trailing stop has triggered.
type StopLossHit struct {
	Symbol       string
	DropFromPeak decimal.Decimal
	Threshold    decimal.Decimal
	Tier         types.QualityTier
	Event        types.RiskEvent
}

// CheckStopLosses mutates each position's PeakPrice upward to the
// current price (trailing-stop bookkeeping) and returns the subset
// that has breached its quality-tiered stop threshold, measured from
// peak rather than entry. Ported from risk_manager.py's
// check_position_stop_loss / "ANALYTICAL FIX #4" trailing-stop logic.
func (m *Manager) CheckStopLosses(positions []*types.Position, now time.Time) []StopLossHit {
	var hits []StopLossHit

	for _, pos := range positions {
		pos.PeakPrice = utils.MaxDecimal(pos.PeakPrice, pos.CurrentPrice)
		threshold := m.stopThresholdFor(pos.EntryQualityTier)
		dropFromPeak := pos.DropFromPeak()

		if dropFromPeak.LessThan(threshold.Neg()) {
			hit := StopLossHit{
				Symbol:       pos.Symbol,
				DropFromPeak: dropFromPeak,
				Threshold:    threshold,
				Tier:         pos.EntryQualityTier,
			}
			hit.Event = types.RiskEvent{
				Kind:      types.RiskEventStopLoss,
				Symbol:    pos.Symbol,
				Timestamp: now,
				Reason:    "trailing stop-loss triggered",
				Detail: map[string]any{
					"qualityTier":  string(pos.EntryQualityTier),
					"dropFromPeak": dropFromPeak.String(),
					"threshold":    threshold.String(),
				},
			}
			hits = append(hits, hit)
			if m.logger != nil {
				m.logger.Warn("stop-loss triggered",
					zap.String("symbol", pos.Symbol),
					zap.String("tier", string(pos.EntryQualityTier)),
					zap.String("dropFromPeak", dropFromPeak.String()),
				)
			}
		}
	}

	return hits
}

func (m *Manager) stopThresholdFor(tier types.QualityTier) decimal.Decimal {
	switch tier {
	case types.QualityTierHigh:
		return m.limits.StopLossHighQuality
	case types.QualityTierMed:
		return m.limits.StopLossMedQuality
	default:
		return m.limits.StopLossLowQuality
	}
}

// VolatilityAdjustment returns the position-size scale factor for the
// given annualized realized volatility: 1.0 (no adjustment) unless
// currentVolatility exceeds MaxVolatility, in which case
// VolatilityScaleFactor applies.
func (m *Manager) VolatilityAdjustment(currentVolatility decimal.Decimal, now time.Time) (decimal.Decimal, *types.RiskEvent) {
	if currentVolatility.GreaterThan(m.limits.MaxVolatility) {
		event := &types.RiskEvent{
			Kind:      types.RiskEventVolatilityScale,
			Timestamp: now,
			Reason:    "realized volatility exceeded ceiling, scaling target sizes",
			Detail: map[string]any{
				"volatility": currentVolatility.String(),
				"ceiling":    m.limits.MaxVolatility.String(),
				"scale":      m.limits.VolatilityScaleFactor.String(),
			},
		}
		if m.logger != nil {
			m.logger.Warn("volatility scaling applied", zap.String("volatility", currentVolatility.String()))
		}
		return m.limits.VolatilityScaleFactor, event
	}
	return decimal.NewFromInt(1), nil
}

// EnforceSectorLimits scales down allocations in any sector exceeding
// MaxSectorConcentration, proportionally within that sector, and
// returns the (possibly unchanged) allocation map plus any triggered
// events. Ported from risk_manager.py's enforce_sector_limits.
func (m *Manager) EnforceSectorLimits(allocations map[string]decimal.Decimal, sectorOf map[string]string, now time.Time) (map[string]decimal.Decimal, []types.RiskEvent) {
	sectorExposure := map[string]decimal.Decimal{}
	for symbol, alloc := range allocations {
		sector := sectorOf[symbol]
		if sector == "" {
			sector = "Unknown"
		}
		sectorExposure[sector] = sectorExposure[sector].Add(alloc)
	}

	adjusted := make(map[string]decimal.Decimal, len(allocations))
	for s, a := range allocations {
		adjusted[s] = a
	}

	var events []types.RiskEvent
	for sector, exposure := range sectorExposure {
		if !exposure.GreaterThan(m.limits.MaxSectorConcentration) {
			continue
		}
		scale := m.limits.MaxSectorConcentration.Div(exposure)
		for symbol, sec := range sectorOf {
			if sec != sector {
				continue
			}
			if a, ok := adjusted[symbol]; ok {
				adjusted[symbol] = a.Mul(scale)
			}
		}
		events = append(events, types.RiskEvent{
			Kind:      types.RiskEventSectorCap,
			Timestamp: now,
			Reason:    "sector concentration limit exceeded, scaling down",
			Detail: map[string]any{
				"sector":   sector,
				"exposure": exposure.String(),
				"limit":    m.limits.MaxSectorConcentration.String(),
			},
		})
		if m.logger != nil {
			m.logger.Warn("sector concentration cap applied", zap.String("sector", sector), zap.String("exposure", exposure.String()))
		}
	}

	return adjusted, events
}

// EnforcePositionLimits clips any allocation above MaxPositionSize and
// renormalizes all allocations back to sum to 1. Ported from
// risk_manager.py's enforce_position_size_limit.
func (m *Manager) EnforcePositionLimits(allocations map[string]decimal.Decimal, now time.Time) (map[string]decimal.Decimal, []types.RiskEvent) {
	var violated bool
	for _, a := range allocations {
		if a.GreaterThan(m.limits.MaxPositionSize) {
			violated = true
			break
		}
	}
	if !violated {
		return allocations, nil
	}

	adjusted := make(map[string]decimal.Decimal, len(allocations))
	var events []types.RiskEvent
	for symbol, a := range allocations {
		if a.GreaterThan(m.limits.MaxPositionSize) {
			adjusted[symbol] = utils.ClampDecimal(a, decimal.Zero, m.limits.MaxPositionSize)
			events = append(events, types.RiskEvent{
				Kind:      types.RiskEventPositionCap,
				Symbol:    symbol,
				Timestamp: now,
				Reason:    "position size limit exceeded, clipping",
				Detail: map[string]any{
					"allocation": a.String(),
					"limit":      m.limits.MaxPositionSize.String(),
				},
			})
		} else {
			adjusted[symbol] = a
		}
	}

	total := decimal.Zero
	for _, a := range adjusted {
		total = total.Add(a)
	}
	if total.IsPositive() {
		for symbol, a := range adjusted {
			adjusted[symbol] = a.Div(total)
		}
	}

	if m.logger != nil && len(events) > 0 {
		m.logger.Warn("position size cap applied", zap.Int("count", len(events)))
	}

	return adjusted, events
}
