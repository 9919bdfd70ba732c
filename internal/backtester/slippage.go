package backtester

import (
	"math"

	"github.com/shopspring/decimal"

	"github.com/marcusvale/equityscore/pkg/types"
)

// SlippageModel computes the fractional execution slippage (e.g. 0.001
// for 10bps) for a trade of the given size against the day's bar.
//
// Grounded in the teacher's internal/backtester/slippage.go: the fixed
// and volume-weighted square-root-impact models are kept verbatim
// (generalized from crypto order-book ticks to daily equity bars); its
// OrderBookSlippage and MEVAwareSlippage variants are dropped, since a
// daily-bar equity backtest has no order book or mempool to model
// against.
type SlippageModel interface {
	Calculate(shares decimal.Decimal, bar types.Bar) decimal.Decimal
}

// FixedSlippage applies a constant basis-point cost regardless of size.
type FixedSlippage struct {
	BasisPoints decimal.Decimal
}

// NewFixedSlippage constructs a FixedSlippage model.
func NewFixedSlippage(bps decimal.Decimal) *FixedSlippage {
	return &FixedSlippage{BasisPoints: bps}
}

func (f *FixedSlippage) Calculate(shares decimal.Decimal, bar types.Bar) decimal.Decimal {
	return f.BasisPoints.Div(decimal.NewFromInt(10000))
}

// VolumeWeightedSlippage adds a square-root market-impact term on top
// of a base slippage, scaled by the trade's participation in the bar's
// volume.
type VolumeWeightedSlippage struct {
	BaseBps      decimal.Decimal
	ImpactFactor decimal.Decimal
}

// NewVolumeWeightedSlippage constructs a VolumeWeightedSlippage model.
func NewVolumeWeightedSlippage(baseBps, impactFactor decimal.Decimal) *VolumeWeightedSlippage {
	return &VolumeWeightedSlippage{BaseBps: baseBps, ImpactFactor: impactFactor}
}

func (v *VolumeWeightedSlippage) Calculate(shares decimal.Decimal, bar types.Bar) decimal.Decimal {
	base := v.BaseBps.Div(decimal.NewFromInt(10000))
	if bar.Volume.IsZero() {
		return base
	}
	participation, _ := shares.Div(bar.Volume).Float64()
	if participation < 0 {
		participation = 0
	}
	impact := v.ImpactFactor.Mul(decimal.NewFromFloat(math.Sqrt(participation)))
	return base.Add(impact)
}

// NewSlippageModel builds the configured SlippageModel, falling back
// to a 10bps fixed model (spec §4.7's default) for an unrecognized or
// zero-value config.
func NewSlippageModel(cfg types.SlippageConfig) SlippageModel {
	switch cfg.Model {
	case "volume_weighted":
		return NewVolumeWeightedSlippage(cfg.FixedBps, cfg.ImpactFactor)
	case "fixed":
		return NewFixedSlippage(cfg.FixedBps)
	default:
		return NewFixedSlippage(decimal.NewFromInt(10))
	}
}
