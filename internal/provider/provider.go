// Package provider defines the point-in-time equity data contract the
// rest of the system consumes, plus a deterministic synthetic
// implementation usable in tests and local runs without a live vendor.
package provider

import (
	"context"
	"time"

	"github.com/marcusvale/equityscore/pkg/types"
)

// Provider supplies OHLCV history, fundamentals snapshots, and
// pre-computed technical indicators keyed by symbol and as-of date.
// Implementations must never expose an observation strictly after the
// requested AsOfDate, and must return missing fields as null rather
// than raising — only a catastrophic failure (symbol truly unknown,
// backend unreachable) may return an error.
type Provider interface {
	// Comprehensive returns the full DataBundle for symbol. When asOf is
	// the zero time, the latest available data is returned; otherwise
	// the bundle is point-in-time as of asOf.
	Comprehensive(ctx context.Context, symbol string, asOf time.Time) (*types.DataBundle, error)

	// History returns OHLCV-only bars for symbol in [start, end].
	History(ctx context.Context, symbol string, start, end time.Time) ([]types.Bar, error)

	// Variant names the provider implementation, recorded in backtest
	// result metadata (spec §4.7 engine metadata).
	Variant() string
}

// ErrSymbolUnknown is returned by a Provider when it has no data at all
// for a requested symbol, distinguishing a 404-class condition from a
// transient 503-class unavailability at the Scorer boundary (§7).
type ErrSymbolUnknown struct {
	Symbol string
}

func (e *ErrSymbolUnknown) Error() string {
	return "provider: unknown symbol " + e.Symbol
}
