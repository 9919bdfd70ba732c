package tests

import (
	"context"
	"testing"
	"time"

	"github.com/marcusvale/equityscore/internal/agents"
	"github.com/marcusvale/equityscore/internal/provider"
	"github.com/marcusvale/equityscore/pkg/types"
)

func float64Ptr(v float64) *float64 { return &v }

// buildBundleWithStatementsAndBenchmark returns a bundle whose History/
// Indicators/Info come from the synthetic provider (so the insufficient-
// history gates pass), but whose Benchmark and statement-table fields
// are populated directly — the synthetic provider never fills these in,
// so this is the only path that exercises momentum's benchmark-relative
// branch and fundamentals'/quality's statement-table branches.
func buildBundleWithStatementsAndBenchmark(t *testing.T) *types.DataBundle {
	t.Helper()
	prov := provider.NewSyntheticProvider()
	asOf := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	bundle, err := prov.Comprehensive(context.Background(), "AAPL", asOf)
	if err != nil {
		t.Fatalf("failed to build bundle: %v", err)
	}
	benchBundle, err := prov.Comprehensive(context.Background(), "SPY", asOf)
	if err != nil {
		t.Fatalf("failed to build benchmark bundle: %v", err)
	}
	bundle.Benchmark = benchBundle.History

	bundle.Financials = &types.FinancialStatement{
		Periods: []time.Time{asOf, asOf.AddDate(-1, 0, 0), asOf.AddDate(-2, 0, 0)},
		Rows: map[string][]*float64{
			"Total Revenue":             {float64Ptr(120e9), float64Ptr(100e9), float64Ptr(85e9)},
			"Total Stockholder Equity": {float64Ptr(60e9), float64Ptr(50e9), float64Ptr(40e9)},
		},
	}
	bundle.QuarterlyFinancials = bundle.Financials
	bundle.BalanceSheet = bundle.Financials
	bundle.Cashflow = bundle.Financials

	return bundle
}

// Momentum's relative-strength sub-score only takes the benchmark
// branch (rather than the absolute-momentum fallback) when
// DataBundle.Benchmark is populated.
func TestMomentumUsesBenchmarkRelativeStrengthWhenPopulated(t *testing.T) {
	bundle := buildBundleWithStatementsAndBenchmark(t)

	withBenchmark := agents.NewMomentumAgent().Analyze("AAPL", bundle)
	if withBenchmark.Failed {
		t.Fatalf("expected momentum to succeed with a full bundle, got failed result: %+v", withBenchmark)
	}

	withoutBenchmark := *bundle
	withoutBenchmark.Benchmark = nil
	fallback := agents.NewMomentumAgent().Analyze("AAPL", &withoutBenchmark)
	if fallback.Failed {
		t.Fatalf("expected momentum to succeed without a benchmark (absolute-momentum fallback), got failed result: %+v", fallback)
	}
	if withBenchmark.Metrics["relative_strength"] == fallback.Metrics["relative_strength"] {
		t.Fatalf("expected the benchmark and fallback relative_strength sub-scores to differ, both were %v", fallback.Metrics["relative_strength"])
	}
}

// Fundamentals' growth sub-score and quality's stability sub-score both
// read financials.Rows directly; confirm both paths execute against a
// bundle with statement tables populated without failing.
func TestFundamentalsAndQualityReadStatementTables(t *testing.T) {
	bundle := buildBundleWithStatementsAndBenchmark(t)

	fundamentalsResult := agents.NewFundamentalsAgent().Analyze("AAPL", bundle)
	if fundamentalsResult.Failed {
		t.Fatalf("expected fundamentals to succeed, got failed result: %+v", fundamentalsResult)
	}

	qualityResult := agents.NewQualityAgent().Analyze("AAPL", bundle)
	if qualityResult.Failed {
		t.Fatalf("expected quality to succeed, got failed result: %+v", qualityResult)
	}
	if stability, ok := qualityResult.Metrics["stability"]; !ok || stability <= 0 {
		t.Fatalf("expected a positive stability sub-score driven by Total Revenue growth, got %v", qualityResult.Metrics)
	}
}
