// Package agents provides the five independent equity-scoring agents
// (fundamentals, momentum, quality, sentiment, institutional flow)
// behind one uniform Agent interface (spec §4.1).
//
// Grounded in the duck-typed Agent interface pattern from the
// vaibhavblayer-trader reference agent (Name/Analyze shape), reworked
// to this codebase's pure-function, no-I/O contract: an Agent never
// raises to express missing data, and every implementation is
// stateless and safe to share across goroutines.
package agents

import (
	"strings"

	"github.com/marcusvale/equityscore/pkg/types"
)

// Agent is the uniform contract every scoring module satisfies. All
// five variants are interchangeable from the Parallel Executor's
// perspective: it holds a slice of Agent and calls Analyze on each
// concurrently.
type Agent interface {
	// Name identifies the agent; it is the key used in AgentBundle and
	// Weights.
	Name() types.AgentName

	// Analyze scores symbol against bundle. It is pure with respect to
	// its inputs, performs no I/O, and must never panic in ordinary
	// operation to signal insufficient data — that is expressed as a
	// degraded AgentResult instead (types.DegradedResult: score 50,
	// fixed confidence 0.2).
	Analyze(symbol string, bundle *types.DataBundle) types.AgentResult
}

// All returns the five agents in the fixed, canonical order, each with
// its default (empirically-tuned) constants. Callers needing an
// LLM-backed sentiment blend should construct SentimentAgent directly
// via NewSentimentAgent with a NarrativeProvider.
func All() []Agent {
	return []Agent{
		NewFundamentalsAgent(),
		NewMomentumAgent(),
		NewQualityAgent(),
		NewSentimentAgent(nil),
		NewInstitutionalFlowAgent(),
	}
}

// weightedAverage combines sub-scores with fixed internal weights that
// must sum to ~1; callers of this helper own that invariant.
func weightedAverage(subScores []float64, weights []float64) float64 {
	var sum float64
	for i, s := range subScores {
		sum += s * weights[i]
	}
	return sum
}

// clampScore restricts a sub-score to [0,100].
func clampScore(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

// coverage returns the fraction of present (non-nil) values out of n
// expected — the confidence convention shared by every agent.
func coverage(present, expected int) float64 {
	if expected <= 0 {
		return 0
	}
	f := float64(present) / float64(expected)
	if f > 1 {
		f = 1
	}
	if f < 0 {
		f = 0
	}
	return f
}

// capitalizeJoin joins reasoning fragments with "; " and capitalizes the
// first letter, matching the reasoning-sentence convention shared by
// every agent's original_source counterpart.
func capitalizeJoin(reasons []string) string {
	joined := strings.Join(reasons, "; ")
	if joined == "" {
		return ""
	}
	return strings.ToUpper(joined[:1]) + joined[1:]
}
