package agents

import (
	"context"
	"fmt"

	"github.com/marcusvale/equityscore/pkg/types"
)

// NarrativeProvider supplies an optional LLM-scored news-sentiment
// signal (0-100) for a symbol. When present, SentimentAgent blends it
// into the composite at 25% per original_source's enhanced weighting;
// when nil, the agent uses the original's pre-LLM 80/20 split.
//
// This interface has no teacher or reference Go implementation — the
// original_source file wires OpenAI/Anthropic/Gemini clients directly.
// Keeping it as a narrow interface (rather than importing any one LLM
// SDK) lets a caller plug in whichever client it likes without this
// package taking a direct dependency on one; see DESIGN.md.
type NarrativeProvider interface {
	// NewsSentiment returns a 0-100 bullish/bearish score for symbol,
	// or an error if no sentiment signal could be produced.
	NewsSentiment(ctx context.Context, symbol string) (float64, error)
}

// SentimentAgent scores analyst-recommendation consensus, target-price
// upside, and — if a NarrativeProvider is supplied — LLM news
// sentiment.
//
// Ported from original_source/agents/sentiment_agent.py: the
// recommendation-weighting schedule, the target-price-upside bands,
// and the 80/20 vs 60/15/25 weighting switch are taken directly from
// that file; the LLM client plumbing itself is replaced by the
// NarrativeProvider seam described above.
type SentimentAgent struct {
	narrative NarrativeProvider
}

// NewSentimentAgent constructs the sentiment agent. Pass nil to run
// without an LLM-powered narrative signal (the original's "fallback to
// original weighting" path).
func NewSentimentAgent(narrative NarrativeProvider) *SentimentAgent {
	return &SentimentAgent{narrative: narrative}
}

func (a *SentimentAgent) Name() types.AgentName { return types.AgentSentiment }

func (a *SentimentAgent) Analyze(symbol string, bundle *types.DataBundle) types.AgentResult {
	if bundle == nil || bundle.Info == nil {
		return types.DegradedResult("Limited analysis: no fundamentals snapshot available").Clamp()
	}
	info := bundle.Info

	analystScore := scoreAnalystRatings(info)
	targetScore := scoreTargetPrice(info)

	var newsScore float64
	var haveNews bool
	if a.narrative != nil {
		if v, err := a.narrative.NewsSentiment(context.Background(), symbol); err == nil {
			newsScore = v
			haveNews = true
		}
	}

	var composite float64
	if haveNews {
		composite = 0.60*analystScore + 0.15*targetScore + 0.25*newsScore
	} else {
		composite = 0.80*analystScore + 0.20*targetScore
	}

	confidence := sentimentConfidence(info)

	metrics := map[string]float64{
		"analyst_rating":       analystScore,
		"target_price_upside":  targetScore,
		"target_price":         valOr(info.TargetMeanPrice, 0),
		"current_price":        valOr(info.CurrentPrice, 0),
		"total_recommendations": float64(totalRecommendations(info)),
	}
	if haveNews {
		metrics["news_sentiment"] = newsScore
	}

	reasoning := buildSentimentReasoning(info)

	return types.AgentResult{
		Score:      clampScore(composite),
		Confidence: confidence,
		Metrics:    metrics,
		Reasoning:  reasoning,
	}.Clamp()
}

func totalRecommendations(info *types.FundamentalsSnapshot) int {
	return intOr(info.StrongBuyCount) + intOr(info.BuyCount) + intOr(info.HoldCount) +
		intOr(info.SellCount) + intOr(info.StrongSellCount)
}

func intOr(v *int) int {
	if v == nil {
		return 0
	}
	return *v
}

func scoreAnalystRatings(info *types.FundamentalsSnapshot) float64 {
	total := totalRecommendations(info)
	if total == 0 {
		return 50
	}
	weighted := float64(intOr(info.StrongBuyCount))*100 +
		float64(intOr(info.BuyCount))*75 +
		float64(intOr(info.HoldCount))*50 +
		float64(intOr(info.SellCount))*25 +
		float64(intOr(info.StrongSellCount))*0
	return clampScore(weighted / float64(total))
}

func scoreTargetPrice(info *types.FundamentalsSnapshot) float64 {
	target := valOr(info.TargetMeanPrice, 0)
	current := valOr(info.CurrentPrice, 0)
	if target == 0 || current == 0 {
		return 50
	}
	upside := (target - current) / current * 100
	switch {
	case upside > 30:
		return 100
	case upside > 20:
		return 90
	case upside > 15:
		return 80
	case upside > 10:
		return 70
	case upside > 5:
		return 60
	case upside > 0:
		return 55
	case upside > -5:
		return 45
	case upside > -10:
		return 35
	case upside > -15:
		return 25
	default:
		return 10
	}
}

func sentimentConfidence(info *types.FundamentalsSnapshot) float64 {
	var confidence float64
	total := totalRecommendations(info)
	if total > 0 {
		confidence += 0.6
		if total >= 10 {
			confidence += 0.2
		}
	}
	if valOr(info.TargetMeanPrice, 0) > 0 {
		confidence += 0.2
	}
	if confidence > 1.0 {
		confidence = 1.0
	}
	return confidence
}

func buildSentimentReasoning(info *types.FundamentalsSnapshot) string {
	var reasons []string

	total := totalRecommendations(info)
	if total > 0 {
		buyCount := intOr(info.StrongBuyCount) + intOr(info.BuyCount)
		sellCount := intOr(info.SellCount) + intOr(info.StrongSellCount)
		switch {
		case buyCount > sellCount*2:
			reasons = append(reasons, "strong analyst bullish consensus")
		case buyCount > sellCount:
			reasons = append(reasons, "analysts lean bullish")
		case sellCount > buyCount:
			reasons = append(reasons, "analysts lean bearish")
		default:
			reasons = append(reasons, "mixed analyst views")
		}
	}

	target := valOr(info.TargetMeanPrice, 0)
	current := valOr(info.CurrentPrice, 0)
	if target > 0 && current > 0 {
		upside := (target - current) / current * 100
		switch {
		case upside > 15:
			reasons = append(reasons, fmt.Sprintf("significant upside to target (%.1f%%)", upside))
		case upside > 5:
			reasons = append(reasons, fmt.Sprintf("moderate upside to target (%.1f%%)", upside))
		case upside < -5:
			reasons = append(reasons, fmt.Sprintf("trading above target (%.1f%%)", upside))
		}
	}

	if len(reasons) == 0 {
		return "Limited sentiment data"
	}
	return capitalizeJoin(reasons)
}
