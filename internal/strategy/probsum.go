package strategy

import (
	"github.com/shopspring/decimal"

	"github.com/oddslab/crossarb/internal/clock"
	"github.com/oddslab/crossarb/internal/pricehistory"
	"github.com/oddslab/crossarb/internal/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// PROBABILITY SUM - Buy both sides when YES + NO asks sum below 1
// ═══════════════════════════════════════════════════════════════════════════════

// confidenceBand is the sum shortfall at which confidence saturates.
var confidenceBand = decimal.NewFromFloat(0.05)

// ProbabilitySum emits a buy-both signal pair when the ask sum leaves a
// margin after round-trip fees. Needs no price history.
type ProbabilitySum struct {
	base
	feeBps map[types.Platform]int64
}

// NewProbabilitySum creates the strategy with per-venue taker fees.
func NewProbabilitySum(feeBps map[types.Platform]int64, clk clock.Clock) *ProbabilitySum {
	return &ProbabilitySum{base: newBase("probability_sum", clk), feeBps: feeBps}
}

func (s *ProbabilitySum) Analyze(market *types.NormalizedMarket, _ *pricehistory.PriceStats, _ *types.OrderBook) []types.Signal {
	yes, no, ok := market.Binary()
	if !ok || yes.BestAsk.IsZero() || no.BestAsk.IsZero() {
		return nil
	}

	sum := yes.BestAsk.Add(no.BestAsk)
	fees := decimal.NewFromInt(2 * s.feeBps[market.Platform]).Div(decimal.NewFromInt(types.BPSDivisor))
	threshold := decimal.NewFromInt(1).Sub(fees)
	if sum.GreaterThanOrEqual(threshold) {
		return nil
	}

	edge := decimal.NewFromInt(1).Sub(sum)
	confidence := clip(edge.Div(confidenceBand))
	size := decimal.Min(yes.AskSize, no.AskSize)
	if size.LessThanOrEqual(decimal.Zero) {
		return nil
	}

	key := market.Key()
	return []types.Signal{
		s.signal(key, yes.ExternalID, types.SideBuy, yes.BestAsk, size, confidence, "ask sum below 1"),
		s.signal(key, no.ExternalID, types.SideBuy, no.BestAsk, size, confidence, "ask sum below 1"),
	}
}
