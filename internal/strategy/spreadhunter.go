package strategy

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/oddslab/crossarb/internal/clock"
	"github.com/oddslab/crossarb/internal/indicators"
	"github.com/oddslab/crossarb/internal/pricehistory"
	"github.com/oddslab/crossarb/internal/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// SPREAD HUNTER - Work wide but liquid spreads
// ═══════════════════════════════════════════════════════════════════════════════

// SpreadHunterConfig bounds the spreads and liquidity worth working.
type SpreadHunterConfig struct {
	MinSpreadPct float64
	MaxSpreadPct float64
	MinTopSize   float64 // thin books aren't worth the queue
	MaxTopSize   float64 // huge books won't move through us
}

// DefaultSpreadHunterConfig returns the standard tuning.
func DefaultSpreadHunterConfig() SpreadHunterConfig {
	return SpreadHunterConfig{MinSpreadPct: 0.02, MaxSpreadPct: 0.15, MinTopSize: 10, MaxTopSize: 10000}
}

// SpreadHunter bids inside wide spreads on the cheaper outcome. Only
// active when the ask sum is above 1; below 1 the sum strategies own
// the market.
type SpreadHunter struct {
	base
	cfg SpreadHunterConfig
}

// NewSpreadHunter creates the strategy.
func NewSpreadHunter(cfg SpreadHunterConfig, clk clock.Clock) *SpreadHunter {
	return &SpreadHunter{base: newBase("spread_hunter", clk), cfg: cfg}
}

func (s *SpreadHunter) Analyze(market *types.NormalizedMarket, _ *pricehistory.PriceStats, _ *types.OrderBook) []types.Signal {
	yes, no, ok := market.Binary()
	if !ok || yes.BestAsk.IsZero() || no.BestAsk.IsZero() {
		return nil
	}
	if yes.BestAsk.Add(no.BestAsk).LessThanOrEqual(decimal.NewFromInt(1)) {
		return nil
	}

	// Work the cheaper side.
	target := yes
	if no.BestAsk.LessThan(yes.BestAsk) {
		target = no
	}
	if target.BestBid.IsZero() {
		return nil
	}

	spreadPct := indicators.DecimalToFloat(indicators.SpreadPercent(target.BestBid, target.BestAsk))
	if spreadPct < s.cfg.MinSpreadPct || spreadPct > s.cfg.MaxSpreadPct {
		return nil
	}
	topSize := indicators.DecimalToFloat(target.BidSize.Add(target.AskSize))
	if topSize < s.cfg.MinTopSize || topSize > s.cfg.MaxTopSize {
		return nil
	}

	entry := indicators.RoundToTick(indicators.Mid(target.BestBid, target.BestAsk))
	conf := clipF(spreadPct / s.cfg.MaxSpreadPct)
	return one(s.signal(market.Key(), target.ExternalID, types.SideBuy, entry, target.AskSize, conf,
		fmt.Sprintf("spread %.2f%%", spreadPct*100)))
}
