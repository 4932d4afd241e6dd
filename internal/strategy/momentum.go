package strategy

import (
	"fmt"

	"github.com/oddslab/crossarb/internal/clock"
	"github.com/oddslab/crossarb/internal/indicators"
	"github.com/oddslab/crossarb/internal/pricehistory"
	"github.com/oddslab/crossarb/internal/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// MOMENTUM - Trade with the trend confirmed by SMA, VWAP and RSI
// ═══════════════════════════════════════════════════════════════════════════════

// MomentumConfig tunes the trend filters.
type MomentumConfig struct {
	MinChangePct  float64 // minimum window move to act on
	RSIOversold   float64
	RSIOverbought float64
}

// DefaultMomentumConfig returns the standard tuning.
func DefaultMomentumConfig() MomentumConfig {
	return MomentumConfig{MinChangePct: 0.02, RSIOversold: 30, RSIOverbought: 70}
}

// Momentum buys confirmed upward moves and sells confirmed downward
// moves on the YES outcome. Requires price history.
type Momentum struct {
	base
	cfg MomentumConfig
}

// NewMomentum creates the strategy.
func NewMomentum(cfg MomentumConfig, clk clock.Clock) *Momentum {
	return &Momentum{base: newBase("momentum", clk), cfg: cfg}
}

func (s *Momentum) Analyze(market *types.NormalizedMarket, stats *pricehistory.PriceStats, _ *types.OrderBook) []types.Signal {
	if stats == nil {
		return nil
	}
	yes, _, ok := market.Binary()
	if !ok {
		return nil
	}
	price := indicators.DecimalToFloat(stats.Current)

	up := price > stats.SMA20 && price > stats.VWAP &&
		stats.RSI14 > s.cfg.RSIOversold && stats.RSI14 < s.cfg.RSIOverbought &&
		stats.ChangePercent > s.cfg.MinChangePct
	down := price < stats.SMA20 && price < stats.VWAP &&
		stats.RSI14 > s.cfg.RSIOversold && stats.RSI14 < s.cfg.RSIOverbought &&
		stats.ChangePercent < -s.cfg.MinChangePct

	switch {
	case up:
		if yes.BestAsk.IsZero() || yes.AskSize.IsZero() {
			return nil
		}
		conf := clipF(stats.ChangePercent / 0.10)
		return one(s.signal(market.Key(), yes.ExternalID, types.SideBuy, yes.BestAsk, yes.AskSize, conf,
			fmt.Sprintf("uptrend, change %.2f%%", stats.ChangePercent*100)))
	case down:
		if yes.BestBid.IsZero() || yes.BidSize.IsZero() {
			return nil
		}
		conf := clipF(-stats.ChangePercent / 0.10)
		return one(s.signal(market.Key(), yes.ExternalID, types.SideSell, yes.BestBid, yes.BidSize, conf,
			fmt.Sprintf("downtrend, change %.2f%%", stats.ChangePercent*100)))
	}
	return nil
}
