package strategy

import (
	"fmt"

	"github.com/oddslab/crossarb/internal/clock"
	"github.com/oddslab/crossarb/internal/indicators"
	"github.com/oddslab/crossarb/internal/pricehistory"
	"github.com/oddslab/crossarb/internal/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// MEAN REVERSION - Fade stretched deviations from VWAP
// ═══════════════════════════════════════════════════════════════════════════════

// MeanReversionConfig tunes the deviation and RSI gates.
type MeanReversionConfig struct {
	MinDeviation  float64 // |(current - vwap)/vwap| to act on
	RSIOversold   float64
	RSIOverbought float64
}

// DefaultMeanReversionConfig returns the standard tuning.
func DefaultMeanReversionConfig() MeanReversionConfig {
	return MeanReversionConfig{MinDeviation: 0.05, RSIOversold: 30, RSIOverbought: 70}
}

// MeanReversion buys oversold dips below VWAP and sells overbought
// spikes above it. Requires price history.
type MeanReversion struct {
	base
	cfg MeanReversionConfig
}

// NewMeanReversion creates the strategy.
func NewMeanReversion(cfg MeanReversionConfig, clk clock.Clock) *MeanReversion {
	return &MeanReversion{base: newBase("mean_reversion", clk), cfg: cfg}
}

func (s *MeanReversion) Analyze(market *types.NormalizedMarket, stats *pricehistory.PriceStats, _ *types.OrderBook) []types.Signal {
	if stats == nil || stats.VWAP <= 0 {
		return nil
	}
	yes, _, ok := market.Binary()
	if !ok {
		return nil
	}
	price := indicators.DecimalToFloat(stats.Current)
	deviation := (price - stats.VWAP) / stats.VWAP

	oversold := deviation < -s.cfg.MinDeviation && stats.RSI14 < s.cfg.RSIOversold &&
		price < stats.VWAP && price < stats.SMA20
	overbought := deviation > s.cfg.MinDeviation && stats.RSI14 > s.cfg.RSIOverbought &&
		price > stats.VWAP && price > stats.SMA20

	switch {
	case oversold:
		if yes.BestAsk.IsZero() || yes.AskSize.IsZero() {
			return nil
		}
		conf := clipF(-deviation / 0.10)
		return one(s.signal(market.Key(), yes.ExternalID, types.SideBuy, yes.BestAsk, yes.AskSize, conf,
			fmt.Sprintf("oversold, deviation %.2f%%", deviation*100)))
	case overbought:
		if yes.BestBid.IsZero() || yes.BidSize.IsZero() {
			return nil
		}
		conf := clipF(deviation / 0.10)
		return one(s.signal(market.Key(), yes.ExternalID, types.SideSell, yes.BestBid, yes.BidSize, conf,
			fmt.Sprintf("overbought, deviation %.2f%%", deviation*100)))
	}
	return nil
}
