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
// ORDERBOOK IMBALANCE - Lean with heavy one-sided depth
// ═══════════════════════════════════════════════════════════════════════════════

// ImbalanceConfig tunes the depth filters.
type ImbalanceConfig struct {
	Levels       int     // top-of-book levels summed
	MinRatio     float64 // bid/ask volume ratio to act on
	MinTotalVol  float64
	MaxSpreadPct float64
}

// DefaultImbalanceConfig returns the standard tuning.
func DefaultImbalanceConfig() ImbalanceConfig {
	return ImbalanceConfig{Levels: 5, MinRatio: 1.5, MinTotalVol: 100, MaxSpreadPct: 0.05}
}

// Imbalance buys when bid depth dominates ask depth on the YES book and
// sells on the mirror condition. Requires an orderbook.
type Imbalance struct {
	base
	cfg ImbalanceConfig
}

// NewImbalance creates the strategy.
func NewImbalance(cfg ImbalanceConfig, clk clock.Clock) *Imbalance {
	return &Imbalance{base: newBase("orderbook_imbalance", clk), cfg: cfg}
}

func sumLevels(levels []types.PriceLevel, n int) float64 {
	total := 0.0
	for i, l := range levels {
		if i >= n {
			break
		}
		total += indicators.DecimalToFloat(l.Size)
	}
	return total
}

func (s *Imbalance) Analyze(market *types.NormalizedMarket, _ *pricehistory.PriceStats, book *types.OrderBook) []types.Signal {
	if book == nil {
		return nil
	}
	yes, _, ok := market.Binary()
	if !ok {
		return nil
	}
	bid, hasBid := book.Yes.BestBid()
	ask, hasAsk := book.Yes.BestAsk()
	if !hasBid || !hasAsk {
		return nil
	}

	spreadPct := indicators.DecimalToFloat(indicators.SpreadPercent(bid.Price, ask.Price))
	if spreadPct > s.cfg.MaxSpreadPct {
		return nil
	}

	bidVol := sumLevels(book.Yes.Bids, s.cfg.Levels)
	askVol := sumLevels(book.Yes.Asks, s.cfg.Levels)
	if bidVol+askVol < s.cfg.MinTotalVol || bidVol == 0 || askVol == 0 {
		return nil
	}

	switch {
	case bidVol/askVol >= s.cfg.MinRatio:
		conf := clipF(bidVol / askVol / 3)
		size := decimal.Min(ask.Size, decimal.NewFromFloat(askVol))
		return one(s.signal(market.Key(), yes.ExternalID, types.SideBuy, ask.Price, size, conf,
			fmt.Sprintf("bid/ask depth %.2f", bidVol/askVol)))
	case askVol/bidVol >= s.cfg.MinRatio:
		conf := clipF(askVol / bidVol / 3)
		size := decimal.Min(bid.Size, decimal.NewFromFloat(bidVol))
		return one(s.signal(market.Key(), yes.ExternalID, types.SideSell, bid.Price, size, conf,
			fmt.Sprintf("ask/bid depth %.2f", askVol/bidVol)))
	}
	return nil
}
