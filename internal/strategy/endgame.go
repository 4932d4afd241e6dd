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
// ENDGAME - Buy near-certain outcomes close to resolution
// ═══════════════════════════════════════════════════════════════════════════════

// EndgameConfig bounds which late-stage outcomes qualify.
type EndgameConfig struct {
	MinHours         float64 // closest resolution we'll touch
	MaxHours         float64
	MinPrice         float64 // ask band for "near certain"
	MaxPrice         float64
	MinAnnualizedPct float64 // hurdle, in percent
}

// DefaultEndgameConfig returns the standard tuning.
func DefaultEndgameConfig() EndgameConfig {
	return EndgameConfig{
		MinHours:         0.5,
		MaxHours:         336, // two weeks
		MinPrice:         0.75,
		MaxPrice:         0.98,
		MinAnnualizedPct: 15,
	}
}

const hoursPerYear = 8760

// Endgame buys high-probability outcomes when the remaining edge
// annualizes above the hurdle. Needs no price history.
type Endgame struct {
	base
	cfg EndgameConfig
}

// NewEndgame creates the strategy.
func NewEndgame(cfg EndgameConfig, clk clock.Clock) *Endgame {
	return &Endgame{base: newBase("endgame", clk), cfg: cfg}
}

func (s *Endgame) Analyze(market *types.NormalizedMarket, _ *pricehistory.PriceStats, _ *types.OrderBook) []types.Signal {
	if market.EndDate == nil {
		return nil
	}
	hours := market.EndDate.Sub(s.clk.Now()).Hours()
	if hours < s.cfg.MinHours || hours > s.cfg.MaxHours {
		return nil
	}

	var out []types.Signal
	for i := range market.Outcomes {
		o := &market.Outcomes[i]
		ask := indicators.DecimalToFloat(o.BestAsk)
		if ask < s.cfg.MinPrice || ask > s.cfg.MaxPrice {
			continue
		}
		profit := (1 - ask) / ask
		annualizedPct := profit * 100 * hoursPerYear / hours
		if annualizedPct < s.cfg.MinAnnualizedPct {
			continue
		}
		size := o.AskSize
		if size.LessThanOrEqual(decimal.Zero) {
			continue
		}
		out = append(out, s.signal(
			market.Key(), o.ExternalID, types.SideBuy, o.BestAsk, size, o.BestAsk,
			fmt.Sprintf("annualized %.1f%% over %.1fh", annualizedPct, hours),
		))
	}
	return out
}
