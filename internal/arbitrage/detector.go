package arbitrage

import (
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/oddslab/crossarb/internal/clock"
	"github.com/oddslab/crossarb/internal/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// ARBITRAGE DETECTOR
// ═══════════════════════════════════════════════════════════════════════════════
//
// Two mispricing classes:
//   single-platform: YES ask + NO ask sums below 1 after fees, so buying
//   both sides locks in the difference at resolution.
//   cross-platform: the same outcome trades at a higher bid on one venue
//   than its ask on the other.
//
// Opportunities carry a TTL and are dropped once stale, profitable or not.
//
// ═══════════════════════════════════════════════════════════════════════════════

// DefaultTTL is how long a detected opportunity stays actionable.
const DefaultTTL = 5 * time.Second

// DetectorConfig tunes detection.
type DetectorConfig struct {
	FeeBps       map[types.Platform]int64
	MinSpreadBps int64
	TTL          time.Duration
	EnableSingle bool
	EnableCross  bool
}

// Detector finds arbitrage opportunities in market snapshots.
type Detector struct {
	cfg DetectorConfig
	clk clock.Clock
}

// NewDetector creates a detector.
func NewDetector(cfg DetectorConfig, clk clock.Clock) *Detector {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	return &Detector{cfg: cfg, clk: clk}
}

func (d *Detector) feeFraction(p types.Platform) decimal.Decimal {
	return decimal.NewFromInt(d.cfg.FeeBps[p]).Div(decimal.NewFromInt(types.BPSDivisor))
}

// ScanSingle checks each binary market for sum mispricing.
func (d *Detector) ScanSingle(markets []types.NormalizedMarket) []types.ArbitrageOpportunity {
	if !d.cfg.EnableSingle {
		return nil
	}
	var out []types.ArbitrageOpportunity
	for i := range markets {
		market := &markets[i]
		if !market.IsActive {
			continue
		}
		yes, no, ok := market.Binary()
		if !ok || yes.BestAsk.IsZero() || no.BestAsk.IsZero() {
			continue
		}

		sum := yes.BestAsk.Add(no.BestAsk)
		fees := d.feeFraction(market.Platform).Mul(decimal.NewFromInt(2))
		profit := decimal.NewFromInt(1).Sub(sum).Sub(fees)
		if !profit.IsPositive() || sum.IsZero() {
			continue
		}

		spreadBps := profit.Div(sum).Mul(decimal.NewFromInt(types.BPSDivisor)).IntPart()
		if spreadBps < d.cfg.MinSpreadBps {
			continue
		}
		maxSize := decimal.Min(yes.AskSize, no.AskSize)
		if maxSize.LessThanOrEqual(decimal.Zero) {
			continue
		}

		opp := types.ArbitrageOpportunity{
			ID:   uuid.NewString(),
			Type: types.ArbSinglePlatform,
			BuyLeg: types.ArbitrageLeg{
				Platform:  market.Platform,
				MarketID:  market.ExternalID,
				OutcomeID: yes.ExternalID,
				Side:      types.SideBuy,
				Price:     yes.BestAsk,
				Size:      maxSize,
			},
			SellLeg: types.ArbitrageLeg{
				Platform:  market.Platform,
				MarketID:  market.ExternalID,
				OutcomeID: no.ExternalID,
				Side:      types.SideBuy, // second buy leg for sum arbs
				Price:     no.BestAsk,
				Size:      maxSize,
			},
			SpreadBps:  spreadBps,
			MaxProfit:  profit.Mul(maxSize),
			MaxSize:    maxSize,
			Confidence: decimal.NewFromInt(1),
			Status:     types.OppDetected,
			DetectedAt: d.clk.Now(),
			TTL:        d.cfg.TTL,
		}
		log.Info().
			Str("market", market.Key()).
			Int64("spread_bps", spreadBps).
			Str("max_profit", opp.MaxProfit.StringFixed(2)).
			Msg("⚡ Sum arbitrage detected")
		out = append(out, opp)
	}
	return out
}

// ScanCross checks matched pairs for cross-venue mispricing. Markets are
// looked up by their Key().
func (d *Detector) ScanCross(pairs []types.MarketPair, markets map[string]*types.NormalizedMarket) []types.ArbitrageOpportunity {
	if !d.cfg.EnableCross {
		return nil
	}
	var out []types.ArbitrageOpportunity
	for _, pair := range pairs {
		ma, okA := markets[pair.MarketA]
		mb, okB := markets[pair.MarketB]
		if !okA || !okB || !ma.IsActive || !mb.IsActive {
			continue
		}
		for outcomeA, outcomeB := range pair.OutcomeMap {
			oa := findOutcome(ma, outcomeA)
			ob := findOutcome(mb, outcomeB)
			if oa == nil || ob == nil {
				continue
			}
			if opp := d.crossOpportunity(ma, mb, oa, ob); opp != nil {
				out = append(out, *opp)
			}
		}
	}
	return out
}

// crossOpportunity checks both directions between two mapped outcomes.
func (d *Detector) crossOpportunity(ma, mb *types.NormalizedMarket, oa, ob *types.Outcome) *types.ArbitrageOpportunity {
	fees := d.feeFraction(ma.Platform).Add(d.feeFraction(mb.Platform))

	// Buy where the ask is lower, sell where the bid is higher.
	type venueSide struct {
		market  *types.NormalizedMarket
		outcome *types.Outcome
	}
	a := venueSide{ma, oa}
	b := venueSide{mb, ob}

	for _, dir := range []struct{ buy, sell venueSide }{{a, b}, {b, a}} {
		askBuy := dir.buy.outcome.BestAsk
		bidSell := dir.sell.outcome.BestBid
		if askBuy.IsZero() || bidSell.IsZero() {
			continue
		}
		profit := bidSell.Sub(askBuy).Sub(fees)
		if !profit.IsPositive() {
			continue
		}
		spreadBps := profit.Div(askBuy).Mul(decimal.NewFromInt(types.BPSDivisor)).IntPart()
		if spreadBps < d.cfg.MinSpreadBps {
			continue
		}
		maxSize := decimal.Min(dir.buy.outcome.AskSize, dir.sell.outcome.BidSize)
		if maxSize.LessThanOrEqual(decimal.Zero) {
			continue
		}

		opp := &types.ArbitrageOpportunity{
			ID:   uuid.NewString(),
			Type: types.ArbCrossPlatform,
			BuyLeg: types.ArbitrageLeg{
				Platform:  dir.buy.market.Platform,
				MarketID:  dir.buy.market.ExternalID,
				OutcomeID: dir.buy.outcome.ExternalID,
				Side:      types.SideBuy,
				Price:     askBuy,
				Size:      maxSize,
			},
			SellLeg: types.ArbitrageLeg{
				Platform:  dir.sell.market.Platform,
				MarketID:  dir.sell.market.ExternalID,
				OutcomeID: dir.sell.outcome.ExternalID,
				Side:      types.SideSell,
				Price:     bidSell,
				Size:      maxSize,
			},
			SpreadBps:  spreadBps,
			MaxProfit:  profit.Mul(maxSize),
			MaxSize:    maxSize,
			Confidence: decimal.NewFromInt(1),
			Status:     types.OppDetected,
			DetectedAt: d.clk.Now(),
			TTL:        d.cfg.TTL,
		}
		log.Info().
			Str("buy", opp.BuyLeg.MarketID).
			Str("sell", opp.SellLeg.MarketID).
			Int64("spread_bps", spreadBps).
			Msg("⚡ Cross-venue arbitrage detected")
		return opp
	}
	return nil
}

// Filter drops expired opportunities, profitable or not.
func (d *Detector) Filter(opps []types.ArbitrageOpportunity) []types.ArbitrageOpportunity {
	now := d.clk.Now()
	out := opps[:0]
	for _, o := range opps {
		if o.Expired(now) {
			log.Debug().Str("opportunity", o.ID).Msg("Opportunity expired, dropping")
			continue
		}
		out = append(out, o)
	}
	return out
}

func findOutcome(m *types.NormalizedMarket, externalID string) *types.Outcome {
	for i := range m.Outcomes {
		if m.Outcomes[i].ExternalID == externalID {
			return &m.Outcomes[i]
		}
	}
	return nil
}
