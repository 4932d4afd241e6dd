package copytrade

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/oddslab/crossarb/internal/clock"
	"github.com/oddslab/crossarb/internal/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// AGGREGATION - Collapse bursts of tracked trades into one synthetic order
// ═══════════════════════════════════════════════════════════════════════════════

// DetectedTrade is one observed action of a tracked wallet, deduplicated
// by transaction hash upstream.
type DetectedTrade struct {
	TxHash    string
	Wallet    string
	MarketID  string
	OutcomeID string
	Side      types.Side
	Price     decimal.Decimal
	SizeUSD   decimal.Decimal
	At        time.Time
}

// AggregatedTrade is a bucket of detected trades flushed as one order.
type AggregatedTrade struct {
	Wallet    string
	MarketID  string
	OutcomeID string
	Side      types.Side
	AvgPrice  decimal.Decimal // size-weighted
	TotalUSD  decimal.Decimal
	Count     int
	TxHashes  []string // constituent transactions, in arrival order
	FirstAt   time.Time
	LastAt    time.Time
}

// AggregatorConfig tunes bucketing.
type AggregatorConfig struct {
	Enabled   bool
	Window    time.Duration // bucket lifetime
	MinTrades int           // flush early once reached
}

// DefaultAggregatorConfig returns the standard bucketing.
func DefaultAggregatorConfig() AggregatorConfig {
	return AggregatorConfig{Enabled: true, Window: 30 * time.Second, MinTrades: 3}
}

type bucket struct {
	trades   []DetectedTrade
	openedAt time.Time
}

// Aggregator buckets trades per (wallet, market, outcome, side).
type Aggregator struct {
	cfg AggregatorConfig
	clk clock.Clock

	mu      sync.Mutex
	buckets map[string]*bucket
}

// NewAggregator creates an aggregator.
func NewAggregator(cfg AggregatorConfig, clk clock.Clock) *Aggregator {
	return &Aggregator{cfg: cfg, clk: clk, buckets: make(map[string]*bucket)}
}

func bucketKey(t DetectedTrade) string {
	return t.Wallet + "|" + t.MarketID + "|" + t.OutcomeID + "|" + string(t.Side)
}

// Push adds a trade. Returns a flushed aggregate when the bucket reaches
// MinTrades, or the trade as a singleton aggregate when aggregation is
// disabled.
func (a *Aggregator) Push(t DetectedTrade) *AggregatedTrade {
	if !a.cfg.Enabled {
		agg := aggregate([]DetectedTrade{t})
		return &agg
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	key := bucketKey(t)
	b, ok := a.buckets[key]
	if !ok {
		b = &bucket{openedAt: a.clk.Now()}
		a.buckets[key] = b
	}
	b.trades = append(b.trades, t)

	if len(b.trades) >= a.cfg.MinTrades {
		delete(a.buckets, key)
		agg := aggregate(b.trades)
		return &agg
	}
	return nil
}

// FlushExpired drains buckets whose window has elapsed.
func (a *Aggregator) FlushExpired() []AggregatedTrade {
	now := a.clk.Now()
	a.mu.Lock()
	defer a.mu.Unlock()

	var out []AggregatedTrade
	for key, b := range a.buckets {
		if now.Sub(b.openedAt) >= a.cfg.Window {
			delete(a.buckets, key)
			out = append(out, aggregate(b.trades))
		}
	}
	return out
}

// Pending returns how many buckets are open.
func (a *Aggregator) Pending() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.buckets)
}

// aggregate folds trades into one record with a size-weighted price.
func aggregate(trades []DetectedTrade) AggregatedTrade {
	first := trades[0]
	agg := AggregatedTrade{
		Wallet:    first.Wallet,
		MarketID:  first.MarketID,
		OutcomeID: first.OutcomeID,
		Side:      first.Side,
		Count:     len(trades),
		FirstAt:   first.At,
		LastAt:    first.At,
	}
	var weighted decimal.Decimal
	for _, t := range trades {
		agg.TxHashes = append(agg.TxHashes, t.TxHash)
		agg.TotalUSD = agg.TotalUSD.Add(t.SizeUSD)
		weighted = weighted.Add(t.Price.Mul(t.SizeUSD))
		if t.At.Before(agg.FirstAt) {
			agg.FirstAt = t.At
		}
		if t.At.After(agg.LastAt) {
			agg.LastAt = t.At
		}
	}
	if agg.TotalUSD.IsPositive() {
		agg.AvgPrice = weighted.Div(agg.TotalUSD)
	} else {
		agg.AvgPrice = first.Price
	}
	return agg
}
