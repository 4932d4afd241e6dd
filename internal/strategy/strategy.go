package strategy

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/oddslab/crossarb/internal/clock"
	"github.com/oddslab/crossarb/internal/pricehistory"
	"github.com/oddslab/crossarb/internal/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// STRATEGY CONTRACT
// ═══════════════════════════════════════════════════════════════════════════════
//
// A strategy inspects one market per call and may emit signals. Stats and
// book are optional; strategies that need them return nothing when the
// input is missing.
//
// ═══════════════════════════════════════════════════════════════════════════════

// Strategy analyzes markets and emits ephemeral trade signals.
type Strategy interface {
	Name() string
	Analyze(market *types.NormalizedMarket, stats *pricehistory.PriceStats, book *types.OrderBook) []types.Signal
	ClearSignal(marketID string)
	ActiveSignals() []types.Signal
}

// DefaultSignalTTL bounds how long an unexecuted signal stays actionable.
const DefaultSignalTTL = 30 * time.Second

// base carries the bookkeeping every strategy shares.
type base struct {
	name string
	clk  clock.Clock

	mu     sync.Mutex
	active map[string]types.Signal // by market|outcome|side
}

func newBase(name string, clk clock.Clock) base {
	return base{name: name, clk: clk, active: make(map[string]types.Signal)}
}

func (b *base) Name() string { return b.name }

func (b *base) ClearSignal(marketID string) {
	b.mu.Lock()
	for k := range b.active {
		if strings.HasPrefix(k, marketID+"|") {
			delete(b.active, k)
		}
	}
	b.mu.Unlock()
}

func (b *base) ActiveSignals() []types.Signal {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := b.clk.Now()
	out := make([]types.Signal, 0, len(b.active))
	for id, s := range b.active {
		if s.Expired(now) {
			delete(b.active, id)
			continue
		}
		out = append(out, s)
	}
	return out
}

// signal builds and registers a signal for the market.
func (b *base) signal(marketID, outcomeID string, side types.Side, price, size, confidence decimal.Decimal, reason string) types.Signal {
	now := b.clk.Now()
	s := types.Signal{
		ID:         uuid.NewString(),
		MarketID:   marketID,
		OutcomeID:  outcomeID,
		Side:       side,
		Price:      price,
		Size:       size,
		Confidence: confidence,
		Strategy:   b.name,
		Reason:     reason,
		CreatedAt:  now,
		ExpiresAt:  now.Add(DefaultSignalTTL),
	}
	b.mu.Lock()
	b.active[marketID+"|"+outcomeID+"|"+string(side)] = s
	b.mu.Unlock()
	return s
}

// clip bounds v into [0, 1].
func clip(v decimal.Decimal) decimal.Decimal {
	if v.IsNegative() {
		return decimal.Zero
	}
	if v.GreaterThan(decimal.NewFromInt(1)) {
		return decimal.NewFromInt(1)
	}
	return v
}

// clipF is the float variant of clip.
func clipF(v float64) decimal.Decimal {
	if v < 0 {
		v = 0
	}
	if v > 1 {
		v = 1
	}
	return decimal.NewFromFloat(v)
}

// one wraps a single signal into the return slice.
func one(s types.Signal) []types.Signal { return []types.Signal{s} }
