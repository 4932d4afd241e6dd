package strategy

import (
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/oddslab/crossarb/internal/clock"
	"github.com/oddslab/crossarb/internal/pricehistory"
	"github.com/oddslab/crossarb/internal/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// STRATEGY MANAGER - Scan, dedup, rank
// ═══════════════════════════════════════════════════════════════════════════════
//
// One scan runs every strategy over every market, deduplicates signals
// by (market, side) keeping the highest confidence, and returns the
// top-K. Markets that emitted enter a cooldown; volatility-capture
// signals ignore it.
//
// ═══════════════════════════════════════════════════════════════════════════════

const (
	// DefaultTopK caps how many signals one scan may return.
	DefaultTopK = 5
	// DefaultCooldown is the per-market quiet period after an emission.
	DefaultCooldown = 15 * time.Second

	statsWindow = 5 * time.Minute
)

// Manager owns the strategy set and the price tracker used for stats.
type Manager struct {
	tracker    *pricehistory.Tracker
	strategies []Strategy
	volCapture *VolatilityCapture // may be nil
	clk        clock.Clock

	topK      int
	cooldown  time.Duration
	cooldowns map[string]time.Time // market id -> quiet until
}

// ManagerOption configures the manager.
type ManagerOption func(*Manager)

// WithTopK overrides the per-scan signal cap.
func WithTopK(k int) ManagerOption {
	return func(m *Manager) { m.topK = k }
}

// WithCooldown overrides the per-market quiet period.
func WithCooldown(d time.Duration) ManagerOption {
	return func(m *Manager) { m.cooldown = d }
}

// NewManager creates a manager over the given strategies.
func NewManager(tracker *pricehistory.Tracker, strategies []Strategy, clk clock.Clock, opts ...ManagerOption) *Manager {
	m := &Manager{
		tracker:    tracker,
		strategies: strategies,
		clk:        clk,
		topK:       DefaultTopK,
		cooldown:   DefaultCooldown,
		cooldowns:  make(map[string]time.Time),
	}
	for _, s := range strategies {
		if vc, ok := s.(*VolatilityCapture); ok {
			m.volCapture = vc
		}
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// NoteMove forwards a significant move into the volatility-capture
// strategy's event window.
func (m *Manager) NoteMove(move pricehistory.SignificantMove) {
	if m.volCapture != nil {
		m.volCapture.NoteMove(move)
	}
}

// ScanMarkets runs every strategy over the markets and returns the
// top-K deduplicated signals. Books are keyed by market Key().
func (m *Manager) ScanMarkets(markets []types.NormalizedMarket, books map[string]*types.OrderBook) []types.Signal {
	now := m.clk.Now()
	best := make(map[string]types.Signal) // (market|side) -> highest confidence

	for i := range markets {
		market := &markets[i]
		if !market.IsActive {
			continue
		}
		key := market.Key()
		cooled := now.Before(m.cooldowns[key])
		stats := m.tracker.GetStats(key, statsWindow)
		book := books[key]

		for _, strat := range m.strategies {
			if cooled && strat != Strategy(m.volCapture) {
				continue
			}
			for _, sig := range strat.Analyze(market, stats, book) {
				if sig.Expired(now) || !sig.Confidence.IsPositive() {
					continue
				}
				k := sig.MarketID + "|" + string(sig.Side)
				if cur, ok := best[k]; !ok || sig.Confidence.GreaterThan(cur.Confidence) {
					best[k] = sig
				}
			}
		}
	}

	out := make([]types.Signal, 0, len(best))
	for _, s := range best {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Confidence.Equal(out[j].Confidence) {
			return out[i].Confidence.GreaterThan(out[j].Confidence)
		}
		return out[i].MarketID < out[j].MarketID
	})
	if len(out) > m.topK {
		out = out[:m.topK]
	}

	for _, s := range out {
		m.cooldowns[s.MarketID] = now.Add(m.cooldown)
	}
	if len(out) > 0 {
		log.Debug().Int("signals", len(out)).Msg("📊 Scan produced signals")
	}
	return out
}

// ActiveSignals returns every strategy's live signals.
func (m *Manager) ActiveSignals() []types.Signal {
	var out []types.Signal
	for _, s := range m.strategies {
		out = append(out, s.ActiveSignals()...)
	}
	return out
}

// ClearSignal clears a market's signals across all strategies, used when
// an execution consumes them.
func (m *Manager) ClearSignal(marketID string) {
	for _, s := range m.strategies {
		s.ClearSignal(marketID)
	}
}
