package pricehistory

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/oddslab/crossarb/internal/clock"
	"github.com/oddslab/crossarb/internal/indicators"
)

// ═══════════════════════════════════════════════════════════════════════════════
// PRICE HISTORY TRACKER - Bounded per-market time series
// ═══════════════════════════════════════════════════════════════════════════════
//
// Each market gets a fixed-capacity ring of samples. Samples arriving
// faster than the configured interval are dropped. A move of 5%+ against
// the previous sample within 60s raises a significant-move event.
//
// ═══════════════════════════════════════════════════════════════════════════════

const (
	// DefaultCapacity is the ring size per market.
	DefaultCapacity = 500
	// DefaultSampleInterval is the minimum spacing between kept samples.
	DefaultSampleInterval = time.Second

	significantMoveThreshold = 0.05
	significantMoveWindow    = 60 * time.Second

	// minStatsPoints is the fewest window samples GetStats will work with.
	minStatsPoints = 10
)

// PricePoint is a single recorded sample.
type PricePoint struct {
	Timestamp time.Time
	Price     decimal.Decimal
	Volume    decimal.Decimal
	BidSize   decimal.Decimal
	AskSize   decimal.Decimal
}

// PriceStats is derived on demand over a window.
type PriceStats struct {
	Current       decimal.Decimal
	SMA20         float64
	VWAP          float64
	Volatility    float64
	RSI14         float64
	ChangePercent float64
	Min           float64
	Max           float64
	Points        int
}

// SignificantMove is raised when a price jumps 5%+ within the move window.
type SignificantMove struct {
	MarketID  string
	From      decimal.Decimal
	To        decimal.Decimal
	ChangePct float64
	At        time.Time
}

type ring struct {
	points []PricePoint
	head   int // next write index
	count  int
}

func (r *ring) push(p PricePoint) {
	r.points[r.head] = p
	r.head = (r.head + 1) % len(r.points)
	if r.count < len(r.points) {
		r.count++
	}
}

// ordered returns samples oldest first.
func (r *ring) ordered() []PricePoint {
	out := make([]PricePoint, 0, r.count)
	start := r.head - r.count
	if start < 0 {
		start += len(r.points)
	}
	for i := 0; i < r.count; i++ {
		out = append(out, r.points[(start+i)%len(r.points)])
	}
	return out
}

func (r *ring) last() (PricePoint, bool) {
	if r.count == 0 {
		return PricePoint{}, false
	}
	idx := r.head - 1
	if idx < 0 {
		idx += len(r.points)
	}
	return r.points[idx], true
}

// Tracker maintains one ring per market.
type Tracker struct {
	mu             sync.RWMutex
	capacity       int
	sampleInterval time.Duration
	clock          clock.Clock
	rings          map[string]*ring
	moveCh         chan SignificantMove
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithCapacity overrides the per-market ring size.
func WithCapacity(n int) Option {
	return func(t *Tracker) { t.capacity = n }
}

// WithSampleInterval overrides the minimum sample spacing.
func WithSampleInterval(d time.Duration) Option {
	return func(t *Tracker) { t.sampleInterval = d }
}

// New creates a tracker on the given clock.
func New(clk clock.Clock, opts ...Option) *Tracker {
	t := &Tracker{
		capacity:       DefaultCapacity,
		sampleInterval: DefaultSampleInterval,
		clock:          clk,
		rings:          make(map[string]*ring),
		moveCh:         make(chan SignificantMove, 256),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Moves returns the significant-move event channel.
func (t *Tracker) Moves() <-chan SignificantMove { return t.moveCh }

// Record stores a sample for marketID. Samples inside the sample interval
// are dropped; the ring evicts the oldest point at capacity.
func (t *Tracker) Record(marketID string, price, volume, bidSize, askSize decimal.Decimal) {
	if price.LessThanOrEqual(decimal.Zero) {
		return
	}
	now := t.clock.Now()

	t.mu.Lock()
	r, ok := t.rings[marketID]
	if !ok {
		r = &ring{points: make([]PricePoint, t.capacity)}
		t.rings[marketID] = r
	}

	prev, hasPrev := r.last()
	if hasPrev && now.Sub(prev.Timestamp) < t.sampleInterval {
		t.mu.Unlock()
		return
	}

	r.push(PricePoint{
		Timestamp: now,
		Price:     price,
		Volume:    volume,
		BidSize:   bidSize,
		AskSize:   askSize,
	})
	t.mu.Unlock()

	if hasPrev && !prev.Price.IsZero() && now.Sub(prev.Timestamp) <= significantMoveWindow {
		change := indicators.DecimalToFloat(price.Sub(prev.Price).Div(prev.Price))
		if change >= significantMoveThreshold || change <= -significantMoveThreshold {
			move := SignificantMove{
				MarketID:  marketID,
				From:      prev.Price,
				To:        price,
				ChangePct: change,
				At:        now,
			}
			select {
			case t.moveCh <- move:
			default:
				log.Warn().Str("market", marketID).Msg("Significant-move channel full, dropping event")
			}
		}
	}
}

// GetStats derives statistics over the trailing window. Returns nil when
// fewer than minStatsPoints samples fall inside it.
func (t *Tracker) GetStats(marketID string, window time.Duration) *PriceStats {
	t.mu.RLock()
	r, ok := t.rings[marketID]
	if !ok {
		t.mu.RUnlock()
		return nil
	}
	all := r.ordered()
	t.mu.RUnlock()

	cutoff := t.clock.Now().Add(-window)
	var points []PricePoint
	for _, p := range all {
		if !p.Timestamp.Before(cutoff) {
			points = append(points, p)
		}
	}
	if len(points) < minStatsPoints {
		return nil
	}

	prices := make([]float64, len(points))
	volumes := make([]float64, len(points))
	hasVolume := false
	for i, p := range points {
		prices[i] = indicators.DecimalToFloat(p.Price)
		volumes[i] = indicators.DecimalToFloat(p.Volume)
		if !p.Volume.IsZero() {
			hasVolume = true
		}
	}

	vwap := indicators.SMA(prices, len(prices))
	if hasVolume {
		vwap = indicators.VWAP(prices, volumes)
	}

	min, max := prices[0], prices[0]
	for _, p := range prices {
		if p < min {
			min = p
		}
		if p > max {
			max = p
		}
	}

	return &PriceStats{
		Current:       points[len(points)-1].Price,
		SMA20:         indicators.SMA(prices, 20),
		VWAP:          vwap,
		Volatility:    indicators.Volatility(prices),
		RSI14:         indicators.RSI(prices, 14),
		ChangePercent: indicators.ChangePercent(prices),
		Min:           min,
		Max:           max,
		Points:        len(points),
	}
}

// Count returns how many samples a market holds.
func (t *Tracker) Count(marketID string) int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if r, ok := t.rings[marketID]; ok {
		return r.count
	}
	return 0
}

// Markets returns all tracked market ids.
func (t *Tracker) Markets() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]string, 0, len(t.rings))
	for id := range t.rings {
		out = append(out, id)
	}
	return out
}
