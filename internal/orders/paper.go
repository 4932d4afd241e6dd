package orders

import (
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/oddslab/crossarb/internal/types"
	"github.com/oddslab/crossarb/internal/venue"
)

// ═══════════════════════════════════════════════════════════════════════════════
// PAPER TRADING SIMULATOR
// ═══════════════════════════════════════════════════════════════════════════════
//
// Models latency, fill probability, partial fills and slippage so paper
// runs produce realistic order lifecycles. Updates are delivered through
// the same path as live venue order updates.
//
// ═══════════════════════════════════════════════════════════════════════════════

// PaperConfig tunes the simulator. Defaults match live observation on
// thin prediction-market books.
type PaperConfig struct {
	Balance decimal.Decimal
	FeeBps  map[types.Platform]int64

	LatencyMin time.Duration // uniform draw lower bound
	LatencyMax time.Duration // uniform draw upper bound

	FillProbability    float64
	PartialProbability float64 // conditional on fill

	SlippageBaseBps          float64
	SizeImpactBpsPerContract float64
	VolatilityMultiplier     float64

	Seed int64
}

// DefaultPaperConfig returns the standard simulator tuning.
func DefaultPaperConfig(balance decimal.Decimal, feeBps map[types.Platform]int64) PaperConfig {
	return PaperConfig{
		Balance:                  balance,
		FeeBps:                   feeBps,
		LatencyMin:               50 * time.Millisecond,
		LatencyMax:               500 * time.Millisecond,
		FillProbability:          0.95,
		PartialProbability:       0.10,
		SlippageBaseBps:          5,
		SizeImpactBpsPerContract: 0.45,
		VolatilityMultiplier:     100,
		Seed:                     time.Now().UnixNano(),
	}
}

// Paper simulates venue execution for paper-trading mode.
type Paper struct {
	mu      sync.Mutex
	cfg     PaperConfig
	rng     *rand.Rand
	balance decimal.Decimal
	locked  decimal.Decimal

	volFn   func(marketID string) float64 // realized volatility, 0 when unknown
	deliver func(venue.OrderUpdate)
}

// NewPaper creates a simulator. The manager wires the delivery callback.
func NewPaper(cfg PaperConfig) *Paper {
	return &Paper{
		cfg:     cfg,
		rng:     rand.New(rand.NewSource(cfg.Seed)),
		balance: cfg.Balance,
	}
}

// SetVolatilityFn wires the price-history volatility lookup.
func (p *Paper) SetVolatilityFn(fn func(marketID string) float64) {
	p.mu.Lock()
	p.volFn = fn
	p.mu.Unlock()
}

// SetDeliver wires the order-update sink.
func (p *Paper) SetDeliver(fn func(venue.OrderUpdate)) {
	p.mu.Lock()
	p.deliver = fn
	p.mu.Unlock()
}

// Balance returns the simulated account balance.
func (p *Paper) Balance() types.Balance {
	p.mu.Lock()
	defer p.mu.Unlock()
	return types.Balance{
		Available: p.balance,
		Locked:    p.locked,
		Total:     p.balance.Add(p.locked),
		Currency:  "USD",
	}
}

// Submit accepts an order for simulated execution. The fill (or miss) is
// delivered asynchronously after the latency draw; the order is already
// acked open by the manager.
func (p *Paper) Submit(o types.Order) {
	p.mu.Lock()
	latency := p.cfg.LatencyMin
	if span := p.cfg.LatencyMax - p.cfg.LatencyMin; span > 0 {
		latency += time.Duration(p.rng.Int63n(int64(span)))
	}
	fillDraw := p.rng.Float64()
	partialDraw := p.rng.Float64()
	fracDraw := p.rng.Float64()
	p.mu.Unlock()

	if latency <= 0 {
		p.settle(o, fillDraw, partialDraw, fracDraw)
		return
	}
	time.AfterFunc(latency, func() {
		p.settle(o, fillDraw, partialDraw, fracDraw)
	})
}

func (p *Paper) settle(o types.Order, fillDraw, partialDraw, fracDraw float64) {
	if fillDraw >= p.cfg.FillProbability {
		// Missed. IOC/FOK orders die; resting orders stay open untouched.
		if o.Type == types.OrderIOC || o.Type == types.OrderFOK {
			p.emit(venue.OrderUpdate{
				Platform:  o.Platform,
				ClientID:  o.ID,
				Status:    types.OrderCancelled,
				Reason:    "unfilled",
				Timestamp: time.Now(),
			})
		}
		return
	}

	size := o.Size
	status := types.OrderFilled
	if partialDraw < p.cfg.PartialProbability {
		size = o.Size.Mul(decimal.NewFromFloat(fracDraw)).Round(2)
		if size.LessThanOrEqual(decimal.Zero) {
			size = decimal.NewFromInt(1)
		}
		if size.GreaterThanOrEqual(o.Size) {
			size = o.Size
		} else {
			status = types.OrderPartial
		}
	}

	price := p.fillPrice(o, size)
	p.applyBalance(o.Platform, o.Side, price, size)

	p.emit(venue.OrderUpdate{
		Platform:     o.Platform,
		ClientID:     o.ID,
		Status:       status,
		FilledSize:   size,
		AvgFillPrice: price,
		Timestamp:    time.Now(),
	})

	// IOC remainders are cancelled once the partial lands.
	if status == types.OrderPartial && (o.Type == types.OrderIOC || o.Type == types.OrderFOK) {
		p.emit(venue.OrderUpdate{
			Platform:     o.Platform,
			ClientID:     o.ID,
			Status:       types.OrderCancelled,
			FilledSize:   size,
			AvgFillPrice: price,
			Reason:       "ioc_remainder",
			Timestamp:    time.Now(),
		})
	}
}

// fillPrice applies slippage against the order direction and clamps the
// result inside the tradable band.
func (p *Paper) fillPrice(o types.Order, size decimal.Decimal) decimal.Decimal {
	p.mu.Lock()
	volFn := p.volFn
	p.mu.Unlock()

	sigma := 0.0
	if volFn != nil {
		sigma = volFn(o.MarketID)
	}
	sizeF, _ := size.Float64()
	slipBps := p.cfg.SlippageBaseBps +
		p.cfg.SizeImpactBpsPerContract*sizeF +
		p.cfg.VolatilityMultiplier*sigma

	slip := decimal.NewFromFloat(slipBps).Div(decimal.NewFromInt(types.BPSDivisor))
	var price decimal.Decimal
	if o.Side == types.SideBuy {
		price = o.Price.Mul(decimal.NewFromInt(1).Add(slip))
	} else {
		price = o.Price.Mul(decimal.NewFromInt(1).Sub(slip))
	}

	if price.LessThan(types.MinPrice) {
		price = types.MinPrice
	}
	if price.GreaterThan(types.MaxPrice) {
		price = types.MaxPrice
	}
	return price
}

func (p *Paper) applyBalance(platform types.Platform, side types.Side, price, size decimal.Decimal) {
	notional := price.Mul(size)
	fee := notional.Mul(decimal.NewFromInt(p.cfg.FeeBps[platform])).Div(decimal.NewFromInt(types.BPSDivisor))

	p.mu.Lock()
	defer p.mu.Unlock()
	if side == types.SideBuy {
		p.balance = p.balance.Sub(notional).Sub(fee)
	} else {
		p.balance = p.balance.Add(notional).Sub(fee)
	}
	if p.balance.IsNegative() {
		log.Warn().Str("balance", p.balance.StringFixed(2)).Msg("📉 Paper balance went negative")
	}
}

func (p *Paper) emit(u venue.OrderUpdate) {
	p.mu.Lock()
	deliver := p.deliver
	p.mu.Unlock()
	if deliver != nil {
		deliver(u)
	}
}
