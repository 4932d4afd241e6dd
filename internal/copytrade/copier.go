package copytrade

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/oddslab/crossarb/internal/clock"
	"github.com/oddslab/crossarb/internal/indicators"
	"github.com/oddslab/crossarb/internal/types"
	"github.com/oddslab/crossarb/internal/venue"
)

// ═══════════════════════════════════════════════════════════════════════════════
// COPIER - Poll tracked wallets and mirror their trades
// ═══════════════════════════════════════════════════════════════════════════════
//
// One polling pass per interval (with jitter) walks every tracked
// wallet, dedupes activities by transaction hash, optionally aggregates
// bursts, sizes the mirror order and places it.
//
// ═══════════════════════════════════════════════════════════════════════════════

// seenTxTTL bounds the tx-hash dedup set. Activity fetches are filtered
// by the last poll time, so a hash this old cannot resurface.
const seenTxTTL = time.Hour

// TraderCopyConfig is the per-wallet copy setup.
type TraderCopyConfig struct {
	Wallet      string
	Sizing      SizingConfig
	Aggregation AggregatorConfig
}

// EventType tags copier lifecycle events.
type EventType string

const (
	EventTradeDetected EventType = "tradeDetected"
	EventTradeCopied   EventType = "tradeCopied"
	EventTradeSkipped  EventType = "tradeSkipped"
)

// Event is one copier occurrence. Position changes reuse the
// PositionChange values as types.
type Event struct {
	Type      EventType
	Trade     *DetectedTrade
	Aggregate *AggregatedTrade
	Position  *CopyPosition
	Change    PositionChange
	Reason    string
}

// OrderPlacer is the order-manager surface the copier needs.
type OrderPlacer interface {
	PlaceOrder(ctx context.Context, req types.OrderRequest) (*types.Order, error)
	Balance(ctx context.Context, platform types.Platform) (types.Balance, error)
}

// Config tunes the polling loop.
type Config struct {
	Platform     types.Platform // venue whose wallet activity we follow
	PollInterval time.Duration
	JitterFrac   float64 // e.g. 0.2 adds up to 20% to each interval
	MaxParallel  int     // concurrent wallet polls
}

// DefaultConfig returns the standard polling setup.
func DefaultConfig() Config {
	return Config{
		Platform:     types.PlatformAlpha,
		PollInterval: 15 * time.Second,
		JitterFrac:   0.2,
		MaxParallel:  4,
	}
}

// Copier drives the copy-trading flow end to end.
type Copier struct {
	cfg     Config
	fetcher venue.ActivityFetcher
	orders  OrderPlacer
	clk     clock.Clock
	rng     *rand.Rand

	book *PositionBook

	mu       sync.Mutex
	traders  map[string]TraderCopyConfig
	aggs     map[string]*Aggregator
	seenTx   map[string]time.Time // tx hash -> when first seen
	lastPoll map[string]time.Time

	events chan Event
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewCopier creates a copier over the tracked wallets.
func NewCopier(cfg Config, fetcher venue.ActivityFetcher, orders OrderPlacer, traders []TraderCopyConfig, clk clock.Clock) *Copier {
	c := &Copier{
		cfg:      cfg,
		fetcher:  fetcher,
		orders:   orders,
		clk:      clk,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
		book:     NewPositionBook(clk),
		traders:  make(map[string]TraderCopyConfig, len(traders)),
		aggs:     make(map[string]*Aggregator, len(traders)),
		seenTx:   make(map[string]time.Time),
		lastPoll: make(map[string]time.Time),
		events:   make(chan Event, 256),
		stopCh:   make(chan struct{}),
	}
	for _, t := range traders {
		c.traders[t.Wallet] = t
		c.aggs[t.Wallet] = NewAggregator(t.Aggregation, clk)
	}
	return c
}

// Events returns the copier event stream.
func (c *Copier) Events() <-chan Event { return c.events }

// Positions returns the open mirrored positions.
func (c *Copier) Positions() []CopyPosition { return c.book.Open() }

// Start runs the polling loop until Stop.
func (c *Copier) Start(ctx context.Context) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			interval := c.cfg.PollInterval
			if c.cfg.JitterFrac > 0 {
				interval += time.Duration(c.rng.Float64() * c.cfg.JitterFrac * float64(c.cfg.PollInterval))
			}
			select {
			case <-c.stopCh:
				return
			case <-ctx.Done():
				return
			case <-time.After(interval):
				c.PollOnce(ctx)
			}
		}
	}()
	log.Info().Int("wallets", len(c.traders)).Msg("👥 Copy trading started")
}

// Stop halts the polling loop.
func (c *Copier) Stop() {
	close(c.stopCh)
	c.wg.Wait()
}

// PollOnce walks every tracked wallet once, with a parallelism cap.
func (c *Copier) PollOnce(ctx context.Context) {
	g, gctx := errgroup.WithContext(ctx)
	if c.cfg.MaxParallel > 0 {
		g.SetLimit(c.cfg.MaxParallel)
	}

	c.mu.Lock()
	wallets := make([]string, 0, len(c.traders))
	for w := range c.traders {
		wallets = append(wallets, w)
	}
	c.mu.Unlock()

	for _, wallet := range wallets {
		w := wallet
		g.Go(func() error {
			c.pollWallet(gctx, w)
			return nil
		})
	}
	_ = g.Wait()

	// Time-based bucket flushes happen on the poll cadence, as does
	// pruning of dedup entries the since-filter can no longer surface.
	cutoff := c.clk.Now().Add(-seenTxTTL)
	c.mu.Lock()
	for tx, at := range c.seenTx {
		if at.Before(cutoff) {
			delete(c.seenTx, tx)
		}
	}
	aggs := make(map[string]*Aggregator, len(c.aggs))
	for w, a := range c.aggs {
		aggs[w] = a
	}
	c.mu.Unlock()
	for _, a := range aggs {
		for _, flushed := range a.FlushExpired() {
			f := flushed
			c.mirror(ctx, &f)
		}
	}
}

// pollWallet fetches one wallet's fresh activity and routes it.
func (c *Copier) pollWallet(ctx context.Context, wallet string) {
	c.mu.Lock()
	since, ok := c.lastPoll[wallet]
	if !ok {
		since = c.clk.Now().Add(-c.cfg.PollInterval)
	}
	c.mu.Unlock()

	activities, err := c.fetcher.GetWalletActivity(ctx, wallet, since)
	if err != nil {
		log.Warn().Err(err).Str("wallet", wallet).Msg("Wallet activity fetch failed")
		return
	}

	c.mu.Lock()
	c.lastPoll[wallet] = c.clk.Now()
	agg := c.aggs[wallet]
	var fresh []DetectedTrade
	for _, act := range activities {
		if _, dup := c.seenTx[act.TxHash]; dup {
			continue
		}
		c.seenTx[act.TxHash] = c.clk.Now()
		fresh = append(fresh, DetectedTrade{
			TxHash:    act.TxHash,
			Wallet:    act.Wallet,
			MarketID:  act.MarketID,
			OutcomeID: act.OutcomeID,
			Side:      act.Side,
			Price:     act.Price,
			SizeUSD:   act.SizeUSD,
			At:        act.Timestamp,
		})
	}
	c.mu.Unlock()

	for _, trade := range fresh {
		t := trade
		c.emit(Event{Type: EventTradeDetected, Trade: &t})
		if flushed := agg.Push(t); flushed != nil {
			c.mirror(ctx, flushed)
		}
	}
}

// mirror sizes and places one aggregated trade.
func (c *Copier) mirror(ctx context.Context, agg *AggregatedTrade) {
	c.mu.Lock()
	trader, ok := c.traders[agg.Wallet]
	c.mu.Unlock()
	if !ok {
		return
	}

	if agg.Side == types.SideSell {
		c.mirrorSell(ctx, agg)
		return
	}

	available := decimal.Zero
	if bal, err := c.orders.Balance(ctx, c.cfg.Platform); err == nil {
		available = bal.Available
	}

	calc := CalculateSize(trader.Sizing, agg.TotalUSD, available)
	if calc.Skip {
		c.emit(Event{Type: EventTradeSkipped, Aggregate: agg, Reason: calc.Reason})
		return
	}
	price := indicators.RoundToTick(agg.AvgPrice)
	if !price.IsPositive() {
		c.emit(Event{Type: EventTradeSkipped, Aggregate: agg, Reason: "no usable price"})
		return
	}
	contracts := calc.SizeUSD.Div(price).Round(2)
	if !contracts.IsPositive() {
		c.emit(Event{Type: EventTradeSkipped, Aggregate: agg, Reason: "size rounds to zero"})
		return
	}

	platform, marketID, ok := splitMarketKey(agg.MarketID)
	if !ok {
		platform, marketID = c.cfg.Platform, agg.MarketID
	}
	order, err := c.orders.PlaceOrder(ctx, types.OrderRequest{
		Platform:   platform,
		MarketID:   marketID,
		OutcomeID:  agg.OutcomeID,
		Side:       types.SideBuy,
		Price:      price,
		Size:       contracts,
		Type:       types.OrderIOC,
		StrategyID: "copy:" + agg.Wallet,
	})
	if err != nil {
		c.emit(Event{Type: EventTradeSkipped, Aggregate: agg, Reason: err.Error()})
		return
	}

	pos, change := c.book.ApplyBuy(agg.Wallet, agg.MarketID, agg.OutcomeID, price, contracts)
	c.emit(Event{Type: EventTradeCopied, Aggregate: agg, Position: &pos, Change: change})
	log.Info().
		Str("wallet", agg.Wallet).
		Str("market", agg.MarketID).
		Str("size", contracts.String()).
		Str("order", order.ID).
		Msg("👥 Trade copied")
}

// mirrorSell reduces our mirrored position when the trader sells.
func (c *Copier) mirrorSell(ctx context.Context, agg *AggregatedTrade) {
	held, ok := c.book.Get(agg.Wallet, agg.MarketID, agg.OutcomeID)
	if !ok || !held.Size.IsPositive() {
		c.emit(Event{Type: EventTradeSkipped, Aggregate: agg, Reason: "no mirrored position"})
		return
	}

	price := indicators.RoundToTick(agg.AvgPrice)
	contracts := decimal.Min(held.Size, agg.TotalUSD.Div(price).Round(2))
	if !contracts.IsPositive() {
		c.emit(Event{Type: EventTradeSkipped, Aggregate: agg, Reason: "size rounds to zero"})
		return
	}

	platform, marketID, ok := splitMarketKey(agg.MarketID)
	if !ok {
		platform, marketID = c.cfg.Platform, agg.MarketID
	}
	if _, err := c.orders.PlaceOrder(ctx, types.OrderRequest{
		Platform:   platform,
		MarketID:   marketID,
		OutcomeID:  agg.OutcomeID,
		Side:       types.SideSell,
		Price:      price,
		Size:       contracts,
		Type:       types.OrderIOC,
		StrategyID: "copy:" + agg.Wallet,
	}); err != nil {
		c.emit(Event{Type: EventTradeSkipped, Aggregate: agg, Reason: err.Error()})
		return
	}

	pos, change, _ := c.book.ApplySell(agg.Wallet, agg.MarketID, agg.OutcomeID, price, contracts)
	c.emit(Event{Type: EventTradeCopied, Aggregate: agg, Position: &pos, Change: change})
}

func (c *Copier) emit(ev Event) {
	select {
	case c.events <- ev:
	default:
		log.Warn().Str("type", string(ev.Type)).Msg("Copy event channel full, dropping")
	}
}

func splitMarketKey(key string) (types.Platform, string, bool) {
	for i := 0; i < len(key); i++ {
		if key[i] == ':' {
			return types.Platform(key[:i]), key[i+1:], true
		}
	}
	return "", "", false
}
