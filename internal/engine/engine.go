package engine

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/oddslab/crossarb/internal/arbitrage"
	"github.com/oddslab/crossarb/internal/clock"
	"github.com/oddslab/crossarb/internal/indicators"
	"github.com/oddslab/crossarb/internal/orders"
	"github.com/oddslab/crossarb/internal/pricehistory"
	"github.com/oddslab/crossarb/internal/strategy"
	"github.com/oddslab/crossarb/internal/types"
	"github.com/oddslab/crossarb/internal/venue"
)

// ═══════════════════════════════════════════════════════════════════════════════
// TRADING ENGINE - Composition root and scan loop
// ═══════════════════════════════════════════════════════════════════════════════
//
// Lifecycle is linear: created -> initialized -> running -> stopped.
// Initialize connects the venues and matches the catalogs; Start spawns
// the stream ingress and the scan loop; Stop tears everything down.
//
// ═══════════════════════════════════════════════════════════════════════════════

// State is the engine lifecycle state.
type State string

const (
	StateCreated     State = "created"
	StateInitialized State = "initialized"
	StateRunning     State = "running"
	StateStopped     State = "stopped"
)

// Config tunes the engine loops.
type Config struct {
	ScanInterval    time.Duration // detector + strategy tick
	RefreshInterval time.Duration // market catalog refresh
	MarketLimit     int           // max markets fetched per venue
	EnableWebSocket bool          // subscribe book streams for known markets
}

// DefaultConfig returns the standard engine tuning.
func DefaultConfig() Config {
	return Config{
		ScanInterval:    time.Second,
		RefreshInterval: time.Minute,
		MarketLimit:     200,
		EnableWebSocket: true,
	}
}

// Engine wires clients, tracker, strategies, detector and executor into
// the trading loop.
type Engine struct {
	cfg        Config
	clients    map[types.Platform]venue.Client
	orders     *orders.Manager
	tracker    *pricehistory.Tracker
	strategies *strategy.Manager
	detector   *arbitrage.Detector
	executor   *arbitrage.Executor
	clk        clock.Clock

	mu         sync.RWMutex
	state      State
	markets    map[string]*types.NormalizedMarket // by Key()
	books      map[string]*types.OrderBook        // by Key()
	pairs      []types.MarketPair
	subscribed map[string]struct{} // market keys on a book stream

	halted      atomic.Bool
	venueErrors map[types.Platform]*atomic.Int64

	scanCh chan struct{}
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New creates an engine in the created state.
func New(cfg Config, clients map[types.Platform]venue.Client, om *orders.Manager,
	tracker *pricehistory.Tracker, strategies *strategy.Manager,
	detector *arbitrage.Detector, executor *arbitrage.Executor, clk clock.Clock) *Engine {

	errs := make(map[types.Platform]*atomic.Int64, len(clients))
	for p := range clients {
		errs[p] = &atomic.Int64{}
	}
	return &Engine{
		cfg:         cfg,
		clients:     clients,
		orders:      om,
		tracker:     tracker,
		strategies:  strategies,
		detector:    detector,
		executor:    executor,
		clk:         clk,
		state:       StateCreated,
		markets:     make(map[string]*types.NormalizedMarket),
		books:       make(map[string]*types.OrderBook),
		subscribed:  make(map[string]struct{}),
		venueErrors: errs,
		scanCh:      make(chan struct{}, 1),
		stopCh:      make(chan struct{}),
	}
}

// State returns the lifecycle state.
func (e *Engine) State() State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

// Initialize connects both venues, loads the catalogs and matches pairs.
func (e *Engine) Initialize(ctx context.Context) error {
	e.mu.Lock()
	if e.state != StateCreated {
		s := e.state
		e.mu.Unlock()
		return fmt.Errorf("initialize from %s not allowed", s)
	}
	e.mu.Unlock()

	for platform, client := range e.clients {
		if err := client.Connect(ctx); err != nil {
			return fmt.Errorf("connect %s: %w", platform, err)
		}
		log.Info().Str("platform", string(platform)).Msg("🔌 Venue connected")
	}

	if err := e.refreshMarkets(ctx); err != nil {
		return err
	}

	e.mu.Lock()
	e.state = StateInitialized
	pairs := len(e.pairs)
	markets := len(e.markets)
	e.mu.Unlock()
	log.Info().Int("markets", markets).Int("pairs", pairs).Msg("✅ Engine initialized")
	return nil
}

// Start spawns the ingress and scan loops. Allowed only from initialized.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.state != StateInitialized {
		s := e.state
		e.mu.Unlock()
		return fmt.Errorf("start from %s not allowed", s)
	}
	e.state = StateRunning
	e.mu.Unlock()

	for _, client := range e.clients {
		c := client
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			e.ingress(c)
		}()
	}

	e.wg.Add(2)
	go func() {
		defer e.wg.Done()
		e.scanLoop(ctx)
	}()
	go func() {
		defer e.wg.Done()
		e.movesLoop()
	}()

	log.Info().Msg("🚀 Engine running")
	return nil
}

// Stop halts the loops and disconnects the venues. Allowed only from
// running.
func (e *Engine) Stop() error {
	e.mu.Lock()
	if e.state != StateRunning {
		s := e.state
		e.mu.Unlock()
		return fmt.Errorf("stop from %s not allowed", s)
	}
	e.state = StateStopped
	e.mu.Unlock()

	close(e.stopCh)
	e.wg.Wait()
	for platform, client := range e.clients {
		if err := client.Disconnect(); err != nil {
			log.Warn().Err(err).Str("platform", string(platform)).Msg("Disconnect failed")
		}
	}
	log.Info().Msg("🛑 Engine stopped")
	return nil
}

// Halt pauses all trading without tearing down streams. Used by the
// kill switch.
func (e *Engine) Halt(reason string) {
	if e.halted.CompareAndSwap(false, true) {
		log.Error().Str("reason", reason).Msg("🚨 Trading halted")
	}
}

// Resume lifts a halt after an explicit re-arm.
func (e *Engine) Resume() {
	if e.halted.CompareAndSwap(true, false) {
		log.Info().Msg("✅ Trading resumed")
	}
}

// Halted reports whether trading is paused.
func (e *Engine) Halted() bool { return e.halted.Load() }

// TriggerScan requests an immediate scan; coalesces when one is pending.
func (e *Engine) TriggerScan() {
	select {
	case e.scanCh <- struct{}{}:
	default:
	}
}

// GetMatchedPairs returns the current cross-venue pairs.
func (e *Engine) GetMatchedPairs() []types.MarketPair {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]types.MarketPair, len(e.pairs))
	copy(out, e.pairs)
	return out
}

// Markets returns a snapshot of the known markets.
func (e *Engine) Markets() []types.NormalizedMarket {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]types.NormalizedMarket, 0, len(e.markets))
	for _, m := range e.markets {
		out = append(out, *m)
	}
	return out
}

// VenueErrorCount returns the accumulated stream/API error count for a
// platform. The kill switch samples this.
func (e *Engine) VenueErrorCount(p types.Platform) int64 {
	if c, ok := e.venueErrors[p]; ok {
		return c.Load()
	}
	return 0
}

// ═══════════════════════════════════════════════════════════════════════════════
// LOOPS
// ═══════════════════════════════════════════════════════════════════════════════

func (e *Engine) scanLoop(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.ScanInterval)
	defer ticker.Stop()
	refresh := time.NewTicker(e.cfg.RefreshInterval)
	defer refresh.Stop()

	for {
		select {
		case <-e.stopCh:
			return
		case <-ticker.C:
			e.scan(ctx)
		case <-e.scanCh:
			e.scan(ctx)
		case <-refresh.C:
			if err := e.refreshMarkets(ctx); err != nil {
				log.Warn().Err(err).Msg("Market refresh failed")
			}
		}
	}
}

// movesLoop feeds significant moves into volatility capture and forces a
// scan outside the regular tick.
func (e *Engine) movesLoop() {
	for {
		select {
		case <-e.stopCh:
			return
		case move := <-e.tracker.Moves():
			e.strategies.NoteMove(move)
			e.TriggerScan()
		}
	}
}

// ingress consumes one venue's event stream.
func (e *Engine) ingress(client venue.Client) {
	platform := client.Platform()
	for {
		select {
		case <-e.stopCh:
			return
		case ev := <-client.Events():
			switch ev.Type {
			case venue.EventBook:
				e.applyBook(ev.Book)
			case venue.EventTrade:
				e.applyTrade(ev.Trade)
			case venue.EventOrderUpdate:
				e.orders.ApplyUpdate(*ev.Order)
			case venue.EventError:
				e.venueErrors[platform].Add(1)
				log.Warn().Err(ev.Err).Str("platform", string(platform)).Msg("Venue stream error")
			case venue.EventStateChange:
				log.Info().
					Str("platform", string(ev.State.Platform)).
					Bool("connected", ev.State.Connected).
					Msg("📡 Venue stream state")
			}
		}
	}
}

// applyBook caches the book, refreshes the market's top of book, samples
// the tracker and marks open positions to the new mid.
func (e *Engine) applyBook(bu *venue.BookUpdate) {
	if bu == nil || bu.Book == nil {
		return
	}
	key := string(bu.Platform) + ":" + bu.MarketID

	var yesID, noID string
	e.mu.Lock()
	e.books[key] = bu.Book
	if market, ok := e.markets[key]; ok {
		applyTopOfBook(market, bu.Book)
		if yes, no, binary := market.Binary(); binary {
			yesID, noID = yes.ExternalID, no.ExternalID
		}
	}
	e.mu.Unlock()

	yesBid, hasBid := bu.Book.Yes.BestBid()
	yesAsk, hasAsk := bu.Book.Yes.BestAsk()
	if hasBid && hasAsk {
		mid := indicators.Mid(yesBid.Price, yesAsk.Price)
		e.tracker.Record(key, mid, yesBid.Size.Add(yesAsk.Size), yesBid.Size, yesAsk.Size)
		if yesID != "" {
			e.orders.Mark(bu.Platform, bu.MarketID, yesID, mid)
			e.orders.Mark(bu.Platform, bu.MarketID, noID, decimal.NewFromInt(1).Sub(mid))
		}
	}
}

func (e *Engine) applyTrade(tu *venue.TradeUpdate) {
	if tu == nil {
		return
	}
	key := string(tu.Platform) + ":" + tu.MarketID
	e.tracker.Record(key, tu.Price, tu.Size, tu.Size, tu.Size)
}

// applyTopOfBook copies a book's best levels onto the market's outcomes.
func applyTopOfBook(market *types.NormalizedMarket, book *types.OrderBook) {
	yes, no, ok := market.Binary()
	if !ok {
		return
	}
	if bid, has := book.Yes.BestBid(); has {
		yes.BestBid, yes.BidSize = bid.Price, bid.Size
	}
	if ask, has := book.Yes.BestAsk(); has {
		yes.BestAsk, yes.AskSize = ask.Price, ask.Size
	}
	if bid, has := book.No.BestBid(); has {
		no.BestBid, no.BidSize = bid.Price, bid.Size
	}
	if ask, has := book.No.BestAsk(); has {
		no.BestAsk, no.AskSize = ask.Price, ask.Size
	}
}

// ═══════════════════════════════════════════════════════════════════════════════
// SCAN
// ═══════════════════════════════════════════════════════════════════════════════

// scan runs detection and strategies over the latest snapshot, then
// executes the best opportunity per market and places signal orders.
func (e *Engine) scan(ctx context.Context) {
	if e.halted.Load() {
		return
	}

	e.mu.RLock()
	markets := make([]types.NormalizedMarket, 0, len(e.markets))
	byKey := make(map[string]*types.NormalizedMarket, len(e.markets))
	for k, m := range e.markets {
		cp := *m
		markets = append(markets, cp)
		byKey[k] = m
	}
	books := make(map[string]*types.OrderBook, len(e.books))
	for k, b := range e.books {
		books[k] = b
	}
	pairs := make([]types.MarketPair, len(e.pairs))
	copy(pairs, e.pairs)
	e.mu.RUnlock()

	opps := e.detector.ScanSingle(markets)
	opps = append(opps, e.detector.ScanCross(pairs, byKey)...)
	opps = e.detector.Filter(opps)

	// Best opportunity per market, by max profit.
	best := make(map[string]types.ArbitrageOpportunity)
	for _, opp := range opps {
		k := string(opp.BuyLeg.Platform) + ":" + opp.BuyLeg.MarketID
		if cur, ok := best[k]; !ok || opp.MaxProfit.GreaterThan(cur.MaxProfit) {
			best[k] = opp
		}
	}
	for _, opp := range best {
		status, err := e.executor.Execute(ctx, opp)
		if err != nil {
			log.Warn().Err(err).Str("opportunity", opp.ID).Msg("Execution error")
			continue
		}
		log.Info().Str("opportunity", opp.ID).Str("status", string(status)).Msg("Arbitrage attempt finished")
	}

	for _, sig := range e.strategies.ScanMarkets(markets, books) {
		e.placeSignalOrder(ctx, sig)
	}
}

// placeSignalOrder turns a strategy signal into a resting limit order.
func (e *Engine) placeSignalOrder(ctx context.Context, sig types.Signal) {
	platform, marketID, ok := splitKey(sig.MarketID)
	if !ok {
		log.Warn().Str("market", sig.MarketID).Msg("Signal with malformed market key")
		return
	}
	_, err := e.orders.PlaceOrder(ctx, types.OrderRequest{
		Platform:   platform,
		MarketID:   marketID,
		OutcomeID:  sig.OutcomeID,
		Side:       sig.Side,
		Price:      indicators.RoundToTick(sig.Price),
		Size:       sig.Size,
		Type:       types.OrderGTC,
		StrategyID: sig.Strategy,
	})
	if err != nil {
		log.Warn().Err(err).Str("strategy", sig.Strategy).Str("market", sig.MarketID).Msg("Signal order rejected")
		return
	}
	e.strategies.ClearSignal(sig.MarketID)
}

// refreshMarkets reloads both catalogs and recomputes pairs.
func (e *Engine) refreshMarkets(ctx context.Context) error {
	byPlatform := make(map[types.Platform][]types.NormalizedMarket, len(e.clients))
	for platform, client := range e.clients {
		markets, err := client.GetMarkets(ctx, venue.MarketFilter{ActiveOnly: true, Limit: e.cfg.MarketLimit})
		if err != nil {
			if c, ok := e.venueErrors[platform]; ok {
				c.Add(1)
			}
			return fmt.Errorf("get markets from %s: %w", platform, err)
		}
		byPlatform[platform] = markets
	}

	pairs := MatchMarkets(byPlatform[types.PlatformAlpha], byPlatform[types.PlatformBeta], e.clk.Now())

	fresh := make(map[types.Platform][]string)
	e.mu.Lock()
	for _, markets := range byPlatform {
		for i := range markets {
			m := markets[i]
			e.markets[m.Key()] = &m
			if e.cfg.EnableWebSocket {
				if _, ok := e.subscribed[m.Key()]; !ok {
					e.subscribed[m.Key()] = struct{}{}
					fresh[m.Platform] = append(fresh[m.Platform], m.ExternalID)
				}
			}
		}
	}
	e.pairs = pairs
	e.mu.Unlock()

	for platform, ids := range fresh {
		if err := e.clients[platform].SubscribeBooks(ids...); err != nil {
			if c, ok := e.venueErrors[platform]; ok {
				c.Add(1)
			}
			log.Warn().Err(err).Str("platform", string(platform)).Int("markets", len(ids)).
				Msg("Book subscribe failed")
			continue
		}
		log.Info().Str("platform", string(platform)).Int("markets", len(ids)).
			Msg("📡 Book streams subscribed")
	}
	return nil
}

func splitKey(key string) (types.Platform, string, bool) {
	for i := 0; i < len(key); i++ {
		if key[i] == ':' {
			return types.Platform(key[:i]), key[i+1:], true
		}
	}
	return "", "", false
}
