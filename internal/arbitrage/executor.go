package arbitrage

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/oddslab/crossarb/internal/clock"
	"github.com/oddslab/crossarb/internal/indicators"
	"github.com/oddslab/crossarb/internal/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// ARBITRAGE EXECUTOR - Two-leg atomic policy
// ═══════════════════════════════════════════════════════════════════════════════
//
// Both legs go out concurrently as IOC. Outcomes:
//   both filled        -> executed
//   one filled         -> compensating market order on the filled leg;
//                         unwound on success, unhedged alert on failure
//   both missed        -> failed
//
// An execution never ends with a silently half-hedged book. Executions
// are serialized per market.
//
// ═══════════════════════════════════════════════════════════════════════════════

// ExecutionTimeout bounds one two-leg attempt end to end.
const ExecutionTimeout = 5 * time.Second

// pollInterval is how often leg orders are re-checked while waiting.
const pollInterval = 25 * time.Millisecond

// compensationSlack prices the unwind order aggressively enough to cross.
var compensationSlack = decimal.NewFromFloat(0.05)

// OrderManager is the order-manager surface the executor needs.
type OrderManager interface {
	PlaceOrder(ctx context.Context, req types.OrderRequest) (*types.Order, error)
	CancelOrder(ctx context.Context, orderID string) error
	GetOrder(orderID string) (*types.Order, bool)
}

// Executor runs detected opportunities through the two-leg policy.
type Executor struct {
	orders OrderManager
	clk    clock.Clock

	mu          sync.Mutex
	activeByMkt map[string]bool
	onUnhedged  func(opp types.ArbitrageOpportunity, leg types.ArbitrageLeg, size decimal.Decimal)
}

// NewExecutor creates an executor over the order manager.
func NewExecutor(orders OrderManager, clk clock.Clock) *Executor {
	return &Executor{
		orders:      orders,
		clk:         clk,
		activeByMkt: make(map[string]bool),
	}
}

// SetUnhedgedHandler wires the alert sink for unhedged outcomes. The
// handler is a kill-switch candidate event, it does not auto-trip.
func (e *Executor) SetUnhedgedHandler(fn func(opp types.ArbitrageOpportunity, leg types.ArbitrageLeg, size decimal.Decimal)) {
	e.mu.Lock()
	e.onUnhedged = fn
	e.mu.Unlock()
}

// Execute runs one opportunity. Returns the terminal status.
func (e *Executor) Execute(ctx context.Context, opp types.ArbitrageOpportunity) (types.OpportunityStatus, error) {
	if opp.Expired(e.clk.Now()) {
		return types.OppExpired, nil
	}

	// Serialize on both leg markets; a cross-venue opportunity touches
	// two books.
	keys := []string{legMarketKey(opp.BuyLeg)}
	if k := legMarketKey(opp.SellLeg); k != keys[0] {
		keys = append(keys, k)
	}
	e.mu.Lock()
	for _, k := range keys {
		if e.activeByMkt[k] {
			e.mu.Unlock()
			log.Debug().Str("market", k).Msg("Execution already active for market, skipping")
			return types.OppFailed, nil
		}
	}
	for _, k := range keys {
		e.activeByMkt[k] = true
	}
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		for _, k := range keys {
			delete(e.activeByMkt, k)
		}
		e.mu.Unlock()
	}()

	ctx, cancel := context.WithTimeout(ctx, ExecutionTimeout)
	defer cancel()

	log.Info().
		Str("opportunity", opp.ID).
		Str("type", string(opp.Type)).
		Str("size", opp.MaxSize.String()).
		Msg("🚀 Executing arbitrage")

	var legA, legB *types.Order
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		o, err := e.placeLeg(gctx, opp.BuyLeg)
		legA = o
		return err
	})
	g.Go(func() error {
		o, err := e.placeLeg(gctx, opp.SellLeg)
		legB = o
		return err
	})
	// Leg errors are rejections, handled through fill accounting below.
	_ = g.Wait()

	filledA := e.awaitTerminal(ctx, legA)
	filledB := e.awaitTerminal(ctx, legB)

	switch {
	case filledA.IsPositive() && filledB.IsPositive() && filledA.Equal(filledB):
		log.Info().Str("opportunity", opp.ID).Msg("✅ Both legs filled")
		return types.OppExecuted, nil

	case filledA.IsZero() && filledB.IsZero():
		log.Warn().Str("opportunity", opp.ID).Msg("❌ Both legs missed")
		return types.OppFailed, nil

	default:
		return e.unwind(opp, filledA, filledB)
	}
}

// placeLeg submits one leg as IOC and cancels it if still resting when
// the context dies.
func (e *Executor) placeLeg(ctx context.Context, leg types.ArbitrageLeg) (*types.Order, error) {
	order, err := e.orders.PlaceOrder(ctx, types.OrderRequest{
		Platform:   leg.Platform,
		MarketID:   leg.MarketID,
		OutcomeID:  leg.OutcomeID,
		Side:       leg.Side,
		Price:      leg.Price,
		Size:       leg.Size,
		Type:       types.OrderIOC,
		StrategyID: "arbitrage",
	})
	if err != nil {
		log.Warn().Err(err).Str("market", leg.MarketID).Msg("Leg placement failed")
	}
	return order, err
}

// awaitTerminal waits for an order to reach a terminal status and
// returns its filled size. On timeout the order is cancelled and the
// last observed fill stands.
func (e *Executor) awaitTerminal(ctx context.Context, order *types.Order) decimal.Decimal {
	if order == nil {
		return decimal.Zero
	}
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		cur, ok := e.orders.GetOrder(order.ID)
		if !ok {
			return decimal.Zero
		}
		if cur.Status.Terminal() {
			return cur.FilledSize
		}
		select {
		case <-ctx.Done():
			// Cancel whatever is still resting; best effort.
			if err := e.orders.CancelOrder(context.Background(), order.ID); err != nil {
				log.Warn().Err(err).Str("order", order.ID).Msg("Timeout cancel failed")
			}
			if cur, ok = e.orders.GetOrder(order.ID); ok {
				return cur.FilledSize
			}
			return decimal.Zero
		case <-ticker.C:
		}
	}
}

// unwind closes the exposure left by an asymmetric fill with a
// compensating marketable order.
func (e *Executor) unwind(opp types.ArbitrageOpportunity, filledA, filledB decimal.Decimal) (types.OpportunityStatus, error) {
	// Work out which leg is over-filled and by how much.
	leg := opp.BuyLeg
	excess := filledA.Sub(filledB)
	if excess.IsNegative() {
		leg = opp.SellLeg
		excess = excess.Neg()
	}

	log.Warn().
		Str("opportunity", opp.ID).
		Str("market", leg.MarketID).
		Str("excess", excess.String()).
		Msg("⚠️ Asymmetric fill, unwinding")

	// Reverse the over-filled leg at a price aggressive enough to cross.
	side := types.SideSell
	price := indicators.RoundToTick(leg.Price.Sub(compensationSlack))
	if leg.Side == types.SideSell {
		side = types.SideBuy
		price = indicators.RoundToTick(leg.Price.Add(compensationSlack))
	}

	ctx, cancel := context.WithTimeout(context.Background(), ExecutionTimeout)
	defer cancel()
	order, err := e.orders.PlaceOrder(ctx, types.OrderRequest{
		Platform:   leg.Platform,
		MarketID:   leg.MarketID,
		OutcomeID:  leg.OutcomeID,
		Side:       side,
		Price:      price,
		Size:       excess,
		Type:       types.OrderIOC,
		StrategyID: "arbitrage",
	})
	if err == nil {
		if filled := e.awaitTerminal(ctx, order); filled.Equal(excess) {
			log.Info().Str("opportunity", opp.ID).Msg("🛡️ Exposure unwound")
			return types.OppUnwound, nil
		}
	}

	log.Error().
		Str("opportunity", opp.ID).
		Str("market", leg.MarketID).
		Str("size", excess.String()).
		Msg("🚨 PARTIAL_FILL_UNHEDGED: compensating order failed")
	e.mu.Lock()
	handler := e.onUnhedged
	e.mu.Unlock()
	if handler != nil {
		handler(opp, leg, excess)
	}
	return types.OppUnhedged, nil
}

func legMarketKey(leg types.ArbitrageLeg) string {
	return string(leg.Platform) + ":" + leg.MarketID
}
