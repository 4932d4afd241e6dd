package orders

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/oddslab/crossarb/internal/clock"
	"github.com/oddslab/crossarb/internal/types"
	"github.com/oddslab/crossarb/internal/venue"
)

// ═══════════════════════════════════════════════════════════════════════════════
// ORDER MANAGER - Routing, state machine, positions
// ═══════════════════════════════════════════════════════════════════════════════
//
// Single writer for orders and positions. Venue order updates and paper
// fills both land in ApplyUpdate, which enforces the status DAG:
//
//   pending → open → (partial ⇄ partial) → filled
//   pending → rejected
//   open/partial → cancelled
//
// Transitions outside the DAG are logged and dropped; filledSize never
// decreases.
//
// ═══════════════════════════════════════════════════════════════════════════════

// validNext holds the accepted status transitions.
var validNext = map[types.OrderStatus][]types.OrderStatus{
	types.OrderPending: {types.OrderOpen, types.OrderRejected},
	types.OrderOpen:    {types.OrderPartial, types.OrderFilled, types.OrderCancelled},
	types.OrderPartial: {types.OrderPartial, types.OrderFilled, types.OrderCancelled},
}

func transitionAllowed(from, to types.OrderStatus) bool {
	for _, s := range validNext[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Manager routes orders to venues (or the paper simulator), tracks their
// lifecycle, and maintains the position book.
type Manager struct {
	mu      sync.RWMutex
	clients map[types.Platform]venue.Client
	paper   *Paper // nil in live mode
	limits  Limits
	clk     clock.Clock

	orders    map[string]*types.Order // by client id
	byVenueID map[string]string       // venue id -> client id
	positions map[string]*types.Position
	trades    []types.Trade
	marks     map[string]decimal.Decimal // last mid by platform:market:outcome

	initialEquity decimal.Decimal
	realizedPnL   decimal.Decimal
	peakEquity    decimal.Decimal
	dailyPnL      decimal.Decimal
	day           time.Time // midnight of the current pnl day

	updates chan types.Order
}

// NewManager creates an order manager. Pass a nil paper simulator for
// live trading.
func NewManager(clients map[types.Platform]venue.Client, limits Limits, paper *Paper, initialEquity decimal.Decimal, clk clock.Clock) *Manager {
	m := &Manager{
		clients:       clients,
		paper:         paper,
		limits:        limits,
		clk:           clk,
		orders:        make(map[string]*types.Order),
		byVenueID:     make(map[string]string),
		positions:     make(map[string]*types.Position),
		marks:         make(map[string]decimal.Decimal),
		initialEquity: initialEquity,
		peakEquity:    initialEquity,
		day:           clk.Now().Truncate(24 * time.Hour),
		updates:       make(chan types.Order, 256),
	}
	if paper != nil {
		paper.SetDeliver(m.ApplyUpdate)
	}
	return m
}

// Updates returns the stream of order status changes.
func (m *Manager) Updates() <-chan types.Order { return m.updates }

// Mark records the latest mid for an outcome. Unrealized pnl, and with
// it the daily-loss and drawdown checks, are computed against these
// marks.
func (m *Manager) Mark(platform types.Platform, marketID, outcomeID string, price decimal.Decimal) {
	if !price.IsPositive() {
		return
	}
	m.mu.Lock()
	m.marks[markKey(platform, marketID, outcomeID)] = price
	m.mu.Unlock()
}

func markKey(platform types.Platform, marketID, outcomeID string) string {
	return string(platform) + ":" + marketID + ":" + outcomeID
}

// unrealizedLocked values every open position against its last mark.
// Positions without a mark contribute nothing.
func (m *Manager) unrealizedLocked() decimal.Decimal {
	var total decimal.Decimal
	for _, pos := range m.positions {
		if !pos.IsOpen {
			continue
		}
		total = total.Add(m.markPnLLocked(pos))
	}
	return total
}

func (m *Manager) markPnLLocked(pos *types.Position) decimal.Decimal {
	mark, ok := m.marks[markKey(pos.Platform, pos.MarketID, pos.OutcomeID)]
	if !ok {
		return decimal.Zero
	}
	pnl := mark.Sub(pos.AvgEntryPrice).Mul(pos.Size)
	if pos.Side == types.PositionShort {
		pnl = pnl.Neg()
	}
	return pnl
}

// PaperMode reports whether fills are simulated.
func (m *Manager) PaperMode() bool { return m.paper != nil }

// PlaceOrder validates, risk-checks and routes an order. A rejection is
// returned as an error alongside the rejected order record; rejections
// are never retried.
func (m *Manager) PlaceOrder(ctx context.Context, req types.OrderRequest) (*types.Order, error) {
	if req.Price.LessThan(types.MinPrice) || req.Price.GreaterThan(types.MaxPrice) {
		return nil, fmt.Errorf("price %s outside tradable band", req.Price)
	}
	if req.Size.LessThanOrEqual(decimal.Zero) {
		return nil, fmt.Errorf("size must be positive, got %s", req.Size)
	}
	if req.Type == "" {
		req.Type = types.OrderGTC
	}

	now := m.clk.Now()
	order := &types.Order{
		ID:         uuid.NewString(),
		Platform:   req.Platform,
		MarketID:   req.MarketID,
		OutcomeID:  req.OutcomeID,
		Side:       req.Side,
		Price:      req.Price,
		Size:       req.Size,
		Type:       req.Type,
		Status:     types.OrderPending,
		StrategyID: req.StrategyID,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	m.mu.Lock()
	m.resetDailyLocked(now)
	snap := m.riskSnapshotLocked(order)
	if rej := CheckLimits(m.limits, snap, req.Price.Mul(req.Size)); rej != nil {
		order.Status = types.OrderRejected
		order.Reason = string(rej.Reason)
		m.orders[order.ID] = order
		m.mu.Unlock()
		log.Warn().
			Str("market", req.MarketID).
			Str("side", string(req.Side)).
			Str("reason", string(rej.Reason)).
			Msg("❌ Order rejected by risk checks")
		m.emit(*order)
		cp := *order
		return &cp, rej
	}
	m.orders[order.ID] = order
	m.mu.Unlock()

	if m.paper != nil {
		m.transition(order.ID, types.OrderOpen, decimal.Zero, decimal.Zero, "")
		m.paper.Submit(*order)
		return m.snapshotOrder(order.ID), nil
	}

	client, ok := m.clients[req.Platform]
	if !ok {
		m.transition(order.ID, types.OrderRejected, decimal.Zero, decimal.Zero, "no_client")
		return m.snapshotOrder(order.ID), fmt.Errorf("no client for platform %s", req.Platform)
	}

	placed, err := client.PlaceOrder(ctx, req)
	if err != nil {
		m.transition(order.ID, types.OrderRejected, decimal.Zero, decimal.Zero, "venue_error")
		return m.snapshotOrder(order.ID), fmt.Errorf("place order on %s: %w", req.Platform, err)
	}

	m.mu.Lock()
	order.VenueID = placed.VenueID
	m.byVenueID[placed.VenueID] = order.ID
	m.mu.Unlock()
	m.transition(order.ID, types.OrderOpen, decimal.Zero, decimal.Zero, "")

	log.Info().
		Str("order", order.ID).
		Str("venue_id", placed.VenueID).
		Str("market", req.MarketID).
		Str("side", string(req.Side)).
		Str("price", req.Price.StringFixed(4)).
		Str("size", req.Size.String()).
		Msg("📤 Order placed")
	return m.snapshotOrder(order.ID), nil
}

// CancelOrder cancels a non-terminal order.
func (m *Manager) CancelOrder(ctx context.Context, orderID string) error {
	m.mu.RLock()
	order, ok := m.orders[orderID]
	if !ok {
		m.mu.RUnlock()
		return fmt.Errorf("unknown order %s", orderID)
	}
	status, venueID, platform := order.Status, order.VenueID, order.Platform
	m.mu.RUnlock()

	if status.Terminal() {
		return fmt.Errorf("order %s already %s", orderID, status)
	}

	if m.paper == nil {
		client, ok := m.clients[platform]
		if !ok {
			return fmt.Errorf("no client for platform %s", platform)
		}
		if err := client.CancelOrder(ctx, venueID); err != nil {
			return fmt.Errorf("cancel on %s: %w", platform, err)
		}
	}
	m.transition(orderID, types.OrderCancelled, decimal.Zero, decimal.Zero, "requested")
	return nil
}

// CancelAll cancels every non-terminal order, optionally narrowed by
// platform. Returns how many cancels were issued.
func (m *Manager) CancelAll(ctx context.Context, platform types.Platform) int {
	m.mu.RLock()
	var ids []string
	for id, o := range m.orders {
		if o.Status.Terminal() {
			continue
		}
		if platform != "" && o.Platform != platform {
			continue
		}
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	n := 0
	for _, id := range ids {
		if err := m.CancelOrder(ctx, id); err != nil {
			log.Warn().Err(err).Str("order", id).Msg("Cancel failed")
			continue
		}
		n++
	}
	if n > 0 {
		log.Info().Int("count", n).Msg("🛑 Cancelled open orders")
	}
	return n
}

// ApplyUpdate ingests a venue (or paper) order update, enforcing the
// status DAG and filled-size monotonicity.
func (m *Manager) ApplyUpdate(u venue.OrderUpdate) {
	m.mu.RLock()
	id := u.ClientID
	if id == "" {
		id = m.byVenueID[u.VenueOrderID]
	}
	_, ok := m.orders[id]
	m.mu.RUnlock()
	if !ok {
		log.Debug().Str("venue_id", u.VenueOrderID).Msg("Update for unknown order, dropping")
		return
	}
	m.transition(id, u.Status, u.FilledSize, u.AvgFillPrice, u.Reason)
}

// transition applies one status change, records the fill delta as a
// trade, and updates the position book.
func (m *Manager) transition(orderID string, to types.OrderStatus, filled, avgPrice decimal.Decimal, reason string) {
	m.mu.Lock()
	order, ok := m.orders[orderID]
	if !ok {
		m.mu.Unlock()
		return
	}

	if order.Status.Terminal() {
		m.mu.Unlock()
		log.Debug().Str("order", orderID).Str("status", string(order.Status)).Msg("Late update for terminal order, dropping")
		return
	}
	if !transitionAllowed(order.Status, to) {
		m.mu.Unlock()
		log.Warn().
			Str("order", orderID).
			Str("from", string(order.Status)).
			Str("to", string(to)).
			Msg("⚠️ Invalid order transition, dropping")
		return
	}
	if filled.LessThan(order.FilledSize) {
		m.mu.Unlock()
		log.Warn().Str("order", orderID).Msg("⚠️ Filled size regression, dropping update")
		return
	}

	delta := filled.Sub(order.FilledSize)
	order.Status = to
	order.FilledSize = filled
	if avgPrice.IsPositive() {
		order.AvgFillPrice = avgPrice
	}
	if reason != "" {
		order.Reason = reason
	}
	order.UpdatedAt = m.clk.Now()

	if delta.IsPositive() && order.AvgFillPrice.IsPositive() {
		m.recordFillLocked(order, delta, order.AvgFillPrice)
	}
	cp := *order
	m.mu.Unlock()
	m.emit(cp)
}

// recordFillLocked books a trade for the fill delta and folds it into
// the position for (platform, market, outcome, strategy).
func (m *Manager) recordFillLocked(order *types.Order, size, price decimal.Decimal) {
	feeBps := int64(0)
	if m.paper != nil {
		feeBps = m.paper.cfg.FeeBps[order.Platform]
	} else if c, ok := m.clients[order.Platform]; ok {
		feeBps = c.FeeBps()
	}
	notional := price.Mul(size)
	fee := notional.Mul(decimal.NewFromInt(feeBps)).Div(decimal.NewFromInt(types.BPSDivisor))

	trade := types.Trade{
		ID:         uuid.NewString(),
		OrderID:    order.ID,
		Platform:   order.Platform,
		MarketID:   order.MarketID,
		OutcomeID:  order.OutcomeID,
		Side:       order.Side,
		Price:      price,
		Size:       size,
		Fee:        fee,
		StrategyID: order.StrategyID,
		ExecutedAt: m.clk.Now(),
	}

	key := types.PositionKey(order.Platform, order.MarketID, order.OutcomeID, order.StrategyID)
	pos, ok := m.positions[key]
	if !ok {
		pos = &types.Position{
			Platform:   order.Platform,
			MarketID:   order.MarketID,
			OutcomeID:  order.OutcomeID,
			StrategyID: order.StrategyID,
			Side:       types.PositionLong,
			IsOpen:     false,
		}
		m.positions[key] = pos
	}

	realized := m.applyFillLocked(pos, order.Side, price, size)
	realized = realized.Sub(fee)
	trade.RealizedPnL = realized
	m.trades = append(m.trades, trade)

	m.realizedPnL = m.realizedPnL.Add(realized)
	m.dailyPnL = m.dailyPnL.Add(realized)
	equity := m.initialEquity.Add(m.realizedPnL)
	if equity.GreaterThan(m.peakEquity) {
		m.peakEquity = equity
	}

	log.Info().
		Str("market", order.MarketID).
		Str("side", string(order.Side)).
		Str("price", price.StringFixed(4)).
		Str("size", size.String()).
		Str("fee", fee.StringFixed(4)).
		Msg("💰 Fill recorded")
}

// applyFillLocked folds one fill into a position and returns realized
// pnl (before fees). A fill with the position's direction grows it at a
// blended entry; a fill against it reduces first, then flips.
func (m *Manager) applyFillLocked(pos *types.Position, side types.Side, price, size decimal.Decimal) decimal.Decimal {
	now := m.clk.Now()
	increases := (side == types.SideBuy && pos.Side == types.PositionLong) ||
		(side == types.SideSell && pos.Side == types.PositionShort)

	if !pos.IsOpen || pos.Size.IsZero() {
		pos.Side = types.PositionLong
		if side == types.SideSell {
			pos.Side = types.PositionShort
		}
		pos.Size = size
		pos.AvgEntryPrice = price
		pos.IsOpen = true
		pos.OpenedAt = now
		pos.ClosedAt = nil
		return decimal.Zero
	}

	if increases {
		total := pos.Size.Add(size)
		pos.AvgEntryPrice = pos.AvgEntryPrice.Mul(pos.Size).Add(price.Mul(size)).Div(total)
		pos.Size = total
		return decimal.Zero
	}

	// Reducing fill. Realize pnl on the closed portion.
	closed := decimal.Min(pos.Size, size)
	var realized decimal.Decimal
	if pos.Side == types.PositionLong {
		realized = price.Sub(pos.AvgEntryPrice).Mul(closed)
	} else {
		realized = pos.AvgEntryPrice.Sub(price).Mul(closed)
	}
	pos.RealizedPnL = pos.RealizedPnL.Add(realized)
	pos.Size = pos.Size.Sub(closed)

	if pos.Size.IsZero() {
		remainder := size.Sub(closed)
		if remainder.IsPositive() {
			// Crossed through flat, flip direction.
			if pos.Side == types.PositionLong {
				pos.Side = types.PositionShort
			} else {
				pos.Side = types.PositionLong
			}
			pos.Size = remainder
			pos.AvgEntryPrice = price
		} else {
			pos.IsOpen = false
			t := now
			pos.ClosedAt = &t
		}
	}
	return realized
}

// riskSnapshotLocked builds the risk view for a candidate order.
func (m *Manager) riskSnapshotLocked(order *types.Order) RiskSnapshot {
	key := types.PositionKey(order.Platform, order.MarketID, order.OutcomeID, order.StrategyID)
	var positionUSD, exposure decimal.Decimal
	if pos, ok := m.positions[key]; ok && pos.IsOpen {
		positionUSD = pos.Size.Mul(pos.AvgEntryPrice)
	}
	for _, pos := range m.positions {
		if pos.IsOpen {
			exposure = exposure.Add(pos.Size.Mul(pos.AvgEntryPrice))
		}
	}
	for _, o := range m.orders {
		if !o.Status.Terminal() {
			reserved := o.Remaining().Mul(o.Price)
			exposure = exposure.Add(reserved)
			if types.PositionKey(o.Platform, o.MarketID, o.OutcomeID, o.StrategyID) == key {
				positionUSD = positionUSD.Add(reserved)
			}
		}
	}

	// Open positions count against the daily loss and drawdown at their
	// last mark, not just once they close.
	unrealized := m.unrealizedLocked()
	equity := m.initialEquity.Add(m.realizedPnL).Add(unrealized)
	var drawdown decimal.Decimal
	if m.peakEquity.IsPositive() {
		drawdown = m.peakEquity.Sub(equity).Div(m.peakEquity).Mul(decimal.NewFromInt(100))
	}
	return RiskSnapshot{
		PositionUSD:      positionUSD,
		TotalExposureUSD: exposure,
		DailyPnL:         m.dailyPnL.Add(unrealized),
		DrawdownPercent:  drawdown,
	}
}

// RiskState exposes the current risk snapshot for the kill switch.
func (m *Manager) RiskState() RiskSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.riskSnapshotLocked(&types.Order{})
}

func (m *Manager) resetDailyLocked(now time.Time) {
	day := now.Truncate(24 * time.Hour)
	if day.After(m.day) {
		log.Info().Str("pnl", m.dailyPnL.StringFixed(2)).Msg("📅 Daily pnl reset")
		m.dailyPnL = decimal.Zero
		m.day = day
	}
}

// GetOrder returns a copy of an order by client id.
func (m *Manager) GetOrder(orderID string) (*types.Order, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.orders[orderID]
	if !ok {
		return nil, false
	}
	cp := *o
	return &cp, true
}

// GetOrders returns copies of orders matching the filter.
func (m *Manager) GetOrders(filter venue.OrderFilter) []types.Order {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []types.Order
	for _, o := range m.orders {
		if filter.MarketID != "" && o.MarketID != filter.MarketID {
			continue
		}
		if filter.Status != "" && o.Status != filter.Status {
			continue
		}
		out = append(out, *o)
	}
	return out
}

// Positions returns copies of all open positions, valued at their last
// mark.
func (m *Manager) Positions() []types.Position {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []types.Position
	for _, p := range m.positions {
		if p.IsOpen {
			cp := *p
			cp.UnrealizedPnL = m.markPnLLocked(p)
			out = append(out, cp)
		}
	}
	return out
}

// Trades returns a copy of the trade log.
func (m *Manager) Trades() []types.Trade {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]types.Trade, len(m.trades))
	copy(out, m.trades)
	return out
}

// Balance returns the account balance for a platform. Paper mode uses
// the simulated account.
func (m *Manager) Balance(ctx context.Context, platform types.Platform) (types.Balance, error) {
	if m.paper != nil {
		return m.paper.Balance(), nil
	}
	client, ok := m.clients[platform]
	if !ok {
		return types.Balance{}, fmt.Errorf("no client for platform %s", platform)
	}
	return client.GetBalance(ctx)
}

func (m *Manager) snapshotOrder(id string) *types.Order {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if o, ok := m.orders[id]; ok {
		cp := *o
		return &cp
	}
	return nil
}

func (m *Manager) emit(o types.Order) {
	select {
	case m.updates <- o:
	default:
		log.Warn().Str("order", o.ID).Msg("Order update channel full, dropping")
	}
}
