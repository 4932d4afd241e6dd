package beta

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/oddslab/crossarb/internal/types"
	"github.com/oddslab/crossarb/internal/venue"
)

// ═══════════════════════════════════════════════════════════════════════════════
// VENUE BETA - Regulated API venue
// ═══════════════════════════════════════════════════════════════════════════════
//
// Bearer-token REST API. Prices arrive in integer cents and are normalized
// to the (0,1) contract range. The venue only quotes the YES side; the NO
// book is derived by complementing YES prices.
//
// ═══════════════════════════════════════════════════════════════════════════════

var hundred = decimal.NewFromInt(100)

// Config holds venue-beta connection settings.
type Config struct {
	APIURL string
	WSURL  string
	APIKey string
	Secret string
	FeeBps int64
}

// Client implements venue.Client against venue beta.
type Client struct {
	cfg        Config
	httpClient *http.Client
	limiter    *rate.Limiter

	ws     *venue.WSConn
	events chan venue.Event

	mu         sync.RWMutex
	connected  bool
	subscribed map[string]struct{}
	lastSeq    map[string]uint64
}

// NewClient creates a venue-beta client.
func NewClient(cfg Config) *Client {
	c := &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		limiter:    rate.NewLimiter(rate.Limit(5), 10),
		events:     make(chan venue.Event, 1024),
		subscribed: make(map[string]struct{}),
		lastSeq:    make(map[string]uint64),
	}
	if cfg.WSURL != "" {
		c.ws = venue.NewWSConn(cfg.WSURL, c.handleMessage, c.resubscribe, c.handleState)
	}
	log.Info().Msg("🏛️ Venue-beta client initialized")
	return c
}

// Platform identifies this client.
func (c *Client) Platform() types.Platform { return types.PlatformBeta }

// FeeBps returns the configured taker fee.
func (c *Client) FeeBps() int64 { return c.cfg.FeeBps }

// Connect starts the stream transport.
func (c *Client) Connect(ctx context.Context) error {
	if c.ws != nil {
		c.ws.Start()
	}
	c.mu.Lock()
	c.connected = true
	c.mu.Unlock()
	return nil
}

// Disconnect stops the stream transport.
func (c *Client) Disconnect() error {
	if c.ws != nil {
		c.ws.Stop()
	}
	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()
	return nil
}

// IsConnected reports whether the client is usable.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// Events returns the stream event channel.
func (c *Client) Events() <-chan venue.Event { return c.events }

// SubscribeBooks subscribes book deltas for the given markets.
func (c *Client) SubscribeBooks(marketIDs ...string) error {
	c.mu.Lock()
	for _, id := range marketIDs {
		c.subscribed[id] = struct{}{}
	}
	c.mu.Unlock()

	if c.ws == nil {
		return nil
	}
	return c.ws.WriteJSON(map[string]interface{}{
		"cmd":     "subscribe",
		"channel": "orderbook",
		"tickers": marketIDs,
	})
}

// ─── REST ─────────────────────────────────────────────────────────────────────

// GetMarkets fetches the event catalog and normalizes it.
func (c *Client) GetMarkets(ctx context.Context, filter venue.MarketFilter) ([]types.NormalizedMarket, error) {
	path := "/markets"
	if filter.ActiveOnly {
		path += "?status=open"
	}

	body, err := c.get(ctx, path)
	if err != nil {
		return nil, err
	}

	var raw struct {
		Markets []struct {
			Ticker    string `json:"ticker"`
			Title     string `json:"title"`
			Subtitle  string `json:"subtitle"`
			Category  string `json:"category"`
			Status    string `json:"status"`
			CloseTime string `json:"close_time"`
			YesBid    int64  `json:"yes_bid"` // cents
			YesAsk    int64  `json:"yes_ask"`
			NoBid     int64  `json:"no_bid"`
			NoAsk     int64  `json:"no_ask"`
			Volume24h int64  `json:"volume_24h"`
			Liquidity int64  `json:"liquidity"`
		} `json:"markets"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("parse markets: %w", err)
	}

	out := make([]types.NormalizedMarket, 0, len(raw.Markets))
	for _, m := range raw.Markets {
		if m.Ticker == "" {
			continue
		}
		nm := types.NormalizedMarket{
			Platform:    types.PlatformBeta,
			ExternalID:  m.Ticker,
			Title:       m.Title,
			Description: m.Subtitle,
			Category:    m.Category,
			Status:      mapStatus(m.Status),
			IsActive:    m.Status == "open" || m.Status == "active",
			Volume24h:   decimal.NewFromInt(m.Volume24h),
			Liquidity:   decimal.NewFromInt(m.Liquidity),
			Outcomes: []types.Outcome{
				{
					ExternalID: m.Ticker + ":yes",
					Name:       "Yes",
					Type:       types.OutcomeYes,
					BestBid:    centsToPrice(m.YesBid),
					BestAsk:    centsToPrice(m.YesAsk),
				},
				{
					ExternalID: m.Ticker + ":no",
					Name:       "No",
					Type:       types.OutcomeNo,
					BestBid:    centsToPrice(m.NoBid),
					BestAsk:    centsToPrice(m.NoAsk),
				},
			},
		}
		if m.CloseTime != "" {
			if t, err := time.Parse(time.RFC3339, m.CloseTime); err == nil {
				nm.EndDate = &t
			}
		}
		if filter.Category != "" && nm.Category != filter.Category {
			continue
		}
		out = append(out, nm)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

func mapStatus(s string) types.MarketStatus {
	switch s {
	case "open", "active":
		return types.MarketActive
	case "closed":
		return types.MarketClosed
	case "settled", "finalized":
		return types.MarketResolved
	default:
		return types.MarketSuspended
	}
}

type wireLevel [2]int64 // [price cents, contracts]

// GetOrderBook fetches a snapshot. Venue beta quotes YES only; the NO book
// is the complement of the YES book with sides swapped.
func (c *Client) GetOrderBook(ctx context.Context, marketID string) (*types.OrderBook, error) {
	body, err := c.get(ctx, "/markets/"+marketID+"/orderbook")
	if err != nil {
		return nil, err
	}

	var raw struct {
		Seq  uint64      `json:"seq"`
		Bids []wireLevel `json:"yes_bids"`
		Asks []wireLevel `json:"yes_asks"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("parse orderbook: %w", err)
	}

	book := buildBook(marketID, raw.Seq, raw.Bids, raw.Asks)

	c.mu.Lock()
	c.lastSeq[marketID] = book.Seq
	c.mu.Unlock()

	return book, nil
}

func buildBook(marketID string, seq uint64, yesBids, yesAsks []wireLevel) *types.OrderBook {
	book := &types.OrderBook{
		Platform:  types.PlatformBeta,
		MarketID:  marketID,
		Seq:       seq,
		Timestamp: time.Now(),
	}
	for _, l := range yesBids {
		level := types.PriceLevel{Price: centsToPrice(l[0]), Size: decimal.NewFromInt(l[1])}
		if level.Size.IsPositive() {
			book.Yes.Bids = append(book.Yes.Bids, level)
			// A YES bid at p is a NO ask at 1-p.
			book.No.Asks = append(book.No.Asks, types.PriceLevel{
				Price: decimal.NewFromInt(1).Sub(level.Price),
				Size:  level.Size,
			})
		}
	}
	for _, l := range yesAsks {
		level := types.PriceLevel{Price: centsToPrice(l[0]), Size: decimal.NewFromInt(l[1])}
		if level.Size.IsPositive() {
			book.Yes.Asks = append(book.Yes.Asks, level)
			book.No.Bids = append(book.No.Bids, types.PriceLevel{
				Price: decimal.NewFromInt(1).Sub(level.Price),
				Size:  level.Size,
			})
		}
	}
	return book
}

// PlaceOrder submits an order. Prices convert back to cents on the wire.
func (c *Client) PlaceOrder(ctx context.Context, req types.OrderRequest) (*types.Order, error) {
	payload := map[string]interface{}{
		"ticker":      req.MarketID,
		"side":        outcomeSide(req.OutcomeID),
		"action":      string(req.Side),
		"count":       req.Size.IntPart(),
		"price_cents": priceToCents(req.Price),
		"tif":         string(req.Type),
	}

	body, err := c.post(ctx, "/orders", payload)
	if err != nil {
		return nil, err
	}

	var result struct {
		OrderID string `json:"order_id"`
		Status  string `json:"status"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("parse order response: %w", err)
	}

	now := time.Now()
	return &types.Order{
		VenueID:    result.OrderID,
		Platform:   types.PlatformBeta,
		MarketID:   req.MarketID,
		OutcomeID:  req.OutcomeID,
		Side:       req.Side,
		Price:      req.Price,
		Size:       req.Size,
		Type:       req.Type,
		Status:     mapOrderStatus(result.Status),
		StrategyID: req.StrategyID,
		CreatedAt:  now,
		UpdatedAt:  now,
	}, nil
}

func mapOrderStatus(s string) types.OrderStatus {
	switch s {
	case "resting", "open":
		return types.OrderOpen
	case "executed", "filled":
		return types.OrderFilled
	case "canceled", "cancelled":
		return types.OrderCancelled
	case "rejected":
		return types.OrderRejected
	default:
		return types.OrderPending
	}
}

// CancelOrder cancels an open order.
func (c *Client) CancelOrder(ctx context.Context, venueOrderID string) error {
	_, err := c.delete(ctx, "/orders/"+venueOrderID)
	return err
}

// GetOrders lists resting orders.
func (c *Client) GetOrders(ctx context.Context, filter venue.OrderFilter) ([]types.Order, error) {
	body, err := c.get(ctx, "/orders")
	if err != nil {
		return nil, err
	}

	var raw struct {
		Orders []struct {
			OrderID    string `json:"order_id"`
			Ticker     string `json:"ticker"`
			Side       string `json:"side"`
			Action     string `json:"action"`
			PriceCents int64  `json:"price_cents"`
			Count      int64  `json:"count"`
			Filled     int64  `json:"filled_count"`
			Status     string `json:"status"`
		} `json:"orders"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("parse orders: %w", err)
	}

	out := make([]types.Order, 0, len(raw.Orders))
	for _, o := range raw.Orders {
		status := mapOrderStatus(o.Status)
		if filter.Status != "" && status != filter.Status {
			continue
		}
		if filter.MarketID != "" && o.Ticker != filter.MarketID {
			continue
		}
		out = append(out, types.Order{
			VenueID:    o.OrderID,
			Platform:   types.PlatformBeta,
			MarketID:   o.Ticker,
			OutcomeID:  o.Ticker + ":" + o.Side,
			Side:       types.Side(o.Action),
			Price:      centsToPrice(o.PriceCents),
			Size:       decimal.NewFromInt(o.Count),
			FilledSize: decimal.NewFromInt(o.Filled),
			Status:     status,
		})
	}
	return out, nil
}

// GetPositions lists current holdings.
func (c *Client) GetPositions(ctx context.Context) ([]types.Position, error) {
	body, err := c.get(ctx, "/positions")
	if err != nil {
		return nil, err
	}

	var raw struct {
		Positions []struct {
			Ticker   string `json:"ticker"`
			Side     string `json:"side"`
			Count    int64  `json:"count"`
			AvgCents int64  `json:"avg_price_cents"`
		} `json:"positions"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("parse positions: %w", err)
	}

	out := make([]types.Position, 0, len(raw.Positions))
	for _, p := range raw.Positions {
		out = append(out, types.Position{
			Platform:      types.PlatformBeta,
			MarketID:      p.Ticker,
			OutcomeID:     p.Ticker + ":" + p.Side,
			Side:          types.PositionLong,
			Size:          decimal.NewFromInt(p.Count),
			AvgEntryPrice: centsToPrice(p.AvgCents),
			IsOpen:        p.Count != 0,
		})
	}
	return out, nil
}

// GetBalance fetches the account balance.
func (c *Client) GetBalance(ctx context.Context) (types.Balance, error) {
	body, err := c.get(ctx, "/balance")
	if err != nil {
		return types.Balance{}, err
	}

	var raw struct {
		BalanceCents int64 `json:"balance_cents"`
		PayoutCents  int64 `json:"payout_cents"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return types.Balance{}, fmt.Errorf("parse balance: %w", err)
	}

	available := decimal.NewFromInt(raw.BalanceCents).Div(hundred)
	locked := decimal.NewFromInt(raw.PayoutCents).Div(hundred)
	return types.Balance{
		Available: available,
		Locked:    locked,
		Total:     available.Add(locked),
		Currency:  "USD",
	}, nil
}

// ─── Stream handling ──────────────────────────────────────────────────────────

type wsMessage struct {
	Type    string      `json:"type"`
	Ticker  string      `json:"ticker"`
	Seq     uint64      `json:"seq"`
	YesBids []wireLevel `json:"yes_bids"`
	YesAsks []wireLevel `json:"yes_asks"`
	// fill channel
	OrderID    string `json:"order_id"`
	Action     string `json:"action"`
	Side       string `json:"side"`
	Count      int64  `json:"count"`
	PriceCents int64  `json:"price_cents"`
	Status     string `json:"status"`
	Filled     int64  `json:"filled_count"`
}

func (c *Client) handleMessage(data []byte) {
	var msg wsMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		c.emit(venue.Event{Type: venue.EventError, Err: fmt.Errorf("malformed frame: %w", err)})
		return
	}

	switch msg.Type {
	case "orderbook_snapshot", "orderbook_delta":
		c.handleBook(&msg)
	case "trade":
		c.emit(venue.Event{Type: venue.EventTrade, Trade: &venue.TradeUpdate{
			Platform:  types.PlatformBeta,
			MarketID:  msg.Ticker,
			OutcomeID: msg.Ticker + ":" + msg.Side,
			Side:      types.Side(msg.Action),
			Price:     centsToPrice(msg.PriceCents),
			Size:      decimal.NewFromInt(msg.Count),
			Timestamp: time.Now(),
		}})
	case "order_update":
		c.emit(venue.Event{Type: venue.EventOrderUpdate, Order: &venue.OrderUpdate{
			Platform:     types.PlatformBeta,
			VenueOrderID: msg.OrderID,
			Status:       mapOrderStatus(msg.Status),
			FilledSize:   decimal.NewFromInt(msg.Filled),
			AvgFillPrice: centsToPrice(msg.PriceCents),
			Timestamp:    time.Now(),
		}})
	}
}

func (c *Client) handleBook(msg *wsMessage) {
	c.mu.Lock()
	last, seen := c.lastSeq[msg.Ticker]
	if seen && msg.Seq <= last {
		c.mu.Unlock()
		return
	}
	if seen && msg.Seq > last+1 && msg.Type != "orderbook_snapshot" {
		c.mu.Unlock()
		log.Warn().Str("market", msg.Ticker).Uint64("have", last).Uint64("got", msg.Seq).
			Msg("Book sequence gap, resyncing")
		go c.resyncBook(msg.Ticker)
		return
	}
	c.lastSeq[msg.Ticker] = msg.Seq
	c.mu.Unlock()

	c.emit(venue.Event{Type: venue.EventBook, Book: &venue.BookUpdate{
		Platform: types.PlatformBeta,
		MarketID: msg.Ticker,
		Book:     buildBook(msg.Ticker, msg.Seq, msg.YesBids, msg.YesAsks),
		Snapshot: msg.Type == "orderbook_snapshot",
	}})
}

func (c *Client) resyncBook(marketID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	book, err := c.GetOrderBook(ctx, marketID)
	if err != nil {
		c.emit(venue.Event{Type: venue.EventError, Err: fmt.Errorf("book resync %s: %w", marketID, err)})
		return
	}
	c.emit(venue.Event{Type: venue.EventBook, Book: &venue.BookUpdate{
		Platform: types.PlatformBeta,
		MarketID: marketID,
		Book:     book,
		Snapshot: true,
	}})
}

func (c *Client) resubscribe() {
	c.mu.Lock()
	markets := make([]string, 0, len(c.subscribed))
	for id := range c.subscribed {
		markets = append(markets, id)
		delete(c.lastSeq, id)
	}
	c.mu.Unlock()

	if len(markets) == 0 {
		return
	}
	if err := c.ws.WriteJSON(map[string]interface{}{
		"cmd":     "subscribe",
		"channel": "orderbook",
		"tickers": markets,
	}); err != nil {
		log.Error().Err(err).Msg("Resubscribe failed")
	}
}

func (c *Client) handleState(connected bool) {
	c.emit(venue.Event{Type: venue.EventStateChange, State: &venue.StateChange{
		Platform:  types.PlatformBeta,
		Connected: connected,
	}})
}

func (c *Client) emit(ev venue.Event) {
	select {
	case c.events <- ev:
	default:
	}
}

// ─── HTTP plumbing ────────────────────────────────────────────────────────────

func (c *Client) get(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.APIURL+path, nil)
	if err != nil {
		return nil, err
	}
	return c.do(req)
}

func (c *Client) post(ctx context.Context, path string, body interface{}) ([]byte, error) {
	jsonBody, _ := json.Marshal(body)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.APIURL+path, bytes.NewBuffer(jsonBody))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req)
}

func (c *Client) delete(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.cfg.APIURL+path, nil)
	if err != nil {
		return nil, err
	}
	return c.do(req)
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	if err := c.limiter.Wait(req.Context()); err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(body))
	}
	return body, nil
}

// outcomeSide maps a normalized outcome id ("TICKER:yes") back to the
// venue's side token.
func outcomeSide(outcomeID string) string {
	if strings.HasSuffix(outcomeID, ":no") {
		return "no"
	}
	return "yes"
}

func centsToPrice(cents int64) decimal.Decimal {
	return decimal.NewFromInt(cents).Div(hundred)
}

func priceToCents(price decimal.Decimal) int64 {
	return price.Mul(hundred).Round(0).IntPart()
}
