package alpha

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/oddslab/crossarb/internal/types"
	"github.com/oddslab/crossarb/internal/venue"
)

// ═══════════════════════════════════════════════════════════════════════════════
// VENUE ALPHA - CLOB-based crypto-settled venue
// ═══════════════════════════════════════════════════════════════════════════════
//
// REST for catalog, orders, balances and wallet activity; WebSocket for the
// book channel. Orders are keccak-signed with the wallet key and requests
// carry HMAC-style headers derived from the API secret.
//
// ═══════════════════════════════════════════════════════════════════════════════

// Config holds venue-alpha connection settings.
type Config struct {
	APIURL     string
	WSURL      string
	APIKey     string
	APISecret  string
	Passphrase string
	PrivateKey string // hex ECDSA key; empty disables order signing
	FeeBps     int64
}

// Client implements venue.Client against venue alpha.
type Client struct {
	cfg        Config
	privateKey *ecdsa.PrivateKey
	address    string
	httpClient *http.Client
	limiter    *rate.Limiter

	ws     *venue.WSConn
	events chan venue.Event

	mu         sync.RWMutex
	connected  bool
	subscribed map[string]struct{} // market ids on the book channel
	lastSeq    map[string]uint64   // per-market applied book sequence
	stale      map[string]bool     // books awaiting a fresh snapshot
}

// NewClient creates a venue-alpha client.
func NewClient(cfg Config) (*Client, error) {
	c := &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		limiter:    rate.NewLimiter(rate.Limit(10), 20),
		events:     make(chan venue.Event, 1024),
		subscribed: make(map[string]struct{}),
		lastSeq:    make(map[string]uint64),
		stale:      make(map[string]bool),
	}

	if cfg.PrivateKey != "" {
		pk, err := crypto.HexToECDSA(cfg.PrivateKey)
		if err != nil {
			return nil, fmt.Errorf("invalid private key: %w", err)
		}
		c.privateKey = pk
		c.address = crypto.PubkeyToAddress(pk.PublicKey).Hex()
	}

	if cfg.WSURL != "" {
		c.ws = venue.NewWSConn(cfg.WSURL, c.handleMessage, c.resubscribe, c.handleState)
	}

	log.Info().Str("address", c.address).Msg("💳 Venue-alpha client initialized")
	return c, nil
}

// Platform identifies this client.
func (c *Client) Platform() types.Platform { return types.PlatformAlpha }

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

// SubscribeBooks subscribes the book channel for the given markets.
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
		"type":    "subscribe",
		"channel": "book",
		"markets": marketIDs,
	})
}

// ─── REST: markets ────────────────────────────────────────────────────────────

type wireOutcome struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Outcome     string `json:"outcome"` // "YES" | "NO"
	Probability string `json:"probability"`
	BestBid     string `json:"best_bid"`
	BestAsk     string `json:"best_ask"`
	BidSize     string `json:"bid_size"`
	AskSize     string `json:"ask_size"`
}

type wireMarket struct {
	ConditionID string        `json:"condition_id"`
	Question    string        `json:"question"`
	Description string        `json:"description"`
	Category    string        `json:"category"`
	Status      string        `json:"status"`
	EndDate     string        `json:"end_date"` // RFC3339, optional
	Active      bool          `json:"active"`
	Volume24h   string        `json:"volume_24h"`
	Liquidity   string        `json:"liquidity"`
	Tokens      []wireOutcome `json:"tokens"`
}

// GetMarkets fetches the market catalog.
func (c *Client) GetMarkets(ctx context.Context, filter venue.MarketFilter) ([]types.NormalizedMarket, error) {
	path := "/markets?limit=" + itoa(filter.Limit)
	if filter.ActiveOnly {
		path += "&active=true"
	}
	if filter.Category != "" {
		path += "&category=" + filter.Category
	}

	body, err := c.get(ctx, path)
	if err != nil {
		return nil, err
	}

	var raw struct {
		Markets []wireMarket `json:"markets"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("parse markets: %w", err)
	}

	out := make([]types.NormalizedMarket, 0, len(raw.Markets))
	for _, m := range raw.Markets {
		nm, err := normalizeMarket(m)
		if err != nil {
			log.Debug().Err(err).Str("market", m.ConditionID).Msg("Dropping malformed market")
			continue
		}
		out = append(out, nm)
	}
	return out, nil
}

func normalizeMarket(m wireMarket) (types.NormalizedMarket, error) {
	nm := types.NormalizedMarket{
		Platform:    types.PlatformAlpha,
		ExternalID:  m.ConditionID,
		Title:       m.Question,
		Description: m.Description,
		Category:    m.Category,
		Status:      mapStatus(m.Status),
		IsActive:    m.Active,
		Volume24h:   parseDecimal(m.Volume24h),
		Liquidity:   parseDecimal(m.Liquidity),
	}
	if nm.ExternalID == "" {
		return nm, fmt.Errorf("missing condition id")
	}
	if m.EndDate != "" {
		if t, err := time.Parse(time.RFC3339, m.EndDate); err == nil {
			nm.EndDate = &t
		}
	}
	for _, tok := range m.Tokens {
		ot := types.OutcomeNo
		if tok.Outcome == "YES" {
			ot = types.OutcomeYes
		}
		nm.Outcomes = append(nm.Outcomes, types.Outcome{
			ExternalID:  tok.ID,
			Name:        tok.Name,
			Type:        ot,
			Probability: parseDecimal(tok.Probability),
			BestBid:     parseDecimal(tok.BestBid),
			BestAsk:     parseDecimal(tok.BestAsk),
			BidSize:     parseDecimal(tok.BidSize),
			AskSize:     parseDecimal(tok.AskSize),
		})
	}
	return nm, nil
}

func mapStatus(s string) types.MarketStatus {
	switch s {
	case "active", "open":
		return types.MarketActive
	case "closed":
		return types.MarketClosed
	case "resolved", "settled":
		return types.MarketResolved
	default:
		return types.MarketSuspended
	}
}

// ─── REST: orderbook ──────────────────────────────────────────────────────────

type wireLevel [2]string // [price, size]

type wireBook struct {
	MarketID string      `json:"market"`
	Seq      uint64      `json:"seq"`
	YesBids  []wireLevel `json:"yes_bids"`
	YesAsks  []wireLevel `json:"yes_asks"`
	NoBids   []wireLevel `json:"no_bids"`
	NoAsks   []wireLevel `json:"no_asks"`
	Time     int64       `json:"timestamp"` // unix ms
}

// GetOrderBook fetches a book snapshot and resets the sequence cursor.
func (c *Client) GetOrderBook(ctx context.Context, marketID string) (*types.OrderBook, error) {
	body, err := c.get(ctx, "/book?market="+marketID)
	if err != nil {
		return nil, err
	}

	var wb wireBook
	if err := json.Unmarshal(body, &wb); err != nil {
		return nil, fmt.Errorf("parse book: %w", err)
	}
	book := wb.toBook()

	c.mu.Lock()
	c.lastSeq[marketID] = book.Seq
	c.stale[marketID] = false
	c.mu.Unlock()

	return book, nil
}

func (wb *wireBook) toBook() *types.OrderBook {
	return &types.OrderBook{
		Platform: types.PlatformAlpha,
		MarketID: wb.MarketID,
		Yes: types.BookSide{
			Bids: parseLevels(wb.YesBids),
			Asks: parseLevels(wb.YesAsks),
		},
		No: types.BookSide{
			Bids: parseLevels(wb.NoBids),
			Asks: parseLevels(wb.NoAsks),
		},
		Seq:       wb.Seq,
		Timestamp: time.UnixMilli(wb.Time),
	}
}

func parseLevels(levels []wireLevel) []types.PriceLevel {
	out := make([]types.PriceLevel, 0, len(levels))
	for _, l := range levels {
		price := parseDecimal(l[0])
		size := parseDecimal(l[1])
		if size.GreaterThan(decimal.Zero) {
			out = append(out, types.PriceLevel{Price: price, Size: size})
		}
	}
	return out
}

// ─── REST: orders ─────────────────────────────────────────────────────────────

// PlaceOrder signs and submits an order.
func (c *Client) PlaceOrder(ctx context.Context, req types.OrderRequest) (*types.Order, error) {
	payload := map[string]interface{}{
		"market":       req.MarketID,
		"token_id":     req.OutcomeID,
		"side":         string(req.Side),
		"price":        req.Price.String(),
		"size":         req.Size.String(),
		"type":         string(req.Type),
		"nonce":        time.Now().UnixNano(),
		"fee_rate_bps": c.cfg.FeeBps,
	}

	signature, err := c.signOrder(payload)
	if err != nil {
		return nil, fmt.Errorf("signing failed: %w", err)
	}
	payload["signature"] = signature

	body, err := c.post(ctx, "/order", payload)
	if err != nil {
		return nil, err
	}

	var result struct {
		OrderID string `json:"order_id"`
		Status  string `json:"status"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("parse order response: %w", err)
	}
	if result.Error != "" {
		return nil, fmt.Errorf("venue rejected order: %s", result.Error)
	}

	now := time.Now()
	return &types.Order{
		VenueID:    result.OrderID,
		Platform:   types.PlatformAlpha,
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
	case "live", "open":
		return types.OrderOpen
	case "matched", "filled":
		return types.OrderFilled
	case "rejected":
		return types.OrderRejected
	default:
		return types.OrderPending
	}
}

// CancelOrder cancels an open order by venue id.
func (c *Client) CancelOrder(ctx context.Context, venueOrderID string) error {
	_, err := c.delete(ctx, "/order/"+venueOrderID)
	return err
}

// GetOrders lists resting orders.
func (c *Client) GetOrders(ctx context.Context, filter venue.OrderFilter) ([]types.Order, error) {
	path := "/orders"
	if filter.MarketID != "" {
		path += "?market=" + filter.MarketID
	}
	body, err := c.get(ctx, path)
	if err != nil {
		return nil, err
	}

	var raw []struct {
		ID      string `json:"id"`
		Market  string `json:"market"`
		TokenID string `json:"token_id"`
		Side    string `json:"side"`
		Price   string `json:"price"`
		Size    string `json:"original_size"`
		Matched string `json:"size_matched"`
		Status  string `json:"status"`
		Created int64  `json:"created_at"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("parse orders: %w", err)
	}

	out := make([]types.Order, 0, len(raw))
	for _, o := range raw {
		status := mapOrderStatus(o.Status)
		if filter.Status != "" && status != filter.Status {
			continue
		}
		out = append(out, types.Order{
			VenueID:    o.ID,
			Platform:   types.PlatformAlpha,
			MarketID:   o.Market,
			OutcomeID:  o.TokenID,
			Side:       types.Side(o.Side),
			Price:      parseDecimal(o.Price),
			Size:       parseDecimal(o.Size),
			FilledSize: parseDecimal(o.Matched),
			Status:     status,
			CreatedAt:  time.UnixMilli(o.Created),
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

	var raw []struct {
		Market   string `json:"market"`
		TokenID  string `json:"token_id"`
		Size     string `json:"size"`
		AvgPrice string `json:"avg_price"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("parse positions: %w", err)
	}

	out := make([]types.Position, 0, len(raw))
	for _, p := range raw {
		out = append(out, types.Position{
			Platform:      types.PlatformAlpha,
			MarketID:      p.Market,
			OutcomeID:     p.TokenID,
			Side:          types.PositionLong,
			Size:          parseDecimal(p.Size),
			AvgEntryPrice: parseDecimal(p.AvgPrice),
			IsOpen:        true,
		})
	}
	return out, nil
}

// GetBalance fetches the collateral balance.
func (c *Client) GetBalance(ctx context.Context) (types.Balance, error) {
	body, err := c.get(ctx, "/balance")
	if err != nil {
		return types.Balance{}, err
	}

	var raw struct {
		Available string `json:"available"`
		Locked    string `json:"locked"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return types.Balance{}, fmt.Errorf("parse balance: %w", err)
	}

	available := parseDecimal(raw.Available)
	locked := parseDecimal(raw.Locked)
	return types.Balance{
		Available: available,
		Locked:    locked,
		Total:     available.Add(locked),
		Currency:  "USDC",
	}, nil
}

// GetWalletActivity returns recent public trades of a wallet, newest last.
func (c *Client) GetWalletActivity(ctx context.Context, wallet string, since time.Time) ([]venue.WalletActivity, error) {
	body, err := c.get(ctx, fmt.Sprintf("/activity?user=%s&after=%d", wallet, since.UnixMilli()))
	if err != nil {
		return nil, err
	}

	var raw []struct {
		TxHash  string `json:"tx_hash"`
		Market  string `json:"market"`
		TokenID string `json:"token_id"`
		Side    string `json:"side"`
		Price   string `json:"price"`
		SizeUSD string `json:"usd_size"`
		Time    int64  `json:"timestamp"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("parse activity: %w", err)
	}

	out := make([]venue.WalletActivity, 0, len(raw))
	for _, a := range raw {
		out = append(out, venue.WalletActivity{
			TxHash:    a.TxHash,
			Wallet:    wallet,
			MarketID:  a.Market,
			OutcomeID: a.TokenID,
			Side:      types.Side(a.Side),
			Price:     parseDecimal(a.Price),
			SizeUSD:   parseDecimal(a.SizeUSD),
			Timestamp: time.UnixMilli(a.Time),
		})
	}
	return out, nil
}

// ─── Stream handling ──────────────────────────────────────────────────────────

type wsMessage struct {
	EventType string `json:"event_type"`
	wireBook
	// order channel fields
	OrderID  string `json:"order_id"`
	ClientID string `json:"client_order_id"`
	Status   string `json:"status"`
	Matched  string `json:"size_matched"`
	AvgPrice string `json:"avg_price"`
	// trade channel fields
	TokenID string `json:"token_id"`
	Side    string `json:"side"`
	Price   string `json:"price"`
	Size    string `json:"size"`
}

func (c *Client) handleMessage(data []byte) {
	var msgs []wsMessage
	if err := json.Unmarshal(data, &msgs); err != nil {
		var single wsMessage
		if err := json.Unmarshal(data, &single); err != nil {
			c.emit(venue.Event{Type: venue.EventError, Err: fmt.Errorf("malformed frame: %w", err)})
			return
		}
		msgs = []wsMessage{single}
	}

	for i := range msgs {
		switch msgs[i].EventType {
		case "book":
			c.handleBook(&msgs[i])
		case "trade":
			c.handleTrade(&msgs[i])
		case "order":
			c.handleOrder(&msgs[i])
		}
	}
}

// handleBook applies sequence ordering: stale and duplicate frames are
// dropped; a gap marks the book stale until a snapshot is refetched.
func (c *Client) handleBook(msg *wsMessage) {
	c.mu.Lock()
	last, seen := c.lastSeq[msg.MarketID]
	switch {
	case seen && msg.Seq <= last:
		c.mu.Unlock()
		return
	case seen && msg.Seq > last+1:
		c.stale[msg.MarketID] = true
		c.mu.Unlock()
		log.Warn().Str("market", msg.MarketID).Uint64("have", last).Uint64("got", msg.Seq).
			Msg("Book sequence gap, resyncing")
		go c.resyncBook(msg.MarketID)
		return
	}
	c.lastSeq[msg.MarketID] = msg.Seq
	c.mu.Unlock()

	c.emit(venue.Event{Type: venue.EventBook, Book: &venue.BookUpdate{
		Platform: types.PlatformAlpha,
		MarketID: msg.MarketID,
		Book:     msg.wireBook.toBook(),
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
		Platform: types.PlatformAlpha,
		MarketID: marketID,
		Book:     book,
		Snapshot: true,
	}})
}

func (c *Client) handleTrade(msg *wsMessage) {
	c.emit(venue.Event{Type: venue.EventTrade, Trade: &venue.TradeUpdate{
		Platform:  types.PlatformAlpha,
		MarketID:  msg.MarketID,
		OutcomeID: msg.TokenID,
		Side:      types.Side(msg.Side),
		Price:     parseDecimal(msg.Price),
		Size:      parseDecimal(msg.Size),
		Timestamp: time.Now(),
	}})
}

func (c *Client) handleOrder(msg *wsMessage) {
	c.emit(venue.Event{Type: venue.EventOrderUpdate, Order: &venue.OrderUpdate{
		Platform:     types.PlatformAlpha,
		VenueOrderID: msg.OrderID,
		ClientID:     msg.ClientID,
		Status:       mapOrderStatus(msg.Status),
		FilledSize:   parseDecimal(msg.Matched),
		AvgFillPrice: parseDecimal(msg.AvgPrice),
		Timestamp:    time.Now(),
	}})
}

// resubscribe restores the book channel after a reconnect and marks all
// cached books stale until their next snapshot.
func (c *Client) resubscribe() {
	c.mu.Lock()
	markets := make([]string, 0, len(c.subscribed))
	for id := range c.subscribed {
		markets = append(markets, id)
		c.stale[id] = true
		delete(c.lastSeq, id)
	}
	c.mu.Unlock()

	if len(markets) == 0 {
		return
	}
	if err := c.ws.WriteJSON(map[string]interface{}{
		"type":    "subscribe",
		"channel": "book",
		"markets": markets,
	}); err != nil {
		log.Error().Err(err).Msg("Resubscribe failed")
	}
	for _, id := range markets {
		go c.resyncBook(id)
	}
}

func (c *Client) handleState(connected bool) {
	c.emit(venue.Event{Type: venue.EventStateChange, State: &venue.StateChange{
		Platform:  types.PlatformAlpha,
		Connected: connected,
	}})
}

func (c *Client) emit(ev venue.Event) {
	select {
	case c.events <- ev:
	default:
		// Slow consumer: drop rather than block the read loop.
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
	c.addHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, fmt.Errorf("auth rejected (HTTP %d): %s", resp.StatusCode, string(body))
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(body))
	}
	return body, nil
}

func (c *Client) addHeaders(req *http.Request) {
	timestamp := fmt.Sprintf("%d", time.Now().Unix())
	req.Header.Set("ALPHA_API_KEY", c.cfg.APIKey)
	req.Header.Set("ALPHA_TIMESTAMP", timestamp)
	req.Header.Set("ALPHA_PASSPHRASE", c.cfg.Passphrase)

	if c.cfg.APISecret != "" {
		message := timestamp + req.Method + req.URL.Path
		hash := crypto.Keccak256([]byte(message + c.cfg.APISecret))
		req.Header.Set("ALPHA_SIGNATURE", hexutil.Encode(hash))
	}
}

func (c *Client) signOrder(order map[string]interface{}) (string, error) {
	if c.privateKey == nil {
		return "", fmt.Errorf("private key not loaded")
	}

	orderBytes, _ := json.Marshal(order)
	hash := crypto.Keccak256(orderBytes)

	sig, err := crypto.Sign(hash, c.privateKey)
	if err != nil {
		return "", err
	}
	return hexutil.Encode(sig), nil
}

// parseDecimal parses a wire string into a decimal, zero on failure.
func parseDecimal(s string) decimal.Decimal {
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func itoa(n int) string {
	if n <= 0 {
		n = 100
	}
	return fmt.Sprintf("%d", n)
}
