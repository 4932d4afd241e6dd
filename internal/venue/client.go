package venue

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/oddslab/crossarb/internal/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// VENUE CLIENT CONTRACT - Uniform surface over both venues
// ═══════════════════════════════════════════════════════════════════════════════

// EventType tags the closed set of stream events a venue client emits.
type EventType string

const (
	EventBook        EventType = "book"
	EventTrade       EventType = "trade"
	EventOrderUpdate EventType = "orderUpdate"
	EventError       EventType = "error"
	EventStateChange EventType = "stateChange"
)

// BookUpdate is a full or incremental orderbook refresh.
type BookUpdate struct {
	Platform types.Platform
	MarketID string
	Book     *types.OrderBook
	Snapshot bool // true when this replaces all prior state
}

// TradeUpdate is a public trade print.
type TradeUpdate struct {
	Platform  types.Platform
	MarketID  string
	OutcomeID string
	Side      types.Side
	Price     decimal.Decimal
	Size      decimal.Decimal
	Timestamp time.Time
}

// OrderUpdate is a private order status change from the venue.
type OrderUpdate struct {
	Platform     types.Platform
	VenueOrderID string
	ClientID     string
	Status       types.OrderStatus
	FilledSize   decimal.Decimal
	AvgFillPrice decimal.Decimal
	Reason       string
	Timestamp    time.Time
}

// StateChange signals connect/disconnect of the stream.
type StateChange struct {
	Platform  types.Platform
	Connected bool
}

// Event is the single record type carried on a client's event channel.
// Exactly one payload field is set, matching Type.
type Event struct {
	Type  EventType
	Book  *BookUpdate
	Trade *TradeUpdate
	Order *OrderUpdate
	State *StateChange
	Err   error
}

// MarketFilter narrows GetMarkets.
type MarketFilter struct {
	ActiveOnly bool
	Limit      int
	Category   string
}

// OrderFilter narrows GetOrders.
type OrderFilter struct {
	MarketID string
	Status   types.OrderStatus
}

// Client is the uniform venue surface the core trades through.
type Client interface {
	Platform() types.Platform

	Connect(ctx context.Context) error
	Disconnect() error
	IsConnected() bool

	GetMarkets(ctx context.Context, filter MarketFilter) ([]types.NormalizedMarket, error)
	GetOrderBook(ctx context.Context, marketID string) (*types.OrderBook, error)

	// SubscribeBooks puts the given markets on the venue's book stream.
	// Subscriptions survive reconnects; already-subscribed markets are
	// no-ops.
	SubscribeBooks(marketIDs ...string) error

	PlaceOrder(ctx context.Context, req types.OrderRequest) (*types.Order, error)
	CancelOrder(ctx context.Context, venueOrderID string) error
	GetOrders(ctx context.Context, filter OrderFilter) ([]types.Order, error)

	GetPositions(ctx context.Context) ([]types.Position, error)
	GetBalance(ctx context.Context) (types.Balance, error)

	// FeeBps is the configured taker fee for this venue in basis points.
	// Venue-reported schedules are informational only; the configured
	// constant is authoritative.
	FeeBps() int64

	// Events returns the client's stream of book/trade/order events.
	Events() <-chan Event
}

// WalletActivity is one observed on-venue action of a tracked wallet.
type WalletActivity struct {
	TxHash    string
	Wallet    string
	MarketID  string
	OutcomeID string
	Side      types.Side
	Price     decimal.Decimal
	SizeUSD   decimal.Decimal
	Timestamp time.Time
}

// ActivityFetcher is implemented by venues that expose public wallet
// activity. The copy-trading subsystem polls through this.
type ActivityFetcher interface {
	GetWalletActivity(ctx context.Context, wallet string, since time.Time) ([]WalletActivity, error)
}
