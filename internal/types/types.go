package types

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ═══════════════════════════════════════════════════════════════════════════════
// SHARED TYPES - Normalized market data, orders, positions
// ═══════════════════════════════════════════════════════════════════════════════

// Platform identifies a trading venue.
type Platform string

const (
	PlatformAlpha Platform = "alpha" // CLOB-based crypto-settled venue
	PlatformBeta  Platform = "beta"  // regulated API venue
)

// Fixed trading bounds. Contract prices live strictly inside (0,1).
const (
	BPSDivisor = 10000
)

var (
	MinPrice = decimal.NewFromFloat(0.01)
	MaxPrice = decimal.NewFromFloat(0.99)
)

// MarketStatus is the lifecycle state of a market.
type MarketStatus string

const (
	MarketActive    MarketStatus = "active"
	MarketClosed    MarketStatus = "closed"
	MarketResolved  MarketStatus = "resolved"
	MarketSuspended MarketStatus = "suspended"
)

// OutcomeType tags the two sides of a binary market.
type OutcomeType string

const (
	OutcomeYes OutcomeType = "YES"
	OutcomeNo  OutcomeType = "NO"
)

// Outcome is one side of a binary market with its top of book.
type Outcome struct {
	ExternalID  string
	Name        string
	Type        OutcomeType
	Probability decimal.Decimal // [0,1]
	BestBid     decimal.Decimal
	BestAsk     decimal.Decimal
	BidSize     decimal.Decimal
	AskSize     decimal.Decimal
}

// NormalizedMarket is the venue-independent market record.
// Identity is (Platform, ExternalID); Key() derives the primary key.
type NormalizedMarket struct {
	Platform    Platform
	ExternalID  string
	Title       string
	Description string
	Category    string
	Status      MarketStatus
	EndDate     *time.Time
	IsActive    bool
	Volume24h   decimal.Decimal
	Liquidity   decimal.Decimal
	Outcomes    []Outcome
}

// Key returns the stable composite key "platform:externalId".
func (m *NormalizedMarket) Key() string {
	return string(m.Platform) + ":" + m.ExternalID
}

// Binary reports whether the market has exactly a YES and a NO outcome,
// and returns them in that order.
func (m *NormalizedMarket) Binary() (yes, no *Outcome, ok bool) {
	if len(m.Outcomes) != 2 {
		return nil, nil, false
	}
	for i := range m.Outcomes {
		switch m.Outcomes[i].Type {
		case OutcomeYes:
			yes = &m.Outcomes[i]
		case OutcomeNo:
			no = &m.Outcomes[i]
		}
	}
	if yes == nil || no == nil {
		return nil, nil, false
	}
	return yes, no, true
}

// PriceLevel is a single (price, size) level in a book side.
type PriceLevel struct {
	Price decimal.Decimal
	Size  decimal.Decimal
}

// BookSide holds sorted bids (descending) and asks (ascending).
type BookSide struct {
	Bids []PriceLevel
	Asks []PriceLevel
}

// BestBid returns the top bid or zero.
func (s *BookSide) BestBid() (PriceLevel, bool) {
	if len(s.Bids) == 0 {
		return PriceLevel{}, false
	}
	return s.Bids[0], true
}

// BestAsk returns the top ask or zero.
func (s *BookSide) BestAsk() (PriceLevel, bool) {
	if len(s.Asks) == 0 {
		return PriceLevel{}, false
	}
	return s.Asks[0], true
}

// OrderBook is the per-market two-sided book with a monotonic sequence.
type OrderBook struct {
	Platform  Platform
	MarketID  string
	Yes       BookSide
	No        BookSide
	Seq       uint64
	Timestamp time.Time
}

// Side is the order direction.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// OrderType is the time-in-force qualifier.
type OrderType string

const (
	OrderGTC OrderType = "GTC"
	OrderGTD OrderType = "GTD"
	OrderFOK OrderType = "FOK"
	OrderIOC OrderType = "IOC"
)

// OrderStatus is the lifecycle state of an order.
type OrderStatus string

const (
	OrderPending   OrderStatus = "pending"
	OrderOpen      OrderStatus = "open"
	OrderPartial   OrderStatus = "partial"
	OrderFilled    OrderStatus = "filled"
	OrderCancelled OrderStatus = "cancelled"
	OrderRejected  OrderStatus = "rejected"
)

// Terminal reports whether no further transitions are accepted.
func (s OrderStatus) Terminal() bool {
	switch s {
	case OrderFilled, OrderCancelled, OrderRejected:
		return true
	}
	return false
}

// OrderRequest is what callers hand to the order manager.
type OrderRequest struct {
	Platform   Platform
	MarketID   string
	OutcomeID  string
	Side       Side
	Price      decimal.Decimal
	Size       decimal.Decimal
	Type       OrderType
	StrategyID string
}

// Order is a tracked order. ID is client-assigned.
type Order struct {
	ID           string
	VenueID      string // exchange-assigned id, set on ack
	Platform     Platform
	MarketID     string
	OutcomeID    string
	Side         Side
	Price        decimal.Decimal
	Size         decimal.Decimal
	FilledSize   decimal.Decimal
	AvgFillPrice decimal.Decimal
	Type         OrderType
	Status       OrderStatus
	Reason       string // reject/cancel reason code
	StrategyID   string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Remaining returns the unfilled size.
func (o *Order) Remaining() decimal.Decimal {
	return o.Size.Sub(o.FilledSize)
}

// Trade is an immutable fill record.
type Trade struct {
	ID          string
	OrderID     string
	Platform    Platform
	MarketID    string
	OutcomeID   string
	Side        Side
	Price       decimal.Decimal
	Size        decimal.Decimal
	Fee         decimal.Decimal
	RealizedPnL decimal.Decimal
	StrategyID  string
	ExecutedAt  time.Time
}

// PositionSide distinguishes long from short exposure.
type PositionSide string

const (
	PositionLong  PositionSide = "long"
	PositionShort PositionSide = "short"
)

// Position aggregates fills per (platform, market, outcome, strategy).
type Position struct {
	Platform      Platform
	MarketID      string
	OutcomeID     string
	StrategyID    string
	Side          PositionSide
	Size          decimal.Decimal
	AvgEntryPrice decimal.Decimal
	UnrealizedPnL decimal.Decimal
	RealizedPnL   decimal.Decimal
	IsOpen        bool
	OpenedAt      time.Time
	ClosedAt      *time.Time
}

// Key returns the stable composite position key.
func (p *Position) Key() string {
	return PositionKey(p.Platform, p.MarketID, p.OutcomeID, p.StrategyID)
}

// PositionKey builds the composite index key used by order manager and engine.
func PositionKey(platform Platform, marketID, outcomeID, strategyID string) string {
	return fmt.Sprintf("%s:%s:%s:%s", platform, marketID, outcomeID, strategyID)
}

// Balance is a venue account balance snapshot.
type Balance struct {
	Available decimal.Decimal
	Locked    decimal.Decimal
	Total     decimal.Decimal
	Currency  string
}

// Polarity describes how a matched pair's outcomes map onto each other.
type Polarity string

const (
	PolaritySame     Polarity = "same"     // yesA <-> yesB
	PolarityInverted Polarity = "inverted" // yesA <-> noB
)

// MarketPair links two markets on different venues judged to be the same
// underlying question.
type MarketPair struct {
	MarketA    string // key of the alpha-venue market
	MarketB    string // key of the beta-venue market
	Confidence decimal.Decimal
	OutcomeMap map[string]string // outcomeA id -> outcomeB id
	Polarity   Polarity
	MatchedAt  time.Time
}

// Signal is an ephemeral trade suggestion emitted by a strategy. It is
// owned by the emitting strategy and discarded on expiry or execution.
type Signal struct {
	ID         string
	MarketID   string
	OutcomeID  string
	Side       Side
	Price      decimal.Decimal
	Size       decimal.Decimal
	Confidence decimal.Decimal // [0,1]
	Strategy   string
	Reason     string
	CreatedAt  time.Time
	ExpiresAt  time.Time
}

// Expired reports whether the signal is past its TTL.
func (s *Signal) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && now.After(s.ExpiresAt)
}

// ArbitrageType distinguishes the two mispricing classes.
type ArbitrageType string

const (
	ArbSinglePlatform ArbitrageType = "single_platform"
	ArbCrossPlatform  ArbitrageType = "cross_platform"
)

// ArbitrageLeg is one side of a two-leg execution.
type ArbitrageLeg struct {
	Platform  Platform
	MarketID  string
	OutcomeID string
	Side      Side
	Price     decimal.Decimal
	Size      decimal.Decimal
}

// OpportunityStatus is the executor-visible terminal state.
type OpportunityStatus string

const (
	OppDetected  OpportunityStatus = "detected"
	OppExecuting OpportunityStatus = "executing"
	OppExecuted  OpportunityStatus = "executed"
	OppUnwound   OpportunityStatus = "unwound"
	OppFailed    OpportunityStatus = "failed"
	OppExpired   OpportunityStatus = "expired"
	OppUnhedged  OpportunityStatus = "unhedged"
)

// ArbitrageOpportunity is a detected two-leg mispricing with a TTL.
type ArbitrageOpportunity struct {
	ID         string
	Type       ArbitrageType
	BuyLeg     ArbitrageLeg
	SellLeg    ArbitrageLeg // for single-platform arbs this is the second buy leg
	SpreadBps  int64
	MaxProfit  decimal.Decimal
	MaxSize    decimal.Decimal
	Confidence decimal.Decimal
	Status     OpportunityStatus
	DetectedAt time.Time
	TTL        time.Duration
}

// Expired reports whether the opportunity is stale.
func (o *ArbitrageOpportunity) Expired(now time.Time) bool {
	return now.Sub(o.DetectedAt) > o.TTL
}
