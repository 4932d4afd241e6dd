package copytrade

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/oddslab/crossarb/internal/clock"
)

// ═══════════════════════════════════════════════════════════════════════════════
// COPY POSITIONS - Mirrored exposure with FIFO lot accounting
// ═══════════════════════════════════════════════════════════════════════════════

// lot is one buy slice awaiting reduction.
type lot struct {
	price decimal.Decimal
	size  decimal.Decimal // contracts
}

// CopyPosition is our mirrored position for one tracked wallet's market
// outcome. Sells reduce the stored lots oldest first.
type CopyPosition struct {
	Wallet      string
	MarketID    string
	OutcomeID   string
	Size        decimal.Decimal // contracts
	CostBasis   decimal.Decimal // USD paid for the open size
	RealizedPnL decimal.Decimal
	OpenedAt    time.Time
	UpdatedAt   time.Time

	lots []lot
}

// AvgEntry returns the average entry price over the open lots.
func (p *CopyPosition) AvgEntry() decimal.Decimal {
	if p.Size.IsZero() {
		return decimal.Zero
	}
	return p.CostBasis.Div(p.Size)
}

// PositionBook tracks copy positions per (wallet, market, outcome).
type PositionBook struct {
	clk clock.Clock

	mu        sync.Mutex
	positions map[string]*CopyPosition
}

// PositionChange describes what a fill did to a position.
type PositionChange string

const (
	PositionOpened  PositionChange = "positionOpened"
	PositionUpdated PositionChange = "positionUpdated"
	PositionClosed  PositionChange = "positionClosed"
)

// NewPositionBook creates an empty book.
func NewPositionBook(clk clock.Clock) *PositionBook {
	return &PositionBook{clk: clk, positions: make(map[string]*CopyPosition)}
}

func positionKey(wallet, marketID, outcomeID string) string {
	return wallet + "|" + marketID + "|" + outcomeID
}

// ApplyBuy adds a lot. Size is in contracts at the given price.
func (b *PositionBook) ApplyBuy(wallet, marketID, outcomeID string, price, size decimal.Decimal) (CopyPosition, PositionChange) {
	now := b.clk.Now()
	b.mu.Lock()
	defer b.mu.Unlock()

	key := positionKey(wallet, marketID, outcomeID)
	pos, ok := b.positions[key]
	change := PositionUpdated
	if !ok || pos.Size.IsZero() {
		pos = &CopyPosition{
			Wallet:    wallet,
			MarketID:  marketID,
			OutcomeID: outcomeID,
			OpenedAt:  now,
		}
		b.positions[key] = pos
		change = PositionOpened
	}
	pos.lots = append(pos.lots, lot{price: price, size: size})
	pos.Size = pos.Size.Add(size)
	pos.CostBasis = pos.CostBasis.Add(price.Mul(size))
	pos.UpdatedAt = now
	return *pos, change
}

// ApplySell reduces lots FIFO and realizes pnl against their entry
// prices. Selling more than held closes the position flat.
func (b *PositionBook) ApplySell(wallet, marketID, outcomeID string, price, size decimal.Decimal) (CopyPosition, PositionChange, bool) {
	now := b.clk.Now()
	b.mu.Lock()
	defer b.mu.Unlock()

	key := positionKey(wallet, marketID, outcomeID)
	pos, ok := b.positions[key]
	if !ok || pos.Size.IsZero() {
		return CopyPosition{}, "", false
	}

	remaining := decimal.Min(size, pos.Size)
	for remaining.IsPositive() && len(pos.lots) > 0 {
		front := &pos.lots[0]
		take := decimal.Min(front.size, remaining)
		pos.RealizedPnL = pos.RealizedPnL.Add(price.Sub(front.price).Mul(take))
		pos.CostBasis = pos.CostBasis.Sub(front.price.Mul(take))
		pos.Size = pos.Size.Sub(take)
		front.size = front.size.Sub(take)
		remaining = remaining.Sub(take)
		if front.size.IsZero() {
			pos.lots = pos.lots[1:]
		}
	}
	pos.UpdatedAt = now

	change := PositionUpdated
	if pos.Size.IsZero() {
		change = PositionClosed
	}
	return *pos, change, true
}

// Get returns a position copy, if held.
func (b *PositionBook) Get(wallet, marketID, outcomeID string) (CopyPosition, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	pos, ok := b.positions[positionKey(wallet, marketID, outcomeID)]
	if !ok {
		return CopyPosition{}, false
	}
	return *pos, true
}

// Open returns all positions with size remaining.
func (b *PositionBook) Open() []CopyPosition {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []CopyPosition
	for _, pos := range b.positions {
		if pos.Size.IsPositive() {
			out = append(out, *pos)
		}
	}
	return out
}

// UnrealizedPnL marks open positions against current prices, keyed by
// "marketID|outcomeID".
func (b *PositionBook) UnrealizedPnL(marks map[string]decimal.Decimal) decimal.Decimal {
	b.mu.Lock()
	defer b.mu.Unlock()
	var total decimal.Decimal
	for _, pos := range b.positions {
		if !pos.Size.IsPositive() {
			continue
		}
		mark, ok := marks[pos.MarketID+"|"+pos.OutcomeID]
		if !ok {
			continue
		}
		total = total.Add(mark.Mul(pos.Size).Sub(pos.CostBasis))
	}
	return total
}
