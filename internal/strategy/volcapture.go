package strategy

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/oddslab/crossarb/internal/clock"
	"github.com/oddslab/crossarb/internal/pricehistory"
	"github.com/oddslab/crossarb/internal/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// VOLATILITY CAPTURE - Fade sharp moves inside a short event window
// ═══════════════════════════════════════════════════════════════════════════════

// eventWindow is how long after a significant move the market stays hot.
const eventWindow = 2 * time.Minute

// VolatilityCapture buys the dropping outcome right after a significant
// move, expecting partial reversion. Fed by significant-move events; its
// signals bypass the manager's cooldown.
type VolatilityCapture struct {
	base
	evMu   sync.Mutex
	events map[string]pricehistory.SignificantMove // by market id
}

// NewVolatilityCapture creates the strategy.
func NewVolatilityCapture(clk clock.Clock) *VolatilityCapture {
	return &VolatilityCapture{
		base:   newBase("volatility_capture", clk),
		events: make(map[string]pricehistory.SignificantMove),
	}
}

// NoteMove records a significant move, opening the event window.
func (s *VolatilityCapture) NoteMove(move pricehistory.SignificantMove) {
	s.evMu.Lock()
	s.events[move.MarketID] = move
	s.evMu.Unlock()
}

func (s *VolatilityCapture) Analyze(market *types.NormalizedMarket, _ *pricehistory.PriceStats, _ *types.OrderBook) []types.Signal {
	key := market.Key()
	s.evMu.Lock()
	move, ok := s.events[key]
	if ok && s.clk.Now().Sub(move.At) > eventWindow {
		delete(s.events, key)
		ok = false
	}
	s.evMu.Unlock()
	if !ok {
		return nil
	}

	yes, no, binary := market.Binary()
	if !binary {
		return nil
	}

	// YES dropped: buy YES. YES spiked: NO dropped, buy NO.
	target := yes
	if move.ChangePct > 0 {
		target = no
	}
	if target.BestAsk.IsZero() || target.AskSize.LessThanOrEqual(decimal.Zero) {
		return nil
	}

	conf := clipF(math.Abs(move.ChangePct) / 0.10)
	return one(s.signal(key, target.ExternalID, types.SideBuy, target.BestAsk, target.AskSize, conf,
		fmt.Sprintf("reversion after %.1f%% move", move.ChangePct*100)))
}
