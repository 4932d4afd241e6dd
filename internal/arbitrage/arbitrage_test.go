package arbitrage

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/oddslab/crossarb/internal/clock"
	"github.com/oddslab/crossarb/internal/types"
)

func d(f float64) decimal.Decimal { return decimal.NewFromFloat(f) }

func binaryMarket(platform types.Platform, id string, yesBid, yesAsk, yesSize, noBid, noAsk, noSize float64) types.NormalizedMarket {
	return types.NormalizedMarket{
		Platform:   platform,
		ExternalID: id,
		Status:     types.MarketActive,
		IsActive:   true,
		Outcomes: []types.Outcome{
			{ExternalID: id + "-yes", Type: types.OutcomeYes, BestBid: d(yesBid), BestAsk: d(yesAsk), BidSize: d(yesSize), AskSize: d(yesSize)},
			{ExternalID: id + "-no", Type: types.OutcomeNo, BestBid: d(noBid), BestAsk: d(noAsk), BidSize: d(noSize), AskSize: d(noSize)},
		},
	}
}

func detector(clk clock.Clock, feeBps int64, minSpread int64) *Detector {
	return NewDetector(DetectorConfig{
		FeeBps:       map[types.Platform]int64{types.PlatformAlpha: feeBps, types.PlatformBeta: feeBps},
		MinSpreadBps: minSpread,
		EnableSingle: true,
		EnableCross:  true,
	}, clk)
}

func TestScanSingleSumArbitrage(t *testing.T) {
	t.Parallel()
	clk := clock.NewFake(time.Unix(1_700_000_000, 0))
	det := detector(clk, 0, 100)

	markets := []types.NormalizedMarket{
		binaryMarket(types.PlatformAlpha, "m1", 0.46, 0.48, 1000, 0.47, 0.49, 800),
	}
	opps := det.ScanSingle(markets)
	if len(opps) != 1 {
		t.Fatalf("opportunities = %d, want 1", len(opps))
	}
	opp := opps[0]
	if opp.Type != types.ArbSinglePlatform {
		t.Errorf("type = %s, want single_platform", opp.Type)
	}
	if !opp.MaxSize.Equal(d(800)) {
		t.Errorf("MaxSize = %s, want min depth 800", opp.MaxSize)
	}
	// 800 * (1 - 0.97) = 24
	if !opp.MaxProfit.Equal(d(24)) {
		t.Errorf("MaxProfit = %s, want 24", opp.MaxProfit)
	}
	// 0.03 / 0.97 ~ 309 bps
	if opp.SpreadBps != 309 {
		t.Errorf("SpreadBps = %d, want 309", opp.SpreadBps)
	}
	if opp.BuyLeg.Side != types.SideBuy || opp.SellLeg.Side != types.SideBuy {
		t.Errorf("sum arb legs must both be buys: %s/%s", opp.BuyLeg.Side, opp.SellLeg.Side)
	}
}

func TestScanSingleExactFeeBoundaryIsNotOpportunity(t *testing.T) {
	t.Parallel()
	clk := clock.NewFake(time.Unix(1_700_000_000, 0))
	det := detector(clk, 100, 0) // 100 bps per leg, sum threshold 0.98

	markets := []types.NormalizedMarket{
		binaryMarket(types.PlatformAlpha, "m1", 0.46, 0.48, 1000, 0.47, 0.50, 800), // sum exactly 0.98
	}
	if opps := det.ScanSingle(markets); len(opps) != 0 {
		t.Errorf("sum at exact fee boundary emitted %d opportunities", len(opps))
	}
}

func TestScanCrossDetectsBidOverAsk(t *testing.T) {
	t.Parallel()
	clk := clock.NewFake(time.Unix(1_700_000_000, 0))
	det := detector(clk, 0, 100)

	ma := binaryMarket(types.PlatformAlpha, "a1", 0.38, 0.40, 500, 0.58, 0.62, 500)
	mb := binaryMarket(types.PlatformBeta, "b1", 0.45, 0.47, 300, 0.52, 0.55, 300)
	pair := types.MarketPair{
		MarketA:    ma.Key(),
		MarketB:    mb.Key(),
		Confidence: d(0.9),
		OutcomeMap: map[string]string{"a1-yes": "b1-yes"},
		Polarity:   types.PolaritySame,
	}

	opps := det.ScanCross([]types.MarketPair{pair}, map[string]*types.NormalizedMarket{
		ma.Key(): &ma,
		mb.Key(): &mb,
	})
	if len(opps) != 1 {
		t.Fatalf("opportunities = %d, want 1", len(opps))
	}
	opp := opps[0]
	if opp.Type != types.ArbCrossPlatform {
		t.Errorf("type = %s, want cross_platform", opp.Type)
	}
	// Buy alpha at 0.40, sell beta at 0.45.
	if opp.BuyLeg.Platform != types.PlatformAlpha || !opp.BuyLeg.Price.Equal(d(0.40)) {
		t.Errorf("buy leg = %+v, want alpha @ 0.40", opp.BuyLeg)
	}
	if opp.SellLeg.Platform != types.PlatformBeta || !opp.SellLeg.Price.Equal(d(0.45)) {
		t.Errorf("sell leg = %+v, want beta @ 0.45", opp.SellLeg)
	}
	if !opp.MaxSize.Equal(d(300)) {
		t.Errorf("MaxSize = %s, want 300", opp.MaxSize)
	}
}

func TestFilterDropsExpired(t *testing.T) {
	t.Parallel()
	clk := clock.NewFake(time.Unix(1_700_000_000, 0))
	det := detector(clk, 0, 100)

	markets := []types.NormalizedMarket{
		binaryMarket(types.PlatformAlpha, "m1", 0.46, 0.48, 1000, 0.47, 0.49, 800),
	}
	opps := det.ScanSingle(markets)
	if len(opps) != 1 {
		t.Fatalf("opportunities = %d, want 1", len(opps))
	}

	clk.Advance(6 * time.Second) // past the 5s TTL, still profitable
	if left := det.Filter(opps); len(left) != 0 {
		t.Errorf("expired opportunity survived the filter")
	}
}

// ═══════════════════════════════════════════════════════════════════════════════
// Executor tests
// ═══════════════════════════════════════════════════════════════════════════════

// legOutcome scripts how the fake manager treats one outcome id.
type legOutcome string

const (
	legFills   legOutcome = "fills"
	legRejects legOutcome = "rejects"
	legMisses  legOutcome = "misses"
)

type fakeOrderManager struct {
	mu       sync.Mutex
	script   map[string]legOutcome // by "outcomeId|side"
	orders   map[string]*types.Order
	requests []types.OrderRequest
}

func newFakeOM(script map[string]legOutcome) *fakeOrderManager {
	return &fakeOrderManager{script: script, orders: make(map[string]*types.Order)}
}

func (f *fakeOrderManager) PlaceOrder(_ context.Context, req types.OrderRequest) (*types.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)

	id := fmt.Sprintf("o%d", len(f.requests))
	order := &types.Order{
		ID:        id,
		Platform:  req.Platform,
		MarketID:  req.MarketID,
		OutcomeID: req.OutcomeID,
		Side:      req.Side,
		Price:     req.Price,
		Size:      req.Size,
		Type:      req.Type,
	}
	switch f.script[req.OutcomeID+"|"+string(req.Side)] {
	case legRejects:
		order.Status = types.OrderRejected
		f.orders[id] = order
		return order, fmt.Errorf("venue rejected")
	case legMisses:
		order.Status = types.OrderCancelled
	default:
		order.Status = types.OrderFilled
		order.FilledSize = req.Size
		order.AvgFillPrice = req.Price
	}
	f.orders[id] = order
	return order, nil
}

func (f *fakeOrderManager) CancelOrder(_ context.Context, orderID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if o, ok := f.orders[orderID]; ok && !o.Status.Terminal() {
		o.Status = types.OrderCancelled
	}
	return nil
}

func (f *fakeOrderManager) GetOrder(orderID string) (*types.Order, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[orderID]
	if !ok {
		return nil, false
	}
	cp := *o
	return &cp, true
}

func sumOpportunity(clk clock.Clock) types.ArbitrageOpportunity {
	return types.ArbitrageOpportunity{
		ID:   "opp1",
		Type: types.ArbSinglePlatform,
		BuyLeg: types.ArbitrageLeg{
			Platform: types.PlatformAlpha, MarketID: "m1", OutcomeID: "m1-yes",
			Side: types.SideBuy, Price: d(0.48), Size: d(800),
		},
		SellLeg: types.ArbitrageLeg{
			Platform: types.PlatformAlpha, MarketID: "m1", OutcomeID: "m1-no",
			Side: types.SideBuy, Price: d(0.49), Size: d(800),
		},
		MaxSize:    d(800),
		Status:     types.OppDetected,
		DetectedAt: clk.Now(),
		TTL:        DefaultTTL,
	}
}

func TestExecuteBothLegsFilled(t *testing.T) {
	t.Parallel()
	clk := clock.NewFake(time.Unix(1_700_000_000, 0))
	om := newFakeOM(map[string]legOutcome{"m1-yes|buy": legFills, "m1-no|buy": legFills})
	ex := NewExecutor(om, clk)

	status, err := ex.Execute(context.Background(), sumOpportunity(clk))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if status != types.OppExecuted {
		t.Errorf("status = %s, want executed", status)
	}
	if len(om.requests) != 2 {
		t.Errorf("requests = %d, want 2 legs", len(om.requests))
	}
	for _, req := range om.requests {
		if req.Type != types.OrderIOC {
			t.Errorf("leg type = %s, want IOC", req.Type)
		}
	}
}

func TestExecuteOneLegRejectedUnwinds(t *testing.T) {
	t.Parallel()
	clk := clock.NewFake(time.Unix(1_700_000_000, 0))
	om := newFakeOM(map[string]legOutcome{
		"m1-yes|buy": legFills, "m1-no|buy": legRejects,
		"m1-yes|sell": legFills, // compensating sell crosses
	})
	ex := NewExecutor(om, clk)

	status, err := ex.Execute(context.Background(), sumOpportunity(clk))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if status != types.OppUnwound {
		t.Errorf("status = %s, want unwound", status)
	}

	// Third request is the compensating sell of the filled YES leg.
	if len(om.requests) != 3 {
		t.Fatalf("requests = %d, want 3", len(om.requests))
	}
	comp := om.requests[2]
	if comp.OutcomeID != "m1-yes" || comp.Side != types.SideSell {
		t.Errorf("compensating order = %+v, want sell of m1-yes", comp)
	}
	if !comp.Size.Equal(d(800)) {
		t.Errorf("compensating size = %s, want 800", comp.Size)
	}
}

func TestExecuteUnhedgedRaisesAlert(t *testing.T) {
	t.Parallel()
	clk := clock.NewFake(time.Unix(1_700_000_000, 0))
	om := newFakeOM(map[string]legOutcome{
		"m1-yes|buy": legFills, "m1-no|buy": legRejects,
		"m1-yes|sell": legMisses, // compensating sell also fails
	})
	ex := NewExecutor(om, clk)

	var alerted struct {
		sync.Mutex
		size decimal.Decimal
		hit  bool
	}
	ex.SetUnhedgedHandler(func(_ types.ArbitrageOpportunity, _ types.ArbitrageLeg, size decimal.Decimal) {
		alerted.Lock()
		alerted.size = size
		alerted.hit = true
		alerted.Unlock()
	})

	status, err := ex.Execute(context.Background(), sumOpportunity(clk))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if status != types.OppUnhedged {
		t.Errorf("status = %s, want unhedged", status)
	}
	alerted.Lock()
	defer alerted.Unlock()
	if !alerted.hit || !alerted.size.Equal(d(800)) {
		t.Errorf("unhedged alert hit=%v size=%s, want size 800", alerted.hit, alerted.size)
	}
}

func TestExecuteBothMissedFails(t *testing.T) {
	t.Parallel()
	clk := clock.NewFake(time.Unix(1_700_000_000, 0))
	om := newFakeOM(map[string]legOutcome{"m1-yes|buy": legMisses, "m1-no|buy": legMisses})
	ex := NewExecutor(om, clk)

	status, err := ex.Execute(context.Background(), sumOpportunity(clk))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if status != types.OppFailed {
		t.Errorf("status = %s, want failed", status)
	}
}

func crossOpportunity(clk clock.Clock) types.ArbitrageOpportunity {
	return types.ArbitrageOpportunity{
		ID:   "opp2",
		Type: types.ArbCrossPlatform,
		BuyLeg: types.ArbitrageLeg{
			Platform: types.PlatformAlpha, MarketID: "a1", OutcomeID: "a1-yes",
			Side: types.SideBuy, Price: d(0.40), Size: d(300),
		},
		SellLeg: types.ArbitrageLeg{
			Platform: types.PlatformBeta, MarketID: "b1", OutcomeID: "b1-yes",
			Side: types.SideSell, Price: d(0.45), Size: d(300),
		},
		MaxSize:    d(300),
		Status:     types.OppDetected,
		DetectedAt: clk.Now(),
		TTL:        DefaultTTL,
	}
}

func TestExecuteSerializesOnBothLegMarkets(t *testing.T) {
	t.Parallel()
	clk := clock.NewFake(time.Unix(1_700_000_000, 0))
	om := newFakeOM(map[string]legOutcome{"a1-yes|buy": legFills, "b1-yes|sell": legFills})
	ex := NewExecutor(om, clk)

	// Another execution already owns the sell-side market.
	ex.mu.Lock()
	ex.activeByMkt["beta:b1"] = true
	ex.mu.Unlock()

	status, err := ex.Execute(context.Background(), crossOpportunity(clk))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if status != types.OppFailed {
		t.Errorf("status = %s, want failed while sell market is busy", status)
	}
	if len(om.requests) != 0 {
		t.Errorf("busy sell market still placed %d orders", len(om.requests))
	}

	ex.mu.Lock()
	delete(ex.activeByMkt, "beta:b1")
	ex.mu.Unlock()

	status, err = ex.Execute(context.Background(), crossOpportunity(clk))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if status != types.OppExecuted {
		t.Errorf("status = %s, want executed once the market frees up", status)
	}

	// Both market locks are released after the attempt.
	ex.mu.Lock()
	defer ex.mu.Unlock()
	if len(ex.activeByMkt) != 0 {
		t.Errorf("activeByMkt = %v, want empty after execution", ex.activeByMkt)
	}
}

func TestExecuteExpiredOpportunity(t *testing.T) {
	t.Parallel()
	clk := clock.NewFake(time.Unix(1_700_000_000, 0))
	om := newFakeOM(nil)
	ex := NewExecutor(om, clk)

	opp := sumOpportunity(clk)
	clk.Advance(6 * time.Second)
	status, err := ex.Execute(context.Background(), opp)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if status != types.OppExpired {
		t.Errorf("status = %s, want expired", status)
	}
	if len(om.requests) != 0 {
		t.Errorf("expired opportunity placed %d orders", len(om.requests))
	}
}
