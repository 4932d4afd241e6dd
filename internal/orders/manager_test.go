package orders

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/oddslab/crossarb/internal/clock"
	"github.com/oddslab/crossarb/internal/types"
	"github.com/oddslab/crossarb/internal/venue"
)

func d(f float64) decimal.Decimal { return decimal.NewFromFloat(f) }

func testLimits() Limits {
	return Limits{
		MaxPositionSizeUSD:  d(1000),
		MaxTotalExposureUSD: d(5000),
		MaxDailyLossUSD:     d(500),
		MaxDrawdownPercent:  d(20),
	}
}

// paperManager wires a manager to an always-fill, zero-latency simulator.
func paperManager(t *testing.T, cfg PaperConfig) *Manager {
	t.Helper()
	clk := clock.NewFake(time.Unix(1_700_000_000, 0))
	return NewManager(nil, testLimits(), NewPaper(cfg), cfg.Balance, clk)
}

func instantFill(balance decimal.Decimal) PaperConfig {
	return PaperConfig{
		Balance:                  balance,
		FeeBps:                   map[types.Platform]int64{types.PlatformAlpha: 0, types.PlatformBeta: 0},
		FillProbability:          1.0, // always fill
		PartialProbability:       0,
		SlippageBaseBps:          5,
		SizeImpactBpsPerContract: 0.45,
		Seed:                     1,
	}
}

func buyReq(market string, price, size float64) types.OrderRequest {
	return types.OrderRequest{
		Platform:   types.PlatformAlpha,
		MarketID:   market,
		OutcomeID:  market + "-yes",
		Side:       types.SideBuy,
		Price:      d(price),
		Size:       d(size),
		Type:       types.OrderIOC,
		StrategyID: "test",
	}
}

func TestPaperFillAppliesSlippage(t *testing.T) {
	t.Parallel()
	m := paperManager(t, instantFill(d(10000)))

	order, err := m.PlaceOrder(context.Background(), buyReq("m1", 0.50, 100))
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}

	got, _ := m.GetOrder(order.ID)
	if got.Status != types.OrderFilled {
		t.Fatalf("status = %s, want filled", got.Status)
	}
	// 5 base bps + 0.45 bps/contract on 100 contracts = 50 bps against the buy.
	if !got.AvgFillPrice.Equal(d(0.5025)) {
		t.Errorf("AvgFillPrice = %s, want 0.5025", got.AvgFillPrice)
	}
	if !got.FilledSize.Equal(d(100)) {
		t.Errorf("FilledSize = %s, want 100", got.FilledSize)
	}

	positions := m.Positions()
	if len(positions) != 1 {
		t.Fatalf("positions = %d, want 1", len(positions))
	}
	pos := positions[0]
	if pos.Side != types.PositionLong || !pos.Size.Equal(d(100)) || !pos.AvgEntryPrice.Equal(d(0.5025)) {
		t.Errorf("position = %+v, want long 100 @ 0.5025", pos)
	}
}

func TestPaperMissCancelsIOC(t *testing.T) {
	t.Parallel()
	cfg := instantFill(d(10000))
	cfg.FillProbability = 0 // never fill
	m := paperManager(t, cfg)

	order, err := m.PlaceOrder(context.Background(), buyReq("m1", 0.50, 10))
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}
	got, _ := m.GetOrder(order.ID)
	if got.Status != types.OrderCancelled {
		t.Errorf("status = %s, want cancelled for unfilled IOC", got.Status)
	}
	if !got.FilledSize.IsZero() {
		t.Errorf("FilledSize = %s, want 0", got.FilledSize)
	}
}

func TestPaperMissLeavesRestingOrderOpen(t *testing.T) {
	t.Parallel()
	cfg := instantFill(d(10000))
	cfg.FillProbability = 0
	m := paperManager(t, cfg)

	req := buyReq("m1", 0.50, 10)
	req.Type = types.OrderGTC
	order, err := m.PlaceOrder(context.Background(), req)
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}
	got, _ := m.GetOrder(order.ID)
	if got.Status != types.OrderOpen {
		t.Errorf("status = %s, want open for missed GTC", got.Status)
	}
}

func TestSellReducesPositionFIFO(t *testing.T) {
	t.Parallel()
	cfg := instantFill(d(10000))
	cfg.SlippageBaseBps = 0
	cfg.SizeImpactBpsPerContract = 0
	m := paperManager(t, cfg)

	if _, err := m.PlaceOrder(context.Background(), buyReq("m1", 0.50, 100)); err != nil {
		t.Fatalf("buy: %v", err)
	}

	sell := buyReq("m1", 0.60, 40)
	sell.Side = types.SideSell
	if _, err := m.PlaceOrder(context.Background(), sell); err != nil {
		t.Fatalf("sell: %v", err)
	}

	positions := m.Positions()
	if len(positions) != 1 {
		t.Fatalf("positions = %d, want 1", len(positions))
	}
	pos := positions[0]
	if !pos.Size.Equal(d(60)) {
		t.Errorf("size = %s, want 60 after reduction", pos.Size)
	}
	// 40 contracts closed at 0.60 against 0.50 entry.
	if !pos.RealizedPnL.Equal(d(4)) {
		t.Errorf("RealizedPnL = %s, want 4", pos.RealizedPnL)
	}
}

func TestTransitionDAG(t *testing.T) {
	t.Parallel()
	cases := []struct {
		from, to types.OrderStatus
		ok       bool
	}{
		{types.OrderPending, types.OrderOpen, true},
		{types.OrderPending, types.OrderRejected, true},
		{types.OrderOpen, types.OrderPartial, true},
		{types.OrderPartial, types.OrderPartial, true},
		{types.OrderPartial, types.OrderFilled, true},
		{types.OrderOpen, types.OrderFilled, true},
		{types.OrderOpen, types.OrderCancelled, true},
		{types.OrderPartial, types.OrderCancelled, true},
		{types.OrderPending, types.OrderFilled, false},
		{types.OrderOpen, types.OrderPending, false},
		{types.OrderFilled, types.OrderCancelled, false},
		{types.OrderCancelled, types.OrderOpen, false},
		{types.OrderRejected, types.OrderOpen, false},
	}
	for _, tc := range cases {
		if got := transitionAllowed(tc.from, tc.to); got != tc.ok {
			t.Errorf("transitionAllowed(%s, %s) = %v, want %v", tc.from, tc.to, got, tc.ok)
		}
	}
}

func TestLateUpdateForTerminalOrderDropped(t *testing.T) {
	t.Parallel()
	m := paperManager(t, instantFill(d(10000)))

	order, err := m.PlaceOrder(context.Background(), buyReq("m1", 0.50, 10))
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}
	got, _ := m.GetOrder(order.ID)
	if got.Status != types.OrderFilled {
		t.Fatalf("status = %s, want filled", got.Status)
	}

	m.ApplyUpdate(venue.OrderUpdate{
		ClientID: order.ID,
		Status:   types.OrderCancelled,
	})
	got, _ = m.GetOrder(order.ID)
	if got.Status != types.OrderFilled {
		t.Errorf("late cancel mutated terminal order: %s", got.Status)
	}
}

func TestFilledSizeNeverDecreases(t *testing.T) {
	t.Parallel()
	cfg := instantFill(d(10000))
	cfg.FillProbability = 0 // keep the order open, drive updates by hand
	m := paperManager(t, cfg)

	req := buyReq("m1", 0.50, 100)
	req.Type = types.OrderGTC
	order, err := m.PlaceOrder(context.Background(), req)
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}

	m.ApplyUpdate(venue.OrderUpdate{
		ClientID: order.ID, Status: types.OrderPartial,
		FilledSize: d(40), AvgFillPrice: d(0.50),
	})
	m.ApplyUpdate(venue.OrderUpdate{
		ClientID: order.ID, Status: types.OrderPartial,
		FilledSize: d(30), AvgFillPrice: d(0.50), // regression, must be dropped
	})

	got, _ := m.GetOrder(order.ID)
	if !got.FilledSize.Equal(d(40)) {
		t.Errorf("FilledSize = %s, want 40", got.FilledSize)
	}
}

func TestRiskRejectsPositionLimit(t *testing.T) {
	t.Parallel()
	m := paperManager(t, instantFill(d(100000)))

	// 3000 notional on one position key exceeds the 1000 limit.
	order, err := m.PlaceOrder(context.Background(), buyReq("m1", 0.60, 5000))
	var rej *RiskRejection
	if !errors.As(err, &rej) {
		t.Fatalf("err = %v, want RiskRejection", err)
	}
	if rej.Reason != RejectPositionLimit {
		t.Errorf("reason = %s, want %s", rej.Reason, RejectPositionLimit)
	}
	if order.Status != types.OrderRejected {
		t.Errorf("status = %s, want rejected", order.Status)
	}
}

func TestRiskRejectsExposureLimit(t *testing.T) {
	t.Parallel()
	m := paperManager(t, instantFill(d(100000)))

	// Six markets at 900 notional each; the sixth breaches 5000 total.
	var last error
	for i := 0; i < 6; i++ {
		req := buyReq(string(rune('a'+i)), 0.90, 1000)
		_, last = m.PlaceOrder(context.Background(), req)
	}
	var rej *RiskRejection
	if !errors.As(last, &rej) {
		t.Fatalf("err = %v, want RiskRejection", last)
	}
	if rej.Reason != RejectExposureLimit {
		t.Errorf("reason = %s, want %s", rej.Reason, RejectExposureLimit)
	}
}

func TestAcceptedOrderSatisfiesLimits(t *testing.T) {
	t.Parallel()
	m := paperManager(t, instantFill(d(100000)))

	if _, err := m.PlaceOrder(context.Background(), buyReq("m1", 0.50, 100)); err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}
	snap := m.RiskState()
	limits := testLimits()
	if snap.TotalExposureUSD.GreaterThan(limits.MaxTotalExposureUSD) {
		t.Errorf("exposure %s exceeds limit after accepted order", snap.TotalExposureUSD)
	}
	if snap.DrawdownPercent.GreaterThanOrEqual(limits.MaxDrawdownPercent) {
		t.Errorf("drawdown %s at limit after accepted order", snap.DrawdownPercent)
	}
}

func TestMarkToMarketFeedsDailyPnL(t *testing.T) {
	t.Parallel()
	cfg := instantFill(d(10000))
	cfg.SlippageBaseBps = 0
	cfg.SizeImpactBpsPerContract = 0
	m := paperManager(t, cfg)

	if _, err := m.PlaceOrder(context.Background(), buyReq("m1", 0.50, 100)); err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}

	// 100 long from 0.50 marked at 0.30: 20 USD under water.
	m.Mark(types.PlatformAlpha, "m1", "m1-yes", d(0.30))
	if got := m.RiskState().DailyPnL; !got.Equal(d(-20)) {
		t.Errorf("DailyPnL = %s, want -20 at the 0.30 mark", got)
	}

	positions := m.Positions()
	if len(positions) != 1 {
		t.Fatalf("positions = %d, want 1", len(positions))
	}
	if got := positions[0].UnrealizedPnL; !got.Equal(d(-20)) {
		t.Errorf("UnrealizedPnL = %s, want -20", got)
	}

	// A recovering mark moves the number back up.
	m.Mark(types.PlatformAlpha, "m1", "m1-yes", d(0.55))
	if got := m.RiskState().DailyPnL; !got.Equal(d(5)) {
		t.Errorf("DailyPnL = %s, want 5 at the 0.55 mark", got)
	}
}

func TestUnrealizedLossTripsDailyLimit(t *testing.T) {
	t.Parallel()
	cfg := instantFill(d(10000))
	cfg.SlippageBaseBps = 0
	cfg.SizeImpactBpsPerContract = 0
	m := paperManager(t, cfg)

	// 950 notional, then marked down 0.30: 570 USD under water,
	// past the 500 daily-loss limit without a single closed trade.
	if _, err := m.PlaceOrder(context.Background(), buyReq("m1", 0.50, 1900)); err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}
	m.Mark(types.PlatformAlpha, "m1", "m1-yes", d(0.20))

	_, err := m.PlaceOrder(context.Background(), buyReq("m2", 0.50, 10))
	var rej *RiskRejection
	if !errors.As(err, &rej) {
		t.Fatalf("err = %v, want RiskRejection", err)
	}
	if rej.Reason != RejectDailyLoss {
		t.Errorf("reason = %s, want %s", rej.Reason, RejectDailyLoss)
	}
}

func TestCancelAll(t *testing.T) {
	t.Parallel()
	cfg := instantFill(d(10000))
	cfg.FillProbability = 0 // leave GTC orders resting
	m := paperManager(t, cfg)

	for i := 0; i < 3; i++ {
		req := buyReq("m1", 0.50, 10)
		req.Type = types.OrderGTC
		if _, err := m.PlaceOrder(context.Background(), req); err != nil {
			t.Fatalf("PlaceOrder: %v", err)
		}
	}

	if n := m.CancelAll(context.Background(), ""); n != 3 {
		t.Errorf("CancelAll = %d, want 3", n)
	}
	for _, o := range m.GetOrders(venue.OrderFilter{}) {
		if o.Status != types.OrderCancelled {
			t.Errorf("order %s status = %s, want cancelled", o.ID, o.Status)
		}
	}
}

func TestPaperBalanceDebitsBuys(t *testing.T) {
	t.Parallel()
	cfg := instantFill(d(10000))
	cfg.SlippageBaseBps = 0
	cfg.SizeImpactBpsPerContract = 0
	m := paperManager(t, cfg)

	if _, err := m.PlaceOrder(context.Background(), buyReq("m1", 0.50, 100)); err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}
	bal, err := m.Balance(context.Background(), types.PlatformAlpha)
	if err != nil {
		t.Fatalf("Balance: %v", err)
	}
	if !bal.Available.Equal(d(9950)) {
		t.Errorf("balance = %s, want 9950 after 50 USD buy", bal.Available)
	}
}
