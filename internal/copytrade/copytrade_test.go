package copytrade

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/oddslab/crossarb/internal/clock"
	"github.com/oddslab/crossarb/internal/types"
	"github.com/oddslab/crossarb/internal/venue"
)

func d(f float64) decimal.Decimal { return decimal.NewFromFloat(f) }

// ═══════════════════════════════════════════════════════════════════════════════
// Sizing
// ═══════════════════════════════════════════════════════════════════════════════

func TestCalculateSizePercentage(t *testing.T) {
	t.Parallel()
	cfg := DefaultSizingConfig() // 5%, min 1, max 500
	calc := CalculateSize(cfg, d(1000), d(10000))
	if calc.Skip {
		t.Fatalf("skip = true, reason %q", calc.Reason)
	}
	if !calc.SizeUSD.Equal(d(50)) {
		t.Errorf("size = %s, want 50 (5%% of 1000)", calc.SizeUSD)
	}
}

func TestCalculateSizePercentageClampsToMax(t *testing.T) {
	t.Parallel()
	cfg := DefaultSizingConfig()
	calc := CalculateSize(cfg, d(100000), d(100000))
	if !calc.SizeUSD.Equal(d(500)) {
		t.Errorf("size = %s, want max position 500", calc.SizeUSD)
	}
}

func TestCalculateSizeFixed(t *testing.T) {
	t.Parallel()
	cfg := DefaultSizingConfig()
	cfg.Strategy = SizingFixed
	calc := CalculateSize(cfg, d(1000), d(10000))
	if !calc.SizeUSD.Equal(d(10)) {
		t.Errorf("size = %s, want fixed 10", calc.SizeUSD)
	}
}

func TestCalculateSizeAdaptiveDecays(t *testing.T) {
	t.Parallel()
	cfg := DefaultSizingConfig()
	cfg.Strategy = SizingAdaptive

	small := CalculateSize(cfg, d(100), d(10000))
	large := CalculateSize(cfg, d(5000), d(10000))
	if small.Skip || large.Skip {
		t.Fatalf("unexpected skip: %+v / %+v", small, large)
	}
	// 100 * (0.10 - 0.00001*100) = 9.9
	if !small.SizeUSD.Equal(d(9.9)) {
		t.Errorf("small = %s, want 9.9", small.SizeUSD)
	}
	// 5000 * (0.10 - 0.05) = 250
	if !large.SizeUSD.Equal(d(250)) {
		t.Errorf("large = %s, want 250", large.SizeUSD)
	}
	smallPct := small.SizeUSD.Div(d(100))
	largePct := large.SizeUSD.Div(d(5000))
	if !largePct.LessThan(smallPct) {
		t.Errorf("adaptive percentage must decay: %s vs %s", smallPct, largePct)
	}
}

func TestCalculateSizeReducedByBalance(t *testing.T) {
	t.Parallel()
	cfg := DefaultSizingConfig()
	calc := CalculateSize(cfg, d(1000), d(20)) // 5% would be 50
	if !calc.SizeUSD.Equal(d(20)) {
		t.Errorf("size = %s, want balance-capped 20", calc.SizeUSD)
	}
}

func TestCalculateSizeSkipsBelowMinimum(t *testing.T) {
	t.Parallel()
	cfg := DefaultSizingConfig()
	cfg.Strategy = SizingAdaptive
	cfg.MinTradeSize = d(5)
	calc := CalculateSize(cfg, d(10), d(10000)) // 10 * 0.1 = 1 < 5
	if !calc.Skip {
		t.Errorf("size below minimum must skip, got %s", calc.SizeUSD)
	}
}

// ═══════════════════════════════════════════════════════════════════════════════
// Aggregation
// ═══════════════════════════════════════════════════════════════════════════════

func detected(tx, wallet string, side types.Side, price, usd float64, at time.Time) DetectedTrade {
	return DetectedTrade{
		TxHash: tx, Wallet: wallet, MarketID: "alpha:m1", OutcomeID: "m1-yes",
		Side: side, Price: d(price), SizeUSD: d(usd), At: at,
	}
}

func TestAggregatorFlushesAtMinTrades(t *testing.T) {
	t.Parallel()
	clk := clock.NewFake(time.Unix(1_700_000_000, 0))
	agg := NewAggregator(AggregatorConfig{Enabled: true, Window: 30 * time.Second, MinTrades: 3}, clk)

	if got := agg.Push(detected("t1", "w1", types.SideBuy, 0.50, 100, clk.Now())); got != nil {
		t.Fatal("bucket flushed before min trades")
	}
	if got := agg.Push(detected("t2", "w1", types.SideBuy, 0.60, 300, clk.Now())); got != nil {
		t.Fatal("bucket flushed before min trades")
	}
	flushed := agg.Push(detected("t3", "w1", types.SideBuy, 0.50, 100, clk.Now()))
	if flushed == nil {
		t.Fatal("bucket did not flush at min trades")
	}
	if flushed.Count != 3 || !flushed.TotalUSD.Equal(d(500)) {
		t.Errorf("aggregate = %+v, want count 3 total 500", flushed)
	}
	// (0.50*100 + 0.60*300 + 0.50*100) / 500 = 0.56
	if !flushed.AvgPrice.Equal(d(0.56)) {
		t.Errorf("avg price = %s, want size-weighted 0.56", flushed.AvgPrice)
	}
}

func TestAggregatorFlushesExpiredWindow(t *testing.T) {
	t.Parallel()
	clk := clock.NewFake(time.Unix(1_700_000_000, 0))
	agg := NewAggregator(AggregatorConfig{Enabled: true, Window: 30 * time.Second, MinTrades: 5}, clk)

	agg.Push(detected("t1", "w1", types.SideBuy, 0.50, 100, clk.Now()))
	if flushed := agg.FlushExpired(); len(flushed) != 0 {
		t.Fatal("window not elapsed yet")
	}
	clk.Advance(31 * time.Second)
	flushed := agg.FlushExpired()
	if len(flushed) != 1 || flushed[0].Count != 1 {
		t.Fatalf("flushed = %+v, want single bucket of 1", flushed)
	}
	if agg.Pending() != 0 {
		t.Errorf("pending = %d, want 0", agg.Pending())
	}
}

func TestAggregatorSeparatesSides(t *testing.T) {
	t.Parallel()
	clk := clock.NewFake(time.Unix(1_700_000_000, 0))
	agg := NewAggregator(AggregatorConfig{Enabled: true, Window: 30 * time.Second, MinTrades: 2}, clk)

	agg.Push(detected("t1", "w1", types.SideBuy, 0.50, 100, clk.Now()))
	if flushed := agg.Push(detected("t2", "w1", types.SideSell, 0.55, 100, clk.Now())); flushed != nil {
		t.Error("buy and sell must not share a bucket")
	}
}

// ═══════════════════════════════════════════════════════════════════════════════
// Positions
// ═══════════════════════════════════════════════════════════════════════════════

func TestPositionFIFOReduction(t *testing.T) {
	t.Parallel()
	clk := clock.NewFake(time.Unix(1_700_000_000, 0))
	book := NewPositionBook(clk)

	_, change := book.ApplyBuy("w1", "m1", "yes", d(0.40), d(100))
	if change != PositionOpened {
		t.Errorf("change = %s, want opened", change)
	}
	book.ApplyBuy("w1", "m1", "yes", d(0.60), d(100))

	// Sell 150: the first 100 close at entry 0.40, the next 50 at 0.60.
	pos, change, ok := book.ApplySell("w1", "m1", "yes", d(0.70), d(150))
	if !ok {
		t.Fatal("sell against held position failed")
	}
	if change != PositionUpdated {
		t.Errorf("change = %s, want updated (50 left)", change)
	}
	if !pos.Size.Equal(d(50)) {
		t.Errorf("size = %s, want 50", pos.Size)
	}
	// 100*(0.70-0.40) + 50*(0.70-0.60) = 35
	if !pos.RealizedPnL.Equal(d(35)) {
		t.Errorf("realized = %s, want 35", pos.RealizedPnL)
	}
	// Remaining lot: 50 @ 0.60.
	if !pos.AvgEntry().Equal(d(0.60)) {
		t.Errorf("avg entry = %s, want 0.60", pos.AvgEntry())
	}

	_, change, _ = book.ApplySell("w1", "m1", "yes", d(0.70), d(50))
	if change != PositionClosed {
		t.Errorf("change = %s, want closed", change)
	}
}

func TestPositionSellWithoutHolding(t *testing.T) {
	t.Parallel()
	clk := clock.NewFake(time.Unix(1_700_000_000, 0))
	book := NewPositionBook(clk)
	if _, _, ok := book.ApplySell("w1", "m1", "yes", d(0.70), d(10)); ok {
		t.Error("sell with no position must report not-ok")
	}
}

// ═══════════════════════════════════════════════════════════════════════════════
// Cache
// ═══════════════════════════════════════════════════════════════════════════════

func TestTraderCacheEvictsLRU(t *testing.T) {
	t.Parallel()
	clk := clock.NewFake(time.Unix(1_700_000_000, 0))
	cache := NewTraderCache(2, time.Hour, clk)

	cache.Put("w1", TraderStats{Wallet: "w1"})
	cache.Put("w2", TraderStats{Wallet: "w2"})
	cache.Get("w1") // refresh recency, w2 becomes LRU
	cache.Put("w3", TraderStats{Wallet: "w3"})

	if _, ok := cache.Get("w2"); ok {
		t.Error("w2 should have been evicted as LRU")
	}
	if _, ok := cache.Get("w1"); !ok {
		t.Error("w1 should survive")
	}
	if cache.Len() != 2 {
		t.Errorf("len = %d, want 2", cache.Len())
	}
}

func TestTraderCacheTTL(t *testing.T) {
	t.Parallel()
	clk := clock.NewFake(time.Unix(1_700_000_000, 0))
	cache := NewTraderCache(10, time.Hour, clk)

	cache.Put("w1", TraderStats{Wallet: "w1"})
	clk.Advance(61 * time.Minute)
	if _, ok := cache.Get("w1"); ok {
		t.Error("expired entry served")
	}

	cache.Put("w2", TraderStats{Wallet: "w2"})
	cache.Put("w3", TraderStats{Wallet: "w3"})
	clk.Advance(61 * time.Minute)
	if n := cache.EvictExpired(); n != 2 {
		t.Errorf("evicted = %d, want 2", n)
	}
	if cache.Len() != 0 {
		t.Errorf("len = %d, want 0", cache.Len())
	}
}

// ═══════════════════════════════════════════════════════════════════════════════
// Ranker
// ═══════════════════════════════════════════════════════════════════════════════

func TestRankTradersFiltersAndOrders(t *testing.T) {
	t.Parallel()
	candidates := []TraderStats{
		{Wallet: "star", ROI: 0.8, WinRate: 0.7, ProfitFactor: 3, Sharpe: 2, MaxDrawdown: 0.1, Trades: 100, VolumeUSD: 50000},
		{Wallet: "decent", ROI: 0.2, WinRate: 0.55, ProfitFactor: 1.5, Sharpe: 1, MaxDrawdown: 0.15, Trades: 80, VolumeUSD: 20000},
		{Wallet: "rookie", ROI: 2.0, WinRate: 0.9, ProfitFactor: 5, Sharpe: 3, MaxDrawdown: 0.05, Trades: 5, VolumeUSD: 500},
		{Wallet: "degen", ROI: 0.9, WinRate: 0.6, ProfitFactor: 2, Sharpe: 0.5, MaxDrawdown: 0.6, Trades: 300, VolumeUSD: 90000},
	}

	ranked := RankTraders(ConservativePreset(), candidates)
	if len(ranked) != 2 {
		t.Fatalf("ranked = %d, want 2 (rookie lacks trades, degen too deep a drawdown)", len(ranked))
	}
	if ranked[0].Stats.Wallet != "star" {
		t.Errorf("top = %s, want star", ranked[0].Stats.Wallet)
	}
	if ranked[0].Score < ranked[1].Score {
		t.Error("ranking not descending by score")
	}
}

func TestRankTradersEmptyWhenNoneQualify(t *testing.T) {
	t.Parallel()
	candidates := []TraderStats{
		{Wallet: "rookie", ROI: 2.0, WinRate: 0.9, Trades: 1, VolumeUSD: 10, MaxDrawdown: 0.01, ProfitFactor: 9},
	}
	if got := RankTraders(HighVolumePreset(), candidates); got != nil {
		t.Errorf("ranked = %+v, want nil", got)
	}
}

// ═══════════════════════════════════════════════════════════════════════════════
// Copier flow
// ═══════════════════════════════════════════════════════════════════════════════

type fakeFetcher struct {
	mu         sync.Mutex
	activities []venue.WalletActivity
}

func (f *fakeFetcher) GetWalletActivity(_ context.Context, wallet string, _ time.Time) ([]venue.WalletActivity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []venue.WalletActivity
	for _, a := range f.activities {
		if a.Wallet == wallet {
			out = append(out, a)
		}
	}
	return out, nil
}

type fakePlacer struct {
	mu       sync.Mutex
	requests []types.OrderRequest
}

func (f *fakePlacer) PlaceOrder(_ context.Context, req types.OrderRequest) (*types.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	return &types.Order{ID: "o1", Status: types.OrderFilled, FilledSize: req.Size, AvgFillPrice: req.Price}, nil
}

func (f *fakePlacer) Balance(context.Context, types.Platform) (types.Balance, error) {
	return types.Balance{Available: d(10000)}, nil
}

func (f *fakePlacer) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

func copierUnderTest(fetcher *fakeFetcher, placer *fakePlacer, clk clock.Clock) *Copier {
	trader := TraderCopyConfig{
		Wallet:      "w1",
		Sizing:      DefaultSizingConfig(),
		Aggregation: AggregatorConfig{Enabled: false},
	}
	return NewCopier(DefaultConfig(), fetcher, placer, []TraderCopyConfig{trader}, clk)
}

func TestCopierMirrorsDetectedBuy(t *testing.T) {
	t.Parallel()
	clk := clock.NewFake(time.Unix(1_700_000_000, 0))
	fetcher := &fakeFetcher{activities: []venue.WalletActivity{{
		TxHash: "tx1", Wallet: "w1", MarketID: "m1", OutcomeID: "m1-yes",
		Side: types.SideBuy, Price: d(0.50), SizeUSD: d(1000), Timestamp: clk.Now(),
	}}}
	placer := &fakePlacer{}
	c := copierUnderTest(fetcher, placer, clk)

	c.PollOnce(context.Background())

	if placer.count() != 1 {
		t.Fatalf("orders placed = %d, want 1", placer.count())
	}
	req := placer.requests[0]
	// 5% of 1000 = 50 USD at 0.50 = 100 contracts.
	if !req.Size.Equal(d(100)) || req.Side != types.SideBuy {
		t.Errorf("request = %+v, want buy 100", req)
	}
	positions := c.Positions()
	if len(positions) != 1 || !positions[0].Size.Equal(d(100)) {
		t.Errorf("positions = %+v, want one of size 100", positions)
	}
}

func TestCopierDedupsByTxHash(t *testing.T) {
	t.Parallel()
	clk := clock.NewFake(time.Unix(1_700_000_000, 0))
	fetcher := &fakeFetcher{activities: []venue.WalletActivity{{
		TxHash: "tx1", Wallet: "w1", MarketID: "m1", OutcomeID: "m1-yes",
		Side: types.SideBuy, Price: d(0.50), SizeUSD: d(1000), Timestamp: clk.Now(),
	}}}
	placer := &fakePlacer{}
	c := copierUnderTest(fetcher, placer, clk)

	c.PollOnce(context.Background())
	c.PollOnce(context.Background()) // same activity returned again

	if placer.count() != 1 {
		t.Errorf("orders placed = %d, want 1 after dedup", placer.count())
	}
}

func TestCopierPrunesStaleDedupEntries(t *testing.T) {
	t.Parallel()
	clk := clock.NewFake(time.Unix(1_700_000_000, 0))
	fetcher := &fakeFetcher{activities: []venue.WalletActivity{{
		TxHash: "tx1", Wallet: "w1", MarketID: "m1", OutcomeID: "m1-yes",
		Side: types.SideBuy, Price: d(0.50), SizeUSD: d(1000), Timestamp: clk.Now(),
	}}}
	placer := &fakePlacer{}
	c := copierUnderTest(fetcher, placer, clk)

	c.PollOnce(context.Background())
	c.mu.Lock()
	if len(c.seenTx) != 1 {
		c.mu.Unlock()
		t.Fatalf("seenTx = %d, want 1 after first poll", len(c.seenTx))
	}
	c.mu.Unlock()

	// Two hours later the old hash is past the dedup horizon while a
	// fresh one must survive the prune.
	clk.Advance(2 * time.Hour)
	fetcher.mu.Lock()
	fetcher.activities = []venue.WalletActivity{{
		TxHash: "tx2", Wallet: "w1", MarketID: "m1", OutcomeID: "m1-yes",
		Side: types.SideBuy, Price: d(0.50), SizeUSD: d(1000), Timestamp: clk.Now(),
	}}
	fetcher.mu.Unlock()
	c.PollOnce(context.Background())

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.seenTx["tx1"]; ok {
		t.Error("tx1 survived past the dedup horizon")
	}
	if _, ok := c.seenTx["tx2"]; !ok {
		t.Error("fresh tx2 was pruned")
	}
	if len(c.seenTx) != 1 {
		t.Errorf("seenTx = %d, want 1", len(c.seenTx))
	}
}

func TestCopierSellReducesFIFO(t *testing.T) {
	t.Parallel()
	clk := clock.NewFake(time.Unix(1_700_000_000, 0))
	fetcher := &fakeFetcher{activities: []venue.WalletActivity{{
		TxHash: "tx1", Wallet: "w1", MarketID: "m1", OutcomeID: "m1-yes",
		Side: types.SideBuy, Price: d(0.50), SizeUSD: d(1000), Timestamp: clk.Now(),
	}}}
	placer := &fakePlacer{}
	c := copierUnderTest(fetcher, placer, clk)
	c.PollOnce(context.Background())

	fetcher.mu.Lock()
	fetcher.activities = append(fetcher.activities, venue.WalletActivity{
		TxHash: "tx2", Wallet: "w1", MarketID: "m1", OutcomeID: "m1-yes",
		Side: types.SideSell, Price: d(0.60), SizeUSD: d(30), Timestamp: clk.Now(),
	})
	fetcher.mu.Unlock()
	c.PollOnce(context.Background())

	if placer.count() != 2 {
		t.Fatalf("orders placed = %d, want 2", placer.count())
	}
	sell := placer.requests[1]
	// 30 USD at 0.60 = 50 contracts sold out of the 100 held.
	if sell.Side != types.SideSell || !sell.Size.Equal(d(50)) {
		t.Errorf("sell request = %+v, want sell 50", sell)
	}
	positions := c.Positions()
	if len(positions) != 1 || !positions[0].Size.Equal(d(50)) {
		t.Errorf("positions = %+v, want 50 remaining", positions)
	}
}

// ═══════════════════════════════════════════════════════════════════════════════
// Simulator
// ═══════════════════════════════════════════════════════════════════════════════

func TestSimulateRoundTrip(t *testing.T) {
	t.Parallel()
	clk := clock.NewFake(time.Unix(1_700_000_000, 0))
	now := clk.Now()
	history := []DetectedTrade{
		detected("t1", "w1", types.SideBuy, 0.50, 1000, now),
		detected("t2", "w1", types.SideSell, 0.60, 1200, now.Add(time.Hour)),
	}

	res := Simulate(DefaultSizingConfig(), d(10000), history, clk)
	if res.TradesCopied != 2 {
		t.Fatalf("copied = %d, want 2", res.TradesCopied)
	}
	// Buy: 5% of 1000 = 50 USD -> 100 contracts @ 0.50.
	// Sell: trader sold 1200 USD worth; we close all 100 @ 0.60 -> +10.
	if !res.RealizedPnL.Equal(d(10)) {
		t.Errorf("realized = %s, want 10", res.RealizedPnL)
	}
	if !res.OpenCostBasis.IsZero() {
		t.Errorf("open cost basis = %s, want 0", res.OpenCostBasis)
	}
	if !res.FinalBalance.Equal(d(10010)) {
		t.Errorf("final balance = %s, want 10010", res.FinalBalance)
	}
}
