// Crossarb - Cross-venue arbitrage engine for binary prediction markets
//
// Trades YES/NO contracts across two venues:
//  1. Match equivalent markets across venues by title similarity
//  2. Detect probability-sum mispricing within one venue and price gaps
//     between venues
//  3. Execute both legs concurrently with IOC orders; unwind one-sided
//     fills
//  4. Run directional strategies (endgame, momentum, reversion,
//     imbalance, spread, volatility) on the same book feed
//  5. Optionally mirror tracked wallets (copy trading)
//
// Paper mode simulates fills with latency and slippage; live mode signs
// and routes real orders.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/oddslab/crossarb/internal/api"
	"github.com/oddslab/crossarb/internal/arbitrage"
	"github.com/oddslab/crossarb/internal/bot"
	"github.com/oddslab/crossarb/internal/clock"
	"github.com/oddslab/crossarb/internal/config"
	"github.com/oddslab/crossarb/internal/copytrade"
	"github.com/oddslab/crossarb/internal/engine"
	"github.com/oddslab/crossarb/internal/health"
	"github.com/oddslab/crossarb/internal/orders"
	"github.com/oddslab/crossarb/internal/pricehistory"
	"github.com/oddslab/crossarb/internal/storage"
	"github.com/oddslab/crossarb/internal/strategy"
	"github.com/oddslab/crossarb/internal/types"
	"github.com/oddslab/crossarb/internal/venue"
	alphavenue "github.com/oddslab/crossarb/internal/venue/alpha"
	betavenue "github.com/oddslab/crossarb/internal/venue/beta"
)

const version = "1.0.0"

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	if err := godotenv.Load(); err != nil {
		log.Warn().Msg("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	if cfg.Debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	mode := "live"
	if cfg.PaperTrading {
		mode = "paper"
	}
	log.Info().
		Str("version", version).
		Str("mode", mode).
		Msg("⚡ Crossarb starting...")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	clk := clock.Real()

	// ====== PERSISTENCE ======
	dsn := cfg.DatabaseDSN
	if dsn == "" {
		dsn = cfg.SQLitePath
	}
	db, err := storage.New(dsn)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize database")
	}
	defer db.Close()

	// ====== VENUE CLIENTS ======
	alphaClient, err := alphavenue.NewClient(alphavenue.Config{
		APIURL:     cfg.AlphaAPIURL,
		WSURL:      cfg.AlphaWSURL,
		APIKey:     cfg.AlphaAPIKey,
		APISecret:  cfg.AlphaAPISecret,
		Passphrase: cfg.AlphaPassphrase,
		PrivateKey: cfg.AlphaPrivateKey,
		FeeBps:     cfg.AlphaFeeBps,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize venue alpha client")
	}
	betaClient := betavenue.NewClient(betavenue.Config{
		APIURL: cfg.BetaAPIURL,
		WSURL:  cfg.BetaWSURL,
		APIKey: cfg.BetaAPIKey,
		Secret: cfg.BetaSecret,
		FeeBps: cfg.BetaFeeBps,
	})
	clients := map[types.Platform]venue.Client{
		types.PlatformAlpha: alphaClient,
		types.PlatformBeta:  betaClient,
	}
	platforms := []types.Platform{types.PlatformAlpha, types.PlatformBeta}
	feeBps := map[types.Platform]int64{
		types.PlatformAlpha: cfg.AlphaFeeBps,
		types.PlatformBeta:  cfg.BetaFeeBps,
	}

	// ====== ORDER MANAGER ======
	limits := orders.Limits{
		MaxPositionSizeUSD:  cfg.MaxPositionSizeUSD,
		MaxTotalExposureUSD: cfg.MaxTotalExposureUSD,
		MaxDailyLossUSD:     cfg.MaxDailyLossUSD,
		MaxDrawdownPercent:  cfg.MaxDrawdownPercent,
	}
	var paper *orders.Paper
	initialEquity := cfg.PaperBalance
	if cfg.PaperTrading {
		paper = orders.NewPaper(orders.DefaultPaperConfig(cfg.PaperBalance, feeBps))
		log.Info().Str("balance", cfg.PaperBalance.StringFixed(2)).Msg("💳 Paper trading enabled")
	}
	orderMgr := orders.NewManager(clients, limits, paper, initialEquity, clk)

	// ====== PRICE TRACKER & STRATEGIES ======
	tracker := pricehistory.New(clk)
	if paper != nil {
		paper.SetVolatilityFn(func(marketID string) float64 {
			if stats := tracker.GetStats(marketID, 5*time.Minute); stats != nil {
				return stats.Volatility
			}
			return 0
		})
	}

	strategies := []strategy.Strategy{
		strategy.NewProbabilitySum(feeBps, clk),
		strategy.NewEndgame(strategy.DefaultEndgameConfig(), clk),
		strategy.NewMomentum(strategy.DefaultMomentumConfig(), clk),
		strategy.NewMeanReversion(strategy.DefaultMeanReversionConfig(), clk),
		strategy.NewImbalance(strategy.DefaultImbalanceConfig(), clk),
		strategy.NewSpreadHunter(strategy.DefaultSpreadHunterConfig(), clk),
		strategy.NewVolatilityCapture(clk),
	}
	stratMgr := strategy.NewManager(tracker, strategies, clk,
		strategy.WithTopK(cfg.MaxConcurrentSignals),
		strategy.WithCooldown(cfg.SignalCooldown),
	)

	// ====== ARBITRAGE ======
	detector := arbitrage.NewDetector(arbitrage.DetectorConfig{
		FeeBps:       feeBps,
		MinSpreadBps: cfg.MinArbitrageSpreadBps,
		EnableSingle: cfg.EnableSinglePlatformArb,
		EnableCross:  cfg.EnableCrossPlatformArb,
	}, clk)
	executor := arbitrage.NewExecutor(orderMgr, clk)

	// ====== ENGINE ======
	engCfg := engine.DefaultConfig()
	engCfg.ScanInterval = cfg.ScanInterval
	engCfg.EnableWebSocket = cfg.EnableWebSocket
	eng := engine.New(engCfg, clients, orderMgr, tracker, stratMgr, detector, executor, clk)

	// ====== TELEGRAM ======
	var notifier *bot.Notifier
	if cfg.TelegramToken != "" && cfg.TelegramChatID != 0 {
		notifier, err = bot.New(cfg.TelegramToken, cfg.TelegramChatID)
		if err != nil {
			log.Warn().Err(err).Msg("⚠️ Telegram disabled")
		}
	} else {
		log.Warn().Msg("⚠️ No Telegram credentials - alerts disabled")
	}

	// ====== KILL SWITCH & HEALTH ======
	killSwitch := health.New(health.Config{Limits: limits}, eng, orderMgr, orderMgr, eng, platforms, clk)
	killSwitch.OnTrip(func(state health.State) {
		notifier.NotifyKillSwitch(state)
	})
	executor.SetUnhedgedHandler(func(opp types.ArbitrageOpportunity, leg types.ArbitrageLeg, size decimal.Decimal) {
		notifier.NotifyUnhedged(&opp, size)
		killSwitch.NoteInternalError()
	})

	checks := []health.Check{
		health.PingCheck("database", func(context.Context) error { return db.Ping() }),
		health.VenueCheck(alphaClient),
		health.VenueCheck(betaClient),
		health.LoopLagCheck(0),
		health.MemoryCheck(0),
		health.BalanceCheck(types.PlatformAlpha, decimal.NewFromInt(10), orderMgr.Balance),
	}
	monitor := health.NewMonitor(clk, checks, health.WithOnChange(func(s health.Status) {
		notifier.NotifyHealth(s)
	}))

	// ====== COPY TRADING ======
	var copier *copytrade.Copier
	if cfg.CopyTradingEnabled && len(cfg.TrackedWallets) > 0 {
		traders := make([]copytrade.TraderCopyConfig, 0, len(cfg.TrackedWallets))
		for _, w := range cfg.TrackedWallets {
			traders = append(traders, copytrade.TraderCopyConfig{
				Wallet:      w,
				Sizing:      copytrade.DefaultSizingConfig(),
				Aggregation: copytrade.DefaultAggregatorConfig(),
			})
		}
		copyCfg := copytrade.DefaultConfig()
		copyCfg.PollInterval = cfg.CopyPollInterval
		copier = copytrade.NewCopier(copyCfg, alphaClient, orderMgr, traders, clk)
	}

	// ====== START ======
	if err := eng.Initialize(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize engine")
	}
	if err := eng.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to start engine")
	}
	monitor.Start(ctx)
	killSwitch.Watch(ctx)
	if copier != nil {
		copier.Start(ctx)
	}

	session := &storage.TradingSession{Mode: mode, StartedAt: clk.Now(), StartBalance: initialEquity}
	if err := db.StartSession(session); err != nil {
		log.Warn().Err(err).Msg("Session record failed")
	}

	// Persist order updates and copy-trade decisions as they happen. A nil
	// copyEvents channel just never selects.
	var copyEvents <-chan copytrade.Event
	if copier != nil {
		copyEvents = copier.Events()
	}
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case o := <-orderMgr.Updates():
				persistOrder(db, notifier, o)
			case ev := <-copyEvents:
				persistCopyEvent(db, clk, ev)
			}
		}
	}()

	adminSrv := api.NewServer(cfg.AdminAddr, eng, orderMgr, monitor, killSwitch, platforms)
	go func() {
		if err := adminSrv.Start(); err != nil {
			log.Error().Err(err).Msg("Admin API stopped")
		}
	}()

	log.Info().Msg("✅ All systems online")

	// ====== SHUTDOWN ======
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
		log.Info().Msg("🛑 Received shutdown signal")
	case <-ctx.Done():
		log.Info().Msg("🛑 Context cancelled")
	}

	log.Info().Msg("Shutting down...")

	if copier != nil {
		copier.Stop()
	}
	killSwitch.Stop()
	monitor.Stop()
	if err := eng.Stop(); err != nil {
		log.Warn().Err(err).Msg("Engine stop")
	}
	cancelled := 0
	for _, p := range platforms {
		cancelled += orderMgr.CancelAll(context.Background(), p)
	}
	if cancelled > 0 {
		log.Info().Int("cancelled", cancelled).Msg("🛑 Resting orders cancelled")
	}
	_ = adminSrv.Stop()

	stopped := clk.Now()
	session.StoppedAt = &stopped
	if st := killSwitch.State(); st.Tripped {
		session.KillTrigger = string(st.Trigger)
	}
	if bal, err := orderMgr.Balance(context.Background(), types.PlatformAlpha); err == nil {
		session.FinalBalance = bal.Available
	}
	if err := db.EndSession(session); err != nil {
		log.Warn().Err(err).Msg("Session close failed")
	}

	log.Info().Msg("👋 Goodbye!")
}

// persistOrder upserts the order row and, on a full fill, records the
// trade and pages the operator.
func persistOrder(db *storage.Database, notifier *bot.Notifier, o types.Order) {
	rec := storage.Order{
		ID:           o.ID,
		VenueID:      o.VenueID,
		Platform:     string(o.Platform),
		MarketID:     o.MarketID,
		OutcomeID:    o.OutcomeID,
		Side:         string(o.Side),
		Type:         string(o.Type),
		Price:        o.Price,
		Size:         o.Size,
		FilledSize:   o.FilledSize,
		AvgFillPrice: o.AvgFillPrice,
		Status:       string(o.Status),
		StrategyID:   o.StrategyID,
		Reason:       o.Reason,
		CreatedAt:    o.CreatedAt,
		UpdatedAt:    o.UpdatedAt,
	}
	if err := db.SaveOrder(&rec); err != nil {
		log.Warn().Err(err).Str("order", o.ID).Msg("Order persist failed")
	}
	if o.Status != types.OrderFilled {
		return
	}
	trade := types.Trade{
		ID:         o.ID,
		OrderID:    o.ID,
		Platform:   o.Platform,
		MarketID:   o.MarketID,
		OutcomeID:  o.OutcomeID,
		Side:       o.Side,
		Price:      o.AvgFillPrice,
		Size:       o.FilledSize,
		StrategyID: o.StrategyID,
		ExecutedAt: o.UpdatedAt,
	}
	if err := db.SaveTrade(&storage.Trade{
		ID:        trade.ID,
		OrderID:   trade.OrderID,
		Platform:  string(trade.Platform),
		MarketID:  trade.MarketID,
		OutcomeID: trade.OutcomeID,
		Side:      string(trade.Side),
		Price:     trade.Price,
		Size:      trade.Size,
		CreatedAt: trade.ExecutedAt,
	}); err != nil {
		log.Warn().Err(err).Str("order", o.ID).Msg("Trade persist failed")
	}
	notifier.NotifyTrade(trade)
}

// persistCopyEvent records copy decisions per source transaction and
// snapshots the mirrored position.
func persistCopyEvent(db *storage.Database, clk clock.Clock, ev copytrade.Event) {
	if ev.Aggregate == nil || (ev.Type != copytrade.EventTradeCopied && ev.Type != copytrade.EventTradeSkipped) {
		return
	}
	skipped := ev.Type == copytrade.EventTradeSkipped
	for _, tx := range ev.Aggregate.TxHashes {
		rec := storage.CopiedTrade{
			Wallet:    ev.Aggregate.Wallet,
			TxHash:    tx,
			MarketID:  ev.Aggregate.MarketID,
			OutcomeID: ev.Aggregate.OutcomeID,
			Side:      string(ev.Aggregate.Side),
			Price:     ev.Aggregate.AvgPrice,
			SizeUSD:   ev.Aggregate.TotalUSD,
			Skipped:   skipped,
			Reason:    ev.Reason,
			CreatedAt: clk.Now(),
		}
		if err := db.SaveCopiedTrade(&rec); err != nil {
			log.Warn().Err(err).Str("tx", tx).Msg("Copied trade persist failed")
		}
	}
	if ev.Position == nil {
		return
	}
	if err := db.SaveCopyPosition(&storage.CopyPosition{
		Wallet:      ev.Position.Wallet,
		MarketID:    ev.Position.MarketID,
		OutcomeID:   ev.Position.OutcomeID,
		Size:        ev.Position.Size,
		CostBasis:   ev.Position.CostBasis,
		RealizedPnL: ev.Position.RealizedPnL,
		UpdatedAt:   ev.Position.UpdatedAt,
	}); err != nil {
		log.Warn().Err(err).Str("wallet", ev.Position.Wallet).Msg("Copy position persist failed")
	}
}
