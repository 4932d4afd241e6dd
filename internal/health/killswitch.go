package health

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/oddslab/crossarb/internal/clock"
	"github.com/oddslab/crossarb/internal/orders"
	"github.com/oddslab/crossarb/internal/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// KILL SWITCH - Latched emergency stop
// ═══════════════════════════════════════════════════════════════════════════════
//
// Tripping halts the engine and cancels every resting order, then latches
// a disabled state. Trading stays dead until an operator re-arms; no
// breach clearing, no timer, nothing re-enables it automatically.
//
// ═══════════════════════════════════════════════════════════════════════════════

// Trigger identifies what tripped the switch.
type Trigger string

const (
	TriggerManual         Trigger = "MANUAL"
	TriggerDailyLoss      Trigger = "DAILY_LOSS"
	TriggerDrawdown       Trigger = "DRAWDOWN"
	TriggerPositionLimit  Trigger = "POSITION_LIMIT"
	TriggerVenueErrors    Trigger = "VENUE_ERROR_RATE"
	TriggerInternalErrors Trigger = "INTERNAL_ERROR_RATE"
)

const (
	// DefaultWatchInterval is how often breach conditions are sampled.
	DefaultWatchInterval = 5 * time.Second
	// DefaultVenueErrorLimit trips after this many venue errors inside one
	// watch window.
	DefaultVenueErrorLimit = 20
	// DefaultInternalErrorLimit trips after this many invariant
	// violations inside one watch window.
	DefaultInternalErrorLimit = 5
)

// Halter is the engine surface the switch controls.
type Halter interface {
	Halt(reason string)
	Resume()
}

// OrderCanceller cancels resting orders per platform.
type OrderCanceller interface {
	CancelAll(ctx context.Context, platform types.Platform) int
}

// RiskStater exposes the order manager's live risk snapshot.
type RiskStater interface {
	RiskState() orders.RiskSnapshot
}

// VenueErrors samples a venue's accumulated error counter.
type VenueErrors interface {
	VenueErrorCount(platform types.Platform) int64
}

// State is the latched switch state served over the admin API.
type State struct {
	Tripped   bool      `json:"tripped"`
	Trigger   Trigger   `json:"trigger,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	TrippedAt time.Time `json:"trippedAt,omitempty"`
}

// Config bounds the automatic triggers. Zero-valued limits fall back to
// defaults; a zero risk limit disables that trigger.
type Config struct {
	WatchInterval      time.Duration
	Limits             orders.Limits
	VenueErrorLimit    int64
	InternalErrorLimit int64
}

// KillSwitch is the latched emergency stop.
type KillSwitch struct {
	cfg       Config
	engine    Halter
	orders    OrderCanceller
	risk      RiskStater
	venueErrs VenueErrors
	platforms []types.Platform
	clk       clock.Clock

	mu            sync.Mutex
	state         State
	onTrip        []func(State)
	internalErrs  int64
	lastVenueErrs map[types.Platform]int64

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New creates an armed kill switch.
func New(cfg Config, engine Halter, orderMgr OrderCanceller, risk RiskStater, venueErrs VenueErrors, platforms []types.Platform, clk clock.Clock) *KillSwitch {
	if cfg.WatchInterval <= 0 {
		cfg.WatchInterval = DefaultWatchInterval
	}
	if cfg.VenueErrorLimit <= 0 {
		cfg.VenueErrorLimit = DefaultVenueErrorLimit
	}
	if cfg.InternalErrorLimit <= 0 {
		cfg.InternalErrorLimit = DefaultInternalErrorLimit
	}
	return &KillSwitch{
		cfg:           cfg,
		engine:        engine,
		orders:        orderMgr,
		risk:          risk,
		venueErrs:     venueErrs,
		platforms:     platforms,
		clk:           clk,
		lastVenueErrs: make(map[types.Platform]int64),
		stopCh:        make(chan struct{}),
	}
}

// OnTrip registers a callback fired once per trip (alerting).
func (k *KillSwitch) OnTrip(fn func(State)) {
	k.mu.Lock()
	k.onTrip = append(k.onTrip, fn)
	k.mu.Unlock()
}

// Trip latches the switch, halts the engine and cancels all orders.
// Idempotent: a second trip is a no-op and reports false.
func (k *KillSwitch) Trip(ctx context.Context, trigger Trigger, reason string) bool {
	k.mu.Lock()
	if k.state.Tripped {
		k.mu.Unlock()
		return false
	}
	k.state = State{Tripped: true, Trigger: trigger, Reason: reason, TrippedAt: k.clk.Now()}
	state := k.state
	callbacks := append([]func(State){}, k.onTrip...)
	k.mu.Unlock()

	log.Error().
		Str("trigger", string(trigger)).
		Str("reason", reason).
		Msg("🚨 KILL SWITCH TRIPPED")

	k.engine.Halt("kill switch: " + reason)
	cancelled := 0
	for _, p := range k.platforms {
		cancelled += k.orders.CancelAll(ctx, p)
	}
	log.Info().Int("cancelled", cancelled).Msg("🛑 All resting orders cancelled")

	for _, fn := range callbacks {
		fn(state)
	}
	return true
}

// Rearm clears the latch and resumes the engine. Operator action only.
func (k *KillSwitch) Rearm() bool {
	k.mu.Lock()
	if !k.state.Tripped {
		k.mu.Unlock()
		return false
	}
	k.state = State{}
	k.internalErrs = 0
	for p := range k.lastVenueErrs {
		delete(k.lastVenueErrs, p)
	}
	k.mu.Unlock()

	k.engine.Resume()
	log.Info().Msg("✅ Kill switch re-armed")
	return true
}

// State returns the latched state.
func (k *KillSwitch) State() State {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.state
}

// NoteInternalError counts an invariant violation toward the internal
// error-rate trigger.
func (k *KillSwitch) NoteInternalError() {
	k.mu.Lock()
	k.internalErrs++
	k.mu.Unlock()
}

// CheckBreaches samples risk state and error counters once, tripping on
// the first breach found. Returns the trigger when it fired.
func (k *KillSwitch) CheckBreaches(ctx context.Context) (Trigger, bool) {
	if k.State().Tripped {
		return "", false
	}

	if k.risk != nil {
		snap := k.risk.RiskState()
		limits := k.cfg.Limits
		if limits.MaxDailyLossUSD.IsPositive() && snap.DailyPnL.LessThanOrEqual(limits.MaxDailyLossUSD.Neg()) {
			k.Trip(ctx, TriggerDailyLoss, "daily pnl "+snap.DailyPnL.StringFixed(2))
			return TriggerDailyLoss, true
		}
		if limits.MaxDrawdownPercent.IsPositive() && snap.DrawdownPercent.GreaterThanOrEqual(limits.MaxDrawdownPercent) {
			k.Trip(ctx, TriggerDrawdown, "drawdown "+snap.DrawdownPercent.StringFixed(2)+"%")
			return TriggerDrawdown, true
		}
		if limits.MaxTotalExposureUSD.IsPositive() && snap.TotalExposureUSD.GreaterThan(limits.MaxTotalExposureUSD) {
			k.Trip(ctx, TriggerPositionLimit, "exposure "+snap.TotalExposureUSD.StringFixed(2))
			return TriggerPositionLimit, true
		}
	}

	if k.venueErrs != nil {
		for _, p := range k.platforms {
			total := k.venueErrs.VenueErrorCount(p)
			k.mu.Lock()
			delta := total - k.lastVenueErrs[p]
			k.lastVenueErrs[p] = total
			k.mu.Unlock()
			if delta >= k.cfg.VenueErrorLimit {
				k.Trip(ctx, TriggerVenueErrors, string(p)+" venue errors in window")
				return TriggerVenueErrors, true
			}
		}
	}

	k.mu.Lock()
	internal := k.internalErrs
	k.internalErrs = 0
	k.mu.Unlock()
	if internal >= k.cfg.InternalErrorLimit {
		k.Trip(ctx, TriggerInternalErrors, "internal errors in window")
		return TriggerInternalErrors, true
	}

	return "", false
}

// Watch samples breach conditions on the watch interval until Stop.
func (k *KillSwitch) Watch(ctx context.Context) {
	k.wg.Add(1)
	go func() {
		defer k.wg.Done()
		ticker := time.NewTicker(k.cfg.WatchInterval)
		defer ticker.Stop()
		for {
			select {
			case <-k.stopCh:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				k.CheckBreaches(ctx)
			}
		}
	}()
}

// Stop halts the watch loop.
func (k *KillSwitch) Stop() {
	close(k.stopCh)
	k.wg.Wait()
}
