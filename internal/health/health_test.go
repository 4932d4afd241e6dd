package health

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/oddslab/crossarb/internal/clock"
	"github.com/oddslab/crossarb/internal/orders"
	"github.com/oddslab/crossarb/internal/types"
)

func d(f float64) decimal.Decimal { return decimal.NewFromFloat(f) }

func passCheck(name string) Check {
	return Check{Name: name, Run: func(context.Context) CheckResult {
		return CheckResult{Name: name, Healthy: true}
	}}
}

func failCheck(name, msg string) Check {
	return Check{Name: name, Run: func(context.Context) CheckResult {
		return CheckResult{Name: name, Message: msg}
	}}
}

func TestOverallHealthIsWorstOfChecks(t *testing.T) {
	t.Parallel()
	clk := clock.NewFake(time.Unix(1_700_000_000, 0))
	m := NewMonitor(clk, []Check{passCheck("a"), failCheck("b", "down"), passCheck("c")})

	status := m.RunChecks(context.Background())
	if status.Healthy {
		t.Error("one failing check must make the overall status unhealthy")
	}
	if len(status.Checks) != 3 {
		t.Fatalf("checks = %d, want 3", len(status.Checks))
	}
	if status.Checks[1].Message != "down" {
		t.Errorf("message = %q, want down", status.Checks[1].Message)
	}
	if got := m.Status(); got.Healthy {
		t.Error("stored status not updated")
	}
}

func TestOnChangeFiresOnFlipOnly(t *testing.T) {
	t.Parallel()
	clk := clock.NewFake(time.Unix(1_700_000_000, 0))
	var flips []bool
	healthy := true
	var mu sync.Mutex
	toggled := Check{Name: "t", Run: func(context.Context) CheckResult {
		mu.Lock()
		defer mu.Unlock()
		return CheckResult{Name: "t", Healthy: healthy}
	}}
	m := NewMonitor(clk, []Check{toggled}, WithOnChange(func(s Status) {
		flips = append(flips, s.Healthy)
	}))

	m.RunChecks(context.Background()) // healthy -> healthy: no flip
	mu.Lock()
	healthy = false
	mu.Unlock()
	m.RunChecks(context.Background()) // flip down
	m.RunChecks(context.Background()) // still down: no flip
	mu.Lock()
	healthy = true
	mu.Unlock()
	m.RunChecks(context.Background()) // flip up

	if len(flips) != 2 || flips[0] != false || flips[1] != true {
		t.Errorf("flips = %v, want [false true]", flips)
	}
}

func TestPingCheckReportsError(t *testing.T) {
	t.Parallel()
	c := PingCheck("db", func(context.Context) error { return errors.New("connection refused") })
	res := c.Run(context.Background())
	if res.Healthy || res.Message != "connection refused" {
		t.Errorf("result = %+v, want unhealthy with error message", res)
	}
}

func TestBalanceCheckBelowMinimum(t *testing.T) {
	t.Parallel()
	c := BalanceCheck(types.PlatformAlpha, d(100), func(context.Context, types.Platform) (types.Balance, error) {
		return types.Balance{Available: d(40)}, nil
	})
	if res := c.Run(context.Background()); res.Healthy {
		t.Error("balance below minimum must be unhealthy")
	}

	c = BalanceCheck(types.PlatformAlpha, d(100), func(context.Context, types.Platform) (types.Balance, error) {
		return types.Balance{Available: d(100)}, nil
	})
	if res := c.Run(context.Background()); !res.Healthy {
		t.Error("balance at minimum must be healthy")
	}
}

// ═══════════════════════════════════════════════════════════════════════════════
// Kill switch
// ═══════════════════════════════════════════════════════════════════════════════

type fakeHalter struct {
	mu      sync.Mutex
	halted  bool
	resumes int
}

func (f *fakeHalter) Halt(string) {
	f.mu.Lock()
	f.halted = true
	f.mu.Unlock()
}

func (f *fakeHalter) Resume() {
	f.mu.Lock()
	f.halted = false
	f.resumes++
	f.mu.Unlock()
}

type fakeCanceller struct {
	mu    sync.Mutex
	calls []types.Platform
}

func (f *fakeCanceller) CancelAll(_ context.Context, p types.Platform) int {
	f.mu.Lock()
	f.calls = append(f.calls, p)
	f.mu.Unlock()
	return 2
}

type fakeRisk struct{ snap orders.RiskSnapshot }

func (f *fakeRisk) RiskState() orders.RiskSnapshot { return f.snap }

type fakeVenueErrs struct {
	mu     sync.Mutex
	counts map[types.Platform]int64
}

func (f *fakeVenueErrs) VenueErrorCount(p types.Platform) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.counts[p]
}

func testLimits() orders.Limits {
	return orders.Limits{
		MaxPositionSizeUSD:  decimal.NewFromInt(1000),
		MaxTotalExposureUSD: decimal.NewFromInt(5000),
		MaxDailyLossUSD:     decimal.NewFromInt(500),
		MaxDrawdownPercent:  decimal.NewFromInt(10),
	}
}

func switchUnderTest(risk *fakeRisk, errs *fakeVenueErrs) (*KillSwitch, *fakeHalter, *fakeCanceller) {
	clk := clock.NewFake(time.Unix(1_700_000_000, 0))
	halter := &fakeHalter{}
	canceller := &fakeCanceller{}
	platforms := []types.Platform{types.PlatformAlpha, types.PlatformBeta}
	var riskIface RiskStater
	if risk != nil {
		riskIface = risk
	}
	var errsIface VenueErrors
	if errs != nil {
		errsIface = errs
	}
	ks := New(Config{Limits: testLimits()}, halter, canceller, riskIface, errsIface, platforms, clk)
	return ks, halter, canceller
}

func TestTripLatchesAndCancels(t *testing.T) {
	t.Parallel()
	ks, halter, canceller := switchUnderTest(nil, nil)

	var alerts []State
	ks.OnTrip(func(s State) { alerts = append(alerts, s) })

	if !ks.Trip(context.Background(), TriggerManual, "operator") {
		t.Fatal("first trip must report a state change")
	}
	if !halter.halted {
		t.Error("engine not halted")
	}
	if len(canceller.calls) != 2 {
		t.Errorf("cancelAll calls = %d, want one per platform", len(canceller.calls))
	}
	if len(alerts) != 1 || alerts[0].Trigger != TriggerManual {
		t.Errorf("alerts = %+v, want one manual trip", alerts)
	}

	// Second trip is idempotent: latched state unchanged, no new alert.
	if ks.Trip(context.Background(), TriggerDailyLoss, "again") {
		t.Error("second trip must be a no-op")
	}
	state := ks.State()
	if !state.Tripped || state.Trigger != TriggerManual {
		t.Errorf("state = %+v, want latched manual trip", state)
	}
	if len(alerts) != 1 {
		t.Errorf("alerts = %d, want still 1", len(alerts))
	}
}

func TestRearmClearsLatchAndResumes(t *testing.T) {
	t.Parallel()
	ks, halter, _ := switchUnderTest(nil, nil)

	if ks.Rearm() {
		t.Error("re-arming an armed switch must be a no-op")
	}
	ks.Trip(context.Background(), TriggerManual, "operator")
	if !ks.Rearm() {
		t.Fatal("re-arm after trip must report a state change")
	}
	if ks.State().Tripped {
		t.Error("latch not cleared")
	}
	if halter.halted || halter.resumes != 1 {
		t.Errorf("engine not resumed: %+v", halter)
	}
}

func TestBreachDailyLossTrips(t *testing.T) {
	t.Parallel()
	risk := &fakeRisk{snap: orders.RiskSnapshot{DailyPnL: d(-500)}}
	ks, _, _ := switchUnderTest(risk, nil)

	trigger, tripped := ks.CheckBreaches(context.Background())
	if !tripped || trigger != TriggerDailyLoss {
		t.Errorf("trigger = %q tripped = %v, want daily loss", trigger, tripped)
	}
}

func TestBreachDrawdownTrips(t *testing.T) {
	t.Parallel()
	risk := &fakeRisk{snap: orders.RiskSnapshot{DrawdownPercent: d(10)}}
	ks, _, _ := switchUnderTest(risk, nil)

	trigger, tripped := ks.CheckBreaches(context.Background())
	if !tripped || trigger != TriggerDrawdown {
		t.Errorf("trigger = %q tripped = %v, want drawdown", trigger, tripped)
	}
}

func TestBreachVenueErrorRateTrips(t *testing.T) {
	t.Parallel()
	risk := &fakeRisk{}
	errs := &fakeVenueErrs{counts: map[types.Platform]int64{types.PlatformAlpha: 5}}
	ks, _, _ := switchUnderTest(risk, errs)

	// First sample establishes the baseline, 5 errors is under the limit.
	if _, tripped := ks.CheckBreaches(context.Background()); tripped {
		t.Fatal("under-limit error delta must not trip")
	}

	errs.mu.Lock()
	errs.counts[types.PlatformAlpha] = 5 + DefaultVenueErrorLimit
	errs.mu.Unlock()
	trigger, tripped := ks.CheckBreaches(context.Background())
	if !tripped || trigger != TriggerVenueErrors {
		t.Errorf("trigger = %q tripped = %v, want venue error rate", trigger, tripped)
	}
}

func TestBreachInternalErrorRateTrips(t *testing.T) {
	t.Parallel()
	ks, _, _ := switchUnderTest(&fakeRisk{}, nil)

	for i := int64(0); i < DefaultInternalErrorLimit-1; i++ {
		ks.NoteInternalError()
	}
	if _, tripped := ks.CheckBreaches(context.Background()); tripped {
		t.Fatal("under-limit internal errors must not trip")
	}
	// Counter resets each window; reaching the limit within one trips.
	for i := int64(0); i < DefaultInternalErrorLimit; i++ {
		ks.NoteInternalError()
	}
	trigger, tripped := ks.CheckBreaches(context.Background())
	if !tripped || trigger != TriggerInternalErrors {
		t.Errorf("trigger = %q tripped = %v, want internal error rate", trigger, tripped)
	}
}

func TestHealthyStateNoTrip(t *testing.T) {
	t.Parallel()
	risk := &fakeRisk{snap: orders.RiskSnapshot{DailyPnL: d(-100), DrawdownPercent: d(2)}}
	ks, halter, _ := switchUnderTest(risk, nil)

	if _, tripped := ks.CheckBreaches(context.Background()); tripped {
		t.Error("healthy snapshot must not trip")
	}
	if halter.halted {
		t.Error("engine halted without a breach")
	}
}
