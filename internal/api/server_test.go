package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/oddslab/crossarb/internal/clock"
	"github.com/oddslab/crossarb/internal/engine"
	"github.com/oddslab/crossarb/internal/health"
	"github.com/oddslab/crossarb/internal/types"
)

type fakeEngine struct {
	state   engine.State
	halted  bool
	scans   int
	markets []types.NormalizedMarket
	pairs   []types.MarketPair
}

func (f *fakeEngine) State() engine.State                 { return f.state }
func (f *fakeEngine) Start(context.Context) error         { f.state = engine.StateRunning; return nil }
func (f *fakeEngine) Stop() error                         { f.state = engine.StateStopped; return nil }
func (f *fakeEngine) Halted() bool                        { return f.halted }
func (f *fakeEngine) TriggerScan()                        { f.scans++ }
func (f *fakeEngine) Markets() []types.NormalizedMarket   { return f.markets }
func (f *fakeEngine) GetMatchedPairs() []types.MarketPair { return f.pairs }

type fakeOrders struct {
	positions []types.Position
}

func (f *fakeOrders) Positions() []types.Position { return f.positions }
func (f *fakeOrders) Balance(context.Context, types.Platform) (types.Balance, error) {
	return types.Balance{Available: decimal.NewFromInt(100)}, nil
}

type nopHalter struct{ halted bool }

func (n *nopHalter) Halt(string) { n.halted = true }
func (n *nopHalter) Resume()     { n.halted = false }

type nopCanceller struct{}

func (nopCanceller) CancelAll(context.Context, types.Platform) int { return 0 }

func serverUnderTest(healthy bool) (*Server, *fakeEngine, *health.KillSwitch) {
	clk := clock.NewFake(time.Unix(1_700_000_000, 0))
	check := health.Check{Name: "stub", Run: func(context.Context) health.CheckResult {
		return health.CheckResult{Name: "stub", Healthy: healthy}
	}}
	monitor := health.NewMonitor(clk, []health.Check{check})
	monitor.RunChecks(context.Background())

	platforms := []types.Platform{types.PlatformAlpha}
	ks := health.New(health.Config{}, &nopHalter{}, nopCanceller{}, nil, nil, platforms, clk)

	eng := &fakeEngine{state: engine.StateInitialized}
	srv := NewServer("127.0.0.1:0", eng, &fakeOrders{}, monitor, ks, platforms)
	return srv, eng, ks
}

func do(t *testing.T, srv *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rdr *strings.Reader
	if body == "" {
		rdr = strings.NewReader("")
	} else {
		rdr = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rdr)
	rec := httptest.NewRecorder()
	srv.server.Handler.ServeHTTP(rec, req)
	return rec
}

func TestHealthEndpointStatusCodes(t *testing.T) {
	t.Parallel()
	srv, _, _ := serverUnderTest(true)
	if rec := do(t, srv, http.MethodGet, "/health", ""); rec.Code != http.StatusOK {
		t.Errorf("healthy status = %d, want 200", rec.Code)
	}

	srv, _, _ = serverUnderTest(false)
	if rec := do(t, srv, http.MethodGet, "/health", ""); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("unhealthy status = %d, want 503", rec.Code)
	}
}

func TestTradingStatus(t *testing.T) {
	t.Parallel()
	srv, _, _ := serverUnderTest(true)
	rec := do(t, srv, http.MethodGet, "/trading/status", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["state"] != string(engine.StateInitialized) {
		t.Errorf("state = %v, want initialized", body["state"])
	}
	if body["halted"] != false {
		t.Errorf("halted = %v, want false", body["halted"])
	}
}

func TestScanEndpointTriggers(t *testing.T) {
	t.Parallel()
	srv, eng, _ := serverUnderTest(true)
	rec := do(t, srv, http.MethodPost, "/trading/scan", "")
	if rec.Code != http.StatusAccepted {
		t.Errorf("status = %d, want 202", rec.Code)
	}
	if eng.scans != 1 {
		t.Errorf("scans = %d, want 1", eng.scans)
	}
}

func TestKillSwitchIdempotent(t *testing.T) {
	t.Parallel()
	srv, _, ks := serverUnderTest(true)

	rec := do(t, srv, http.MethodPost, "/kill-switch", `{"reason":"drill"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var first struct {
		Changed    bool         `json:"changed"`
		KillSwitch health.State `json:"killSwitch"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &first); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !first.Changed || !first.KillSwitch.Tripped || first.KillSwitch.Reason != "drill" {
		t.Errorf("first trip = %+v, want changed latched drill", first)
	}

	rec = do(t, srv, http.MethodPost, "/kill-switch", "")
	var second struct {
		Changed    bool         `json:"changed"`
		KillSwitch health.State `json:"killSwitch"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &second); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if second.Changed || !second.KillSwitch.Tripped || second.KillSwitch.Reason != "drill" {
		t.Errorf("second trip = %+v, want unchanged latched state", second)
	}
	if !ks.State().Tripped {
		t.Error("switch not latched")
	}
}

func TestStartBlockedWhileTripped(t *testing.T) {
	t.Parallel()
	srv, _, ks := serverUnderTest(true)
	ks.Trip(context.Background(), health.TriggerManual, "drill")

	if rec := do(t, srv, http.MethodPost, "/trading/start", ""); rec.Code != http.StatusConflict {
		t.Errorf("start while tripped = %d, want 409", rec.Code)
	}

	do(t, srv, http.MethodPost, "/kill-switch/rearm", "")
	if rec := do(t, srv, http.MethodPost, "/trading/start", ""); rec.Code != http.StatusOK {
		t.Errorf("start after re-arm = %d, want 200", rec.Code)
	}
}

func TestMethodGuard(t *testing.T) {
	t.Parallel()
	srv, _, _ := serverUnderTest(true)
	if rec := do(t, srv, http.MethodGet, "/kill-switch", ""); rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET /kill-switch = %d, want 405", rec.Code)
	}
	if rec := do(t, srv, http.MethodPost, "/markets", ""); rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("POST /markets = %d, want 405", rec.Code)
	}
}

func TestPositionsEndpoint(t *testing.T) {
	t.Parallel()
	srv, _, _ := serverUnderTest(true)
	rec := do(t, srv, http.MethodGet, "/positions", "")
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("content-type = %q, want application/json", ct)
	}
}
