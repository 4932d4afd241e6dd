package health

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/oddslab/crossarb/internal/clock"
	"github.com/oddslab/crossarb/internal/types"
	"github.com/oddslab/crossarb/internal/venue"
)

// ═══════════════════════════════════════════════════════════════════════════════
// HEALTH MONITOR - Periodic component checks, worst-of overall status
// ═══════════════════════════════════════════════════════════════════════════════

const (
	// DefaultCheckInterval is how often the monitor runs all checks.
	DefaultCheckInterval = 30 * time.Second
	// DefaultLagThreshold flags a stalled scheduler.
	DefaultLagThreshold = 500 * time.Millisecond
	// DefaultMaxHeapMB flags runaway memory.
	DefaultMaxHeapMB = 1024
)

// CheckResult is the outcome of one health check.
type CheckResult struct {
	Name      string `json:"name"`
	Healthy   bool   `json:"healthy"`
	LatencyMs int64  `json:"latencyMs"`
	Message   string `json:"message,omitempty"`
}

// Check is one named probe.
type Check struct {
	Name string
	Run  func(ctx context.Context) CheckResult
}

// PingCheck wraps any reachability probe (database, venue REST) into a
// latency-measuring check.
func PingCheck(name string, ping func(ctx context.Context) error) Check {
	return Check{Name: name, Run: func(ctx context.Context) CheckResult {
		start := time.Now()
		err := ping(ctx)
		res := CheckResult{
			Name:      name,
			Healthy:   err == nil,
			LatencyMs: time.Since(start).Milliseconds(),
		}
		if err != nil {
			res.Message = err.Error()
		}
		return res
	}}
}

// VenueCheck reports a venue client's connection state.
func VenueCheck(client venue.Client) Check {
	name := "venue:" + string(client.Platform())
	return Check{Name: name, Run: func(ctx context.Context) CheckResult {
		if !client.IsConnected() {
			return CheckResult{Name: name, Message: "disconnected"}
		}
		return CheckResult{Name: name, Healthy: true}
	}}
}

// LoopLagCheck measures scheduler responsiveness: how much later than
// requested a short timer fires.
func LoopLagCheck(threshold time.Duration) Check {
	if threshold <= 0 {
		threshold = DefaultLagThreshold
	}
	const probe = 10 * time.Millisecond
	return Check{Name: "loop-lag", Run: func(ctx context.Context) CheckResult {
		start := time.Now()
		timer := time.NewTimer(probe)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return CheckResult{Name: "loop-lag", Message: ctx.Err().Error()}
		}
		lag := time.Since(start) - probe
		if lag < 0 {
			lag = 0
		}
		res := CheckResult{Name: "loop-lag", Healthy: lag < threshold, LatencyMs: lag.Milliseconds()}
		if !res.Healthy {
			res.Message = fmt.Sprintf("scheduler lag %s over threshold %s", lag, threshold)
		}
		return res
	}}
}

// MemoryCheck flags heap use above maxHeapMB.
func MemoryCheck(maxHeapMB uint64) Check {
	if maxHeapMB == 0 {
		maxHeapMB = DefaultMaxHeapMB
	}
	return Check{Name: "memory", Run: func(context.Context) CheckResult {
		var ms runtime.MemStats
		runtime.ReadMemStats(&ms)
		heapMB := ms.HeapAlloc / (1 << 20)
		res := CheckResult{Name: "memory", Healthy: heapMB < maxHeapMB}
		if !res.Healthy {
			res.Message = fmt.Sprintf("heap %dMB over limit %dMB", heapMB, maxHeapMB)
		}
		return res
	}}
}

// BalanceCheck flags an account balance below the minimum needed to
// keep trading.
func BalanceCheck(platform types.Platform, min decimal.Decimal, balance func(ctx context.Context, platform types.Platform) (types.Balance, error)) Check {
	name := "balance:" + string(platform)
	return Check{Name: name, Run: func(ctx context.Context) CheckResult {
		start := time.Now()
		bal, err := balance(ctx, platform)
		res := CheckResult{Name: name, LatencyMs: time.Since(start).Milliseconds()}
		if err != nil {
			res.Message = err.Error()
			return res
		}
		res.Healthy = bal.Available.GreaterThanOrEqual(min)
		if !res.Healthy {
			res.Message = fmt.Sprintf("available %s below minimum %s", bal.Available.StringFixed(2), min.StringFixed(2))
		}
		return res
	}}
}

// Status is the aggregate view served over the admin API.
type Status struct {
	Healthy   bool          `json:"healthy"`
	CheckedAt time.Time     `json:"checkedAt"`
	Checks    []CheckResult `json:"checks"`
}

// Monitor runs the registered checks on an interval and keeps the last
// results for the admin surface.
type Monitor struct {
	checks   []Check
	interval time.Duration
	clk      clock.Clock

	mu   sync.RWMutex
	last Status

	onChange func(Status)

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithInterval overrides the check cadence.
func WithInterval(d time.Duration) Option {
	return func(m *Monitor) { m.interval = d }
}

// WithOnChange registers a callback fired when overall health flips.
func WithOnChange(fn func(Status)) Option {
	return func(m *Monitor) { m.onChange = fn }
}

// NewMonitor creates a monitor over the given checks.
func NewMonitor(clk clock.Clock, checks []Check, opts ...Option) *Monitor {
	m := &Monitor{
		checks:   checks,
		interval: DefaultCheckInterval,
		clk:      clk,
		stopCh:   make(chan struct{}),
	}
	m.last = Status{Healthy: true, CheckedAt: clk.Now()}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// RunChecks executes every check once and updates the stored status.
// Overall health is the worst of the constituents.
func (m *Monitor) RunChecks(ctx context.Context) Status {
	results := make([]CheckResult, 0, len(m.checks))
	healthy := true
	for _, c := range m.checks {
		res := c.Run(ctx)
		if !res.Healthy {
			healthy = false
			log.Warn().Str("check", res.Name).Str("message", res.Message).Msg("🛡️ Health check failed")
		}
		results = append(results, res)
	}
	status := Status{Healthy: healthy, CheckedAt: m.clk.Now(), Checks: results}

	m.mu.Lock()
	flipped := m.last.Healthy != status.Healthy
	m.last = status
	m.mu.Unlock()

	if flipped && m.onChange != nil {
		m.onChange(status)
	}
	return status
}

// Status returns the last recorded results.
func (m *Monitor) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.last
}

// Start runs checks on the interval until Stop.
func (m *Monitor) Start(ctx context.Context) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		for {
			select {
			case <-m.stopCh:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.RunChecks(ctx)
			}
		}
	}()
	log.Info().Int("checks", len(m.checks)).Dur("interval", m.interval).Msg("🛡️ Health monitor started")
}

// Stop halts the periodic loop.
func (m *Monitor) Stop() {
	close(m.stopCh)
	m.wg.Wait()
}
