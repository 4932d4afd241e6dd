package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/oddslab/crossarb/internal/engine"
	"github.com/oddslab/crossarb/internal/health"
	"github.com/oddslab/crossarb/internal/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// ADMIN API - Operator surface over HTTP
// ═══════════════════════════════════════════════════════════════════════════════

// TradingEngine is the engine surface the API exposes.
type TradingEngine interface {
	State() engine.State
	Start(ctx context.Context) error
	Stop() error
	Halted() bool
	TriggerScan()
	Markets() []types.NormalizedMarket
	GetMatchedPairs() []types.MarketPair
}

// OrderView is the order-manager surface the API reads.
type OrderView interface {
	Positions() []types.Position
	Balance(ctx context.Context, platform types.Platform) (types.Balance, error)
}

// Server is the admin HTTP server.
type Server struct {
	engine     TradingEngine
	orders     OrderView
	monitor    *health.Monitor
	killSwitch *health.KillSwitch
	platforms  []types.Platform

	server *http.Server
}

// NewServer wires the admin routes.
func NewServer(addr string, eng TradingEngine, orders OrderView, monitor *health.Monitor, ks *health.KillSwitch, platforms []types.Platform) *Server {
	s := &Server{
		engine:     eng,
		orders:     orders,
		monitor:    monitor,
		killSwitch: ks,
		platforms:  platforms,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/markets", s.handleMarkets)
	mux.HandleFunc("/positions", s.handlePositions)
	mux.HandleFunc("/balances", s.handleBalances)
	mux.HandleFunc("/trading/status", s.handleStatus)
	mux.HandleFunc("/trading/pairs", s.handlePairs)
	mux.HandleFunc("/trading/start", s.handleStart)
	mux.HandleFunc("/trading/stop", s.handleStop)
	mux.HandleFunc("/trading/scan", s.handleScan)
	mux.HandleFunc("/kill-switch", s.handleKillSwitch)
	mux.HandleFunc("/kill-switch/rearm", s.handleRearm)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Start serves until Stop. Blocks; run in a goroutine.
func (s *Server) Start() error {
	log.Info().Str("addr", s.server.Addr).Msg("🔌 Admin API listening")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("admin api: %w", err)
	}
	return nil
}

// Stop drains in-flight requests and shuts down.
func (s *Server) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("Admin response encode failed")
	}
}

func methodGuard(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return false
	}
	return true
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !methodGuard(w, r, http.MethodGet) {
		return
	}
	status := s.monitor.Status()
	code := http.StatusOK
	if !status.Healthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, status)
}

func (s *Server) handleMarkets(w http.ResponseWriter, r *http.Request) {
	if !methodGuard(w, r, http.MethodGet) {
		return
	}
	writeJSON(w, http.StatusOK, s.engine.Markets())
}

func (s *Server) handlePositions(w http.ResponseWriter, r *http.Request) {
	if !methodGuard(w, r, http.MethodGet) {
		return
	}
	writeJSON(w, http.StatusOK, s.orders.Positions())
}

func (s *Server) handleBalances(w http.ResponseWriter, r *http.Request) {
	if !methodGuard(w, r, http.MethodGet) {
		return
	}
	balances := make(map[string]types.Balance, len(s.platforms))
	for _, p := range s.platforms {
		bal, err := s.orders.Balance(r.Context(), p)
		if err != nil {
			log.Warn().Err(err).Str("platform", string(p)).Msg("Balance fetch failed")
			continue
		}
		balances[string(p)] = bal
	}
	writeJSON(w, http.StatusOK, balances)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if !methodGuard(w, r, http.MethodGet) {
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"state":      s.engine.State(),
		"halted":     s.engine.Halted(),
		"killSwitch": s.killSwitch.State(),
	})
}

func (s *Server) handlePairs(w http.ResponseWriter, r *http.Request) {
	if !methodGuard(w, r, http.MethodGet) {
		return
	}
	writeJSON(w, http.StatusOK, s.engine.GetMatchedPairs())
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	if !methodGuard(w, r, http.MethodPost) {
		return
	}
	if s.killSwitch.State().Tripped {
		writeJSON(w, http.StatusConflict, map[string]interface{}{
			"error":      "kill switch tripped, re-arm first",
			"killSwitch": s.killSwitch.State(),
		})
		return
	}
	if err := s.engine.Start(r.Context()); err != nil {
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"state": s.engine.State()})
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if !methodGuard(w, r, http.MethodPost) {
		return
	}
	if err := s.engine.Stop(); err != nil {
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"state": s.engine.State()})
}

func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	if !methodGuard(w, r, http.MethodPost) {
		return
	}
	s.engine.TriggerScan()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "scan triggered"})
}

// handleKillSwitch trips the switch. Idempotent: a second call reports
// the already-latched state.
func (s *Server) handleKillSwitch(w http.ResponseWriter, r *http.Request) {
	if !methodGuard(w, r, http.MethodPost) {
		return
	}
	var body struct {
		Reason string `json:"reason"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)
	if body.Reason == "" {
		body.Reason = "manual trip via admin api"
	}
	changed := s.killSwitch.Trip(r.Context(), health.TriggerManual, body.Reason)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"changed":    changed,
		"killSwitch": s.killSwitch.State(),
	})
}

func (s *Server) handleRearm(w http.ResponseWriter, r *http.Request) {
	if !methodGuard(w, r, http.MethodPost) {
		return
	}
	changed := s.killSwitch.Rearm()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"changed":    changed,
		"killSwitch": s.killSwitch.State(),
	})
}
