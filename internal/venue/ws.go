package venue

import (
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// ═══════════════════════════════════════════════════════════════════════════════
// RECONNECTING WEBSOCKET - Shared stream transport for both venues
// ═══════════════════════════════════════════════════════════════════════════════
//
// Reconnect schedule: 1s initial, x2, 30s cap, 10% jitter.
// Heartbeat every 30s; a missed pong within 10s forces a reconnect.
// On reconnect the owner resubscribes and marks cached books stale.
//
// ═══════════════════════════════════════════════════════════════════════════════

const (
	wsHeartbeatInterval = 30 * time.Second
	wsPongTimeout       = 10 * time.Second
)

// WSConn is a self-healing websocket connection. Message handling and
// resubscription are delegated to callbacks so both venue clients share
// the transport.
type WSConn struct {
	mu        sync.RWMutex
	url       string
	conn      *websocket.Conn
	connected bool
	running   bool
	stopCh    chan struct{}

	onMessage   func(data []byte)
	onReconnect func()
	onState     func(connected bool)
}

// NewWSConn creates a websocket transport for url.
func NewWSConn(url string, onMessage func([]byte), onReconnect func(), onState func(bool)) *WSConn {
	return &WSConn{
		url:         url,
		stopCh:      make(chan struct{}),
		onMessage:   onMessage,
		onReconnect: onReconnect,
		onState:     onState,
	}
}

// Start launches the connection loop.
func (w *WSConn) Start() {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return
	}
	w.running = true
	w.mu.Unlock()

	go w.connectionLoop()
}

// Stop closes the connection and halts reconnects.
func (w *WSConn) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.running {
		return
	}
	w.running = false
	close(w.stopCh)

	if w.conn != nil {
		w.conn.Close()
	}
}

// IsConnected reports stream liveness.
func (w *WSConn) IsConnected() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.connected
}

// WriteJSON sends a JSON frame, or drops it when disconnected.
func (w *WSConn) WriteJSON(v interface{}) error {
	w.mu.RLock()
	conn := w.conn
	w.mu.RUnlock()

	if conn == nil {
		return nil
	}
	return conn.WriteJSON(v)
}

func newReconnectBackoff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Second
	b.Multiplier = 2
	b.MaxInterval = 30 * time.Second
	b.RandomizationFactor = 0.1
	b.MaxElapsedTime = 0 // retry forever
	b.Reset()
	return b
}

// connectionLoop maintains the connection until Stop.
func (w *WSConn) connectionLoop() {
	bo := newReconnectBackoff()
	first := true

	for {
		select {
		case <-w.stopCh:
			return
		default:
		}

		if err := w.connect(); err != nil {
			wait := bo.NextBackOff()
			log.Warn().Err(err).Str("url", w.url).Dur("retry_in", wait).Msg("WebSocket dial failed")
			select {
			case <-w.stopCh:
				return
			case <-time.After(wait):
			}
			continue
		}

		bo.Reset()
		if !first && w.onReconnect != nil {
			w.onReconnect()
		}
		first = false

		w.readLoop()

		w.setConnected(false)
		select {
		case <-w.stopCh:
			return
		case <-time.After(bo.NextBackOff()):
		}
	}
}

func (w *WSConn) connect() error {
	conn, _, err := websocket.DefaultDialer.Dial(w.url, nil)
	if err != nil {
		return err
	}

	conn.SetReadDeadline(time.Now().Add(wsHeartbeatInterval + wsPongTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsHeartbeatInterval + wsPongTimeout))
	})

	w.mu.Lock()
	w.conn = conn
	w.mu.Unlock()
	w.setConnected(true)

	go w.pingLoop(conn)

	log.Info().Str("url", w.url).Msg("🔌 WebSocket connected")
	return nil
}

func (w *WSConn) setConnected(connected bool) {
	w.mu.Lock()
	changed := w.connected != connected
	w.connected = connected
	w.mu.Unlock()

	if changed && w.onState != nil {
		w.onState(connected)
	}
}

func (w *WSConn) pingLoop(conn *websocket.Conn) {
	ticker := time.NewTicker(wsHeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.mu.RLock()
			current := w.conn
			w.mu.RUnlock()
			if current != conn {
				return
			}
			deadline := time.Now().Add(wsPongTimeout)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				conn.Close()
				return
			}
		}
	}
}

func (w *WSConn) readLoop() {
	for {
		select {
		case <-w.stopCh:
			return
		default:
		}

		w.mu.RLock()
		conn := w.conn
		w.mu.RUnlock()
		if conn == nil {
			return
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			log.Warn().Err(err).Str("url", w.url).Msg("WebSocket read error")
			conn.Close()
			return
		}

		if w.onMessage != nil {
			w.onMessage(message)
		}
	}
}
