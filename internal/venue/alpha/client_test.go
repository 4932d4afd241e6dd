package alpha

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/oddslab/crossarb/internal/venue"
)

func d(f float64) decimal.Decimal { return decimal.NewFromFloat(f) }

func testClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c, err := NewClient(Config{APIURL: srv.URL, WSURL: "ws://127.0.0.1:0"})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return c
}

func bookFrame(market string, seq uint64) *wsMessage {
	return &wsMessage{
		EventType: "book",
		wireBook: wireBook{
			MarketID: market,
			Seq:      seq,
			YesBids:  []wireLevel{{"0.55", "100"}},
			YesAsks:  []wireLevel{{"0.57", "150"}},
		},
	}
}

func recvEvent(t *testing.T, c *Client) venue.Event {
	t.Helper()
	select {
	case ev := <-c.Events():
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("no stream event")
	}
	return venue.Event{}
}

func wantNoEvent(t *testing.T, c *Client) {
	t.Helper()
	select {
	case ev := <-c.Events():
		t.Fatalf("unexpected event %s", ev.Type)
	default:
	}
}

func TestHandleBookOrdering(t *testing.T) {
	t.Parallel()
	c := testClient(t, http.NotFoundHandler())

	c.handleBook(bookFrame("m1", 1))
	ev := recvEvent(t, c)
	if ev.Type != venue.EventBook || ev.Book.Book.Seq != 1 {
		t.Fatalf("event = %+v, want book seq 1", ev)
	}

	c.handleBook(bookFrame("m1", 2))
	recvEvent(t, c)

	// Duplicate and stale frames are dropped.
	c.handleBook(bookFrame("m1", 2))
	wantNoEvent(t, c)
	c.handleBook(bookFrame("m1", 1))
	wantNoEvent(t, c)

	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.lastSeq["m1"] != 2 {
		t.Errorf("lastSeq = %d, want 2", c.lastSeq["m1"])
	}
}

func TestHandleBookGapResyncs(t *testing.T) {
	t.Parallel()
	mux := http.NewServeMux()
	mux.HandleFunc("/book", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("market") != "m1" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte(`{"market":"m1","seq":10,"yes_bids":[["0.55","100"]],"yes_asks":[["0.57","150"]],"timestamp":1700000000000}`))
	})
	c := testClient(t, mux)

	c.mu.Lock()
	c.lastSeq["m1"] = 5
	c.mu.Unlock()

	// Seq 8 on top of 5 is a gap: no delta event, a snapshot refetch.
	c.handleBook(bookFrame("m1", 8))

	ev := recvEvent(t, c)
	if ev.Type != venue.EventBook {
		t.Fatalf("event = %s, want book", ev.Type)
	}
	if !ev.Book.Snapshot || ev.Book.Book.Seq != 10 {
		t.Errorf("resync book = %+v, want snapshot seq 10", ev.Book)
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.lastSeq["m1"] != 10 || c.stale["m1"] {
		t.Errorf("cursor = %d stale = %v, want 10/false", c.lastSeq["m1"], c.stale["m1"])
	}
}

func TestResubscribeInvalidatesCursors(t *testing.T) {
	t.Parallel()
	c := testClient(t, http.NotFoundHandler())
	if err := c.SubscribeBooks("m1"); err != nil {
		t.Fatalf("SubscribeBooks: %v", err)
	}
	c.mu.Lock()
	c.lastSeq["m1"] = 7
	c.mu.Unlock()

	c.resubscribe()

	c.mu.RLock()
	if _, ok := c.lastSeq["m1"]; ok {
		t.Error("sequence cursor survived resubscribe")
	}
	if !c.stale["m1"] {
		t.Error("book not marked stale after resubscribe")
	}
	c.mu.RUnlock()

	// The snapshot refetch fails against the 404 server and surfaces as
	// a stream error.
	if ev := recvEvent(t, c); ev.Type != venue.EventError {
		t.Errorf("event = %s, want error", ev.Type)
	}
}

func TestGetOrderBookResetsCursor(t *testing.T) {
	t.Parallel()
	mux := http.NewServeMux()
	mux.HandleFunc("/book", func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"market":"m1","seq":42,"yes_bids":[["0.55","100"],["0.54","0"]],"yes_asks":[["0.57","150"]],"timestamp":1700000000000}`))
	})
	c := testClient(t, mux)
	c.mu.Lock()
	c.stale["m1"] = true
	c.mu.Unlock()

	book, err := c.GetOrderBook(context.Background(), "m1")
	if err != nil {
		t.Fatalf("GetOrderBook: %v", err)
	}
	if book.Seq != 42 {
		t.Errorf("seq = %d, want 42", book.Seq)
	}
	// Zero-size levels are dropped on parse.
	if len(book.Yes.Bids) != 1 || !book.Yes.Bids[0].Price.Equal(d(0.55)) {
		t.Errorf("yes bids = %+v, want single 0.55 level", book.Yes.Bids)
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.lastSeq["m1"] != 42 || c.stale["m1"] {
		t.Errorf("cursor = %d stale = %v, want 42/false", c.lastSeq["m1"], c.stale["m1"])
	}
}
