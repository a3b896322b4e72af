package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/websocket"

	"github.com/mbd888/podswap/internal/swap"
)

var (
	proposer   = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	withdrawer = common.HexToAddress("0x00000000000000000000000000000000000000b2")
	stranger   = common.HexToAddress("0x00000000000000000000000000000000000000c3")
	swapID     = common.HexToHash("0x1234")
)

func testHub() *Hub {
	return NewHub(slog.Default())
}

func testEvent(typ swap.EventType) *swap.Event {
	return &swap.Event{
		Type:   typ,
		Engine: swap.NameERC20,
		SwapID: swapID,
		Record: &swap.Record{
			ID:         swapID,
			Engine:     swap.NameERC20,
			Class:      swap.ClassERC20,
			Asset:      swap.Asset{Token: common.HexToAddress("0xd04"), Amount: big.NewInt(10)},
			Proposer:   proposer,
			Withdrawer: withdrawer,
			State:      swap.StateOpen,
		},
		Timestamp: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func startHub(t *testing.T) (*Hub, context.CancelFunc) {
	t.Helper()
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	go h.Run(ctx)
	t.Cleanup(cancel)
	return h, cancel
}

func register(t *testing.T, h *Hub, sub Subscription) *Client {
	t.Helper()
	client := &Client{hub: h, send: make(chan []byte, sendBuffer), sub: sub}
	h.register <- client
	return client
}

func TestSubscription_Matches(t *testing.T) {
	created := testEvent(swap.EventCreated)

	tests := []struct {
		name string
		sub  Subscription
		want bool
	}{
		{"all events", Subscription{AllEvents: true}, true},
		{"empty subscription", Subscription{}, true},
		{"matching type", Subscription{EventTypes: []swap.EventType{swap.EventCreated, swap.EventClaimed}}, true},
		{"other type", Subscription{EventTypes: []swap.EventType{swap.EventRefunded}}, false},
		{"proposer party", Subscription{Parties: []common.Address{proposer}}, true},
		{"withdrawer party", Subscription{Parties: []common.Address{withdrawer}}, true},
		{"unrelated party", Subscription{Parties: []common.Address{stranger}}, false},
		{"other engine", Subscription{Engines: []string{swap.NameERC721}}, false},
		{"matching swap id", Subscription{SwapIDs: []common.Hash{swapID}}, true},
		{"type and party must both match", Subscription{
			EventTypes: []swap.EventType{swap.EventCreated},
			Parties:    []common.Address{stranger},
		}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.sub.Matches(created); got != tt.want {
				t.Errorf("Matches = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSubscription_PartyFilterWithoutRecord(t *testing.T) {
	ev := &swap.Event{Type: swap.EventExpired, Engine: swap.NameERC20, SwapID: swapID}
	if (Subscription{Parties: []common.Address{proposer}}).Matches(ev) {
		t.Error("Event without a record has no parties to match")
	}
}

func TestHub_RegisterUnregister(t *testing.T) {
	h, _ := startHub(t)

	client := register(t, h, Subscription{AllEvents: true})
	time.Sleep(50 * time.Millisecond)

	stats := h.Stats()
	if stats.ConnectedClients != 1 {
		t.Errorf("Expected 1 connected client, got %d", stats.ConnectedClients)
	}

	h.unregister <- client
	time.Sleep(50 * time.Millisecond)

	stats = h.Stats()
	if stats.ConnectedClients != 0 {
		t.Errorf("Expected 0 connected clients after unregister, got %d", stats.ConnectedClients)
	}
	if stats.PeakClients != 1 || stats.TotalClients != 1 {
		t.Errorf("Expected peak and total of 1, got %+v", stats)
	}
}

func TestHub_PublishFiltersByParty(t *testing.T) {
	h, _ := startHub(t)

	mine := register(t, h, Subscription{Parties: []common.Address{withdrawer}})
	other := register(t, h, Subscription{Parties: []common.Address{stranger}})

	h.Publish(context.Background(), *testEvent(swap.EventCreated))

	select {
	case msg := <-mine.send:
		var got swap.Event
		if err := json.Unmarshal(msg, &got); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if got.Type != swap.EventCreated || got.SwapID != swapID {
			t.Errorf("Unexpected event %+v", got)
		}
		if got.Record == nil || got.Record.Asset.Amount.Int64() != 10 {
			t.Errorf("Expected swap snapshot in payload, got %+v", got.Record)
		}
	case <-time.After(time.Second):
		t.Fatal("Timeout waiting for event")
	}

	select {
	case <-other.send:
		t.Error("Unrelated party should not receive the event")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestHub_PublishDoesNotBlockWhenFull(t *testing.T) {
	h := testHub() // not running, so nothing drains the queue

	done := make(chan struct{})
	go func() {
		for i := 0; i < sendBuffer+10; i++ {
			h.Publish(context.Background(), *testEvent(swap.EventClaimed))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked on a full queue")
	}
	if dropped := h.Stats().DroppedEvents; dropped != 10 {
		t.Errorf("Expected 10 dropped events, got %d", dropped)
	}
}

func TestHub_ContextCancellation(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		h.Run(ctx)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Error("Hub did not stop after context cancellation")
	}
}

func TestHub_WebSocketSubscription(t *testing.T) {
	h, _ := startHub(t)
	srv := httptest.NewServer(http.HandlerFunc(h.HandleWebSocket))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	sub, _ := json.Marshal(Subscription{EventTypes: []swap.EventType{swap.EventClaimed}})
	if err := conn.WriteMessage(websocket.TextMessage, sub); err != nil {
		t.Fatalf("write subscription: %v", err)
	}
	time.Sleep(100 * time.Millisecond)

	h.Publish(context.Background(), *testEvent(swap.EventCreated))
	h.Publish(context.Background(), *testEvent(swap.EventClaimed))

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var got swap.Event
	if err := json.Unmarshal(msg, &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Type != swap.EventClaimed {
		t.Errorf("Expected only the claimed event, got %s", got.Type)
	}
}

func TestHub_OriginCheck(t *testing.T) {
	tests := []struct {
		name   string
		opts   []Option
		origin string
		want   int
	}{
		{"no origin", nil, "", http.StatusSwitchingProtocols},
		{"foreign origin rejected", nil, "https://evil.example", http.StatusForbidden},
		{"listed origin", []Option{WithOriginCheck(AllowOrigins([]string{"https://app.example"}))}, "https://app.example", http.StatusSwitchingProtocols},
		{"wildcard", []Option{WithOriginCheck(AllowOrigins([]string{"*"}))}, "https://any.example", http.StatusSwitchingProtocols},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHub(slog.Default(), tt.opts...)
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			go h.Run(ctx)

			srv := httptest.NewServer(http.HandlerFunc(h.HandleWebSocket))
			defer srv.Close()

			header := http.Header{}
			if tt.origin != "" {
				header.Set("Origin", tt.origin)
			}
			conn, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), header)
			if conn != nil {
				defer conn.Close()
			}
			if resp == nil {
				t.Fatalf("dial: %v", err)
			}
			if resp.StatusCode != tt.want {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.want)
			}
		})
	}
}

func TestHub_MaxClients(t *testing.T) {
	h := NewHub(slog.Default(), WithMaxClients(0))
	w := httptest.NewRecorder()
	h.HandleWebSocket(w, httptest.NewRequest(http.MethodGet, "/ws", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected 503 at capacity, got %d", w.Code)
	}
}
