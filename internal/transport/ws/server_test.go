package ws

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"idleforge/internal/protocol"
)

func TestHubBroadcastReachesObserver(t *testing.T) {
	hub := NewHub(nil)
	srv := httptest.NewServer(NewServer(hub, nil).Handler())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// Attach is racy with respect to the HTTP handler; wait for it.
	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("observer never attached")
		}
		time.Sleep(5 * time.Millisecond)
	}

	hub.Broadcast(protocol.EventMsg{
		Type:            protocol.TypeEvent,
		ProtocolVersion: protocol.Version,
		Kind:            "resource_changed",
		ResourceID:      "gold",
		Delta:           5,
		Amount:          105,
	})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var ev protocol.EventMsg
	if err := json.Unmarshal(raw, &ev); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if ev.Kind != "resource_changed" || ev.ResourceID != "gold" || ev.Amount != 105 {
		t.Fatalf("unexpected event: %+v", ev)
	}
}

func TestHubDetachOnDisconnect(t *testing.T) {
	hub := NewHub(nil)
	srv := httptest.NewServer(NewServer(hub, nil).Handler())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("observer never attached")
		}
		time.Sleep(5 * time.Millisecond)
	}

	conn.Close()
	deadline = time.Now().Add(2 * time.Second)
	for hub.ClientCount() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("observer never detached")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestBroadcastWithoutObserversIsNoop(t *testing.T) {
	hub := NewHub(nil)
	hub.Broadcast(protocol.EventMsg{Type: protocol.TypeEvent, Kind: "building_maxed"})
	if hub.ClientCount() != 0 {
		t.Fatalf("phantom observer")
	}
}
