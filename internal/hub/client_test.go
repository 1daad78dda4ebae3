package hub

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"nrgchamp/hvac-controller/internal/hvacerr"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeHubConfig scripts how the in-process fake hub peer responds to the
// handshake and to get_states/call_service requests.
type fakeHubConfig struct {
	validToken      string
	rejectAuth      bool
	silent          bool
	getStatesResult []EntityState
	serviceFails    bool
}

func boolPtr(v bool) *bool { return &v }

func resultOK(id int, result json.RawMessage) inboundMessage {
	return inboundMessage{ID: id, Type: "result", Success: boolPtr(true), Result: result}
}

// fakeHubHandler upgrades the request to a WebSocket and speaks just enough
// of the hub wire protocol (spec §4.1) to drive Client through a real
// handshake and request/response cycle: auth_required/auth/auth_ok, then
// scripted replies to subscribe_events/get_states/call_service. If connCh is
// non-nil, the accepted connection is handed to the caller so a test can
// push unsolicited "event" messages on it.
func fakeHubHandler(t *testing.T, cfg fakeHubConfig, connCh chan<- *websocket.Conn) http.HandlerFunc {
	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Logf("fake hub: upgrade failed: %v", err)
			return
		}
		defer conn.Close()

		if err := conn.WriteJSON(inboundMessage{Type: "auth_required"}); err != nil {
			return
		}
		var auth authMessage
		if err := conn.ReadJSON(&auth); err != nil {
			return
		}
		if cfg.rejectAuth || auth.AccessToken != cfg.validToken {
			conn.WriteJSON(inboundMessage{Type: "auth_invalid", Message: "invalid token"})
			return
		}
		if err := conn.WriteJSON(inboundMessage{Type: "auth_ok"}); err != nil {
			return
		}

		if connCh != nil {
			connCh <- conn
		}

		for {
			var req map[string]any
			if err := conn.ReadJSON(&req); err != nil {
				return
			}
			if cfg.silent {
				continue
			}
			idf, _ := req["id"].(float64)
			id := int(idf)
			switch req["type"] {
			case "subscribe_events":
				conn.WriteJSON(resultOK(id, nil))
			case "get_states":
				result, _ := json.Marshal(cfg.getStatesResult)
				conn.WriteJSON(resultOK(id, result))
			case "call_service":
				if cfg.serviceFails {
					conn.WriteJSON(inboundMessage{ID: id, Type: "result", Success: boolPtr(false),
						Error: &wireError{Code: "unknown_service", Message: "boom"}})
				} else {
					conn.WriteJSON(resultOK(id, nil))
				}
			}
		}
	}
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestConnectPerformsAuthHandshakeAndSubscribes(t *testing.T) {
	srv := httptest.NewServer(fakeHubHandler(t, fakeHubConfig{validToken: "secret"}, nil))
	defer srv.Close()

	client := New(wsURL(srv), "secret", testLogger())
	defer client.Disconnect()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := client.Connect(ctx); err != nil {
		t.Fatalf("unexpected connect error: %v", err)
	}
	if !client.IsConnected() {
		t.Fatalf("expected client to report connected")
	}
}

func TestConnectAuthInvalidIsFatalAndNotRetried(t *testing.T) {
	srv := httptest.NewServer(fakeHubHandler(t, fakeHubConfig{rejectAuth: true}, nil))
	defer srv.Close()

	client := New(wsURL(srv), "wrong-token", testLogger())
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err := client.Connect(ctx)
	if err == nil {
		t.Fatalf("expected auth_invalid error")
	}
	if !hvacerr.Is(err, hvacerr.AuthInvalid) {
		t.Fatalf("expected AuthInvalid kind, got %v", err)
	}
	if client.IsConnected() {
		t.Fatalf("client should not be connected after auth_invalid")
	}
}

func TestGetEntityStateFindsMatchingEntity(t *testing.T) {
	cfg := fakeHubConfig{
		validToken:      "secret",
		getStatesResult: []EntityState{{EntityID: "sensor.outdoor", State: "4.0"}, {EntityID: "sensor.indoor", State: "21.5"}},
	}
	srv := httptest.NewServer(fakeHubHandler(t, cfg, nil))
	defer srv.Close()

	client := New(wsURL(srv), "secret", testLogger())
	defer client.Disconnect()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}

	state, err := client.GetEntityState(ctx, "sensor.indoor")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if state == nil || state.State != "21.5" {
		t.Fatalf("expected matching entity state, got %+v", state)
	}
}

func TestGetEntityStateReturnsNilWhenAbsent(t *testing.T) {
	srv := httptest.NewServer(fakeHubHandler(t, fakeHubConfig{validToken: "secret"}, nil))
	defer srv.Close()

	client := New(wsURL(srv), "secret", testLogger())
	defer client.Disconnect()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}

	state, err := client.GetEntityState(ctx, "sensor.missing")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if state != nil {
		t.Fatalf("expected nil state for unknown entity, got %+v", state)
	}
}

func TestCallServiceFailurePropagatesServiceCallFailed(t *testing.T) {
	srv := httptest.NewServer(fakeHubHandler(t, fakeHubConfig{validToken: "secret", serviceFails: true}, nil))
	defer srv.Close()

	client := New(wsURL(srv), "secret", testLogger())
	defer client.Disconnect()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}

	err := client.CallService(ctx, "climate", "set_hvac_mode", map[string]any{"entity_id": "climate.living_room"})
	if err == nil {
		t.Fatalf("expected service call failure")
	}
	if !hvacerr.Is(err, hvacerr.ServiceCallFailed) {
		t.Fatalf("expected ServiceCallFailed kind, got %v", err)
	}
}

func TestSubscribeStateChangedDispatchesEvent(t *testing.T) {
	connCh := make(chan *websocket.Conn, 1)
	srv := httptest.NewServer(fakeHubHandler(t, fakeHubConfig{validToken: "secret"}, connCh))
	defer srv.Close()

	client := New(wsURL(srv), "secret", testLogger())
	defer client.Disconnect()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}

	listener := client.SubscribeStateChanged()

	var conn *websocket.Conn
	select {
	case conn = <-connCh:
	case <-time.After(time.Second):
		t.Fatalf("fake hub never accepted a connection")
	}

	payload := `{"entity_id":"sensor.indoor","new_state":{"entity_id":"sensor.indoor","state":"22.0"}}`
	if err := conn.WriteJSON(inboundMessage{
		Type:  "event",
		Event: &eventEnvelope{EventType: "state_changed", Data: json.RawMessage(payload)},
	}); err != nil {
		t.Fatalf("pushing event: %v", err)
	}

	select {
	case ev := <-listener:
		if ev.EntityID != "sensor.indoor" || ev.NewState == nil || ev.NewState.State != "22.0" {
			t.Fatalf("unexpected event: %+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("listener never received dispatched event")
	}
}

func TestRequestTimeoutSurfacesOnContextCancellation(t *testing.T) {
	srv := httptest.NewServer(fakeHubHandler(t, fakeHubConfig{validToken: "secret", silent: true}, nil))
	defer srv.Close()

	client := New(wsURL(srv), "secret", testLogger())
	defer client.Disconnect()
	connectCtx, connectCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer connectCancel()
	if err := client.Connect(connectCtx); err != nil {
		t.Fatalf("connect: %v", err)
	}

	shortCtx, shortCancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer shortCancel()

	_, err := client.GetEntityState(shortCtx, "sensor.indoor")
	if err == nil {
		t.Fatalf("expected a timeout error")
	}
	if !hvacerr.Is(err, hvacerr.RequestTimeout) {
		t.Fatalf("expected RequestTimeout kind, got %v", err)
	}
}

func TestDisconnectFailsPendingRequests(t *testing.T) {
	srv := httptest.NewServer(fakeHubHandler(t, fakeHubConfig{validToken: "secret", silent: true}, nil))
	defer srv.Close()

	client := New(wsURL(srv), "secret", testLogger())
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		_, err := client.GetEntityState(context.Background(), "sensor.indoor")
		done <- err
	}()

	time.Sleep(50 * time.Millisecond)
	client.Disconnect()

	select {
	case err := <-done:
		if err == nil {
			t.Fatalf("expected pending request to fail on disconnect")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("pending request never unblocked after disconnect")
	}
	if client.IsConnected() {
		t.Fatalf("expected client to report disconnected")
	}
}
