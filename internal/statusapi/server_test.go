package statusapi

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"nrgchamp/hvac-controller/internal/config"
	"nrgchamp/hvac-controller/internal/controller"
	"nrgchamp/hvac-controller/internal/hub"
)

type fakeHub struct {
	states map[string]string
}

func (f *fakeHub) Connect(ctx context.Context) error { return nil }
func (f *fakeHub) Run(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}
func (f *fakeHub) SubscribeStateChanged() hub.Listener { return make(hub.Listener, 1) }
func (f *fakeHub) GetEntityState(ctx context.Context, entityID string) (*hub.EntityState, error) {
	v, ok := f.states[entityID]
	if !ok {
		return nil, nil
	}
	return &hub.EntityState{EntityID: entityID, State: v}, nil
}
func (f *fakeHub) CallService(ctx context.Context, domain, service string, data map[string]any) error {
	return nil
}
func (f *fakeHub) IsConnected() bool { return true }
func (f *fakeHub) Disconnect()       {}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testController() *controller.Controller {
	cfg := &config.Configuration{
		Hvac: config.HvacOptions{
			TempSensor:    "sensor.indoor",
			OutdoorSensor: "sensor.outdoor",
			SystemMode:    config.ModeAuto,
			Entities:      []config.Entity{{EntityID: "climate.living_room", Enabled: true}},
			ActiveHours:   config.ActiveHours{Start: 0, StartWeekday: 0, EndHour: 23},
		},
	}
	fh := &fakeHub{states: map[string]string{"sensor.indoor": "19.0", "sensor.outdoor": "5.0"}}
	return controller.New(cfg, testLogger(), fh, nil)
}

func TestGetStatusReturnsJSONRecord(t *testing.T) {
	s := New("127.0.0.1:0", testLogger(), testController(), nil)
	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	rec := httptest.NewRecorder()
	s.http.Handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var st controller.Status
	if err := json.Unmarshal(rec.Body.Bytes(), &st); err != nil {
		t.Fatalf("decoding status: %v", err)
	}
	if st.ConfigSensor != "sensor.indoor" {
		t.Fatalf("unexpected configured sensor: %q", st.ConfigSensor)
	}
}

func TestGetHealthzReturnsOK(t *testing.T) {
	s := New("127.0.0.1:0", testLogger(), testController(), nil)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	s.http.Handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestPostEvaluateTriggersAndReturnsOK(t *testing.T) {
	s := New("127.0.0.1:0", testLogger(), testController(), nil)
	req := httptest.NewRequest(http.MethodPost, "/evaluate", nil)
	rec := httptest.NewRecorder()
	s.http.Handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestGetEvaluateIsMethodNotAllowed(t *testing.T) {
	s := New("127.0.0.1:0", testLogger(), testController(), nil)
	req := httptest.NewRequest(http.MethodGet, "/evaluate", nil)
	rec := httptest.NewRecorder()
	s.http.Handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
}
