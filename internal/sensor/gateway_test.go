package sensor

import (
	"context"
	"errors"
	"testing"
	"time"

	"nrgchamp/hvac-controller/internal/hub"
	"nrgchamp/hvac-controller/internal/hvacerr"
)

type fakeReader struct {
	state *hub.EntityState
	err   error
}

func (f *fakeReader) GetEntityState(ctx context.Context, entityID string) (*hub.EntityState, error) {
	return f.state, f.err
}

func TestReadTemperatureParsesState(t *testing.T) {
	r := &fakeReader{state: &hub.EntityState{EntityID: "sensor.outdoor", State: "5.5"}}
	g := New(r, "sensor.indoor")
	v, err := g.ReadTemperature(context.Background(), "sensor.outdoor")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != 5.5 {
		t.Fatalf("expected 5.5, got %v", v)
	}
}

func TestReadTemperatureNotFound(t *testing.T) {
	r := &fakeReader{state: nil}
	g := New(r, "sensor.indoor")
	_, err := g.ReadTemperature(context.Background(), "sensor.missing")
	if !hvacerr.Is(err, hvacerr.SensorNotFound) {
		t.Fatalf("expected sensor_not_found, got %v", err)
	}
}

func TestReadTemperatureFormatInvalid(t *testing.T) {
	r := &fakeReader{state: &hub.EntityState{EntityID: "sensor.outdoor", State: "unavailable"}}
	g := New(r, "sensor.indoor")
	_, err := g.ReadTemperature(context.Background(), "sensor.outdoor")
	if !hvacerr.Is(err, hvacerr.SensorFormatInvalid) {
		t.Fatalf("expected sensor_format_invalid, got %v", err)
	}
}

func TestReadTemperatureTransportFailure(t *testing.T) {
	r := &fakeReader{err: errors.New("connection reset")}
	g := New(r, "sensor.indoor")
	_, err := g.ReadTemperature(context.Background(), "sensor.outdoor")
	if !hvacerr.Is(err, hvacerr.TransportFailed) {
		t.Fatalf("expected transport_failed, got %v", err)
	}
}

func TestExtractDeltaIgnoresOtherEntities(t *testing.T) {
	g := New(&fakeReader{}, "sensor.indoor")
	ev := hub.StateChangedEvent{
		EntityID: "sensor.other",
		NewState: &hub.EntityState{EntityID: "sensor.other", State: "20.0"},
	}
	_, ok := g.ExtractDelta(ev, time.Now())
	if ok {
		t.Fatalf("expected event on unrelated entity to be ignored")
	}
}

func TestExtractDeltaIgnoresUnparsableState(t *testing.T) {
	g := New(&fakeReader{}, "sensor.indoor")
	ev := hub.StateChangedEvent{
		EntityID: "sensor.indoor",
		NewState: &hub.EntityState{EntityID: "sensor.indoor", State: "unavailable"},
	}
	_, ok := g.ExtractDelta(ev, time.Now())
	if ok {
		t.Fatalf("expected unparsable indoor state to be ignored")
	}
}

func TestExtractDeltaProducesDelta(t *testing.T) {
	g := New(&fakeReader{}, "sensor.indoor")
	now := time.Date(2026, 7, 31, 14, 0, 0, 0, time.UTC)
	ev := hub.StateChangedEvent{
		EntityID: "sensor.indoor",
		NewState: &hub.EntityState{EntityID: "sensor.indoor", State: "21.3"},
	}
	delta, ok := g.ExtractDelta(ev, now)
	if !ok {
		t.Fatalf("expected delta to be produced")
	}
	if delta.IndoorC != 21.3 {
		t.Fatalf("expected indoor 21.3, got %v", delta.IndoorC)
	}
	if delta.Hour != 14 {
		t.Fatalf("expected hour 14, got %v", delta.Hour)
	}
	if !delta.IsWeekday {
		t.Fatalf("expected 2026-07-31 (Friday) to be a weekday")
	}
}

func TestExtractDeltaIgnoresNilNewState(t *testing.T) {
	g := New(&fakeReader{}, "sensor.indoor")
	ev := hub.StateChangedEvent{EntityID: "sensor.indoor", NewState: nil}
	_, ok := g.ExtractDelta(ev, time.Now())
	if ok {
		t.Fatalf("expected nil new_state to be ignored")
	}
}
