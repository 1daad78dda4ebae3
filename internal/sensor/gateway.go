// Package sensor reads and interprets hub entity state as HVAC control
// conditions, per spec §4.2. It is grounded on the teacher's Monitor
// component (services/mape/internal/monitor), generalized from a
// Kafka-reading-ingest loop to a hub-entity reader since this controller's
// sole transport is the hub WebSocket.
package sensor

import (
	"context"
	"strconv"
	"strings"
	"time"

	"nrgchamp/hvac-controller/internal/core"
	"nrgchamp/hvac-controller/internal/hub"
	"nrgchamp/hvac-controller/internal/hvacerr"
)

// entityStateReader is the subset of *hub.Client the Gateway depends on,
// narrowed for testability.
type entityStateReader interface {
	GetEntityState(ctx context.Context, entityID string) (*hub.EntityState, error)
}

// Gateway reads numeric temperatures from hub entities and extracts
// condition deltas from state_changed events on the configured indoor
// sensor.
type Gateway struct {
	client       entityStateReader
	indoorSensor string
}

// New creates a Gateway reading through client, watching indoorSensor for
// deltas.
func New(client entityStateReader, indoorSensor string) *Gateway {
	return &Gateway{client: client, indoorSensor: indoorSensor}
}

// ReadTemperature returns the numeric temperature in °C for entityID, or a
// classified hvacerr.SensorNotFound / SensorFormatInvalid /
// TransportFailed error.
func (g *Gateway) ReadTemperature(ctx context.Context, entityID string) (float64, error) {
	state, err := g.client.GetEntityState(ctx, entityID)
	if err != nil {
		return 0, hvacerr.Wrap(hvacerr.TransportFailed, "reading entity "+entityID, err)
	}
	if state == nil {
		return 0, hvacerr.New(hvacerr.SensorNotFound, "entity not found: "+entityID)
	}
	return ParseTemperature(state.State)
}

// ParseTemperature strictly parses a hub state string as a float,
// rejecting trailing garbage (e.g. "21.5 C", "unavailable").
func ParseTemperature(raw string) (float64, error) {
	trimmed := strings.TrimSpace(raw)
	v, err := strconv.ParseFloat(trimmed, 64)
	if err != nil {
		return 0, hvacerr.Wrap(hvacerr.SensorFormatInvalid, "parsing temperature "+strconv.Quote(trimmed), err)
	}
	return v, nil
}

// ExtractDelta yields a ConditionsDelta from a state_changed event if it
// concerns the configured indoor sensor and its new state parses as a
// float; all other events are ignored (ok=false).
func (g *Gateway) ExtractDelta(ev hub.StateChangedEvent, now time.Time) (core.ConditionsDelta, bool) {
	if ev.EntityID != g.indoorSensor || ev.NewState == nil {
		return core.ConditionsDelta{}, false
	}
	temp, err := ParseTemperature(ev.NewState.State)
	if err != nil {
		return core.ConditionsDelta{}, false
	}
	hour, isWeekday := core.Now(now)
	return core.ConditionsDelta{IndoorC: temp, Hour: hour, IsWeekday: isWeekday}, true
}
