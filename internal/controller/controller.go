// Package controller wires the hub client, sensor gateway, decision engine
// and FSM into the running control loop, per spec §4.5. It is grounded on
// services/mape/internal/mape/engine.go's Engine/Stats pairing: a small
// coordinator owning the other components, exposing a plain status record
// instead of a rich API.
package controller

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"nrgchamp/hvac-controller/internal/config"
	"nrgchamp/hvac-controller/internal/core"
	"nrgchamp/hvac-controller/internal/fsm"
	"nrgchamp/hvac-controller/internal/hub"
	"nrgchamp/hvac-controller/internal/hvacerr"
	"nrgchamp/hvac-controller/internal/metrics"
	"nrgchamp/hvac-controller/internal/sensor"
)

// HubClient is the subset of *hub.Client the Controller depends on. Run
// is the only connect entry point: it owns dialing, the auth handshake
// and reconnects internally, so Controller never calls Connect itself.
type HubClient interface {
	Run(ctx context.Context) error
	SubscribeStateChanged() hub.Listener
	GetEntityState(ctx context.Context, entityID string) (*hub.EntityState, error)
	CallService(ctx context.Context, domain, service string, data map[string]any) error
	IsConnected() bool
	Disconnect()
}

// Status is the plain record exposed by the CLI's status query and the
// diagnostics HTTP endpoint.
type Status struct {
	FsmState      core.State `json:"fsm_state"`
	Connected     bool       `json:"connected"`
	EntityCount   int        `json:"entity_count"`
	ConfigSensor  string     `json:"configured_sensor"`
	OutdoorSensor string     `json:"outdoor_sensor"`
}

// Controller owns configuration and wires the hub client, sensor gateway
// and FSM into the running control loop.
type Controller struct {
	cfg     *config.Configuration
	log     *slog.Logger
	client  HubClient
	gateway *sensor.Gateway
	fsm     *fsm.FSM
	metrics *metrics.Metrics
}

// New constructs a Controller. m may be nil.
func New(cfg *config.Configuration, log *slog.Logger, client HubClient, m *metrics.Metrics) *Controller {
	payload := core.NewPayload(cfg)
	gateway := sensor.New(client, cfg.Hvac.TempSensor)
	machine := fsm.New(log, client, payload, m)
	return &Controller{cfg: cfg, log: log, client: client, gateway: gateway, fsm: machine, metrics: m}
}

// Run starts the FSM ticker and the hub client's own connect-with-retry
// loop, and dispatches indoor-sensor state_changed events into the FSM
// payload until ctx is cancelled. The hub client owns its connect and
// reconnect lifecycle entirely (Client.Run calls Connect internally,
// backed by its circuit breaker): Controller never dials the hub itself,
// it only ever starts and observes Client.Run, so there is exactly one
// connect attempt per lifecycle instead of two racing ones.
func (c *Controller) Run(ctx context.Context) error {
	listener := c.client.SubscribeStateChanged()

	var wg sync.WaitGroup
	wg.Add(2)

	clientErr := make(chan error, 1)
	go func() {
		defer wg.Done()
		clientErr <- c.client.Run(ctx)
	}()

	go func() {
		defer wg.Done()
		c.fsm.Run(ctx)
	}()

	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			return ctx.Err()
		case err := <-clientErr:
			if err != nil && !errors.Is(err, context.Canceled) {
				c.log.Error("hub client exited", "error", err)
				return err
			}
		case ev := <-listener:
			c.handleStateChanged(ctx, ev)
		}
	}
}

// handleStateChanged extracts a ConditionsDelta from ev and, if it matches
// the configured indoor sensor, refreshes the FSM payload's conditions with
// a freshly re-queried outdoor temperature, per spec §4.5.
func (c *Controller) handleStateChanged(ctx context.Context, ev hub.StateChangedEvent) {
	delta, ok := c.gateway.ExtractDelta(ev, time.Now())
	if !ok {
		return
	}
	c.refreshConditions(ctx, delta)
}

// refreshConditions folds delta into the current snapshot, re-queries the
// outdoor sensor, and pushes the result into the FSM's payload.
func (c *Controller) refreshConditions(ctx context.Context, delta core.ConditionsDelta) {
	payload := c.fsm.Payload()
	cond := payload.Conditions().Apply(delta)

	outdoor, err := c.gateway.ReadTemperature(ctx, c.cfg.Hvac.OutdoorSensor)
	if err != nil {
		c.log.Warn("outdoor sensor read failed", "error", err, "sensor", c.cfg.Hvac.OutdoorSensor)
		cond = cond.WithOutdoor(nil)
	} else {
		cond = cond.WithOutdoor(&outdoor)
	}

	payload.SetConditions(cond)
}

// TriggerEvaluation forces an immediate conditions refresh and FSM
// evaluation, independent of the indoor sensor's event stream or the
// periodic tick.
func (c *Controller) TriggerEvaluation(ctx context.Context) error {
	indoor, err := c.gateway.ReadTemperature(ctx, c.cfg.Hvac.TempSensor)
	if err != nil {
		return hvacerr.Wrap(hvacerr.SensorNotFound, "manual evaluation trigger", err)
	}
	hour, isWeekday := core.Now(time.Now())
	c.refreshConditions(ctx, core.ConditionsDelta{IndoorC: indoor, Hour: hour, IsWeekday: isWeekday})
	c.fsm.Evaluate(ctx)
	return nil
}

// Status returns the current control loop status as a plain record.
func (c *Controller) Status() Status {
	return Status{
		FsmState:      c.fsm.State(),
		Connected:     c.client.IsConnected(),
		EntityCount:   len(c.cfg.EnabledEntities()),
		ConfigSensor:  c.cfg.Hvac.TempSensor,
		OutdoorSensor: c.cfg.Hvac.OutdoorSensor,
	}
}
