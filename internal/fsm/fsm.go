// Package fsm drives the HVAC control loop's state machine, per spec §4.3.
// It is grounded on the teacher's epoch-ticker main loop
// (services/aggregator/internal/epoch_runner.go): a time.Ticker paced
// evaluation loop, structured slog logging of each step, and a clean
// ctx.Done shutdown path, generalized here from an aggregation epoch to an
// HVAC transition tick.
package fsm

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"nrgchamp/hvac-controller/internal/config"
	"nrgchamp/hvac-controller/internal/core"
	"nrgchamp/hvac-controller/internal/decision"
	"nrgchamp/hvac-controller/internal/hvacerr"
	"nrgchamp/hvac-controller/internal/metrics"
)

// TickInterval is the period between automatic Decision Engine evaluations
// (spec §4.3's "a periodic tick runs every 5 seconds").
const TickInterval = 5 * time.Second

// ServiceCaller is the subset of *hub.Client the FSM needs to drive entry
// side effects.
type ServiceCaller interface {
	CallService(ctx context.Context, domain, service string, data map[string]any) error
}

// transitions enumerates every (from, event) pair the machine accepts, per
// spec §4.3's table. Anything absent is rejected.
var transitions = map[core.State]map[core.Event]core.State{
	core.StateInitial: {
		core.EventInitialize: core.StateIdle,
	},
	core.StateIdle: {
		core.EventStartHeating: core.StateHeating,
		core.EventStartCooling: core.StateCooling,
		core.EventStartDefrost: core.StateDefrost,
		core.EventShutdown:     core.StateStopped,
	},
	core.StateHeating: {
		core.EventStopHeating:  core.StateIdle,
		core.EventStartDefrost: core.StateDefrost,
		core.EventShutdown:     core.StateStopped,
	},
	core.StateCooling: {
		core.EventStopCooling: core.StateIdle,
		core.EventShutdown:    core.StateStopped,
	},
	core.StateDefrost: {
		core.EventCompleteDefrost: core.StateIdle,
		core.EventResumeHeating:   core.StateHeating,
		core.EventShutdown:        core.StateStopped,
	},
}

// FSM is the HVAC control loop's state machine. One instance owns one
// Payload and ticks on its own goroutine; Evaluate and Transition may also
// be called directly (the controller's manual evaluation trigger calls
// Evaluate).
type FSM struct {
	log     *slog.Logger
	client  ServiceCaller
	payload *core.Payload
	metrics *metrics.Metrics

	mu    sync.Mutex
	state core.State
}

// New creates an FSM in the initial state. m may be nil.
func New(log *slog.Logger, client ServiceCaller, payload *core.Payload, m *metrics.Metrics) *FSM {
	return &FSM{log: log, client: client, payload: payload, metrics: m, state: core.StateInitial}
}

// State returns the machine's current state.
func (f *FSM) State() core.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Payload returns the FSM's runtime payload, for the Controller to push
// condition refreshes into.
func (f *FSM) Payload() *core.Payload {
	return f.payload
}

// Run ticks the machine every TickInterval until ctx is cancelled, at which
// point it drives a shutdown transition and stops.
func (f *FSM) Run(ctx context.Context) {
	ticker := time.NewTicker(TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			f.log.Info("fsm shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := f.Transition(shutdownCtx, core.EventShutdown, "shutdown"); err != nil {
				f.log.Warn("fsm shutdown transition rejected", "error", err)
			}
			cancel()
			return
		case <-ticker.C:
			f.Evaluate(ctx)
		}
	}
}

// Evaluate asks the Decision Engine for the next event given the current
// payload snapshot and, if one is returned, attempts the transition. A
// no-op event is ignored; a rejected transition is logged and otherwise
// ignored per spec §7 (FsmTransitionRejected).
func (f *FSM) Evaluate(ctx context.Context) {
	now := time.Now()
	cond := f.payload.Conditions()
	cfg := f.payload.Config
	state := f.State()

	ev := decision.Decide(cond, cfg, state, f.payload.DefrostStarted(), f.payload.LastDefrost(), now)
	if ev == core.EventNone {
		return
	}
	if err := f.Transition(ctx, ev, "timer"); err != nil {
		if hvacerr.Is(err, hvacerr.FsmTransitionRejected) {
			f.log.Warn("fsm transition rejected", "state", state, "event", ev, "error", err)
			return
		}
		f.log.Warn("fsm transition failed", "state", state, "event", ev, "error", err)
	}
}

// Transition attempts to move the machine from its current state via ev.
// It validates the transition table, runs entry side effects, and commits
// only if they all succeed; on partial failure the machine remains in its
// source state (spec §9's uniform partial-failure rule).
func (f *FSM) Transition(ctx context.Context, ev core.Event, triggeredBy string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	to, ok := transitions[f.state][ev]
	if !ok {
		f.metrics.RecordRejection()
		return hvacerr.New(hvacerr.FsmTransitionRejected, "no transition for event "+string(ev)+" from state "+string(f.state))
	}
	from := f.state

	if err := f.runEntrySideEffects(ctx, from, to, ev); err != nil {
		f.metrics.RecordRejection()
		return err
	}

	f.state = to
	f.metrics.RecordTransition(from, to, ev)
	f.log.Info("fsm transition", "from", from, "to", to, "event", ev, "triggered_by", triggeredBy)
	return nil
}

// runEntrySideEffects drives the service calls required on entry to to,
// per spec §4.3. It returns a PartialEntityFailure-classified error if any
// required call to an enabled entity failed, leaving the caller's state
// unmodified.
func (f *FSM) runEntrySideEffects(ctx context.Context, from, to core.State, ev core.Event) error {
	cfg := f.payload.Config

	switch to {
	case core.StateHeating:
		if err := f.commandEntities(ctx, cfg.EnabledEntities(), "heat", cfg.Hvac.Heating.PresetMode, cfg.Hvac.Heating.SetpointC); err != nil {
			return err
		}
	case core.StateCooling:
		if err := f.commandEntities(ctx, cfg.EnabledEntities(), "cool", cfg.Hvac.Cooling.PresetMode, cfg.Hvac.Cooling.SetpointC); err != nil {
			return err
		}
	case core.StateDefrost:
		for _, e := range cfg.DefrostCapableEntities() {
			if err := f.callService(ctx, "set_hvac_mode", map[string]any{"entity_id": e.EntityID, "hvac_mode": "cool"}); err != nil {
				return hvacerr.Wrap(hvacerr.PartialEntityFailure, "defrost entry on "+e.EntityID, err)
			}
		}
		f.payload.StartDefrost(time.Now())
	case core.StateIdle:
		if ev == core.EventStopHeating || ev == core.EventStopCooling || ev == core.EventCompleteDefrost {
			if err := f.setModeOff(ctx, cfg.EnabledEntities()); err != nil {
				return err
			}
		}
		if ev == core.EventCompleteDefrost {
			f.payload.EndDefrost(time.Now())
		}
	case core.StateStopped:
		if err := f.setModeOff(ctx, cfg.EnabledEntities()); err != nil {
			return err
		}
		if from == core.StateDefrost {
			f.payload.EndDefrost(time.Now())
		}
	}

	if ev == core.EventResumeHeating {
		f.payload.EndDefrost(time.Now())
	}

	return nil
}

// commandEntities runs the three-call heating/cooling entry sequence
// (mode, preset, setpoint) on every entity, in order, per spec §4.3. A
// failure on any entity or any call fails the whole entry.
func (f *FSM) commandEntities(ctx context.Context, entities []config.Entity, mode, preset string, setpointC float64) error {
	for _, e := range entities {
		if err := f.callService(ctx, "set_hvac_mode", map[string]any{"entity_id": e.EntityID, "hvac_mode": mode}); err != nil {
			return hvacerr.Wrap(hvacerr.PartialEntityFailure, "set_hvac_mode on "+e.EntityID, err)
		}
		if err := f.callService(ctx, "set_preset_mode", map[string]any{"entity_id": e.EntityID, "preset_mode": preset}); err != nil {
			return hvacerr.Wrap(hvacerr.PartialEntityFailure, "set_preset_mode on "+e.EntityID, err)
		}
		if err := f.callService(ctx, "set_temperature", map[string]any{"entity_id": e.EntityID, "temperature": setpointC}); err != nil {
			return hvacerr.Wrap(hvacerr.PartialEntityFailure, "set_temperature on "+e.EntityID, err)
		}
	}
	return nil
}

func (f *FSM) setModeOff(ctx context.Context, entities []config.Entity) error {
	for _, e := range entities {
		if err := f.callService(ctx, "set_hvac_mode", map[string]any{"entity_id": e.EntityID, "hvac_mode": "off"}); err != nil {
			return hvacerr.Wrap(hvacerr.PartialEntityFailure, "set_hvac_mode off on "+e.EntityID, err)
		}
	}
	return nil
}

// callService invokes a single hub service through the climate domain and
// records the outcome.
func (f *FSM) callService(ctx context.Context, service string, data map[string]any) error {
	err := f.client.CallService(ctx, "climate", service, data)
	f.metrics.RecordServiceCall(service, err == nil)
	return err
}
