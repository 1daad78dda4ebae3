// Package decision implements the HVAC control loop's pure decision
// function: given conditions, configuration, and the current FSM state, it
// returns the next event to apply, or core.EventNone. It is grounded on the
// teacher's Analyze+Plan split (services/mape/internal/analyze,
// services/mape/internal/plan) collapsed into the single pure function
// spec §4.4 calls for — this engine never performs I/O and never mutates
// its inputs.
package decision

import (
	"time"

	"nrgchamp/hvac-controller/internal/config"
	"nrgchamp/hvac-controller/internal/core"
)

// effectiveMode is the resolved mode after applying config.system_mode and,
// in auto mode, the heating/cooling preference logic of spec §4.4 step 4.
type effectiveMode string

const (
	modeHeatOnly effectiveMode = "heat_only"
	modeCoolOnly effectiveMode = "cool_only"
	modeOff      effectiveMode = "off"
)

// Decide returns the next event for the control loop, or core.EventNone if
// no transition should be attempted this tick.
func Decide(cond core.Conditions, cfg *config.Configuration, state core.State, defrostStartedAt, lastDefrost *time.Time, now time.Time) core.Event {
	if state == core.StateInitial {
		return core.EventInitialize
	}
	if state == core.StateStopped {
		return core.EventNone
	}

	hth := cfg.Hvac.Heating.Thresholds
	cth := cfg.Hvac.Cooling.Thresholds
	d := cfg.Hvac.Heating.Defrost

	if state == core.StateDefrost && defrostStartedAt != nil {
		if now.Sub(*defrostStartedAt) >= time.Duration(d.DurationSeconds)*time.Second {
			if operableNow(cond, cfg) && shouldHeat(cond, hth) {
				return core.EventResumeHeating
			}
			return core.EventCompleteDefrost
		}
		// Still within the defrost window: let it run to completion.
		return core.EventNone
	}

	mode := resolveEffectiveMode(cond, cfg, hth, cth)

	switch mode {
	case modeHeatOnly:
		return decideHeatOnly(cond, cfg, state, hth, d, lastDefrost, now)
	case modeCoolOnly:
		return decideCoolOnly(cond, cfg, state, cth)
	default: // modeOff
		return decideOff(state)
	}
}

func decideHeatOnly(cond core.Conditions, cfg *config.Configuration, state core.State, hth config.Thresholds, d config.DefrostParams, lastDefrost *time.Time, now time.Time) core.Event {
	if !operableNow(cond, cfg) {
		switch state {
		case core.StateHeating:
			return core.EventStopHeating
		case core.StateDefrost:
			return core.EventCompleteDefrost
		}
		return core.EventNone
	}
	if state == core.StateHeating && needDefrost(cond, hth, d, lastDefrost, now) {
		return core.EventStartDefrost
	}
	if state == core.StateIdle && shouldHeat(cond, hth) {
		return core.EventStartHeating
	}
	if state == core.StateHeating && !shouldHeat(cond, hth) {
		return core.EventStopHeating
	}
	return core.EventNone
}

func decideCoolOnly(cond core.Conditions, cfg *config.Configuration, state core.State, cth config.Thresholds) core.Event {
	if !operableNow(cond, cfg) && state == core.StateCooling {
		return core.EventStopCooling
	}
	if state == core.StateIdle && shouldCool(cond, cth) {
		return core.EventStartCooling
	}
	if state == core.StateCooling && !shouldCool(cond, cth) {
		return core.EventStopCooling
	}
	return core.EventNone
}

func decideOff(state core.State) core.Event {
	switch state {
	case core.StateHeating:
		return core.EventStopHeating
	case core.StateCooling:
		return core.EventStopCooling
	case core.StateDefrost:
		return core.EventCompleteDefrost
	default:
		return core.EventNone
	}
}

// resolveEffectiveMode implements spec §4.4 step 4.
func resolveEffectiveMode(cond core.Conditions, cfg *config.Configuration, hth, cth config.Thresholds) effectiveMode {
	switch cfg.Hvac.SystemMode {
	case config.ModeHeatOnly:
		return modeHeatOnly
	case config.ModeCoolOnly:
		return modeCoolOnly
	case config.ModeOff:
		return modeOff
	}

	// auto
	if cond.IndoorC == nil || cond.OutdoorC == nil {
		return modeOff
	}
	indoor, outdoor := *cond.IndoorC, *cond.OutdoorC

	if indoor < hth.IndoorMin {
		if inRange(outdoor, hth.OutdoorMin, hth.OutdoorMax) && operableNow(cond, cfg) {
			return modeHeatOnly
		}
		return modeOff
	}
	if indoor > cth.IndoorMax {
		if inRange(outdoor, cth.OutdoorMin, cth.OutdoorMax) && operableNow(cond, cfg) {
			return modeCoolOnly
		}
		return modeOff
	}

	heatOk := inRange(outdoor, hth.OutdoorMin, hth.OutdoorMax) && operableNow(cond, cfg)
	coolOk := inRange(outdoor, cth.OutdoorMin, cth.OutdoorMax) && operableNow(cond, cfg)
	switch {
	case heatOk && coolOk:
		midpoint := (hth.OutdoorMax + cth.OutdoorMin) / 2
		if outdoor <= midpoint {
			return modeHeatOnly
		}
		return modeCoolOnly
	case heatOk:
		return modeHeatOnly
	case coolOk:
		return modeCoolOnly
	default:
		return modeOff
	}
}

// operableNow is the hours-only gate: outdoor bounds belong to the
// mode-specific predicates below, never here (spec §9 design note).
func operableNow(cond core.Conditions, cfg *config.Configuration) bool {
	ah := cfg.Hvac.ActiveHours
	startH := ah.Start
	if cond.IsWeekday {
		startH = ah.StartWeekday
	}
	return cond.Hour >= startH && cond.Hour <= ah.EndHour
}

func shouldHeat(cond core.Conditions, hth config.Thresholds) bool {
	if cond.IndoorC == nil || cond.OutdoorC == nil {
		return false
	}
	return *cond.IndoorC < hth.IndoorMin && inRange(*cond.OutdoorC, hth.OutdoorMin, hth.OutdoorMax)
}

func shouldCool(cond core.Conditions, cth config.Thresholds) bool {
	if cond.IndoorC == nil || cond.OutdoorC == nil {
		return false
	}
	return *cond.IndoorC > cth.IndoorMax && inRange(*cond.OutdoorC, cth.OutdoorMin, cth.OutdoorMax)
}

func needDefrost(cond core.Conditions, hth config.Thresholds, d config.DefrostParams, lastDefrost *time.Time, now time.Time) bool {
	if cond.OutdoorC == nil {
		return false
	}
	if *cond.OutdoorC > d.TemperatureThresholdC {
		return false
	}
	if lastDefrost == nil {
		return true
	}
	return now.Sub(*lastDefrost) >= time.Duration(d.PeriodSeconds)*time.Second
}

func inRange(v, lo, hi float64) bool {
	return v >= lo && v <= hi
}
