// Package config loads and holds the controller's immutable configuration:
// hub connection options and HVAC control parameters, per spec §3 and §6.
// Loading is a pure value-object supplier — it never reaches into the rest
// of the system.
package config

// SystemMode is the configured operating mode of the HVAC control loop.
type SystemMode string

const (
	ModeHeatOnly SystemMode = "heat_only"
	ModeCoolOnly SystemMode = "cool_only"
	ModeAuto     SystemMode = "auto"
	ModeOff      SystemMode = "off"
)

func (m SystemMode) valid() bool {
	switch m {
	case ModeHeatOnly, ModeCoolOnly, ModeAuto, ModeOff:
		return true
	}
	return false
}

// HubOptions configures the Hub Protocol Client's transport.
type HubOptions struct {
	WSURL              string `yaml:"ws_url"`
	RestURL            string `yaml:"rest_url"`
	AccessToken        string `yaml:"access_token"`
	MaxRetries         int    `yaml:"max_retries"`
	RetryDelayMs       int    `yaml:"retry_delay_ms"`
	StateCheckInterval int    `yaml:"state_check_interval_ms"`
}

// Thresholds bounds indoor/outdoor temperature (°C) for a mode.
type Thresholds struct {
	IndoorMin  float64 `yaml:"indoor_min"`
	IndoorMax  float64 `yaml:"indoor_max"`
	OutdoorMin float64 `yaml:"outdoor_min"`
	OutdoorMax float64 `yaml:"outdoor_max"`
}

// DefrostParams gates the defrost sub-protocol.
type DefrostParams struct {
	TemperatureThresholdC float64 `yaml:"temperature_threshold_c"`
	PeriodSeconds         int     `yaml:"period_seconds"`
	DurationSeconds       int     `yaml:"duration_seconds"`
}

// HeatingParams configures heating entry side effects and gating.
type HeatingParams struct {
	SetpointC  float64       `yaml:"setpoint_c"`
	PresetMode string        `yaml:"preset_mode"`
	Thresholds Thresholds    `yaml:"thresholds"`
	Defrost    DefrostParams `yaml:"defrost"`
}

// CoolingParams configures cooling entry side effects and gating.
type CoolingParams struct {
	SetpointC  float64    `yaml:"setpoint_c"`
	PresetMode string     `yaml:"preset_mode"`
	Thresholds Thresholds `yaml:"thresholds"`
}

// ActiveHours is the wall-clock window during which the controller may
// command heating or cooling. Weekdays and weekends have distinct starts.
type ActiveHours struct {
	Start        int `yaml:"start"`
	StartWeekday int `yaml:"start_weekday"`
	EndHour      int `yaml:"end_hour"`
}

// Entity is one climate device under the controller's command.
type Entity struct {
	EntityID       string `yaml:"entity_id"`
	Enabled        bool   `yaml:"enabled"`
	DefrostCapable bool   `yaml:"defrost_capable"`
}

// HvacOptions configures the control loop's policy.
type HvacOptions struct {
	TempSensor    string        `yaml:"temp_sensor"`
	OutdoorSensor string        `yaml:"outdoor_sensor"`
	SystemMode    SystemMode    `yaml:"system_mode"`
	Entities      []Entity      `yaml:"entities"`
	Heating       HeatingParams `yaml:"heating"`
	Cooling       CoolingParams `yaml:"cooling"`
	ActiveHours   ActiveHours   `yaml:"active_hours"`
}

// Configuration is the fully-loaded, immutable configuration document.
type Configuration struct {
	Hub  HubOptions  `yaml:"hass_options"`
	Hvac HvacOptions `yaml:"hvac_options"`
}

// EnabledEntities returns the entities enabled for command, in configured
// order.
func (c *Configuration) EnabledEntities() []Entity {
	out := make([]Entity, 0, len(c.Hvac.Entities))
	for _, e := range c.Hvac.Entities {
		if e.Enabled {
			out = append(out, e)
		}
	}
	return out
}

// DefrostCapableEntities returns enabled entities additionally marked
// defrost-capable, in configured order.
func (c *Configuration) DefrostCapableEntities() []Entity {
	out := make([]Entity, 0, len(c.Hvac.Entities))
	for _, e := range c.Hvac.Entities {
		if e.Enabled && e.DefrostCapable {
			out = append(out, e)
		}
	}
	return out
}
