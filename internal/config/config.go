package config

import (
	"os"

	"gopkg.in/yaml.v3"

	"nrgchamp/hvac-controller/internal/hvacerr"
)

const (
	defaultMaxRetries         = 5
	defaultRetryDelayMs       = 1000
	defaultStateCheckInterval = 600000
	defaultOutdoorSensor      = "sensor.outdoor_temperature"
)

// Load reads and validates a YAML configuration document from path, applying
// defaults and the HASS_TOKEN environment override, per spec §6.
func Load(path string) (*Configuration, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, hvacerr.Wrap(hvacerr.ConfigInvalid, "reading config file "+path, err)
	}
	return Parse(raw)
}

// Parse unmarshals a YAML document into a Configuration and applies the same
// defaulting and validation as Load.
func Parse(raw []byte) (*Configuration, error) {
	var cfg Configuration
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, hvacerr.Wrap(hvacerr.ConfigInvalid, "parsing YAML config", err)
	}

	applyHubDefaults(&cfg.Hub)
	applyEntityDefaults(cfg.Hvac.Entities)

	if !cfg.Hvac.SystemMode.valid() {
		cfg.Hvac.SystemMode = ModeAuto
	}
	if cfg.Hvac.OutdoorSensor == "" {
		cfg.Hvac.OutdoorSensor = defaultOutdoorSensor
	}

	if token := os.Getenv("HASS_TOKEN"); token != "" {
		cfg.Hub.AccessToken = token
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyHubDefaults(h *HubOptions) {
	if h.MaxRetries == 0 {
		h.MaxRetries = defaultMaxRetries
	}
	if h.RetryDelayMs == 0 {
		h.RetryDelayMs = defaultRetryDelayMs
	}
	if h.StateCheckInterval == 0 {
		h.StateCheckInterval = defaultStateCheckInterval
	}
}

func applyEntityDefaults(entities []Entity) {
	// Enabled/defrost_capable already default to the Go zero value (false)
	// when absent from YAML; nothing further to do here. Kept as an explicit
	// step since spec §6 calls the defaulting out as a named requirement.
	_ = entities
}

func validate(cfg *Configuration) error {
	if cfg.Hub.WSURL == "" {
		return hvacerr.New(hvacerr.ConfigInvalid, "hass_options.ws_url is required")
	}
	if cfg.Hub.AccessToken == "" {
		return hvacerr.New(hvacerr.ConfigInvalid, "hass_options.access_token is required (or HASS_TOKEN)")
	}
	if cfg.Hvac.TempSensor == "" {
		return hvacerr.New(hvacerr.ConfigInvalid, "hvac_options.temp_sensor is required")
	}
	if len(cfg.Hvac.Entities) == 0 {
		return hvacerr.New(hvacerr.ConfigInvalid, "hvac_options.entities must not be empty")
	}
	return nil
}
