// Package config holds the persisted controller configuration and the
// command-line configuration of the daemon.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the persisted application configuration.
type Config struct {
	Serial  SerialConfig  `yaml:"serial"`
	DAQ     DAQConfig     `yaml:"daq"`
	Control ControlConfig `yaml:"control"`
	Log     LogConfig     `yaml:"log"`
	MQTT    MQTTConfig    `yaml:"mqtt"`
	Web     WebConfig     `yaml:"web"`
	Mock    MockConfig    `yaml:"mock"`
}

// SerialConfig contains serial link configuration.
type SerialConfig struct {
	Port         string `yaml:"port"`           // last known port, tried first
	BaudRate     int    `yaml:"baud_rate"`
	Identity     string `yaml:"identity"`       // device identity handshake string
	PortHintFile string `yaml:"port_hint_file"` // where the last working port is remembered
}

// DAQConfig contains acquisition loop parameters.
type DAQConfig struct {
	IntervalMs    int  `yaml:"interval_ms"` // BME280 datasheet says >= 1000 ms
	ReadTimeoutMs int  `yaml:"read_timeout_ms"`
	PollMode      bool `yaml:"poll_mode"`    // request/response with "?" instead of free-running lines
	MaxFailures   int  `yaml:"max_failures"` // consecutive failures before the link counts as lost
}

// Profile is a set of actuator enable flags applied together. The JSON
// tags are the HTTP API schema, which mirrors the persisted form.
type Profile struct {
	Valve1 bool `yaml:"valve_1" json:"valve_1"`
	Valve2 bool `yaml:"valve_2" json:"valve_2"`
	Pump   bool `yaml:"pump" json:"pump"`
}

// ControlConfig contains the humidity control parameters.
type ControlConfig struct {
	Setpoint float64 `yaml:"setpoint" json:"setpoint"` // [% RH]

	// Which actuators to enable to increase resp. decrease the humidity.
	ActuatorsIncrRH Profile `yaml:"actuators_incr_rh" json:"actuators_incr_rh"`
	ActuatorsDecrRH Profile `yaml:"actuators_decr_rh" json:"actuators_decr_rh"`
	ActOnSensor     int     `yaml:"act_on_sensor" json:"act_on_sensor"` // 1 or 2

	// Bandwidths relative to the setpoint, [% RH].
	FinebandDHI float64 `yaml:"fineband_dhi" json:"fineband_dhi"`
	FinebandDLO float64 `yaml:"fineband_dlo" json:"fineband_dlo"`
	DeadbandDHI float64 `yaml:"deadband_dhi" json:"deadband_dhi"`
	DeadbandDLO float64 `yaml:"deadband_dlo" json:"deadband_dlo"`

	// Fine-band burst control.
	BurstUpdatePeriod int `yaml:"burst_update_period" json:"burst_update_period"` // [s]
	BurstIncrLength   int `yaml:"burst_incr_length" json:"burst_incr_length"`     // [ms]
	BurstDecrLength   int `yaml:"burst_decr_length" json:"burst_decr_length"`     // [ms]
}

// LogConfig contains sample file logging configuration.
type LogConfig struct {
	Dir string `yaml:"dir"` // directory for recorded TSV logs
}

// MQTTConfig contains the optional MQTT telemetry publisher configuration.
type MQTTConfig struct {
	Broker   string `yaml:"broker"` // empty disables publishing
	ClientID string `yaml:"client_id"`
	Topic    string `yaml:"topic"`
}

// WebConfig contains the HTTP command/status API configuration.
type WebConfig struct {
	Addr string `yaml:"addr"` // empty disables the API
}

// MockConfig contains mock device configuration.
type MockConfig struct {
	AmbientRH  float64       `yaml:"ambient_rh"`  // humidity the chamber drifts toward unforced
	IncrRate   float64       `yaml:"incr_rate"`   // [%RH/s] while the wet path is open
	DecrRate   float64       `yaml:"decr_rate"`   // [%RH/s] while the dry path is open
	NoiseLevel float64       `yaml:"noise_level"` // [% RH]
	SampleRate time.Duration `yaml:"sample_rate"` // telemetry period in streaming mode
}

// Default returns a default configuration with sensible values.
func Default() *Config {
	return &Config{
		Serial: SerialConfig{
			Port:         "/dev/ttyACM0",
			BaudRate:     115200,
			Identity:     "Humidistat v1",
			PortHintFile: "config/port_hint.txt",
		},
		DAQ: DAQConfig{
			IntervalMs:    1000,
			ReadTimeoutMs: 2000,
			PollMode:      true,
			MaxFailures:   3,
		},
		Control: ControlConfig{
			Setpoint:          50,
			ActuatorsIncrRH:   Profile{Valve1: true, Valve2: false, Pump: true},
			ActuatorsDecrRH:   Profile{Valve1: false, Valve2: true, Pump: true},
			ActOnSensor:       1,
			FinebandDHI:       +2,
			FinebandDLO:       -2,
			DeadbandDHI:       +0.5,
			DeadbandDLO:       -0.5,
			BurstUpdatePeriod: 10,
			BurstIncrLength:   500,
			BurstDecrLength:   1000,
		},
		Log: LogConfig{
			Dir: "logs",
		},
		MQTT: MQTTConfig{
			ClientID: "humidistat",
			Topic:    "humidistat/sample",
		},
		Web: WebConfig{
			Addr: ":8099",
		},
		Mock: MockConfig{
			AmbientRH:  35,
			IncrRate:   1.5,
			DecrRate:   2.0,
			NoiseLevel: 0.05,
			SampleRate: time.Second,
		},
	}
}

// Load loads configuration from a YAML file. If the file doesn't exist or
// fields are missing, it uses default values.
func Load(filename string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			// File doesn't exist, return defaults
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Ensure minimum required fields are set (use defaults if missing)
	cfg.ensureDefaults()

	return cfg, nil
}

// Save saves the configuration to a YAML file.
func (c *Config) Save(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// ensureDefaults ensures that all required fields have default values if missing.
func (c *Config) ensureDefaults() {
	def := Default()

	if c.Serial.Port == "" {
		c.Serial.Port = def.Serial.Port
	}
	if c.Serial.BaudRate == 0 {
		c.Serial.BaudRate = def.Serial.BaudRate
	}
	if c.Serial.Identity == "" {
		c.Serial.Identity = def.Serial.Identity
	}
	if c.Serial.PortHintFile == "" {
		c.Serial.PortHintFile = def.Serial.PortHintFile
	}

	if c.DAQ.IntervalMs == 0 {
		c.DAQ.IntervalMs = def.DAQ.IntervalMs
	}
	if c.DAQ.ReadTimeoutMs == 0 {
		c.DAQ.ReadTimeoutMs = def.DAQ.ReadTimeoutMs
	}
	if c.DAQ.MaxFailures == 0 {
		c.DAQ.MaxFailures = def.DAQ.MaxFailures
	}

	if c.Control.ActOnSensor == 0 {
		c.Control.ActOnSensor = def.Control.ActOnSensor
	}
	if c.Control.BurstUpdatePeriod == 0 {
		c.Control.BurstUpdatePeriod = def.Control.BurstUpdatePeriod
	}
	if c.Control.BurstIncrLength == 0 {
		c.Control.BurstIncrLength = def.Control.BurstIncrLength
	}
	if c.Control.BurstDecrLength == 0 {
		c.Control.BurstDecrLength = def.Control.BurstDecrLength
	}

	if c.Log.Dir == "" {
		c.Log.Dir = def.Log.Dir
	}

	if c.MQTT.ClientID == "" {
		c.MQTT.ClientID = def.MQTT.ClientID
	}
	if c.MQTT.Topic == "" {
		c.MQTT.Topic = def.MQTT.Topic
	}

	if c.Mock.AmbientRH == 0 {
		c.Mock.AmbientRH = def.Mock.AmbientRH
	}
	if c.Mock.IncrRate == 0 {
		c.Mock.IncrRate = def.Mock.IncrRate
	}
	if c.Mock.DecrRate == 0 {
		c.Mock.DecrRate = def.Mock.DecrRate
	}
	if c.Mock.SampleRate == 0 {
		c.Mock.SampleRate = def.Mock.SampleRate
	}
}
