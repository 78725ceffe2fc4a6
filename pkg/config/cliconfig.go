package config

// CliConfig is the daemon configuration loaded from flags and environment
// variables, as opposed to the persisted YAML controller configuration.
type CliConfig struct {
	ConfigFile string `default:"config.yaml"`

	// Overrides for the persisted configuration.
	Port    string // serial port override
	WebAddr string // listen address override

	Mock bool // run against the simulated apparatus

	LogLevel string `default:"info"`
}
