// Package config handles application configuration.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config defines the structure for all application configuration. Clinical
// constants are deliberately absent: they are fixed in the engines and not
// operator-tunable.
type Config struct {
	IntervalMinutes int        `yaml:"interval_minutes"`
	WindowHours     int        `yaml:"window_hours"`
	ProfileOverride string     `yaml:"profile_override"`
	Input           InputConf  `yaml:"input"`
	Output          OutputConf `yaml:"output"`
	LogLevel        string     `yaml:"-"` // Loaded from env or defaults
}

// InputConf holds the fixture file paths.
type InputConf struct {
	TreatmentsPath   string `yaml:"treatments"`
	DeviceStatusPath string `yaml:"devicestatus"`
	ProfilesPath     string `yaml:"profiles"`
}

// OutputConf holds the export destinations.
type OutputConf struct {
	SeriesCSVPath string `yaml:"series_csv"`
}

// LoadConfig loads configuration from the specified YAML file path
// and environment variables.
func LoadConfig(configPath string) (*Config, error) {
	cfg := &Config{
		// Default values
		IntervalMinutes: 5,
		WindowHours:     24,
		LogLevel:        "info",
	}

	file, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(file, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if logLevel := os.Getenv("LOG_LEVEL"); logLevel != "" {
		cfg.LogLevel = logLevel
	}

	if cfg.IntervalMinutes <= 0 {
		cfg.IntervalMinutes = 5
	}
	if cfg.WindowHours <= 0 {
		cfg.WindowHours = 24
	}

	return cfg, nil
}
