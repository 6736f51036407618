// Package config provides configuration structures and loading logic for the
// stepflow binary.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/stepflow/stepflow-oss/pkg/domain"
	"github.com/stepflow/stepflow-oss/pkg/steps"
)

// Config holds the global configuration.
type Config struct {
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	Logging   LoggingConfig   `yaml:"logging"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Server    ServerConfig    `yaml:"server"`
}

// PipelineConfig describes the configured step chain.
type PipelineConfig struct {
	Name        string       `yaml:"name"`
	Environment string       `yaml:"environment"`
	Steps       []StepConfig `yaml:"steps"`
}

// StepConfig describes one step instance in the pipeline file.
type StepConfig struct {
	Type         string         `yaml:"type"`
	Name         string         `yaml:"name,omitempty"`
	Description  string         `yaml:"description,omitempty"`
	Order        int            `yaml:"order"`
	Disabled     bool           `yaml:"disabled,omitempty"`
	Environments []string       `yaml:"environments,omitempty"`
	Params       map[string]any `yaml:"params,omitempty"`
}

// LoggingConfig holds configuration for logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

// TelemetryConfig holds configuration for OpenTelemetry.
type TelemetryConfig struct {
	ServiceName  string `yaml:"service_name"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	Insecure     bool   `yaml:"insecure"`
}

// ServerConfig holds configuration for the serve command.
type ServerConfig struct {
	Address string `yaml:"address"`
}

// Definitions converts the configured steps into catalog definitions,
// preserving file order for order ties.
func (p PipelineConfig) Definitions() []steps.Definition {
	defs := make([]steps.Definition, 0, len(p.Steps))
	for _, s := range p.Steps {
		defs = append(defs, steps.Definition{
			Type:         s.Type,
			Name:         s.Name,
			Description:  s.Description,
			Order:        s.Order,
			Disabled:     s.Disabled,
			Environments: s.Environments,
			Params:       s.Params,
		})
	}
	return defs
}

// Load reads configuration from a file and applies environment variable
// overrides.
func Load(path string) (*Config, error) {
	cfg := &Config{
		Pipeline: PipelineConfig{
			Name: "pipeline",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Telemetry: TelemetryConfig{
			ServiceName: "stepflow",
		},
		Server: ServerConfig{
			Address: ":8090",
		},
	}

	if path != "" {
		//nolint:gosec // Config file path is controlled by the operator
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if val := os.Getenv("STEPFLOW_LOG_LEVEL"); val != "" {
		cfg.Logging.Level = val
	}
	if val := os.Getenv("STEPFLOW_OTLP_ENDPOINT"); val != "" {
		cfg.Telemetry.OTLPEndpoint = val
	}
	if val := os.Getenv("STEPFLOW_OTLP_INSECURE"); val == "true" {
		cfg.Telemetry.Insecure = true
	}
	if val := os.Getenv("STEPFLOW_SERVER_ADDR"); val != "" {
		cfg.Server.Address = val
	}
	if val := os.Getenv("STEPFLOW_ENVIRONMENT"); val != "" {
		cfg.Pipeline.Environment = val
	}
}

// Validate checks the configuration for structural problems.
func (c *Config) Validate() error {
	if c.Pipeline.Name == "" {
		return fmt.Errorf("%w: pipeline name must not be empty", domain.ErrConfigInvalid)
	}
	seen := make(map[string]struct{}, len(c.Pipeline.Steps))
	for i, step := range c.Pipeline.Steps {
		if step.Type == "" {
			return fmt.Errorf("%w: step at index %d has no type", domain.ErrConfigInvalid, i)
		}
		name := step.Name
		if name == "" {
			name = step.Type
		}
		if _, dup := seen[name]; dup {
			return fmt.Errorf("%w: duplicate step name %q", domain.ErrConfigInvalid, name)
		}
		seen[name] = struct{}{}
	}
	return nil
}
