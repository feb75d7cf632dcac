// Package config loads the trailpipe input/output configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// Input and output type tags understood by trailpipe.
const (
	InputCloudTrail = "cloudtrail"

	OutputRedis      = "redis"
	OutputStdout     = "stdout"
	OutputSQS        = "sqs"
	OutputCloudWatch = "cloudwatch"
	OutputLambda     = "lambda"
	OutputDynamoDB   = "dynamodb"
)

var knownOutputs = map[string]bool{
	OutputRedis:      true,
	OutputStdout:     true,
	OutputSQS:        true,
	OutputCloudWatch: true,
	OutputLambda:     true,
	OutputDynamoDB:   true,
}

var (
	// ErrNoInputs is returned when no usable input is configured.
	ErrNoInputs = errors.New("no usable inputs configured")
	// ErrNoOutputs is returned when no usable output is configured.
	ErrNoOutputs = errors.New("no usable outputs configured")
)

// Source supplies the ordered input and output descriptors.
type Source interface {
	Inputs() []InputConfig
	Outputs() []OutputConfig
}

// Config is the root configuration structure.
type Config struct {
	Input      []InputConfig   `yaml:"input" toml:"input"`
	Output     []OutputConfig  `yaml:"output" toml:"output"`
	Filter     FilterConfig    `yaml:"filter" toml:"filter"`
	Telemetry  TelemetryConfig `yaml:"telemetry" toml:"telemetry"`
	Log        LogConfig       `yaml:"log" toml:"log"`
	History    HistoryConfig   `yaml:"history" toml:"history"`
	StagingDir string          `yaml:"staging_dir" toml:"staging_dir"`
	Workers    int             `yaml:"workers" toml:"workers"`
}

// InputConfig describes one CloudTrail bucket to ingest.
type InputConfig struct {
	Type         string         `yaml:"type" toml:"type"`
	Account      string         `yaml:"account" toml:"account"`
	Bucket       string         `yaml:"bucket" toml:"bucket"`
	Region       string         `yaml:"region" toml:"region"`
	KeyPrefix    string         `yaml:"key_prefix" toml:"key_prefix"`
	Trail        string         `yaml:"trail" toml:"trail"`
	AWSRole      string         `yaml:"aws_role" toml:"aws_role"`
	AWSKey       string         `yaml:"aws_key" toml:"aws_key"`
	AWSSecret    string         `yaml:"aws_secret" toml:"aws_secret"`
	DefaultChain bool           `yaml:"default_chain" toml:"default_chain"`
	AddField     map[string]any `yaml:"add_field" toml:"add_field"`
}

// OutputConfig describes one sink.
type OutputConfig struct {
	Type      string `yaml:"type" toml:"type"`
	Host      string `yaml:"host" toml:"host"`
	Port      int    `yaml:"port" toml:"port"`
	Key       string `yaml:"key" toml:"key"`
	QueueURL  string `yaml:"queue_url" toml:"queue_url"`
	LogGroup  string `yaml:"log_group" toml:"log_group"`
	LogStream string `yaml:"log_stream" toml:"log_stream"`
	Function  string `yaml:"function" toml:"function"`
	Table     string `yaml:"table" toml:"table"`
	Region    string `yaml:"region" toml:"region"`
}

// FilterConfig holds record filtering settings.
type FilterConfig struct {
	ExcludeEvents []string          `yaml:"exclude_events" toml:"exclude_events"`
	IncludeFields map[string]string `yaml:"include_fields" toml:"include_fields"`
	ExcludeFields map[string]string `yaml:"exclude_fields" toml:"exclude_fields"`
	Policy        string            `yaml:"policy" toml:"policy"`
}

// TelemetryConfig holds OpenTelemetry settings.
type TelemetryConfig struct {
	Endpoint    string        `yaml:"endpoint" toml:"endpoint"`
	Insecure    bool          `yaml:"insecure" toml:"insecure"`
	ServiceName string        `yaml:"service_name" toml:"service_name"`
	Traces      TracesConfig  `yaml:"traces" toml:"traces"`
	Metrics     MetricsConfig `yaml:"metrics" toml:"metrics"`
	PushGateway string        `yaml:"push_gateway" toml:"push_gateway"`
}

// TracesConfig holds tracing settings.
type TracesConfig struct {
	Enabled    bool    `yaml:"enabled" toml:"enabled"`
	SampleRate float64 `yaml:"sample_rate" toml:"sample_rate"`
}

// MetricsConfig holds metrics settings.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled" toml:"enabled"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// HistoryConfig holds run ledger settings. An empty path disables the ledger.
type HistoryConfig struct {
	Path string `yaml:"path" toml:"path"`
}

// Load reads and parses a config file. TOML files are chosen by extension,
// everything else is decoded as YAML, which also accepts JSON.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path is intentional user input
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{}
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		err = toml.Unmarshal(data, cfg)
	} else {
		err = yaml.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyDefaults(cfg)
	warnUnknownTypes(cfg)
	return cfg, nil
}

func warnUnknownTypes(cfg *Config) {
	for _, in := range cfg.Input {
		if in.Type != InputCloudTrail {
			log.Warn().Str("type", in.Type).Str("account", in.Account).Msg("ignoring input of unknown type")
		}
	}
	for _, out := range cfg.Output {
		if !knownOutputs[out.Type] {
			log.Warn().Str("type", out.Type).Msg("ignoring output of unknown type")
		}
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "trailpipe"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "console"
	}
	if cfg.Workers == 0 {
		cfg.Workers = 1
	}
	for i := range cfg.Output {
		if cfg.Output[i].Type == OutputRedis && cfg.Output[i].Port == 0 {
			cfg.Output[i].Port = 6379
		}
	}
}

// Inputs returns the cloudtrail inputs in configuration order.
// Inputs of any other type are skipped; Load has already warned about them.
func (c *Config) Inputs() []InputConfig {
	inputs := make([]InputConfig, 0, len(c.Input))
	for _, in := range c.Input {
		if in.Type != InputCloudTrail {
			continue
		}
		inputs = append(inputs, in)
	}
	return inputs
}

// Outputs returns the outputs of a known type in configuration order.
func (c *Config) Outputs() []OutputConfig {
	outputs := make([]OutputConfig, 0, len(c.Output))
	for _, out := range c.Output {
		if !knownOutputs[out.Type] {
			continue
		}
		outputs = append(outputs, out)
	}
	return outputs
}

// Validate checks the configuration is usable.
func (c *Config) Validate() error {
	if len(c.Inputs()) == 0 {
		return ErrNoInputs
	}
	if len(c.Outputs()) == 0 {
		return ErrNoOutputs
	}
	for i, in := range c.Inputs() {
		if in.Account == "" {
			return fmt.Errorf("input %d: account is required", i)
		}
	}
	if c.Workers < 1 {
		return fmt.Errorf("workers must be at least 1 (got %d)", c.Workers)
	}
	if c.Telemetry.Traces.SampleRate < 0.0 || c.Telemetry.Traces.SampleRate > 1.0 {
		return fmt.Errorf("telemetry: traces.sample_rate must be between 0.0 and 1.0 (got %v)", c.Telemetry.Traces.SampleRate)
	}
	return nil
}
