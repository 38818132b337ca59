package pipeline

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"pricewatch/internal/storage"
	"pricewatch/internal/validate"
)

// Config is the user-provided pipeline configuration.
type Config struct {
	Job        string          `json:"job"`
	Source     SourceConfig    `json:"source"`
	Storage    storage.Config  `json:"storage"`
	Validation validate.Config `json:"validation"`
	Runtime    RuntimeConfig   `json:"runtime"`
	Metrics    MetricsConfig   `json:"metrics"`
}

// SourceConfig names the jobs file: a JSON array of Job objects.
type SourceConfig struct {
	JobsFile string `json:"jobs_file"`

	// FetchTimeout bounds each page fetch as a Go duration string,
	// e.g. "20s". Defaults to 20s.
	FetchTimeout string `json:"fetch_timeout,omitempty"`
}

// FetchTimeoutDuration parses the configured fetch timeout. LoadConfig has
// already validated the string.
func (s SourceConfig) FetchTimeoutDuration() time.Duration {
	d, err := time.ParseDuration(s.FetchTimeout)
	if err != nil || d <= 0 {
		return 20 * time.Second
	}
	return d
}

// RuntimeConfig controls pipeline execution behavior.
type RuntimeConfig struct {
	// Workers is the number of concurrent extraction workers. Defaults to 4.
	Workers int `json:"workers"`

	// ChannelBuffer sizes the job channel. Defaults to Workers.
	ChannelBuffer int `json:"channel_buffer"`
}

// MetricsConfig configures the optional Datadog exporter.
type MetricsConfig struct {
	// Datadog enables the Datadog backend. Off means metrics are discarded.
	Datadog bool `json:"datadog"`

	JobName    string `json:"job_name,omitempty"`
	TagsCSV    string `json:"tags,omitempty"`
	FlushEvery string `json:"flush_every,omitempty"` // Go duration, e.g. "60s"
}

// LoadConfig loads and validates the pipeline config file. DSNs may use
// ${ENV_VAR} placeholders, which are expanded at load time.
func LoadConfig(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{Validation: validate.DefaultConfig()}
	if err := json.Unmarshal(b, cfg); err != nil {
		return nil, fmt.Errorf("parse config json: %w", err)
	}

	cfg.Storage.DSN = os.ExpandEnv(cfg.Storage.DSN)

	if cfg.Source.JobsFile == "" {
		return nil, fmt.Errorf("source.jobs_file is required")
	}
	if cfg.Storage.Kind == "" {
		return nil, fmt.Errorf("storage.kind is required")
	}
	if cfg.Source.FetchTimeout == "" {
		cfg.Source.FetchTimeout = "20s"
	}
	if _, err := time.ParseDuration(cfg.Source.FetchTimeout); err != nil {
		return nil, fmt.Errorf("source.fetch_timeout: %w", err)
	}
	if cfg.Runtime.Workers <= 0 {
		cfg.Runtime.Workers = 4
	}
	if cfg.Runtime.ChannelBuffer <= 0 {
		cfg.Runtime.ChannelBuffer = cfg.Runtime.Workers
	}
	return cfg, nil
}
