// Package config loads reporter configuration from YAML files and the
// environment.
package config

import (
	"os"
	"strings"
	"time"

	"github.com/strongdm/snagbridge/pkg/snag"
)

// Config holds all reporter configuration. It is loaded once at
// initialization and not changed afterwards.
type Config struct {
	// APIKey is the reporting service API key (required).
	APIKey string `yaml:"api_key" json:"api_key"`

	// ReleaseStage defaults to DefaultReleaseStage() when empty.
	ReleaseStage string `yaml:"release_stage" json:"release_stage,omitempty"`

	// NotifyReleaseStages restricts delivery to these stages when non-empty.
	NotifyReleaseStages []string `yaml:"notify_release_stages" json:"notify_release_stages,omitempty"`

	// Filters are metadata key substrings to redact (default: password).
	Filters []string `yaml:"filters" json:"filters,omitempty"`

	// ExportLevel is the minimum log level exported as a report (default: error).
	ExportLevel string `yaml:"export_level" json:"export_level,omitempty"`

	// DedupeWindow suppresses identical reports within the window (0 disables).
	DedupeWindow time.Duration `yaml:"dedupe_window" json:"dedupe_window,omitempty"`

	Bugsnag       BugsnagConfig       `yaml:"bugsnag" json:"bugsnag"`
	Stderr        StderrConfig        `yaml:"stderr" json:"stderr"`
	File          FileConfig          `yaml:"file" json:"file"`
	Elasticsearch ElasticsearchConfig `yaml:"elasticsearch" json:"elasticsearch"`
	OTLP          OTLPConfig          `yaml:"otlp" json:"otlp"`
}

// BugsnagConfig holds vendor delivery settings.
type BugsnagConfig struct {
	// Disabled turns off delivery to Bugsnag (other sinks still run).
	Disabled bool `yaml:"disabled" json:"disabled,omitempty"`
	// NotifyEndpoint overrides the notify URL (on-premise installs).
	NotifyEndpoint string `yaml:"notify_endpoint" json:"notify_endpoint,omitempty"`
	// SessionsEndpoint overrides the sessions URL.
	SessionsEndpoint string `yaml:"sessions_endpoint" json:"sessions_endpoint,omitempty"`
}

// StderrConfig enables human-readable output on stderr.
type StderrConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled,omitempty"`
	Verbose bool `yaml:"verbose" json:"verbose,omitempty"`
}

// FileConfig enables a JSON lines archive of reports.
type FileConfig struct {
	Path string `yaml:"path" json:"path,omitempty"`
}

// ElasticsearchConfig enables indexing reports into Elasticsearch.
type ElasticsearchConfig struct {
	Addresses []string `yaml:"addresses" json:"addresses,omitempty"`
	Index     string   `yaml:"index" json:"index,omitempty"`
}

// OTLPConfig enables exporting reports as OTLP log records over gRPC.
type OTLPConfig struct {
	Endpoint    string `yaml:"endpoint" json:"endpoint,omitempty"`
	ServiceName string `yaml:"service_name" json:"service_name,omitempty"`
}

// DefaultFilters is the filter list used when none is configured.
var DefaultFilters = []string{"password"}

// DefaultReleaseStage returns the environment-derived release stage:
// SNAG_ENV, then APP_ENV, else "production".
func DefaultReleaseStage() string {
	return getenv("SNAG_ENV", getenv("APP_ENV", "production"))
}

// WithDefaults returns a copy of c with defaults applied.
func (c Config) WithDefaults() Config {
	if strings.TrimSpace(c.ReleaseStage) == "" {
		c.ReleaseStage = DefaultReleaseStage()
	}
	if c.Filters == nil {
		c.Filters = append([]string(nil), DefaultFilters...)
	}
	if c.ExportLevel == "" {
		c.ExportLevel = "error"
	}
	if c.Elasticsearch.Index == "" {
		c.Elasticsearch.Index = "snag-reports"
	}
	return c
}

// Validate checks required fields. It returns *snag.ConfigError.
func (c Config) Validate() error {
	if strings.TrimSpace(c.APIKey) == "" {
		return &snag.ConfigError{Field: "api_key", Reason: "must be set"}
	}
	if c.DedupeWindow < 0 {
		return &snag.ConfigError{Field: "dedupe_window", Reason: "must not be negative"}
	}
	return nil
}

// ApplyEnv overrides fields from SNAG_* environment variables.
func (c Config) ApplyEnv() Config {
	if v := os.Getenv("SNAG_API_KEY"); v != "" {
		c.APIKey = v
	}
	if v := os.Getenv("SNAG_RELEASE_STAGE"); v != "" {
		c.ReleaseStage = v
	}
	if v := os.Getenv("SNAG_NOTIFY_RELEASE_STAGES"); v != "" {
		c.NotifyReleaseStages = splitList(v)
	}
	if v := os.Getenv("SNAG_FILTERS"); v != "" {
		c.Filters = splitList(v)
	}
	if v := os.Getenv("SNAG_EXPORT_LEVEL"); v != "" {
		c.ExportLevel = v
	}
	if v := os.Getenv("SNAG_DEDUPE_WINDOW"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.DedupeWindow = d
		}
	}
	return c
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// splitList splits a comma-separated list, dropping empty items.
func splitList(s string) []string {
	var out []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
