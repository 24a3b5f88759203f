// Package config defines and loads the boxwatch daemon configuration.
// The on-disk format is HCL (boxwatch.hcl); YAML is accepted as a
// fallback for deployments that template their configs.
package config

import (
	"path/filepath"
	"time"

	"grimm.is/boxwatch/internal/brand"
)

// Config is the root configuration for the daemon.
type Config struct {
	SchemaVersion string `hcl:"schema_version,optional" yaml:"schema_version"`

	MSP     *MSPConfig     `hcl:"msp,block" yaml:"msp"`
	Poll    *PollConfig    `hcl:"poll,block" yaml:"poll"`
	Filters *FiltersConfig `hcl:"filters,block" yaml:"filters"`
	API     *APIConfig     `hcl:"api,block" yaml:"api"`
	Log     *LogConfig     `hcl:"log,block" yaml:"log"`
	History *HistoryConfig `hcl:"history,block" yaml:"history"`
}

// MSPConfig identifies the upstream MSP portal and box.
type MSPConfig struct {
	// Domain is the MSP portal domain, with or without scheme:
	// "acme.firewalla.net" or "https://acme.firewalla.net".
	Domain      string `hcl:"domain" yaml:"domain"`
	AccessToken string `hcl:"access_token" yaml:"access_token"`
	BoxGID      string `hcl:"box_gid" yaml:"box_gid"`
}

// PollConfig controls the refresh loop.
type PollConfig struct {
	Interval string `hcl:"interval,optional" yaml:"interval"`
	Timeout  string `hcl:"timeout,optional" yaml:"timeout"`
	Jitter   string `hcl:"jitter,optional" yaml:"jitter"`
}

// FiltersConfig holds newline-separated server-side filter expressions.
// Blank lines and lines starting with '#' are ignored.
type FiltersConfig struct {
	Include string `hcl:"include,optional" yaml:"include"`
	Exclude string `hcl:"exclude,optional" yaml:"exclude"`
}

// APIConfig controls the local control surface.
type APIConfig struct {
	Listen        string `hcl:"listen,optional" yaml:"listen"`
	APIKey        string `hcl:"api_key,optional" yaml:"api_key"`
	EnableMetrics *bool  `hcl:"enable_metrics,optional" yaml:"enable_metrics"`
}

// LogConfig controls logging.
type LogConfig struct {
	Level string `hcl:"level,optional" yaml:"level"`
	JSON  bool   `hcl:"json,optional" yaml:"json"`
}

// HistoryConfig controls the rule-change journal.
type HistoryConfig struct {
	Path          string `hcl:"path,optional" yaml:"path"`
	RetentionDays int    `hcl:"retention_days,optional" yaml:"retention_days"`
}

// Defaults and floors. The poll floor protects the upstream rate limit;
// configs below it are rejected rather than silently raised.
const (
	DefaultPollInterval  = 30 * time.Second
	MinPollInterval      = 10 * time.Second
	DefaultPollTimeout   = 30 * time.Second
	DefaultListen        = "127.0.0.1:8093"
	DefaultRetentionDays = 30
)

// PollInterval returns the parsed poll interval, falling back to the default.
func (p *PollConfig) PollInterval() time.Duration {
	if p == nil {
		return DefaultPollInterval
	}
	return duration(p.Interval, DefaultPollInterval)
}

// PollTimeout returns the parsed per-refresh timeout.
func (p *PollConfig) PollTimeout() time.Duration {
	if p == nil {
		return DefaultPollTimeout
	}
	return duration(p.Timeout, DefaultPollTimeout)
}

// JitterDuration returns the parsed scheduling jitter (default none).
func (p *PollConfig) JitterDuration() time.Duration {
	if p == nil {
		return 0
	}
	return duration(p.Jitter, 0)
}

func duration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return def
	}
	return d
}

// MetricsEnabled reports whether /metrics should be served (default true).
func (a *APIConfig) MetricsEnabled() bool {
	if a == nil || a.EnableMetrics == nil {
		return true
	}
	return *a.EnableMetrics
}

// ListenAddr returns the configured listen address or the localhost default.
func (a *APIConfig) ListenAddr() string {
	if a == nil || a.Listen == "" {
		return DefaultListen
	}
	return a.Listen
}

// JournalPath returns the history database path, or the state-dir default.
func (h *HistoryConfig) JournalPath() string {
	if h == nil || h.Path == "" {
		return filepath.Join(brand.GetStateDir(), "history.db")
	}
	return h.Path
}

// Retention returns the journal retention in days.
func (h *HistoryConfig) Retention() int {
	if h == nil || h.RetentionDays == 0 {
		return DefaultRetentionDays
	}
	return h.RetentionDays
}

// IncludeFilters returns the parsed include filter expressions.
func (f *FiltersConfig) IncludeFilters() []string {
	if f == nil {
		return nil
	}
	return ParseFilterList(f.Include)
}

// ExcludeFilters returns the parsed exclude filter expressions.
func (f *FiltersConfig) ExcludeFilters() []string {
	if f == nil {
		return nil
	}
	return ParseFilterList(f.Exclude)
}
