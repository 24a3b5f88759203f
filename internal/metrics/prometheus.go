// Package metrics exposes Prometheus instrumentation for the daemon.
package metrics

import (
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once     sync.Once
	registry *Registry
)

// Registry holds all boxwatch metrics.
type Registry struct {
	// Refresh cycle metrics
	RefreshTotal    *prometheus.CounterVec
	RefreshDuration prometheus.Histogram
	RefreshSkipped  prometheus.Counter
	LastRefresh     prometheus.Gauge
	SnapshotAge     prometheus.Gauge

	// Rule inventory gauges, updated from each snapshot
	RulesTotal    prometheus.Gauge
	RulesActive   prometheus.Gauge
	RulesPaused   prometheus.Gauge
	RulesDisabled prometheus.Gauge
	RulesByType   *prometheus.GaugeVec

	// Diff metrics
	RuleChanges *prometheus.CounterVec

	// Device gauges
	DevicesTotal  prometheus.Gauge
	DevicesOnline prometheus.Gauge

	// Command metrics
	Commands *prometheus.CounterVec

	// Upstream client metrics
	UpstreamErrors *prometheus.CounterVec
	RecordsSkipped *prometheus.CounterVec
	AuthFailures   prometheus.Counter

	// API metrics
	APIRequests *prometheus.CounterVec
	APILatency  *prometheus.HistogramVec
}

// Get returns the global metrics registry, creating it if necessary.
func Get() *Registry {
	once.Do(func() {
		registry = newRegistry()
	})
	return registry
}

func newRegistry() *Registry {
	r := &Registry{}

	// Refresh cycle metrics
	r.RefreshTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "boxwatch_refresh_total",
		Help: "Total refresh cycles by outcome",
	}, []string{"status"})

	r.RefreshDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "boxwatch_refresh_duration_seconds",
		Help:    "Duration of upstream refresh cycles",
		Buckets: prometheus.DefBuckets,
	})

	r.RefreshSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "boxwatch_refresh_coalesced_total",
		Help: "Refresh requests coalesced into an in-flight cycle",
	})

	r.LastRefresh = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "boxwatch_last_refresh_timestamp",
		Help: "Unix timestamp of the last successful refresh",
	})

	r.SnapshotAge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "boxwatch_snapshot_age_seconds",
		Help: "Age of the cached snapshot",
	})

	// Rule inventory
	r.RulesTotal = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "boxwatch_rules_total",
		Help: "Rules in the current snapshot",
	})

	r.RulesActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "boxwatch_rules_active",
		Help: "Rules currently enforced",
	})

	r.RulesPaused = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "boxwatch_rules_paused",
		Help: "Rules paused by an operator",
	})

	r.RulesDisabled = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "boxwatch_rules_disabled",
		Help: "Rules disabled upstream",
	})

	r.RulesByType = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "boxwatch_rules_by_type",
		Help: "Rules in the current snapshot by rule type",
	}, []string{"type"})

	// Diff metrics
	r.RuleChanges = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "boxwatch_rule_changes_total",
		Help: "Rule changes detected between snapshots",
	}, []string{"change"})

	// Devices
	r.DevicesTotal = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "boxwatch_devices_total",
		Help: "Devices known to the box",
	})

	r.DevicesOnline = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "boxwatch_devices_online",
		Help: "Devices currently online",
	})

	// Commands
	r.Commands = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "boxwatch_commands_total",
		Help: "Rule commands issued upstream",
	}, []string{"command", "status"})

	// Upstream client
	r.UpstreamErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "boxwatch_upstream_errors_total",
		Help: "Upstream API failures by error kind",
	}, []string{"kind"})

	r.RecordsSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "boxwatch_records_skipped_total",
		Help: "Malformed upstream records dropped during normalization",
	}, []string{"endpoint"})

	r.AuthFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "boxwatch_auth_failures_total",
		Help: "Definitive credential rejections from the portal",
	})

	// API metrics
	r.APIRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "boxwatch_api_requests_total",
		Help: "Total local API requests",
	}, []string{"method", "path", "status"})

	r.APILatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "boxwatch_api_request_duration_seconds",
		Help:    "Local API request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	return r
}

// RecordRefresh records one refresh cycle outcome.
func (r *Registry) RecordRefresh(status string, duration time.Duration) {
	r.RefreshTotal.WithLabelValues(status).Inc()
	r.RefreshDuration.Observe(duration.Seconds())
}

// RecordSnapshot updates the inventory gauges from snapshot stats.
func (r *Registry) RecordSnapshot(total, active, paused, disabled int, byType map[string]int) {
	r.RulesTotal.Set(float64(total))
	r.RulesActive.Set(float64(active))
	r.RulesPaused.Set(float64(paused))
	r.RulesDisabled.Set(float64(disabled))

	// Reset so types that disappeared do not linger at a stale value.
	r.RulesByType.Reset()
	for typ, count := range byType {
		r.RulesByType.WithLabelValues(typ).Set(float64(count))
	}
}

// RecordChanges records a snapshot diff.
func (r *Registry) RecordChanges(added, removed, modified int) {
	r.RuleChanges.WithLabelValues("added").Add(float64(added))
	r.RuleChanges.WithLabelValues("removed").Add(float64(removed))
	r.RuleChanges.WithLabelValues("modified").Add(float64(modified))
}

// RecordCommand records a rule command outcome.
func (r *Registry) RecordCommand(command string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	r.Commands.WithLabelValues(command, status).Inc()
}

// RecordAPIRequest records a local API request.
func (r *Registry) RecordAPIRequest(method, path string, status int, duration float64) {
	r.APIRequests.WithLabelValues(method, path, statusString(status)).Inc()
	r.APILatency.WithLabelValues(method, path).Observe(duration)
}

func statusString(status int) string {
	return fmt.Sprintf("%d", status)
}
