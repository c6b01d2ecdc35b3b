package observability

import (
	"math"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	mintdMetricsOnce sync.Once
	mintdRegistry    *MintdMetrics
)

// MintdMetrics wraps collectors tracking minting engine health.
type MintdMetrics struct {
	attempts       *prometheus.CounterVec
	mintLatency    *prometheus.HistogramVec
	quotaRemaining prometheus.Gauge
	quotaUsage     prometheus.Gauge
	ownerBalance   *prometheus.GaugeVec
	gasPause       *prometheus.GaugeVec
	errors         *prometheus.CounterVec
	backups        *prometheus.CounterVec
	alerts         *prometheus.CounterVec
	running        prometheus.Gauge
}

// Mintd exposes the metrics registry for the minting daemon.
func Mintd() *MintdMetrics {
	mintdMetricsOnce.Do(func() {
		mintdRegistry = &MintdMetrics{
			attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "mintbot",
				Subsystem: "mintd",
				Name:      "attempts_total",
				Help:      "Mint attempts recorded in the ledger by network and status.",
			}, []string{"network", "status"}),
			mintLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "mintbot",
				Subsystem: "mintd",
				Name:      "mint_latency_seconds",
				Help:      "Time from submission to a classified outcome.",
				Buckets:   []float64{1, 2, 5, 10, 20, 30, 60, 120, 300},
			}, []string{"network"}),
			quotaRemaining: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "mintbot",
				Subsystem: "mintd",
				Name:      "primary_quota_remaining",
				Help:      "Primary-network attempts left for the current UTC day.",
			}),
			quotaUsage: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "mintbot",
				Subsystem: "mintd",
				Name:      "primary_quota_utilization",
				Help:      "Ratio of consumed primary quota for the current UTC day (0-1).",
			}),
			ownerBalance: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "mintbot",
				Subsystem: "mintd",
				Name:      "owner_balance",
				Help:      "Last observed owner balance in native currency units.",
			}, []string{"network"}),
			gasPause: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "mintbot",
				Subsystem: "mintd",
				Name:      "gas_pause_engaged",
				Help:      "Indicates whether a network is paused for low gas (1) or not (0).",
			}, []string{"network"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "mintbot",
				Subsystem: "mintd",
				Name:      "errors_total",
				Help:      "Count of engine errors segmented by network and reason.",
			}, []string{"network", "reason"}),
			backups: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "mintbot",
				Subsystem: "mintd",
				Name:      "backups_total",
				Help:      "Ledger exports by trigger and outcome.",
			}, []string{"trigger", "outcome"}),
			alerts: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "mintbot",
				Subsystem: "mintd",
				Name:      "alerts_total",
				Help:      "Alerts dispatched by kind and outcome.",
			}, []string{"kind", "outcome"}),
			running: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "mintbot",
				Subsystem: "mintd",
				Name:      "engine_running",
				Help:      "Indicates whether the scheduler loop is running (1) or not (0).",
			}),
		}
		prometheus.MustRegister(
			mintdRegistry.attempts,
			mintdRegistry.mintLatency,
			mintdRegistry.quotaRemaining,
			mintdRegistry.quotaUsage,
			mintdRegistry.ownerBalance,
			mintdRegistry.gasPause,
			mintdRegistry.errors,
			mintdRegistry.backups,
			mintdRegistry.alerts,
			mintdRegistry.running,
		)
	})
	return mintdRegistry
}

// RecordAttempt counts a finalized attempt and its latency.
func (m *MintdMetrics) RecordAttempt(network, status string, d time.Duration) {
	if m == nil {
		return
	}
	label := labelNetwork(network)
	m.attempts.WithLabelValues(label, strings.ToLower(strings.TrimSpace(status))).Inc()
	m.mintLatency.WithLabelValues(label).Observe(d.Seconds())
}

// RecordQuota updates the remaining quota and utilisation gauges.
func (m *MintdMetrics) RecordQuota(count, limit int) {
	if m == nil {
		return
	}
	remaining := limit - count
	if remaining < 0 {
		remaining = 0
	}
	m.quotaRemaining.Set(float64(remaining))
	usage := 0.0
	if limit > 0 {
		usage = math.Min(float64(count)/float64(limit), 1)
	}
	m.quotaUsage.Set(usage)
}

// RecordBalance stores the owner balance, given in wei, as native units.
func (m *MintdMetrics) RecordBalance(network string, wei *big.Int) {
	if m == nil {
		return
	}
	m.ownerBalance.WithLabelValues(labelNetwork(network)).Set(weiToFloat(wei))
}

// SetGasPause toggles the gas_pause_engaged gauge for a network.
func (m *MintdMetrics) SetGasPause(network string, engaged bool) {
	if m == nil {
		return
	}
	value := 0.0
	if engaged {
		value = 1
	}
	m.gasPause.WithLabelValues(labelNetwork(network)).Set(value)
}

// RecordError increments the error counter for the supplied reason.
func (m *MintdMetrics) RecordError(network, reason string) {
	if m == nil {
		return
	}
	if reason = strings.TrimSpace(reason); reason == "" {
		reason = "unspecified"
	}
	m.errors.WithLabelValues(labelNetwork(network), reason).Inc()
}

// RecordBackup counts a ledger export attempt.
func (m *MintdMetrics) RecordBackup(trigger string, err error) {
	if m == nil {
		return
	}
	m.backups.WithLabelValues(trigger, outcome(err)).Inc()
}

// RecordAlert counts an alert dispatch attempt.
func (m *MintdMetrics) RecordAlert(kind string, err error) {
	if m == nil {
		return
	}
	m.alerts.WithLabelValues(kind, outcome(err)).Inc()
}

// SetRunning toggles the engine_running gauge.
func (m *MintdMetrics) SetRunning(running bool) {
	if m == nil {
		return
	}
	if running {
		m.running.Set(1)
		return
	}
	m.running.Set(0)
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func labelNetwork(network string) string {
	trimmed := strings.TrimSpace(network)
	if trimmed == "" {
		return "unknown"
	}
	return strings.ToLower(trimmed)
}

var weiPerUnit = new(big.Float).SetFloat64(1e18)

func weiToFloat(value *big.Int) float64 {
	if value == nil {
		return 0
	}
	floatVal, _ := new(big.Float).Quo(new(big.Float).SetInt(value), weiPerUnit).Float64()
	// Guard against NaN/Inf when conversion fails.
	if math.IsNaN(floatVal) || math.IsInf(floatVal, 0) {
		return 0
	}
	return floatVal
}
