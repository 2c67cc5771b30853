package metrics

import (
	"database/sql"
	"log"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricPrefix = "roomcast_"

	resultSuccess = "success"
	resultError   = "error"
)

var (
	registerOnce sync.Once

	dispatchRequests *prometheus.CounterVec
	dispatchLatency  *prometheus.HistogramVec
	commandsClaimed  prometheus.Counter
	commandsExpired  prometheus.Counter
	commandsIssued   prometheus.Counter

	heartbeats *prometheus.CounterVec
	ackResults *prometheus.CounterVec
)

// Init registers observability metrics and DB-backed gauges.
func Init(db *sql.DB, logger *log.Logger) {
	registerOnce.Do(func() {
		dispatchRequests = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "dispatch_requests_total",
				Help: "Total command pull requests by result",
			},
			[]string{"result"},
		)
		dispatchLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "dispatch_latency_seconds",
				Help:    "Command pull latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		)
		commandsClaimed = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "commands_claimed_total",
				Help: "Total commands advanced from queued to sent",
			},
		)
		commandsExpired = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "commands_expired_total",
				Help: "Total commands swept to expired",
			},
		)
		commandsIssued = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "commands_issued_total",
				Help: "Total commands created by operators",
			},
		)
		heartbeats = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "heartbeats_total",
				Help: "Total device heartbeats by result",
			},
			[]string{"result"},
		)
		ackResults = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "command_acks_total",
				Help: "Total command acknowledgments by reported status",
			},
			[]string{"status"},
		)

		prometheus.MustRegister(
			dispatchRequests,
			dispatchLatency,
			commandsClaimed,
			commandsExpired,
			commandsIssued,
			heartbeats,
			ackResults,
		)

		if db != nil {
			registerDBMetrics(db, logger)
		}
	})
}

// ObserveDispatch records pull request duration and result.
func ObserveDispatch(result string, duration time.Duration) {
	if result == "" {
		result = resultSuccess
	}
	if dispatchRequests != nil {
		dispatchRequests.WithLabelValues(result).Inc()
	}
	if dispatchLatency != nil {
		dispatchLatency.WithLabelValues(result).Observe(duration.Seconds())
	}
}

// AddCommandsClaimed increments the claimed counter by count.
func AddCommandsClaimed(count int) {
	if count <= 0 {
		return
	}
	if commandsClaimed != nil {
		commandsClaimed.Add(float64(count))
	}
}

// AddCommandsExpired increments the expired counter by count.
func AddCommandsExpired(count int) {
	if count <= 0 {
		return
	}
	if commandsExpired != nil {
		commandsExpired.Add(float64(count))
	}
}

// IncCommandIssued increments the issued command counter.
func IncCommandIssued() {
	if commandsIssued != nil {
		commandsIssued.Inc()
	}
}

// IncHeartbeat increments heartbeat counter by result.
func IncHeartbeat(result string) {
	if result == "" {
		result = resultSuccess
	}
	if heartbeats != nil {
		heartbeats.WithLabelValues(result).Inc()
	}
}

// IncAckResult increments acknowledgment counter by reported status.
func IncAckResult(status string) {
	if status == "" {
		status = "unknown"
	}
	if ackResults != nil {
		ackResults.WithLabelValues(status).Inc()
	}
}

// Exported constants for callers.
const (
	ResultSuccess = resultSuccess
	ResultError   = resultError
)
