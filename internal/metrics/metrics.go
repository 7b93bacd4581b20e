// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	conflictsDetected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "calrecon",
			Subsystem: "detector",
			Name:      "conflicts_total",
			Help:      "Conflicts reported by detection passes.",
		},
		[]string{"type", "severity"},
	)
	detectDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "calrecon",
			Subsystem: "detector",
			Name:      "pass_duration_seconds",
			Help:      "Duration of a full detection pass.",
			Buckets:   prometheus.DefBuckets,
		},
	)
	mailsSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "calrecon",
			Subsystem: "notifier",
			Name:      "mails_total",
			Help:      "Conflict mails handed to the sender.",
		},
		[]string{"success"},
	)
	ledgerResets = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "calrecon",
			Subsystem: "ledger",
			Name:      "reset_rows_total",
			Help:      "Ledger rows deleted by topology changes.",
		},
	)
	linkMutations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "calrecon",
			Subsystem: "linkgraph",
			Name:      "mutations_total",
			Help:      "Group and ungroup operations.",
		},
		[]string{"op", "result"},
	)
	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "calrecon",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		},
		[]string{"method", "route", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "calrecon",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)
)

// Register adds the collectors to the default registry. Safe to call often.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(conflictsDetected, detectDuration, mailsSent, ledgerResets,
			linkMutations, httpRequests, httpDuration)
	})
}

func RecordConflict(conflictType, severity string) {
	Register()
	conflictsDetected.WithLabelValues(conflictType, severity).Inc()
}

func RecordDetectPass(d time.Duration) {
	Register()
	detectDuration.Observe(d.Seconds())
}

func RecordMail(success bool) {
	Register()
	mailsSent.WithLabelValues(strconv.FormatBool(success)).Inc()
}

func RecordLedgerReset(rows int) {
	Register()
	ledgerResets.Add(float64(rows))
}

func RecordLinkMutation(op string, err error) {
	Register()
	result := "ok"
	if err != nil {
		result = "error"
	}
	linkMutations.WithLabelValues(op, result).Inc()
}

func RecordHTTPRequest(method, route string, status int, duration time.Duration) {
	Register()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(method, route, statusLabel).Inc()
	httpDuration.WithLabelValues(method, route, statusLabel).Observe(duration.Seconds())
}
