package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	commandsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bank_commands_processed_total",
		Help: "Commands processed, labeled by command type and outcome",
	}, []string{"command", "outcome"})

	commandDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "bank_command_duration_seconds",
		Help:    "Latency distribution of command processing",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	}, []string{"command"})
)

func observeOutcome(command, reason string) {
	outcome := "confirmed"
	if reason != "" {
		outcome = "failed"
	}
	commandsProcessed.WithLabelValues(command, outcome).Inc()
}
