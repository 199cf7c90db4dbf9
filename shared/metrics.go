package shared

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Job orchestration metrics
var (
	JobsSubmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "media",
			Subsystem: "jobs",
			Name:      "submitted_total",
			Help:      "Total number of jobs accepted into the queue",
		},
		[]string{"priority", "kind"},
	)

	JobsFinished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "media",
			Subsystem: "jobs",
			Name:      "finished_total",
			Help:      "Total number of jobs that reached a terminal state",
		},
		[]string{"state"},
	)

	JobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "media",
			Subsystem: "jobs",
			Name:      "duration_seconds",
			Help:      "Time spent by a worker executing a job",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		},
		[]string{"kind", "state"},
	)

	QueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "media",
			Subsystem: "queue",
			Name:      "depth",
			Help:      "Jobs waiting in each priority lane of the local queue",
		},
		[]string{"priority"},
	)

	ActiveWorkers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "media",
			Subsystem: "workers",
			Name:      "active",
			Help:      "Workers currently executing a job",
		},
	)

	CacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "media",
			Subsystem: "cache",
			Name:      "lookups_total",
			Help:      "Metadata cache lookups by result",
		},
		[]string{"result"},
	)
)
