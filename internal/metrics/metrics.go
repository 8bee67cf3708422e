// Package metrics registers the Prometheus instrumentation for the server.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "harmony_active_sessions",
		Help: "Number of live WebSocket sessions",
	})

	FramesIn = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "harmony_frames_in_total",
		Help: "Inbound frames by type",
	}, []string{"type"})

	FramesOut = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "harmony_frames_out_total",
		Help: "Outbound frames by type",
	}, []string{"type"})

	FramesDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "harmony_frames_dropped_total",
		Help: "Non-critical frames dropped under backpressure",
	})

	SlowConsumerCloses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "harmony_slow_consumer_closes_total",
		Help: "Sessions closed because the outbound queue overflowed",
	})

	LockAcquires = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "harmony_lock_acquires_total",
		Help: "Lock acquire attempts by result (granted, refreshed, denied)",
	}, []string{"result"})

	ClaimsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "harmony_claims_total",
		Help: "Claim attempts by result (won, conflict)",
	}, []string{"result"})

	LocksExpired = promauto.NewCounter(prometheus.CounterOpts{
		Name: "harmony_locks_expired_total",
		Help: "Locks dropped by the sweeper",
	})

	TasksByStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "harmony_tasks",
		Help: "Tasks by lifecycle status",
	}, []string{"status"})

	EditConflicts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "harmony_edit_conflicts_total",
		Help: "Edit submissions that collided inside the conflict window",
	})

	VotesRecorded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "harmony_votes_recorded_total",
		Help: "Votes recorded (re-casts included)",
	})

	Interventions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "harmony_interventions_total",
		Help: "Diversity interventions by kind",
	}, []string{"kind"})

	SnapshotDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "harmony_snapshot_write_seconds",
		Help:    "Duration of snapshot writes by file",
		Buckets: prometheus.DefBuckets,
	}, []string{"file"})

	SnapshotErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "harmony_snapshot_errors_total",
		Help: "Snapshot write failures by file",
	}, []string{"file"})
)
