// Package metrics registers the Prometheus collectors of the speaking
// exam service. Collectors are package-level so the core components can
// record without threading a registry through every constructor.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "exstem_speaking"

var (
	// SessionsActive counts flow controllers between Start and teardown.
	SessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "sessions_active",
		Help:      "Current number of running exam sessions",
	})

	// StageTransitions counts entered stages by stage name.
	StageTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "stage_transitions_total",
		Help:      "Total number of stage transitions",
	}, []string{"stage"})

	// ActiveMicrophoneStreams must return to zero after every session.
	ActiveMicrophoneStreams = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "active_microphone_streams",
		Help:      "Current number of open microphone streams",
	})

	RecordingDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "recording_duration_seconds",
		Help:      "Duration of finalized recordings",
		Buckets:   []float64{5, 10, 20, 30, 45, 60, 90, 120, 180},
	})

	PlaybackDegraded = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "playback_degraded_total",
		Help:      "Total number of prompt playbacks that failed or had no audio",
	})

	// SubmissionAttempts counts upload attempts by result (ok, retry, failed).
	SubmissionAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "submission_attempts_total",
		Help:      "Total number of submission upload attempts",
	}, []string{"result"})

	SessionErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "session_errors_total",
		Help:      "Errors surfaced to hosts by error code",
	}, []string{"code"})
)
