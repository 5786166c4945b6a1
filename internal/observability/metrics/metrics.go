// Package metrics provides Prometheus metrics for observability.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "live_caption"

// Metrics holds all Prometheus metrics for the engine.
type Metrics struct {
	// Session metrics
	SessionsStarted prometheus.Counter
	SessionsActive  prometheus.Gauge
	SessionsStopped *prometheus.CounterVec
	SessionsErrored *prometheus.CounterVec
	SessionDuration prometheus.Histogram
	PauseCycles     prometheus.Counter
	TimeLimitStops  prometheus.Counter

	// Transcript metrics
	SegmentsFinal     prometheus.Counter
	SegmentsInterim   prometheus.Counter
	SegmentsDuplicate prometheus.Counter
	SpeakersDistinct  prometheus.Histogram

	// Pipeline metrics
	ConnectionsOpened prometheus.Counter
	Reconnects        prometheus.Counter
	TransientErrors   *prometheus.CounterVec

	// Capture metrics
	AudioBytesCaptured  prometheus.Counter
	AudioFramesCaptured prometheus.Counter
	AudioFramesDropped  *prometheus.CounterVec

	// Audio level metrics
	LevelRMS            prometheus.Gauge
	LevelClassification *prometheus.CounterVec

	// History publish metrics
	HistoryPublishTotal   prometheus.Counter
	HistoryPublishErrors  prometheus.Counter
	HistoryPublishLatency prometheus.Histogram
}

// DefaultMetrics is the global metrics instance.
var DefaultMetrics = NewMetrics()

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		SessionsStarted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_started_total",
			Help:      "Total number of recording sessions started",
		}),
		SessionsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of currently active recording sessions",
		}),
		SessionsStopped: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_stopped_total",
			Help:      "Total number of sessions stopped",
		}, []string{"reason"}),
		SessionsErrored: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_errored_total",
			Help:      "Total number of sessions that entered the error state",
		}, []string{"cause"}),
		SessionDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_duration_seconds",
			Help:      "Recorded (non-paused) duration of sessions in seconds",
			Buckets:   []float64{10, 30, 60, 300, 600, 1800, 3600, 7200},
		}),
		PauseCycles: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pause_cycles_total",
			Help:      "Total number of pause/resume cycles",
		}),
		TimeLimitStops: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "time_limit_stops_total",
			Help:      "Total number of automatic stops due to the session time limit",
		}),

		SegmentsFinal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "segments_final_total",
			Help:      "Total number of final transcript segments appended",
		}),
		SegmentsInterim: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "segments_interim_total",
			Help:      "Total number of interim results received",
		}),
		SegmentsDuplicate: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "segments_duplicate_total",
			Help:      "Total number of duplicate final segments suppressed",
		}),
		SpeakersDistinct: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "speakers_distinct",
			Help:      "Distinct speakers observed per finalized session",
			Buckets:   []float64{1, 2, 3, 4, 6, 8, 12},
		}),

		ConnectionsOpened: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recognizer_connections_total",
			Help:      "Total number of recognizer connections opened",
		}),
		Reconnects: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recognizer_reconnects_total",
			Help:      "Total number of reconnects after a dropped connection",
		}),
		TransientErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transient_errors_total",
			Help:      "Total number of absorbed transient errors",
		}, []string{"kind"}),

		AudioBytesCaptured: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_bytes_captured_total",
			Help:      "Total audio bytes captured from the device",
		}),
		AudioFramesCaptured: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_frames_captured_total",
			Help:      "Total audio frames captured from the device",
		}),
		AudioFramesDropped: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_frames_dropped_total",
			Help:      "Total audio frames dropped by slow tap readers",
		}, []string{"tap"}),

		LevelRMS: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "audio_level_rms",
			Help:      "Most recent sliding-window RMS of the captured audio",
		}),
		LevelClassification: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_level_classifications_total",
			Help:      "Total audio level samples by classification",
		}, []string{"classification"}),

		HistoryPublishTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "history_publish_total",
			Help:      "Total number of finalized sessions handed to the history store",
		}),
		HistoryPublishErrors: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "history_publish_errors_total",
			Help:      "Total number of history publish failures",
		}),
		HistoryPublishLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "history_publish_latency_seconds",
			Help:      "History publish latency in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),
	}
}

// RecordSessionStart records a new session starting.
func (m *Metrics) RecordSessionStart() {
	m.SessionsStarted.Inc()
	m.SessionsActive.Inc()
}

// RecordSessionStop records a session reaching the stopped state.
func (m *Metrics) RecordSessionStop(reason string, durationSeconds float64, speakers int) {
	m.SessionsActive.Dec()
	m.SessionsStopped.WithLabelValues(reason).Inc()
	m.SessionDuration.Observe(durationSeconds)
	m.SpeakersDistinct.Observe(float64(speakers))
}

// RecordSessionError records a failed session start. The active gauge is
// untouched: it is only incremented once a session actually starts.
func (m *Metrics) RecordSessionError(cause string) {
	m.SessionsErrored.WithLabelValues(cause).Inc()
}

// RecordPauseCycle records a completed pause/resume cycle.
func (m *Metrics) RecordPauseCycle() {
	m.PauseCycles.Inc()
}

// RecordTimeLimitStop records an automatic stop at the time limit.
func (m *Metrics) RecordTimeLimitStop() {
	m.TimeLimitStops.Inc()
}

// RecordFinalSegment records a final segment appended to the transcript.
func (m *Metrics) RecordFinalSegment() {
	m.SegmentsFinal.Inc()
}

// RecordInterim records an interim result received.
func (m *Metrics) RecordInterim() {
	m.SegmentsInterim.Inc()
}

// RecordDuplicateSegment records a duplicate final suppressed by the aggregator.
func (m *Metrics) RecordDuplicateSegment() {
	m.SegmentsDuplicate.Inc()
}

// RecordConnection records a recognizer connection being opened.
func (m *Metrics) RecordConnection(reconnect bool) {
	m.ConnectionsOpened.Inc()
	if reconnect {
		m.Reconnects.Inc()
	}
}

// RecordTransientError records an absorbed transient error.
func (m *Metrics) RecordTransientError(kind string) {
	m.TransientErrors.WithLabelValues(kind).Inc()
}

// RecordAudioCaptured records bytes and frames read from the device.
func (m *Metrics) RecordAudioCaptured(bytes int) {
	m.AudioBytesCaptured.Add(float64(bytes))
	m.AudioFramesCaptured.Inc()
}

// RecordFrameDropped records a frame dropped by a slow tap.
func (m *Metrics) RecordFrameDropped(tap string) {
	m.AudioFramesDropped.WithLabelValues(tap).Inc()
}

// RecordLevel records an audio level sample.
func (m *Metrics) RecordLevel(rms float64, classification string) {
	m.LevelRMS.Set(rms)
	m.LevelClassification.WithLabelValues(classification).Inc()
}

// RecordHistoryPublish records a history publish attempt.
func (m *Metrics) RecordHistoryPublish(err error, latencySeconds float64) {
	m.HistoryPublishTotal.Inc()
	m.HistoryPublishLatency.Observe(latencySeconds)
	if err != nil {
		m.HistoryPublishErrors.Inc()
	}
}
