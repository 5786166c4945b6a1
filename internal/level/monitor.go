// Package level monitors captured audio loudness independently of the
// recording state, so the user gets feedback on microphone quality even
// while paused.
package level

import (
	"encoding/binary"
	"math"
	"sync"
	"time"

	"live-caption-engine/internal/capture"
	"live-caption-engine/internal/models"
	"live-caption-engine/internal/observability/logging"
	"live-caption-engine/internal/observability/metrics"

	"github.com/rs/zerolog"
)

// Thresholds hold the RMS classification boundaries.
type Thresholds struct {
	TooLow  float64
	TooHigh float64
}

// DefaultThresholds returns the standard classification boundaries.
func DefaultThresholds() Thresholds {
	return Thresholds{TooLow: 0.05, TooHigh: 0.85}
}

// Classify maps an RMS value in [0,1] to a loudness classification.
func Classify(rms float64, t Thresholds) string {
	switch {
	case rms < t.TooLow:
		return models.LevelTooLow
	case rms > t.TooHigh:
		return models.LevelTooHigh
	default:
		return models.LevelOptimal
	}
}

type windowEntry struct {
	at         time.Time
	sumSquares float64
	samples    int
}

// Monitor computes a sliding-window RMS over a capture tap at a fixed
// refresh cadence. Its lifecycle is independent of the session state
// machine: it runs from Start until Stop regardless of pause/resume.
type Monitor struct {
	thresholds Thresholds
	window     time.Duration
	refresh    time.Duration
	frames     <-chan capture.Frame
	metrics    *metrics.Metrics
	logger     zerolog.Logger

	mu      sync.Mutex
	entries []windowEntry
	current models.AudioLevelSample

	startOnce sync.Once
	stopOnce  sync.Once
	stop      chan struct{}
	done      chan struct{}
}

// NewMonitor creates a monitor reading from the given frame stream.
func NewMonitor(frames <-chan capture.Frame, thresholds Thresholds, window, refresh time.Duration) *Monitor {
	if window <= 0 {
		window = time.Second
	}
	if refresh <= 0 {
		refresh = 200 * time.Millisecond
	}
	return &Monitor{
		thresholds: thresholds,
		window:     window,
		refresh:    refresh,
		frames:     frames,
		metrics:    metrics.DefaultMetrics,
		logger:     logging.WithComponent("level"),
		current:    models.AudioLevelSample{Classification: models.LevelTooLow},
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// Start begins consuming frames and refreshing the classification.
func (m *Monitor) Start() {
	m.startOnce.Do(func() {
		go m.run()
	})
}

// Current returns the most recent level sample.
func (m *Monitor) Current() models.AudioLevelSample {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Stop tears down the monitor. Idempotent.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() {
		close(m.stop)
	})
	<-m.done
}

func (m *Monitor) run() {
	defer close(m.done)
	ticker := time.NewTicker(m.refresh)
	defer ticker.Stop()

	for {
		select {
		case f, ok := <-m.frames:
			if !ok {
				// Capture released; keep refreshing so the window decays to
				// silence instead of freezing on the last reading.
				m.frames = nil
				continue
			}
			m.ingest(f)
		case <-ticker.C:
			m.recompute(time.Now())
		case <-m.stop:
			return
		}
	}
}

func (m *Monitor) ingest(f capture.Frame) {
	sum, n := frameEnergy(f.Data)
	if n == 0 {
		return
	}
	m.mu.Lock()
	m.entries = append(m.entries, windowEntry{at: f.CapturedAt, sumSquares: sum, samples: n})
	m.mu.Unlock()
}

func (m *Monitor) recompute(now time.Time) {
	cutoff := now.Add(-m.window)

	m.mu.Lock()
	kept := m.entries[:0]
	var sum float64
	var n int
	for _, e := range m.entries {
		if e.at.Before(cutoff) {
			continue
		}
		kept = append(kept, e)
		sum += e.sumSquares
		n += e.samples
	}
	m.entries = kept

	rms := 0.0
	if n > 0 {
		rms = math.Sqrt(sum / float64(n))
	}
	m.current = models.AudioLevelSample{
		RMS:            rms,
		Classification: Classify(rms, m.thresholds),
	}
	sample := m.current
	m.mu.Unlock()

	m.metrics.RecordLevel(sample.RMS, sample.Classification)
}

// frameEnergy sums squared normalized samples of a 16-bit LE mono frame.
func frameEnergy(data []byte) (sumSquares float64, samples int) {
	for i := 0; i+1 < len(data); i += 2 {
		s := int16(binary.LittleEndian.Uint16(data[i:]))
		v := float64(s) / math.MaxInt16
		sumSquares += v * v
		samples++
	}
	return sumSquares, samples
}
