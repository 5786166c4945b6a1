package transcript

import (
	"sort"
	"strconv"
	"sync"
	"time"

	"live-caption-engine/internal/models"
	"live-caption-engine/internal/observability/metrics"
	"live-caption-engine/internal/recognize"
)

// segmentKey identifies a final result across reconnects. The connection
// epoch qualifies offset+duration+speaker so a replay on a new connection
// of a segment already appended is suppressed, while genuinely new segments
// that happen to share an offset are not.
type segmentKey struct {
	epoch      int
	offsetMs   int64
	durationMs int64
	speakerID  string
}

// Aggregator accumulates final transcript segments in display order. It is
// the transcript's only mutator. Interim results are held separately and
// overwritten by each successor.
type Aggregator struct {
	mu       sync.Mutex
	registry *SpeakerRegistry
	segments []models.TranscriptSegment
	seen     map[segmentKey]struct{}
	interim  models.InterimResult
	metrics  *metrics.Metrics
	now      func() time.Time
}

// NewAggregator creates an empty aggregator with a fresh speaker registry.
func NewAggregator() *Aggregator {
	return &Aggregator{
		registry: NewSpeakerRegistry(),
		seen:     make(map[segmentKey]struct{}),
		metrics:  metrics.DefaultMetrics,
		now:      time.Now,
	}
}

// Append adds a final result under the given connection epoch. Returns
// false when the result is a duplicate and was suppressed. Ordering is by
// offset first, arrival order on equal offsets.
func (a *Aggregator) Append(epoch int, res recognize.Result) bool {
	key := segmentKey{
		epoch:      epoch,
		offsetMs:   int64(res.OffsetSeconds * 1000),
		durationMs: int64(res.DurationSeconds * 1000),
		speakerID:  res.SpeakerID,
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if _, dup := a.seen[key]; dup {
		a.metrics.RecordDuplicateSegment()
		return false
	}
	a.seen[key] = struct{}{}

	// Diarization identity does not survive a reconnect: the engine numbers
	// speakers per connection, so the raw id is namespaced by epoch before it
	// reaches the registry. A speaker first heard after a reconnect gets a
	// fresh label rather than silently aliasing an earlier one.
	speakerID := strconv.Itoa(epoch) + ":" + res.SpeakerID

	info := a.registry.GetOrCreate(speakerID)
	seg := models.TranscriptSegment{
		SpeakerID:       speakerID,
		DisplayLabel:    info.Label,
		ColorToken:      info.Color,
		Text:            res.Text,
		OffsetSeconds:   res.OffsetSeconds,
		DurationSeconds: res.DurationSeconds,
		Confidence:      res.Confidence,
		ClientTimestamp: a.now().UnixMilli(),
	}

	// Upper-bound insertion keeps arrival order among equal offsets.
	i := sort.Search(len(a.segments), func(i int) bool {
		return a.segments[i].OffsetSeconds > seg.OffsetSeconds
	})
	a.segments = append(a.segments, models.TranscriptSegment{})
	copy(a.segments[i+1:], a.segments[i:])
	a.segments[i] = seg

	a.metrics.RecordFinalSegment()
	return true
}

// SetInterim replaces the current speculative result.
func (a *Aggregator) SetInterim(text string) {
	a.mu.Lock()
	a.interim = models.InterimResult{Text: text, Timestamp: a.now().UnixMilli()}
	a.mu.Unlock()
	a.metrics.RecordInterim()
}

// ClearInterim drops the speculative result, e.g. on pause or stop.
func (a *Aggregator) ClearInterim() {
	a.mu.Lock()
	a.interim = models.InterimResult{}
	a.mu.Unlock()
}

// Interim returns the current speculative result.
func (a *Aggregator) Interim() models.InterimResult {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.interim
}

// Snapshot returns a copy of the ordered transcript.
func (a *Aggregator) Snapshot() []models.TranscriptSegment {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]models.TranscriptSegment, len(a.segments))
	copy(out, a.segments)
	return out
}

// Len returns the number of appended segments.
func (a *Aggregator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.segments)
}

// SpeakerCount returns the number of distinct speakers attributed so far.
func (a *Aggregator) SpeakerCount() int {
	return a.registry.Count()
}
