// Package mock provides a deterministic recognition adapter used when no
// remote engine is reachable and in tests. It simulates realistic behavior:
// progressive interim results, exactly one final per utterance, and a
// hash-based deterministic speaker assignment.
package mock

import (
	"context"
	"hash/fnv"
	"strconv"
	"sync"
	"time"

	"live-caption-engine/internal/recognize"
)

// speakerPool is the number of distinct speakers the mock can attribute.
const speakerPool = 3

// SimulatedUtterance is one scripted utterance with progressive interims.
type SimulatedUtterance struct {
	Interims   []string
	Final      string
	Duration   float64 // spoken length in seconds
	Confidence float64
}

// DefaultUtterances provides sample utterances for simulation.
var DefaultUtterances = []SimulatedUtterance{
	{
		Interims:   []string{"Let's get", "Let's get started with"},
		Final:      "Let's get started with the agenda",
		Duration:   2.1,
		Confidence: 0.94,
	},
	{
		Interims:   []string{"I think the", "I think the deadline"},
		Final:      "I think the deadline is too tight",
		Duration:   1.8,
		Confidence: 0.91,
	},
	{
		Interims:   []string{"Can we", "Can we move that"},
		Final:      "Can we move that to next week",
		Duration:   1.6,
		Confidence: 0.97,
	},
	{
		Interims:   []string{"Sounds good"},
		Final:      "Sounds good to me",
		Duration:   1.2,
		Confidence: 0.98,
	},
	{
		Interims:   []string{"Any other", "Any other open"},
		Final:      "Any other open questions before we wrap up",
		Duration:   2.4,
		Confidence: 0.89,
	},
}

// Adapter implements recognize.Adapter with scripted responses. Each
// utterance's speaker is derived deterministically from the audio bytes that
// opened it, so the same input always yields the same attribution.
type Adapter struct {
	// Latency is the simulated processing delay before each event. Set it
	// before Start.
	Latency time.Duration

	mu           sync.Mutex
	cb           recognize.Callback
	utterances   []SimulatedUtterance
	uttIndex     int
	interimIndex int
	speakerID    string
	offset       float64
	closed       bool
	events       chan func()
	done         chan struct{}
}

// New creates a mock adapter cycling through the default utterances.
func New() *Adapter {
	return &Adapter{
		Latency:    50 * time.Millisecond,
		utterances: DefaultUtterances,
	}
}

// NewScripted creates a mock adapter with a custom utterance script.
func NewScripted(utterances []SimulatedUtterance) *Adapter {
	return &Adapter{
		Latency:    50 * time.Millisecond,
		utterances: utterances,
	}
}

// Start registers the callback receiver and starts the event dispatcher.
// Events are delivered one at a time in emission order.
func (a *Adapter) Start(ctx context.Context, cb recognize.Callback) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cb = cb
	if a.events == nil {
		a.events = make(chan func(), 64)
		a.done = make(chan struct{})
		go a.dispatch(a.events, a.done, a.Latency)
	}
	return nil
}

func (a *Adapter) dispatch(events <-chan func(), done chan struct{}, latency time.Duration) {
	defer close(done)
	for fn := range events {
		if latency > 0 {
			time.Sleep(latency)
		}
		fn()
	}
}

// SendAudio advances the simulation: the first frame of an utterance fixes
// its speaker, subsequent frames emit the next interim, and once interims
// are exhausted the final is emitted and the script moves on.
func (a *Adapter) SendAudio(ctx context.Context, audio []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed || a.cb == nil || len(a.utterances) == 0 {
		return nil
	}

	utt := a.utterances[a.uttIndex%len(a.utterances)]

	if a.speakerID == "" {
		a.speakerID = SpeakerFor(audio)
	}

	if a.interimIndex < len(utt.Interims) {
		text := utt.Interims[a.interimIndex]
		a.interimIndex++
		a.emit(func(cb recognize.Callback) { cb.OnInterim(text) })
		return nil
	}

	res := recognize.Result{
		Text:            utt.Final,
		Confidence:      utt.Confidence,
		SpeakerID:       a.speakerID,
		OffsetSeconds:   a.offset,
		DurationSeconds: utt.Duration,
	}
	a.emit(func(cb recognize.Callback) { cb.OnFinal(res) })

	// Next utterance: half a second of simulated silence between speakers.
	a.offset += utt.Duration + 0.5
	a.uttIndex++
	a.interimIndex = 0
	a.speakerID = ""
	return nil
}

// Close ends the session, waiting for in-flight events to land. Events
// already emitted are still delivered so a stop never loses a spoken final.
// Idempotent.
func (a *Adapter) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	events := a.events
	done := a.done
	a.mu.Unlock()

	if events != nil {
		close(events)
		<-done
	}
	return nil
}

// Done reports dispatcher termination. The mock drains synchronously in
// Close, so Done is closed by the time Close returns.
func (a *Adapter) Done() <-chan struct{} {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.done == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.done
}

// emit queues one event for ordered delivery. Caller holds a.mu.
func (a *Adapter) emit(fn func(recognize.Callback)) {
	cb := a.cb
	a.events <- func() { fn(cb) }
}

// SpeakerFor derives a deterministic speaker id from the leading audio
// bytes, mirroring the fallback attribution used when no diarization engine
// is reachable.
func SpeakerFor(audio []byte) string {
	h := fnv.New32a()
	if len(audio) > 100 {
		audio = audio[:100]
	}
	h.Write(audio)
	return strconv.Itoa(int(h.Sum32())%speakerPool + 1)
}
