// Package recognize defines the capability interface for streaming
// speech-recognition adapters.
package recognize

import "context"

// Result is a final recognition event: an immutable transcription of a
// completed speech segment.
type Result struct {
	// Text is the transcribed text.
	Text string

	// Confidence is the engine's confidence in [0,1], 0 when unknown.
	Confidence float64

	// SpeakerID is the engine's anonymous diarization label for the
	// segment; empty when the engine reports none.
	SpeakerID string

	// OffsetSeconds is the position of the segment on the speech timeline.
	OffsetSeconds float64

	// DurationSeconds is the spoken length of the segment.
	DurationSeconds float64
}

// Callback receives recognition events from the adapter.
type Callback interface {
	// OnInterim is called with a speculative partial transcription. Interim
	// text is revisable and never persisted.
	OnInterim(text string)

	// OnFinal is called once per completed speech segment.
	OnFinal(res Result)

	// OnError is called when the connection fails. The adapter emits no
	// further events after an error.
	OnError(err error)
}

// Adapter is one duplex recognition connection. The engine opens a fresh
// adapter per recording phase and per reconnect.
type Adapter interface {
	// Start opens the connection and registers the callback receiver.
	Start(ctx context.Context, cb Callback) error

	// SendAudio forwards captured audio bytes to the engine.
	SendAudio(ctx context.Context, audio []byte) error

	// Close ends the connection and releases resources. Idempotent.
	Close() error

	// Done returns a channel closed once the connection has fully
	// terminated and no further events will be delivered. Stop paths wait
	// on it, bounded by a drain timeout, instead of sleeping.
	Done() <-chan struct{}
}

// Factory builds a fresh adapter for each connection attempt.
type Factory func(ctx context.Context) (Adapter, error)
