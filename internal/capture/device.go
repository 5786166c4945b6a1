// Package capture owns the microphone device and fans captured frames out to
// the engine's readers.
package capture

import (
	"context"
	"errors"
	"time"
)

// Errors surfaced when a device cannot be acquired.
var (
	ErrPermissionDenied  = errors.New("capture: microphone permission denied")
	ErrDeviceUnavailable = errors.New("capture: microphone device unavailable")
	ErrAlreadyAcquired   = errors.New("capture: device already acquired")
)

// Frame is one slice of captured PCM audio (16-bit little-endian mono).
type Frame struct {
	Data       []byte
	SampleRate int
	CapturedAt time.Time
	Duration   time.Duration
}

// Device is the capability interface over a physical or simulated
// microphone. Implementations deliver frames on the channel returned by
// Frames until Close is called or the source is exhausted, then close it.
type Device interface {
	// Open starts capture. Failures are ErrPermissionDenied or
	// ErrDeviceUnavailable (possibly wrapped).
	Open(ctx context.Context) error

	// Frames returns the capture stream. Valid after Open.
	Frames() <-chan Frame

	// Close stops capture and releases the device. Idempotent.
	Close() error
}
