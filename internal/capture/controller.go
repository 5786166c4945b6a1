package capture

import (
	"context"
	"sync"

	"live-caption-engine/internal/observability/logging"
	"live-caption-engine/internal/observability/metrics"

	"github.com/rs/zerolog"
)

// Tap is one independent reader over the shared capture stream. A tap that
// cannot keep up has frames dropped rather than stalling the device or the
// other taps.
type Tap struct {
	name string
	ch   chan Frame

	mu     sync.Mutex
	closed bool
}

// Frames returns the tap's frame channel. Closed when the tap or the
// controller is released.
func (t *Tap) Frames() <-chan Frame {
	return t.ch
}

// Close detaches the tap. Idempotent.
func (t *Tap) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	t.closed = true
	close(t.ch)
}

func (t *Tap) deliver(f Frame, m *metrics.Metrics) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	select {
	case t.ch <- f:
	default:
		m.RecordFrameDropped(t.name)
	}
}

// Controller holds exclusive ownership of one capture device and is the only
// component that touches it. Readers attach through Tap; the controller pumps
// every captured frame to every attached tap.
type Controller struct {
	device  Device
	metrics *metrics.Metrics
	logger  zerolog.Logger

	mu       sync.Mutex
	acquired bool
	opening  bool
	taps     []*Tap
	pumpDone chan struct{}
}

// NewController creates a controller around the given device.
func NewController(device Device) *Controller {
	return &Controller{
		device:  device,
		metrics: metrics.DefaultMetrics,
		logger:  logging.WithComponent("capture"),
	}
}

// Acquire opens the device and starts the fan-out pump. A second Acquire
// without an intervening Release fails with ErrAlreadyAcquired. On open
// failure nothing is held.
//
// The mutex is not held across the blocking device open: a Release arriving
// while the open is in flight returns immediately as a no-op, and the
// acquisition completes normally. The caller that started the Acquire still
// owns the eventual Release.
func (c *Controller) Acquire(ctx context.Context) error {
	c.mu.Lock()
	if c.acquired || c.opening {
		c.mu.Unlock()
		return ErrAlreadyAcquired
	}
	c.opening = true
	c.mu.Unlock()

	err := c.device.Open(ctx)

	c.mu.Lock()
	c.opening = false
	if err != nil {
		c.mu.Unlock()
		return err
	}
	c.acquired = true
	c.pumpDone = make(chan struct{})
	done := c.pumpDone
	c.mu.Unlock()

	go c.pump(c.device.Frames(), done)
	c.logger.Info().Msg("Capture device acquired")
	return nil
}

// Tap attaches a named reader with the given channel capacity.
func (c *Controller) Tap(name string, buffer int) *Tap {
	t := &Tap{name: name, ch: make(chan Frame, buffer)}
	c.mu.Lock()
	c.taps = append(c.taps, t)
	c.mu.Unlock()
	return t
}

// Acquired reports whether the device is currently held.
func (c *Controller) Acquired() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.acquired
}

// Release closes the device, waits for the pump to drain, and closes all
// taps. Idempotent; safe on every exit path.
func (c *Controller) Release() {
	c.mu.Lock()
	if !c.acquired {
		c.mu.Unlock()
		return
	}
	c.acquired = false
	done := c.pumpDone
	taps := c.taps
	c.taps = nil
	c.mu.Unlock()

	if err := c.device.Close(); err != nil {
		c.logger.Warn().Err(err).Msg("Error closing capture device")
	}
	<-done
	for _, t := range taps {
		t.Close()
	}
	c.logger.Info().Msg("Capture device released")
}

func (c *Controller) pump(frames <-chan Frame, done chan struct{}) {
	defer close(done)
	for f := range frames {
		c.metrics.RecordAudioCaptured(len(f.Data))

		c.mu.Lock()
		taps := make([]*Tap, len(c.taps))
		copy(taps, c.taps)
		c.mu.Unlock()

		for _, t := range taps {
			t.deliver(f, c.metrics)
		}
	}
}
