// Package pipeline feeds captured audio over one continuous recognition
// connection per recording phase and routes recognition events into the
// transcript aggregator.
package pipeline

import (
	"context"
	"sync"
	"time"

	"live-caption-engine/internal/capture"
	"live-caption-engine/internal/observability/logging"
	"live-caption-engine/internal/observability/metrics"
	"live-caption-engine/internal/recognize"
	"live-caption-engine/internal/transcript"

	"github.com/rs/zerolog"
)

// sendTimeout bounds one audio write so a stalled connection can never
// block subsequent frames.
const sendTimeout = 2 * time.Second

// maxBackoff caps the reconnect backoff growth.
const maxBackoff = 30 * time.Second

// Config tunes reconnection behavior.
type Config struct {
	// ReconnectBackoff is the initial delay between reconnect attempts;
	// it doubles per failed attempt up to maxBackoff.
	ReconnectBackoff time.Duration

	// ReconnectMax is the number of attempts after which failures are
	// logged at error level. Attempts never stop while the pipeline runs:
	// a lost connection is transient, not fatal.
	ReconnectMax int

	// StartEpoch seeds the connection epoch. A session resuming after a
	// pause passes the previous pipeline's last epoch so segment identities
	// stay unique across phases.
	StartEpoch int
}

// Pipeline owns the recognition connection for one recording phase.
// Connection loss is absorbed: frames arriving while disconnected are
// dropped (no audio crosses the gap) and a reconnect is attempted with
// bounded backoff under a new connection epoch.
type Pipeline struct {
	factory recognize.Factory
	agg     *transcript.Aggregator
	cfg     Config
	metrics *metrics.Metrics
	logger  zerolog.Logger

	mu           sync.Mutex
	epoch        int
	adapter      recognize.Adapter
	reconnecting bool
	attempt      int
	nextAttempt  time.Time
	stopped      bool

	stop chan struct{}
	done chan struct{}
}

// New creates a pipeline appending into the given aggregator.
func New(factory recognize.Factory, agg *transcript.Aggregator, cfg Config) *Pipeline {
	if cfg.ReconnectBackoff <= 0 {
		cfg.ReconnectBackoff = time.Second
	}
	if cfg.ReconnectMax <= 0 {
		cfg.ReconnectMax = 5
	}
	return &Pipeline{
		factory: factory,
		agg:     agg,
		cfg:     cfg,
		epoch:   cfg.StartEpoch,
		metrics: metrics.DefaultMetrics,
		logger:  logging.WithComponent("pipeline"),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Start opens the first connection and begins forwarding frames from the
// tap. A failure to open the initial connection is returned to the caller;
// everything after that is absorbed.
func (p *Pipeline) Start(ctx context.Context, frames <-chan capture.Frame) error {
	if err := p.connect(ctx, false); err != nil {
		return err
	}
	go p.run(ctx, frames)
	return nil
}

// Stop closes the connection and waits up to drain for in-flight
// recognition events to land. Idempotent.
func (p *Pipeline) Stop(drain time.Duration) {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		<-p.done
		return
	}
	p.stopped = true
	adapter := p.adapter
	p.adapter = nil
	p.mu.Unlock()

	close(p.stop)
	<-p.done

	if adapter != nil {
		// Closing the send side is the final flush: the engine emits any
		// pending finals before ending the stream.
		if err := adapter.Close(); err != nil {
			p.logger.Warn().Err(err).Msg("Error closing recognition connection")
		}
		if drain > 0 {
			select {
			case <-adapter.Done():
			case <-time.After(drain):
				p.logger.Warn().Dur("drain", drain).
					Msg("Recognition connection still draining at timeout")
			}
		}
	}
	p.agg.ClearInterim()
}

// Reconnecting reports whether the pipeline is between connections. Used by
// the UI boundary as the transient trouble indicator.
func (p *Pipeline) Reconnecting() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.reconnecting
}

// Epoch returns the current connection epoch.
func (p *Pipeline) Epoch() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.epoch
}

func (p *Pipeline) run(ctx context.Context, frames <-chan capture.Frame) {
	defer close(p.done)
	for {
		select {
		case <-p.stop:
			return
		case f, ok := <-frames:
			if !ok {
				return
			}
			p.forward(ctx, f)
		}
	}
}

func (p *Pipeline) forward(ctx context.Context, f capture.Frame) {
	p.mu.Lock()
	adapter := p.adapter
	epoch := p.epoch
	due := p.reconnecting && time.Now().After(p.nextAttempt)
	p.mu.Unlock()

	if adapter == nil {
		if due {
			p.reconnect(ctx)
		}
		return
	}

	sendCtx, cancel := context.WithTimeout(ctx, sendTimeout)
	err := adapter.SendAudio(sendCtx, f.Data)
	cancel()
	if err != nil {
		p.connectionLost(epoch, "send", err)
	}
}

// connect opens a fresh connection under a new epoch.
func (p *Pipeline) connect(ctx context.Context, isReconnect bool) error {
	adapter, err := p.factory(ctx)
	if err != nil {
		return err
	}

	p.mu.Lock()
	p.epoch++
	epoch := p.epoch
	p.mu.Unlock()

	cb := &connCallback{pipeline: p, epoch: epoch}
	if err := adapter.Start(ctx, cb); err != nil {
		adapter.Close()
		return err
	}

	p.mu.Lock()
	p.adapter = adapter
	p.reconnecting = false
	p.attempt = 0
	p.mu.Unlock()

	p.metrics.RecordConnection(isReconnect)
	p.logger.Info().Int("epoch", epoch).Bool("reconnect", isReconnect).
		Msg("Recognition connection opened")
	return nil
}

func (p *Pipeline) reconnect(ctx context.Context) {
	if err := p.connect(ctx, true); err != nil {
		p.mu.Lock()
		p.attempt++
		attempt := p.attempt
		backoff := p.cfg.ReconnectBackoff << uint(attempt-1)
		if backoff > maxBackoff || backoff <= 0 {
			backoff = maxBackoff
		}
		p.nextAttempt = time.Now().Add(backoff)
		p.mu.Unlock()

		evt := p.logger.Warn()
		if attempt > p.cfg.ReconnectMax {
			evt = p.logger.Error()
		}
		evt.Err(err).Int("attempt", attempt).Dur("backoff", backoff).
			Msg("Reconnect attempt failed")
		p.metrics.RecordTransientError("reconnect")
	}
}

// connectionLost tears down the current connection and schedules an
// immediate reconnect attempt. Events from stale epochs are ignored.
func (p *Pipeline) connectionLost(epoch int, kind string, err error) {
	p.mu.Lock()
	if p.stopped || epoch != p.epoch {
		p.mu.Unlock()
		return
	}
	adapter := p.adapter
	p.adapter = nil
	p.reconnecting = true
	p.attempt = 0
	p.nextAttempt = time.Now()
	p.mu.Unlock()

	if adapter != nil {
		adapter.Close()
	}
	p.agg.ClearInterim()
	p.metrics.RecordTransientError(kind)
	p.logger.Warn().Err(err).Int("epoch", epoch).Str("kind", kind).
		Msg("Recognition connection lost, recording continues")
}

// connCallback routes one connection's events, tagged with its epoch.
type connCallback struct {
	pipeline *Pipeline
	epoch    int
}

func (c *connCallback) OnInterim(text string) {
	p := c.pipeline
	p.mu.Lock()
	stale := c.epoch != p.epoch || p.stopped
	p.mu.Unlock()
	if stale {
		return
	}
	p.agg.SetInterim(text)
}

func (c *connCallback) OnFinal(res recognize.Result) {
	// Finals are accepted even during teardown: the final flush depends on
	// late results landing. The epoch-qualified identity in the aggregator
	// suppresses replays.
	c.pipeline.agg.Append(c.epoch, res)
}

func (c *connCallback) OnError(err error) {
	c.pipeline.connectionLost(c.epoch, "recv", err)
}
