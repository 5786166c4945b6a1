package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"live-caption-engine/internal/capture"
	"live-caption-engine/internal/config"
	"live-caption-engine/internal/level"
	"live-caption-engine/internal/models"
	"live-caption-engine/internal/observability/logging"
	"live-caption-engine/internal/observability/metrics"
	"live-caption-engine/internal/pipeline"
	"live-caption-engine/internal/recognize"
	"live-caption-engine/internal/token"
	"live-caption-engine/internal/transcript"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// historySaveTimeout bounds the fire-and-forget history publish.
const historySaveTimeout = 10 * time.Second

// HistoryStore receives the finalized transcript at stop. Failures are
// logged, never fatal: the transcript stays held locally either way.
type HistoryStore interface {
	SaveSession(ctx context.Context, ev models.SessionFinalized) error
}

// RecognizerSelector turns a credential into an adapter factory. It owns the
// mock-fallback policy: a credential with success=false either selects the
// mock recognizer or returns an error that fails the start.
type RecognizerSelector func(ctx context.Context, cred token.Credential) (recognize.Factory, error)

// Deps holds the capabilities injected into a Controller.
type Deps struct {
	Capture  *capture.Controller
	Tokens   token.Provider
	Selector RecognizerSelector
	History  HistoryStore
	Session  config.SessionConfig
	Pipeline pipeline.Config
	Levels   config.LevelsConfig

	// Now is the clock; defaults to time.Now. Injected by timing tests.
	Now func() time.Time
}

// Controller is the top-level orchestrator: it owns the session state
// machine, elapsed/paused-time accounting, and time-limit enforcement, and
// drives capture, recognition, level monitoring, and finalization.
// All exported methods are safe for concurrent use.
type Controller struct {
	deps    Deps
	metrics *metrics.Metrics
	logger  zerolog.Logger

	mu           sync.Mutex
	state        State
	gen          int
	starting     bool
	id           string
	startTime    time.Time
	pauseStarted time.Time
	accumPause   time.Duration
	finalElapsed time.Duration
	lastActivity time.Time
	errorCause   string
	lastEpoch    int

	agg     *transcript.Aggregator
	pl      *pipeline.Pipeline
	recTap  *capture.Tap
	monitor *level.Monitor
	factory recognize.Factory

	tickStop chan struct{}
}

// NewController creates an idle controller.
func NewController(deps Deps) *Controller {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Session.TickInterval <= 0 {
		deps.Session.TickInterval = time.Second
	}
	return &Controller{
		deps:    deps,
		metrics: metrics.DefaultMetrics,
		logger:  logging.WithComponent("session"),
	}
}

// Start begins a new session: acquire the device, obtain a credential,
// open the recognition connection, start level monitoring and the tick
// loop. Allowed from idle, stopped, and error (retry). Acquisition failures
// move the machine to the error state and are returned.
//
// A Stop issued while the start is still connecting wins: the start re-checks
// its generation before committing to recording and unwinds everything it
// acquired, returning ErrStartCanceled.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.starting {
		c.mu.Unlock()
		return ErrSessionActive
	}
	switch c.state {
	case StateIdle, StateStopped, StateError:
	default:
		c.mu.Unlock()
		return ErrSessionActive
	}
	c.gen++
	gen := c.gen
	c.starting = true
	c.state = StateConnecting
	c.errorCause = ""
	// The previous session is gone the moment a new start is accepted:
	// snapshots taken during the connecting window must not show its id,
	// elapsed time, or transcript.
	c.id = uuid.NewString()
	c.startTime = time.Time{}
	c.accumPause = 0
	c.finalElapsed = 0
	c.lastActivity = c.deps.Now()
	c.agg = nil
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.starting = false
		c.mu.Unlock()
	}()

	// Released in reverse order on any failure below.
	var closers []func()
	fail := func(cause string, err error) error {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
		c.enterError(gen, cause, err)
		return fmt.Errorf("session start: %s: %w", cause, err)
	}

	if err := c.deps.Capture.Acquire(ctx); err != nil {
		return fail("device", err)
	}
	closers = append(closers, c.deps.Capture.Release)

	cred, err := c.deps.Tokens.Credential(ctx)
	if err != nil {
		return fail("credential", err)
	}
	factory, err := c.deps.Selector(ctx, cred)
	if err != nil {
		return fail("credential", err)
	}

	agg := transcript.NewAggregator()
	recTap := c.deps.Capture.Tap("recognizer", 32)
	closers = append(closers, recTap.Close)

	plCfg := c.deps.Pipeline
	plCfg.StartEpoch = 0
	pl := pipeline.New(factory, agg, plCfg)
	if err := pl.Start(ctx, recTap.Frames()); err != nil {
		return fail("connect", err)
	}

	levelTap := c.deps.Capture.Tap("level", 8)
	monitor := level.NewMonitor(
		levelTap.Frames(),
		level.Thresholds{TooLow: c.deps.Levels.TooLow, TooHigh: c.deps.Levels.TooHigh},
		c.deps.Levels.Window,
		c.deps.Levels.RefreshInterval,
	)
	monitor.Start()

	now := c.deps.Now()
	c.mu.Lock()
	if c.gen != gen || c.state != StateConnecting {
		// A stop won the race while connecting. The machine is already
		// finalized; unwind everything just built.
		c.mu.Unlock()
		recTap.Close()
		pl.Stop(0)
		monitor.Stop()
		c.deps.Capture.Release()
		return ErrStartCanceled
	}
	c.state = StateRecording
	c.startTime = now
	c.lastActivity = now
	c.lastEpoch = 0
	c.agg = agg
	c.pl = pl
	c.recTap = recTap
	c.monitor = monitor
	c.factory = factory
	c.tickStop = make(chan struct{})
	tickStop := c.tickStop
	id := c.id
	c.mu.Unlock()

	c.metrics.RecordSessionStart()
	c.logger.Info().
		Str("sessionId", id).
		Dur("timeLimit", c.deps.Session.TimeLimit).
		Bool("mockMode", cred.MockMode).
		Msg("Session started")

	go c.tickLoop(tickStop)
	return nil
}

// Pause tears down the recognition connection but keeps the device and the
// level monitor, so the user still gets level feedback while paused.
func (c *Controller) Pause() error {
	c.mu.Lock()
	if c.state != StateRecording {
		c.mu.Unlock()
		return ErrNotRecording
	}
	c.state = StatePaused
	c.pauseStarted = c.deps.Now()
	pl := c.pl
	c.pl = nil
	tap := c.recTap
	c.recTap = nil
	id := c.id
	c.mu.Unlock()

	tap.Close()
	pl.Stop(c.deps.Session.DrainTimeout)

	c.mu.Lock()
	c.lastEpoch = pl.Epoch()
	c.mu.Unlock()

	c.logger.Info().Str("sessionId", id).Msg("Session paused")
	return nil
}

// Resume reopens a recognition connection under the same session id and
// adds the pause interval to the accumulated pause duration. A connection
// failure on resume is fatal, like a failed start.
func (c *Controller) Resume(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StatePaused {
		c.mu.Unlock()
		return ErrNotPaused
	}
	c.gen++
	gen := c.gen
	c.starting = true
	c.state = StateConnecting
	c.accumPause += c.deps.Now().Sub(c.pauseStarted)
	agg := c.agg
	factory := c.factory
	lastEpoch := c.lastEpoch
	id := c.id
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.starting = false
		c.mu.Unlock()
	}()

	c.metrics.RecordPauseCycle()

	recTap := c.deps.Capture.Tap("recognizer", 32)
	plCfg := c.deps.Pipeline
	plCfg.StartEpoch = lastEpoch
	pl := pipeline.New(factory, agg, plCfg)
	if err := pl.Start(ctx, recTap.Frames()); err != nil {
		recTap.Close()
		c.mu.Lock()
		superseded := c.gen != gen || c.state != StateConnecting
		c.mu.Unlock()
		if superseded {
			return ErrStartCanceled
		}
		c.teardown()
		c.enterError(gen, "connect", err)
		return fmt.Errorf("session resume: connect: %w", err)
	}

	c.mu.Lock()
	if c.gen != gen || c.state != StateConnecting {
		// A stop landed during the reconnect; it finalized the session.
		c.mu.Unlock()
		recTap.Close()
		pl.Stop(0)
		return ErrStartCanceled
	}
	c.state = StateRecording
	c.pl = pl
	c.recTap = recTap
	c.mu.Unlock()

	c.logger.Info().Str("sessionId", id).Msg("Session resumed")
	return nil
}

// Stop finalizes the session: one mandatory final flush, teardown of the
// recognition connection, level monitor, and device, then a fire-and-forget
// handoff of the ordered transcript to the history store. Idempotent; safe
// from any state.
func (c *Controller) Stop(ctx context.Context) error {
	return c.stop(StopReasonUser)
}

func (c *Controller) stop(reason string) error {
	c.mu.Lock()
	switch c.state {
	case StateRecording, StatePaused, StateConnecting:
	default:
		// Nothing running, or a finalization already happened.
		c.mu.Unlock()
		return nil
	}
	prev := c.state
	c.state = StateStopping
	now := c.deps.Now()
	if prev == StatePaused {
		c.accumPause += now.Sub(c.pauseStarted)
	}
	// A zero start time means the stop caught a start that never reached
	// recording; there is nothing on the clock.
	c.finalElapsed = 0
	if !c.startTime.IsZero() {
		c.finalElapsed = now.Sub(c.startTime) - c.accumPause
	}
	pl := c.pl
	c.pl = nil
	tap := c.recTap
	c.recTap = nil
	monitor := c.monitor
	c.monitor = nil
	agg := c.agg
	tickStop := c.tickStop
	c.tickStop = nil
	id := c.id
	elapsed := c.finalElapsed
	c.mu.Unlock()

	if tickStop != nil {
		close(tickStop)
	}
	if tap != nil {
		tap.Close()
	}
	if pl != nil {
		// The mandatory final flush: close the send side and wait for
		// pending finals before anything is torn down.
		pl.Stop(c.deps.Session.DrainTimeout)
	}
	if monitor != nil {
		monitor.Stop()
	}
	c.deps.Capture.Release()

	speakers := 0
	var segments []models.TranscriptSegment
	if agg != nil {
		agg.ClearInterim()
		speakers = agg.SpeakerCount()
		segments = agg.Snapshot()
	}

	// A session that never reached recording has no transcript to finalize.
	if c.deps.History != nil && agg != nil {
		ev := models.SessionFinalized{
			EventType:       "caption.session.finalized",
			SessionID:       id,
			Timestamp:       now.UnixMilli(),
			DurationSeconds: elapsed.Seconds(),
			SpeakerCount:    speakers,
			Segments:        segments,
		}
		go func() {
			saveCtx, cancel := context.WithTimeout(context.Background(), historySaveTimeout)
			defer cancel()
			if err := c.deps.History.SaveSession(saveCtx, ev); err != nil {
				c.logger.Warn().Err(err).Str("sessionId", id).
					Msg("History save failed, transcript retained locally")
			}
		}()
	}

	c.mu.Lock()
	c.state = StateStopped
	c.mu.Unlock()

	c.metrics.RecordSessionStop(reason, elapsed.Seconds(), speakers)
	if reason == StopReasonTimeLimit {
		c.metrics.RecordTimeLimitStop()
	}
	c.logger.Info().
		Str("sessionId", id).
		Str("reason", reason).
		Dur("recorded", elapsed).
		Int("speakers", speakers).
		Int("segments", len(segments)).
		Msg("Session stopped")
	return nil
}

// tickLoop recomputes elapsed time at the configured cadence and enforces
// the time limit while recording.
func (c *Controller) tickLoop(stop chan struct{}) {
	ticker := time.NewTicker(c.deps.Session.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			c.mu.Lock()
			if c.state != StateRecording {
				c.mu.Unlock()
				continue
			}
			now := c.deps.Now()
			c.lastActivity = now
			elapsed := now.Sub(c.startTime) - c.accumPause
			limit := c.deps.Session.TimeLimit
			c.mu.Unlock()

			if limit > 0 && elapsed >= limit {
				c.logger.Info().Dur("elapsed", elapsed).Dur("limit", limit).
					Msg("Time limit reached, stopping session")
				c.stop(StopReasonTimeLimit)
				return
			}
		}
	}
}

// enterError records a fatal acquisition failure. The cause is surfaced to
// the UI and the state is retriable via Start. A failure from a start that a
// stop has already superseded leaves the machine alone.
func (c *Controller) enterError(gen int, cause string, err error) {
	c.mu.Lock()
	superseded := c.gen != gen || c.state != StateConnecting
	if !superseded {
		c.state = StateError
		c.errorCause = fmt.Sprintf("%s: %v", cause, err)
	}
	c.mu.Unlock()

	if superseded {
		c.logger.Warn().Err(err).Str("cause", cause).
			Msg("Start failure after the session was already stopped")
		return
	}
	c.metrics.RecordSessionError(cause)
	c.logger.Error().Err(err).Str("cause", cause).Msg("Session failed to start")
}

// teardown releases everything still held. Used on the resume failure path.
func (c *Controller) teardown() {
	c.mu.Lock()
	monitor := c.monitor
	c.monitor = nil
	tickStop := c.tickStop
	c.tickStop = nil
	c.mu.Unlock()

	if tickStop != nil {
		close(tickStop)
	}
	if monitor != nil {
		monitor.Stop()
	}
	c.deps.Capture.Release()
}

// Snapshot returns the observable session state for the UI boundary.
func (c *Controller) Snapshot() models.SessionSnapshot {
	c.mu.Lock()
	now := c.deps.Now()
	var elapsed time.Duration
	switch c.state {
	case StateRecording, StateConnecting:
		if !c.startTime.IsZero() {
			elapsed = now.Sub(c.startTime) - c.accumPause
		}
	case StatePaused:
		elapsed = c.pauseStarted.Sub(c.startTime) - c.accumPause
	case StateStopping, StateStopped:
		elapsed = c.finalElapsed
	}
	if elapsed < 0 {
		elapsed = 0
	}
	limit := c.deps.Session.TimeLimit
	remaining := limit - elapsed
	if remaining < 0 {
		remaining = 0
	}
	snap := models.SessionSnapshot{
		ID:               c.id,
		State:            c.state.String(),
		StartTime:        c.startTime,
		ElapsedSeconds:   elapsed.Seconds(),
		RemainingSeconds: remaining.Seconds(),
		TimeLimitSeconds: int(limit / time.Second),
		PausedSeconds:    c.accumPause.Seconds(),
		LastActivityTime: c.lastActivity,
		ErrorCause:       c.errorCause,
	}
	agg := c.agg
	pl := c.pl
	c.mu.Unlock()

	if agg != nil {
		snap.SpeakerCount = agg.SpeakerCount()
		snap.SegmentCount = agg.Len()
	}
	if pl != nil {
		snap.Reconnecting = pl.Reconnecting()
	}
	return snap
}

// State returns the current lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Transcript returns the ordered final segments accumulated so far. The
// transcript of a stopped session remains readable until the next start.
func (c *Controller) Transcript() []models.TranscriptSegment {
	c.mu.Lock()
	agg := c.agg
	c.mu.Unlock()
	if agg == nil {
		return nil
	}
	return agg.Snapshot()
}

// Interim returns the current speculative result.
func (c *Controller) Interim() models.InterimResult {
	c.mu.Lock()
	agg := c.agg
	c.mu.Unlock()
	if agg == nil {
		return models.InterimResult{}
	}
	return agg.Interim()
}

// Level returns the current audio level classification.
func (c *Controller) Level() models.AudioLevelSample {
	c.mu.Lock()
	monitor := c.monitor
	c.mu.Unlock()
	if monitor == nil {
		return models.AudioLevelSample{Classification: models.LevelTooLow}
	}
	return monitor.Current()
}
