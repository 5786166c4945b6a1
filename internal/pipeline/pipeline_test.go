package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"live-caption-engine/internal/capture"
	"live-caption-engine/internal/recognize"
	"live-caption-engine/internal/transcript"
)

// scriptedAdapter is a hand-driven recognition connection.
type scriptedAdapter struct {
	mu        sync.Mutex
	cb        recognize.Callback
	startErr  error
	sendErr   error
	sent      int
	closed    bool
	neverDone bool
	done      chan struct{}
}

func (a *scriptedAdapter) Start(ctx context.Context, cb recognize.Callback) error {
	if a.startErr != nil {
		return a.startErr
	}
	a.mu.Lock()
	a.cb = cb
	if a.done == nil {
		a.done = make(chan struct{})
	}
	a.mu.Unlock()
	return nil
}

func (a *scriptedAdapter) SendAudio(ctx context.Context, audio []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.sendErr != nil {
		return a.sendErr
	}
	a.sent++
	return nil
}

func (a *scriptedAdapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.closed {
		a.closed = true
		if a.done != nil && !a.neverDone {
			close(a.done)
		}
	}
	return nil
}

func (a *scriptedAdapter) Done() <-chan struct{} {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.done
}

func (a *scriptedAdapter) callback() recognize.Callback {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cb
}

func (a *scriptedAdapter) sentCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sent
}

// adapterScript hands out adapters in sequence, one per connect attempt.
type adapterScript struct {
	mu       sync.Mutex
	adapters []*scriptedAdapter
	errs     []error
	calls    int
}

func (s *adapterScript) factory(ctx context.Context) (recognize.Adapter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.calls
	s.calls++
	if i < len(s.errs) && s.errs[i] != nil {
		return nil, s.errs[i]
	}
	if i < len(s.adapters) {
		return s.adapters[i], nil
	}
	return &scriptedAdapter{}, nil
}

func TestStart_ForwardsFrames(t *testing.T) {
	adapter := &scriptedAdapter{}
	script := &adapterScript{adapters: []*scriptedAdapter{adapter}}
	agg := transcript.NewAggregator()
	frames := make(chan capture.Frame, 8)

	p := New(script.factory, agg, Config{})
	if err := p.Start(context.Background(), frames); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	for i := 0; i < 3; i++ {
		frames <- capture.Frame{Data: []byte{byte(i)}}
	}
	waitFor(t, func() bool { return adapter.sentCount() == 3 }, "frames forwarded")

	p.Stop(0)
	if !adapter.closed {
		t.Errorf("adapter not closed on stop")
	}
}

func TestStart_InitialConnectFailureReturned(t *testing.T) {
	wantErr := errors.New("credential rejected")
	script := &adapterScript{errs: []error{wantErr}}
	p := New(script.factory, transcript.NewAggregator(), Config{})

	if err := p.Start(context.Background(), make(chan capture.Frame)); !errors.Is(err, wantErr) {
		t.Errorf("expected initial connect error, got %v", err)
	}
}

func TestConnectionLoss_ReconnectsWithNewEpoch(t *testing.T) {
	first := &scriptedAdapter{}
	second := &scriptedAdapter{}
	script := &adapterScript{adapters: []*scriptedAdapter{first, second}}
	agg := transcript.NewAggregator()
	frames := make(chan capture.Frame, 8)

	p := New(script.factory, agg, Config{ReconnectBackoff: time.Millisecond})
	if err := p.Start(context.Background(), frames); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer p.Stop(0)

	firstEpoch := p.Epoch()

	// The receive side reports a stream error.
	first.callback().OnError(errors.New("stream reset"))
	if !p.Reconnecting() {
		t.Fatalf("pipeline should be reconnecting after connection loss")
	}

	// The next frame past the backoff triggers the reconnect.
	waitFor(t, func() bool {
		frames <- capture.Frame{Data: []byte{1}}
		return !p.Reconnecting()
	}, "reconnect")

	if p.Epoch() <= firstEpoch {
		t.Errorf("epoch did not advance on reconnect: %d -> %d", firstEpoch, p.Epoch())
	}
	if !first.closed {
		t.Errorf("lost connection not closed")
	}
	waitFor(t, func() bool {
		frames <- capture.Frame{Data: []byte{2}}
		return second.sentCount() > 0
	}, "frames flowing on new connection")
}

func TestConnectionLoss_SendFailure(t *testing.T) {
	first := &scriptedAdapter{sendErr: errors.New("broken pipe")}
	second := &scriptedAdapter{}
	script := &adapterScript{adapters: []*scriptedAdapter{first, second}}
	frames := make(chan capture.Frame, 8)

	p := New(script.factory, transcript.NewAggregator(), Config{ReconnectBackoff: time.Millisecond})
	if err := p.Start(context.Background(), frames); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer p.Stop(0)

	frames <- capture.Frame{Data: []byte{1}}
	waitFor(t, func() bool { return p.Reconnecting() || second.sentCount() > 0 }, "send failure detected")

	waitFor(t, func() bool {
		frames <- capture.Frame{Data: []byte{2}}
		return second.sentCount() > 0
	}, "recovered onto new connection")
}

func TestStaleEpochEventsIgnored(t *testing.T) {
	first := &scriptedAdapter{}
	second := &scriptedAdapter{}
	script := &adapterScript{adapters: []*scriptedAdapter{first, second}}
	agg := transcript.NewAggregator()
	frames := make(chan capture.Frame, 8)

	p := New(script.factory, agg, Config{ReconnectBackoff: time.Millisecond})
	if err := p.Start(context.Background(), frames); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer p.Stop(0)

	staleCb := first.callback()
	staleCb.OnError(errors.New("reset"))
	waitFor(t, func() bool {
		frames <- capture.Frame{Data: []byte{1}}
		return !p.Reconnecting()
	}, "reconnect")

	// A late interim from the dead connection must not surface.
	staleCb.OnInterim("ghost text")
	if got := agg.Interim().Text; got != "" {
		t.Errorf("stale interim surfaced: %q", got)
	}

	// A late error from the dead connection must not kill the live one.
	staleCb.OnError(errors.New("late reset"))
	if p.Reconnecting() {
		t.Errorf("stale error tore down the live connection")
	}
}

func TestFinalsAcceptedDuringTeardown(t *testing.T) {
	adapter := &scriptedAdapter{}
	script := &adapterScript{adapters: []*scriptedAdapter{adapter}}
	agg := transcript.NewAggregator()

	p := New(script.factory, agg, Config{})
	if err := p.Start(context.Background(), make(chan capture.Frame)); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	cb := adapter.callback()
	p.Stop(0)

	// A final flushed by the engine after the stop still lands.
	cb.OnFinal(recognize.Result{Text: "closing words", SpeakerID: "1", OffsetSeconds: 5})
	if agg.Len() != 1 {
		t.Errorf("final emitted during teardown was lost")
	}
}

func TestStop_Idempotent(t *testing.T) {
	script := &adapterScript{}
	p := New(script.factory, transcript.NewAggregator(), Config{})
	if err := p.Start(context.Background(), make(chan capture.Frame)); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	p.Stop(0)
	p.Stop(0)
}

func TestStop_DrainReturnsOnceFlushed(t *testing.T) {
	adapter := &scriptedAdapter{}
	script := &adapterScript{adapters: []*scriptedAdapter{adapter}}

	p := New(script.factory, transcript.NewAggregator(), Config{})
	if err := p.Start(context.Background(), make(chan capture.Frame)); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	// The connection flushes synchronously in Close, so the drain budget
	// must not be slept through.
	start := time.Now()
	p.Stop(3 * time.Second)
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Stop waited the drain budget on a flushed connection: %v", elapsed)
	}
}

func TestStop_DrainCeilingBoundsWait(t *testing.T) {
	adapter := &scriptedAdapter{neverDone: true}
	script := &adapterScript{adapters: []*scriptedAdapter{adapter}}

	p := New(script.factory, transcript.NewAggregator(), Config{})
	if err := p.Start(context.Background(), make(chan capture.Frame)); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	start := time.Now()
	p.Stop(50 * time.Millisecond)
	elapsed := time.Since(start)
	if elapsed < 50*time.Millisecond {
		t.Errorf("Stop returned before the drain ceiling: %v", elapsed)
	}
	if elapsed > time.Second {
		t.Errorf("Stop hung past the drain ceiling: %v", elapsed)
	}
}

func TestStop_ClearsInterim(t *testing.T) {
	adapter := &scriptedAdapter{}
	script := &adapterScript{adapters: []*scriptedAdapter{adapter}}
	agg := transcript.NewAggregator()

	p := New(script.factory, agg, Config{})
	if err := p.Start(context.Background(), make(chan capture.Frame)); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	adapter.callback().OnInterim("half a sent")
	p.Stop(0)

	if got := agg.Interim().Text; got != "" {
		t.Errorf("interim survived stop: %q", got)
	}
}

func TestStartEpoch_SeedsIdentity(t *testing.T) {
	script := &adapterScript{}
	p := New(script.factory, transcript.NewAggregator(), Config{StartEpoch: 4})
	if err := p.Start(context.Background(), make(chan capture.Frame)); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer p.Stop(0)

	if p.Epoch() != 5 {
		t.Errorf("expected epoch 5 after seeded connect, got %d", p.Epoch())
	}
}

func waitFor(t *testing.T, cond func() bool, what string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
