// Package google provides a Google Cloud Speech-to-Text adapter with
// speaker diarization.
package google

import (
	"context"
	"fmt"
	"sync"

	speech "cloud.google.com/go/speech/apiv1"
	speechpb "google.golang.org/genproto/googleapis/cloud/speech/v1"

	"live-caption-engine/internal/recognize"
)

// Config tunes the streaming recognition request.
type Config struct {
	LanguageCode   string
	SampleRateHz   int
	InterimResults bool
	MaxSpeakers    int
}

// Adapter implements recognize.Adapter using Google Cloud Speech-to-Text.
type Adapter struct {
	client *speech.Client
	cfg    Config

	mu     sync.Mutex
	stream speechpb.Speech_StreamingRecognizeClient
	cb     recognize.Callback
	done   chan struct{}
	closed bool
}

// New creates a new Google adapter.
// Requires GOOGLE_APPLICATION_CREDENTIALS environment variable to be set.
func New(ctx context.Context, cfg Config) (*Adapter, error) {
	c, err := speech.NewClient(ctx)
	if err != nil {
		return nil, err
	}
	return &Adapter{client: c, cfg: cfg}, nil
}

// Start opens a streaming recognition session, sends the initial config, and
// starts the receive loop.
func (a *Adapter) Start(ctx context.Context, cb recognize.Callback) error {
	stream, err := a.client.StreamingRecognize(ctx)
	if err != nil {
		return err
	}

	done := make(chan struct{})
	a.mu.Lock()
	a.stream = stream
	a.cb = cb
	a.done = done
	a.mu.Unlock()

	maxSpeakers := int32(a.cfg.MaxSpeakers)
	if maxSpeakers <= 0 {
		maxSpeakers = 6
	}

	// Streaming config is the first message on the stream
	err = stream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_StreamingConfig{
			StreamingConfig: &speechpb.StreamingRecognitionConfig{
				Config: &speechpb.RecognitionConfig{
					Encoding:              speechpb.RecognitionConfig_LINEAR16,
					SampleRateHertz:       int32(a.cfg.SampleRateHz),
					LanguageCode:          a.cfg.LanguageCode,
					EnableWordTimeOffsets: true,
					DiarizationConfig: &speechpb.SpeakerDiarizationConfig{
						EnableSpeakerDiarization: true,
						MaxSpeakerCount:          maxSpeakers,
					},
				},
				InterimResults: a.cfg.InterimResults,
			},
		},
	})
	if err != nil {
		return err
	}

	go a.listen(stream, cb, done)
	return nil
}

// SendAudio sends audio bytes to Google Speech-to-Text.
func (a *Adapter) SendAudio(ctx context.Context, audio []byte) error {
	a.mu.Lock()
	stream := a.stream
	closed := a.closed
	a.mu.Unlock()

	if closed || stream == nil {
		return fmt.Errorf("google: adapter not started")
	}
	return stream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_AudioContent{
			AudioContent: audio,
		},
	})
}

// Close ends the streaming session. Idempotent.
func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil
	}
	a.closed = true
	if a.stream != nil {
		return a.stream.CloseSend()
	}
	return nil
}

// Done reports receive-loop termination. After CloseSend the engine keeps
// flushing pending results until end-of-stream; Done closes once that flush
// has finished.
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

// listen receives transcript responses and invokes callbacks until the
// stream ends or errors.
func (a *Adapter) listen(stream speechpb.Speech_StreamingRecognizeClient, cb recognize.Callback, done chan struct{}) {
	defer close(done)
	for {
		resp, err := stream.Recv()
		if err != nil {
			a.mu.Lock()
			closed := a.closed
			a.mu.Unlock()
			if !closed {
				cb.OnError(err)
			}
			return
		}

		for _, r := range resp.Results {
			if len(r.Alternatives) == 0 {
				continue
			}
			alt := r.Alternatives[0]
			if !r.IsFinal {
				cb.OnInterim(alt.Transcript)
				continue
			}
			cb.OnFinal(toResult(r, alt))
		}
	}
}

func toResult(r *speechpb.StreamingRecognitionResult, alt *speechpb.SpeechRecognitionAlternative) recognize.Result {
	res := recognize.Result{
		Text:       alt.Transcript,
		Confidence: float64(alt.Confidence),
	}

	if n := len(alt.Words); n > 0 {
		first, last := alt.Words[0], alt.Words[n-1]
		start := first.StartTime.AsDuration().Seconds()
		end := last.EndTime.AsDuration().Seconds()
		res.OffsetSeconds = start
		res.DurationSeconds = end - start
		if tag := last.SpeakerTag; tag != 0 {
			res.SpeakerID = fmt.Sprintf("%d", tag)
		}
	} else if r.ResultEndTime != nil {
		res.OffsetSeconds = r.ResultEndTime.AsDuration().Seconds()
	}
	return res
}
