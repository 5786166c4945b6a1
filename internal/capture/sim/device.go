// Package sim provides simulated capture devices: a WAV file played back at
// real-time cadence and a synthetic tone generator. Both are used by the
// daemon when no physical microphone is wired in, and by tests.
package sim

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"sync"
	"time"

	"live-caption-engine/internal/capture"
)

// WAV header is 44 bytes for standard PCM files
const wavHeaderSize = 44

// WAVDevice streams a PCM WAV file as capture frames, pacing frames at the
// configured interval to simulate a live microphone.
type WAVDevice struct {
	Path          string
	FrameInterval time.Duration
	Realtime      bool // pace frames with a wall-clock sleep

	mu     sync.Mutex
	frames chan capture.Frame
	stop   chan struct{}
	closed bool
}

// Open validates the WAV header and starts the playback goroutine.
func (d *WAVDevice) Open(ctx context.Context) error {
	f, err := os.Open(d.Path)
	if err != nil {
		if os.IsPermission(err) {
			return fmt.Errorf("%w: %v", capture.ErrPermissionDenied, err)
		}
		return fmt.Errorf("%w: %v", capture.ErrDeviceUnavailable, err)
	}

	header := make([]byte, wavHeaderSize)
	if _, err := io.ReadFull(f, header); err != nil {
		f.Close()
		return fmt.Errorf("%w: short WAV header", capture.ErrDeviceUnavailable)
	}
	if string(header[0:4]) != "RIFF" || string(header[8:12]) != "WAVE" {
		f.Close()
		return fmt.Errorf("%w: not a WAV file", capture.ErrDeviceUnavailable)
	}
	audioFormat := binary.LittleEndian.Uint16(header[20:22])
	numChannels := binary.LittleEndian.Uint16(header[22:24])
	sampleRate := int(binary.LittleEndian.Uint32(header[24:28]))
	bitsPerSample := binary.LittleEndian.Uint16(header[34:36])
	if audioFormat != 1 || numChannels != 1 || bitsPerSample != 16 {
		f.Close()
		return fmt.Errorf("%w: need 16-bit mono PCM, got format=%d channels=%d bits=%d",
			capture.ErrDeviceUnavailable, audioFormat, numChannels, bitsPerSample)
	}

	interval := d.FrameInterval
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	// bytes per frame at 16-bit mono
	frameBytes := sampleRate * 2 * int(interval.Milliseconds()) / 1000

	d.mu.Lock()
	d.frames = make(chan capture.Frame)
	d.stop = make(chan struct{})
	d.closed = false
	stop := d.stop
	frames := d.frames
	d.mu.Unlock()

	go func() {
		defer f.Close()
		defer close(frames)
		buf := make([]byte, frameBytes)
		for {
			n, err := f.Read(buf)
			if n > 0 {
				data := make([]byte, n)
				copy(data, buf[:n])
				frame := capture.Frame{
					Data:       data,
					SampleRate: sampleRate,
					CapturedAt: time.Now(),
					Duration:   interval,
				}
				select {
				case frames <- frame:
				case <-stop:
					return
				case <-ctx.Done():
					return
				}
			}
			if err != nil {
				return
			}
			if d.Realtime {
				select {
				case <-time.After(interval):
				case <-stop:
					return
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return nil
}

// Frames returns the playback stream.
func (d *WAVDevice) Frames() <-chan capture.Frame {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.frames
}

// Close stops playback. Idempotent.
func (d *WAVDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed || d.stop == nil {
		return nil
	}
	d.closed = true
	close(d.stop)
	return nil
}

// ToneDevice generates a sine tone at a fixed amplitude. Amplitude is in
// [0, 1] so tests can steer the level monitor's classification directly.
type ToneDevice struct {
	SampleRate    int
	FrameInterval time.Duration
	Amplitude     float64
	FrequencyHz   float64

	mu     sync.Mutex
	frames chan capture.Frame
	stop   chan struct{}
	closed bool
}

// Open starts the generator goroutine.
func (d *ToneDevice) Open(ctx context.Context) error {
	sampleRate := d.SampleRate
	if sampleRate <= 0 {
		sampleRate = 16000
	}
	interval := d.FrameInterval
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	freq := d.FrequencyHz
	if freq <= 0 {
		freq = 440
	}
	samplesPerFrame := sampleRate * int(interval.Milliseconds()) / 1000

	d.mu.Lock()
	d.frames = make(chan capture.Frame)
	d.stop = make(chan struct{})
	d.closed = false
	stop := d.stop
	frames := d.frames
	d.mu.Unlock()

	go func() {
		defer close(frames)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		var phase float64
		step := 2 * math.Pi * freq / float64(sampleRate)
		for {
			data := make([]byte, samplesPerFrame*2)
			for i := 0; i < samplesPerFrame; i++ {
				s := int16(d.Amplitude * math.Sin(phase) * math.MaxInt16)
				binary.LittleEndian.PutUint16(data[i*2:], uint16(s))
				phase += step
			}
			frame := capture.Frame{
				Data:       data,
				SampleRate: sampleRate,
				CapturedAt: time.Now(),
				Duration:   interval,
			}
			select {
			case frames <- frame:
			case <-stop:
				return
			case <-ctx.Done():
				return
			}
			select {
			case <-ticker.C:
			case <-stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
	return nil
}

// Frames returns the tone stream.
func (d *ToneDevice) Frames() <-chan capture.Frame {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.frames
}

// Close stops the generator. Idempotent.
func (d *ToneDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed || d.stop == nil {
		return nil
	}
	d.closed = true
	close(d.stop)
	return nil
}
