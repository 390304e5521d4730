// Package wavfile provides a capture.Device that plays back a 16-bit PCM WAV
// file as if it were a live microphone.
//
// Frames are delivered in the file's native format, paced at real time by
// default so that a streaming transcription service receives audio at the
// rate it expects.
package wavfile

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"
	"time"

	"github.com/MrWong99/ocepa/pkg/audio"
	"github.com/MrWong99/ocepa/pkg/capture"
)

var _ capture.Device = (*Device)(nil)

// Option configures a Device.
type Option func(*Device)

// WithoutPacing delivers frames as fast as the consumer reads them.
func WithoutPacing() Option {
	return func(d *Device) { d.paced = false }
}

// Device reads frames from a WAV file.
type Device struct {
	path  string
	paced bool
}

// New returns a Device for the WAV file at path. The file is opened on
// Device.Open.
func New(path string, opts ...Option) *Device {
	d := &Device{path: path, paced: true}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Open implements capture.Device. The requested format is ignored; frames
// carry the file's format and the Recorder converts them.
func (d *Device) Open(ctx context.Context, _ audio.Format, frameSize int) (capture.Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("wavfile: open: %w: %w", capture.ErrUnavailable, err)
	}

	f, err := os.Open(d.path)
	if err != nil {
		switch {
		case errors.Is(err, fs.ErrPermission):
			return nil, fmt.Errorf("wavfile: open %s: %w: %w", d.path, capture.ErrPermissionDenied, err)
		default:
			return nil, fmt.Errorf("wavfile: open %s: %w: %w", d.path, capture.ErrUnavailable, err)
		}
	}
	defer f.Close()

	wav, err := audio.DecodeWAV(f)
	if err != nil {
		return nil, fmt.Errorf("wavfile: decode %s: %w: %w", d.path, capture.ErrUnavailable, err)
	}
	if frameSize <= 0 {
		frameSize = audio.DefaultFrameSize
	}

	s := &stream{
		frames: make(chan audio.Frame),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go s.run(wav, audio.Dequantize(wav.Samples), frameSize, d.paced)
	return s, nil
}

type stream struct {
	frames    chan audio.Frame
	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

func (s *stream) Frames() <-chan audio.Frame { return s.frames }

// Close stops playback and waits for the reader goroutine to exit.
func (s *stream) Close() error {
	s.closeOnce.Do(func() { close(s.stop) })
	<-s.done
	return nil
}

func (s *stream) run(wav *audio.WAV, samples []float32, frameSize int, paced bool) {
	defer close(s.done)
	defer close(s.frames)

	ch := wav.Format.Channels
	chunk := frameSize * ch
	frameDur := time.Duration(frameSize) * time.Second / time.Duration(wav.Format.SampleRate)

	var tick <-chan time.Time
	if paced {
		ticker := time.NewTicker(frameDur)
		defer ticker.Stop()
		tick = ticker.C
	}

	for off := 0; off < len(samples); off += chunk {
		end := min(off+chunk, len(samples))
		f := audio.Frame{
			Samples:    samples[off:end],
			SampleRate: wav.Format.SampleRate,
			Channels:   ch,
			Timestamp:  time.Duration(off/ch) * time.Second / time.Duration(wav.Format.SampleRate),
		}
		select {
		case s.frames <- f:
		case <-s.stop:
			return
		}
		if tick != nil {
			select {
			case <-tick:
			case <-s.stop:
				return
			}
		}
	}
}
