// Package feed provides a capture.Device whose samples are pushed in by an
// external producer, such as a WebSocket handler relaying a browser
// microphone.
//
// Samples written with [Device.Write] are cut into frames of the size
// requested at Open and delivered on the stream's channel. When the
// consumer falls behind, whole frames are dropped rather than blocking the
// producer.
package feed

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/MrWong99/ocepa/pkg/audio"
	"github.com/MrWong99/ocepa/pkg/capture"
)

// ErrNotOpen is returned by Write when no stream is open.
var ErrNotOpen = errors.New("feed: device not open")

const defaultBuffer = 8

var _ capture.Device = (*Device)(nil)

// Option configures a Device.
type Option func(*Device)

// WithBuffer sets the frame channel capacity. Defaults to 8.
func WithBuffer(n int) Option {
	return func(d *Device) {
		if n > 0 {
			d.buffer = n
		}
	}
}

// WithDenied makes every Open fail with capture.ErrPermissionDenied.
func WithDenied() Option {
	return func(d *Device) { d.denied = true }
}

// Device is a push-fed capture.Device. Only one stream may be open at a time.
type Device struct {
	source audio.Format
	buffer int
	denied bool

	mu     sync.Mutex
	stream *stream
}

// New creates a Device whose producer writes interleaved samples in the
// source format.
func New(source audio.Format, opts ...Option) *Device {
	if source.SampleRate <= 0 {
		source.SampleRate = audio.DefaultSampleRate
	}
	if source.Channels <= 0 {
		source.Channels = audio.DefaultChannels
	}
	d := &Device{source: source, buffer: defaultBuffer}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Open implements capture.Device. The frame length is scaled from frameSize
// at the requested format to the equivalent duration in the source format.
func (d *Device) Open(ctx context.Context, format audio.Format, frameSize int) (capture.Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("feed: open: %w: %w", capture.ErrUnavailable, err)
	}
	if d.denied {
		return nil, fmt.Errorf("feed: open: %w", capture.ErrPermissionDenied)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stream != nil && !d.stream.isClosed() {
		return nil, fmt.Errorf("feed: open: %w: stream already open", capture.ErrUnavailable)
	}

	perFrame := frameSize
	if format.SampleRate > 0 && format.SampleRate != d.source.SampleRate {
		perFrame = frameSize * d.source.SampleRate / format.SampleRate
	}
	if perFrame <= 0 {
		perFrame = audio.DefaultFrameSize
	}

	d.stream = &stream{
		format:  d.source,
		chunk:   perFrame * d.source.Channels,
		frames:  make(chan audio.Frame, d.buffer),
		pending: make([]float32, 0, perFrame*d.source.Channels),
	}
	return d.stream, nil
}

// Write appends interleaved samples to the open stream and emits every
// complete frame. It returns the number of frames emitted and the number
// dropped because the consumer was behind.
func (d *Device) Write(samples []float32) (emitted, dropped int, err error) {
	d.mu.Lock()
	s := d.stream
	d.mu.Unlock()
	if s == nil {
		return 0, 0, ErrNotOpen
	}
	return s.write(samples)
}

// Format returns the source format producers must write.
func (d *Device) Format() audio.Format { return d.source }

// stream is the capture.Stream returned by Device.Open.
type stream struct {
	format audio.Format
	chunk  int

	mu      sync.Mutex
	closed  bool
	frames  chan audio.Frame
	pending []float32
	total   int // samples emitted, interleaved
}

func (s *stream) Frames() <-chan audio.Frame { return s.frames }

func (s *stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.pending = nil
	close(s.frames)
	return nil
}

func (s *stream) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *stream) write(samples []float32) (emitted, dropped int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, 0, ErrNotOpen
	}

	s.pending = append(s.pending, samples...)
	for len(s.pending) >= s.chunk {
		out := make([]float32, s.chunk)
		copy(out, s.pending[:s.chunk])
		s.pending = append(s.pending[:0], s.pending[s.chunk:]...)

		f := audio.Frame{
			Samples:    out,
			SampleRate: s.format.SampleRate,
			Channels:   s.format.Channels,
			Timestamp:  s.offset(),
		}
		s.total += s.chunk

		select {
		case s.frames <- f:
			emitted++
		default:
			dropped++
		}
	}
	return emitted, dropped, nil
}

// offset returns the stream position of the next frame.
func (s *stream) offset() time.Duration {
	perChannel := s.total / s.format.Channels
	return time.Duration(perChannel) * time.Second / time.Duration(s.format.SampleRate)
}
