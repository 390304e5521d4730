package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/ocepa/pkg/audio"
	"github.com/MrWong99/ocepa/pkg/provider/transcribe"
)

type recorderState int

const (
	recorderIdle recorderState = iota
	recorderStarting
	recorderRunning
	recorderStopped
)

// FrameReport describes one frame handled by the pump.
type FrameReport struct {
	// Samples is the sample count after format conversion.
	Samples int

	// Sent reports whether the session was open when the chunk was handed
	// over. Chunks handed to a session in any other state are dropped by it.
	Sent bool

	// EncodeDuration is the time spent in Quantize and Encode.
	EncodeDuration time.Duration
}

// FrameHook observes frames after they are handed to the session. It runs on
// the pump goroutine and must not block.
type FrameHook func(FrameReport)

// Stats holds running frame counters for a Recorder.
type Stats struct {
	Captured uint64
	Sent     uint64
	Dropped  uint64
}

// ── Options ────────────────────────────────────────────────────────────────────

// Option configures a Recorder.
type Option func(*Recorder)

// WithFormat sets the format frames are converted to before encoding.
// Defaults to 16 kHz mono.
func WithFormat(f audio.Format) Option {
	return func(r *Recorder) {
		if f.SampleRate > 0 && f.Channels > 0 {
			r.format = f
		}
	}
}

// WithFrameSize sets the number of samples per frame requested from the
// device. Defaults to [audio.DefaultFrameSize].
func WithFrameSize(n int) Option {
	return func(r *Recorder) {
		if n > 0 {
			r.frameSize = n
		}
	}
}

// WithFrameHook registers h to observe every processed frame.
func WithFrameHook(h FrameHook) Option {
	return func(r *Recorder) { r.hook = h }
}

// ── Recorder ───────────────────────────────────────────────────────────────────

// Recorder moves frames from a Device into a transcription Session. The
// session is connected by the caller; the Recorder only sends audio to it and
// disconnects it on Stop.
//
// A Recorder runs at most once: after Stop it cannot be restarted.
type Recorder struct {
	device    Device
	session   transcribe.Session
	format    audio.Format
	frameSize int
	hook      FrameHook

	mu     sync.Mutex
	state  recorderState
	stream Stream
	cancel context.CancelFunc
	done   chan struct{}

	captured atomic.Uint64
	sent     atomic.Uint64
	dropped  atomic.Uint64
}

// NewRecorder creates an idle Recorder reading from device and writing to
// session.
func NewRecorder(device Device, session transcribe.Session, opts ...Option) *Recorder {
	r := &Recorder{
		device:    device,
		session:   session,
		format:    audio.Format{SampleRate: audio.DefaultSampleRate, Channels: audio.DefaultChannels},
		frameSize: audio.DefaultFrameSize,
		done:      make(chan struct{}),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Start opens the device and starts the pump goroutine. If the device cannot
// be opened the error is returned and the Recorder stays idle, so Start may
// be retried.
func (r *Recorder) Start(ctx context.Context) error {
	r.mu.Lock()
	switch r.state {
	case recorderStarting, recorderRunning:
		r.mu.Unlock()
		return ErrAlreadyStarted
	case recorderStopped:
		r.mu.Unlock()
		return ErrStopped
	}
	r.state = recorderStarting
	r.mu.Unlock()

	stream, err := r.device.Open(ctx, r.format, r.frameSize)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == recorderStopped {
		// Stop ran while the device was opening.
		if stream != nil {
			_ = stream.Close()
		}
		return ErrStopped
	}
	if err != nil {
		r.state = recorderIdle
		return fmt.Errorf("capture: open device: %w", err)
	}

	pumpCtx, cancel := context.WithCancel(context.Background())
	r.stream = stream
	r.cancel = cancel
	r.state = recorderRunning
	go r.pump(pumpCtx, stream)

	slog.Debug("capture started", "format", r.format.String(), "frame_size", r.frameSize)
	return nil
}

// Stop stops the pump and waits for it, closes the stream, and finally
// disconnects the session, in that order. It is idempotent and may be called
// before Start.
func (r *Recorder) Stop() error {
	r.mu.Lock()
	prev := r.state
	r.state = recorderStopped
	stream, cancel := r.stream, r.cancel
	r.stream, r.cancel = nil, nil
	r.mu.Unlock()

	if prev == recorderStopped {
		return nil
	}

	var errs []error
	if cancel != nil {
		cancel()
		<-r.done
	} else {
		close(r.done)
	}
	if stream != nil {
		if err := stream.Close(); err != nil {
			errs = append(errs, fmt.Errorf("capture: close stream: %w", err))
		}
	}
	if err := r.session.Disconnect(); err != nil {
		errs = append(errs, fmt.Errorf("capture: disconnect session: %w", err))
	}

	st := r.Stats()
	slog.Debug("capture stopped", "captured", st.Captured, "sent", st.Sent, "dropped", st.Dropped)
	return errors.Join(errs...)
}

// Done returns a channel that is closed once the pump has exited, either
// because the input ended or because Stop was called.
func (r *Recorder) Done() <-chan struct{} { return r.done }

// Stats returns a snapshot of the frame counters.
func (r *Recorder) Stats() Stats {
	return Stats{
		Captured: r.captured.Load(),
		Sent:     r.sent.Load(),
		Dropped:  r.dropped.Load(),
	}
}

// pump is the only goroutine that encodes and sends frames, so each frame is
// fully handed to the session before the next one is taken.
func (r *Recorder) pump(ctx context.Context, stream Stream) {
	defer close(r.done)

	conv := &audio.FormatConverter{Target: r.format}
	frames := stream.Frames()
	for {
		select {
		case <-ctx.Done():
			return
		case f, ok := <-frames:
			if !ok {
				return
			}
			// Stop may have raced the receive; never send after it began.
			if ctx.Err() != nil {
				return
			}
			r.process(conv.Convert(f))
		}
	}
}

func (r *Recorder) process(f audio.Frame) {
	r.captured.Add(1)
	if len(f.Samples) == 0 {
		return
	}

	start := time.Now()
	chunk := audio.Encode(audio.Quantize(f.Samples))
	encodeDur := time.Since(start)

	open := r.session.State() == transcribe.StateOpen
	r.session.SendAudio(chunk)
	if open {
		r.sent.Add(1)
	} else {
		r.dropped.Add(1)
	}

	if r.hook != nil {
		r.hook(FrameReport{Samples: len(f.Samples), Sent: open, EncodeDuration: encodeDur})
	}
}
