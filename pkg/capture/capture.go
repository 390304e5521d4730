// Package capture drives a live transcription session from an audio input.
//
// A [Device] stands for a microphone-like input that must be opened (and
// may refuse access). An open device yields a [Stream] of [audio.Frame]
// values. The [Recorder] pumps those frames through the frame encoder into a
// [transcribe.Session], one frame at a time:
//
//	Device.Open ─▶ Stream.Frames ─▶ Quantize ─▶ Encode ─▶ Session.SendAudio
//
// Stopping a Recorder always proceeds in the same order: stop the pump,
// release the stream, then disconnect the session.
package capture

import (
	"context"
	"errors"

	"github.com/MrWong99/ocepa/pkg/audio"
)

var (
	// ErrPermissionDenied is returned by Device.Open (and so Recorder.Start)
	// when access to the input is refused.
	ErrPermissionDenied = errors.New("capture: permission denied")

	// ErrUnavailable is returned by Device.Open when the input does not exist
	// or is busy.
	ErrUnavailable = errors.New("capture: device unavailable")

	// ErrAlreadyStarted is returned by Recorder.Start on a running recorder.
	ErrAlreadyStarted = errors.New("capture: recorder already started")

	// ErrStopped is returned by Recorder.Start after Recorder.Stop.
	ErrStopped = errors.New("capture: recorder stopped")
)

// Device is an audio input that must be opened before it delivers frames.
//
// Implementations must be safe for concurrent use.
type Device interface {
	// Open requests access to the input and starts delivering frames of
	// roughly frameSize samples per channel. format is the format the caller
	// prefers; implementations that cannot honour it deliver their native
	// format and report it on each frame. The supplied ctx governs the open
	// attempt only.
	//
	// Errors wrap ErrPermissionDenied or ErrUnavailable.
	Open(ctx context.Context, format audio.Format, frameSize int) (Stream, error)
}

// Stream is an open audio input.
type Stream interface {
	// Frames returns the channel of captured frames. It is closed when the
	// input ends or the stream is closed.
	Frames() <-chan audio.Frame

	// Close stops capture and releases the input. It is idempotent.
	Close() error
}
