package audio

import "time"

// Default capture parameters. The transcription service expects 16 kHz mono
// PCM16, and the capture callback delivers 4096 samples per frame (≈256 ms).
const (
	DefaultSampleRate = 16000
	DefaultChannels   = 1
	DefaultFrameSize  = 4096
)

// Frame is one fixed-size batch of floating-point samples delivered by a
// capture callback. Samples are expected in [-1.0, 1.0]; out-of-range values
// are clamped by [Quantize]. Multi-channel frames are interleaved.
//
// A Frame is ephemeral: it is owned by the callback invocation that produced
// it and must not be retained after encoding.
type Frame struct {
	// Samples holds the interleaved sample values.
	Samples []float32

	// SampleRate in Hz (16000 for the transcription pipeline).
	SampleRate int

	// Channels: 1 for mono, 2 for interleaved stereo.
	Channels int

	// Timestamp marks when this frame was captured, relative to stream start.
	Timestamp time.Duration
}

// Format returns the sample rate and channel layout of f.
func (f Frame) Format() Format {
	return Format{SampleRate: f.SampleRate, Channels: f.Channels}
}

// Duration returns the playback length of the frame.
func (f Frame) Duration() time.Duration {
	if f.SampleRate <= 0 || f.Channels <= 0 {
		return 0
	}
	perChannel := len(f.Samples) / f.Channels
	return time.Duration(perChannel) * time.Second / time.Duration(f.SampleRate)
}
