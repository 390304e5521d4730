// Package audio holds the frame types and the encoder that turns captured
// floating-point audio into the PCM16/base64 payload the live transcription
// service consumes.
//
// The encoding pipeline is two pure steps:
//
//	pcm := audio.Quantize(frame.Samples) // []float32 → []int16
//	chunk := audio.Encode(pcm)           // []int16 → base64(LE bytes)
//
// Both are deterministic and allocation-bounded by the frame size.
package audio

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"math"
)

// Quantize maps floating-point samples to signed 16-bit PCM. Each sample is
// clamped to [-1, 1]; negative values scale by 32768 and non-negative values
// by 32767 so that 1.0 maps to 32767 without overflowing. The fractional part
// is truncated toward zero. NaN maps to 0.
func Quantize(samples []float32) []int16 {
	out := make([]int16, len(samples))
	for i, s := range samples {
		out[i] = quantizeSample(s)
	}
	return out
}

func quantizeSample(s float32) int16 {
	v := float64(s)
	if math.IsNaN(v) {
		return 0
	}
	if v < -1 {
		v = -1
	} else if v > 1 {
		v = 1
	}
	if v < 0 {
		return int16(v * 32768)
	}
	return int16(v * 32767)
}

// Dequantize is the inverse mapping of [Quantize], used by sources that
// deliver PCM16 (e.g. WAV files) and need to produce float frames.
func Dequantize(pcm []int16) []float32 {
	out := make([]float32, len(pcm))
	for i, s := range pcm {
		if s < 0 {
			out[i] = float32(s) / 32768
		} else {
			out[i] = float32(s) / 32767
		}
	}
	return out
}

// PCMBytes lays out pcm as little-endian 16-bit units.
func PCMBytes(pcm []int16) []byte {
	buf := make([]byte, len(pcm)*2)
	for i, s := range pcm {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return buf
}

// Encode returns the standard (padded) base64 encoding of pcm's
// little-endian byte representation. The remote service decodes this back
// to raw PCM16 mono at the capture sample rate, so the output must be
// bit-exact.
func Encode(pcm []int16) string {
	return base64.StdEncoding.EncodeToString(PCMBytes(pcm))
}

// EncodeFrame quantizes and encodes a frame in one step.
func EncodeFrame(f Frame) string {
	return Encode(Quantize(f.Samples))
}

// DecodeChunk reverses [Encode]. It fails on invalid base64 or an odd byte
// count.
func DecodeChunk(chunk string) ([]int16, error) {
	raw, err := base64.StdEncoding.DecodeString(chunk)
	if err != nil {
		return nil, fmt.Errorf("audio: decode chunk: %w", err)
	}
	if len(raw)%2 != 0 {
		return nil, fmt.Errorf("audio: decode chunk: odd byte count %d", len(raw))
	}
	pcm := make([]int16, len(raw)/2)
	for i := range pcm {
		pcm[i] = int16(binary.LittleEndian.Uint16(raw[i*2:]))
	}
	return pcm, nil
}
