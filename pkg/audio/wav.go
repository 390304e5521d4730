package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// ErrUnsupportedWAV is returned by [DecodeWAV] for files that are not
// 16-bit integer PCM.
var ErrUnsupportedWAV = errors.New("audio: unsupported wav encoding")

// WAV is a decoded RIFF/WAVE file.
type WAV struct {
	Format Format

	// Samples holds interleaved PCM16 samples.
	Samples []int16
}

// DecodeWAV reads a RIFF/WAVE stream holding 16-bit PCM. Chunks other than
// "fmt " and "data" (LIST, fact, …) are skipped.
func DecodeWAV(r io.Reader) (*WAV, error) {
	var riff [12]byte
	if _, err := io.ReadFull(r, riff[:]); err != nil {
		return nil, fmt.Errorf("audio: read riff header: %w", err)
	}
	if string(riff[0:4]) != "RIFF" || string(riff[8:12]) != "WAVE" {
		return nil, fmt.Errorf("audio: not a RIFF/WAVE stream")
	}

	var (
		w       WAV
		haveFmt bool
	)
	for {
		var hdr [8]byte
		if _, err := io.ReadFull(r, hdr[:]); err != nil {
			if errors.Is(err, io.EOF) {
				return nil, fmt.Errorf("audio: wav has no data chunk")
			}
			return nil, fmt.Errorf("audio: read chunk header: %w", err)
		}
		id := string(hdr[0:4])
		size := binary.LittleEndian.Uint32(hdr[4:8])

		switch id {
		case "fmt ":
			if size < 16 {
				return nil, fmt.Errorf("audio: fmt chunk too short (%d bytes)", size)
			}
			buf := make([]byte, size)
			if _, err := io.ReadFull(r, buf); err != nil {
				return nil, fmt.Errorf("audio: read fmt chunk: %w", err)
			}
			audioFormat := binary.LittleEndian.Uint16(buf[0:2])
			bits := binary.LittleEndian.Uint16(buf[14:16])
			if audioFormat != 1 || bits != 16 {
				return nil, fmt.Errorf("%w: format=%d bits=%d", ErrUnsupportedWAV, audioFormat, bits)
			}
			w.Format = Format{
				Channels:   int(binary.LittleEndian.Uint16(buf[2:4])),
				SampleRate: int(binary.LittleEndian.Uint32(buf[4:8])),
			}
			if w.Format.Channels <= 0 || w.Format.SampleRate <= 0 {
				return nil, fmt.Errorf("%w: channels=%d rate=%d", ErrUnsupportedWAV, w.Format.Channels, w.Format.SampleRate)
			}
			haveFmt = true
			if size%2 == 1 {
				if _, err := io.CopyN(io.Discard, r, 1); err != nil {
					return nil, fmt.Errorf("audio: skip pad byte: %w", err)
				}
			}

		case "data":
			if !haveFmt {
				return nil, fmt.Errorf("audio: data chunk before fmt chunk")
			}
			raw := make([]byte, size)
			n, err := io.ReadFull(r, raw)
			if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
				return nil, fmt.Errorf("audio: read data chunk: %w", err)
			}
			// Tolerate truncated files (common for interrupted recordings).
			raw = raw[:n-n%2]
			w.Samples = make([]int16, len(raw)/2)
			for i := range w.Samples {
				w.Samples[i] = int16(binary.LittleEndian.Uint16(raw[i*2:]))
			}
			return &w, nil

		default:
			skip := int64(size) + int64(size%2)
			if _, err := io.CopyN(io.Discard, r, skip); err != nil {
				return nil, fmt.Errorf("audio: skip %q chunk: %w", id, err)
			}
		}
	}
}

// EncodeWAV writes mono or interleaved PCM16 samples as a canonical 44-byte
// header RIFF/WAVE stream.
func EncodeWAV(w io.Writer, f Format, samples []int16) error {
	if f.SampleRate <= 0 || f.Channels <= 0 {
		return fmt.Errorf("audio: encode wav: invalid format %s", f)
	}
	dataSize := uint32(len(samples) * 2)
	blockAlign := uint16(f.Channels * 2)

	hdr := make([]byte, 44)
	copy(hdr[0:4], "RIFF")
	binary.LittleEndian.PutUint32(hdr[4:8], 36+dataSize)
	copy(hdr[8:12], "WAVE")
	copy(hdr[12:16], "fmt ")
	binary.LittleEndian.PutUint32(hdr[16:20], 16)
	binary.LittleEndian.PutUint16(hdr[20:22], 1)
	binary.LittleEndian.PutUint16(hdr[22:24], uint16(f.Channels))
	binary.LittleEndian.PutUint32(hdr[24:28], uint32(f.SampleRate))
	binary.LittleEndian.PutUint32(hdr[28:32], uint32(f.SampleRate)*uint32(blockAlign))
	binary.LittleEndian.PutUint16(hdr[32:34], blockAlign)
	binary.LittleEndian.PutUint16(hdr[34:36], 16)
	copy(hdr[36:40], "data")
	binary.LittleEndian.PutUint32(hdr[40:44], dataSize)

	if _, err := w.Write(hdr); err != nil {
		return fmt.Errorf("audio: write wav header: %w", err)
	}
	if _, err := w.Write(PCMBytes(samples)); err != nil {
		return fmt.Errorf("audio: write wav data: %w", err)
	}
	return nil
}
