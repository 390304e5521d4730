package audio_test

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/MrWong99/ocepa/pkg/audio"
)

func TestWAV_RoundTrip(t *testing.T) {
	t.Parallel()
	samples := []int16{0, 1000, -1000, 32767, -32768}
	var buf bytes.Buffer
	if err := audio.EncodeWAV(&buf, audio.Format{SampleRate: 16000, Channels: 1}, samples); err != nil {
		t.Fatalf("EncodeWAV: %v", err)
	}
	if buf.Len() != 44+len(samples)*2 {
		t.Fatalf("wav size = %d; want %d", buf.Len(), 44+len(samples)*2)
	}

	w, err := audio.DecodeWAV(&buf)
	if err != nil {
		t.Fatalf("DecodeWAV: %v", err)
	}
	if w.Format.SampleRate != 16000 || w.Format.Channels != 1 {
		t.Errorf("format = %s; want 16000Hz mono", w.Format)
	}
	if len(w.Samples) != len(samples) {
		t.Fatalf("got %d samples; want %d", len(w.Samples), len(samples))
	}
	for i := range samples {
		if w.Samples[i] != samples[i] {
			t.Errorf("sample %d: got %d, want %d", i, w.Samples[i], samples[i])
		}
	}
}

func TestDecodeWAV_SkipsUnknownChunks(t *testing.T) {
	t.Parallel()
	var enc bytes.Buffer
	if err := audio.EncodeWAV(&enc, audio.Format{SampleRate: 8000, Channels: 2}, []int16{1, 2, 3, 4}); err != nil {
		t.Fatalf("EncodeWAV: %v", err)
	}
	raw := enc.Bytes()

	// Splice a LIST chunk (odd length, padded) between "fmt " and "data".
	list := []byte("LIST")
	list = binary.LittleEndian.AppendUint32(list, 3)
	list = append(list, 'a', 'b', 'c', 0)

	var spliced bytes.Buffer
	spliced.Write(raw[:36])
	spliced.Write(list)
	spliced.Write(raw[36:])

	w, err := audio.DecodeWAV(&spliced)
	if err != nil {
		t.Fatalf("DecodeWAV: %v", err)
	}
	if w.Format.Channels != 2 || w.Format.SampleRate != 8000 {
		t.Errorf("format = %s; want 8000Hz stereo", w.Format)
	}
	if len(w.Samples) != 4 {
		t.Errorf("got %d samples; want 4", len(w.Samples))
	}
}

func TestDecodeWAV_Truncated(t *testing.T) {
	t.Parallel()
	var enc bytes.Buffer
	if err := audio.EncodeWAV(&enc, audio.Format{SampleRate: 16000, Channels: 1}, []int16{7, 8, 9}); err != nil {
		t.Fatalf("EncodeWAV: %v", err)
	}
	raw := enc.Bytes()[:enc.Len()-3] // drop 1.5 samples

	w, err := audio.DecodeWAV(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("DecodeWAV: %v", err)
	}
	if len(w.Samples) != 1 || w.Samples[0] != 7 {
		t.Errorf("samples = %v; want [7]", w.Samples)
	}
}

func TestDecodeWAV_Rejects(t *testing.T) {
	t.Parallel()

	t.Run("not riff", func(t *testing.T) {
		if _, err := audio.DecodeWAV(bytes.NewReader([]byte("RIFX0000WAVEfmt "))); err == nil {
			t.Error("expected error")
		}
	})

	t.Run("float format", func(t *testing.T) {
		var enc bytes.Buffer
		_ = audio.EncodeWAV(&enc, audio.Format{SampleRate: 16000, Channels: 1}, []int16{1})
		raw := enc.Bytes()
		binary.LittleEndian.PutUint16(raw[20:22], 3) // WAVE_FORMAT_IEEE_FLOAT
		_, err := audio.DecodeWAV(bytes.NewReader(raw))
		if !errors.Is(err, audio.ErrUnsupportedWAV) {
			t.Errorf("err = %v; want ErrUnsupportedWAV", err)
		}
	})

	t.Run("no data chunk", func(t *testing.T) {
		var enc bytes.Buffer
		_ = audio.EncodeWAV(&enc, audio.Format{SampleRate: 16000, Channels: 1}, nil)
		if _, err := audio.DecodeWAV(bytes.NewReader(enc.Bytes()[:36])); err == nil {
			t.Error("expected error")
		}
	})
}
