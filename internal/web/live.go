package web

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"sync"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/ocepa/internal/app"
	"github.com/MrWong99/ocepa/internal/lecture"
	"github.com/MrWong99/ocepa/internal/observe"
	"github.com/MrWong99/ocepa/pkg/audio"
	"github.com/MrWong99/ocepa/pkg/capture/feed"
	"github.com/MrWong99/ocepa/pkg/provider/transcribe"
)

const (
	// maxAudioMessage caps one binary message (1 MiB = 262144 samples).
	maxAudioMessage = 1 << 20

	// eventBuffer is the number of events queued for a slow client before
	// new ones are dropped.
	eventBuffer = 256
)

// controlMessage is a text message sent by the live client.
type controlMessage struct {
	Type string `json:"type"`
}

// live upgrades to a WebSocket and runs a capture session for the lecture.
//
// The client sends binary messages of little-endian float32 samples in the
// format given by the sample_rate and channels query parameters (default
// 16 kHz mono), and may send {"type":"stop"} to finish. The server sends
// [app.Event] objects as JSON text messages. When the client sends stop, the
// socket closes, or the session ends on its own, the lecture is stopped and
// saved, the final saved or error event is sent, and the socket is closed.
func (s *Server) live(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	log := observe.LectureLogger(r.Context(), id)

	format, err := parseFormat(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	sink := newEventSink(eventBuffer)
	device := feed.New(format)
	ls, err := s.sessions.Start(r.Context(), id, device, sink.send)
	if err != nil {
		s.startError(w, r, err)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: s.originPatterns})
	if err != nil {
		log.Warn("web: websocket accept failed", "err", err)
		s.stopLive(r.Context(), id)
		return
	}
	defer conn.CloseNow()
	conn.SetReadLimit(maxAudioMessage)
	log.Info("live socket opened", "format", format.String())

	// The socket must outlive the request context while the lecture saves.
	ctx := context.WithoutCancel(r.Context())
	stopReq := make(chan struct{})
	var stopOnce sync.Once
	requestStop := func() { stopOnce.Do(func() { close(stopReq) }) }

	var g errgroup.Group
	g.Go(func() error {
		defer requestStop()
		return readAudio(ctx, conn, device, sink, requestStop)
	})
	g.Go(func() error {
		return writeEvents(ctx, conn, sink.ch)
	})

	select {
	case <-stopReq:
	case <-ls.Done():
	}

	if err := s.stopLive(ctx, id); err != nil {
		log.Warn("live session stopped with error", "err", err)
	}
	sink.close()
	if err := g.Wait(); err != nil {
		log.Debug("live socket ended", "err", err)
	}
	log.Info("live socket closed")
}

// stopLive stops and saves the lecture's session. The saved or error event
// is delivered through the session's event handler.
func (s *Server) stopLive(ctx context.Context, id string) error {
	ctx, cancel := context.WithTimeout(ctx, s.stopTimeout)
	defer cancel()
	err := s.sessions.Stop(ctx, id)
	if errors.Is(err, app.ErrNoSession) {
		return nil
	}
	return err
}

func (s *Server) startError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, lecture.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, app.ErrSessionActive):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, transcribe.ErrConnectionFailure):
		observe.LectureLogger(r.Context(), r.PathValue("id")).Warn("web: transcription unavailable", "err", err)
		writeError(w, http.StatusBadGateway, err.Error())
	default:
		observe.Logger(r.Context()).Error("web: start live session", "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// readAudio feeds binary messages into device until the client stops or the
// socket closes. A normal close is not an error.
func readAudio(ctx context.Context, conn *websocket.Conn, device *feed.Device, sink *eventSink, stop func()) error {
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				return nil
			}
			return fmt.Errorf("web: read: %w", err)
		}

		if typ == websocket.MessageText {
			var msg controlMessage
			if err := json.Unmarshal(data, &msg); err != nil || msg.Type != "stop" {
				sink.send(app.Event{Type: app.EventError, Message: "unknown control message"})
				continue
			}
			stop()
			continue
		}

		samples, err := decodeSamples(data)
		if err != nil {
			sink.send(app.Event{Type: app.EventError, Message: err.Error()})
			continue
		}
		if _, _, err := device.Write(samples); errors.Is(err, feed.ErrNotOpen) {
			// Capture has stopped; keep reading until the socket closes.
			continue
		}
	}
}

// writeEvents sends events until the channel closes, then closes the socket.
func writeEvents(ctx context.Context, conn *websocket.Conn, events <-chan app.Event) error {
	var writeErr error
	for ev := range events {
		if writeErr != nil {
			continue
		}
		writeErr = wsjson.Write(ctx, conn, ev)
	}
	if writeErr != nil {
		conn.CloseNow()
		return fmt.Errorf("web: write event: %w", writeErr)
	}
	return conn.Close(websocket.StatusNormalClosure, "lecture stopped")
}

// decodeSamples converts little-endian float32 bytes into samples.
func decodeSamples(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("audio message of %d bytes is not a whole number of float32 samples", len(b))
	}
	out := make([]float32, len(b)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return out, nil
}

func parseFormat(r *http.Request) (audio.Format, error) {
	f := audio.Format{SampleRate: audio.DefaultSampleRate, Channels: audio.DefaultChannels}
	q := r.URL.Query()
	if v := q.Get("sample_rate"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 8000 || n > 192000 {
			return f, fmt.Errorf("sample_rate must be an integer between 8000 and 192000")
		}
		f.SampleRate = n
	}
	if v := q.Get("channels"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || (n != 1 && n != 2) {
			return f, fmt.Errorf("channels must be 1 or 2")
		}
		f.Channels = n
	}
	return f, nil
}

// eventSink buffers session events for the socket writer. Sends never block
// and are ignored once the sink is closed.
type eventSink struct {
	mu     sync.Mutex
	closed bool
	ch     chan app.Event
}

func newEventSink(n int) *eventSink {
	return &eventSink{ch: make(chan app.Event, n)}
}

func (s *eventSink) send(ev app.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- ev:
	default:
	}
}

func (s *eventSink) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}
