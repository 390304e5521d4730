package web_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/MrWong99/ocepa/internal/app"
	"github.com/MrWong99/ocepa/internal/insight"
	"github.com/MrWong99/ocepa/internal/lecture"
	"github.com/MrWong99/ocepa/internal/observe"
	"github.com/MrWong99/ocepa/internal/web"
	"github.com/MrWong99/ocepa/pkg/provider/transcribe/mock"
)

type fixture struct {
	store    *lecture.MemStore
	provider *mock.Provider
	sessions *app.SessionManager
	server   *httptest.Server
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	m, err := observe.NewMetrics(sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)))
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	f := &fixture{store: lecture.NewMemStore(), provider: &mock.Provider{}}
	f.sessions = app.NewSessionManager(app.SessionManagerConfig{
		Store:      f.store,
		Provider:   f.provider,
		Classifier: insight.NewKeywordClassifier(nil),
		Metrics:    m,
	})
	srv := web.New(f.store, f.sessions,
		web.WithMetrics(m),
		web.WithMetricsHandler(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			io.WriteString(w, "# metrics\n")
		})),
	)
	f.server = httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		_ = f.sessions.StopAll(context.Background())
		f.server.Close()
	})
	return f
}

func (f *fixture) do(t *testing.T, method, path, body string) *http.Response {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, f.server.URL+path, r)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return v
}

func wantStatus(t *testing.T, resp *http.Response, want int) {
	t.Helper()
	if resp.StatusCode != want {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("%s %s: status = %d, want %d (body %s)",
			resp.Request.Method, resp.Request.URL.Path, resp.StatusCode, want, bytes.TrimSpace(body))
	}
}

func TestLectures_CRUD(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	resp := f.do(t, "POST", "/v1/lectures", `{"title":"Thermodynamics","user_id":"u1"}`)
	wantStatus(t, resp, http.StatusCreated)
	created := decode[lecture.Lecture](t, resp)
	if created.ID == "" || created.Title != "Thermodynamics" || created.UserID != "u1" {
		t.Fatalf("created = %+v", created)
	}
	if loc := resp.Header.Get("Location"); loc != "/v1/lectures/"+created.ID {
		t.Errorf("Location = %q", loc)
	}
	if created.Transcript == nil || created.Notes == nil {
		t.Error("new lecture should have empty, non-null transcript and notes")
	}

	resp = f.do(t, "GET", "/v1/lectures/"+created.ID, "")
	wantStatus(t, resp, http.StatusOK)
	if got := decode[lecture.Lecture](t, resp); got.ID != created.ID {
		t.Errorf("GET returned %+v", got)
	}

	resp = f.do(t, "PATCH", "/v1/lectures/"+created.ID, `{"title":"Thermo II","summary":"Entropy."}`)
	wantStatus(t, resp, http.StatusOK)
	patched := decode[lecture.Lecture](t, resp)
	if patched.Title != "Thermo II" || patched.Summary == nil || *patched.Summary != "Entropy." {
		t.Errorf("patched = %+v", patched)
	}

	f.do(t, "POST", "/v1/lectures", `{"title":"Other","user_id":"u2"}`)
	resp = f.do(t, "GET", "/v1/lectures?user_id=u1", "")
	wantStatus(t, resp, http.StatusOK)
	if list := decode[[]lecture.Lecture](t, resp); len(list) != 1 || list[0].ID != created.ID {
		t.Errorf("filtered list = %+v", list)
	}
	resp = f.do(t, "GET", "/v1/lectures?limit=1", "")
	wantStatus(t, resp, http.StatusOK)
	if list := decode[[]lecture.Lecture](t, resp); len(list) != 1 || list[0].Title != "Other" {
		t.Errorf("limited list = %+v; want newest first", list)
	}

	resp = f.do(t, "DELETE", "/v1/lectures/"+created.ID, "")
	wantStatus(t, resp, http.StatusNoContent)
	wantStatus(t, f.do(t, "GET", "/v1/lectures/"+created.ID, ""), http.StatusNotFound)
	wantStatus(t, f.do(t, "DELETE", "/v1/lectures/"+created.ID, ""), http.StatusNotFound)
}

func TestLectures_EmptyListIsArray(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	resp := f.do(t, "GET", "/v1/lectures", "")
	wantStatus(t, resp, http.StatusOK)
	body, _ := io.ReadAll(resp.Body)
	if got := strings.TrimSpace(string(body)); got != "[]" {
		t.Errorf("body = %s; want []", got)
	}
}

func TestLectures_BadRequests(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	lec, _ := f.store.Create(context.Background(), "Logic", "")

	tests := []struct {
		name, method, path, body string
		want                     int
	}{
		{"empty title", "POST", "/v1/lectures", `{"title":"  "}`, http.StatusBadRequest},
		{"unknown field", "POST", "/v1/lectures", `{"title":"x","color":"red"}`, http.StatusBadRequest},
		{"invalid json", "POST", "/v1/lectures", `{`, http.StatusBadRequest},
		{"bad limit", "GET", "/v1/lectures?limit=-1", "", http.StatusBadRequest},
		{"empty patch", "PATCH", "/v1/lectures/" + lec.ID, `{}`, http.StatusBadRequest},
		{"blank patch title", "PATCH", "/v1/lectures/" + lec.ID, `{"title":""}`, http.StatusBadRequest},
		{"patch missing", "PATCH", "/v1/lectures/nope", `{"title":"x"}`, http.StatusNotFound},
		{"method not allowed", "PUT", "/v1/lectures/" + lec.ID, `{}`, http.StatusMethodNotAllowed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wantStatus(t, f.do(t, tt.method, tt.path, tt.body), tt.want)
		})
	}
}

func TestProbesAndMetrics(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	wantStatus(t, f.do(t, "GET", "/healthz", ""), http.StatusOK)

	resp := f.do(t, "GET", "/readyz", "")
	wantStatus(t, resp, http.StatusOK)
	body := decode[map[string]any](t, resp)
	if checks, _ := body["checks"].(map[string]any); checks["store"] != "ok" {
		t.Errorf("readyz = %v; want a passing store check", body)
	}

	resp = f.do(t, "GET", "/metrics", "")
	wantStatus(t, resp, http.StatusOK)
	if b, _ := io.ReadAll(resp.Body); !strings.Contains(string(b), "# metrics") {
		t.Errorf("metrics body = %q", b)
	}
}

func TestSessions_ListAndDeleteConflict(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	lec, _ := f.store.Create(context.Background(), "Genetics", "")

	conn := dialLive(t, f, lec.ID, "")
	defer conn.CloseNow()

	resp := f.do(t, "GET", "/v1/sessions", "")
	wantStatus(t, resp, http.StatusOK)
	active := decode[[]map[string]any](t, resp)
	if len(active) != 1 || active[0]["lecture_id"] != lec.ID {
		t.Errorf("sessions = %v", active)
	}

	wantStatus(t, f.do(t, "DELETE", "/v1/lectures/"+lec.ID, ""), http.StatusConflict)
}
