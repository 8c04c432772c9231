package web

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"farm-go-remote/internal/device"
	"farm-go-remote/internal/eventlog"
	"farm-go-remote/internal/model"
	"farm-go-remote/internal/remote"
	"farm-go-remote/internal/schedule"
	"farm-go-remote/internal/session"
)

type testEnv struct {
	server *Server
	ch     *remote.MemoryChannel
	log    *eventlog.Log
}

func newTestEnv(t *testing.T, opts ...ServerOption) *testEnv {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ch := remote.NewMemoryChannel()
	log := eventlog.New()
	devices := device.NewController(ch, log, nil, logger)
	sched := schedule.NewManager(ch, log)
	sess := session.New(ch, devices, sched, log, session.NewEventBus(logger), logger)
	sess.HandleAuth(true)

	srv := NewServer(sess, devices, sched, log, logger, opts...)
	t.Cleanup(func() {
		srv.Stop()
		sess.Close()
	})
	return &testEnv{server: srv, ch: ch, log: log}
}

func (env *testEnv) request(t *testing.T, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	w := httptest.NewRecorder()
	env.server.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.NewDecoder(w.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func TestAPIState(t *testing.T) {
	env := newTestEnv(t)

	env.ch.Push("sensors", []byte(`{"temperature":22.5,"humidity":55.0,"ammonia":4.2,"feedLevel":90}`))
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		w := env.request(t, http.MethodGet, "/api/state", "")
		if w.Code != http.StatusOK {
			t.Fatalf("status = %d", w.Code)
		}
		var resp struct {
			Session string               `json:"session"`
			Sensors model.SensorSnapshot `json:"sensors"`
		}
		decodeBody(t, w, &resp)
		if resp.Session != "active" {
			t.Fatalf("session = %q, want active", resp.Session)
		}
		if resp.Sensors.FeedLevel == 90 {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("sensors mirror never reflected the pushed snapshot")
}

func TestAPIToggle(t *testing.T) {
	env := newTestEnv(t)

	w := env.request(t, http.MethodPost, "/api/devices/heater/toggle", "")
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", w.Code)
	}

	writes := env.ch.Writes()
	if len(writes) != 1 || writes[0].Path != "controls/heater" {
		t.Fatalf("writes = %+v, want one to controls/heater", writes)
	}
}

func TestAPIToggleUnknownDevice(t *testing.T) {
	env := newTestEnv(t)
	if w := env.request(t, http.MethodPost, "/api/devices/pump/toggle", ""); w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestAPIToggleMomentaryRejected(t *testing.T) {
	env := newTestEnv(t)
	if w := env.request(t, http.MethodPost, "/api/devices/feed/toggle", ""); w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestAPIPulse(t *testing.T) {
	env := newTestEnv(t)

	w := env.request(t, http.MethodPost, "/api/devices/feed/pulse", "")
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", w.Code)
	}
	if w := env.request(t, http.MethodPost, "/api/devices/fan/pulse", ""); w.Code != http.StatusBadRequest {
		t.Errorf("pulse persistent: status = %d, want 400", w.Code)
	}
}

func TestAPILog(t *testing.T) {
	env := newTestEnv(t)
	env.log.Clear() // drop the connect entry
	env.log.Record("HEATER turned ON", eventlog.SeverityInfo)

	w := env.request(t, http.MethodGet, "/api/log", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var entries []eventlog.Entry
	decodeBody(t, w, &entries)
	if len(entries) != 1 || entries[0].Message != "HEATER turned ON" {
		t.Fatalf("entries = %+v", entries)
	}

	if w := env.request(t, http.MethodDelete, "/api/log", ""); w.Code != http.StatusOK {
		t.Fatalf("clear status = %d", w.Code)
	}
	if got := env.log.Entries(); len(got) != 0 {
		t.Errorf("log after clear = %+v", got)
	}
}

func TestAPISetScheduleField(t *testing.T) {
	env := newTestEnv(t)

	w := env.request(t, http.MethodPut, "/api/schedule/feed_time", `{"value":"08:15"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	var resp map[string]string
	decodeBody(t, w, &resp)
	if resp["field"] != "feed_time" || resp["value"] != "08:15" {
		t.Errorf("resp = %v", resp)
	}

	tests := []struct {
		name   string
		target string
		body   string
	}{
		{"unknown field", "/api/schedule/nap_time", `{"value":"08:15"}`},
		{"bad value", "/api/schedule/feed_time", `{"value":"25:99"}`},
		{"bad body", "/api/schedule/feed_time", `{`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if w := env.request(t, http.MethodPut, tt.target, tt.body); w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", w.Code)
			}
		})
	}
}

func TestAPISaveSchedule(t *testing.T) {
	env := newTestEnv(t)

	if w := env.request(t, http.MethodPut, "/api/schedule/egg_time", `{"value":"07:30"}`); w.Code != http.StatusOK {
		t.Fatalf("set field: %d", w.Code)
	}
	if w := env.request(t, http.MethodPost, "/api/schedule/save", ""); w.Code != http.StatusAccepted {
		t.Fatalf("save status = %d, want 202", w.Code)
	}

	writes := env.ch.Writes()
	if len(writes) != 1 || writes[0].Path != schedule.Path {
		t.Fatalf("writes = %+v, want one to %q", writes, schedule.Path)
	}
	rec, err := model.DecodeSchedule(writes[0].Payload)
	if err != nil {
		t.Fatalf("saved payload invalid: %v", err)
	}
	if rec.EggTime != (model.TimeOfDay{Hour: 7, Minute: 30}) {
		t.Errorf("saved record = %+v", rec)
	}
}

func TestAPIHistoryDisabled(t *testing.T) {
	env := newTestEnv(t)
	if w := env.request(t, http.MethodGet, "/api/history", ""); w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestAPIVersion(t *testing.T) {
	env := newTestEnv(t, WithVersion("1.2.3"))
	w := env.request(t, http.MethodGet, "/api/version", "")
	var resp map[string]string
	decodeBody(t, w, &resp)
	if resp["version"] != "1.2.3" {
		t.Errorf("version = %q", resp["version"])
	}
}

func TestAPIKeyAuth(t *testing.T) {
	env := newTestEnv(t, WithAPIKey("secret"))

	if w := env.request(t, http.MethodGet, "/api/state", ""); w.Code != http.StatusUnauthorized {
		t.Errorf("no key: status = %d, want 401", w.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/state", nil)
	req.Header.Set("X-API-Key", "secret")
	w := httptest.NewRecorder()
	env.server.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("header key: status = %d, want 200", w.Code)
	}

	if w := env.request(t, http.MethodGet, "/api/state?api_key=secret", ""); w.Code != http.StatusOK {
		t.Errorf("query key: status = %d, want 200", w.Code)
	}
	if w := env.request(t, http.MethodGet, "/api/state?api_key=wrong", ""); w.Code != http.StatusUnauthorized {
		t.Errorf("wrong key: status = %d, want 401", w.Code)
	}
}
