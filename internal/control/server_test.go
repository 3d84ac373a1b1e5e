package control

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Angelishere/Major-Project-Perceiva/internal/livecall"
	"github.com/Angelishere/Major-Project-Perceiva/internal/touch"
)

type fakeCalls struct {
	state livecall.State
	room  string
	ends  atomic.Int32
}

func (f *fakeCalls) State() livecall.State { return f.state }
func (f *fakeCalls) ActiveRoom() string    { return f.room }
func (f *fakeCalls) End()                  { f.ends.Add(1) }

func do(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	s := New(&fakeCalls{}, nil, touch.Capabilities{}, func() {})
	rec := do(t, s, http.MethodGet, "/healthz", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("healthz = %d", rec.Code)
	}
}

func TestStatusReportsCallState(t *testing.T) {
	calls := &fakeCalls{state: livecall.StateStreaming, room: "room-7"}
	s := New(calls, nil, touch.Capabilities{Touch: true, Camera: true}, func() {})

	rec := do(t, s, http.MethodGet, "/status", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var got statusResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.CallState != "streaming" || got.Room != "room-7" || !got.Touch || !got.Camera {
		t.Fatalf("unexpected status: %+v", got)
	}
}

func TestManualInteraction(t *testing.T) {
	trigger := touch.NewManualSensor()
	s := New(&fakeCalls{}, trigger, touch.Capabilities{}, func() {})

	rec := do(t, s, http.MethodPost, "/interaction", `{"durationMs": 50}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("interaction = %d, body %s", rec.Code, rec.Body.String())
	}
	if !trigger.Read() {
		t.Fatal("manual sensor not pressed")
	}
	time.Sleep(70 * time.Millisecond)
	if trigger.Read() {
		t.Fatal("manual press did not expire")
	}
}

func TestManualInteractionRejectedWithHardwareSensor(t *testing.T) {
	s := New(&fakeCalls{}, nil, touch.Capabilities{Touch: true}, func() {})

	rec := do(t, s, http.MethodPost, "/interaction", "")
	if rec.Code != http.StatusConflict {
		t.Fatalf("interaction = %d, want 409", rec.Code)
	}
}

func TestEndCall(t *testing.T) {
	calls := &fakeCalls{state: livecall.StateStreaming}
	s := New(calls, nil, touch.Capabilities{}, func() {})

	rec := do(t, s, http.MethodPost, "/call/end", "")
	if rec.Code != http.StatusAccepted {
		t.Fatalf("end = %d", rec.Code)
	}
	if calls.ends.Load() != 1 {
		t.Fatalf("End calls = %d, want 1", calls.ends.Load())
	}
}

func TestEndCallWithoutSession(t *testing.T) {
	s := New(&fakeCalls{state: livecall.StateIdle}, nil, touch.Capabilities{}, func() {})

	rec := do(t, s, http.MethodPost, "/call/end", "")
	if rec.Code != http.StatusConflict {
		t.Fatalf("end = %d, want 409", rec.Code)
	}
}

func TestShutdown(t *testing.T) {
	quit := make(chan struct{}, 1)
	s := New(&fakeCalls{}, nil, touch.Capabilities{}, func() { quit <- struct{}{} })

	rec := do(t, s, http.MethodPost, "/shutdown", "")
	if rec.Code != http.StatusAccepted {
		t.Fatalf("shutdown = %d", rec.Code)
	}
	select {
	case <-quit:
	case <-time.After(time.Second):
		t.Fatal("shutdown callback never ran")
	}
}
