package livecall

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/Angelishere/Major-Project-Perceiva/internal/backend"
	"github.com/Angelishere/Major-Project-Perceiva/internal/transport"
)

// recorder collects teardown events so tests can assert ordering.
type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) add(ev string) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recorder) list() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	copy(out, r.events)
	return out
}

func (r *recorder) count(ev string) int {
	n := 0
	for _, e := range r.list() {
		if e == ev {
			n++
		}
	}
	return n
}

type fakeBackend struct {
	rec *recorder

	volunteerErr error
	credsErr     error
}

func (b *fakeBackend) RequestVolunteer(ctx context.Context) (*backend.Reservation, error) {
	if b.volunteerErr != nil {
		return nil, b.volunteerErr
	}
	return &backend.Reservation{RoomID: "room-1", Volunteer: backend.Volunteer{ID: "v1", Name: "Sam"}}, nil
}

func (b *fakeBackend) RoomCredentials(ctx context.Context, volunteerID string) (*backend.Credentials, error) {
	if b.credsErr != nil {
		return nil, b.credsErr
	}
	return &backend.Credentials{URL: "wss://media.example", Token: "tok"}, nil
}

func (b *fakeBackend) EndCall(ctx context.Context, roomID string) error {
	b.rec.add("endcall")
	return nil
}

type fakeCamera struct {
	rec *recorder
	pr  *io.PipeReader
	pw  *io.PipeWriter
}

func newFakeCamera(rec *recorder) *fakeCamera {
	pr, pw := io.Pipe()
	return &fakeCamera{rec: rec, pr: pr, pw: pw}
}

func (c *fakeCamera) Stream() io.Reader { return c.pr }

func (c *fakeCamera) Close() error {
	c.rec.add("camera")
	c.pw.CloseWithError(io.EOF)
	return nil
}

type fakeMic struct {
	rec       *recorder
	closed    chan struct{}
	closeOnce sync.Once
}

func newFakeMic(rec *recorder) *fakeMic {
	return &fakeMic{rec: rec, closed: make(chan struct{})}
}

func (m *fakeMic) ReadChunk(buf []byte) error {
	<-m.closed
	return errors.New("microphone closed")
}

func (m *fakeMic) ChunkBytes() int { return 640 }

func (m *fakeMic) Close() error {
	m.rec.add("mic")
	m.closeOnce.Do(func() { close(m.closed) })
	return nil
}

type fakeRelay struct {
	rec *recorder

	mu     sync.Mutex
	writes [][]byte
}

func (r *fakeRelay) Write(b []byte) {
	r.mu.Lock()
	r.writes = append(r.writes, append([]byte(nil), b...))
	r.mu.Unlock()
}

func (r *fakeRelay) Close() error {
	r.rec.add("relay")
	return nil
}

type fakeRoom struct {
	rec   *recorder
	fault chan error
}

func (r *fakeRoom) PublishVideo() (transport.VideoWriter, error) { return nopVideoWriter{}, nil }
func (r *fakeRoom) PublishAudio() (transport.AudioWriter, error) { return nopAudioWriter{}, nil }
func (r *fakeRoom) Fault() <-chan error                          { return r.fault }

func (r *fakeRoom) Close() error {
	r.rec.add("transport")
	return nil
}

type nopVideoWriter struct{}

func (nopVideoWriter) WriteUnit(data []byte, d time.Duration) error { return nil }

type nopAudioWriter struct{}

func (nopAudioWriter) WritePCM(pcm []byte) error { return nil }

type fakeTransport struct {
	rec     *recorder
	joinErr error

	mu      sync.Mutex
	room    *fakeRoom
	handler transport.RemoteAudioHandler
}

func (t *fakeTransport) Join(ctx context.Context, creds transport.Credentials, onRemoteAudio transport.RemoteAudioHandler) (transport.Room, error) {
	if t.joinErr != nil {
		return nil, t.joinErr
	}
	room := &fakeRoom{rec: t.rec, fault: make(chan error, 1)}
	t.mu.Lock()
	t.room = room
	t.handler = onRemoteAudio
	t.mu.Unlock()
	return room, nil
}

type fakeGate struct {
	hold chan struct{}
}

func (g *fakeGate) WaitForHold(ctx context.Context, hold time.Duration) error {
	select {
	case <-g.hold:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type harness struct {
	rec       *recorder
	backend   *fakeBackend
	transport *fakeTransport
	relay     *fakeRelay
	gate      *fakeGate
	manager   *Manager

	cameraErr error
	micErr    error
	relayErr  error
}

func newHarness() *harness {
	rec := &recorder{}
	h := &harness{
		rec:       rec,
		backend:   &fakeBackend{rec: rec},
		transport: &fakeTransport{rec: rec},
		relay:     &fakeRelay{rec: rec},
		gate:      &fakeGate{hold: make(chan struct{})},
	}
	h.manager = &Manager{
		Backend: h.backend,
		Devices: Devices{
			OpenCamera: func() (Camera, error) {
				if h.cameraErr != nil {
					return nil, h.cameraErr
				}
				return newFakeCamera(rec), nil
			},
			OpenMicrophone: func() (Microphone, error) {
				if h.micErr != nil {
					return nil, h.micErr
				}
				return newFakeMic(rec), nil
			},
		},
		Transport: h.transport,
		OpenRelay: func() (RelaySink, error) {
			if h.relayErr != nil {
				return nil, h.relayErr
			}
			return h.relay, nil
		},
		Gate:     h.gate,
		EndHold:  50 * time.Millisecond,
		VideoFPS: 24,
	}
	return h
}

func (h *harness) waitStreaming(t *testing.T) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if h.manager.State() == StateStreaming {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("session never reached streaming, state=%s", h.manager.State())
}

func TestSecondSessionRejected(t *testing.T) {
	h := newHarness()
	done := make(chan error, 1)
	go func() { done <- h.manager.Run(context.Background()) }()
	h.waitStreaming(t)

	if err := h.manager.Run(context.Background()); !errors.Is(err, ErrCallActive) {
		t.Fatalf("second Run: got %v, want ErrCallActive", err)
	}

	h.manager.End()
	if err := <-done; err != nil {
		t.Fatalf("first Run returned %v after End", err)
	}
	if h.manager.State() != StateIdle {
		t.Fatalf("state after end = %s, want idle", h.manager.State())
	}
}

func TestVolunteerUnavailableHoldsNothing(t *testing.T) {
	h := newHarness()
	h.backend.volunteerErr = backend.ErrNoVolunteer

	err := h.manager.Run(context.Background())
	if !errors.Is(err, ErrNoVolunteer) {
		t.Fatalf("got %v, want ErrNoVolunteer", err)
	}
	if evs := h.rec.list(); len(evs) != 0 {
		t.Fatalf("teardown touched resources with nothing acquired: %v", evs)
	}
}

func TestSetupFailureTeardown(t *testing.T) {
	tests := []struct {
		name    string
		prep    func(*harness)
		wantErr error
		closed  []string
	}{
		{
			name:    "credentials",
			prep:    func(h *harness) { h.backend.credsErr = errors.New("boom") },
			wantErr: ErrCredentialExchange,
			closed:  []string{"endcall"},
		},
		{
			name:    "camera",
			prep:    func(h *harness) { h.cameraErr = errors.New("no camera") },
			wantErr: ErrDeviceAcquisition,
			closed:  []string{"endcall"},
		},
		{
			name:    "microphone",
			prep:    func(h *harness) { h.micErr = errors.New("no mic") },
			wantErr: ErrDeviceAcquisition,
			closed:  []string{"endcall", "camera"},
		},
		{
			name:    "relay",
			prep:    func(h *harness) { h.relayErr = errors.New("no sink") },
			wantErr: ErrDeviceAcquisition,
			closed:  []string{"endcall", "mic", "camera"},
		},
		{
			name:    "join",
			prep:    func(h *harness) { h.transport.joinErr = errors.New("refused") },
			wantErr: ErrTransportJoin,
			closed:  []string{"relay", "endcall", "mic", "camera"},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness()
			tc.prep(h)

			err := h.manager.Run(context.Background())
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("got %v, want %v", err, tc.wantErr)
			}
			got := h.rec.list()
			if len(got) != len(tc.closed) {
				t.Fatalf("teardown events = %v, want %v", got, tc.closed)
			}
			for i := range got {
				if got[i] != tc.closed[i] {
					t.Fatalf("teardown events = %v, want %v", got, tc.closed)
				}
			}
		})
	}
}

func TestTransportFaultEndsSession(t *testing.T) {
	h := newHarness()
	done := make(chan error, 1)
	go func() { done <- h.manager.Run(context.Background()) }()
	h.waitStreaming(t)

	h.transport.mu.Lock()
	room := h.transport.room
	h.transport.mu.Unlock()
	room.fault <- errors.New("ice disconnected")

	err := <-done
	if !errors.Is(err, ErrTransportFault) {
		t.Fatalf("got %v, want ErrTransportFault", err)
	}
	want := []string{"relay", "endcall", "mic", "camera", "transport"}
	got := h.rec.list()
	if len(got) != len(want) {
		t.Fatalf("teardown events = %v, want %v", got, want)
	}
	for i := range got {
		if got[i] != want[i] {
			t.Fatalf("teardown events = %v, want %v", got, want)
		}
	}
}

func TestEndGestureEndsSession(t *testing.T) {
	h := newHarness()
	done := make(chan error, 1)
	go func() { done <- h.manager.Run(context.Background()) }()
	h.waitStreaming(t)

	close(h.gate.hold)
	if err := <-done; err != nil {
		t.Fatalf("Run returned %v after end gesture", err)
	}
	if n := h.rec.count("endcall"); n != 1 {
		t.Fatalf("end-call notified %d times, want 1", n)
	}
}

func TestEndIsIdempotent(t *testing.T) {
	h := newHarness()
	done := make(chan error, 1)
	go func() { done <- h.manager.Run(context.Background()) }()
	h.waitStreaming(t)

	h.manager.End()
	h.manager.End()
	if err := <-done; err != nil {
		t.Fatalf("Run returned %v", err)
	}
	h.manager.End()

	if n := h.rec.count("endcall"); n != 1 {
		t.Fatalf("end-call notified %d times, want 1", n)
	}
	if n := h.rec.count("relay"); n != 1 {
		t.Fatalf("relay closed %d times, want 1", n)
	}
}

func TestActiveRoomReadableDuringSetup(t *testing.T) {
	h := newHarness()

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
				h.manager.ActiveRoom()
				h.manager.State()
			}
		}
	}()

	done := make(chan error, 1)
	go func() { done <- h.manager.Run(context.Background()) }()
	h.waitStreaming(t)

	if room := h.manager.ActiveRoom(); room != "room-1" {
		t.Fatalf("ActiveRoom = %q, want room-1", room)
	}

	close(stop)
	wg.Wait()
	h.manager.End()
	if err := <-done; err != nil {
		t.Fatalf("Run returned %v", err)
	}
}

func TestRemoteAudioReachesRelay(t *testing.T) {
	h := newHarness()
	done := make(chan error, 1)
	go func() { done <- h.manager.Run(context.Background()) }()
	h.waitStreaming(t)

	h.transport.mu.Lock()
	handler := h.transport.handler
	h.transport.mu.Unlock()
	handler(transport.PCMFrame{Data: []byte{1, 2, 3, 4}, SampleRate: 48000, Channels: 1})

	h.relay.mu.Lock()
	writes := len(h.relay.writes)
	h.relay.mu.Unlock()
	if writes != 1 {
		t.Fatalf("relay writes = %d, want 1", writes)
	}

	h.manager.End()
	<-done
}
