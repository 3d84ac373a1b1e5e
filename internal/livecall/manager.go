// Package livecall owns the full lifecycle of a live volunteer call:
// volunteer acquisition, credential exchange, device acquisition, transport
// join, the per-frame relay loops, and guaranteed teardown.
package livecall

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"github.com/Angelishere/Major-Project-Perceiva/internal/backend"
	"github.com/Angelishere/Major-Project-Perceiva/internal/transport"
)

// Session errors.
var (
	ErrCallActive         = errors.New("a call session is already active")
	ErrNoVolunteer        = errors.New("no volunteer available")
	ErrCredentialExchange = errors.New("credential exchange failed")
	ErrDeviceAcquisition  = errors.New("device acquisition failed")
	ErrTransportJoin      = errors.New("transport join failed")
	ErrTransportFault     = errors.New("transport fault")
)

// State of the session lifecycle.
type State int

const (
	StateIdle State = iota
	StateVolunteerRequested
	StateCredentialsObtained
	StateDevicesAcquired
	StateTransportJoined
	StateStreaming
	StateEnding
)

func (s State) String() string {
	switch s {
	case StateVolunteerRequested:
		return "volunteer-requested"
	case StateCredentialsObtained:
		return "credentials-obtained"
	case StateDevicesAcquired:
		return "devices-acquired"
	case StateTransportJoined:
		return "transport-joined"
	case StateStreaming:
		return "streaming"
	case StateEnding:
		return "ending"
	default:
		return "idle"
	}
}

// Backend are the call endpoints the session depends on.
type Backend interface {
	RequestVolunteer(ctx context.Context) (*backend.Reservation, error)
	RoomCredentials(ctx context.Context, volunteerID string) (*backend.Credentials, error)
	EndCall(ctx context.Context, roomID string) error
}

// Camera is an acquired video device producing an encoded stream.
type Camera interface {
	Stream() io.Reader
	Close() error
}

// Microphone is an acquired audio capture device read in fixed chunks.
type Microphone interface {
	ReadChunk(buf []byte) error
	ChunkBytes() int
	Close() error
}

// Devices acquires media hardware for a session.
type Devices struct {
	OpenCamera     func() (Camera, error)
	OpenMicrophone func() (Microphone, error)
}

// RelaySink is the playback relay's borrowed input: non-blocking writes,
// idempotent close. It must never outlive the session that opened it.
type RelaySink interface {
	Write(b []byte)
	Close() error
}

// HoldWatcher detects the sustained touch gesture that ends a call.
// touch.Gate satisfies it.
type HoldWatcher interface {
	WaitForHold(ctx context.Context, hold time.Duration) error
}

// Manager runs at most one CallSession at a time.
type Manager struct {
	Backend   Backend
	Devices   Devices
	Transport transport.Transport
	OpenRelay func() (RelaySink, error)

	// Gate is optional; without it only errors or End() stop a session.
	Gate    HoldWatcher
	EndHold time.Duration

	VideoFPS int

	mu    sync.Mutex
	state State
	sess  *CallSession
}

// CallSession holds every acquired external resource for one call. Each
// field is independently nil-able so teardown can run no matter how far
// setup got.
type CallSession struct {
	// RoomID and Volunteer are written under the owning Manager's mu;
	// status readers on other goroutines go through the Manager.
	RoomID    string
	Volunteer backend.Volunteer

	creds  *backend.Credentials
	camera Camera
	mic    Microphone
	relay  RelaySink
	room   transport.Room

	cancel  context.CancelFunc
	endOnce sync.Once
	done    chan struct{}
}

// State reports the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// ActiveRoom returns the active session's room ID, empty when idle.
func (m *Manager) ActiveRoom() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sess == nil {
		return ""
	}
	return m.sess.RoomID
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	prev := m.state
	m.state = s
	m.mu.Unlock()
	if prev != s {
		log.Printf("call: state %s -> %s", prev, s)
	}
}

// Run executes one complete call session. It blocks until the session ends
// and returns nil for a normal end (touch gesture, remote hangup handled as
// fault, End call) or the error that aborted setup or streaming. Every
// acquired resource is released before Run returns.
func (m *Manager) Run(ctx context.Context) error {
	m.mu.Lock()
	if m.sess != nil {
		m.mu.Unlock()
		return ErrCallActive
	}
	sess := &CallSession{done: make(chan struct{})}
	ctx, sess.cancel = context.WithCancel(ctx)
	m.sess = sess
	m.state = StateVolunteerRequested
	m.mu.Unlock()
	log.Printf("call: state %s -> %s", StateIdle, StateVolunteerRequested)

	defer func() {
		sess.cancel()
		m.mu.Lock()
		m.sess = nil
		m.state = StateIdle
		m.mu.Unlock()
	}()

	// Volunteer reservation. Failure here holds nothing.
	res, err := m.Backend.RequestVolunteer(ctx)
	if err != nil {
		m.end(sess)
		return fmt.Errorf("%w: %v", ErrNoVolunteer, err)
	}
	m.mu.Lock()
	sess.RoomID = res.RoomID
	sess.Volunteer = res.Volunteer
	m.mu.Unlock()
	log.Printf("call[%s]: volunteer %s reserved", res.RoomID, res.Volunteer.Name)

	// Credential exchange. The reservation is now orphaned on failure and
	// must be released through the end-call notification in teardown.
	creds, err := m.Backend.RoomCredentials(ctx, res.Volunteer.ID)
	if err != nil {
		m.end(sess)
		return fmt.Errorf("%w: %v", ErrCredentialExchange, err)
	}
	sess.creds = creds
	m.setState(StateCredentialsObtained)

	// Media devices.
	camera, err := m.Devices.OpenCamera()
	if err != nil {
		m.end(sess)
		return fmt.Errorf("%w: camera: %v", ErrDeviceAcquisition, err)
	}
	sess.camera = camera
	mic, err := m.Devices.OpenMicrophone()
	if err != nil {
		m.end(sess)
		return fmt.Errorf("%w: microphone: %v", ErrDeviceAcquisition, err)
	}
	sess.mic = mic
	m.setState(StateDevicesAcquired)

	// Playback sink, opened before the join so the remote-audio handler has
	// somewhere to write from the first frame on.
	relay, err := m.OpenRelay()
	if err != nil {
		m.end(sess)
		return fmt.Errorf("%w: playback sink: %v", ErrDeviceAcquisition, err)
	}
	sess.relay = relay

	// Transport join with the remote-audio relay registered up front. The
	// sink drops rather than blocks, so the relay can never stall the
	// transport's receive path.
	room, err := m.Transport.Join(ctx, transport.Credentials{URL: creds.URL, Token: creds.Token}, func(f transport.PCMFrame) {
		relay.Write(f.Data)
	})
	if err != nil {
		m.end(sess)
		return fmt.Errorf("%w: %v", ErrTransportJoin, err)
	}
	sess.room = room

	videoOut, err := room.PublishVideo()
	if err != nil {
		m.end(sess)
		return fmt.Errorf("%w: publish video: %v", ErrTransportJoin, err)
	}
	audioOut, err := room.PublishAudio()
	if err != nil {
		m.end(sess)
		return fmt.Errorf("%w: publish audio: %v", ErrTransportJoin, err)
	}
	m.setState(StateTransportJoined)

	// Streaming: three independent activities that never block each other.
	pumpErr := make(chan error, 2)
	go m.videoPump(ctx, sess.camera, videoOut, pumpErr)
	go m.micPump(ctx, sess.mic, audioOut, pumpErr)

	endGesture := make(chan struct{}, 1)
	if m.Gate != nil {
		go func() {
			if err := m.Gate.WaitForHold(ctx, m.EndHold); err == nil {
				endGesture <- struct{}{}
			}
		}()
	}
	m.setState(StateStreaming)
	log.Printf("call[%s]: streaming", sess.RoomID)

	var runErr error
	select {
	case <-ctx.Done():
		log.Printf("call[%s]: session cancelled", sess.RoomID)
	case <-endGesture:
		log.Printf("call[%s]: end gesture detected", sess.RoomID)
	case err := <-pumpErr:
		runErr = fmt.Errorf("%w: %v", ErrTransportFault, err)
	case err := <-room.Fault():
		runErr = fmt.Errorf("%w: %v", ErrTransportFault, err)
	}

	m.end(sess)
	return runErr
}

// End stops the active session, if any, and blocks until its teardown has
// finished. Safe to call at any time and from any goroutine; calling it
// twice is a no-op.
//
// End only cancels: teardown itself always runs on the Run goroutine, so a
// session ended mid-setup still releases resources acquired after the
// cancellation was observed.
func (m *Manager) End() {
	m.mu.Lock()
	sess := m.sess
	m.mu.Unlock()
	if sess == nil {
		return
	}
	sess.cancel()
	<-sess.done
}

// end funnels every termination path through one guarded teardown.
func (m *Manager) end(sess *CallSession) {
	sess.endOnce.Do(func() {
		m.setState(StateEnding)
		sess.cancel()
		m.teardown(sess)
		close(sess.done)
	})
	<-sess.done
}

// teardown releases every acquired resource in reverse-acquisition order.
// Each step runs even when an earlier one fails; errors are logged, never
// propagated, so one failing release can never skip the others.
func (m *Manager) teardown(sess *CallSession) {
	if sess.relay != nil {
		if err := sess.relay.Close(); err != nil {
			log.Printf("call[%s]: teardown: playback relay: %v", sess.RoomID, err)
		}
		sess.relay = nil
	}
	if sess.RoomID != "" {
		// Best effort: frees the volunteer server-side.
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := m.Backend.EndCall(ctx, sess.RoomID); err != nil {
			log.Printf("call[%s]: teardown: end-call notify: %v", sess.RoomID, err)
		}
		cancel()
	}
	if sess.mic != nil {
		if err := sess.mic.Close(); err != nil {
			log.Printf("call[%s]: teardown: microphone: %v", sess.RoomID, err)
		}
		sess.mic = nil
	}
	if sess.camera != nil {
		if err := sess.camera.Close(); err != nil {
			log.Printf("call[%s]: teardown: camera: %v", sess.RoomID, err)
		}
		sess.camera = nil
	}
	if sess.room != nil {
		if err := sess.room.Close(); err != nil {
			log.Printf("call[%s]: teardown: transport: %v", sess.RoomID, err)
		}
		sess.room = nil
	}
	log.Printf("call[%s]: teardown complete", sess.RoomID)
}
