// Package pionrtc implements the realtime transport contracts over
// pion/webrtc with WebSocket offer/answer signaling.
package pionrtc

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/hraban/opus"
	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v3"
	"github.com/pion/webrtc/v3/pkg/media"

	"github.com/Angelishere/Major-Project-Perceiva/internal/transport"
)

const remoteAudioRate = 48000

// Transport joins rooms over pion/webrtc.
type Transport struct {
	// MicSampleRate/MicChannels describe the PCM the audio writer will be
	// fed; the opus encoder is configured to match.
	MicSampleRate int
	MicChannels   int

	// STUNURLs for ICE; defaults to a public server when empty.
	STUNURLs []string

	// JoinTimeout bounds the signaling handshake.
	JoinTimeout time.Duration
}

func New(micRate, micChannels int) *Transport {
	return &Transport{
		MicSampleRate: micRate,
		MicChannels:   micChannels,
		JoinTimeout:   15 * time.Second,
	}
}

// Join dials signaling, builds the peer connection with local video and
// audio tracks published, registers the remote-audio handler before the
// offer is sent, and completes the offer/answer exchange.
func (t *Transport) Join(ctx context.Context, creds transport.Credentials, onRemoteAudio transport.RemoteAudioHandler) (transport.Room, error) {
	sig, err := dialSignaling(ctx, creds.URL, creds.Token)
	if err != nil {
		return nil, err
	}

	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		sig.close()
		return nil, err
	}
	ir := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, ir); err != nil {
		sig.close()
		return nil, err
	}
	api := webrtc.NewAPI(webrtc.WithMediaEngine(mediaEngine), webrtc.WithInterceptorRegistry(ir))

	urls := t.STUNURLs
	if len(urls) == 0 {
		urls = []string{"stun:stun.l.google.com:19302"}
	}
	pc, err := api.NewPeerConnection(webrtc.Configuration{ICEServers: []webrtc.ICEServer{{URLs: urls}}})
	if err != nil {
		sig.close()
		return nil, err
	}

	r := &room{
		pc:          pc,
		sig:         sig,
		micRate:     t.MicSampleRate,
		micChannels: t.MicChannels,
		fault:       make(chan error, 1),
	}

	videoTrack, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeH264},
		"camera", "perceiva",
	)
	if err != nil {
		r.abort()
		return nil, err
	}
	audioTrack, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 1},
		"mic", "perceiva",
	)
	if err != nil {
		r.abort()
		return nil, err
	}
	if _, err := pc.AddTrack(videoTrack); err != nil {
		r.abort()
		return nil, err
	}
	if _, err := pc.AddTrack(audioTrack); err != nil {
		r.abort()
		return nil, err
	}
	r.videoTrack = videoTrack
	r.audioTrack = audioTrack

	// Remote audio handler is registered before the offer goes out so no
	// inbound audio is missed.
	pc.OnTrack(func(remote *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		if remote.Kind() != webrtc.RTPCodecTypeAudio {
			return
		}
		log.Printf("transport: remote audio track received: codec=%s", remote.Codec().MimeType)
		go r.readRemoteAudio(remote, onRemoteAudio)
	})
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		log.Printf("transport: peer connection state: %s", state)
		switch state {
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateDisconnected:
			r.fail(fmt.Errorf("peer connection %s", state))
		}
	})
	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			_ = sig.send(signalMessage{Type: "ice-complete"})
			return
		}
		init := c.ToJSON()
		_ = sig.send(signalMessage{Type: "candidate", Candidate: init.Candidate, SDPMid: init.SDPMid, SDPMLineIndex: init.SDPMLineIndex})
	})

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		r.abort()
		return nil, err
	}
	if err := pc.SetLocalDescription(offer); err != nil {
		r.abort()
		return nil, err
	}
	if err := sig.send(signalMessage{Type: "offer", SDP: offer.SDP}); err != nil {
		r.abort()
		return nil, err
	}

	if err := r.awaitAnswer(ctx, t.JoinTimeout); err != nil {
		r.abort()
		return nil, err
	}
	go r.readSignaling()
	return r, nil
}

type room struct {
	pc  *webrtc.PeerConnection
	sig *signalClient

	videoTrack *webrtc.TrackLocalStaticSample
	audioTrack *webrtc.TrackLocalStaticSample

	micRate     int
	micChannels int

	fault    chan error
	failOnce sync.Once

	mu     sync.Mutex
	closed bool
}

// awaitAnswer consumes signaling until the answer arrives, applying any
// candidates that trickle in first. Cancelling ctx punches the read
// deadline so a pending read unblocks immediately.
func (r *room) awaitAnswer(ctx context.Context, timeout time.Duration) error {
	_ = r.sig.conn.SetReadDeadline(time.Now().Add(timeout))

	stop := make(chan struct{})
	watcherDone := make(chan struct{})
	go func() {
		defer close(watcherDone)
		select {
		case <-ctx.Done():
			_ = r.sig.conn.SetReadDeadline(time.Now())
		case <-stop:
		}
	}()
	defer func() {
		close(stop)
		<-watcherDone
		_ = r.sig.conn.SetReadDeadline(time.Time{})
	}()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		m, err := r.sig.read()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("signaling answer: %w", err)
		}
		switch strings.ToLower(m.Type) {
		case "answer":
			return r.pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: m.SDP})
		case "candidate":
			r.addCandidate(m)
		case "error":
			return fmt.Errorf("signaling rejected: %s", m.Error)
		}
	}
}

// readSignaling handles post-join trickle candidates and teardown frames.
func (r *room) readSignaling() {
	for {
		m, err := r.sig.read()
		if err != nil {
			r.mu.Lock()
			closed := r.closed
			r.mu.Unlock()
			if !closed {
				r.fail(fmt.Errorf("signaling: %w", err))
			}
			return
		}
		switch strings.ToLower(m.Type) {
		case "candidate":
			r.addCandidate(m)
		case "bye":
			r.fail(errors.New("remote ended the session"))
			return
		}
	}
}

func (r *room) addCandidate(m signalMessage) {
	if m.Candidate == "" {
		return
	}
	_ = r.pc.AddICECandidate(webrtc.ICECandidateInit{Candidate: m.Candidate, SDPMid: m.SDPMid, SDPMLineIndex: m.SDPMLineIndex})
}

func (r *room) PublishVideo() (transport.VideoWriter, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, errors.New("room closed")
	}
	return &videoWriter{track: r.videoTrack}, nil
}

func (r *room) PublishAudio() (transport.AudioWriter, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, errors.New("room closed")
	}
	enc, err := opus.NewEncoder(r.micRate, r.micChannels, opus.AppVoIP)
	if err != nil {
		return nil, fmt.Errorf("opus encoder: %w", err)
	}
	return &audioWriter{
		enc:          enc,
		track:        r.audioTrack,
		frameSamples: r.micRate / 50 * r.micChannels, // 20ms
	}, nil
}

func (r *room) Fault() <-chan error { return r.fault }

func (r *room) fail(err error) {
	r.failOnce.Do(func() { r.fault <- err })
}

// Close disconnects from the room. Idempotent.
func (r *room) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.mu.Unlock()
	r.sig.close()
	return r.pc.Close()
}

// abort releases a partially joined room during setup.
func (r *room) abort() {
	_ = r.Close()
}

// readRemoteAudio decodes inbound opus and forwards raw PCM frames in
// arrival order.
func (r *room) readRemoteAudio(remote *webrtc.TrackRemote, handler transport.RemoteAudioHandler) {
	dec, err := opus.NewDecoder(remoteAudioRate, 1)
	if err != nil {
		r.fail(fmt.Errorf("opus decoder: %w", err))
		return
	}
	samples := make([]int16, remoteAudioRate/1000*120) // up to 120ms per packet
	buf := make([]byte, len(samples)*2)
	for {
		pkt, _, err := remote.ReadRTP()
		if err != nil {
			r.mu.Lock()
			closed := r.closed
			r.mu.Unlock()
			if !closed {
				r.fail(fmt.Errorf("remote audio read: %w", err))
			}
			return
		}
		if len(pkt.Payload) == 0 {
			continue
		}
		n, err := dec.Decode(pkt.Payload, samples)
		if err != nil {
			continue
		}
		out := buf[:n*2]
		for i := 0; i < n; i++ {
			binary.LittleEndian.PutUint16(out[i*2:(i+1)*2], uint16(samples[i]))
		}
		handler(transport.PCMFrame{Data: out, SampleRate: remoteAudioRate, Channels: 1})
	}
}

type videoWriter struct {
	track *webrtc.TrackLocalStaticSample
}

func (w *videoWriter) WriteUnit(data []byte, duration time.Duration) error {
	return w.track.WriteSample(media.Sample{Data: data, Duration: duration})
}

// audioWriter buffers PCM into full 20ms frames and writes them opus-encoded.
type audioWriter struct {
	mu           sync.Mutex
	enc          *opus.Encoder
	track        *webrtc.TrackLocalStaticSample
	pcmBuf       []int16
	frameSamples int
}

func (w *audioWriter) WritePCM(pcm []byte) error {
	if len(pcm) < 2 {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	for i := 0; i+1 < len(pcm); i += 2 {
		w.pcmBuf = append(w.pcmBuf, int16(binary.LittleEndian.Uint16(pcm[i:i+2])))
	}
	opusBuf := make([]byte, 4000)
	for len(w.pcmBuf) >= w.frameSamples {
		frame := w.pcmBuf[:w.frameSamples]
		n, err := w.enc.Encode(frame, opusBuf)
		if err != nil {
			return err
		}
		if n > 0 {
			pkt := make([]byte, n)
			copy(pkt, opusBuf[:n])
			if err := w.track.WriteSample(media.Sample{Data: pkt, Duration: 20 * time.Millisecond}); err != nil {
				return err
			}
		}
		w.pcmBuf = w.pcmBuf[w.frameSamples:]
	}
	return nil
}
