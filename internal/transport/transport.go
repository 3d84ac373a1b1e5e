// Package transport defines the contracts the orchestrator requires from
// the realtime media layer. Payloads are opaque bytes plus metadata; codec
// and protocol internals live behind these interfaces.
package transport

import (
	"context"
	"time"
)

// Credentials grant one join to a room.
type Credentials struct {
	URL   string
	Token string
}

// PCMFrame is one decoded frame of remote audio.
type PCMFrame struct {
	Data       []byte // 16-bit little-endian samples
	SampleRate int
	Channels   int
}

// RemoteAudioHandler receives inbound decoded audio frames in arrival
// order. It must not block: stalls here must never stall the media loops.
type RemoteAudioHandler func(PCMFrame)

// VideoWriter accepts encoded video units from the camera pump.
type VideoWriter interface {
	WriteUnit(data []byte, duration time.Duration) error
}

// AudioWriter accepts raw PCM chunks from the microphone pump.
type AudioWriter interface {
	WritePCM(pcm []byte) error
}

// Room is one joined realtime session.
type Room interface {
	// PublishVideo attaches the outbound video track.
	PublishVideo() (VideoWriter, error)
	// PublishAudio attaches the outbound audio track.
	PublishAudio() (AudioWriter, error)
	// Fault delivers the first unrecoverable transport error.
	Fault() <-chan error
	// Close disconnects and releases the session. Idempotent.
	Close() error
}

// Transport joins rooms. The remote audio handler is registered at join so
// no inbound audio is missed.
type Transport interface {
	Join(ctx context.Context, creds Credentials, onRemoteAudio RemoteAudioHandler) (Room, error)
}
