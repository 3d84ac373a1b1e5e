package playback

import (
	"errors"
	"io"
	"log"
	"sync"
	"sync/atomic"
	"time"
)

// ErrSinkUnavailable marks a playback sink that could not be started.
var ErrSinkUnavailable = errors.New("playback sink unavailable")

// Format parameterizes the playback sink invocation.
type Format struct {
	SampleRate   int
	Channels     int
	SampleFormat string // pacat naming, e.g. "s16le"
	LatencyMs    int
}

// DefaultFormat matches what the transport delivers for remote audio.
func DefaultFormat() Format {
	return Format{SampleRate: 48000, Channels: 1, SampleFormat: "s16le", LatencyMs: 100}
}

// sinkProc is the playback process behind the relay: stdin writes plus a
// two-phase terminate.
type sinkProc interface {
	io.WriteCloser
	terminate(grace time.Duration) error
}

// Relay feeds a continuous byte stream of decoded remote audio into a local
// playback sink process. Writes never block the caller: when the frame
// buffer is saturated the newest frame is dropped, because an audible glitch
// is preferable to stalling the session's relay loop.
type Relay struct {
	proc   sinkProc
	frames chan []byte
	stop   chan struct{}
	done   chan struct{}

	closeOnce sync.Once
	dropped   atomic.Int64
}

// Open starts the playback sink process (pacat, routed by PulseAudio to the
// Bluetooth A2DP sink) and the relay loop draining into it.
func Open(f Format) (*Relay, error) {
	p, err := startPacat(f)
	if err != nil {
		return nil, err
	}
	return newRelay(p), nil
}

func newRelay(p sinkProc) *Relay {
	r := &Relay{
		proc:   p,
		frames: make(chan []byte, 64),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go r.drain()
	return r
}

func (r *Relay) drain() {
	defer close(r.done)
	for {
		select {
		case <-r.stop:
			return
		case b := <-r.frames:
			if _, err := r.proc.Write(b); err != nil {
				log.Printf("playback: sink write: %v", err)
				return
			}
		}
	}
}

// Write enqueues one frame of raw audio bytes. Fire-and-forget: a saturated
// buffer drops the frame rather than blocking.
func (r *Relay) Write(b []byte) {
	select {
	case <-r.stop:
		return
	default:
	}
	// The decoder reuses its buffer; keep our own copy.
	frame := make([]byte, len(b))
	copy(frame, b)
	select {
	case r.frames <- frame:
	default:
		r.dropped.Add(1)
	}
}

// Dropped reports how many frames were discarded due to backpressure.
func (r *Relay) Dropped() int64 { return r.dropped.Load() }

// Close flushes and releases the sink process. Idempotent: safe to call when
// already closed.
func (r *Relay) Close() error {
	var err error
	r.closeOnce.Do(func() {
		close(r.stop)
		<-r.done
		// Closing stdin flushes buffered audio and asks the sink to finish.
		_ = r.proc.Close()
		err = r.proc.terminate(2 * time.Second)
		if n := r.dropped.Load(); n > 0 {
			log.Printf("playback: relay dropped %d frames", n)
		}
	})
	return err
}
