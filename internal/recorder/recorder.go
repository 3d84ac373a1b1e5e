package recorder

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/Angelishere/Major-Project-Perceiva/internal/touch"
)

var (
	// ErrTooShort marks a capture too small to be a usable utterance. It is
	// reported instead of forwarding empty recordings to the classifier.
	ErrTooShort = errors.New("recording too short")
	// ErrDeviceFailure marks a capture device that could not start or exited
	// abnormally.
	ErrDeviceFailure = errors.New("capture device failure")
)

// Capture is a start/stoppable capture process writing audio to a path.
// Stop must be two-phase: graceful request, then force past the grace period.
type Capture interface {
	Start(path string) error
	Stop(grace time.Duration) error
}

// Recording is a finished, size-validated capture.
type Recording struct {
	Path     string
	Size     int64
	Duration time.Duration
}

// Gesture is the polled touch condition that gates the recording.
type Gesture interface {
	Read() bool
}

// Recorder drives a capture process through a gesture-gated lifecycle:
// recording runs while the touch is held, ends after the silence threshold
// once released, and is force-stopped at the max duration.
type Recorder struct {
	Gesture    Gesture
	NewCapture func() Capture

	MinDuration  time.Duration
	MaxDuration  time.Duration
	Silence      time.Duration
	PollInterval time.Duration
	StopGrace    time.Duration
	MinBytes     int64
}

// Record captures into path until the gesture gate releases it.
//
// The duration floor takes precedence over the release debounce: the silence
// window never starts counting before MinDuration has elapsed, so a gesture
// released immediately still produces at least MinDuration+Silence of audio.
func (r *Recorder) Record(ctx context.Context, path string) (Recording, error) {
	c := r.NewCapture()
	if err := c.Start(path); err != nil {
		return Recording{}, fmt.Errorf("%w: start: %v", ErrDeviceFailure, err)
	}

	start := time.Now()
	minReached := start.Add(r.MinDuration)
	var releasedSince time.Time
	state := touch.Active
	forced := false

	ticker := time.NewTicker(r.PollInterval)
	defer ticker.Stop()

poll:
	for {
		select {
		case <-ctx.Done():
			r.stop(c)
			return Recording{}, ctx.Err()
		case now := <-ticker.C:
			elapsed := now.Sub(start)
			if elapsed >= r.MaxDuration {
				log.Printf("recording: max duration %s reached, forcing stop", r.MaxDuration)
				forced = true
				break poll
			}
			if r.Gesture.Read() {
				releasedSince = time.Time{}
				state = touch.Active
				continue
			}
			if releasedSince.IsZero() {
				releasedSince = now
				// Floor precedence: the silence window cannot begin
				// before the minimum duration has elapsed.
				if releasedSince.Before(minReached) {
					releasedSince = minReached
				}
				if state == touch.Active {
					log.Printf("recording: gate %s -> %s", state, touch.ReleasedPendingSilence)
				}
				state = touch.ReleasedPendingSilence
			}
			if elapsed >= r.MinDuration && now.Sub(releasedSince) >= r.Silence {
				log.Printf("recording: gesture released, stopping after %.1fs", elapsed.Seconds())
				break poll
			}
		}
	}

	r.stop(c)

	duration := time.Since(start)
	info, err := os.Stat(path)
	if err != nil {
		return Recording{}, fmt.Errorf("%w: no output: %v", ErrDeviceFailure, err)
	}
	if info.Size() < r.MinBytes {
		if forced {
			log.Printf("recording: forced stop produced %d bytes, discarding", info.Size())
		}
		return Recording{}, fmt.Errorf("%w: %d bytes", ErrTooShort, info.Size())
	}
	return Recording{Path: path, Size: info.Size(), Duration: duration}, nil
}

func (r *Recorder) stop(c Capture) {
	if err := c.Stop(r.StopGrace); err != nil {
		// arecord reports the termination signal as an exit error; the file
		// is still finalized, so this is diagnostic only.
		log.Printf("recording: capture stop: %v", err)
	}
}
