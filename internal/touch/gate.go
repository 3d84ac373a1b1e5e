package touch

import (
	"context"
	"time"
)

// State of the gesture gate during one recording attempt.
type State int

const (
	Idle State = iota
	Active
	ReleasedPendingSilence
)

func (s State) String() string {
	switch s {
	case Active:
		return "active"
	case ReleasedPendingSilence:
		return "released-pending-silence"
	default:
		return "idle"
	}
}

// Gate polls a Sensor at a fixed cadence and applies a debounce delay before
// trusting a new activation.
type Gate struct {
	Sensor        Sensor
	PollInterval  time.Duration
	DebounceDelay time.Duration
}

func NewGate(s Sensor, poll, debounce time.Duration) *Gate {
	if poll <= 0 {
		poll = 50 * time.Millisecond
	}
	return &Gate{Sensor: s, PollInterval: poll, DebounceDelay: debounce}
}

// Read reports the current raw level.
func (g *Gate) Read() bool { return g.Sensor.Read() }

// WaitForTouch blocks until the line goes active, then waits out the
// debounce delay so mechanical noise on the rising edge is ignored.
func (g *Gate) WaitForTouch(ctx context.Context) error {
	ticker := time.NewTicker(g.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if g.Sensor.Read() {
				// Debounce: settle before reporting the activation.
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(g.DebounceDelay):
				}
				return nil
			}
		}
	}
}

// WaitForHold blocks until the line is continuously active for at least
// hold. Used during a live call to detect the end-call gesture; the hold
// requirement keeps the gesture that started the call from immediately
// ending it. Any released poll resets the window.
func (g *Gate) WaitForHold(ctx context.Context, hold time.Duration) error {
	poll := g.PollInterval
	if poll > 100*time.Millisecond {
		poll = 100 * time.Millisecond
	}
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	var activeSince time.Time
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			if !g.Sensor.Read() {
				activeSince = time.Time{}
				continue
			}
			if activeSince.IsZero() {
				activeSince = now
				continue
			}
			if now.Sub(activeSince) >= hold {
				return nil
			}
		}
	}
}
