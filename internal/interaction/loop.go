// Package interaction drives the wearer-facing loop: wait for touch,
// record speech, classify it, and hand the result to a capability.
package interaction

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/Angelishere/Major-Project-Perceiva/internal/backend"
	"github.com/Angelishere/Major-Project-Perceiva/internal/recorder"
)

// Trigger blocks until the wearer starts an interaction. touch.Gate
// satisfies it.
type Trigger interface {
	WaitForTouch(ctx context.Context) error
}

// Recorder captures one touch-gated utterance to a WAV file.
type Recorder interface {
	Record(ctx context.Context, path string) (recorder.Recording, error)
}

// Classifier asks the intent service what the utterance means.
type Classifier interface {
	Classify(ctx context.Context, wavPath string) (*backend.IntentResult, error)
}

// Dispatcher routes a classified result to a capability.
type Dispatcher interface {
	Dispatch(ctx context.Context, result *backend.IntentResult) error
}

// Cues plays short feedback tones. All cues are best effort.
type Cues interface {
	Listening(ctx context.Context)
	Failure(ctx context.Context)
}

// Loop runs interactions one at a time, forever.
type Loop struct {
	Trigger    Trigger
	Recorder   Recorder
	Classifier Classifier
	Dispatcher Dispatcher
	Cues       Cues

	// TempDir receives per-interaction WAV files, removed after dispatch.
	TempDir string
	// Settle is the pause after every interaction before the next touch is
	// accepted, so a lingering finger does not restart immediately.
	Settle time.Duration
}

// Run blocks until ctx is cancelled. Interaction failures are logged and
// cued, never fatal: the next touch always gets a fresh attempt.
func (l *Loop) Run(ctx context.Context) error {
	log.Printf("interaction: loop started")
	for {
		if err := l.Trigger.WaitForTouch(ctx); err != nil {
			return err
		}
		if err := l.RunOnce(ctx); err != nil {
			log.Printf("interaction: %v", err)
		}
		select {
		case <-time.After(l.settle()):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// RunOnce executes a single interaction that the touch gate already opened.
// A too-short recording is discarded without an error cue; every other
// failure plays the failure cue and is returned.
func (l *Loop) RunOnce(ctx context.Context) error {
	id := uuid.NewString()[:8]
	log.Printf("interaction[%s]: started", id)
	l.Cues.Listening(ctx)

	path := filepath.Join(l.tempDir(), "interaction-"+id+".wav")
	defer os.Remove(path)

	rec, err := l.Recorder.Record(ctx, path)
	if err != nil {
		if errors.Is(err, recorder.ErrTooShort) {
			log.Printf("interaction[%s]: recording too short, discarded", id)
			return nil
		}
		l.Cues.Failure(ctx)
		return fmt.Errorf("interaction[%s]: record: %w", id, err)
	}
	log.Printf("interaction[%s]: captured %s (%d bytes)", id, rec.Duration.Round(time.Millisecond), rec.Size)

	result, err := l.Classifier.Classify(ctx, rec.Path)
	if err != nil {
		l.Cues.Failure(ctx)
		return fmt.Errorf("interaction[%s]: classify: %w", id, err)
	}
	log.Printf("interaction[%s]: command %q, heard %q", id, result.ActionCommand, result.TranscribedText)

	if err := l.Dispatcher.Dispatch(ctx, result); err != nil {
		l.Cues.Failure(ctx)
		return fmt.Errorf("interaction[%s]: dispatch: %w", id, err)
	}
	log.Printf("interaction[%s]: done", id)
	return nil
}

func (l *Loop) settle() time.Duration {
	if l.Settle > 0 {
		return l.Settle
	}
	return 500 * time.Millisecond
}

func (l *Loop) tempDir() string {
	if l.TempDir != "" {
		return l.TempDir
	}
	return os.TempDir()
}
