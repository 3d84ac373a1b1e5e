package interaction

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Angelishere/Major-Project-Perceiva/internal/backend"
	"github.com/Angelishere/Major-Project-Perceiva/internal/recorder"
)

type fakeTrigger struct {
	touches chan struct{}
}

func (f *fakeTrigger) WaitForTouch(ctx context.Context) error {
	select {
	case <-f.touches:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type fakeRecorder struct {
	err error
}

func (f *fakeRecorder) Record(ctx context.Context, path string) (recorder.Recording, error) {
	if f.err != nil {
		return recorder.Recording{}, f.err
	}
	return recorder.Recording{Path: path, Size: 4096, Duration: time.Second}, nil
}

type fakeClassifier struct {
	result *backend.IntentResult
	err    error
	calls  atomic.Int32
}

func (f *fakeClassifier) Classify(ctx context.Context, wavPath string) (*backend.IntentResult, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

type fakeDispatcher struct {
	err   error
	calls atomic.Int32
	last  *backend.IntentResult
}

func (f *fakeDispatcher) Dispatch(ctx context.Context, result *backend.IntentResult) error {
	f.calls.Add(1)
	f.last = result
	return f.err
}

type fakeCues struct {
	listening atomic.Int32
	failure   atomic.Int32
}

func (f *fakeCues) Listening(ctx context.Context) { f.listening.Add(1) }
func (f *fakeCues) Failure(ctx context.Context)   { f.failure.Add(1) }

func newLoop() (*Loop, *fakeTrigger, *fakeRecorder, *fakeClassifier, *fakeDispatcher, *fakeCues) {
	trigger := &fakeTrigger{touches: make(chan struct{}, 4)}
	rec := &fakeRecorder{}
	cls := &fakeClassifier{result: &backend.IntentResult{ActionCommand: "PLAY_RESPONSE", Audio: []byte{1}}}
	disp := &fakeDispatcher{}
	cues := &fakeCues{}
	l := &Loop{
		Trigger:    trigger,
		Recorder:   rec,
		Classifier: cls,
		Dispatcher: disp,
		Cues:       cues,
		TempDir:    "",
		Settle:     time.Millisecond,
	}
	return l, trigger, rec, cls, disp, cues
}

func TestRunOnce_Success(t *testing.T) {
	l, _, _, _, disp, cues := newLoop()

	if err := l.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if disp.calls.Load() != 1 {
		t.Fatalf("dispatch calls = %d, want 1", disp.calls.Load())
	}
	if disp.last.ActionCommand != "PLAY_RESPONSE" {
		t.Fatalf("dispatched command = %q", disp.last.ActionCommand)
	}
	if cues.listening.Load() != 1 || cues.failure.Load() != 0 {
		t.Fatalf("cues listening=%d failure=%d", cues.listening.Load(), cues.failure.Load())
	}
}

func TestRunOnce_TooShortDiscardedQuietly(t *testing.T) {
	l, _, rec, cls, disp, cues := newLoop()
	rec.err = recorder.ErrTooShort

	if err := l.RunOnce(context.Background()); err != nil {
		t.Fatalf("too-short recording should not error: %v", err)
	}
	if cls.calls.Load() != 0 || disp.calls.Load() != 0 {
		t.Fatal("too-short recording must not be forwarded")
	}
	if cues.failure.Load() != 0 {
		t.Fatal("too-short recording must not play the failure cue")
	}
}

func TestRunOnce_ClassifyFailureCues(t *testing.T) {
	l, _, _, cls, disp, cues := newLoop()
	cls.err = backend.ErrUnreachable

	err := l.RunOnce(context.Background())
	if !errors.Is(err, backend.ErrUnreachable) {
		t.Fatalf("got %v, want ErrUnreachable", err)
	}
	if disp.calls.Load() != 0 {
		t.Fatal("dispatch must not run after classify failure")
	}
	if cues.failure.Load() != 1 {
		t.Fatalf("failure cues = %d, want 1", cues.failure.Load())
	}
}

func TestRunOnce_DispatchFailureCues(t *testing.T) {
	l, _, _, _, disp, cues := newLoop()
	want := errors.New("capability exploded")
	disp.err = want

	err := l.RunOnce(context.Background())
	if !errors.Is(err, want) {
		t.Fatalf("got %v, want %v", err, want)
	}
	if cues.failure.Load() != 1 {
		t.Fatalf("failure cues = %d, want 1", cues.failure.Load())
	}
}

func TestRun_SurvivesFailuresAndStopsOnCancel(t *testing.T) {
	l, trigger, _, cls, disp, _ := newLoop()
	cls.err = backend.ErrTimeout

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	trigger.touches <- struct{}{}
	trigger.touches <- struct{}{}

	deadline := time.Now().Add(2 * time.Second)
	for cls.calls.Load() < 2 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if cls.calls.Load() < 2 {
		t.Fatalf("loop did not survive a failing interaction, classify calls = %d", cls.calls.Load())
	}
	if disp.calls.Load() != 0 {
		t.Fatal("failing classifications must not dispatch")
	}

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("Run returned %v, want context.Canceled", err)
	}
}
