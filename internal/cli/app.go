package cli

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/Angelishere/Major-Project-Perceiva/internal/backend"
	"github.com/Angelishere/Major-Project-Perceiva/internal/config"
	"github.com/Angelishere/Major-Project-Perceiva/internal/control"
	"github.com/Angelishere/Major-Project-Perceiva/internal/feedback"
	"github.com/Angelishere/Major-Project-Perceiva/internal/interaction"
	"github.com/Angelishere/Major-Project-Perceiva/internal/livecall"
	"github.com/Angelishere/Major-Project-Perceiva/internal/media"
	"github.com/Angelishere/Major-Project-Perceiva/internal/playback"
	"github.com/Angelishere/Major-Project-Perceiva/internal/recorder"
	"github.com/Angelishere/Major-Project-Perceiva/internal/router"
	"github.com/Angelishere/Major-Project-Perceiva/internal/touch"
	"github.com/Angelishere/Major-Project-Perceiva/internal/transport/pionrtc"
)

// endCallHold is how long a re-touch must be sustained during a call to
// hang up, long enough that a brush against the sensor does not.
const endCallHold = 1500 * time.Millisecond

// app holds the assembled device runtime.
type app struct {
	cfg     config.Config
	caps    touch.Capabilities
	gate    *touch.Gate
	manual  *touch.ManualSensor
	client  *backend.Client
	calls   *livecall.Manager
	loop    *interaction.Loop
	control *control.Server
	cues    *feedback.Player
}

// newApp wires every component from configuration. Running without a touch
// sensor is tolerated only when the control server provides the manual
// trigger fallback.
func newApp(cfg config.Config) (*app, error) {
	a := &app{cfg: cfg}

	sensor, err := touch.NewGPIOSensor(cfg.TouchPin)
	if err != nil {
		if cfg.ControlAddress == "" {
			return nil, fmt.Errorf("touch sensor %s unavailable and control server disabled: %w", cfg.TouchPin, err)
		}
		log.Printf("touch sensor %s unavailable (%v), falling back to manual trigger", cfg.TouchPin, err)
		a.manual = touch.NewManualSensor()
		sensor = a.manual
	} else {
		a.caps.Touch = true
	}
	a.caps.Camera = media.Detect()
	a.gate = touch.NewGate(sensor, cfg.PollInterval, cfg.DebounceDelay)

	a.client = backend.NewClient(cfg.ServerURL, cfg.AuthToken)
	a.cues = feedback.NewPlayer()

	a.calls = &livecall.Manager{
		Backend: a.client,
		Devices: livecall.Devices{
			OpenCamera: func() (livecall.Camera, error) {
				return media.OpenCamera(cfg.VideoWidth, cfg.VideoHeight, cfg.VideoFPS)
			},
			OpenMicrophone: func() (livecall.Microphone, error) {
				return media.OpenMicrophone(cfg.AudioDevice, cfg.SampleRate, 1)
			},
		},
		Transport: pionrtc.New(cfg.SampleRate, 1),
		OpenRelay: func() (livecall.RelaySink, error) {
			return playback.Open(playback.Format{
				SampleRate:   cfg.PlaybackRate,
				Channels:     cfg.PlaybackChannels,
				SampleFormat: "s16le",
				LatencyMs:    cfg.PlaybackLatencyMs,
			})
		},
		Gate:     a.gate,
		EndHold:  endCallHold,
		VideoFPS: cfg.VideoFPS,
	}

	rec := &recorder.Recorder{
		Gesture: a.gate,
		NewCapture: recorder.NewArecordCapture(recorder.ArecordParams{
			Device:     cfg.AudioDevice,
			Format:     cfg.SampleFormat,
			SampleRate: cfg.SampleRate,
			Channels:   cfg.Channels,
		}),
		MinDuration:  cfg.MinRecordTime,
		MaxDuration:  cfg.MaxRecordTime,
		Silence:      cfg.SilenceThreshold,
		PollInterval: cfg.PollInterval,
		StopGrace:    2 * time.Second,
		MinBytes:     cfg.MinRecordingSize,
	}

	a.loop = &interaction.Loop{
		Trigger:    a.gate,
		Recorder:   rec,
		Classifier: a.client,
		Dispatcher: a.buildRouter(),
		Cues:       a.cues,
	}
	return a, nil
}

// buildRouter binds the three capabilities.
func (a *app) buildRouter() *router.Router {
	r := router.New(a.playResponse)
	r.Register(router.CommandCaptureImage, a.captureImage)
	r.Register(router.CommandVideoCall, a.videoCall)
	return r
}

// playResponse plays the audio the intent service returned.
func (a *app) playResponse(ctx context.Context, result *backend.IntentResult) error {
	if len(result.Audio) == 0 {
		return errors.New("no response audio to play")
	}
	return playback.PlayWAV(ctx, result.Audio)
}

// captureImage photographs what the wearer is holding, sends it for
// identification, and speaks the answer.
func (a *app) captureImage(ctx context.Context, result *backend.IntentResult) error {
	a.cues.Ack(ctx)
	path := filepath.Join(os.TempDir(), "perceiva-capture.jpg")
	defer os.Remove(path)

	if err := media.CaptureStill(ctx, path, a.cfg.VideoWidth, a.cfg.VideoHeight); err != nil {
		return fmt.Errorf("capture still: %w", err)
	}
	audio, info, err := a.client.CheckProduct(ctx, path)
	if err != nil {
		return fmt.Errorf("check product: %w", err)
	}
	log.Printf("capture: identified %q", info.Name)
	if len(audio) > 0 {
		return playback.PlayWAV(ctx, audio)
	}
	a.cues.Success(ctx)
	return nil
}

// videoCall runs a complete volunteer call. The interaction loop blocks for
// the call's duration; the next touch is accepted after it ends.
func (a *app) videoCall(ctx context.Context, result *backend.IntentResult) error {
	a.cues.Ack(ctx)
	if err := a.calls.Run(ctx); err != nil {
		return err
	}
	a.cues.Success(ctx)
	return nil
}

// run serves the interaction loop and the control server until ctx ends.
func (a *app) run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	a.control = control.New(a.calls, a.manual, a.caps, cancel)
	ctrlErr := make(chan error, 1)
	if a.cfg.ControlAddress != "" {
		go func() { ctrlErr <- a.control.Start(a.cfg.ControlAddress) }()
	}

	loopErr := make(chan error, 1)
	go func() { loopErr <- a.loop.Run(ctx) }()

	var err error
	select {
	case <-ctx.Done():
	case err = <-ctrlErr:
	case err = <-loopErr:
	}
	cancel()

	// Shut everything down in a bounded window.
	a.calls.End()
	stopCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
	defer stop()
	if a.cfg.ControlAddress != "" {
		if serr := a.control.Stop(stopCtx); serr != nil {
			log.Printf("control: shutdown: %v", serr)
		}
	}
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
