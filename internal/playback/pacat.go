package playback

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"strconv"
	"time"

	"github.com/Angelishere/Major-Project-Perceiva/internal/proc"
)

type pacatProc struct {
	cmd   *exec.Cmd
	stdin io.WriteCloser
}

func startPacat(f Format) (*pacatProc, error) {
	cmd := exec.Command("pacat",
		"--playback",
		"--rate", strconv.Itoa(f.SampleRate),
		"--channels", strconv.Itoa(f.Channels),
		"--format", f.SampleFormat,
		"--latency-msec", strconv.Itoa(f.LatencyMs),
	)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSinkUnavailable, err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSinkUnavailable, err)
	}
	log.Printf("playback: pacat started (rate=%d channels=%d latency=%dms)", f.SampleRate, f.Channels, f.LatencyMs)
	return &pacatProc{cmd: cmd, stdin: stdin}, nil
}

func (p *pacatProc) Write(b []byte) (int, error) { return p.stdin.Write(b) }
func (p *pacatProc) Close() error                { return p.stdin.Close() }

func (p *pacatProc) terminate(grace time.Duration) error {
	return proc.Stop(p.cmd, grace)
}

// PlayWAV plays a complete WAV payload through the default PulseAudio sink.
// Used for the round-trip responses (intent audio, product descriptions).
func PlayWAV(ctx context.Context, data []byte) error {
	tmp, err := os.CreateTemp("", "perceiva-*.wav")
	if err != nil {
		return err
	}
	path := tmp.Name()
	defer os.Remove(path)
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()
	out, err := exec.CommandContext(ctx, "paplay", path).CombinedOutput()
	if err != nil {
		return fmt.Errorf("%w: paplay: %v (%s)", ErrSinkUnavailable, err, out)
	}
	return nil
}

// PlayRaw plays raw PCM through a short-lived pacat process. Used for
// synthesized feedback cues.
func PlayRaw(ctx context.Context, pcm []byte, f Format) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	cmd := exec.CommandContext(ctx, "pacat",
		"--playback",
		"--rate", strconv.Itoa(f.SampleRate),
		"--channels", strconv.Itoa(f.Channels),
		"--format", f.SampleFormat,
	)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSinkUnavailable, err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("%w: %v", ErrSinkUnavailable, err)
	}
	if _, err := stdin.Write(pcm); err != nil {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
		return err
	}
	_ = stdin.Close()
	return cmd.Wait()
}
