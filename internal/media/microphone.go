package media

import (
	"fmt"
	"io"
	"log"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"github.com/Angelishere/Major-Project-Perceiva/internal/proc"
)

// Microphone wraps an arecord process emitting raw signed 16-bit PCM on
// stdout, read in fixed 20ms chunks for the outbound audio stream.
type Microphone struct {
	cmd    *exec.Cmd
	stdout io.ReadCloser

	sampleRate int
	channels   int

	closeOnce sync.Once
	closeErr  error
}

// OpenMicrophone starts a raw capture on the given ALSA device.
func OpenMicrophone(device string, sampleRate, channels int) (*Microphone, error) {
	cmd := exec.Command("arecord",
		"-D", device,
		"-f", "S16_LE",
		"-r", strconv.Itoa(sampleRate),
		"-c", strconv.Itoa(channels),
		"-t", "raw",
		"-",
	)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("microphone pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("microphone start: %w", err)
	}
	log.Printf("media: microphone streaming (device=%s rate=%d channels=%d)", device, sampleRate, channels)
	return &Microphone{cmd: cmd, stdout: stdout, sampleRate: sampleRate, channels: channels}, nil
}

func (m *Microphone) SampleRate() int { return m.sampleRate }
func (m *Microphone) Channels() int   { return m.channels }

// ChunkBytes is the size of one 20ms chunk.
func (m *Microphone) ChunkBytes() int {
	return m.sampleRate / 50 * m.channels * 2
}

// ReadChunk fills buf with exactly one chunk of PCM. Blocks at the capture
// rate, which paces the outbound audio pump.
func (m *Microphone) ReadChunk(buf []byte) error {
	_, err := io.ReadFull(m.stdout, buf)
	return err
}

// Close stops the capture process. Idempotent.
func (m *Microphone) Close() error {
	m.closeOnce.Do(func() {
		_ = m.stdout.Close()
		m.closeErr = proc.Stop(m.cmd, 2*time.Second)
	})
	return m.closeErr
}
