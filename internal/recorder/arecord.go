package recorder

import (
	"fmt"
	"log"
	"os/exec"
	"strconv"
	"time"

	"github.com/Angelishere/Major-Project-Perceiva/internal/proc"
)

// ArecordParams parameterize the ALSA capture invocation.
type ArecordParams struct {
	Device     string // e.g. "hw:0,0" (Google Voice HAT card)
	Format     string // e.g. "S32_LE"
	SampleRate int
	Channels   int
}

type arecordCapture struct {
	params ArecordParams
	cmd    *exec.Cmd
}

// NewArecordCapture returns a Capture factory invoking arecord in
// indefinite-until-signaled WAV mode.
func NewArecordCapture(p ArecordParams) func() Capture {
	return func() Capture { return &arecordCapture{params: p} }
}

func (a *arecordCapture) Start(path string) error {
	cmd := exec.Command("arecord",
		"-D", a.params.Device,
		"-f", a.params.Format,
		"-r", strconv.Itoa(a.params.SampleRate),
		"-c", strconv.Itoa(a.params.Channels),
		"-t", "wav",
		path,
	)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("arecord: %w", err)
	}
	log.Printf("recording: arecord started (device=%s rate=%d)", a.params.Device, a.params.SampleRate)
	a.cmd = cmd
	return nil
}

func (a *arecordCapture) Stop(grace time.Duration) error {
	if a.cmd == nil {
		return nil
	}
	err := proc.Stop(a.cmd, grace)
	a.cmd = nil
	return err
}
