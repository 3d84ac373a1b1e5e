package media

import (
	"context"
	"fmt"
	"io"
	"log"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"github.com/Angelishere/Major-Project-Perceiva/internal/proc"
)

// Camera wraps a libcamera-vid process emitting an inline H264 byte stream
// on stdout. Singly owned: the active call session acquires it, and it must
// be released explicitly or the device stays locked for subsequent runs.
type Camera struct {
	cmd    *exec.Cmd
	stdout io.ReadCloser

	closeOnce sync.Once
	closeErr  error
}

// OpenCamera starts the camera stream at the given geometry and framerate.
func OpenCamera(width, height, fps int) (*Camera, error) {
	cmd := exec.Command("libcamera-vid",
		"-t", "0",
		"--width", strconv.Itoa(width),
		"--height", strconv.Itoa(height),
		"--framerate", strconv.Itoa(fps),
		"--inline",
		"--codec", "h264",
		"-n",
		"-o", "-",
	)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("camera pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("camera start: %w", err)
	}
	log.Printf("media: camera streaming %dx%d@%d", width, height, fps)
	return &Camera{cmd: cmd, stdout: stdout}, nil
}

// Stream returns the raw H264 byte stream.
func (c *Camera) Stream() io.Reader { return c.stdout }

// Close stops the camera process. Idempotent.
func (c *Camera) Close() error {
	c.closeOnce.Do(func() {
		_ = c.stdout.Close()
		c.closeErr = proc.Stop(c.cmd, 2*time.Second)
	})
	return c.closeErr
}

// CaptureStill takes a single JPEG snapshot. Usable only while no call
// session owns the camera.
func CaptureStill(ctx context.Context, path string, width, height int) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	out, err := exec.CommandContext(ctx, "libcamera-still",
		"-n",
		"-t", "1500",
		"--width", strconv.Itoa(width),
		"--height", strconv.Itoa(height),
		"-o", path,
	).CombinedOutput()
	if err != nil {
		return fmt.Errorf("still capture: %w (%s)", err, out)
	}
	return nil
}

// Detect reports whether a camera stack is present on this machine.
func Detect() bool {
	_, err := exec.LookPath("libcamera-vid")
	return err == nil
}
