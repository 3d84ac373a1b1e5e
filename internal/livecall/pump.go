package livecall

import (
	"context"
	"fmt"
	"time"

	"github.com/pion/webrtc/v3/pkg/media/h264reader"

	"github.com/Angelishere/Major-Project-Perceiva/internal/transport"
)

// videoPump reads H.264 NAL units off the camera's encoded stream and hands
// them to the transport at the configured frame pacing. It exits when the
// stream ends or the context is cancelled; stream errors after cancellation
// are expected (the device was closed under it) and not reported.
func (m *Manager) videoPump(ctx context.Context, cam Camera, out transport.VideoWriter, fault chan<- error) {
	reader, err := h264reader.NewReader(cam.Stream())
	if err != nil {
		reportFault(ctx, fault, fmt.Errorf("video stream: %w", err))
		return
	}
	fps := m.VideoFPS
	if fps <= 0 {
		fps = 24
	}
	frame := time.Second / time.Duration(fps)
	for {
		if ctx.Err() != nil {
			return
		}
		nal, err := reader.NextNAL()
		if err != nil {
			reportFault(ctx, fault, fmt.Errorf("video stream: %w", err))
			return
		}
		if err := out.WriteUnit(nal.Data, frame); err != nil {
			reportFault(ctx, fault, fmt.Errorf("video publish: %w", err))
			return
		}
	}
}

// micPump forwards fixed-size PCM chunks from the microphone into the
// transport's audio encoder.
func (m *Manager) micPump(ctx context.Context, mic Microphone, out transport.AudioWriter, fault chan<- error) {
	buf := make([]byte, mic.ChunkBytes())
	for {
		if ctx.Err() != nil {
			return
		}
		if err := mic.ReadChunk(buf); err != nil {
			reportFault(ctx, fault, fmt.Errorf("microphone read: %w", err))
			return
		}
		if err := out.WritePCM(buf); err != nil {
			reportFault(ctx, fault, fmt.Errorf("audio publish: %w", err))
			return
		}
	}
}

// reportFault pushes one error unless the session is already shutting down.
func reportFault(ctx context.Context, fault chan<- error, err error) {
	if ctx.Err() != nil {
		return
	}
	select {
	case fault <- err:
	default:
	}
}
