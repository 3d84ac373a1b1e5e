// Package feedback produces short audible cues so a non-sighted user can
// tell how an interaction ended without any text output. Failure cues are
// distinct from success cues.
package feedback

import (
	"context"
	"encoding/binary"
	"log"
	"math"
	"time"

	"github.com/Angelishere/Major-Project-Perceiva/internal/playback"
)

const toneRate = 48000

// Player plays cues through the playback stack. Cue playback is best-effort:
// a missing sink is logged, never escalated.
type Player struct {
	play func(ctx context.Context, pcm []byte, f playback.Format) error
}

func NewPlayer() *Player {
	return &Player{play: playback.PlayRaw}
}

// Listening: a single short mid beep when recording starts.
func (p *Player) Listening(ctx context.Context) {
	p.cue(ctx, tone(800, 100*time.Millisecond))
}

// Success: a rising two-tone chirp.
func (p *Player) Success(ctx context.Context) {
	p.cue(ctx, append(tone(660, 90*time.Millisecond), tone(880, 120*time.Millisecond)...))
}

// Failure: a low double beep, clearly distinct from success.
func (p *Player) Failure(ctx context.Context) {
	gap := silence(60 * time.Millisecond)
	buzz := tone(300, 150*time.Millisecond)
	p.cue(ctx, append(append(buzz, gap...), tone(300, 150*time.Millisecond)...))
}

// Ack: a single neutral blip, used for acknowledged-but-unhandled commands.
func (p *Player) Ack(ctx context.Context) {
	p.cue(ctx, tone(600, 80*time.Millisecond))
}

func (p *Player) cue(ctx context.Context, pcm []byte) {
	f := playback.Format{SampleRate: toneRate, Channels: 1, SampleFormat: "s16le"}
	if err := p.play(ctx, pcm, f); err != nil {
		log.Printf("feedback: cue playback failed: %v", err)
	}
}

// tone synthesizes a sine burst as 16-bit little-endian mono PCM with a
// short linear fade at both ends to avoid clicks.
func tone(hz float64, d time.Duration) []byte {
	n := int(toneRate * d / time.Second)
	fade := toneRate / 200 // 5ms
	out := make([]byte, n*2)
	phaseInc := 2 * math.Pi * hz / toneRate
	for i := 0; i < n; i++ {
		v := math.Sin(phaseInc*float64(i)) * 9000.0
		if i < fade {
			v *= float64(i) / float64(fade)
		}
		if tail := n - 1 - i; tail < fade {
			v *= float64(tail) / float64(fade)
		}
		binary.LittleEndian.PutUint16(out[i*2:(i+1)*2], uint16(int16(v)))
	}
	return out
}

func silence(d time.Duration) []byte {
	n := int(toneRate * d / time.Second)
	return make([]byte, n*2)
}
