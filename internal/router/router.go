// Package router maps classified action commands to the on-device
// capability that carries them out.
package router

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/Angelishere/Major-Project-Perceiva/internal/backend"
)

// Action command names the intent service is known to emit.
const (
	CommandPlayResponse = "PLAY_RESPONSE"
	CommandCaptureImage = "CAPTURE_MEDICAL_IMAGE"
	CommandVideoCall    = "INITIATE_VIDEO_CALL"
)

// ErrNoHandler reports a command the router has no capability for and no
// fallback audio to play.
var ErrNoHandler = errors.New("no capability for command")

// Action runs one capability against a classified interaction.
type Action func(ctx context.Context, result *backend.IntentResult) error

// Router dispatches an intent result to the registered capability. Unknown
// commands degrade to playing the returned audio when there is any, so the
// wearer always hears something when the server has something to say.
type Router struct {
	actions map[string]Action
	play    Action
}

// New builds a router with the playback fallback. Play must be non-nil.
func New(play Action) *Router {
	return &Router{
		actions: map[string]Action{CommandPlayResponse: play},
		play:    play,
	}
}

// Register binds a capability to a command, replacing any previous binding.
func (r *Router) Register(command string, action Action) {
	r.actions[command] = action
}

// Dispatch routes one classified interaction. The zero-value command with
// response audio plays it; a command nobody registered falls back the same
// way, and only a silent unknown command is an error.
func (r *Router) Dispatch(ctx context.Context, result *backend.IntentResult) error {
	command := result.ActionCommand
	if action, ok := r.actions[command]; ok {
		log.Printf("router: dispatching %q (module %q)", command, result.DetectedModule)
		return action(ctx, result)
	}
	if len(result.Audio) > 0 {
		log.Printf("router: no capability for %q, playing response audio", command)
		return r.play(ctx, result)
	}
	return fmt.Errorf("%w: %q", ErrNoHandler, command)
}
