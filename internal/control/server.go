// Package control exposes a small local HTTP surface for health checks,
// status, and manual triggering when no touch sensor is wired.
package control

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/Angelishere/Major-Project-Perceiva/internal/livecall"
	"github.com/Angelishere/Major-Project-Perceiva/internal/touch"
)

// Calls is the slice of the live session manager the server needs.
type Calls interface {
	State() livecall.State
	ActiveRoom() string
	End()
}

// Server is the local control plane. It never faces the public network.
type Server struct {
	echo    *echo.Echo
	calls   Calls
	trigger *touch.ManualSensor
	caps    touch.Capabilities
	onQuit  func()
	started time.Time
}

// New wires the routes. trigger may be nil when a hardware sensor exists;
// onQuit is invoked on POST /shutdown.
func New(calls Calls, trigger *touch.ManualSensor, caps touch.Capabilities, onQuit func()) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())

	s := &Server{
		echo:    e,
		calls:   calls,
		trigger: trigger,
		caps:    caps,
		onQuit:  onQuit,
		started: time.Now(),
	}

	e.GET("/healthz", s.health)
	e.GET("/status", s.status)
	e.POST("/interaction", s.interaction)
	e.POST("/call/end", s.endCall)
	e.POST("/shutdown", s.shutdown)
	return s
}

// Start serves until Stop or a listener error. It blocks.
func (s *Server) Start(addr string) error {
	log.Printf("control: listening on %s", addr)
	err := s.echo.Start(addr)
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Stop shuts the listener down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// Handler exposes the routed handler.
func (s *Server) Handler() http.Handler { return s.echo }

func (s *Server) health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

type statusResponse struct {
	CallState string `json:"callState"`
	Room      string `json:"room,omitempty"`
	Touch     bool   `json:"touch"`
	Camera    bool   `json:"camera"`
	Uptime    string `json:"uptime"`
}

func (s *Server) status(c echo.Context) error {
	return c.JSON(http.StatusOK, statusResponse{
		CallState: s.calls.State().String(),
		Room:      s.calls.ActiveRoom(),
		Touch:     s.caps.Touch,
		Camera:    s.caps.Camera,
		Uptime:    time.Since(s.started).Round(time.Second).String(),
	})
}

type interactionRequest struct {
	DurationMs int `json:"durationMs"`
}

// interaction simulates a touch press. Only available when the device runs
// without a hardware sensor and the manual fallback is installed.
func (s *Server) interaction(c echo.Context) error {
	if s.trigger == nil {
		return c.JSON(http.StatusConflict, map[string]string{"error": "hardware touch sensor in use"})
	}
	var req interactionRequest
	if err := c.Bind(&req); err != nil && err != echo.ErrUnsupportedMediaType {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "bad request body"})
	}
	d := 600 * time.Millisecond
	if req.DurationMs > 0 {
		d = time.Duration(req.DurationMs) * time.Millisecond
	}
	s.trigger.Press(d)
	log.Printf("control: manual touch for %s", d)
	return c.JSON(http.StatusAccepted, map[string]string{"status": "triggered"})
}

func (s *Server) endCall(c echo.Context) error {
	if s.calls.State() == livecall.StateIdle {
		return c.JSON(http.StatusConflict, map[string]string{"error": "no active call"})
	}
	s.calls.End()
	return c.JSON(http.StatusAccepted, map[string]string{"status": "ending"})
}

func (s *Server) shutdown(c echo.Context) error {
	log.Printf("control: shutdown requested")
	go s.onQuit()
	return c.JSON(http.StatusAccepted, map[string]string{"status": "shutting down"})
}
