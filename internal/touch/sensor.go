package touch

import (
	"fmt"
	"log"
	"sync"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
)

// Sensor reports the current level of the touch line. Read is non-blocking
// and carries no state; debouncing is the caller's job.
type Sensor interface {
	Read() bool
}

// Capabilities describes which hardware was actually found at startup. It is
// detected once and injected, so degraded paths are explicit and testable.
type Capabilities struct {
	Touch  bool
	Camera bool
}

type gpioSensor struct {
	pin gpio.PinIn
}

var hostInit sync.Once

// NewGPIOSensor opens the named digital input line (e.g. "GPIO17", TTP223
// touch module output). It fails when the line does not exist so the caller
// can fall back to a manual trigger.
func NewGPIOSensor(name string) (Sensor, error) {
	var initErr error
	hostInit.Do(func() { _, initErr = host.Init() })
	if initErr != nil {
		return nil, fmt.Errorf("gpio host init: %w", initErr)
	}
	pin := gpioreg.ByName(name)
	if pin == nil {
		return nil, fmt.Errorf("gpio line %s not found", name)
	}
	// TTP223 drives the line actively; no pull needed.
	if err := pin.In(gpio.PullNoChange, gpio.NoEdge); err != nil {
		return nil, fmt.Errorf("gpio line %s configure: %w", name, err)
	}
	log.Printf("touch: sensor configured on %s", name)
	return &gpioSensor{pin: pin}, nil
}

func (s *gpioSensor) Read() bool { return s.pin.Read() == gpio.High }

// ManualSensor is the operator-confirmed stand-in used when no GPIO line is
// available. Press holds the line active for the given duration.
type ManualSensor struct {
	mu    sync.Mutex
	until time.Time
}

func NewManualSensor() *ManualSensor { return &ManualSensor{} }

// Press activates the virtual line for d.
func (m *ManualSensor) Press(d time.Duration) {
	m.mu.Lock()
	m.until = time.Now().Add(d)
	m.mu.Unlock()
}

// Release deactivates the virtual line immediately.
func (m *ManualSensor) Release() {
	m.mu.Lock()
	m.until = time.Time{}
	m.mu.Unlock()
}

func (m *ManualSensor) Read() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return time.Now().Before(m.until)
}
