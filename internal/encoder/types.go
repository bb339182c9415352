// Package encoder decodes a two-pin mechanical rotary encoder into signed steps.
// This package has NO external dependencies (no GPIO, MQTT, OS, or time.Sleep).
// Pin levels and time are always injected: see PinReader and Clock.
package encoder

import (
	"fmt"
	"time"
)

// PinReader returns the current logical level of a digital input pin.
type PinReader interface {
	ReadPin(pin int) bool
}

// Clock returns a monotonic, non-wrapping timestamp.
type Clock func() time.Duration

// Mode is the number of electrical transitions per mechanical click.
type Mode int

const (
	// ModeSingle reports a step on every debounced edge of either pin.
	ModeSingle Mode = 1
	// ModeDouble reports a step on every full quadrature cycle.
	ModeDouble Mode = 2
	// ModeQuad reports one step per two full quadrature cycles.
	ModeQuad Mode = 4
)

// ParseMode converts a detents-per-click count into a Mode.
func ParseMode(n int) (Mode, error) {
	switch m := Mode(n); m {
	case ModeSingle, ModeDouble, ModeQuad:
		return m, nil
	}
	return 0, fmt.Errorf("invalid encoder mode %d (must be 1, 2 or 4)", n)
}

func (m Mode) String() string {
	switch m {
	case ModeSingle:
		return "single"
	case ModeDouble:
		return "double"
	case ModeQuad:
		return "quad"
	}
	return fmt.Sprintf("Mode(%d)", int(m))
}

// Step is one unit of reported rotation.
type Step int8

const (
	StepNone Step = 0
	// StepCW is reported when pin A leads pin B.
	StepCW Step = 1
	// StepCCW is reported when pin B leads pin A.
	StepCCW Step = -1
)

func (s Step) String() string {
	switch s {
	case StepCW:
		return "CW"
	case StepCCW:
		return "CCW"
	}
	return "NONE"
}

// Handler receives steps from Dispatch.
type Handler func(Step)

// Config is the encoder wiring and tuning.
type Config struct {
	PinA int
	PinB int
	Mode Mode
	// DebounceWindow is how long a raw level must hold before it is accepted.
	DebounceWindow time.Duration
	// Reversed starts the encoder with its direction inverted.
	Reversed bool
}

// Counts tracks the number of steps reported since startup.
type Counts struct {
	CW  int
	CCW int
}

// HeartbeatData contains information for a heartbeat event.
type HeartbeatData struct {
	Uptime time.Duration
	Counts Counts
}
