package encoder

import (
	"errors"
	"time"
)

// Encoder tracks the debounced state of both pins and decodes steps.
// It is not safe for concurrent use: Poll, TakeStep, Reverse and
// SetDebounceWindow must all be called from the same goroutine.
type Encoder struct {
	pins  PinReader
	clock Clock

	a channel
	b channel

	mode   Mode
	policy policy
	window time.Duration

	// change is true between the "pins differ" and "pins equal" transitions
	change bool
	// quadChange alternates on every completed cycle
	quadChange bool
	// direction is latched at the start of every transition; true = CW
	direction bool
	invert    bool
	// settling absorbs the first half-click when started between detents
	settling bool

	step    Step
	handler Handler

	counts        Counts
	startTime     time.Duration
	lastHeartbeat time.Duration
}

// New creates an encoder reading cfg.PinA and cfg.PinB through pins.
// The pins are read once to establish the baseline, so a shaft at rest
// never produces a step at startup.
func New(cfg Config, pins PinReader, clock Clock) (*Encoder, error) {
	if pins == nil {
		return nil, errors.New("encoder: nil pin reader")
	}
	if clock == nil {
		return nil, errors.New("encoder: nil clock")
	}
	mode, err := ParseMode(int(cfg.Mode))
	if err != nil {
		return nil, err
	}
	if cfg.PinA == cfg.PinB {
		return nil, errors.New("encoder: pin A and pin B must differ")
	}

	now := clock()
	e := &Encoder{
		pins:          pins,
		clock:         clock,
		mode:          mode,
		policy:        policyFor(mode),
		window:        cfg.DebounceWindow,
		invert:        cfg.Reversed,
		startTime:     now,
		lastHeartbeat: now,
	}
	e.a.pin = cfg.PinA
	e.b.pin = cfg.PinB
	e.a.seed(pins.ReadPin(cfg.PinA), now)
	e.b.seed(pins.ReadPin(cfg.PinB), now)

	// Parked between detents: wait for the pins to agree before decoding
	if mode != ModeSingle && e.a.stable != e.b.stable {
		e.change = true
		e.settling = true
	}

	return e, nil
}

// Poll reads both pins, debounces them and advances the decoder.
// It must be called far more often than the encoder's bounce time.
// Returns true if a step was produced by this call.
func (e *Encoder) Poll() bool {
	now := e.clock()

	// Snapshot both stable levels before either pin can commit
	prevA, prevB := e.a.stable, e.b.stable

	committedA := e.a.debounce(e.pins.ReadPin(e.a.pin), now, e.window)
	committedB := e.b.debounce(e.pins.ReadPin(e.b.pin), now, e.window)

	if committedA || committedB {
		e.a.prevStable = prevA
		e.b.prevStable = prevB
	}

	if !e.policy.decode(e, committedA, committedB) {
		return false
	}

	switch e.step {
	case StepCW:
		e.counts.CW++
	case StepCCW:
		e.counts.CCW++
	}
	return true
}

// TakeStep returns the pending step and clears it.
// A second call without an intervening step returns StepNone.
func (e *Encoder) TakeStep() Step {
	s := e.step
	e.step = StepNone
	return s
}

// Reverse inverts the sign of every step latched from now on.
// A transition already in progress keeps its direction.
func (e *Encoder) Reverse() {
	e.invert = !e.invert
}

// SetDebounceWindow sets how long a raw level must hold before it is accepted.
// Too short a window lets contact bounce through as extra steps; too long a
// window (relative to how fast the shaft is turned and the poll interval)
// swallows real transitions and loses steps.
func (e *Encoder) SetDebounceWindow(d time.Duration) {
	e.window = d
}

// SetHandler registers h to be called by Dispatch, replacing any previous handler.
func (e *Encoder) SetHandler(h Handler) {
	e.handler = h
}

// ClearHandler removes the registered handler.
func (e *Encoder) ClearHandler() {
	e.handler = nil
}

// Dispatch takes the pending step and passes it to the registered handler.
// Because it uses TakeStep, calling TakeStep first (or Dispatch twice for
// one step) passes StepNone to the handler.
func (e *Encoder) Dispatch() {
	s := e.TakeStep()
	if e.handler != nil {
		e.handler(s)
	}
}

// Levels returns the current stable levels of pin A and pin B.
func (e *Encoder) Levels() (a, b bool) {
	return e.a.stable, e.b.stable
}

// InTransition returns whether a click is in progress.
func (e *Encoder) InTransition() bool {
	return e.change
}

// Inverted returns whether the direction is reversed.
func (e *Encoder) Inverted() bool {
	return e.invert
}

// Mode returns the configured detents-per-click mode.
func (e *Encoder) Mode() Mode {
	return e.mode
}

// DebounceWindow returns the current debounce window.
func (e *Encoder) DebounceWindow() time.Duration {
	return e.window
}

// Counts returns the number of steps reported since startup.
func (e *Encoder) Counts() Counts {
	return e.counts
}

// CheckHeartbeat returns heartbeat data if the interval has elapsed since the
// last heartbeat (or construction). Returns nil if the interval has not
// elapsed, or if interval is <= 0 (disabled).
func (e *Encoder) CheckHeartbeat(interval time.Duration) *HeartbeatData {
	if interval <= 0 {
		return nil
	}

	now := e.clock()
	if now-e.lastHeartbeat < interval {
		return nil
	}

	e.lastHeartbeat = now
	return &HeartbeatData{
		Uptime: now - e.startTime,
		Counts: e.counts,
	}
}
