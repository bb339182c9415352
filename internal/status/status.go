// Package status provides a thread-safe status tracker for the rotary-sensor daemon.
// The control loop writes to it; HTTP handlers and MQTT system events read snapshots.
package status

import (
	"sync"
	"time"

	"github.com/sweeney/rotary-sensor/internal/encoder"
)

// Config contains daemon configuration for display.
type Config struct {
	PollMs      int64
	HeartbeatMs int64
	Mode        int
	PinA        int
	PinB        int
	Broker      string
	HTTPAddr    string
}

// EncoderState is the part of the snapshot copied from the encoder on every tick.
type EncoderState struct {
	A            bool
	B            bool
	InTransition bool
	Inverted     bool
	Debounce     time.Duration
	Counts       encoder.Counts
}

// Snapshot is a point-in-time view of daemon state.
// It is a value type, safe to use after the lock is released.
type Snapshot struct {
	Encoder       EncoderState
	Position      int64
	LastStep      encoder.Step
	LastStepAt    time.Time
	StartTime     time.Time
	Now           time.Time
	MQTTConnected bool
	Config        Config
}

// Uptime returns the duration since the daemon started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// Tracker holds mutable daemon state behind an RWMutex.
type Tracker struct {
	mu   sync.RWMutex
	snap Snapshot
}

// NewTracker creates a Tracker with the given start time and config.
func NewTracker(startTime time.Time, cfg Config) *Tracker {
	return &Tracker{
		snap: Snapshot{
			StartTime: startTime,
			Config:    cfg,
		},
	}
}

// Update copies the encoder state.
// Called from the control loop on every tick.
func (t *Tracker) Update(es EncoderState) {
	t.mu.Lock()
	t.snap.Encoder = es
	t.mu.Unlock()
}

// RecordStep adds step to the position and returns the new position.
// StepNone is ignored.
func (t *Tracker) RecordStep(step encoder.Step, at time.Time) int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if step == encoder.StepNone {
		return t.snap.Position
	}
	t.snap.Position += int64(step)
	t.snap.LastStep = step
	t.snap.LastStepAt = at
	return t.snap.Position
}

// SetMQTTConnected sets the MQTT connection status.
func (t *Tracker) SetMQTTConnected(connected bool) {
	t.mu.Lock()
	t.snap.MQTTConnected = connected
	t.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the daemon state.
// The Now field is set to the current time at the moment of the call.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := t.snap
	t.mu.RUnlock()
	s.Now = time.Now()
	return s
}
