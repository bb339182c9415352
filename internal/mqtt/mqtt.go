// Package mqtt provides MQTT publishing with abstraction for testing.
package mqtt

import (
	"encoding/json"
	"time"

	"github.com/sweeney/rotary-sensor/internal/encoder"
)

// Topic is the MQTT topic for encoder steps.
const Topic = "input/rotary/encoder/steps"

// TopicSystem is the MQTT topic for system lifecycle events.
const TopicSystem = "input/rotary/encoder/system"

// Publisher publishes events to MQTT.
type Publisher interface {
	// Publish sends an encoder step to the broker.
	// Returns error if publishing fails (should not crash the process).
	Publish(event StepEvent) error

	// PublishSystem sends a system lifecycle event to the broker.
	PublishSystem(event SystemEvent) error

	// Close disconnects from the broker.
	Close() error
}

// ConnectionStatus reports whether the MQTT connection is active.
type ConnectionStatus interface {
	IsConnected() bool
}

// StepEvent is one decoded encoder step.
type StepEvent struct {
	Timestamp time.Time
	Step      encoder.Step
	// Position is the running sum of all steps since startup, including this one.
	Position int64
}

// SystemEvent represents a system lifecycle event (e.g., startup, shutdown, heartbeat).
type SystemEvent struct {
	Timestamp  time.Time
	Event      string // e.g., "STARTUP", "SHUTDOWN", "HEARTBEAT", "OFFLINE"
	Reason     string // e.g., "SIGTERM", "SIGINT" (shutdown only)
	RawPayload []byte // Pre-formatted JSON payload; if set, FormatSystemPayload returns it directly
	Retained   bool   // Whether the message should be retained by the broker
}

// Payload represents the MQTT message payload structure.
type Payload struct {
	Encoder EncoderPayload `json:"encoder"`
}

// EncoderPayload contains the step details.
type EncoderPayload struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	Step      int    `json:"step"`
	Position  int64  `json:"position"`
}

// EventName returns the event name for a step, e.g. "STEP_CW".
func EventName(s encoder.Step) string {
	return "STEP_" + s.String()
}

// FormatPayload creates the JSON payload for a step event.
func FormatPayload(event StepEvent) ([]byte, error) {
	payload := Payload{
		Encoder: EncoderPayload{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339Nano),
			Event:     EventName(event.Step),
			Step:      int(event.Step),
			Position:  event.Position,
		},
	}
	return json.Marshal(payload)
}

// SystemPayload represents the MQTT message payload for system events.
// Used for simple events (LWT) that don't carry a full status snapshot.
type SystemPayload struct {
	System SystemPayloadInner `json:"system"`
}

// SystemPayloadInner contains the system event details.
type SystemPayloadInner struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	Reason    string `json:"reason,omitempty"`
}

// FormatSystemPayload creates the JSON payload for a system event.
// If event.RawPayload is set, it is returned directly (used for full status snapshots).
func FormatSystemPayload(event SystemEvent) ([]byte, error) {
	if event.RawPayload != nil {
		return event.RawPayload, nil
	}

	payload := SystemPayload{
		System: SystemPayloadInner{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Event:     event.Event,
			Reason:    event.Reason,
		},
	}
	return json.Marshal(payload)
}
