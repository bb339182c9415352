package status

import (
	"encoding/json"
	"time"

	"github.com/sweeney/rotary-sensor/internal/encoder"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Event         string     `json:"event,omitempty"`
	Reason        string     `json:"reason,omitempty"`
	Position      int64      `json:"position"`
	LastStep      string     `json:"last_step"`
	LastStepAt    string     `json:"last_step_at,omitempty"`
	Pins          PinsJSON   `json:"pins"`
	Reversed      bool       `json:"reversed"`
	DebounceMs    float64    `json:"debounce_ms"`
	UptimeSeconds int64      `json:"uptime_seconds"`
	StartTime     string     `json:"start_time"`
	Timestamp     string     `json:"timestamp"`
	MQTT          MQTTStatus `json:"mqtt"`
	Counts        CountsJSON `json:"step_counts"`
	Config        ConfigJSON `json:"config"`
}

// PinsJSON reports the debounced pin levels.
type PinsJSON struct {
	A            string `json:"a"`
	B            string `json:"b"`
	InTransition bool   `json:"in_transition"`
}

// MQTTStatus reports MQTT connection state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
}

// CountsJSON is the JSON representation of step counts.
type CountsJSON struct {
	CW  int `json:"cw"`
	CCW int `json:"ccw"`
}

// ConfigJSON is the JSON representation of daemon config.
type ConfigJSON struct {
	PollMs      int64  `json:"poll_ms"`
	HeartbeatMs int64  `json:"heartbeat_ms"`
	Mode        int    `json:"mode"`
	PinA        int    `json:"pin_a"`
	PinB        int    `json:"pin_b"`
	Broker      string `json:"broker"`
	HTTPAddr    string `json:"http_addr"`
}

// Level returns "HIGH" or "LOW".
func Level(high bool) string {
	if high {
		return "HIGH"
	}
	return "LOW"
}

func buildInner(snap Snapshot) StatusInner {
	inner := StatusInner{
		Position: snap.Position,
		LastStep: snap.LastStep.String(),
		Pins: PinsJSON{
			A:            Level(snap.Encoder.A),
			B:            Level(snap.Encoder.B),
			InTransition: snap.Encoder.InTransition,
		},
		Reversed:      snap.Encoder.Inverted,
		DebounceMs:    float64(snap.Encoder.Debounce) / float64(time.Millisecond),
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:     snap.Now.UTC().Format(time.RFC3339),
		MQTT:          MQTTStatus{Connected: snap.MQTTConnected, Broker: snap.Config.Broker},
		Counts: CountsJSON{
			CW:  snap.Encoder.Counts.CW,
			CCW: snap.Encoder.Counts.CCW,
		},
		Config: ConfigJSON{
			PollMs:      snap.Config.PollMs,
			HeartbeatMs: snap.Config.HeartbeatMs,
			Mode:        snap.Config.Mode,
			PinA:        snap.Config.PinA,
			PinB:        snap.Config.PinB,
			Broker:      snap.Config.Broker,
			HTTPAddr:    snap.Config.HTTPAddr,
		},
	}
	if snap.LastStep != encoder.StepNone {
		inner.LastStepAt = snap.LastStepAt.UTC().Format(time.RFC3339Nano)
	}
	return inner
}

// FormatJSON returns the JSON status for the web endpoint (no event/reason).
func FormatJSON(snap Snapshot) []byte {
	data, _ := json.MarshalIndent(StatusJSON{Status: buildInner(snap)}, "", "  ")
	return data
}

// FormatStatusEvent returns the JSON status for an MQTT system event.
func FormatStatusEvent(snap Snapshot, event, reason string) []byte {
	inner := buildInner(snap)
	inner.Event = event
	inner.Reason = reason

	data, _ := json.Marshal(StatusJSON{Status: inner})
	return data
}
