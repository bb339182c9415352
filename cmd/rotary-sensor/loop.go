package main

import (
	"errors"
	"log/slog"
	"os"
	"syscall"
	"time"

	"github.com/sweeney/rotary-sensor/internal/encoder"
	"github.com/sweeney/rotary-sensor/internal/gpio"
	"github.com/sweeney/rotary-sensor/internal/mqtt"
	"github.com/sweeney/rotary-sensor/internal/status"
)

// stepSink receives every step after it has been recorded.
// *web.Server implements it to feed WebSocket clients.
type stepSink interface {
	PublishStep(step encoder.Step, position int64, at time.Time)
}

// newStepHandler returns the encoder handler that records a step in the
// tracker, publishes it to MQTT and forwards it to live.
// live may be nil.
func newStepHandler(publisher mqtt.Publisher, tracker *status.Tracker, live stepSink, now func() time.Time, logger *slog.Logger) encoder.Handler {
	return func(s encoder.Step) {
		if s == encoder.StepNone {
			return
		}
		at := now()
		pos := tracker.RecordStep(s, at)
		logger.Debug("step", "step", s.String(), "position", pos)

		if err := publisher.Publish(mqtt.StepEvent{Timestamp: at, Step: s, Position: pos}); err != nil {
			// Don't crash on publish failure
			logger.Warn("publish step failed", "step", s.String(), "error", err)
		}
		if live != nil {
			live.PublishStep(s, pos, at)
		}
	}
}

// command is a change to the encoder requested from another goroutine.
// It is applied by runLoop between polls.
type command struct {
	apply func(*encoder.Encoder)
	done  chan struct{}
}

// errLoopBusy is returned when the control loop does not pick up a command in time.
var errLoopBusy = errors.New("control loop not responding")

// loopController implements web.Controller by queueing commands for runLoop.
type loopController struct {
	cmds    chan command
	timeout time.Duration
}

func newLoopController(timeout time.Duration) *loopController {
	return &loopController{
		cmds:    make(chan command),
		timeout: timeout,
	}
}

func (c *loopController) do(fn func(*encoder.Encoder)) error {
	cmd := command{apply: fn, done: make(chan struct{})}
	timer := time.NewTimer(c.timeout)
	defer timer.Stop()

	select {
	case c.cmds <- cmd:
	case <-timer.C:
		return errLoopBusy
	}
	select {
	case <-cmd.done:
		return nil
	case <-timer.C:
		return errLoopBusy
	}
}

// Reverse flips the encoder direction.
func (c *loopController) Reverse() error {
	return c.do(func(e *encoder.Encoder) { e.Reverse() })
}

// SetDebounce changes the encoder debounce window.
func (c *loopController) SetDebounce(window time.Duration) error {
	if window < 0 {
		return errors.New("debounce window must be >= 0")
	}
	return c.do(func(e *encoder.Encoder) { e.SetDebounceWindow(window) })
}

func encoderState(e *encoder.Encoder) status.EncoderState {
	a, b := e.Levels()
	return status.EncoderState{
		A:            a,
		B:            b,
		InTransition: e.InTransition(),
		Inverted:     e.Inverted(),
		Debounce:     e.DebounceWindow(),
		Counts:       e.Counts(),
	}
}

func signalName(s os.Signal) string {
	switch s {
	case syscall.SIGINT:
		return "SIGINT"
	case syscall.SIGTERM:
		return "SIGTERM"
	}
	return "UNKNOWN"
}

// runLoop samples the encoder pins on every tick until a signal arrives.
// All access to enc happens on this goroutine.
func runLoop(reader gpio.Reader, enc *encoder.Encoder, publisher mqtt.Publisher, mqttStatus mqtt.ConnectionStatus, tracker *status.Tracker, cmds <-chan command, heartbeat time.Duration, now func() time.Time, tick <-chan time.Time, sig <-chan os.Signal, logger *slog.Logger) error {
	refresh := func() {
		tracker.Update(encoderState(enc))
		if mqttStatus != nil {
			tracker.SetMQTTConnected(mqttStatus.IsConnected())
		}
	}

	for {
		select {
		case s := <-sig:
			name := signalName(s)
			logger.Info("shutting down", "signal", name)

			refresh()
			snap := tracker.Snapshot()
			event := mqtt.SystemEvent{
				Timestamp:  now(),
				Event:      "SHUTDOWN",
				Reason:     name,
				Retained:   true,
				RawPayload: status.FormatStatusEvent(snap, "SHUTDOWN", name),
			}
			if err := publisher.PublishSystem(event); err != nil {
				logger.Error("failed to publish shutdown event", "error", err)
			} else {
				logger.Info("published shutdown event")
			}
			return nil

		case cmd := <-cmds:
			cmd.apply(enc)
			refresh()
			close(cmd.done)

		case <-tick:
			if err := reader.Sample(); err != nil {
				logger.Warn("gpio sample error", "error", err)
				continue
			}

			if enc.Poll() {
				enc.Dispatch()
			}

			if hb := enc.CheckHeartbeat(heartbeat); hb != nil {
				logger.Info("heartbeat",
					"uptime", hb.Uptime.Truncate(time.Second),
					"cw", hb.Counts.CW,
					"ccw", hb.Counts.CCW)

				refresh()
				snap := tracker.Snapshot()
				event := mqtt.SystemEvent{
					Timestamp:  now(),
					Event:      "HEARTBEAT",
					RawPayload: status.FormatStatusEvent(snap, "HEARTBEAT", ""),
				}
				if err := publisher.PublishSystem(event); err != nil {
					logger.Warn("heartbeat publish error", "error", err)
				}
			}

			// Update status tracker for HTTP consumers
			refresh()
		}
	}
}
