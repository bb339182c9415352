package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/sweeney/rotary-sensor/internal/config"
	"github.com/sweeney/rotary-sensor/internal/encoder"
	"github.com/sweeney/rotary-sensor/internal/gpio"
	"github.com/sweeney/rotary-sensor/internal/mqtt"
	"github.com/sweeney/rotary-sensor/internal/status"
)

const (
	testPinA   = 17
	testPinB   = 27
	testWindow = 5 * time.Millisecond
)

var (
	rest   = gpio.Sample{A: false, B: false}
	aOnly  = gpio.Sample{A: true, B: false}
	both   = gpio.Sample{A: true, B: true}
	bOnly  = gpio.Sample{A: false, B: true}
	settle = 10
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeClock returns a function that yields start, start+step, start+2*step, ...
// on successive calls. Not safe for concurrent use (only called from runLoop's goroutine).
func fakeClock(start time.Time, step time.Duration) func() time.Time {
	n := 0
	return func() time.Time {
		t := start.Add(time.Duration(n) * step)
		n++
		return t
	}
}

// stepClock is the monotonic counterpart of fakeClock for the encoder.
func stepClock(step time.Duration) encoder.Clock {
	var now time.Duration
	return func() time.Duration {
		now += step
		return now
	}
}

// repeat returns n copies of sample.
func repeat(sample gpio.Sample, n int) []gpio.Sample {
	out := make([]gpio.Sample, n)
	for i := range out {
		out[i] = sample
	}
	return out
}

// script concatenates sample runs, each held long enough to pass the debounce window.
func script(samples ...gpio.Sample) []gpio.Sample {
	var out []gpio.Sample
	for _, s := range samples {
		out = append(out, repeat(s, settle)...)
	}
	return out
}

// faultReader wraps a FakeReader and returns errors for a range of Sample() calls.
type faultReader struct {
	inner      *gpio.FakeReader
	call       int
	faultStart int // first call index that returns error (inclusive)
	faultEnd   int // last call index that returns error (exclusive)
}

func (r *faultReader) Sample() error {
	i := r.call
	r.call++
	if i >= r.faultStart && i < r.faultEnd {
		return errors.New("gpio fault")
	}
	return r.inner.Sample()
}

func (r *faultReader) ReadPin(pin int) bool { return r.inner.ReadPin(pin) }

func (r *faultReader) Close() error { return r.inner.Close() }

// fakeSink records steps forwarded to live consumers.
type fakeSink struct {
	mu        sync.Mutex
	positions []int64
}

func (s *fakeSink) PublishStep(_ encoder.Step, position int64, _ time.Time) {
	s.mu.Lock()
	s.positions = append(s.positions, position)
	s.mu.Unlock()
}

// harness runs runLoop on its own goroutine with manual ticks.
type harness struct {
	t       *testing.T
	enc     *encoder.Encoder
	pub     *mqtt.FakePublisher
	tracker *status.Tracker
	ctrl    *loopController
	live    *fakeSink
	tick    chan time.Time
	sig     chan os.Signal
	errCh   chan error
}

type loopOpts struct {
	mode      encoder.Mode
	heartbeat time.Duration
	pub       *mqtt.FakePublisher
}

func startLoop(t *testing.T, reader gpio.Reader, opts loopOpts) *harness {
	t.Helper()
	if opts.mode == 0 {
		opts.mode = encoder.ModeDouble
	}
	if opts.pub == nil {
		opts.pub = mqtt.NewFakePublisher()
	}

	enc, err := encoder.New(encoder.Config{
		PinA:           testPinA,
		PinB:           testPinB,
		Mode:           opts.mode,
		DebounceWindow: testWindow,
	}, reader, stepClock(time.Millisecond))
	if err != nil {
		t.Fatalf("encoder.New: %v", err)
	}

	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	h := &harness{
		t:       t,
		enc:     enc,
		pub:     opts.pub,
		tracker: status.NewTracker(start, status.Config{Mode: int(opts.mode), PinA: testPinA, PinB: testPinB}),
		ctrl:    newLoopController(time.Second),
		live:    &fakeSink{},
		tick:    make(chan time.Time),
		sig:     make(chan os.Signal, 1),
		errCh:   make(chan error, 1),
	}
	now := fakeClock(start, time.Millisecond)
	enc.SetHandler(newStepHandler(h.pub, h.tracker, h.live, now, discardLogger()))

	go func() {
		h.errCh <- runLoop(reader, enc, h.pub, h.pub, h.tracker, h.ctrl.cmds, opts.heartbeat, now, h.tick, h.sig, discardLogger())
	}()
	return h
}

func (h *harness) ticks(n int) {
	for i := 0; i < n; i++ {
		h.tick <- time.Time{}
	}
}

// stop sends signal and waits for runLoop to return.
// After stop returns the test may read all harness state.
func (h *harness) stop(signal os.Signal) {
	h.t.Helper()
	h.sig <- signal
	if err := <-h.errCh; err != nil {
		h.t.Fatalf("runLoop returned error: %v", err)
	}
}

// runSamples feeds every sample through runLoop and shuts it down with SIGTERM.
func runSamples(t *testing.T, samples []gpio.Sample, opts loopOpts) *harness {
	t.Helper()
	h := startLoop(t, gpio.NewFakeReader(testPinA, testPinB, samples), opts)
	h.ticks(len(samples))
	h.stop(syscall.SIGTERM)
	return h
}

func TestRunLoopNoStepsAtRest(t *testing.T) {
	h := runSamples(t, repeat(rest, 20), loopOpts{})

	if len(h.pub.Events) != 0 {
		t.Errorf("expected 0 step events, got %d", len(h.pub.Events))
	}

	// Should have exactly one system event: SHUTDOWN
	if len(h.pub.SystemEvents) != 1 {
		t.Fatalf("expected 1 system event, got %d", len(h.pub.SystemEvents))
	}
	if h.pub.SystemEvents[0].Event != "SHUTDOWN" {
		t.Errorf("expected SHUTDOWN event, got %q", h.pub.SystemEvents[0].Event)
	}
}

func TestRunLoopClockwiseClick(t *testing.T) {
	h := runSamples(t, script(rest, aOnly, both), loopOpts{})

	if len(h.pub.Events) != 1 {
		t.Fatalf("expected 1 step event, got %d", len(h.pub.Events))
	}
	ev := h.pub.Events[0]
	if ev.Step != encoder.StepCW {
		t.Errorf("expected CW, got %s", ev.Step)
	}
	if ev.Position != 1 {
		t.Errorf("expected position 1, got %d", ev.Position)
	}
	if !strings.Contains(string(h.pub.Payloads[0]), `"event":"STEP_CW"`) {
		t.Errorf("payload missing STEP_CW: %s", h.pub.Payloads[0])
	}
}

func TestRunLoopCounterClockwiseClick(t *testing.T) {
	h := runSamples(t, script(rest, bOnly, both), loopOpts{})

	if len(h.pub.Events) != 1 {
		t.Fatalf("expected 1 step event, got %d", len(h.pub.Events))
	}
	if h.pub.Events[0].Step != encoder.StepCCW {
		t.Errorf("expected CCW, got %s", h.pub.Events[0].Step)
	}
	if h.pub.Events[0].Position != -1 {
		t.Errorf("expected position -1, got %d", h.pub.Events[0].Position)
	}
}

func TestRunLoopFullPeriodPerMode(t *testing.T) {
	// One full quadrature period, pin A leading
	period := script(rest, aOnly, both, bOnly, rest)

	tests := []struct {
		mode encoder.Mode
		want int
	}{
		{encoder.ModeSingle, 4},
		{encoder.ModeDouble, 2},
		{encoder.ModeQuad, 1},
	}
	for _, tt := range tests {
		t.Run(tt.mode.String(), func(t *testing.T) {
			h := runSamples(t, period, loopOpts{mode: tt.mode})

			if len(h.pub.Events) != tt.want {
				t.Fatalf("expected %d step events, got %d", tt.want, len(h.pub.Events))
			}
			if net := h.pub.Net(); net != tt.want {
				t.Errorf("expected net +%d, got %d", tt.want, net)
			}
			snap := h.tracker.Snapshot()
			if snap.Position != int64(tt.want) {
				t.Errorf("tracker position: got %d, want %d", snap.Position, tt.want)
			}
		})
	}
}

func TestRunLoopBackAndForth(t *testing.T) {
	h := runSamples(t, script(rest, aOnly, both, aOnly, rest), loopOpts{})

	if len(h.pub.Events) != 2 {
		t.Fatalf("expected 2 step events, got %d", len(h.pub.Events))
	}
	if h.pub.Events[0].Step != encoder.StepCW || h.pub.Events[1].Step != encoder.StepCCW {
		t.Errorf("expected CW then CCW, got %s then %s", h.pub.Events[0].Step, h.pub.Events[1].Step)
	}
	if h.pub.Events[1].Position != 0 {
		t.Errorf("expected final position 0, got %d", h.pub.Events[1].Position)
	}
}

func TestRunLoopBounceRejection(t *testing.T) {
	// A single bounce sample is shorter than the debounce window
	samples := append(
		repeat(rest, 4),
		append(
			repeat(aOnly, 2),
			repeat(rest, settle)...,
		)...,
	)
	h := runSamples(t, samples, loopOpts{})

	if len(h.pub.Events) != 0 {
		t.Errorf("expected 0 step events (bounce rejected), got %d", len(h.pub.Events))
	}
}

func TestRunLoopForwardsToLiveSink(t *testing.T) {
	h := runSamples(t, script(rest, aOnly, both, bOnly, rest), loopOpts{})

	h.live.mu.Lock()
	defer h.live.mu.Unlock()
	if len(h.live.positions) != 2 || h.live.positions[0] != 1 || h.live.positions[1] != 2 {
		t.Errorf("live positions: got %v, want [1 2]", h.live.positions)
	}
}

func TestRunLoopUpdatesTracker(t *testing.T) {
	h := runSamples(t, script(rest, aOnly, both), loopOpts{})

	snap := h.tracker.Snapshot()
	if !snap.Encoder.A || !snap.Encoder.B {
		t.Errorf("expected both pins high, got A=%v B=%v", snap.Encoder.A, snap.Encoder.B)
	}
	if snap.Encoder.Counts.CW != 1 {
		t.Errorf("expected CW count 1, got %d", snap.Encoder.Counts.CW)
	}
	if snap.LastStep != encoder.StepCW {
		t.Errorf("expected last step CW, got %s", snap.LastStep)
	}
	if snap.Encoder.Debounce != testWindow {
		t.Errorf("expected debounce %v, got %v", testWindow, snap.Encoder.Debounce)
	}
}

func TestRunLoopGPIOSampleError(t *testing.T) {
	// 2 valid samples then 2 faults. Loop should continue past errors
	// and still publish SHUTDOWN.
	inner := gpio.NewFakeReader(testPinA, testPinB, repeat(rest, 2))
	reader := &faultReader{
		inner:      inner,
		faultStart: 2, // calls 2,3 return error
		faultEnd:   4,
	}

	h := startLoop(t, reader, loopOpts{})
	h.ticks(4)
	h.stop(syscall.SIGTERM)

	found := false
	for _, se := range h.pub.SystemEvents {
		if se.Event == "SHUTDOWN" {
			found = true
		}
	}
	if !found {
		t.Error("expected SHUTDOWN system event after GPIO errors")
	}
}

func TestRunLoopGPIOErrorRecovery(t *testing.T) {
	// Errors in the middle of a click must not break decoding
	samples := script(rest, aOnly, both)
	inner := gpio.NewFakeReader(testPinA, testPinB, samples)
	reader := &faultReader{
		inner:      inner,
		faultStart: settle + 2, // while pin A is settling
		faultEnd:   settle + 5,
	}

	h := startLoop(t, reader, loopOpts{})
	h.ticks(len(samples) + 3)
	h.stop(syscall.SIGTERM)

	if len(h.pub.Events) != 1 {
		t.Fatalf("expected 1 step event after recovery, got %d", len(h.pub.Events))
	}
	if h.pub.Events[0].Step != encoder.StepCW {
		t.Errorf("expected CW, got %s", h.pub.Events[0].Step)
	}
}

func TestRunLoopHeartbeat(t *testing.T) {
	// The encoder clock advances 1ms per call: once in Poll and once in
	// CheckHeartbeat per tick, so a 5ms interval fires on the third tick.
	h := runSamples(t, repeat(rest, 4), loopOpts{heartbeat: 5 * time.Millisecond})

	var heartbeats, shutdowns int
	for i, se := range h.pub.SystemEvents {
		switch se.Event {
		case "HEARTBEAT":
			heartbeats++
			if se.Retained {
				t.Error("HEARTBEAT should not be retained")
			}
			if !strings.Contains(string(h.pub.SystemPayloads[i]), `"event":"HEARTBEAT"`) {
				t.Errorf("heartbeat payload missing event: %s", h.pub.SystemPayloads[i])
			}
		case "SHUTDOWN":
			shutdowns++
		}
	}
	if heartbeats != 1 {
		t.Errorf("expected 1 HEARTBEAT event, got %d", heartbeats)
	}
	if shutdowns != 1 {
		t.Errorf("expected 1 SHUTDOWN event, got %d", shutdowns)
	}
}

func TestRunLoopHeartbeatDisabled(t *testing.T) {
	h := runSamples(t, repeat(rest, 50), loopOpts{heartbeat: 0})

	for _, se := range h.pub.SystemEvents {
		if se.Event == "HEARTBEAT" {
			t.Fatal("heartbeat should be disabled")
		}
	}
}

func TestRunLoopPublishError(t *testing.T) {
	// A step occurs but Publish returns an error; the loop continues.
	pub := mqtt.NewFakePublisher()
	pub.PublishError = fmt.Errorf("broker unavailable")

	h := runSamples(t, script(rest, aOnly, both), loopOpts{pub: pub})

	if len(pub.Events) != 0 {
		t.Errorf("expected 0 recorded events (publish failed), got %d", len(pub.Events))
	}
	// The step is still tracked locally
	if snap := h.tracker.Snapshot(); snap.Position != 1 {
		t.Errorf("tracker position: got %d, want 1", snap.Position)
	}

	found := false
	for _, se := range pub.SystemEvents {
		if se.Event == "SHUTDOWN" {
			found = true
		}
	}
	if !found {
		t.Error("expected SHUTDOWN system event despite publish errors")
	}
}

func TestRunLoopShutdown(t *testing.T) {
	tests := []struct {
		signal os.Signal
		reason string
	}{
		{syscall.SIGINT, "SIGINT"},
		{syscall.SIGTERM, "SIGTERM"},
		{syscall.SIGHUP, "UNKNOWN"},
	}
	for _, tt := range tests {
		t.Run(tt.reason, func(t *testing.T) {
			h := startLoop(t, gpio.NewFakeReader(testPinA, testPinB, repeat(rest, 4)), loopOpts{})
			h.ticks(4)
			h.stop(tt.signal)

			if len(h.pub.SystemEvents) != 1 {
				t.Fatalf("expected 1 system event, got %d", len(h.pub.SystemEvents))
			}
			se := h.pub.SystemEvents[0]
			if se.Event != "SHUTDOWN" {
				t.Errorf("expected SHUTDOWN, got %q", se.Event)
			}
			if se.Reason != tt.reason {
				t.Errorf("expected reason %s, got %q", tt.reason, se.Reason)
			}
			if !se.Retained {
				t.Error("expected Retained=true for SHUTDOWN")
			}
			if !strings.Contains(string(h.pub.SystemPayloads[0]), `"reason":"`+tt.reason+`"`) {
				t.Errorf("payload missing reason: %s", h.pub.SystemPayloads[0])
			}
		})
	}
}

func TestRunLoopReverseCommand(t *testing.T) {
	samples := script(rest, aOnly, both)
	h := startLoop(t, gpio.NewFakeReader(testPinA, testPinB, samples), loopOpts{})

	if err := h.ctrl.Reverse(); err != nil {
		t.Fatalf("Reverse: %v", err)
	}
	h.ticks(len(samples))
	h.stop(syscall.SIGTERM)

	if len(h.pub.Events) != 1 {
		t.Fatalf("expected 1 step event, got %d", len(h.pub.Events))
	}
	if h.pub.Events[0].Step != encoder.StepCCW {
		t.Errorf("expected CCW after reverse, got %s", h.pub.Events[0].Step)
	}
	if !h.tracker.Snapshot().Encoder.Inverted {
		t.Error("tracker should report the reversed direction")
	}
}

func TestRunLoopSetDebounceCommand(t *testing.T) {
	h := startLoop(t, gpio.NewFakeReader(testPinA, testPinB, repeat(rest, 1)), loopOpts{})

	if err := h.ctrl.SetDebounce(20 * time.Millisecond); err != nil {
		t.Fatalf("SetDebounce: %v", err)
	}
	// Visible to the tracker without waiting for a tick
	if got := h.tracker.Snapshot().Encoder.Debounce; got != 20*time.Millisecond {
		t.Errorf("tracker debounce: got %v, want 20ms", got)
	}
	h.stop(syscall.SIGTERM)

	if got := h.enc.DebounceWindow(); got != 20*time.Millisecond {
		t.Errorf("encoder debounce: got %v, want 20ms", got)
	}
}

func TestLoopControllerTimeout(t *testing.T) {
	// Nothing is reading the command channel
	ctrl := newLoopController(10 * time.Millisecond)

	if err := ctrl.Reverse(); !errors.Is(err, errLoopBusy) {
		t.Errorf("Reverse: got %v, want errLoopBusy", err)
	}
	if err := ctrl.SetDebounce(time.Millisecond); !errors.Is(err, errLoopBusy) {
		t.Errorf("SetDebounce: got %v, want errLoopBusy", err)
	}
	if err := ctrl.SetDebounce(-time.Millisecond); err == nil || errors.Is(err, errLoopBusy) {
		t.Errorf("negative window should be rejected up front, got %v", err)
	}
}

func TestStepHandlerIgnoresNone(t *testing.T) {
	pub := mqtt.NewFakePublisher()
	tracker := status.NewTracker(time.Now(), status.Config{})
	h := newStepHandler(pub, tracker, nil, time.Now, discardLogger())

	h(encoder.StepNone)
	h(encoder.StepCCW)

	if len(pub.Events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(pub.Events))
	}
	if tracker.Snapshot().Position != -1 {
		t.Errorf("position: got %d, want -1", tracker.Snapshot().Position)
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{"error", slog.LevelError, false},
		{"warn", slog.LevelWarn, false},
		{"WARNING", slog.LevelWarn, false},
		{"info", slog.LevelInfo, false},
		{"Debug", slog.LevelDebug, false},
		{"trace", slog.LevelInfo, true},
	}
	for _, tt := range tests {
		got, err := parseLogLevel(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("parseLogLevel(%q): err=%v, wantErr=%v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("parseLogLevel(%q): got %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestLoadConfigPrecedence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rotary-sensor.yaml")
	body := "encoder:\n  mode: 4\n  debounce: 3ms\nmqtt:\n  broker: tcp://file:1883\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	// Flag wins over file; file wins over default
	debounce := 2 * time.Millisecond
	cfg, err := loadConfig(path, config.FlagOverrides{Debounce: &debounce})
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.Encoder.Debounce != 2*time.Millisecond {
		t.Errorf("debounce: got %v, want 2ms from flag", cfg.Encoder.Debounce)
	}
	if cfg.Encoder.Mode != 4 {
		t.Errorf("mode: got %d, want 4 from file", cfg.Encoder.Mode)
	}
	if cfg.MQTT.Broker != "tcp://file:1883" {
		t.Errorf("broker: got %q, want file value", cfg.MQTT.Broker)
	}
	if cfg.GPIO.PinA != gpio.DefaultPinA {
		t.Errorf("pin A: got %d, want default", cfg.GPIO.PinA)
	}
}

func TestLoadConfigInvalid(t *testing.T) {
	mode := 3
	if _, err := loadConfig("", config.FlagOverrides{Mode: &mode}); err == nil {
		t.Error("expected error for mode 3")
	}
}
