// Command rotary-sensor decodes a mechanical rotary encoder on two GPIO pins
// and publishes each step to MQTT.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sweeney/rotary-sensor/internal/config"
	"github.com/sweeney/rotary-sensor/internal/encoder"
	"github.com/sweeney/rotary-sensor/internal/gpio"
	"github.com/sweeney/rotary-sensor/internal/mqtt"
	"github.com/sweeney/rotary-sensor/internal/status"
	"github.com/sweeney/rotary-sensor/internal/web"
)

const controlTimeout = 2 * time.Second

func main() {
	def := config.DefaultConfig()

	configPath := flag.String("config", "", "Path to YAML config file")
	chip := flag.String("chip", def.GPIO.Chip, "GPIO chip device name")
	pinA := flag.Int("pin-a", def.GPIO.PinA, "BCM pin number for encoder pin A")
	pinB := flag.Int("pin-b", def.GPIO.PinB, "BCM pin number for encoder pin B")
	mode := flag.Int("mode", def.Encoder.Mode, "Detents per click: 1, 2 or 4")
	poll := flag.Duration("poll", def.Encoder.Poll, "GPIO polling interval")
	debounce := flag.Duration("debounce", def.Encoder.Debounce, "Debounce window")
	reverse := flag.Bool("reverse", def.Encoder.Reversed, "Swap clockwise and counter-clockwise")
	broker := flag.String("broker", def.MQTT.Broker, "MQTT broker address")
	heartbeat := flag.Duration("heartbeat", def.MQTT.Heartbeat, "Heartbeat interval (0 to disable)")
	httpAddr := flag.String("http", def.HTTP.Addr, "HTTP status address (empty to disable)")
	logLevel := flag.String("log-level", def.Logging.Level, "Log level: error, warn, info, debug")
	printState := flag.Bool("print-state", false, "Print current pin levels and exit")

	flag.Parse()

	// Only flags given on the command line override the config file
	var o config.FlagOverrides
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "chip":
			o.Chip = chip
		case "pin-a":
			o.PinA = pinA
		case "pin-b":
			o.PinB = pinB
		case "mode":
			o.Mode = mode
		case "poll":
			o.Poll = poll
		case "debounce":
			o.Debounce = debounce
		case "reverse":
			o.Reversed = reverse
		case "broker":
			o.Broker = broker
		case "heartbeat":
			o.Heartbeat = heartbeat
		case "http":
			o.HTTPAddr = httpAddr
		case "log-level":
			o.LogLevel = logLevel
		}
	})

	cfg, err := loadConfig(*configPath, o)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}

	level, err := parseLogLevel(cfg.Logging.Level)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
	logger := setupLogger(level)

	if err := run(cfg, *printState, logger); err != nil {
		logger.Error("fatal", "error", err)
		os.Exit(1)
	}
}

// loadConfig applies defaults, the optional config file and flag overrides, then validates.
func loadConfig(path string, o config.FlagOverrides) (config.Config, error) {
	cfg := config.DefaultConfig()
	if path != "" {
		var err error
		cfg, err = config.LoadConfigFile(path)
		if err != nil {
			return config.Config{}, err
		}
	}
	o.Apply(&cfg)
	if err := cfg.Validate(); err != nil {
		return config.Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func run(cfg config.Config, printState bool, logger *slog.Logger) error {
	// Initialize GPIO
	gpioReader, err := gpio.NewRealReader(cfg.GPIO.Chip, cfg.GPIO.PinA, cfg.GPIO.PinB)
	if err != nil {
		return fmt.Errorf("init gpio: %w", err)
	}
	defer gpioReader.Close()

	// Print state mode
	if printState {
		fmt.Printf("A: %s, B: %s\n",
			status.Level(gpioReader.ReadPin(cfg.GPIO.PinA)),
			status.Level(gpioReader.ReadPin(cfg.GPIO.PinB)))
		return nil
	}

	start := time.Now()
	clock := func() time.Duration { return time.Since(start) }

	enc, err := encoder.New(cfg.ToEncoderConfig(), gpioReader, clock)
	if err != nil {
		return fmt.Errorf("init encoder: %w", err)
	}

	// Initialize MQTT
	publisher, err := mqtt.NewRealPublisher(mqtt.Options{
		Broker:     cfg.MQTT.Broker,
		ClientID:   cfg.MQTT.ClientID,
		BufferSize: cfg.MQTT.BufferSize,
		Logger:     logger,
	})
	if err != nil {
		return fmt.Errorf("init mqtt: %w", err)
	}
	defer publisher.Close()

	// Initialize status tracker (before STARTUP so snapshot is available)
	tracker := status.NewTracker(start, status.Config{
		PollMs:      cfg.Encoder.Poll.Milliseconds(),
		HeartbeatMs: cfg.MQTT.Heartbeat.Milliseconds(),
		Mode:        cfg.Encoder.Mode,
		PinA:        cfg.GPIO.PinA,
		PinB:        cfg.GPIO.PinB,
		Broker:      cfg.MQTT.Broker,
		HTTPAddr:    cfg.HTTP.Addr,
	})
	tracker.Update(encoderState(enc))
	tracker.SetMQTTConnected(publisher.IsConnected())

	// Publish startup event with full status snapshot
	snap := tracker.Snapshot()
	startupEvent := mqtt.SystemEvent{
		Timestamp:  snap.Now,
		Event:      "STARTUP",
		Retained:   true,
		RawPayload: status.FormatStatusEvent(snap, "STARTUP", ""),
	}
	if err := publisher.PublishSystem(startupEvent); err != nil {
		logger.Warn("failed to publish startup event", "error", err)
	} else {
		logger.Info("published startup event")
	}

	ctrl := newLoopController(controlTimeout)

	// Start HTTP status server
	var live stepSink
	if cfg.HTTP.Addr != "" {
		srv := web.New(cfg.HTTP.Addr, tracker, ctrl, logger)
		live = srv

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go srv.Hub().Run(ctx)

		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("http server error", "error", err)
			}
		}()
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			srv.Shutdown(ctx)
		}()
		logger.Info("http status server listening", "addr", cfg.HTTP.Addr)
	}

	enc.SetHandler(newStepHandler(publisher, tracker, live, time.Now, logger))

	logger.Info("started",
		"mode", enc.Mode().String(),
		"pin_a", cfg.GPIO.PinA,
		"pin_b", cfg.GPIO.PinB,
		"poll", cfg.Encoder.Poll,
		"debounce", cfg.Encoder.Debounce,
		"reversed", cfg.Encoder.Reversed,
		"broker", cfg.MQTT.Broker,
		"heartbeat", cfg.MQTT.Heartbeat)

	ticker := time.NewTicker(cfg.Encoder.Poll)
	defer ticker.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	return runLoop(gpioReader, enc, publisher, publisher, tracker, ctrl.cmds, cfg.MQTT.Heartbeat, time.Now, ticker.C, sigCh, logger)
}
