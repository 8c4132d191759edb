// Terminal device: reads telemetry lines from the terminal and publishes
// each one to the cloud MQTT bridge, keeping the device session
// authenticated and backing off when the connection drops.
//
// Configuration comes from configs/config.yaml (or IOT_CONFIG) and the
// device environment variables projectId, deviceId, registryId, region,
// algorithm, privateKeyFile, mqttBridgeHostname, mqttBridgePort,
// messageType and tokenExpMins.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/derong97/gcp-iot-tutorial/internal/credential"
	"github.com/derong97/gcp-iot-tutorial/internal/infrastructure/config"
	"github.com/derong97/gcp-iot-tutorial/internal/infrastructure/logging"
	"github.com/derong97/gcp-iot-tutorial/internal/infrastructure/metrics"
	"github.com/derong97/gcp-iot-tutorial/internal/infrastructure/mqtt"
	"github.com/derong97/gcp-iot-tutorial/internal/session"
)

// Version information - set at build time via ldflags
var (
	version = "dev"
	commit  = "unknown"
)

const (
	serviceName = "terminal-device"

	// bridgeUsername is ignored by the bridge but must be non-empty.
	bridgeUsername = "unused"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Stdin, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run loads the configuration, starts the session and feeds it input lines
// until the input ends interactively, ctx is cancelled or the session gives up.
func run(ctx context.Context, stdin *os.File, stdout io.Writer) error {
	log := logging.Default(serviceName)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.ValidateDevice(); err != nil {
		return fmt.Errorf("validating device config: %w", err)
	}

	input, err := newLineReader(stdin, stdout)
	if err != nil {
		return fmt.Errorf("opening input: %w", err)
	}
	defer input.Close()

	// Log through the input so a readline prompt is redrawn, not clobbered.
	log = logging.NewWithWriter(cfg.Logging, serviceName, version, input.Stdout())
	log.Info("starting terminal device", "version", version, "commit", commit, "config", configPath)

	var sessionMetrics session.Metrics
	if cfg.Metrics.Enabled {
		m := metrics.New(metrics.DefaultNamespace)
		sessionMetrics = m
		stop := serveMetrics(cfg.Metrics.Listen, m.Handler(), log)
		defer stop()
	}

	router := session.NewRouter(cfg.Device.DeviceID, log)
	router.HandleConfig(func(_ string, payload []byte) {
		log.Info("config message received", "payload", string(payload))
	})
	router.HandleCommand(func(topic string, payload []byte) {
		log.Info("command message received", "topic", topic, "payload", string(payload))
	})

	sess, err := session.New(session.Options{
		Config: sessionConfig(cfg),
		Minter: credential.Minter{
			Audience:  cfg.Device.ProjectID,
			KeyFile:   cfg.Device.PrivateKeyFile,
			Algorithm: cfg.Device.Algorithm,
		},
		Dialer:  bridgeDialer{bridge: cfg.Bridge, logger: log},
		Router:  router,
		Logger:  log,
		Metrics: sessionMetrics,
	})
	if err != nil {
		return fmt.Errorf("creating session: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	runErr := make(chan error, 1)
	go func() { runErr <- sess.Run(ctx) }()

	topic := mqtt.Topics{}.DeviceTelemetry(cfg.Device.DeviceID, cfg.Device.MessageType)
	go func() {
		if readLines(ctx, input, sess, topic, log) {
			cancel()
		}
	}()

	fmt.Fprintln(input.Stdout(), "To simulate data collection, enter the data directly into the terminal :)")

	err = <-runErr
	switch {
	case errors.Is(err, session.ErrBackoffExhausted):
		fmt.Fprintln(input.Stdout(), "Backoff time is too high. Giving up.")
		fmt.Fprintln(input.Stdout(), "Closing connection to MQTT. Goodbye!")
		return nil
	case err != nil:
		return fmt.Errorf("running session: %w", err)
	}

	log.Info("terminal device stopped")
	return nil
}

// readLines publishes every non-empty input line. It reports whether the
// caller should shut down: true when an interactive user ended input.
func readLines(ctx context.Context, input lineReader, sess *session.Session, topic string, log *logging.Logger) bool {
	for {
		line, err := input.ReadLine()
		if errors.Is(err, errLineTooLong) {
			log.Warn("input line too long, skipped", "max_bytes", mqtt.MaxPayloadSize)
			continue
		}
		if err != nil {
			if input.Interactive() {
				return true
			}
			log.Info("input closed, session stays up until interrupted")
			return false
		}
		if line == "" {
			continue
		}

		log.Info("publishing message", "topic", topic, "payload", line)
		err = sess.Publish(ctx, topic, []byte(line))
		switch {
		case err == nil:
		case errors.Is(err, session.ErrQueueFull):
			log.Warn("publish queue full, message dropped", "payload", line)
		default:
			// Closed or abandoned: Run reports why.
			return false
		}
	}
}

// sessionConfig maps the loaded configuration onto session tunables.
func sessionConfig(cfg *config.Config) session.Config {
	return session.Config{
		DeviceID: cfg.Device.DeviceID,
		Params: session.ConnectionParams{
			Host:     cfg.Bridge.Host,
			Port:     cfg.Bridge.Port,
			TLS:      cfg.Bridge.TLS,
			ClientID: cfg.Device.ClientID(),
			Username: bridgeUsername,
		},
		TokenValidity:   cfg.Session.TokenValidity(),
		MinBackoff:      cfg.Session.MinBackoffDuration(),
		MaxBackoff:      cfg.Session.MaxBackoffDuration(),
		QueueSize:       cfg.Session.QueueSize,
		RefreshInterval: cfg.Session.RefreshCheckInterval(),
	}
}

// serveMetrics exposes handler on listen and returns a stop function.
func serveMetrics(listen string, handler http.Handler, log *logging.Logger) func() {
	r := chi.NewRouter()
	r.Handle("/metrics", handler)

	srv := &http.Server{
		Addr:              listen,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Info("metrics listening", "address", listen)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server error", "error", err)
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			log.Warn("metrics server shutdown", "error", err)
		}
	}
}

// getConfigPath returns IOT_CONFIG if set, otherwise the default path.
func getConfigPath() string {
	if path := os.Getenv("IOT_CONFIG"); path != "" {
		return path
	}
	return config.DefaultPath
}
