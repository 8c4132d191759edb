// Telemetry sink: receives device telemetry from a Pub/Sub push
// subscription and stores each record in InfluxDB.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/derong97/gcp-iot-tutorial/internal/infrastructure/config"
	"github.com/derong97/gcp-iot-tutorial/internal/infrastructure/influxdb"
	"github.com/derong97/gcp-iot-tutorial/internal/infrastructure/logging"
	"github.com/derong97/gcp-iot-tutorial/internal/infrastructure/metrics"
	"github.com/derong97/gcp-iot-tutorial/internal/ingest"
)

// Version information - set at build time via ldflags
var (
	version = "dev"
	commit  = "unknown"
)

const (
	serviceName = "telemetry-sink"

	gracefulShutdownTimeout = 10 * time.Second
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run connects to InfluxDB, serves the push endpoint and blocks until ctx
// is cancelled.
func run(ctx context.Context) error {
	log := logging.Default(serviceName)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.ValidateSink(); err != nil {
		return fmt.Errorf("validating sink config: %w", err)
	}

	log = logging.New(cfg.Logging, serviceName, version)
	log.Info("starting telemetry sink", "version", version, "commit", commit, "config", configPath)

	influx, err := influxdb.Connect(ctx, cfg.InfluxDB)
	if err != nil {
		return fmt.Errorf("connecting to InfluxDB: %w", err)
	}
	defer func() {
		log.Info("closing InfluxDB connection")
		if closeErr := influx.Close(); closeErr != nil {
			log.Error("error closing InfluxDB", "error", closeErr)
		}
	}()
	influx.SetOnError(func(err error) {
		log.Error("InfluxDB write error", "error", err)
	})
	log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "org", cfg.InfluxDB.Org, "bucket", cfg.InfluxDB.Bucket)

	m := metrics.New(metrics.DefaultNamespace)
	push := ingest.NewPushHandler(influx, log, m)

	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Sink.Host, cfg.Sink.Port),
		Handler:           ingest.NewRouter(push, influx, m.Handler()),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("telemetry sink listening", "address", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received, cleaning up")
	case err := <-serveErr:
		return fmt.Errorf("serving: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down: %w", err)
	}
	return nil
}

// getConfigPath returns IOT_CONFIG if set, otherwise the default path.
func getConfigPath() string {
	if path := os.Getenv("IOT_CONFIG"); path != "" {
		return path
	}
	return config.DefaultPath
}
