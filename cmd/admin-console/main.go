// Admin console: a small web UI that relays operator commands to the device
// through the device manager API and keeps an audit log of every attempt.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/derong97/gcp-iot-tutorial/internal/admin"
	"github.com/derong97/gcp-iot-tutorial/internal/audit"
	"github.com/derong97/gcp-iot-tutorial/internal/identity"
	"github.com/derong97/gcp-iot-tutorial/internal/infrastructure/config"
	"github.com/derong97/gcp-iot-tutorial/internal/infrastructure/database"
	"github.com/derong97/gcp-iot-tutorial/internal/infrastructure/logging"
	"github.com/derong97/gcp-iot-tutorial/internal/infrastructure/metrics"
	"github.com/derong97/gcp-iot-tutorial/internal/relay"
	"github.com/derong97/gcp-iot-tutorial/migrations"
)

// Version information - set at build time via ldflags
var (
	version = "dev"
	commit  = "unknown"
)

const serviceName = "admin-console"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run wires the console and blocks until ctx is cancelled.
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context) error {
	log := logging.Default(serviceName)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.ValidateAdmin(); err != nil {
		return fmt.Errorf("validating admin config: %w", err)
	}

	log = logging.New(cfg.Logging, serviceName, version)
	log.Info("starting admin console", "version", version, "commit", commit, "config", configPath)

	db, err := database.Open(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()

	if err := db.Migrate(ctx, migrations.FS); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	log.Info("database ready", "path", db.Path())

	m := metrics.New(metrics.DefaultNamespace)
	auditRepo := audit.NewSQLiteRepository(db.DB)

	r, err := relay.New(cfg.Relay, relay.DevicePath(cfg.Device), relay.Deps{
		Audit:   auditRepo,
		Logger:  log,
		Metrics: m,
	})
	if err != nil {
		return fmt.Errorf("creating relay: %w", err)
	}

	var verifier admin.Verifier
	if cfg.IAP.Enabled {
		verifier = identity.NewVerifier(cfg.IAP)
		log.Info("identity assertions verified", "audience", cfg.IAP.Audience)
	} else {
		log.Warn("identity assertion verification disabled")
	}

	srv, err := admin.New(admin.Deps{
		Config:         cfg.Admin,
		Logger:         log,
		Relay:          r,
		Audit:          auditRepo,
		Verifier:       verifier,
		Database:       db,
		Metrics:        m,
		MetricsHandler: m.Handler(),
		Version:        version,
	})
	if err != nil {
		return fmt.Errorf("creating admin server: %w", err)
	}
	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("starting admin server: %w", err)
	}
	defer func() {
		if closeErr := srv.Close(); closeErr != nil {
			log.Error("error closing admin server", "error", closeErr)
		}
	}()

	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")
	return nil
}

// getConfigPath returns IOT_CONFIG if set, otherwise the default path.
func getConfigPath() string {
	if path := os.Getenv("IOT_CONFIG"); path != "" {
		return path
	}
	return config.DefaultPath
}
