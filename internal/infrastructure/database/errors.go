package database

import "errors"

var (
	// ErrOpen is returned when the database cannot be opened.
	ErrOpen = errors.New("database: open failed")

	// ErrUnhealthy is returned by HealthCheck.
	ErrUnhealthy = errors.New("database: health check failed")

	// ErrMigration is returned when a migration cannot be loaded or applied.
	ErrMigration = errors.New("database: migration failed")
)
