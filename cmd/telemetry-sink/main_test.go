package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestRun_InvalidConfig(t *testing.T) {
	t.Setenv("IOT_CONFIG", "/nonexistent/path/config.yaml")

	if err := run(context.Background()); err == nil {
		t.Fatal("run() should fail with invalid config path")
	}
}

func TestRun_InfluxDisabled(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("influxdb:\n  enabled: false\n"), 0o600); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	t.Setenv("IOT_CONFIG", path)

	err := run(context.Background())
	if err == nil || !strings.Contains(err.Error(), "influxdb.enabled") {
		t.Fatalf("run() error = %v, want influxdb.enabled complaint", err)
	}
}
