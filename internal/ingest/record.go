package ingest

import (
	"fmt"
	"strconv"
	"strings"
)

// Record is one parsed telemetry line.
type Record struct {
	Name        string
	Temperature float64
	HeartRate   int
}

// ParseRecord parses "name, temperature, heart_rate". Surrounding spaces are
// ignored and fields after the third are dropped.
func ParseRecord(text string) (Record, error) {
	fields := strings.Split(text, ",")
	if len(fields) < 3 {
		return Record{}, fmt.Errorf("%w: want 3 comma separated fields, got %d", ErrMalformedRecord, len(fields))
	}

	name := strings.TrimSpace(fields[0])
	if name == "" {
		return Record{}, fmt.Errorf("%w: empty name", ErrMalformedRecord)
	}

	temp, err := strconv.ParseFloat(strings.TrimSpace(fields[1]), 64)
	if err != nil {
		return Record{}, fmt.Errorf("%w: temperature: %w", ErrMalformedRecord, err)
	}

	heartRate, err := strconv.Atoi(strings.TrimSpace(fields[2]))
	if err != nil {
		return Record{}, fmt.Errorf("%w: heart rate: %w", ErrMalformedRecord, err)
	}

	return Record{Name: name, Temperature: temp, HeartRate: heartRate}, nil
}
