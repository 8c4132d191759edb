package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// MeasurementVitals is the measurement telemetry records are stored under.
const MeasurementVitals = "vitals"

// Vitals is one telemetry record as stored in InfluxDB.
type Vitals struct {
	DeviceID    string
	Name        string
	Temperature float64
	HeartRate   float64
	Time        time.Time
}

// VitalsPoint builds the point for v: tags name and device_id, fields
// temperature and heart_rate. A zero Time becomes now.
func VitalsPoint(v Vitals) *write.Point {
	ts := v.Time
	if ts.IsZero() {
		ts = time.Now()
	}

	tags := map[string]string{"name": v.Name}
	if v.DeviceID != "" {
		tags["device_id"] = v.DeviceID
	}

	return write.NewPoint(
		MeasurementVitals,
		tags,
		map[string]any{
			"temperature": v.Temperature,
			"heart_rate":  v.HeartRate,
		},
		ts,
	)
}

// WriteVitals queues one telemetry record. Returns ErrNotConnected after Close.
func (c *Client) WriteVitals(v Vitals) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}
	c.writeAPI.WritePoint(VitalsPoint(v))
	return nil
}
