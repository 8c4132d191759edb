package ingest

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/derong97/gcp-iot-tutorial/internal/infrastructure/influxdb"
)

// Results reported to Metrics.RecordIngested.
const (
	ResultWritten = "written"
	ResultInvalid = "invalid"
	ResultFailed  = "failed"
)

// maxPushBody bounds a push request; Pub/Sub messages are at most 10 MB but
// telemetry lines are tiny.
const maxPushBody = 1 << 20

// Writer stores parsed telemetry.
type Writer interface {
	WriteVitals(v influxdb.Vitals) error
}

// Logger is the logging surface the push handler needs.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Metrics counts ingested records by result.
type Metrics interface {
	RecordIngested(result string)
}

// pushEnvelope is the body of a Pub/Sub push request.
type pushEnvelope struct {
	Message struct {
		Data        string            `json:"data"`
		Attributes  map[string]string `json:"attributes"`
		MessageID   string            `json:"messageId"`
		PublishTime string            `json:"publishTime"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

// PushHandler handles Pub/Sub push deliveries.
//
// Status codes follow push acknowledgment rules: 204 acknowledges, anything
// else makes Pub/Sub redeliver. Unparsable records are acknowledged so they
// are not redelivered forever.
type PushHandler struct {
	writer  Writer
	logger  Logger
	metrics Metrics
}

// NewPushHandler creates a handler. metrics may be nil.
func NewPushHandler(writer Writer, logger Logger, metrics Metrics) *PushHandler {
	return &PushHandler{writer: writer, logger: logger, metrics: metrics}
}

func (h *PushHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	env, err := decodeEnvelope(http.MaxBytesReader(w, r.Body, maxPushBody))
	if err != nil {
		h.logger.Warn("rejecting push request", "error", err)
		h.observe(ResultInvalid)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	data, err := base64.StdEncoding.DecodeString(env.Message.Data)
	if err != nil {
		h.logger.Warn("rejecting push request", "message_id", env.Message.MessageID, "error", err)
		h.observe(ResultInvalid)
		http.Error(w, fmt.Sprintf("%v: message.data is not base64", ErrMalformedEnvelope), http.StatusBadRequest)
		return
	}

	rec, err := ParseRecord(string(data))
	if err != nil {
		h.logger.Warn("dropping telemetry record",
			"message_id", env.Message.MessageID,
			"data", string(data),
			"error", err,
		)
		h.observe(ResultInvalid)
		w.WriteHeader(http.StatusNoContent)
		return
	}

	vitals := influxdb.Vitals{
		DeviceID:    env.Message.Attributes["deviceId"],
		Name:        rec.Name,
		Temperature: rec.Temperature,
		HeartRate:   float64(rec.HeartRate),
		Time:        publishTime(env.Message.PublishTime),
	}
	if err := h.writer.WriteVitals(vitals); err != nil {
		h.logger.Error("writing telemetry", "message_id", env.Message.MessageID, "error", err)
		h.observe(ResultFailed)
		http.Error(w, "telemetry store unavailable", http.StatusServiceUnavailable)
		return
	}

	h.logger.Debug("telemetry stored", "message_id", env.Message.MessageID, "name", rec.Name, "device_id", vitals.DeviceID)
	h.observe(ResultWritten)
	w.WriteHeader(http.StatusNoContent)
}

func (h *PushHandler) observe(result string) {
	if h.metrics != nil {
		h.metrics.RecordIngested(result)
	}
}

func decodeEnvelope(body io.Reader) (*pushEnvelope, error) {
	var env pushEnvelope
	if err := json.NewDecoder(body).Decode(&env); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedEnvelope, err)
	}
	if env.Message.Data == "" {
		return nil, fmt.Errorf("%w: missing message.data", ErrMalformedEnvelope)
	}
	return &env, nil
}

// publishTime parses the envelope timestamp; a zero time means "now" to the writer.
func publishTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
