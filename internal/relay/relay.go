package relay

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/derong97/gcp-iot-tutorial/internal/audit"
	"github.com/derong97/gcp-iot-tutorial/internal/infrastructure/config"
)

const (
	defaultTimeout = 10 * time.Second

	// maxErrorBody caps how much of a rejection body is kept for the audit log.
	maxErrorBody = 512
)

// Logger is the logging surface the relay needs.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Metrics receives one observation per relay attempt.
type Metrics interface {
	CommandRelayed(ok bool, elapsed time.Duration)
}

// Deps holds the relay collaborators. Audit and Metrics are optional.
type Deps struct {
	Audit      audit.Repository
	Logger     Logger
	Metrics    Metrics
	HTTPClient *http.Client
	Now        func() time.Time
}

// Relay sends commands to a single device.
//
// Thread Safety: Send is safe for concurrent use.
type Relay struct {
	endpoint    string
	devicePath  string
	accessToken string
	httpClient  *http.Client
	audit       audit.Repository
	logger      Logger
	metrics     Metrics
	now         func() time.Time
}

type sendCommandRequest struct {
	BinaryData string `json:"binaryData"`
	Subfolder  string `json:"subfolder,omitempty"`
}

// DevicePath returns the fully qualified device resource name.
func DevicePath(d config.DeviceConfig) string {
	return fmt.Sprintf("projects/%s/locations/%s/registries/%s/devices/%s",
		d.ProjectID, d.Region, d.RegistryID, d.DeviceID)
}

// New creates a relay for devicePath using the relay section of config.yaml.
func New(cfg config.RelayConfig, devicePath string, deps Deps) (*Relay, error) {
	endpoint := strings.TrimRight(cfg.Endpoint, "/")
	if u, err := url.Parse(endpoint); err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("%w: endpoint %q", ErrInvalidConfig, cfg.Endpoint)
	}
	if devicePath == "" {
		return nil, fmt.Errorf("%w: empty device path", ErrInvalidConfig)
	}
	if deps.Logger == nil {
		return nil, fmt.Errorf("%w: logger is required", ErrInvalidConfig)
	}

	httpClient := deps.HTTPClient
	if httpClient == nil {
		timeout := time.Duration(cfg.Timeout) * time.Second
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}

	return &Relay{
		endpoint:    endpoint,
		devicePath:  devicePath,
		accessToken: cfg.AccessToken,
		httpClient:  httpClient,
		audit:       deps.Audit,
		logger:      deps.Logger,
		metrics:     deps.Metrics,
		now:         now,
	}, nil
}

// DevicePath returns the device this relay targets.
func (r *Relay) DevicePath() string {
	return r.devicePath
}

// Send delivers payload to the device's commands topic.
//
// Parameters:
//   - ctx: Bounds the HTTP call
//   - payload: Raw command bytes; sent base64-encoded
//   - actor: Verified operator email, or "" when unknown
//
// Returns:
//   - error: ErrUnavailable or ErrRejected wrapping the cause, nil on success
func (r *Relay) Send(ctx context.Context, payload []byte, actor string) error {
	return r.SendToSubfolder(ctx, payload, "", actor)
}

// SendToSubfolder is Send with a commands subfolder, delivered on
// /devices/{id}/commands/{subfolder}.
func (r *Relay) SendToSubfolder(ctx context.Context, payload []byte, subfolder, actor string) error {
	start := r.now()
	err := r.post(ctx, payload, subfolder)
	elapsed := r.now().Sub(start)

	if r.metrics != nil {
		r.metrics.CommandRelayed(err == nil, elapsed)
	}
	r.record(ctx, payload, actor, start, err)

	if err != nil {
		r.logger.Warn("command not sent", "device", r.devicePath, "error", err)
		return err
	}
	r.logger.Info("command sent", "device", r.devicePath, "bytes", len(payload))
	return nil
}

func (r *Relay) post(ctx context.Context, payload []byte, subfolder string) error {
	body, err := json.Marshal(sendCommandRequest{
		BinaryData: base64.StdEncoding.EncodeToString(payload),
		Subfolder:  subfolder,
	})
	if err != nil {
		return fmt.Errorf("%w: encoding request: %w", ErrUnavailable, err)
	}

	target := r.endpoint + "/v1/" + r.devicePath + ":sendCommandToDevice"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: building request: %w", ErrUnavailable, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if r.accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+r.accessToken)
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return fmt.Errorf("%w: status %d: %s", ErrRejected, resp.StatusCode, strings.TrimSpace(string(detail)))
	}
	// Drain body to allow connection reuse
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func (r *Relay) record(ctx context.Context, payload []byte, actor string, at time.Time, sendErr error) {
	if r.audit == nil {
		return
	}

	rec := &audit.CommandRecord{
		DevicePath: r.devicePath,
		Payload:    payload,
		Success:    sendErr == nil,
		Actor:      actor,
		CreatedAt:  at.UTC(),
	}
	if sendErr != nil {
		rec.Error = sendErr.Error()
	}

	// The request context may already be done; the audit row still matters.
	auditCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	if err := r.audit.Create(auditCtx, rec); err != nil {
		r.logger.Error("recording command audit", "device", r.devicePath, "error", err)
	}
}
