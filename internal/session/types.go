package session

import (
	"context"
	"time"

	"github.com/derong97/gcp-iot-tutorial/internal/credential"
)

// EventKind identifies a transport event.
type EventKind int

// Transport event kinds.
const (
	EventOpen EventKind = iota + 1
	EventClose
	EventError
	EventMessage
)

func (k EventKind) String() string {
	switch k {
	case EventOpen:
		return "open"
	case EventClose:
		return "close"
	case EventError:
		return "error"
	case EventMessage:
		return "message"
	default:
		return "unknown"
	}
}

// Event is something a transport reported. Generation identifies the
// connection that produced it; the session stamps it, not the transport.
type Event struct {
	Kind       EventKind
	Generation uint64
	Topic      string
	Payload    []byte
	Err        error
}

// ConnectionParams are the settings one transport is dialled with.
// They are rebuilt from scratch on every rotation.
type ConnectionParams struct {
	Host            string
	Port            int
	ClientID        string
	Username        string
	Password        string
	TLS             bool
	ProtocolVersion uint
	CleanSession    bool
}

// Transport is one live connection to the bridge.
type Transport interface {
	// Publish hands payload to the connection. The returned channel yields
	// one value once the send is acknowledged or has failed.
	Publish(topic string, qos byte, payload []byte) <-chan error
	Subscribe(topic string, qos byte) error
	IsConnected() bool
	Close()
}

// Dialer opens transports. emit must receive every lifecycle event and
// inbound message of the new transport.
type Dialer interface {
	Dial(ctx context.Context, params ConnectionParams, emit func(Event)) (Transport, error)
}

// Minter produces signed device tokens.
type Minter interface {
	Mint(now time.Time) (credential.Credential, error)
}

// Logger is the logging surface the session needs.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Metrics receives session observations. Implementations must be cheap;
// they are called from the event loop.
type Metrics interface {
	PublishResult(result string)
	Rotation(ok bool)
	Backoff(backingOff bool, backoff time.Duration)
	QueueDepth(n int)
}

// Publish results reported to Metrics.
const (
	ResultAcked    = "acked"
	ResultFailed   = "failed"
	ResultRejected = "rejected"
	ResultDropped  = "dropped"
)

type noopMetrics struct{}

func (noopMetrics) PublishResult(string)        {}
func (noopMetrics) Rotation(bool)               {}
func (noopMetrics) Backoff(bool, time.Duration) {}
func (noopMetrics) QueueDepth(int)              {}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}
