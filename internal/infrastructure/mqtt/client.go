package mqtt

import (
	"fmt"
	"sync"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

// MaxPayloadSize is the largest telemetry payload the bridge accepts (256KB).
const MaxPayloadSize = 256 * 1024

// Logger interface for optional logging support.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
	Debug(msg string, args ...any)
}

// Handlers receive the connection lifecycle and inbound messages.
//
// Every callback is invoked from a paho goroutine, never from the caller of
// Dial, Publish or Close. Nil callbacks are skipped.
type Handlers struct {
	// OnOpen fires once the broker has accepted the CONNECT.
	OnOpen func()

	// OnError fires when the connection fails; OnClose follows it.
	OnError func(err error)

	// OnClose fires when the connection is lost. A Close by the owner does
	// not fire it.
	OnClose func(err error)

	// OnMessage receives every message on every subscription of this connection.
	OnMessage func(topic string, payload []byte)
}

// Conn is a single MQTT connection to the bridge.
//
// A Conn moves through CONNECTING -> OPEN -> CLOSED and is never reopened.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type Conn struct {
	client   pahomqtt.Client
	handlers Handlers
	logger   Logger

	closeOnce sync.Once
}

// Dial opens a connection to the bridge and waits for the CONNACK.
//
// Parameters:
//   - opts: Broker address, identity and credentials for this connection
//   - handlers: Lifecycle and message callbacks
//   - logger: Optional, used for handler panics
//
// Returns:
//   - *Conn: Open connection
//   - error: ErrConnectionFailed on timeout or refusal
func Dial(opts Options, handlers Handlers, logger Logger) (*Conn, error) {
	c := &Conn{
		handlers: handlers,
		logger:   logger,
	}

	clientOpts := buildClientOptions(opts)

	clientOpts.SetOnConnectHandler(func(_ pahomqtt.Client) {
		if c.handlers.OnOpen != nil {
			c.handlers.OnOpen()
		}
	})

	clientOpts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		if c.handlers.OnError != nil {
			c.handlers.OnError(err)
		}
		if c.handlers.OnClose != nil {
			c.handlers.OnClose(err)
		}
	})

	c.client = pahomqtt.NewClient(clientOpts)

	timeout := opts.connectTimeout()
	token := c.client.Connect()
	if !token.WaitTimeout(timeout) {
		c.client.Disconnect(0)
		return nil, fmt.Errorf("%w: timeout after %v", ErrConnectionFailed, timeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	return c, nil
}

// Publish sends payload to topic and returns a channel that yields exactly
// one value: nil once the broker acknowledged the message (QoS >= 1) or the
// message was written (QoS 0), otherwise the failure.
//
// The channel is never closed without a value and no timeout is applied.
func (c *Conn) Publish(topic string, qos byte, payload []byte) <-chan error {
	result := make(chan error, 1)

	if err := validatePublish(topic, qos, payload); err != nil {
		result <- err
		return result
	}
	if !c.IsConnected() {
		result <- ErrNotConnected
		return result
	}

	token := c.client.Publish(topic, qos, false, payload)
	go func() {
		<-token.Done()
		if err := token.Error(); err != nil {
			result <- fmt.Errorf("%w: %w", ErrPublishFailed, err)
			return
		}
		result <- nil
	}()

	return result
}

// Subscribe registers the connection's message handler for topic and waits
// for the SUBACK.
func (c *Conn) Subscribe(topic string, qos byte) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	token := c.client.Subscribe(topic, qos, c.wrapHandler())
	if !token.WaitTimeout(defaultSubscribeTimeout) {
		return fmt.Errorf("%w: timeout after %v", ErrSubscribeFailed, defaultSubscribeTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrSubscribeFailed, err)
	}

	return nil
}

// IsConnected reports whether the connection is open.
func (c *Conn) IsConnected() bool {
	return c.client != nil && c.client.IsConnected()
}

// Close disconnects gracefully. Calling Close more than once is a no-op.
func (c *Conn) Close() {
	c.closeOnce.Do(func() {
		if c.client != nil {
			c.client.Disconnect(defaultDisconnectQuiesce)
		}
	})
}

// wrapHandler adapts Handlers.OnMessage to paho with panic recovery.
func (c *Conn) wrapHandler() pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		defer func() {
			if r := recover(); r != nil && c.logger != nil {
				c.logger.Error("MQTT handler panic recovered",
					"topic", msg.Topic(),
					"panic", r,
				)
			}
		}()

		if c.handlers.OnMessage == nil {
			if c.logger != nil {
				c.logger.Debug("MQTT message dropped, no handler", "topic", msg.Topic())
			}
			return
		}
		c.handlers.OnMessage(msg.Topic(), msg.Payload())
	}
}

func validatePublish(topic string, qos byte, payload []byte) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	if len(payload) > MaxPayloadSize {
		return fmt.Errorf("%w: payload size %d exceeds maximum %d bytes", ErrPublishFailed, len(payload), MaxPayloadSize)
	}
	return nil
}
