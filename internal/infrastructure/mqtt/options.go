package mqtt

import (
	"crypto/tls"
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/derong97/gcp-iot-tutorial/internal/infrastructure/config"
)

// Connection constants.
const (
	// defaultConnectTimeout is used when Options.ConnectTimeout is zero.
	defaultConnectTimeout = 10 * time.Second

	// defaultSubscribeTimeout is the maximum time to wait for a SUBACK.
	defaultSubscribeTimeout = 5 * time.Second

	// defaultDisconnectQuiesce is the time to wait for pending operations on disconnect.
	defaultDisconnectQuiesce = 250 // milliseconds

	// defaultKeepAlive is used when Options.KeepAlive is zero.
	defaultKeepAlive = 60 * time.Second

	// maxQoS is the maximum QoS level supported.
	maxQoS = 2

	// tlsMinVersion is the minimum TLS version for secure connections.
	tlsMinVersion = tls.VersionTLS12

	// ProtocolMQTT311 is the protocol version number of MQTT 3.1.1.
	ProtocolMQTT311 = 4
)

// QoS levels used by the device.
const (
	QoSAtMostOnce  byte = 0
	QoSAtLeastOnce byte = 1
)

// Options describes one bridge connection. Every Dial gets its own Options;
// a new password means a new connection.
type Options struct {
	Host            string
	Port            int
	TLS             bool
	ClientID        string
	Username        string
	Password        string
	ProtocolVersion uint
	CleanSession    bool
	KeepAlive       time.Duration
	ConnectTimeout  time.Duration
}

// NewOptions fills the transport-level settings from the bridge config.
// Identity and credentials are left to the caller.
func NewOptions(cfg config.BridgeConfig) Options {
	return Options{
		Host:            cfg.Host,
		Port:            cfg.Port,
		TLS:             cfg.TLS,
		ProtocolVersion: ProtocolMQTT311,
		CleanSession:    true,
		KeepAlive:       time.Duration(cfg.KeepAlive) * time.Second,
		ConnectTimeout:  time.Duration(cfg.ConnectTimeout) * time.Second,
	}
}

// BrokerURL returns the paho broker URL (tcp:// or ssl://).
func (o Options) BrokerURL() string {
	scheme := "tcp"
	if o.TLS {
		scheme = "ssl"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, o.Host, o.Port)
}

func (o Options) connectTimeout() time.Duration {
	if o.ConnectTimeout <= 0 {
		return defaultConnectTimeout
	}
	return o.ConnectTimeout
}

// buildClientOptions creates paho MQTT options for a single connection.
//
// This configures:
//   - Broker URL (tcp:// or ssl:// based on TLS setting)
//   - Client ID, username and token password
//   - Protocol version and clean session flag
//   - TLS 1.2 minimum (if enabled)
//
// Auto-reconnect is disabled: a lost connection is never revived with the
// password it was opened with. The session supervisor dials a new one.
func buildClientOptions(o Options) *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions()

	opts.AddBroker(o.BrokerURL())
	opts.SetClientID(o.ClientID)

	if o.Username != "" {
		opts.SetUsername(o.Username)
		opts.SetPassword(o.Password)
	}

	if o.ProtocolVersion != 0 {
		opts.SetProtocolVersion(o.ProtocolVersion)
	}
	opts.SetCleanSession(o.CleanSession)

	opts.SetAutoReconnect(false)
	opts.SetConnectRetry(false)

	// Handlers may block on the session loop; do not stall the paho router.
	opts.SetOrderMatters(false)

	opts.SetConnectTimeout(o.connectTimeout())

	keepAlive := o.KeepAlive
	if keepAlive <= 0 {
		keepAlive = defaultKeepAlive
	}
	opts.SetKeepAlive(keepAlive)

	if o.TLS {
		opts.SetTLSConfig(&tls.Config{
			MinVersion: tlsMinVersion,
			ServerName: o.Host,
		})
	}

	return opts
}
