package session

import (
	"encoding/base64"
	"strings"

	"github.com/derong97/gcp-iot-tutorial/internal/infrastructure/mqtt"
)

// Purpose says what an inbound subscription carries.
type Purpose int

// Subscription purposes.
const (
	PurposeConfig Purpose = iota + 1
	PurposeCommand
)

func (p Purpose) String() string {
	switch p {
	case PurposeConfig:
		return "config"
	case PurposeCommand:
		return "command"
	default:
		return "unknown"
	}
}

// Subscription is one entry of the fixed set established on every connect.
type Subscription struct {
	Pattern string
	QoS     byte
	Purpose Purpose
}

// Subscriptions returns the fixed subscription set for a device: config at
// QoS 1 and every command subfolder at QoS 0.
func Subscriptions(deviceID string) []Subscription {
	topics := mqtt.Topics{}
	return []Subscription{
		{Pattern: topics.DeviceConfig(deviceID), QoS: mqtt.QoSAtLeastOnce, Purpose: PurposeConfig},
		{Pattern: topics.AllDeviceCommands(deviceID), QoS: mqtt.QoSAtMostOnce, Purpose: PurposeCommand},
	}
}

// Handler receives a routed message.
type Handler func(topic string, payload []byte)

// Router dispatches inbound bridge messages by topic.
type Router struct {
	configTopic   string
	commandsTopic string

	onConfig  Handler
	onCommand Handler

	logger Logger
}

// NewRouter creates a router for deviceID. Messages are logged until
// handlers are registered.
func NewRouter(deviceID string, logger Logger) *Router {
	if logger == nil {
		logger = noopLogger{}
	}
	topics := mqtt.Topics{}
	return &Router{
		configTopic:   topics.DeviceConfig(deviceID),
		commandsTopic: topics.DeviceCommands(deviceID),
		logger:        logger,
	}
}

// HandleConfig registers the config handler. Call before Run.
func (r *Router) HandleConfig(h Handler) {
	r.onConfig = h
}

// HandleCommand registers the command handler. Call before Run.
func (r *Router) HandleCommand(h Handler) {
	r.onCommand = h
}

// Route delivers raw to the handler whose subscription matches topic and
// reports whether one did. Payloads that are valid base64 are decoded first;
// anything else is passed through unchanged.
func (r *Router) Route(topic string, raw []byte) bool {
	var (
		purpose Purpose
		handler Handler
	)

	switch {
	case topic == r.configTopic:
		purpose, handler = PurposeConfig, r.onConfig
	case topic == r.commandsTopic, strings.HasPrefix(topic, r.commandsTopic+"/"):
		purpose, handler = PurposeCommand, r.onCommand
	default:
		r.logger.Warn("message on unexpected topic dropped", "topic", topic)
		return false
	}

	payload := decodePayload(raw)

	if handler == nil {
		r.logger.Info("message received", "purpose", purpose.String(), "topic", topic, "payload", string(payload))
		return true
	}

	handler(topic, payload)
	return true
}

// decodePayload returns the base64 decoding of raw, or raw itself when it is
// not valid standard base64.
func decodePayload(raw []byte) []byte {
	if len(raw) == 0 {
		return raw
	}
	decoded := make([]byte, base64.StdEncoding.DecodedLen(len(raw)))
	n, err := base64.StdEncoding.Decode(decoded, raw)
	if err != nil {
		return raw
	}
	return decoded[:n]
}
