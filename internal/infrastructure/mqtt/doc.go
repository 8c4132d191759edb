// Package mqtt provides the device's connection to the managed MQTT bridge.
//
// This package manages:
//   - A single TLS connection per token (Dial), never reopened
//   - Publishing with an asynchronous acknowledgment channel
//   - Topic subscriptions delivered to one message callback
//   - Lifecycle callbacks (open, error, close) for the session supervisor
//
// # Architecture
//
// Reconnection and token rotation are not handled here. The session
// supervisor owns at most one Conn, and replaces it with a freshly dialled
// one when the token ages out or the connection is lost.
//
//	terminal device -> session supervisor -> mqtt.Conn -> bridge
//
// # Security Considerations
//
//   - TLS 1.2 is the minimum (Options.TLS=true in production)
//   - The password is the signed device token; it is never logged
//
// # Usage
//
//	opts := mqtt.NewOptions(cfg.Bridge)
//	opts.ClientID = cfg.Device.ClientID()
//	opts.Username = "unused"
//	opts.Password = cred.Token
//
//	conn, err := mqtt.Dial(opts, mqtt.Handlers{OnMessage: route}, logger)
//	if err != nil {
//	    return err
//	}
//	defer conn.Close()
//
//	err = conn.Subscribe(mqtt.Topics{}.DeviceConfig("terminal-01"), mqtt.QoSAtLeastOnce)
//	ack := conn.Publish(mqtt.Topics{}.DeviceTelemetry("terminal-01", "events"), mqtt.QoSAtLeastOnce, payload)
//	if err := <-ack; err != nil {
//	    log.Printf("publish failed: %v", err)
//	}
package mqtt
