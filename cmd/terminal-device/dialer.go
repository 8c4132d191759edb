package main

import (
	"context"

	"github.com/derong97/gcp-iot-tutorial/internal/infrastructure/config"
	"github.com/derong97/gcp-iot-tutorial/internal/infrastructure/mqtt"
	"github.com/derong97/gcp-iot-tutorial/internal/session"
)

// bridgeDialer opens paho connections for the session.
// This avoids an import cycle between session and mqtt.
type bridgeDialer struct {
	bridge config.BridgeConfig
	logger mqtt.Logger

	// dial defaults to mqtt.Dial.
	dial func(mqtt.Options, mqtt.Handlers, mqtt.Logger) (session.Transport, error)
}

// Dial connects in the background so ctx can abandon a slow handshake. A
// connection that completes after ctx is done is closed.
func (d bridgeDialer) Dial(ctx context.Context, p session.ConnectionParams, emit func(session.Event)) (session.Transport, error) {
	dial := d.dial
	if dial == nil {
		dial = dialPaho
	}

	type result struct {
		conn session.Transport
		err  error
	}
	done := make(chan result, 1)
	go func() {
		conn, err := dial(mqttOptions(d.bridge, p), eventHandlers(emit), d.logger)
		done <- result{conn: conn, err: err}
	}()

	select {
	case res := <-done:
		return res.conn, res.err
	case <-ctx.Done():
		go func() {
			if res := <-done; res.err == nil {
				res.conn.Close()
			}
		}()
		return nil, ctx.Err()
	}
}

func dialPaho(opts mqtt.Options, handlers mqtt.Handlers, logger mqtt.Logger) (session.Transport, error) {
	conn, err := mqtt.Dial(opts, handlers, logger)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// mqttOptions overlays the session's connection parameters on the bridge
// transport settings.
func mqttOptions(bridge config.BridgeConfig, p session.ConnectionParams) mqtt.Options {
	opts := mqtt.NewOptions(bridge)
	opts.Host = p.Host
	opts.Port = p.Port
	opts.TLS = p.TLS
	opts.ClientID = p.ClientID
	opts.Username = p.Username
	opts.Password = p.Password
	opts.ProtocolVersion = p.ProtocolVersion
	opts.CleanSession = p.CleanSession
	return opts
}

// eventHandlers turns paho callbacks into session events.
func eventHandlers(emit func(session.Event)) mqtt.Handlers {
	return mqtt.Handlers{
		OnOpen: func() {
			emit(session.Event{Kind: session.EventOpen})
		},
		OnError: func(err error) {
			emit(session.Event{Kind: session.EventError, Err: err})
		},
		OnClose: func(err error) {
			emit(session.Event{Kind: session.EventClose, Err: err})
		},
		OnMessage: func(topic string, payload []byte) {
			emit(session.Event{Kind: session.EventMessage, Topic: topic, Payload: payload})
		},
	}
}
