package main

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/derong97/gcp-iot-tutorial/internal/credential"
	"github.com/derong97/gcp-iot-tutorial/internal/infrastructure/config"
	"github.com/derong97/gcp-iot-tutorial/internal/infrastructure/logging"
	"github.com/derong97/gcp-iot-tutorial/internal/infrastructure/mqtt"
	"github.com/derong97/gcp-iot-tutorial/internal/session"
)

func testConfig() *config.Config {
	return &config.Config{
		Device: config.DeviceConfig{
			ProjectID:  "gcp-iot-tut",
			Region:     "asia-east1",
			RegistryID: "reg",
			DeviceID:   "dev-1",
		},
		Bridge: config.BridgeConfig{
			Host:           "mqtt.googleapis.com",
			Port:           8883,
			TLS:            true,
			KeepAlive:      60,
			ConnectTimeout: 10,
		},
		Session: config.SessionConfig{
			TokenExpMins:        20,
			MinBackoff:          1,
			MaxBackoff:          32,
			QueueSize:           8,
			RefreshCheckSeconds: 30,
		},
	}
}

func TestRun_InvalidConfig(t *testing.T) {
	t.Setenv("IOT_CONFIG", "/nonexistent/path/config.yaml")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := run(ctx, nil, io.Discard); err == nil {
		t.Fatal("run() should fail with invalid config path")
	}
}

func TestSessionConfig(t *testing.T) {
	got := sessionConfig(testConfig())

	if got.DeviceID != "dev-1" {
		t.Errorf("DeviceID = %q", got.DeviceID)
	}
	wantParams := session.ConnectionParams{
		Host:     "mqtt.googleapis.com",
		Port:     8883,
		TLS:      true,
		ClientID: "projects/gcp-iot-tut/locations/asia-east1/registries/reg/devices/dev-1",
		Username: "unused",
	}
	if got.Params != wantParams {
		t.Errorf("Params = %+v, want %+v", got.Params, wantParams)
	}
	if got.TokenValidity != 20*time.Minute || got.MinBackoff != time.Second ||
		got.MaxBackoff != 32*time.Second || got.QueueSize != 8 || got.RefreshInterval != 30*time.Second {
		t.Errorf("tunables = %+v", got)
	}
}

func TestMQTTOptions(t *testing.T) {
	p := session.ConnectionParams{
		Host:            "localhost",
		Port:            1883,
		ClientID:        "projects/p/locations/r/registries/g/devices/d",
		Username:        "unused",
		Password:        "token-1",
		ProtocolVersion: mqtt.ProtocolMQTT311,
		CleanSession:    true,
	}
	got := mqttOptions(testConfig().Bridge, p)

	if got.Host != "localhost" || got.Port != 1883 || got.TLS {
		t.Errorf("endpoint = %s:%d tls=%v", got.Host, got.Port, got.TLS)
	}
	if got.ClientID != p.ClientID || got.Username != "unused" || got.Password != "token-1" {
		t.Errorf("identity = %+v", got)
	}
	if got.ProtocolVersion != 4 || !got.CleanSession {
		t.Errorf("protocol = %d clean=%v", got.ProtocolVersion, got.CleanSession)
	}
	if got.KeepAlive != 60*time.Second || got.ConnectTimeout != 10*time.Second {
		t.Errorf("timeouts = %v/%v", got.KeepAlive, got.ConnectTimeout)
	}
}

func TestEventHandlers(t *testing.T) {
	var got []session.Event
	h := eventHandlers(func(ev session.Event) { got = append(got, ev) })

	boom := errors.New("boom")
	h.OnOpen()
	h.OnError(boom)
	h.OnMessage("/devices/d/config", []byte("cfg"))
	h.OnClose(boom)

	want := []session.EventKind{session.EventOpen, session.EventError, session.EventMessage, session.EventClose}
	if len(got) != len(want) {
		t.Fatalf("events = %d, want %d", len(got), len(want))
	}
	for i, k := range want {
		if got[i].Kind != k {
			t.Errorf("event[%d] = %v, want %v", i, got[i].Kind, k)
		}
	}
	if got[2].Topic != "/devices/d/config" || string(got[2].Payload) != "cfg" {
		t.Errorf("message event = %+v", got[2])
	}
	if !errors.Is(got[3].Err, boom) {
		t.Errorf("close err = %v", got[3].Err)
	}
}

func TestScanReader(t *testing.T) {
	r := newScanReader(strings.NewReader("De Rong, 36.1, 62\n\n  Ann, 37, 80  \r\n"), io.Discard)

	var lines []string
	for {
		line, err := r.ReadLine()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("ReadLine() error = %v", err)
		}
		lines = append(lines, line)
	}

	want := []string{"De Rong, 36.1, 62", "", "Ann, 37, 80"}
	if strings.Join(lines, "|") != strings.Join(want, "|") {
		t.Errorf("lines = %q, want %q", lines, want)
	}
	if r.Interactive() {
		t.Error("scanReader reported interactive")
	}
}

func TestScanReader_LongLines(t *testing.T) {
	long := strings.Repeat("x", 70*1024)
	atLimit := strings.Repeat("y", mqtt.MaxPayloadSize)
	over := strings.Repeat("z", mqtt.MaxPayloadSize+1)

	tests := []struct {
		name  string
		input string
		want  []string
	}{
		{name: "longer than default scanner buffer", input: long + "\nnext\n", want: []string{long, "next"}},
		{name: "exactly the payload limit", input: atLimit + "\r\nnext\n", want: []string{atLimit, "next"}},
		{name: "over the payload limit", input: over + "\nnext\n", want: []string{"<too long>", "next"}},
		{name: "over the limit without newline", input: "first\n" + over, want: []string{"first", "<too long>"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newScanReader(strings.NewReader(tt.input), io.Discard)

			var got []string
			for {
				line, err := r.ReadLine()
				if errors.Is(err, io.EOF) {
					break
				}
				if errors.Is(err, errLineTooLong) {
					got = append(got, "<too long>")
					continue
				}
				if err != nil {
					t.Fatalf("ReadLine() error = %v", err)
				}
				got = append(got, line)
			}

			if len(got) != len(tt.want) {
				t.Fatalf("lines = %d, want %d", len(got), len(tt.want))
			}
			for i := range tt.want {
				if got[i] != tt.want[i] {
					t.Errorf("line %d has length %d, want %d", i, len(got[i]), len(tt.want[i]))
				}
			}
		})
	}
}

// loopbackTransport acknowledges every publish and records it.
type loopbackTransport struct {
	mu        sync.Mutex
	published []string
}

func (l *loopbackTransport) Publish(topic string, _ byte, payload []byte) <-chan error {
	l.mu.Lock()
	l.published = append(l.published, topic+" "+string(payload))
	l.mu.Unlock()
	ack := make(chan error, 1)
	ack <- nil
	return ack
}

func (l *loopbackTransport) Subscribe(string, byte) error { return nil }
func (l *loopbackTransport) IsConnected() bool            { return true }
func (l *loopbackTransport) Close()                       {}

func (l *loopbackTransport) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.published...)
}

type loopbackDialer struct{ t *loopbackTransport }

func (d loopbackDialer) Dial(context.Context, session.ConnectionParams, func(session.Event)) (session.Transport, error) {
	return d.t, nil
}

type staticMinter struct{}

func (staticMinter) Mint(now time.Time) (credential.Credential, error) {
	return credential.Credential{IssuedAt: now, ExpiresAt: now.Add(credential.Validity), Token: "token"}, nil
}

func TestReadLines_PublishesEachLine(t *testing.T) {
	transport := &loopbackTransport{}
	sess, err := session.New(session.Options{
		Config: session.Config{
			DeviceID:      "dev-1",
			TokenValidity: 20 * time.Minute,
			MinBackoff:    time.Second,
			MaxBackoff:    32 * time.Second,
			QueueSize:     8,
		},
		Minter: staticMinter{},
		Dialer: loopbackDialer{t: transport},
	})
	if err != nil {
		t.Fatalf("session.New() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sess.Run(ctx) //nolint:errcheck // stopped by cancel

	oversized := strings.Repeat("x", mqtt.MaxPayloadSize+1)
	input := newScanReader(strings.NewReader("hello\n\n"+oversized+"\nDe Rong, 36.1, 62\n"), io.Discard)
	if stop := readLines(ctx, input, sess, "/devices/dev-1/events", logging.Discard()); stop {
		t.Error("readLines() asked to stop for non-interactive input")
	}

	want := []string{"/devices/dev-1/events hello", "/devices/dev-1/events De Rong, 36.1, 62"}
	deadline := time.Now().Add(2 * time.Second)
	for {
		got := transport.snapshot()
		if strings.Join(got, "|") == strings.Join(want, "|") {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("published = %q, want %q", got, want)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// closeRecorder is a transport that reports when it is closed.
type closeRecorder struct {
	loopbackTransport
	closed chan struct{}
}

func (c *closeRecorder) Close() { close(c.closed) }

func TestBridgeDialer_Dial(t *testing.T) {
	want := &closeRecorder{closed: make(chan struct{})}
	d := bridgeDialer{
		bridge: testConfig().Bridge,
		dial: func(opts mqtt.Options, _ mqtt.Handlers, _ mqtt.Logger) (session.Transport, error) {
			if opts.ClientID != "client-1" {
				t.Errorf("ClientID = %q, want client-1", opts.ClientID)
			}
			return want, nil
		},
	}

	got, err := d.Dial(context.Background(), session.ConnectionParams{ClientID: "client-1"}, func(session.Event) {})
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	if got != want {
		t.Errorf("Dial() = %v, want the dialled transport", got)
	}
}

func TestBridgeDialer_DialHonoursContext(t *testing.T) {
	release := make(chan struct{})
	late := &closeRecorder{closed: make(chan struct{})}
	d := bridgeDialer{
		bridge: testConfig().Bridge,
		dial: func(mqtt.Options, mqtt.Handlers, mqtt.Logger) (session.Transport, error) {
			<-release
			return late, nil
		},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	if _, err := d.Dial(ctx, session.ConnectionParams{}, func(session.Event) {}); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Dial() error = %v, want context.DeadlineExceeded", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Dial() returned after %v, want prompt return on cancel", elapsed)
	}

	close(release)
	select {
	case <-late.closed:
	case <-time.After(2 * time.Second):
		t.Error("connection completed after cancel was not closed")
	}
}
