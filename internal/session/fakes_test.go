package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/derong97/gcp-iot-tutorial/internal/credential"
)

// =============================================================================
// Fakes
// =============================================================================

type published struct {
	topic   string
	qos     byte
	payload string
}

type fakeTransport struct {
	mu         sync.Mutex
	published  []published
	subscribed []Subscription
	closeCount int
	connected  bool
	ackErr     error
	holdAcks   bool
}

func (f *fakeTransport) Publish(topic string, qos byte, payload []byte) <-chan error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, published{topic, qos, string(payload)})
	ack := make(chan error, 1)
	if !f.holdAcks {
		ack <- f.ackErr
	}
	return ack
}

func (f *fakeTransport) Subscribe(topic string, qos byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscribed = append(f.subscribed, Subscription{Pattern: topic, QoS: qos})
	return nil
}

func (f *fakeTransport) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeTransport) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closeCount++
	f.connected = false
}

func (f *fakeTransport) setConnected(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = v
}

func (f *fakeTransport) publishes() []published {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]published(nil), f.published...)
}

func (f *fakeTransport) closes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closeCount
}

type fakeDialer struct {
	mu         sync.Mutex
	err        error
	ackErr     error
	holdAcks   bool
	params     []ConnectionParams
	emits      []func(Event)
	transports []*fakeTransport
}

func (d *fakeDialer) Dial(_ context.Context, params ConnectionParams, emit func(Event)) (Transport, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.params = append(d.params, params)
	if d.err != nil {
		return nil, d.err
	}
	t := &fakeTransport{connected: true, ackErr: d.ackErr, holdAcks: d.holdAcks}
	d.transports = append(d.transports, t)
	d.emits = append(d.emits, emit)
	return t, nil
}

func (d *fakeDialer) dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.params)
}

func (d *fakeDialer) transport(i int) *fakeTransport {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.transports[i]
}

func (d *fakeDialer) emit(i int, ev Event) {
	d.mu.Lock()
	emit := d.emits[i]
	d.mu.Unlock()
	emit(ev)
}

func (d *fakeDialer) setErr(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.err = err
}

type fakeMinter struct {
	mu    sync.Mutex
	err   error
	count int
}

func (m *fakeMinter) Mint(now time.Time) (credential.Credential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.count++
	if m.err != nil {
		return credential.Credential{}, m.err
	}
	return credential.Credential{
		IssuedAt:  now,
		ExpiresAt: now.Add(credential.Validity),
		Audience:  "gcp-iot-tut",
		Token:     fmt.Sprintf("token-%d", m.count),
	}, nil
}

func (m *fakeMinter) mints() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.count
}

func (m *fakeMinter) setErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// fakeTimers records scheduled delays. When fire is set, callbacks run
// immediately on their own goroutine.
type fakeTimers struct {
	mu     sync.Mutex
	fire   bool
	delays []time.Duration
}

func (f *fakeTimers) AfterFunc(d time.Duration, fn func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.delays = append(f.delays, d)
	if f.fire {
		go fn()
	}
}

func (f *fakeTimers) recorded() []time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]time.Duration(nil), f.delays...)
}

type fakeMetrics struct {
	mu      sync.Mutex
	results []string
}

func (m *fakeMetrics) PublishResult(result string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results = append(m.results, result)
}
func (m *fakeMetrics) Rotation(bool)               {}
func (m *fakeMetrics) Backoff(bool, time.Duration) {}
func (m *fakeMetrics) QueueDepth(int)              {}

func (m *fakeMetrics) count(result string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, r := range m.results {
		if r == result {
			n++
		}
	}
	return n
}

// =============================================================================
// Harness
// =============================================================================

const (
	testDeviceID   = "terminal-01"
	testValidity   = 20 * time.Minute
	testStateTopic = "/devices/terminal-01/state"
)

type harness struct {
	sess    *Session
	dialer  *fakeDialer
	minter  *fakeMinter
	clock   *fakeClock
	timers  *fakeTimers
	metrics *fakeMetrics
	router  *Router
	cancel  context.CancelFunc
	runErr  chan error
}

func testConfig() Config {
	return Config{
		DeviceID: testDeviceID,
		Params: ConnectionParams{
			Host:     "mqtt.googleapis.com",
			Port:     8883,
			ClientID: "projects/gcp-iot-tut/locations/asia-east1/registries/registry/devices/terminal-01",
			Username: "unused",
			TLS:      true,
		},
		TokenValidity: testValidity,
		MinBackoff:    time.Second,
		MaxBackoff:    32 * time.Second,
		QueueSize:     16,
	}
}

// startSession runs a session against fakes and waits until its loop is up.
func startSession(t *testing.T, mutate func(*harness, *Config)) *harness {
	t.Helper()

	h := &harness{
		dialer:  &fakeDialer{},
		minter:  &fakeMinter{},
		clock:   &fakeClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)},
		timers:  &fakeTimers{},
		metrics: &fakeMetrics{},
		router:  NewRouter(testDeviceID, nil),
		runErr:  make(chan error, 1),
	}
	cfg := testConfig()
	if mutate != nil {
		mutate(h, &cfg)
	}

	sess, err := New(Options{
		Config:    cfg,
		Minter:    h.minter,
		Dialer:    h.dialer,
		Router:    h.router,
		Metrics:   h.metrics,
		Now:       h.clock.Now,
		Jitter:    func() float64 { return 0 },
		AfterFunc: h.timers.AfterFunc,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	h.sess = sess

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	t.Cleanup(cancel)

	go func() { h.runErr <- sess.Run(ctx) }()

	if _, err := sess.Snapshot(ctx); err != nil {
		t.Fatalf("session did not start: %v", err)
	}
	return h
}

func (h *harness) publish(t *testing.T, payload string) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return h.sess.Publish(ctx, testStateTopic, []byte(payload))
}

func (h *harness) snapshot(t *testing.T) Snapshot {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	snap, err := h.sess.Snapshot(ctx)
	if err != nil {
		t.Fatalf("Snapshot() error = %v", err)
	}
	return snap
}

func (h *harness) waitRun(t *testing.T) error {
	t.Helper()
	select {
	case err := <-h.runErr:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not return")
		return nil
	}
}

// eventually polls cond until it holds or a deadline passes.
func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

var errBoom = errors.New("boom")
