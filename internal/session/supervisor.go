package session

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/derong97/gcp-iot-tutorial/internal/infrastructure/mqtt"
)

// eventBuffer is the capacity of the transport event channel.
const eventBuffer = 64

// Config holds the tunables of one session.
type Config struct {
	DeviceID string

	// Params is the template for every connection. Password, ProtocolVersion
	// and CleanSession are overwritten on each rotation.
	Params ConnectionParams

	TokenValidity time.Duration
	MinBackoff    time.Duration
	MaxBackoff    time.Duration

	// QueueSize bounds publishes that are scheduled but not yet sent.
	QueueSize int

	// RefreshInterval enables a periodic token age check. 0 disables it.
	RefreshInterval time.Duration
}

// Options wires a Session.
type Options struct {
	Config  Config
	Minter  Minter
	Dialer  Dialer
	Router  *Router
	Logger  Logger
	Metrics Metrics

	// Now, Jitter and AfterFunc default to time.Now, rand.Float64 and
	// time.AfterFunc.
	Now       func() time.Time
	Jitter    func() float64
	AfterFunc func(d time.Duration, f func())
}

// Snapshot is a point-in-time copy of the loop-owned state.
type Snapshot struct {
	Health       Health
	Generation   uint64
	LastIssuedAt time.Time
	Pending      int
	Connected    bool
	Abandoned    bool
}

// Session maintains the device's authenticated bridge session.
//
// Thread Safety:
//   - Publish and Snapshot are safe for concurrent use.
//   - Run must be called exactly once.
type Session struct {
	cfg       Config
	minter    Minter
	dialer    Dialer
	router    *Router
	logger    Logger
	metrics   Metrics
	now       func() time.Time
	jitter    func() float64
	afterFunc func(d time.Duration, f func())

	events chan Event
	calls  chan func()
	done   chan struct{}
	err    error

	// Owned by the event loop.
	ctx          context.Context
	params       ConnectionParams
	transport    Transport
	generation   uint64
	lastIssuedAt time.Time
	health       Health
	pending      int
	abandoned    bool
}

// New validates opts and returns a session ready to Run.
func New(opts Options) (*Session, error) {
	cfg := opts.Config
	switch {
	case opts.Minter == nil:
		return nil, fmt.Errorf("%w: minter is required", ErrInvalidOptions)
	case opts.Dialer == nil:
		return nil, fmt.Errorf("%w: dialer is required", ErrInvalidOptions)
	case cfg.DeviceID == "":
		return nil, fmt.Errorf("%w: device id is required", ErrInvalidOptions)
	case cfg.TokenValidity <= 0:
		return nil, fmt.Errorf("%w: token validity must be positive", ErrInvalidOptions)
	case cfg.MinBackoff <= 0 || cfg.MaxBackoff <= cfg.MinBackoff:
		return nil, fmt.Errorf("%w: backoff range %v..%v", ErrInvalidOptions, cfg.MinBackoff, cfg.MaxBackoff)
	case cfg.QueueSize < 1:
		return nil, fmt.Errorf("%w: queue size must be at least 1", ErrInvalidOptions)
	}

	s := &Session{
		cfg:       cfg,
		minter:    opts.Minter,
		dialer:    opts.Dialer,
		router:    opts.Router,
		logger:    opts.Logger,
		metrics:   opts.Metrics,
		now:       opts.Now,
		jitter:    opts.Jitter,
		afterFunc: opts.AfterFunc,
		events:    make(chan Event, eventBuffer),
		calls:     make(chan func()),
		done:      make(chan struct{}),
		health:    NewHealth(cfg.MinBackoff, cfg.MaxBackoff),
	}

	if s.router == nil {
		s.router = NewRouter(cfg.DeviceID, opts.Logger)
	}
	if s.logger == nil {
		s.logger = noopLogger{}
	}
	if s.metrics == nil {
		s.metrics = noopMetrics{}
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.jitter == nil {
		s.jitter = rand.Float64
	}
	if s.afterFunc == nil {
		s.afterFunc = func(d time.Duration, f func()) { time.AfterFunc(d, f) }
	}

	return s, nil
}

// Run connects and then serves the event loop until ctx is cancelled or the
// session gives up.
//
// Returns:
//   - error: ErrConnect or a credential error if the first connection
//     fails, ErrBackoffExhausted when abandoned, nil on cancellation
func (s *Session) Run(ctx context.Context) (err error) {
	defer func() {
		s.err = err
		close(s.done)
	}()

	s.ctx = ctx

	if err := s.start(); err != nil {
		if ctx.Err() != nil {
			s.logger.Info("session stopped before connecting")
			return nil
		}
		return err
	}
	defer s.closeTransport()

	var tick <-chan time.Time
	if s.cfg.RefreshInterval > 0 {
		ticker := time.NewTicker(s.cfg.RefreshInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		// Transport events go first so a close seen before a publish
		// request is applied before that request.
		select {
		case ev := <-s.events:
			s.dispatch(ev)
			continue
		default:
		}

		select {
		case <-ctx.Done():
			s.logger.Info("session stopped")
			return nil
		case ev := <-s.events:
			s.dispatch(ev)
		case call := <-s.calls:
			call()
		case <-tick:
			s.maybeRefresh(s.now())
		}

		if s.abandoned {
			return ErrBackoffExhausted
		}
	}
}

// Done is closed when Run has returned.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Snapshot returns a copy of the session state.
func (s *Session) Snapshot(ctx context.Context) (Snapshot, error) {
	result := make(chan Snapshot, 1)
	err := s.submit(ctx, func() {
		result <- Snapshot{
			Health:       s.health,
			Generation:   s.generation,
			LastIssuedAt: s.lastIssuedAt,
			Pending:      s.pending,
			Connected:    s.transport != nil && s.transport.IsConnected(),
			Abandoned:    s.abandoned,
		}
	})
	if err != nil {
		return Snapshot{}, err
	}
	return <-result, nil
}

// submit runs fn on the event loop.
func (s *Session) submit(ctx context.Context, fn func()) error {
	select {
	case s.calls <- fn:
		return nil
	case <-s.done:
		return s.closedErr()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// post runs fn on the event loop unless the loop has finished.
func (s *Session) post(fn func()) {
	select {
	case s.calls <- fn:
	case <-s.done:
	}
}

func (s *Session) closedErr() error {
	if errors.Is(s.err, ErrBackoffExhausted) {
		return ErrBackoffExhausted
	}
	return ErrClosed
}

// start mints the first credential and dials. Failures are fatal.
func (s *Session) start() error {
	cred, err := s.minter.Mint(s.now())
	if err != nil {
		return err
	}
	s.params = s.rotatedParams(cred.Token)
	if err := s.connect(); err != nil {
		return err
	}
	s.lastIssuedAt = cred.IssuedAt
	s.logger.Info("session started", "client_id", s.params.ClientID, "token_expires_at", cred.ExpiresAt)
	return nil
}

// maybeRefresh rotates when the token is older than its validity or there
// is no usable transport.
func (s *Session) maybeRefresh(now time.Time) {
	switch {
	case s.transport == nil:
		s.logger.Info("no live transport, reconnecting")
	case !s.transport.IsConnected():
		s.logger.Info("transport closed, reconnecting")
	case now.Sub(s.lastIssuedAt) > s.cfg.TokenValidity:
		s.logger.Info("refreshing token", "age", now.Sub(s.lastIssuedAt).Round(time.Second))
	default:
		return
	}
	s.rotate(now)
}

// rotate replaces the transport with one authenticated by a fresh token.
// If minting fails the current transport is kept and the next check retries.
func (s *Session) rotate(now time.Time) {
	cred, err := s.minter.Mint(now)
	if err != nil {
		s.logger.Error("token mint failed, keeping current connection", "error", err)
		s.metrics.Rotation(false)
		return
	}

	s.closeTransport()
	s.params = s.rotatedParams(cred.Token)

	if err := s.connect(); err != nil {
		s.logger.Error("reconnect failed", "error", err)
		s.health.EnterBackoff()
		s.metrics.Backoff(s.health.BackingOff, s.health.Backoff)
		s.metrics.Rotation(false)
		return
	}

	s.lastIssuedAt = cred.IssuedAt
	s.metrics.Rotation(true)
}

func (s *Session) rotatedParams(token string) ConnectionParams {
	p := s.cfg.Params
	p.Password = token
	p.ProtocolVersion = mqtt.ProtocolMQTT311
	p.CleanSession = true
	return p
}

// connect dials a new transport under the next generation and subscribes
// the fixed set.
func (s *Session) connect() error {
	s.generation++
	gen := s.generation

	t, err := s.dialer.Dial(s.ctx, s.params, s.emitter(gen))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrConnect, err)
	}

	for _, sub := range Subscriptions(s.cfg.DeviceID) {
		if err := t.Subscribe(sub.Pattern, sub.QoS); err != nil {
			t.Close()
			return fmt.Errorf("%w: subscribing %s: %w", ErrConnect, sub.Pattern, err)
		}
	}

	s.transport = t
	s.logger.Debug("transport connected", "generation", gen)
	return nil
}

// emitter stamps events with their connection generation and queues them
// for the loop.
func (s *Session) emitter(gen uint64) func(Event) {
	return func(ev Event) {
		ev.Generation = gen
		select {
		case s.events <- ev:
		case <-s.done:
		}
	}
}

func (s *Session) closeTransport() {
	if s.transport == nil {
		return
	}
	s.transport.Close()
	s.transport = nil
}

// dispatch applies one transport event.
func (s *Session) dispatch(ev Event) {
	switch ev.Kind {
	case EventOpen:
		s.logger.Info("connected to bridge", "generation", ev.Generation)
	case EventClose:
		if ev.Generation != s.generation {
			s.logger.Debug("close from retired connection ignored", "generation", ev.Generation)
			return
		}
		s.logger.Warn("connection closed, backing off", "error", ev.Err)
		s.health.EnterBackoff()
		s.metrics.Backoff(s.health.BackingOff, s.health.Backoff)
	case EventError:
		s.logger.Error("transport error", "generation", ev.Generation, "error", ev.Err)
	case EventMessage:
		s.router.Route(ev.Topic, ev.Payload)
	default:
		s.logger.Warn("unknown transport event", "kind", ev.Kind.String())
	}
}
