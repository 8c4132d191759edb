package session

import (
	"context"
	"time"

	"github.com/derong97/gcp-iot-tutorial/internal/infrastructure/mqtt"
)

// Publish schedules payload for topic and returns once the send has been
// handed to the transport or delayed behind the current backoff.
//
// Send failures are logged, not returned. Publish returns:
//   - ErrBackoffExhausted when the session gave up (this call or earlier)
//   - ErrQueueFull when too many publishes are already delayed
//   - ErrClosed after Run has returned for another reason
func (s *Session) Publish(ctx context.Context, topic string, payload []byte) error {
	result := make(chan error, 1)
	if err := s.submit(ctx, func() { result <- s.schedule(topic, payload) }); err != nil {
		return err
	}

	select {
	case err := <-result:
		return err
	case <-s.done:
		// The loop may have answered just before finishing.
		select {
		case err := <-result:
			return err
		default:
			return s.closedErr()
		}
	}
}

// schedule runs on the loop. It decides the delay for one publish.
func (s *Session) schedule(topic string, payload []byte) error {
	if s.abandoned {
		return ErrBackoffExhausted
	}

	if s.health.Exhausted() {
		s.abandon()
		return ErrBackoffExhausted
	}

	if s.pending >= s.cfg.QueueSize {
		s.metrics.PublishResult(ResultRejected)
		return ErrQueueFull
	}

	delay := s.health.Delay(s.jitter())
	if s.health.BackingOff {
		s.health.Escalate()
		s.metrics.Backoff(s.health.BackingOff, s.health.Backoff)
	}

	s.pending++
	s.metrics.QueueDepth(s.pending)

	if delay <= 0 {
		s.send(topic, payload)
		return nil
	}

	s.logger.Info("publish delayed", "topic", topic, "delay", delay.Round(time.Millisecond))
	s.afterFunc(delay, func() {
		s.post(func() { s.send(topic, payload) })
	})
	return nil
}

// send runs on the loop when a publish's delay has elapsed.
func (s *Session) send(topic string, payload []byte) {
	s.pending--
	s.metrics.QueueDepth(s.pending)

	if s.abandoned {
		return
	}

	s.maybeRefresh(s.now())

	if s.transport == nil {
		s.logger.Error("publish dropped, no live transport", "topic", topic)
		s.metrics.PublishResult(ResultDropped)
		return
	}

	s.logger.Debug("publishing", "topic", topic, "bytes", len(payload))
	ack := s.transport.Publish(topic, mqtt.QoSAtLeastOnce, payload)
	go func() {
		err := <-ack
		s.post(func() { s.acknowledge(topic, err) })
	}()
}

// acknowledge runs on the loop with the transport's verdict on one send.
// A failure leaves the health untouched.
func (s *Session) acknowledge(topic string, err error) {
	if err != nil {
		s.logger.Error("publish failed", "topic", topic, "error", err)
		s.metrics.PublishResult(ResultFailed)
		return
	}

	s.metrics.PublishResult(ResultAcked)
	if s.health.BackingOff {
		s.logger.Info("publish acknowledged, backoff cleared")
	}
	s.health.Reset()
	s.metrics.Backoff(s.health.BackingOff, s.health.Backoff)
}

// abandon closes the transport and finishes the session.
func (s *Session) abandon() {
	s.logger.Error("backoff exhausted, giving up", "backoff", s.health.Backoff)
	s.abandoned = true
	s.closeTransport()
}
