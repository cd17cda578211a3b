// Package relay shares hub broadcasts between server replicas over NATS.
//
// With a relay configured, the ingest path publishes to the subject and every
// replica's Subscriber feeds its local hub, so all replicas act as one hub.
package relay

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/PratikDhanave/shotlog/internal/logging"
	"github.com/PratikDhanave/shotlog/internal/metrics"
)

// Broadcaster accepts a serialized shot for fan-out.
type Broadcaster interface {
	Publish(msg []byte) error
}

// Connect dials NATS with unlimited reconnects.
func Connect(url string, opts ...nats.Option) (*nats.Conn, error) {
	defaults := []nats.Option{
		nats.Name("shotlog"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logging.Warn().Err(err).Msg("nats disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logging.Info().Str("url", nc.ConnectedUrl()).Msg("nats reconnected")
		}),
	}
	nc, err := nats.Connect(url, append(defaults, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS at %s: %w", url, err)
	}
	return nc, nil
}

// Publisher sends broadcasts to the relay subject. When NATS fails, or the
// breaker is open, the message goes to the local hub instead.
type Publisher struct {
	conn    *nats.Conn
	subject string
	local   Broadcaster
	breaker *gobreaker.CircuitBreaker[struct{}]
}

func NewPublisher(conn *nats.Conn, subject string, local Broadcaster) *Publisher {
	settings := gobreaker.Settings{
		Name:        "nats-relay",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     10 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state change")
		},
	}
	return &Publisher{
		conn:    conn,
		subject: subject,
		local:   local,
		breaker: gobreaker.NewCircuitBreaker[struct{}](settings),
	}
}

func (p *Publisher) Publish(msg []byte) error {
	_, err := p.breaker.Execute(func() (struct{}, error) {
		return struct{}{}, p.conn.Publish(p.subject, msg)
	})
	if err == nil {
		metrics.RelayPublishTotal.WithLabelValues("ok").Inc()
		return nil
	}

	metrics.RelayPublishTotal.WithLabelValues("fallback").Inc()
	logging.Warn().Err(err).Str("subject", p.subject).Msg("relay publish failed, broadcasting locally")
	return p.local.Publish(msg)
}

// State reports the breaker state ("closed", "open", "half-open").
func (p *Publisher) State() string {
	return p.breaker.State().String()
}

// Subscriber is a supervised service feeding relay messages into the local hub.
type Subscriber struct {
	conn    *nats.Conn
	subject string
	local   Broadcaster
	buffer  int
}

func NewSubscriber(conn *nats.Conn, subject string, local Broadcaster) *Subscriber {
	return &Subscriber{conn: conn, subject: subject, local: local, buffer: 256}
}

func (s *Subscriber) Serve(ctx context.Context) error {
	ch := make(chan *nats.Msg, s.buffer)
	sub, err := s.conn.ChanSubscribe(s.subject, ch)
	if err != nil {
		return fmt.Errorf("subscribing to %s: %w", s.subject, err)
	}
	defer func() { _ = sub.Unsubscribe() }()

	if err := s.conn.Flush(); err != nil {
		return fmt.Errorf("flushing subscription: %w", err)
	}
	logging.Info().Str("subject", s.subject).Msg("relay subscriber started")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg := <-ch:
			if err := s.local.Publish(msg.Data); err != nil {
				logging.Warn().Err(err).Str("subject", s.subject).Msg("relay message dropped")
			}
		}
	}
}

func (s *Subscriber) String() string {
	return "nats-relay-subscriber"
}
