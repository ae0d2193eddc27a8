package publish

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"

	"Go2TopTalk/internal/config"
	"Go2TopTalk/internal/logging"
	"Go2TopTalk/internal/message"
)

const connectRetries = 5

// Subject returns the NATS subject carrying messages of the given period,
// e.g. "toptalk.5ms".
func Subject(base string, period time.Duration) string {
	return base + "." + strings.ReplaceAll(period.String(), ".", "_")
}

// Connect dials NATS, retrying with exponential backoff.
func Connect(ctx context.Context, url string, opts ...nats.Option) (*nats.Conn, error) {
	var nc *nats.Conn
	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), connectRetries), ctx)
	err := backoff.Retry(func() error {
		var err error
		nc, err = nats.Connect(url, opts...)
		return err
	}, b)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats at %s: %w", url, err)
	}
	return nc, nil
}

// NATSPublisher publishes every message on the subject of its period.
type NATSPublisher struct {
	nc       *nats.Conn
	subject  string
	encoding string
	log      *logrus.Entry
}

// NewNATSPublisher connects to the configured NATS server.
func NewNATSPublisher(ctx context.Context, cfg config.NATSConfig) (*NATSPublisher, error) {
	nc, err := Connect(ctx, cfg.URL, nats.Name("toptalk-publisher"))
	if err != nil {
		return nil, err
	}
	p := &NATSPublisher{
		nc:       nc,
		subject:  cfg.Subject,
		encoding: cfg.Encoding,
		log:      logging.WithComponent("nats-publisher"),
	}
	p.log.WithField("url", cfg.URL).Info("connected to nats")
	return p, nil
}

func (p *NATSPublisher) Name() string {
	return "nats"
}

// Publish encodes msg and hands it to the NATS client's outbound buffer.
func (p *NATSPublisher) Publish(msg *message.TopTalk) error {
	data, err := message.Encode(msg, p.encoding)
	if err != nil {
		return err
	}
	return p.nc.Publish(Subject(p.subject, msg.Interval()), data)
}

// Close drains and closes the NATS connection.
func (p *NATSPublisher) Close() error {
	if p.nc == nil {
		return nil
	}
	err := p.nc.Drain()
	p.log.Info("nats connection drained and closed")
	return err
}

// MessageHandler processes a received message.
type MessageHandler func(subject string, msg *message.TopTalk)

// Subscriber receives top talker messages from NATS.
type Subscriber struct {
	nc       *nats.Conn
	sub      *nats.Subscription
	subject  string
	encoding string
	log      *logrus.Entry
}

// NewSubscriber connects to the configured NATS server.
func NewSubscriber(ctx context.Context, cfg config.NATSConfig) (*Subscriber, error) {
	nc, err := Connect(ctx, cfg.URL, nats.Name("toptalk-subscriber"))
	if err != nil {
		return nil, err
	}
	return &Subscriber{
		nc:       nc,
		subject:  cfg.Subject,
		encoding: cfg.Encoding,
		log:      logging.WithComponent("nats-subscriber"),
	}, nil
}

// Start subscribes to the messages of one period, or of every period when
// period is zero.
func (s *Subscriber) Start(period time.Duration, handler MessageHandler) error {
	subject := s.subject + ".*"
	if period > 0 {
		subject = Subject(s.subject, period)
	}
	sub, err := s.nc.Subscribe(subject, func(m *nats.Msg) {
		msg, err := message.Decode(m.Data, s.encoding)
		if err != nil {
			s.log.WithError(err).Warn("failed to decode message")
			return
		}
		handler(m.Subject, msg)
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", subject, err)
	}
	s.sub = sub
	s.log.WithField("subject", subject).Info("subscribed, waiting for messages")
	return nil
}

// Close unsubscribes and closes the NATS connection.
func (s *Subscriber) Close() error {
	var err error
	if s.sub != nil {
		err = s.sub.Unsubscribe()
	}
	if s.nc != nil {
		s.nc.Close()
	}
	return err
}
