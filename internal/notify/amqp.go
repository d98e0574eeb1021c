// Package notify delivers queued customer notices to the mailer.
package notify

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/xenking/reprog-billing/internal/domain/notice"
)

const exchangeType = "topic"

// AMQPConfig configures the RabbitMQ publisher.
type AMQPConfig struct {
	URL      string        `usage:"RabbitMQ URL; notices are logged when empty"`
	Exchange string        `default:"billing.notices" usage:"Topic exchange for notices"`
	Attempts int           `default:"5" usage:"Connection attempts at startup"`
	Backoff  time.Duration `default:"2s" usage:"Delay between connection attempts"`
}

// RoutingKey returns the routing key of a notice kind.
func RoutingKey(k notice.Kind) string {
	return "notice." + string(k)
}

var _ notice.Publisher = (*AMQPPublisher)(nil)

// link is one broker connection with a confirming channel.
type link interface {
	publish(ctx context.Context, exchange, key string, msg amqp.Publishing) error
	closed() bool
	close() error
}

// AMQPPublisher publishes notices to a topic exchange with publisher
// confirms. A dropped connection is redialed by the next Publish or Check.
type AMQPPublisher struct {
	mu       sync.Mutex
	link     link
	dial     func(ctx context.Context) (link, error)
	exchange string
}

// Dial connects to RabbitMQ, retrying while the broker starts, and declares
// the exchange.
func Dial(ctx context.Context, cfg AMQPConfig) (*AMQPPublisher, error) {
	lg := zctx.From(ctx)
	dial := func(context.Context) (link, error) {
		l, err := dialLink(cfg)
		if err != nil {
			return nil, err
		}
		return l, nil
	}

	var (
		l   link
		err error
	)
	for attempt := 1; attempt <= max(cfg.Attempts, 1); attempt++ {
		l, err = dial(ctx)
		if err == nil {
			break
		}
		lg.Warn("Failed to connect to RabbitMQ", zap.Int("attempt", attempt), zap.Error(err))
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(cfg.Backoff):
		}
	}
	if err != nil {
		return nil, errors.Wrap(err, "connect to rabbitmq")
	}
	return &AMQPPublisher{link: l, dial: dial, exchange: cfg.Exchange}, nil
}

// Publish sends n and waits for the broker confirm. The notice id is the
// message id so consumers can drop redeliveries.
func (p *AMQPPublisher) Publish(ctx context.Context, n notice.Notice) error {
	body, err := json.Marshal(n)
	if err != nil {
		return errors.Wrap(err, "marshal notice")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	l, err := p.connected(ctx)
	if err != nil {
		return err
	}
	return l.publish(ctx, p.exchange, RoutingKey(n.Kind), amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    n.ID.String(),
		Timestamp:    n.CreatedAt,
		Type:         string(n.Kind),
		Body:         body,
	})
}

// connected returns the current link, redialing once if the broker closed
// it. Callers hold p.mu.
func (p *AMQPPublisher) connected(ctx context.Context) (link, error) {
	if !p.link.closed() {
		return p.link, nil
	}
	_ = p.link.close()
	l, err := p.dial(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "reconnect to rabbitmq")
	}
	zctx.From(ctx).Info("Reconnected to RabbitMQ")
	p.link = l
	return l, nil
}

// Check reports whether the broker is reachable, reconnecting if needed.
func (p *AMQPPublisher) Check(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, err := p.connected(ctx)
	return err
}

// Close closes the channel and connection.
func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.link.close()
}

// amqpLink is a link over amqp091.
type amqpLink struct {
	conn *amqp.Connection
	ch   *amqp.Channel
}

func dialLink(cfg AMQPConfig) (*amqpLink, error) {
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, errors.Wrap(err, "open channel")
	}
	if err := ch.ExchangeDeclare(
		cfg.Exchange, // name
		exchangeType, // type
		true,         // durable
		false,        // auto-deleted
		false,        // internal
		false,        // no-wait
		nil,          // arguments
	); err != nil {
		_ = conn.Close()
		return nil, errors.Wrap(err, "declare exchange")
	}
	if err := ch.Confirm(false); err != nil {
		_ = conn.Close()
		return nil, errors.Wrap(err, "enable confirms")
	}
	return &amqpLink{conn: conn, ch: ch}, nil
}

func (l *amqpLink) publish(ctx context.Context, exchange, key string, msg amqp.Publishing) error {
	dc, err := l.ch.PublishWithDeferredConfirmWithContext(ctx,
		exchange, // exchange
		key,      // routing key
		false,    // mandatory
		false,    // immediate
		msg,
	)
	if err != nil {
		return errors.Wrap(err, "publish")
	}
	acked, err := dc.WaitContext(ctx)
	if err != nil {
		return errors.Wrap(err, "wait confirm")
	}
	if !acked {
		return errors.Errorf("notice %s nacked by broker", msg.MessageId)
	}
	return nil
}

func (l *amqpLink) closed() bool {
	return l.conn.IsClosed() || l.ch.IsClosed()
}

func (l *amqpLink) close() error {
	_ = l.ch.Close()
	if l.conn.IsClosed() {
		return nil
	}
	return l.conn.Close()
}

// LogPublisher writes notices to the context logger. It stands in for the
// broker in development.
type LogPublisher struct{}

func (LogPublisher) Publish(ctx context.Context, n notice.Notice) error {
	zctx.From(ctx).Info("Notice",
		zap.String("kind", string(n.Kind)),
		zap.Stringer("id", n.ID),
		zap.Stringer("order", n.OrderReference),
		zap.String("email", n.Email),
		zap.String("bill", n.BillLabel),
	)
	return nil
}
