package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/njoerd114/fuelrelay/internal/model"
)

// DefaultQueue is the durable queue inserted notifications are published to.
const DefaultQueue = "notifications.inserted"

// AMQPFeed consumes inserted notifications from a durable RabbitMQ queue.
// Valid rows are acked once handed to the stream; malformed ones are
// rejected without requeue.
type AMQPFeed struct {
	URL      string
	Queue    string
	Prefetch int
}

func (f *AMQPFeed) queue() string {
	if f.Queue == "" {
		return DefaultQueue
	}
	return f.Queue
}

// Connect dials the broker, declares the queue and starts consuming.
func (f *AMQPFeed) Connect(ctx context.Context) (Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	conn, err := amqp.Dial(f.URL)
	if err != nil {
		return nil, fmt.Errorf("dial broker: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	prefetch := f.Prefetch
	if prefetch <= 0 {
		prefetch = 50
	}
	if err := ch.Qos(prefetch, 0, false); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("set qos: %w", err)
	}
	if _, err := ch.QueueDeclare(f.queue(), true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("declare queue %s: %w", f.queue(), err)
	}
	deliveries, err := ch.Consume(f.queue(), "", false, false, false, false, nil)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("consume %s: %w", f.queue(), err)
	}

	s := &amqpStream{
		conn:   conn,
		events: make(chan model.Notification, 32),
		errs:   make(chan error, 8),
		done:   make(chan struct{}),
	}
	go s.forward(deliveries)
	return s, nil
}

type amqpStream struct {
	conn   *amqp.Connection
	events chan model.Notification
	errs   chan error

	done      chan struct{}
	closeOnce sync.Once
}

func (s *amqpStream) Events() <-chan model.Notification { return s.events }
func (s *amqpStream) Errors() <-chan error              { return s.errs }

func (s *amqpStream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		err = s.conn.Close()
	})
	return err
}

func (s *amqpStream) forward(deliveries <-chan amqp.Delivery) {
	defer close(s.events)
	for {
		select {
		case <-s.done:
			return
		case d, ok := <-deliveries:
			if !ok {
				return
			}
			n, err := DecodeNotification(d.Body)
			if err != nil {
				_ = d.Nack(false, false)
				select {
				case s.errs <- err:
				default:
				}
				continue
			}
			select {
			case s.events <- n:
				_ = d.Ack(false)
			case <-s.done:
				_ = d.Nack(false, true)
				return
			}
		}
	}
}

// AMQPPublisher publishes inserted notifications to the queue an [AMQPFeed]
// consumes. It is safe for concurrent use.
type AMQPPublisher struct {
	queue string

	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel
}

// NewAMQPPublisher dials url and declares queue (default [DefaultQueue]).
func NewAMQPPublisher(url, queue string) (*AMQPPublisher, error) {
	if queue == "" {
		queue = DefaultQueue
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial broker: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("declare queue %s: %w", queue, err)
	}
	return &AMQPPublisher{queue: queue, conn: conn, ch: ch}, nil
}

// Announce publishes n as a persistent JSON message.
func (p *AMQPPublisher) Announce(ctx context.Context, n *model.Notification) error {
	body, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}
	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		MessageId:    n.ID,
		Body:         body,
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.ch.PublishWithContext(ctx, "", p.queue, false, false, pub); err != nil {
		return fmt.Errorf("publish notification %s: %w", n.ID, err)
	}
	return nil
}

// Close closes the broker connection.
func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.conn.Close()
}
