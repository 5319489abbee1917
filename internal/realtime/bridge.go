package realtime

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/njoerd114/fuelrelay/internal/model"
	"github.com/njoerd114/fuelrelay/internal/push"
)

const (
	otelScope           = "fuelrelay/realtime"
	metricEvents        = "fuelrelay.realtime.events"
	metricDropped       = "fuelrelay.realtime.events.dropped"
	metricBatches       = "fuelrelay.realtime.push.batches"
	metricSent          = "fuelrelay.realtime.push.sent"
	metricFailedBatches = "fuelrelay.realtime.push.failed_batches"
)

// Defaults applied by [NewBridge] when the corresponding option is zero.
const (
	DefaultBatchSize  = push.MaxBatch
	DefaultQueueSize  = 256
	DefaultMinBackoff = time.Second
	DefaultMaxBackoff = 30 * time.Second
)

// Push message constants shared by every delivery.
const (
	PushSound     = "default"
	PushChannelID = "fuel-updates"
)

// Resolver finds the push tokens of a station's subscribers.
// Implemented by [remote.Store].
type Resolver interface {
	ActiveTokensForStation(ctx context.Context, stationID string) ([]string, error)
}

// Options configures a Bridge.
type Options struct {
	BatchSize  int
	QueueSize  int
	MinBackoff time.Duration
	MaxBackoff time.Duration
	Logger     *slog.Logger
}

// DeliveryReport summarises the fan-out of one notification.
type DeliveryReport struct {
	Tokens        int
	Batches       int
	Sent          int
	FailedBatches int
}

// Bridge keeps a feed connected and delivers every event to the subscribers
// of its station. Delivery is at-most-once: events that arrive while the
// queue is full are dropped, and events emitted while disconnected are never
// replayed. Create one with [NewBridge] and start it with [Bridge.Run].
type Bridge struct {
	feed     Feed
	resolver Resolver
	sender   push.Sender
	opts     Options
	log      *slog.Logger

	state atomic.Int32
	queue chan model.Notification

	cntEvents        metric.Int64Counter
	cntDropped       metric.Int64Counter
	cntBatches       metric.Int64Counter
	cntSent          metric.Int64Counter
	cntFailedBatches metric.Int64Counter
}

// NewBridge creates a disconnected Bridge.
func NewBridge(feed Feed, resolver Resolver, sender push.Sender, opts Options) *Bridge {
	if opts.BatchSize <= 0 || opts.BatchSize > push.MaxBatch {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}
	if opts.MinBackoff <= 0 {
		opts.MinBackoff = DefaultMinBackoff
	}
	if opts.MaxBackoff < opts.MinBackoff {
		opts.MaxBackoff = max(DefaultMaxBackoff, opts.MinBackoff)
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	meter := otel.Meter(otelScope)
	mustCounter := func(name, desc string) metric.Int64Counter {
		c, err := meter.Int64Counter(name, metric.WithDescription(desc))
		if err != nil {
			opts.Logger.Error("creating OTel counter", "name", name, "error", err)
			return noop.Int64Counter{}
		}
		return c
	}

	return &Bridge{
		feed:     feed,
		resolver: resolver,
		sender:   sender,
		opts:     opts,
		log:      opts.Logger,
		queue:    make(chan model.Notification, opts.QueueSize),

		cntEvents:        mustCounter(metricEvents, "Number of inserted notifications received"),
		cntDropped:       mustCounter(metricDropped, "Number of notifications dropped because the queue was full"),
		cntBatches:       mustCounter(metricBatches, "Number of push batches sent"),
		cntSent:          mustCounter(metricSent, "Number of push messages accepted"),
		cntFailedBatches: mustCounter(metricFailedBatches, "Number of push batches that failed"),
	}
}

// State returns the current connection state. Safe for concurrent use.
func (b *Bridge) State() State { return State(b.state.Load()) }

func (b *Bridge) setState(s State) {
	if old := State(b.state.Swap(int32(s))); old != s {
		b.log.Info("realtime state changed", "from", old, "to", s)
	}
}

// Run keeps the feed connected and delivers events until ctx is cancelled.
// Every reconnect waits out the current backoff. The backoff returns to
// MinBackoff only after a stream delivered an event or stayed up for
// MaxBackoff, so a flapping connection is retried at a decreasing rate.
func (b *Bridge) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		b.work(ctx)
	}()
	defer wg.Wait()
	defer b.setState(StateDisconnected)

	backoff := b.opts.MinBackoff
	for {
		stream, err := b.feed.Connect(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			b.setState(StateDisconnected)
			b.log.Warn("realtime connect failed", "error", err, "retry_in", backoff)
		} else {
			b.setState(StateConnected)
			connectedAt := time.Now()
			received := b.consume(ctx, stream)
			_ = stream.Close()
			b.setState(StateDisconnected)

			if ctx.Err() != nil {
				b.log.Info("realtime bridge shutting down")
				return ctx.Err()
			}
			if received || time.Since(connectedAt) >= b.opts.MaxBackoff {
				backoff = b.opts.MinBackoff
			}
			b.log.Warn("realtime stream lost, reconnecting", "retry_in", backoff)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, b.opts.MaxBackoff)
	}
}

// consume forwards events from stream to the queue until the stream ends or
// ctx is cancelled. It reports whether any event arrived.
func (b *Bridge) consume(ctx context.Context, stream Stream) (received bool) {
	events, errs := stream.Events(), stream.Errors()
	for {
		select {
		case <-ctx.Done():
			return received
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			b.setState(StateDegraded)
			b.log.Warn("realtime stream error", "error", err)
		case n, ok := <-events:
			if !ok {
				return received
			}
			received = true
			if b.State() == StateDegraded {
				b.setState(StateConnected)
			}
			b.enqueue(ctx, n)
		}
	}
}

func (b *Bridge) enqueue(ctx context.Context, n model.Notification) {
	b.cntEvents.Add(ctx, 1)
	select {
	case b.queue <- n:
	default:
		b.cntDropped.Add(ctx, 1)
		b.log.Warn("delivery queue full, dropping notification", "notification", n.ID, "station", n.StationID)
	}
}

func (b *Bridge) work(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case n := <-b.queue:
			if _, err := b.Handle(ctx, n); err != nil {
				b.log.Error("delivering notification", "notification", n.ID, "station", n.StationID, "error", err)
			}
		}
	}
}

// Handle delivers n to every active push token subscribed to its station, in
// batches of at most BatchSize. A failed batch does not stop later batches
// and is not retried.
func (b *Bridge) Handle(ctx context.Context, n model.Notification) (DeliveryReport, error) {
	var report DeliveryReport

	tokens, err := b.resolver.ActiveTokensForStation(ctx, n.StationID)
	if err != nil {
		return report, err
	}
	tokens = dedupe(tokens)
	report.Tokens = len(tokens)
	if len(tokens) == 0 {
		b.log.Debug("no subscribers to notify", "notification", n.ID, "station", n.StationID)
		return report, nil
	}

	data := map[string]any{
		"type":           string(n.NotificationType),
		"stationId":      n.StationID,
		"notificationId": n.ID,
	}
	if n.FuelType != nil {
		data["fuelType"] = string(*n.FuelType)
	}

	for _, chunk := range push.Chunk(tokens, b.opts.BatchSize) {
		msgs := make([]push.Message, len(chunk))
		for i, tok := range chunk {
			msgs[i] = push.Message{
				To:        tok,
				Title:     n.Title,
				Body:      n.Message,
				Data:      data,
				Sound:     PushSound,
				ChannelID: PushChannelID,
			}
		}

		report.Batches++
		b.cntBatches.Add(ctx, 1)
		tickets, err := b.sender.Send(ctx, msgs)
		if err != nil {
			report.FailedBatches++
			b.cntFailedBatches.Add(ctx, 1)
			b.log.Warn("push batch failed", "notification", n.ID, "batch", report.Batches, "size", len(msgs), "error", err)
			continue
		}
		for _, t := range tickets {
			if t.OK() {
				report.Sent++
			} else {
				b.log.Debug("push ticket rejected", "notification", n.ID, "message", t.Message)
			}
		}
	}

	b.cntSent.Add(ctx, int64(report.Sent), metric.WithAttributes(
		attribute.String("notification.type", string(n.NotificationType)),
	))
	b.log.Info("notification delivered",
		"notification", n.ID, "station", n.StationID,
		"tokens", report.Tokens, "batches", report.Batches,
		"sent", report.Sent, "failed_batches", report.FailedBatches)
	return report, nil
}

func dedupe(tokens []string) []string {
	seen := make(map[string]struct{}, len(tokens))
	out := tokens[:0:0]
	for _, t := range tokens {
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}
