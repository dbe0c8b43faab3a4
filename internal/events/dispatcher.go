// Package events carries ledger lifecycle events out of the ledger. Publish
// never blocks: events are queued on a bounded channel and a single
// dispatcher goroutine hands them to every sink in order.
package events

import (
	"context"
	"log/slog"
	"time"

	"github.com/alanyoungcy/poolledger/internal/domain"
	"github.com/alanyoungcy/poolledger/internal/metrics"
)

// DefaultQueueSize bounds the outbound queue when no size is configured.
const DefaultQueueSize = 1024

const (
	deliverTimeout = 10 * time.Second
	drainTimeout   = 5 * time.Second
)

// Sink receives dispatched events.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, evt domain.Event) error
}

// Dispatcher implements domain.EventPublisher.
type Dispatcher struct {
	queue   chan domain.Event
	sinks   []Sink
	metrics *metrics.Collector
	logger  *slog.Logger
}

// NewDispatcher creates a dispatcher with a queue of size entries.
func NewDispatcher(size int, m *metrics.Collector, logger *slog.Logger, sinks ...Sink) *Dispatcher {
	if size <= 0 {
		size = DefaultQueueSize
	}
	return &Dispatcher{
		queue:   make(chan domain.Event, size),
		sinks:   sinks,
		metrics: m,
		logger:  logger.With(slog.String("component", "events")),
	}
}

// Publish enqueues evt. When the queue is full the event is dropped.
func (d *Dispatcher) Publish(evt domain.Event) {
	select {
	case d.queue <- evt:
	default:
		d.metrics.RecordEventDropped(string(evt.Type))
		d.logger.Warn("events: queue full, event dropped",
			slog.String("type", string(evt.Type)),
			slog.String("pool_id", evt.PoolID),
		)
	}
}

// Run delivers queued events until ctx is cancelled, then drains whatever is
// still queued within a short grace period.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.logger.InfoContext(ctx, "events: dispatcher started", slog.Int("sinks", len(d.sinks)))
	for {
		select {
		case <-ctx.Done():
			d.drain()
			return ctx.Err()
		case evt := <-d.queue:
			d.deliver(ctx, evt)
		}
	}
}

func (d *Dispatcher) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	for {
		select {
		case evt := <-d.queue:
			d.deliver(ctx, evt)
		default:
			return
		}
		if ctx.Err() != nil {
			d.logger.Warn("events: drain timed out", slog.Int("remaining", len(d.queue)))
			return
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, evt domain.Event) {
	for _, s := range d.sinks {
		sctx, cancel := context.WithTimeout(ctx, deliverTimeout)
		err := s.Deliver(sctx, evt)
		cancel()
		if err != nil {
			d.logger.ErrorContext(ctx, "events: sink delivery failed",
				slog.String("sink", s.Name()),
				slog.String("type", string(evt.Type)),
				slog.String("error", err.Error()),
			)
			continue
		}
		d.metrics.RecordEventPublished(string(evt.Type), s.Name())
	}
}

// Compile-time interface check.
var _ domain.EventPublisher = (*Dispatcher)(nil)
