// Package publisher drains the event bus and delivers each event to the
// downstream broker twice: a pub/sub broadcast for live consumers and a
// sorted-set append for durable, time-ordered history.
package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/freightdoom/engine/internal/events"
	"github.com/freightdoom/engine/internal/metrics"
	"github.com/freightdoom/engine/internal/models"
)

const (
	batchSize      = 50
	idleSleep      = 100 * time.Millisecond
	connectRetry   = 5 * time.Second
	publishTimeout = 10 * time.Second
)

// Broker is the narrow slice of the downstream store the publisher needs.
type Broker interface {
	// Publish broadcasts a payload on a pub/sub channel.
	Publish(ctx context.Context, channel string, payload []byte) error
	// AppendLog inserts a payload into a score-ordered durable log.
	AppendLog(ctx context.Context, key string, score float64, payload []byte) error
	// Ping verifies connectivity.
	Ping(ctx context.Context) error
	Close() error
}

// Snapshot is a point-in-time view of the publisher counters.
type Snapshot struct {
	EventsPublished uint64 `json:"events_published"`
	EventsPersisted uint64 `json:"events_persisted"`
	PublishErrors   uint64 `json:"publish_errors"`
	BatchesSent     uint64 `json:"batches_sent"`
}

// Publisher is the single bus consumer. It owns the broker connection.
type Publisher struct {
	broker    Broker
	bus       *events.Bus
	tap       *events.Tap // optional, nil when no ops stream is attached
	collector *metrics.Collector

	channel   string
	sortedSet string

	published atomic.Uint64
	persisted atomic.Uint64
	errors    atomic.Uint64
	batches   atomic.Uint64
}

// New creates a publisher. tap may be nil.
func New(broker Broker, bus *events.Bus, tap *events.Tap, collector *metrics.Collector, channel, sortedSet string) *Publisher {
	return &Publisher{
		broker:    broker,
		bus:       bus,
		tap:       tap,
		collector: collector,
		channel:   channel,
		sortedSet: sortedSet,
	}
}

// Run connects to the broker and drains the bus until ctx is cancelled or
// the bus closes. On shutdown the remaining queue is drained and published
// once more; anything that fails at that point is lost, which is the
// documented at-least-once contract.
func (p *Publisher) Run(ctx context.Context) error {
	log.WithFields(log.Fields{
		"channel":    p.channel,
		"sorted_set": p.sortedSet,
	}).Info("publisher starting")

	if err := p.connect(ctx); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			p.finalDrain()
			return nil
		default:
		}

		batch, open := p.bus.DrainBatch(batchSize)
		if len(batch) > 0 {
			p.publishBatch(ctx, batch)
		}
		if !open {
			log.Info("event bus closed and drained, publisher exiting")
			return nil
		}
		if len(batch) == 0 {
			select {
			case <-ctx.Done():
				p.finalDrain()
				return nil
			case <-time.After(idleSleep):
			}
		}
	}
}

// connect pings the broker until it answers, retrying every 5 seconds.
// Shutdown aborts the retry loop.
func (p *Publisher) connect(ctx context.Context) error {
	for {
		pingCtx, cancel := context.WithTimeout(ctx, publishTimeout)
		err := p.broker.Ping(pingCtx)
		cancel()
		if err == nil {
			log.Info("broker connection established")
			return nil
		}

		log.WithError(err).Warn("broker unreachable, retrying in 5s")
		select {
		case <-ctx.Done():
			log.Info("shutdown during broker connect, publisher exiting")
			return fmt.Errorf("shutdown before broker connected: %w", ctx.Err())
		case <-time.After(connectRetry):
		}
	}
}

// finalDrain empties whatever the pollers managed to enqueue before they
// stopped and publishes it with a fresh bounded context, since the run
// context is already cancelled.
func (p *Publisher) finalDrain() {
	var remaining []*models.Event
	for {
		batch, open := p.bus.DrainBatch(batchSize)
		remaining = append(remaining, batch...)
		if len(batch) == 0 || !open {
			break
		}
	}
	if len(remaining) > 0 {
		log.WithField("events", len(remaining)).Info("draining remaining events before shutdown")
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		defer cancel()
		p.publishBatch(ctx, remaining)
	}
	log.WithFields(log.Fields{
		"published": p.published.Load(),
		"persisted": p.persisted.Load(),
		"errors":    p.errors.Load(),
		"batches":   p.batches.Load(),
	}).Info("publisher stopped")
}

// publishBatch delivers each event to both broker operations. A failed
// event is counted and logged, never retried; later events in the batch
// still go out.
func (p *Publisher) publishBatch(ctx context.Context, batch []*models.Event) {
	for _, event := range batch {
		payload, err := json.Marshal(event)
		if err != nil {
			p.recordError(event, err, "marshal")
			continue
		}

		if err := p.broker.Publish(ctx, p.channel, payload); err != nil {
			p.recordError(event, err, "publish")
			continue
		}
		p.published.Add(1)
		p.collector.IncrementPublished()

		score := float64(event.DetectedAt.Unix())
		if err := p.broker.AppendLog(ctx, p.sortedSet, score, payload); err != nil {
			p.recordError(event, err, "append-log")
			continue
		}
		p.persisted.Add(1)

		if p.tap != nil {
			p.tap.Publish(event)
		}

		log.WithFields(log.Fields{
			"event_id":   event.ID,
			"company":    event.CompanyName,
			"source":     event.Source.String(),
			"confidence": fmt.Sprintf("%.1f%%", event.Confidence*100),
		}).Info("event published")
	}

	p.batches.Add(1)
	log.WithFields(log.Fields{
		"batch_size":      len(batch),
		"total_published": p.published.Load(),
	}).Debug("batch published")
}

func (p *Publisher) recordError(event *models.Event, err error, op string) {
	p.errors.Add(1)
	p.collector.IncrementRedisFailures()
	log.WithError(err).WithFields(log.Fields{
		"event_id": event.ID,
		"company":  event.CompanyName,
		"op":       op,
	}).Error("failed to publish event, it may be lost")
}

// Snapshot reads the publisher counters.
func (p *Publisher) Snapshot() Snapshot {
	return Snapshot{
		EventsPublished: p.published.Load(),
		EventsPersisted: p.persisted.Load(),
		PublishErrors:   p.errors.Load(),
		BatchesSent:     p.batches.Load(),
	}
}
