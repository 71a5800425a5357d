package events

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/Adithya-Monish-Kumar-K/keyspace/pkg/kafka"
)

// Collector buffers events and publishes them in batches, either when the
// batch is full or on every flush interval. Track never blocks.
type Collector struct {
	publisher     kafka.Publisher
	eventCh       chan RecoveryEvent
	batchSize     int
	flushInterval time.Duration
	logger        *slog.Logger
	done          chan struct{}
	startOnce     sync.Once
	closeOnce     sync.Once
}

func NewCollector(publisher kafka.Publisher, bufferSize, batchSize int, flushInterval time.Duration) *Collector {
	if bufferSize <= 0 {
		bufferSize = 10000
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	if flushInterval <= 0 {
		flushInterval = time.Second
	}
	return &Collector{
		publisher:     publisher,
		eventCh:       make(chan RecoveryEvent, bufferSize),
		batchSize:     batchSize,
		flushInterval: flushInterval,
		logger:        slog.Default().With("component", "event-collector"),
		done:          make(chan struct{}),
	}
}

// Start runs the publish loop until ctx is cancelled or Close is called.
// Calls after the first, or after Close, do nothing.
func (c *Collector) Start(ctx context.Context) {
	started := false
	c.startOnce.Do(func() {
		started = true
		go c.loop(ctx)
	})
	if !started {
		return
	}
	c.logger.Info("event collector started",
		"buffer_size", cap(c.eventCh),
		"batch_size", c.batchSize,
		"flush_interval", c.flushInterval,
	)
}

func (c *Collector) loop(ctx context.Context) {
	defer close(c.done)
	ticker := time.NewTicker(c.flushInterval)
	defer ticker.Stop()

	batch := make([]kafka.Event, 0, c.batchSize)
	for {
		select {
		case ev, ok := <-c.eventCh:
			if !ok {
				c.flush(context.Background(), batch)
				return
			}
			batch = append(batch, toKafka(ev))
			if len(batch) >= c.batchSize {
				batch = c.flush(ctx, batch)
			}
		case <-ticker.C:
			batch = c.flush(ctx, batch)
		case <-ctx.Done():
		drain:
			for {
				select {
				case ev, ok := <-c.eventCh:
					if !ok {
						break drain
					}
					batch = append(batch, toKafka(ev))
				default:
					break drain
				}
			}
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			c.flush(flushCtx, batch)
			cancel()
			return
		}
	}
}

// Track queues ev, dropping it when the buffer is full.
func (c *Collector) Track(ev RecoveryEvent) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	select {
	case <-c.done:
		return
	default:
	}
	select {
	case c.eventCh <- ev:
	default:
		c.logger.Warn("recovery event dropped (buffer full)", "algorithm", ev.Algorithm)
	}
}

// Close flushes buffered events and stops the loop. A collector that was
// never started publishes its buffer here. Track must not be called
// concurrently with Close.
func (c *Collector) Close() {
	c.closeOnce.Do(func() { close(c.eventCh) })
	c.startOnce.Do(func() { go c.loop(context.Background()) })
	<-c.done
}

func (c *Collector) flush(ctx context.Context, batch []kafka.Event) []kafka.Event {
	if len(batch) == 0 {
		return batch
	}
	if err := c.publisher.PublishBatch(ctx, batch); err != nil {
		c.logger.Error("batch publish failed", "batch_size", len(batch), "error", err)
	} else {
		c.logger.Debug("batch published", "events", len(batch))
	}
	return batch[:0]
}

func toKafka(ev RecoveryEvent) kafka.Event {
	key := ev.JobID
	if key == "" {
		key = ev.Algorithm
	}
	return kafka.Event{Key: key, Value: ev}
}
