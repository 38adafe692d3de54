package hub

import (
	"context"
	"errors"
	"hash/crc32"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"taskboard/domain"
)

// ErrSaturated is returned when a dispatcher shard cannot take another event
// within the handoff timeout.
var ErrSaturated = errors.New("dispatcher saturated")

// ErrDispatcherClosed is returned by Publish after Close.
var ErrDispatcherClosed = errors.New("dispatcher closed")

type DispatcherConfig struct {
	Workers        int
	Buffer         int
	HandoffTimeout time.Duration
	PublishTimeout time.Duration
}

func (c DispatcherConfig) withDefaults() DispatcherConfig {
	if c.Workers <= 0 {
		c.Workers = 8
	}
	if c.Buffer <= 0 {
		c.Buffer = 1024
	}
	if c.PublishTimeout <= 0 {
		c.PublishTimeout = 10 * time.Second
	}
	return c
}

// Dispatcher moves publishing off the request path. Events are sharded by
// room so that one room is always published by the same worker, in order.
type Dispatcher struct {
	next   Publisher
	logger *log.Logger
	cfg    DispatcherConfig

	mu     sync.RWMutex
	shards []chan domain.Event
	closed bool
	wg     sync.WaitGroup
}

func NewDispatcher(next Publisher, logger *log.Logger, cfg DispatcherConfig) *Dispatcher {
	if logger == nil {
		panic("Logger is not initialized")
	}
	cfg = cfg.withDefaults()
	d := &Dispatcher{next: next, logger: logger, cfg: cfg}
	per := cfg.Buffer / cfg.Workers
	if per < 1 {
		per = 1
	}
	d.shards = make([]chan domain.Event, cfg.Workers)
	for i := range d.shards {
		d.shards[i] = make(chan domain.Event, per)
		d.wg.Add(1)
		go d.worker(i, d.shards[i])
	}
	logger.Infof("event dispatcher started, workers: %d, buffer: %d, handoff: %v", cfg.Workers, cfg.Buffer, cfg.HandoffTimeout)
	return d
}

func (d *Dispatcher) worker(id int, events <-chan domain.Event) {
	defer d.wg.Done()
	for ev := range events {
		ctx, cancel := context.WithTimeout(context.Background(), d.cfg.PublishTimeout)
		err := d.next.Publish(ctx, ev)
		cancel()
		if err != nil {
			d.logger.WithError(err).WithFields(log.Fields{
				"room":   ev.Room,
				"event":  ev.Type,
				"worker": id,
			}).Error("publish failed")
		}
	}
}

func (d *Dispatcher) shard(room string) int {
	return int(crc32.ChecksumIEEE([]byte(room)) % uint32(len(d.shards)))
}

// Publish queues ev without waiting for delivery. The caller's context only
// bounds the handoff.
func (d *Dispatcher) Publish(ctx context.Context, ev domain.Event) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return ErrDispatcherClosed
	}
	ch := d.shards[d.shard(ev.Room)]

	select {
	case ch <- ev:
		return nil
	default:
	}
	if d.cfg.HandoffTimeout <= 0 {
		return ErrSaturated
	}

	timer := time.NewTimer(d.cfg.HandoffTimeout)
	defer timer.Stop()
	select {
	case ch <- ev:
		return nil
	case <-timer.C:
		return ErrSaturated
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting events, drains what is queued and waits for the
// workers.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	for _, ch := range d.shards {
		close(ch)
	}
	d.mu.Unlock()
	d.wg.Wait()
}
