package hub

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	log "github.com/sirupsen/logrus"

	"taskboard/domain"
)

// ErrUnknownConnection is returned for operations on a connection id that
// was never connected or has already gone away.
var ErrUnknownConnection = errors.New("unknown connection")

// Sink is the transport side of a connection. Send is only ever called from
// the connection's writer goroutine.
type Sink interface {
	Send(ev domain.Event) error
	Close() error
}

// Publisher hands an event to some delivery mechanism.
type Publisher interface {
	Publish(ctx context.Context, ev domain.Event) error
}

type conn struct {
	id    string
	sink  Sink
	out   chan domain.Event
	rooms map[string]struct{}
	done  chan struct{}
}

// Hub tracks which connections are joined to which rooms and delivers
// events to them. Each connection has a bounded queue drained by a single
// writer, so events reach one connection in the order they were queued.
type Hub struct {
	logger  *log.Logger
	buffer  int
	metrics *Metrics

	mu     sync.RWMutex
	conns  map[string]*conn
	rooms  map[string]map[string]*conn
	closed bool
	wg     sync.WaitGroup
}

type Option func(*Hub)

// WithBuffer sets the per-connection queue length.
func WithBuffer(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.buffer = n
		}
	}
}

func WithMetrics(m *Metrics) Option {
	return func(h *Hub) { h.metrics = m }
}

func New(logger *log.Logger, opts ...Option) *Hub {
	if logger == nil {
		panic("hub.New: logger is nil")
	}
	h := &Hub{
		logger: logger,
		buffer: 64,
		conns:  map[string]*conn{},
		rooms:  map[string]map[string]*conn{},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Connect registers a connection and starts its writer.
func (h *Hub) Connect(connID string, sink Sink) error {
	c := &conn{
		id:    connID,
		sink:  sink,
		out:   make(chan domain.Event, h.buffer),
		rooms: map[string]struct{}{},
		done:  make(chan struct{}),
	}
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return errors.New("hub closed")
	}
	if _, exists := h.conns[connID]; exists {
		h.mu.Unlock()
		return fmt.Errorf("connection %s already registered", connID)
	}
	h.conns[connID] = c
	h.wg.Add(1)
	h.mu.Unlock()

	h.metrics.connected()
	go h.writer(c)
	return nil
}

func (h *Hub) writer(c *conn) {
	defer h.wg.Done()
	for {
		select {
		case <-c.done:
			return
		case ev := <-c.out:
			if err := c.sink.Send(ev); err != nil {
				h.logger.WithError(err).WithField("conn", c.id).Warn("connection write failed, disconnecting")
				h.Disconnect(c.id)
				return
			}
			h.metrics.delivered()
		}
	}
}

// Join adds the connection to room. Joining twice is a no-op.
func (h *Hub) Join(room, connID string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.conns[connID]
	if !ok {
		return ErrUnknownConnection
	}
	members, ok := h.rooms[room]
	if !ok {
		members = map[string]*conn{}
		h.rooms[room] = members
	}
	members[connID] = c
	c.rooms[room] = struct{}{}
	return nil
}

func (h *Hub) Leave(room, connID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.conns[connID]
	if !ok {
		return
	}
	h.leaveLocked(room, c)
}

func (h *Hub) leaveLocked(room string, c *conn) {
	delete(c.rooms, room)
	members := h.rooms[room]
	delete(members, c.id)
	if len(members) == 0 {
		delete(h.rooms, room)
	}
}

// Disconnect removes the connection from every room, stops its writer and
// closes the sink. Unknown ids are ignored.
func (h *Hub) Disconnect(connID string) {
	h.mu.Lock()
	c, ok := h.conns[connID]
	if !ok {
		h.mu.Unlock()
		return
	}
	for room := range c.rooms {
		h.leaveLocked(room, c)
	}
	delete(h.conns, connID)
	close(c.done)
	h.mu.Unlock()

	h.metrics.disconnected()
	_ = c.sink.Close()
}

// Broadcast queues ev for every connection in room and returns how many
// accepted it. A connection whose queue is full is disconnected; its client
// is expected to reconnect and re-fetch.
func (h *Hub) Broadcast(room string, ev domain.Event) int {
	var slow []string
	delivered := 0

	h.mu.RLock()
	for id, c := range h.rooms[room] {
		select {
		case c.out <- ev:
			delivered++
		default:
			slow = append(slow, id)
		}
	}
	h.mu.RUnlock()

	for _, id := range slow {
		h.metrics.dropped()
		h.logger.WithError(domain.ErrBroadcastDelivery).WithFields(log.Fields{
			"room":  room,
			"conn":  id,
			"event": ev.Type,
		}).Warn("connection queue full, disconnecting")
		h.Disconnect(id)
	}
	return delivered
}

// EmitTo queues ev for a single connection.
func (h *Hub) EmitTo(connID string, ev domain.Event) error {
	h.mu.RLock()
	c, ok := h.conns[connID]
	if !ok {
		h.mu.RUnlock()
		return ErrUnknownConnection
	}
	select {
	case c.out <- ev:
		h.mu.RUnlock()
		return nil
	default:
		h.mu.RUnlock()
	}
	h.metrics.dropped()
	return fmt.Errorf("emit %s to %s: %w", ev.Type, connID, domain.ErrBroadcastDelivery)
}

// Publish broadcasts ev to its room. Delivery failures are handled inside
// Broadcast and never returned.
func (h *Hub) Publish(_ context.Context, ev domain.Event) error {
	if ev.Room == "" {
		return domain.Invalid("event %s has no room", ev.Type)
	}
	n := h.Broadcast(ev.Room, ev)
	h.logger.WithFields(log.Fields{"room": ev.Room, "event": ev.Type, "receivers": n}).Debug("broadcast")
	return nil
}

// Members lists the connection ids joined to room.
func (h *Hub) Members(room string) []string {
	h.mu.RLock()
	out := make([]string, 0, len(h.rooms[room]))
	for id := range h.rooms[room] {
		out = append(out, id)
	}
	h.mu.RUnlock()
	sort.Strings(out)
	return out
}

// Rooms lists the rooms a connection has joined.
func (h *Hub) Rooms(connID string) []string {
	h.mu.RLock()
	c, ok := h.conns[connID]
	var out []string
	if ok {
		out = make([]string, 0, len(c.rooms))
		for room := range c.rooms {
			out = append(out, room)
		}
	}
	h.mu.RUnlock()
	sort.Strings(out)
	return out
}

// Close disconnects everyone and waits for the writers to stop.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	ids := make([]string, 0, len(h.conns))
	for id := range h.conns {
		ids = append(ids, id)
	}
	h.mu.Unlock()

	for _, id := range ids {
		h.Disconnect(id)
	}
	h.wg.Wait()
}

// Publishers fans an event out to several publishers in order.
type Publishers []Publisher

func (ps Publishers) Publish(ctx context.Context, ev domain.Event) error {
	var errs []error
	for _, p := range ps {
		if err := p.Publish(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
