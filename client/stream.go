package client

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"taskboard/domain"
)

// ErrNotConnected is returned by Stream.Send while no socket is open.
var ErrNotConnected = errors.New("event stream not connected")

const (
	defaultMinBackoff = 250 * time.Millisecond
	defaultMaxBackoff = 10 * time.Second
	joinTimeout       = 5 * time.Second
)

// Stream keeps a websocket event channel open. It remembers joined rooms,
// joins them again after every reconnect and then calls OnReconnect so the
// caller can re-fetch what it missed.
type Stream struct {
	url     string
	header  http.Header
	dialer  *websocket.Dialer
	handler func(domain.Event)
	logger  *log.Logger

	onReconnect func(ctx context.Context)
	minBackoff  time.Duration
	maxBackoff  time.Duration

	mu      sync.Mutex
	conn    *websocket.Conn
	rooms   map[string]struct{}
	acks    map[string][]chan struct{}
	ready   chan struct{}
	writeMu sync.Mutex
}

type StreamOption func(*Stream)

// OnReconnect is called after the socket is re-established and every room
// has been joined again. It is not called for the first connection.
func OnReconnect(fn func(ctx context.Context)) StreamOption {
	return func(s *Stream) { s.onReconnect = fn }
}

func WithBackoff(min, max time.Duration) StreamOption {
	return func(s *Stream) {
		if min > 0 {
			s.minBackoff = min
		}
		if max >= s.minBackoff {
			s.maxBackoff = max
		}
	}
}

func WithDialer(d *websocket.Dialer) StreamOption {
	return func(s *Stream) { s.dialer = d }
}

// NewStream prepares a stream to url (ws:// or wss://). handler receives
// every event from the server, acknowledgements included, on the read
// goroutine.
func NewStream(url string, header http.Header, handler func(domain.Event), logger *log.Logger, opts ...StreamOption) *Stream {
	if logger == nil {
		panic("Logger is not initialized")
	}
	s := &Stream{
		url:        url,
		header:     header,
		dialer:     websocket.DefaultDialer,
		handler:    handler,
		logger:     logger,
		minBackoff: defaultMinBackoff,
		maxBackoff: defaultMaxBackoff,
		rooms:      map[string]struct{}{},
		acks:       map[string][]chan struct{}{},
		ready:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetHandler replaces the event handler. It is meant for wiring a handler
// that itself needs the stream, before Run is called.
func (s *Stream) SetHandler(h func(domain.Event)) {
	s.mu.Lock()
	s.handler = h
	s.mu.Unlock()
}

// Run dials and re-dials with exponential backoff until ctx is done.
func (s *Stream) Run(ctx context.Context) error {
	backoff := s.minBackoff
	first := true
	for {
		conn, _, err := s.dialer.DialContext(ctx, s.url, s.header)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.logger.WithError(err).WithField("retry_in", backoff).Warn("event stream dial failed")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff = min(backoff*2, s.maxBackoff)
			continue
		}
		backoff = s.minBackoff

		done := make(chan struct{})
		go func() {
			s.read(conn)
			close(done)
		}()
		s.attach(conn)
		s.rejoin(ctx)
		if !first {
			s.logger.Info("event stream reconnected")
			if s.onReconnect != nil {
				s.onReconnect(ctx)
			}
		}
		first = false

		select {
		case <-ctx.Done():
			_ = conn.Close()
			<-done
			s.detach(conn)
			return ctx.Err()
		case <-done:
			s.detach(conn)
		}
	}
}

func (s *Stream) attach(conn *websocket.Conn) {
	s.mu.Lock()
	s.conn = conn
	close(s.ready)
	s.mu.Unlock()
}

func (s *Stream) detach(conn *websocket.Conn) {
	s.mu.Lock()
	if s.conn == conn {
		s.conn = nil
		s.ready = make(chan struct{})
	}
	s.mu.Unlock()
	_ = conn.Close()
}

// WaitConnected blocks until a socket is open.
func (s *Stream) WaitConnected(ctx context.Context) error {
	s.mu.Lock()
	ready := s.ready
	s.mu.Unlock()
	select {
	case <-ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Stream) read(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.WithError(err).Warn("event stream closed")
			}
			return
		}
		var ev domain.Event
		if err := sonic.Unmarshal(data, &ev); err != nil {
			s.logger.WithError(err).Warn("unreadable event")
			continue
		}
		s.mu.Lock()
		if ev.Type == domain.EventJoined {
			for _, ch := range s.acks[ev.Room] {
				close(ch)
			}
			delete(s.acks, ev.Room)
		}
		h := s.handler
		s.mu.Unlock()
		if ev.Type == domain.EventError {
			s.logger.WithField("room", ev.Room).WithField("data", string(ev.Data)).Warn("server rejected message")
		}
		if h != nil {
			h(ev)
		}
	}
}

// Send writes one event to the open socket.
func (s *Stream) Send(ev domain.Event) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	data, err := sonic.Marshal(ev)
	if err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return conn.WriteMessage(websocket.TextMessage, data)
}

// Join subscribes to a board's room and waits for the server to confirm.
// While disconnected the room is only remembered and joined on connect.
func (s *Stream) Join(ctx context.Context, boardID string) error {
	s.mu.Lock()
	s.rooms[boardID] = struct{}{}
	connected := s.conn != nil
	s.mu.Unlock()
	if !connected {
		return nil
	}
	return s.join(ctx, boardID)
}

func (s *Stream) join(ctx context.Context, boardID string) error {
	ack := make(chan struct{})
	s.mu.Lock()
	s.acks[boardID] = append(s.acks[boardID], ack)
	s.mu.Unlock()

	if err := s.Send(domain.Event{Type: domain.EventJoinBoard, Room: boardID}); err != nil {
		s.dropAck(boardID, ack)
		if errors.Is(err, ErrNotConnected) {
			return nil
		}
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, joinTimeout)
	defer cancel()
	select {
	case <-ack:
		return nil
	case <-ctx.Done():
		s.dropAck(boardID, ack)
		return ctx.Err()
	}
}

func (s *Stream) dropAck(boardID string, ack chan struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	waiters := s.acks[boardID]
	for i, ch := range waiters {
		if ch == ack {
			s.acks[boardID] = append(waiters[:i], waiters[i+1:]...)
			break
		}
	}
	if len(s.acks[boardID]) == 0 {
		delete(s.acks, boardID)
	}
}

// Leave unsubscribes from a board's room.
func (s *Stream) Leave(ctx context.Context, boardID string) error {
	s.mu.Lock()
	delete(s.rooms, boardID)
	s.mu.Unlock()
	err := s.Send(domain.Event{Type: domain.EventLeaveBoard, Room: boardID})
	if errors.Is(err, ErrNotConnected) {
		return nil
	}
	return err
}

func (s *Stream) rejoin(ctx context.Context) {
	s.mu.Lock()
	rooms := make([]string, 0, len(s.rooms))
	for r := range s.rooms {
		rooms = append(rooms, r)
	}
	s.mu.Unlock()
	for _, r := range rooms {
		if err := s.join(ctx, r); err != nil {
			s.logger.WithError(err).WithField("room", r).Warn("rejoin failed")
		}
	}
}
