package reconciler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"

	"taskboard/domain"
	"taskboard/gateway"
	"taskboard/hub"
	"taskboard/storage"
)

// server is an in-process board service: store, gateway and hub.
type server struct {
	store  *storage.Memory
	stalls *stallingStore
	gw     *gateway.Gateway
	hub    *hub.Hub
}

func newServer(t *testing.T) *server {
	t.Helper()
	logger, _ := test.NewNullLogger()
	h := hub.New(logger)
	t.Cleanup(h.Close)
	store := storage.NewMemory()
	if _, err := store.Put(context.Background(), seedBoard()); err != nil {
		t.Fatalf("seed: %v", err)
	}
	stalls := &stallingStore{Memory: store}
	return &server{store: store, stalls: stalls, gw: gateway.New(stalls, h, logger), hub: h}
}

// stallingStore holds the next Put of a board with a given title before it
// reaches the store, so tests can commit writes out of call order.
type stallingStore struct {
	*storage.Memory

	mu    sync.Mutex
	title string
	held  chan struct{}
	gate  chan struct{}
}

// stall arms the store. held is closed once the matching Put is waiting;
// closing the returned gate lets it through.
func (s *stallingStore) stall(title string) (held <-chan struct{}, gate chan struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.title = title
	s.held = make(chan struct{})
	s.gate = make(chan struct{})
	return s.held, s.gate
}

func (s *stallingStore) Put(ctx context.Context, b domain.Board) (domain.Board, error) {
	s.mu.Lock()
	var held, gate chan struct{}
	if s.gate != nil && b.Title == s.title {
		held, gate = s.held, s.gate
		s.held, s.gate = nil, nil
	}
	s.mu.Unlock()
	if gate != nil {
		close(held)
		select {
		case <-gate:
		case <-ctx.Done():
			return domain.Board{}, ctx.Err()
		}
	}
	return s.Memory.Put(ctx, b)
}

func seedBoard() domain.Board {
	b := domain.EmptyBoard()
	b.ID = "B1"
	b.Title = "Sprint"
	b.Groups = []domain.Group{
		{ID: "A", Title: "Todo", Tasks: []domain.Task{{ID: "t1", Title: "one"}, {ID: "t2", Title: "two"}}},
		{ID: "C", Title: "Done", Tasks: []domain.Task{}},
	}
	b.Normalize()
	return b
}

// actorGateway calls the server gateway as a given user. gate, when set,
// holds every call until a value is received; fail, when set, replaces the
// server answer with an error.
type actorGateway struct {
	g    *gateway.Gateway
	user string

	mu   sync.Mutex
	gate chan struct{}
	fail error
}

func (a *actorGateway) ctx(ctx context.Context) (context.Context, error) {
	a.mu.Lock()
	gate, fail := a.gate, a.fail
	a.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if fail != nil {
		return nil, fail
	}
	return gateway.WithActor(ctx, a.user), nil
}

func (a *actorGateway) hold() chan struct{} {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.gate = make(chan struct{})
	return a.gate
}

func (a *actorGateway) release() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.gate != nil {
		close(a.gate)
		a.gate = nil
	}
}

func (a *actorGateway) failWith(err error) {
	a.mu.Lock()
	a.fail = err
	a.mu.Unlock()
}

func (a *actorGateway) GetBoard(ctx context.Context, id string) (domain.Board, error) {
	return a.g.GetBoard(gateway.WithActor(ctx, a.user), id)
}

func (a *actorGateway) UpdateBoard(ctx context.Context, b domain.Board) (domain.Board, error) {
	ctx, err := a.ctx(ctx)
	if err != nil {
		return domain.Board{}, err
	}
	return a.g.UpdateBoard(ctx, b)
}

func (a *actorGateway) AddGroup(ctx context.Context, boardID string, g domain.Group) (domain.Board, error) {
	ctx, err := a.ctx(ctx)
	if err != nil {
		return domain.Board{}, err
	}
	return a.g.AddGroup(ctx, boardID, g)
}

func (a *actorGateway) UpdateGroup(ctx context.Context, boardID string, g domain.Group) (domain.Board, error) {
	ctx, err := a.ctx(ctx)
	if err != nil {
		return domain.Board{}, err
	}
	return a.g.UpdateGroup(ctx, boardID, g)
}

func (a *actorGateway) RemoveGroup(ctx context.Context, boardID, groupID string) (domain.Board, error) {
	ctx, err := a.ctx(ctx)
	if err != nil {
		return domain.Board{}, err
	}
	return a.g.RemoveGroup(ctx, boardID, groupID)
}

func (a *actorGateway) AddTask(ctx context.Context, boardID, groupID string, t domain.Task) (domain.Board, error) {
	ctx, err := a.ctx(ctx)
	if err != nil {
		return domain.Board{}, err
	}
	return a.g.AddTask(ctx, boardID, groupID, t)
}

func (a *actorGateway) UpdateTask(ctx context.Context, boardID, groupID string, t domain.Task) (domain.Board, error) {
	ctx, err := a.ctx(ctx)
	if err != nil {
		return domain.Board{}, err
	}
	return a.g.UpdateTask(ctx, boardID, groupID, t)
}

func (a *actorGateway) RemoveTask(ctx context.Context, boardID, groupID, taskID string) (domain.Board, error) {
	ctx, err := a.ctx(ctx)
	if err != nil {
		return domain.Board{}, err
	}
	return a.g.RemoveTask(ctx, boardID, groupID, taskID)
}

func (a *actorGateway) MoveTask(ctx context.Context, boardID, taskID, toGroupID string, position int) (domain.Board, error) {
	ctx, err := a.ctx(ctx)
	if err != nil {
		return domain.Board{}, err
	}
	return a.g.MoveTask(ctx, boardID, taskID, toGroupID, position)
}

func (a *actorGateway) AddLabel(ctx context.Context, boardID string, l domain.Label) (domain.Board, error) {
	ctx, err := a.ctx(ctx)
	if err != nil {
		return domain.Board{}, err
	}
	return a.g.AddLabel(ctx, boardID, l)
}

func (a *actorGateway) UpdateLabel(ctx context.Context, boardID string, l domain.Label) (domain.Board, error) {
	ctx, err := a.ctx(ctx)
	if err != nil {
		return domain.Board{}, err
	}
	return a.g.UpdateLabel(ctx, boardID, l)
}

func (a *actorGateway) RemoveLabel(ctx context.Context, boardID, labelID string) (domain.Board, error) {
	ctx, err := a.ctx(ctx)
	if err != nil {
		return domain.Board{}, err
	}
	return a.g.RemoveLabel(ctx, boardID, labelID)
}

// hubSubscriber is a connection to the in-process hub whose events are fed
// straight into a reconciler.
type hubSubscriber struct {
	hub    *hub.Hub
	connID string

	mu      sync.Mutex
	handler func(domain.Event)
}

func (s *hubSubscriber) Send(ev domain.Event) error {
	s.mu.Lock()
	h := s.handler
	s.mu.Unlock()
	if h != nil {
		h(ev)
	}
	return nil
}

func (s *hubSubscriber) Close() error { return nil }

func (s *hubSubscriber) Join(ctx context.Context, boardID string) error {
	return s.hub.Join(boardID, s.connID)
}

func (s *hubSubscriber) Leave(ctx context.Context, boardID string) error {
	s.hub.Leave(boardID, s.connID)
	return nil
}

type transitionLog struct {
	mu    sync.Mutex
	steps []State
}

func (l *transitionLog) record(_ string, from, to State) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.steps) == 0 {
		l.steps = append(l.steps, from)
	}
	l.steps = append(l.steps, to)
}

func (l *transitionLog) snapshot() []State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]State(nil), l.steps...)
}

type errorLog struct {
	mu   sync.Mutex
	errs []error
}

func (l *errorLog) record(_ string, err error) {
	l.mu.Lock()
	l.errs = append(l.errs, err)
	l.mu.Unlock()
}

func (l *errorLog) snapshot() []error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]error(nil), l.errs...)
}

type client struct {
	r           *Reconciler
	gw          *actorGateway
	sub         *hubSubscriber
	transitions *transitionLog
	errors      *errorLog
}

func newClient(t *testing.T, srv *server, user string) *client {
	t.Helper()
	logger, _ := test.NewNullLogger()
	gw := &actorGateway{g: srv.gw, user: user}
	sub := &hubSubscriber{hub: srv.hub, connID: "conn-" + user}
	if err := srv.hub.Connect(sub.connID, sub); err != nil {
		t.Fatalf("connect: %v", err)
	}
	c := &client{gw: gw, sub: sub, transitions: &transitionLog{}, errors: &errorLog{}}
	c.r = New(user, gw, sub, logger,
		OnTransition(c.transitions.record),
		OnError(c.errors.record),
		WithSendTimeout(5*time.Second),
	)
	sub.mu.Lock()
	sub.handler = func(ev domain.Event) { c.r.HandleEvent(ev) }
	sub.mu.Unlock()
	return c
}

func (c *client) open(t *testing.T, boardID string) *Mirror {
	t.Helper()
	m, err := c.r.Open(context.Background(), boardID)
	if err != nil {
		t.Fatalf("open %s: %v", boardID, err)
	}
	return m
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func wait(t *testing.T, p *Pending) (domain.Board, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	b, err := p.Wait(ctx)
	if errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("mutation never settled")
	}
	return b, err
}
