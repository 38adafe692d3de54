package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus/hooks/test"

	"taskboard/api"
	"taskboard/domain"
	"taskboard/gateway"
	"taskboard/hub"
	"taskboard/storage"
)

type testServer struct {
	srv   *httptest.Server
	store *storage.Memory
	hub   *hub.Hub
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	logger, _ := test.NewNullLogger()
	h := hub.New(logger)
	store := storage.NewMemory()
	b := domain.EmptyBoard()
	b.ID = "B1"
	b.Title = "Sprint"
	b.Groups = []domain.Group{
		{ID: "A", Title: "Todo", Tasks: []domain.Task{{ID: "t1", Title: "one"}, {ID: "t2", Title: "two"}}},
		{ID: "C", Title: "Done"},
	}
	if _, err := store.Put(context.Background(), b); err != nil {
		t.Fatalf("seed: %v", err)
	}
	e := echo.New()
	api.Register(e, gateway.New(store, h, logger), h, api.GuestAuth{}, nil, logger)
	srv := httptest.NewServer(e)
	t.Cleanup(func() {
		srv.Close()
		h.Close()
	})
	return &testServer{srv: srv, store: store, hub: h}
}

func (s *testServer) socketURL() string {
	return "ws" + strings.TrimPrefix(s.srv.URL, "http") + "/socket"
}

func waitUntil(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHTTPBoardOperations(t *testing.T) {
	s := newTestServer(t)
	c := NewHTTP(s.srv.URL, "", "u1")
	ctx := context.Background()

	created, err := c.AddBoard(ctx, domain.Board{Title: "Roadmap"})
	if err != nil || created.ID == "" {
		t.Fatalf("add board: %+v, %v", created, err)
	}
	if _, err := c.AddBoard(ctx, created); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("duplicate add error = %v", err)
	}

	list, err := c.QueryBoards(ctx, domain.BoardFilter{Text: "ROAD"})
	if err != nil || len(list) != 1 || list[0].ID != created.ID {
		t.Fatalf("query: %+v, %v", list, err)
	}

	b, err := c.MoveTask(ctx, "B1", "t1", "C", 0)
	if err != nil {
		t.Fatalf("move: %v", err)
	}
	if len(b.Groups[0].Tasks) != 1 || b.Groups[1].Tasks[0].ID != "t1" {
		t.Fatalf("unexpected move result %+v", b.Groups)
	}

	b, err = c.AddGroup(ctx, "B1", domain.Group{ID: "G", Title: "Review"})
	if err != nil || b.GroupIndex("G") != 2 {
		t.Fatalf("add group: %v", err)
	}
	b, err = c.UpdateGroup(ctx, "B1", domain.Group{ID: "G", Title: "Reviewed", Tasks: []domain.Task{}})
	if err != nil || b.Groups[2].Title != "Reviewed" {
		t.Fatalf("update group: %v", err)
	}
	b, err = c.AddTask(ctx, "B1", "G", domain.Task{ID: "t3", Title: "three"})
	if err != nil {
		t.Fatalf("add task: %v", err)
	}
	b, err = c.UpdateTask(ctx, "B1", "G", domain.Task{ID: "t3", Title: "three!", LabelIDs: []string{"l101"}})
	if err != nil {
		t.Fatalf("update task: %v", err)
	}
	b, err = c.AddLabel(ctx, "B1", domain.Label{ID: "lx", Title: "x"})
	if err != nil {
		t.Fatalf("add label: %v", err)
	}
	b, err = c.UpdateLabel(ctx, "B1", domain.Label{ID: "lx", Title: "y"})
	if err != nil || b.Labels[b.LabelIndex("lx")].Title != "y" {
		t.Fatalf("update label: %v", err)
	}
	b, err = c.RemoveLabel(ctx, "B1", "l101")
	if err != nil {
		t.Fatalf("remove label: %v", err)
	}
	gi, ti, _ := b.FindTask("t3")
	if len(b.Groups[gi].Tasks[ti].LabelIDs) != 0 {
		t.Fatalf("label removal did not cascade")
	}
	if _, err = c.RemoveTask(ctx, "B1", "G", "t3"); err != nil {
		t.Fatalf("remove task: %v", err)
	}
	if _, err = c.RemoveGroup(ctx, "B1", "G"); err != nil {
		t.Fatalf("remove group: %v", err)
	}

	removed, err := c.RemoveBoard(ctx, created.ID)
	if err != nil || removed != created.ID {
		t.Fatalf("remove board: %q, %v", removed, err)
	}
}

func TestHTTPErrorMapping(t *testing.T) {
	s := newTestServer(t)
	c := NewHTTP(s.srv.URL, "", "u1")
	ctx := context.Background()

	_, err := c.GetBoard(ctx, "ghost")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("get ghost error = %v", err)
	}
	var se *StatusError
	if !errors.As(err, &se) || se.Status != http.StatusNotFound || se.Msg == "" {
		t.Fatalf("expected status error with message, got %v", err)
	}

	if _, err := c.UpdateBoard(ctx, domain.Board{ID: "ghost"}); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("update ghost error = %v", err)
	}
	if _, err := c.UpdateBoard(ctx, domain.Board{}); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("update without id error = %v", err)
	}
	if _, err := c.MoveTask(ctx, "B1", "t1", "C", 9); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("bad move error = %v", err)
	}

	s.srv.Close()
	if _, err := c.GetBoard(ctx, "B1"); !errors.Is(err, domain.ErrPersistence) {
		t.Fatalf("unreachable server error = %v", err)
	}
}

func TestStreamJoinReceivesUpdates(t *testing.T) {
	s := newTestServer(t)
	logger, _ := test.NewNullLogger()
	got := make(chan domain.Event, 16)
	header := http.Header{}
	header.Set(api.HeaderUserID, "watcher")
	st := NewStream(s.socketURL(), header, func(ev domain.Event) { got <- ev }, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = st.Run(ctx) }()
	if err := st.WaitConnected(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := st.Join(ctx, "B1"); err != nil {
		t.Fatalf("join: %v", err)
	}
	if len(s.hub.Members("B1")) != 1 {
		t.Fatalf("join returned before the server registered it")
	}

	if _, err := NewHTTP(s.srv.URL, "", "writer").MoveTask(ctx, "B1", "t2", "C", 0); err != nil {
		t.Fatalf("move: %v", err)
	}
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-got:
			if ev.Type != domain.EventUpdateBoard {
				continue
			}
			if ev.UserID != "writer" || ev.Room != "B1" {
				t.Fatalf("unexpected event %+v", ev)
			}
			return
		case <-deadline:
			t.Fatalf("no update received")
		}
	}
}

func TestStreamReconnectRejoinsAndNotifies(t *testing.T) {
	s := newTestServer(t)
	logger, _ := test.NewNullLogger()
	reconnected := make(chan struct{}, 4)
	st := NewStream(s.socketURL(), nil, nil, logger,
		WithBackoff(10*time.Millisecond, 50*time.Millisecond),
		OnReconnect(func(context.Context) { reconnected <- struct{}{} }),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = st.Run(ctx) }()
	if err := st.WaitConnected(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := st.Join(ctx, "B1"); err != nil {
		t.Fatalf("join: %v", err)
	}
	first := s.hub.Members("B1")
	if len(first) != 1 {
		t.Fatalf("members = %v", first)
	}

	s.hub.Disconnect(first[0])

	select {
	case <-reconnected:
	case <-time.After(3 * time.Second):
		t.Fatalf("OnReconnect not called")
	}
	members := s.hub.Members("B1")
	if len(members) != 1 || members[0] == first[0] {
		t.Fatalf("room not rejoined on a new connection: %v", members)
	}
}

func TestStreamLeave(t *testing.T) {
	s := newTestServer(t)
	logger, _ := test.NewNullLogger()
	st := NewStream(s.socketURL(), nil, nil, logger)
	if err := st.Join(context.Background(), "B1"); err != nil {
		t.Fatalf("join before connect should only be remembered: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = st.Run(ctx) }()
	waitUntil(t, "remembered room joined", func() bool { return len(s.hub.Members("B1")) == 1 })

	if err := st.Leave(ctx, "B1"); err != nil {
		t.Fatalf("leave: %v", err)
	}
	waitUntil(t, "room left", func() bool { return len(s.hub.Members("B1")) == 0 })
}
