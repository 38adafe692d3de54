package client

import (
	"context"
	"net/http"
	"reflect"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"

	"taskboard/api"
	"taskboard/domain"
	"taskboard/reconciler"
)

type remoteUser struct {
	r      *reconciler.Reconciler
	stream *Stream
}

// connectUser wires a reconciler to the test server the way a browser
// client would: REST for mutations, the websocket for broadcasts.
func connectUser(t *testing.T, s *testServer, user string) *remoteUser {
	t.Helper()
	logger, _ := test.NewNullLogger()
	header := http.Header{}
	header.Set(api.HeaderUserID, user)
	st := NewStream(s.socketURL(), header, nil, logger, WithBackoff(10*time.Millisecond, 50*time.Millisecond))
	r := reconciler.New(user, NewHTTP(s.srv.URL, "", user), st, logger, reconciler.WithSendTimeout(5*time.Second))
	st.SetHandler(func(ev domain.Event) { r.HandleEvent(ev) })
	st.onReconnect = func(ctx context.Context) { _ = r.Resync(ctx) }

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = st.Run(ctx) }()
	if err := st.WaitConnected(ctx); err != nil {
		t.Fatalf("connect %s: %v", user, err)
	}
	return &remoteUser{r: r, stream: st}
}

func TestRemoteMirrorsConverge(t *testing.T) {
	s := newTestServer(t)
	alice := connectUser(t, s, "alice")
	bob := connectUser(t, s, "bob")
	ctx := context.Background()

	ma, err := alice.r.Open(ctx, "B1")
	if err != nil {
		t.Fatalf("alice open: %v", err)
	}
	mb, err := bob.r.Open(ctx, "B1")
	if err != nil {
		t.Fatalf("bob open: %v", err)
	}

	p, err := ma.Submit(&reconciler.MoveTask{TaskID: "t1", ToGroupID: "C", Position: 0})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if got := ma.Board().Groups[1].Tasks; len(got) != 1 || got[0].ID != "t1" {
		t.Fatalf("move not applied optimistically")
	}
	wctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	doc, err := p.Wait(wctx)
	if err != nil {
		t.Fatalf("move: %v", err)
	}

	waitUntil(t, "bob to converge", func() bool { return reflect.DeepEqual(mb.Board(), doc) })
	waitUntil(t, "alice to settle", func() bool { return ma.State() == reconciler.Idle })
	stored, _ := s.store.Get(ctx, "B1")
	if !reflect.DeepEqual(ma.Board(), stored) {
		t.Fatalf("alice mirror differs from stored board")
	}
}

func TestRemoteMirrorResyncsAfterDrop(t *testing.T) {
	s := newTestServer(t)
	alice := connectUser(t, s, "alice")
	ctx := context.Background()
	m, err := alice.r.Open(ctx, "B1")
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	members := s.hub.Members("B1")
	if len(members) != 1 {
		t.Fatalf("members = %v", members)
	}
	// Write while alice's connection is gone, then let it come back.
	s.hub.Disconnect(members[0])
	writer := NewHTTP(s.srv.URL, "", "bob")
	if _, err := writer.RemoveTask(ctx, "B1", "A", "t2"); err != nil {
		t.Fatalf("remove: %v", err)
	}

	waitUntil(t, "resync after reconnect", func() bool {
		view := m.Board()
		_, _, ok := view.FindTask("t2")
		return !ok
	})
}
