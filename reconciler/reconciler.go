package reconciler

import (
	"context"
	"errors"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"taskboard/domain"
)

// Subscriber joins and leaves board rooms on the event channel.
type Subscriber interface {
	Join(ctx context.Context, boardID string) error
	Leave(ctx context.Context, boardID string) error
}

// Reconciler keeps one Mirror per board the local user has open and feeds
// server broadcasts into them.
type Reconciler struct {
	userID      string
	gw          Gateway
	sub         Subscriber
	logger      *log.Logger
	sendTimeout time.Duration

	onError      func(boardID string, err error)
	onChange     func(boardID string, b domain.Board)
	onTransition func(boardID string, from, to State)

	mu      sync.Mutex
	mirrors map[string]*Mirror
	// opening holds the last broadcast received for a board between joining
	// its room and the initial fetch returning.
	opening map[string]*domain.Board
}

type Option func(*Reconciler)

// OnError is called whenever a mutation is rolled back. It is the hook for
// user-visible notifications.
func OnError(fn func(boardID string, err error)) Option {
	return func(r *Reconciler) { r.onError = fn }
}

// OnChange is called with the new view after every change to a mirror.
func OnChange(fn func(boardID string, b domain.Board)) Option {
	return func(r *Reconciler) { r.onChange = fn }
}

// OnTransition reports state machine steps, mostly for tests and tracing.
func OnTransition(fn func(boardID string, from, to State)) Option {
	return func(r *Reconciler) { r.onTransition = fn }
}

func WithSendTimeout(d time.Duration) Option {
	return func(r *Reconciler) {
		if d > 0 {
			r.sendTimeout = d
		}
	}
}

func New(userID string, gw Gateway, sub Subscriber, logger *log.Logger, opts ...Option) *Reconciler {
	if logger == nil {
		panic("Logger is not initialized")
	}
	r := &Reconciler{
		userID:      userID,
		gw:          gw,
		sub:         sub,
		logger:      logger,
		sendTimeout: 30 * time.Second,
		mirrors:     map[string]*Mirror{},
		opening:     map[string]*domain.Board{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Reconciler) UserID() string { return r.userID }

// Open starts viewing a board: it joins the room, then fetches the
// canonical document. Joining first means no update written after the
// fetch can be missed. Opening an open board returns the existing mirror.
func (r *Reconciler) Open(ctx context.Context, boardID string) (*Mirror, error) {
	r.mu.Lock()
	if m, ok := r.mirrors[boardID]; ok {
		r.mu.Unlock()
		return m, nil
	}
	if _, ok := r.opening[boardID]; !ok {
		r.opening[boardID] = nil
	}
	r.mu.Unlock()

	b, err := r.fetchJoined(ctx, boardID)

	r.mu.Lock()
	defer r.mu.Unlock()
	early := r.opening[boardID]
	delete(r.opening, boardID)
	if err != nil {
		return nil, err
	}
	if m, ok := r.mirrors[boardID]; ok {
		return m, nil
	}
	// A broadcast received after joining is taken over the fetch; any write
	// newer than it is still to come on the channel.
	if early != nil {
		b = *early
	}
	m := newMirror(r, b)
	r.mirrors[boardID] = m
	return m, nil
}

func (r *Reconciler) fetchJoined(ctx context.Context, boardID string) (domain.Board, error) {
	if err := r.sub.Join(ctx, boardID); err != nil {
		return domain.Board{}, err
	}
	b, err := r.gw.GetBoard(ctx, boardID)
	if err != nil {
		_ = r.sub.Leave(ctx, boardID)
		return domain.Board{}, err
	}
	return b, nil
}

// Mirror returns the mirror of an open board.
func (r *Reconciler) Mirror(boardID string) (*Mirror, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.mirrors[boardID]
	return m, ok
}

// Close stops viewing a board. Mutations already sent still complete.
func (r *Reconciler) Close(ctx context.Context, boardID string) error {
	r.mu.Lock()
	m, ok := r.mirrors[boardID]
	delete(r.mirrors, boardID)
	r.mu.Unlock()
	if !ok {
		return nil
	}
	m.close()
	return r.sub.Leave(ctx, boardID)
}

// HandleEvent routes an event from the event channel. Only update-board
// events for open boards change anything. It reports whether a mirror took
// the document.
func (r *Reconciler) HandleEvent(ev domain.Event) bool {
	if ev.Type != domain.EventUpdateBoard {
		return false
	}
	doc, err := ev.Board()
	if err != nil {
		r.logger.WithError(err).WithField("board", ev.Room).Warn("unreadable board update")
		return false
	}
	r.mu.Lock()
	m, ok := r.mirrors[ev.Room]
	if !ok {
		if _, opening := r.opening[ev.Room]; opening {
			r.opening[ev.Room] = &doc
		}
		r.mu.Unlock()
		return false
	}
	r.mu.Unlock()
	return m.applyRemote(doc, ev.UserID, false)
}

// Resync re-joins every open board and replaces each confirmed snapshot
// with a freshly fetched document. Call it after the event channel
// reconnects; broadcasts missed while disconnected are not replayed.
func (r *Reconciler) Resync(ctx context.Context) error {
	r.mu.Lock()
	mirrors := make([]*Mirror, 0, len(r.mirrors))
	for _, m := range r.mirrors {
		mirrors = append(mirrors, m)
	}
	r.mu.Unlock()

	var errs []error
	for _, m := range mirrors {
		if err := r.sub.Join(ctx, m.boardID); err != nil {
			errs = append(errs, err)
			continue
		}
		b, err := r.gw.GetBoard(ctx, m.boardID)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		m.applyRemote(b, "", true)
	}
	if len(errs) > 0 {
		r.logger.WithError(errors.Join(errs...)).Warn("resync incomplete")
	}
	return errors.Join(errs...)
}

func (r *Reconciler) changed(boardID string, b domain.Board) {
	if r.onChange != nil {
		r.onChange(boardID, b)
	}
}

func (r *Reconciler) failed(boardID string, err error) {
	if r.onError != nil {
		r.onError(boardID, err)
	}
}

func (r *Reconciler) transition(boardID string, from, to State) {
	if r.onTransition != nil {
		r.onTransition(boardID, from, to)
	}
}
