package reconciler

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"taskboard/domain"
)

// State is where a mirror stands in the optimistic mutation cycle.
type State int

const (
	Idle State = iota
	Optimistic
	Confirmed
	RolledBack
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Optimistic:
		return "optimistic"
	case Confirmed:
		return "confirmed"
	case RolledBack:
		return "rolled-back"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// ErrMirrorClosed is returned when submitting to a board that was closed.
var ErrMirrorClosed = errors.New("mirror closed")

// ErrRebaseConflict fails a queued mutation that no longer applies after the
// confirmed board changed underneath it.
var ErrRebaseConflict = errors.New("mutation no longer applies")

// Pending tracks one submitted mutation until the server answers.
type Pending struct {
	m      Mutation
	done   chan struct{}
	result domain.Board
	err    error
}

// Wait blocks until the mutation is confirmed or rolled back.
func (p *Pending) Wait(ctx context.Context) (domain.Board, error) {
	select {
	case <-p.done:
		return p.result, p.err
	case <-ctx.Done():
		return domain.Board{}, ctx.Err()
	}
}

func (p *Pending) finish(b domain.Board, err error) {
	p.result = b
	p.err = err
	close(p.done)
}

// Mirror is the local copy of one open board. The confirmed snapshot is
// the last canonical document seen; the view is that snapshot with every
// queued mutation applied on top. Mutations are sent one at a time in the
// order they were submitted.
//
// Documents are taken in arrival order. Broadcasts for a room arrive in the
// order the server published them, so the event channel is authoritative:
// a send's own response is kept only when no other user's broadcast arrived
// after the send started.
type Mirror struct {
	boardID string
	r       *Reconciler

	mu        sync.Mutex
	confirmed domain.Board
	view      domain.Board
	pending   []*Pending
	state     State
	sending   bool
	closed    bool
	inflight  bool
	// overtaken is set when another user's document arrived while the
	// head of pending was on the wire.
	overtaken bool
	// echo is the last own broadcast held back while mutations were
	// pending. It becomes confirmed once the queue drains unless a newer
	// document replaced it first.
	echo *domain.Board
}

func newMirror(r *Reconciler, b domain.Board) *Mirror {
	return &Mirror{boardID: b.ID, r: r, confirmed: b.Clone(), view: b.Clone()}
}

func (m *Mirror) BoardID() string { return m.boardID }

// Board returns a copy of what the user should currently see.
func (m *Mirror) Board() domain.Board {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.view.Clone()
}

// Confirmed returns a copy of the last canonical document.
func (m *Mirror) Confirmed() domain.Board {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.confirmed.Clone()
}

func (m *Mirror) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// PendingCount reports how many mutations await a server answer.
func (m *Mirror) PendingCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

// Submit applies mut to the view immediately and queues it for the server.
// A mutation that does not apply locally is rejected without being sent.
func (m *Mirror) Submit(mut Mutation) (*Pending, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrMirrorClosed
	}
	next := m.view.Clone()
	if err := mut.Apply(&next); err != nil {
		m.mu.Unlock()
		return nil, err
	}
	p := &Pending{m: mut, done: make(chan struct{})}
	m.view = next
	m.pending = append(m.pending, p)
	prev := m.state
	m.state = Optimistic
	start := !m.sending
	m.sending = true
	view := m.view.Clone()
	m.mu.Unlock()

	m.r.transition(m.boardID, prev, Optimistic)
	m.r.changed(m.boardID, view)
	if start {
		go m.drain()
	}
	return p, nil
}

// drain sends queued mutations until the queue is empty. A send is never
// cancelled once started; only the reconciler's send timeout bounds it.
func (m *Mirror) drain() {
	for {
		m.mu.Lock()
		if len(m.pending) == 0 || m.closed {
			abandoned := m.pending
			m.pending = nil
			m.sending = false
			m.mu.Unlock()
			for _, p := range abandoned {
				p.finish(domain.Board{}, ErrMirrorClosed)
			}
			return
		}
		p := m.pending[0]
		next := m.confirmed.Clone()
		applyErr := p.m.Apply(&next)
		m.inflight = true
		m.overtaken = false
		m.mu.Unlock()

		var doc domain.Board
		err := applyErr
		if err == nil {
			ctx, cancel := context.WithTimeout(context.Background(), m.r.sendTimeout)
			doc, err = p.m.Send(ctx, m.r.gw, next)
			cancel()
		} else {
			err = fmt.Errorf("%w: %w", ErrRebaseConflict, err)
		}
		m.settle(p, doc, err)
	}
}

func (m *Mirror) settle(p *Pending, doc domain.Board, err error) {
	m.mu.Lock()
	m.pending = m.pending[1:]
	var outcome State
	if err == nil {
		outcome = Confirmed
		if !m.overtaken {
			m.confirmed = doc.Clone()
			m.echo = nil
		}
	} else {
		outcome = RolledBack
	}
	m.inflight = false
	m.overtaken = false
	if len(m.pending) == 0 && m.echo != nil {
		m.confirmed = *m.echo
		m.echo = nil
	}
	m.rebuildLocked()
	final := Idle
	if len(m.pending) > 0 {
		final = Optimistic
	}
	m.state = final
	view := m.view.Clone()
	m.mu.Unlock()

	p.finish(doc, err)
	m.r.transition(m.boardID, Optimistic, outcome)
	if err != nil {
		m.r.logger.WithError(err).WithField("board", m.boardID).Warn("mutation rolled back")
		m.r.failed(m.boardID, err)
	}
	m.r.transition(m.boardID, outcome, final)
	m.r.changed(m.boardID, view)
}

// rebuildLocked recomputes the view as the confirmed snapshot with every
// queued mutation applied in order. A mutation that no longer applies is
// left out of the view and fails when its turn to be sent comes.
func (m *Mirror) rebuildLocked() {
	view := m.confirmed.Clone()
	for _, p := range m.pending {
		next := view.Clone()
		if err := p.m.Apply(&next); err != nil {
			continue
		}
		view = next
	}
	m.view = view
}

// applyRemote replaces the confirmed snapshot with a canonical document
// received from the server outside of this mirror's own requests. The
// document is taken as is; updatedAt plays no part in ordering.
func (m *Mirror) applyRemote(doc domain.Board, userID string, force bool) bool {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return false
	}
	if !force && userID != "" && userID == m.r.userID && len(m.pending) > 0 {
		// Our own write is now the newest on the channel, so the pending
		// response is at least as recent as anything seen before it.
		if m.inflight {
			m.overtaken = false
		}
		echo := doc.Clone()
		m.echo = &echo
		m.mu.Unlock()
		m.r.logger.WithField("board", m.boardID).Debug("suppressed own broadcast")
		return false
	}
	if m.inflight {
		m.overtaken = true
	}
	m.echo = nil
	m.confirmed = doc.Clone()
	m.rebuildLocked()
	view := m.view.Clone()
	m.mu.Unlock()

	m.r.changed(m.boardID, view)
	return true
}

func (m *Mirror) close() {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
}
