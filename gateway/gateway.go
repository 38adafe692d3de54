package gateway

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"taskboard/domain"
)

// Store persists whole board documents. Put replaces the stored document
// and assigns an id when the board has none; there is no version check.
type Store interface {
	Get(ctx context.Context, id string) (domain.Board, error)
	Query(ctx context.Context, f domain.BoardFilter) ([]domain.Board, error)
	Put(ctx context.Context, b domain.Board) (domain.Board, error)
	Delete(ctx context.Context, id string) (string, error)
}

// Publisher receives the update-board event after every successful write.
type Publisher interface {
	Publish(ctx context.Context, ev domain.Event) error
}

// Gateway is the only path by which boards change. Every write is a
// read-modify-write of the whole document followed by one broadcast to the
// board's room.
type Gateway struct {
	store     Store
	publisher Publisher
	logger    *log.Logger
	now       func() time.Time
	lastStamp atomic.Int64
}

func New(store Store, publisher Publisher, logger *log.Logger) *Gateway {
	if store == nil {
		panic("gateway.New: store is nil")
	}
	if logger == nil {
		panic("Logger is not initialized")
	}
	return &Gateway{store: store, publisher: publisher, logger: logger, now: time.Now}
}

// nextStamp returns a strictly increasing millisecond stamp for updatedAt.
func (g *Gateway) nextStamp() int64 {
	for {
		now := g.now().UnixMilli()
		last := g.lastStamp.Load()
		if now <= last {
			now = last + 1
		}
		if g.lastStamp.CompareAndSwap(last, now) {
			return now
		}
	}
}

// storeErr keeps typed domain errors and wraps anything else as a
// persistence failure.
func storeErr(op string, err error) error {
	if errors.Is(err, domain.ErrNotFound) || errors.Is(err, domain.ErrPersistence) || errors.Is(err, domain.ErrValidation) {
		return err
	}
	return &domain.PersistenceError{Op: op, Err: err}
}

func (g *Gateway) QueryBoards(ctx context.Context, f domain.BoardFilter) ([]domain.Board, error) {
	m, ctx := newOpMetrics(ctx, g.logger, "query", "")
	start := time.Now()
	boards, err := g.store.Query(ctx, f)
	m.ObserveStore(time.Since(start))
	if err != nil {
		err = storeErr("query boards", err)
		m.SetErrorStage("store")
		m.Log(err)
		return nil, err
	}
	m.Log(nil)
	return boards, nil
}

func (g *Gateway) GetBoard(ctx context.Context, id string) (domain.Board, error) {
	m, ctx := newOpMetrics(ctx, g.logger, "get", id)
	b, err := g.get(ctx, m, id)
	m.Log(err)
	return b, err
}

func (g *Gateway) get(ctx context.Context, m *opMetrics, id string) (domain.Board, error) {
	if id == "" {
		return domain.Board{}, domain.Invalid("board id is required")
	}
	start := time.Now()
	b, err := g.store.Get(ctx, id)
	m.ObserveStore(time.Since(start))
	if err != nil {
		m.SetErrorStage("store")
		return domain.Board{}, storeErr("get board", err)
	}
	return b, nil
}

// AddBoard stores a new board. A client-chosen id is kept as is; a board
// without one gets a fresh id. Creating a board is not broadcast.
func (g *Gateway) AddBoard(ctx context.Context, b domain.Board) (domain.Board, error) {
	m, ctx := newOpMetrics(ctx, g.logger, "add_board", b.ID)
	saved, err := g.addBoard(ctx, m, b)
	m.Log(err)
	return saved, err
}

func (g *Gateway) addBoard(ctx context.Context, m *opMetrics, b domain.Board) (domain.Board, error) {
	b.Normalize()
	if err := b.Validate(); err != nil {
		m.SetErrorStage("validate")
		return domain.Board{}, err
	}
	if b.ID != "" {
		_, err := g.store.Get(ctx, b.ID)
		switch {
		case err == nil:
			m.SetErrorStage("validate")
			return domain.Board{}, domain.Invalid("board %s already exists", b.ID)
		case !errors.Is(err, domain.ErrNotFound):
			m.SetErrorStage("store")
			return domain.Board{}, storeErr("get board", err)
		}
	}
	b.UpdatedAt = g.nextStamp()
	start := time.Now()
	saved, err := g.store.Put(ctx, b)
	m.ObserveStore(time.Since(start))
	if err != nil {
		m.SetErrorStage("store")
		return domain.Board{}, storeErr("put board", err)
	}
	m.SetBoard(saved.ID)
	return saved, nil
}

// UpdateBoard replaces an existing board and broadcasts the result to its
// room. Concurrent updates are last-write-wins.
func (g *Gateway) UpdateBoard(ctx context.Context, b domain.Board) (domain.Board, error) {
	m, ctx := newOpMetrics(ctx, g.logger, "update_board", b.ID)
	saved, err := g.updateBoard(ctx, m, b)
	m.Log(err)
	return saved, err
}

func (g *Gateway) updateBoard(ctx context.Context, m *opMetrics, b domain.Board) (domain.Board, error) {
	if b.ID == "" {
		m.SetErrorStage("validate")
		return domain.Board{}, domain.Invalid("board id is required for update")
	}
	if _, err := g.get(ctx, m, b.ID); err != nil {
		return domain.Board{}, err
	}
	return g.save(ctx, m, b)
}

// save validates, stamps, stores and broadcasts. The caller has already
// established that the board exists.
func (g *Gateway) save(ctx context.Context, m *opMetrics, b domain.Board) (domain.Board, error) {
	b.Normalize()
	if err := b.Validate(); err != nil {
		m.SetErrorStage("validate")
		return domain.Board{}, err
	}
	b.UpdatedAt = g.nextStamp()
	start := time.Now()
	saved, err := g.store.Put(ctx, b)
	m.ObserveStore(time.Since(start))
	if err != nil {
		m.SetErrorStage("store")
		return domain.Board{}, storeErr("put board", err)
	}
	g.broadcast(ctx, m, saved)
	return saved, nil
}

func (g *Gateway) broadcast(ctx context.Context, m *opMetrics, b domain.Board) {
	if g.publisher == nil {
		return
	}
	actor := ActorFrom(ctx)
	ev, err := domain.UpdateBoardEvent(b, actor)
	if err == nil {
		err = g.publisher.Publish(ctx, ev)
	}
	if err != nil {
		g.logger.WithError(err).WithFields(log.Fields{"board": b.ID, "user": actor}).Error("broadcast failed")
		return
	}
	m.SetPublished()
}

// RemoveBoard deletes the board and returns its id.
func (g *Gateway) RemoveBoard(ctx context.Context, id string) (string, error) {
	m, ctx := newOpMetrics(ctx, g.logger, "remove_board", id)
	if id == "" {
		err := domain.Invalid("board id is required")
		m.Log(err)
		return "", err
	}
	start := time.Now()
	removed, err := g.store.Delete(ctx, id)
	m.ObserveStore(time.Since(start))
	if err != nil {
		err = storeErr("delete board", err)
		m.SetErrorStage("store")
		m.Log(err)
		return "", err
	}
	m.Log(nil)
	return removed, nil
}

// edit fetches the board, applies fn to a copy, records an activity and
// saves the result.
func (g *Gateway) edit(ctx context.Context, op, boardID string, fn func(b *domain.Board) (domain.Activity, error)) (domain.Board, error) {
	m, ctx := newOpMetrics(ctx, g.logger, op, boardID)
	b, err := g.get(ctx, m, boardID)
	if err != nil {
		m.Log(err)
		return domain.Board{}, err
	}
	act, err := fn(&b)
	if err != nil {
		m.SetErrorStage("apply")
		m.Log(err)
		return domain.Board{}, err
	}
	act.CreatedAt = g.now().UnixMilli()
	if actor := ActorFrom(ctx); actor != "" {
		act.ByMember = memberFor(b, actor)
	}
	b.AddActivity(act)
	saved, err := g.save(ctx, m, b)
	m.Log(err)
	return saved, err
}

func memberFor(b domain.Board, userID string) *domain.Member {
	for _, mem := range b.Members {
		if mem.ID == userID {
			c := mem
			return &c
		}
	}
	return &domain.Member{ID: userID}
}

func (g *Gateway) AddGroup(ctx context.Context, boardID string, grp domain.Group) (domain.Board, error) {
	return g.edit(ctx, "add_group", boardID, func(b *domain.Board) (domain.Activity, error) {
		added, err := b.AddGroup(grp)
		if err != nil {
			return domain.Activity{}, err
		}
		return domain.Activity{Txt: fmt.Sprintf("added list %s", added.Title), GroupID: added.ID}, nil
	})
}

func (g *Gateway) UpdateGroup(ctx context.Context, boardID string, grp domain.Group) (domain.Board, error) {
	return g.edit(ctx, "update_group", boardID, func(b *domain.Board) (domain.Activity, error) {
		if err := b.UpdateGroup(grp); err != nil {
			return domain.Activity{}, err
		}
		return domain.Activity{Txt: fmt.Sprintf("updated list %s", grp.Title), GroupID: grp.ID}, nil
	})
}

func (g *Gateway) RemoveGroup(ctx context.Context, boardID, groupID string) (domain.Board, error) {
	return g.edit(ctx, "remove_group", boardID, func(b *domain.Board) (domain.Activity, error) {
		if err := b.RemoveGroup(groupID); err != nil {
			return domain.Activity{}, err
		}
		return domain.Activity{Txt: "removed a list", GroupID: groupID}, nil
	})
}

func (g *Gateway) AddTask(ctx context.Context, boardID, groupID string, t domain.Task) (domain.Board, error) {
	return g.edit(ctx, "add_task", boardID, func(b *domain.Board) (domain.Activity, error) {
		added, err := b.AddTask(groupID, t)
		if err != nil {
			return domain.Activity{}, err
		}
		return domain.Activity{Txt: fmt.Sprintf("added card %s", added.Title), GroupID: groupID, TaskID: added.ID}, nil
	})
}

func (g *Gateway) UpdateTask(ctx context.Context, boardID, groupID string, t domain.Task) (domain.Board, error) {
	return g.edit(ctx, "update_task", boardID, func(b *domain.Board) (domain.Activity, error) {
		if err := b.UpdateTask(groupID, t); err != nil {
			return domain.Activity{}, err
		}
		return domain.Activity{Txt: fmt.Sprintf("updated card %s", t.Title), GroupID: groupID, TaskID: t.ID}, nil
	})
}

func (g *Gateway) RemoveTask(ctx context.Context, boardID, groupID, taskID string) (domain.Board, error) {
	return g.edit(ctx, "remove_task", boardID, func(b *domain.Board) (domain.Activity, error) {
		if err := b.RemoveTask(groupID, taskID); err != nil {
			return domain.Activity{}, err
		}
		return domain.Activity{Txt: "removed a card", GroupID: groupID, TaskID: taskID}, nil
	})
}

func (g *Gateway) MoveTask(ctx context.Context, boardID, taskID, toGroupID string, position int) (domain.Board, error) {
	return g.edit(ctx, "move_task", boardID, func(b *domain.Board) (domain.Activity, error) {
		if err := b.MoveTask(taskID, toGroupID, position); err != nil {
			return domain.Activity{}, err
		}
		title := b.Groups[b.GroupIndex(toGroupID)].Title
		return domain.Activity{Txt: fmt.Sprintf("moved a card to %s", title), GroupID: toGroupID, TaskID: taskID}, nil
	})
}

func (g *Gateway) AddLabel(ctx context.Context, boardID string, l domain.Label) (domain.Board, error) {
	return g.edit(ctx, "add_label", boardID, func(b *domain.Board) (domain.Activity, error) {
		added, err := b.AddLabel(l)
		if err != nil {
			return domain.Activity{}, err
		}
		return domain.Activity{Txt: fmt.Sprintf("added label %s", added.Title)}, nil
	})
}

func (g *Gateway) UpdateLabel(ctx context.Context, boardID string, l domain.Label) (domain.Board, error) {
	return g.edit(ctx, "update_label", boardID, func(b *domain.Board) (domain.Activity, error) {
		if err := b.UpdateLabel(l); err != nil {
			return domain.Activity{}, err
		}
		return domain.Activity{Txt: fmt.Sprintf("updated label %s", l.Title)}, nil
	})
}

func (g *Gateway) RemoveLabel(ctx context.Context, boardID, labelID string) (domain.Board, error) {
	return g.edit(ctx, "remove_label", boardID, func(b *domain.Board) (domain.Activity, error) {
		if err := b.RemoveLabel(labelID); err != nil {
			return domain.Activity{}, err
		}
		return domain.Activity{Txt: "removed a label"}, nil
	})
}
