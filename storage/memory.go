package storage

import (
	"context"
	"sync"

	"taskboard/domain"
)

// Memory keeps boards in process. It backs tests and single-node setups.
type Memory struct {
	mu     sync.RWMutex
	boards map[string]domain.Board
	newID  domain.IDFunc
}

func NewMemory() *Memory {
	return &Memory{boards: map[string]domain.Board{}, newID: domain.MakeID}
}

// WithIDFunc replaces the generator used for boards put without an id.
func (m *Memory) WithIDFunc(fn domain.IDFunc) *Memory {
	m.newID = fn
	return m
}

func (m *Memory) Get(ctx context.Context, id string) (domain.Board, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.boards[id]
	if !ok {
		return domain.Board{}, domain.NotFound("board", id)
	}
	return b.Clone(), nil
}

func (m *Memory) Query(ctx context.Context, f domain.BoardFilter) ([]domain.Board, error) {
	m.mu.RLock()
	out := make([]domain.Board, 0, len(m.boards))
	for _, b := range m.boards {
		if f.Match(b) {
			out = append(out, b.Clone())
		}
	}
	m.mu.RUnlock()
	domain.SortBoards(out)
	return out, nil
}

func (m *Memory) Put(ctx context.Context, b domain.Board) (domain.Board, error) {
	if b.ID == "" {
		b.ID = m.newID()
	}
	stored := b.Clone()
	m.mu.Lock()
	m.boards[b.ID] = stored
	m.mu.Unlock()
	return stored.Clone(), nil
}

func (m *Memory) Delete(ctx context.Context, id string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.boards[id]; !ok {
		return "", domain.NotFound("board", id)
	}
	delete(m.boards, id)
	return id, nil
}
