package api

import (
	"context"
	"net/http"

	"taskboard/domain"
	"taskboard/hub"
)

// Boards is the mutation gateway as seen by the HTTP handlers.
type Boards interface {
	QueryBoards(ctx context.Context, f domain.BoardFilter) ([]domain.Board, error)
	GetBoard(ctx context.Context, id string) (domain.Board, error)
	AddBoard(ctx context.Context, b domain.Board) (domain.Board, error)
	UpdateBoard(ctx context.Context, b domain.Board) (domain.Board, error)
	RemoveBoard(ctx context.Context, id string) (string, error)

	AddGroup(ctx context.Context, boardID string, g domain.Group) (domain.Board, error)
	UpdateGroup(ctx context.Context, boardID string, g domain.Group) (domain.Board, error)
	RemoveGroup(ctx context.Context, boardID, groupID string) (domain.Board, error)
	AddTask(ctx context.Context, boardID, groupID string, t domain.Task) (domain.Board, error)
	UpdateTask(ctx context.Context, boardID, groupID string, t domain.Task) (domain.Board, error)
	RemoveTask(ctx context.Context, boardID, groupID, taskID string) (domain.Board, error)
	MoveTask(ctx context.Context, boardID, taskID, toGroupID string, position int) (domain.Board, error)
	AddLabel(ctx context.Context, boardID string, l domain.Label) (domain.Board, error)
	UpdateLabel(ctx context.Context, boardID string, l domain.Label) (domain.Board, error)
	RemoveLabel(ctx context.Context, boardID, labelID string) (domain.Board, error)
}

// Rooms is the part of the broadcast hub the socket handler drives.
type Rooms interface {
	Connect(connID string, sink hub.Sink) error
	Join(room, connID string) error
	Leave(room, connID string)
	Disconnect(connID string)
	EmitTo(connID string, ev domain.Event) error
}

// Authenticator resolves the acting user of a request.
type Authenticator interface {
	UserID(r *http.Request) (string, error)
}

// Deduper prevents processing of duplicate board creations.
type Deduper interface {
	// Add records the idempotency key and returns true if it was newly added.
	Add(ctx context.Context, userID, key string) (bool, error)
	// Remove deletes a previously added key, used when the write fails.
	Remove(ctx context.Context, userID, key string) error
}
