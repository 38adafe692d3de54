package reconciler

import (
	"context"

	"taskboard/domain"
)

// Gateway is the server side of a mirror: the board mutation operations,
// reached over HTTP in production and in process in tests.
type Gateway interface {
	GetBoard(ctx context.Context, id string) (domain.Board, error)
	UpdateBoard(ctx context.Context, b domain.Board) (domain.Board, error)
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

// Mutation is one user action. Apply edits a local copy of the board and
// may be called more than once as the mirror is rebuilt. Send performs the
// same action on the server; next is the confirmed board with Apply
// already run on it.
type Mutation interface {
	Apply(b *domain.Board) error
	Send(ctx context.Context, gw Gateway, next domain.Board) (domain.Board, error)
}

// EditBoard changes top level board fields (title, star, style, members)
// and sends the whole document.
type EditBoard func(b *domain.Board)

func (e EditBoard) Apply(b *domain.Board) error {
	e(b)
	return nil
}

func (e EditBoard) Send(ctx context.Context, gw Gateway, next domain.Board) (domain.Board, error) {
	return gw.UpdateBoard(ctx, next)
}

// AddGroup appends a group. The group and task ids are fixed on first
// Apply so the optimistic entities and the stored ones are the same.
type AddGroup struct {
	Group domain.Group
}

func (m *AddGroup) Apply(b *domain.Board) error {
	if m.Group.ID == "" {
		m.Group.ID = domain.MakeID()
	}
	for i := range m.Group.Tasks {
		if m.Group.Tasks[i].ID == "" {
			m.Group.Tasks[i].ID = domain.MakeID()
		}
	}
	_, err := b.AddGroup(m.Group.Clone())
	return err
}

func (m *AddGroup) Send(ctx context.Context, gw Gateway, next domain.Board) (domain.Board, error) {
	return gw.AddGroup(ctx, next.ID, m.Group)
}

type UpdateGroup struct {
	Group domain.Group
}

func (m *UpdateGroup) Apply(b *domain.Board) error {
	return b.UpdateGroup(m.Group.Clone())
}

func (m *UpdateGroup) Send(ctx context.Context, gw Gateway, next domain.Board) (domain.Board, error) {
	return gw.UpdateGroup(ctx, next.ID, m.Group)
}

type RemoveGroup struct {
	GroupID string
}

func (m *RemoveGroup) Apply(b *domain.Board) error {
	return b.RemoveGroup(m.GroupID)
}

func (m *RemoveGroup) Send(ctx context.Context, gw Gateway, next domain.Board) (domain.Board, error) {
	return gw.RemoveGroup(ctx, next.ID, m.GroupID)
}

type AddTask struct {
	GroupID string
	Task    domain.Task
}

func (m *AddTask) Apply(b *domain.Board) error {
	if m.Task.ID == "" {
		m.Task.ID = domain.MakeID()
	}
	_, err := b.AddTask(m.GroupID, m.Task.Clone())
	return err
}

func (m *AddTask) Send(ctx context.Context, gw Gateway, next domain.Board) (domain.Board, error) {
	return gw.AddTask(ctx, next.ID, m.GroupID, m.Task)
}

type UpdateTask struct {
	GroupID string
	Task    domain.Task
}

func (m *UpdateTask) Apply(b *domain.Board) error {
	return b.UpdateTask(m.GroupID, m.Task.Clone())
}

func (m *UpdateTask) Send(ctx context.Context, gw Gateway, next domain.Board) (domain.Board, error) {
	return gw.UpdateTask(ctx, next.ID, m.GroupID, m.Task)
}

type RemoveTask struct {
	GroupID string
	TaskID  string
}

func (m *RemoveTask) Apply(b *domain.Board) error {
	return b.RemoveTask(m.GroupID, m.TaskID)
}

func (m *RemoveTask) Send(ctx context.Context, gw Gateway, next domain.Board) (domain.Board, error) {
	return gw.RemoveTask(ctx, next.ID, m.GroupID, m.TaskID)
}

// MoveTask moves a task to position in ToGroupID, which may be the group
// it is already in.
type MoveTask struct {
	TaskID    string
	ToGroupID string
	Position  int
}

func (m *MoveTask) Apply(b *domain.Board) error {
	return b.MoveTask(m.TaskID, m.ToGroupID, m.Position)
}

func (m *MoveTask) Send(ctx context.Context, gw Gateway, next domain.Board) (domain.Board, error) {
	return gw.MoveTask(ctx, next.ID, m.TaskID, m.ToGroupID, m.Position)
}

type AddLabel struct {
	Label domain.Label
}

func (m *AddLabel) Apply(b *domain.Board) error {
	if m.Label.ID == "" {
		m.Label.ID = domain.MakeID()
	}
	_, err := b.AddLabel(m.Label)
	return err
}

func (m *AddLabel) Send(ctx context.Context, gw Gateway, next domain.Board) (domain.Board, error) {
	return gw.AddLabel(ctx, next.ID, m.Label)
}

type UpdateLabel struct {
	Label domain.Label
}

func (m *UpdateLabel) Apply(b *domain.Board) error {
	return b.UpdateLabel(m.Label)
}

func (m *UpdateLabel) Send(ctx context.Context, gw Gateway, next domain.Board) (domain.Board, error) {
	return gw.UpdateLabel(ctx, next.ID, m.Label)
}

type RemoveLabel struct {
	LabelID string
}

func (m *RemoveLabel) Apply(b *domain.Board) error {
	return b.RemoveLabel(m.LabelID)
}

func (m *RemoveLabel) Send(ctx context.Context, gw Gateway, next domain.Board) (domain.Board, error) {
	return gw.RemoveLabel(ctx, next.ID, m.LabelID)
}
