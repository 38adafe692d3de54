package storage

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/bytedance/sonic"

	"taskboard/domain"
)

const boardPartition = "board"

// table is the part of *aztables.Client the board store needs.
type table interface {
	GetEntity(ctx context.Context, partitionKey, rowKey string, options *aztables.GetEntityOptions) (aztables.GetEntityResponse, error)
	UpsertEntity(ctx context.Context, entity []byte, options *aztables.UpsertEntityOptions) (aztables.UpsertEntityResponse, error)
	DeleteEntity(ctx context.Context, partitionKey, rowKey string, options *aztables.DeleteEntityOptions) (aztables.DeleteEntityResponse, error)
	ListEntities(ctx context.Context, filter string) ([][]byte, error)
}

type azTable struct {
	*aztables.Client
}

func (t azTable) ListEntities(ctx context.Context, filter string) ([][]byte, error) {
	opts := &aztables.ListEntitiesOptions{}
	if filter != "" {
		opts.Filter = &filter
	}
	pager := t.NewListEntitiesPager(opts)
	var out [][]byte
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		out = append(out, resp.Entities...)
	}
	return out, nil
}

// Tables stores one entity per board in Azure Table Storage. The whole
// document lives in the Data property; Title and IsStarred are copied out
// so the table can be inspected and filtered server side.
type Tables struct {
	boards table
	newID  domain.IDFunc
}

// NewTables connects to the boards table using the given connection string.
func NewTables(connStr, boardsTable string) (*Tables, error) {
	opts := aztables.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    3,
				TryTimeout:    time.Minute * 3,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 15,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, &opts)
	if err != nil {
		return nil, err
	}
	return &Tables{boards: azTable{svc.NewClient(boardsTable)}, newID: domain.MakeID}, nil
}

type boardEntity struct {
	aztables.Entity
	Title     string `json:"Title"`
	IsStarred bool   `json:"IsStarred"`
	Data      string `json:"Data"`
}

func encodeBoard(b domain.Board) ([]byte, error) {
	data, err := sonic.Marshal(b)
	if err != nil {
		return nil, err
	}
	return sonic.Marshal(boardEntity{
		Entity:    aztables.Entity{PartitionKey: boardPartition, RowKey: b.ID},
		Title:     b.Title,
		IsStarred: b.IsStarred,
		Data:      string(data),
	})
}

func decodeBoard(raw []byte) (domain.Board, error) {
	var ent boardEntity
	if err := sonic.Unmarshal(raw, &ent); err != nil {
		return domain.Board{}, err
	}
	var b domain.Board
	if err := sonic.UnmarshalString(ent.Data, &b); err != nil {
		return domain.Board{}, err
	}
	b.ID = ent.RowKey
	b.Normalize()
	return b, nil
}

func isNotFound(err error) bool {
	var respErr *azcore.ResponseError
	return errors.As(err, &respErr) && respErr.StatusCode == http.StatusNotFound
}

func (s *Tables) Get(ctx context.Context, id string) (domain.Board, error) {
	resp, err := s.boards.GetEntity(ctx, boardPartition, id, nil)
	if err != nil {
		if isNotFound(err) {
			return domain.Board{}, domain.NotFound("board", id)
		}
		return domain.Board{}, &domain.PersistenceError{Op: "get board", Err: err}
	}
	b, err := decodeBoard(resp.Value)
	if err != nil {
		return domain.Board{}, &domain.PersistenceError{Op: "decode board", Err: err}
	}
	return b, nil
}

func (s *Tables) Query(ctx context.Context, f domain.BoardFilter) ([]domain.Board, error) {
	filter := "PartitionKey eq '" + boardPartition + "'"
	if f.StarredOnly {
		filter += " and IsStarred eq true"
	}
	entities, err := s.boards.ListEntities(ctx, filter)
	if err != nil {
		return nil, &domain.PersistenceError{Op: "list boards", Err: err}
	}
	out := make([]domain.Board, 0, len(entities))
	for _, raw := range entities {
		b, err := decodeBoard(raw)
		if err != nil {
			return nil, &domain.PersistenceError{Op: "decode board", Err: err}
		}
		if f.Match(b) {
			out = append(out, b)
		}
	}
	domain.SortBoards(out)
	return out, nil
}

// Put replaces the stored entity. There is no etag check: the last writer
// wins.
func (s *Tables) Put(ctx context.Context, b domain.Board) (domain.Board, error) {
	if b.ID == "" {
		b.ID = s.newID()
	}
	payload, err := encodeBoard(b)
	if err != nil {
		return domain.Board{}, &domain.PersistenceError{Op: "encode board", Err: err}
	}
	if _, err := s.boards.UpsertEntity(ctx, payload, &aztables.UpsertEntityOptions{UpdateMode: aztables.UpdateModeReplace}); err != nil {
		return domain.Board{}, &domain.PersistenceError{Op: "put board", Err: err}
	}
	return b.Clone(), nil
}

func (s *Tables) Delete(ctx context.Context, id string) (string, error) {
	if _, err := s.boards.DeleteEntity(ctx, boardPartition, id, nil); err != nil {
		if isNotFound(err) {
			return "", domain.NotFound("board", id)
		}
		return "", &domain.PersistenceError{Op: "delete board", Err: err}
	}
	return id, nil
}
