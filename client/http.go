package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/bytedance/sonic"

	"taskboard/domain"
)

// StatusError is a non-2xx answer from the board API. It matches the domain
// sentinels with errors.Is so callers handle remote and local failures alike.
type StatusError struct {
	Status int
	Msg    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("board api %d: %s", e.Status, e.Msg)
}

func (e *StatusError) Is(target error) bool {
	switch target {
	case domain.ErrValidation:
		return e.Status == http.StatusBadRequest || e.Status == http.StatusConflict
	case domain.ErrNotFound:
		return e.Status == http.StatusNotFound
	case domain.ErrPersistence:
		return e.Status >= http.StatusInternalServerError
	}
	return false
}

// HTTP calls the board API over REST. It implements the reconciler's
// gateway interface.
type HTTP struct {
	BaseURL string
	Bearer  string
	UserID  string
	HTTP    *http.Client
}

func NewHTTP(baseURL, bearer, userID string) *HTTP {
	return &HTTP{BaseURL: strings.TrimRight(baseURL, "/"), Bearer: bearer, UserID: userID, HTTP: &http.Client{}}
}

func (c *HTTP) do(ctx context.Context, method, path string, body, out any, headers ...string) error {
	var reader io.Reader
	if body != nil {
		data, err := sonic.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.Bearer != "" {
		req.Header.Set("Authorization", "Bearer "+c.Bearer)
	}
	if c.UserID != "" {
		req.Header.Set("X-User-Id", c.UserID)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return &domain.PersistenceError{Op: method + " " + path, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return &domain.PersistenceError{Op: method + " " + path, Err: err}
	}
	if resp.StatusCode >= 300 {
		var e struct {
			Err string `json:"err"`
		}
		if sonic.Unmarshal(raw, &e) != nil || e.Err == "" {
			e.Err = strings.TrimSpace(string(raw))
		}
		return &StatusError{Status: resp.StatusCode, Msg: e.Err}
	}
	switch out := out.(type) {
	case nil:
		return nil
	case *string:
		*out = string(raw)
		return nil
	default:
		return sonic.Unmarshal(raw, out)
	}
}

func boardPath(id string, parts ...string) string {
	p := "/api/board/" + url.PathEscape(id)
	for _, part := range parts {
		p += "/" + url.PathEscape(part)
	}
	return p
}

func (c *HTTP) board(ctx context.Context, method, path string, body any) (domain.Board, error) {
	var b domain.Board
	err := c.do(ctx, method, path, body, &b)
	return b, err
}

func (c *HTTP) QueryBoards(ctx context.Context, f domain.BoardFilter) ([]domain.Board, error) {
	q := url.Values{}
	if f.Text != "" {
		q.Set("txt", f.Text)
	}
	if f.StarredOnly {
		q.Set("starred", strconv.FormatBool(true))
	}
	path := "/api/board"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var out []domain.Board
	err := c.do(ctx, http.MethodGet, path, nil, &out)
	return out, err
}

func (c *HTTP) GetBoard(ctx context.Context, id string) (domain.Board, error) {
	return c.board(ctx, http.MethodGet, boardPath(id), nil)
}

// AddBoard creates a board. The board id, or a fresh one, doubles as the
// idempotency key so a retried create is rejected instead of duplicated.
func (c *HTTP) AddBoard(ctx context.Context, b domain.Board) (domain.Board, error) {
	if b.ID == "" {
		b.ID = domain.MakeID()
	}
	var out domain.Board
	err := c.do(ctx, http.MethodPost, "/api/board", b, &out, "Idempotency-Key", b.ID)
	return out, err
}

func (c *HTTP) UpdateBoard(ctx context.Context, b domain.Board) (domain.Board, error) {
	if b.ID == "" {
		return domain.Board{}, domain.Invalid("board id is required for update")
	}
	return c.board(ctx, http.MethodPut, boardPath(b.ID), b)
}

func (c *HTTP) RemoveBoard(ctx context.Context, id string) (string, error) {
	var removed string
	err := c.do(ctx, http.MethodDelete, boardPath(id), nil, &removed)
	return removed, err
}

func (c *HTTP) AddGroup(ctx context.Context, boardID string, g domain.Group) (domain.Board, error) {
	return c.board(ctx, http.MethodPost, boardPath(boardID, "group"), g)
}

func (c *HTTP) UpdateGroup(ctx context.Context, boardID string, g domain.Group) (domain.Board, error) {
	return c.board(ctx, http.MethodPut, boardPath(boardID, "group", g.ID), g)
}

func (c *HTTP) RemoveGroup(ctx context.Context, boardID, groupID string) (domain.Board, error) {
	return c.board(ctx, http.MethodDelete, boardPath(boardID, "group", groupID), nil)
}

func (c *HTTP) AddTask(ctx context.Context, boardID, groupID string, t domain.Task) (domain.Board, error) {
	return c.board(ctx, http.MethodPost, boardPath(boardID, "group", groupID, "task"), t)
}

func (c *HTTP) UpdateTask(ctx context.Context, boardID, groupID string, t domain.Task) (domain.Board, error) {
	return c.board(ctx, http.MethodPut, boardPath(boardID, "group", groupID, "task", t.ID), t)
}

func (c *HTTP) RemoveTask(ctx context.Context, boardID, groupID, taskID string) (domain.Board, error) {
	return c.board(ctx, http.MethodDelete, boardPath(boardID, "group", groupID, "task", taskID), nil)
}

func (c *HTTP) MoveTask(ctx context.Context, boardID, taskID, toGroupID string, position int) (domain.Board, error) {
	body := struct {
		GroupID  string `json:"groupId"`
		Position int    `json:"position"`
	}{toGroupID, position}
	return c.board(ctx, http.MethodPost, boardPath(boardID, "task", taskID, "move"), body)
}

func (c *HTTP) AddLabel(ctx context.Context, boardID string, l domain.Label) (domain.Board, error) {
	return c.board(ctx, http.MethodPost, boardPath(boardID, "label"), l)
}

func (c *HTTP) UpdateLabel(ctx context.Context, boardID string, l domain.Label) (domain.Board, error) {
	return c.board(ctx, http.MethodPut, boardPath(boardID, "label", l.ID), l)
}

func (c *HTTP) RemoveLabel(ctx context.Context, boardID, labelID string) (domain.Board, error) {
	return c.board(ctx, http.MethodDelete, boardPath(boardID, "label", labelID), nil)
}
