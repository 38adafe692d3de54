package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"taskboard/domain"
)

const (
	maxBodySize          = 4 << 20
	headerIdempotencyKey = "Idempotency-Key"
)

type errorResponse struct {
	Err string `json:"err"`
}

type moveRequest struct {
	GroupID  string `json:"groupId"`
	Position int    `json:"position"`
}

// Register wires up all routes on the provided Echo instance.
func Register(e *echo.Echo, boards Boards, rooms Rooms, auth Authenticator, deduper Deduper, logger *log.Logger) {
	e.JSONSerializer = SonicSerializer{}
	e.GET("/healthz", healthz)

	g := e.Group("/api", decodeBody(), authenticate(auth))
	g.GET("/board", queryBoards(boards, logger))
	g.POST("/board", addBoard(boards, deduper, logger))
	g.GET("/board/:id", getBoard(boards, logger))
	g.PUT("/board/:id", updateBoard(boards, logger))
	g.DELETE("/board/:id", removeBoard(boards, logger))

	g.POST("/board/:id/group", addGroup(boards, logger))
	g.PUT("/board/:id/group/:groupId", updateGroup(boards, logger))
	g.DELETE("/board/:id/group/:groupId", removeGroup(boards, logger))
	g.POST("/board/:id/group/:groupId/task", addTask(boards, logger))
	g.PUT("/board/:id/group/:groupId/task/:taskId", updateTask(boards, logger))
	g.DELETE("/board/:id/group/:groupId/task/:taskId", removeTask(boards, logger))
	g.POST("/board/:id/task/:taskId/move", moveTask(boards, logger))
	g.POST("/board/:id/label", addLabel(boards, logger))
	g.PUT("/board/:id/label/:labelId", updateLabel(boards, logger))
	g.DELETE("/board/:id/label/:labelId", removeLabel(boards, logger))

	e.GET("/socket", socket(rooms, logger), authenticate(auth))
}

func healthz(c echo.Context) error {
	return c.NoContent(http.StatusOK)
}

// writeError maps domain errors to status codes. Anything that is not a
// validation or lookup failure is a 500 and gets logged.
func writeError(c echo.Context, logger *log.Logger, err error) error {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		status = http.StatusNotFound
	default:
		logger.WithError(err).WithFields(log.Fields{
			"method": c.Request().Method,
			"path":   c.Path(),
		}).Error("request failed")
	}
	return c.JSON(status, errorResponse{Err: err.Error()})
}

func readJSON(c echo.Context, v any) error {
	lr := io.LimitReader(c.Request().Body, maxBodySize)
	if err := sonic.ConfigDefault.NewDecoder(lr).Decode(v); err != nil {
		return domain.Invalid("invalid body: %v", err)
	}
	return nil
}

// pathID fills an empty body id from the path and rejects a mismatch.
func pathID(body *string, path, kind string) error {
	if *body == "" {
		*body = path
		return nil
	}
	if *body != path {
		return domain.Invalid("%s id %s does not match path id %s", kind, *body, path)
	}
	return nil
}

func respond(c echo.Context, logger *log.Logger, b domain.Board, err error) error {
	if err != nil {
		return writeError(c, logger, err)
	}
	return c.JSON(http.StatusOK, b)
}

func queryBoards(boards Boards, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		var f domain.BoardFilter
		if err := (&echo.DefaultBinder{}).BindQueryParams(c, &f); err != nil {
			return writeError(c, logger, domain.Invalid("invalid filter"))
		}
		list, err := boards.QueryBoards(c.Request().Context(), f)
		if err != nil {
			return writeError(c, logger, err)
		}
		return c.JSON(http.StatusOK, list)
	}
}

func getBoard(boards Boards, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		b, err := boards.GetBoard(c.Request().Context(), c.Param("id"))
		return respond(c, logger, b, err)
	}
}

// addBoard creates a board. A replayed Idempotency-Key is answered with 409
// so retries after a lost response never create a second board.
func addBoard(boards Boards, deduper Deduper, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		var b domain.Board
		if err := readJSON(c, &b); err != nil {
			return writeError(c, logger, err)
		}

		key := c.Request().Header.Get(headerIdempotencyKey)
		userID := userFrom(c)
		recorded := false
		if key != "" && deduper != nil {
			added, err := deduper.Add(ctx, userID, key)
			switch {
			case err != nil:
				logger.WithError(err).Warn("idempotency check failed; processing anyway")
			case !added:
				return c.JSON(http.StatusConflict, errorResponse{Err: "duplicate request"})
			default:
				recorded = true
			}
		}

		saved, err := boards.AddBoard(ctx, b)
		if err != nil {
			if recorded {
				if rerr := deduper.Remove(ctx, userID, key); rerr != nil {
					logger.WithError(rerr).Warn("failed to release idempotency key")
				}
			}
			return writeError(c, logger, err)
		}
		return c.JSON(http.StatusOK, saved)
	}
}

func updateBoard(boards Boards, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		var b domain.Board
		if err := readJSON(c, &b); err != nil {
			return writeError(c, logger, err)
		}
		if err := pathID(&b.ID, c.Param("id"), "board"); err != nil {
			return writeError(c, logger, err)
		}
		saved, err := boards.UpdateBoard(c.Request().Context(), b)
		return respond(c, logger, saved, err)
	}
}

func removeBoard(boards Boards, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		id, err := boards.RemoveBoard(c.Request().Context(), c.Param("id"))
		if err != nil {
			return writeError(c, logger, err)
		}
		return c.String(http.StatusOK, id)
	}
}

func addGroup(boards Boards, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		var g domain.Group
		if err := readJSON(c, &g); err != nil {
			return writeError(c, logger, err)
		}
		b, err := boards.AddGroup(c.Request().Context(), c.Param("id"), g)
		return respond(c, logger, b, err)
	}
}

func updateGroup(boards Boards, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		var g domain.Group
		if err := readJSON(c, &g); err != nil {
			return writeError(c, logger, err)
		}
		if err := pathID(&g.ID, c.Param("groupId"), "group"); err != nil {
			return writeError(c, logger, err)
		}
		b, err := boards.UpdateGroup(c.Request().Context(), c.Param("id"), g)
		return respond(c, logger, b, err)
	}
}

func removeGroup(boards Boards, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		b, err := boards.RemoveGroup(c.Request().Context(), c.Param("id"), c.Param("groupId"))
		return respond(c, logger, b, err)
	}
}

func addTask(boards Boards, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		var t domain.Task
		if err := readJSON(c, &t); err != nil {
			return writeError(c, logger, err)
		}
		b, err := boards.AddTask(c.Request().Context(), c.Param("id"), c.Param("groupId"), t)
		return respond(c, logger, b, err)
	}
}

func updateTask(boards Boards, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		var t domain.Task
		if err := readJSON(c, &t); err != nil {
			return writeError(c, logger, err)
		}
		if err := pathID(&t.ID, c.Param("taskId"), "task"); err != nil {
			return writeError(c, logger, err)
		}
		b, err := boards.UpdateTask(c.Request().Context(), c.Param("id"), c.Param("groupId"), t)
		return respond(c, logger, b, err)
	}
}

func removeTask(boards Boards, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		b, err := boards.RemoveTask(c.Request().Context(), c.Param("id"), c.Param("groupId"), c.Param("taskId"))
		return respond(c, logger, b, err)
	}
}

func moveTask(boards Boards, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req moveRequest
		if err := readJSON(c, &req); err != nil {
			return writeError(c, logger, err)
		}
		b, err := boards.MoveTask(c.Request().Context(), c.Param("id"), c.Param("taskId"), req.GroupID, req.Position)
		return respond(c, logger, b, err)
	}
}

func addLabel(boards Boards, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		var l domain.Label
		if err := readJSON(c, &l); err != nil {
			return writeError(c, logger, err)
		}
		b, err := boards.AddLabel(c.Request().Context(), c.Param("id"), l)
		return respond(c, logger, b, err)
	}
}

func updateLabel(boards Boards, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		var l domain.Label
		if err := readJSON(c, &l); err != nil {
			return writeError(c, logger, err)
		}
		if err := pathID(&l.ID, c.Param("labelId"), "label"); err != nil {
			return writeError(c, logger, err)
		}
		b, err := boards.UpdateLabel(c.Request().Context(), c.Param("id"), l)
		return respond(c, logger, b, err)
	}
}

func removeLabel(boards Boards, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		b, err := boards.RemoveLabel(c.Request().Context(), c.Param("id"), c.Param("labelId"))
		return respond(c, logger, b, err)
	}
}
