package api

import (
	"compress/gzip"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"

	"taskboard/gateway"
)

const userContextKey = "userID"

// decodeBody unwraps gzip request bodies for the board routes. A body in
// any other content coding is refused with 415, and a body that does not
// start with a gzip header gets 400.
func decodeBody() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			codings := contentCodings(req.Header.Get(echo.HeaderContentEncoding))
			if len(codings) == 0 {
				return next(c)
			}
			if len(codings) > 1 || codings[0] != "gzip" {
				return c.JSON(http.StatusUnsupportedMediaType, errorResponse{Err: "unsupported content encoding " + strings.Join(codings, ", ")})
			}
			zr, err := gzip.NewReader(req.Body)
			if err != nil {
				_ = req.Body.Close()
				return c.JSON(http.StatusBadRequest, errorResponse{Err: "invalid gzip body"})
			}
			req.Body = gzipBody{zr: zr, raw: req.Body}
			req.ContentLength = -1
			req.Header.Del(echo.HeaderContentEncoding)
			req.Header.Del(echo.HeaderContentLength)
			return next(c)
		}
	}
}

// contentCodings lists the codings applied to a body, lowercased, leaving
// out identity.
func contentCodings(header string) []string {
	var out []string
	for _, part := range strings.Split(header, ",") {
		coding := strings.ToLower(strings.TrimSpace(part))
		if coding == "" || coding == "identity" {
			continue
		}
		if coding == "x-gzip" {
			coding = "gzip"
		}
		out = append(out, coding)
	}
	return out
}

type gzipBody struct {
	zr  *gzip.Reader
	raw io.ReadCloser
}

func (b gzipBody) Read(p []byte) (int, error) { return b.zr.Read(p) }

func (b gzipBody) Close() error {
	return errors.Join(b.zr.Close(), b.raw.Close())
}

// authenticate resolves the acting user and stores it both on the echo
// context and in the request context read by the gateway.
func authenticate(auth Authenticator) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			userID, err := auth.UserID(c.Request())
			if err != nil {
				return c.JSON(http.StatusUnauthorized, errorResponse{Err: err.Error()})
			}
			c.Set(userContextKey, userID)
			c.SetRequest(c.Request().WithContext(gateway.WithActor(c.Request().Context(), userID)))
			c.Response().Header().Set(HeaderUserID, userID)
			return next(c)
		}
	}
}

func userFrom(c echo.Context) string {
	id, _ := c.Get(userContextKey).(string)
	return id
}

// SonicSerializer is an echo.JSONSerializer backed by sonic.
type SonicSerializer struct{}

func (SonicSerializer) Serialize(c echo.Context, i any, indent string) error {
	enc := sonic.ConfigDefault.NewEncoder(c.Response())
	if indent != "" {
		enc.SetIndent("", indent)
	}
	return enc.Encode(i)
}

func (SonicSerializer) Deserialize(c echo.Context, i any) error {
	lr := io.LimitReader(c.Request().Body, maxBodySize)
	if err := sonic.ConfigDefault.NewDecoder(lr).Decode(i); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body").SetInternal(err)
	}
	return nil
}
