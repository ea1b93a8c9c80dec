package middleware

import (
	"fmt"
	"net/http"
	"runtime"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

const maxStackBytes = 8 << 10

// Recovery turns a panic in a handler into a 500 with the API's
// {status, message} error body and logs the stack with the request id and
// subject. When the handler had already started writing, the status cannot
// change and only the log line is produced.
func Recovery(logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) (err error) {
			defer func() {
				r := recover()
				if r == nil {
					return
				}
				stack := make([]byte, maxStackBytes)
				stack = stack[:runtime.Stack(stack, false)]

				committed := c.Response().Committed
				evt := logger.Error().
					Str("method", c.Request().Method).
					Str("route", c.Path()).
					Str("path", c.Request().URL.Path).
					Str("panic", fmt.Sprint(r)).
					Bool("committed", committed).
					Bytes("stack", stack)
				if rid, ok := c.Get("request_id").(string); ok {
					evt = evt.Str("request_id", rid)
				}
				if sub, ok := c.Get("jwt_subject").(string); ok && sub != "" {
					evt = evt.Str("subject", sub)
				}
				evt.Msg("panic recovered")

				if committed {
					err = nil
					return
				}
				err = echo.NewHTTPError(http.StatusInternalServerError, map[string]string{
					"status":  "error",
					"message": "internal server error",
				})
			}()
			return next(c)
		}
	}
}
