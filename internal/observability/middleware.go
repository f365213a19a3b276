package observability

import (
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/labstack/echo/v4"
)

// RequestLogger logs one line per request with its status and latency.
func RequestLogger(log *slog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				// let echo's error handler pick the status before it is logged
				c.Error(err)
			}
			req := c.Request()
			status := c.Response().Status
			level := slog.LevelInfo
			if status >= http.StatusInternalServerError {
				level = slog.LevelError
			}
			log.LogAttrs(req.Context(), level, "http_request",
				slog.String("method", req.Method),
				slog.String("path", req.URL.Path),
				slog.String("route", c.Path()),
				slog.Int("status", status),
				slog.Int64("duration_ms", time.Since(start).Milliseconds()),
				slog.String("ip", c.RealIP()),
			)
			return nil
		}
	}
}

// Recover turns a handler panic into a 500, reports it to Sentry and logs
// the stack.
func Recover(log *slog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) (err error) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				stack := string(debug.Stack())
				sentry.WithScope(func(scope *sentry.Scope) {
					scope.SetExtra("panic", fmt.Sprint(rec))
					scope.SetExtra("stack", stack)
					scope.SetTag("route", c.Path())
					sentry.CaptureMessage("panic in request")
				})
				log.Error("panic_recovered",
					"method", c.Request().Method,
					"path", c.Request().URL.Path,
					"panic", fmt.Sprint(rec),
					"stack", stack)
				err = c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal server error"})
			}()
			return next(c)
		}
	}
}

// CaptureError reports an unexpected handler failure to Sentry.
func CaptureError(c echo.Context, err error) {
	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("route", c.Path())
		scope.SetTag("method", c.Request().Method)
		sentry.CaptureException(err)
	})
}
