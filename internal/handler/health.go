package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

// Pinger is anything whose liveness can be checked, such as *sql.DB.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Health reports "ok" when every dependency answers a ping within a second.
// With no dependencies it is a plain liveness check.
func Health(deps map[string]Pinger) echo.HandlerFunc {
	return func(c echo.Context) error {
		if len(deps) == 0 {
			return c.String(http.StatusOK, "ok")
		}
		ctx, cancel := context.WithTimeout(c.Request().Context(), time.Second)
		defer cancel()

		status := http.StatusOK
		checks := make(map[string]string, len(deps))
		for name, p := range deps {
			if err := p.PingContext(ctx); err != nil {
				checks[name] = "down"
				status = http.StatusServiceUnavailable
				continue
			}
			checks[name] = "ok"
		}
		return c.JSON(status, echo.Map{"status": http.StatusText(status), "checks": checks})
	}
}

// PingFunc adapts a function to Pinger.
type PingFunc func(ctx context.Context) error

func (f PingFunc) PingContext(ctx context.Context) error { return f(ctx) }
