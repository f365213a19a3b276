package middleware

import (
	"context"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/portfolio-builder/internal/ratelimit"
)

// Admitter is the part of ratelimit.Limiter the middleware needs.
type Admitter interface {
	Admit(ctx context.Context, key string, now time.Time) (ratelimit.Decision, error)
}

// Rate limit response headers, one set per window.
const (
	HeaderLimitMinute     = "X-RateLimit-Limit-Minute"
	HeaderRemainingMinute = "X-RateLimit-Remaining-Minute"
	HeaderResetMinute     = "X-RateLimit-Reset-Minute"
	HeaderLimitHour       = "X-RateLimit-Limit-Hour"
	HeaderRemainingHour   = "X-RateLimit-Remaining-Hour"
	HeaderResetHour       = "X-RateLimit-Reset-Hour"
)

type rateLimit struct {
	limiter Admitter
	log     *slog.Logger
	now     func() time.Time
}

// NewRateLimit admits or rejects each request through limiter. Requests
// behind SessionGuard are keyed by identity, others by client IP. A nil
// limiter disables limiting.
func NewRateLimit(limiter Admitter, log *slog.Logger) echo.MiddlewareFunc {
	if limiter == nil {
		return func(next echo.HandlerFunc) echo.HandlerFunc { return next }
	}
	if log == nil {
		log = slog.Default()
	}
	return (&rateLimit{limiter: limiter, log: log, now: time.Now}).handle
}

func (rl *rateLimit) handle(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		key := rateKey(c)
		d, err := rl.limiter.Admit(c.Request().Context(), key, rl.now())
		if err != nil {
			rl.log.Error("rate limit store failure", "key", key, "error", err)
			if d.Minute.Limit > 0 {
				writeQuotaHeaders(c.Response().Header(), d)
			}
			c.Response().Header().Set(echo.HeaderRetryAfter, "1")
			return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": "rate_limit_unavailable"})
		}

		writeQuotaHeaders(c.Response().Header(), d)
		if !d.Allowed {
			secs := retrySeconds(d.RetryAfter)
			c.Response().Header().Set(echo.HeaderRetryAfter, strconv.Itoa(secs))
			rl.log.Info("rate limit exceeded", "key", key, "retry_after", secs)
			return c.JSON(http.StatusTooManyRequests, echo.Map{
				"error":            "rate_limit_exceeded",
				"retry_after":      secs,
				"limit_minute":     d.Minute.Limit,
				"remaining_minute": d.Minute.Remaining,
				"limit_hour":       d.Hour.Limit,
				"remaining_hour":   d.Hour.Remaining,
				"reset_minute":     d.Minute.Reset.Unix(),
				"reset_hour":       d.Hour.Reset.Unix(),
			})
		}
		return next(c)
	}
}

func writeQuotaHeaders(h http.Header, d ratelimit.Decision) {
	h.Set(HeaderLimitMinute, strconv.Itoa(d.Minute.Limit))
	h.Set(HeaderRemainingMinute, strconv.Itoa(d.Minute.Remaining))
	h.Set(HeaderResetMinute, strconv.FormatInt(d.Minute.Reset.Unix(), 10))
	h.Set(HeaderLimitHour, strconv.Itoa(d.Hour.Limit))
	h.Set(HeaderRemainingHour, strconv.Itoa(d.Hour.Remaining))
	h.Set(HeaderResetHour, strconv.FormatInt(d.Hour.Reset.Unix(), 10))
}

// retrySeconds rounds up so a client never retries before the reset.
func retrySeconds(d time.Duration) int {
	secs := int(math.Ceil(d.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return secs
}

func rateKey(c echo.Context) string {
	if id, ok := UserID(c); ok {
		return "user:" + strconv.FormatUint(id, 10)
	}
	ip := c.RealIP()
	if ip == "" {
		ip = "unknown"
	}
	return "ip:" + ip
}
