package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/portfolio-builder/internal/ratelimit"
)

func newLimitedEcho(limiter Admitter, now time.Time, userID uint64) *echo.Echo {
	e := echo.New()
	rl := &rateLimit{limiter: limiter, log: discardLogger(), now: func() time.Time { return now }}
	withUser := func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if userID != 0 {
				c.Set(ctxUserID, userID)
			}
			return next(c)
		}
	}
	e.POST("/generate", func(c echo.Context) error { return c.NoContent(http.StatusOK) }, withUser, rl.handle)
	return e
}

func post(e *echo.Echo, ip string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/generate", nil)
	req.RemoteAddr = ip + ":5555"
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestRateLimit_HeadersAndDenial(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 30, 0, time.UTC)
	limiter := ratelimit.New(ratelimit.NewMemoryStore(), ratelimit.Policy{PerMinute: 2, PerHour: 100})
	e := newLimitedEcho(limiter, now, 7)

	rec := post(e, "10.0.0.1")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "2", rec.Header().Get(HeaderLimitMinute))
	assert.Equal(t, "1", rec.Header().Get(HeaderRemainingMinute))
	assert.Equal(t, "100", rec.Header().Get(HeaderLimitHour))
	assert.Equal(t, "99", rec.Header().Get(HeaderRemainingHour))
	resetMinute := now.Truncate(time.Minute).Add(time.Minute).Unix()
	assert.Equal(t, strconv.FormatInt(resetMinute, 10), rec.Header().Get(HeaderResetMinute))

	require.Equal(t, http.StatusOK, post(e, "10.0.0.1").Code)

	rec = post(e, "10.0.0.2")
	require.Equal(t, http.StatusTooManyRequests, rec.Code, "keyed by user, not ip")
	assert.Equal(t, "30", rec.Header().Get(echo.HeaderRetryAfter))
	assert.Equal(t, "0", rec.Header().Get(HeaderRemainingMinute))

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "rate_limit_exceeded", body["error"])
	assert.EqualValues(t, 30, body["retry_after"])
	assert.EqualValues(t, 2, body["limit_minute"])
	assert.EqualValues(t, 0, body["remaining_minute"])
	assert.EqualValues(t, 98, body["remaining_hour"])
	assert.EqualValues(t, resetMinute, body["reset_minute"])
}

func TestRateLimit_AnonymousKeyedByIP(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	limiter := ratelimit.New(ratelimit.NewMemoryStore(), ratelimit.Policy{PerMinute: 1, PerHour: 10})
	e := newLimitedEcho(limiter, now, 0)

	assert.Equal(t, http.StatusOK, post(e, "10.0.0.1").Code)
	assert.Equal(t, http.StatusTooManyRequests, post(e, "10.0.0.1").Code)
	assert.Equal(t, http.StatusOK, post(e, "10.0.0.2").Code)
}

type failingAdmitter struct{}

func (failingAdmitter) Admit(context.Context, string, time.Time) (ratelimit.Decision, error) {
	return ratelimit.Decision{}, errors.New("redis: connection refused")
}

func TestRateLimit_StoreFailureFailsClosed(t *testing.T) {
	e := newLimitedEcho(failingAdmitter{}, time.Now(), 7)
	rec := post(e, "10.0.0.1")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "1", rec.Header().Get(echo.HeaderRetryAfter))
}

type unreachableStore struct{}

func (unreachableStore) Take(context.Context, string, time.Time, ratelimit.Policy) (ratelimit.Decision, error) {
	return ratelimit.Decision{}, errors.New("dial tcp: connection refused")
}

func TestRateLimit_StoreFailureKeepsQuotaHeaders(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 30, 0, time.UTC)
	limiter := ratelimit.New(unreachableStore{}, ratelimit.Policy{PerMinute: 10, PerHour: 100})
	rec := post(newLimitedEcho(limiter, now, 7), "10.0.0.1")

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.JSONEq(t, `{"error":"rate_limit_unavailable"}`, rec.Body.String())
	assert.Equal(t, "1", rec.Header().Get(echo.HeaderRetryAfter))
	assert.Equal(t, "10", rec.Header().Get(HeaderLimitMinute))
	assert.Equal(t, "0", rec.Header().Get(HeaderRemainingMinute))
	assert.Equal(t, "100", rec.Header().Get(HeaderLimitHour))
	assert.Equal(t, "0", rec.Header().Get(HeaderRemainingHour))
	assert.Equal(t, strconv.FormatInt(now.Truncate(time.Hour).Add(time.Hour).Unix(), 10), rec.Header().Get(HeaderResetHour))
}

func TestNewRateLimit_NilLimiterPassesThrough(t *testing.T) {
	e := echo.New()
	e.GET("/", func(c echo.Context) error { return c.NoContent(http.StatusOK) }, NewRateLimit(nil, nil))
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get(HeaderLimitMinute))
}

func TestRetrySeconds(t *testing.T) {
	assert.Equal(t, 1, retrySeconds(0))
	assert.Equal(t, 1, retrySeconds(200*time.Millisecond))
	assert.Equal(t, 2, retrySeconds(1100*time.Millisecond))
	assert.Equal(t, 3600, retrySeconds(time.Hour))
}
