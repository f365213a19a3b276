package router

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/portfolio-builder/internal/ai"
	"github.com/iliyamo/portfolio-builder/internal/handler"
	"github.com/iliyamo/portfolio-builder/internal/middleware"
	"github.com/iliyamo/portfolio-builder/internal/model"
	"github.com/iliyamo/portfolio-builder/internal/ratelimit"
	"github.com/iliyamo/portfolio-builder/internal/repository"
	"github.com/iliyamo/portfolio-builder/internal/security"
	"github.com/iliyamo/portfolio-builder/internal/service"
)

type users struct {
	mu   sync.Mutex
	rows []model.User
}

func (u *users) Create(_ context.Context, email, username, hash string) (model.User, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	for _, r := range u.rows {
		if r.Email == email {
			return model.User{}, &repository.DuplicateError{Field: "email"}
		}
		if r.Username == username {
			return model.User{}, &repository.DuplicateError{Field: "username"}
		}
	}
	row := model.User{ID: uint64(len(u.rows) + 1), Email: email, Username: username, PasswordHash: hash, IsActive: true, CreatedAt: time.Now()}
	u.rows = append(u.rows, row)
	return row, nil
}

func (u *users) find(match func(model.User) bool) (model.User, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	for _, r := range u.rows {
		if match(r) {
			return r, nil
		}
	}
	return model.User{}, repository.ErrNotFound
}

func (u *users) GetByID(_ context.Context, id uint64) (model.User, error) {
	return u.find(func(r model.User) bool { return r.ID == id })
}

func (u *users) GetByLogin(_ context.Context, login string) (model.User, error) {
	return u.find(func(r model.User) bool { return r.Email == login || r.Username == login })
}

func (u *users) UpdatePassword(context.Context, uint64, string) error { return nil }

type portfolios struct {
	mu   sync.Mutex
	byID map[uint64]model.Portfolio
}

func (p *portfolios) Upsert(_ context.Context, in model.Portfolio) (uint64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for id, cur := range p.byID {
		if cur.UserID == in.UserID {
			in.ID, in.IsPublished = id, cur.IsPublished
			p.byID[id] = in
			return id, nil
		}
	}
	in.ID = uint64(len(p.byID) + 1)
	p.byID[in.ID] = in
	return in.ID, nil
}

func (p *portfolios) GetByUser(_ context.Context, userID uint64) (model.Portfolio, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, cur := range p.byID {
		if cur.UserID == userID {
			return cur, nil
		}
	}
	return model.Portfolio{}, repository.ErrNotFound
}

func (p *portfolios) TogglePublished(ctx context.Context, userID uint64) (bool, error) {
	cur, err := p.GetByUser(ctx, userID)
	if err != nil {
		return false, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	cur.IsPublished = !cur.IsPublished
	p.byID[cur.ID] = cur
	return cur.IsPublished, nil
}

func (p *portfolios) GetPublished(_ context.Context, id uint64) (repository.PublicPortfolio, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	cur, ok := p.byID[id]
	if !ok || !cur.IsPublished {
		return repository.PublicPortfolio{}, repository.ErrNotFound
	}
	return repository.PublicPortfolio{Portfolio: cur, Username: "alice"}, nil
}

type echoGenerator struct{}

func (echoGenerator) Generate(_ context.Context, p ai.Prompt) (string, error) {
	if p.JSON {
		return `{"Backend":["Go"]}`, nil
	}
	return "generated", nil
}

type app struct {
	e *echo.Echo
}

func newApp(t *testing.T, perHour int) *app {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	ring, err := security.NewKeyRing(key, &key.PublicKey)
	require.NoError(t, err)

	tokens := security.NewTokenService(ring, security.TokenConfig{AccessTTL: 15 * time.Minute, RefreshTTL: time.Hour},
		security.WithDenylist(security.NewMemoryDenylist()))
	vault := security.NewPasswordVault(security.Argon2Params{Time: 1, Memory: 8 * 1024, Threads: 1})
	store := &users{}
	guard := middleware.NewSessionGuard(tokens, store, log)
	limiter := ratelimit.New(ratelimit.NewMemoryStore(), ratelimit.Policy{PerMinute: 100, PerHour: perHour})

	svc := service.NewPortfolioService(echoGenerator{}, &portfolios{byID: map[uint64]model.Portfolio{}}, nil, log)
	t.Cleanup(svc.Close)

	e := echo.New()
	RegisterRoutes(e, nil)
	RegisterAuth(e, handler.NewAuthHandler(store, tokens, vault, log), guard)
	RegisterPortfolio(e, handler.NewPortfolioHandler(svc, nil, log), guard, middleware.NewRateLimit(limiter, log), nil)
	return &app{e: e}
}

func (a *app) call(method, path, body, bearer string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if bearer != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	a.e.ServeHTTP(rec, req)
	return rec
}

type pair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
}

func decodePair(t *testing.T, rec *httptest.ResponseRecorder) pair {
	t.Helper()
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var p pair
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &p))
	return p
}

// The register/login/authorize/refresh journey end to end.
func TestSessionLifecycle(t *testing.T) {
	a := newApp(t, 100)

	rec := a.call(http.MethodPost, "/v1/auth/register", `{"email":"a@b.com","username":"alice","password":"secret1"}`, "")
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = a.call(http.MethodPost, "/v1/auth/register", `{"email":"a@b.com","username":"alice2","password":"secret1"}`, "")
	require.Equal(t, http.StatusConflict, rec.Code)

	tokens := decodePair(t, a.call(http.MethodPost, "/v1/auth/login", `{"login":"a@b.com","password":"secret1"}`, ""))
	assert.Equal(t, "bearer", tokens.TokenType)

	rec = a.call(http.MethodPost, "/v1/auth/login", `{"login":"a@b.com","password":"wrong"}`, "")
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.JSONEq(t, `{"error":"invalid credentials"}`, rec.Body.String())

	rec = a.call(http.MethodGet, "/v1/users/me", "", tokens.AccessToken)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"username":"alice"`)

	rec = a.call(http.MethodGet, "/v1/users/me", "", tokens.RefreshToken)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.JSONEq(t, `{"error":"unauthorized"}`, rec.Body.String())

	next := decodePair(t, a.call(http.MethodPost, "/v1/auth/refresh", `{"refresh_token":"`+tokens.RefreshToken+`"}`, ""))
	assert.NotEmpty(t, next.AccessToken)
	assert.Equal(t, http.StatusOK, a.call(http.MethodGet, "/v1/users/me", "", next.AccessToken).Code)
}

func TestGenerateRateLimited(t *testing.T) {
	a := newApp(t, 2)
	require.Equal(t, http.StatusCreated, a.call(http.MethodPost, "/v1/auth/register", `{"email":"a@b.com","username":"alice","password":"secret1"}`, "").Code)
	tokens := decodePair(t, a.call(http.MethodPost, "/v1/auth/login", `{"login":"alice","password":"secret1"}`, ""))

	body := `{"name":"Alice","skills":["Go"]}`
	assert.Equal(t, http.StatusUnauthorized, a.call(http.MethodPost, "/v1/portfolio/generate/about", body, "").Code)

	for i := 0; i < 2; i++ {
		rec := a.call(http.MethodPost, "/v1/portfolio/generate/about", body, tokens.AccessToken)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.NotEmpty(t, rec.Header().Get(middleware.HeaderRemainingMinute))
	}
	rec := a.call(http.MethodPost, "/v1/portfolio/generate/about", body, tokens.AccessToken)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get(echo.HeaderRetryAfter))
	assert.Contains(t, rec.Body.String(), "rate_limit_exceeded")

	// reads are not limited
	assert.Equal(t, http.StatusNotFound, a.call(http.MethodGet, "/v1/portfolio/me", "", tokens.AccessToken).Code)
}

func TestPortfolioPublishFlow(t *testing.T) {
	a := newApp(t, 100)
	require.Equal(t, http.StatusCreated, a.call(http.MethodPost, "/v1/auth/register", `{"email":"a@b.com","username":"alice","password":"secret1"}`, "").Code)
	tokens := decodePair(t, a.call(http.MethodPost, "/v1/auth/login", `{"login":"alice","password":"secret1"}`, ""))

	rec := a.call(http.MethodPost, "/v1/portfolio/generate/full",
		`{"name":"Alice","skills":["Go"],"projects":[{"name":"seatmap","technologies":["Go"]}]}`, tokens.AccessToken)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	assert.Equal(t, http.StatusNotFound, a.call(http.MethodGet, "/v1/portfolio/1/public", "", "").Code)

	rec = a.call(http.MethodPut, "/v1/portfolio/me/publish", "", tokens.AccessToken)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"is_published":true`)

	rec = a.call(http.MethodGet, "/v1/portfolio/1/public", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"about_me":"generated"`)
}

func TestHealthz(t *testing.T) {
	a := newApp(t, 100)
	rec := a.call(http.MethodGet, "/healthz", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}
