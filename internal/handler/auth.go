package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/mail"
	"regexp"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/portfolio-builder/internal/middleware"
	"github.com/iliyamo/portfolio-builder/internal/model"
	"github.com/iliyamo/portfolio-builder/internal/observability"
	"github.com/iliyamo/portfolio-builder/internal/repository"
	"github.com/iliyamo/portfolio-builder/internal/security"
)

// UserStore is the identity persistence the auth endpoints use.
type UserStore interface {
	Create(ctx context.Context, email, username, passwordHash string) (model.User, error)
	GetByID(ctx context.Context, id uint64) (model.User, error)
	GetByLogin(ctx context.Context, login string) (model.User, error)
	UpdatePassword(ctx context.Context, id uint64, passwordHash string) error
}

// Tokens is the part of security.TokenService the auth endpoints use.
type Tokens interface {
	AccessTTL() time.Duration
	IssuePair(identityID uint64) (security.Pair, error)
	Validate(ctx context.Context, token string, expected security.TokenType) (security.Session, error)
	Refresh(ctx context.Context, refreshToken string) (security.Pair, error)
	Revoke(ctx context.Context, sess security.Session) error
}

// AuthHandler bundles dependencies for auth endpoints.
type AuthHandler struct {
	Users  UserStore
	Tokens Tokens
	Vault  *security.PasswordVault
	Log    *slog.Logger
}

func NewAuthHandler(u UserStore, t Tokens, v *security.PasswordVault, log *slog.Logger) *AuthHandler {
	if log == nil {
		log = slog.Default()
	}
	return &AuthHandler{Users: u, Tokens: t, Vault: v, Log: log}
}

const dbTimeout = 5 * time.Second

const (
	minPasswordLen = 6
	maxPasswordLen = 128
)

var usernameRegex = regexp.MustCompile(`^[A-Za-z0-9_.-]{3,50}$`)

// ----- DTOs -----

type registerReq struct {
	Email    string `json:"email"`
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginReq struct {
	Login    string `json:"login"`
	Email    string `json:"email"`
	Username string `json:"username"`
	Password string `json:"password"`
}

type refreshReq struct {
	RefreshToken string `json:"refresh_token"`
}

type changePasswordReq struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

type userResp struct {
	ID        uint64    `json:"id"`
	Email     string    `json:"email"`
	Username  string    `json:"username"`
	CreatedAt time.Time `json:"created_at"`
}

type tokenResp struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
}

func toUserResp(u model.User) userResp {
	return userResp{ID: u.ID, Email: u.Email, Username: u.Username, CreatedAt: u.CreatedAt}
}

func (h *AuthHandler) tokenResp(p security.Pair) tokenResp {
	return tokenResp{
		AccessToken:  p.Access.Value,
		RefreshToken: p.Refresh.Value,
		TokenType:    "bearer",
		ExpiresIn:    int64(h.Tokens.AccessTTL() / time.Second),
	}
}

func unauthorized(c echo.Context) error {
	c.Response().Header().Set(echo.HeaderWWWAuthenticate, "Bearer")
	return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
}

func invalidCredentials(c echo.Context) error {
	return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid credentials"})
}

func (h *AuthHandler) internal(c echo.Context, msg string, err error) error {
	h.Log.Error(msg, "error", err, "path", c.Path())
	observability.CaptureError(c, err)
	return c.JSON(http.StatusInternalServerError, echo.Map{"error": msg})
}

// Register creates an identity. No token is issued; login is a separate step.
func (h *AuthHandler) Register(c echo.Context) error {
	var req registerReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	email := repository.NormalizeEmail(req.Email)
	username := strings.TrimSpace(req.Username)
	if addr, err := mail.ParseAddress(email); err != nil || addr.Address != email {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid email"})
	}
	if !usernameRegex.MatchString(username) {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "username must be 3-50 letters, digits, '.', '_' or '-'"})
	}
	if n := len(req.Password); n < minPasswordLen || n > maxPasswordLen {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "password must be 6-128 characters"})
	}

	digest, err := h.Vault.Hash(req.Password)
	if err != nil {
		return h.internal(c, "hash password failed", err)
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), dbTimeout)
	defer cancel()

	u, err := h.Users.Create(ctx, email, username, digest)
	if err != nil {
		var dup *repository.DuplicateError
		if errors.As(err, &dup) {
			return c.JSON(http.StatusConflict, echo.Map{"error": dup.Error(), "field": dup.Field})
		}
		return h.internal(c, "create user failed", err)
	}
	h.Log.Info("identity registered", "user_id", u.ID)
	return c.JSON(http.StatusCreated, toUserResp(u))
}

// Login exchanges a username or email and a password for a token pair. Every
// failure returns the same body whether the account or the password was
// wrong, and an unknown account still costs one hash verification.
func (h *AuthHandler) Login(c echo.Context) error {
	var req loginReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	login := strings.TrimSpace(req.Login)
	if login == "" {
		login = strings.TrimSpace(req.Email)
	}
	if login == "" {
		login = strings.TrimSpace(req.Username)
	}
	if login == "" || req.Password == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "login/password required"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), dbTimeout)
	defer cancel()

	u, err := h.Users.GetByLogin(ctx, login)
	if errors.Is(err, repository.ErrNotFound) {
		h.Vault.DummyVerify(req.Password)
		return invalidCredentials(c)
	}
	if err != nil {
		return h.internal(c, "query failed", err)
	}
	if !h.Vault.Verify(req.Password, u.PasswordHash) || !u.IsActive {
		h.Log.Warn("login failed", "user_id", u.ID, "active", u.IsActive)
		return invalidCredentials(c)
	}

	if h.Vault.NeedsRehash(u.PasswordHash) {
		if digest, err := h.Vault.Hash(req.Password); err == nil {
			if err := h.Users.UpdatePassword(ctx, u.ID, digest); err != nil {
				h.Log.Warn("password rehash not stored", "user_id", u.ID, "error", err)
			}
		}
	}

	pair, err := h.Tokens.IssuePair(u.ID)
	if err != nil {
		return h.internal(c, "issue tokens failed", err)
	}
	return c.JSON(http.StatusOK, h.tokenResp(pair))
}

// Refresh rotates a refresh token into a new pair. The presented refresh
// token is consumed.
func (h *AuthHandler) Refresh(c echo.Context) error {
	var req refreshReq
	if err := c.Bind(&req); err != nil || strings.TrimSpace(req.RefreshToken) == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "refresh_token required"})
	}
	raw := strings.TrimSpace(req.RefreshToken)

	ctx, cancel := context.WithTimeout(c.Request().Context(), dbTimeout)
	defer cancel()

	sess, err := h.Tokens.Validate(ctx, raw, security.TypeRefresh)
	if err != nil {
		h.Log.Warn("refresh rejected", "reason", err.Error())
		return unauthorized(c)
	}
	u, err := h.Users.GetByID(ctx, sess.IdentityID)
	if errors.Is(err, repository.ErrNotFound) || (err == nil && !u.IsActive) {
		h.Log.Warn("refresh rejected", "reason", security.ErrUnknownIdentity.Error(), "user_id", sess.IdentityID)
		return unauthorized(c)
	}
	if err != nil {
		return h.internal(c, "load user failed", err)
	}

	pair, err := h.Tokens.Refresh(ctx, raw)
	if err != nil {
		if security.IsUnauthorized(err) {
			h.Log.Warn("refresh rejected", "reason", err.Error(), "user_id", sess.IdentityID)
			return unauthorized(c)
		}
		return h.internal(c, "refresh failed", err)
	}
	return c.JSON(http.StatusOK, h.tokenResp(pair))
}

// Logout revokes the presenting access token and, when given, a refresh
// token belonging to the same identity.
func (h *AuthHandler) Logout(c echo.Context) error {
	sess, ok := middleware.SessionFrom(c)
	if !ok {
		return unauthorized(c)
	}
	var req refreshReq
	_ = c.Bind(&req)

	ctx, cancel := context.WithTimeout(c.Request().Context(), dbTimeout)
	defer cancel()

	if err := h.Tokens.Revoke(ctx, sess); err != nil {
		return h.internal(c, "logout failed", err)
	}
	if raw := strings.TrimSpace(req.RefreshToken); raw != "" {
		rs, err := h.Tokens.Validate(ctx, raw, security.TypeRefresh)
		switch {
		case err != nil:
			h.Log.Info("logout: refresh token ignored", "reason", err.Error())
		case rs.IdentityID != sess.IdentityID:
			h.Log.Warn("logout: refresh token of another identity ignored", "user_id", sess.IdentityID)
		default:
			if err := h.Tokens.Revoke(ctx, rs); err != nil {
				return h.internal(c, "logout failed", err)
			}
		}
	}
	return c.NoContent(http.StatusNoContent)
}

// Me returns the authenticated identity.
func (h *AuthHandler) Me(c echo.Context) error {
	u, ok := middleware.IdentityFrom(c)
	if !ok {
		return unauthorized(c)
	}
	return c.JSON(http.StatusOK, toUserResp(u))
}

// ChangePassword replaces the caller's password after checking the current one.
func (h *AuthHandler) ChangePassword(c echo.Context) error {
	u, ok := middleware.IdentityFrom(c)
	if !ok {
		return unauthorized(c)
	}
	var req changePasswordReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	if n := len(req.NewPassword); n < minPasswordLen || n > maxPasswordLen {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "password must be 6-128 characters"})
	}
	if !h.Vault.Verify(req.CurrentPassword, u.PasswordHash) {
		return invalidCredentials(c)
	}
	digest, err := h.Vault.Hash(req.NewPassword)
	if err != nil {
		return h.internal(c, "hash password failed", err)
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), dbTimeout)
	defer cancel()
	if err := h.Users.UpdatePassword(ctx, u.ID, digest); err != nil {
		return h.internal(c, "update password failed", err)
	}
	h.Log.Info("password changed", "user_id", u.ID)
	return c.NoContent(http.StatusNoContent)
}
