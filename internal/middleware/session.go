package middleware

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/portfolio-builder/internal/model"
	"github.com/iliyamo/portfolio-builder/internal/repository"
	"github.com/iliyamo/portfolio-builder/internal/security"
)

// TokenValidator is the part of security.TokenService the guard needs.
type TokenValidator interface {
	Validate(ctx context.Context, token string, expected security.TokenType) (security.Session, error)
}

// dummyVerifier is implemented by validators that can burn one verification
// without a token, like security.TokenService.
type dummyVerifier interface {
	DummyVerify()
}

// IdentityLookup resolves a token subject. It returns repository.ErrNotFound
// for an id that no longer exists.
type IdentityLookup interface {
	GetByID(ctx context.Context, id uint64) (model.User, error)
}

// Stage is how far a request got through authentication.
type Stage int

const (
	StageUnauthenticated Stage = iota
	StageTokenExtracted
	StageTokenVerified
	StageIdentityResolved
	StageAuthorized
)

func (s Stage) String() string {
	switch s {
	case StageUnauthenticated:
		return "unauthenticated"
	case StageTokenExtracted:
		return "token_extracted"
	case StageTokenVerified:
		return "token_verified"
	case StageIdentityResolved:
		return "identity_resolved"
	case StageAuthorized:
		return "authorized"
	}
	return fmt.Sprintf("stage(%d)", int(s))
}

// Rejection is the single failure type returned by Authenticate. Stage is the
// last stage reached before the failure and Cause the precise reason. Neither
// is ever sent to the client.
type Rejection struct {
	Stage Stage
	Cause error
}

func (r *Rejection) Error() string { return "unauthorized at " + r.Stage.String() + ": " + r.Cause.Error() }

func (r *Rejection) Unwrap() error { return r.Cause }

// Principal is an authorized caller.
type Principal struct {
	Identity model.User
	Session  security.Session
}

// SessionGuard turns a bearer credential into a Principal.
type SessionGuard struct {
	tokens     TokenValidator
	identities IdentityLookup
	log        *slog.Logger
}

func NewSessionGuard(tokens TokenValidator, identities IdentityLookup, log *slog.Logger) *SessionGuard {
	if log == nil {
		log = slog.Default()
	}
	return &SessionGuard{tokens: tokens, identities: identities, log: log}
}

// Authenticate runs one request through extraction, verification and
// identity resolution. Every failure is a *Rejection.
func (g *SessionGuard) Authenticate(ctx context.Context, header string) (Principal, error) {
	raw, ok := bearerToken(header)
	if !ok {
		if dv, ok := g.tokens.(dummyVerifier); ok {
			dv.DummyVerify()
		}
		return Principal{}, &Rejection{Stage: StageUnauthenticated, Cause: security.ErrMissingCredential}
	}

	sess, err := g.tokens.Validate(ctx, raw, security.TypeAccess)
	if err != nil {
		return Principal{}, &Rejection{Stage: StageTokenExtracted, Cause: err}
	}

	user, err := g.identities.GetByID(ctx, sess.IdentityID)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return Principal{}, &Rejection{Stage: StageTokenVerified, Cause: security.ErrUnknownIdentity}
	case err != nil:
		return Principal{}, &Rejection{Stage: StageTokenVerified, Cause: fmt.Errorf("identity lookup: %w", err)}
	case !user.IsActive:
		return Principal{}, &Rejection{Stage: StageIdentityResolved, Cause: fmt.Errorf("%w: account inactive", security.ErrUnknownIdentity)}
	}
	return Principal{Identity: user, Session: sess}, nil
}

// Middleware guards a route group. Authentication failures all produce the
// same 401 body; a failing identity store produces 503 so clients do not
// discard good tokens.
func (g *SessionGuard) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			p, err := g.Authenticate(req.Context(), req.Header.Get(echo.HeaderAuthorization))
			if err != nil {
				var rej *Rejection
				errors.As(err, &rej)
				if !security.IsUnauthorized(err) {
					g.log.Error("session guard: identity store failure",
						"stage", rej.Stage.String(), "error", err, "path", c.Path())
					return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": "service_unavailable"})
				}
				g.log.Warn("session guard: rejected",
					"stage", rej.Stage.String(), "reason", rej.Cause.Error(),
					"path", c.Path(), "ip", c.RealIP())
				c.Response().Header().Set(echo.HeaderWWWAuthenticate, "Bearer")
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
			}
			setPrincipal(c, p)
			return next(c)
		}
	}
}

// bearerToken pulls the token out of an Authorization header. The scheme is
// matched case-insensitively.
func bearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	if token == "" || strings.ContainsAny(token, " \t") {
		return "", false
	}
	return token, true
}
