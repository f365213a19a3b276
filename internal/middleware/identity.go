package middleware

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/portfolio-builder/internal/model"
	"github.com/iliyamo/portfolio-builder/internal/security"
)

// Context keys written by SessionGuard.
const (
	ctxUserID   = "user_id"
	ctxIdentity = "identity"
	ctxSession  = "session"
)

// UserID returns the authenticated identity id, or false on an
// unauthenticated request.
func UserID(c echo.Context) (uint64, bool) {
	id, ok := c.Get(ctxUserID).(uint64)
	return id, ok && id != 0
}

// IdentityFrom returns the identity resolved by SessionGuard.
func IdentityFrom(c echo.Context) (model.User, bool) {
	u, ok := c.Get(ctxIdentity).(model.User)
	return u, ok
}

// SessionFrom returns the validated access-token session.
func SessionFrom(c echo.Context) (security.Session, bool) {
	s, ok := c.Get(ctxSession).(security.Session)
	return s, ok
}

func setPrincipal(c echo.Context, p Principal) {
	c.Set(ctxUserID, p.Identity.ID)
	c.Set(ctxIdentity, p.Identity)
	c.Set(ctxSession, p.Session)
}
