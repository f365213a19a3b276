// Package router wires handlers and middleware onto the echo instance.
package router

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/portfolio-builder/internal/handler"
	"github.com/iliyamo/portfolio-builder/internal/middleware"
)

// RegisterRoutes registers routes that need no session.
func RegisterRoutes(e *echo.Echo, deps map[string]handler.Pinger) {
	e.GET("/healthz", handler.Health(deps))
}

// RegisterAuth registers the identity and session endpoints. Register, login
// and refresh are open; everything else sits behind the session guard.
func RegisterAuth(e *echo.Echo, a *handler.AuthHandler, guard *middleware.SessionGuard) {
	g := e.Group("/v1/auth")
	g.POST("/register", a.Register)
	g.POST("/login", a.Login)
	g.POST("/refresh", a.Refresh)
	g.POST("/logout", a.Logout, guard.Middleware())

	me := e.Group("/v1/users/me", guard.Middleware())
	me.GET("", a.Me)
	me.PUT("/password", a.ChangePassword)
}

// RegisterPortfolio registers the portfolio endpoints. Generation is guarded
// and rate limited per identity; the limiter runs after the guard so it can
// key on the caller. The public page is cached.
func RegisterPortfolio(e *echo.Echo, p *handler.PortfolioHandler, guard *middleware.SessionGuard, limit echo.MiddlewareFunc, cache *middleware.ResponseCache) {
	g := e.Group("/v1/portfolio")

	gen := g.Group("/generate", guard.Middleware(), limit)
	gen.POST("/about", p.GenerateAbout)
	gen.POST("/project", p.GenerateProject)
	gen.POST("/skills-structure", p.StructureSkills)
	gen.POST("/full", p.GenerateFull)

	me := g.Group("/me", guard.Middleware())
	me.GET("", p.Mine)
	me.PUT("/publish", p.TogglePublish)

	g.GET("/:id/public", p.Public, cache.Middleware())
}
