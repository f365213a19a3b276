package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/portfolio-builder/internal/ai"
	"github.com/iliyamo/portfolio-builder/internal/middleware"
	"github.com/iliyamo/portfolio-builder/internal/model"
	"github.com/iliyamo/portfolio-builder/internal/observability"
	"github.com/iliyamo/portfolio-builder/internal/repository"
	"github.com/iliyamo/portfolio-builder/internal/service"
)

// Portfolios is the workflow behind the portfolio endpoints.
type Portfolios interface {
	GenerateAbout(ctx context.Context, userID uint64, in service.AboutInput) (string, error)
	GenerateProject(ctx context.Context, userID uint64, in service.ProjectInput) (string, error)
	StructureSkills(ctx context.Context, userID uint64, skills []string) (map[string][]string, error)
	GenerateFull(ctx context.Context, userID uint64, in service.FullInput) (service.FullResult, error)
	Mine(ctx context.Context, userID uint64) (model.Portfolio, error)
	TogglePublish(ctx context.Context, userID uint64) (bool, error)
	Public(ctx context.Context, id uint64) (repository.PublicPortfolio, error)
}

// PortfolioHandler serves generation, the owner's portfolio and the public
// page.
type PortfolioHandler struct {
	Svc   Portfolios
	Cache *middleware.ResponseCache
	Log   *slog.Logger
}

func NewPortfolioHandler(svc Portfolios, cache *middleware.ResponseCache, log *slog.Logger) *PortfolioHandler {
	if log == nil {
		log = slog.Default()
	}
	return &PortfolioHandler{Svc: svc, Cache: cache, Log: log}
}

// PublicPath is the public URL of portfolio id.
func PublicPath(id uint64) string {
	return "/v1/portfolio/" + strconv.FormatUint(id, 10) + "/public"
}

func (h *PortfolioHandler) generationError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, service.ErrInvalidInput):
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	case errors.Is(err, ai.ErrNotConfigured):
		return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": "generation unavailable"})
	case errors.Is(err, ai.ErrBlocked):
		return c.JSON(http.StatusUnprocessableEntity, echo.Map{"error": "content was blocked by the generator"})
	case errors.Is(err, context.DeadlineExceeded):
		return c.JSON(http.StatusGatewayTimeout, echo.Map{"error": "generation timed out"})
	}
	h.Log.Error("generation failed", "error", err, "path", c.Path())
	observability.CaptureError(c, err)
	return c.JSON(http.StatusBadGateway, echo.Map{"error": "failed to generate content"})
}

func (h *PortfolioHandler) GenerateAbout(c echo.Context) error {
	uid, _ := middleware.UserID(c)
	var req service.AboutInput
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	text, err := h.Svc.GenerateAbout(c.Request().Context(), uid, req)
	if err != nil {
		return h.generationError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"success": true, "content": text})
}

func (h *PortfolioHandler) GenerateProject(c echo.Context) error {
	uid, _ := middleware.UserID(c)
	var req struct {
		ProjectName      string   `json:"project_name"`
		Technologies     []string `json:"technologies"`
		BriefDescription string   `json:"brief_description"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	text, err := h.Svc.GenerateProject(c.Request().Context(), uid, service.ProjectInput{
		Name:             req.ProjectName,
		Technologies:     req.Technologies,
		BriefDescription: req.BriefDescription,
	})
	if err != nil {
		return h.generationError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"success": true, "content": text})
}

// StructureSkills accepts either a bare JSON array of skills or
// {"skills": [...]}.
func (h *PortfolioHandler) StructureSkills(c echo.Context) error {
	uid, _ := middleware.UserID(c)
	body, err := io.ReadAll(io.LimitReader(c.Request().Body, 64<<10))
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	var skills []string
	if trimmed := bytes.TrimSpace(body); len(trimmed) > 0 && trimmed[0] == '[' {
		err = json.Unmarshal(trimmed, &skills)
	} else {
		var wrapped struct {
			Skills []string `json:"skills"`
		}
		err = json.Unmarshal(trimmed, &wrapped)
		skills = wrapped.Skills
	}
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	structure, err := h.Svc.StructureSkills(c.Request().Context(), uid, skills)
	if err != nil {
		return h.generationError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"success": true, "structure": structure})
}

func (h *PortfolioHandler) GenerateFull(c echo.Context) error {
	uid, _ := middleware.UserID(c)
	var req service.FullInput
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	res, err := h.Svc.GenerateFull(c.Request().Context(), uid, req)
	if err != nil {
		return h.generationError(c, err)
	}
	h.Cache.Purge(c.Request().Context(), PublicPath(res.PortfolioID))
	return c.JSON(http.StatusOK, echo.Map{"success": true, "portfolio_id": res.PortfolioID, "content": res})
}

// Mine returns the caller's stored portfolio.
func (h *PortfolioHandler) Mine(c echo.Context) error {
	uid, _ := middleware.UserID(c)
	p, err := h.Svc.Mine(c.Request().Context(), uid)
	if errors.Is(err, repository.ErrNotFound) {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "portfolio not found; generate one first"})
	}
	if err != nil {
		h.Log.Error("load portfolio failed", "user_id", uid, "error", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "load portfolio failed"})
	}
	return c.JSON(http.StatusOK, p)
}

// TogglePublish flips the caller's portfolio between published and private.
func (h *PortfolioHandler) TogglePublish(c echo.Context) error {
	uid, _ := middleware.UserID(c)
	ctx := c.Request().Context()
	published, err := h.Svc.TogglePublish(ctx, uid)
	if errors.Is(err, repository.ErrNotFound) {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "portfolio not found; generate one first"})
	}
	if err != nil {
		h.Log.Error("toggle publish failed", "user_id", uid, "error", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "toggle publish failed"})
	}
	p, err := h.Svc.Mine(ctx, uid)
	if err == nil {
		h.Cache.Purge(ctx, PublicPath(p.ID))
	}
	resp := echo.Map{"is_published": published}
	if published && err == nil {
		resp["public_url"] = PublicPath(p.ID)
	}
	return c.JSON(http.StatusOK, resp)
}

// Public serves a published portfolio without authentication.
func (h *PortfolioHandler) Public(c echo.Context) error {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid id"})
	}
	p, err := h.Svc.Public(c.Request().Context(), id)
	if errors.Is(err, repository.ErrNotFound) {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "portfolio not found"})
	}
	if err != nil {
		h.Log.Error("load public portfolio failed", "id", id, "error", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "load portfolio failed"})
	}
	return c.JSON(http.StatusOK, p)
}
