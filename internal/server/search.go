package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/answerhive/answerhive/internal/search"
)

// SearchHandler exposes the orchestrator over REST. Clients start a search,
// poll its session, and delete it when done; there is no push channel.
type SearchHandler struct {
	App *App
}

func (h *SearchHandler) Register(g *echo.Group) {
	g.POST("/search", h.start)
	g.GET("/search/:id", h.status)
	g.GET("/search/:id/result", h.result)
	g.POST("/search/:id/stop", h.stop)
	g.DELETE("/search/:id", h.remove)
	g.GET("/platforms", h.platforms)
	g.GET("/platforms/status", h.platformStatus)
}

type startRequest struct {
	Query           string   `json:"query"`
	Platforms       []string `json:"platforms"`
	AllowSimulated  *bool    `json:"allow_simulated"`
	TimeoutSeconds  int      `json:"timeout_seconds"`
	ConfidenceFloor float64  `json:"confidence_floor"`
}

func (h *SearchHandler) start(c echo.Context) error {
	var req startRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Query == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "query is required")
	}

	platforms := req.Platforms
	if len(platforms) == 0 {
		platforms = h.App.Config.PlatformNames()
	}
	for _, p := range platforms {
		if h.App.Config.Platform(p) == nil {
			return echo.NewHTTPError(http.StatusBadRequest, "unknown platform: "+p)
		}
	}

	allowSimulated := true
	if req.AllowSimulated != nil {
		allowSimulated = *req.AllowSimulated
	}

	id, err := h.App.Orchestrator.Start(c.Request().Context(), req.Query, search.Options{
		Platforms:       platforms,
		AllowSimulated:  allowSimulated,
		Timeout:         time.Duration(req.TimeoutSeconds) * time.Second,
		ConfidenceFloor: req.ConfidenceFloor,
	})
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusAccepted, map[string]string{"session_id": id})
}

func (h *SearchHandler) status(c echo.Context) error {
	sess, err := h.App.Orchestrator.Status(c.Request().Context(), c.Param("id"))
	if err != nil {
		return sessionError(err)
	}
	return c.JSON(http.StatusOK, sess)
}

type resultResponse struct {
	SessionID  string                     `json:"session_id"`
	Status     search.SessionStatus       `json:"status"`
	Content    string                     `json:"content"`
	Integrated bool                       `json:"integrated"`
	Document   *search.AggregatedDocument `json:"document,omitempty"`
}

// result returns the merged document of a finished session. With
// ?integrate=true and a configured integrator the merge is rewritten into
// one synthesized answer; on any integration failure the structural merge is
// returned unchanged.
func (h *SearchHandler) result(c echo.Context) error {
	sess, err := h.App.Orchestrator.Status(c.Request().Context(), c.Param("id"))
	if err != nil {
		return sessionError(err)
	}
	if sess.Status == search.SessionRunning {
		return echo.NewHTTPError(http.StatusConflict, "session still running")
	}
	if sess.Document == nil {
		return echo.NewHTTPError(http.StatusNotFound, "session has no document")
	}

	resp := resultResponse{
		SessionID: sess.ID,
		Status:    sess.Status,
		Content:   sess.Document.Content,
		Document:  sess.Document,
	}
	if c.QueryParam("integrate") == "true" && h.App.Integrator != nil && !sess.Document.NoResults {
		if merged, err := h.App.Integrator.Integrate(c.Request().Context(), sess.Query, sess.Document.Content); err != nil {
			h.App.Logger.Printf("integration for session %s failed, serving structural merge: %v", sess.ID, err)
		} else {
			resp.Content = merged
			resp.Integrated = true
		}
	}
	return c.JSON(http.StatusOK, resp)
}

func (h *SearchHandler) stop(c echo.Context) error {
	if err := h.App.Orchestrator.Stop(c.Request().Context(), c.Param("id")); err != nil {
		return sessionError(err)
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "stopping"})
}

func (h *SearchHandler) remove(c echo.Context) error {
	if err := h.App.Orchestrator.Delete(c.Request().Context(), c.Param("id")); err != nil {
		return sessionError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

type platformInfo struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	HasEndpoint bool   `json:"has_endpoint"`
}

func (h *SearchHandler) platforms(c echo.Context) error {
	out := make([]platformInfo, 0, len(h.App.Config.Platforms))
	for _, p := range h.App.Config.Platforms {
		out = append(out, platformInfo{
			Name:        p.Name,
			Description: p.Description,
			HasEndpoint: p.ChatEndpoint != "",
		})
	}
	return c.JSON(http.StatusOK, out)
}

// platformStatus probes each configured tier for each platform. Probes hit
// the live browser and the credential store, so this endpoint is for
// operators, not hot paths.
func (h *SearchHandler) platformStatus(c echo.Context) error {
	ctx := c.Request().Context()
	out := make([]map[string]interface{}, 0, len(h.App.Config.Platforms))
	for _, p := range h.App.Config.Platforms {
		tiers := make(map[string]bool, len(h.App.Drivers))
		for _, d := range h.App.Drivers {
			tiers[string(d.Tier())] = d.Available(ctx, p.Name)
		}
		out = append(out, map[string]interface{}{
			"name":  p.Name,
			"tiers": tiers,
		})
	}
	return c.JSON(http.StatusOK, out)
}

func sessionError(err error) error {
	if errors.Is(err, search.ErrSessionNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "session not found")
	}
	return err
}
