package access

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/carelink/portal/internal/platform/auth"
	"github.com/carelink/portal/internal/platform/store"
)

type Handler struct {
	broker *Broker
}

func NewHandler(broker *Broker) *Handler {
	return &Handler{broker: broker}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/access", auth.RequireRole("admin", "physician"))
	g.POST("/lookups", h.Lookup)
	g.POST("/sessions/:id/verify", h.Verify)
	g.GET("/sessions/:id/records/:collection", h.Records)
	g.DELETE("/sessions/:id", h.Discard)
}

type lookupRequest struct {
	Identifier string `json:"identifier"`
}

func (h *Handler) Lookup(c echo.Context) error {
	var req lookupRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	doctorID := auth.UserIDFromContext(c.Request().Context())
	s, err := h.broker.Lookup(c.Request().Context(), doctorID, req.Identifier)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			return echo.NewHTTPError(http.StatusNotFound, "no patient matches that identifier")
		case errors.Is(err, ErrClinicianNotTrusted):
			return echo.NewHTTPError(http.StatusForbidden, err.Error())
		default:
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
	}
	return c.JSON(http.StatusCreated, s)
}

type verifyRequest struct {
	Code string `json:"code"`
}

func (h *Handler) Verify(c echo.Context) error {
	var req verifyRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	s, err := h.broker.Verify(c.Request().Context(), c.Param("id"), req.Code)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			return echo.NewHTTPError(http.StatusNotFound, "session not found")
		case errors.Is(err, ErrChallengeMismatch):
			return echo.NewHTTPError(http.StatusUnauthorized, err.Error())
		case errors.Is(err, ErrChallengeExpired), errors.Is(err, ErrTooManyAttempts):
			return echo.NewHTTPError(http.StatusGone, err.Error())
		default:
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
	}
	return c.JSON(http.StatusOK, s)
}

func (h *Handler) Records(c echo.Context) error {
	doctorID := auth.UserIDFromContext(c.Request().Context())
	docs, err := h.broker.Records(c.Request().Context(), c.Param("id"), doctorID, c.Param("collection"))
	if err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			return echo.NewHTTPError(http.StatusNotFound, "session not found")
		case errors.Is(err, ErrNotGranted):
			return echo.NewHTTPError(http.StatusForbidden, err.Error())
		default:
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
	}
	if docs == nil {
		docs = []store.Document{}
	}
	return c.JSON(http.StatusOK, docs)
}

func (h *Handler) Discard(c echo.Context) error {
	h.broker.Discard(c.Param("id"))
	return c.NoContent(http.StatusNoContent)
}
