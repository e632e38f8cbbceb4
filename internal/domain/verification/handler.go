package verification

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/carelink/portal/internal/platform/auth"
	"github.com/carelink/portal/internal/platform/store"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/verification", auth.RequireRole("admin", "physician", "nurse"))
	g.POST("/documents", h.Submit)
	g.GET("/documents", h.ListMine)
	g.GET("/documents/:id", h.Get)

	review := api.Group("/verification", auth.RequireRole("admin"))
	review.POST("/documents/:id/approve", h.Approve)
	review.POST("/documents/:id/reject", h.Reject)
	review.POST("/documents/:id/suspend", h.Suspend)
	review.GET("/documents/:id/audit", h.Audit)
}

type submitRequest struct {
	SlotID  string `json:"slot_id"`
	BlobURL string `json:"blob_url"`
}

func (h *Handler) Submit(c echo.Context) error {
	var req submitRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ownerID := auth.UserIDFromContext(c.Request().Context())
	d, err := h.svc.Submit(c.Request().Context(), ownerID, req.SlotID, req.BlobURL, ownerID)
	if err != nil {
		return h.mapError(err)
	}
	return c.JSON(http.StatusCreated, d)
}

func (h *Handler) ListMine(c echo.Context) error {
	ownerID := auth.UserIDFromContext(c.Request().Context())
	docs, err := h.svc.ListByOwner(c.Request().Context(), ownerID)
	if err != nil {
		return h.mapError(err)
	}
	return c.JSON(http.StatusOK, docs)
}

func (h *Handler) Get(c echo.Context) error {
	d, err := h.svc.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return h.mapError(err)
	}
	return c.JSON(http.StatusOK, d)
}

type reviewRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) Approve(c echo.Context) error {
	reviewer := auth.UserIDFromContext(c.Request().Context())
	d, err := h.svc.Approve(c.Request().Context(), c.Param("id"), reviewer)
	if err != nil {
		return h.mapError(err)
	}
	return c.JSON(http.StatusOK, d)
}

func (h *Handler) Reject(c echo.Context) error {
	var req reviewRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	reviewer := auth.UserIDFromContext(c.Request().Context())
	d, err := h.svc.Reject(c.Request().Context(), c.Param("id"), reviewer, req.Reason)
	if err != nil {
		return h.mapError(err)
	}
	return c.JSON(http.StatusOK, d)
}

func (h *Handler) Suspend(c echo.Context) error {
	var req reviewRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	reviewer := auth.UserIDFromContext(c.Request().Context())
	d, err := h.svc.Suspend(c.Request().Context(), c.Param("id"), reviewer, req.Reason)
	if err != nil {
		return h.mapError(err)
	}
	return c.JSON(http.StatusOK, d)
}

func (h *Handler) Audit(c echo.Context) error {
	entries, err := h.svc.Audit(c.Request().Context(), c.Param("id"))
	if err != nil {
		return h.mapError(err)
	}
	return c.JSON(http.StatusOK, entries)
}

func (h *Handler) mapError(err error) error {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "document not found")
	case errors.Is(err, ErrInvalidTransition):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, ErrReasonRequired):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	default:
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
}
