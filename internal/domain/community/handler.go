package community

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/carelink/portal/internal/platform/auth"
	"github.com/carelink/portal/internal/platform/store"
	"github.com/carelink/portal/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("", auth.RequireRole("admin", "physician", "nurse", "patient"))
	g.GET("/posts", h.ListPosts)
	g.GET("/posts/:id", h.GetPost)
	g.GET("/posts/:id/thread", h.GetThread)
	g.POST("/posts", h.CreatePost)
	g.DELETE("/posts/:id", h.DeletePost)
	g.POST("/posts/:id/replies", h.CreateReply)
	g.DELETE("/replies/:id", h.DeleteReply)
	g.POST("/posts/:id/like", h.ToggleLike)

	admin := api.Group("", auth.RequireRole("admin"))
	admin.POST("/posts/:id/recount-likes", h.RecountLikes)
}

func (h *Handler) CreatePost(c echo.Context) error {
	var p Post
	if err := c.Bind(&p); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	p.AuthorID = auth.UserIDFromContext(c.Request().Context())
	if err := h.svc.CreatePost(c.Request().Context(), &p); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusCreated, p)
}

func (h *Handler) GetPost(c echo.Context) error {
	p, err := h.svc.GetPost(c.Request().Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "post not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) ListPosts(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListPosts(c.Request().Context(), pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) DeletePost(c echo.Context) error {
	actor := auth.UserIDFromContext(c.Request().Context())
	if err := h.svc.DeletePost(c.Request().Context(), c.Param("id"), actor); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "post not found")
		}
		return echo.NewHTTPError(http.StatusForbidden, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) GetThread(c echo.Context) error {
	nodes, err := h.svc.Thread(c.Request().Context(), c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if nodes == nil {
		nodes = []*ThreadNode{}
	}
	return c.JSON(http.StatusOK, nodes)
}

func (h *Handler) CreateReply(c echo.Context) error {
	var r Reply
	if err := c.Bind(&r); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	r.PostID = c.Param("id")
	r.AuthorID = auth.UserIDFromContext(c.Request().Context())
	if err := h.svc.CreateReply(c.Request().Context(), &r); err != nil {
		if errors.Is(err, ErrMalformedReply) {
			return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
		}
		if errors.Is(err, store.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, err.Error())
		}
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusCreated, r)
}

func (h *Handler) DeleteReply(c echo.Context) error {
	actor := auth.UserIDFromContext(c.Request().Context())
	if err := h.svc.DeleteReply(c.Request().Context(), c.Param("id"), actor); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "reply not found")
		}
		return echo.NewHTTPError(http.StatusForbidden, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) ToggleLike(c echo.Context) error {
	userID := auth.UserIDFromContext(c.Request().Context())
	liked, err := h.svc.ToggleLike(c.Request().Context(), c.Param("id"), userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "post not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]bool{"liked": liked})
}

func (h *Handler) RecountLikes(c echo.Context) error {
	if err := h.svc.RecountLikes(c.Request().Context(), c.Param("id")); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "post not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}
