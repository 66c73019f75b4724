package ia

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes mounts POST /ia on root and the task lookup on api.
func (h *Handler) RegisterRoutes(root *echo.Echo, api *echo.Group) {
	root.POST("/ia", h.StartTask)
	api.GET("/ia/tasks/:id", h.GetTask)
}

func (h *Handler) StartTask(c echo.Context) error {
	var req TaskRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	t, err := h.svc.StartTask(c.Request().Context(), req)
	if err != nil {
		if errors.Is(err, ErrInvalidTask) {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]string{"taskId": t.ID})
}

func (h *Handler) GetTask(c echo.Context) error {
	t, err := h.svc.GetTask(c.Request().Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "ia task not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, t)
}
