package search

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/wildbook/encounterdesk/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/search/:index", h.Search)
	api.GET("/search/:index/:id", h.GetDocument)
	api.PUT("/search/:index/:id", h.IndexDocument)
	api.DELETE("/search/:index/:id", h.DeleteDocument)
}

// Search accepts a query DSL body. An empty body matches everything.
func (h *Handler) Search(c echo.Context) error {
	body, err := decodeBody(c)
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	hits, total, err := h.svc.Search(c.Request().Context(), c.Param("index"), body, pg)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(hits, total, pg))
}

func (h *Handler) GetDocument(c echo.Context) error {
	doc, err := h.svc.Get(c.Request().Context(), c.Param("index"), c.Param("id"))
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, doc.Hit())
}

func (h *Handler) IndexDocument(c echo.Context) error {
	body, err := decodeBody(c)
	if err != nil {
		return err
	}
	doc, err := h.svc.Index(c.Request().Context(), c.Param("index"), c.Param("id"), body)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, doc.Hit())
}

func (h *Handler) DeleteDocument(c echo.Context) error {
	if err := h.svc.Delete(c.Request().Context(), c.Param("index"), c.Param("id")); err != nil {
		return toHTTPError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func decodeBody(c echo.Context) (map[string]interface{}, error) {
	raw, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "failed to read request body")
	}
	body := map[string]interface{}{}
	if len(raw) == 0 {
		return body, nil
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "invalid JSON body: "+err.Error())
	}
	return body, nil
}

func toHTTPError(err error) error {
	switch {
	case errors.Is(err, ErrUnknownIndex), errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrInvalidQuery):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrReadOnly):
		return echo.NewHTTPError(http.StatusMethodNotAllowed, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}
