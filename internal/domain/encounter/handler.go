package encounter

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/wildbook/encounterdesk/internal/platform/patch"
	"github.com/wildbook/encounterdesk/pkg/pagination"
)

const (
	mimeJSON       = "application/json"
	mimeJSONPatch  = "application/json-patch+json"
	mimeMergePatch = "application/merge-patch+json"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/encounters", h.ListEncounters)
	api.POST("/encounters", h.CreateEncounter)
	api.GET("/encounters/:id", h.GetEncounter)
	api.PATCH("/encounters/:id", h.PatchEncounter)
}

func (h *Handler) ListEncounters(c echo.Context) error {
	pg := pagination.FromContext(c)
	encs, total, err := h.svc.ListEncounters(c.Request().Context(), pg.Size, pg.From)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	docs := make([]map[string]interface{}, 0, len(encs))
	for _, enc := range encs {
		docs = append(docs, enc.Document())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(docs, total, pg))
}

func (h *Handler) CreateEncounter(c echo.Context) error {
	var doc map[string]interface{}
	if err := json.NewDecoder(c.Request().Body).Decode(&doc); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid JSON body: "+err.Error())
	}
	enc := FromDocument(doc)
	if err := h.svc.CreateEncounter(c.Request().Context(), enc); err != nil {
		if errors.Is(err, ErrExists) {
			return echo.NewHTTPError(http.StatusConflict, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	setVersion(c, enc)
	return c.JSON(http.StatusCreated, enc.Document())
}

func (h *Handler) GetEncounter(c echo.Context) error {
	enc, err := h.svc.GetEncounter(c.Request().Context(), c.Param("id"))
	if err != nil {
		return toHTTPError(err)
	}
	setVersion(c, enc)
	return c.JSON(http.StatusOK, enc.Document())
}

// PatchEncounter accepts an ordered operation array (application/json or
// application/json-patch+json) or a merge patch.
func (h *Handler) PatchEncounter(c echo.Context) error {
	id := c.Param("id")
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "failed to read request body")
	}

	contentType := c.Request().Header.Get("Content-Type")
	mediaType := mimeJSON
	if contentType != "" {
		if mediaType, _, err = mime.ParseMediaType(contentType); err != nil {
			return echo.NewHTTPError(http.StatusUnsupportedMediaType, "invalid Content-Type")
		}
	}

	var enc *Encounter
	switch mediaType {
	case mimeJSON, mimeJSONPatch:
		ops, err := patch.Parse(body)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		enc, err = h.svc.PatchEncounter(c.Request().Context(), id, ops)
		if err != nil {
			return toHTTPError(err)
		}
	case mimeMergePatch:
		var mp map[string]interface{}
		if err := json.Unmarshal(body, &mp); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid merge patch: "+err.Error())
		}
		enc, err = h.svc.MergePatchEncounter(c.Request().Context(), id, mp)
		if err != nil {
			return toHTTPError(err)
		}
	default:
		return echo.NewHTTPError(http.StatusUnsupportedMediaType,
			fmt.Sprintf("Content-Type must be %s, %s or %s", mimeJSON, mimeJSONPatch, mimeMergePatch))
	}

	setVersion(c, enc)
	return c.JSON(http.StatusOK, enc.Document())
}

func setVersion(c echo.Context, enc *Encounter) {
	c.Response().Header().Set("ETag", fmt.Sprintf(`W/"%d"`, enc.Version))
}

func toHTTPError(err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "encounter not found")
	case errors.Is(err, ErrInvalidPatch):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}
