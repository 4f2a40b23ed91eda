package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/lumeo-edu/learnpath-api/internal/models"
	"github.com/lumeo-edu/learnpath-api/internal/service"
	appErrors "github.com/lumeo-edu/learnpath-api/pkg/errors"
	"github.com/lumeo-edu/learnpath-api/pkg/response"
	"github.com/lumeo-edu/learnpath-api/pkg/storage"
)

// CatalogHandler serves the read-only content hierarchy and asset
// downloads.
type CatalogHandler struct {
	catalog *service.CatalogService
	signer  *storage.SignedURLSigner
	store   *storage.LocalStore
}

// NewCatalogHandler creates a new handler.
func NewCatalogHandler(catalog *service.CatalogService, signer *storage.SignedURLSigner, store *storage.LocalStore) *CatalogHandler {
	return &CatalogHandler{catalog: catalog, signer: signer, store: store}
}

// ListSeries returns the visible catalog with pagination.
func (h *CatalogHandler) ListSeries(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))

	series, pagination, err := h.catalog.ListSeries(c.Request.Context(), models.SeriesFilter{
		Visibility: models.SeriesVisible,
		Page:       page,
		PageSize:   pageSize,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, "", series, pagination)
}

// GetSeries returns one series with its ordered courses.
func (h *CatalogHandler) GetSeries(c *gin.Context) {
	detail, err := h.catalog.GetSeries(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, "", detail)
}

// GetCourse returns one course with its ordered lessons.
func (h *CatalogHandler) GetCourse(c *gin.Context) {
	detail, err := h.catalog.GetCourse(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, "", detail)
}

// LessonAssetURL resolves a signed download link for an unlocked lesson.
func (h *CatalogHandler) LessonAssetURL(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	asset, err := h.catalog.LessonAssetURL(c.Request.Context(), claims.UserID, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, "", asset)
}

// DownloadAsset streams a stored asset addressed by a signed token. The
// token itself carries authentication, so the route is public.
func (h *CatalogHandler) DownloadAsset(c *gin.Context) {
	_, key, _, err := h.signer.Parse(c.Param("token"), false)
	if err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrUnauthorized, "invalid or expired asset link"))
		return
	}
	if !h.store.Exists(key) {
		response.Error(c, appErrors.Clone(appErrors.ErrNotFound, "asset not found"))
		return
	}
	c.File(h.store.Path(key))
}
