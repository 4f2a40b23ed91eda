package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/lumeo-edu/learnpath-api/internal/dto"
	"github.com/lumeo-edu/learnpath-api/internal/models"
	"github.com/lumeo-edu/learnpath-api/internal/service"
	appErrors "github.com/lumeo-edu/learnpath-api/pkg/errors"
	"github.com/lumeo-edu/learnpath-api/pkg/response"
	"github.com/lumeo-edu/learnpath-api/pkg/storage"
)

type progressionService interface {
	StartSeries(ctx context.Context, userID, seriesID string) (models.CascadeOutcome, error)
	GetEnrollmentProgress(ctx context.Context, userID, seriesID string) (*dto.EnrollmentProgress, error)
	GetCourseProgress(ctx context.Context, userID, courseID string) (*models.CourseProgress, error)
	GetLessonProgress(ctx context.Context, userID, lessonID string) (*models.LessonProgress, error)
	ViewLesson(ctx context.Context, userID, lessonID string) (*models.LessonProgress, error)
	CompleteLesson(ctx context.Context, userID, lessonID string, req dto.CompleteRequest) (*service.ProgressUpdateResult, error)
	ReportLessonVideo(ctx context.Context, userID, lessonID string, req dto.VideoProgressRequest) (*service.ProgressUpdateResult, error)
	ReportCourseVideo(ctx context.Context, userID, courseID string, slot models.VideoSlot, req dto.VideoProgressRequest) (*service.CourseVideoUpdateResult, error)
	CompleteCourseVideo(ctx context.Context, userID, courseID string, slot models.VideoSlot, req dto.CompleteRequest) (*service.CourseVideoUpdateResult, error)
}

type certificateProvider interface {
	DownloadURL(ctx context.Context, userID, seriesID string) (*dto.AssetURL, error)
}

// ProgressHandler wires the progression engine endpoints.
type ProgressHandler struct {
	progression  progressionService
	certificates certificateProvider
	certSigner   *storage.SignedURLSigner
	certStore    *storage.LocalStore
}

// NewProgressHandler creates a new handler.
func NewProgressHandler(progression progressionService, certificates certificateProvider, certSigner *storage.SignedURLSigner, certStore *storage.LocalStore) *ProgressHandler {
	return &ProgressHandler{
		progression:  progression,
		certificates: certificates,
		certSigner:   certSigner,
		certStore:    certStore,
	}
}

// StartSeries opens the first unit of a series for the authenticated
// user. Safe to call repeatedly; replays converge on the same state.
func (h *ProgressHandler) StartSeries(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	outcome, err := h.progression.StartSeries(c.Request.Context(), claims.UserID, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, "series started", gin.H{"outcome": outcome})
}

// GetEnrollmentProgress returns the series-wide summary.
func (h *ProgressHandler) GetEnrollmentProgress(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	summary, err := h.progression.GetEnrollmentProgress(c.Request.Context(), claims.UserID, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, "", summary)
}

// GetCourseProgress returns the user's state for one course.
func (h *ProgressHandler) GetCourseProgress(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	progress, err := h.progression.GetCourseProgress(c.Request.Context(), claims.UserID, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, "", progress)
}

// GetLessonProgress returns the user's state for one lesson.
func (h *ProgressHandler) GetLessonProgress(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	progress, err := h.progression.GetLessonProgress(c.Request.Context(), claims.UserID, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, "", progress)
}

// ViewLesson records that the user opened a lesson.
func (h *ProgressHandler) ViewLesson(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	progress, err := h.progression.ViewLesson(c.Request.Context(), claims.UserID, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, "lesson viewed", progress)
}

// CompleteLesson marks a lesson completed and runs the unlock cascade.
func (h *ProgressHandler) CompleteLesson(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req dto.CompleteRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid completion payload"))
			return
		}
	}

	result, err := h.progression.CompleteLesson(c.Request.Context(), claims.UserID, c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, "lesson completed", result)
}

// ReportLessonVideo applies a playback report against a lesson.
func (h *ProgressHandler) ReportLessonVideo(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req dto.VideoProgressRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid progress payload"))
		return
	}

	result, err := h.progression.ReportLessonVideo(c.Request.Context(), claims.UserID, c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, "progress recorded", result)
}

// ReportCourseVideo applies a playback report against a course's intro
// or end video.
func (h *ProgressHandler) ReportCourseVideo(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req dto.VideoProgressRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid progress payload"))
		return
	}

	slot := models.VideoSlot(c.Param("slot"))
	result, err := h.progression.ReportCourseVideo(c.Request.Context(), claims.UserID, c.Param("id"), slot, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, "progress recorded", result)
}

// CompleteCourseVideo explicitly finishes a course video slot.
func (h *ProgressHandler) CompleteCourseVideo(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req dto.CompleteRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid completion payload"))
			return
		}
	}

	slot := models.VideoSlot(c.Param("slot"))
	result, err := h.progression.CompleteCourseVideo(c.Request.Context(), claims.UserID, c.Param("id"), slot, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, "video completed", result)
}

// CertificateURL returns a signed download link for the user's
// series-completion certificate.
func (h *ProgressHandler) CertificateURL(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	if h.certificates == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrNotFound, "certificates are disabled"))
		return
	}

	asset, err := h.certificates.DownloadURL(c.Request.Context(), claims.UserID, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, "", asset)
}

// DownloadCertificate streams a rendered certificate addressed by a
// signed token. The token itself carries authentication.
func (h *ProgressHandler) DownloadCertificate(c *gin.Context) {
	if h.certSigner == nil || h.certStore == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrNotFound, "certificates are disabled"))
		return
	}
	_, key, _, err := h.certSigner.Parse(c.Param("token"), false)
	if err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrUnauthorized, "invalid or expired certificate link"))
		return
	}
	if !h.certStore.Exists(key) {
		response.Error(c, appErrors.Clone(appErrors.ErrNotFound, "certificate not found"))
		return
	}
	c.Header("Content-Type", "application/pdf")
	c.File(h.certStore.Path(key))
}
