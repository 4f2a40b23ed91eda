package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/lumeo-edu/learnpath-api/internal/dto"
	"github.com/lumeo-edu/learnpath-api/internal/middleware"
	"github.com/lumeo-edu/learnpath-api/internal/models"
	"github.com/lumeo-edu/learnpath-api/internal/service"
	appErrors "github.com/lumeo-edu/learnpath-api/pkg/errors"
)

type fakeProgressionSrv struct {
	startOutcome models.CascadeOutcome
	startErr     error
	lastUser     string
	lastSeries   string
	lastLesson   string
	lastSlot     models.VideoSlot
	lastReport   dto.VideoProgressRequest
}

func (f *fakeProgressionSrv) StartSeries(_ context.Context, userID, seriesID string) (models.CascadeOutcome, error) {
	f.lastUser = userID
	f.lastSeries = seriesID
	return f.startOutcome, f.startErr
}

func (f *fakeProgressionSrv) GetEnrollmentProgress(_ context.Context, userID, seriesID string) (*dto.EnrollmentProgress, error) {
	f.lastUser = userID
	f.lastSeries = seriesID
	return &dto.EnrollmentProgress{SeriesID: seriesID, ProgressPercentage: 50}, nil
}

func (f *fakeProgressionSrv) GetCourseProgress(_ context.Context, userID, courseID string) (*models.CourseProgress, error) {
	return &models.CourseProgress{UserID: userID, CourseID: courseID}, nil
}

func (f *fakeProgressionSrv) GetLessonProgress(_ context.Context, userID, lessonID string) (*models.LessonProgress, error) {
	return &models.LessonProgress{UserID: userID, LessonID: lessonID}, nil
}

func (f *fakeProgressionSrv) ViewLesson(_ context.Context, userID, lessonID string) (*models.LessonProgress, error) {
	f.lastLesson = lessonID
	return &models.LessonProgress{UserID: userID, LessonID: lessonID, Status: models.LessonViewed}, nil
}

func (f *fakeProgressionSrv) CompleteLesson(_ context.Context, userID, lessonID string, req dto.CompleteRequest) (*service.ProgressUpdateResult, error) {
	f.lastUser = userID
	f.lastLesson = lessonID
	return &service.ProgressUpdateResult{Outcome: models.OutcomeLessonUnlocked}, nil
}

func (f *fakeProgressionSrv) ReportLessonVideo(_ context.Context, userID, lessonID string, req dto.VideoProgressRequest) (*service.ProgressUpdateResult, error) {
	f.lastLesson = lessonID
	f.lastReport = req
	return &service.ProgressUpdateResult{Outcome: models.OutcomeNoop}, nil
}

func (f *fakeProgressionSrv) ReportCourseVideo(_ context.Context, userID, courseID string, slot models.VideoSlot, req dto.VideoProgressRequest) (*service.CourseVideoUpdateResult, error) {
	f.lastSlot = slot
	f.lastReport = req
	return &service.CourseVideoUpdateResult{Slot: slot, Applied: true}, nil
}

func (f *fakeProgressionSrv) CompleteCourseVideo(_ context.Context, userID, courseID string, slot models.VideoSlot, req dto.CompleteRequest) (*service.CourseVideoUpdateResult, error) {
	f.lastSlot = slot
	return &service.CourseVideoUpdateResult{Slot: slot, Applied: true, VideoCompleted: true}, nil
}

func testContext(t *testing.T, method, target, body string) (*gin.Context, *httptest.ResponseRecorder) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	c.Request = httptest.NewRequest(method, target, reader)
	if body != "" {
		c.Request.Header.Set("Content-Type", "application/json")
	}
	return c, rec
}

func authenticate(c *gin.Context, userID string) {
	c.Set(middleware.ContextUserKey, &models.JWTClaims{UserID: userID, Role: models.RoleStudent})
}

func TestProgressHandlerStartSeriesRequiresAuth(t *testing.T) {
	handler := NewProgressHandler(&fakeProgressionSrv{}, nil, nil, nil)

	c, rec := testContext(t, http.MethodPost, "/series/series-1/start", "")
	c.Params = gin.Params{{Key: "id", Value: "series-1"}}

	handler.StartSeries(c)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestProgressHandlerStartSeries(t *testing.T) {
	srv := &fakeProgressionSrv{startOutcome: models.OutcomeLessonUnlocked}
	handler := NewProgressHandler(srv, nil, nil, nil)

	c, rec := testContext(t, http.MethodPost, "/series/series-1/start", "")
	c.Params = gin.Params{{Key: "id", Value: "series-1"}}
	authenticate(c, "user-1")

	handler.StartSeries(c)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "user-1", srv.lastUser)
	assert.Equal(t, "series-1", srv.lastSeries)

	var envelope struct {
		Data map[string]interface{} `json:"data"`
	}
	assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	assert.Equal(t, "lesson_unlocked", envelope.Data["outcome"])
}

func TestProgressHandlerStartSeriesNotEnrolled(t *testing.T) {
	srv := &fakeProgressionSrv{startErr: appErrors.Clone(appErrors.ErrNotEnrolled, "not enrolled in series")}
	handler := NewProgressHandler(srv, nil, nil, nil)

	c, rec := testContext(t, http.MethodPost, "/series/series-1/start", "")
	c.Params = gin.Params{{Key: "id", Value: "series-1"}}
	authenticate(c, "user-1")

	handler.StartSeries(c)

	assert.Equal(t, appErrors.ErrNotEnrolled.Status, rec.Code)
}

func TestProgressHandlerCompleteLessonWithoutBody(t *testing.T) {
	srv := &fakeProgressionSrv{}
	handler := NewProgressHandler(srv, nil, nil, nil)

	c, rec := testContext(t, http.MethodPost, "/lessons/lesson-1/complete", "")
	c.Params = gin.Params{{Key: "id", Value: "lesson-1"}}
	authenticate(c, "user-1")

	handler.CompleteLesson(c)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "lesson-1", srv.lastLesson)
}

func TestProgressHandlerReportLessonVideo(t *testing.T) {
	srv := &fakeProgressionSrv{}
	handler := NewProgressHandler(srv, nil, nil, nil)

	c, rec := testContext(t, http.MethodPost, "/lessons/lesson-1/video-progress",
		`{"completion_percentage":92,"time_spent_seconds":30,"last_position_seconds":280}`)
	c.Params = gin.Params{{Key: "id", Value: "lesson-1"}}
	authenticate(c, "user-1")

	handler.ReportLessonVideo(c)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 92, srv.lastReport.CompletionPercentage)
	assert.Equal(t, 280, srv.lastReport.LastPositionSeconds)
}

func TestProgressHandlerReportLessonVideoBadPayload(t *testing.T) {
	handler := NewProgressHandler(&fakeProgressionSrv{}, nil, nil, nil)

	c, rec := testContext(t, http.MethodPost, "/lessons/lesson-1/video-progress", `{"completion_percentage":"high"}`)
	c.Params = gin.Params{{Key: "id", Value: "lesson-1"}}
	authenticate(c, "user-1")

	handler.ReportLessonVideo(c)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestProgressHandlerReportCourseVideoSlot(t *testing.T) {
	srv := &fakeProgressionSrv{}
	handler := NewProgressHandler(srv, nil, nil, nil)

	c, rec := testContext(t, http.MethodPost, "/courses/course-2/videos/intro/progress", `{"completion_percentage":95}`)
	c.Params = gin.Params{{Key: "id", Value: "course-2"}, {Key: "slot", Value: "intro"}}
	authenticate(c, "user-1")

	handler.ReportCourseVideo(c)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, models.VideoSlotIntro, srv.lastSlot)
}

func TestProgressHandlerEnrollmentProgress(t *testing.T) {
	srv := &fakeProgressionSrv{}
	handler := NewProgressHandler(srv, nil, nil, nil)

	c, rec := testContext(t, http.MethodGet, "/series/series-1/progress", "")
	c.Params = gin.Params{{Key: "id", Value: "series-1"}}
	authenticate(c, "user-1")

	handler.GetEnrollmentProgress(c)

	assert.Equal(t, http.StatusOK, rec.Code)
	var envelope struct {
		Data dto.EnrollmentProgress `json:"data"`
	}
	assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	assert.Equal(t, "series-1", envelope.Data.SeriesID)
	assert.Equal(t, 50, envelope.Data.ProgressPercentage)
}

func TestProgressHandlerCertificateURLDisabled(t *testing.T) {
	handler := NewProgressHandler(&fakeProgressionSrv{}, nil, nil, nil)

	c, rec := testContext(t, http.MethodGet, "/series/series-1/certificate", "")
	c.Params = gin.Params{{Key: "id", Value: "series-1"}}
	authenticate(c, "user-1")

	handler.CertificateURL(c)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}
