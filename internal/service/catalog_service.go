package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/lumeo-edu/learnpath-api/internal/dto"
	"github.com/lumeo-edu/learnpath-api/internal/models"
	appErrors "github.com/lumeo-edu/learnpath-api/pkg/errors"
)

type catalogSeriesReader interface {
	List(ctx context.Context, filter models.SeriesFilter) ([]models.Series, int, error)
	FindByID(ctx context.Context, id string) (*models.Series, error)
}

type catalogCourseReader interface {
	FindByID(ctx context.Context, id string) (*models.Course, error)
	ListBySeries(ctx context.Context, seriesID string) ([]models.Course, error)
}

type catalogLessonReader interface {
	FindByID(ctx context.Context, id string) (*models.LessonFile, error)
	ListByCourse(ctx context.Context, courseID string) ([]models.LessonFile, error)
}

type lessonAccessChecker interface {
	Get(ctx context.Context, userID, lessonID string) (*models.LessonProgress, error)
}

type assetURLSigner interface {
	Generate(ownerID, key string) (token string, expiresAt time.Time, err error)
}

// CatalogService serves the read-only content hierarchy and resolves
// signed asset links for unlocked lessons.
type CatalogService struct {
	series  catalogSeriesReader
	courses catalogCourseReader
	lessons catalogLessonReader
	access  lessonAccessChecker
	signer  assetURLSigner
	logger  *zap.Logger
}

// NewCatalogService constructs CatalogService.
func NewCatalogService(series catalogSeriesReader, courses catalogCourseReader, lessons catalogLessonReader, access lessonAccessChecker, signer assetURLSigner, logger *zap.Logger) *CatalogService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CatalogService{series: series, courses: courses, lessons: lessons, access: access, signer: signer, logger: logger}
}

// ListSeries returns the visible catalog with pagination metadata.
func (s *CatalogService) ListSeries(ctx context.Context, filter models.SeriesFilter) ([]models.Series, *models.Pagination, error) {
	series, total, err := s.series.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list series")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 {
		size = 20
	}
	return series, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

// GetSeries returns a series with its ordered courses.
func (s *CatalogService) GetSeries(ctx context.Context, id string) (*models.SeriesDetail, error) {
	series, err := s.series.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "series not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load series")
	}
	courses, err := s.courses.ListBySeries(ctx, id)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load courses")
	}
	return &models.SeriesDetail{Series: *series, Courses: courses}, nil
}

// GetCourse returns a course with its ordered lessons.
func (s *CatalogService) GetCourse(ctx context.Context, id string) (*models.CourseDetail, error) {
	course, err := s.courses.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}
	lessons, err := s.lessons.ListByCourse(ctx, id)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load lessons")
	}
	return &models.CourseDetail{Course: *course, Lessons: lessons}, nil
}

// LessonAssetURL resolves a signed download link for a lesson's file.
// The lesson must be unlocked for the requesting user.
func (s *CatalogService) LessonAssetURL(ctx context.Context, userID, lessonID string) (*dto.AssetURL, error) {
	lesson, err := s.lessons.FindByID(ctx, lessonID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "lesson not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load lesson")
	}
	if _, err := s.access.Get(ctx, userID, lessonID); err != nil {
		return nil, err
	}
	token, expiresAt, err := s.signer.Generate(userID, lesson.FileKey)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to sign asset url")
	}
	return &dto.AssetURL{URL: "/api/v1/assets/" + token, ExpiresAt: expiresAt.Unix()}, nil
}
