package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/lumeo-edu/learnpath-api/internal/models"
	appErrors "github.com/lumeo-edu/learnpath-api/pkg/errors"
)

type completedLessonCounter interface {
	CountCompletedByCourse(ctx context.Context, userID, courseID string) (int, error)
	CountCompletedBySeries(ctx context.Context, userID, seriesID string) (int, error)
}

type lessonCounter interface {
	CountByCourse(ctx context.Context, courseID string) (int, error)
	CountBySeries(ctx context.Context, seriesID string) (int, error)
}

type courseAggregateStore interface {
	UpsertAggregate(ctx context.Context, userID, courseID string, percentage int, completed bool, ts time.Time) (bool, error)
	UnlockVideo(ctx context.Context, userID, courseID string, slot models.VideoSlot) error
}

type enrollmentAggregateStore interface {
	FindByUserAndSeries(ctx context.Context, userID, seriesID string) (*models.Enrollment, error)
	UpdateProgress(ctx context.Context, id string, percentage int, status models.EnrollmentStatus, ts time.Time) error
}

// AggregateService recomputes the derived percentages after a lesson
// transition. Percentages are always recomputed from completed-lesson
// counts rather than incremented, so replays and races cannot drift
// the stored value.
type AggregateService struct {
	completed   completedLessonCounter
	lessons     lessonCounter
	courses     courseAggregateStore
	enrollments enrollmentAggregateStore
	logger      *zap.Logger
}

// NewAggregateService constructs AggregateService.
func NewAggregateService(completed completedLessonCounter, lessons lessonCounter, courses courseAggregateStore, enrollments enrollmentAggregateStore, logger *zap.Logger) *AggregateService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AggregateService{completed: completed, lessons: lessons, courses: courses, enrollments: enrollments, logger: logger}
}

// RecomputeCourse refreshes a course percentage and reports whether
// this call moved the course into completed. The first transition also
// unlocks the end video when the course has one.
func (s *AggregateService) RecomputeCourse(ctx context.Context, userID string, course *models.Course) (bool, error) {
	total, err := s.lessons.CountByCourse(ctx, course.ID)
	if err != nil {
		return false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count course lessons")
	}
	if total == 0 {
		s.logger.Warn("course has no lessons, skipping aggregate", zap.String("course_id", course.ID))
		return false, nil
	}
	done, err := s.completed.CountCompletedByCourse(ctx, userID, course.ID)
	if err != nil {
		return false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count completed lessons")
	}

	completed := done >= total
	wasCompleted, err := s.courses.UpsertAggregate(ctx, userID, course.ID, percentOf(done, total), completed, time.Now().UTC())
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.logger.Warn("course progress row missing during aggregate", zap.String("course_id", course.ID), zap.String("user_id", userID))
			return false, nil
		}
		return false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store course aggregate")
	}

	transitioned := completed && !wasCompleted
	if transitioned && course.HasEndVideo() {
		if err := s.courses.UnlockVideo(ctx, userID, course.ID, models.VideoSlotEnd); err != nil {
			return false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to unlock end video")
		}
	}
	return transitioned, nil
}

// RecomputeEnrollment refreshes the series-wide percentage on the
// enrollment and reports whether this call completed the enrollment.
func (s *AggregateService) RecomputeEnrollment(ctx context.Context, userID, seriesID string) (bool, error) {
	enrollment, err := s.enrollments.FindByUserAndSeries(ctx, userID, seriesID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.logger.Warn("no enrollment for aggregate", zap.String("series_id", seriesID), zap.String("user_id", userID))
			return false, nil
		}
		return false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment")
	}

	total, err := s.lessons.CountBySeries(ctx, seriesID)
	if err != nil {
		return false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count series lessons")
	}
	if total == 0 {
		s.logger.Warn("series has no lessons, skipping aggregate", zap.String("series_id", seriesID))
		return false, nil
	}
	done, err := s.completed.CountCompletedBySeries(ctx, userID, seriesID)
	if err != nil {
		return false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count completed series lessons")
	}

	status := enrollment.Status
	completedNow := false
	if done >= total && status != models.EnrollmentStatusCompleted {
		status = models.EnrollmentStatusCompleted
		completedNow = true
	}
	if err := s.enrollments.UpdateProgress(ctx, enrollment.ID, percentOf(done, total), status, time.Now().UTC()); err != nil {
		return false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store enrollment aggregate")
	}
	return completedNow, nil
}

// percentOf rounds done/total to the nearest whole percent.
func percentOf(done, total int) int {
	if total <= 0 {
		return 0
	}
	return (done*100 + total/2) / total
}
