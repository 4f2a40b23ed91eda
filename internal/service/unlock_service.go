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

type unlockCourseReader interface {
	FindByID(ctx context.Context, id string) (*models.Course, error)
	ListBySeries(ctx context.Context, seriesID string) ([]models.Course, error)
	NextAfter(ctx context.Context, seriesID string, sequenceIndex int) (*models.Course, error)
}

type unlockLessonReader interface {
	FirstInCourse(ctx context.Context, courseID string) (*models.LessonFile, error)
	NextAfter(ctx context.Context, courseID string, sequenceIndex int) (*models.LessonFile, error)
}

type lessonUnlocker interface {
	Unlock(ctx context.Context, userID, lessonID, courseID string) (bool, error)
}

type courseProgressInitializer interface {
	Init(ctx context.Context, userID, courseID string, status models.CourseProgressStatus) (bool, error)
	SetStatusIf(ctx context.Context, userID, courseID string, from, to models.CourseProgressStatus, ts time.Time) (bool, error)
	UnlockVideo(ctx context.Context, userID, courseID string, slot models.VideoSlot) error
}

// UnlockService walks the series -> course -> lesson sequence and
// materializes unlock rows. Every step is idempotent, so replaying a
// cascade after a partial failure converges on the same state.
type UnlockService struct {
	courses        unlockCourseReader
	lessons        unlockLessonReader
	lessonProgress lessonUnlocker
	courseProgress courseProgressInitializer
	logger         *zap.Logger
}

// NewUnlockService constructs UnlockService.
func NewUnlockService(courses unlockCourseReader, lessons unlockLessonReader, lessonProgress lessonUnlocker, courseProgress courseProgressInitializer, logger *zap.Logger) *UnlockService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &UnlockService{courses: courses, lessons: lessons, lessonProgress: lessonProgress, courseProgress: courseProgress, logger: logger}
}

// StartSeries materializes a pending progress row for every course of
// the series, then opens the first one. Called when payment completes
// or when the user first enters the series.
func (s *UnlockService) StartSeries(ctx context.Context, userID, seriesID string) (models.CascadeOutcome, error) {
	courses, err := s.courses.ListBySeries(ctx, seriesID)
	if err != nil {
		return models.OutcomeNoop, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load series courses")
	}
	if len(courses) == 0 {
		s.logger.Warn("series has no courses", zap.String("series_id", seriesID))
		return models.OutcomeSeriesExhausted, nil
	}
	for i := range courses {
		if _, err := s.courseProgress.Init(ctx, userID, courses[i].ID, models.CoursePending); err != nil {
			return models.OutcomeNoop, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to initialize course progress")
		}
	}
	return s.StartCourse(ctx, userID, &courses[0], models.CoursePending)
}

// StartCourse initializes course progress with the given status and
// opens the first unit. A course with an intro video gates its lessons
// behind that video; otherwise the first lesson unlocks immediately.
func (s *UnlockService) StartCourse(ctx context.Context, userID string, course *models.Course, status models.CourseProgressStatus) (models.CascadeOutcome, error) {
	if _, err := s.courseProgress.Init(ctx, userID, course.ID, status); err != nil {
		return models.OutcomeNoop, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to initialize course progress")
	}
	if status == models.CourseInProgress {
		// The row may predate this call with status pending.
		if _, err := s.courseProgress.SetStatusIf(ctx, userID, course.ID, models.CoursePending, models.CourseInProgress, time.Now().UTC()); err != nil {
			return models.OutcomeNoop, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update course status")
		}
	}
	if course.HasIntroVideo() {
		if err := s.courseProgress.UnlockVideo(ctx, userID, course.ID, models.VideoSlotIntro); err != nil {
			return models.OutcomeNoop, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to unlock intro video")
		}
		return models.OutcomeIntroUnlocked, nil
	}
	return s.UnlockFirstLesson(ctx, userID, course.ID)
}

// UnlockFirstLesson opens the first lesson of a course. Used when a
// course has no intro video, or once the intro video passes its
// unlock threshold.
func (s *UnlockService) UnlockFirstLesson(ctx context.Context, userID, courseID string) (models.CascadeOutcome, error) {
	lesson, err := s.lessons.FirstInCourse(ctx, courseID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.logger.Warn("course has no lessons", zap.String("course_id", courseID))
			return models.OutcomeNoop, nil
		}
		return models.OutcomeNoop, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load first lesson")
	}
	if _, err := s.lessonProgress.Unlock(ctx, userID, lesson.ID, courseID); err != nil {
		return models.OutcomeNoop, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to unlock lesson")
	}
	return models.OutcomeLessonUnlocked, nil
}

// AdvanceAfterLesson unlocks whatever follows a completed lesson: the
// next lesson of the course, or the next course of the series once the
// course is exhausted.
func (s *UnlockService) AdvanceAfterLesson(ctx context.Context, userID string, course *models.Course, lesson *models.LessonFile) (models.CascadeOutcome, error) {
	next, err := s.lessons.NextAfter(ctx, course.ID, lesson.SequenceIndex)
	if err == nil {
		if _, err := s.lessonProgress.Unlock(ctx, userID, next.ID, course.ID); err != nil {
			return models.OutcomeNoop, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to unlock next lesson")
		}
		return models.OutcomeLessonUnlocked, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return models.OutcomeNoop, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load next lesson")
	}
	return s.StartNextCourse(ctx, userID, course)
}

// StartNextCourse opens the course that follows the given one in its
// series, moving it straight to in_progress. Reaching the end of the
// series is a normal outcome, not an error.
func (s *UnlockService) StartNextCourse(ctx context.Context, userID string, course *models.Course) (models.CascadeOutcome, error) {
	next, err := s.courses.NextAfter(ctx, course.SeriesID, course.SequenceIndex)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.OutcomeSeriesExhausted, nil
		}
		return models.OutcomeNoop, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load next course")
	}
	outcome, err := s.StartCourse(ctx, userID, next, models.CourseInProgress)
	if err != nil {
		return models.OutcomeNoop, err
	}
	if outcome == models.OutcomeLessonUnlocked {
		outcome = models.OutcomeCourseStarted
	}
	return outcome, nil
}
