package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/lumeo-edu/learnpath-api/internal/dto"
	"github.com/lumeo-edu/learnpath-api/internal/models"
	appErrors "github.com/lumeo-edu/learnpath-api/pkg/errors"
)

type lessonEngine interface {
	Get(ctx context.Context, userID, lessonID string) (*models.LessonProgress, error)
	View(ctx context.Context, userID, lessonID string) (*models.LessonProgress, error)
	Complete(ctx context.Context, userID, lessonID string, req dto.CompleteRequest) (*LessonCompletionResult, error)
	ReportVideo(ctx context.Context, userID, lessonID string, req dto.VideoProgressRequest) (*LessonVideoResult, error)
}

type videoEngine interface {
	Report(ctx context.Context, userID, courseID string, slot models.VideoSlot, req dto.VideoProgressRequest) (*CourseVideoResult, error)
	Complete(ctx context.Context, userID, courseID string, slot models.VideoSlot, req dto.CompleteRequest) (*CourseVideoResult, error)
}

type unlockEngine interface {
	StartSeries(ctx context.Context, userID, seriesID string) (models.CascadeOutcome, error)
	AdvanceAfterLesson(ctx context.Context, userID string, course *models.Course, lesson *models.LessonFile) (models.CascadeOutcome, error)
	UnlockFirstLesson(ctx context.Context, userID, courseID string) (models.CascadeOutcome, error)
	StartNextCourse(ctx context.Context, userID string, course *models.Course) (models.CascadeOutcome, error)
}

type aggregateEngine interface {
	RecomputeCourse(ctx context.Context, userID string, course *models.Course) (bool, error)
	RecomputeEnrollment(ctx context.Context, userID, seriesID string) (bool, error)
}

type progressionLessonReader interface {
	FindByID(ctx context.Context, id string) (*models.LessonFile, error)
}

type progressionCourseReader interface {
	FindByID(ctx context.Context, id string) (*models.Course, error)
	ListBySeries(ctx context.Context, seriesID string) ([]models.Course, error)
}

type progressionCourseProgressReader interface {
	Find(ctx context.Context, userID, courseID string) (*models.CourseProgress, error)
	ListByUserAndSeries(ctx context.Context, userID, seriesID string) ([]models.CourseProgress, error)
	SetStatusIf(ctx context.Context, userID, courseID string, from, to models.CourseProgressStatus, ts time.Time) (bool, error)
}

type progressionEnrollmentReader interface {
	FindByUserAndSeries(ctx context.Context, userID, seriesID string) (*models.Enrollment, error)
	TouchLastAccessed(ctx context.Context, id string, ts time.Time) error
}

type progressionLessonCounts interface {
	CountBySeries(ctx context.Context, seriesID string) (int, error)
}

type progressionCompletedCounts interface {
	CountCompletedBySeries(ctx context.Context, userID, seriesID string) (int, error)
}

type progressCache interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	DeleteByPattern(ctx context.Context, pattern string) error
}

type certificateEnqueuer interface {
	EnqueueSeriesCertificate(userID, seriesID string) error
}

type progressionMetrics interface {
	RecordLessonCompleted(auto bool)
	RecordCourseCompleted()
	RecordSeriesCompleted()
	RecordCascade(outcome models.CascadeOutcome)
	RecordCacheOperation(hit bool, duration time.Duration)
}

// ProgressUpdateResult is the composed outcome of a progress mutation:
// the new lesson state plus whatever the cascade unlocked downstream.
type ProgressUpdateResult struct {
	Lesson          *models.LessonProgress `json:"lesson,omitempty"`
	Outcome         models.CascadeOutcome  `json:"outcome"`
	AutoCompleted   bool                   `json:"auto_completed"`
	CourseCompleted bool                   `json:"course_completed"`
	SeriesCompleted bool                   `json:"series_completed"`
}

// CourseVideoUpdateResult is the composed outcome of a course-video
// mutation.
type CourseVideoUpdateResult struct {
	Slot           models.VideoSlot      `json:"slot"`
	Applied        bool                  `json:"applied"`
	VideoCompleted bool                  `json:"video_completed"`
	Outcome        models.CascadeOutcome `json:"outcome"`
}

// ProgressionService is the single entry point for progress mutations.
// It sequences the engines so a lesson completion always runs unlock
// propagation and aggregate recomputation in the same order, and it
// owns cache invalidation and metrics. Cascade steps after the primary
// write are logged and swallowed: the user's own state change is never
// rolled back because a downstream unlock failed, and replaying the
// operation converges since every step is idempotent.
type ProgressionService struct {
	lessons        lessonEngine
	videos         videoEngine
	unlocks        unlockEngine
	aggregates     aggregateEngine
	lessonCatalog  progressionLessonReader
	courseCatalog  progressionCourseReader
	courseProgress progressionCourseProgressReader
	enrollments    progressionEnrollmentReader
	lessonCounts   progressionLessonCounts
	completed      progressionCompletedCounts
	cache          progressCache
	certificates   certificateEnqueuer
	metrics        progressionMetrics
	cacheTTL       time.Duration
	logger         *zap.Logger
}

// ProgressionDeps bundles the collaborators of ProgressionService.
type ProgressionDeps struct {
	Lessons        lessonEngine
	Videos         videoEngine
	Unlocks        unlockEngine
	Aggregates     aggregateEngine
	LessonCatalog  progressionLessonReader
	CourseCatalog  progressionCourseReader
	CourseProgress progressionCourseProgressReader
	Enrollments    progressionEnrollmentReader
	LessonCounts   progressionLessonCounts
	Completed      progressionCompletedCounts
	Cache          progressCache
	Certificates   certificateEnqueuer
	Metrics        progressionMetrics
	CacheTTL       time.Duration
	Logger         *zap.Logger
}

// NewProgressionService constructs ProgressionService.
func NewProgressionService(deps ProgressionDeps) *ProgressionService {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.CacheTTL <= 0 {
		deps.CacheTTL = 5 * time.Minute
	}
	return &ProgressionService{
		lessons:        deps.Lessons,
		videos:         deps.Videos,
		unlocks:        deps.Unlocks,
		aggregates:     deps.Aggregates,
		lessonCatalog:  deps.LessonCatalog,
		courseCatalog:  deps.CourseCatalog,
		courseProgress: deps.CourseProgress,
		enrollments:    deps.Enrollments,
		lessonCounts:   deps.LessonCounts,
		completed:      deps.Completed,
		cache:          deps.Cache,
		certificates:   deps.Certificates,
		metrics:        deps.Metrics,
		cacheTTL:       deps.CacheTTL,
		logger:         deps.Logger,
	}
}

// StartSeries opens the first unit of a series for an enrolled user.
// Requires a paid enrollment; replays converge on the same state.
func (s *ProgressionService) StartSeries(ctx context.Context, userID, seriesID string) (models.CascadeOutcome, error) {
	enrollment, err := s.requirePaidEnrollment(ctx, userID, seriesID)
	if err != nil {
		return models.OutcomeNoop, err
	}
	outcome, err := s.unlocks.StartSeries(ctx, userID, seriesID)
	if err != nil {
		return models.OutcomeNoop, err
	}
	s.recordCascade(outcome)
	s.touch(ctx, enrollment)
	s.invalidateSummary(ctx, userID)
	return outcome, nil
}

// GetLessonProgress returns the user's state for one lesson.
func (s *ProgressionService) GetLessonProgress(ctx context.Context, userID, lessonID string) (*models.LessonProgress, error) {
	return s.lessons.Get(ctx, userID, lessonID)
}

// ViewLesson records that the user opened a lesson and flips the course
// to in_progress on first activity.
func (s *ProgressionService) ViewLesson(ctx context.Context, userID, lessonID string) (*models.LessonProgress, error) {
	progress, err := s.lessons.View(ctx, userID, lessonID)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	if _, err := s.courseProgress.SetStatusIf(ctx, userID, progress.CourseID, models.CoursePending, models.CourseInProgress, now); err != nil {
		s.logger.Warn("failed to flip course status", zap.Error(err), zap.String("course_id", progress.CourseID))
	}
	return progress, nil
}

// CompleteLesson marks a lesson completed and runs the downstream
// cascade: next-unit unlock, course aggregate, enrollment aggregate.
func (s *ProgressionService) CompleteLesson(ctx context.Context, userID, lessonID string, req dto.CompleteRequest) (*ProgressUpdateResult, error) {
	completion, err := s.lessons.Complete(ctx, userID, lessonID, req)
	if err != nil {
		return nil, err
	}
	result := &ProgressUpdateResult{Lesson: completion.Progress, Outcome: models.OutcomeNoop}
	if completion.NewlyCompleted {
		if s.metrics != nil {
			s.metrics.RecordLessonCompleted(false)
		}
		s.runLessonCascade(ctx, userID, lessonID, result)
	}
	return result, nil
}

// ReportLessonVideo applies a playback report against a lesson. A
// report crossing the auto-complete threshold completes the lesson and
// triggers the same cascade as an explicit completion.
func (s *ProgressionService) ReportLessonVideo(ctx context.Context, userID, lessonID string, req dto.VideoProgressRequest) (*ProgressUpdateResult, error) {
	videoResult, err := s.lessons.ReportVideo(ctx, userID, lessonID, req)
	if err != nil {
		return nil, err
	}
	result := &ProgressUpdateResult{Lesson: videoResult.Progress, Outcome: models.OutcomeNoop, AutoCompleted: videoResult.AutoCompleted}
	if videoResult.NewlyCompleted {
		if s.metrics != nil {
			s.metrics.RecordLessonCompleted(true)
		}
		s.runLessonCascade(ctx, userID, lessonID, result)
	}
	return result, nil
}

// ReportCourseVideo applies a playback report against a course's intro
// or end video. The intro crossing its threshold unlocks the course's
// first lesson.
func (s *ProgressionService) ReportCourseVideo(ctx context.Context, userID, courseID string, slot models.VideoSlot, req dto.VideoProgressRequest) (*CourseVideoUpdateResult, error) {
	videoResult, err := s.videos.Report(ctx, userID, courseID, slot, req)
	if err != nil {
		return nil, err
	}
	return s.finishCourseVideo(ctx, userID, courseID, videoResult), nil
}

// CompleteCourseVideo explicitly finishes a course video slot.
func (s *ProgressionService) CompleteCourseVideo(ctx context.Context, userID, courseID string, slot models.VideoSlot, req dto.CompleteRequest) (*CourseVideoUpdateResult, error) {
	videoResult, err := s.videos.Complete(ctx, userID, courseID, slot, req)
	if err != nil {
		return nil, err
	}
	return s.finishCourseVideo(ctx, userID, courseID, videoResult), nil
}

// GetCourseProgress returns the user's state for one course.
func (s *ProgressionService) GetCourseProgress(ctx context.Context, userID, courseID string) (*models.CourseProgress, error) {
	progress, err := s.courseProgress.Find(ctx, userID, courseID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotUnlocked, "course is not unlocked")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course progress")
	}
	return progress, nil
}

// GetEnrollmentProgress composes the series-wide summary for a user.
// Served cache-aside; mutations invalidate the user's summaries.
func (s *ProgressionService) GetEnrollmentProgress(ctx context.Context, userID, seriesID string) (*dto.EnrollmentProgress, error) {
	key := summaryCacheKey(userID, seriesID)
	if s.cache != nil {
		started := time.Now()
		var cached dto.EnrollmentProgress
		err := s.cache.Get(ctx, key, &cached)
		if s.metrics != nil {
			s.metrics.RecordCacheOperation(err == nil, time.Since(started))
		}
		if err == nil {
			return &cached, nil
		}
		if !errors.Is(err, appErrors.ErrCacheMiss) {
			s.logger.Warn("summary cache read failed", zap.Error(err), zap.String("key", key))
		}
	}

	enrollment, err := s.enrollments.FindByUserAndSeries(ctx, userID, seriesID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotEnrolled, "not enrolled in series")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment")
	}

	courses, err := s.courseCatalog.ListBySeries(ctx, seriesID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load courses")
	}
	progressRows, err := s.courseProgress.ListByUserAndSeries(ctx, userID, seriesID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course progress")
	}
	total, err := s.lessonCounts.CountBySeries(ctx, seriesID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count lessons")
	}
	done, err := s.completed.CountCompletedBySeries(ctx, userID, seriesID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count completed lessons")
	}

	byCourse := make(map[string]*models.CourseProgress, len(progressRows))
	for i := range progressRows {
		byCourse[progressRows[i].CourseID] = &progressRows[i]
	}

	summary := &dto.EnrollmentProgress{
		SeriesID:           seriesID,
		Status:             enrollment.Status,
		PaymentStatus:      enrollment.PaymentStatus,
		ProgressPercentage: enrollment.ProgressPercentage,
		CompletedLessons:   done,
		TotalLessons:       total,
		Courses:            make([]dto.CourseProgressSummary, 0, len(courses)),
	}
	for i := range courses {
		course := &courses[i]
		entry := dto.CourseProgressSummary{CourseID: course.ID, Title: course.Title, Status: models.CoursePending}
		if row, ok := byCourse[course.ID]; ok {
			entry.Status = row.Status
			entry.CompletionPercentage = row.CompletionPercentage
			entry.IsCompleted = row.IsCompleted
			if course.HasIntroVideo() {
				state := row.Video(models.VideoSlotIntro)
				entry.IntroVideo = &state
			}
			if course.HasEndVideo() {
				state := row.Video(models.VideoSlotEnd)
				entry.EndVideo = &state
			}
		}
		summary.Courses = append(summary.Courses, entry)
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, key, summary, s.cacheTTL); err != nil {
			s.logger.Warn("summary cache write failed", zap.Error(err), zap.String("key", key))
		}
	}
	return summary, nil
}

// runLessonCascade performs the post-completion steps. Failures here
// are logged, not returned: the completion already committed and every
// step converges on replay.
func (s *ProgressionService) runLessonCascade(ctx context.Context, userID, lessonID string, result *ProgressUpdateResult) {
	lesson, err := s.lessonCatalog.FindByID(ctx, lessonID)
	if err != nil {
		s.logger.Error("cascade: failed to load lesson", zap.Error(err), zap.String("lesson_id", lessonID))
		return
	}
	course, err := s.courseCatalog.FindByID(ctx, lesson.CourseID)
	if err != nil {
		s.logger.Error("cascade: failed to load course", zap.Error(err), zap.String("course_id", lesson.CourseID))
		return
	}

	outcome, err := s.unlocks.AdvanceAfterLesson(ctx, userID, course, lesson)
	if err != nil {
		s.logger.Error("cascade: unlock failed", zap.Error(err), zap.String("lesson_id", lessonID))
	} else {
		result.Outcome = outcome
		s.recordCascade(outcome)
	}

	courseDone, err := s.aggregates.RecomputeCourse(ctx, userID, course)
	if err != nil {
		s.logger.Error("cascade: course aggregate failed", zap.Error(err), zap.String("course_id", course.ID))
	} else if courseDone {
		result.CourseCompleted = true
		if s.metrics != nil {
			s.metrics.RecordCourseCompleted()
		}
	}

	seriesDone, err := s.aggregates.RecomputeEnrollment(ctx, userID, course.SeriesID)
	if err != nil {
		s.logger.Error("cascade: enrollment aggregate failed", zap.Error(err), zap.String("series_id", course.SeriesID))
	} else if seriesDone {
		result.SeriesCompleted = true
		if s.metrics != nil {
			s.metrics.RecordSeriesCompleted()
		}
		if s.certificates != nil {
			if err := s.certificates.EnqueueSeriesCertificate(userID, course.SeriesID); err != nil {
				s.logger.Error("cascade: certificate enqueue failed", zap.Error(err), zap.String("series_id", course.SeriesID))
			}
		}
	}

	s.touchBySeries(ctx, userID, course.SeriesID)
	s.invalidateSummary(ctx, userID)
}

func (s *ProgressionService) finishCourseVideo(ctx context.Context, userID, courseID string, videoResult *CourseVideoResult) *CourseVideoUpdateResult {
	result := &CourseVideoUpdateResult{
		Slot:           videoResult.Slot,
		Applied:        videoResult.Applied,
		VideoCompleted: videoResult.Completed,
		Outcome:        models.OutcomeNoop,
	}
	if videoResult.ThresholdReached {
		outcome, err := s.unlocks.UnlockFirstLesson(ctx, userID, courseID)
		if err != nil {
			s.logger.Error("cascade: first lesson unlock failed", zap.Error(err), zap.String("course_id", courseID))
		} else {
			result.Outcome = outcome
			s.recordCascade(outcome)
		}
		now := time.Now().UTC()
		if _, err := s.courseProgress.SetStatusIf(ctx, userID, courseID, models.CoursePending, models.CourseInProgress, now); err != nil {
			s.logger.Warn("failed to flip course status", zap.Error(err), zap.String("course_id", courseID))
		}
	}
	// Finishing the end video re-issues the next-course start, healing a
	// previously swallowed cascade.
	if videoResult.Completed && videoResult.Slot == models.VideoSlotEnd && videoResult.Course != nil {
		outcome, err := s.unlocks.StartNextCourse(ctx, userID, videoResult.Course)
		if err != nil {
			s.logger.Error("cascade: next course start failed", zap.Error(err), zap.String("course_id", courseID))
		} else {
			result.Outcome = outcome
			s.recordCascade(outcome)
		}
	}
	if videoResult.Applied {
		if videoResult.Course != nil {
			s.touchBySeries(ctx, userID, videoResult.Course.SeriesID)
		}
		s.invalidateSummary(ctx, userID)
	}
	return result
}

func (s *ProgressionService) requirePaidEnrollment(ctx context.Context, userID, seriesID string) (*models.Enrollment, error) {
	enrollment, err := s.enrollments.FindByUserAndSeries(ctx, userID, seriesID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotEnrolled, "not enrolled in series")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment")
	}
	if !enrollment.IsPaid() {
		return nil, appErrors.Clone(appErrors.ErrNotEnrolled, "enrollment payment is not completed")
	}
	if enrollment.Status == models.EnrollmentStatusCancelled {
		return nil, appErrors.Clone(appErrors.ErrNotEnrolled, "enrollment is cancelled")
	}
	return enrollment, nil
}

func (s *ProgressionService) touch(ctx context.Context, enrollment *models.Enrollment) {
	if err := s.enrollments.TouchLastAccessed(ctx, enrollment.ID, time.Now().UTC()); err != nil {
		s.logger.Warn("failed to touch enrollment", zap.Error(err), zap.String("enrollment_id", enrollment.ID))
	}
}

func (s *ProgressionService) touchBySeries(ctx context.Context, userID, seriesID string) {
	enrollment, err := s.enrollments.FindByUserAndSeries(ctx, userID, seriesID)
	if err != nil {
		return
	}
	s.touch(ctx, enrollment)
}

func (s *ProgressionService) invalidateSummary(ctx context.Context, userID string) {
	if s.cache == nil {
		return
	}
	pattern := fmt.Sprintf("progress:summary:%s:*", userID)
	if err := s.cache.DeleteByPattern(ctx, pattern); err != nil {
		s.logger.Warn("summary cache invalidation failed", zap.Error(err), zap.String("pattern", pattern))
	}
}

func (s *ProgressionService) recordCascade(outcome models.CascadeOutcome) {
	if s.metrics != nil {
		s.metrics.RecordCascade(outcome)
	}
}

func summaryCacheKey(userID, seriesID string) string {
	return fmt.Sprintf("progress:summary:%s:%s", userID, seriesID)
}
