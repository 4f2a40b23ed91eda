package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/lumeo-edu/learnpath-api/internal/dto"
	"github.com/lumeo-edu/learnpath-api/internal/models"
	appErrors "github.com/lumeo-edu/learnpath-api/pkg/errors"
)

type courseVideoStore interface {
	Find(ctx context.Context, userID, courseID string) (*models.CourseProgress, error)
	UpdateVideoProgress(ctx context.Context, userID, courseID string, slot models.VideoSlot, percentage, timeSpent, lastPosition int, ts time.Time) (bool, error)
	UpdateVideoActivity(ctx context.Context, userID, courseID string, slot models.VideoSlot, timeSpent, lastPosition int, ts time.Time) error
	CompleteVideo(ctx context.Context, userID, courseID string, slot models.VideoSlot, percentage int, ts time.Time) error
}

type videoCourseReader interface {
	FindByID(ctx context.Context, id string) (*models.Course, error)
}

// CourseVideoResult reports what a course-video operation changed.
// ThresholdReached fires once when the intro video first crosses the
// lesson-unlock threshold; the caller owns the resulting cascade.
type CourseVideoResult struct {
	Course           *models.Course
	Slot             models.VideoSlot
	Applied          bool
	Completed        bool
	ThresholdReached bool
}

// VideoProgressService owns the two course-level video slots. The
// intro video gates the course's lessons; the end video only becomes
// available once the course itself is completed.
type VideoProgressService struct {
	progress             courseVideoStore
	courses              videoCourseReader
	introUnlockThreshold int
	validator            *validator.Validate
	logger               *zap.Logger
}

// NewVideoProgressService constructs VideoProgressService.
func NewVideoProgressService(progress courseVideoStore, courses videoCourseReader, introUnlockThreshold int, validate *validator.Validate, logger *zap.Logger) *VideoProgressService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if introUnlockThreshold <= 0 || introUnlockThreshold > 100 {
		introUnlockThreshold = 90
	}
	return &VideoProgressService{progress: progress, courses: courses, introUnlockThreshold: introUnlockThreshold, validator: validate, logger: logger}
}

// Report applies a playback progress report against a video slot.
func (s *VideoProgressService) Report(ctx context.Context, userID, courseID string, slot models.VideoSlot, req dto.VideoProgressRequest) (*CourseVideoResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid progress payload")
	}
	course, state, err := s.loadSlot(ctx, userID, courseID, slot)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	applied, err := s.progress.UpdateVideoProgress(ctx, userID, courseID, slot, req.CompletionPercentage, req.TimeSpentSeconds, req.LastPositionSeconds, now)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store video progress")
	}
	if !applied {
		if err := s.progress.UpdateVideoActivity(ctx, userID, courseID, slot, req.TimeSpentSeconds, req.LastPositionSeconds, now); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store video activity")
		}
	}

	result := &CourseVideoResult{Course: course, Slot: slot, Applied: applied}
	if applied && req.CompletionPercentage >= 100 && !state.Completed {
		if err := s.progress.CompleteVideo(ctx, userID, courseID, slot, req.CompletionPercentage, now); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to complete video")
		}
		result.Completed = true
	}
	// Crossing the threshold fires the unlock once; a completion always
	// re-issues it so a lost downstream unlock heals on replay.
	if applied && slot == models.VideoSlotIntro && req.CompletionPercentage >= s.introUnlockThreshold {
		result.ThresholdReached = state.CompletionPercentage < s.introUnlockThreshold || result.Completed
	}
	return result, nil
}

// Complete explicitly finishes a video slot. Requires the video to
// have been watched at least once.
func (s *VideoProgressService) Complete(ctx context.Context, userID, courseID string, slot models.VideoSlot, req dto.CompleteRequest) (*CourseVideoResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid completion payload")
	}
	course, state, err := s.loadSlot(ctx, userID, courseID, slot)
	if err != nil {
		return nil, err
	}
	if !state.Viewed {
		return nil, appErrors.Clone(appErrors.ErrNotViewed, "video must be watched before completion")
	}

	percentage := 100
	if req.CompletionPercentage != nil {
		percentage = *req.CompletionPercentage
	}
	now := time.Now().UTC()
	if err := s.progress.CompleteVideo(ctx, userID, courseID, slot, percentage, now); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to complete video")
	}

	result := &CourseVideoResult{Course: course, Slot: slot, Applied: true, Completed: !state.Completed}
	// Completing the intro always issues the lesson unlock; the unlock
	// itself is idempotent.
	if slot == models.VideoSlotIntro {
		result.ThresholdReached = true
	}
	return result, nil
}

// loadSlot resolves the course, validates the slot exists on it and
// enforces the slot's unlock preconditions.
func (s *VideoProgressService) loadSlot(ctx context.Context, userID, courseID string, slot models.VideoSlot) (*models.Course, models.VideoSlotState, error) {
	var zero models.VideoSlotState
	if !slot.Valid() {
		return nil, zero, appErrors.Clone(appErrors.ErrValidation, "unknown video slot")
	}
	course, err := s.courses.FindByID(ctx, courseID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, zero, appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return nil, zero, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}
	if slot == models.VideoSlotIntro && !course.HasIntroVideo() {
		return nil, zero, appErrors.Clone(appErrors.ErrNotFound, "course has no intro video")
	}
	if slot == models.VideoSlotEnd && !course.HasEndVideo() {
		return nil, zero, appErrors.Clone(appErrors.ErrNotFound, "course has no end video")
	}

	progress, err := s.progress.Find(ctx, userID, courseID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, zero, appErrors.Clone(appErrors.ErrNotUnlocked, "course is not unlocked")
		}
		return nil, zero, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course progress")
	}

	state := progress.Video(slot)
	if slot == models.VideoSlotEnd {
		if !progress.IsCompleted {
			return nil, zero, appErrors.Clone(appErrors.ErrCourseNotCompleted, "complete the course to unlock the end video")
		}
		if !state.Unlocked {
			return nil, zero, appErrors.Clone(appErrors.ErrEndVideoLocked, "end video is not unlocked")
		}
	} else if !state.Unlocked {
		return nil, zero, appErrors.Clone(appErrors.ErrNotUnlocked, "intro video is not unlocked")
	}
	return course, state, nil
}
