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

type lessonProgressStore interface {
	Find(ctx context.Context, userID, lessonID string) (*models.LessonProgress, error)
	MarkViewed(ctx context.Context, userID, lessonID string, ts time.Time) error
	Complete(ctx context.Context, userID, lessonID string, percentage int, ts time.Time) error
	UpdateProgress(ctx context.Context, userID, lessonID string, percentage, timeSpent, lastPosition int, ts time.Time) (bool, error)
	UpdateActivity(ctx context.Context, userID, lessonID string, timeSpent, lastPosition int, ts time.Time) error
}

// LessonCompletionResult reports what a completion call changed.
type LessonCompletionResult struct {
	Progress       *models.LessonProgress
	NewlyCompleted bool
}

// LessonVideoResult reports what a playback progress report changed.
type LessonVideoResult struct {
	Progress       *models.LessonProgress
	Applied        bool
	AutoCompleted  bool
	NewlyCompleted bool
}

// LessonProgressService owns the per-lesson state machine: a missing
// row is locked, and rows move unlocked -> viewed -> completed without
// ever going back.
type LessonProgressService struct {
	repo                  lessonProgressStore
	autoCompleteThreshold int
	validator             *validator.Validate
	logger                *zap.Logger
}

// NewLessonProgressService constructs LessonProgressService.
func NewLessonProgressService(repo lessonProgressStore, autoCompleteThreshold int, validate *validator.Validate, logger *zap.Logger) *LessonProgressService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if autoCompleteThreshold <= 0 || autoCompleteThreshold > 100 {
		autoCompleteThreshold = 90
	}
	return &LessonProgressService{repo: repo, autoCompleteThreshold: autoCompleteThreshold, validator: validate, logger: logger}
}

// Get returns the progress row for a lesson the user has unlocked.
func (s *LessonProgressService) Get(ctx context.Context, userID, lessonID string) (*models.LessonProgress, error) {
	return s.findUnlocked(ctx, userID, lessonID)
}

// View records that the user opened a lesson. Completed lessons stay
// completed; repeat views only refresh activity.
func (s *LessonProgressService) View(ctx context.Context, userID, lessonID string) (*models.LessonProgress, error) {
	progress, err := s.findUnlocked(ctx, userID, lessonID)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	if err := s.repo.MarkViewed(ctx, userID, lessonID, now); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to mark lesson viewed")
	}
	if progress.Status == models.LessonUnlocked {
		progress.Status = models.LessonViewed
	}
	if progress.ViewedAt == nil {
		progress.ViewedAt = &now
	}
	return progress, nil
}

// Complete marks a lesson completed. The lesson must have been viewed
// first; a request carrying a percentage records it without regressing
// the stored value. Completing an already-completed lesson is an
// idempotent no-op.
func (s *LessonProgressService) Complete(ctx context.Context, userID, lessonID string, req dto.CompleteRequest) (*LessonCompletionResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid completion payload")
	}
	progress, err := s.findUnlocked(ctx, userID, lessonID)
	if err != nil {
		return nil, err
	}
	if progress.IsCompleted() {
		return &LessonCompletionResult{Progress: progress, NewlyCompleted: false}, nil
	}
	if !progress.IsViewed() {
		return nil, appErrors.Clone(appErrors.ErrNotViewed, "lesson must be viewed before completion")
	}

	percentage := 100
	if req.CompletionPercentage != nil {
		percentage = *req.CompletionPercentage
	}

	now := time.Now().UTC()
	if err := s.repo.Complete(ctx, userID, lessonID, percentage, now); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to complete lesson")
	}

	progress.Status = models.LessonCompleted
	if progress.CompletionPercentage < percentage {
		progress.CompletionPercentage = percentage
	}
	if progress.ViewedAt == nil {
		progress.ViewedAt = &now
	}
	if progress.CompletedAt == nil {
		progress.CompletedAt = &now
	}
	return &LessonCompletionResult{Progress: progress, NewlyCompleted: true}, nil
}

// ReportVideo applies a playback progress report against a viewed
// lesson. Regressing reports still record time spent and position, but
// never lower the stored percentage. Crossing the auto-complete
// threshold completes the lesson with the reported percentage.
func (s *LessonProgressService) ReportVideo(ctx context.Context, userID, lessonID string, req dto.VideoProgressRequest) (*LessonVideoResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid progress payload")
	}
	progress, err := s.findUnlocked(ctx, userID, lessonID)
	if err != nil {
		return nil, err
	}
	if !progress.IsViewed() {
		return nil, appErrors.Clone(appErrors.ErrNotViewed, "lesson must be viewed before reporting progress")
	}

	now := time.Now().UTC()
	applied, err := s.repo.UpdateProgress(ctx, userID, lessonID, req.CompletionPercentage, req.TimeSpentSeconds, req.LastPositionSeconds, now)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store lesson progress")
	}
	if !applied {
		if err := s.repo.UpdateActivity(ctx, userID, lessonID, req.TimeSpentSeconds, req.LastPositionSeconds, now); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store lesson activity")
		}
	}

	result := &LessonVideoResult{Progress: progress, Applied: applied}
	progress.TimeSpentSeconds += req.TimeSpentSeconds
	progress.LastPositionSeconds = req.LastPositionSeconds
	if applied {
		progress.CompletionPercentage = req.CompletionPercentage
	}

	if applied && req.CompletionPercentage >= s.autoCompleteThreshold && !progress.IsCompleted() {
		if err := s.repo.Complete(ctx, userID, lessonID, req.CompletionPercentage, now); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to auto-complete lesson")
		}
		progress.Status = models.LessonCompleted
		if progress.CompletedAt == nil {
			progress.CompletedAt = &now
		}
		result.AutoCompleted = true
		result.NewlyCompleted = true
	}
	return result, nil
}

func (s *LessonProgressService) findUnlocked(ctx context.Context, userID, lessonID string) (*models.LessonProgress, error) {
	progress, err := s.repo.Find(ctx, userID, lessonID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotUnlocked, "lesson is not unlocked")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load lesson progress")
	}
	return progress, nil
}
