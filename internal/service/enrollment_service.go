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

type enrollmentRepository interface {
	FindByUserAndSeries(ctx context.Context, userID, seriesID string) (*models.Enrollment, error)
	ListByUser(ctx context.Context, userID string) ([]models.Enrollment, error)
	Create(ctx context.Context, enrollment *models.Enrollment) error
	MarkPaymentCompleted(ctx context.Context, userID, seriesID string, ts time.Time) (bool, error)
}

type enrollmentSeriesReader interface {
	FindByID(ctx context.Context, id string) (*models.Series, error)
}

type seriesStarter interface {
	StartSeries(ctx context.Context, userID, seriesID string) (models.CascadeOutcome, error)
}

// EnrollmentService owns the enrollment boundary: checkout creates the
// pending row, and the payment webhook flips it to paid and kicks off
// the series.
type EnrollmentService struct {
	repo      enrollmentRepository
	series    enrollmentSeriesReader
	starter   seriesStarter
	validator *validator.Validate
	logger    *zap.Logger
}

// NewEnrollmentService constructs EnrollmentService.
func NewEnrollmentService(repo enrollmentRepository, series enrollmentSeriesReader, starter seriesStarter, validate *validator.Validate, logger *zap.Logger) *EnrollmentService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EnrollmentService{repo: repo, series: series, starter: starter, validator: validate, logger: logger}
}

// Enroll creates a pending enrollment for a visible series. The
// payment provider confirms asynchronously via HandlePaymentCompleted.
func (s *EnrollmentService) Enroll(ctx context.Context, userID, seriesID string) (*models.Enrollment, error) {
	series, err := s.series.FindByID(ctx, seriesID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "series not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load series")
	}
	if series.Visibility != models.SeriesVisible {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "series not found")
	}

	existing, err := s.repo.FindByUserAndSeries(ctx, userID, seriesID)
	if err == nil {
		if existing.Status == models.EnrollmentStatusCancelled {
			return nil, appErrors.Clone(appErrors.ErrConflict, "enrollment was cancelled")
		}
		return existing, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check enrollment")
	}

	enrollment := &models.Enrollment{UserID: userID, SeriesID: seriesID}
	if err := s.repo.Create(ctx, enrollment); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create enrollment")
	}
	return enrollment, nil
}

// List returns all enrollments of a user.
func (s *EnrollmentService) List(ctx context.Context, userID string) ([]models.Enrollment, error) {
	enrollments, err := s.repo.ListByUser(ctx, userID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list enrollments")
	}
	return enrollments, nil
}

// HandlePaymentCompleted processes the payment-confirmation callback.
// The first confirmation starts the series; replays are acknowledged
// without side effects so the provider can safely retry.
func (s *EnrollmentService) HandlePaymentCompleted(ctx context.Context, req dto.PaymentWebhookRequest) (bool, error) {
	if err := s.validator.Struct(req); err != nil {
		return false, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid webhook payload")
	}

	if _, err := s.repo.FindByUserAndSeries(ctx, req.UserID, req.SeriesID); err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			return false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment")
		}
		// Payment confirmed before checkout persisted the row.
		enrollment := &models.Enrollment{UserID: req.UserID, SeriesID: req.SeriesID}
		if err := s.repo.Create(ctx, enrollment); err != nil {
			return false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create enrollment")
		}
		s.logger.Info("created enrollment from webhook", zap.String("user_id", req.UserID), zap.String("series_id", req.SeriesID))
	}

	updated, err := s.repo.MarkPaymentCompleted(ctx, req.UserID, req.SeriesID, time.Now().UTC())
	if err != nil {
		return false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record payment")
	}
	if !updated {
		s.logger.Info("payment webhook replay ignored",
			zap.String("user_id", req.UserID),
			zap.String("series_id", req.SeriesID),
			zap.String("reference", req.Reference))
		return false, nil
	}

	outcome, err := s.starter.StartSeries(ctx, req.UserID, req.SeriesID)
	if err != nil {
		// Payment is recorded; the unlock replays when the user opens
		// the series.
		s.logger.Error("failed to start series after payment", zap.Error(err), zap.String("series_id", req.SeriesID))
		return true, nil
	}
	s.logger.Info("series started after payment",
		zap.String("user_id", req.UserID),
		zap.String("series_id", req.SeriesID),
		zap.String("outcome", string(outcome)))
	return true, nil
}
