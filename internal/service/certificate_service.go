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
	"github.com/lumeo-edu/learnpath-api/pkg/export"
	"github.com/lumeo-edu/learnpath-api/pkg/jobs"
)

type certificateUserReader interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
}

type certificateSeriesReader interface {
	FindByID(ctx context.Context, id string) (*models.Series, error)
}

type certificateEnrollmentReader interface {
	FindByUserAndSeries(ctx context.Context, userID, seriesID string) (*models.Enrollment, error)
}

type certificateRenderer interface {
	Render(cert export.Certificate) ([]byte, error)
}

type certificateStore interface {
	Put(key string, data []byte) (string, error)
	Exists(key string) bool
}

type certificateSigner interface {
	Generate(ownerID, key string) (token string, expiresAt time.Time, err error)
}

type certificatePayload struct {
	UserID   string
	SeriesID string
}

// CertificateService renders series-completion certificates in the
// background and serves signed download links once they exist.
// Rendering is queued off the completion cascade so a slow PDF never
// delays the user's request.
type CertificateService struct {
	users       certificateUserReader
	series      certificateSeriesReader
	enrollments certificateEnrollmentReader
	renderer    certificateRenderer
	store       certificateStore
	signer      certificateSigner
	queue       *jobs.Queue[certificatePayload]
	logger      *zap.Logger
}

// CertificateQueueConfig tunes the background rendering workers.
type CertificateQueueConfig struct {
	Workers    int
	MaxRetries int
}

// NewCertificateService constructs CertificateService with its own
// worker queue. Call Start before enqueueing and Stop on shutdown.
func NewCertificateService(users certificateUserReader, series certificateSeriesReader, enrollments certificateEnrollmentReader, renderer certificateRenderer, store certificateStore, signer certificateSigner, cfg CertificateQueueConfig, logger *zap.Logger) *CertificateService {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &CertificateService{
		users:       users,
		series:      series,
		enrollments: enrollments,
		renderer:    renderer,
		store:       store,
		signer:      signer,
		logger:      logger,
	}
	s.queue = jobs.NewQueue("certificates", s.handleJob, jobs.QueueConfig{
		Workers:    cfg.Workers,
		MaxRetries: cfg.MaxRetries,
		Logger:     logger,
	})
	return s
}

// Start launches the rendering workers.
func (s *CertificateService) Start(ctx context.Context) {
	s.queue.Start(ctx)
}

// Stop drains the rendering workers.
func (s *CertificateService) Stop() {
	s.queue.Stop()
}

// EnqueueSeriesCertificate schedules certificate rendering for a
// completed enrollment.
func (s *CertificateService) EnqueueSeriesCertificate(userID, seriesID string) error {
	return s.queue.Enqueue(certificatePayload{UserID: userID, SeriesID: seriesID})
}

// DownloadURL returns a signed link to the user's certificate. The
// enrollment must be completed; a certificate still rendering yields
// not-found so the client can retry.
func (s *CertificateService) DownloadURL(ctx context.Context, userID, seriesID string) (*dto.AssetURL, error) {
	enrollment, err := s.enrollments.FindByUserAndSeries(ctx, userID, seriesID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotEnrolled, "not enrolled in series")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment")
	}
	if enrollment.Status != models.EnrollmentStatusCompleted {
		return nil, appErrors.Clone(appErrors.ErrCourseNotCompleted, "series is not completed yet")
	}

	key := certificateKey(userID, seriesID)
	if !s.store.Exists(key) {
		// The render job may still be in flight; regenerate defensively
		// in case it was lost before completing.
		if err := s.EnqueueSeriesCertificate(userID, seriesID); err != nil {
			s.logger.Warn("failed to re-enqueue certificate", zap.Error(err), zap.String("series_id", seriesID))
		}
		return nil, appErrors.Clone(appErrors.ErrNotFound, "certificate is not ready yet")
	}

	token, expiresAt, err := s.signer.Generate(userID, key)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to sign certificate url")
	}
	return &dto.AssetURL{URL: "/api/v1/certificates/" + token, ExpiresAt: expiresAt.Unix()}, nil
}

func (s *CertificateService) handleJob(ctx context.Context, job jobs.Job[certificatePayload]) error {
	payload := job.Payload
	key := certificateKey(payload.UserID, payload.SeriesID)
	if s.store.Exists(key) {
		return nil
	}

	user, err := s.users.FindByID(ctx, payload.UserID)
	if err != nil {
		return fmt.Errorf("load user %s: %w", payload.UserID, err)
	}
	series, err := s.series.FindByID(ctx, payload.SeriesID)
	if err != nil {
		return fmt.Errorf("load series %s: %w", payload.SeriesID, err)
	}

	pdf, err := s.renderer.Render(export.Certificate{
		StudentName: user.FullName,
		SeriesTitle: series.Title,
		CompletedAt: time.Now().UTC(),
		Reference:   fmt.Sprintf("%s-%s", payload.SeriesID, payload.UserID),
	})
	if err != nil {
		return fmt.Errorf("render certificate: %w", err)
	}
	if _, err := s.store.Put(key, pdf); err != nil {
		return fmt.Errorf("store certificate: %w", err)
	}
	s.logger.Info("certificate rendered",
		zap.String("user_id", payload.UserID),
		zap.String("series_id", payload.SeriesID),
		zap.Int("bytes", len(pdf)))
	return nil
}

func certificateKey(userID, seriesID string) string {
	return fmt.Sprintf("certificates/%s/%s.pdf", userID, seriesID)
}
