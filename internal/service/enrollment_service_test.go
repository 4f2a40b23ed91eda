package service

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumeo-edu/learnpath-api/internal/dto"
	"github.com/lumeo-edu/learnpath-api/internal/models"
	appErrors "github.com/lumeo-edu/learnpath-api/pkg/errors"
)

type mockEnrollmentRepository struct {
	rows    map[string]*models.Enrollment
	created []string
}

func enrollmentKey(userID, seriesID string) string { return userID + "|" + seriesID }

func (m *mockEnrollmentRepository) FindByUserAndSeries(ctx context.Context, userID, seriesID string) (*models.Enrollment, error) {
	if row, ok := m.rows[enrollmentKey(userID, seriesID)]; ok {
		copied := *row
		return &copied, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockEnrollmentRepository) ListByUser(ctx context.Context, userID string) ([]models.Enrollment, error) {
	var out []models.Enrollment
	for _, row := range m.rows {
		if row.UserID == userID {
			out = append(out, *row)
		}
	}
	return out, nil
}

func (m *mockEnrollmentRepository) Create(ctx context.Context, enrollment *models.Enrollment) error {
	if m.rows == nil {
		m.rows = make(map[string]*models.Enrollment)
	}
	enrollment.ID = "enr-" + enrollment.SeriesID
	enrollment.Status = models.EnrollmentStatusActive
	enrollment.PaymentStatus = models.PaymentStatusPending
	m.rows[enrollmentKey(enrollment.UserID, enrollment.SeriesID)] = enrollment
	m.created = append(m.created, enrollment.SeriesID)
	return nil
}

func (m *mockEnrollmentRepository) MarkPaymentCompleted(ctx context.Context, userID, seriesID string, ts time.Time) (bool, error) {
	row, ok := m.rows[enrollmentKey(userID, seriesID)]
	if !ok || row.PaymentStatus == models.PaymentStatusCompleted {
		return false, nil
	}
	row.PaymentStatus = models.PaymentStatusCompleted
	return true, nil
}

type mockSeriesReader struct {
	series map[string]models.Series
}

func (m *mockSeriesReader) FindByID(ctx context.Context, id string) (*models.Series, error) {
	if s, ok := m.series[id]; ok {
		copied := s
		return &copied, nil
	}
	return nil, sql.ErrNoRows
}

type mockSeriesStarter struct {
	started []string
	fail    bool
}

func (m *mockSeriesStarter) StartSeries(ctx context.Context, userID, seriesID string) (models.CascadeOutcome, error) {
	if m.fail {
		return models.OutcomeNoop, errors.New("unlock storage down")
	}
	m.started = append(m.started, seriesID)
	return models.OutcomeLessonUnlocked, nil
}

func enrollmentFixture() (*mockEnrollmentRepository, *mockSeriesReader, *mockSeriesStarter) {
	repo := &mockEnrollmentRepository{rows: make(map[string]*models.Enrollment)}
	series := &mockSeriesReader{series: map[string]models.Series{
		"series-1": {ID: "series-1", Title: "Go from scratch", Visibility: models.SeriesVisible},
		"series-2": {ID: "series-2", Title: "Drafts", Visibility: models.SeriesHidden},
	}}
	return repo, series, &mockSeriesStarter{}
}

func TestEnrollmentServiceEnroll(t *testing.T) {
	repo, series, starter := enrollmentFixture()
	svc := NewEnrollmentService(repo, series, starter, nil, nil)

	enrollment, err := svc.Enroll(context.Background(), "user-1", "series-1")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusPending, enrollment.PaymentStatus)
	assert.Equal(t, []string{"series-1"}, repo.created)

	// Enrolling again returns the existing row instead of a duplicate.
	again, err := svc.Enroll(context.Background(), "user-1", "series-1")
	require.NoError(t, err)
	assert.Equal(t, enrollment.ID, again.ID)
	assert.Len(t, repo.created, 1)
}

func TestEnrollmentServiceEnrollHiddenSeries(t *testing.T) {
	repo, series, starter := enrollmentFixture()
	svc := NewEnrollmentService(repo, series, starter, nil, nil)

	_, err := svc.Enroll(context.Background(), "user-1", "series-2")
	var appErr *appErrors.Error
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, appErrors.ErrNotFound.Code, appErr.Code)

	_, err = svc.Enroll(context.Background(), "user-1", "series-unknown")
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, appErrors.ErrNotFound.Code, appErr.Code)
}

func TestEnrollmentServiceEnrollCancelledConflict(t *testing.T) {
	repo, series, starter := enrollmentFixture()
	repo.rows[enrollmentKey("user-1", "series-1")] = &models.Enrollment{
		ID: "enr-old", UserID: "user-1", SeriesID: "series-1", Status: models.EnrollmentStatusCancelled,
	}
	svc := NewEnrollmentService(repo, series, starter, nil, nil)

	_, err := svc.Enroll(context.Background(), "user-1", "series-1")
	var appErr *appErrors.Error
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, appErrors.ErrConflict.Code, appErr.Code)
}

func TestEnrollmentServicePaymentWebhookStartsSeries(t *testing.T) {
	repo, series, starter := enrollmentFixture()
	repo.rows[enrollmentKey("user-1", "series-1")] = &models.Enrollment{
		ID: "enr-1", UserID: "user-1", SeriesID: "series-1",
		Status: models.EnrollmentStatusActive, PaymentStatus: models.PaymentStatusPending,
	}
	svc := NewEnrollmentService(repo, series, starter, nil, nil)

	updated, err := svc.HandlePaymentCompleted(context.Background(), dto.PaymentWebhookRequest{
		UserID: "user-1", SeriesID: "series-1", Reference: "pay-123",
	})
	require.NoError(t, err)
	assert.True(t, updated)
	assert.Equal(t, []string{"series-1"}, starter.started)
	assert.Equal(t, models.PaymentStatusCompleted, repo.rows[enrollmentKey("user-1", "series-1")].PaymentStatus)
}

func TestEnrollmentServicePaymentWebhookReplayIgnored(t *testing.T) {
	repo, series, starter := enrollmentFixture()
	repo.rows[enrollmentKey("user-1", "series-1")] = &models.Enrollment{
		ID: "enr-1", UserID: "user-1", SeriesID: "series-1",
		Status: models.EnrollmentStatusActive, PaymentStatus: models.PaymentStatusCompleted,
	}
	svc := NewEnrollmentService(repo, series, starter, nil, nil)

	updated, err := svc.HandlePaymentCompleted(context.Background(), dto.PaymentWebhookRequest{
		UserID: "user-1", SeriesID: "series-1", Reference: "pay-123",
	})
	require.NoError(t, err)
	assert.False(t, updated)
	assert.Empty(t, starter.started)
}

func TestEnrollmentServicePaymentWebhookCreatesMissingRow(t *testing.T) {
	repo, series, starter := enrollmentFixture()
	svc := NewEnrollmentService(repo, series, starter, nil, nil)

	updated, err := svc.HandlePaymentCompleted(context.Background(), dto.PaymentWebhookRequest{
		UserID: "user-1", SeriesID: "series-1", Reference: "pay-456",
	})
	require.NoError(t, err)
	assert.True(t, updated)
	assert.Equal(t, []string{"series-1"}, repo.created)
	assert.Equal(t, []string{"series-1"}, starter.started)
}

func TestEnrollmentServicePaymentWebhookStartFailureStillRecorded(t *testing.T) {
	repo, series, starter := enrollmentFixture()
	starter.fail = true
	repo.rows[enrollmentKey("user-1", "series-1")] = &models.Enrollment{
		ID: "enr-1", UserID: "user-1", SeriesID: "series-1",
		Status: models.EnrollmentStatusActive, PaymentStatus: models.PaymentStatusPending,
	}
	svc := NewEnrollmentService(repo, series, starter, nil, nil)

	updated, err := svc.HandlePaymentCompleted(context.Background(), dto.PaymentWebhookRequest{
		UserID: "user-1", SeriesID: "series-1",
	})
	require.NoError(t, err)
	assert.True(t, updated)
	assert.Equal(t, models.PaymentStatusCompleted, repo.rows[enrollmentKey("user-1", "series-1")].PaymentStatus)
}

func TestEnrollmentServicePaymentWebhookRejectsInvalidPayload(t *testing.T) {
	repo, series, starter := enrollmentFixture()
	svc := NewEnrollmentService(repo, series, starter, nil, nil)

	_, err := svc.HandlePaymentCompleted(context.Background(), dto.PaymentWebhookRequest{SeriesID: "series-1"})
	var appErr *appErrors.Error
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, appErrors.ErrValidation.Code, appErr.Code)
}
