package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/lumeo-edu/learnpath-api/internal/models"
)

// EnrollmentRepository handles persistence of enrollments. Rows are
// created by the payment flow; the progression engine only updates
// progress, status and access timestamps.
type EnrollmentRepository struct {
	db *sqlx.DB
}

// NewEnrollmentRepository constructs the repository.
func NewEnrollmentRepository(db *sqlx.DB) *EnrollmentRepository {
	return &EnrollmentRepository{db: db}
}

const enrollmentColumns = `id, user_id, series_id, status, payment_status, progress_percentage,
        enrolled_at, last_accessed_at, created_at, updated_at, deleted_at`

// FindByID returns an enrollment by its ID.
func (r *EnrollmentRepository) FindByID(ctx context.Context, id string) (*models.Enrollment, error) {
	query := fmt.Sprintf(`SELECT %s FROM enrollments WHERE id = $1 AND deleted_at IS NULL`, enrollmentColumns)
	var enrollment models.Enrollment
	if err := r.db.GetContext(ctx, &enrollment, query, id); err != nil {
		return nil, err
	}
	return &enrollment, nil
}

// FindByUserAndSeries returns the enrollment tying a user to a series.
func (r *EnrollmentRepository) FindByUserAndSeries(ctx context.Context, userID, seriesID string) (*models.Enrollment, error) {
	query := fmt.Sprintf(`SELECT %s FROM enrollments WHERE user_id = $1 AND series_id = $2 AND deleted_at IS NULL`, enrollmentColumns)
	var enrollment models.Enrollment
	if err := r.db.GetContext(ctx, &enrollment, query, userID, seriesID); err != nil {
		return nil, err
	}
	return &enrollment, nil
}

// ListByUser returns all enrollments of a user.
func (r *EnrollmentRepository) ListByUser(ctx context.Context, userID string) ([]models.Enrollment, error) {
	query := fmt.Sprintf(`SELECT %s FROM enrollments WHERE user_id = $1 AND deleted_at IS NULL ORDER BY enrolled_at DESC`, enrollmentColumns)
	var enrollments []models.Enrollment
	if err := r.db.SelectContext(ctx, &enrollments, query, userID); err != nil {
		return nil, fmt.Errorf("list enrollments: %w", err)
	}
	return enrollments, nil
}

// Create persists a new enrollment record (payment flow boundary).
func (r *EnrollmentRepository) Create(ctx context.Context, enrollment *models.Enrollment) error {
	if enrollment.ID == "" {
		enrollment.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if enrollment.EnrolledAt.IsZero() {
		enrollment.EnrolledAt = now
	}
	if enrollment.Status == "" {
		enrollment.Status = models.EnrollmentStatusActive
	}
	if enrollment.PaymentStatus == "" {
		enrollment.PaymentStatus = models.PaymentStatusPending
	}
	enrollment.CreatedAt = now
	enrollment.UpdatedAt = now
	const query = `INSERT INTO enrollments (id, user_id, series_id, status, payment_status, progress_percentage,
        enrolled_at, last_accessed_at, created_at, updated_at)
        VALUES (:id, :user_id, :series_id, :status, :payment_status, :progress_percentage,
        :enrolled_at, :last_accessed_at, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, enrollment); err != nil {
		return fmt.Errorf("create enrollment: %w", err)
	}
	return nil
}

// MarkPaymentCompleted records payment confirmation. Returns false when
// the enrollment was already paid (webhook replay).
func (r *EnrollmentRepository) MarkPaymentCompleted(ctx context.Context, userID, seriesID string, ts time.Time) (bool, error) {
	const query = `UPDATE enrollments SET payment_status = $3, updated_at = $4
        WHERE user_id = $1 AND series_id = $2 AND payment_status <> $3 AND deleted_at IS NULL`
	res, err := r.db.ExecContext(ctx, query, userID, seriesID, models.PaymentStatusCompleted, ts)
	if err != nil {
		return false, fmt.Errorf("mark payment completed: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark payment completed: %w", err)
	}
	return affected > 0, nil
}

// UpdateProgress upserts the series-wide aggregate onto the enrollment.
func (r *EnrollmentRepository) UpdateProgress(ctx context.Context, id string, percentage int, status models.EnrollmentStatus, ts time.Time) error {
	const query = `UPDATE enrollments SET progress_percentage = $2, status = $3, last_accessed_at = $4, updated_at = $4
        WHERE id = $1 AND deleted_at IS NULL`
	if _, err := r.db.ExecContext(ctx, query, id, percentage, status, ts); err != nil {
		return fmt.Errorf("update enrollment progress: %w", err)
	}
	return nil
}

// TouchLastAccessed bumps the access timestamp without recomputing.
func (r *EnrollmentRepository) TouchLastAccessed(ctx context.Context, id string, ts time.Time) error {
	const query = `UPDATE enrollments SET last_accessed_at = $2, updated_at = $2 WHERE id = $1 AND deleted_at IS NULL`
	if _, err := r.db.ExecContext(ctx, query, id, ts); err != nil {
		return fmt.Errorf("touch enrollment: %w", err)
	}
	return nil
}
