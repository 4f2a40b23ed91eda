package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/lumeo-edu/learnpath-api/internal/models"
)

// LessonProgressRepository persists per-(user, lesson) progress rows.
// Absence of a row means the lesson is locked; Unlock is an idempotent
// insert, and percentage writes are compare-and-swap so concurrent
// reports can never regress the stored value.
type LessonProgressRepository struct {
	db *sqlx.DB
}

// NewLessonProgressRepository constructs the repository.
func NewLessonProgressRepository(db *sqlx.DB) *LessonProgressRepository {
	return &LessonProgressRepository{db: db}
}

const lessonProgressColumns = `id, user_id, lesson_id, course_id, status, viewed_at, completed_at,
        time_spent_seconds, last_position_seconds, completion_percentage, created_at, updated_at, deleted_at`

// Find returns the progress row for a lesson. sql.ErrNoRows means locked.
func (r *LessonProgressRepository) Find(ctx context.Context, userID, lessonID string) (*models.LessonProgress, error) {
	query := fmt.Sprintf(`SELECT %s FROM lesson_progress WHERE user_id = $1 AND lesson_id = $2 AND deleted_at IS NULL`, lessonProgressColumns)
	var progress models.LessonProgress
	if err := r.db.GetContext(ctx, &progress, query, userID, lessonID); err != nil {
		return nil, err
	}
	return &progress, nil
}

// ListByCourse returns all lesson progress rows of a user within a course.
func (r *LessonProgressRepository) ListByCourse(ctx context.Context, userID, courseID string) ([]models.LessonProgress, error) {
	query := fmt.Sprintf(`SELECT %s FROM lesson_progress WHERE user_id = $1 AND course_id = $2 AND deleted_at IS NULL`, lessonProgressColumns)
	var rows []models.LessonProgress
	if err := r.db.SelectContext(ctx, &rows, query, userID, courseID); err != nil {
		return nil, fmt.Errorf("list lesson progress: %w", err)
	}
	return rows, nil
}

// Unlock creates the progress row if absent. Returns true when a new
// row was created, false when the lesson was already unlocked.
func (r *LessonProgressRepository) Unlock(ctx context.Context, userID, lessonID, courseID string) (bool, error) {
	const query = `INSERT INTO lesson_progress (id, user_id, lesson_id, course_id, status, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $6)
        ON CONFLICT (user_id, lesson_id) DO NOTHING`
	res, err := r.db.ExecContext(ctx, query, uuid.NewString(), userID, lessonID, courseID, models.LessonUnlocked, time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("unlock lesson: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("unlock lesson: %w", err)
	}
	return affected > 0, nil
}

// MarkViewed promotes an unlocked row to viewed. Completed rows keep
// their status; viewed_at is only set once.
func (r *LessonProgressRepository) MarkViewed(ctx context.Context, userID, lessonID string, ts time.Time) error {
	const query = `UPDATE lesson_progress SET
        status = CASE WHEN status = $3 THEN $4 ELSE status END,
        viewed_at = COALESCE(viewed_at, $5),
        updated_at = $5
        WHERE user_id = $1 AND lesson_id = $2 AND deleted_at IS NULL`
	if _, err := r.db.ExecContext(ctx, query, userID, lessonID, models.LessonUnlocked, models.LessonViewed, ts); err != nil {
		return fmt.Errorf("mark lesson viewed: %w", err)
	}
	return nil
}

// Complete marks the lesson completed. The stored percentage never
// regresses; viewed_at/completed_at are set on first transition only.
func (r *LessonProgressRepository) Complete(ctx context.Context, userID, lessonID string, percentage int, ts time.Time) error {
	const query = `UPDATE lesson_progress SET
        status = $3,
        completion_percentage = GREATEST(completion_percentage, $4),
        viewed_at = COALESCE(viewed_at, $5),
        completed_at = COALESCE(completed_at, $5),
        updated_at = $5
        WHERE user_id = $1 AND lesson_id = $2 AND deleted_at IS NULL`
	if _, err := r.db.ExecContext(ctx, query, userID, lessonID, models.LessonCompleted, percentage, ts); err != nil {
		return fmt.Errorf("complete lesson: %w", err)
	}
	return nil
}

// UpdateProgress applies a non-regressing progress report. The guard is
// in the WHERE clause, so a stale writer simply matches zero rows.
func (r *LessonProgressRepository) UpdateProgress(ctx context.Context, userID, lessonID string, percentage, timeSpent, lastPosition int, ts time.Time) (bool, error) {
	const query = `UPDATE lesson_progress SET
        completion_percentage = $3,
        time_spent_seconds = time_spent_seconds + $4,
        last_position_seconds = $5,
        viewed_at = COALESCE(viewed_at, $6),
        updated_at = $6
        WHERE user_id = $1 AND lesson_id = $2 AND completion_percentage <= $3 AND deleted_at IS NULL`
	res, err := r.db.ExecContext(ctx, query, userID, lessonID, percentage, timeSpent, lastPosition, ts)
	if err != nil {
		return false, fmt.Errorf("update lesson progress: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update lesson progress: %w", err)
	}
	return affected > 0, nil
}

// UpdateActivity persists time spent and position for a rejected
// (regressing) report without touching the completion percentage.
func (r *LessonProgressRepository) UpdateActivity(ctx context.Context, userID, lessonID string, timeSpent, lastPosition int, ts time.Time) error {
	const query = `UPDATE lesson_progress SET
        time_spent_seconds = time_spent_seconds + $3,
        last_position_seconds = $4,
        updated_at = $5
        WHERE user_id = $1 AND lesson_id = $2 AND deleted_at IS NULL`
	if _, err := r.db.ExecContext(ctx, query, userID, lessonID, timeSpent, lastPosition, ts); err != nil {
		return fmt.Errorf("update lesson activity: %w", err)
	}
	return nil
}

// CountCompletedByCourse returns completed lessons of a user in a course.
func (r *LessonProgressRepository) CountCompletedByCourse(ctx context.Context, userID, courseID string) (int, error) {
	const query = `SELECT COUNT(*) FROM lesson_progress
        WHERE user_id = $1 AND course_id = $2 AND status = $3 AND deleted_at IS NULL`
	var total int
	if err := r.db.GetContext(ctx, &total, query, userID, courseID, models.LessonCompleted); err != nil {
		return 0, fmt.Errorf("count completed lessons: %w", err)
	}
	return total, nil
}

// CountCompletedBySeries returns completed lessons of a user across a series.
func (r *LessonProgressRepository) CountCompletedBySeries(ctx context.Context, userID, seriesID string) (int, error) {
	const query = `SELECT COUNT(*) FROM lesson_progress lp
        JOIN courses c ON c.id = lp.course_id
        WHERE lp.user_id = $1 AND c.series_id = $2 AND lp.status = $3 AND lp.deleted_at IS NULL`
	var total int
	if err := r.db.GetContext(ctx, &total, query, userID, seriesID, models.LessonCompleted); err != nil {
		return 0, fmt.Errorf("count completed series lessons: %w", err)
	}
	return total, nil
}
