package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/lumeo-edu/learnpath-api/internal/models"
)

// CourseProgressRepository persists per-(user, course) progress rows
// including the intro/end video slots. Video columns are addressed by a
// whitelisted slot prefix; aggregate upserts take a row lock so the
// completed transition is decided exactly once.
type CourseProgressRepository struct {
	db *sqlx.DB
}

// NewCourseProgressRepository constructs the repository.
func NewCourseProgressRepository(db *sqlx.DB) *CourseProgressRepository {
	return &CourseProgressRepository{db: db}
}

const courseProgressColumns = `id, user_id, course_id, status, completion_percentage, is_completed, started_at, completed_at,
        intro_video_unlocked, intro_video_viewed, intro_video_completed,
        intro_video_time_spent_seconds, intro_video_last_position_seconds, intro_video_completion_percentage,
        end_video_unlocked, end_video_viewed, end_video_completed,
        end_video_time_spent_seconds, end_video_last_position_seconds, end_video_completion_percentage,
        created_at, updated_at, deleted_at`

func videoColumnPrefix(slot models.VideoSlot) (string, error) {
	switch slot {
	case models.VideoSlotIntro:
		return "intro_video", nil
	case models.VideoSlotEnd:
		return "end_video", nil
	default:
		return "", fmt.Errorf("unknown video slot %q", slot)
	}
}

// Find returns the course progress row for a user.
func (r *CourseProgressRepository) Find(ctx context.Context, userID, courseID string) (*models.CourseProgress, error) {
	query := fmt.Sprintf(`SELECT %s FROM course_progress WHERE user_id = $1 AND course_id = $2 AND deleted_at IS NULL`, courseProgressColumns)
	var progress models.CourseProgress
	if err := r.db.GetContext(ctx, &progress, query, userID, courseID); err != nil {
		return nil, err
	}
	return &progress, nil
}

// ListByUserAndSeries returns a user's course progress across a series
// in course sequence order.
func (r *CourseProgressRepository) ListByUserAndSeries(ctx context.Context, userID, seriesID string) ([]models.CourseProgress, error) {
	query := fmt.Sprintf(`SELECT cp.%s FROM course_progress cp
        JOIN courses c ON c.id = cp.course_id
        WHERE cp.user_id = $1 AND c.series_id = $2 AND cp.deleted_at IS NULL
        ORDER BY c.sequence_index ASC`,
		"id, cp.user_id, cp.course_id, cp.status, cp.completion_percentage, cp.is_completed, cp.started_at, cp.completed_at, "+
			"cp.intro_video_unlocked, cp.intro_video_viewed, cp.intro_video_completed, "+
			"cp.intro_video_time_spent_seconds, cp.intro_video_last_position_seconds, cp.intro_video_completion_percentage, "+
			"cp.end_video_unlocked, cp.end_video_viewed, cp.end_video_completed, "+
			"cp.end_video_time_spent_seconds, cp.end_video_last_position_seconds, cp.end_video_completion_percentage, "+
			"cp.created_at, cp.updated_at, cp.deleted_at")
	var rows []models.CourseProgress
	if err := r.db.SelectContext(ctx, &rows, query, userID, seriesID); err != nil {
		return nil, fmt.Errorf("list course progress: %w", err)
	}
	return rows, nil
}

// Init creates the row if absent. Returns true when a new row was
// created; an existing row is left untouched.
func (r *CourseProgressRepository) Init(ctx context.Context, userID, courseID string, status models.CourseProgressStatus) (bool, error) {
	const query = `INSERT INTO course_progress (id, user_id, course_id, status, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $5)
        ON CONFLICT (user_id, course_id) DO NOTHING`
	res, err := r.db.ExecContext(ctx, query, uuid.NewString(), userID, courseID, status, time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("init course progress: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("init course progress: %w", err)
	}
	return affected > 0, nil
}

// SetStatusIf transitions status only when the current value matches.
// Used to flip pending to in_progress on first activity.
func (r *CourseProgressRepository) SetStatusIf(ctx context.Context, userID, courseID string, from, to models.CourseProgressStatus, ts time.Time) (bool, error) {
	const query = `UPDATE course_progress SET status = $4, started_at = COALESCE(started_at, $5), updated_at = $5
        WHERE user_id = $1 AND course_id = $2 AND status = $3 AND deleted_at IS NULL`
	res, err := r.db.ExecContext(ctx, query, userID, courseID, from, to, ts)
	if err != nil {
		return false, fmt.Errorf("set course status: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("set course status: %w", err)
	}
	return affected > 0, nil
}

// UpsertAggregate writes the recomputed percentage and completion flag
// under a row lock and reports the previous completion flag, letting
// the caller detect the first transition into completed.
func (r *CourseProgressRepository) UpsertAggregate(ctx context.Context, userID, courseID string, percentage int, completed bool, ts time.Time) (bool, error) {
	const query = `WITH prev AS (
        SELECT id, is_completed FROM course_progress
        WHERE user_id = $1 AND course_id = $2 AND deleted_at IS NULL
        FOR UPDATE
    )
    UPDATE course_progress cp SET
        completion_percentage = $3,
        is_completed = $4,
        status = CASE WHEN $4 THEN 'completed' WHEN cp.status = 'pending' THEN 'in_progress' ELSE cp.status END,
        started_at = COALESCE(cp.started_at, $5),
        completed_at = CASE WHEN $4 THEN COALESCE(cp.completed_at, $5) ELSE cp.completed_at END,
        updated_at = $5
    FROM prev WHERE cp.id = prev.id
    RETURNING prev.is_completed`
	var wasCompleted bool
	if err := r.db.GetContext(ctx, &wasCompleted, query, userID, courseID, percentage, completed, ts); err != nil {
		return false, err
	}
	return wasCompleted, nil
}

// UnlockVideo flags a video slot as unlocked. Idempotent.
func (r *CourseProgressRepository) UnlockVideo(ctx context.Context, userID, courseID string, slot models.VideoSlot) error {
	prefix, err := videoColumnPrefix(slot)
	if err != nil {
		return err
	}
	query := fmt.Sprintf(`UPDATE course_progress SET %s_unlocked = TRUE, updated_at = $3
        WHERE user_id = $1 AND course_id = $2 AND deleted_at IS NULL`, prefix)
	if _, err := r.db.ExecContext(ctx, query, userID, courseID, time.Now().UTC()); err != nil {
		return fmt.Errorf("unlock %s video: %w", slot, err)
	}
	return nil
}

// UpdateVideoProgress applies a non-regressing report against one video
// slot. A stale writer matches zero rows.
func (r *CourseProgressRepository) UpdateVideoProgress(ctx context.Context, userID, courseID string, slot models.VideoSlot, percentage, timeSpent, lastPosition int, ts time.Time) (bool, error) {
	prefix, err := videoColumnPrefix(slot)
	if err != nil {
		return false, err
	}
	query := fmt.Sprintf(`UPDATE course_progress SET
        %[1]s_completion_percentage = $3,
        %[1]s_time_spent_seconds = %[1]s_time_spent_seconds + $4,
        %[1]s_last_position_seconds = $5,
        %[1]s_viewed = TRUE,
        updated_at = $6
        WHERE user_id = $1 AND course_id = $2 AND %[1]s_completion_percentage <= $3 AND deleted_at IS NULL`, prefix)
	res, err := r.db.ExecContext(ctx, query, userID, courseID, percentage, timeSpent, lastPosition, ts)
	if err != nil {
		return false, fmt.Errorf("update %s video progress: %w", slot, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update %s video progress: %w", slot, err)
	}
	return affected > 0, nil
}

// UpdateVideoActivity persists time/position for a rejected report.
func (r *CourseProgressRepository) UpdateVideoActivity(ctx context.Context, userID, courseID string, slot models.VideoSlot, timeSpent, lastPosition int, ts time.Time) error {
	prefix, err := videoColumnPrefix(slot)
	if err != nil {
		return err
	}
	query := fmt.Sprintf(`UPDATE course_progress SET
        %[1]s_time_spent_seconds = %[1]s_time_spent_seconds + $3,
        %[1]s_last_position_seconds = $4,
        updated_at = $5
        WHERE user_id = $1 AND course_id = $2 AND deleted_at IS NULL`, prefix)
	if _, err := r.db.ExecContext(ctx, query, userID, courseID, timeSpent, lastPosition, ts); err != nil {
		return fmt.Errorf("update %s video activity: %w", slot, err)
	}
	return nil
}

// CompleteVideo marks a video slot completed. The stored percentage
// never regresses.
func (r *CourseProgressRepository) CompleteVideo(ctx context.Context, userID, courseID string, slot models.VideoSlot, percentage int, ts time.Time) error {
	prefix, err := videoColumnPrefix(slot)
	if err != nil {
		return err
	}
	query := fmt.Sprintf(`UPDATE course_progress SET
        %[1]s_completed = TRUE,
        %[1]s_viewed = TRUE,
        %[1]s_completion_percentage = GREATEST(%[1]s_completion_percentage, $3),
        updated_at = $4
        WHERE user_id = $1 AND course_id = $2 AND deleted_at IS NULL`, prefix)
	if _, err := r.db.ExecContext(ctx, query, userID, courseID, percentage, ts); err != nil {
		return fmt.Errorf("complete %s video: %w", slot, err)
	}
	return nil
}
