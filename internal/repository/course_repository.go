package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/lumeo-edu/learnpath-api/internal/models"
)

// CourseRepository reads courses. Unlock traversal always orders by
// sequence_index, the single canonical ordering key.
type CourseRepository struct {
	db *sqlx.DB
}

// NewCourseRepository constructs the repository.
func NewCourseRepository(db *sqlx.DB) *CourseRepository {
	return &CourseRepository{db: db}
}

const courseColumns = `id, series_id, title, sequence_index, intro_video_key, end_video_key, created_at, updated_at`

// FindByID returns a course by its ID.
func (r *CourseRepository) FindByID(ctx context.Context, id string) (*models.Course, error) {
	query := fmt.Sprintf(`SELECT %s FROM courses WHERE id = $1`, courseColumns)
	var course models.Course
	if err := r.db.GetContext(ctx, &course, query, id); err != nil {
		return nil, err
	}
	return &course, nil
}

// ListBySeries returns all courses of a series in sequence order.
func (r *CourseRepository) ListBySeries(ctx context.Context, seriesID string) ([]models.Course, error) {
	query := fmt.Sprintf(`SELECT %s FROM courses WHERE series_id = $1 ORDER BY sequence_index ASC`, courseColumns)
	var courses []models.Course
	if err := r.db.SelectContext(ctx, &courses, query, seriesID); err != nil {
		return nil, fmt.Errorf("list courses: %w", err)
	}
	return courses, nil
}

// NextAfter returns the course that follows the given sequence index
// within a series. sql.ErrNoRows signals the series is exhausted.
func (r *CourseRepository) NextAfter(ctx context.Context, seriesID string, sequenceIndex int) (*models.Course, error) {
	query := fmt.Sprintf(`SELECT %s FROM courses WHERE series_id = $1 AND sequence_index > $2 ORDER BY sequence_index ASC LIMIT 1`, courseColumns)
	var course models.Course
	if err := r.db.GetContext(ctx, &course, query, seriesID, sequenceIndex); err != nil {
		return nil, err
	}
	return &course, nil
}
