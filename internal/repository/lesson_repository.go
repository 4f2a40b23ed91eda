package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/lumeo-edu/learnpath-api/internal/models"
)

// LessonRepository reads lesson files.
type LessonRepository struct {
	db *sqlx.DB
}

// NewLessonRepository constructs the repository.
func NewLessonRepository(db *sqlx.DB) *LessonRepository {
	return &LessonRepository{db: db}
}

const lessonColumns = `id, course_id, title, kind, file_key, duration_seconds, sequence_index, created_at, updated_at`

// FindByID returns a lesson file by its ID.
func (r *LessonRepository) FindByID(ctx context.Context, id string) (*models.LessonFile, error) {
	query := fmt.Sprintf(`SELECT %s FROM lesson_files WHERE id = $1`, lessonColumns)
	var lesson models.LessonFile
	if err := r.db.GetContext(ctx, &lesson, query, id); err != nil {
		return nil, err
	}
	return &lesson, nil
}

// ListByCourse returns the lessons of a course in sequence order.
func (r *LessonRepository) ListByCourse(ctx context.Context, courseID string) ([]models.LessonFile, error) {
	query := fmt.Sprintf(`SELECT %s FROM lesson_files WHERE course_id = $1 ORDER BY sequence_index ASC`, lessonColumns)
	var lessons []models.LessonFile
	if err := r.db.SelectContext(ctx, &lessons, query, courseID); err != nil {
		return nil, fmt.Errorf("list lessons: %w", err)
	}
	return lessons, nil
}

// FirstInCourse returns the first lesson of a course.
func (r *LessonRepository) FirstInCourse(ctx context.Context, courseID string) (*models.LessonFile, error) {
	query := fmt.Sprintf(`SELECT %s FROM lesson_files WHERE course_id = $1 ORDER BY sequence_index ASC LIMIT 1`, lessonColumns)
	var lesson models.LessonFile
	if err := r.db.GetContext(ctx, &lesson, query, courseID); err != nil {
		return nil, err
	}
	return &lesson, nil
}

// NextAfter returns the lesson that follows the given sequence index
// within a course. sql.ErrNoRows signals the course is exhausted.
func (r *LessonRepository) NextAfter(ctx context.Context, courseID string, sequenceIndex int) (*models.LessonFile, error) {
	query := fmt.Sprintf(`SELECT %s FROM lesson_files WHERE course_id = $1 AND sequence_index > $2 ORDER BY sequence_index ASC LIMIT 1`, lessonColumns)
	var lesson models.LessonFile
	if err := r.db.GetContext(ctx, &lesson, query, courseID, sequenceIndex); err != nil {
		return nil, err
	}
	return &lesson, nil
}

// CountByCourse returns the number of lessons in a course.
func (r *LessonRepository) CountByCourse(ctx context.Context, courseID string) (int, error) {
	var total int
	if err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM lesson_files WHERE course_id = $1`, courseID); err != nil {
		return 0, fmt.Errorf("count course lessons: %w", err)
	}
	return total, nil
}

// CountBySeries returns the number of lessons across all courses of a series.
func (r *LessonRepository) CountBySeries(ctx context.Context, seriesID string) (int, error) {
	const query = `SELECT COUNT(*) FROM lesson_files lf
        JOIN courses c ON c.id = lf.course_id
        WHERE c.series_id = $1`
	var total int
	if err := r.db.GetContext(ctx, &total, query, seriesID); err != nil {
		return 0, fmt.Errorf("count series lessons: %w", err)
	}
	return total, nil
}
