package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/lumeo-edu/learnpath-api/internal/models"
)

// SeriesRepository reads the series catalog. Content rows are owned by
// the authoring subsystem; the API never mutates them.
type SeriesRepository struct {
	db *sqlx.DB
}

// NewSeriesRepository constructs the repository.
func NewSeriesRepository(db *sqlx.DB) *SeriesRepository {
	return &SeriesRepository{db: db}
}

const seriesColumns = `id, title, description, visibility, price_cents, created_at, updated_at`

// List returns series filtered by visibility with pagination.
func (r *SeriesRepository) List(ctx context.Context, filter models.SeriesFilter) ([]models.Series, int, error) {
	visibility := filter.Visibility
	if visibility == "" {
		visibility = models.SeriesVisible
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	offset := (page - 1) * size

	query := fmt.Sprintf(`SELECT %s FROM series WHERE visibility = $1 ORDER BY created_at DESC LIMIT %d OFFSET %d`,
		seriesColumns, size, offset)

	var series []models.Series
	if err := r.db.SelectContext(ctx, &series, query, visibility); err != nil {
		return nil, 0, fmt.Errorf("list series: %w", err)
	}

	var total int
	if err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM series WHERE visibility = $1`, visibility); err != nil {
		return nil, 0, fmt.Errorf("count series: %w", err)
	}
	return series, total, nil
}

// FindByID returns a series by its ID.
func (r *SeriesRepository) FindByID(ctx context.Context, id string) (*models.Series, error) {
	query := fmt.Sprintf(`SELECT %s FROM series WHERE id = $1`, seriesColumns)
	var series models.Series
	if err := r.db.GetContext(ctx, &series, query, id); err != nil {
		return nil, err
	}
	return &series, nil
}
