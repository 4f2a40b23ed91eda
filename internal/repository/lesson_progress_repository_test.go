package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/lumeo-edu/learnpath-api/internal/models"
)

func newLessonProgressRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func TestLessonProgressRepositoryFindLocked(t *testing.T) {
	db, mock, cleanup := newLessonProgressRepoMock(t)
	defer cleanup()
	repo := NewLessonProgressRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("FROM lesson_progress WHERE user_id = $1 AND lesson_id = $2")).
		WithArgs("user-1", "lesson-1").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.Find(context.Background(), "user-1", "lesson-1")
	require.ErrorIs(t, err, sql.ErrNoRows)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLessonProgressRepositoryUnlockCreatesRow(t *testing.T) {
	db, mock, cleanup := newLessonProgressRepoMock(t)
	defer cleanup()
	repo := NewLessonProgressRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("ON CONFLICT (user_id, lesson_id) DO NOTHING")).
		WithArgs(sqlmock.AnyArg(), "user-1", "lesson-1", "course-1", models.LessonUnlocked, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	created, err := repo.Unlock(context.Background(), "user-1", "lesson-1", "course-1")
	require.NoError(t, err)
	require.True(t, created)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLessonProgressRepositoryUnlockIdempotent(t *testing.T) {
	db, mock, cleanup := newLessonProgressRepoMock(t)
	defer cleanup()
	repo := NewLessonProgressRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("ON CONFLICT (user_id, lesson_id) DO NOTHING")).
		WithArgs(sqlmock.AnyArg(), "user-1", "lesson-1", "course-1", models.LessonUnlocked, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	created, err := repo.Unlock(context.Background(), "user-1", "lesson-1", "course-1")
	require.NoError(t, err)
	require.False(t, created)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLessonProgressRepositoryUpdateProgressApplied(t *testing.T) {
	db, mock, cleanup := newLessonProgressRepoMock(t)
	defer cleanup()
	repo := NewLessonProgressRepository(db)
	now := time.Now().UTC()

	mock.ExpectExec(regexp.QuoteMeta("completion_percentage <= $3")).
		WithArgs("user-1", "lesson-1", 80, 30, 120, now).
		WillReturnResult(sqlmock.NewResult(0, 1))

	applied, err := repo.UpdateProgress(context.Background(), "user-1", "lesson-1", 80, 30, 120, now)
	require.NoError(t, err)
	require.True(t, applied)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLessonProgressRepositoryUpdateProgressRejectsRegression(t *testing.T) {
	db, mock, cleanup := newLessonProgressRepoMock(t)
	defer cleanup()
	repo := NewLessonProgressRepository(db)
	now := time.Now().UTC()

	mock.ExpectExec(regexp.QuoteMeta("completion_percentage <= $3")).
		WithArgs("user-1", "lesson-1", 40, 15, 60, now).
		WillReturnResult(sqlmock.NewResult(0, 0))

	applied, err := repo.UpdateProgress(context.Background(), "user-1", "lesson-1", 40, 15, 60, now)
	require.NoError(t, err)
	require.False(t, applied)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLessonProgressRepositoryCountCompletedByCourse(t *testing.T) {
	db, mock, cleanup := newLessonProgressRepoMock(t)
	defer cleanup()
	repo := NewLessonProgressRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM lesson_progress")).
		WithArgs("user-1", "course-1", models.LessonCompleted).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))

	total, err := repo.CountCompletedByCourse(context.Background(), "user-1", "course-1")
	require.NoError(t, err)
	require.Equal(t, 3, total)
	require.NoError(t, mock.ExpectationsWereMet())
}
