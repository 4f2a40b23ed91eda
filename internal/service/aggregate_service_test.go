package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumeo-edu/learnpath-api/internal/models"
)

type mockCompletedCounter struct {
	byCourse map[string]int
	bySeries map[string]int
}

func (m *mockCompletedCounter) CountCompletedByCourse(ctx context.Context, userID, courseID string) (int, error) {
	return m.byCourse[courseID], nil
}

func (m *mockCompletedCounter) CountCompletedBySeries(ctx context.Context, userID, seriesID string) (int, error) {
	return m.bySeries[seriesID], nil
}

type mockLessonCounter struct {
	byCourse map[string]int
	bySeries map[string]int
}

func (m *mockLessonCounter) CountByCourse(ctx context.Context, courseID string) (int, error) {
	return m.byCourse[courseID], nil
}

func (m *mockLessonCounter) CountBySeries(ctx context.Context, seriesID string) (int, error) {
	return m.bySeries[seriesID], nil
}

type mockCourseAggregateStore struct {
	percentage     int
	completed      bool
	wasCompleted   bool
	missing        bool
	unlockedVideos []models.VideoSlot
}

func (m *mockCourseAggregateStore) UpsertAggregate(ctx context.Context, userID, courseID string, percentage int, completed bool, ts time.Time) (bool, error) {
	if m.missing {
		return false, sql.ErrNoRows
	}
	prev := m.wasCompleted
	m.percentage = percentage
	m.completed = completed
	m.wasCompleted = completed
	return prev, nil
}

func (m *mockCourseAggregateStore) UnlockVideo(ctx context.Context, userID, courseID string, slot models.VideoSlot) error {
	m.unlockedVideos = append(m.unlockedVideos, slot)
	return nil
}

type mockEnrollmentAggregateStore struct {
	enrollment *models.Enrollment
	percentage int
	status     models.EnrollmentStatus
	updated    bool
}

func (m *mockEnrollmentAggregateStore) FindByUserAndSeries(ctx context.Context, userID, seriesID string) (*models.Enrollment, error) {
	if m.enrollment == nil {
		return nil, sql.ErrNoRows
	}
	copied := *m.enrollment
	return &copied, nil
}

func (m *mockEnrollmentAggregateStore) UpdateProgress(ctx context.Context, id string, percentage int, status models.EnrollmentStatus, ts time.Time) error {
	m.percentage = percentage
	m.status = status
	m.updated = true
	m.enrollment.ProgressPercentage = percentage
	m.enrollment.Status = status
	return nil
}

func TestAggregateServiceRecomputeCoursePartial(t *testing.T) {
	completed := &mockCompletedCounter{byCourse: map[string]int{"course-1": 1}}
	lessons := &mockLessonCounter{byCourse: map[string]int{"course-1": 2}}
	store := &mockCourseAggregateStore{}
	svc := NewAggregateService(completed, lessons, store, &mockEnrollmentAggregateStore{}, nil)

	course := &models.Course{ID: "course-1", SeriesID: "series-1"}
	done, err := svc.RecomputeCourse(context.Background(), "user-1", course)
	require.NoError(t, err)
	assert.False(t, done)
	assert.Equal(t, 50, store.percentage)
	assert.False(t, store.completed)
}

func TestAggregateServiceRecomputeCourseRounding(t *testing.T) {
	completed := &mockCompletedCounter{byCourse: map[string]int{"course-1": 1}}
	lessons := &mockLessonCounter{byCourse: map[string]int{"course-1": 3}}
	store := &mockCourseAggregateStore{}
	svc := NewAggregateService(completed, lessons, store, &mockEnrollmentAggregateStore{}, nil)

	course := &models.Course{ID: "course-1", SeriesID: "series-1"}
	_, err := svc.RecomputeCourse(context.Background(), "user-1", course)
	require.NoError(t, err)
	assert.Equal(t, 33, store.percentage)

	completed.byCourse["course-1"] = 2
	_, err = svc.RecomputeCourse(context.Background(), "user-1", course)
	require.NoError(t, err)
	assert.Equal(t, 67, store.percentage)
}

func TestAggregateServiceRecomputeCourseTransitionUnlocksEndVideo(t *testing.T) {
	completed := &mockCompletedCounter{byCourse: map[string]int{"course-1": 2}}
	lessons := &mockLessonCounter{byCourse: map[string]int{"course-1": 2}}
	store := &mockCourseAggregateStore{}
	svc := NewAggregateService(completed, lessons, store, &mockEnrollmentAggregateStore{}, nil)

	course := &models.Course{ID: "course-1", SeriesID: "series-1", EndVideoKey: strPtr("videos/end-1.mp4")}
	done, err := svc.RecomputeCourse(context.Background(), "user-1", course)
	require.NoError(t, err)
	assert.True(t, done)
	assert.Equal(t, 100, store.percentage)
	assert.Equal(t, []models.VideoSlot{models.VideoSlotEnd}, store.unlockedVideos)

	// Replaying the aggregate is not a second transition.
	done, err = svc.RecomputeCourse(context.Background(), "user-1", course)
	require.NoError(t, err)
	assert.False(t, done)
	assert.Len(t, store.unlockedVideos, 1)
}

func TestAggregateServiceRecomputeCourseNoLessons(t *testing.T) {
	completed := &mockCompletedCounter{byCourse: map[string]int{}}
	lessons := &mockLessonCounter{byCourse: map[string]int{}}
	store := &mockCourseAggregateStore{}
	svc := NewAggregateService(completed, lessons, store, &mockEnrollmentAggregateStore{}, nil)

	done, err := svc.RecomputeCourse(context.Background(), "user-1", &models.Course{ID: "course-1"})
	require.NoError(t, err)
	assert.False(t, done)
	assert.False(t, store.completed)
	assert.Equal(t, 0, store.percentage)
}

func TestAggregateServiceRecomputeEnrollmentCompletes(t *testing.T) {
	completed := &mockCompletedCounter{bySeries: map[string]int{"series-1": 2}}
	lessons := &mockLessonCounter{bySeries: map[string]int{"series-1": 2}}
	enrollments := &mockEnrollmentAggregateStore{enrollment: &models.Enrollment{
		ID: "enr-1", UserID: "user-1", SeriesID: "series-1",
		Status: models.EnrollmentStatusActive, PaymentStatus: models.PaymentStatusCompleted,
	}}
	svc := NewAggregateService(completed, lessons, &mockCourseAggregateStore{}, enrollments, nil)

	done, err := svc.RecomputeEnrollment(context.Background(), "user-1", "series-1")
	require.NoError(t, err)
	assert.True(t, done)
	assert.Equal(t, 100, enrollments.percentage)
	assert.Equal(t, models.EnrollmentStatusCompleted, enrollments.status)

	// Replay: already completed, no second transition.
	done, err = svc.RecomputeEnrollment(context.Background(), "user-1", "series-1")
	require.NoError(t, err)
	assert.False(t, done)
}

func TestAggregateServiceRecomputeEnrollmentPartial(t *testing.T) {
	completed := &mockCompletedCounter{bySeries: map[string]int{"series-1": 1}}
	lessons := &mockLessonCounter{bySeries: map[string]int{"series-1": 2}}
	enrollments := &mockEnrollmentAggregateStore{enrollment: &models.Enrollment{
		ID: "enr-1", Status: models.EnrollmentStatusActive,
	}}
	svc := NewAggregateService(completed, lessons, &mockCourseAggregateStore{}, enrollments, nil)

	done, err := svc.RecomputeEnrollment(context.Background(), "user-1", "series-1")
	require.NoError(t, err)
	assert.False(t, done)
	assert.Equal(t, 50, enrollments.percentage)
	assert.Equal(t, models.EnrollmentStatusActive, enrollments.status)
}

func TestAggregateServiceRecomputeEnrollmentMissing(t *testing.T) {
	svc := NewAggregateService(&mockCompletedCounter{}, &mockLessonCounter{}, &mockCourseAggregateStore{}, &mockEnrollmentAggregateStore{}, nil)

	done, err := svc.RecomputeEnrollment(context.Background(), "user-1", "series-1")
	require.NoError(t, err)
	assert.False(t, done)
}
