package models

import "time"

// LessonProgressStatus is the explicit per-(user,lesson) state machine.
// A missing row means locked; creating the row is the unlock operation,
// so the full sequence is absent -> unlocked -> viewed -> completed and
// transitions are monotonic.
type LessonProgressStatus string

const (
	LessonUnlocked  LessonProgressStatus = "unlocked"
	LessonViewed    LessonProgressStatus = "viewed"
	LessonCompleted LessonProgressStatus = "completed"
)

// LessonProgress is one row per (user, lesson).
type LessonProgress struct {
	ID                   string               `db:"id" json:"id"`
	UserID               string               `db:"user_id" json:"user_id"`
	LessonID             string               `db:"lesson_id" json:"lesson_id"`
	CourseID             string               `db:"course_id" json:"course_id"`
	Status               LessonProgressStatus `db:"status" json:"status"`
	ViewedAt             *time.Time           `db:"viewed_at" json:"viewed_at,omitempty"`
	CompletedAt          *time.Time           `db:"completed_at" json:"completed_at,omitempty"`
	TimeSpentSeconds     int                  `db:"time_spent_seconds" json:"time_spent_seconds"`
	LastPositionSeconds  int                  `db:"last_position_seconds" json:"last_position_seconds"`
	CompletionPercentage int                  `db:"completion_percentage" json:"completion_percentage"`
	CreatedAt            time.Time            `db:"created_at" json:"created_at"`
	UpdatedAt            time.Time            `db:"updated_at" json:"updated_at"`
	DeletedAt            *time.Time           `db:"deleted_at" json:"-"`
}

// IsViewed reports whether the lesson has been opened at least once.
func (p *LessonProgress) IsViewed() bool {
	return p.Status == LessonViewed || p.Status == LessonCompleted
}

// IsCompleted reports whether the lesson is done.
func (p *LessonProgress) IsCompleted() bool {
	return p.Status == LessonCompleted
}

// CourseProgressStatus represents the lifecycle of a user's course.
type CourseProgressStatus string

const (
	CoursePending    CourseProgressStatus = "pending"
	CourseInProgress CourseProgressStatus = "in_progress"
	CourseCompleted  CourseProgressStatus = "completed"
	CourseAbandoned  CourseProgressStatus = "abandoned"
)

// VideoSlot selects one of the two course-level video pseudo-lessons.
type VideoSlot string

const (
	VideoSlotIntro VideoSlot = "intro"
	VideoSlotEnd   VideoSlot = "end"
)

// Valid reports whether the slot names a known video position.
func (s VideoSlot) Valid() bool {
	return s == VideoSlotIntro || s == VideoSlotEnd
}

// VideoSlotState is a read view over one video slot of a CourseProgress.
type VideoSlotState struct {
	Unlocked             bool `json:"unlocked"`
	Viewed               bool `json:"viewed"`
	Completed            bool `json:"completed"`
	TimeSpentSeconds     int  `json:"time_spent_seconds"`
	LastPositionSeconds  int  `json:"last_position_seconds"`
	CompletionPercentage int  `json:"completion_percentage"`
}

// CourseProgress is one row per (user, course). The intro/end video
// columns are mirrored per slot and addressed through VideoSlot.
type CourseProgress struct {
	ID                   string               `db:"id" json:"id"`
	UserID               string               `db:"user_id" json:"user_id"`
	CourseID             string               `db:"course_id" json:"course_id"`
	Status               CourseProgressStatus `db:"status" json:"status"`
	CompletionPercentage int                  `db:"completion_percentage" json:"completion_percentage"`
	IsCompleted          bool                 `db:"is_completed" json:"is_completed"`
	StartedAt            *time.Time           `db:"started_at" json:"started_at,omitempty"`
	CompletedAt          *time.Time           `db:"completed_at" json:"completed_at,omitempty"`

	IntroVideoUnlocked             bool `db:"intro_video_unlocked" json:"intro_video_unlocked"`
	IntroVideoViewed               bool `db:"intro_video_viewed" json:"intro_video_viewed"`
	IntroVideoCompleted            bool `db:"intro_video_completed" json:"intro_video_completed"`
	IntroVideoTimeSpentSeconds     int  `db:"intro_video_time_spent_seconds" json:"intro_video_time_spent_seconds"`
	IntroVideoLastPositionSeconds  int  `db:"intro_video_last_position_seconds" json:"intro_video_last_position_seconds"`
	IntroVideoCompletionPercentage int  `db:"intro_video_completion_percentage" json:"intro_video_completion_percentage"`

	EndVideoUnlocked             bool `db:"end_video_unlocked" json:"end_video_unlocked"`
	EndVideoViewed               bool `db:"end_video_viewed" json:"end_video_viewed"`
	EndVideoCompleted            bool `db:"end_video_completed" json:"end_video_completed"`
	EndVideoTimeSpentSeconds     int  `db:"end_video_time_spent_seconds" json:"end_video_time_spent_seconds"`
	EndVideoLastPositionSeconds  int  `db:"end_video_last_position_seconds" json:"end_video_last_position_seconds"`
	EndVideoCompletionPercentage int  `db:"end_video_completion_percentage" json:"end_video_completion_percentage"`

	CreatedAt time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt time.Time  `db:"updated_at" json:"updated_at"`
	DeletedAt *time.Time `db:"deleted_at" json:"-"`
}

// Video returns the state of the requested slot.
func (p *CourseProgress) Video(slot VideoSlot) VideoSlotState {
	if slot == VideoSlotEnd {
		return VideoSlotState{
			Unlocked:             p.EndVideoUnlocked,
			Viewed:               p.EndVideoViewed,
			Completed:            p.EndVideoCompleted,
			TimeSpentSeconds:     p.EndVideoTimeSpentSeconds,
			LastPositionSeconds:  p.EndVideoLastPositionSeconds,
			CompletionPercentage: p.EndVideoCompletionPercentage,
		}
	}
	return VideoSlotState{
		Unlocked:             p.IntroVideoUnlocked,
		Viewed:               p.IntroVideoViewed,
		Completed:            p.IntroVideoCompleted,
		TimeSpentSeconds:     p.IntroVideoTimeSpentSeconds,
		LastPositionSeconds:  p.IntroVideoLastPositionSeconds,
		CompletionPercentage: p.IntroVideoCompletionPercentage,
	}
}

// CascadeOutcome classifies what an unlock operation materialized, so a
// "series exhausted" no-op is distinguishable from a storage failure.
type CascadeOutcome string

const (
	OutcomeLessonUnlocked  CascadeOutcome = "lesson_unlocked"
	OutcomeIntroUnlocked   CascadeOutcome = "intro_unlocked"
	OutcomeCourseStarted   CascadeOutcome = "course_started"
	OutcomeSeriesExhausted CascadeOutcome = "series_exhausted"
	OutcomeNoop            CascadeOutcome = "noop"
)
