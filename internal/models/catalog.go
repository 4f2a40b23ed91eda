package models

import "time"

// SeriesVisibility controls catalog exposure of a series.
type SeriesVisibility string

const (
	SeriesVisible SeriesVisibility = "visible"
	SeriesHidden  SeriesVisibility = "hidden"
)

// Series is a purchasable bundle of courses. Content rows are owned by
// the authoring subsystem and are read-only inputs to the progression
// engine.
type Series struct {
	ID          string           `db:"id" json:"id"`
	Title       string           `db:"title" json:"title"`
	Description string           `db:"description" json:"description"`
	Visibility  SeriesVisibility `db:"visibility" json:"visibility"`
	PriceCents  int64            `db:"price_cents" json:"price_cents"`
	CreatedAt   time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time        `db:"updated_at" json:"updated_at"`
}

// Course is an ordered group of lessons within a series. The optional
// intro/end video keys reference assets in the storage adapter.
type Course struct {
	ID            string    `db:"id" json:"id"`
	SeriesID      string    `db:"series_id" json:"series_id"`
	Title         string    `db:"title" json:"title"`
	SequenceIndex int       `db:"sequence_index" json:"sequence_index"`
	IntroVideoKey *string   `db:"intro_video_key" json:"intro_video_key,omitempty"`
	EndVideoKey   *string   `db:"end_video_key" json:"end_video_key,omitempty"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time `db:"updated_at" json:"updated_at"`
}

// HasIntroVideo reports whether the course carries an intro video asset.
func (c *Course) HasIntroVideo() bool {
	return c.IntroVideoKey != nil && *c.IntroVideoKey != ""
}

// HasEndVideo reports whether the course carries an end video asset.
func (c *Course) HasEndVideo() bool {
	return c.EndVideoKey != nil && *c.EndVideoKey != ""
}

// LessonKind classifies lesson file content.
type LessonKind string

const (
	LessonKindVideo  LessonKind = "video"
	LessonKindAudio  LessonKind = "audio"
	LessonKindPDF    LessonKind = "pdf"
	LessonKindSlides LessonKind = "slides"
	LessonKindOther  LessonKind = "other"
)

// LessonFile is a single content unit within a course. SequenceIndex is
// the one canonical ordering key for unlock traversal.
type LessonFile struct {
	ID              string     `db:"id" json:"id"`
	CourseID        string     `db:"course_id" json:"course_id"`
	Title           string     `db:"title" json:"title"`
	Kind            LessonKind `db:"kind" json:"kind"`
	FileKey         string     `db:"file_key" json:"file_key"`
	DurationSeconds int        `db:"duration_seconds" json:"duration_seconds"`
	SequenceIndex   int        `db:"sequence_index" json:"sequence_index"`
	CreatedAt       time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time  `db:"updated_at" json:"updated_at"`
}

// SeriesFilter provides list parameters for the catalog.
type SeriesFilter struct {
	Visibility SeriesVisibility
	Page       int
	PageSize   int
}

// SeriesDetail bundles a series with its ordered courses.
type SeriesDetail struct {
	Series
	Courses []Course `json:"courses"`
}

// CourseDetail bundles a course with its ordered lessons.
type CourseDetail struct {
	Course
	Lessons []LessonFile `json:"lessons"`
}
