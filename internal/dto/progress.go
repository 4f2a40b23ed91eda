package dto

import "github.com/lumeo-edu/learnpath-api/internal/models"

// VideoProgressRequest reports fractional playback progress from the
// client. Percentages below the stored value only update activity
// fields; the stored percentage never regresses.
type VideoProgressRequest struct {
	CompletionPercentage int `json:"completion_percentage" validate:"min=0,max=100"`
	TimeSpentSeconds     int `json:"time_spent_seconds" validate:"min=0"`
	LastPositionSeconds  int `json:"last_position_seconds" validate:"min=0"`
}

// CompleteRequest optionally overrides the recorded completion
// percentage. A nil body means manual completion, which requires the
// unit to have been viewed first.
type CompleteRequest struct {
	CompletionPercentage *int `json:"completion_percentage,omitempty" validate:"omitempty,min=0,max=100"`
}

// PaymentWebhookRequest is the payment-confirmation callback payload.
type PaymentWebhookRequest struct {
	UserID    string `json:"user_id" validate:"required"`
	SeriesID  string `json:"series_id" validate:"required"`
	Reference string `json:"reference"`
}

// CourseProgressSummary is the per-course slice of an enrollment summary.
type CourseProgressSummary struct {
	CourseID             string                      `json:"course_id"`
	Title                string                      `json:"title"`
	Status               models.CourseProgressStatus `json:"status"`
	CompletionPercentage int                         `json:"completion_percentage"`
	IsCompleted          bool                        `json:"is_completed"`
	IntroVideo           *models.VideoSlotState      `json:"intro_video,omitempty"`
	EndVideo             *models.VideoSlotState      `json:"end_video,omitempty"`
}

// EnrollmentProgress is the cached series-wide progress summary.
type EnrollmentProgress struct {
	SeriesID           string                  `json:"series_id"`
	Status             models.EnrollmentStatus `json:"status"`
	PaymentStatus      models.PaymentStatus    `json:"payment_status"`
	ProgressPercentage int                     `json:"progress_percentage"`
	CompletedLessons   int                     `json:"completed_lessons"`
	TotalLessons       int                     `json:"total_lessons"`
	Courses            []CourseProgressSummary `json:"courses"`
}

// AssetURL is a resolved signed download link for a stored asset.
type AssetURL struct {
	URL       string `json:"url"`
	ExpiresAt int64  `json:"expires_at"`
}
