package models

import "time"

// EnrollmentStatus represents the lifecycle of an enrollment.
type EnrollmentStatus string

// Possible enrollment statuses.
const (
	EnrollmentStatusActive    EnrollmentStatus = "ACTIVE"
	EnrollmentStatusCompleted EnrollmentStatus = "COMPLETED"
	EnrollmentStatusCancelled EnrollmentStatus = "CANCELLED"
)

// PaymentStatus tracks the external payment flow outcome.
type PaymentStatus string

// Possible payment statuses.
const (
	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusCompleted PaymentStatus = "completed"
	PaymentStatusFailed    PaymentStatus = "failed"
)

// Enrollment is the root of a user's relationship to a series. It is
// created by the payment flow with payment_status pending; the
// progression engine only touches progress_percentage, status and
// last_accessed_at once payment is completed.
type Enrollment struct {
	ID                 string           `db:"id" json:"id"`
	UserID             string           `db:"user_id" json:"user_id"`
	SeriesID           string           `db:"series_id" json:"series_id"`
	Status             EnrollmentStatus `db:"status" json:"status"`
	PaymentStatus      PaymentStatus    `db:"payment_status" json:"payment_status"`
	ProgressPercentage int              `db:"progress_percentage" json:"progress_percentage"`
	EnrolledAt         time.Time        `db:"enrolled_at" json:"enrolled_at"`
	LastAccessedAt     *time.Time       `db:"last_accessed_at" json:"last_accessed_at,omitempty"`
	CreatedAt          time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time        `db:"updated_at" json:"updated_at"`
	DeletedAt          *time.Time       `db:"deleted_at" json:"-"`
}

// IsPaid reports whether the progression engine may act on the enrollment.
func (e *Enrollment) IsPaid() bool {
	return e.PaymentStatus == PaymentStatusCompleted
}
