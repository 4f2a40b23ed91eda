package handler

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/lumeo-edu/learnpath-api/internal/dto"
	"github.com/lumeo-edu/learnpath-api/internal/service"
	appErrors "github.com/lumeo-edu/learnpath-api/pkg/errors"
	"github.com/lumeo-edu/learnpath-api/pkg/response"
)

// EnrollmentHandler wires enrollment endpoints and the payment webhook.
type EnrollmentHandler struct {
	service       *service.EnrollmentService
	webhookSecret string
}

// NewEnrollmentHandler creates a new handler.
func NewEnrollmentHandler(svc *service.EnrollmentService, webhookSecret string) *EnrollmentHandler {
	return &EnrollmentHandler{service: svc, webhookSecret: webhookSecret}
}

// Enroll creates a pending enrollment for the authenticated user.
func (h *EnrollmentHandler) Enroll(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	enrollment, err := h.service.Enroll(c.Request.Context(), claims.UserID, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, "enrollment created", enrollment)
}

// List returns the authenticated user's enrollments.
func (h *EnrollmentHandler) List(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	enrollments, err := h.service.List(c.Request.Context(), claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, "", enrollments)
}

// PaymentWebhook processes the payment-confirmation callback. The
// provider authenticates with a shared secret header; replays are
// acknowledged so retries never error.
func (h *EnrollmentHandler) PaymentWebhook(c *gin.Context) {
	provided := c.GetHeader("X-Webhook-Secret")
	if h.webhookSecret == "" || subtle.ConstantTimeCompare([]byte(provided), []byte(h.webhookSecret)) != 1 {
		response.Error(c, appErrors.Clone(appErrors.ErrUnauthorized, "invalid webhook secret"))
		return
	}

	var req dto.PaymentWebhookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid webhook payload"))
		return
	}

	updated, err := h.service.HandlePaymentCompleted(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, "payment processed", gin.H{"updated": updated})
}
