package response

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/lumeo-edu/learnpath-api/internal/models"
	appErrors "github.com/lumeo-edu/learnpath-api/pkg/errors"
)

// Envelope represents the common response contract.
type Envelope struct {
	Success    bool               `json:"success"`
	Message    string             `json:"message,omitempty"`
	Data       interface{}        `json:"data,omitempty"`
	Error      *appErrors.Error   `json:"error,omitempty"`
	Pagination *models.Pagination `json:"pagination,omitempty"`
}

// JSON sends a success response with optional pagination metadata.
func JSON(c *gin.Context, status int, message string, data interface{}, pagination *models.Pagination) {
	c.Header("Cache-Control", "no-store")
	c.Header("Pragma", "no-cache")
	c.JSON(status, Envelope{Success: true, Message: message, Data: data, Pagination: pagination})
}

// OK responds with HTTP 200.
func OK(c *gin.Context, message string, data interface{}) {
	JSON(c, http.StatusOK, message, data, nil)
}

// Created responds with HTTP 201 Created.
func Created(c *gin.Context, message string, data interface{}) {
	JSON(c, http.StatusCreated, message, data, nil)
}

// Error sends an error response converting the error to the common structure.
func Error(c *gin.Context, err error) {
	appErr := appErrors.FromError(err)
	c.Header("Cache-Control", "no-store")
	c.Header("Pragma", "no-cache")
	c.JSON(appErr.Status, Envelope{Success: false, Message: appErr.Message, Error: appErr})
}

// NoContent sends a 204 response.
func NoContent(c *gin.Context) {
	c.Status(http.StatusNoContent)
}
