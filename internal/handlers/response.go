package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/myaview/backend/internal/platform/apierr"
)

type APIError struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

type ErrorEnvelope struct {
	Error APIError `json:"error"`
}

// RespondError maps err onto the client error envelope. Clients see the
// taxonomy code and short user text only; raw collaborator errors stay in
// the logs.
func RespondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	code := "internal_error"
	var ae *apierr.Error
	if errors.As(err, &ae) {
		status = ae.Status
		code = ae.Code
	}
	c.JSON(status, ErrorEnvelope{
		Error: APIError{
			Message: apierr.UserMessage(err),
			Code:    code,
		},
	})
}

func RespondOK(c *gin.Context, payload any) {
	c.JSON(http.StatusOK, payload)
}
