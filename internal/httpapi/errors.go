package httpapi

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"attendanceportal/internal/attendance"
	"attendanceportal/internal/auth"
	"attendanceportal/internal/course"
	"attendanceportal/internal/lecture"
	"attendanceportal/internal/model"
	"attendanceportal/internal/profile"
)

func statusFor(err error) int {
	switch {
	case model.IsValidation(err),
		errors.Is(err, course.ErrInvalidCode),
		errors.Is(err, attendance.ErrInvalidSessionCode),
		errors.Is(err, profile.ErrWrongPassword):
		return http.StatusBadRequest
	case errors.Is(err, auth.ErrInvalidCredentials),
		errors.Is(err, auth.ErrInvalidToken),
		errors.Is(err, auth.ErrWrongTokenType):
		return http.StatusUnauthorized
	case errors.Is(err, model.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, model.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, auth.ErrEmailTaken),
		errors.Is(err, course.ErrAlreadyRequested),
		errors.Is(err, course.ErrNotPending),
		errors.Is(err, course.ErrNotEnrolled),
		errors.Is(err, attendance.ErrSessionActive),
		errors.Is(err, attendance.ErrSessionClosed),
		errors.Is(err, attendance.ErrAlreadyCheckedIn),
		errors.Is(err, attendance.ErrNotEnrolled):
		return http.StatusConflict
	case errors.Is(err, attendance.ErrSessionExpired):
		return http.StatusGone
	case errors.Is(err, lecture.ErrUploadUnavailable),
		errors.Is(err, profile.ErrUploadUnavailable):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// fail writes err as {"error": ...}. Unexpected errors are logged and hidden.
func (h *Handler) fail(c *gin.Context, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.log.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
		_ = c.Error(err)
		c.JSON(status, gin.H{"error": "internal error"})
		return
	}
	body := gin.H{"error": err.Error()}
	var verr *model.ValidationError
	if errors.As(err, &verr) {
		body["fields"] = verr.Fields
	}
	c.JSON(status, body)
}
