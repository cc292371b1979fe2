package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"attendanceportal/internal/attendance"
)

// ListSessions returns a course's sessions, newest first.
func (h *Handler) ListSessions(c *gin.Context) {
	list, err := h.svc.Attendance.ListSessions(c.Request.Context(), caller(c), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessions": list})
}

// OpenSession starts an attendance window.
func (h *Handler) OpenSession(c *gin.Context) {
	var req struct {
		DurationMinutes int      `json:"durationMinutes" validate:"min=0,max=1440"`
		Latitude        *float64 `json:"latitude"`
		Longitude       *float64 `json:"longitude"`
	}
	if !bindOptional(c, &req) {
		return
	}
	opened, err := h.svc.Attendance.Open(c.Request.Context(), caller(c), c.Param("id"), attendance.OpenInput{
		Duration:  time.Duration(req.DurationMinutes) * time.Minute,
		Latitude:  req.Latitude,
		Longitude: req.Longitude,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, opened)
}

// ActiveSession returns the course's open session.
func (h *Handler) ActiveSession(c *gin.Context) {
	active, err := h.svc.Attendance.Active(c.Request.Context(), caller(c), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, active)
}

// CheckIn records the calling student's attendance.
func (h *Handler) CheckIn(c *gin.Context) {
	var req struct {
		Code      string   `json:"code"`
		Latitude  *float64 `json:"latitude"`
		Longitude *float64 `json:"longitude"`
		SelfieURL string   `json:"selfieUrl"`
	}
	if !bind(c, &req) {
		return
	}
	rec, err := h.svc.Attendance.CheckIn(c.Request.Context(), caller(c), c.Param("id"), attendance.CheckInInput{
		Code:      req.Code,
		Latitude:  req.Latitude,
		Longitude: req.Longitude,
		SelfieURL: req.SelfieURL,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, rec)
}

// AttendanceSummary reports per-student attendance.
func (h *Handler) AttendanceSummary(c *gin.Context) {
	sum, err := h.svc.Attendance.Summary(c.Request.Context(), caller(c), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, sum)
}

// CloseSession ends an attendance window.
func (h *Handler) CloseSession(c *gin.Context) {
	closed, err := h.svc.Attendance.Close(c.Request.Context(), caller(c), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, closed)
}

// SessionQR renders the session code as a PNG.
func (h *Handler) SessionQR(c *gin.Context) {
	s, err := h.svc.Attendance.Session(c.Request.Context(), caller(c), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	h.writeQR(c, s.Code)
}

// ListRecords returns a session's check-ins.
func (h *Handler) ListRecords(c *gin.Context) {
	list, err := h.svc.Attendance.Records(c.Request.Context(), caller(c), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"records": list})
}

// MarkManual records a student as present.
func (h *Handler) MarkManual(c *gin.Context) {
	var req struct {
		StudentID string `json:"studentId"`
	}
	if !bind(c, &req) {
		return
	}
	rec, err := h.svc.Attendance.MarkManual(c.Request.Context(), caller(c), c.Param("id"), req.StudentID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, rec)
}

// SetProxyFlag overrides a record's proxy flag.
func (h *Handler) SetProxyFlag(c *gin.Context) {
	var req struct {
		Flagged *bool `json:"flagged"`
	}
	if !bind(c, &req) {
		return
	}
	if req.Flagged == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "flagged is required"})
		return
	}
	rec, err := h.svc.Attendance.SetProxyFlag(c.Request.Context(), caller(c), c.Param("id"), *req.Flagged)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

// DeleteRecord removes a check-in.
func (h *Handler) DeleteRecord(c *gin.Context) {
	if err := h.svc.Attendance.DeleteRecord(c.Request.Context(), caller(c), c.Param("id")); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
