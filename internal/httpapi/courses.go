package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"attendanceportal/internal/lecture"
	"attendanceportal/internal/model"
)

// ListCourses returns the caller's dashboard.
func (h *Handler) ListCourses(c *gin.Context) {
	list, err := h.svc.Courses.ListForUser(c.Request.Context(), caller(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"courses": list})
}

// CreateCourse adds a course for the calling teacher.
func (h *Handler) CreateCourse(c *gin.Context) {
	var req struct {
		Name    string `json:"name"`
		Subject string `json:"subject"`
	}
	if !bind(c, &req) {
		return
	}
	created, err := h.svc.Courses.Create(c.Request.Context(), caller(c), req.Name, req.Subject)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, created)
}

// JoinCourse files a join request by enrollment code.
func (h *Handler) JoinCourse(c *gin.Context) {
	var req struct {
		Code string `json:"code"`
	}
	if !bind(c, &req) {
		return
	}
	joined, err := h.svc.Courses.Join(c.Request.Context(), caller(c), req.Code)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"course": joined, "status": "pending"})
}

// GetCourse returns one visible course.
func (h *Handler) GetCourse(c *gin.Context) {
	got, err := h.svc.Courses.Get(c.Request.Context(), caller(c), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, got)
}

// DeleteCourse removes a course the caller teaches.
func (h *Handler) DeleteCourse(c *gin.Context) {
	if err := h.svc.Courses.Delete(c.Request.Context(), caller(c), c.Param("id")); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// CourseQR renders the enrollment code as a PNG.
func (h *Handler) CourseQR(c *gin.Context) {
	owned, err := h.svc.Courses.Owned(c.Request.Context(), caller(c), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	h.writeQR(c, owned.EnrollmentCode)
}

// Roster lists enrolled and pending students.
func (h *Handler) Roster(c *gin.Context) {
	roster, err := h.svc.Courses.Roster(c.Request.Context(), caller(c), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, roster)
}

// ApproveStudent moves a pending student into the course.
func (h *Handler) ApproveStudent(c *gin.Context) {
	updated, err := h.svc.Courses.Approve(c.Request.Context(), caller(c), c.Param("id"), c.Param("studentId"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, updated)
}

// RejectStudent drops a pending request.
func (h *Handler) RejectStudent(c *gin.Context) {
	updated, err := h.svc.Courses.Reject(c.Request.Context(), caller(c), c.Param("id"), c.Param("studentId"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, updated)
}

// RemoveStudent unenrolls a student.
func (h *Handler) RemoveStudent(c *gin.Context) {
	updated, err := h.svc.Courses.RemoveStudent(c.Request.Context(), caller(c), c.Param("id"), c.Param("studentId"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, updated)
}

// ListLectures returns course content.
func (h *Handler) ListLectures(c *gin.Context) {
	list, err := h.svc.Lectures.List(c.Request.Context(), caller(c), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"lectures": list})
}

// AddLecture posts text, link or URL content.
func (h *Handler) AddLecture(c *gin.Context) {
	var in lecture.Input
	if !bind(c, &in) {
		return
	}
	content, err := h.svc.Lectures.Add(c.Request.Context(), caller(c), c.Param("id"), in)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, content)
}

// UploadLecture accepts multipart fields title, type and file.
func (h *Handler) UploadLecture(c *gin.Context) {
	file, header, err := c.Request.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file field required"})
		return
	}
	defer file.Close()

	in := lecture.Input{Title: c.PostForm("title"), Type: model.ContentType(c.PostForm("type"))}
	content, err := h.svc.Lectures.Upload(c.Request.Context(), caller(c), c.Param("id"), in, header.Filename, file)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, content)
}

// DeleteLecture removes one piece of content.
func (h *Handler) DeleteLecture(c *gin.Context) {
	if err := h.svc.Lectures.Delete(c.Request.Context(), caller(c), c.Param("id")); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
