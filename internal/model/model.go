package model

import "time"

// Role distinguishes teachers from students.
type Role string

const (
	RoleTeacher Role = "TEACHER"
	RoleStudent Role = "STUDENT"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleTeacher || r == RoleStudent
}

// DefaultThemeColor is applied to users that never picked one.
const DefaultThemeColor = "#4f46e5"

// User is a registered teacher or student.
type User struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"passwordHash,omitempty"`
	Role         Role      `json:"role"`
	FatherName   string    `json:"fatherName,omitempty"`
	Avatar       string    `json:"avatar,omitempty"`
	ThemeColor   string    `json:"themeColor,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Public returns a copy safe to hand to clients.
func (u User) Public() User {
	u.PasswordHash = ""
	return u
}

// IsTeacher reports whether the user owns courses.
func (u User) IsTeacher() bool { return u.Role == RoleTeacher }

// Course is a class owned by a teacher.
type Course struct {
	ID                 string    `json:"id"`
	TeacherID          string    `json:"teacherId"`
	Name               string    `json:"name"`
	Subject            string    `json:"subject"`
	EnrollmentCode     string    `json:"enrollmentCode"`
	EnrolledStudentIDs []string  `json:"enrolledStudentIds"`
	PendingStudentIDs  []string  `json:"pendingStudentIds"`
	CreatedAt          time.Time `json:"createdAt"`
}

// IsEnrolled reports whether studentID was approved into the course.
func (c Course) IsEnrolled(studentID string) bool {
	return contains(c.EnrolledStudentIDs, studentID)
}

// IsPending reports whether studentID is waiting for approval.
func (c Course) IsPending(studentID string) bool {
	return contains(c.PendingStudentIDs, studentID)
}

// IsMember reports whether studentID is enrolled or pending.
func (c Course) IsMember(studentID string) bool {
	return c.IsEnrolled(studentID) || c.IsPending(studentID)
}

// Normalize replaces nil id sets with empty ones so they encode as [].
func (c *Course) Normalize() {
	if c.EnrolledStudentIDs == nil {
		c.EnrolledStudentIDs = []string{}
	}
	if c.PendingStudentIDs == nil {
		c.PendingStudentIDs = []string{}
	}
}

// ContentType enumerates lecture payload kinds.
type ContentType string

const (
	ContentNote  ContentType = "note"
	ContentFile  ContentType = "file"
	ContentLink  ContentType = "link"
	ContentVideo ContentType = "video"
	ContentVoice ContentType = "voice"
)

// Uploadable reports whether payloads of this type are binary media.
func (t ContentType) Uploadable() bool {
	return t == ContentFile || t == ContentVideo || t == ContentVoice
}

// LectureContent is a piece of course material.
type LectureContent struct {
	ID        string      `json:"id"`
	CourseID  string      `json:"courseId"`
	Title     string      `json:"title"`
	Type      ContentType `json:"type"`
	Data      string      `json:"data"`
	CreatedAt time.Time   `json:"createdAt"`
}

// AttendanceSession is a bounded window during which check-ins are accepted.
type AttendanceSession struct {
	ID        string    `json:"id"`
	CourseID  string    `json:"courseId"`
	Code      string    `json:"code,omitempty"`
	StartTime time.Time `json:"startTime"`
	EndTime   time.Time `json:"endTime"`
	IsActive  bool      `json:"isActive"`
	Latitude  *float64  `json:"latitude,omitempty"`
	Longitude *float64  `json:"longitude,omitempty"`
}

// Geotagged reports whether the session carries a location.
func (s AttendanceSession) Geotagged() bool {
	return s.Latitude != nil && s.Longitude != nil
}

// WithoutCode hides the check-in code from students.
func (s AttendanceSession) WithoutCode() AttendanceSession {
	s.Code = ""
	return s
}

// AttendanceRecord is a single check-in.
type AttendanceRecord struct {
	ID             string    `json:"id"`
	SessionID      string    `json:"sessionId"`
	CourseID       string    `json:"courseId"`
	StudentID      string    `json:"studentId"`
	Timestamp      time.Time `json:"timestamp"`
	Latitude       *float64  `json:"latitude,omitempty"`
	Longitude      *float64  `json:"longitude,omitempty"`
	IsProxyFlagged bool      `json:"isProxyFlagged,omitempty"`
	ProxyReason    string    `json:"proxyReason,omitempty"`
	IsManual       bool      `json:"isManual,omitempty"`
	SelfieURL      string    `json:"selfieUrl,omitempty"`
}

// Located reports whether the check-in carries a location.
func (r AttendanceRecord) Located() bool {
	return r.Latitude != nil && r.Longitude != nil
}

// NotificationType drives how a notification is styled.
type NotificationType string

const (
	NotifyInfo    NotificationType = "info"
	NotifySuccess NotificationType = "success"
	NotifyWarning NotificationType = "warning"
)

// Notification is a message addressed to one user.
type Notification struct {
	ID        string           `json:"id"`
	UserID    string           `json:"userId"`
	Title     string           `json:"title"`
	Message   string           `json:"message"`
	Type      NotificationType `json:"type"`
	Timestamp time.Time        `json:"timestamp"`
	IsRead    bool             `json:"isRead"`
	Link      string           `json:"link,omitempty"`
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

// Without returns ids with every occurrence of id removed.
func Without(ids []string, id string) []string {
	out := make([]string, 0, len(ids))
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}
