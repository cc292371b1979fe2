package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"attendanceportal/internal/attendance"
	"attendanceportal/internal/auth"
	"attendanceportal/internal/course"
	"attendanceportal/internal/lecture"
	"attendanceportal/internal/model"
	"attendanceportal/internal/notification"
	"attendanceportal/internal/profile"
	"attendanceportal/internal/store"
)

type api struct {
	t      *testing.T
	router *gin.Engine
	hub    *notification.Hub
}

func newAPI(t *testing.T) *api {
	t.Helper()
	gin.SetMode(gin.TestMode)
	log := zap.NewNop()
	st := store.New(store.NewMemory())
	hub := notification.NewHub(log)
	notes := notification.NewService(st, hub, log)
	tokens := auth.NewIssuer("test", "secret", time.Hour, 24*time.Hour)

	svc := Services{
		Auth:          auth.NewService(st, tokens, log),
		Tokens:        tokens,
		Courses:       course.NewService(st, notes, log),
		Lectures:      lecture.NewService(st, notes, nil, log),
		Attendance:    attendance.NewService(st, notes, nil, attendance.Settings{SessionDuration: 10 * time.Minute, LateGrace: 5 * time.Minute, GeofenceRadiusM: 150}, log),
		Notifications: notes,
		Hub:           hub,
		Profile:       profile.NewService(st, nil, nil, log),
	}
	checks := map[string]HealthCheck{"store": func(context.Context) bool { return true }}
	h := New(svc, checks, []string{"*"}, log)
	return &api{t: t, router: NewRouter(h, RouterOptions{CORSOrigins: []string{"*"}, RateLimitPerMin: 1000}), hub: hub}
}

func (a *api) do(method, path, token string, body any) *httptest.ResponseRecorder {
	a.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(a.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func (a *api) register(name, email string, role model.Role) auth.Result {
	a.t.Helper()
	rec := a.do(http.MethodPost, "/v1/auth/register", "", gin.H{"name": name, "email": email, "password": "pw", "role": role})
	require.Equal(a.t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[auth.Result](a.t, rec)
}

func TestEnrollmentAndAttendanceFlow(t *testing.T) {
	a := newAPI(t)
	teacher := a.register("Ada", "ada@school.test", model.RoleTeacher)
	student := a.register("Sam", "sam@school.test", model.RoleStudent)
	tt, st := teacher.Tokens.AccessToken, student.Tokens.AccessToken

	rec := a.do(http.MethodPost, "/v1/courses", tt, gin.H{"name": "Algorithms", "subject": "CS"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	c := decode[model.Course](t, rec)
	assert.Len(t, c.EnrollmentCode, 6)
	assert.Equal(t, strings.ToUpper(c.EnrollmentCode), c.EnrollmentCode)

	rec = a.do(http.MethodPost, "/v1/courses", st, gin.H{"name": "Nope", "subject": "CS"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = a.do(http.MethodPost, "/v1/courses/join", st, gin.H{"code": "ZZZZZZ"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = a.do(http.MethodPost, "/v1/courses/join", st, gin.H{"code": strings.ToLower(c.EnrollmentCode)})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	rec = a.do(http.MethodPost, "/v1/courses/join", st, gin.H{"code": c.EnrollmentCode})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = a.do(http.MethodGet, "/v1/notifications/unread", tt, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, decode[map[string]int](t, rec)["unread"])

	rec = a.do(http.MethodGet, "/v1/courses/"+c.ID+"/students", tt, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	roster := decode[course.Roster](t, rec)
	require.Len(t, roster.Pending, 1)
	assert.Equal(t, "Sam", roster.Pending[0].Name)

	rec = a.do(http.MethodPost, "/v1/courses/"+c.ID+"/students/"+student.User.ID+"/approve", tt, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	approved := decode[model.Course](t, rec)
	assert.Equal(t, []string{student.User.ID}, approved.EnrolledStudentIDs)
	assert.Empty(t, approved.PendingStudentIDs)

	rec = a.do(http.MethodPost, "/v1/courses/"+c.ID+"/checkin", st, gin.H{"code": "ABCDEF"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = a.do(http.MethodPost, "/v1/courses/"+c.ID+"/sessions", tt, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	opened := decode[model.AttendanceSession](t, rec)
	assert.True(t, opened.IsActive)

	rec = a.do(http.MethodGet, "/v1/courses/"+c.ID+"/sessions/active", st, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), opened.Code)

	rec = a.do(http.MethodPost, "/v1/courses/"+c.ID+"/checkin", st, gin.H{"code": "WRONG1"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = a.do(http.MethodPost, "/v1/courses/"+c.ID+"/checkin", st, gin.H{"code": opened.Code})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = a.do(http.MethodPost, "/v1/sessions/"+opened.ID+"/close", tt, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	closed := decode[model.AttendanceSession](t, rec)
	assert.False(t, closed.IsActive)
	assert.False(t, closed.EndTime.Before(closed.StartTime))

	rec = a.do(http.MethodPost, "/v1/courses/"+c.ID+"/checkin", st, gin.H{"code": opened.Code})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = a.do(http.MethodGet, "/v1/courses/"+c.ID+"/attendance/summary", tt, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	sum := decode[attendance.Summary](t, rec)
	require.Len(t, sum.Students, 1)
	assert.Equal(t, 1, sum.Students[0].Attended)
}

func TestAuthEndpoints(t *testing.T) {
	a := newAPI(t)
	reg := a.register("Sam", "sam@school.test", model.RoleStudent)

	rec := a.do(http.MethodPost, "/v1/auth/register", "", gin.H{"name": "", "email": "x", "role": "STUDENT"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "fields")

	rec = a.do(http.MethodPost, "/v1/auth/login", "", gin.H{"email": "sam@school.test", "password": "bad"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = a.do(http.MethodPost, "/v1/auth/login", "", gin.H{"email": "sam@school.test", "password": "pw"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = a.do(http.MethodPost, "/v1/auth/refresh", "", gin.H{"refreshToken": reg.Tokens.RefreshToken})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = a.do(http.MethodGet, "/v1/auth/me", reg.Tokens.RefreshToken, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = a.do(http.MethodGet, "/v1/auth/me", reg.Tokens.AccessToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "passwordHash")

	rec = a.do(http.MethodPatch, "/v1/profile", reg.Tokens.AccessToken, gin.H{"themeColor": "#123abc"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "#123abc", decode[model.User](t, rec).ThemeColor)

	rec = a.do(http.MethodPost, "/v1/profile/password", reg.Tokens.AccessToken, gin.H{"currentPassword": "nope", "newPassword": "x"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = a.do(http.MethodPost, "/v1/auth/logout", reg.Tokens.AccessToken, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestRequestValidation(t *testing.T) {
	a := newAPI(t)
	teacher := a.register("Ada", "ada@school.test", model.RoleTeacher)
	tt := teacher.Tokens.AccessToken

	fieldsOf := func(rec *httptest.ResponseRecorder) []string {
		t.Helper()
		require.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
		body := decode[struct {
			Fields []model.FieldError `json:"fields"`
		}](t, rec)
		var names []string
		for _, f := range body.Fields {
			names = append(names, f.Field)
		}
		return names
	}

	rec := a.do(http.MethodPost, "/v1/auth/register", "", gin.H{"name": "Bob", "email": "Bob <bob@x.com>", "password": "pw", "role": "STUDENT"})
	assert.Equal(t, []string{"email"}, fieldsOf(rec))

	rec = a.do(http.MethodPost, "/v1/auth/register", "", gin.H{"name": "Bob", "email": "bob@x.com", "password": "pw", "role": "ADMIN"})
	assert.Equal(t, []string{"role"}, fieldsOf(rec))

	rec = a.do(http.MethodPatch, "/v1/profile", tt, gin.H{"themeColor": "#12345"})
	assert.Equal(t, []string{"themeColor"}, fieldsOf(rec))

	c := decode[model.Course](t, a.do(http.MethodPost, "/v1/courses", tt, gin.H{"name": "Algorithms", "subject": "CS"}))
	sessions := "/v1/courses/" + c.ID + "/sessions"

	rec = a.do(http.MethodPost, sessions, tt, gin.H{"durationMinutes": 1441})
	assert.Equal(t, []string{"durationMinutes"}, fieldsOf(rec))

	rec = a.do(http.MethodPost, sessions, tt, gin.H{"durationMinutes": int64(1) << 40})
	assert.Equal(t, []string{"durationMinutes"}, fieldsOf(rec))

	rec = a.do(http.MethodPost, sessions, tt, gin.H{"durationMinutes": -5})
	assert.Equal(t, []string{"durationMinutes"}, fieldsOf(rec))

	rec = a.do(http.MethodPost, sessions, tt, gin.H{"latitude": 95.0, "longitude": 10.0})
	assert.Equal(t, []string{"latitude"}, fieldsOf(rec))

	rec = a.do(http.MethodPost, sessions, tt, gin.H{"durationMinutes": 1440})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	opened := decode[model.AttendanceSession](t, rec)
	assert.Equal(t, 24*time.Hour, opened.EndTime.Sub(opened.StartTime))
}

func TestQRAndHealth(t *testing.T) {
	a := newAPI(t)
	teacher := a.register("Ada", "ada@school.test", model.RoleTeacher)
	rec := a.do(http.MethodPost, "/v1/courses", teacher.Tokens.AccessToken, gin.H{"name": "Algorithms", "subject": "CS"})
	require.Equal(t, http.StatusCreated, rec.Code)
	c := decode[model.Course](t, rec)

	rec = a.do(http.MethodGet, "/v1/courses/"+c.ID+"/qr?size=5000", teacher.Tokens.AccessToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	assert.True(t, bytes.HasPrefix(rec.Body.Bytes(), []byte("\x89PNG")))

	rec = a.do(http.MethodGet, "/v1/courses/missing/qr", teacher.Tokens.AccessToken, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = a.do(http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = a.do(http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "portal_http_requests_total")
}

func TestNotificationPush(t *testing.T) {
	a := newAPI(t)
	teacher := a.register("Ada", "ada@school.test", model.RoleTeacher)
	student := a.register("Sam", "sam@school.test", model.RoleStudent)
	rec := a.do(http.MethodPost, "/v1/courses", teacher.Tokens.AccessToken, gin.H{"name": "Algorithms", "subject": "CS"})
	require.Equal(t, http.StatusCreated, rec.Code)
	c := decode[model.Course](t, rec)

	srv := httptest.NewServer(a.router)
	defer srv.Close()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/ws?token=" + teacher.Tokens.AccessToken
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return a.hub.Connections(teacher.User.ID) == 1 }, 2*time.Second, 10*time.Millisecond)

	rec = a.do(http.MethodPost, "/v1/courses/join", student.Tokens.AccessToken, gin.H{"code": c.EnrollmentCode})
	require.Equal(t, http.StatusAccepted, rec.Code)

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev notification.Event
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, notification.EventNotification, ev.Type)
	require.NotNil(t, ev.Notification)
	assert.Equal(t, "New Enrollment Request", ev.Notification.Title)
	assert.Equal(t, 1, ev.Unread)
}
