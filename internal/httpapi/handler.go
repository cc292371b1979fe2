// Package httpapi exposes the portal services as a JSON API over gin.
package httpapi

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"attendanceportal/internal/attendance"
	"attendanceportal/internal/auth"
	"attendanceportal/internal/course"
	"attendanceportal/internal/lecture"
	"attendanceportal/internal/model"
	"attendanceportal/internal/notification"
	"attendanceportal/internal/profile"
	"attendanceportal/internal/session"
)

// HealthCheck reports whether one dependency is reachable.
type HealthCheck func(ctx context.Context) bool

// Services bundles what the handlers call into.
type Services struct {
	Auth          *auth.Service
	Tokens        *auth.Issuer
	Courses       *course.Service
	Lectures      *lecture.Service
	Attendance    *attendance.Service
	Notifications *notification.Service
	Hub           *notification.Hub
	Profile       *profile.Service
}

// Handler serves the HTTP API.
type Handler struct {
	svc      Services
	checks   map[string]HealthCheck
	upgrader websocket.Upgrader
	log      *zap.Logger
}

// New creates a handler. checks are reported by /healthz.
func New(svc Services, checks map[string]HealthCheck, origins []string, log *zap.Logger) *Handler {
	return &Handler{
		svc:    svc,
		checks: checks,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(origins),
		},
		log: log,
	}
}

func originChecker(origins []string) func(r *http.Request) bool {
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		allowed[o] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || allowed[origin]
	}
}

// Healthz reports dependency status; any failing check yields 503.
func (h *Handler) Healthz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	body := gin.H{"status": "ok"}
	for name, check := range h.checks {
		ok := check(ctx)
		body[name] = ok
		if !ok {
			status = http.StatusServiceUnavailable
			body["status"] = "degraded"
		}
	}
	c.JSON(status, body)
}

// caller returns the authenticated session. Routes using it sit behind
// auth.Authenticate.
func caller(c *gin.Context) session.Context {
	sess, _ := auth.Session(c)
	return sess
}

func bind(c *gin.Context, dst any) bool {
	return bound(c, c.ShouldBindJSON(dst))
}

// bindOptional is bind for endpoints that accept an empty body.
func bindOptional(c *gin.Context, dst any) bool {
	err := c.ShouldBindJSON(dst)
	if errors.Is(err, io.EOF) {
		return true
	}
	return bound(c, err)
}

func bound(c *gin.Context, err error) bool {
	if err == nil {
		return true
	}
	var verr *model.ValidationError
	if errors.As(err, &verr) {
		c.JSON(http.StatusBadRequest, gin.H{"error": verr.Error(), "fields": verr.Fields})
		return false
	}
	c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
	return false
}
