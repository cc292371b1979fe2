// Package metrics exposes Prometheus collectors for the portal.
package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	JoinRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "portal_join_requests_total",
		Help: "Course join requests by outcome.",
	}, []string{"result"})

	Enrollments = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "portal_enrollment_decisions_total",
		Help: "Teacher decisions on pending students.",
	}, []string{"decision"})

	Sessions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "portal_attendance_sessions_total",
		Help: "Attendance sessions opened and closed.",
	}, []string{"event"})

	CheckIns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "portal_checkins_total",
		Help: "Check-in attempts by outcome.",
	}, []string{"result"})

	ProxyFlags = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "portal_proxy_flags_total",
		Help: "Check-ins flagged as possible proxy attendance, by reason.",
	}, []string{"reason"})

	httpRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "portal_http_requests_total",
		Help: "HTTP requests by route and status.",
	}, []string{"method", "route", "status"})

	httpDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "portal_http_request_duration_seconds",
		Help:    "HTTP request latency by route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route"})
)

// GinMiddleware records request counts and latency per matched route.
func GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		httpRequests.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).Inc()
		httpDuration.WithLabelValues(c.Request.Method, route).Observe(time.Since(start).Seconds())
	}
}
