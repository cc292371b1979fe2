package httpapi

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"attendanceportal/internal/auth"
	"attendanceportal/internal/httpmiddleware"
	"attendanceportal/internal/metrics"
	"attendanceportal/internal/model"
)

// RouterOptions configures cross-cutting middleware.
type RouterOptions struct {
	CORSOrigins     []string
	RateLimitPerMin int
}

// perUser charges authenticated requests to the caller and anonymous ones to
// their address.
func perUser(c *gin.Context) string {
	if sess, ok := auth.Session(c); ok {
		return "user:" + sess.UserID
	}
	return httpmiddleware.ClientIP(c)
}

// NewRouter builds the gin engine serving the API.
func NewRouter(h *Handler, opts RouterOptions) *gin.Engine {
	r := gin.New()
	r.MaxMultipartMemory = 32 << 20
	r.Use(gin.Recovery())
	r.Use(httpmiddleware.RequestLogger(h.log, "/healthz", "/metrics"))
	r.Use(metrics.GinMiddleware())
	r.Use(corsMiddleware(opts.CORSOrigins))
	r.Use(httpmiddleware.SecurityHeaders())

	r.GET("/healthz", h.Healthz)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	limiter := httpmiddleware.NewSimpleTokenBucket(opts.RateLimitPerMin, opts.RateLimitPerMin)

	v1 := r.Group("/v1")

	public := v1.Group("/auth", limiter.GinMiddleware(httpmiddleware.ClientIP))
	public.POST("/register", h.Register)
	public.POST("/login", h.Login)
	public.POST("/refresh", h.Refresh)

	authed := v1.Group("", auth.Authenticate(h.svc.Tokens), limiter.GinMiddleware(perUser))
	teacher := authed.Group("", auth.RequireRole(model.RoleTeacher))
	student := authed.Group("", auth.RequireRole(model.RoleStudent))

	authed.POST("/auth/logout", h.Logout)
	authed.GET("/auth/me", h.Me)

	authed.GET("/courses", h.ListCourses)
	teacher.POST("/courses", h.CreateCourse)
	student.POST("/courses/join", h.JoinCourse)
	authed.GET("/courses/:id", h.GetCourse)
	teacher.DELETE("/courses/:id", h.DeleteCourse)
	teacher.GET("/courses/:id/qr", h.CourseQR)
	teacher.GET("/courses/:id/students", h.Roster)
	teacher.POST("/courses/:id/students/:studentId/approve", h.ApproveStudent)
	teacher.POST("/courses/:id/students/:studentId/reject", h.RejectStudent)
	teacher.DELETE("/courses/:id/students/:studentId", h.RemoveStudent)

	authed.GET("/courses/:id/lectures", h.ListLectures)
	teacher.POST("/courses/:id/lectures", h.AddLecture)
	teacher.POST("/courses/:id/lectures/upload", h.UploadLecture)
	teacher.DELETE("/lectures/:id", h.DeleteLecture)

	authed.GET("/courses/:id/sessions", h.ListSessions)
	teacher.POST("/courses/:id/sessions", h.OpenSession)
	authed.GET("/courses/:id/sessions/active", h.ActiveSession)
	student.POST("/courses/:id/checkin", h.CheckIn)
	teacher.GET("/courses/:id/attendance/summary", h.AttendanceSummary)

	teacher.POST("/sessions/:id/close", h.CloseSession)
	teacher.GET("/sessions/:id/qr", h.SessionQR)
	authed.GET("/sessions/:id/records", h.ListRecords)
	teacher.POST("/sessions/:id/records", h.MarkManual)
	teacher.PATCH("/records/:id/proxy", h.SetProxyFlag)
	teacher.DELETE("/records/:id", h.DeleteRecord)

	authed.GET("/notifications", h.ListNotifications)
	authed.GET("/notifications/unread", h.UnreadCount)
	authed.POST("/notifications/read-all", h.MarkAllRead)
	authed.POST("/notifications/:id/read", h.MarkRead)
	authed.DELETE("/notifications/:id", h.DeleteNotification)
	authed.DELETE("/notifications", h.ClearNotifications)
	authed.GET("/ws", h.Stream)

	authed.GET("/profile", h.GetProfile)
	authed.PATCH("/profile", h.UpdateProfile)
	authed.POST("/profile/password", h.ChangePassword)
	authed.POST("/profile/avatar", h.UploadAvatar)

	return r
}

func corsMiddleware(origins []string) gin.HandlerFunc {
	cfg := cors.Config{
		AllowMethods:  []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders: []string{"Retry-After"},
		MaxAge:        12 * time.Hour,
	}
	if len(origins) == 0 || (len(origins) == 1 && origins[0] == "*") {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = origins
		cfg.AllowCredentials = true
	}
	return cors.New(cfg)
}
