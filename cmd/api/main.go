package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"attendanceportal/internal/attendance"
	"attendanceportal/internal/auth"
	"attendanceportal/internal/cloudinary"
	"attendanceportal/internal/config"
	"attendanceportal/internal/course"
	"attendanceportal/internal/faceclient"
	"attendanceportal/internal/httpapi"
	"attendanceportal/internal/lecture"
	"attendanceportal/internal/logging"
	"attendanceportal/internal/notification"
	"attendanceportal/internal/profile"
	"attendanceportal/internal/queue"
	"attendanceportal/internal/store"
	"attendanceportal/internal/verify"
)

func main() {
	cfg := config.Load()
	log := logging.New(cfg.Env)
	defer func() { _ = log.Sync() }()

	if cfg.Production() {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := run(cfg, log); err != nil {
		log.Fatal("http server failed", zap.Error(err))
	}
}

func run(cfg config.App, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	backend, err := store.Open(ctx, store.Options{
		Backend:        cfg.StoreBackend,
		DatabaseURL:    cfg.DatabaseURL,
		RedisAddr:      cfg.RedisAddr,
		RedisKeyPrefix: cfg.RedisKeyPrefix,
		SQLitePath:     cfg.SQLitePath,
	})
	if err != nil {
		return err
	}
	defer func() { _ = backend.Close() }()
	log.Info("store ready", zap.String("backend", cfg.StoreBackend), zap.Int64("migration", backend.MigrationVersion))
	st := store.New(backend.Repo)

	face := faceclient.New(cfg.FaceServiceURL, cfg.FaceSkip)

	var (
		lectureUploads lecture.Uploader
		avatarUploads  profile.Uploader
	)
	if cfg.CloudinaryConfigured() {
		cdn := cloudinary.New(cfg.CloudinaryCloudName, cfg.CloudinaryAPIKey, cfg.CloudinaryAPISecret, cfg.CloudinaryFolder)
		lectureUploads, avatarUploads = cdn, cdn
		log.Info("cloudinary configured", zap.String("cloud", cfg.CloudinaryCloudName))
	} else {
		log.Info("cloudinary not configured, uploads disabled")
	}

	hub := notification.NewHub(log)
	notes := notification.NewService(st, hub, log)
	tokens := auth.NewIssuer(cfg.JWTIssuer, cfg.JWTSigningKey, cfg.AccessTTL, cfg.RefreshTTL)

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		q = queue.NewInMemory(64)
	} else {
		r := backend.Redis
		if r == nil {
			rc := store.NewRedis(cfg.RedisAddr)
			defer func() { _ = rc.Close() }()
			r = rc.Client
		}
		q = queue.NewRedisQueue(r, "")
	}

	att := attendance.NewService(st, notes, q, attendance.Settings{
		SessionDuration: cfg.SessionDuration,
		LateGrace:       cfg.LateGrace,
		GeofenceRadiusM: cfg.GeofenceRadiusM,
	}, log)

	if cfg.QueueBackend == "memory" {
		// Nothing else can drain an in-process queue.
		w := verify.NewWorker(q, face, att, log)
		go func() {
			if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("verification worker stopped", zap.Error(err))
			}
		}()
	}

	svc := httpapi.Services{
		Auth:          auth.NewService(st, tokens, log),
		Tokens:        tokens,
		Courses:       course.NewService(st, notes, log),
		Lectures:      lecture.NewService(st, notes, lectureUploads, log),
		Attendance:    att,
		Notifications: notes,
		Hub:           hub,
		Profile:       profile.NewService(st, avatarUploads, face, log),
	}
	checks := map[string]httpapi.HealthCheck{"store": backend.Healthy}
	if !cfg.FaceSkip {
		checks["face"] = func(ctx context.Context) bool { return face.Health(ctx) == nil }
	}

	h := httpapi.New(svc, checks, cfg.CORSOrigins, log)
	router := httpapi.NewRouter(h, httpapi.RouterOptions{
		CORSOrigins:     cfg.CORSOrigins,
		RateLimitPerMin: cfg.RateLimitPerMin,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("starting server", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	log.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("forced shutdown", zap.Error(err))
	}
	log.Info("server exited")
	return nil
}
