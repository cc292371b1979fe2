package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"attendanceportal/internal/attendance"
	"attendanceportal/internal/config"
	"attendanceportal/internal/faceclient"
	"attendanceportal/internal/logging"
	"attendanceportal/internal/notification"
	"attendanceportal/internal/queue"
	"attendanceportal/internal/store"
	"attendanceportal/internal/verify"
)

// Worker consumes check-in verification jobs from Redis, compares selfies
// with the face service and flags mismatches as possible proxies.
func main() {
	cfg := config.Load()
	log := logging.New(cfg.Env)
	defer func() { _ = log.Sync() }()

	if cfg.StoreBackend == store.BackendMemory || cfg.QueueBackend == "memory" {
		log.Fatal("worker needs a shared store and queue",
			zap.String("store", cfg.StoreBackend), zap.String("queue", cfg.QueueBackend))
	}

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
		log.Fatal("store connect failed", zap.Error(err))
	}
	defer func() { _ = backend.Close() }()
	st := store.New(backend.Repo)

	rc := backend.Redis
	if rc == nil {
		r := store.NewRedis(cfg.RedisAddr)
		defer func() { _ = r.Close() }()
		rc = r.Client
	}
	q := queue.NewRedisQueue(rc, "")

	face := faceclient.New(cfg.FaceServiceURL, cfg.FaceSkip)
	if !cfg.FaceSkip {
		if err := face.Health(ctx); err != nil {
			log.Warn("face service not available, jobs will fail until it is", zap.Error(err))
		} else {
			log.Info("face service connected")
		}
	}

	// Flags raised here notify teachers through the stored list only; push
	// delivery belongs to the API process.
	notes := notification.NewService(st, nil, log)
	att := attendance.NewService(st, notes, nil, attendance.Settings{
		SessionDuration: cfg.SessionDuration,
		LateGrace:       cfg.LateGrace,
		GeofenceRadiusM: cfg.GeofenceRadiusM,
	}, log)

	if err := verify.NewWorker(q, face, att, log).Run(ctx); err != nil {
		log.Fatal("worker failed", zap.Error(err))
	}
}
