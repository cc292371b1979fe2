// Package verify consumes queued check-ins and compares their selfies with
// the student's enrolled face.
package verify

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"attendanceportal/internal/attendance"
	"attendanceportal/internal/faceclient"
	"attendanceportal/internal/model"
	"attendanceportal/internal/queue"
)

// Verifier compares a selfie with an enrolled face.
type Verifier interface {
	Verify(ctx context.Context, userID, imageURL string) (*faceclient.VerifyResult, error)
}

// Flagger marks records as possible proxy attendance.
type Flagger interface {
	FlagProxy(ctx context.Context, recordID, reason string) error
}

// Worker processes TypeVerifyCheckIn messages.
type Worker struct {
	queue queue.Queue
	face  Verifier
	flags Flagger
	log   *zap.Logger
}

// NewWorker wires a worker.
func NewWorker(q queue.Queue, face Verifier, flags Flagger, log *zap.Logger) *Worker {
	return &Worker{queue: q, face: face, flags: flags, log: log}
}

// Run consumes messages until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	messages, err := w.queue.Consume(ctx)
	if err != nil {
		return err
	}
	w.log.Info("verification worker started")
	for msg := range messages {
		if msg.Type != queue.TypeVerifyCheckIn {
			w.log.Debug("skipping message", zap.String("type", msg.Type))
			continue
		}
		job, err := queue.DecodeCheckIn(msg)
		if err != nil {
			w.log.Warn("decode check-in", zap.Error(err))
			continue
		}
		w.Process(ctx, job)
	}
	w.log.Info("verification worker stopped")
	return nil
}

// Process verifies one check-in. Face service failures leave the record
// untouched.
func (w *Worker) Process(ctx context.Context, job queue.CheckIn) {
	log := w.log.With(zap.String("record_id", job.RecordID), zap.String("student_id", job.StudentID))
	res, err := w.face.Verify(ctx, job.StudentID, job.SelfieURL)
	if err != nil {
		log.Warn("face verification failed", zap.Error(err))
		return
	}
	if res.Verified {
		log.Debug("selfie verified", zap.Float64("similarity", res.Similarity))
		return
	}
	err = w.flags.FlagProxy(ctx, job.RecordID, attendance.ReasonFaceMismatch)
	switch {
	case errors.Is(err, model.ErrNotFound):
		log.Info("record deleted before verification")
	case err != nil:
		log.Error("flag proxy", zap.Error(err))
	default:
		log.Info("selfie mismatch flagged", zap.Float64("similarity", res.Similarity), zap.Float64("threshold", res.Threshold))
	}
}
