// Package attendance runs the attendance-session lifecycle: teachers open and
// close timed sessions, students check in with the session code and
// suspicious check-ins are flagged as possible proxy attendance.
package attendance

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"attendanceportal/internal/codegen"
	"attendanceportal/internal/metrics"
	"attendanceportal/internal/model"
	"attendanceportal/internal/notification"
	"attendanceportal/internal/queue"
	"attendanceportal/internal/session"
	"attendanceportal/internal/store"
)

var (
	ErrSessionActive      = errors.New("course already has an active attendance session")
	ErrSessionClosed      = errors.New("attendance session is closed")
	ErrSessionExpired     = errors.New("attendance window has ended")
	ErrInvalidSessionCode = errors.New("invalid attendance code")
	ErrAlreadyCheckedIn   = errors.New("attendance already recorded for this session")
	ErrNotEnrolled        = errors.New("student is not enrolled in this course")
)

// Settings tune the attendance window and the proxy heuristic.
type Settings struct {
	SessionDuration time.Duration
	LateGrace       time.Duration
	GeofenceRadiusM float64
}

// Publisher queues selfie verification work.
type Publisher interface {
	Publish(ctx context.Context, msg queue.Message) error
}

// MaxSessionDuration bounds how long a single session may stay open.
const MaxSessionDuration = 24 * time.Hour

// OpenInput configures a new session. Zero Duration uses the default.
type OpenInput struct {
	Duration  time.Duration
	Latitude  *float64
	Longitude *float64
}

// CheckInInput is what a student submits.
type CheckInInput struct {
	Code      string
	Latitude  *float64
	Longitude *float64
	SelfieURL string
}

// StudentSummary is one row of a course attendance report.
type StudentSummary struct {
	StudentID  string  `json:"studentId"`
	Name       string  `json:"name"`
	Attended   int     `json:"attended"`
	Total      int     `json:"total"`
	Percentage float64 `json:"percentage"`
}

// Summary aggregates attendance for a course.
type Summary struct {
	CourseID      string           `json:"courseId"`
	TotalSessions int              `json:"totalSessions"`
	Students      []StudentSummary `json:"students"`
}

// Service coordinates attendance sessions and check-ins.
type Service struct {
	store    *store.Store
	notify   *notification.Service
	queue    Publisher
	detector Detector
	settings Settings
	log      *zap.Logger
	now      func() time.Time
}

// NewService creates a service. q may be nil to skip selfie verification.
func NewService(st *store.Store, notify *notification.Service, q Publisher, settings Settings, log *zap.Logger) *Service {
	if settings.SessionDuration <= 0 {
		settings.SessionDuration = 10 * time.Minute
	}
	if settings.LateGrace < 0 {
		settings.LateGrace = 0
	}
	return &Service{
		store:    st,
		notify:   notify,
		queue:    q,
		detector: DefaultDetectors(settings.GeofenceRadiusM),
		settings: settings,
		log:      log,
		now:      time.Now,
	}
}

// Open starts an attendance session for a course the caller teaches.
func (s *Service) Open(ctx context.Context, sess session.Context, courseID string, in OpenInput) (model.AttendanceSession, error) {
	if !sess.IsTeacher() {
		return model.AttendanceSession{}, model.ErrForbidden
	}
	if err := validateLocation(in.Latitude, in.Longitude); err != nil {
		return model.AttendanceSession{}, err
	}
	if in.Duration < 0 || in.Duration > MaxSessionDuration {
		return model.AttendanceSession{}, model.NewValidationError(model.FieldError{Field: "duration", Error: "duration must be between 0 and 24h"})
	}
	duration := in.Duration
	if duration <= 0 {
		duration = s.settings.SessionDuration
	}
	now := s.now().UTC()

	var (
		opened model.AttendanceSession
		notes  []model.Notification
	)
	err := s.store.Update(func(r store.Repository) error {
		snap, err := load(ctx, r)
		if err != nil {
			return err
		}
		c, err := owned(snap, sess, courseID)
		if err != nil {
			return err
		}
		if i := snap.activeIndex(courseID); i >= 0 {
			if !now.After(deadline(snap.sessions[i], s.settings.LateGrace)) {
				return ErrSessionActive
			}
			snap.sessions[i].IsActive = false
			metrics.Sessions.WithLabelValues("expired").Inc()
		}
		code, err := codegen.New()
		if err != nil {
			return fmt.Errorf("session code: %w", err)
		}
		opened = model.AttendanceSession{
			ID:        uuid.NewString(),
			CourseID:  courseID,
			Code:      code,
			StartTime: now,
			EndTime:   now.Add(duration),
			IsActive:  true,
			Latitude:  in.Latitude,
			Longitude: in.Longitude,
		}
		if err := r.SaveSessions(ctx, append(snap.sessions, opened)); err != nil {
			return err
		}
		for _, studentID := range c.EnrolledStudentIDs {
			notes = append(notes, s.notify.New(studentID, "Attendance Open",
				fmt.Sprintf("Attendance is open for %q.", c.Name),
				model.NotifyInfo, notification.CourseLink(c.ID)))
		}
		return s.notify.Append(ctx, r, notes...)
	})
	if err != nil {
		return model.AttendanceSession{}, err
	}
	metrics.Sessions.WithLabelValues("opened").Inc()
	s.notify.Broadcast(ctx, notes...)
	s.log.Info("attendance session opened", zap.String("session_id", opened.ID), zap.String("course_id", courseID), zap.Time("end", opened.EndTime))
	return opened, nil
}

// Close ends an active session.
func (s *Service) Close(ctx context.Context, sess session.Context, sessionID string) (model.AttendanceSession, error) {
	var closed model.AttendanceSession
	err := s.store.Update(func(r store.Repository) error {
		snap, err := load(ctx, r)
		if err != nil {
			return err
		}
		i := snap.sessionIndex(sessionID)
		if i < 0 {
			return model.ErrNotFound
		}
		if _, err := owned(snap, sess, snap.sessions[i].CourseID); err != nil {
			return err
		}
		if !snap.sessions[i].IsActive {
			return ErrSessionClosed
		}
		// An early close shortens the window. A late one keeps the window
		// that check-ins were held to.
		end := s.now().UTC()
		if end.After(snap.sessions[i].EndTime) {
			end = snap.sessions[i].EndTime
		}
		if end.Before(snap.sessions[i].StartTime) {
			end = snap.sessions[i].StartTime
		}
		snap.sessions[i].EndTime = end
		snap.sessions[i].IsActive = false
		closed = snap.sessions[i]
		return r.SaveSessions(ctx, snap.sessions)
	})
	if err != nil {
		return model.AttendanceSession{}, err
	}
	metrics.Sessions.WithLabelValues("closed").Inc()
	s.log.Info("attendance session closed", zap.String("session_id", closed.ID))
	return closed, nil
}

// CheckIn records the caller's attendance in the course's active session.
func (s *Service) CheckIn(ctx context.Context, sess session.Context, courseID string, in CheckInInput) (model.AttendanceRecord, error) {
	if !sess.IsStudent() {
		return model.AttendanceRecord{}, model.ErrForbidden
	}
	code := strings.TrimSpace(in.Code)
	if err := model.MergeValidation(
		model.ValidateField("code", code, "required"),
		validateLocation(in.Latitude, in.Longitude),
	); err != nil {
		return model.AttendanceRecord{}, err
	}
	now := s.now().UTC()

	var (
		rec   model.AttendanceRecord
		notes []model.Notification
	)
	err := s.store.Update(func(r store.Repository) error {
		snap, err := load(ctx, r)
		if err != nil {
			return err
		}
		c, ok := snap.course(courseID)
		if !ok {
			return model.ErrNotFound
		}
		if !c.IsEnrolled(sess.UserID) {
			return ErrNotEnrolled
		}
		i := snap.activeIndex(courseID)
		if i < 0 {
			return ErrSessionClosed
		}
		active := snap.sessions[i]
		if now.After(deadline(active, s.settings.LateGrace)) {
			return ErrSessionExpired
		}
		if !strings.EqualFold(code, active.Code) {
			return ErrInvalidSessionCode
		}
		if snap.checkedIn(active.ID, sess.UserID) {
			return ErrAlreadyCheckedIn
		}

		rec = model.AttendanceRecord{
			ID:        uuid.NewString(),
			SessionID: active.ID,
			CourseID:  courseID,
			StudentID: sess.UserID,
			Timestamp: now,
			Latitude:  in.Latitude,
			Longitude: in.Longitude,
			SelfieURL: strings.TrimSpace(in.SelfieURL),
		}
		if reason := s.detector.Inspect(active, rec); reason != "" {
			rec.IsProxyFlagged = true
			rec.ProxyReason = reason
			notes = append(notes, s.proxyNote(c, sess.Name, reason))
		}
		if err := r.SaveRecords(ctx, append(snap.records, rec)); err != nil {
			return err
		}
		return s.notify.Append(ctx, r, notes...)
	})
	if err != nil {
		metrics.CheckIns.WithLabelValues(checkInResult(err)).Inc()
		return model.AttendanceRecord{}, err
	}

	if rec.IsProxyFlagged {
		metrics.CheckIns.WithLabelValues("flagged").Inc()
		metrics.ProxyFlags.WithLabelValues(rec.ProxyReason).Inc()
	} else {
		metrics.CheckIns.WithLabelValues("accepted").Inc()
	}
	s.notify.Broadcast(ctx, notes...)
	s.enqueueVerification(ctx, rec)
	s.log.Info("checked in",
		zap.String("record_id", rec.ID),
		zap.String("session_id", rec.SessionID),
		zap.String("student_id", rec.StudentID),
		zap.Bool("proxy", rec.IsProxyFlagged))
	return rec, nil
}

func (s *Service) enqueueVerification(ctx context.Context, rec model.AttendanceRecord) {
	if s.queue == nil || rec.SelfieURL == "" {
		return
	}
	msg, err := queue.NewCheckIn(queue.CheckIn{RecordID: rec.ID, StudentID: rec.StudentID, SelfieURL: rec.SelfieURL})
	if err == nil {
		err = s.queue.Publish(ctx, msg)
	}
	if err != nil {
		s.log.Warn("enqueue selfie verification", zap.String("record_id", rec.ID), zap.Error(err))
	}
}

func checkInResult(err error) string {
	switch {
	case errors.Is(err, ErrInvalidSessionCode):
		return "invalid_code"
	case errors.Is(err, ErrSessionClosed):
		return "closed"
	case errors.Is(err, ErrSessionExpired):
		return "expired"
	case errors.Is(err, ErrAlreadyCheckedIn):
		return "duplicate"
	case errors.Is(err, ErrNotEnrolled):
		return "not_enrolled"
	}
	return "error"
}

func validateLocation(lat, lng *float64) error {
	if (lat == nil) != (lng == nil) {
		return model.NewValidationError(model.FieldError{Field: "location", Error: "latitude and longitude must be given together"})
	}
	if lat == nil {
		return nil
	}
	return model.MergeValidation(
		model.ValidateField("latitude", *lat, "latitude"),
		model.ValidateField("longitude", *lng, "longitude"),
	)
}

func (s *Service) proxyNote(c model.Course, student, reason string) model.Notification {
	if student == "" {
		student = "A student"
	}
	return s.notify.New(c.TeacherID, "Possible Proxy Attendance",
		fmt.Sprintf("%s checked in to %q and was flagged (%s).", student, c.Name, reason),
		model.NotifyWarning, notification.CourseLink(c.ID))
}

// MarkManual records attendance on behalf of an enrolled student. Closed
// sessions are accepted so teachers can fix records afterwards.
func (s *Service) MarkManual(ctx context.Context, sess session.Context, sessionID, studentID string) (model.AttendanceRecord, error) {
	if err := model.ValidateField("studentId", strings.TrimSpace(studentID), "required"); err != nil {
		return model.AttendanceRecord{}, err
	}
	var (
		rec  model.AttendanceRecord
		note model.Notification
	)
	err := s.store.Update(func(r store.Repository) error {
		snap, err := load(ctx, r)
		if err != nil {
			return err
		}
		i := snap.sessionIndex(sessionID)
		if i < 0 {
			return model.ErrNotFound
		}
		c, err := owned(snap, sess, snap.sessions[i].CourseID)
		if err != nil {
			return err
		}
		if !c.IsEnrolled(studentID) {
			return ErrNotEnrolled
		}
		if snap.checkedIn(sessionID, studentID) {
			return ErrAlreadyCheckedIn
		}
		rec = model.AttendanceRecord{
			ID:        uuid.NewString(),
			SessionID: sessionID,
			CourseID:  c.ID,
			StudentID: studentID,
			Timestamp: s.now().UTC(),
			IsManual:  true,
		}
		if err := r.SaveRecords(ctx, append(snap.records, rec)); err != nil {
			return err
		}
		note = s.notify.New(studentID, "Attendance Marked",
			fmt.Sprintf("Your teacher marked you present in %q.", c.Name),
			model.NotifySuccess, notification.CourseLink(c.ID))
		return s.notify.Append(ctx, r, note)
	})
	if err != nil {
		return model.AttendanceRecord{}, err
	}
	metrics.CheckIns.WithLabelValues("manual").Inc()
	s.notify.Broadcast(ctx, note)
	return rec, nil
}

// SetProxyFlag lets the owning teacher override the proxy flag of a record.
func (s *Service) SetProxyFlag(ctx context.Context, sess session.Context, recordID string, flagged bool) (model.AttendanceRecord, error) {
	var updated model.AttendanceRecord
	err := s.store.Update(func(r store.Repository) error {
		snap, err := load(ctx, r)
		if err != nil {
			return err
		}
		i := snap.recordIndex(recordID)
		if i < 0 {
			return model.ErrNotFound
		}
		if _, err := owned(snap, sess, snap.records[i].CourseID); err != nil {
			return err
		}
		snap.records[i].IsProxyFlagged = flagged
		switch {
		case !flagged:
			snap.records[i].ProxyReason = ""
		case snap.records[i].ProxyReason == "":
			snap.records[i].ProxyReason = ReasonTeacher
		}
		updated = snap.records[i]
		return r.SaveRecords(ctx, snap.records)
	})
	if err != nil {
		return model.AttendanceRecord{}, err
	}
	if flagged {
		metrics.ProxyFlags.WithLabelValues(updated.ProxyReason).Inc()
	}
	return updated, nil
}

// FlagProxy marks a record as suspicious on behalf of the system and warns
// the course teacher. Records already flagged keep their first reason.
func (s *Service) FlagProxy(ctx context.Context, recordID, reason string) error {
	var note model.Notification
	err := s.store.Update(func(r store.Repository) error {
		snap, err := load(ctx, r)
		if err != nil {
			return err
		}
		i := snap.recordIndex(recordID)
		if i < 0 {
			return model.ErrNotFound
		}
		if snap.records[i].IsProxyFlagged {
			return nil
		}
		snap.records[i].IsProxyFlagged = true
		snap.records[i].ProxyReason = reason
		if err := r.SaveRecords(ctx, snap.records); err != nil {
			return err
		}
		c, ok := snap.course(snap.records[i].CourseID)
		if !ok {
			return nil
		}
		users, err := r.Users(ctx)
		if err != nil {
			return err
		}
		note = s.proxyNote(c, userName(users, snap.records[i].StudentID), reason)
		return s.notify.Append(ctx, r, note)
	})
	if err != nil {
		return err
	}
	if note.ID != "" {
		metrics.ProxyFlags.WithLabelValues(reason).Inc()
		s.notify.Broadcast(ctx, note)
	}
	return nil
}

// Active returns the course's active session, or ErrSessionClosed.
func (s *Service) Active(ctx context.Context, sess session.Context, courseID string) (model.AttendanceSession, error) {
	snap, err := load(ctx, s.store.Repo())
	if err != nil {
		return model.AttendanceSession{}, err
	}
	c, err := readable(snap, sess, courseID)
	if err != nil {
		return model.AttendanceSession{}, err
	}
	i := snap.activeIndex(courseID)
	if i < 0 || s.expired(snap.sessions[i]) {
		return model.AttendanceSession{}, ErrSessionClosed
	}
	return s.present(c, sess, snap.sessions[i]), nil
}

// ListSessions returns the course's sessions, newest first.
func (s *Service) ListSessions(ctx context.Context, sess session.Context, courseID string) ([]model.AttendanceSession, error) {
	snap, err := load(ctx, s.store.Repo())
	if err != nil {
		return nil, err
	}
	c, err := readable(snap, sess, courseID)
	if err != nil {
		return nil, err
	}
	list := snap.courseSessions(courseID)
	out := make([]model.AttendanceSession, 0, len(list))
	for i := len(list) - 1; i >= 0; i-- {
		out = append(out, s.present(c, sess, list[i]))
	}
	return out, nil
}

// Session returns a single session with its code for the owning teacher.
func (s *Service) Session(ctx context.Context, sess session.Context, sessionID string) (model.AttendanceSession, error) {
	snap, err := load(ctx, s.store.Repo())
	if err != nil {
		return model.AttendanceSession{}, err
	}
	i := snap.sessionIndex(sessionID)
	if i < 0 {
		return model.AttendanceSession{}, model.ErrNotFound
	}
	c, err := owned(snap, sess, snap.sessions[i].CourseID)
	if err != nil {
		return model.AttendanceSession{}, err
	}
	return s.present(c, sess, snap.sessions[i]), nil
}

// Records lists a session's check-ins. Students only see their own.
func (s *Service) Records(ctx context.Context, sess session.Context, sessionID string) ([]model.AttendanceRecord, error) {
	snap, err := load(ctx, s.store.Repo())
	if err != nil {
		return nil, err
	}
	i := snap.sessionIndex(sessionID)
	if i < 0 {
		return nil, model.ErrNotFound
	}
	c, err := readable(snap, sess, snap.sessions[i].CourseID)
	if err != nil {
		return nil, err
	}
	out := make([]model.AttendanceRecord, 0)
	for _, rec := range snap.records {
		if rec.SessionID != sessionID {
			continue
		}
		if c.TeacherID != sess.UserID && rec.StudentID != sess.UserID {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

// DeleteRecord removes a check-in from a course the caller teaches.
func (s *Service) DeleteRecord(ctx context.Context, sess session.Context, recordID string) error {
	return s.store.Update(func(r store.Repository) error {
		snap, err := load(ctx, r)
		if err != nil {
			return err
		}
		i := snap.recordIndex(recordID)
		if i < 0 {
			return model.ErrNotFound
		}
		if _, err := owned(snap, sess, snap.records[i].CourseID); err != nil {
			return err
		}
		return r.SaveRecords(ctx, append(snap.records[:i], snap.records[i+1:]...))
	})
}

// Summary reports per-student attendance for a course the caller teaches.
func (s *Service) Summary(ctx context.Context, sess session.Context, courseID string) (Summary, error) {
	repo := s.store.Repo()
	snap, err := load(ctx, repo)
	if err != nil {
		return Summary{}, err
	}
	c, err := owned(snap, sess, courseID)
	if err != nil {
		return Summary{}, err
	}
	users, err := repo.Users(ctx)
	if err != nil {
		return Summary{}, err
	}

	sessions := snap.courseSessions(courseID)
	inCourse := make(map[string]bool, len(sessions))
	for _, v := range sessions {
		inCourse[v.ID] = true
	}
	attended := make(map[string]map[string]bool)
	for _, rec := range snap.records {
		if !inCourse[rec.SessionID] {
			continue
		}
		if attended[rec.StudentID] == nil {
			attended[rec.StudentID] = make(map[string]bool)
		}
		attended[rec.StudentID][rec.SessionID] = true
	}

	out := Summary{CourseID: courseID, TotalSessions: len(sessions), Students: make([]StudentSummary, 0, len(c.EnrolledStudentIDs))}
	for _, id := range c.EnrolledStudentIDs {
		row := StudentSummary{StudentID: id, Name: userName(users, id), Attended: len(attended[id]), Total: len(sessions)}
		if row.Total > 0 {
			row.Percentage = float64(row.Attended) * 100 / float64(row.Total)
		}
		out.Students = append(out.Students, row)
	}
	return out, nil
}

func owned(snap snapshot, sess session.Context, courseID string) (model.Course, error) {
	c, ok := snap.course(courseID)
	if !ok {
		return model.Course{}, model.ErrNotFound
	}
	if !sess.IsTeacher() || c.TeacherID != sess.UserID {
		return model.Course{}, model.ErrForbidden
	}
	return c, nil
}

func readable(snap snapshot, sess session.Context, courseID string) (model.Course, error) {
	c, ok := snap.course(courseID)
	if !ok {
		return model.Course{}, model.ErrNotFound
	}
	if c.TeacherID == sess.UserID || (sess.IsStudent() && c.IsEnrolled(sess.UserID)) {
		return c, nil
	}
	return model.Course{}, model.ErrNotFound
}

// expired reports whether an active session is past its check-in deadline.
// Such sessions stay active in storage until closed or replaced.
func (s *Service) expired(v model.AttendanceSession) bool {
	return v.IsActive && s.now().After(deadline(v, s.settings.LateGrace))
}

// present shapes a session for the caller: expired sessions read as closed
// and only the owning teacher sees the code.
func (s *Service) present(c model.Course, sess session.Context, v model.AttendanceSession) model.AttendanceSession {
	if s.expired(v) {
		v.IsActive = false
	}
	if c.TeacherID == sess.UserID {
		return v
	}
	return v.WithoutCode()
}

func userName(users []model.User, id string) string {
	for _, u := range users {
		if u.ID == id {
			return u.Name
		}
	}
	return ""
}
