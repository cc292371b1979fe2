// Package course implements the dashboard: listing and creating courses and
// the join-by-code enrollment workflow.
package course

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
	"attendanceportal/internal/session"
	"attendanceportal/internal/store"
)

var (
	ErrInvalidCode      = errors.New("invalid enrollment code")
	ErrAlreadyRequested = errors.New("already requested to join or enrolled in this course")
	ErrNotPending       = errors.New("student has no pending request for this course")
	ErrNotEnrolled      = errors.New("student is not enrolled in this course")
)

// Roster lists the people attached to a course.
type Roster struct {
	Enrolled []model.User `json:"enrolled"`
	Pending  []model.User `json:"pending"`
}

// Service manages courses and enrollment.
type Service struct {
	store  *store.Store
	notify *notification.Service
	log    *zap.Logger
	now    func() time.Time
}

// NewService creates a course service.
func NewService(st *store.Store, notify *notification.Service, log *zap.Logger) *Service {
	return &Service{store: st, notify: notify, log: log, now: time.Now}
}

// ListForUser returns the teacher's own courses, or for a student the courses
// they are enrolled in or waiting on.
func (s *Service) ListForUser(ctx context.Context, sess session.Context) ([]model.Course, error) {
	all, err := s.store.Repo().Courses(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]model.Course, 0)
	for _, c := range all {
		if sess.IsTeacher() && c.TeacherID == sess.UserID {
			out = append(out, c)
		}
		if sess.IsStudent() && c.IsMember(sess.UserID) {
			out = append(out, c)
		}
	}
	return out, nil
}

type createForm struct {
	Name    string `json:"name" validate:"required,max=120"`
	Subject string `json:"subject" validate:"required,max=120"`
}

// Create adds a course owned by the calling teacher.
func (s *Service) Create(ctx context.Context, sess session.Context, name, subject string) (model.Course, error) {
	if !sess.IsTeacher() {
		return model.Course{}, model.ErrForbidden
	}
	form := createForm{Name: strings.TrimSpace(name), Subject: strings.TrimSpace(subject)}
	if err := model.Validate(form); err != nil {
		return model.Course{}, err
	}
	name, subject = form.Name, form.Subject

	c := model.Course{
		ID:                 uuid.NewString(),
		TeacherID:          sess.UserID,
		Name:               name,
		Subject:            subject,
		EnrolledStudentIDs: []string{},
		PendingStudentIDs:  []string{},
		CreatedAt:          s.now().UTC(),
	}
	err := s.store.Update(func(r store.Repository) error {
		all, err := r.Courses(ctx)
		if err != nil {
			return err
		}
		c.EnrollmentCode, err = codegen.Unique(func(code string) bool {
			for _, existing := range all {
				if existing.EnrollmentCode == code {
					return true
				}
			}
			return false
		})
		if err != nil {
			return fmt.Errorf("enrollment code: %w", err)
		}
		return r.SaveCourses(ctx, append(all, c))
	})
	if err != nil {
		return model.Course{}, err
	}
	s.log.Info("course created", zap.String("course_id", c.ID), zap.String("teacher_id", c.TeacherID))
	return c, nil
}

// Get returns a course visible to the caller.
func (s *Service) Get(ctx context.Context, sess session.Context, courseID string) (model.Course, error) {
	all, err := s.store.Repo().Courses(ctx)
	if err != nil {
		return model.Course{}, err
	}
	c, ok := find(all, courseID)
	if !ok || !visible(c, sess) {
		return model.Course{}, model.ErrNotFound
	}
	return c, nil
}

// Owned returns a course only when the caller teaches it.
func (s *Service) Owned(ctx context.Context, sess session.Context, courseID string) (model.Course, error) {
	c, err := s.Get(ctx, sess, courseID)
	if err != nil {
		return model.Course{}, err
	}
	if c.TeacherID != sess.UserID {
		return model.Course{}, model.ErrForbidden
	}
	return c, nil
}

// Join files a request to join the course with the given enrollment code.
func (s *Service) Join(ctx context.Context, sess session.Context, code string) (model.Course, error) {
	if !sess.IsStudent() {
		return model.Course{}, model.ErrForbidden
	}
	code = strings.ToUpper(strings.TrimSpace(code))
	if err := model.ValidateField("code", code, "required"); err != nil {
		return model.Course{}, err
	}

	var (
		joined model.Course
		note   model.Notification
	)
	err := s.store.Update(func(r store.Repository) error {
		all, err := r.Courses(ctx)
		if err != nil {
			return err
		}
		idx := -1
		for i := range all {
			if all[i].EnrollmentCode == code {
				idx = i
				break
			}
		}
		if idx < 0 {
			return ErrInvalidCode
		}
		if all[idx].IsMember(sess.UserID) {
			return ErrAlreadyRequested
		}
		all[idx].PendingStudentIDs = append(all[idx].PendingStudentIDs, sess.UserID)
		joined = all[idx]
		if err := r.SaveCourses(ctx, all); err != nil {
			return err
		}
		users, err := r.Users(ctx)
		if err != nil {
			return err
		}
		name := sess.Name
		if u, ok := findUser(users, sess.UserID); ok {
			name = u.Name
		}
		note = s.notify.New(joined.TeacherID, "New Enrollment Request",
			fmt.Sprintf("%s has requested to join %q.", name, joined.Name),
			model.NotifyInfo, notification.CourseLink(joined.ID))
		return s.notify.Append(ctx, r, note)
	})
	switch {
	case errors.Is(err, ErrInvalidCode):
		metrics.JoinRequests.WithLabelValues("invalid_code").Inc()
		return model.Course{}, err
	case errors.Is(err, ErrAlreadyRequested):
		metrics.JoinRequests.WithLabelValues("already_requested").Inc()
		return model.Course{}, err
	case err != nil:
		return model.Course{}, err
	}
	metrics.JoinRequests.WithLabelValues("accepted").Inc()
	s.notify.Broadcast(ctx, note)
	s.log.Info("join requested", zap.String("course_id", joined.ID), zap.String("student_id", sess.UserID))
	return joined, nil
}

// Approve moves a student from pending to enrolled.
func (s *Service) Approve(ctx context.Context, sess session.Context, courseID, studentID string) (model.Course, error) {
	c, err := s.decide(ctx, sess, courseID, func(c *model.Course) (model.Notification, error) {
		if !c.IsPending(studentID) {
			return model.Notification{}, ErrNotPending
		}
		c.PendingStudentIDs = model.Without(c.PendingStudentIDs, studentID)
		if !c.IsEnrolled(studentID) {
			c.EnrolledStudentIDs = append(c.EnrolledStudentIDs, studentID)
		}
		return s.notify.New(studentID, "Enrollment Approved",
			fmt.Sprintf("You have been enrolled in %q.", c.Name),
			model.NotifySuccess, notification.CourseLink(c.ID)), nil
	})
	if err == nil {
		metrics.Enrollments.WithLabelValues("approved").Inc()
	}
	return c, err
}

// Reject drops a pending request.
func (s *Service) Reject(ctx context.Context, sess session.Context, courseID, studentID string) (model.Course, error) {
	c, err := s.decide(ctx, sess, courseID, func(c *model.Course) (model.Notification, error) {
		if !c.IsPending(studentID) {
			return model.Notification{}, ErrNotPending
		}
		c.PendingStudentIDs = model.Without(c.PendingStudentIDs, studentID)
		return s.notify.New(studentID, "Enrollment Declined",
			fmt.Sprintf("Your request to join %q was declined.", c.Name),
			model.NotifyWarning, ""), nil
	})
	if err == nil {
		metrics.Enrollments.WithLabelValues("rejected").Inc()
	}
	return c, err
}

// RemoveStudent unenrolls an approved student.
func (s *Service) RemoveStudent(ctx context.Context, sess session.Context, courseID, studentID string) (model.Course, error) {
	c, err := s.decide(ctx, sess, courseID, func(c *model.Course) (model.Notification, error) {
		if !c.IsEnrolled(studentID) {
			return model.Notification{}, ErrNotEnrolled
		}
		c.EnrolledStudentIDs = model.Without(c.EnrolledStudentIDs, studentID)
		return s.notify.New(studentID, "Removed From Course",
			fmt.Sprintf("You are no longer enrolled in %q.", c.Name),
			model.NotifyWarning, ""), nil
	})
	if err == nil {
		metrics.Enrollments.WithLabelValues("removed").Inc()
	}
	return c, err
}

func (s *Service) decide(ctx context.Context, sess session.Context, courseID string, fn func(c *model.Course) (model.Notification, error)) (model.Course, error) {
	if !sess.IsTeacher() {
		return model.Course{}, model.ErrForbidden
	}
	var (
		updated model.Course
		note    model.Notification
	)
	err := s.store.Update(func(r store.Repository) error {
		all, err := r.Courses(ctx)
		if err != nil {
			return err
		}
		for i := range all {
			if all[i].ID != courseID {
				continue
			}
			if all[i].TeacherID != sess.UserID {
				return model.ErrForbidden
			}
			if note, err = fn(&all[i]); err != nil {
				return err
			}
			updated = all[i]
			if err := r.SaveCourses(ctx, all); err != nil {
				return err
			}
			return s.notify.Append(ctx, r, note)
		}
		return model.ErrNotFound
	})
	if err != nil {
		return model.Course{}, err
	}
	s.notify.Broadcast(ctx, note)
	return updated, nil
}

// Roster resolves the enrolled and pending students of a course the caller teaches.
func (s *Service) Roster(ctx context.Context, sess session.Context, courseID string) (Roster, error) {
	c, err := s.Owned(ctx, sess, courseID)
	if err != nil {
		return Roster{}, err
	}
	users, err := s.store.Repo().Users(ctx)
	if err != nil {
		return Roster{}, err
	}
	byID := make(map[string]model.User, len(users))
	for _, u := range users {
		byID[u.ID] = u.Public()
	}
	resolve := func(ids []string) []model.User {
		out := make([]model.User, 0, len(ids))
		for _, id := range ids {
			if u, ok := byID[id]; ok {
				out = append(out, u)
			} else {
				out = append(out, model.User{ID: id, Role: model.RoleStudent})
			}
		}
		return out
	}
	return Roster{Enrolled: resolve(c.EnrolledStudentIDs), Pending: resolve(c.PendingStudentIDs)}, nil
}

// Delete removes a course the caller teaches. Sessions, records and lecture
// content are left in place.
func (s *Service) Delete(ctx context.Context, sess session.Context, courseID string) error {
	return s.store.Update(func(r store.Repository) error {
		all, err := r.Courses(ctx)
		if err != nil {
			return err
		}
		for i := range all {
			if all[i].ID != courseID {
				continue
			}
			if all[i].TeacherID != sess.UserID {
				return model.ErrForbidden
			}
			return r.SaveCourses(ctx, append(all[:i], all[i+1:]...))
		}
		return model.ErrNotFound
	})
}

func find(all []model.Course, id string) (model.Course, bool) {
	for _, c := range all {
		if c.ID == id {
			return c, true
		}
	}
	return model.Course{}, false
}

func findUser(users []model.User, id string) (model.User, bool) {
	for _, u := range users {
		if u.ID == id {
			return u, true
		}
	}
	return model.User{}, false
}

func visible(c model.Course, sess session.Context) bool {
	if c.TeacherID == sess.UserID {
		return true
	}
	return sess.IsStudent() && c.IsMember(sess.UserID)
}
