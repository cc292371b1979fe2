// Package lecture stores course material posted by teachers.
package lecture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"attendanceportal/internal/cloudinary"
	"attendanceportal/internal/model"
	"attendanceportal/internal/notification"
	"attendanceportal/internal/session"
	"attendanceportal/internal/store"
)

// ErrUploadUnavailable is returned when no media storage is configured.
var ErrUploadUnavailable = errors.New("media storage is not configured")

// Uploader stores binary payloads and returns their public URL.
type Uploader interface {
	Upload(ctx context.Context, r io.Reader, filename, resourceType string) (*cloudinary.UploadResult, error)
}

// Input is the form for a new piece of content.
type Input struct {
	Title string            `json:"title" validate:"required,max=200"`
	Type  model.ContentType `json:"type" validate:"required,oneof=note file link video voice"`
	Data  string            `json:"data"`
}

// Service manages lecture content.
type Service struct {
	store    *store.Store
	notify   *notification.Service
	uploader Uploader
	log      *zap.Logger
	now      func() time.Time
}

// NewService creates a lecture service. uploader may be nil.
func NewService(st *store.Store, notify *notification.Service, uploader Uploader, log *zap.Logger) *Service {
	return &Service{store: st, notify: notify, uploader: uploader, log: log, now: time.Now}
}

// validate trims in and checks it. Uploads fill Data themselves.
func validate(in *Input, needData bool) error {
	in.Title = strings.TrimSpace(in.Title)
	err := model.Validate(*in)
	if needData {
		err = model.MergeValidation(err, model.ValidateField("data", strings.TrimSpace(in.Data), "required"))
	}
	return err
}

// Add posts content to a course the caller teaches and notifies enrolled
// students.
func (s *Service) Add(ctx context.Context, sess session.Context, courseID string, in Input) (model.LectureContent, error) {
	if err := validate(&in, true); err != nil {
		return model.LectureContent{}, err
	}
	return s.add(ctx, sess, courseID, in)
}

// Upload stores a media payload and posts it as content.
func (s *Service) Upload(ctx context.Context, sess session.Context, courseID string, in Input, filename string, r io.Reader) (model.LectureContent, error) {
	if err := validate(&in, false); err != nil {
		return model.LectureContent{}, err
	}
	if !in.Type.Uploadable() {
		return model.LectureContent{}, model.NewValidationError(model.FieldError{Field: "type", Error: "only file, video and voice content can be uploaded"})
	}
	if s.uploader == nil {
		return model.LectureContent{}, ErrUploadUnavailable
	}
	if _, err := s.owned(ctx, sess, courseID); err != nil {
		return model.LectureContent{}, err
	}
	res, err := s.uploader.Upload(ctx, r, filename, resourceType(in.Type))
	if err != nil {
		return model.LectureContent{}, fmt.Errorf("upload %s: %w", filename, err)
	}
	in.Data = res.SecureURL
	return s.add(ctx, sess, courseID, in)
}

func resourceType(t model.ContentType) string {
	switch t {
	case model.ContentVideo, model.ContentVoice:
		return cloudinary.ResourceVideo
	}
	return cloudinary.ResourceAuto
}

func (s *Service) add(ctx context.Context, sess session.Context, courseID string, in Input) (model.LectureContent, error) {
	content := model.LectureContent{
		ID:        uuid.NewString(),
		CourseID:  courseID,
		Title:     strings.TrimSpace(in.Title),
		Type:      in.Type,
		Data:      strings.TrimSpace(in.Data),
		CreatedAt: s.now().UTC(),
	}
	var notes []model.Notification
	err := s.store.Update(func(r store.Repository) error {
		courses, err := r.Courses(ctx)
		if err != nil {
			return err
		}
		c, err := ownedIn(courses, sess, courseID)
		if err != nil {
			return err
		}
		all, err := r.Lectures(ctx)
		if err != nil {
			return err
		}
		if err := r.SaveLectures(ctx, append(all, content)); err != nil {
			return err
		}
		for _, studentID := range c.EnrolledStudentIDs {
			notes = append(notes, s.notify.New(studentID, "New Lecture Content",
				fmt.Sprintf("%q was added to %q.", content.Title, c.Name),
				model.NotifyInfo, notification.CourseLink(c.ID)))
		}
		return s.notify.Append(ctx, r, notes...)
	})
	if err != nil {
		return model.LectureContent{}, err
	}
	s.notify.Broadcast(ctx, notes...)
	s.log.Info("lecture content added", zap.String("content_id", content.ID), zap.String("course_id", courseID), zap.String("type", string(content.Type)))
	return content, nil
}

// List returns a course's content, newest first, to its teacher or enrolled
// students.
func (s *Service) List(ctx context.Context, sess session.Context, courseID string) ([]model.LectureContent, error) {
	repo := s.store.Repo()
	courses, err := repo.Courses(ctx)
	if err != nil {
		return nil, err
	}
	var found bool
	for _, c := range courses {
		if c.ID == courseID && (c.TeacherID == sess.UserID || c.IsEnrolled(sess.UserID)) {
			found = true
			break
		}
	}
	if !found {
		return nil, model.ErrNotFound
	}
	all, err := repo.Lectures(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]model.LectureContent, 0)
	for _, l := range all {
		if l.CourseID == courseID {
			out = append(out, l)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// Delete removes content from a course the caller teaches.
func (s *Service) Delete(ctx context.Context, sess session.Context, contentID string) error {
	return s.store.Update(func(r store.Repository) error {
		all, err := r.Lectures(ctx)
		if err != nil {
			return err
		}
		courses, err := r.Courses(ctx)
		if err != nil {
			return err
		}
		for i := range all {
			if all[i].ID != contentID {
				continue
			}
			if _, err := ownedIn(courses, sess, all[i].CourseID); err != nil {
				return err
			}
			return r.SaveLectures(ctx, append(all[:i], all[i+1:]...))
		}
		return model.ErrNotFound
	})
}

func (s *Service) owned(ctx context.Context, sess session.Context, courseID string) (model.Course, error) {
	courses, err := s.store.Repo().Courses(ctx)
	if err != nil {
		return model.Course{}, err
	}
	return ownedIn(courses, sess, courseID)
}

func ownedIn(courses []model.Course, sess session.Context, courseID string) (model.Course, error) {
	for _, c := range courses {
		if c.ID != courseID {
			continue
		}
		if !sess.IsTeacher() || c.TeacherID != sess.UserID {
			return model.Course{}, model.ErrForbidden
		}
		return c, nil
	}
	return model.Course{}, model.ErrNotFound
}
