package notification

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"attendanceportal/internal/model"
	"attendanceportal/internal/session"
	"attendanceportal/internal/store"
)

// Service stores notifications and pushes them to connected users.
type Service struct {
	store *store.Store
	pub   Publisher
	log   *zap.Logger
	now   func() time.Time
}

// NewService creates a notification service. pub may be nil.
func NewService(st *store.Store, pub Publisher, log *zap.Logger) *Service {
	return &Service{store: st, pub: pub, log: log, now: time.Now}
}

// New builds a notification addressed to userID.
func (s *Service) New(userID, title, message string, typ model.NotificationType, link string) model.Notification {
	return model.Notification{
		ID:        uuid.NewString(),
		UserID:    userID,
		Title:     title,
		Message:   message,
		Type:      typ,
		Timestamp: s.now().UTC(),
		Link:      link,
	}
}

// Append persists notes through r. Call it inside a store update and
// Broadcast the same notes once the update succeeded.
func (s *Service) Append(ctx context.Context, r store.Repository, notes ...model.Notification) error {
	if len(notes) == 0 {
		return nil
	}
	all, err := r.Notifications(ctx)
	if err != nil {
		return err
	}
	return r.SaveNotifications(ctx, append(all, notes...))
}

// Broadcast pushes notes and the recipients' unread counts.
func (s *Service) Broadcast(ctx context.Context, notes ...model.Notification) {
	if s.pub == nil || len(notes) == 0 {
		return
	}
	all, err := s.store.Repo().Notifications(ctx)
	if err != nil {
		s.log.Warn("load notifications for broadcast", zap.Error(err))
		return
	}
	for i := range notes {
		n := notes[i]
		s.pub.Publish(n.UserID, Event{Type: EventNotification, Notification: &n, Unread: unread(all, n.UserID)})
	}
}

// Notify stores a single notification and pushes it.
func (s *Service) Notify(ctx context.Context, userID, title, message string, typ model.NotificationType, link string) (model.Notification, error) {
	n := s.New(userID, title, message, typ, link)
	if err := s.store.Update(func(r store.Repository) error {
		return s.Append(ctx, r, n)
	}); err != nil {
		return model.Notification{}, err
	}
	s.Broadcast(ctx, n)
	return n, nil
}

// List returns the caller's notifications, newest first.
func (s *Service) List(ctx context.Context, sess session.Context) ([]model.Notification, error) {
	all, err := s.store.Repo().Notifications(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]model.Notification, 0)
	for _, n := range all {
		if n.UserID == sess.UserID {
			out = append(out, n)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	return out, nil
}

// UnreadCount returns how many of the caller's notifications are unread.
func (s *Service) UnreadCount(ctx context.Context, sess session.Context) (int, error) {
	all, err := s.store.Repo().Notifications(ctx)
	if err != nil {
		return 0, err
	}
	return unread(all, sess.UserID), nil
}

// MarkRead marks one of the caller's notifications as read.
func (s *Service) MarkRead(ctx context.Context, sess session.Context, id string) error {
	return s.mutate(ctx, sess, func(all []model.Notification) ([]model.Notification, error) {
		for i := range all {
			if all[i].ID == id && all[i].UserID == sess.UserID {
				all[i].IsRead = true
				return all, nil
			}
		}
		return nil, model.ErrNotFound
	})
}

// MarkAllRead marks every notification of the caller as read.
func (s *Service) MarkAllRead(ctx context.Context, sess session.Context) error {
	return s.mutate(ctx, sess, func(all []model.Notification) ([]model.Notification, error) {
		for i := range all {
			if all[i].UserID == sess.UserID {
				all[i].IsRead = true
			}
		}
		return all, nil
	})
}

// Delete removes one of the caller's notifications.
func (s *Service) Delete(ctx context.Context, sess session.Context, id string) error {
	return s.mutate(ctx, sess, func(all []model.Notification) ([]model.Notification, error) {
		for i := range all {
			if all[i].ID == id && all[i].UserID == sess.UserID {
				return append(all[:i], all[i+1:]...), nil
			}
		}
		return nil, model.ErrNotFound
	})
}

// Clear removes every notification of the caller.
func (s *Service) Clear(ctx context.Context, sess session.Context) error {
	return s.mutate(ctx, sess, func(all []model.Notification) ([]model.Notification, error) {
		out := all[:0]
		for _, n := range all {
			if n.UserID != sess.UserID {
				out = append(out, n)
			}
		}
		return out, nil
	})
}

func (s *Service) mutate(ctx context.Context, sess session.Context, fn func([]model.Notification) ([]model.Notification, error)) error {
	var count int
	err := s.store.Update(func(r store.Repository) error {
		all, err := r.Notifications(ctx)
		if err != nil {
			return err
		}
		all, err = fn(all)
		if err != nil {
			return err
		}
		count = unread(all, sess.UserID)
		return r.SaveNotifications(ctx, all)
	})
	if err != nil {
		return err
	}
	if s.pub != nil {
		s.pub.Publish(sess.UserID, Event{Type: EventBadge, Unread: count})
	}
	return nil
}

func unread(all []model.Notification, userID string) int {
	n := 0
	for _, v := range all {
		if v.UserID == userID && !v.IsRead {
			n++
		}
	}
	return n
}

// CourseLink is the client route of a course page.
func CourseLink(courseID string) string {
	return "/course/" + courseID
}
