package store

import (
	"context"
	"encoding/json"
	"fmt"

	"attendanceportal/internal/model"
)

// Keys of the persisted collections. Each holds a JSON array, except
// KeyAuthUser which holds a single user object.
const (
	KeyUsers         = "users"
	KeyCourses       = "courses"
	KeyLectures      = "lectures"
	KeySessions      = "attendance_sessions"
	KeyRecords       = "attendance_records"
	KeyNotifications = "notifications"
	KeyAuthUser      = "auth_user"
)

// Repository reads and writes whole entity collections. Implementations make
// each save atomic on its own; nothing spans collections.
type Repository interface {
	Users(ctx context.Context) ([]model.User, error)
	SaveUsers(ctx context.Context, users []model.User) error
	Courses(ctx context.Context) ([]model.Course, error)
	SaveCourses(ctx context.Context, courses []model.Course) error
	Lectures(ctx context.Context) ([]model.LectureContent, error)
	SaveLectures(ctx context.Context, lectures []model.LectureContent) error
	Sessions(ctx context.Context) ([]model.AttendanceSession, error)
	SaveSessions(ctx context.Context, sessions []model.AttendanceSession) error
	Records(ctx context.Context) ([]model.AttendanceRecord, error)
	SaveRecords(ctx context.Context, records []model.AttendanceRecord) error
	Notifications(ctx context.Context) ([]model.Notification, error)
	SaveNotifications(ctx context.Context, notifications []model.Notification) error

	// AuthUser returns the current-auth-user pointer, nil when unset.
	AuthUser(ctx context.Context) (*model.User, error)
	// SetAuthUser replaces the pointer; nil clears it.
	SetAuthUser(ctx context.Context, u *model.User) error
}

// kv is the byte-level backend every Repository implementation sits on.
// get returns nil, nil for a missing key.
type kv interface {
	get(ctx context.Context, key string) ([]byte, error)
	set(ctx context.Context, key string, value []byte) error
	del(ctx context.Context, key string) error
}

// collections implements Repository on top of a kv backend.
type collections struct {
	kv kv
}

func load[T any](ctx context.Context, b kv, key string) ([]T, error) {
	raw, err := b.get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("store: read %s: %w", key, err)
	}
	if len(raw) == 0 {
		return []T{}, nil
	}
	var out []T
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("store: decode %s: %w", key, err)
	}
	if out == nil {
		out = []T{}
	}
	return out, nil
}

func save[T any](ctx context.Context, b kv, key string, items []T) error {
	if items == nil {
		items = []T{}
	}
	raw, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("store: encode %s: %w", key, err)
	}
	if err := b.set(ctx, key, raw); err != nil {
		return fmt.Errorf("store: write %s: %w", key, err)
	}
	return nil
}

func (c *collections) Users(ctx context.Context) ([]model.User, error) {
	return load[model.User](ctx, c.kv, KeyUsers)
}

func (c *collections) SaveUsers(ctx context.Context, users []model.User) error {
	return save(ctx, c.kv, KeyUsers, users)
}

func (c *collections) Courses(ctx context.Context) ([]model.Course, error) {
	courses, err := load[model.Course](ctx, c.kv, KeyCourses)
	if err != nil {
		return nil, err
	}
	for i := range courses {
		courses[i].Normalize()
	}
	return courses, nil
}

func (c *collections) SaveCourses(ctx context.Context, courses []model.Course) error {
	return save(ctx, c.kv, KeyCourses, courses)
}

func (c *collections) Lectures(ctx context.Context) ([]model.LectureContent, error) {
	return load[model.LectureContent](ctx, c.kv, KeyLectures)
}

func (c *collections) SaveLectures(ctx context.Context, lectures []model.LectureContent) error {
	return save(ctx, c.kv, KeyLectures, lectures)
}

func (c *collections) Sessions(ctx context.Context) ([]model.AttendanceSession, error) {
	return load[model.AttendanceSession](ctx, c.kv, KeySessions)
}

func (c *collections) SaveSessions(ctx context.Context, sessions []model.AttendanceSession) error {
	return save(ctx, c.kv, KeySessions, sessions)
}

func (c *collections) Records(ctx context.Context) ([]model.AttendanceRecord, error) {
	return load[model.AttendanceRecord](ctx, c.kv, KeyRecords)
}

func (c *collections) SaveRecords(ctx context.Context, records []model.AttendanceRecord) error {
	return save(ctx, c.kv, KeyRecords, records)
}

func (c *collections) Notifications(ctx context.Context) ([]model.Notification, error) {
	return load[model.Notification](ctx, c.kv, KeyNotifications)
}

func (c *collections) SaveNotifications(ctx context.Context, notifications []model.Notification) error {
	return save(ctx, c.kv, KeyNotifications, notifications)
}

func (c *collections) AuthUser(ctx context.Context) (*model.User, error) {
	raw, err := c.kv.get(ctx, KeyAuthUser)
	if err != nil {
		return nil, fmt.Errorf("store: read %s: %w", KeyAuthUser, err)
	}
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var u model.User
	if err := json.Unmarshal(raw, &u); err != nil {
		return nil, fmt.Errorf("store: decode %s: %w", KeyAuthUser, err)
	}
	return &u, nil
}

func (c *collections) SetAuthUser(ctx context.Context, u *model.User) error {
	if u == nil {
		if err := c.kv.del(ctx, KeyAuthUser); err != nil {
			return fmt.Errorf("store: clear %s: %w", KeyAuthUser, err)
		}
		return nil
	}
	raw, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("store: encode %s: %w", KeyAuthUser, err)
	}
	if err := c.kv.set(ctx, KeyAuthUser, raw); err != nil {
		return fmt.Errorf("store: write %s: %w", KeyAuthUser, err)
	}
	return nil
}
