// Package profile lets users edit their own account.
package profile

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"go.uber.org/zap"

	"attendanceportal/internal/auth"
	"attendanceportal/internal/cloudinary"
	"attendanceportal/internal/faceclient"
	"attendanceportal/internal/model"
	"attendanceportal/internal/session"
	"attendanceportal/internal/store"
)

var (
	ErrWrongPassword     = errors.New("current password is incorrect")
	ErrUploadUnavailable = errors.New("media storage is not configured")
)

// Uploader stores avatar images.
type Uploader interface {
	Upload(ctx context.Context, r io.Reader, filename, resourceType string) (*cloudinary.UploadResult, error)
}

// FaceEnroller registers a reference face used to verify check-in selfies.
type FaceEnroller interface {
	Enroll(ctx context.Context, userID, imageURL, name string) (*faceclient.EnrollResult, error)
}

// UpdateInput holds the fields to change. Nil fields are left alone.
type UpdateInput struct {
	Name       *string `json:"name" validate:"omitnil,min=1,max=100"`
	FatherName *string `json:"fatherName" validate:"omitnil,max=100"`
	Avatar     *string `json:"avatar" validate:"omitnil,omitempty,url"`
	ThemeColor *string `json:"themeColor" validate:"omitnil,themecolor"`
}

func trimmed(v *string) *string {
	if v == nil {
		return nil
	}
	t := strings.TrimSpace(*v)
	return &t
}

// Service edits user profiles.
type Service struct {
	store    *store.Store
	uploader Uploader
	faces    FaceEnroller
	log      *zap.Logger
}

// NewService creates a profile service. uploader and faces may be nil.
func NewService(st *store.Store, uploader Uploader, faces FaceEnroller, log *zap.Logger) *Service {
	return &Service{store: st, uploader: uploader, faces: faces, log: log}
}

// Get returns the caller's profile.
func (s *Service) Get(ctx context.Context, sess session.Context) (model.User, error) {
	users, err := s.store.Repo().Users(ctx)
	if err != nil {
		return model.User{}, err
	}
	for _, u := range users {
		if u.ID == sess.UserID {
			return u.Public(), nil
		}
	}
	return model.User{}, model.ErrNotFound
}

// Update applies the provided fields to the caller's profile.
func (s *Service) Update(ctx context.Context, sess session.Context, in UpdateInput) (model.User, error) {
	in = UpdateInput{
		Name:       trimmed(in.Name),
		FatherName: trimmed(in.FatherName),
		Avatar:     trimmed(in.Avatar),
		ThemeColor: trimmed(in.ThemeColor),
	}
	if err := model.Validate(in); err != nil {
		return model.User{}, err
	}
	return s.modify(ctx, sess, func(u *model.User) error {
		if in.Name != nil {
			u.Name = *in.Name
		}
		if in.FatherName != nil {
			u.FatherName = *in.FatherName
		}
		if in.Avatar != nil {
			u.Avatar = *in.Avatar
		}
		if in.ThemeColor != nil {
			u.ThemeColor = strings.ToLower(*in.ThemeColor)
		}
		return nil
	})
}

// ChangePassword replaces the caller's password. Accounts without a password
// may set one without giving the old one.
func (s *Service) ChangePassword(ctx context.Context, sess session.Context, current, next string) error {
	if err := model.ValidateField("newPassword", next, "required,max=72"); err != nil {
		return err
	}
	hash, err := auth.HashPassword(next)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	_, err = s.modify(ctx, sess, func(u *model.User) error {
		if u.PasswordHash != "" && !auth.CheckPassword(u.PasswordHash, current) {
			return ErrWrongPassword
		}
		u.PasswordHash = hash
		return nil
	})
	if err == nil {
		s.log.Info("password changed", zap.String("user_id", sess.UserID))
	}
	return err
}

// UploadAvatar stores an image as the caller's avatar and enrolls it as their
// reference face.
func (s *Service) UploadAvatar(ctx context.Context, sess session.Context, filename string, r io.Reader) (model.User, error) {
	if s.uploader == nil {
		return model.User{}, ErrUploadUnavailable
	}
	res, err := s.uploader.Upload(ctx, r, filename, cloudinary.ResourceImage)
	if err != nil {
		return model.User{}, fmt.Errorf("upload avatar: %w", err)
	}
	u, err := s.modify(ctx, sess, func(u *model.User) error {
		u.Avatar = res.SecureURL
		return nil
	})
	if err != nil {
		return model.User{}, err
	}
	if s.faces != nil {
		enrolled, err := s.faces.Enroll(ctx, u.ID, u.Avatar, u.Name)
		switch {
		case err != nil:
			s.log.Warn("face enrollment failed", zap.String("user_id", u.ID), zap.Error(err))
		case !enrolled.Success:
			s.log.Warn("face enrollment rejected", zap.String("user_id", u.ID), zap.String("message", enrolled.Message))
		}
	}
	return u, nil
}

func (s *Service) modify(ctx context.Context, sess session.Context, fn func(u *model.User) error) (model.User, error) {
	var updated model.User
	err := s.store.Update(func(r store.Repository) error {
		users, err := r.Users(ctx)
		if err != nil {
			return err
		}
		for i := range users {
			if users[i].ID != sess.UserID {
				continue
			}
			if err := fn(&users[i]); err != nil {
				return err
			}
			updated = users[i]
			if err := r.SaveUsers(ctx, users); err != nil {
				return err
			}
			current, err := r.AuthUser(ctx)
			if err != nil {
				return err
			}
			if current != nil && current.ID == updated.ID {
				return r.SetAuthUser(ctx, &updated)
			}
			return nil
		}
		return model.ErrNotFound
	})
	if err != nil {
		return model.User{}, err
	}
	return updated.Public(), nil
}
