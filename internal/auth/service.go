package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"attendanceportal/internal/model"
	"attendanceportal/internal/session"
	"attendanceportal/internal/store"
)

var (
	ErrEmailTaken         = errors.New("a user with this email already exists")
	ErrInvalidCredentials = errors.New("invalid email or password")
)

// RegisterInput is the registration form.
type RegisterInput struct {
	Name       string     `json:"name" validate:"required,max=100"`
	Email      string     `json:"email" validate:"required,email"`
	Password   string     `json:"password" validate:"required,max=72"`
	Role       model.Role `json:"role" validate:"required,oneof=TEACHER STUDENT"`
	FatherName string     `json:"fatherName" validate:"max=100"`
}

// LoginInput is the sign-in form.
type LoginInput struct {
	Email    string `json:"email" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// Result is returned by every successful authentication.
type Result struct {
	User   model.User `json:"user"`
	Tokens TokenPair  `json:"tokens"`
}

// Service validates credentials against the stored user list.
type Service struct {
	store  *store.Store
	tokens *Issuer
	log    *zap.Logger
	now    func() time.Time
}

// NewService creates an auth service.
func NewService(st *store.Store, tokens *Issuer, log *zap.Logger) *Service {
	return &Service{store: st, tokens: tokens, log: log, now: time.Now}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Register creates an account and signs the new user in.
func (s *Service) Register(ctx context.Context, in RegisterInput) (Result, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Email = strings.TrimSpace(in.Email)
	in.FatherName = strings.TrimSpace(in.FatherName)
	if err := model.Validate(in); err != nil {
		return Result{}, err
	}
	hash, err := HashPassword(in.Password)
	if err != nil {
		return Result{}, fmt.Errorf("hash password: %w", err)
	}

	u := model.User{
		ID:           uuid.NewString(),
		Name:         in.Name,
		Email:        normalizeEmail(in.Email),
		PasswordHash: hash,
		Role:         in.Role,
		FatherName:   in.FatherName,
		ThemeColor:   model.DefaultThemeColor,
		CreatedAt:    s.now().UTC(),
	}

	err = s.store.Update(func(r store.Repository) error {
		users, err := r.Users(ctx)
		if err != nil {
			return err
		}
		for _, existing := range users {
			if normalizeEmail(existing.Email) == u.Email {
				return ErrEmailTaken
			}
		}
		if err := r.SaveUsers(ctx, append(users, u)); err != nil {
			return err
		}
		return r.SetAuthUser(ctx, &u)
	})
	if err != nil {
		return Result{}, err
	}

	s.log.Info("user registered", zap.String("user_id", u.ID), zap.String("role", string(u.Role)))
	return s.issue(u)
}

// Login checks email and password and signs the user in.
func (s *Service) Login(ctx context.Context, email, password string) (Result, error) {
	if err := model.Validate(LoginInput{Email: strings.TrimSpace(email), Password: password}); err != nil {
		return Result{}, err
	}
	users, err := s.store.Repo().Users(ctx)
	if err != nil {
		return Result{}, err
	}
	email = normalizeEmail(email)
	var found *model.User
	for i := range users {
		if normalizeEmail(users[i].Email) == email {
			found = &users[i]
			break
		}
	}
	if found == nil || !CheckPassword(found.PasswordHash, password) {
		return Result{}, ErrInvalidCredentials
	}
	if err := s.store.Repo().SetAuthUser(ctx, found); err != nil {
		return Result{}, err
	}
	return s.issue(*found)
}

// Refresh exchanges a refresh token for a new pair.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (Result, error) {
	claims, err := s.tokens.Parse(refreshToken, TokenRefresh)
	if err != nil {
		return Result{}, err
	}
	u, err := s.Me(ctx, session.Context{UserID: claims.Subject, Role: claims.Role})
	if errors.Is(err, model.ErrNotFound) {
		return Result{}, ErrInvalidToken
	}
	if err != nil {
		return Result{}, err
	}
	return s.issue(u)
}

// Logout clears the auth pointer when it names the caller.
func (s *Service) Logout(ctx context.Context, sess session.Context) error {
	return s.store.Update(func(r store.Repository) error {
		current, err := r.AuthUser(ctx)
		if err != nil {
			return err
		}
		if current == nil || current.ID != sess.UserID {
			return nil
		}
		return r.SetAuthUser(ctx, nil)
	})
}

// Me returns the caller's stored profile.
func (s *Service) Me(ctx context.Context, sess session.Context) (model.User, error) {
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

func (s *Service) issue(u model.User) (Result, error) {
	tokens, err := s.tokens.Issue(u)
	if err != nil {
		return Result{}, fmt.Errorf("issue tokens: %w", err)
	}
	return Result{User: u.Public(), Tokens: tokens}, nil
}
