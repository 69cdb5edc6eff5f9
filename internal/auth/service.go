package auth

import (
	"context"
	"errors"
	"strings"

	"github.com/lgu-emis/emis-web/internal/emisapi"
)

var (
	// ErrEmailTaken is returned when registering an email that already exists.
	ErrEmailTaken = errors.New("auth: email already registered")
	// ErrIncompleteLogin is returned when the API answers a login without a
	// token or user id.
	ErrIncompleteLogin = errors.New("auth: login response missing token or user")
)

// API is the subset of the EMIS client used by the auth pages.
type API interface {
	Login(ctx context.Context, email, password string) (emisapi.LoginResult, error)
	Register(ctx context.Context, email, password string) (*emisapi.User, error)
	CheckEmail(ctx context.Context, email string) (bool, error)
}

// Service wraps the login and registration flows.
type Service struct {
	api  API
	repo Repository
}

// NewService constructs a new Service. A nil repo records nothing.
func NewService(api API, repo Repository) *Service {
	if repo == nil {
		repo = NopRepository{}
	}
	return &Service{api: api, repo: repo}
}

// Login exchanges credentials for a token and user record.
func (s *Service) Login(ctx context.Context, email, password string) (emisapi.LoginResult, error) {
	result, err := s.api.Login(ctx, normalizeEmail(email), password)
	if err != nil {
		return emisapi.LoginResult{}, err
	}
	if result.Token == "" || result.User.ID == "" {
		return emisapi.LoginResult{}, ErrIncompleteLogin
	}
	return result, nil
}

// Register creates an account after confirming the email is free.
func (s *Service) Register(ctx context.Context, email, password string) error {
	email = normalizeEmail(email)
	taken, err := s.api.CheckEmail(ctx, email)
	if err != nil {
		return err
	}
	if taken {
		return ErrEmailTaken
	}
	_, err = s.api.Register(ctx, email, password)
	return err
}

// EmailTaken reports whether email already has an account.
func (s *Service) EmailTaken(ctx context.Context, email string) (bool, error) {
	return s.api.CheckEmail(ctx, normalizeEmail(email))
}

// RecordLogin stores the login in the session registry.
func (s *Service) RecordLogin(ctx context.Context, rec SessionRecord) error {
	return s.repo.Start(ctx, rec)
}

// End closes the registry row of a session.
func (s *Service) End(ctx context.Context, sessionID, reason string) error {
	return s.repo.End(ctx, sessionID, reason)
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
