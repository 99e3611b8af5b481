package auth

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/gitpress/gitpress/internal/crypto"
	"github.com/gitpress/gitpress/internal/domain"
	jwtpkg "github.com/gitpress/gitpress/internal/jwt"
	"github.com/gitpress/gitpress/internal/repository"
)

// ErrInvalidCredentials covers both unknown usernames and wrong passwords so
// responses do not reveal which one failed.
var ErrInvalidCredentials = errors.New("auth: invalid credentials")

// Service handles authentication workflows.
type Service struct {
	users     repository.UserRepository
	logger    *slog.Logger
	jwtSecret string
	tokenTTL  time.Duration
}

// New constructs a Service.
func New(users repository.UserRepository, logger *slog.Logger, jwtSecret string, tokenTTL time.Duration) Service {
	return Service{users: users, logger: logger, jwtSecret: jwtSecret, tokenTTL: tokenTTL}
}

// Session is an issued access token and its bearer.
type Session struct {
	Token     string
	ExpiresIn time.Duration
	User      *domain.User
}

// Signup registers a new user and signs them in.
func (s Service) Signup(ctx context.Context, username, password, displayName, email string) (Session, error) {
	hash, err := crypto.HashPassword(password)
	if err != nil {
		return Session{}, err
	}
	user := &domain.User{
		ID:           uuid.NewString(),
		Username:     username,
		DisplayName:  displayName,
		Email:        email,
		PasswordHash: hash,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.users.CreateUser(ctx, user); err != nil {
		return Session{}, err
	}
	session, err := s.issue(user)
	if err != nil {
		return Session{}, err
	}
	s.logger.Info("user registered", "user_id", user.ID, "username", user.Username)
	return session, nil
}

// Login authenticates a user by username and password.
func (s Service) Login(ctx context.Context, username, password string) (Session, error) {
	user, err := s.users.GetUserByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return Session{}, ErrInvalidCredentials
		}
		return Session{}, err
	}
	if err := crypto.ComparePassword(user.PasswordHash, password); err != nil {
		return Session{}, ErrInvalidCredentials
	}
	session, err := s.issue(user)
	if err != nil {
		return Session{}, err
	}
	s.logger.Info("user logged in", "user_id", user.ID)
	return session, nil
}

// Authorize validates a bearer token and returns the associated user and
// claims.
func (s Service) Authorize(ctx context.Context, token string) (*domain.User, *jwtpkg.Claims, error) {
	trimmed := strings.TrimSpace(token)
	if trimmed == "" {
		return nil, nil, errors.New("token required")
	}
	claims, err := jwtpkg.Parse(trimmed, s.jwtSecret)
	if err != nil {
		return nil, nil, err
	}
	user, err := s.users.GetUserByID(ctx, claims.UserID)
	if err != nil {
		return nil, nil, err
	}
	return user, claims, nil
}

func (s Service) issue(user *domain.User) (Session, error) {
	token, err := jwtpkg.GenerateToken(user.ID, user.Username, user.DisplayName, user.Email, s.jwtSecret, s.tokenTTL)
	if err != nil {
		return Session{}, err
	}
	return Session{Token: token, ExpiresIn: s.tokenTTL, User: user}, nil
}
