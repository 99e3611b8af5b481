package auth

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/gitpress/gitpress/internal/domain"
	"github.com/gitpress/gitpress/internal/repository"
)

type fakeUserRepo struct {
	byUsername map[string]*domain.User
	byID       map[string]*domain.User
}

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{
		byUsername: make(map[string]*domain.User),
		byID:       make(map[string]*domain.User),
	}
}

func (f *fakeUserRepo) CreateUser(ctx context.Context, user *domain.User) error {
	if _, ok := f.byUsername[user.Username]; ok {
		return errors.New("username taken")
	}
	f.byUsername[user.Username] = user
	f.byID[user.ID] = user
	return nil
}

func (f *fakeUserRepo) GetUserByUsername(ctx context.Context, username string) (*domain.User, error) {
	user, ok := f.byUsername[username]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return user, nil
}

func (f *fakeUserRepo) GetUserByID(ctx context.Context, id string) (*domain.User, error) {
	user, ok := f.byID[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return user, nil
}

func newTestService(repo *fakeUserRepo) Service {
	return New(repo, slog.New(slog.NewTextHandler(io.Discard, nil)), "test-secret", time.Hour)
}

func TestSignupAndLogin(t *testing.T) {
	repo := newFakeUserRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	session, err := svc.Signup(ctx, "alice", "hunter22", "Alice", "alice@example.com")
	if err != nil {
		t.Fatalf("Signup returned error: %v", err)
	}
	if session.Token == "" {
		t.Fatal("expected a token")
	}
	if session.User.Username != "alice" {
		t.Fatalf("unexpected user %+v", session.User)
	}
	if string(session.User.PasswordHash) == "hunter22" {
		t.Fatal("password stored in plaintext")
	}

	login, err := svc.Login(ctx, "alice", "hunter22")
	if err != nil {
		t.Fatalf("Login returned error: %v", err)
	}
	if login.User.ID != session.User.ID {
		t.Fatal("login resolved the wrong user")
	}
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	repo := newFakeUserRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	if _, err := svc.Signup(ctx, "alice", "hunter22", "", ""); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Login(ctx, "alice", "wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("wrong password: expected ErrInvalidCredentials, got %v", err)
	}
	if _, err := svc.Login(ctx, "nobody", "hunter22"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("unknown user: expected ErrInvalidCredentials, got %v", err)
	}
}

func TestAuthorizeRoundTrip(t *testing.T) {
	repo := newFakeUserRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	session, err := svc.Signup(ctx, "alice", "hunter22", "Alice", "alice@example.com")
	if err != nil {
		t.Fatal(err)
	}

	user, claims, err := svc.Authorize(ctx, session.Token)
	if err != nil {
		t.Fatalf("Authorize returned error: %v", err)
	}
	if user.ID != session.User.ID {
		t.Fatal("authorize resolved the wrong user")
	}
	if claims.Username != "alice" {
		t.Fatalf("unexpected claims %+v", claims)
	}

	if _, _, err := svc.Authorize(ctx, "not-a-token"); err == nil {
		t.Fatal("expected error for garbage token")
	}
	if _, _, err := svc.Authorize(ctx, ""); err == nil {
		t.Fatal("expected error for empty token")
	}

	other := New(repo, slog.New(slog.NewTextHandler(io.Discard, nil)), "different-secret", time.Hour)
	if _, _, err := other.Authorize(ctx, session.Token); err == nil {
		t.Fatal("token signed with another secret must be rejected")
	}
}
