package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"subwatch/internal/storage"
)

// Matches the cost the hosted deployment has always used; lowering it would
// silently weaken every new hash.
const bcryptCost = 12

var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrEmailTaken         = errors.New("email already registered")
	ErrWeakPassword       = errors.New("password must be at least 8 characters")
	ErrSessionExpired     = errors.New("session expired")
	ErrEmptyName          = errors.New("name must not be empty")
)

// UserStore is the slice of the repository the auth service needs.
type UserStore interface {
	CreateUser(ctx context.Context, u storage.User) error
	GetUserByEmail(ctx context.Context, email string) (storage.User, error)
	GetUserByID(ctx context.Context, id string) (storage.User, error)
	UpdateUserPassword(ctx context.Context, userID, hashedPassword string, now time.Time) error
	UpdateUserName(ctx context.Context, userID, name string, now time.Time) error
	CreateSession(ctx context.Context, s storage.Session) error
	GetSession(ctx context.Context, token string) (storage.Session, error)
	DeleteSession(ctx context.Context, token string) error
	DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error)
}

// AuthService handles registration, login and session verification. Session
// tokens are opaque UUIDs stored server side.
type AuthService struct {
	store      UserStore
	sessionTTL time.Duration
	now        func() time.Time
}

func NewAuthService(store UserStore, sessionTTL time.Duration) *AuthService {
	return &AuthService{store: store, sessionTTL: sessionTTL, now: time.Now}
}

func (a *AuthService) Register(ctx context.Context, email, name, password string) (storage.User, error) {
	email = normalizeEmail(email)
	if email == "" || !strings.Contains(email, "@") {
		return storage.User{}, ErrInvalidCredentials
	}
	if len(password) < 8 {
		return storage.User{}, ErrWeakPassword
	}

	if _, err := a.store.GetUserByEmail(ctx, email); err == nil {
		return storage.User{}, ErrEmailTaken
	} else if !errors.Is(err, storage.ErrNotFound) {
		return storage.User{}, fmt.Errorf("check existing user: %w", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	if err != nil {
		return storage.User{}, fmt.Errorf("hash password: %w", err)
	}

	now := a.now()
	user := storage.User{
		ID:             uuid.NewString(),
		Email:          email,
		Name:           strings.TrimSpace(name),
		HashedPassword: string(hash),
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := a.store.CreateUser(ctx, user); err != nil {
		return storage.User{}, fmt.Errorf("create user: %w", err)
	}

	slog.InfoContext(ctx, "Registered user", "user_id", user.ID)
	return user, nil
}

// Login verifies credentials and opens a new session. Unknown emails and
// wrong passwords produce the same error.
func (a *AuthService) Login(ctx context.Context, email, password string) (storage.Session, error) {
	user, err := a.store.GetUserByEmail(ctx, normalizeEmail(email))
	if errors.Is(err, storage.ErrNotFound) {
		return storage.Session{}, ErrInvalidCredentials
	}
	if err != nil {
		return storage.Session{}, fmt.Errorf("lookup user: %w", err)
	}

	if bcrypt.CompareHashAndPassword([]byte(user.HashedPassword), []byte(password)) != nil {
		return storage.Session{}, ErrInvalidCredentials
	}

	now := a.now()
	session := storage.Session{
		Token:     uuid.NewString(),
		UserID:    user.ID,
		ExpiresAt: now.Add(a.sessionTTL),
		CreatedAt: now,
	}

	if err := a.store.CreateSession(ctx, session); err != nil {
		return storage.Session{}, fmt.Errorf("create session: %w", err)
	}

	slog.InfoContext(ctx, "User logged in", "user_id", user.ID)
	return session, nil
}

func (a *AuthService) Logout(ctx context.Context, token string) error {
	return a.store.DeleteSession(ctx, token)
}

// Verify resolves a session token to its user. Expired sessions are deleted
// on sight.
func (a *AuthService) Verify(ctx context.Context, token string) (storage.User, error) {
	session, err := a.store.GetSession(ctx, token)
	if errors.Is(err, storage.ErrNotFound) {
		return storage.User{}, ErrSessionExpired
	}
	if err != nil {
		return storage.User{}, fmt.Errorf("lookup session: %w", err)
	}

	if !session.ExpiresAt.After(a.now()) {
		if err := a.store.DeleteSession(ctx, token); err != nil {
			slog.WarnContext(ctx, "Failed to delete expired session", "error", err)
		}
		return storage.User{}, ErrSessionExpired
	}

	user, err := a.store.GetUserByID(ctx, session.UserID)
	if err != nil {
		return storage.User{}, fmt.Errorf("lookup session user: %w", err)
	}
	return user, nil
}

// ChangePassword re-verifies the current password before writing a new hash.
func (a *AuthService) ChangePassword(ctx context.Context, userID, current, updated string) error {
	user, err := a.store.GetUserByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("lookup user: %w", err)
	}

	if bcrypt.CompareHashAndPassword([]byte(user.HashedPassword), []byte(current)) != nil {
		return ErrInvalidCredentials
	}
	if len(updated) < 8 {
		return ErrWeakPassword
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(updated), bcryptCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	if err := a.store.UpdateUserPassword(ctx, userID, string(hash), a.now()); err != nil {
		return fmt.Errorf("update password: %w", err)
	}

	slog.InfoContext(ctx, "Changed user password", "user_id", userID)
	return nil
}

// Profile returns the account record for the given user.
func (a *AuthService) Profile(ctx context.Context, userID string) (storage.User, error) {
	return a.store.GetUserByID(ctx, userID)
}

// UpdateProfile renames the account and returns the updated record.
func (a *AuthService) UpdateProfile(ctx context.Context, userID, name string) (storage.User, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return storage.User{}, ErrEmptyName
	}

	if err := a.store.UpdateUserName(ctx, userID, name, a.now()); err != nil {
		return storage.User{}, fmt.Errorf("update name: %w", err)
	}

	user, err := a.store.GetUserByID(ctx, userID)
	if err != nil {
		return storage.User{}, fmt.Errorf("lookup user: %w", err)
	}

	slog.InfoContext(ctx, "Updated user profile", "user_id", userID)
	return user, nil
}

// PurgeExpiredSessions removes sessions past their expiry. Meant to run
// periodically from the worker.
func (a *AuthService) PurgeExpiredSessions(ctx context.Context) (int64, error) {
	return a.store.DeleteExpiredSessions(ctx, a.now())
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

var _ UserStore = (*storage.SQLiteRepository)(nil)
