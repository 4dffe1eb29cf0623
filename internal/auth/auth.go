package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/hoonseung2/aidietdiary/internal/models"
	"github.com/hoonseung2/aidietdiary/internal/session"
	"github.com/hoonseung2/aidietdiary/internal/storage"
)

var (
	ErrInvalidCredentials = errors.New("username, name and password are required")
	ErrUserExists         = errors.New("username already taken")
)

// UserStore persists accounts.
type UserStore interface {
	CreateUser(ctx context.Context, user *models.User) error
	GetUser(ctx context.Context, username string) (*models.User, error)
}

type Service struct {
	users UserStore
	cost  int
}

func NewService(users UserStore) *Service {
	return &Service{users: users, cost: bcrypt.DefaultCost}
}

// Register creates an account. It does not log the session in.
func (s *Service) Register(ctx context.Context, username, name, password string) (*models.User, error) {
	username = strings.TrimSpace(username)
	name = strings.TrimSpace(name)
	if username == "" || name == "" || password == "" {
		return nil, ErrInvalidCredentials
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	user := &models.User{Username: username, Name: name, PasswordHash: string(hash)}
	if err := s.users.CreateUser(ctx, user); err != nil {
		if errors.Is(err, storage.ErrDuplicate) {
			return nil, ErrUserExists
		}
		return nil, err
	}
	return user, nil
}

// Login moves the session to Authenticated or Rejected. Only storage
// failures are returned as errors; a bad password is a Rejected state.
func (s *Service) Login(ctx context.Context, state *session.State, username, password string) (session.AuthState, error) {
	user, err := s.users.GetUser(ctx, strings.TrimSpace(username))
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return state.Auth, fmt.Errorf("load user: %w", err)
	}

	if user == nil || bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		state.Auth = session.AuthRejected
		state.UserID = ""
		state.DisplayName = ""
		state.ResetPipeline()
		return state.Auth, nil
	}

	if state.UserID != user.Username {
		state.ResetPipeline()
	}
	state.Auth = session.AuthAuthenticated
	state.UserID = user.Username
	state.DisplayName = user.Name
	return state.Auth, nil
}

// Logout returns the session to the not-yet-attempted state.
func (s *Service) Logout(state *session.State) {
	state.Auth = session.AuthNotAttempted
	state.UserID = ""
	state.DisplayName = ""
	state.ResetPipeline()
}
