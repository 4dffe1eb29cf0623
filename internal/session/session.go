// Package session keeps the explicit per-session state that one pipeline run
// reads and writes: who is logged in, the last upload and its candidates.
package session

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hoonseung2/aidietdiary/internal/models"
)

var ErrSessionNotFound = errors.New("session not found")

type AuthState int

const (
	AuthNotAttempted AuthState = iota
	AuthAuthenticated
	AuthRejected
)

func (a AuthState) String() string {
	switch a {
	case AuthAuthenticated:
		return "authenticated"
	case AuthRejected:
		return "rejected"
	default:
		return "not_attempted"
	}
}

// Message is the user-visible banner for the state.
func (a AuthState) Message() string {
	switch a {
	case AuthAuthenticated:
		return "Logged in."
	case AuthRejected:
		return "Username or password is incorrect."
	default:
		return "Please enter your username and password."
	}
}

// AuthRequiredError reports an operation that needs a logged-in session,
// along with the state the session was actually in.
type AuthRequiredError struct {
	State AuthState
}

func (e *AuthRequiredError) Error() string {
	return "login required (" + e.State.String() + ")"
}

type State struct {
	ID          string
	UserID      string
	DisplayName string
	Auth        AuthState

	LastUploadKey string
	Keywords      []string
	Candidates    []models.Candidate

	UpdatedAt time.Time
}

// Authenticated reports whether the state belongs to a logged-in user.
func (s *State) Authenticated() bool {
	return s.Auth == AuthAuthenticated && s.UserID != ""
}

// ResetPipeline forgets the last upload and its candidates.
func (s *State) ResetPipeline() {
	s.LastUploadKey = ""
	s.Keywords = nil
	s.Candidates = nil
}

type entry struct {
	mu    sync.Mutex
	state State
}

// Store is an in-memory registry of sessions. Do serializes work on a single
// session; different sessions proceed independently.
type Store struct {
	mu       sync.Mutex
	sessions map[string]*entry
	ttl      time.Duration
	now      func() time.Time
}

func NewStore(ttl time.Duration) *Store {
	return &Store{
		sessions: make(map[string]*entry),
		ttl:      ttl,
		now:      time.Now,
	}
}

// Create registers a fresh, unauthenticated session and returns its id.
func (s *Store) Create() string {
	id := uuid.NewString()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.sweepLocked()
	s.sessions[id] = &entry{state: State{ID: id, UpdatedAt: s.now()}}
	return id
}

// Do runs fn with exclusive access to the session's state.
func (s *Store) Do(id string, fn func(*State) error) error {
	s.mu.Lock()
	e, ok := s.sessions[id]
	if ok && s.expired(e) {
		delete(s.sessions, id)
		ok = false
	}
	s.mu.Unlock()

	if !ok {
		return ErrSessionNotFound
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	// The entry may have been swept or deleted while we waited for its lock.
	s.mu.Lock()
	current, ok := s.sessions[id]
	s.mu.Unlock()
	if !ok || current != e {
		return ErrSessionNotFound
	}

	err := fn(&e.state)
	e.state.UpdatedAt = s.now()
	return err
}

func (s *Store) Delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

func (s *Store) sweepLocked() {
	for id, e := range s.sessions {
		if s.expired(e) {
			delete(s.sessions, id)
		}
	}
}

// expired never reports a session that is busy inside Do.
func (s *Store) expired(e *entry) bool {
	if s.ttl <= 0 {
		return false
	}
	if !e.mu.TryLock() {
		return false
	}
	defer e.mu.Unlock()
	return s.now().Sub(e.state.UpdatedAt) > s.ttl
}
