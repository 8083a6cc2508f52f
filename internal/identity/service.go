// Package identity is the single source of truth for who is logged in and
// what they can do. The service is constructor-injected with its session
// store and auth client; there is no package-level state.
package identity

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/medicore/console/internal/authapi"
	"github.com/medicore/console/internal/session"
)

// Generic fallback messages, used when neither the backend nor the transport
// provides one.
const (
	genericLoginFailure  = "Login failed"
	genericPasswdFailure = "Password change failed"
)

// Result is the outcome of a fallible auth operation. Failures carry a
// user-facing message instead of an error; role queries and state accessors
// never fail at all.
type Result struct {
	Success bool
	Message string
	User    *session.User
}

// Service holds the authenticated identity. It starts in the loading state
// until Hydrate has run once.
type Service struct {
	store  *session.Store
	client *authapi.Client

	mu            sync.RWMutex
	user          *session.User
	authenticated bool
	loading       bool
}

// NewService creates an identity service. Call Hydrate before serving
// queries.
func NewService(store *session.Store, client *authapi.Client) *Service {
	return &Service{
		store:   store,
		client:  client,
		loading: true,
	}
}

// Hydrate restores the identity from the session store. It runs once at
// startup; whatever the outcome, the service leaves the loading state.
func (s *Service) Hydrate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	defer func() { s.loading = false }()

	sess, err := s.store.Load()
	if err != nil {
		if !errors.Is(err, session.ErrNoSession) {
			log.Warn().Err(err).Msg("failed to load stored session")
		}
		return
	}

	s.user = sess.User
	s.authenticated = true

	log.Debug().
		Str("email", sess.User.Email).
		Str("role", sess.User.PrimaryRole()).
		Msg("session restored")
}

// Login authenticates against the backend. On success the session is
// persisted and the in-memory state replaced. On failure the existing state
// is left untouched and the result carries the backend's message, the
// transport error, or a generic fallback.
func (s *Service) Login(ctx context.Context, email, password string) Result {
	resp, err := s.client.Login(ctx, email, password)
	if err != nil {
		return failure(err.Error(), genericLoginFailure)
	}

	if !resp.OK() {
		return failure(resp.Message, genericLoginFailure)
	}
	if resp.User == nil || resp.AccessToken == "" {
		log.Warn().Str("email", email).Msg("login response missing user or token")
		return failure("", genericLoginFailure)
	}

	user := &session.User{
		ID:         string(resp.User.ID),
		FirstName:  resp.User.FirstName,
		LastName:   resp.User.LastName,
		Email:      resp.User.Email,
		Roles:      resp.NormalizedRoles(),
		Hospital:   resp.Hospital,
		HospitalID: string(resp.HospitalID),
	}

	sess := &session.Session{
		AccessToken: resp.AccessToken,
		User:        user,
		HospitalID:  string(resp.HospitalID),
	}
	if err := s.store.Save(sess); err != nil {
		log.Error().Err(err).Msg("failed to persist session")
		return failure("failed to persist session", genericLoginFailure)
	}

	s.mu.Lock()
	s.user = user
	s.authenticated = true
	s.mu.Unlock()

	log.Info().
		Str("email", user.Email).
		Str("role", user.PrimaryRole()).
		Str("tokenFingerprint", session.TokenFingerprint(resp.AccessToken)).
		Msg("login succeeded")

	return Result{Success: true, User: user}
}

// Logout tears the session down. The remote call is best-effort: a network
// failure is logged and swallowed, local state and storage are always
// cleared.
func (s *Service) Logout(ctx context.Context) {
	if err := s.client.Logout(ctx); err != nil {
		log.Warn().Err(err).Msg("remote logout failed")
	}

	s.mu.Lock()
	s.user = nil
	s.authenticated = false
	s.mu.Unlock()

	if err := s.store.Clear(); err != nil {
		log.Warn().Err(err).Msg("failed to clear stored session")
	}

	log.Info().Msg("logged out")
}

// ForceLogout clears local state without a remote call. Used when a token
// refresh fails and the backend already considers the session dead.
func (s *Service) ForceLogout() {
	s.mu.Lock()
	s.user = nil
	s.authenticated = false
	s.mu.Unlock()

	if err := s.store.Clear(); err != nil {
		log.Warn().Err(err).Msg("failed to clear stored session")
	}

	log.Warn().Msg("session expired, forced logout")
}

// ChangePassword changes the authenticated user's password.
func (s *Service) ChangePassword(ctx context.Context, oldPassword, newPassword string) Result {
	resp, err := s.client.ChangePassword(ctx, oldPassword, newPassword)
	if err != nil {
		return failure(err.Error(), genericPasswdFailure)
	}
	if !resp.OK() {
		return failure(resp.Message, genericPasswdFailure)
	}
	return Result{Success: true}
}

// User returns the current user, nil when unauthenticated.
func (s *Service) User() *session.User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.user
}

// IsAuthenticated reports whether a full session is present.
func (s *Service) IsAuthenticated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.authenticated
}

// Loading reports whether initial hydration is still pending.
func (s *Service) Loading() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loading
}

// IsSuperAdmin reports whether the current user holds SUPER_ADMIN. Fails
// closed: no user, no roles, no panic.
func (s *Service) IsSuperAdmin() bool {
	return s.User().IsSuperAdmin()
}

// HasRole reports whether the current user holds the named role. Fails
// closed.
func (s *Service) HasRole(name string) bool {
	return s.User().HasRole(name)
}

// UserRole returns the current user's primary role name, empty when absent.
func (s *Service) UserRole() string {
	return s.User().PrimaryRole()
}

func failure(message, fallback string) Result {
	if message == "" {
		message = fallback
	}
	return Result{Success: false, Message: message}
}
