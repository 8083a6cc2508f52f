package session

import (
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mr-tron/base58"
	"github.com/rs/zerolog/log"
)

// Sentinel errors
var (
	// ErrNoSession is returned when no usable session is stored.
	ErrNoSession = errors.New("no stored session")

	// ErrPartialSession is returned when saving a session missing its token
	// or its user. Sessions persist all-or-nothing.
	ErrPartialSession = errors.New("session requires both token and user")
)

const sessionFile = "session.json"

// Session is the persisted authenticated identity: the access token, the
// user it belongs to, and the optional tenant. The three always travel
// together; a session missing any required part is treated as absent.
type Session struct {
	AccessToken string `json:"accessToken"`
	User        *User  `json:"user"`
	HospitalID  string `json:"hospitalId,omitempty"`
}

// Store persists the session on the local filesystem so it survives process
// restarts. All operations are synchronous; there is no network access here.
type Store struct {
	baseDir string
}

// NewStore creates a session store rooted at baseDir.
// If baseDir is empty, uses ~/.medicore/console/
func NewStore(baseDir string) (*Store, error) {
	if baseDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		baseDir = filepath.Join(home, ".medicore", "console")
	}

	if err := os.MkdirAll(baseDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create session directory: %w", err)
	}

	log.Debug().Str("baseDir", baseDir).Msg("session store initialized")

	return &Store{baseDir: baseDir}, nil
}

// Load reads the stored session. Returns ErrNoSession when nothing is stored
// or when the stored data is partial. Unparseable data is purged and also
// reported as ErrNoSession; a corrupt file never surfaces a parse error to
// callers.
func (s *Store) Load() (*Session, error) {
	data, err := os.ReadFile(s.path())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNoSession
		}
		return nil, fmt.Errorf("failed to read session: %w", err)
	}

	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		log.Warn().Err(err).Msg("discarding unparseable stored session")
		_ = s.Clear()
		return nil, ErrNoSession
	}

	if sess.AccessToken == "" || sess.User == nil {
		log.Warn().Msg("discarding partial stored session")
		_ = s.Clear()
		return nil, ErrNoSession
	}

	return &sess, nil
}

// Save persists the session atomically. Refuses partial sessions so a failed
// login can never leave half a session behind.
func (s *Store) Save(sess *Session) error {
	if sess == nil || sess.AccessToken == "" || sess.User == nil {
		return ErrPartialSession
	}

	data, err := json.MarshalIndent(sess, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	// Write to temp file first, then rename into place
	path := s.path()
	tempPath := path + ".tmp"

	if err := os.WriteFile(tempPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write session: %w", err)
	}

	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to save session: %w", err)
	}

	log.Debug().
		Str("email", sess.User.Email).
		Str("tokenFingerprint", TokenFingerprint(sess.AccessToken)).
		Msg("session saved")

	return nil
}

// Clear removes the stored session. Idempotent.
func (s *Store) Clear() error {
	if err := os.Remove(s.path()); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove session: %w", err)
	}
	return nil
}

// SetAccessToken replaces the access token of the stored session, keeping
// user and tenant intact. Used when a refresh hands out a new token.
func (s *Store) SetAccessToken(token string) error {
	sess, err := s.Load()
	if err != nil {
		return err
	}
	sess.AccessToken = token
	return s.Save(sess)
}

func (s *Store) path() string {
	return filepath.Join(s.baseDir, sessionFile)
}

// TokenFingerprint returns a short Base58-encoded SHA256 digest of a token,
// safe to log. Tokens themselves are never logged.
func TokenFingerprint(token string) string {
	if token == "" {
		return ""
	}
	hash := sha256.Sum256([]byte(token))
	return base58.Encode(hash[:8])
}
