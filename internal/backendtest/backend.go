// Package backendtest provides an in-process fake of the platform backend's
// auth and domain endpoints for tests. It mints real HMAC-signed JWTs so
// token plumbing is exercised end to end, tracks call counts for retry
// assertions, and can be switched into various failure modes.
package backendtest

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const refreshCookieName = "refreshToken"

// Account is a login the fake backend accepts.
type Account struct {
	Email      string
	Password   string
	FirstName  string
	LastName   string
	Roles      []string
	HospitalID string

	// LegacyRoleKey switches the login response to the old "role" key.
	LegacyRoleKey bool
	// ObjectRoles emits roles as {"name": ...} objects instead of strings.
	ObjectRoles bool
	// NumericHospitalID emits hospitalId as a JSON number.
	NumericHospitalID bool
}

// Backend is the fake server. Mutate the failure switches between requests;
// they are read under the lock.
type Backend struct {
	mu          sync.Mutex
	srv         *httptest.Server
	signingKey  []byte
	accounts    map[string]Account
	validTokens map[string]bool

	// Failure switches
	RefreshDenied bool // refresh answers status 0
	RefreshBroken bool // refresh answers 500 with a non-JSON body
	RefreshStale  bool // refresh hands out a token the API still rejects

	// Call counters
	LoginCalls   int
	LogoutCalls  int
	RefreshCalls int
	APICalls     int
}

// New starts a fake backend with the given accounts.
func New(accounts ...Account) *Backend {
	key := make([]byte, 32)
	_, _ = rand.Read(key)

	b := &Backend{
		signingKey:  key,
		accounts:    make(map[string]Account),
		validTokens: make(map[string]bool),
	}
	for _, a := range accounts {
		b.accounts[a.Email] = a
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth/login", b.handleLogin)
	mux.HandleFunc("GET /auth/refresh", b.handleRefresh)
	mux.HandleFunc("POST /auth/logout", b.handleLogout)
	mux.HandleFunc("POST /auth/change-password", b.handleChangePassword)
	mux.HandleFunc("POST /auth/forgot-password", b.handleForgotPassword)
	mux.HandleFunc("POST /auth/reset-password", b.handleResetPassword)
	mux.HandleFunc("/", b.handleAPI)

	b.srv = httptest.NewServer(mux)
	return b
}

// URL returns the backend base URL.
func (b *Backend) URL() string {
	return b.srv.URL
}

// Close shuts the server down.
func (b *Backend) Close() {
	b.srv.Close()
}

// IssueToken mints a valid bearer token outside the login flow.
func (b *Backend) IssueToken(subject string) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.mintToken(subject)
}

// RevokeToken makes a previously issued token invalid, so the next API call
// carrying it answers 401.
func (b *Backend) RevokeToken(token string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.validTokens, token)
}

func (b *Backend) mintToken(subject string) string {
	claims := jwt.RegisteredClaims{
		Issuer:    "medicore-backendtest",
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(time.Now()),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		ID:        randomID(),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(b.signingKey)
	if err != nil {
		panic(err)
	}
	b.validTokens[token] = true
	return token
}

func (b *Backend) handleLogin(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.LoginCalls++

	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"status": 0, "message": "malformed request"})
		return
	}

	acct, ok := b.accounts[req.Email]
	if !ok || acct.Password != req.Password {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"status": 0, "message": "Invalid email or password"})
		return
	}

	token := b.mintToken(acct.Email)
	http.SetCookie(w, &http.Cookie{
		Name:     refreshCookieName,
		Value:    randomID(),
		Path:     "/",
		HttpOnly: true,
	})

	resp := map[string]any{
		"status":      1,
		"accessToken": token,
		"user": map[string]any{
			"id":        "user-" + acct.Email,
			"firstName": acct.FirstName,
			"lastName":  acct.LastName,
			"email":     acct.Email,
		},
	}

	var roles any
	if acct.ObjectRoles {
		objs := make([]map[string]string, 0, len(acct.Roles))
		for _, name := range acct.Roles {
			objs = append(objs, map[string]string{"name": name})
		}
		roles = objs
	} else if len(acct.Roles) == 1 && acct.LegacyRoleKey {
		roles = acct.Roles[0] // single bare value, not a list
	} else {
		roles = acct.Roles
	}
	if acct.LegacyRoleKey {
		resp["role"] = roles
	} else {
		resp["roles"] = roles
	}

	if acct.HospitalID != "" {
		if acct.NumericHospitalID {
			var n json.Number = json.Number(acct.HospitalID)
			resp["hospitalId"] = n
		} else {
			resp["hospitalId"] = acct.HospitalID
		}
		resp["hospital"] = map[string]any{"id": acct.HospitalID, "name": "General Hospital"}
	}

	writeJSON(w, http.StatusOK, resp)
}

func (b *Backend) handleRefresh(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.RefreshCalls++

	if b.RefreshBroken {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("<html>backend exploded</html>"))
		return
	}

	if _, err := r.Cookie(refreshCookieName); err != nil || b.RefreshDenied {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"status": 0, "message": "refresh token invalid"})
		return
	}

	token := b.mintToken("refreshed")
	if b.RefreshStale {
		delete(b.validTokens, token)
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": 1, "accessToken": token})
}

func (b *Backend) handleLogout(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.LogoutCalls++
	writeJSON(w, http.StatusOK, map[string]any{"status": 1})
}

func (b *Backend) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var req struct {
		OldPassword string `json:"oldPassword"`
		NewPassword string `json:"newPassword"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.NewPassword == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"status": 0, "message": "malformed request"})
		return
	}
	if req.OldPassword == req.NewPassword {
		writeJSON(w, http.StatusOK, map[string]any{"status": 0, "message": "new password must differ"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": 1})
}

// handleForgotPassword always answers success so account existence is not
// leaked, matching the real backend.
func (b *Backend) handleForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Email == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"status": 0, "message": "malformed request"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": 1, "message": "reset mail sent"})
}

func (b *Backend) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token       string `json:"token"`
		NewPassword string `json:"newPassword"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.NewPassword == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"status": 0, "message": "malformed request"})
		return
	}
	if req.Token == "expired-token" {
		writeJSON(w, http.StatusOK, map[string]any{"status": 0, "message": "reset token invalid or expired"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": 1})
}

// handleAPI stands in for every domain endpoint. It enforces the bearer token
// and echoes the tenant header back so tests can assert header plumbing.
func (b *Backend) handleAPI(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.APICalls++

	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok || !b.validTokens[token] {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"status": 0, "message": "unauthorized"})
		return
	}

	payload, _ := io.ReadAll(r.Body)

	writeJSON(w, http.StatusOK, map[string]any{
		"status":     1,
		"path":       r.URL.Path,
		"hospitalId": r.Header.Get("X-Hospital-Id"),
		"body":       string(payload),
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func randomID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}
