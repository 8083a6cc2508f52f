// Package authapi is a thin client for the platform's authentication
// endpoints. It translates operations into HTTP calls and hands back the raw
// response envelope; interpreting the embedded status flag is the caller's
// job. The backend signals success with status == 1 inside the body, not with
// the HTTP status alone, so bodies are decoded even on non-2xx responses.
package authapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/medicore/console/internal/session"
)

// StatusOK is the body-level status flag the backend sets on success.
const StatusOK = 1

// ErrEmptyResponse is returned when the backend answers with an undecodable
// body on an error status.
var ErrEmptyResponse = errors.New("empty or undecodable backend response")

// Envelope carries the body-level status flag and optional message present
// on every auth response.
type Envelope struct {
	Status  int    `json:"status"`
	Message string `json:"message,omitempty"`
}

// OK reports whether the body-level status flag signals success.
func (e Envelope) OK() bool {
	return e.Status == StatusOK
}

// WireUser is the user object as the login endpoint sends it.
type WireUser struct {
	ID        session.FlexID `json:"id"`
	FirstName string         `json:"firstName"`
	LastName  string         `json:"lastName"`
	Email     string         `json:"email"`
}

// LoginResponse is the raw login body. Roles arrive either under "roles" or
// the legacy "role" key, as an array or a single value; both fields decode
// through session.RoleList which flattens the duality.
type LoginResponse struct {
	Envelope
	AccessToken string            `json:"accessToken"`
	User        *WireUser         `json:"user"`
	Roles       session.RoleList  `json:"roles"`
	Role        session.RoleList  `json:"role"`
	Hospital    *session.Hospital `json:"hospital,omitempty"`
	HospitalID  session.FlexID    `json:"hospitalId,omitempty"`
}

// NormalizedRoles returns the role list, preferring "roles" over the legacy
// "role" key.
func (r *LoginResponse) NormalizedRoles() session.RoleList {
	if len(r.Roles) > 0 {
		return r.Roles
	}
	return r.Role
}

// RefreshResponse is the raw refresh body.
type RefreshResponse struct {
	Envelope
	AccessToken string `json:"accessToken"`
}

// ProfileResponse is the raw profile body.
type ProfileResponse struct {
	Envelope
	User *WireUser `json:"user"`
}

// Client issues authentication calls against the backend. The underlying
// http.Client carries a cookie jar so the server-set refresh cookie rides
// along on /auth/refresh.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates an auth client for the given backend base URL. When
// httpClient is nil a default client with a cookie jar and a 30s timeout is
// used.
func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		jar, _ := cookiejar.New(nil)
		httpClient = &http.Client{
			Jar:     jar,
			Timeout: 30 * time.Second,
		}
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
	}
}

// HTTPClient exposes the underlying client so callers share its cookie jar.
func (c *Client) HTTPClient() *http.Client {
	return c.httpClient
}

// Login posts credentials and returns the raw body. Transport errors
// propagate; a rejected login comes back as a body with status != 1.
func (c *Client) Login(ctx context.Context, email, password string) (*LoginResponse, error) {
	body := map[string]string{"email": email, "password": password}

	var resp LoginResponse
	if err := c.do(ctx, http.MethodPost, "/auth/login", body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Logout posts a best-effort logout. The returned error is for logging only;
// local session teardown must not depend on it.
func (c *Client) Logout(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/auth/logout", nil, nil)
}

// Refresh exchanges the refresh cookie for a new access token.
func (c *Client) Refresh(ctx context.Context) (*RefreshResponse, error) {
	var resp RefreshResponse
	if err := c.do(ctx, http.MethodGet, "/auth/refresh", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ChangePassword posts a password change for the authenticated user.
func (c *Client) ChangePassword(ctx context.Context, oldPassword, newPassword string) (*Envelope, error) {
	body := map[string]string{"oldPassword": oldPassword, "newPassword": newPassword}

	var resp Envelope
	if err := c.do(ctx, http.MethodPost, "/auth/change-password", body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ForgotPassword requests a password reset mail.
func (c *Client) ForgotPassword(ctx context.Context, email string) (*Envelope, error) {
	var resp Envelope
	if err := c.do(ctx, http.MethodPost, "/auth/forgot-password", map[string]string{"email": email}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ResetPassword redeems a reset token for a new password.
func (c *Client) ResetPassword(ctx context.Context, token, newPassword string) (*Envelope, error) {
	body := map[string]string{"token": token, "newPassword": newPassword}

	var resp Envelope
	if err := c.do(ctx, http.MethodPost, "/auth/reset-password", body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Profile fetches the authenticated user's profile. Requires the caller's
// http.Client to attach the bearer token.
func (c *Client) Profile(ctx context.Context) (*ProfileResponse, error) {
	var resp ProfileResponse
	if err := c.do(ctx, http.MethodGet, "/users/profile", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// do issues the request and decodes the body into out when non-nil. The body
// is decoded regardless of HTTP status; only an undecodable body on an error
// status becomes a transport-level error.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	log.Debug().
		Str("method", method).
		Str("path", path).
		Int("status", resp.StatusCode).
		Msg("auth call")

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		if resp.StatusCode >= http.StatusBadRequest {
			return fmt.Errorf("%s %s: backend returned %s", method, path, resp.Status)
		}
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if resp.StatusCode >= http.StatusBadRequest {
			return fmt.Errorf("%s %s: backend returned %s: %w", method, path, resp.Status, ErrEmptyResponse)
		}
		return fmt.Errorf("%s %s: failed to decode response: %w", method, path, err)
	}

	return nil
}
