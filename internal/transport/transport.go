// Package transport provides the HTTP round tripper every backend call goes
// through: it attaches the bearer token and tenant header from the session
// store and recovers exactly once from an expired access token by refreshing
// and replaying the request.
package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/gregjones/httpcache"
	"github.com/gregjones/httpcache/diskcache"
	"github.com/rs/zerolog/log"

	"github.com/medicore/console/internal/authapi"
	"github.com/medicore/console/internal/session"
)

// TenantHeader carries the hospital (tenant) identifier on every request.
const TenantHeader = "X-Hospital-Id"

// Sentinel errors
var (
	// ErrRefreshFailed is returned when the refresh endpoint answers without
	// a usable token.
	ErrRefreshFailed = errors.New("invalid refresh response")

	// ErrForcedLogout wraps any refresh failure after the session has been
	// torn down; callers match on it to route the user back to login.
	ErrForcedLogout = errors.New("session expired")
)

// Refresher exchanges the refresh credential for a new access token.
type Refresher interface {
	Refresh(ctx context.Context) (*authapi.RefreshResponse, error)
}

// Transport implements http.RoundTripper. The caller's request is never
// mutated; credentialed copies are cloned per attempt, and the retry decision
// lives in the round-trip frame rather than being stamped onto the request.
// Concurrent requests that each hit a 401 each refresh independently; there
// is no cross-request coordination.
type Transport struct {
	base           http.RoundTripper
	store          *session.Store
	refresher      Refresher
	onForcedLogout func()
}

// Option configures a Transport.
type Option func(*Transport)

// WithBase sets the underlying round tripper. Defaults to
// http.DefaultTransport.
func WithBase(rt http.RoundTripper) Option {
	return func(t *Transport) { t.base = rt }
}

// WithForcedLogout registers a hook invoked after a failed refresh has torn
// the session down, so the surrounding application can route the user back
// to login.
func WithForcedLogout(fn func()) Option {
	return func(t *Transport) { t.onForcedLogout = fn }
}

// New creates the interceptor transport.
func New(store *session.Store, refresher Refresher, opts ...Option) *Transport {
	t := &Transport{
		base:      http.DefaultTransport,
		store:     store,
		refresher: refresher,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// RoundTrip implements http.RoundTripper.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	getBody, err := rewindableBody(req)
	if err != nil {
		return nil, err
	}

	attempt := t.withCredentials(req)
	if err := setBody(attempt, getBody); err != nil {
		return nil, err
	}

	resp, err := t.base.RoundTrip(attempt)
	if err != nil {
		return nil, err
	}

	// The auth endpoints are exempt from the retry protocol so a 401 from
	// login or refresh itself can never loop.
	if resp.StatusCode != http.StatusUnauthorized || isAuthEndpoint(req.URL.Path) {
		return resp, nil
	}

	return t.refreshAndRetry(req, getBody, resp)
}

// rewindableBody returns a factory producing fresh copies of the request
// body, one per attempt. Client requests usually arrive with GetBody already
// set; inbound server requests forwarded through a proxy carry a Body but no
// GetBody, so their body is buffered up front to keep the replay possible.
func rewindableBody(req *http.Request) (func() (io.ReadCloser, error), error) {
	if req.GetBody != nil {
		return req.GetBody, nil
	}
	if req.Body == nil || req.Body == http.NoBody {
		return nil, nil
	}

	data, err := io.ReadAll(req.Body)
	req.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("failed to buffer request body: %w", err)
	}
	return func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(data)), nil
	}, nil
}

func setBody(req *http.Request, getBody func() (io.ReadCloser, error)) error {
	if getBody == nil {
		return nil
	}
	body, err := getBody()
	if err != nil {
		return fmt.Errorf("failed to rewind request body: %w", err)
	}
	if req.Body != nil {
		req.Body.Close()
	}
	req.Body = body
	return nil
}

// refreshAndRetry performs the single refresh-and-retry cycle. Whatever the
// replayed request yields, success or a second 401, goes back to the caller
// untouched.
func (t *Transport) refreshAndRetry(req *http.Request, getBody func() (io.ReadCloser, error), unauthorized *http.Response) (*http.Response, error) {
	refreshed, err := t.refresher.Refresh(req.Context())
	if err == nil && (!refreshed.OK() || refreshed.AccessToken == "") {
		err = ErrRefreshFailed
	}
	if err != nil {
		drainAndClose(unauthorized)
		t.forceLogout(err)
		return nil, fmt.Errorf("%w: token refresh failed: %w", ErrForcedLogout, err)
	}

	if err := t.store.SetAccessToken(refreshed.AccessToken); err != nil {
		log.Warn().Err(err).Msg("failed to persist refreshed token")
	}

	log.Debug().
		Str("path", req.URL.Path).
		Str("tokenFingerprint", session.TokenFingerprint(refreshed.AccessToken)).
		Msg("access token refreshed, replaying request")

	drainAndClose(unauthorized)

	retry := t.withCredentials(req)
	retry.Header.Set("Authorization", "Bearer "+refreshed.AccessToken)
	if err := setBody(retry, getBody); err != nil {
		return nil, err
	}

	return t.base.RoundTrip(retry)
}

// withCredentials clones the request and attaches the bearer token and
// tenant header when a session is present. Requests without a session go out
// bare; the backend rejects them as it sees fit.
func (t *Transport) withCredentials(req *http.Request) *http.Request {
	out := req.Clone(req.Context())

	sess, err := t.store.Load()
	if err != nil {
		return out
	}

	out.Header.Set("Authorization", "Bearer "+sess.AccessToken)
	if sess.HospitalID != "" {
		out.Header.Set(TenantHeader, sess.HospitalID)
	}
	return out
}

func (t *Transport) forceLogout(cause error) {
	log.Warn().Err(cause).Msg("token refresh failed, forcing logout")

	if err := t.store.Clear(); err != nil {
		log.Warn().Err(err).Msg("failed to clear session after refresh failure")
	}
	if t.onForcedLogout != nil {
		t.onForcedLogout()
	}
}

func isAuthEndpoint(path string) bool {
	return strings.Contains(path, "/auth/login") ||
		strings.Contains(path, "/auth/refresh") ||
		strings.Contains(path, "/auth/logout")
}

func drainAndClose(resp *http.Response) {
	if resp == nil || resp.Body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
}

// NewCachingClient wraps the transport in an httpcache layer so cacheable
// GET responses are reused. An empty cacheDir keeps the cache in memory.
func NewCachingClient(t *Transport, cacheDir string) *http.Client {
	var cached *httpcache.Transport
	if cacheDir == "" {
		cached = httpcache.NewTransport(httpcache.NewMemoryCache())
	} else {
		cached = httpcache.NewTransport(diskcache.New(cacheDir))
	}
	cached.Transport = t

	return &http.Client{Transport: cached}
}
