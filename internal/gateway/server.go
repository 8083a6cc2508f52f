// Package gateway runs the local web surface of the console: it serves the
// role-gated route table, handles login and logout, and proxies domain API
// calls to the backend through the token-refreshing transport.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"html"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"
	"time"

	"filippo.io/csrf"
	"github.com/cenkalti/backoff/v5"
	"github.com/gorilla/mux"
	"github.com/klauspost/compress/gzhttp"
	"github.com/rs/cors"
	"github.com/rs/zerolog/log"

	"github.com/medicore/console/internal/authapi"
	"github.com/medicore/console/internal/identity"
	"github.com/medicore/console/internal/routes"
	"github.com/medicore/console/internal/session"
	"github.com/medicore/console/internal/transport"
)

// Config holds the gateway settings.
type Config struct {
	Listen      string
	BackendURL  string
	CORSOrigins []string
	CacheDir    string
}

// Server is the console gateway.
type Server struct {
	cfg     Config
	ident   *identity.Service
	table   *routes.Table
	metrics *Metrics
	proxy   *httputil.ReverseProxy
}

// New assembles the gateway. The transport it builds around the session
// store handles bearer/tenant headers and the single refresh-and-retry; a
// failed refresh tears the identity down so the next guarded navigation
// lands on /login.
func New(cfg Config, ident *identity.Service, store *session.Store, authClient *authapi.Client, table *routes.Table) (*Server, error) {
	backend, err := url.Parse(cfg.BackendURL)
	if err != nil {
		return nil, fmt.Errorf("invalid backend URL: %w", err)
	}

	s := &Server{
		cfg:     cfg,
		ident:   ident,
		table:   table,
		metrics: NewMetrics(),
	}

	tr := transport.New(store, authClient,
		transport.WithForcedLogout(func() {
			ident.ForceLogout()
			s.metrics.ForcedLogoutsTotal.Inc()
		}),
	)

	proxy := httputil.NewSingleHostReverseProxy(backend)
	proxy.Transport = transport.NewCachingClient(tr, cfg.CacheDir).Transport
	proxy.ErrorHandler = s.proxyError
	s.proxy = proxy

	return s, nil
}

// Handler builds the full middleware chain. API paths get CORS, HTML paths
// get CSRF protection, everything is gzipped.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.Use(
		RequestIDMiddleware(),
		ClientIPMiddleware(),
		AccessLogMiddleware(),
		s.metrics.Middleware,
	)

	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)

	r.HandleFunc(routes.Login, s.handleLoginPage).Methods(http.MethodGet)
	r.HandleFunc(routes.Login, s.handleLogin).Methods(http.MethodPost)
	r.HandleFunc("/logout", s.handleLogout).Methods(http.MethodPost)

	r.PathPrefix("/api/").Handler(http.StripPrefix("/api", http.HandlerFunc(s.handleProxy)))

	for _, rt := range s.table.Routes {
		r.Handle(rt.Path, s.guard(rt, s.pageHandler(rt)))
	}

	r.HandleFunc("/", s.handleRoot)

	gz := gzhttp.GzipHandler(r)

	// CSRF protection for HTML pages (not applied to API routes)
	protection := csrf.New()
	htmlHandler := protection.Handler(gz)
	apiHandler := withCORS(s.cfg.CORSOrigins, gz)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isAPIRoute(r.URL.Path) {
			apiHandler.ServeHTTP(w, r)
		} else {
			htmlHandler.ServeHTTP(w, r)
		}
	})
}

// WaitForBackend blocks until the backend answers HTTP, backing off
// exponentially up to maxWait.
func (s *Server) WaitForBackend(ctx context.Context, maxWait time.Duration) error {
	operation := func() (struct{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodHead, s.cfg.BackendURL, nil)
		if err != nil {
			return struct{}{}, backoff.Permanent(err)
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			log.Debug().Err(err).Msg("backend not reachable yet")
			return struct{}{}, err
		}
		resp.Body.Close()
		return struct{}{}, nil
	}

	_, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxElapsedTime(maxWait),
	)
	if err != nil {
		return fmt.Errorf("backend %s not reachable: %w", s.cfg.BackendURL, err)
	}

	log.Info().Str("backend", s.cfg.BackendURL).Msg("backend reachable")
	return nil
}

// guard wraps a page handler with the route guard. Redirects answer 302;
// a pending identity answers 503 with a retry hint.
func (s *Server) guard(rt routes.Route, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		decision := routes.Decide(s.ident, rt)
		switch decision.Kind {
		case routes.DecisionPending:
			s.metrics.GuardDecisionsTotal.WithLabelValues("pending").Inc()
			w.Header().Set("Retry-After", "1")
			http.Error(w, "session loading", http.StatusServiceUnavailable)
		case routes.DecisionRedirect:
			s.metrics.GuardDecisionsTotal.WithLabelValues("redirect").Inc()
			log.Debug().
				Str("path", rt.Path).
				Str("target", decision.Target).
				Msg("guard redirect")
			http.Redirect(w, r, decision.Target, http.StatusFound)
		default:
			s.metrics.GuardDecisionsTotal.WithLabelValues("allow").Inc()
			next.ServeHTTP(w, r)
		}
	})
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, routes.DefaultRoute(s.ident), http.StatusFound)
}

func (s *Server) handleLoginPage(w http.ResponseWriter, r *http.Request) {
	if s.ident.IsAuthenticated() {
		http.Redirect(w, r, routes.DefaultRoute(s.ident), http.StatusFound)
		return
	}
	s.renderLogin(w, http.StatusOK, "")
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "malformed form", http.StatusBadRequest)
		return
	}

	res := s.ident.Login(r.Context(), r.PostFormValue("email"), r.PostFormValue("password"))
	if !res.Success {
		s.metrics.LoginsTotal.WithLabelValues("failure").Inc()
		s.renderLogin(w, http.StatusUnauthorized, res.Message)
		return
	}

	s.metrics.LoginsTotal.WithLabelValues("success").Inc()
	http.Redirect(w, r, routes.DefaultRoute(s.ident), http.StatusSeeOther)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	s.ident.Logout(r.Context())
	http.Redirect(w, r, routes.Login, http.StatusSeeOther)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintln(w, `{"status":"ok"}`)
}

func (s *Server) handleProxy(w http.ResponseWriter, r *http.Request) {
	s.metrics.ProxyRequestsTotal.WithLabelValues(r.Method).Inc()
	s.proxy.ServeHTTP(w, r)
}

// proxyError maps transport failures on proxied calls. A refresh failure has
// already torn the session down, so the user goes back to login; anything
// else is a plain bad gateway.
func (s *Server) proxyError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, transport.ErrForcedLogout) {
		http.Redirect(w, r, routes.Login, http.StatusFound)
		return
	}

	log.Error().Err(err).Str("path", r.URL.Path).Msg("proxy error")
	http.Error(w, "bad gateway", http.StatusBadGateway)
}

// pageHandler renders a minimal section page. The console has no form or
// table rendering; pages exist so the guard has something to protect. Public
// pages render without a session.
func (s *Server) pageHandler(rt routes.Route) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprintf(w, `<!doctype html><title>MediCore Console</title>
<h1>%s</h1>
`, html.EscapeString(rt.Path))

		user := s.ident.User()
		if user == nil {
			return
		}
		fmt.Fprintf(w, `<p>Signed in as %s (%s)</p>
<form method="post" action="/logout"><button>Sign out</button></form>
`,
			html.EscapeString(user.FullName()),
			html.EscapeString(user.PrimaryRole()),
		)
	})
}

func (s *Server) renderLogin(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	fmt.Fprintf(w, `<!doctype html><title>MediCore Console</title>
<h1>Sign in</h1>
<p>%s</p>
<form method="post" action="%s">
<input name="email" type="email" placeholder="email" required>
<input name="password" type="password" placeholder="password" required>
<button>Sign in</button>
</form>
`, html.EscapeString(message), routes.Login)
}

func isAPIRoute(path string) bool {
	return strings.HasPrefix(path, "/api/") ||
		path == "/metrics" ||
		path == "/healthz"
}

func withCORS(allowedOrigins []string, h http.Handler) http.Handler {
	middleware := cors.New(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowedHeaders:   []string{"Authorization", "Content-Type", transport.TenantHeader},
		AllowCredentials: true, // Required for cookie-based authentication
	})
	return middleware.Handler(h)
}
