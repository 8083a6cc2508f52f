package commands

import (
	"net/http"
	"time"

	"github.com/medicore/console/internal/authapi"
	"github.com/medicore/console/internal/identity"
	"github.com/medicore/console/internal/session"
)

type Globals struct {
	Debug   bool
	Version string
}

// BackendFlags are shared by every command that talks to the backend or
// reads the saved session.
type BackendFlags struct {
	Backend string `help:"Backend API base URL" default:"http://localhost:8080/api" env:"MEDICORE_BACKEND_URL"`
	DataDir string `help:"Directory holding the saved session" default:"" env:"MEDICORE_DATA_DIR"`
}

// identityService wires the session store, auth client and identity service
// the way every command needs them. Hydration runs before returning so the
// session state is settled.
func (f BackendFlags) identityService() (*identity.Service, *session.Store, *authapi.Client, error) {
	store, err := session.NewStore(f.DataDir)
	if err != nil {
		return nil, nil, nil, err
	}

	client := authapi.NewClient(f.Backend, nil)
	svc := identity.NewService(store, client)
	svc.Hydrate()

	return svc, store, client, nil
}

func configureHTTPServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Minute,
		WriteTimeout:      5 * time.Minute,
		IdleTimeout:       5 * time.Minute,
		MaxHeaderBytes:    8 * 1024, // 8KiB
	}
}
