package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/medicore/console/internal/gateway"
	"github.com/medicore/console/internal/logger"
)

type ServeCmd struct {
	BackendFlags

	Listen      string        `help:"Gateway listen address" default:"127.0.0.1:3000" env:"MEDICORE_LISTEN"`
	CORSOrigins []string      `help:"Allowed CORS origins for API requests" default:"http://localhost:3000" env:"MEDICORE_CORS_ORIGINS"`
	RoutesFile  string        `help:"Route table YAML file (defaults to the built-in table)" type:"existingfile" env:"MEDICORE_ROUTES_FILE"`
	CacheDir    string        `help:"Disk cache directory for proxied GET responses (in-memory when empty)" env:"MEDICORE_CACHE_DIR"`
	WaitBackend time.Duration `help:"How long to wait for the backend at startup" default:"30s" env:"MEDICORE_WAIT_BACKEND"`
}

func (s *ServeCmd) Run(ctx context.Context, globals *Globals) error {
	logger.Setup(globals.Debug)

	svc, store, client, err := s.identityService()
	if err != nil {
		return err
	}

	table, err := loadTable(s.RoutesFile)
	if err != nil {
		return err
	}

	gw, err := gateway.New(gateway.Config{
		Listen:      s.Listen,
		BackendURL:  s.Backend,
		CORSOrigins: s.CORSOrigins,
		CacheDir:    s.CacheDir,
	}, svc, store, client, table)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := gw.WaitForBackend(ctx, s.WaitBackend); err != nil {
		return err
	}

	srv := configureHTTPServer(s.Listen, gw.Handler())

	errCh := make(chan error, 1)
	go func() {
		log.Info().
			Str("listen", s.Listen).
			Str("backend", s.Backend).
			Str("version", globals.Version).
			Msg("console gateway listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("gateway failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
