package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/medicore/console/internal/authapi"
	"github.com/medicore/console/internal/logger"
	"github.com/medicore/console/internal/session"
	"github.com/medicore/console/internal/transport"
)

type WhoamiCmd struct {
	BackendFlags

	Remote bool `help:"Verify the session against the backend and show the fresh profile"`
}

func (w *WhoamiCmd) Run(ctx context.Context, globals *Globals) error {
	logger.Setup(globals.Debug)

	store, err := session.NewStore(w.DataDir)
	if err != nil {
		return err
	}

	sess, err := store.Load()
	if errors.Is(err, session.ErrNoSession) {
		fmt.Println("Not signed in.")
		return nil
	}
	if err != nil {
		return err
	}

	user := sess.User
	fmt.Printf("User:     %s <%s>\n", user.FullName(), user.Email)
	fmt.Printf("Roles:    %s\n", strings.Join(user.Roles.Names(), ", "))
	if sess.HospitalID != "" {
		fmt.Printf("Hospital: %s\n", sess.HospitalID)
	}
	fmt.Printf("Token:    %s%s\n", session.TokenFingerprint(sess.AccessToken), tokenExpiry(sess.AccessToken))

	if w.Remote {
		return w.showRemoteProfile(ctx, store)
	}
	return nil
}

// showRemoteProfile fetches the profile through the refreshing transport, so
// an expired access token is exchanged on the way.
func (w *WhoamiCmd) showRemoteProfile(ctx context.Context, store *session.Store) error {
	authClient := authapi.NewClient(w.Backend, nil)
	tr := transport.New(store, authClient)
	verified := authapi.NewClient(w.Backend, &http.Client{Transport: tr, Timeout: 30 * time.Second})

	profile, err := verified.Profile(ctx)
	if err != nil {
		if errors.Is(err, transport.ErrForcedLogout) {
			return fmt.Errorf("session expired, run login again")
		}
		return err
	}
	if !profile.OK() || profile.User == nil {
		return fmt.Errorf("backend rejected the session: %s", profile.Message)
	}

	fmt.Printf("Backend:  verified as %s <%s>\n", profile.User.FirstName+" "+profile.User.LastName, profile.User.Email)
	return nil
}

// tokenExpiry decodes the access token claims without verifying the
// signature. Verification is the backend's job; this is display only.
func tokenExpiry(token string) string {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return ""
	}

	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return ""
	}

	if time.Now().After(exp.Time) {
		return fmt.Sprintf(" (expired %s)", exp.Format(time.RFC3339))
	}
	return fmt.Sprintf(" (expires %s)", exp.Format(time.RFC3339))
}
