package commands

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/medicore/console/internal/logger"
	"github.com/medicore/console/internal/routes"
	"github.com/medicore/console/internal/session"
)

type LoginCmd struct {
	BackendFlags

	Email    string `help:"Account email" required:""`
	Password string `help:"Account password (prompted when omitted)" env:"MEDICORE_PASSWORD"`
}

func (l *LoginCmd) Run(ctx context.Context, globals *Globals) error {
	logger.Setup(globals.Debug)

	svc, store, _, err := l.identityService()
	if err != nil {
		return err
	}

	password := l.Password
	if password == "" {
		fmt.Fprint(os.Stderr, "Password: ")
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil {
			return fmt.Errorf("failed to read password: %w", err)
		}
		password = strings.TrimSpace(line)
	}

	res := svc.Login(ctx, l.Email, password)
	if !res.Success {
		return fmt.Errorf("login failed: %s", res.Message)
	}

	user := svc.User()
	sess, err := store.Load()
	if err != nil {
		return err
	}

	fmt.Printf("Signed in as %s (%s)\n", user.FullName(), user.PrimaryRole())
	if sess.HospitalID != "" {
		fmt.Printf("Hospital: %s\n", sess.HospitalID)
	}
	fmt.Printf("Token: %s\n", session.TokenFingerprint(sess.AccessToken))
	fmt.Printf("Landing: %s\n", routes.DefaultRoute(svc))
	return nil
}
