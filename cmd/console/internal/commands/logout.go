package commands

import (
	"context"
	"fmt"

	"github.com/medicore/console/internal/logger"
)

type LogoutCmd struct {
	BackendFlags
}

func (l *LogoutCmd) Run(ctx context.Context, globals *Globals) error {
	logger.Setup(globals.Debug)

	svc, _, _, err := l.identityService()
	if err != nil {
		return err
	}

	svc.Logout(ctx)
	fmt.Println("Signed out.")
	return nil
}
