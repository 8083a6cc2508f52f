package commands

import (
	"context"
	"fmt"

	"github.com/medicore/console/internal/logger"
)

type PasswdCmd struct {
	BackendFlags

	Old string `help:"Current password" required:""`
	New string `help:"New password" required:""`
}

func (p *PasswdCmd) Run(ctx context.Context, globals *Globals) error {
	logger.Setup(globals.Debug)

	svc, _, _, err := p.identityService()
	if err != nil {
		return err
	}

	if !svc.IsAuthenticated() {
		return fmt.Errorf("not signed in, run login first")
	}

	res := svc.ChangePassword(ctx, p.Old, p.New)
	if !res.Success {
		return fmt.Errorf("password change failed: %s", res.Message)
	}

	fmt.Println("Password changed.")
	return nil
}
