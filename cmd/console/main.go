package main

import (
	"context"

	"github.com/alecthomas/kong"
	"github.com/medicore/console/cmd/console/internal/commands"
)

var (
	version = "dev"
	cli     struct {
		Login  commands.LoginCmd  `cmd:"" help:"Sign in to the backend and save the session"`
		Logout commands.LogoutCmd `cmd:"" help:"Sign out and clear the saved session"`
		Whoami commands.WhoamiCmd `cmd:"" help:"Show the saved session"`
		Passwd commands.PasswdCmd `cmd:"" help:"Change the signed-in user's password"`
		Routes commands.RoutesCmd `cmd:"" help:"Print the route table"`
		Serve  commands.ServeCmd  `cmd:"" help:"Run the local console gateway"`

		Debug   bool `help:"Enable debug mode."`
		Version kong.VersionFlag
	}
)

func main() {
	ctx := context.Background()
	cmd := kong.Parse(&cli,
		kong.Vars{
			"version": version,
		},
		kong.BindTo(ctx, (*context.Context)(nil)))
	err := cmd.Run(&commands.Globals{Debug: cli.Debug, Version: version})
	cmd.FatalIfErrorf(err)
}
