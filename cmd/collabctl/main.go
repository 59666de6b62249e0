package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"

	"github.com/Laffyyy/collabo-tool-sub001/cmd/collabctl/internal/commands"
)

var (
	version = "dev"
	cli     struct {
		Login   commands.LoginCmd   `cmd:"" help:"Log in and store tokens"`
		Logout  commands.LogoutCmd  `cmd:"" help:"End the stored session"`
		Session commands.SessionCmd `cmd:"" help:"Show the remaining session time"`
		Status  commands.StatusCmd  `cmd:"" help:"Read or set presence status"`
		Monitor commands.MonitorCmd `cmd:"" help:"Watch the session and idle timers in this terminal"`

		Server      string `help:"API base URL" default:"http://localhost:8080" env:"COLLAB_SERVER"`
		Credentials string `help:"Token file (defaults to ~/.collabctl/tokens.json)" env:"COLLAB_CREDENTIALS"`
		Debug       bool   `help:"Enable debug mode."`
		Version     kong.VersionFlag
	}
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd := kong.Parse(&cli,
		kong.Vars{
			"version": version,
		},
		kong.BindTo(ctx, (*context.Context)(nil)))
	err := cmd.Run(&commands.Globals{
		Server:      cli.Server,
		Credentials: cli.Credentials,
		Debug:       cli.Debug,
		Version:     version,
	})
	cmd.FatalIfErrorf(err)
}
