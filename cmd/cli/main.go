package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"
	"github.com/wolfeidau/qrtrack/cmd/cli/internal/commands"
)

var (
	version = "dev"
	cli     struct {
		Create   commands.CreateCmd   `cmd:"" help:"Create an asset code"`
		Bulk     commands.BulkCmd     `cmd:"" help:"Create asset codes from a file, all or none"`
		List     commands.ListCmd     `cmd:"" help:"List assets"`
		Show     commands.ShowCmd     `cmd:"" help:"Show an asset and its history"`
		History  commands.HistoryCmd  `cmd:"" help:"Show the history of an asset"`
		Activate commands.ActivateCmd `cmd:"" help:"Take custody of an inactive asset"`
		Complete commands.CompleteCmd `cmd:"" help:"Complete an active asset"`
		Token    commands.TokenCmd    `cmd:"" help:"Generate a JWT token"`
		Debug    bool                 `help:"Enable debug mode."`
		Version  kong.VersionFlag
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
	err := cmd.Run(&commands.Globals{Debug: cli.Debug, Version: version})
	cmd.FatalIfErrorf(err)
}
