package main

import (
	"context"

	"github.com/alecthomas/kong"
	"github.com/anihive/anihive/cmd/anihive/internal/commands"
)

var (
	version = "dev"
	cli     struct {
		Debug       bool `help:"Enable debug mode." env:"ANIHIVE_DEBUG"`
		Version     kong.VersionFlag
		Serve       commands.ServeCmd       `cmd:"" help:"Start the web server."`
		Migrate     commands.MigrateCmd     `cmd:"" help:"Apply or roll back profile database migrations."`
		Healthcheck commands.HealthcheckCmd `cmd:"" help:"Probe a running server."`
	}
)

func main() {
	ctx := context.Background()
	cmd := kong.Parse(&cli,
		kong.Name("anihive"),
		kong.Description("AniHive web edge."),
		kong.Vars{
			"version": version,
		},
		kong.BindTo(ctx, (*context.Context)(nil)))
	err := cmd.Run(&commands.Globals{Debug: cli.Debug, Version: version})
	cmd.FatalIfErrorf(err)
}
