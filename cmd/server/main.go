package main

import (
	"context"

	"github.com/alecthomas/kong"
	"github.com/wolfeidau/tenancy/cmd/server/internal/commands"
)

var (
	version = "dev"
	cli     struct {
		Debug           bool `help:"Enable debug mode." env:"TENANCY_DEBUG"`
		Version         kong.VersionFlag
		Serve           commands.ServeCmd           `cmd:"" help:"Start the tenancy API server"`
		MigrateLegacy   commands.MigrateLegacyCmd   `cmd:"" help:"Re-run the legacy record migration for a principal into a tenant"`
		VerifyMigration commands.VerifyMigrationCmd `cmd:"" help:"Check a tenant's migration flag against its migrated records"`
		Token           commands.TokenCmd           `cmd:"" help:"Mint a bearer token for a principal (development)"`
		Keygen          commands.KeygenCmd          `cmd:"" help:"Generate an ES256 key pair for signing tokens"`
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
