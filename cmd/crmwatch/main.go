// crmwatch registers Bigin watch channels and receives their notifications.
//
// Usage:
//
//	crmwatch serve                      Run the webhook receiver
//	crmwatch watch register             Register the configured channel
//	crmwatch watch list                 List active channels
//	crmwatch watch disable <id>...      Disable channels
//	crmwatch token refresh [--force]    Validate or mint the access token
//	crmwatch token show                 Show the stored credential, masked
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"
	"github.com/goliatone/go-crmwatch/core"
)

// version is set at build time via -ldflags "-X main.version=..."
var version = "dev"

func main() {
	var cli CLI
	parser := kong.Parse(&cli,
		kong.Name("crmwatch"),
		kong.Description("Bigin watch subscriptions and webhook receiver."),
		kong.UsageOnError(),
		kong.Vars{"version": version},
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := newApp(ctx, cli.Globals, os.Stdout)
	if err != nil {
		fmt.Fprintln(os.Stderr, core.Describe(err))
		os.Exit(2)
	}
	err = parser.Run(app)
	if closeErr := app.Close(); err == nil && closeErr != nil {
		err = closeErr
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, core.Describe(err))
		os.Exit(1)
	}
}
