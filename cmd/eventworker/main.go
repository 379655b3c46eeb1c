package main

import (
	"log/slog"
	"os"

	"github.com/alecthomas/kong"

	"git.home.luguber.info/inful/eventworker/cmd/eventworker/commands"
	"git.home.luguber.info/inful/eventworker/internal/foundation/errors"
	"git.home.luguber.info/inful/eventworker/internal/version"
)

func main() {
	cli := &commands.CLI{}
	parser := kong.Parse(cli,
		kong.Name("eventworker"),
		kong.Description("Queue-driven event processing worker with idempotent handlers, retries and dead-lettering."),
		kong.Vars{"version": version.String()},
		kong.UsageOnError(),
	)

	err := parser.Run(cli.Globals(), cli)
	if err != nil {
		adapter := errors.NewCLIErrorAdapter(cli.Verbose, slog.Default())
		os.Exit(adapter.Report(err))
	}
}
