package cmd

import (
	"github.com/urfave/cli/v2"
)

func RootApp() *cli.App {
	return &cli.App{
		Name:  "feedloop",
		Usage: "A continuously refreshed aggregation of syndication feeds",
		Description: `Feedloop ingests RSS and Atom feeds into a single in-memory
		collection of posts and keeps it fresh.

		Feedloop works by fetching and parsing every registered feed on a
		fixed cadence, deduplicating posts by link, and exposing the merged
		state plus a change-event stream over an HTTP API.

		Flags can generally be set via environment variables, e.g.:

		--config => FEEDLOOP_CONFIG=config.toml
		--port => FEEDLOOP_PORT=8080
		`,
		Commands: []*cli.Command{
			serveCmd(),
			fetchCmd(),
		},
		Action: func(ctx *cli.Context) error {
			// Show help if no command is specified
			return ctx.App.Run([]string{"", "help"})
		},
	}
}
