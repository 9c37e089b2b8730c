package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"time"

	"feedloop/config"
	"feedloop/ingest"
	"feedloop/notify"
	"feedloop/poller"
	"feedloop/server"
	"feedloop/store"

	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

// serveCmd represents the serve command
func serveCmd() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the aggregated feed collection",
		Description: `Starts the feedloop HTTP server and the polling scheduler.

Seed feeds from the configuration file are ingested at startup. Once at
least one feed is registered the scheduler refreshes every feed on the
configured cadence and merged posts become available via the HTTP API and
the SSE change-event stream.`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to the TOML configuration file",
				EnvVars: []string{"FEEDLOOP_CONFIG"},
			},
			&cli.StringFlag{
				Name:    "host",
				Usage:   "The host to bind the server to",
				EnvVars: []string{"FEEDLOOP_HOST"},
			},
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "The port to bind the server to",
				EnvVars: []string{"FEEDLOOP_PORT"},
			},
		},
		Action: func(ctx *cli.Context) error {
			cfg := config.DefaultConfig()
			if path := ctx.String("config"); path != "" {
				loaded, err := config.LoadConfig(path)
				if err != nil {
					return fmt.Errorf("failed to load config: %w", err)
				}
				cfg = loaded
			}
			if host := ctx.String("host"); host != "" {
				cfg.Server.Host = host
			}
			if port := ctx.Int("port"); port != 0 {
				cfg.Server.Port = port
			}

			fmt.Println("Starting feedloop...")

			st := store.New(store.DedupScope(cfg.Dedup.Scope))
			notifier := notify.New(st)

			fetcher := ingest.NewHTTPFetcher(ingest.FetcherConfig{
				Timeout:      cfg.FetchTimeout(),
				ProxyURL:     cfg.Fetch.ProxyURL,
				DisableCache: cfg.Fetch.DisableCache,
			})
			pipeline := ingest.NewPipeline(fetcher, ingest.NewFeedParser(), notifier)
			scheduler := poller.NewScheduler(pipeline, notifier, cfg.PollInterval())

			// SSE clients get every change event
			broadcaster := server.NewBroadcaster()
			notifier.Subscribe(broadcaster.Broadcast)

			// The scheduler spins up as soon as the first feed lands,
			// whether seeded below or added over the API later.
			notifier.Subscribe(func(event notify.Event) {
				if event.Path == notify.PathFeeds {
					scheduler.Start()
				}
			})

			app := server.Server(&server.ServerConfig{
				Notifier:    notifier,
				Pipeline:    pipeline,
				Scheduler:   scheduler,
				Broadcaster: broadcaster,
			})

			// Ingest the seed feeds; a failing seed is logged and skipped,
			// adding feeds stays all-or-nothing per URL.
			for _, seed := range cfg.Feeds {
				if _, _, err := pipeline.AddNewFeed(ctx.Context, seed.URL); err != nil {
					log.WithFields(log.Fields{
						"url":   seed.URL,
						"error": err,
					}).Warn("Failed to ingest seed feed")
				}
			}

			// Graceful shutdown
			c := make(chan os.Signal, 1)
			signal.Notify(c, os.Interrupt)

			go func() {
				<-c
				fmt.Println("Gracefully shutting down...")
				scheduler.Stop()
				broadcaster.Shutdown()
				app.ShutdownWithTimeout(60 * time.Second)
			}()

			addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
			if err := app.Listen(addr); err != nil {
				return fmt.Errorf("server error: %w", err)
			}

			fmt.Println("Done!")
			return nil
		},
	}
}
