// Command refreshctl is a read-mostly operator CLI over the refreshd
// Store: it inspects jobs, watchers, and locks, and can trigger a manual
// recovery pass without restarting the daemon.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/jedib0t/go-pretty/table"
	"github.com/urfave/cli"

	"github.com/rgbtools/refreshd/store"
)

func main() {
	app := cli.NewApp()
	app.Name = "refreshctl"
	app.Usage = "inspect and operate a running refreshd deployment"
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:   "postgres.url",
			Usage:  "PostgreSQL connection string",
			EnvVar: "POSTGRES_URL",
		},
	}
	app.Commands = []cli.Command{
		jobsCommand,
		watchersCommand,
		locksCommand,
		recoverCommand,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "refreshctl:", err)
		os.Exit(1)
	}
}

func openStore(ctx *cli.Context) (*store.PostgresStore, error) {
	dsn := ctx.GlobalString("postgres.url")
	if dsn == "" {
		return nil, fmt.Errorf("postgres.url is required")
	}
	return store.NewPostgresStore(context.Background(), store.PoolConfig{
		DSN:            dsn,
		MinConnections: 1,
		MaxConnections: 2,
	})
}

var jobsCommand = cli.Command{
	Name:  "jobs",
	Usage: "inspect the job queue",
	Subcommands: []cli.Command{
		{
			Name:  "list",
			Usage: "list recent jobs across all wallets",
			Flags: []cli.Flag{
				cli.IntFlag{Name: "limit", Value: 50, Usage: "maximum rows to show"},
			},
			Action: func(ctx *cli.Context) error {
				s, err := openStore(ctx)
				if err != nil {
					return err
				}
				defer s.Close()

				jobs, err := s.ListJobs(context.Background(), ctx.Int("limit"))
				if err != nil {
					return err
				}

				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"JOB ID", "WALLET", "TRIGGER", "STATUS", "ATTEMPTS", "CREATED AT", "ERROR"})
				for _, j := range jobs {
					tw.AppendRow(table.Row{
						j.ID, j.Wallet.XpubVan, j.Trigger.Kind, j.Status,
						fmt.Sprintf("%d/%d", j.Attempts, j.MaxRetries),
						j.CreatedAt.Format("2006-01-02T15:04:05Z"), j.ErrorMessage,
					})
				}
				tw.Render()
				return nil
			},
		},
	},
}

var watchersCommand = cli.Command{
	Name:  "watchers",
	Usage: "inspect the transfer watcher registry",
	Subcommands: []cli.Command{
		{
			Name:  "list",
			Usage: "list every watcher across all wallets",
			Action: func(ctx *cli.Context) error {
				s, err := openStore(ctx)
				if err != nil {
					return err
				}
				defer s.Close()

				watchers, err := s.ListWatchers(context.Background())
				if err != nil {
					return err
				}

				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"WALLET", "RECIPIENT", "ASSET", "STATUS", "REFRESHES", "EXPIRES AT"})
				for _, w := range watchers {
					asset := w.AssetID
					if asset == "" {
						asset = "-"
					}
					tw.AppendRow(table.Row{
						w.Wallet.XpubVan, w.RecipientID, asset, w.Status,
						w.RefreshCount, w.ExpiresAt.Format("2006-01-02T15:04:05Z"),
					})
				}
				tw.Render()
				return nil
			},
		},
	},
}

var locksCommand = cli.Command{
	Name:  "locks",
	Usage: "inspect currently held wallet locks",
	Subcommands: []cli.Command{
		{
			Name:  "list",
			Usage: "list every unexpired wallet lock",
			Action: func(ctx *cli.Context) error {
				s, err := openStore(ctx)
				if err != nil {
					return err
				}
				defer s.Close()

				locks, err := s.ListLocks(context.Background())
				if err != nil {
					return err
				}

				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"WALLET", "LOCKED AT", "EXPIRES AT"})
				for _, l := range locks {
					tw.AppendRow(table.Row{
						l.XpubVan,
						l.LockedAt.Format("2006-01-02T15:04:05Z"),
						l.ExpiresAt.Format("2006-01-02T15:04:05Z"),
					})
				}
				tw.Render()
				return nil
			},
		},
	},
}

var recoverCommand = cli.Command{
	Name:  "recover",
	Usage: "re-enqueue recovery jobs for every watching watcher (spec's Store.recover(), invoked manually)",
	Flags: []cli.Flag{
		cli.IntFlag{
			Name:   "max-retries",
			Value:  10,
			Usage:  "max_retries stamped on each re-enqueued job; match the running daemon's MAX_REFRESH_RETRIES",
			EnvVar: "MAX_REFRESH_RETRIES",
		},
	},
	Action: func(ctx *cli.Context) error {
		s, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer s.Close()

		n, err := s.Recover(context.Background(), ctx.Int("max-retries"))
		if err != nil {
			return err
		}
		fmt.Printf("recovered %d watcher(s) into recovery jobs\n", n)
		return nil
	},
}
