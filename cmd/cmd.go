package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"
	"github.com/webitel/im-mailbox-service/config"
)

const (
	ServiceName      = "im-mailbox-service"
	ServiceNamespace = "webitel"
)

var (
	version        = "0.0.0"
	commit         = "hash"
	commitDate     = time.Now().String()
	branch         = "branch"
	buildTimestamp = ""
)

func Run() error {
	app := &cli.App{
		Name:  ServiceName,
		Usage: "In-memory presence and message delivery for the Webitel platform",
		Commands: []*cli.Command{
			serverCmd(),
			versionCmd(),
		},
	}

	return app.Run(os.Args)
}

func serverCmd() *cli.Command {
	return &cli.Command{
		Name:      "server",
		Aliases:   []string{"s"},
		Usage:     "Run the HTTP/WebSocket server",
		ArgsUsage: "[--service.address=:8080 --gc.enabled=false ...]",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config_file",
				Usage:   "Path to the configuration file",
				EnvVars: []string{config.EnvPrefix + "_CONFIG_FILE"},
			},
		},
		Action: func(c *cli.Context) error {
			// [OVERRIDES] Trailing arguments are config keys, parsed by pflag.
			flags := config.Flags()
			if err := flags.Parse(c.Args().Slice()); err != nil {
				return fmt.Errorf("parse overrides: %w", err)
			}

			provider, err := config.NewProvider(c.String("config_file"), flags)
			if err != nil {
				return err
			}
			app := NewApp(provider)

			if err := app.Start(c.Context); err != nil {
				return err
			}

			stop := make(chan os.Signal, 1)
			signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
			<-stop

			slog.Info("Shutting down...")
			ctx, cancel := context.WithTimeout(context.Background(), app.StopTimeout())
			defer cancel()
			return app.Stop(ctx)
		},
	}
}

func versionCmd() *cli.Command {
	return &cli.Command{
		Name:  "version",
		Usage: "Print build information",
		Action: func(c *cli.Context) error {
			_, err := fmt.Fprintf(c.App.Writer, "%s/%s %s (commit %s, branch %s, date %s, built %s)\n",
				ServiceNamespace, ServiceName, version, commit, branch, commitDate, buildTimestamp)
			return err
		},
	}
}
