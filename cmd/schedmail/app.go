package main

import (
	"io"

	"github.com/urfave/cli"
)

func newApp(out io.Writer) *cli.App {
	app := cli.NewApp()
	app.Name = "schedmail"
	app.HelpName = "schedmail"
	app.Usage = "schedule messages and deliver them exactly once"
	app.UsageText = "schedmail [global options] <command> [arguments...]"
	app.Version = version
	app.Writer = out
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:   "config, c",
			Usage:  "path to a YAML config file",
			EnvVar: "SCHEDMAIL_CONFIG",
		},
		cli.StringFlag{
			Name:  "env-file",
			Usage: "path to a .env file",
			Value: ".env",
		},
	}
	app.Commands = []cli.Command{
		{
			Name:   "serve",
			Usage:  "run the dispatch engine until interrupted",
			Action: serve,
		},
		{
			Name:      "schedule",
			Aliases:   []string{"s"},
			Usage:     "schedule a message",
			ArgsUsage: " ",
			Flags:     scheduleFlags,
			Action:    schedule,
		},
		{
			Name:    "list",
			Aliases: []string{"l"},
			Usage:   "list scheduled items",
			Flags:   listFlags,
			Action:  list,
		},
		{
			Name:      "get",
			Usage:     "show one item",
			ArgsUsage: "<id>",
			Action:    get,
		},
		{
			Name:      "cancel",
			Usage:     "cancel a scheduled item",
			ArgsUsage: "<id>",
			Action:    cancel,
		},
	}
	return app
}
