package main

import (
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"time"

	chlog "github.com/charmbracelet/log"
	"github.com/muesli/termenv"
	"github.com/urfave/cli/v2"

	"github.com/mklimuk/i2cmaster/i2c"
)

var version string
var commit string
var date string

func main() {
	os.Exit(run(os.Args))
}

func run(args []string) int {
	app := cli.NewApp()
	app.Name = "i2c"
	app.EnableBashCompletion = true
	app.Version = fmt.Sprintf("%s-%s-%s", version, date, commit)
	app.Usage = "i2c bus master cli"
	app.Flags = []cli.Flag{
		// -v is taken by --version
		&cli.BoolFlag{
			Name:  "verbose",
			Usage: "enable verbose logging",
		},
		&cli.BoolFlag{
			Name:  "trace",
			Usage: "log every byte moved on the bus",
		},
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Usage:   "channel definitions file",
			EnvVars: []string{"I2C_CONFIG"},
		},
		&cli.IntFlag{
			Name:  "channel",
			Usage: "channel id from the config file",
		},
		&cli.StringFlag{
			Name:  "backend",
			Usage: "override the channel backend (sim, bitbang, mcp2221, host, gobot)",
		},
		&cli.StringFlag{
			Name:  "frequency",
			Usage: "override the bus clock, e.g. 100kHz",
		},
		&cli.DurationFlag{
			Name:  "timeout",
			Usage: "per operation timeout",
			Value: i2c.DefaultTimeout,
		},
	}
	// errors are reported by run, not by the library
	app.ExitErrHandler = func(*cli.Context, error) {}
	app.Before = func(ctx *cli.Context) error {
		charm := chlog.NewWithOptions(os.Stderr, chlog.Options{
			ReportCaller:    true,
			ReportTimestamp: true,
			TimeFormat:      time.DateTime,
		})
		charm.SetColorProfile(termenv.TrueColor)
		charm.SetLevel(chlog.InfoLevel)
		if ctx.Bool("verbose") || ctx.Bool("trace") {
			charm.SetLevel(chlog.DebugLevel)
		}
		slog.SetDefault(slog.New(charm))
		return nil
	}
	app.Commands = cli.Commands{
		&scanCmd,
		&probeCmd,
		&sendCmd,
		&recvCmd,
		&memReadCmd,
		&memWriteCmd,
		&statusCmd,
		&eepromCmd,
		&shellCmd,
		&usbCmd,
		&mcp2221Cmd,
	}
	err := app.Run(args)
	if err != nil {
		var exerr cli.ExitCoder
		if errors.As(err, &exerr) {
			log.Printf("error: %v", err)
			return exerr.ExitCode()
		}
		log.Printf("unexpected error: %v", err)
		return 1
	}
	return 0
}
