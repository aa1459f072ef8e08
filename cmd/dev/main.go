package main

import (
	"log/slog"
	"os"
	"time"

	"github.com/charmbracelet/log"
	"github.com/muesli/termenv"
	"github.com/spf13/cobra"

	"github.com/mklimuk/i2cmaster/cmd/dev/cmd"
)

func main() {
	var debug bool
	root := &cobra.Command{
		Use:          "dev",
		Short:        "build and test tool for the i2c master cli",
		SilenceUsage: true,
		PersistentPreRun: func(c *cobra.Command, args []string) {
			charm := log.NewWithOptions(os.Stderr, log.Options{
				ReportTimestamp: true,
				TimeFormat:      time.Kitchen,
				Prefix:          "i2c-dev",
			})
			charm.SetColorProfile(termenv.ANSI256)
			charm.SetLevel(log.InfoLevel)
			if debug {
				charm.SetLevel(log.DebugLevel)
			}
			slog.SetDefault(slog.New(charm))
		},
	}
	flags := root.PersistentFlags()
	flags.BoolVar(&debug, "debug", false, "enable debug logging")
	// I2C_BOARD keeps the usual deployment target between runs
	flags.String("board", os.Getenv("I2C_BOARD"), "target board (nanopi, rpi), overrides os and arch")

	root.AddCommand(
		cmd.BuildCmd(),
		cmd.TestCmd(),
		cmd.LintCmd(),
		cmd.IntegrationTestCmd(),
		cmd.ChangelogCmd(),
	)
	if err := root.Execute(); err != nil {
		slog.Error("dev command failed", "error", err)
		os.Exit(1)
	}
}
