package main

import (
	"context"
	"log/slog"

	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"

	"github.com/mklimuk/i2cmaster/adapter"
	"github.com/mklimuk/i2cmaster/cmd/i2c/console"
	"github.com/mklimuk/i2cmaster/config"
)

var mcp2221Cmd = cli.Command{
	Name:  "mcp2221",
	Usage: "MCP2221 bridge maintenance",
	Subcommands: cli.Commands{
		&mcp2221StatusCmd,
		&mcp2221ReleaseCmd,
	},
}

var mcp2221StatusCmd = cli.Command{
	Name:  "status",
	Usage: "print the bridge I2C engine status",
	Action: func(c *cli.Context) error {
		return withBridge(c, (*adapter.MCP2221).Status)
	},
}

var mcp2221ReleaseCmd = cli.Command{
	Name:  "release",
	Usage: "cancel the current transfer and free the bus",
	Action: func(c *cli.Context) error {
		return withBridge(c, (*adapter.MCP2221).ReleaseBus)
	},
}

func withBridge(c *cli.Context, fn func(*adapter.MCP2221, context.Context) (*adapter.Status, error)) error {
	def, err := channelDef(c)
	if err != nil {
		return err
	}
	status, err := fn(adapter.NewMCP2221(bridgeOptions(def)...), commandContext(c))
	if err != nil {
		return console.Exit(console.CodeError, "adapter communication error: %s", console.Red(err))
	}
	enc := yaml.NewEncoder(console.Output())
	defer enc.Close()
	if err := enc.Encode(status); err != nil {
		return console.Exit(console.CodeError, "encoding error: %s", console.Red(err))
	}
	return nil
}

func bridgeOptions(def config.Channel) []adapter.Option {
	opts := []adapter.Option{adapter.WithLogger(slog.Default())}
	if def.Index != nil {
		opts = append(opts, adapter.WithIndex(*def.Index))
	}
	return opts
}
