package main

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/mklimuk/i2cmaster/cmd/i2c/console"
	"github.com/mklimuk/i2cmaster/memory/eeprom24"
)

var eepromFlags = []cli.Flag{
	&cli.StringFlag{
		Name:  "model",
		Usage: "part name, e.g. 24C02 or 24LC256",
		Value: eeprom24.M24C02.Name,
	},
	&cli.StringFlag{
		Name:  "addr",
		Usage: "device address",
		Value: "0x50",
	},
}

var eepromCmd = cli.Command{
	Name:  "eeprom",
	Usage: "24xx serial EEPROM access",
	Subcommands: cli.Commands{
		&eepromReadCmd,
		&eepromWriteCmd,
		&eepromModelsCmd,
	},
}

var eepromReadCmd = cli.Command{
	Name:      "read",
	ArgsUsage: "<offset> <n>",
	Flags:     eepromFlags,
	Action: func(c *cli.Context) error {
		if c.NArg() < 2 {
			return console.Usage("usage: eeprom read <offset> <n>")
		}
		return withEEPROM(c, func(ctx context.Context, e *eeprom24.EEPROM) error {
			offset, err := parseUint(c.Args().Get(0), uint64(e.Model().Capacity-1))
			if err != nil {
				return console.Usage("offset: %s", err)
			}
			n, err := parseUint(c.Args().Get(1), uint64(e.Model().Capacity))
			if err != nil {
				return console.Usage("length: %s", err)
			}
			buf := make([]byte, n)
			if err := e.Read(ctx, int(offset), buf); err != nil {
				return console.Exit(console.CodeError, "%s", console.Red(err))
			}
			console.Dump(int(offset), buf)
			return nil
		})
	},
}

var eepromWriteCmd = cli.Command{
	Name:      "write",
	ArgsUsage: "<offset> <hex>...",
	Flags: append([]cli.Flag{
		&cli.BoolFlag{Name: "yes", Aliases: []string{"y"}, Usage: "do not ask for confirmation"},
	}, eepromFlags...),
	Action: func(c *cli.Context) error {
		if c.NArg() < 2 {
			return console.Usage("usage: eeprom write <offset> <hex>...")
		}
		data, err := parseHex(c.Args().Slice()[1:]...)
		if err != nil {
			return console.Usage("%s", err)
		}
		return withEEPROM(c, func(ctx context.Context, e *eeprom24.EEPROM) error {
			offset, err := parseUint(c.Args().Get(0), uint64(e.Model().Capacity-1))
			if err != nil {
				return console.Usage("offset: %s", err)
			}
			if !c.Bool("yes") {
				ok, err := console.Confirm(fmt.Sprintf("write %d byte(s) to %s at %#x?", len(data), e.Model().Name, offset))
				if err != nil {
					return err
				}
				if !ok {
					console.PInfof(console.PictoStop, "aborted")
					return nil
				}
			}
			if err := e.Write(ctx, int(offset), data); err != nil {
				return console.Exit(console.CodeError, "%s", console.Red(err))
			}
			console.PInfof(console.PictoDisk, "%d byte(s) written at %#x", len(data), offset)
			return nil
		})
	},
}

var eepromModelsCmd = cli.Command{
	Name:  "models",
	Usage: "list the supported parts",
	Action: func(c *cli.Context) error {
		for _, m := range eeprom24.Models {
			console.Printf("%-8s %6d bytes  page %3d  %2d-bit address\n", m.Name, m.Capacity, m.PageSize, m.Width)
		}
		return nil
	},
}

func withEEPROM(c *cli.Context, fn func(ctx context.Context, e *eeprom24.EEPROM) error) error {
	model, err := eeprom24.ParseModel(c.String("model"))
	if err != nil {
		return console.Usage("%s", err)
	}
	addr, err := parseAddr(c.String("addr"))
	if err != nil {
		return console.Usage("%s", err)
	}
	return withSession(c, func(ctx context.Context, s *session) error {
		e, err := eeprom24.New(s.ch, addr, model)
		if err != nil {
			return console.Usage("%s", err)
		}
		return fn(ctx, e)
	})
}
