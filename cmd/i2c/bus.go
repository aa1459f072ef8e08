package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"

	"github.com/mklimuk/i2cmaster/cmd/i2c/console"
	"github.com/mklimuk/i2cmaster/i2c"
)

// opFlags carries the options shared by the command line and the shell.
type opFlags struct {
	width int
	yes   bool
}

// op is one bus operation reachable from both the cli and the shell.
type op struct {
	name  string
	usage string
	args  int
	run   func(ctx context.Context, s *session, args []string, f opFlags) error
}

var ops = []op{
	{"scan", "", 0, runScan},
	{"probe", "<addr>", 1, runProbe},
	{"send", "<addr> <hex>...", 1, runSend},
	{"recv", "<addr> <n>", 2, runRecv},
	{"memread", "<addr> <mem> <n>", 3, runMemRead},
	{"memwrite", "<addr> <mem> <hex>...", 2, runMemWrite},
	{"status", "", 0, runStatus},
}

func findOp(name string) (op, bool) {
	for _, o := range ops {
		if o.name == name {
			return o, true
		}
	}
	return op{}, false
}

func (o op) call(ctx context.Context, s *session, args []string, f opFlags) error {
	if len(args) < o.args {
		return console.Usage("usage: %s %s", o.name, o.usage)
	}
	return o.run(ctx, s, args, f)
}

var widthFlag = &cli.IntFlag{
	Name:  "width",
	Usage: "memory address width in bits (8 or 16)",
	Value: 8,
}

func opAction(name string) cli.ActionFunc {
	return func(c *cli.Context) error {
		o, _ := findOp(name)
		f := opFlags{width: c.Int("width"), yes: c.Bool("yes")}
		return withSession(c, func(ctx context.Context, s *session) error {
			return o.call(ctx, s, c.Args().Slice(), f)
		})
	}
}

var scanCmd = cli.Command{
	Name:   "scan",
	Usage:  "list the addresses that acknowledge",
	Action: opAction("scan"),
}

var probeCmd = cli.Command{
	Name:      "probe",
	Usage:     "check whether a device acknowledges its address",
	ArgsUsage: "<addr>",
	Action:    opAction("probe"),
}

var sendCmd = cli.Command{
	Name:      "send",
	Usage:     "write bytes to a device",
	ArgsUsage: "<addr> <hex>...",
	Action:    opAction("send"),
}

var recvCmd = cli.Command{
	Name:      "recv",
	Usage:     "read bytes from a device",
	ArgsUsage: "<addr> <n>",
	Action:    opAction("recv"),
}

var memReadCmd = cli.Command{
	Name:      "memread",
	Usage:     "read device memory from an internal address",
	ArgsUsage: "<addr> <mem> <n>",
	Flags:     []cli.Flag{widthFlag},
	Action:    opAction("memread"),
}

var memWriteCmd = cli.Command{
	Name:      "memwrite",
	Usage:     "write device memory at an internal address",
	ArgsUsage: "<addr> <mem> <hex>...",
	Flags: []cli.Flag{
		widthFlag,
		&cli.BoolFlag{Name: "yes", Aliases: []string{"y"}, Usage: "do not ask for confirmation"},
	},
	Action: opAction("memwrite"),
}

var statusCmd = cli.Command{
	Name:   "status",
	Usage:  "print the channel state",
	Action: opAction("status"),
}

func runScan(ctx context.Context, s *session, _ []string, _ opFlags) error {
	found, err := s.ch.Scan(ctx)
	if err != nil {
		return console.Exit(console.CodeError, "scan failed: %s", console.Red(err))
	}
	printGrid(found)
	if len(found) == 0 {
		console.PInfof(console.PictoStop, "no devices found")
		return nil
	}
	console.PInfof(console.PictoFound, "%d device(s) found", len(found))
	return nil
}

// printGrid prints the scan result the way i2cdetect does.
func printGrid(found []uint16) {
	present := make(map[uint16]bool, len(found))
	for _, a := range found {
		present[a] = true
	}
	var b strings.Builder
	b.WriteString("    ")
	for col := 0; col < 16; col++ {
		fmt.Fprintf(&b, "  %x", col)
	}
	b.WriteString("\n")
	for row := uint16(0); row < 0x80; row += 16 {
		fmt.Fprintf(&b, "%02x:", row)
		for col := uint16(0); col < 16; col++ {
			addr := row + col
			switch {
			case addr < i2c.ScanFirst || addr > i2c.ScanLast:
				b.WriteString("   ")
			case present[addr]:
				b.WriteString(" " + console.Green(fmt.Sprintf("%02x", addr)))
			default:
				b.WriteString(" --")
			}
		}
		b.WriteString("\n")
	}
	console.Print(b.String())
}

func runProbe(ctx context.Context, s *session, args []string, _ opFlags) error {
	addr, err := parseAddr(args[0])
	if err != nil {
		return console.Usage("%s", err)
	}
	ok, err := s.ch.IsReady(ctx, addr)
	if err != nil {
		return console.Exit(console.CodeError, "probe failed: %s", console.Red(err))
	}
	if !ok {
		return console.Exit(console.CodeNotFound, "%s %s does not acknowledge", console.PictoStop, console.Addr(addr))
	}
	console.PInfof(console.PictoFound, "%s is ready", console.Addr(addr))
	return nil
}

func runSend(ctx context.Context, s *session, args []string, _ opFlags) error {
	addr, err := parseAddr(args[0])
	if err != nil {
		return console.Usage("%s", err)
	}
	data, err := parseHex(args[1:]...)
	if err != nil {
		return console.Usage("%s", err)
	}
	n, err := s.ch.Send(ctx, addr, data)
	if err != nil {
		return console.Exit(console.CodeError, "send to %s failed after %d byte(s): %s", console.Addr(addr), n, console.Red(err))
	}
	console.Infof("%d byte(s) sent to %s", n, console.Addr(addr))
	return nil
}

func runRecv(ctx context.Context, s *session, args []string, _ opFlags) error {
	addr, err := parseAddr(args[0])
	if err != nil {
		return console.Usage("%s", err)
	}
	n, err := parseUint(args[1], i2c.MaxUnitLength)
	if err != nil {
		return console.Usage("%s", err)
	}
	buf := make([]byte, n)
	got, err := s.ch.Recv(ctx, addr, buf)
	if err != nil {
		return console.Exit(console.CodeError, "receive from %s failed after %d byte(s): %s", console.Addr(addr), got, console.Red(err))
	}
	console.Dump(0, buf[:got])
	return nil
}

func memArgs(args []string, width int) (uint16, uint16, error) {
	if width != 8 && width != 16 {
		return 0, 0, fmt.Errorf("width must be 8 or 16, got %d", width)
	}
	addr, err := parseAddr(args[0])
	if err != nil {
		return 0, 0, err
	}
	mem, err := parseUint(args[1], 1<<width-1)
	if err != nil {
		return 0, 0, fmt.Errorf("memory address: %w", err)
	}
	return addr, uint16(mem), nil
}

func runMemRead(ctx context.Context, s *session, args []string, f opFlags) error {
	addr, mem, err := memArgs(args, f.width)
	if err != nil {
		return console.Usage("%s", err)
	}
	n, err := parseUint(args[2], i2c.MaxUnitLength)
	if err != nil {
		return console.Usage("%s", err)
	}
	buf := make([]byte, n)
	if err := s.ch.MemRead(ctx, addr, mem, f.width, buf); err != nil {
		return console.Exit(console.CodeError, "memory read from %s failed: %s", console.Addr(addr), console.Red(err))
	}
	console.Dump(int(mem), buf)
	return nil
}

func runMemWrite(ctx context.Context, s *session, args []string, f opFlags) error {
	addr, mem, err := memArgs(args, f.width)
	if err != nil {
		return console.Usage("%s", err)
	}
	data, err := parseHex(args[2:]...)
	if err != nil {
		return console.Usage("%s", err)
	}
	if !f.yes {
		ok, err := console.Confirm(fmt.Sprintf("write %d byte(s) to %s at %#x?", len(data), console.Addr(addr), mem))
		if err != nil {
			return err
		}
		if !ok {
			console.PInfof(console.PictoStop, "aborted")
			return nil
		}
	}
	if err := s.ch.MemWrite(ctx, addr, mem, f.width, data); err != nil {
		return console.Exit(console.CodeError, "memory write to %s failed: %s", console.Addr(addr), console.Red(err))
	}
	console.PInfof(console.PictoDisk, "%d byte(s) written to %s at %#x", len(data), console.Addr(addr), mem)
	return nil
}

func runStatus(_ context.Context, s *session, _ []string, _ opFlags) error {
	enc := yaml.NewEncoder(console.Output())
	defer enc.Close()
	if err := enc.Encode(s.ch.State()); err != nil {
		return console.Exit(console.CodeError, "encoding error: %s", console.Red(err))
	}
	return nil
}
