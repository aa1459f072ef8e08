package main

import (
	"context"
	"errors"
	"io"
	"strconv"
	"strings"

	"github.com/chzyer/readline"
	"github.com/urfave/cli/v2"

	"github.com/mklimuk/i2cmaster/cmd/i2c/console"
)

var shellCmd = cli.Command{
	Name:  "shell",
	Usage: "interactive session on one channel",
	Action: func(c *cli.Context) error {
		return withSession(c, func(ctx context.Context, s *session) error {
			items := []readline.PrefixCompleterInterface{
				readline.PcItem("help"),
				readline.PcItem("width"),
				readline.PcItem("exit"),
			}
			for _, o := range ops {
				items = append(items, readline.PcItem(o.name))
			}
			rl, err := readline.NewEx(&readline.Config{
				Prompt:          console.Bold("i2c> "),
				AutoComplete:    readline.NewPrefixCompleter(items...),
				InterruptPrompt: "^C",
				EOFPrompt:       "exit",
			})
			if err != nil {
				return err
			}
			defer rl.Close()
			sh := &shell{session: s, flags: opFlags{width: 8, yes: true}}
			for {
				line, err := rl.Readline()
				if errors.Is(err, readline.ErrInterrupt) {
					continue
				}
				if errors.Is(err, io.EOF) {
					return nil
				}
				if err != nil {
					return err
				}
				if done := sh.exec(ctx, line); done {
					return nil
				}
			}
		})
	},
}

type shell struct {
	session *session
	flags   opFlags
}

// exec runs one line and reports whether the shell should stop. Operation
// errors are printed and the session goes on.
func (sh *shell) exec(ctx context.Context, line string) bool {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false
	}
	switch fields[0] {
	case "exit", "quit":
		return true
	case "help":
		console.Printf("width <8|16>  memory address width, now %d\n", sh.flags.width)
		for _, o := range ops {
			console.Printf("%-8s %s\n", o.name, o.usage)
		}
		return false
	case "width":
		if len(fields) < 2 {
			console.Printf("%d\n", sh.flags.width)
			return false
		}
		w, err := strconv.Atoi(fields[1])
		if err != nil || (w != 8 && w != 16) {
			console.Errorf("width must be 8 or 16")
			return false
		}
		sh.flags.width = w
		return false
	}
	o, ok := findOp(fields[0])
	if !ok {
		console.Errorf("unknown command %q, try help", fields[0])
		return false
	}
	if err := o.call(ctx, sh.session, fields[1:], sh.flags); err != nil {
		console.Errorf("%s", err)
	}
	return false
}
