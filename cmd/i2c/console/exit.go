package console

import (
	"fmt"

	"github.com/urfave/cli/v2"
)

// Exit codes returned by the commands.
const (
	CodeError    = 1
	CodeNotFound = 2
	CodeUsage    = 3
)

func Exit(code int, msg string, args ...interface{}) cli.ExitCoder {
	return cli.Exit(fmt.Sprintf(msg, args...), code)
}

// Usage reports a command line mistake.
func Usage(msg string, args ...interface{}) cli.ExitCoder {
	return Exit(CodeUsage, msg, args...)
}
