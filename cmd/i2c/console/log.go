package console

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"
)

const PictoFound = "📌"
const PictoStop = "🚫"
const PictoDisk = "💾"

var writer io.Writer = os.Stdout
var errWriter io.Writer = os.Stderr

func SetOutput(w, errw io.Writer) {
	writer = w
	errWriter = errw
}

func Output() io.Writer {
	return writer
}

func Errorf(msg string, args ...interface{}) {
	_, _ = fmt.Fprintf(errWriter, "%s: %s\n", Red("ERROR"), fmt.Sprintf(msg, args...))
}

func Warnf(msg string, args ...interface{}) {
	_, _ = fmt.Fprintf(errWriter, "%s: %s\n", Yellow("WARN"), fmt.Sprintf(msg, args...))
}

func Infof(msg string, args ...interface{}) {
	_, _ = fmt.Fprintf(writer, "%s %s\n", White("..."), fmt.Sprintf(msg, args...))
}

func PInfof(picto, msg string, args ...interface{}) {
	_, _ = fmt.Fprintf(writer, "%s %s\n", picto, fmt.Sprintf(msg, args...))
}

func Print(msg string) {
	_, _ = fmt.Fprintln(writer, msg)
}

func Printf(msg string, args ...interface{}) {
	_, _ = fmt.Fprintf(writer, msg, args...)
}

// Dump prints data the way hexdump -C does, offsets starting at base.
func Dump(base int, data []byte) {
	d := hex.Dump(data)
	if base == 0 {
		_, _ = fmt.Fprint(writer, d)
		return
	}
	for _, line := range strings.SplitAfter(d, "\n") {
		if len(line) < 8 {
			_, _ = fmt.Fprint(writer, line)
			continue
		}
		var off int
		if _, err := fmt.Sscanf(line[:8], "%08x", &off); err != nil {
			_, _ = fmt.Fprint(writer, line)
			continue
		}
		_, _ = fmt.Fprintf(writer, "%08x%s", base+off, line[8:])
	}
}
