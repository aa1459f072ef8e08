package console

import (
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
)

func TestAddr(t *testing.T) {
	noColor := color.NoColor
	color.NoColor = true
	t.Cleanup(func() { color.NoColor = noColor })

	tests := []struct {
		addr uint16
		want string
	}{
		{0x00, "0x00"},
		{0x20, "0x20"},
		{0x7f, "0x7f"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, Addr(tt.addr))
		})
	}
}
