package console

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDump(t *testing.T) {
	var out bytes.Buffer
	SetOutput(&out, &out)
	data := []byte("0123456789abcdefXYZ")

	Dump(0, data)
	assert.Contains(t, out.String(), "00000000  30 31 32 33")
	assert.Contains(t, out.String(), "00000010  58 59 5a")

	out.Reset()
	Dump(0x1000, data)
	assert.Contains(t, out.String(), "00001000  30 31 32 33")
	assert.Contains(t, out.String(), "00001010  58 59 5a")
	assert.Contains(t, out.String(), "|XYZ|")
}
