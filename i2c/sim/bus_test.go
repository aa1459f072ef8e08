package sim

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBus_Trace(t *testing.T) {
	b := New()
	b.Attach(0x20, &Sink{Reply: []byte{0x0A}})
	b.Start()
	b.Transmit(0x20 << 1)
	b.Transmit(0x05)
	b.RepeatedStart()
	b.Transmit(0x20<<1 | 1)
	b.Receive(false)
	b.Stop()
	b.Start()
	b.Transmit(0x33 << 1)
	b.Stop()
	assert.Equal(t, []string{
		"S", "A 0x20 W ack", "W 0x05 ack",
		"Sr", "A 0x20 R ack", "R 0x0a nack", "P",
		"S", "A 0x33 W nack", "P",
	}, b.Trace())
}
