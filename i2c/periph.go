package i2c

import (
	"context"
	"fmt"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/physic"
)

var _ i2c.BusCloser = &Channel{}

// Tx implements periph's i2c.Bus: w is written, then r is read after a
// repeated start, all in one transaction.
func (c *Channel) Tx(addr uint16, w, r []byte) error {
	var units []Unit
	if len(w) > 0 || len(r) == 0 {
		units = append(units, Unit{Buf: w, Length: len(w), Direction: Write})
	}
	if len(r) > 0 {
		units = append(units, Unit{Buf: r, Length: len(r), Direction: Read})
	}
	return c.Execute(context.Background(), NewTransaction(addr, true, units...), false, 0)
}

// SetSpeed implements periph's i2c.Bus. The rate is programmed right away
// when the channel is initialized, otherwise on Init.
func (c *Channel) SetSpeed(f physic.Frequency) error {
	if f < physic.Hertz {
		return fmt.Errorf("invalid bus speed %s", f)
	}
	hz := uint32(f / physic.Hertz)
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.initialized {
		if err := c.programBaud(hz); err != nil {
			return err
		}
	}
	c.frequency = hz
	return nil
}

func (c *Channel) String() string {
	return fmt.Sprintf("I2C%d", c.id)
}
