package i2c

import (
	"context"
	"fmt"

	"github.com/mklimuk/i2cmaster"
)

// ScanFirst and ScanLast bound the addresses probed by Scan, leaving out the
// general call, CBUS, high-speed and 10-bit prefixes.
const (
	ScanFirst uint16 = 0x08
	ScanLast  uint16 = 0x77
)

var (
	_ i2cmaster.I2CBus    = &Channel{}
	_ i2cmaster.MemoryBus = &Channel{}
	_ i2cmaster.Prober    = &Channel{}
)

// Send writes buf to the device at addr and returns the number of bytes the
// device acknowledged.
func (c *Channel) Send(ctx context.Context, addr uint16, buf []byte) (int, error) {
	u, err := WriteUnit(buf)
	if err != nil {
		return 0, err
	}
	tx := NewTransaction(addr, true, u)
	err = c.Execute(ctx, tx, false, c.opTimeout(ctx))
	return tx.Units[0].Transferred(), err
}

// Recv fills buf from the device at addr.
func (c *Channel) Recv(ctx context.Context, addr uint16, buf []byte) (int, error) {
	u, err := ReadUnit(buf)
	if err != nil {
		return 0, err
	}
	tx := NewTransaction(addr, true, u)
	err = c.Execute(ctx, tx, false, c.opTimeout(ctx))
	return tx.Units[0].Transferred(), err
}

// memAddress encodes the internal address pointer, most significant byte
// first.
func memAddress(memAddr uint16, width int) ([]byte, error) {
	switch width {
	case 8:
		if memAddr > 0xFF {
			return nil, fmt.Errorf("memory address %#x does not fit in 8 bits", memAddr)
		}
		return []byte{byte(memAddr)}, nil
	case 16:
		return []byte{byte(memAddr >> 8), byte(memAddr)}, nil
	default:
		return nil, fmt.Errorf("invalid memory address width %d, want 8 or 16", width)
	}
}

// MemRead sets the device pointer to memAddr and reads len(buf) bytes back
// in one transaction, turning the bus around with a repeated start.
func (c *Channel) MemRead(ctx context.Context, addr uint16, memAddr uint16, width int, buf []byte) error {
	ab, err := memAddress(memAddr, width)
	if err != nil {
		return err
	}
	w, err := WriteUnit(ab)
	if err != nil {
		return err
	}
	r, err := ReadUnit(buf)
	if err != nil {
		return err
	}
	tx := NewTransaction(addr, true, w, r)
	if err := c.Execute(ctx, tx, false, c.opTimeout(ctx)); err != nil {
		return fmt.Errorf("could not read %d bytes at %#x from %#x: %w", len(buf), memAddr, addr, err)
	}
	return nil
}

// MemWrite writes buf at memAddr. The pointer and the data go out as one
// write with no re-addressing in between.
func (c *Channel) MemWrite(ctx context.Context, addr uint16, memAddr uint16, width int, buf []byte) error {
	ab, err := memAddress(memAddr, width)
	if err != nil {
		return err
	}
	w, err := WriteUnit(ab)
	if err != nil {
		return err
	}
	d, err := WriteUnit(buf)
	if err != nil {
		return err
	}
	tx := NewTransaction(addr, true, w, d)
	if err := c.Execute(ctx, tx, false, c.opTimeout(ctx)); err != nil {
		return fmt.Errorf("could not write %d bytes at %#x to %#x: %w", len(buf), memAddr, addr, err)
	}
	return nil
}

// IsReady addresses the device with an empty write. A NACK on the address
// means no device is listening and is not an error.
func (c *Channel) IsReady(ctx context.Context, addr uint16) (bool, error) {
	u, err := NewUnit(nil, 0, Write)
	if err != nil {
		return false, err
	}
	tx := NewTransaction(addr, true, u)
	err = c.Execute(ctx, tx, false, c.opTimeout(ctx))
	switch {
	case err == nil:
		return true, nil
	case IsAddressNack(err):
		return false, nil
	default:
		return false, err
	}
}

// Scan returns the addresses that acknowledged, in ascending order.
func (c *Channel) Scan(ctx context.Context) ([]uint16, error) {
	var found []uint16
	for addr := ScanFirst; addr <= ScanLast; addr++ {
		ok, err := c.IsReady(ctx, addr)
		if err != nil {
			return found, fmt.Errorf("scan stopped at %#x: %w", addr, err)
		}
		if ok {
			found = append(found, addr)
		}
	}
	return found, nil
}

func (c *Channel) ReadFromAddr(ctx context.Context, address byte, buffer []byte) error {
	if _, err := c.Recv(ctx, uint16(address), buffer); err != nil {
		return fmt.Errorf("could not read from i2c bus %x: %w", address, err)
	}
	return nil
}

func (c *Channel) WriteToAddr(ctx context.Context, address byte, buffer []byte) error {
	if _, err := c.Send(ctx, uint16(address), buffer); err != nil {
		return fmt.Errorf("could not write to i2c bus %x: %w", address, err)
	}
	return nil
}

// Release sends the stop owed by a transaction that left the bus held.
func (c *Channel) Release(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.held {
		return nil
	}
	c.logger.Debug("releasing held bus")
	if c.seg != nil {
		c.held = false
		return c.seg.Reset(ctx)
	}
	tx := &Transaction{Address: c.currentAddress}
	e := newByteEngine(ctx, c, c.hw, tx, c.clock.Now().Add(c.opTimeout(ctx)))
	if err := e.release(ctx); err != nil {
		return e.fail(err)
	}
	return nil
}
