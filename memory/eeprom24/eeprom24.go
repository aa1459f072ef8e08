// Package eeprom24 drives 24xx-series I2C serial EEPROMs (24C02 up to
// 24C512) on top of any bus offering memory reads and writes.
//
// Writes are split on page boundaries as the devices require, and every page
// write is followed by acknowledge polling until the internal write cycle
// completes. Devices of up to 2 KiB with an 8-bit word address select the
// 256 byte block through the low bits of the device address.
//
// Example usage:
//
//	e, _ := eeprom24.New(ch, 0x50, eeprom24.M24C64)
//	err := e.Write(ctx, 0x1000, []byte("i2c-rocks"))
//	buf := make([]byte, 16)
//	err = e.Read(ctx, 0x0000, buf)
package eeprom24

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mklimuk/i2cmaster"
)

// Bus is what the driver needs from the I2C channel.
type Bus interface {
	i2cmaster.MemoryBus
	IsReady(ctx context.Context, address uint16) (bool, error)
}

// Model describes one part of the family.
type Model struct {
	Name     string
	Capacity int
	PageSize int
	// Width is the word address size in bits.
	Width int
}

var (
	M24C02  = Model{Name: "24C02", Capacity: 256, PageSize: 8, Width: 8}
	M24C04  = Model{Name: "24C04", Capacity: 512, PageSize: 16, Width: 8}
	M24C08  = Model{Name: "24C08", Capacity: 1024, PageSize: 16, Width: 8}
	M24C16  = Model{Name: "24C16", Capacity: 2048, PageSize: 16, Width: 8}
	M24C32  = Model{Name: "24C32", Capacity: 4096, PageSize: 32, Width: 16}
	M24C64  = Model{Name: "24C64", Capacity: 8192, PageSize: 32, Width: 16}
	M24C128 = Model{Name: "24C128", Capacity: 16384, PageSize: 64, Width: 16}
	M24C256 = Model{Name: "24C256", Capacity: 32768, PageSize: 64, Width: 16}
	M24C512 = Model{Name: "24C512", Capacity: 65536, PageSize: 128, Width: 16}
)

var Models = []Model{M24C02, M24C04, M24C08, M24C16, M24C32, M24C64, M24C128, M24C256, M24C512}

// ParseModel accepts the part name with or without vendor letters
// ("24LC256", "AT24C02", "24c16").
func ParseModel(name string) (Model, error) {
	n := strings.ToUpper(name)
	for _, prefix := range []string{"AT", "M", "CAT"} {
		n = strings.TrimPrefix(n, prefix)
	}
	for _, letters := range []string{"LC", "AA", "FC"} {
		n = strings.Replace(n, "24"+letters, "24C", 1)
	}
	for _, m := range Models {
		if m.Name == n {
			return m, nil
		}
	}
	return Model{}, fmt.Errorf("unknown EEPROM model %q", name)
}

const blockSize = 256

const (
	DefaultWriteTimeout = 10 * time.Millisecond
	defaultPollInterval = 500 * time.Microsecond
)

type EEPROM struct {
	bus          Bus
	addr         uint16
	model        Model
	writeTimeout time.Duration
	pollInterval time.Duration
}

type Option func(*EEPROM)

// WithWriteTimeout bounds the wait for the internal write cycle of a page.
func WithWriteTimeout(d time.Duration) Option {
	return func(e *EEPROM) {
		e.writeTimeout = d
	}
}

func WithPollInterval(d time.Duration) Option {
	return func(e *EEPROM) {
		e.pollInterval = d
	}
}

func New(bus Bus, addr uint16, model Model, opts ...Option) (*EEPROM, error) {
	if model.Capacity <= 0 || model.PageSize <= 0 {
		return nil, fmt.Errorf("invalid model %+v", model)
	}
	if model.Width != 8 && model.Width != 16 {
		return nil, fmt.Errorf("model %s: unsupported word address width %d", model.Name, model.Width)
	}
	blocks := 1
	if model.Width == 8 {
		blocks = (model.Capacity + blockSize - 1) / blockSize
	}
	if int(addr)+blocks-1 > 0x7F || int(addr)&(blocks-1) != 0 {
		return nil, fmt.Errorf("model %s needs %d aligned device addresses from %#x", model.Name, blocks, addr)
	}
	e := &EEPROM{
		bus:          bus,
		addr:         addr,
		model:        model,
		writeTimeout: DefaultWriteTimeout,
		pollInterval: defaultPollInterval,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

func (e *EEPROM) Model() Model {
	return e.model
}

// locate returns the device address and word address of offset.
func (e *EEPROM) locate(offset int) (uint16, uint16) {
	if e.model.Width == 16 {
		return e.addr, uint16(offset)
	}
	return e.addr + uint16(offset/blockSize), uint16(offset % blockSize)
}

func (e *EEPROM) checkRange(offset, length int) error {
	if offset < 0 || length < 0 || offset+length > e.model.Capacity {
		return fmt.Errorf("range %#x+%d out of %s capacity %d", offset, length, e.model.Name, e.model.Capacity)
	}
	return nil
}

// Read fills buf with the memory content starting at offset.
func (e *EEPROM) Read(ctx context.Context, offset int, buf []byte) error {
	if err := e.checkRange(offset, len(buf)); err != nil {
		return err
	}
	for done := 0; done < len(buf); {
		chunk := buf[done:]
		if e.model.Width == 8 {
			// sequential reads do not cross into the next block address
			space := blockSize - (offset+done)%blockSize
			chunk = chunk[:min(len(chunk), space)]
		}
		dev, word := e.locate(offset + done)
		if err := e.bus.MemRead(ctx, dev, word, e.model.Width, chunk); err != nil {
			return fmt.Errorf("eeprom read at %#x failed: %w", offset+done, err)
		}
		done += len(chunk)
	}
	return nil
}

// Write stores data at offset, one page write per page touched.
func (e *EEPROM) Write(ctx context.Context, offset int, data []byte) error {
	if err := e.checkRange(offset, len(data)); err != nil {
		return err
	}
	for done := 0; done < len(data); {
		at := offset + done
		space := e.model.PageSize - at%e.model.PageSize
		chunk := data[done:]
		chunk = chunk[:min(len(chunk), space)]
		if err := e.pageWrite(ctx, at, chunk); err != nil {
			return err
		}
		done += len(chunk)
	}
	return nil
}

func (e *EEPROM) pageWrite(ctx context.Context, offset int, data []byte) error {
	dev, word := e.locate(offset)
	if err := e.bus.MemWrite(ctx, dev, word, e.model.Width, data); err != nil {
		return fmt.Errorf("eeprom page write at %#x failed: %w", offset, err)
	}
	return e.waitUntilReady(ctx, dev)
}

// waitUntilReady polls the device address until the write cycle is over;
// the device does not acknowledge while it programs the page.
func (e *EEPROM) waitUntilReady(ctx context.Context, dev uint16) error {
	deadline := time.Now().Add(e.writeTimeout)
	for {
		ok, err := e.bus.IsReady(ctx, dev)
		if err != nil {
			return fmt.Errorf("eeprom ack polling failed: %w", err)
		}
		if ok {
			return nil
		}
		if !time.Now().Before(deadline) {
			return fmt.Errorf("write cycle of %#x not finished after %s: %w", dev, e.writeTimeout, i2cmaster.ErrTimeout)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(e.pollInterval):
		}
	}
}
