// Package hostbus runs the transaction engine on I2C buses exposed by the
// host, through periph.io drivers (Linux i2c-dev, FTDI bridges and the like).
package hostbus

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/host/v3"

	"github.com/mklimuk/i2cmaster"
	busi2c "github.com/mklimuk/i2cmaster/i2c"
)

var _ busi2c.SegmentBackend = &Bus{}

// Bus adapts a periph bus to the segment engine. periph hands the kernel at
// most one write and one read per Tx, always ending with a stop, so a write
// segment that keeps the bus is buffered and sent together with the segment
// that follows it.
type Bus struct {
	mu      sync.Mutex
	bus     i2c.Bus
	pending []byte
	addr    uint16
	held    bool
	logger  *slog.Logger
}

// Open initializes the host drivers and opens the named bus ("" picks the
// first one).
func Open(name string) (*Bus, error) {
	state, err := host.Init()
	if err != nil {
		return nil, fmt.Errorf("could not init host: %w", err)
	}
	for _, driver := range state.Loaded {
		slog.Debug("host driver loaded", "driver", driver.String())
	}
	bus, err := i2creg.Open(name)
	if err != nil {
		return nil, fmt.Errorf("could not open i2c bus: %w", err)
	}
	return New(bus), nil
}

// Buses lists the names of the buses registered with periph.
func Buses() []string {
	var names []string
	for _, ref := range i2creg.All() {
		names = append(names, ref.Name)
	}
	return names
}

func New(bus i2c.Bus) *Bus {
	return &Bus{
		bus:    bus,
		logger: slog.Default().With("bus", bus.String()),
	}
}

func (b *Bus) ProgramBaud(hz uint32) error {
	if err := b.bus.SetSpeed(physic.Frequency(hz) * physic.Hertz); err != nil {
		return fmt.Errorf("could not set speed on %s: %w", b.bus, err)
	}
	return nil
}

func (b *Bus) Transfer(ctx context.Context, seg busi2c.Segment) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	var w []byte
	if b.held && b.addr == seg.Address {
		w = b.pending
		b.held = false
		b.pending = nil
	}
	if err := b.flush(); err != nil {
		return 0, err
	}
	if !seg.Read {
		w = append(w, seg.Buf...)
		if !seg.Stop {
			b.pending = w
			b.addr = seg.Address
			b.held = true
			return len(seg.Buf), nil
		}
		if len(w) == 0 {
			// empty messages never reach the bus; probe with a single byte read
			return 0, b.tx(seg.Address, nil, make([]byte, 1))
		}
		if err := b.tx(seg.Address, w, nil); err != nil {
			return 0, err
		}
		return len(seg.Buf), nil
	}
	if !seg.Stop {
		b.logger.Debug("read ends with stop on host buses", "addr", seg.Address)
	}
	if err := b.tx(seg.Address, w, seg.Buf); err != nil {
		return 0, err
	}
	return len(seg.Buf), nil
}

func (b *Bus) tx(addr uint16, w, r []byte) error {
	if err := b.bus.Tx(addr, w, r); err != nil {
		return fmt.Errorf("could not transfer to i2c bus %x: %w", addr, Classify(err))
	}
	return nil
}

// flush sends a held write on its own, closed by a stop. Must be called with
// mu held.
func (b *Bus) flush() error {
	if !b.held {
		return nil
	}
	w, addr := b.pending, b.addr
	b.held = false
	b.pending = nil
	if len(w) == 0 {
		return nil
	}
	b.logger.Debug("sending held write", "addr", addr, "len", len(w))
	if err := b.tx(addr, w, nil); err != nil {
		return fmt.Errorf("held write: %w", err)
	}
	return nil
}

// Reset sends a buffered write, the stop the caller owes the bus. The host
// driver leaves the bus idle after every Tx so there is nothing else to
// clear.
func (b *Bus) Reset(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.flush()
}

func (b *Bus) Close() error {
	if c, ok := b.bus.(i2c.BusCloser); ok {
		return c.Close()
	}
	return nil
}

func (b *Bus) String() string {
	return b.bus.String()
}

// driverErrors maps the errno texts Linux bus drivers report to bus errors.
// periph formats the errno into its message, so only the text survives.
// ENXIO is what the drivers return when the address byte is not
// acknowledged; EREMOTEIO is used for both phases.
var driverErrors = []struct {
	text    string
	kind    error
	address bool
}{
	{"remote i/o error", i2cmaster.ErrNack, false},
	{"no such device or address", i2cmaster.ErrNack, true},
	{"resource temporarily unavailable", i2cmaster.ErrArbitrationLost, false},
	{"device or resource busy", i2cmaster.ErrBusBusy, false},
	{"timed out", i2cmaster.ErrTimeout, false},
}

// Classify wraps a bus driver error with the matching bus error sentinel.
func Classify(err error) error {
	msg := strings.ToLower(err.Error())
	for _, de := range driverErrors {
		if !strings.Contains(msg, de.text) {
			continue
		}
		err = fmt.Errorf("%w: %w", de.kind, err)
		if de.address {
			err = busi2c.AddressNack(err)
		}
		return err
	}
	return err
}
