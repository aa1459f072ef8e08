// Package gobotbus runs the transaction engine on the I2C buses of gobot
// platform adaptors (NanoPi, Raspberry Pi, ...).
package gobotbus

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"go.uber.org/multierr"
	"gobot.io/x/gobot/v2/drivers/i2c"
	"gobot.io/x/gobot/v2/platforms/friendlyelec/nanopi"

	busi2c "github.com/mklimuk/i2cmaster/i2c"
	"github.com/mklimuk/i2cmaster/hostbus"
)

var _ busi2c.SegmentBackend = &Bus{}

type finalizer interface {
	Finalize() error
}

// Bus keeps one gobot connection per target address. gobot connections
// move plain reads and writes, each closed by a stop, so a write that keeps
// the bus is buffered until the segment that follows it.
type Bus struct {
	mu        sync.Mutex
	connector i2c.Connector
	busNr     int
	conns     map[uint16]i2c.Connection
	pending   []byte
	addr      uint16
	held      bool
	logger    *slog.Logger
}

type Option func(*Bus)

// WithBus selects the adaptor bus number instead of its default one.
func WithBus(nr int) Option {
	return func(b *Bus) {
		b.busNr = nr
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(b *Bus) {
		b.logger = l
	}
}

func New(connector i2c.Connector, opts ...Option) *Bus {
	b := &Bus{
		connector: connector,
		busNr:     connector.DefaultI2cBus(),
		conns:     make(map[uint16]i2c.Connection),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.logger = b.logger.With("gobot_bus", b.busNr)
	return b
}

// NewNanoPi connects a NanoPi NEO adaptor and opens one of its buses.
func NewNanoPi(opts ...Option) (*Bus, error) {
	npi := nanopi.NewNeoAdaptor()
	if err := npi.Connect(); err != nil {
		return nil, fmt.Errorf("adaptor connect error: %w", err)
	}
	return New(npi, opts...), nil
}

func (b *Bus) connection(addr uint16) (i2c.Connection, error) {
	if c, ok := b.conns[addr]; ok {
		return c, nil
	}
	c, err := b.connector.GetI2cConnection(int(addr), b.busNr)
	if err != nil {
		return nil, fmt.Errorf("could not open connection to %#x on bus %d: %w", addr, b.busNr, err)
	}
	b.conns[addr] = c
	return c, nil
}

// ProgramBaud only logs: the clock of gobot buses is set by the platform.
func (b *Bus) ProgramBaud(hz uint32) error {
	b.logger.Debug("bus clock is fixed by the platform", "requested", hz)
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
	conn, err := b.connection(seg.Address)
	if err != nil {
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
			// quick read probe, an empty write never reaches the bus
			if _, err := conn.ReadByte(); err != nil {
				return 0, fmt.Errorf("probe of %#x failed: %w", seg.Address, hostbus.Classify(err))
			}
			return 0, nil
		}
		if _, err := conn.Write(w); err != nil {
			return 0, fmt.Errorf("write to %#x failed: %w", seg.Address, hostbus.Classify(err))
		}
		return len(seg.Buf), nil
	}
	if len(w) > 0 {
		// the pointer write and the read go out as two messages
		if _, err := conn.Write(w); err != nil {
			return 0, fmt.Errorf("write to %#x failed: %w", seg.Address, hostbus.Classify(err))
		}
	}
	n, err := conn.Read(seg.Buf)
	if err != nil {
		return n, fmt.Errorf("read from %#x failed: %w", seg.Address, hostbus.Classify(err))
	}
	return n, nil
}

// flush writes a held write on its own. Must be called with mu held.
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
	conn, err := b.connection(addr)
	if err != nil {
		return err
	}
	b.logger.Debug("sending held write", "addr", addr, "len", len(w))
	if _, err := conn.Write(w); err != nil {
		return fmt.Errorf("held write to %#x failed: %w", addr, hostbus.Classify(err))
	}
	return nil
}

// Reset sends a buffered write, the stop the caller owes the bus.
func (b *Bus) Reset(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.flush()
}

// Close closes every connection and finalizes the adaptor when it supports it.
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	var err error
	for addr, c := range b.conns {
		err = multierr.Append(err, c.Close())
		delete(b.conns, addr)
	}
	if f, ok := b.connector.(finalizer); ok {
		err = multierr.Append(err, f.Finalize())
	}
	return err
}
