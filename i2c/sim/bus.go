// Package sim is a simulated RIIC-style controller with targets attached by
// address. It completes commands immediately or after a latency measured on
// an injectable clock, and can signal completions like an interrupt.
package sim

import (
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/mklimuk/i2cmaster/i2c"
)

var (
	_ i2c.Backend  = &Bus{}
	_ i2c.Signaler = &Bus{}
)

type phase int

const (
	idle phase = iota
	started
	addressed
)

type Bus struct {
	mu      sync.Mutex
	devices map[uint16]Device

	flags   i2c.Flags
	pending i2c.Flags
	readyAt time.Time
	phase   phase
	target  Device
	read    bool
	data    byte
	bytes   int
	trace   []string

	foreignBusy bool
	hangNext    bool
	hang        bool
	stuck       bool
	loseAfter   int

	latency time.Duration
	clock   clock.Clock
	events  chan struct{}
	onPoll  func()

	family    i2c.Family
	frequency uint32
	params    i2c.ClockParams
	resets    int
}

type Option func(*Bus)

// WithLatency delays the completion of every command by d.
func WithLatency(d time.Duration) Option {
	return func(b *Bus) {
		b.latency = d
	}
}

func WithClock(clk clock.Clock) Option {
	return func(b *Bus) {
		b.clock = clk
	}
}

// WithInterrupts makes the bus signal every completion on Events.
func WithInterrupts() Option {
	return func(b *Bus) {
		b.events = make(chan struct{}, 1)
	}
}

// WithPollHook installs a function called on every Flags poll, before the
// flags are sampled. Tests use it to advance a mock clock.
func WithPollHook(fn func()) Option {
	return func(b *Bus) {
		b.onPoll = fn
	}
}

// WithFamily makes ProgramBaud compute the divider registers of the family.
func WithFamily(f i2c.Family) Option {
	return func(b *Bus) {
		b.family = f
	}
}

func New(opts ...Option) *Bus {
	b := &Bus{
		devices:   make(map[uint16]Device),
		clock:     clock.New(),
		loseAfter: -1,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Attach places dev at addr, replacing whatever was there.
func (b *Bus) Attach(addr uint16, dev Device) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.devices[addr] = dev
}

func (b *Bus) Detach(addr uint16) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.devices, addr)
}

// SetBusy simulates another controller holding the bus.
func (b *Bus) SetBusy(busy bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.foreignBusy = busy
}

// SetHang makes every byte transfer stall until the bus is reset, like a
// target stretching the clock forever.
func (b *Bus) SetHang(hang bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.hang = hang
}

// HangNext stalls only the next byte transfer.
func (b *Bus) HangNext() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.hangNext = true
}

// LoseArbitrationAfter reports arbitration loss on the byte following the
// first n bytes transmitted; a negative n disables it.
func (b *Bus) LoseArbitrationAfter(n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.loseAfter = n
	b.bytes = 0
}

// Trace returns the conditions seen on the wire since the last ClearTrace:
// "S", "Sr", "P", "A 0x20 W ack", "W 0x01 ack", "R 0xaa nack" and so on.
func (b *Bus) Trace() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.trace...)
}

func (b *Bus) ClearTrace() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.trace = nil
}

// Frequency returns the last programmed rate and its register values.
func (b *Bus) Frequency() (uint32, i2c.ClockParams) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.frequency, b.params
}

// Resets counts the calls to Reset.
func (b *Bus) Resets() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.resets
}

// Idle reports whether the simulated controller holds no part of the bus.
func (b *Bus) Idle() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.phase == idle && !b.stuck
}

func (b *Bus) Events() <-chan struct{} {
	return b.events
}

func (b *Bus) ProgramBaud(hz uint32) error {
	if hz == 0 {
		return fmt.Errorf("bus frequency must be positive")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.family != "" {
		p, err := i2c.Divider(b.family, hz)
		if err != nil {
			return err
		}
		b.params = p
	}
	b.frequency = hz
	return nil
}

func (b *Bus) Flags() i2c.Flags {
	if b.onPoll != nil {
		b.onPoll()
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.pending != 0 && !b.clock.Now().Before(b.readyAt) {
		b.flags |= b.pending
		b.pending = 0
	}
	f := b.flags
	if b.phase != idle || b.stuck || b.foreignBusy {
		f |= i2c.FlagBusBusy
	}
	return f
}

func (b *Bus) Start() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.flags &^= i2c.FlagStart | i2c.FlagStop | i2c.FlagNack | i2c.FlagTransmitted | i2c.FlagReceived
	b.phase = started
	b.target = nil
	b.trace = append(b.trace, "S")
	b.complete(i2c.FlagStart)
}

func (b *Bus) RepeatedStart() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.flags &^= i2c.FlagStart | i2c.FlagNack | i2c.FlagTransmitted | i2c.FlagReceived
	b.phase = started
	b.target = nil
	b.trace = append(b.trace, "Sr")
	b.complete(i2c.FlagStart)
}

func (b *Bus) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.flags &^= i2c.FlagStop | i2c.FlagTransmitted | i2c.FlagReceived
	if b.stuck {
		// SCL held low by the target: no stop can be generated
		return
	}
	if b.target != nil {
		b.target.Stop()
	}
	b.phase = idle
	b.target = nil
	b.trace = append(b.trace, "P")
	b.complete(i2c.FlagStop)
}

func (b *Bus) Transmit(v byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.flags &^= i2c.FlagTransmitted | i2c.FlagNack
	if b.stall() {
		return
	}
	if b.loseAfter >= 0 && b.bytes >= b.loseAfter {
		b.trace = append(b.trace, fmt.Sprintf("AL 0x%02x", v))
		b.phase = idle
		b.target = nil
		b.complete(i2c.FlagArbitrationLost)
		return
	}
	b.bytes++
	var ack bool
	if b.phase == started {
		addr := uint16(v >> 1)
		b.read = v&0x01 == 1
		dev, ok := b.devices[addr]
		ack = ok && dev.Start(b.read)
		if ack {
			b.target = dev
			b.phase = addressed
		}
		rw := "W"
		if b.read {
			rw = "R"
		}
		b.trace = append(b.trace, fmt.Sprintf("A 0x%02x %s %s", addr, rw, ackString(ack)))
	} else {
		ack = b.target != nil && !b.read && b.target.Write(v)
		b.trace = append(b.trace, fmt.Sprintf("W 0x%02x %s", v, ackString(ack)))
	}
	if ack {
		b.complete(i2c.FlagTransmitted)
	} else {
		b.complete(i2c.FlagTransmitted | i2c.FlagNack)
	}
}

func (b *Bus) Receive(ack bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.flags &^= i2c.FlagReceived
	if b.stall() {
		return
	}
	b.data = 0xFF
	if b.target != nil && b.read {
		b.data = b.target.Read()
	}
	b.trace = append(b.trace, fmt.Sprintf("R 0x%02x %s", b.data, ackString(ack)))
	b.complete(i2c.FlagReceived)
}

func (b *Bus) Data() byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.data
}

// Reset aborts the transfer in progress and frees the lines.
func (b *Bus) Reset() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.resets++
	b.flags = 0
	b.pending = 0
	b.phase = idle
	b.target = nil
	b.stuck = false
	b.bytes = 0
	b.trace = append(b.trace, "reset")
	return nil
}

// stall reports whether the current byte transfer never completes.
func (b *Bus) stall() bool {
	if b.hangNext || b.hang {
		b.hangNext = false
		b.stuck = true
		b.trace = append(b.trace, "stall")
		return true
	}
	return b.stuck
}

// complete sets f now or after the latency, and signals the completion when
// interrupts are enabled. Must be called with mu held.
func (b *Bus) complete(f i2c.Flags) {
	if b.latency <= 0 {
		b.flags |= f
		b.notify()
		return
	}
	b.pending |= f
	b.readyAt = b.clock.Now().Add(b.latency)
	if b.events != nil {
		b.clock.AfterFunc(b.latency, b.notify)
	}
}

func (b *Bus) notify() {
	if b.events == nil {
		return
	}
	select {
	case b.events <- struct{}{}:
	default:
	}
}

func ackString(ack bool) string {
	if ack {
		return "ack"
	}
	return "nack"
}
