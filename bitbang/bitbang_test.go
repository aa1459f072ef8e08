package bitbang

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"periph.io/x/conn/v3/gpio"

	"github.com/mklimuk/i2cmaster"
	"github.com/mklimuk/i2cmaster/i2c"
)

// wire is a wired-AND pair of lines shared by the controller and a target.
type wire struct {
	mu       sync.Mutex
	sclOut   bool // controller releases SCL
	sdaOut   bool
	holdSCL  bool // someone else drives SCL low
	holdSDA  bool // someone else drives SDA low
	lastSCL  bool
	lastSDA  bool
	target   *target
	failNext error
}

func newWire(t *target) *wire {
	return &wire{sclOut: true, sdaOut: true, lastSCL: true, lastSDA: true, target: t}
}

func (w *wire) levels() (scl, sda bool) {
	scl = w.sclOut && !w.holdSCL
	sda = w.sdaOut && !w.holdSDA
	if w.target != nil {
		scl = scl && !w.target.holdSCL
		sda = sda && !w.target.pullSDA
	}
	return scl, sda
}

// settle lets the target react to the new line levels.
func (w *wire) settle() {
	scl, sda := w.levels()
	if w.target != nil {
		w.target.observe(w.lastSCL, w.lastSDA, scl, sda)
	}
	w.lastSCL, w.lastSDA = w.levels()
}

type line struct {
	w   *wire
	scl bool
}

func (l *line) String() string {
	if l.scl {
		return "SCL"
	}
	return "SDA"
}

func (l *line) set(high bool) error {
	l.w.mu.Lock()
	defer l.w.mu.Unlock()
	if err := l.w.failNext; err != nil {
		l.w.failNext = nil
		return err
	}
	if l.scl {
		l.w.sclOut = high
	} else {
		l.w.sdaOut = high
	}
	l.w.settle()
	return nil
}

func (l *line) In(pull gpio.Pull, edge gpio.Edge) error {
	return l.set(true)
}

func (l *line) Out(level gpio.Level) error {
	return l.set(bool(level))
}

func (l *line) Read() gpio.Level {
	l.w.mu.Lock()
	defer l.w.mu.Unlock()
	scl, sda := l.w.levels()
	if l.scl {
		return gpio.Level(scl)
	}
	return gpio.Level(sda)
}

type targetState int

const (
	idle targetState = iota
	rxBits
	ackOut
	txBits
	ackIn
)

// target is a register file at one address behind an 8-bit pointer, driven
// only by the edges it sees on the lines.
type target struct {
	addr    byte
	mem     [256]byte
	ptr     byte
	ptrSet  bool
	state   targetState
	bits    int
	shift   byte
	reading bool
	matched bool
	ack     bool
	out     byte
	pullSDA bool
	holdSCL bool
	// stretchOnAck makes the target hold SCL low once it acknowledged its
	// address, as a wedged device would.
	stretchOnAck bool
}

func (t *target) observe(prevSCL, prevSDA, scl, sda bool) {
	switch {
	case prevSCL && scl && prevSDA && !sda:
		// start or repeated start
		t.state, t.bits, t.shift, t.matched = rxBits, 0, 0, false
		t.pullSDA = false
	case prevSCL && scl && !prevSDA && sda:
		t.state = idle
		t.pullSDA = false
	case !prevSCL && scl:
		switch t.state {
		case rxBits:
			t.shift <<= 1
			if sda {
				t.shift |= 1
			}
			t.bits++
		case ackIn:
			t.ack = !sda
		}
	case prevSCL && !scl:
		t.falling()
	}
}

func (t *target) falling() {
	switch t.state {
	case rxBits:
		if t.bits < 8 {
			return
		}
		if !t.matched {
			if t.shift>>1 != t.addr {
				t.state = idle
				return
			}
			t.matched = true
			t.reading = t.shift&1 == 1
			t.ptrSet = false
			t.holdSCL = t.stretchOnAck
		} else if !t.ptrSet {
			t.ptr = t.shift
			t.ptrSet = true
		} else {
			t.mem[t.ptr] = t.shift
			t.ptr++
		}
		t.pullSDA = true
		t.state = ackOut
	case ackOut:
		t.pullSDA = false
		if t.reading {
			t.load()
			return
		}
		t.state, t.bits, t.shift = rxBits, 0, 0
	case txBits:
		t.bits++
		if t.bits == 8 {
			t.pullSDA = false
			t.state = ackIn
			return
		}
		t.pullSDA = t.out&(1<<(7-t.bits)) == 0
	case ackIn:
		if t.ack {
			t.load()
			return
		}
		t.state = idle
		t.pullSDA = false
	}
}

// load presents the next byte, MSB first.
func (t *target) load() {
	t.out = t.mem[t.ptr]
	t.ptr++
	t.state, t.bits = txBits, 0
	t.pullSDA = t.out&0x80 == 0
}

func newTestChannel(t *testing.T, tg *target, opts ...Option) (*i2c.Channel, *wire, *Controller) {
	t.Helper()
	w := newWire(tg)
	c, err := New(&line{w: w, scl: true}, &line{w: w}, opts...)
	require.NoError(t, err)
	ch := i2c.New(0, c)
	require.NoError(t, ch.Init(context.Background(), i2c.ModeController, i2c.DefaultOwnAddress, 400_000))
	return ch, w, c
}

func TestMemWriteThenRead(t *testing.T) {
	tg := &target{addr: 0x50}
	ch, _, _ := newTestChannel(t, tg)
	ctx := context.Background()

	require.NoError(t, ch.MemWrite(ctx, 0x50, 0x10, 8, []byte{0xAA, 0xBB, 0x01}))
	assert.Equal(t, []byte{0xAA, 0xBB, 0x01}, tg.mem[0x10:0x13])

	buf := make([]byte, 3)
	require.NoError(t, ch.MemRead(ctx, 0x50, 0x10, 8, buf))
	assert.Equal(t, []byte{0xAA, 0xBB, 0x01}, buf)
	assert.Equal(t, idle, tg.state)
}

func TestScan(t *testing.T) {
	ch, _, _ := newTestChannel(t, &target{addr: 0x3C})
	found, err := ch.Scan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []uint16{0x3C}, found)
}

func TestIsReady(t *testing.T) {
	ch, _, _ := newTestChannel(t, &target{addr: 0x3C})
	tests := []struct {
		addr  uint16
		ready bool
	}{
		{0x3C, true},
		{0x3D, false},
		{0x1E, false},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%#x", tt.addr), func(t *testing.T) {
			ok, err := ch.IsReady(context.Background(), tt.addr)
			require.NoError(t, err)
			assert.Equal(t, tt.ready, ok)
		})
	}
}

func TestBusBusy(t *testing.T) {
	ch, w, _ := newTestChannel(t, &target{addr: 0x3C})
	w.mu.Lock()
	w.holdSDA = true
	w.mu.Unlock()

	_, err := ch.Send(context.Background(), 0x3C, []byte{0x00})
	assert.ErrorIs(t, err, i2cmaster.ErrBusBusy)
}

func TestClockStretchTimeout(t *testing.T) {
	tg := &target{addr: 0x3C}
	ch, w, _ := newTestChannel(t, tg, WithStretchTimeout(5*time.Millisecond))
	w.mu.Lock()
	tg.stretchOnAck = true
	w.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := ch.Send(ctx, 0x3C, []byte{0x00, 0x01})
	assert.ErrorIs(t, err, i2cmaster.ErrTimeout)
	assert.ErrorContains(t, err, "scl held low")

	w.mu.Lock()
	tg.stretchOnAck = false
	tg.holdSCL = false
	w.mu.Unlock()
	// the target still drives SDA for its ACK: only a bus clear frees it
	_, err = ch.Send(context.Background(), 0x3C, []byte{0x00})
	assert.ErrorIs(t, err, i2cmaster.ErrBusBusy)
	require.NoError(t, ch.Init(context.Background(), i2c.ModeController, i2c.DefaultOwnAddress, 400_000))

	require.NoError(t, ch.MemWrite(context.Background(), 0x3C, 0x00, 8, []byte{0x42}))
	assert.Equal(t, byte(0x42), tg.mem[0])
}

func TestLineError(t *testing.T) {
	w := newWire(nil)
	c, err := New(&line{w: w, scl: true}, &line{w: w})
	require.NoError(t, err)
	w.failNext = fmt.Errorf("gpio gone")
	assert.ErrorContains(t, c.Reset(), "gpio gone")
	assert.NoError(t, c.Reset())
}

func TestProgramBaud(t *testing.T) {
	c, err := New(&line{w: newWire(nil), scl: true}, &line{w: newWire(nil)})
	require.NoError(t, err)
	require.NoError(t, c.ProgramBaud(400_000))
	assert.Equal(t, 1250*time.Nanosecond, c.halfCycle)
	assert.Error(t, c.ProgramBaud(0))
}
