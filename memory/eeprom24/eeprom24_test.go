package eeprom24

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mklimuk/i2cmaster"
	"github.com/mklimuk/i2cmaster/i2c"
	"github.com/mklimuk/i2cmaster/i2c/sim"
)

// programming stops acknowledging its address for a few starts after every
// write, like a part busy with its internal write cycle.
type programming struct {
	*sim.Memory
	cycle   int
	busy    int
	wrote   bool
	busyFor int
}

func (p *programming) Start(read bool) bool {
	if p.busy > 0 {
		p.busy--
		return false
	}
	return p.Memory.Start(read)
}

func (p *programming) Write(b byte) bool {
	p.wrote = true
	return p.Memory.Write(b)
}

func (p *programming) Stop() {
	if p.wrote {
		p.cycle++
		p.busy = p.busyFor
		p.wrote = false
	}
	p.Memory.Stop()
}

func newChannel(t *testing.T, bus *sim.Bus) *i2c.Channel {
	t.Helper()
	ch := i2c.New(0, bus)
	require.NoError(t, ch.Init(context.Background(), i2c.ModeController, i2c.DefaultOwnAddress, 400_000))
	return ch
}

func TestEEPROM_WriteAcrossPages(t *testing.T) {
	bus := sim.New()
	dev := &programming{Memory: sim.NewMemory(M24C64.Capacity, 16), busyFor: 3}
	bus.Attach(0x50, dev)
	e, err := New(newChannel(t, bus), 0x50, M24C64, WithPollInterval(0))
	require.NoError(t, err)

	data := make([]byte, 70)
	for i := range data {
		data[i] = byte(0xA0 + i)
	}
	ctx := context.Background()
	require.NoError(t, e.Write(ctx, 0x1010, data))
	// 16 bytes up to the page end, a full page of 32, then 22
	assert.Equal(t, 3, dev.cycle)
	assert.Equal(t, data, dev.Bytes()[0x1010:0x1010+70])

	got := make([]byte, 70)
	require.NoError(t, e.Read(ctx, 0x1010, got))
	assert.Equal(t, data, got)
}

func TestEEPROM_BlockSelect(t *testing.T) {
	bus := sim.New()
	low := sim.NewMemory(256, 8)
	high := sim.NewMemory(256, 8)
	bus.Attach(0x50, low)
	bus.Attach(0x51, high)
	e, err := New(newChannel(t, bus), 0x50, M24C04, WithPollInterval(0))
	require.NoError(t, err)

	ctx := context.Background()
	data := []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	require.NoError(t, e.Write(ctx, 250, data))
	assert.Equal(t, data[:6], low.Bytes()[250:256])
	assert.Equal(t, data[6:], high.Bytes()[0:4])

	got := make([]byte, len(data))
	require.NoError(t, e.Read(ctx, 250, got))
	assert.Equal(t, data, got)
}

func TestEEPROM_WriteCycleTimeout(t *testing.T) {
	bus := sim.New()
	dev := &programming{Memory: sim.NewMemory(256, 8), busyFor: 1 << 30}
	bus.Attach(0x50, dev)
	e, err := New(newChannel(t, bus), 0x50, M24C02, WithWriteTimeout(2*time.Millisecond), WithPollInterval(0))
	require.NoError(t, err)
	err = e.Write(context.Background(), 0, []byte{0x01})
	assert.ErrorIs(t, err, i2cmaster.ErrTimeout)
}

func TestEEPROM_Range(t *testing.T) {
	e, err := New(newChannel(t, sim.New()), 0x50, M24C02)
	require.NoError(t, err)
	ctx := context.Background()
	assert.Error(t, e.Read(ctx, 250, make([]byte, 10)))
	assert.Error(t, e.Write(ctx, -1, []byte{0}))
}

func TestNew(t *testing.T) {
	tests := []struct {
		name  string
		addr  uint16
		model Model
		ok    bool
	}{
		{"24C02", 0x50, M24C02, true},
		{"24C16 aligned", 0x50, M24C16, true},
		{"24C16 unaligned", 0x52, M24C16, false},
		{"24C16 past 0x7F", 0x7C, M24C16, false},
		{"bad width", 0x50, Model{Name: "x", Capacity: 16, PageSize: 8, Width: 12}, false},
		{"no capacity", 0x50, Model{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(nil, tt.addr, tt.model)
			if tt.ok {
				assert.NoError(t, err)
				return
			}
			assert.Error(t, err)
		})
	}
}

func TestParseModel(t *testing.T) {
	tests := []struct {
		in   string
		want Model
		ok   bool
	}{
		{"24C02", M24C02, true},
		{"24lc256", M24C256, true},
		{"AT24C04", M24C04, true},
		{"M24C64", M24C64, true},
		{"CAT24C16", M24C16, true},
		{"24AA512", M24C512, true},
		{"25AA1024", Model{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			m, err := ParseModel(tt.in)
			if !tt.ok {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, m)
		})
	}
}
