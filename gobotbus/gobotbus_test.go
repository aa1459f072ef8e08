package gobotbus

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gobot.io/x/gobot/v2/drivers/i2c"

	"github.com/mklimuk/i2cmaster"
	busi2c "github.com/mklimuk/i2cmaster/i2c"
	"github.com/mklimuk/i2cmaster/i2c/sim"
)

// fakeConn serves a sim device; methods the bus does not use are left to
// the embedded nil interface.
type fakeConn struct {
	i2c.Connection
	dev    sim.Device
	ops    []string
	closed bool
}

func (c *fakeConn) Write(b []byte) (int, error) {
	c.ops = append(c.ops, "W")
	if c.dev == nil || !c.dev.Start(false) {
		return 0, errors.New("write: remote I/O error")
	}
	for i, v := range b {
		if !c.dev.Write(v) {
			return i, errors.New("write: remote I/O error")
		}
	}
	c.dev.Stop()
	return len(b), nil
}

func (c *fakeConn) Read(b []byte) (int, error) {
	c.ops = append(c.ops, "R")
	if c.dev == nil || !c.dev.Start(true) {
		return 0, errors.New("read: remote I/O error")
	}
	for i := range b {
		b[i] = c.dev.Read()
	}
	c.dev.Stop()
	return len(b), nil
}

func (c *fakeConn) ReadByte() (byte, error) {
	b := make([]byte, 1)
	_, err := c.Read(b)
	return b[0], err
}

func (c *fakeConn) Close() error {
	c.closed = true
	return nil
}

type fakeConnector struct {
	devices   map[int]sim.Device
	conns     map[int]*fakeConn
	buses     []int
	finalized bool
}

func newFakeConnector() *fakeConnector {
	return &fakeConnector{devices: make(map[int]sim.Device), conns: make(map[int]*fakeConn)}
}

func (f *fakeConnector) GetI2cConnection(address int, busNr int) (i2c.Connection, error) {
	f.buses = append(f.buses, busNr)
	c := &fakeConn{dev: f.devices[address]}
	f.conns[address] = c
	return c, nil
}

func (f *fakeConnector) DefaultI2cBus() int {
	return 2
}

func (f *fakeConnector) Finalize() error {
	f.finalized = true
	return nil
}

func TestBus_Channel(t *testing.T) {
	con := newFakeConnector()
	mem := sim.NewMemory(64, 8)
	con.devices[0x50] = mem
	con.devices[0x20] = &sim.Sink{}
	b := New(con)
	ch := busi2c.NewSegmented(0, b)
	ctx := context.Background()
	require.NoError(t, ch.Init(ctx, busi2c.ModeController, busi2c.DefaultOwnAddress, 100_000))

	require.NoError(t, ch.MemWrite(ctx, 0x50, 0x04, 8, []byte{1, 2, 3}))
	buf := make([]byte, 3)
	require.NoError(t, ch.MemRead(ctx, 0x50, 0x04, 8, buf))
	assert.Equal(t, []byte{1, 2, 3}, buf)
	assert.Equal(t, []string{"W", "W", "R"}, con.conns[0x50].ops)

	found, err := ch.Scan(ctx)
	require.NoError(t, err)
	assert.Equal(t, []uint16{0x20, 0x50}, found)
	for _, nr := range con.buses {
		assert.Equal(t, 2, nr)
	}

	require.NoError(t, b.Close())
	assert.True(t, con.finalized)
	assert.True(t, con.conns[0x50].closed)
}

func TestBus_WithBus(t *testing.T) {
	con := newFakeConnector()
	con.devices[0x20] = &sim.Sink{}
	b := New(con, WithBus(1))
	n, err := b.Transfer(context.Background(), busi2c.Segment{Address: 0x20, Buf: []byte{0xaa}, Stop: true})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []int{1}, con.buses)
}

func TestBus_Nack(t *testing.T) {
	con := newFakeConnector()
	b := New(con)
	_, err := b.Transfer(context.Background(), busi2c.Segment{Address: 0x33, Buf: []byte{0x01}, Stop: true})
	assert.ErrorIs(t, err, i2cmaster.ErrNack)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = b.Transfer(ctx, busi2c.Segment{Address: 0x33, Stop: true})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestBus_HeldWrite(t *testing.T) {
	tests := []struct {
		name   string
		finish func(ctx context.Context, ch *busi2c.Channel) error
		want   map[int][]string
	}{
		{
			name:   "release",
			finish: func(ctx context.Context, ch *busi2c.Channel) error { return ch.Release(ctx) },
			want:   map[int][]string{0x20: {"W"}},
		},
		{
			name: "other address",
			finish: func(ctx context.Context, ch *busi2c.Channel) error {
				_, err := ch.Send(ctx, 0x21, []byte{0x09})
				return err
			},
			want: map[int][]string{0x20: {"W"}, 0x21: {"W"}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			con := newFakeConnector()
			held := &sim.Sink{}
			con.devices[0x20] = held
			con.devices[0x21] = &sim.Sink{}
			ch := busi2c.NewSegmented(0, New(con))
			ctx := context.Background()
			require.NoError(t, ch.Init(ctx, busi2c.ModeController, busi2c.DefaultOwnAddress, 0))

			tx := busi2c.NewTransaction(0x20, false, busi2c.Unit{Buf: []byte{0x01, 0x02}, Length: 2})
			require.NoError(t, ch.Execute(ctx, tx, true, 0))
			assert.Empty(t, held.Written())

			require.NoError(t, tt.finish(ctx, ch))
			assert.Equal(t, []byte{0x01, 0x02}, held.Written())
			for addr, ops := range tt.want {
				assert.Equal(t, ops, con.conns[addr].ops)
			}
		})
	}
}
