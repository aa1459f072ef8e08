package hostbus

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"periph.io/x/conn/v3/i2c/i2ctest"
	"periph.io/x/conn/v3/physic"

	"github.com/mklimuk/i2cmaster"
	busi2c "github.com/mklimuk/i2cmaster/i2c"
)

func newChannel(t *testing.T, bus *i2ctest.Playback) *busi2c.Channel {
	t.Helper()
	bus.DontPanic = true
	ch := busi2c.NewSegmented(1, New(bus))
	require.NoError(t, ch.Init(context.Background(), busi2c.ModeController, busi2c.DefaultOwnAddress, 100_000))
	return ch
}

func TestBus_MemOps(t *testing.T) {
	bus := &i2ctest.Playback{Ops: []i2ctest.IO{
		{Addr: 0x50, W: []byte{0x00, 0x10, 0xca, 0xfe}},
		{Addr: 0x50, W: []byte{0x00, 0x10}, R: []byte{0xca, 0xfe}},
	}}
	ch := newChannel(t, bus)
	ctx := context.Background()

	require.NoError(t, ch.MemWrite(ctx, 0x50, 0x0010, 16, []byte{0xca, 0xfe}))
	buf := make([]byte, 2)
	require.NoError(t, ch.MemRead(ctx, 0x50, 0x0010, 16, buf))
	assert.Equal(t, []byte{0xca, 0xfe}, buf)
	assert.NoError(t, bus.Close())
}

func TestBus_Probe(t *testing.T) {
	bus := &i2ctest.Playback{Ops: []i2ctest.IO{
		{Addr: 0x42, R: []byte{0x00}},
	}}
	ch := newChannel(t, bus)
	ok, err := ch.IsReady(context.Background(), 0x42)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NoError(t, bus.Close())
}

func TestBus_HeldWriteSentBeforeOtherAddress(t *testing.T) {
	rec := &i2ctest.Record{Bus: &i2ctest.Playback{DontPanic: true, Ops: []i2ctest.IO{
		{Addr: 0x20, W: []byte{0x01}},
		{Addr: 0x21, R: []byte{0x7f}},
	}}}
	b := New(rec)
	ctx := context.Background()
	n, err := b.Transfer(ctx, busi2c.Segment{Address: 0x20, Buf: []byte{0x01}})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Empty(t, rec.Ops)

	buf := make([]byte, 1)
	n, err = b.Transfer(ctx, busi2c.Segment{Address: 0x21, Read: true, Buf: buf, RepeatedStart: true, Stop: true})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []byte{0x7f}, buf)
	assert.Equal(t, []i2ctest.IO{
		{Addr: 0x20, W: []byte{0x01}},
		{Addr: 0x21, R: []byte{0x7f}},
	}, rec.Ops)
}

func TestBus_HeldWriteReachesTheBus(t *testing.T) {
	tests := []struct {
		name   string
		finish func(ctx context.Context, ch *busi2c.Channel) error
		want   []i2ctest.IO
	}{
		{
			name: "release",
			finish: func(ctx context.Context, ch *busi2c.Channel) error {
				return ch.Release(ctx)
			},
			want: []i2ctest.IO{{Addr: 0x20, W: []byte{0x01, 0x02}}},
		},
		{
			name: "fresh start",
			finish: func(ctx context.Context, ch *busi2c.Channel) error {
				_, err := ch.Send(ctx, 0x20, []byte{0x03})
				return err
			},
			want: []i2ctest.IO{
				{Addr: 0x20, W: []byte{0x01, 0x02}},
				{Addr: 0x20, W: []byte{0x03}},
			},
		},
		{
			name: "deinit",
			finish: func(ctx context.Context, ch *busi2c.Channel) error {
				return ch.Deinit(ctx)
			},
			want: []i2ctest.IO{{Addr: 0x20, W: []byte{0x01, 0x02}}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &i2ctest.Record{}
			ch := busi2c.NewSegmented(1, New(rec))
			ctx := context.Background()
			require.NoError(t, ch.Init(ctx, busi2c.ModeController, busi2c.DefaultOwnAddress, 0))

			tx := busi2c.NewTransaction(0x20, false, busi2c.Unit{Buf: []byte{0x01, 0x02}, Length: 2})
			require.NoError(t, ch.Execute(ctx, tx, false, 0))
			assert.Equal(t, 2, tx.Transferred())
			assert.Empty(t, rec.Ops)

			require.NoError(t, tt.finish(ctx, ch))
			assert.Equal(t, tt.want, rec.Ops)
		})
	}
}

func TestBus_HeldWriteFailureIsReported(t *testing.T) {
	b := New(&failingBus{err: errors.New("sysfs-i2c: remote I/O error")})
	ctx := context.Background()
	_, err := b.Transfer(ctx, busi2c.Segment{Address: 0x20, Buf: []byte{0x01}})
	require.NoError(t, err)
	assert.ErrorIs(t, b.Reset(ctx), i2cmaster.ErrNack)
	// the held write is gone once reported
	assert.NoError(t, b.Reset(ctx))
}

// failingBus returns err from every Tx.
type failingBus struct {
	i2ctest.Playback
	err error
}

func (f *failingBus) Tx(addr uint16, w, r []byte) error {
	return f.err
}

func (f *failingBus) SetSpeed(physic.Frequency) error {
	return nil
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"nack", errors.New("sysfs-i2c: remote I/O error"), i2cmaster.ErrNack},
		{"no device", errors.New("sysfs-i2c: no such device or address"), i2cmaster.ErrNack},
		{"arbitration", errors.New("sysfs-i2c: resource temporarily unavailable"), i2cmaster.ErrArbitrationLost},
		{"busy", errors.New("sysfs-i2c: device or resource busy"), i2cmaster.ErrBusBusy},
		{"timeout", errors.New("sysfs-i2c: connection timed out"), i2cmaster.ErrTimeout},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := New(&failingBus{err: tt.err})
			_, err := b.Transfer(context.Background(), busi2c.Segment{Address: 0x10, Buf: []byte{0x00}, Stop: true})
			assert.ErrorIs(t, err, tt.want)
		})
	}
	err := Classify(errors.New("other"))
	assert.EqualError(t, err, "other")
}

func TestBus_NackPhase(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		address bool
	}{
		{"no device", errors.New("sysfs-i2c: no such device or address"), true},
		{"remote i/o", errors.New("sysfs-i2c: remote I/O error"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ch := busi2c.NewSegmented(2, New(&failingBus{err: tt.err}))
			ctx := context.Background()
			require.NoError(t, ch.Init(ctx, busi2c.ModeController, busi2c.DefaultOwnAddress, 0))
			_, err := ch.Send(ctx, 0x30, []byte{0x01})
			assert.ErrorIs(t, err, i2cmaster.ErrNack)
			assert.Equal(t, tt.address, busi2c.IsAddressNack(err))
		})
	}
}

func TestBus_AddressNackIsNotReady(t *testing.T) {
	ch := busi2c.NewSegmented(2, New(&failingBus{err: errors.New("sysfs-i2c: remote I/O error")}))
	require.NoError(t, ch.Init(context.Background(), busi2c.ModeController, busi2c.DefaultOwnAddress, 0))
	ok, err := ch.IsReady(context.Background(), 0x30)
	require.NoError(t, err)
	assert.False(t, ok)
}
