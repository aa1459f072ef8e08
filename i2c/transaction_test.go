package i2c

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewUnit(t *testing.T) {
	tests := []struct {
		name    string
		buf     []byte
		length  int
		wantErr bool
	}{
		{name: "whole buffer", buf: make([]byte, 4), length: 4},
		{name: "prefix", buf: make([]byte, 4), length: 2},
		{name: "zero length", length: 0},
		{name: "negative", buf: make([]byte, 4), length: -1, wantErr: true},
		{name: "beyond buffer", buf: make([]byte, 4), length: 5, wantErr: true},
		{name: "beyond max", buf: make([]byte, MaxUnitLength+1), length: MaxUnitLength + 1, wantErr: true},
		{name: "max", buf: make([]byte, MaxUnitLength), length: MaxUnitLength},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u, err := NewUnit(tt.buf, tt.length, Read)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.length, u.Length)
			assert.Equal(t, 0, u.Transferred())
			assert.Equal(t, tt.length, u.Remaining())
			assert.Equal(t, tt.length == 0, u.Done())
		})
	}
}

func TestUnit_AdvanceNeverPassesLength(t *testing.T) {
	u, err := WriteUnit([]byte{1, 2, 3})
	require.NoError(t, err)
	u.advance(2)
	assert.Equal(t, 2, u.Transferred())
	u.advance(5)
	assert.Equal(t, 3, u.Transferred())
	assert.True(t, u.Done())
}

func TestTransaction_Runs(t *testing.T) {
	w := Unit{Direction: Write}
	r := Unit{Direction: Read}
	tests := []struct {
		name  string
		units []Unit
		want  []run
	}{
		{name: "single", units: []Unit{w}, want: []run{{0, 0, Write}}},
		{name: "write then read", units: []Unit{w, r}, want: []run{{0, 0, Write}, {1, 1, Read}}},
		{name: "chained writes", units: []Unit{w, w, w}, want: []run{{0, 2, Write}}},
		{name: "alternating", units: []Unit{w, w, r, r, w}, want: []run{{0, 1, Write}, {2, 3, Read}, {4, 4, Write}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tx := NewTransaction(0x20, true, tt.units...)
			assert.Equal(t, tt.want, tx.runs())
		})
	}
}

func TestTransaction_Next(t *testing.T) {
	tx := NewTransaction(0x20, true, Unit{}, Unit{})
	next, ok := tx.Next(0)
	assert.True(t, ok)
	assert.Equal(t, 1, next)
	_, ok = tx.Next(1)
	assert.False(t, ok)
}

func TestTransaction_Reset(t *testing.T) {
	tx := NewTransaction(0x20, true, Unit{Buf: []byte{1, 2}, Length: 2})
	tx.Units[0].advance(2)
	tx.Status = StatusStopped
	tx.Err = ErrorTimeout
	tx.Reset()
	assert.Equal(t, StatusIdle, tx.Status)
	assert.Equal(t, ErrorNone, tx.Err)
	assert.Equal(t, 0, tx.Transferred())
}

func TestDivider(t *testing.T) {
	tests := []struct {
		family Family
		hz     uint32
		want   ClockParams
	}{
		{RX63N, 5_000, ClockParams{7, 16, 20}},
		{RX63N, 10_000, ClockParams{7, 16, 20}},
		{RX63N, 10_001, ClockParams{4, 26, 31}},
		{RX63N, 100_000, ClockParams{3, 24, 31}},
		{RX63N, 400_000, ClockParams{2, 7, 16}},
		{RX63N, 1_000_000, ClockParams{0, 12, 24}},
		{RX63N, 3_400_000, ClockParams{0, 12, 24}},
		{RX65N, 50_000, ClockParams{5, 15, 18}},
		{RX65N, 100_000, ClockParams{3, 2, 3}},
		{RX65N, 400_000, ClockParams{2, 8, 19}},
		{RX65N, 1_000_000, ClockParams{0, 15, 29}},
	}
	for _, tt := range tests {
		t.Run(string(tt.family), func(t *testing.T) {
			p, err := Divider(tt.family, tt.hz)
			require.NoError(t, err)
			assert.Equal(t, tt.want, p)
		})
	}
	_, err := Divider("rx72n", 100_000)
	assert.Error(t, err)
	_, err = Divider(RX63N, 0)
	assert.Error(t, err)
}

func TestClampFrequency(t *testing.T) {
	assert.Equal(t, DefaultFrequency, ClampFrequency(0))
	assert.Equal(t, uint32(100_000), ClampFrequency(100_000))
	assert.Equal(t, MaxFrequency, ClampFrequency(1_000_000))
}

func TestFlags_String(t *testing.T) {
	assert.Equal(t, "-", Flags(0).String())
	assert.Equal(t, "BBSY|TEND|NACKF", (FlagBusBusy | FlagTransmitted | FlagNack).String())
}

func TestErrorKind_Err(t *testing.T) {
	assert.Nil(t, ErrorNone.Err())
	for _, k := range []ErrorKind{ErrorTimeout, ErrorArbitrationLost, ErrorNack, ErrorBusBusy} {
		t.Run(k.String(), func(t *testing.T) {
			err := &Error{Kind: k, Phase: PhaseData}
			assert.ErrorIs(t, err, k.Err())
			assert.Equal(t, k, kindOf(err))
		})
	}
}
