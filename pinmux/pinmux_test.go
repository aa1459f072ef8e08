package pinmux

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFindChannel(t *testing.T) {
	tests := []struct {
		name    string
		family  Family
		scl     Pin
		sda     Pin
		ch      int
		wantErr bool
	}{
		{name: "rx63n ch0", family: RX63N, scl: "P12", sda: "P13", ch: 0},
		{name: "rx63n ch3", family: RX63N, scl: "PC0", sda: "PC1", ch: 3},
		{name: "lower case", family: RX63N, scl: "pc0", sda: "pc1", ch: 3},
		{name: "rx65n ch2", family: RX65N, scl: "P16", sda: "P17", ch: 2},
		{name: "rx65n has no ch3", family: RX65N, scl: "PC0", sda: "PC1", wantErr: true},
		{name: "swapped", family: RX63N, scl: "P13", sda: "P12", wantErr: true},
		{name: "mixed channels", family: RX63N, scl: "P12", sda: "P20", wantErr: true},
		{name: "unknown family", family: "rx72n", scl: "P12", sda: "P13", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ch, err := FindChannel(tt.family, tt.scl, tt.sda)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.ch, ch)
		})
	}
}

func TestPins(t *testing.T) {
	scl, sda, err := Pins(RX63N, 1)
	require.NoError(t, err)
	assert.Equal(t, Pin("P21"), scl)
	assert.Equal(t, Pin("P20"), sda)

	_, _, err = Pins(RX65N, 3)
	assert.Error(t, err)
	assert.Equal(t, 4, Channels(RX63N))
	assert.Equal(t, 3, Channels(RX65N))
}

func TestParseFamily(t *testing.T) {
	f, err := ParseFamily("RX65N")
	require.NoError(t, err)
	assert.Equal(t, RX65N, f)
	_, err = ParseFamily("stm32")
	assert.Error(t, err)
}

func TestRecorder(t *testing.T) {
	r := &Recorder{Fail: map[Pin]error{"P99": errors.New("no such pin")}}
	require.NoError(t, r.ConfigurePin("P12", AlternateFunction, FunctionRIIC))
	require.NoError(t, r.ConfigurePin("P12", GPIO, 0))
	assert.Error(t, r.ConfigurePin("P99", GPIO, 0))

	assert.Equal(t, []Call{
		{Pin: "P12", Mode: AlternateFunction, Function: FunctionRIIC},
		{Pin: "P12", Mode: GPIO},
	}, r.Calls())
	assert.Equal(t, GPIO, r.Mode("P12"))
	assert.Equal(t, "P12=af-od/15", r.Calls()[0].String())
}
