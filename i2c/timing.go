package i2c

import (
	"fmt"

	"github.com/mklimuk/i2cmaster/pinmux"
)

const (
	// MaxFrequency is the fastest clock a channel is initialized with.
	MaxFrequency uint32 = 400_000
	// DefaultFrequency is used when none is configured.
	DefaultFrequency uint32 = 400_000
)

// Family selects the divider table of a controller.
type Family = pinmux.Family

const (
	RX63N = pinmux.RX63N
	RX65N = pinmux.RX65N
)

// ClockParams are the RIIC clock register values for one bus rate: the
// internal clock select and the SCL high and low widths.
type ClockParams struct {
	CKS uint8 `yaml:"cks"`
	BRH uint8 `yaml:"brh"`
	BRL uint8 `yaml:"brl"`
}

// bucket upper bounds, in Hz, shared by both tables.
var rateBuckets = [...]uint32{10_000, 50_000, 100_000, 400_000, 1_000_000}

// PCLK 50 MHz
var rx63nTable = [...]ClockParams{
	{CKS: 7, BRH: 16, BRL: 20},
	{CKS: 4, BRH: 26, BRL: 31},
	{CKS: 3, BRH: 24, BRL: 31},
	{CKS: 2, BRH: 7, BRL: 16},
	{CKS: 0, BRH: 12, BRL: 24},
}

// PCLK 60 MHz
var rx65nTable = [...]ClockParams{
	{CKS: 7, BRH: 20, BRL: 24},
	{CKS: 5, BRH: 15, BRL: 18},
	{CKS: 3, BRH: 2, BRL: 3},
	{CKS: 2, BRH: 8, BRL: 19},
	{CKS: 0, BRH: 15, BRL: 29},
}

// Divider returns the register values for hz: the first bucket whose upper
// bound is at or above the requested rate, the fastest one otherwise.
func Divider(family Family, hz uint32) (ClockParams, error) {
	var table []ClockParams
	switch family {
	case RX63N:
		table = rx63nTable[:]
	case RX65N:
		table = rx65nTable[:]
	default:
		return ClockParams{}, fmt.Errorf("unknown controller family %q", family)
	}
	if hz == 0 {
		return ClockParams{}, fmt.Errorf("bus frequency must be positive")
	}
	for i, limit := range rateBuckets {
		if hz <= limit {
			return table[i], nil
		}
	}
	return table[len(table)-1], nil
}

// ClampFrequency maps zero to the default and caps hz at MaxFrequency.
func ClampFrequency(hz uint32) uint32 {
	switch {
	case hz == 0:
		return DefaultFrequency
	case hz > MaxFrequency:
		return MaxFrequency
	default:
		return hz
	}
}
