package pinmux

import (
	"fmt"
	"strings"
)

// Pin names a port pin, e.g. "P12" or "PC0".
type Pin string

// Mode is the role a pin is switched to.
type Mode int

const (
	GPIO Mode = iota
	// AlternateFunction hands the pin to a peripheral as an open drain line.
	AlternateFunction
)

func (m Mode) String() string {
	if m == AlternateFunction {
		return "af-od"
	}
	return "gpio"
}

// FunctionRIIC is the alternate function index of the RIIC SCL/SDA pins.
const FunctionRIIC = 15

// Configurator switches pins between plain GPIO and a peripheral function.
type Configurator interface {
	ConfigurePin(pin Pin, mode Mode, function int) error
}

// Family selects the pin maps and the divider tables of a controller.
type Family string

const (
	RX63N Family = "rx63n"
	RX65N Family = "rx65n"
)

// ParseFamily accepts the family name in any case.
func ParseFamily(s string) (Family, error) {
	switch f := Family(strings.ToLower(s)); f {
	case RX63N, RX65N:
		return f, nil
	default:
		return "", fmt.Errorf("unknown controller family %q", s)
	}
}

// indexed by channel
var (
	rx63nSCL = []Pin{"P12", "P21", "P16", "PC0"}
	rx63nSDA = []Pin{"P13", "P20", "P17", "PC1"}
	rx65nSCL = []Pin{"P12", "P21", "P16"}
	rx65nSDA = []Pin{"P13", "P20", "P17"}
)

func maps(family Family) (scl, sda []Pin, err error) {
	switch family {
	case RX63N:
		return rx63nSCL, rx63nSDA, nil
	case RX65N:
		return rx65nSCL, rx65nSDA, nil
	default:
		return nil, nil, fmt.Errorf("unknown controller family %q", family)
	}
}

// Channels returns the number of I2C channels of the family.
func Channels(family Family) int {
	scl, _, _ := maps(family)
	return len(scl)
}

// Pins returns the default SCL and SDA pins of a channel.
func Pins(family Family, ch int) (scl, sda Pin, err error) {
	sclPins, sdaPins, err := maps(family)
	if err != nil {
		return "", "", err
	}
	if ch < 0 || ch >= len(sclPins) {
		return "", "", fmt.Errorf("%s has no i2c channel %d", family, ch)
	}
	return sclPins[ch], sdaPins[ch], nil
}

// FindChannel returns the channel both pins belong to. It fails when either
// pin has no I2C function or when they map to different channels.
func FindChannel(family Family, scl, sda Pin) (int, error) {
	sclPins, sdaPins, err := maps(family)
	if err != nil {
		return 0, err
	}
	sclCh := indexOf(sclPins, scl)
	if sclCh < 0 {
		return 0, fmt.Errorf("pin %s is not an scl pin on %s", scl, family)
	}
	sdaCh := indexOf(sdaPins, sda)
	if sdaCh < 0 {
		return 0, fmt.Errorf("pin %s is not an sda pin on %s", sda, family)
	}
	if sclCh != sdaCh {
		return 0, fmt.Errorf("pins %s (ch%d) and %s (ch%d) belong to different channels", scl, sclCh, sda, sdaCh)
	}
	return sclCh, nil
}

func indexOf(pins []Pin, p Pin) int {
	for i, candidate := range pins {
		if strings.EqualFold(string(candidate), string(p)) {
			return i
		}
	}
	return -1
}
