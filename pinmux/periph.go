package pinmux

import (
	"fmt"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/pin"
)

var _ Configurator = &Periph{}

// Periph configures host pins registered in periph's gpioreg. Pins listed in
// Funcs are switched to that function when the driver supports it; any other
// pin handed to a peripheral is left as a released input with pull-up, which
// is what an open drain line looks like from the host side.
type Periph struct {
	Funcs map[Pin]pin.Func
}

func (p *Periph) ConfigurePin(name Pin, mode Mode, function int) error {
	gp := gpioreg.ByName(string(name))
	if gp == nil {
		return fmt.Errorf("unknown gpio %s", name)
	}
	if mode == AlternateFunction {
		if f, ok := p.Funcs[name]; ok {
			if pf, ok := gp.(pin.PinFunc); ok {
				if err := pf.SetFunc(f); err != nil {
					return fmt.Errorf("could not set %s to %s: %w", name, f, err)
				}
				return nil
			}
		}
		if err := gp.In(gpio.PullUp, gpio.NoEdge); err != nil {
			return fmt.Errorf("could not release %s: %w", name, err)
		}
		return nil
	}
	if err := gp.In(gpio.Float, gpio.NoEdge); err != nil {
		return fmt.Errorf("could not set %s to input: %w", name, err)
	}
	return nil
}
