package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/host/v3"

	"github.com/mklimuk/i2cmaster/adapter"
	"github.com/mklimuk/i2cmaster/bitbang"
	"github.com/mklimuk/i2cmaster/busctx"
	"github.com/mklimuk/i2cmaster/config"
	"github.com/mklimuk/i2cmaster/gobotbus"
	"github.com/mklimuk/i2cmaster/hostbus"
	"github.com/mklimuk/i2cmaster/i2c"
	"github.com/mklimuk/i2cmaster/i2c/sim"
	"github.com/mklimuk/i2cmaster/pinmux"
)

// session is an initialized channel and whatever has to be closed with it.
type session struct {
	ch      *i2c.Channel
	def     config.Channel
	closers []io.Closer
}

func (s *session) Close() error {
	err := s.ch.Close()
	for _, c := range s.closers {
		err = multierr.Append(err, c.Close())
	}
	return err
}

// channelDef picks the channel definition and applies the command line
// overrides.
func channelDef(c *cli.Context) (config.Channel, error) {
	cfg := config.Default()
	if path := c.String("config"); path != "" {
		var err error
		if cfg, err = config.Load(path); err != nil {
			return config.Channel{}, err
		}
	}
	def, err := cfg.Channel(c.Int("channel"))
	if err != nil {
		return def, err
	}
	if c.IsSet("backend") {
		if def.Backend, err = config.ParseBackend(c.String("backend")); err != nil {
			return def, err
		}
	}
	if c.IsSet("frequency") {
		var f physic.Frequency
		if err := f.Set(c.String("frequency")); err != nil {
			return def, fmt.Errorf("invalid frequency: %w", err)
		}
		def.Frequency = config.Frequency(f)
	}
	if c.IsSet("timeout") {
		def.Timeout = c.Duration("timeout")
	}
	return def, nil
}

func commandContext(c *cli.Context) context.Context {
	ctx := busctx.SetVerbose(c.Context, c.Bool("verbose"))
	return busctx.SetTrace(ctx, c.Bool("trace"))
}

func openSession(ctx context.Context, def config.Channel) (*session, error) {
	s := &session{def: def}
	opts := []i2c.Option{
		i2c.WithFrequency(def.Frequency.Hertz()),
		i2c.WithTimeout(def.Timeout),
		i2c.WithLogger(slog.Default()),
	}
	var family pinmux.Family
	if def.Family != "" {
		var err error
		if family, err = pinmux.ParseFamily(def.Family); err != nil {
			return nil, err
		}
		opts = append(opts, i2c.WithFamily(family))
	}
	pins := def.SCL != "" && def.SDA != ""
	if pins {
		opts = append(opts, i2c.WithPins(pinmux.Pin(def.SCL), pinmux.Pin(def.SDA)))
	}

	switch def.Backend {
	case config.BackendSim:
		bus := sim.New(sim.WithFamily(family))
		bus.Attach(0x20, &sim.Sink{})
		bus.Attach(0x50, sim.NewMemory(256, 8))
		opts = append(opts, i2c.WithConfigurator(&pinmux.Recorder{}))
		s.ch = i2c.New(def.ID, bus, opts...)
	case config.BackendBitbang:
		if _, err := host.Init(); err != nil {
			return nil, fmt.Errorf("could not init host: %w", err)
		}
		scl, sda := gpioreg.ByName(def.SCL), gpioreg.ByName(def.SDA)
		if scl == nil || sda == nil {
			return nil, fmt.Errorf("unknown pins %s/%s", def.SCL, def.SDA)
		}
		bb, err := bitbang.New(scl, sda)
		if err != nil {
			return nil, err
		}
		s.ch = i2c.New(def.ID, bb, opts...)
	case config.BackendMCP2221:
		s.ch = i2c.NewSegmented(def.ID, adapter.NewMCP2221(bridgeOptions(def)...), opts...)
	case config.BackendHost:
		hb, err := hostbus.Open(def.Device)
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, hb)
		if pins {
			opts = append(opts, i2c.WithConfigurator(&pinmux.Periph{}))
		}
		s.ch = i2c.NewSegmented(def.ID, hb, opts...)
	case config.BackendGobot:
		var gopts []gobotbus.Option
		if def.Bus != nil && *def.Bus >= 0 {
			gopts = append(gopts, gobotbus.WithBus(*def.Bus))
		}
		gb, err := gobotbus.NewNanoPi(gopts...)
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, gb)
		s.ch = i2c.NewSegmented(def.ID, gb, opts...)
	default:
		return nil, fmt.Errorf("unknown backend %q", def.Backend)
	}
	if err := s.ch.Init(ctx, i2c.ModeController, i2c.DefaultOwnAddress, 0); err != nil {
		return nil, multierr.Append(fmt.Errorf("could not init channel %d: %w", def.ID, err), s.Close())
	}
	return s, nil
}

// withSession runs fn on a freshly opened channel and closes it afterwards.
func withSession(c *cli.Context, fn func(ctx context.Context, s *session) error) error {
	def, err := channelDef(c)
	if err != nil {
		return err
	}
	ctx := commandContext(c)
	s, err := openSession(ctx, def)
	if err != nil {
		return err
	}
	defer func() {
		if err := s.Close(); err != nil {
			slog.Warn("could not close channel", "error", err)
		}
	}()
	return fn(ctx, s)
}
