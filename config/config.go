// Package config loads the bus channel definitions used by the command line
// tools.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"
	"periph.io/x/conn/v3/physic"

	"github.com/mklimuk/i2cmaster/i2c"
	"github.com/mklimuk/i2cmaster/pinmux"
)

type Backend string

const (
	BackendSim     Backend = "sim"
	BackendBitbang Backend = "bitbang"
	BackendMCP2221 Backend = "mcp2221"
	BackendHost    Backend = "host"
	BackendGobot   Backend = "gobot"
)

var backends = []Backend{BackendSim, BackendBitbang, BackendMCP2221, BackendHost, BackendGobot}

func ParseBackend(s string) (Backend, error) {
	for _, b := range backends {
		if string(b) == s {
			return b, nil
		}
	}
	return "", fmt.Errorf("unknown backend %q", s)
}

// Frequency is a bus clock written the periph way: "100kHz", "400000".
type Frequency physic.Frequency

func (f Frequency) Hertz() uint32 {
	return uint32(physic.Frequency(f) / physic.Hertz)
}

func (f Frequency) String() string {
	return physic.Frequency(f).String()
}

func (f *Frequency) UnmarshalYAML(node *yaml.Node) error {
	var pf physic.Frequency
	if err := pf.Set(node.Value); err != nil {
		return fmt.Errorf("line %d: invalid frequency %q: %w", node.Line, node.Value, err)
	}
	*f = Frequency(pf)
	return nil
}

func (f Frequency) MarshalYAML() (interface{}, error) {
	return f.String(), nil
}

type Channel struct {
	ID        int           `yaml:"id"`
	Backend   Backend       `yaml:"backend"`
	Frequency Frequency     `yaml:"frequency,omitempty"`
	Timeout   time.Duration `yaml:"timeout,omitempty"`
	// Family and the pins drive the pin mux and the clock divider tables.
	Family string `yaml:"family,omitempty"`
	SCL    string `yaml:"scl,omitempty"`
	SDA    string `yaml:"sda,omitempty"`
	// Device names the host bus ("/dev/i2c-1", "I2C1") for the host backend.
	Device string `yaml:"device,omitempty"`
	// Index selects one of several MCP2221 bridges, in enumeration order.
	Index *int `yaml:"index,omitempty"`
	// Bus is the gobot adaptor bus number, -1 for the adaptor default.
	Bus *int `yaml:"bus,omitempty"`
}

type Config struct {
	Channels []Channel `yaml:"channels"`
}

// Default is used when no file is given: a single MCP2221 bridge.
func Default() *Config {
	cfg := &Config{Channels: []Channel{{ID: 0, Backend: BackendMCP2221}}}
	cfg.applyDefaults()
	return cfg
}

func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("could not open config: %w", err)
	}
	defer f.Close()
	cfg, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

func Parse(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("could not decode config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	for i := range c.Channels {
		ch := &c.Channels[i]
		if ch.Backend == "" {
			ch.Backend = BackendMCP2221
		}
		if ch.Frequency == 0 {
			ch.Frequency = Frequency(physic.Frequency(i2c.DefaultFrequency) * physic.Hertz)
		}
		if ch.Timeout == 0 {
			ch.Timeout = i2c.DefaultTimeout
		}
	}
}

func (c *Config) Validate() error {
	if len(c.Channels) == 0 {
		return errors.New("no channels defined")
	}
	seen := make(map[int]bool)
	for _, ch := range c.Channels {
		if seen[ch.ID] {
			return fmt.Errorf("channel %d defined twice", ch.ID)
		}
		seen[ch.ID] = true
		if _, err := ParseBackend(string(ch.Backend)); err != nil {
			return fmt.Errorf("channel %d: %w", ch.ID, err)
		}
		if ch.Frequency < 0 || ch.Frequency.Hertz() > i2c.MaxFrequency {
			return fmt.Errorf("channel %d: frequency %s out of range (max %dHz)", ch.ID, ch.Frequency, i2c.MaxFrequency)
		}
		if ch.Timeout < 0 {
			return fmt.Errorf("channel %d: negative timeout", ch.ID)
		}
		if ch.Family != "" {
			if _, err := pinmux.ParseFamily(ch.Family); err != nil {
				return fmt.Errorf("channel %d: %w", ch.ID, err)
			}
		}
		if (ch.SCL == "") != (ch.SDA == "") {
			return fmt.Errorf("channel %d: scl and sda go together", ch.ID)
		}
		if ch.Backend == BackendBitbang && ch.SCL == "" {
			return fmt.Errorf("channel %d: bitbang backend needs scl and sda", ch.ID)
		}
		if ch.Family != "" && ch.SCL != "" {
			fam, _ := pinmux.ParseFamily(ch.Family)
			if _, err := pinmux.FindChannel(fam, pinmux.Pin(ch.SCL), pinmux.Pin(ch.SDA)); err != nil {
				return fmt.Errorf("channel %d: %w", ch.ID, err)
			}
		}
	}
	return nil
}

// Channel returns the definition with the given id.
func (c *Config) Channel(id int) (Channel, error) {
	for _, ch := range c.Channels {
		if ch.ID == id {
			return ch, nil
		}
	}
	return Channel{}, fmt.Errorf("channel %d not configured", id)
}
