package i2c

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/mklimuk/i2cmaster"
	"github.com/mklimuk/i2cmaster/pinmux"
)

const (
	// DefaultOwnAddress is the address a channel answers to in controller
	// mode. It is only reported, never driven on the bus.
	DefaultOwnAddress uint16 = 0x12
	DefaultTimeout           = time.Second
)

var ErrNotInitialized = errors.New("i2c: channel not initialized")

type Mode int

const (
	ModeController Mode = iota
	ModePeripheral
)

func (m Mode) String() string {
	if m == ModePeripheral {
		return "peripheral"
	}
	return "controller"
}

// Channel is one physical bus: its backend, its pins and the state shared by
// every transaction run on it. All operations are serialized on the channel.
type Channel struct {
	mu sync.Mutex

	id     int
	hw     Backend
	seg    SegmentBackend
	pins   pinmux.Configurator
	scl    pinmux.Pin
	sda    pinmux.Pin
	family Family

	mode           Mode
	ownAddress     uint16
	frequency      uint32
	programmed     uint32
	currentAddress uint16
	lastErr        error
	held           bool
	initialized    bool

	timeout time.Duration
	clock   clock.Clock
	logger  *slog.Logger
}

type Option func(*Channel)

// WithPins sets the SCL and SDA pins switched to the I2C function on Init.
func WithPins(scl, sda pinmux.Pin) Option {
	return func(c *Channel) {
		c.scl = scl
		c.sda = sda
	}
}

func WithConfigurator(cfg pinmux.Configurator) Option {
	return func(c *Channel) {
		c.pins = cfg
	}
}

// WithFamily makes State report the divider registers of the family.
func WithFamily(f Family) Option {
	return func(c *Channel) {
		c.family = f
	}
}

func WithClock(clk clock.Clock) Option {
	return func(c *Channel) {
		c.clock = clk
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Channel) {
		c.logger = l
	}
}

func WithFrequency(hz uint32) Option {
	return func(c *Channel) {
		c.frequency = hz
	}
}

// WithTimeout sets the timeout of operations whose context has no earlier
// deadline.
func WithTimeout(d time.Duration) Option {
	return func(c *Channel) {
		c.timeout = d
	}
}

// New creates a channel driven byte by byte through hw.
func New(id int, hw Backend, opts ...Option) *Channel {
	c := newChannel(id, opts)
	c.hw = hw
	return c
}

// NewSegmented creates a channel over a backend that moves whole segments.
func NewSegmented(id int, hw SegmentBackend, opts ...Option) *Channel {
	c := newChannel(id, opts)
	c.seg = hw
	return c
}

func newChannel(id int, opts []Option) *Channel {
	c := &Channel{
		id:         id,
		ownAddress: DefaultOwnAddress,
		frequency:  DefaultFrequency,
		timeout:    DefaultTimeout,
		clock:      clock.New(),
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("channel", id)
	return c
}

func (c *Channel) ID() int {
	return c.id
}

// Init configures the pins, programs the clock and clears the bus. Only
// controller mode is supported. frequency is capped at MaxFrequency, zero
// keeps the configured one.
func (c *Channel) Init(ctx context.Context, mode Mode, ownAddress uint16, frequency uint32) error {
	if mode != ModeController {
		return fmt.Errorf("channel %d: %w", c.id, i2cmaster.ErrUnsupportedMode)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if frequency == 0 {
		frequency = c.frequency
	}
	frequency = ClampFrequency(frequency)
	if err := c.configurePins(pinmux.AlternateFunction, pinmux.FunctionRIIC); err != nil {
		return err
	}
	if err := c.programBaud(frequency); err != nil {
		return err
	}
	if err := c.resetBackend(ctx); err != nil {
		return fmt.Errorf("could not clear bus on channel %d: %w", c.id, err)
	}
	c.mode = mode
	c.ownAddress = ownAddress
	c.frequency = frequency
	c.held = false
	c.lastErr = nil
	c.initialized = true
	c.logger.Debug("channel initialized", "freq", frequency, "scl", c.scl, "sda", c.sda)
	return nil
}

// Deinit releases the bus and hands the pins back to GPIO.
func (c *Channel) Deinit(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.initialized {
		return nil
	}
	err := c.resetBackend(ctx)
	if perr := c.configurePins(pinmux.GPIO, 0); perr != nil && err == nil {
		err = perr
	}
	c.initialized = false
	c.held = false
	c.programmed = 0
	c.logger.Debug("channel deinitialized")
	return err
}

// Close implements io.Closer.
func (c *Channel) Close() error {
	return c.Deinit(context.Background())
}

func (c *Channel) configurePins(mode pinmux.Mode, function int) error {
	if c.pins == nil || c.scl == "" || c.sda == "" {
		return nil
	}
	for _, p := range []pinmux.Pin{c.scl, c.sda} {
		if err := c.pins.ConfigurePin(p, mode, function); err != nil {
			return fmt.Errorf("could not configure pin %s as %s: %w", p, mode, err)
		}
	}
	return nil
}

func (c *Channel) programBaud(hz uint32) error {
	var err error
	if c.hw != nil {
		err = c.hw.ProgramBaud(hz)
	} else {
		err = c.seg.ProgramBaud(hz)
	}
	if err != nil {
		return fmt.Errorf("could not program %d Hz on channel %d: %w", hz, c.id, err)
	}
	c.programmed = hz
	return nil
}

func (c *Channel) resetBackend(ctx context.Context) error {
	c.held = false
	if c.hw != nil {
		return c.hw.Reset()
	}
	return c.seg.Reset(ctx)
}

// Execute runs tx to completion. A nil error means every unit was moved in
// full. On failure the bus was forced back to idle, tx.Err holds the kind and
// the returned *Error locates the failure. With repeatedStart a bus held by
// the previous transaction is continued instead of released. timeout bounds
// the whole transaction; zero means the channel default.
func (c *Channel) Execute(ctx context.Context, tx *Transaction, repeatedStart bool, timeout time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.execute(ctx, tx, repeatedStart, timeout)
}

func (c *Channel) execute(ctx context.Context, tx *Transaction, repeatedStart bool, timeout time.Duration) error {
	if !c.initialized {
		return fmt.Errorf("channel %d: %w", c.id, ErrNotInitialized)
	}
	if err := tx.validate(); err != nil {
		return err
	}
	tx.Reset()
	if tx.Frequency != 0 {
		if hz := ClampFrequency(tx.Frequency); hz != c.programmed {
			if err := c.programBaud(hz); err != nil {
				return err
			}
			c.frequency = hz
		}
	}
	if timeout <= 0 {
		timeout = c.timeout
	}
	c.currentAddress = tx.Address
	deadline := c.clock.Now().Add(timeout)

	var err error
	if c.hw != nil {
		err = newByteEngine(ctx, c, c.hw, tx, deadline).execute(ctx, repeatedStart)
	} else {
		err = newSegmentEngine(ctx, c, c.seg, tx, deadline).execute(ctx, repeatedStart)
	}
	c.lastErr = err
	if err != nil && !IsAddressNack(err) {
		c.logger.Debug("transaction failed", "addr", tx.Address, "transferred", tx.Transferred(), "error", err)
	}
	return err
}

// opTimeout is the channel timeout, shortened to the context deadline.
func (c *Channel) opTimeout(ctx context.Context) time.Duration {
	timeout := c.timeout
	if dl, ok := ctx.Deadline(); ok {
		if left := c.clock.Until(dl); left < timeout {
			timeout = max(left, time.Millisecond)
		}
	}
	return timeout
}

// State is a snapshot of the channel configuration.
type State struct {
	ID             int          `yaml:"id"`
	Mode           string       `yaml:"mode"`
	Initialized    bool         `yaml:"initialized"`
	OwnAddress     uint16       `yaml:"own_address"`
	Frequency      uint32       `yaml:"frequency"`
	Clock          *ClockParams `yaml:"clock,omitempty"`
	SCL            string       `yaml:"scl,omitempty"`
	SDA            string       `yaml:"sda,omitempty"`
	CurrentAddress uint16       `yaml:"current_address"`
	Held           bool         `yaml:"held"`
	LastError      string       `yaml:"last_error,omitempty"`
}

func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := State{
		ID:             c.id,
		Mode:           c.mode.String(),
		Initialized:    c.initialized,
		OwnAddress:     c.ownAddress,
		Frequency:      c.frequency,
		SCL:            string(c.scl),
		SDA:            string(c.sda),
		CurrentAddress: c.currentAddress,
		Held:           c.held,
	}
	if c.family != "" {
		if p, err := Divider(c.family, c.frequency); err == nil {
			s.Clock = &p
		}
	}
	if c.lastErr != nil {
		s.LastError = c.lastErr.Error()
	}
	return s
}
