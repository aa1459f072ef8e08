// Package bitbang is a software I2C controller on two GPIO lines. Lines are
// driven open drain: a one releases the line to its pull-up, a zero drives
// it low.
package bitbang

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/host/v3/cpu"

	"github.com/mklimuk/i2cmaster/i2c"
)

var _ i2c.Backend = &Controller{}

// DefaultStretchTimeout is how long a target may hold SCL low, the SMBus
// clock low timeout.
const DefaultStretchTimeout = 25 * time.Millisecond

// Line is the part of gpio.PinIO the controller needs.
type Line interface {
	In(pull gpio.Pull, edge gpio.Edge) error
	Out(l gpio.Level) error
	Read() gpio.Level
}

// Controller implements i2c.Backend by toggling the lines itself. Every
// command completes before it returns, except when a target stretches the
// clock past the stretch timeout: the command is then left hanging until
// Reset.
type Controller struct {
	mu sync.Mutex

	scl       Line
	sda       Line
	halfCycle time.Duration
	stretch   time.Duration

	flags   i2c.Flags
	data    byte
	started bool
	stuck   bool
	lineErr error
}

type Option func(*Controller)

func WithStretchTimeout(d time.Duration) Option {
	return func(c *Controller) {
		c.stretch = d
	}
}

// New releases both lines and returns a controller clocking at 100 kHz
// until ProgramBaud is called.
func New(scl, sda Line, opts ...Option) (*Controller, error) {
	c := &Controller{
		scl:     scl,
		sda:     sda,
		stretch: DefaultStretchTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	if err := c.ProgramBaud(100_000); err != nil {
		return nil, err
	}
	if err := scl.In(gpio.PullUp, gpio.NoEdge); err != nil {
		return nil, fmt.Errorf("could not release scl: %w", err)
	}
	if err := sda.In(gpio.PullUp, gpio.NoEdge); err != nil {
		return nil, fmt.Errorf("could not release sda: %w", err)
	}
	return c, nil
}

func (c *Controller) String() string {
	return fmt.Sprintf("bitbang(%v, %v)", c.scl, c.sda)
}

func (c *Controller) ProgramBaud(hz uint32) error {
	if hz == 0 {
		return errors.New("bitbang: bus frequency must be positive")
	}
	f := physic.Frequency(hz) * physic.Hertz
	c.mu.Lock()
	defer c.mu.Unlock()
	c.halfCycle = f.Period() / 2
	return nil
}

// Flags reports a busy bus when either line is low while we are not the
// owner, or while a transaction of ours is open.
func (c *Controller) Flags() i2c.Flags {
	c.mu.Lock()
	defer c.mu.Unlock()
	f := c.flags
	if c.started || c.stuck || c.scl.Read() == gpio.Low || c.sda.Read() == gpio.Low {
		f |= i2c.FlagBusBusy
	}
	return f
}

func (c *Controller) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.flags &^= i2c.FlagStart | i2c.FlagStop | i2c.FlagTransmitted | i2c.FlagReceived | i2c.FlagNack
	c.setSDA(true)
	if !c.releaseSCL() {
		return
	}
	c.setSDA(false)
	c.sleep()
	c.setSCL(false)
	c.started = true
	c.flags |= i2c.FlagStart
}

func (c *Controller) RepeatedStart() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.flags &^= i2c.FlagStart | i2c.FlagTransmitted | i2c.FlagReceived | i2c.FlagNack
	if c.stuck {
		return
	}
	c.setSDA(true)
	c.sleep()
	if !c.releaseSCL() {
		return
	}
	c.sleep()
	c.setSDA(false)
	c.sleep()
	c.setSCL(false)
	c.flags |= i2c.FlagStart
}

func (c *Controller) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.flags &^= i2c.FlagStop | i2c.FlagTransmitted | i2c.FlagReceived
	if c.stuck {
		return
	}
	c.setSDA(false)
	c.sleep()
	if !c.releaseSCL() {
		return
	}
	c.sleep()
	c.setSDA(true)
	c.sleep()
	c.started = false
	c.flags |= i2c.FlagStop
}

// Transmit shifts b out MSB first and samples the ACK on the ninth clock.
// Reading SDA low while releasing it means another controller is talking.
func (c *Controller) Transmit(b byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.flags &^= i2c.FlagTransmitted | i2c.FlagNack
	if c.stuck {
		return
	}
	for bit := 7; bit >= 0; bit-- {
		one := b&(1<<bit) != 0
		c.setSDA(one)
		c.sleep()
		if !c.releaseSCL() {
			return
		}
		if one && c.sda.Read() == gpio.Low {
			c.setSCL(false)
			c.started = false
			c.flags |= i2c.FlagArbitrationLost
			return
		}
		c.sleep()
		c.setSCL(false)
	}
	c.setSDA(true)
	c.sleep()
	if !c.releaseSCL() {
		return
	}
	ack := c.sda.Read() == gpio.Low
	c.sleep()
	c.setSCL(false)
	c.flags |= i2c.FlagTransmitted
	if !ack {
		c.flags |= i2c.FlagNack
	}
}

// Receive clocks in a byte then drives ACK, or leaves SDA released for a
// NACK.
func (c *Controller) Receive(ack bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.flags &^= i2c.FlagReceived
	if c.stuck {
		return
	}
	c.setSDA(true)
	var b byte
	for bit := 7; bit >= 0; bit-- {
		c.sleep()
		if !c.releaseSCL() {
			return
		}
		if c.sda.Read() == gpio.High {
			b |= 1 << bit
		}
		c.sleep()
		c.setSCL(false)
	}
	c.setSDA(!ack)
	c.sleep()
	if !c.releaseSCL() {
		return
	}
	c.sleep()
	c.setSCL(false)
	c.setSDA(true)
	c.data = b
	c.flags |= i2c.FlagReceived
}

func (c *Controller) Data() byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.data
}

// Reset frees the bus: SCL is pulsed up to nine times until a target that
// was cut off mid byte lets go of SDA, then a stop is generated.
func (c *Controller) Reset() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.flags = 0
	c.stuck = false
	c.started = false
	c.lineErr = nil
	c.setSDA(true)
	c.setSCL(true)
	if c.scl.Read() == gpio.Low {
		return errors.New("bitbang: scl held low")
	}
	for i := 0; i < 9 && c.sda.Read() == gpio.Low; i++ {
		c.setSCL(false)
		c.sleep()
		c.setSCL(true)
		c.sleep()
	}
	if c.sda.Read() == gpio.Low {
		return errors.New("bitbang: sda held low")
	}
	// stop condition for targets that saw a partial start
	c.setSCL(false)
	c.setSDA(false)
	c.sleep()
	c.setSCL(true)
	c.sleep()
	c.setSDA(true)
	return c.lineErr
}

// releaseSCL lets SCL go high and waits while a target stretches the clock.
// It marks the controller stuck when the stretch timeout passes.
func (c *Controller) releaseSCL() bool {
	c.setSCL(true)
	if c.scl.Read() == gpio.High {
		return true
	}
	start := time.Now()
	for c.scl.Read() == gpio.Low {
		if time.Since(start) > c.stretch {
			c.stuck = true
			return false
		}
		cpu.Nanospin(c.halfCycle)
	}
	return true
}

func (c *Controller) setSCL(high bool) {
	c.drive(c.scl, high)
}

func (c *Controller) setSDA(high bool) {
	c.drive(c.sda, high)
}

func (c *Controller) drive(l Line, high bool) {
	var err error
	if high {
		err = l.In(gpio.PullUp, gpio.NoEdge)
	} else {
		err = l.Out(gpio.Low)
	}
	if err != nil && c.lineErr == nil {
		c.lineErr = err
	}
}

func (c *Controller) sleep() {
	cpu.Nanospin(c.halfCycle)
}
