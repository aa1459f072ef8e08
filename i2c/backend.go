package i2c

import (
	"context"
	"strings"
)

// Flags is a snapshot of the hardware status bits the controller polls.
type Flags uint16

const (
	// FlagBusBusy is set while SCL or SDA is held, by us or another controller.
	FlagBusBusy Flags = 1 << iota
	// FlagStart is set once a start or repeated start condition went out.
	FlagStart
	// FlagTransmitted is set when a byte was shifted out and its ACK slot sampled.
	FlagTransmitted
	// FlagReceived is set when a byte is waiting in the receive register.
	FlagReceived
	// FlagNack accompanies FlagTransmitted when the receiver did not acknowledge.
	FlagNack
	// FlagArbitrationLost is set when another controller won the bus.
	FlagArbitrationLost
	// FlagStop is set once a stop condition went out.
	FlagStop
)

var flagNames = []string{"BBSY", "START", "TEND", "RDRF", "NACKF", "AL", "STOP"}

func (f Flags) Has(mask Flags) bool {
	return f&mask != 0
}

func (f Flags) String() string {
	var names []string
	for i, name := range flagNames {
		if f&(1<<i) != 0 {
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		return "-"
	}
	return strings.Join(names, "|")
}

// Backend is a byte-level controller in the shape of a register-level I2C
// peripheral. Commands return immediately; their completion shows up in
// Flags. Issuing a command clears the flags it completes.
type Backend interface {
	// ProgramBaud sets the bus clock divider for the given frequency.
	ProgramBaud(hz uint32) error
	Flags() Flags
	Start()
	RepeatedStart()
	Stop()
	// Transmit shifts out one byte (address or data).
	Transmit(b byte)
	// Receive clocks in one byte and answers it with ACK, or NACK when ack
	// is false.
	Receive(ack bool)
	// Data returns the last received byte.
	Data() byte
	// Reset aborts any transfer in progress, clears the flags and releases
	// the lines, clocking SCL until a stuck SDA is freed.
	Reset() error
}

// Signaler is implemented by interrupt driven backends. A value is sent on
// the channel whenever Flags may have changed; the controller sleeps on it
// instead of spinning.
type Signaler interface {
	Events() <-chan struct{}
}

// Segment is one addressed burst handed to a SegmentBackend: a start (or
// repeated start), the address byte, len(Buf) data bytes, and optionally a
// stop.
type Segment struct {
	Address       uint16
	Read          bool
	Buf           []byte
	RepeatedStart bool
	Stop          bool
}

// SegmentBackend moves a whole segment per command, as USB bridges and
// kernel drivers do. Errors wrap the root sentinel errors so they can be
// classified; n is the number of data bytes transferred.
type SegmentBackend interface {
	ProgramBaud(hz uint32) error
	Transfer(ctx context.Context, seg Segment) (n int, err error)
	// Reset cancels any transfer in progress and releases the bus.
	Reset(ctx context.Context) error
}

// AddressNack marks err as a NACK of the address byte. Segment backends that
// can tell the address phase from the data phase wrap their address NACKs
// with it; an unmarked NACK counts as an address NACK only when the segment
// carried no data bytes.
func AddressNack(err error) error {
	return &addressNackError{err: err}
}

type addressNackError struct {
	err error
}

func (e *addressNackError) Error() string {
	return e.err.Error()
}

func (e *addressNackError) Unwrap() error {
	return e.err
}
