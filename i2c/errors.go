package i2c

import (
	"errors"
	"fmt"

	"github.com/mklimuk/i2cmaster"
)

// Phase names the wait point at which a transaction failed.
type Phase string

const (
	PhaseStart   Phase = "start"
	PhaseAddress Phase = "address"
	PhaseData    Phase = "data"
	PhaseStop    Phase = "stop"
)

// Error describes a failed transaction. errors.Is matches the sentinel of
// its Kind as well as any wrapped cause.
type Error struct {
	Kind    ErrorKind
	Phase   Phase
	Address uint16
	// Unit and Offset locate the byte being moved when the failure happened.
	Unit   int
	Offset int
	Err    error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("i2c %s at %s phase (addr %#x, unit %d, byte %d)", e.Kind, e.Phase, e.Address, e.Unit, e.Offset)
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Is(target error) bool {
	return target == e.Kind.Err()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// kindOf maps a backend error to an error kind. Errors that carry no known
// sentinel are reported as timeouts: the transfer did not make progress.
func kindOf(err error) ErrorKind {
	var txErr *Error
	switch {
	case errors.As(err, &txErr):
		return txErr.Kind
	case errors.Is(err, i2cmaster.ErrNack):
		return ErrorNack
	case errors.Is(err, i2cmaster.ErrArbitrationLost):
		return ErrorArbitrationLost
	case errors.Is(err, i2cmaster.ErrBusBusy):
		return ErrorBusBusy
	default:
		return ErrorTimeout
	}
}

// IsAddressNack reports whether err is a NACK received for the address byte,
// the usual way a bus reports an absent device.
func IsAddressNack(err error) bool {
	var txErr *Error
	if errors.As(err, &txErr) {
		return txErr.Kind == ErrorNack && txErr.Phase == PhaseAddress
	}
	return false
}
