package i2c

import (
	"fmt"

	"github.com/mklimuk/i2cmaster"
)

// Status is the lifecycle state of a transaction.
type Status int

const (
	StatusIdle Status = iota
	StatusStarted
	StatusAddressPhaseDone
	StatusDataPhaseDone
	StatusStopped
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusStarted:
		return "started"
	case StatusAddressPhaseDone:
		return "address-phase-done"
	case StatusDataPhaseDone:
		return "data-phase-done"
	case StatusStopped:
		return "stopped"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// ErrorKind classifies the failure of a transaction.
type ErrorKind int

const (
	ErrorNone ErrorKind = iota
	ErrorTimeout
	ErrorArbitrationLost
	ErrorNack
	ErrorBusBusy
)

func (k ErrorKind) String() string {
	switch k {
	case ErrorNone:
		return "none"
	case ErrorTimeout:
		return "timeout"
	case ErrorArbitrationLost:
		return "arbitration-lost"
	case ErrorNack:
		return "nack"
	case ErrorBusBusy:
		return "bus-busy"
	default:
		return fmt.Sprintf("error(%d)", int(k))
	}
}

// Err returns the sentinel error matching the kind, nil for ErrorNone.
func (k ErrorKind) Err() error {
	switch k {
	case ErrorTimeout:
		return i2cmaster.ErrTimeout
	case ErrorArbitrationLost:
		return i2cmaster.ErrArbitrationLost
	case ErrorNack:
		return i2cmaster.ErrNack
	case ErrorBusBusy:
		return i2cmaster.ErrBusBusy
	default:
		return nil
	}
}

// Transaction is an ordered chain of units executed against one target
// address. Units run strictly in slice order; unit i+1 follows unit i.
type Transaction struct {
	Units   []Unit
	Address uint16
	// Frequency is applied before the start condition when non-zero and
	// different from the channel's current clock.
	Frequency uint32
	// Stop issues a stop condition after the last unit. Without it the bus
	// stays held for a follow-on transaction started with a repeated start.
	Stop bool

	Status Status
	Err    ErrorKind
}

func NewTransaction(address uint16, stop bool, units ...Unit) *Transaction {
	return &Transaction{
		Units:   units,
		Address: address,
		Stop:    stop,
	}
}

// Next returns the index of the unit following i.
func (t *Transaction) Next(i int) (int, bool) {
	if i+1 < len(t.Units) {
		return i + 1, true
	}
	return 0, false
}

// Transferred sums the bytes moved by all units.
func (t *Transaction) Transferred() int {
	n := 0
	for i := range t.Units {
		n += t.Units[i].transferred
	}
	return n
}

// Reset brings the transaction back to Idle so it can be executed again.
func (t *Transaction) Reset() {
	t.Status = StatusIdle
	t.Err = ErrorNone
	for i := range t.Units {
		t.Units[i].transferred = 0
	}
}

func (t *Transaction) validate() error {
	if len(t.Units) == 0 {
		return fmt.Errorf("transaction to %#x has no units", t.Address)
	}
	if t.Address > 0x7F {
		return fmt.Errorf("address %#x is not a 7-bit address", t.Address)
	}
	for i := range t.Units {
		u := &t.Units[i]
		if u.Length < 0 || u.Length > len(u.Buf) || u.Length > MaxUnitLength {
			return fmt.Errorf("unit %d: invalid length %d for buffer of %d bytes", i, u.Length, len(u.Buf))
		}
	}
	return nil
}

// run is a maximal sequence of consecutive units sharing a direction. A run
// is addressed once; a direction change needs a repeated start.
type run struct {
	first, last int
	dir         Direction
}

func (r run) length(t *Transaction) int {
	n := 0
	for i := r.first; i <= r.last; i++ {
		n += t.Units[i].Length
	}
	return n
}

func (t *Transaction) runs() []run {
	var res []run
	for i := 0; i < len(t.Units); {
		r := run{first: i, last: i, dir: t.Units[i].Direction}
		for j, ok := t.Next(i); ok && t.Units[j].Direction == r.dir; j, ok = t.Next(j) {
			r.last = j
		}
		res = append(res, r)
		i = r.last + 1
	}
	return res
}
