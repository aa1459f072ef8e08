package i2c

import "fmt"

// MaxUnitLength bounds a single unit. The hardware has no such limit but a
// transfer this long on a 100 kHz bus already takes several seconds.
const MaxUnitLength = 64 * 1024

type Direction int

const (
	Write Direction = iota
	Read
)

func (d Direction) String() string {
	if d == Read {
		return "read"
	}
	return "write"
}

// rw returns the R/W bit of the address byte.
func (d Direction) rw() byte {
	if d == Read {
		return 0x01
	}
	return 0x00
}

// Unit is the smallest schedulable piece of a transaction. Buf is borrowed
// from the caller for the duration of an execution and never retained.
type Unit struct {
	Buf       []byte
	Length    int
	Direction Direction

	transferred int
}

// NewUnit builds a unit transferring length bytes of buf in the given direction.
func NewUnit(buf []byte, length int, dir Direction) (Unit, error) {
	if length < 0 {
		return Unit{}, fmt.Errorf("negative unit length %d", length)
	}
	if length > MaxUnitLength {
		return Unit{}, fmt.Errorf("unit length %d exceeds %d bytes", length, MaxUnitLength)
	}
	if length > len(buf) {
		return Unit{}, fmt.Errorf("unit length %d exceeds buffer size %d", length, len(buf))
	}
	return Unit{Buf: buf, Length: length, Direction: dir}, nil
}

// WriteUnit is a shorthand for a unit writing the whole of buf.
func WriteUnit(buf []byte) (Unit, error) {
	return NewUnit(buf, len(buf), Write)
}

// ReadUnit is a shorthand for a unit filling the whole of buf.
func ReadUnit(buf []byte) (Unit, error) {
	return NewUnit(buf, len(buf), Read)
}

// Transferred returns the number of bytes moved by the last execution.
func (u *Unit) Transferred() int {
	return u.transferred
}

func (u *Unit) Remaining() int {
	return u.Length - u.transferred
}

func (u *Unit) Done() bool {
	return u.transferred == u.Length
}

// advance records n more bytes as transferred, never past Length.
func (u *Unit) advance(n int) {
	u.transferred += n
	if u.transferred > u.Length {
		u.transferred = u.Length
	}
}
