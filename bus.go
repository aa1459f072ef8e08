package i2cmaster

import (
	"context"
	"errors"
)

var (
	ErrTimeout         = errors.New("i2c: no bus progress before deadline")
	ErrArbitrationLost = errors.New("i2c: arbitration lost")
	ErrNack            = errors.New("i2c: not acknowledged")
	ErrBusBusy         = errors.New("i2c: bus held by another controller")
	ErrUnsupportedMode = errors.New("i2c: peripheral mode is not supported")
)

type AddressableReader interface {
	ReadFromAddr(ctx context.Context, address byte, buffer []byte) error
}

type AddressableWriter interface {
	WriteToAddr(ctx context.Context, address byte, buffer []byte) error
	Release(ctx context.Context) error
}

type I2CBus interface {
	AddressableReader
	AddressableWriter
}

// MemoryBus reads and writes devices exposing an internal address pointer
// (EEPROMs, register files). width is the pointer size in bits: 8 or 16.
type MemoryBus interface {
	MemRead(ctx context.Context, address uint16, memAddress uint16, width int, buffer []byte) error
	MemWrite(ctx context.Context, address uint16, memAddress uint16, width int, buffer []byte) error
}

type Prober interface {
	IsReady(ctx context.Context, address uint16) (bool, error)
	Scan(ctx context.Context) ([]uint16, error)
}
