package adapter

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/karalabe/hid"

	"github.com/mklimuk/i2cmaster"
	"github.com/mklimuk/i2cmaster/busctx"
	"github.com/mklimuk/i2cmaster/i2c"
)

const VendorID = 0x04D8
const ProductID = 0x00DD

const (
	reportSize = 64
	// chunkSize is the payload of a single write report.
	chunkSize = 60
	// clockHz is the reference the speed divider is computed from.
	clockHz = 12_000_000
)

const (
	cmdStatus            byte = 0x10
	cmdGetData           byte = 0x40
	cmdWrite             byte = 0x90
	cmdRead              byte = 0x91
	cmdWriteRepStart     byte = 0x92
	cmdReadRepStart      byte = 0x93
	cmdWriteNoStop       byte = 0x94
	paramCancel          byte = 0x10
	paramSetSpeed        byte = 0x20
	speedNotSet          byte = 0x21
	responseBusy         byte = 0x01
	dataNotReady         byte = 0x41
	dataReadError        byte = 0x7F
	stateIdle            byte = 0x00
	stateStartTimeout    byte = 0x12
	stateRepStartTimeout byte = 0x17
	stateAddrTimeout     byte = 0x23
	stateAddrNack        byte = 0x25
	statePartialData     byte = 0x41
	stateWriteTimeout    byte = 0x44
	stateWritingNoStop   byte = 0x45
	stateReadTimeout     byte = 0x52
	stateReadPartial     byte = 0x54
	stateReadComplete    byte = 0x55
	stateStopTimeout     byte = 0x62
)

const defaultRetries = 50

var ErrDeviceNotFound = errors.New("MCP2221 device not found")

// Device is the HID report pipe to the bridge. *hid.Device implements it.
type Device interface {
	Write(b []byte) (int, error)
	Read(b []byte) (int, error)
	Close() error
}

// Opener returns a fresh handle to the bridge; the adapter opens and closes
// the device around every exchange.
type Opener func() (Device, error)

var _ i2c.SegmentBackend = &MCP2221{}

// MCP2221 drives the Microchip USB-HID to I2C bridge. Every bus segment is
// one command report followed by status polling until the I2C engine on the
// chip goes idle again.
type MCP2221 struct {
	mx           sync.Mutex
	open         Opener
	request      []byte
	response     []byte
	responseWait time.Duration
	pollInterval time.Duration
	retries      int
	logger       *slog.Logger
}

type Status struct {
	I2CState               string `yaml:"i2c_state"`
	I2CDataBufferCounter   int    `yaml:"data_buffer_counter"`
	I2CSpeedDivider        int    `yaml:"speed_divider"`
	I2CTimeout             int    `yaml:"timeout"`
	CurrentAddress         string `yaml:"current_address"`
	LastWriteRequestedSize uint16 `yaml:"last_write_requested"`
	LastWriteSentSize      uint16 `yaml:"last_write_sent"`
	ReadPending            int    `yaml:"read_pending"`

	state byte
}

type Option func(*MCP2221)

func WithOpener(open Opener) Option {
	return func(d *MCP2221) {
		d.open = open
	}
}

// WithIndex selects the n-th bridge when several are plugged in.
func WithIndex(n int) Option {
	return func(d *MCP2221) {
		d.open = hidOpener(n)
	}
}

// WithResponseWait sets the pause between a command report and reading the
// answer.
func WithResponseWait(wait time.Duration) Option {
	return func(d *MCP2221) {
		d.responseWait = wait
	}
}

func WithPollInterval(interval time.Duration) Option {
	return func(d *MCP2221) {
		d.pollInterval = interval
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(d *MCP2221) {
		d.logger = logger
	}
}

func NewMCP2221(opts ...Option) *MCP2221 {
	d := &MCP2221{
		open:         hidOpener(-1),
		request:      make([]byte, reportSize),
		response:     make([]byte, reportSize),
		responseWait: 2 * time.Millisecond,
		pollInterval: 300 * time.Microsecond,
		retries:      defaultRetries,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = d.logger.With("adapter", "mcp2221")
	return d
}

// Devices lists the bridges currently attached.
func Devices() []hid.DeviceInfo {
	return hid.Enumerate(VendorID, ProductID)
}

func hidOpener(index int) Opener {
	return func() (Device, error) {
		devs := Devices()
		if len(devs) == 0 {
			return nil, ErrDeviceNotFound
		}
		i := index
		if i < 0 {
			if len(devs) > 1 {
				return nil, fmt.Errorf("ambiguous device identification: %d bridges attached", len(devs))
			}
			i = 0
		}
		if i >= len(devs) {
			return nil, fmt.Errorf("no device with id %d", i)
		}
		dev, err := devs[i].Open()
		if err != nil {
			return nil, fmt.Errorf("error opening device: %w", err)
		}
		return dev, nil
	}
}

// ProgramBaud sets the I2C speed divider. The chip derives SCL from a 12 MHz
// reference so rates below about 47 kHz cannot be programmed.
func (d *MCP2221) ProgramBaud(hz uint32) error {
	if hz == 0 || hz > clockHz/3 || hz < clockHz/258 {
		return fmt.Errorf("baud rate %d Hz out of range for MCP2221", hz)
	}
	d.mx.Lock()
	defer d.mx.Unlock()
	d.resetBuffers()
	d.request[0] = cmdStatus
	d.request[3] = paramSetSpeed
	d.request[4] = byte(clockHz/hz - 3)
	if err := d.send(context.Background()); err != nil {
		return fmt.Errorf("set speed request failed: %w", err)
	}
	if d.response[3] == speedNotSet {
		return fmt.Errorf("could not set speed, transfer in progress: %w", i2cmaster.ErrBusBusy)
	}
	return nil
}

// Transfer moves one segment. The chip always ends a read with a stop and
// cannot hold the bus after a repeated start write; both are logged and
// carried out in the closest form the chip offers.
func (d *MCP2221) Transfer(ctx context.Context, seg i2c.Segment) (int, error) {
	if seg.Address > 0x7F {
		return 0, fmt.Errorf("address %#x is not a 7-bit address", seg.Address)
	}
	if len(seg.Buf) > 0xFFFF {
		return 0, fmt.Errorf("segment of %d bytes exceeds the bridge limit", len(seg.Buf))
	}
	d.mx.Lock()
	defer d.mx.Unlock()
	if seg.Read {
		return d.read(ctx, seg)
	}
	return d.write(ctx, seg)
}

func (d *MCP2221) write(ctx context.Context, seg i2c.Segment) (int, error) {
	cmd := cmdWrite
	switch {
	case !seg.Stop:
		if seg.RepeatedStart {
			d.logger.Debug("repeated start write without stop not supported, issuing start", "addr", seg.Address)
		}
		cmd = cmdWriteNoStop
	case seg.RepeatedStart:
		cmd = cmdWriteRepStart
	}
	total := len(seg.Buf)
	pos := 0
	for {
		end := min(pos+chunkSize, total)
		d.resetBuffers()
		d.request[0] = cmd
		binary.LittleEndian.PutUint16(d.request[1:3], uint16(total))
		d.request[3] = byte(seg.Address << 1)
		copy(d.request[4:], seg.Buf[pos:end])
		if err := d.command(ctx, seg.Address); err != nil {
			return pos, err
		}
		pos = end
		if pos >= total {
			break
		}
		// wait for the chip to drain the chunk before handing it the next one
		if _, err := d.pollState(ctx, seg.Address, func(state byte) bool { return state != statePartialData }); err != nil {
			return pos, err
		}
	}
	st, err := d.pollState(ctx, seg.Address, func(state byte) bool {
		return state == stateIdle || (!seg.Stop && state == stateWritingNoStop)
	})
	if err != nil {
		if st != nil && errors.Is(err, i2cmaster.ErrNack) {
			return int(st.LastWriteSentSize), err
		}
		return 0, err
	}
	return total, nil
}

func (d *MCP2221) read(ctx context.Context, seg i2c.Segment) (int, error) {
	if !seg.Stop {
		d.logger.Debug("read always ends with stop on this bridge", "addr", seg.Address)
	}
	total := len(seg.Buf)
	if total == 0 {
		return 0, fmt.Errorf("zero-length read: %w", i2cmaster.ErrUnsupportedMode)
	}
	cmd := cmdRead
	if seg.RepeatedStart {
		cmd = cmdReadRepStart
	}
	d.resetBuffers()
	d.request[0] = cmd
	binary.LittleEndian.PutUint16(d.request[1:3], uint16(total))
	d.request[3] = byte(seg.Address<<1) | 0x01
	if err := d.command(ctx, seg.Address); err != nil {
		return 0, err
	}
	pos := 0
	for pos < total {
		n, err := d.fetch(ctx, seg.Address, seg.Buf[pos:])
		if err != nil {
			return pos, err
		}
		pos += n
	}
	return pos, nil
}

// fetch pulls the next chunk of read data out of the chip.
func (d *MCP2221) fetch(ctx context.Context, addr uint16, dst []byte) (int, error) {
	for retry := 0; retry < d.retries; retry++ {
		d.resetBuffers()
		d.request[0] = cmdGetData
		if err := d.send(ctx); err != nil {
			return 0, fmt.Errorf("error getting read data from adapter: %w", err)
		}
		state := d.response[2]
		if err := stateErr(state, addr); err != nil {
			return 0, err
		}
		if d.response[1] == dataNotReady || d.response[3] == dataReadError {
			if err := d.pause(ctx); err != nil {
				return 0, err
			}
			continue
		}
		if state == stateReadPartial || state == stateReadComplete || state == stateIdle {
			n := min(int(d.response[3]), len(dst), reportSize-4)
			copy(dst, d.response[4:4+n])
			if n == 0 && state == stateIdle {
				return 0, fmt.Errorf("read from %#x ended early: %w", addr, i2cmaster.ErrTimeout)
			}
			return n, nil
		}
		if err := d.pause(ctx); err != nil {
			return 0, err
		}
	}
	return 0, fmt.Errorf("no read data from %#x after %d attempts: %w", addr, d.retries, i2cmaster.ErrTimeout)
}

// command sends the prepared request, retrying while the chip answers busy.
func (d *MCP2221) command(ctx context.Context, addr uint16) error {
	req := make([]byte, reportSize)
	copy(req, d.request)
	for retry := 0; retry < d.retries; retry++ {
		copy(d.request, req)
		resetBuffer(d.response)
		if err := d.send(ctx); err != nil {
			return fmt.Errorf("transfer to %#x failed: %w", addr, err)
		}
		if d.response[1] != responseBusy {
			return nil
		}
		if err := stateErr(d.response[2], addr); err != nil {
			return err
		}
		d.logger.Debug("adapter busy", "state", fmt.Sprintf("0x%02x", d.response[2]))
		if err := d.pause(ctx); err != nil {
			return err
		}
	}
	return fmt.Errorf("adapter stayed busy after %d attempts: %w", d.retries, i2cmaster.ErrBusBusy)
}

// pollState reads the chip status until done accepts the engine state or the
// state reports a failure.
func (d *MCP2221) pollState(ctx context.Context, addr uint16, done func(byte) bool) (*Status, error) {
	var st *Status
	for retry := 0; retry < d.retries; retry++ {
		var err error
		st, err = d.status(ctx)
		if err != nil {
			return nil, err
		}
		if err := stateErr(st.state, addr); err != nil {
			return st, err
		}
		if done(st.state) {
			return st, nil
		}
		if err := d.pause(ctx); err != nil {
			return st, err
		}
	}
	return st, fmt.Errorf("i2c engine stuck in state %s: %w", st.I2CState, i2cmaster.ErrTimeout)
}

func stateErr(state byte, addr uint16) error {
	switch state {
	case stateAddrNack:
		return i2c.AddressNack(fmt.Errorf("no ack from %#x: %w", addr, i2cmaster.ErrNack))
	case stateStartTimeout, stateRepStartTimeout, stateAddrTimeout, stateWriteTimeout, stateReadTimeout, stateStopTimeout:
		return fmt.Errorf("i2c engine timeout (state 0x%02x): %w", state, i2cmaster.ErrTimeout)
	}
	return nil
}

// Reset cancels the current transfer and checks that the bus went idle.
func (d *MCP2221) Reset(ctx context.Context) error {
	d.mx.Lock()
	defer d.mx.Unlock()
	st, err := d.cancel(ctx)
	if err != nil {
		return err
	}
	if st.state == stateIdle {
		return nil
	}
	if err := d.pause(ctx); err != nil {
		return err
	}
	if st, err = d.status(ctx); err != nil {
		return err
	}
	if st.state != stateIdle {
		return fmt.Errorf("bus not released (state %s): %w", st.I2CState, i2cmaster.ErrBusBusy)
	}
	return nil
}

func (d *MCP2221) Status(ctx context.Context) (*Status, error) {
	d.mx.Lock()
	defer d.mx.Unlock()
	return d.status(ctx)
}

// ReleaseBus cancels the current transfer and returns the status reported
// with the cancellation.
func (d *MCP2221) ReleaseBus(ctx context.Context) (*Status, error) {
	d.mx.Lock()
	defer d.mx.Unlock()
	return d.cancel(ctx)
}

func (d *MCP2221) status(ctx context.Context) (*Status, error) {
	d.resetBuffers()
	d.request[0] = cmdStatus
	if err := d.send(ctx); err != nil {
		return nil, fmt.Errorf("status request failed: %w", err)
	}
	return bufferToStatus(d.response), nil
}

func (d *MCP2221) cancel(ctx context.Context) (*Status, error) {
	d.resetBuffers()
	d.request[0] = cmdStatus
	d.request[2] = paramCancel
	if err := d.send(ctx); err != nil {
		return nil, fmt.Errorf("cancel request failed: %w", err)
	}
	return bufferToStatus(d.response), nil
}

func bufferToStatus(buffer []byte) *Status {
	/*
		8: I2C engine state
		9-10: requested I2C transfer length (LE)
		11-12: already transferred number of bytes (LE)
		13: internal I2C data buffer counter
		14: current I2C communication speed divider value
		15: current I2C timeout value
		16-17: I2C address being used
		25: read pending
	*/
	return &Status{
		I2CState:               fmt.Sprintf("0x%02x", buffer[8]),
		I2CDataBufferCounter:   int(buffer[13]),
		I2CSpeedDivider:        int(buffer[14]),
		I2CTimeout:             int(buffer[15]),
		ReadPending:            int(buffer[25]),
		CurrentAddress:         hex.EncodeToString(buffer[16:18]),
		LastWriteRequestedSize: binary.LittleEndian.Uint16(buffer[9:11]),
		LastWriteSentSize:      binary.LittleEndian.Uint16(buffer[11:13]),
		state:                  buffer[8],
	}
}

func (d *MCP2221) send(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	dev, err := d.open()
	if err != nil {
		return err
	}
	defer func() {
		if err := dev.Close(); err != nil {
			d.logger.Warn("could not close device", "error", err)
		}
	}()
	verbose := busctx.IsVerbose(ctx)
	if verbose {
		d.logger.Debug("sending message to adapter", "dump", "\n"+hex.Dump(d.request))
	}
	n, err := dev.Write(d.request)
	if err != nil {
		return fmt.Errorf("could not write request: %w", err)
	}
	if n != reportSize {
		return fmt.Errorf("short write: %d", n)
	}
	if err := d.wait(ctx, d.responseWait); err != nil {
		return err
	}
	n, err = dev.Read(d.response)
	if err != nil {
		return fmt.Errorf("could not read response: %w", err)
	}
	if n != reportSize {
		return fmt.Errorf("short read: %d", n)
	}
	if verbose {
		d.logger.Debug("read message from adapter", "dump", "\n"+hex.Dump(d.response))
	}
	return nil
}

func (d *MCP2221) pause(ctx context.Context) error {
	return d.wait(ctx, d.pollInterval)
}

func (d *MCP2221) wait(ctx context.Context, dur time.Duration) error {
	if dur <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(dur)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (d *MCP2221) resetBuffers() {
	resetBuffer(d.request)
	resetBuffer(d.response)
}

func resetBuffer(buf []byte) {
	for i := range buf {
		buf[i] = 0x00
	}
}
