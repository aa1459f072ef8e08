package i2c

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"go.uber.org/multierr"

	"github.com/mklimuk/i2cmaster/busctx"
)

// stopTimeout bounds the wait for a forced stop on the error path, where
// the caller's deadline has usually already passed. It is measured on the
// wall clock so a stalled mock clock cannot wedge the error path.
const stopTimeout = 10 * time.Millisecond

// byteEngine drives one transaction over a byte-level Backend.
type byteEngine struct {
	ch       *Channel
	hw       Backend
	tx       *Transaction
	deadline time.Time
	trace    bool
}

func (e *byteEngine) execute(ctx context.Context, repeatedStart bool) error {
	ch := e.ch
	tx := e.tx
	if err := e.begin(ctx, repeatedStart); err != nil {
		return e.fail(err)
	}
	tx.Status = StatusStarted

	runs := tx.runs()
	for ri, r := range runs {
		if ri > 0 {
			// direction change: re-address with a repeated start
			e.hw.RepeatedStart()
			if _, err := e.wait(ctx, FlagStart, PhaseStart, r.first, 0); err != nil {
				return e.fail(err)
			}
			tx.Status = StatusStarted
		}
		if err := e.address(ctx, r); err != nil {
			return e.fail(err)
		}
		tx.Status = StatusAddressPhaseDone
		var err error
		if r.dir == Write {
			err = e.write(ctx, r)
		} else {
			err = e.read(ctx, r)
		}
		if err != nil {
			return e.fail(err)
		}
	}
	tx.Status = StatusDataPhaseDone

	if !tx.Stop {
		ch.held = true
		ch.logger.Debug("bus held for repeated start", "addr", tx.Address)
		return nil
	}
	e.hw.Stop()
	if _, err := e.wait(ctx, FlagStop, PhaseStop, len(tx.Units)-1, 0); err != nil {
		return e.fail(err)
	}
	ch.held = false
	tx.Status = StatusStopped
	return nil
}

func (e *byteEngine) begin(ctx context.Context, repeatedStart bool) error {
	ch := e.ch
	if repeatedStart && ch.held {
		e.hw.RepeatedStart()
	} else {
		if ch.held {
			// the caller wants a fresh start on a bus we still hold
			ch.logger.Debug("releasing held bus before start")
			if err := e.release(ctx); err != nil {
				return err
			}
		}
		if e.hw.Flags().Has(FlagBusBusy) {
			return &Error{Kind: ErrorBusBusy, Phase: PhaseStart, Address: e.tx.Address}
		}
		e.hw.Start()
	}
	_, err := e.wait(ctx, FlagStart, PhaseStart, 0, 0)
	return err
}

// release sends the stop owed by a previous transaction that kept the bus.
func (e *byteEngine) release(ctx context.Context) error {
	e.hw.Stop()
	if _, err := e.wait(ctx, FlagStop, PhaseStop, 0, 0); err != nil {
		return err
	}
	e.ch.held = false
	return nil
}

func (e *byteEngine) address(ctx context.Context, r run) error {
	addr := byte(e.tx.Address<<1) | r.dir.rw()
	if e.trace {
		e.ch.logger.Debug("address", "byte", fmt.Sprintf("0x%02x", addr))
	}
	e.hw.Transmit(addr)
	f, err := e.wait(ctx, FlagTransmitted, PhaseAddress, r.first, 0)
	if err != nil {
		return err
	}
	if f.Has(FlagNack) {
		return &Error{Kind: ErrorNack, Phase: PhaseAddress, Address: e.tx.Address, Unit: r.first}
	}
	return nil
}

func (e *byteEngine) write(ctx context.Context, r run) error {
	for i := r.first; i <= r.last; i++ {
		u := &e.tx.Units[i]
		for u.transferred < u.Length {
			b := u.Buf[u.transferred]
			if e.trace {
				e.ch.logger.Debug("tx", "unit", i, "byte", fmt.Sprintf("0x%02x", b))
			}
			e.hw.Transmit(b)
			f, err := e.wait(ctx, FlagTransmitted, PhaseData, i, u.transferred)
			if err != nil {
				return err
			}
			if f.Has(FlagNack) {
				return &Error{Kind: ErrorNack, Phase: PhaseData, Address: e.tx.Address, Unit: i, Offset: u.transferred}
			}
			u.advance(1)
		}
	}
	return nil
}

// read fills the units of a read run. Every byte is acknowledged except the
// last one of the run, which tells the target to release SDA.
func (e *byteEngine) read(ctx context.Context, r run) error {
	left := r.length(e.tx)
	for i := r.first; i <= r.last; i++ {
		u := &e.tx.Units[i]
		for u.transferred < u.Length {
			left--
			e.hw.Receive(left > 0)
			if _, err := e.wait(ctx, FlagReceived, PhaseData, i, u.transferred); err != nil {
				return err
			}
			b := e.hw.Data()
			if e.trace {
				e.ch.logger.Debug("rx", "unit", i, "byte", fmt.Sprintf("0x%02x", b))
			}
			u.Buf[u.transferred] = b
			u.advance(1)
		}
	}
	return nil
}

// wait polls the backend until any of mask is set. Arbitration loss wins
// over everything else; the deadline and ctx are checked on every pass.
func (e *byteEngine) wait(ctx context.Context, mask Flags, phase Phase, unit, offset int) (Flags, error) {
	var events <-chan struct{}
	if s, ok := e.hw.(Signaler); ok {
		events = s.Events()
	}
	for {
		f := e.hw.Flags()
		if f.Has(FlagArbitrationLost) {
			return f, &Error{Kind: ErrorArbitrationLost, Phase: phase, Address: e.tx.Address, Unit: unit, Offset: offset}
		}
		if f.Has(mask) {
			return f, nil
		}
		if err := ctx.Err(); err != nil {
			return f, &Error{Kind: ErrorTimeout, Phase: phase, Address: e.tx.Address, Unit: unit, Offset: offset, Err: err}
		}
		left := e.deadline.Sub(e.ch.clock.Now())
		if left <= 0 {
			return f, &Error{Kind: ErrorTimeout, Phase: phase, Address: e.tx.Address, Unit: unit, Offset: offset}
		}
		if events == nil {
			runtime.Gosched()
			continue
		}
		timer := e.ch.clock.Timer(left)
		select {
		case <-events:
		case <-timer.C:
		case <-ctx.Done():
		}
		timer.Stop()
	}
}

// fail records the error on the transaction and forces the bus back to idle:
// stop condition, then a backend reset to clear whatever is left. A bus found
// busy before our start is left alone.
func (e *byteEngine) fail(err error) error {
	tx := e.tx
	kind := kindOf(err)
	tx.Err = kind
	e.ch.logger.Debug("transaction failed, forcing stop",
		"addr", tx.Address, "kind", kind, "status", tx.Status, "error", err)

	if kind == ErrorBusBusy && tx.Status == StatusIdle {
		// never started: the lines belong to someone else
		tx.Status = StatusStopped
		return err
	}
	e.hw.Stop()
	start := time.Now()
	for !e.hw.Flags().Has(FlagStop) {
		if time.Since(start) > stopTimeout {
			e.ch.logger.Warn("stop condition not confirmed")
			break
		}
		runtime.Gosched()
	}
	if rerr := e.hw.Reset(); rerr != nil {
		err = multierr.Append(err, fmt.Errorf("could not reset backend: %w", rerr))
	}
	e.ch.held = false
	tx.Status = StatusStopped
	return err
}

func newByteEngine(ctx context.Context, ch *Channel, hw Backend, tx *Transaction, deadline time.Time) *byteEngine {
	return &byteEngine{
		ch:       ch,
		hw:       hw,
		tx:       tx,
		deadline: deadline,
		trace:    busctx.IsTrace(ctx) && ch.logger.Enabled(ctx, slog.LevelDebug),
	}
}
