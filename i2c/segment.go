package i2c

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.uber.org/multierr"

	"github.com/mklimuk/i2cmaster/busctx"
)

// resetTimeout bounds the backend reset on the error path.
const resetTimeout = 100 * time.Millisecond

// segmentEngine drives one transaction over a SegmentBackend, one direction
// run per segment.
type segmentEngine struct {
	ch       *Channel
	hw       SegmentBackend
	tx       *Transaction
	deadline time.Time
	trace    bool
}

func (e *segmentEngine) execute(ctx context.Context, repeatedStart bool) error {
	ch := e.ch
	tx := e.tx
	ctx, cancel := ch.clock.WithDeadline(ctx, e.deadline)
	defer cancel()

	continued := repeatedStart && ch.held
	if ch.held && !continued {
		ch.logger.Debug("releasing held bus before start")
		if err := e.hw.Reset(ctx); err != nil {
			return e.fail(&Error{Kind: ErrorTimeout, Phase: PhaseStop, Address: tx.Address, Err: err})
		}
		ch.held = false
	}

	runs := tx.runs()
	for ri, r := range runs {
		seg := Segment{
			Address:       tx.Address,
			Read:          r.dir == Read,
			Buf:           e.buffer(r),
			RepeatedStart: ri > 0 || continued,
			Stop:          tx.Stop && ri == len(runs)-1,
		}
		tx.Status = StatusStarted
		if e.trace {
			ch.logger.Debug("segment", "addr", tx.Address, "read", seg.Read, "len", len(seg.Buf),
				"rs", seg.RepeatedStart, "stop", seg.Stop, "data", fmt.Sprintf("% x", seg.Buf))
		}
		n, err := e.hw.Transfer(ctx, seg)
		e.scatter(r, seg.Buf, n)
		if n > 0 || err == nil {
			tx.Status = StatusAddressPhaseDone
		}
		if err != nil {
			return e.fail(e.classify(ctx, r, n, err))
		}
	}
	tx.Status = StatusDataPhaseDone
	if !tx.Stop {
		ch.held = true
		ch.logger.Debug("bus held for repeated start", "addr", tx.Address)
		return nil
	}
	ch.held = false
	tx.Status = StatusStopped
	return nil
}

// buffer returns the bytes of a run as one slice. A single unit run uses the
// caller's buffer directly; longer runs are gathered into a scratch buffer.
func (e *segmentEngine) buffer(r run) []byte {
	if r.first == r.last {
		u := &e.tx.Units[r.first]
		return u.Buf[:u.Length]
	}
	buf := make([]byte, 0, r.length(e.tx))
	for i := r.first; i <= r.last; i++ {
		u := &e.tx.Units[i]
		if r.dir == Write {
			buf = append(buf, u.Buf[:u.Length]...)
		} else {
			buf = buf[:len(buf)+u.Length]
		}
	}
	return buf
}

// scatter credits n transferred bytes to the units of r in order, copying
// received data back into the units of a multi-unit read run.
func (e *segmentEngine) scatter(r run, buf []byte, n int) {
	n = min(max(n, 0), len(buf))
	off := 0
	for i := r.first; i <= r.last && off < n; i++ {
		u := &e.tx.Units[i]
		k := min(u.Length, n-off)
		if r.dir == Read && r.first != r.last {
			copy(u.Buf[:k], buf[off:off+k])
		}
		u.advance(k)
		off += k
	}
}

// classify turns a backend error into an *Error locating the failed byte.
func (e *segmentEngine) classify(ctx context.Context, r run, n int, err error) error {
	var txErr *Error
	if errors.As(err, &txErr) {
		return err
	}
	unit, offset := r.first, 0
	for i := r.first; i <= r.last; i++ {
		unit = i
		if done := e.tx.Units[i].transferred; done < e.tx.Units[i].Length {
			offset = done
			break
		}
	}
	kind := kindOf(err)
	phase := PhaseData
	var addrNack *addressNackError
	if kind == ErrorNack && (errors.As(err, &addrNack) || n == 0 && r.length(e.tx) == 0) {
		phase = PhaseAddress
	}
	if ctx.Err() != nil {
		kind = ErrorTimeout
	}
	return &Error{Kind: kind, Phase: phase, Address: e.tx.Address, Unit: unit, Offset: offset, Err: err}
}

func (e *segmentEngine) fail(err error) error {
	tx := e.tx
	tx.Err = kindOf(err)
	e.ch.logger.Debug("transaction failed, resetting bridge",
		"addr", tx.Address, "kind", tx.Err, "status", tx.Status, "error", err)
	ctx, cancel := context.WithTimeout(context.Background(), resetTimeout)
	defer cancel()
	if rerr := e.hw.Reset(ctx); rerr != nil {
		err = multierr.Append(err, fmt.Errorf("could not reset backend: %w", rerr))
	}
	e.ch.held = false
	tx.Status = StatusStopped
	return err
}

func newSegmentEngine(ctx context.Context, ch *Channel, hw SegmentBackend, tx *Transaction, deadline time.Time) *segmentEngine {
	return &segmentEngine{
		ch:       ch,
		hw:       hw,
		tx:       tx,
		deadline: deadline,
		trace:    busctx.IsTrace(ctx) && ch.logger.Enabled(ctx, slog.LevelDebug),
	}
}
