package pinmux

import (
	"fmt"
	"sync"
)

// Call is one ConfigurePin invocation seen by a Recorder.
type Call struct {
	Pin      Pin
	Mode     Mode
	Function int
}

func (c Call) String() string {
	return fmt.Sprintf("%s=%s/%d", c.Pin, c.Mode, c.Function)
}

// Recorder keeps every configuration request and the resulting pin modes.
// Fail, when set, makes requests for that pin fail.
type Recorder struct {
	mu    sync.Mutex
	calls []Call
	modes map[Pin]Mode
	Fail  map[Pin]error
}

func (r *Recorder) ConfigurePin(pin Pin, mode Mode, function int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err, ok := r.Fail[pin]; ok {
		return err
	}
	r.calls = append(r.calls, Call{Pin: pin, Mode: mode, Function: function})
	if r.modes == nil {
		r.modes = make(map[Pin]Mode)
	}
	r.modes[pin] = mode
	return nil
}

func (r *Recorder) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Call(nil), r.calls...)
}

// Mode returns the last mode requested for pin, GPIO if never configured.
func (r *Recorder) Mode(pin Pin) Mode {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.modes[pin]
}
