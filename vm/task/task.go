// https://github.com/jerryryle/odkey
//
// Copyright (c) The ODKey Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package task wraps a single vm.State with a single-slot run-to-
// completion scheduler: at most one program executes at a time, and a
// halt request is cooperative: it cuts a pending WAIT short and is
// otherwise observed between steps. The goroutine-loop-driven-by-a-
// channel shape mirrors the tamago USB driver's endpoint handler,
// which runs forever servicing one request at a time off a channel.
package task

import (
	"errors"
	"sync"
	"time"

	"github.com/jerryryle/odkey/hid"
	"github.com/jerryryle/odkey/vm"
)

// ErrAlreadyInitialized is returned by Init when called more than once.
var ErrAlreadyInitialized = errors.New("task: already initialized")

// OnComplete is invoked exactly once when a run reaches Finished or
// Error naturally. It is never invoked when the run was halted.
type OnComplete func(lifecycle vm.Lifecycle, err error)

type request struct {
	program    []byte
	onComplete OnComplete
}

// Task is the VM execution engine: one background goroutine running
// the interpreter loop, fed start requests and cancellable via Halt.
type Task struct {
	mu          sync.Mutex
	initialized bool
	running     bool
	halt        chan struct{}
	idle        chan struct{}

	emit   hid.Emitter
	startC chan request
}

// Init wires the HID emission capability and starts the background
// execution loop. It is one-shot: a second call fails.
func (t *Task) Init(emit hid.Emitter) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.initialized {
		return ErrAlreadyInitialized
	}

	t.emit = emit
	t.startC = make(chan request)
	t.initialized = true

	go t.run()

	return nil
}

// Start enqueues program for execution. It returns false without
// blocking if a program is already Running; the caller (button
// controller, command handlers) is responsible for checking IsRunning
// first and serializing its own calls. onComplete, if non-nil, fires
// exactly once at natural completion (Finished or Error) and never on
// Halt.
//
// onComplete is spelled out as the literal func(vm.Lifecycle, error)
// rather than the named OnComplete type so that *Task satisfies any
// caller-defined interface using the same literal signature
// (button.VMTask, handlers.VMTask): Go's interface satisfaction
// requires identical parameter types, and a named type is never
// identical to an unnamed one sharing its underlying signature.
func (t *Task) Start(program []byte, onComplete func(vm.Lifecycle, error)) bool {
	t.mu.Lock()
	if !t.initialized || t.running {
		t.mu.Unlock()
		return false
	}
	t.running = true
	t.mu.Unlock()

	t.startC <- request{program: program, onComplete: onComplete}

	return true
}

// IsRunning reports whether a program is currently executing.
func (t *Task) IsRunning() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.running
}

// Halt requests cancellation of the running program and blocks until
// the task observes Idle. If nothing is running it returns
// immediately.
func (t *Task) Halt() {
	t.mu.Lock()
	if !t.running {
		t.mu.Unlock()
		return
	}
	haltC := t.halt
	idleC := t.idle
	t.mu.Unlock()

	if haltC != nil {
		closeOnce(haltC)
	}
	if idleC != nil {
		<-idleC
	}
}

// closeOnce closes c, tolerating a c that may already be closed by a
// concurrent Halt call (best-effort; Task serializes Halt callers
// through the mutex above in practice, this guards the narrow race
// where two Halt calls both read the same channel before either
// closes it).
func closeOnce(c chan struct{}) {
	defer func() { recover() }()
	close(c)
}

func (t *Task) run() {
	for req := range t.startC {
		haltC := make(chan struct{})
		idleC := make(chan struct{})

		t.mu.Lock()
		t.halt = haltC
		t.idle = idleC
		t.mu.Unlock()

		state := vm.NewState(req.program)
		halted := t.runOne(state, haltC)

		if !state.HeldEmpty() {
			// Belt-and-braces: Core emits a release-all when a run
			// finishes or fails, but a halted run leaves the step
			// loop between steps, so Core's release-all never runs.
			_ = t.emit.Emit(hid.ReleaseAll)
			state.HeldModifier = 0
			state.HeldKeys = nil
		}

		t.mu.Lock()
		t.running = false
		t.mu.Unlock()
		close(idleC)

		if !halted && req.onComplete != nil {
			req.onComplete(state.Lifecycle, state.LastError)
		}
	}
}

// runOne drives the step loop for one execution, returning true if it
// exited because of a halt request rather than natural completion.
func (t *Task) runOne(state *vm.State, haltC chan struct{}) bool {
	delay := func(ms uint16) {
		if ms == 0 {
			return
		}
		timer := time.NewTimer(time.Duration(ms) * time.Millisecond)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-haltC:
		}
	}

	for {
		select {
		case <-haltC:
			return true
		default:
		}

		if err := vm.Step(state, t.emit, delay); err != nil {
			// Step already latched Lifecycle=Error; the run is over.
		}

		if state.Lifecycle == vm.Finished || state.Lifecycle == vm.Error {
			return false
		}

		select {
		case <-haltC:
			return true
		default:
		}
	}
}
