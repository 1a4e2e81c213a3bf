// https://github.com/jerryryle/odkey
//
// Copyright (c) The ODKey Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package vm

import "github.com/jerryryle/odkey/hid"

// Lifecycle is the VM's run state.
type Lifecycle int

const (
	Ready Lifecycle = iota
	Running
	Error
	Finished
)

// String renders the lifecycle state for logging.
func (l Lifecycle) String() string {
	switch l {
	case Ready:
		return "ready"
	case Running:
		return "running"
	case Error:
		return "error"
	case Finished:
		return "finished"
	default:
		return "unknown"
	}
}

// State is the complete state of one VM execution: the program being
// interpreted, the program counter, the counters array, the zero
// flag, the currently-held HID state, instruction/key statistics, and
// the lifecycle.
//
// State is mutated only by Core; it is not safe for concurrent access
// (the owning Task serializes all mutation onto a single goroutine).
type State struct {
	Program []byte
	PC      uint32

	Counters [CounterCount]uint16
	Zero     bool

	HeldModifier byte
	HeldKeys     []byte // at most hid.MaxKeys entries, unique, in KEYDN operand order

	DefaultPressMS uint16

	InstructionsExecuted uint64
	KeysPressed          uint64
	KeysReleased         uint64

	Lifecycle Lifecycle
	LastError error
}

// NewState returns a freshly Ready state borrowing program read-only
// for the duration of one execution.
func NewState(program []byte) *State {
	return &State{
		Program:   program,
		PC:        0,
		Lifecycle: Ready,
	}
}

// HeldEmpty reports whether the held-key set and modifier are both
// clear.
func (s *State) HeldEmpty() bool {
	return s.HeldModifier == 0 && len(s.HeldKeys) == 0
}

// currentReport builds the HID report for the current held state.
func (s *State) currentReport() hid.Report {
	r := hid.Report{Modifier: s.HeldModifier}
	copy(r.Keys[:], s.HeldKeys)
	return r
}
