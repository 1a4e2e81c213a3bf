// https://github.com/jerryryle/odkey
//
// Copyright (c) The ODKey Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package vm

import "github.com/jerryryle/odkey/hid"

// Delay is the capability invoked by the WAIT opcode. Implementations
// are expected to return early if an external halt signal fires;
// Core itself has no notion of cancellation, it simply awaits the
// call's return.
type Delay func(ms uint16)

// Step executes exactly one instruction of s against emit and delay,
// mutating s in place. It is pure with respect to external I/O except
// via the two injected capabilities, which makes it testable without
// a USB stack or a clock.
//
// Step returns the error (if any) that terminated this step; the same
// error is also latched onto s.LastError when it causes a Lifecycle
// transition to Error.
func Step(s *State, emit hid.Emitter, delay Delay) error {
	if s.Lifecycle != Running {
		s.Lifecycle = Running
	}

	if s.PC == uint32(len(s.Program)) {
		return s.terminate(emit)
	}

	r := NewReader(s.Program, s.PC)

	opByte, err := r.U8()
	if err != nil {
		return s.fail(emit, err)
	}

	switch Opcode(opByte) {
	case KEYDN:
		err = s.stepKeydn(r, emit)
	case KEYUP:
		err = s.stepKeyup(r, emit)
	case KEYUP_ALL:
		err = s.stepKeyupAll(emit)
	case WAIT:
		err = s.stepWait(r, delay)
	case SET_COUNTER:
		err = s.stepSetCounter(r)
	case DEC:
		err = s.stepDec(r)
	case JNZ:
		err = s.stepJnz(r)
	default:
		err = ErrInvalidOpcode
	}

	if err != nil {
		return s.fail(emit, err)
	}

	s.PC = r.PC()
	s.InstructionsExecuted++

	return nil
}

// terminate handles PC reaching the end of the program: a clean,
// non-error exit from Running.
func (s *State) terminate(emit hid.Emitter) error {
	if !s.HeldEmpty() {
		if err := emit.Emit(hid.ReleaseAll); err != nil {
			return s.fail(emit, ErrHidEmit)
		}
		s.clearHeld()
	}
	s.Lifecycle = Finished
	return nil
}

// fail latches err, transitions to Error, and best-effort emits a
// release-all so no key is left physically held down.
func (s *State) fail(emit hid.Emitter, err error) error {
	s.Lifecycle = Error
	s.LastError = err
	if !s.HeldEmpty() {
		_ = emit.Emit(hid.ReleaseAll)
		s.clearHeld()
	}
	return err
}

func (s *State) clearHeld() {
	s.HeldModifier = 0
	s.HeldKeys = nil
}

func (s *State) stepKeydn(r *Reader, emit hid.Emitter) error {
	mod, err := r.U8()
	if err != nil {
		return err
	}
	n, err := r.U8()
	if err != nil {
		return err
	}
	if n > MaxHeldKeys {
		return ErrInvalidOperand
	}
	keys, err := r.Bytes(int(n))
	if err != nil {
		return err
	}

	s.HeldModifier = mod
	held := make([]byte, 0, len(keys))
	for _, k := range keys {
		if !containsByte(held, k) {
			held = append(held, k)
		}
	}
	s.HeldKeys = held

	if err := emit.Emit(s.currentReport()); err != nil {
		return ErrHidEmit
	}

	s.Zero = false
	s.KeysPressed++

	return nil
}

func (s *State) stepKeyup(r *Reader, emit hid.Emitter) error {
	mod, err := r.U8()
	if err != nil {
		return err
	}
	n, err := r.U8()
	if err != nil {
		return err
	}
	if n > MaxHeldKeys {
		return ErrInvalidOperand
	}
	released, err := r.Bytes(int(n))
	if err != nil {
		return err
	}

	s.HeldModifier &^= mod

	if len(s.HeldKeys) > 0 {
		kept := s.HeldKeys[:0:0]
		for _, k := range s.HeldKeys {
			if containsByte(released, k) {
				continue
			}
			kept = append(kept, k)
		}
		s.HeldKeys = kept
	}

	if err := emit.Emit(s.currentReport()); err != nil {
		return ErrHidEmit
	}

	s.Zero = false
	s.KeysReleased++

	return nil
}

func (s *State) stepKeyupAll(emit hid.Emitter) error {
	if !s.HeldEmpty() {
		if err := emit.Emit(hid.ReleaseAll); err != nil {
			return ErrHidEmit
		}
		s.clearHeld()
		s.KeysReleased++
	}
	s.Zero = false
	return nil
}

func (s *State) stepWait(r *Reader, delay Delay) error {
	ms, err := r.U16LE()
	if err != nil {
		return err
	}
	delay(ms)
	s.Zero = false
	return nil
}

func (s *State) stepSetCounter(r *Reader) error {
	idx, err := r.U8()
	if err != nil {
		return err
	}
	val, err := r.U16LE()
	if err != nil {
		return err
	}
	if int(idx) >= CounterCount {
		return ErrInvalidAddress
	}
	s.Counters[idx] = val
	s.Zero = false
	return nil
}

func (s *State) stepDec(r *Reader) error {
	idx, err := r.U8()
	if err != nil {
		return err
	}
	if int(idx) >= CounterCount {
		return ErrInvalidAddress
	}
	if s.Counters[idx] > 0 {
		s.Counters[idx]--
	}
	s.Zero = s.Counters[idx] == 0
	return nil
}

// stepJnz only validates the branch target when the branch is
// actually taken (zero flag clear). A not-taken JNZ with an
// out-of-range operand (as in scenario S2, TestS2JnzOutOfBounds, where
// the address field is left as a placeholder 0xFFFFFFFF because the
// preceding DEC left the zero flag set) completes normally instead of
// erroring on a target that is never used.
func (s *State) stepJnz(r *Reader) error {
	addr, err := r.U32LE()
	if err != nil {
		return err
	}
	if !s.Zero {
		if addr >= uint32(len(s.Program)) {
			return ErrInvalidAddress
		}
		r.SetPC(addr)
	}
	s.Zero = false
	return nil
}

func containsByte(haystack []byte, b byte) bool {
	for _, h := range haystack {
		if h == b {
			return true
		}
	}
	return false
}
