// https://github.com/jerryryle/odkey
//
// Copyright (c) The ODKey Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package vm

import "errors"

// Opcode identifies a single ODKeyScript instruction.
type Opcode byte

// Opcode set. Each opcode's operands are decoded by its step handler
// in core.go.
const (
	KEYDN        Opcode = 0x10
	KEYUP        Opcode = 0x11
	KEYUP_ALL    Opcode = 0x12
	WAIT         Opcode = 0x13
	SET_COUNTER  Opcode = 0x14
	DEC          Opcode = 0x15
	JNZ          Opcode = 0x16
)

// MaxHeldKeys is the maximum number of simultaneously held keycodes.
const MaxHeldKeys = 6

// CounterCount is the number of 16-bit counters available to a program.
const CounterCount = 256

// VM-level errors. All are terminal for the current run (State
// transitions to Error) and are latched as LastError.
var (
	ErrInvalidOpcode  = errors.New("vm: invalid opcode")
	ErrInvalidOperand = errors.New("vm: invalid operand")
	ErrInvalidAddress = errors.New("vm: invalid address")
	ErrHidEmit        = errors.New("vm: hid emit failed")
	ErrInvalidProgram = errors.New("vm: invalid program")
)
