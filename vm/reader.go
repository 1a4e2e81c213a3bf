// https://github.com/jerryryle/odkey
//
// Copyright (c) The ODKey Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package vm implements the ODKeyScript bytecode virtual machine: a
// byte-oriented interpreter with counters, a zero flag, conditional
// branching and timed HID emission.
package vm

import "encoding/binary"

// Reader performs bounds-checked little-endian reads against an
// immutable program image, advancing a program counter as it goes.
//
// A Reader never mutates the underlying image; all state lives in pc.
type Reader struct {
	image []byte
	pc    uint32
}

// NewReader returns a Reader positioned at the given program counter.
func NewReader(image []byte, pc uint32) *Reader {
	return &Reader{image: image, pc: pc}
}

// PC returns the current program counter.
func (r *Reader) PC() uint32 {
	return r.pc
}

// SetPC repositions the reader without any bounds check; validity is
// the caller's responsibility (used by JNZ).
func (r *Reader) SetPC(pc uint32) {
	r.pc = pc
}

// Len returns the length of the program image.
func (r *Reader) Len() uint32 {
	return uint32(len(r.image))
}

func (r *Reader) checkRoom(width uint32) error {
	if uint64(r.pc)+uint64(width) > uint64(len(r.image)) {
		return ErrInvalidAddress
	}
	return nil
}

// U8 reads a single byte and advances pc by 1.
func (r *Reader) U8() (byte, error) {
	if err := r.checkRoom(1); err != nil {
		return 0, err
	}
	b := r.image[r.pc]
	r.pc++
	return b, nil
}

// U16LE reads a little-endian 16-bit value and advances pc by 2.
func (r *Reader) U16LE() (uint16, error) {
	if err := r.checkRoom(2); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint16(r.image[r.pc : r.pc+2])
	r.pc += 2
	return v, nil
}

// U32LE reads a little-endian 32-bit value and advances pc by 4.
func (r *Reader) U32LE() (uint32, error) {
	if err := r.checkRoom(4); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint32(r.image[r.pc : r.pc+4])
	r.pc += 4
	return v, nil
}

// Bytes copies n bytes from the image and advances pc by n.
func (r *Reader) Bytes(n int) ([]byte, error) {
	if err := r.checkRoom(uint32(n)); err != nil {
		return nil, err
	}
	buf := make([]byte, n)
	copy(buf, r.image[r.pc:r.pc+uint32(n)])
	r.pc += uint32(n)
	return buf, nil
}
