// https://github.com/jerryryle/odkey
//
// Copyright (c) The ODKey Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package cmdbus implements the USB raw-HID command protocol: a
// fixed-size 64-byte packet format, a per-session transfer state
// machine, and a worker-queue offload so transport-level reads never
// block on handler I/O. The fixed-layout packet parsing mirrors
// imx6/usb/setup.go's SetupData decoding; the queued worker mirrors
// imx6/usb/device.go's endpoint-handler goroutine loop.
package cmdbus

import "encoding/binary"

// FrameSize is the fixed transfer size in each direction (spec.md §6).
const FrameSize = 64

// PayloadSize is the usable payload after the 4-byte header.
const PayloadSize = 60

// Frame is one 64-byte raw-HID transfer: opcode, 3 reserved bytes,
// then a 60-byte payload.
type Frame [FrameSize]byte

// Opcode returns the command (request) or status (response) byte.
func (f Frame) Opcode() byte { return f[0] }

// Payload returns the 60-byte payload slice.
func (f Frame) Payload() []byte { return f[4:] }

// Status codes carried in a response Frame's opcode byte.
const (
	StatusOK    byte = 0x10
	StatusError byte = 0x11
)

// Opcodes (spec.md §4.H).
const (
	OpFlashProgWriteStart  byte = 0x20
	OpFlashProgWriteChunk  byte = 0x21
	OpFlashProgWriteFinish byte = 0x22
	OpFlashProgReadStart   byte = 0x23
	OpFlashProgReadChunk   byte = 0x24
	OpFlashProgExecute     byte = 0x25

	OpRAMProgWriteStart  byte = 0x26
	OpRAMProgWriteChunk  byte = 0x27
	OpRAMProgWriteFinish byte = 0x28
	OpRAMProgReadStart   byte = 0x29
	OpRAMProgReadChunk   byte = 0x2A
	OpRAMProgExecute     byte = 0x2B

	OpConfigSetStart  byte = 0x30
	OpConfigSetData   byte = 0x31
	OpConfigSetFinish byte = 0x32
	OpConfigGetStart  byte = 0x33
	OpConfigGetData   byte = 0x34
	OpConfigDelete    byte = 0x35

	OpLogReadStart byte = 0x40
	OpLogReadChunk byte = 0x41
	OpLogReadStop  byte = 0x42
	OpLogClear     byte = 0x43
)

// buildResponse frames a response with the given status byte and
// payload (truncated/zero-padded to PayloadSize).
func buildResponse(status byte, payload []byte) Frame {
	var f Frame
	f[0] = status
	copy(f[4:], payload)
	return f
}

func okResponse(payload []byte) Frame  { return buildResponse(StatusOK, payload) }
func errResponse() Frame               { return buildResponse(StatusError, nil) }
func u32le(v uint32) []byte            { b := make([]byte, 4); binary.LittleEndian.PutUint32(b, v); return b }
func readU32le(b []byte) uint32        { return binary.LittleEndian.Uint32(b) }

// chunkResponse frames a variable-length chunk response using a
// 1-byte count prefix (0-59) followed by that many data bytes, zero
// padded to fill the 60-byte payload: the fixed 64-byte frame has no
// other field to distinguish "0 valid bytes, end of stream" from "60
// bytes that happen to be zero", which spec.md's prose ("up to 60
// bytes, zero-padded" / "empty ⇒ end") leaves unstated. This
// convention — one byte of payload traded for an unambiguous length —
// is applied uniformly to every *_CHUNK and *_DATA response (program
// read, config get, log read).
func chunkResponse(data []byte) Frame {
	var payload [PayloadSize]byte
	payload[0] = byte(len(data))
	copy(payload[1:], data)
	return okResponse(payload[:])
}
