// https://github.com/jerryryle/odkey
//
// Copyright (c) The ODKey Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package cmdbus

import (
	"context"
	"errors"
	"log"
	"sync"

	"github.com/jerryryle/odkey/config"
	"github.com/jerryryle/odkey/logring"
	"github.com/jerryryle/odkey/store"
)

// Bus-level errors (spec.md §7 "Command-bus"). These are surfaced to
// the peer as a StatusError response and never propagate into a
// Store or the Config KV.
var (
	ErrMalformedPacket      = errors.New("cmdbus: malformed packet")
	ErrUnknownOpcode        = errors.New("cmdbus: unknown opcode")
	ErrTransferStateMismatch = errors.New("cmdbus: transfer state mismatch")
)

// ProgramTarget picks which Program Store an opcode addresses.
type ProgramTarget int

const (
	TargetFlash ProgramTarget = iota
	TargetRAM
)

func (t ProgramTarget) String() string {
	if t == TargetRAM {
		return "ram"
	}
	return "flash"
}

// Handlers is the bus's view of the rest of the firmware: Program
// Stores, Config KV, VM Task, and Log Ring, bound by the
// handlers package (component I of spec.md §2). Keeping this as an
// interface (rather than importing handlers directly) lets the bus be
// tested against a fake with no real store/config/VM wiring.
type Handlers interface {
	ProgramStart(target ProgramTarget, expectedLen uint32, owner store.Owner) error
	ProgramChunk(target ProgramTarget, data []byte, owner store.Owner) error
	ProgramFinish(target ProgramTarget, finalLen uint32, owner store.Owner) error
	ProgramRead(target ProgramTarget) ([]byte, uint32, error)
	ProgramExecute(target ProgramTarget) error

	ConfigSet(key string, t config.Type, value []byte) error
	ConfigGet(key string) (config.Type, []byte, error)
	ConfigDelete(key string) error

	LogSnapshot() *logring.Reader
	LogClear()
}

// transferKind is the bus's current single transfer (spec.md §3
// "Command-Bus transfer"). Exactly one is active at a time.
type transferKind int

const (
	idle transferKind = iota
	programWriting
	programReading
	configSetting
	configGetting
	logStreaming
	busError
)

// transfer holds whichever transferKind-specific bookkeeping is
// active; fields outside the active kind are meaningless leftovers
// from a prior session and must not be read.
type transfer struct {
	kind   transferKind
	target ProgramTarget

	progExpected uint32
	progWritten  uint32

	readBuf []byte
	readPos int

	setKey  string
	setType config.Type
	setLen  uint32
	setBuf  []byte

	getBuf []byte
	getPos int

	logReader *logring.Reader
}

// Bus is the USB raw-HID command protocol implementation: packet
// parsing, the per-session transfer state machine, and a bounded
// work queue that decouples the (interrupt-adjacent) transport
// receive path from handler I/O, mirroring imx6/usb/device.go's
// queued endpoint-handler goroutine.
type Bus struct {
	mu       sync.Mutex
	transfer transfer

	handlers Handlers
	queue    chan Frame
}

// QueueDepth is the number of packets the bus will buffer for its
// worker before silently dropping further arrivals (spec.md §4.H: the
// sender's retry responsibility).
const QueueDepth = 8

// New returns a Bus bound to handlers, Idle, with an empty work queue.
func New(handlers Handlers) *Bus {
	return &Bus{
		handlers: handlers,
		queue:    make(chan Frame, QueueDepth),
	}
}

// Submit enqueues frame for asynchronous processing. It returns false,
// dropping the packet, if the queue is full — per spec.md, the sender
// is responsible for retrying.
func (b *Bus) Submit(frame Frame) bool {
	select {
	case b.queue <- frame:
		return true
	default:
		return false
	}
}

// Respond is the capability a transport injects to deliver a response
// frame back to the peer that submitted the matching request.
type Respond func(Frame) error

// Run drains the work queue, processing one packet at a time and
// invoking respond with the result, until ctx is cancelled.
func (b *Bus) Run(ctx context.Context, respond Respond) {
	for {
		select {
		case frame := <-b.queue:
			resp := b.handle(frame)
			if err := respond(resp); err != nil {
				log.Printf("cmdbus: response delivery failed: %v", err)
			}
		case <-ctx.Done():
			return
		}
	}
}

func (b *Bus) handle(frame Frame) Frame {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch frame.Opcode() {
	case OpFlashProgWriteStart:
		return b.handleProgWriteStart(TargetFlash, frame.Payload())
	case OpFlashProgWriteChunk:
		return b.handleProgWriteChunk(TargetFlash, frame.Payload())
	case OpFlashProgWriteFinish:
		return b.handleProgWriteFinish(TargetFlash, frame.Payload())
	case OpFlashProgReadStart:
		return b.handleProgReadStart(TargetFlash)
	case OpFlashProgReadChunk:
		return b.handleProgReadChunk(TargetFlash)
	case OpFlashProgExecute:
		return b.handleProgExecute(TargetFlash)

	case OpRAMProgWriteStart:
		return b.handleProgWriteStart(TargetRAM, frame.Payload())
	case OpRAMProgWriteChunk:
		return b.handleProgWriteChunk(TargetRAM, frame.Payload())
	case OpRAMProgWriteFinish:
		return b.handleProgWriteFinish(TargetRAM, frame.Payload())
	case OpRAMProgReadStart:
		return b.handleProgReadStart(TargetRAM)
	case OpRAMProgReadChunk:
		return b.handleProgReadChunk(TargetRAM)
	case OpRAMProgExecute:
		return b.handleProgExecute(TargetRAM)

	case OpConfigSetStart:
		return b.handleConfigSetStart(frame.Payload())
	case OpConfigSetData:
		return b.handleConfigSetData(frame.Payload())
	case OpConfigSetFinish:
		return b.handleConfigSetFinish()
	case OpConfigGetStart:
		return b.handleConfigGetStart(frame.Payload())
	case OpConfigGetData:
		return b.handleConfigGetData()
	case OpConfigDelete:
		return b.handleConfigDelete(frame.Payload())

	case OpLogReadStart:
		return b.handleLogReadStart()
	case OpLogReadChunk:
		return b.handleLogReadChunk()
	case OpLogReadStop:
		return b.handleLogReadStop()
	case OpLogClear:
		return b.handleLogClear()

	default:
		log.Printf("cmdbus: unknown opcode 0x%02x", frame.Opcode())
		return errResponse()
	}
}

// --- Program upload/download ---

func (b *Bus) handleProgWriteStart(target ProgramTarget, payload []byte) Frame {
	if len(payload) < 4 {
		return errResponse()
	}
	expectedLen := readU32le(payload[:4])

	if err := b.handlers.ProgramStart(target, expectedLen, store.UsbChannel); err != nil {
		log.Printf("cmdbus: %s prog write start: %v", target, err)
		return errResponse()
	}

	b.transfer = transfer{kind: programWriting, target: target, progExpected: expectedLen}
	return okResponse(nil)
}

func (b *Bus) handleProgWriteChunk(target ProgramTarget, payload []byte) Frame {
	if b.transfer.kind != programWriting || b.transfer.target != target {
		return errResponse()
	}

	remaining := b.transfer.progExpected - b.transfer.progWritten
	n := uint32(len(payload))
	if n > remaining {
		n = remaining
	}

	if err := b.handlers.ProgramChunk(target, payload[:n], store.UsbChannel); err != nil {
		log.Printf("cmdbus: %s prog write chunk: %v", target, err)
		b.transfer.kind = busError
		return errResponse()
	}

	b.transfer.progWritten += n
	return okResponse(nil)
}

func (b *Bus) handleProgWriteFinish(target ProgramTarget, payload []byte) Frame {
	if b.transfer.kind != programWriting || b.transfer.target != target {
		return errResponse()
	}
	if len(payload) < 4 {
		return errResponse()
	}
	finalLen := readU32le(payload[:4])

	if err := b.handlers.ProgramFinish(target, finalLen, store.UsbChannel); err != nil {
		log.Printf("cmdbus: %s prog write finish: %v", target, err)
		b.transfer.kind = busError
		return errResponse()
	}

	b.transfer = transfer{}
	return okResponse(nil)
}

func (b *Bus) handleProgReadStart(target ProgramTarget) Frame {
	buf, length, err := b.handlers.ProgramRead(target)
	if err != nil {
		return errResponse()
	}

	b.transfer = transfer{kind: programReading, target: target, readBuf: buf}
	return okResponse(u32le(length))
}

func (b *Bus) handleProgReadChunk(target ProgramTarget) Frame {
	if b.transfer.kind != programReading || b.transfer.target != target {
		return errResponse()
	}

	remaining := len(b.transfer.readBuf) - b.transfer.readPos
	n := remaining
	if n > PayloadSize-1 {
		n = PayloadSize - 1
	}
	data := b.transfer.readBuf[b.transfer.readPos : b.transfer.readPos+n]
	b.transfer.readPos += n

	if b.transfer.readPos >= len(b.transfer.readBuf) {
		b.transfer = transfer{}
	}

	return chunkResponse(data)
}

func (b *Bus) handleProgExecute(target ProgramTarget) Frame {
	if err := b.handlers.ProgramExecute(target); err != nil {
		log.Printf("cmdbus: %s prog execute: %v", target, err)
		return errResponse()
	}
	return okResponse(nil)
}

// --- Configuration ---

func (b *Bus) handleConfigSetStart(payload []byte) Frame {
	if len(payload) < 1+4+config.KeyLen {
		return errResponse()
	}
	t := config.Type(payload[0])
	length := readU32le(payload[1:5])
	key, err := decodeKey(payload[5 : 5+config.KeyLen])
	if err != nil {
		return errResponse()
	}
	if length > config.MaxValueLen {
		return errResponse()
	}

	b.transfer = transfer{kind: configSetting, setKey: key, setType: t, setLen: length, setBuf: make([]byte, 0, length)}
	return okResponse(nil)
}

func (b *Bus) handleConfigSetData(payload []byte) Frame {
	if b.transfer.kind != configSetting {
		return errResponse()
	}

	remaining := int(b.transfer.setLen) - len(b.transfer.setBuf)
	n := len(payload)
	if n > remaining {
		n = remaining
	}
	b.transfer.setBuf = append(b.transfer.setBuf, payload[:n]...)
	return okResponse(nil)
}

func (b *Bus) handleConfigSetFinish() Frame {
	if b.transfer.kind != configSetting {
		return errResponse()
	}

	if err := b.handlers.ConfigSet(b.transfer.setKey, b.transfer.setType, b.transfer.setBuf); err != nil {
		log.Printf("cmdbus: config set %q: %v", b.transfer.setKey, err)
		b.transfer.kind = busError
		return errResponse()
	}

	b.transfer = transfer{}
	return okResponse(nil)
}

func (b *Bus) handleConfigGetStart(payload []byte) Frame {
	if len(payload) < config.KeyLen {
		return errResponse()
	}
	key, err := decodeKey(payload[:config.KeyLen])
	if err != nil {
		return errResponse()
	}

	t, value, err := b.handlers.ConfigGet(key)
	if err != nil {
		return errResponse()
	}

	const embedded = PayloadSize - 1 - 4 // 55 bytes
	n := len(value)
	if n > embedded {
		n = embedded
	}

	b.transfer = transfer{kind: configGetting, getBuf: value, getPos: n}

	var payloadOut [PayloadSize]byte
	payloadOut[0] = byte(t)
	copy(payloadOut[1:5], u32le(uint32(len(value))))
	copy(payloadOut[5:], value[:n])

	if b.transfer.getPos >= len(b.transfer.getBuf) {
		b.transfer = transfer{}
	}

	return okResponse(payloadOut[:])
}

func (b *Bus) handleConfigGetData() Frame {
	if b.transfer.kind != configGetting {
		return errResponse()
	}

	remaining := len(b.transfer.getBuf) - b.transfer.getPos
	n := remaining
	if n > PayloadSize-1 {
		n = PayloadSize - 1
	}
	data := b.transfer.getBuf[b.transfer.getPos : b.transfer.getPos+n]
	b.transfer.getPos += n

	if b.transfer.getPos >= len(b.transfer.getBuf) {
		b.transfer = transfer{}
	}

	return chunkResponse(data)
}

func (b *Bus) handleConfigDelete(payload []byte) Frame {
	if len(payload) < config.KeyLen {
		return errResponse()
	}
	key, err := decodeKey(payload[:config.KeyLen])
	if err != nil {
		return errResponse()
	}

	if err := b.handlers.ConfigDelete(key); err != nil {
		log.Printf("cmdbus: config delete %q: %v", key, err)
		return errResponse()
	}
	return okResponse(nil)
}

// --- Log ring ---

func (b *Bus) handleLogReadStart() Frame {
	b.transfer = transfer{kind: logStreaming, logReader: b.handlers.LogSnapshot()}
	return okResponse(nil)
}

func (b *Bus) handleLogReadChunk() Frame {
	if b.transfer.kind != logStreaming {
		return errResponse()
	}

	data := b.transfer.logReader.ReadChunk(PayloadSize - 1)
	if len(data) == 0 {
		b.transfer = transfer{}
	}
	return chunkResponse(data)
}

func (b *Bus) handleLogReadStop() Frame {
	if b.transfer.kind != logStreaming {
		return errResponse()
	}
	b.transfer = transfer{}
	return okResponse(nil)
}

func (b *Bus) handleLogClear() Frame {
	b.handlers.LogClear()
	return okResponse(nil)
}

// decodeKey extracts a 1-15 byte zero-terminated string from a
// 16-byte wire field (spec.md §4.H "Configuration-key constraints").
func decodeKey(field []byte) (string, error) {
	idx := -1
	for i, c := range field {
		if c == 0 {
			idx = i
			break
		}
	}
	if idx <= 0 || idx > config.KeyLen-1 {
		return "", config.ErrKeyLengthInvalid
	}
	return string(field[:idx]), nil
}
