// https://github.com/jerryryle/odkey
//
// Copyright (c) The ODKey Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package handlers binds cmdbus.Bus operations to the concrete
// Program Stores, Config KV, VM Task, and Log Ring — the thin adapter
// layer of spec.md §4.I, modeled on imx6/usb/bus.go's
// dispatch-table-of-handlers pattern.
package handlers

import (
	"errors"

	"github.com/jerryryle/odkey/cmdbus"
	"github.com/jerryryle/odkey/config"
	"github.com/jerryryle/odkey/logring"
	"github.com/jerryryle/odkey/store"
	"github.com/jerryryle/odkey/vm"
)

// ErrVMBusy is returned by ProgramExecute when a program is already
// running (spec.md's non-preemption: execution requests never queue).
var ErrVMBusy = errors.New("handlers: a program is already running")

// VMTask is the subset of vm/task.Task the handlers depend on.
type VMTask interface {
	Start(program []byte, onComplete func(vm.Lifecycle, error)) bool
	IsRunning() bool
	Halt()
}

// Handlers implements cmdbus.Handlers against real collaborators. It
// is also called directly by the HTTP transport, which passes
// store.HttpChannel instead of store.UsbChannel as the owner tag.
type Handlers struct {
	Flash store.Store
	RAM   store.Store
	Cfg   config.Store
	VM    VMTask
	Log   *logring.Ring
}

func (h *Handlers) store(target cmdbus.ProgramTarget) store.Store {
	if target == cmdbus.TargetRAM {
		return h.RAM
	}
	return h.Flash
}

// ProgramStart halts any running execution before acquiring the write
// session, guaranteeing the VM Task never reads the backing memory of
// a store that is about to be mutated (spec.md §4.I).
func (h *Handlers) ProgramStart(target cmdbus.ProgramTarget, expectedLen uint32, owner store.Owner) error {
	h.VM.Halt()
	return h.store(target).Start(expectedLen, owner)
}

func (h *Handlers) ProgramChunk(target cmdbus.ProgramTarget, data []byte, owner store.Owner) error {
	return h.store(target).WriteChunk(data, owner)
}

func (h *Handlers) ProgramFinish(target cmdbus.ProgramTarget, finalLen uint32, owner store.Owner) error {
	return h.store(target).Finish(finalLen, owner)
}

func (h *Handlers) ProgramRead(target cmdbus.ProgramTarget) ([]byte, uint32, error) {
	return h.store(target).Get()
}

// ProgramErase wipes a store's committed program. It has no matching
// cmdbus opcode (the USB bus protocol exposes no erase command) and is
// called only by the HTTP transport's DELETE /api/program.
func (h *Handlers) ProgramErase(target cmdbus.ProgramTarget) error {
	return h.store(target).Erase()
}

// ProgramExecute halts nothing: a press/command while Running is
// dropped rather than queued, per spec.md's non-preemption Non-goal.
func (h *Handlers) ProgramExecute(target cmdbus.ProgramTarget) error {
	program, _, err := h.store(target).Get()
	if err != nil {
		return err
	}
	if !h.VM.Start(program, nil) {
		return ErrVMBusy
	}
	return nil
}

func (h *Handlers) ConfigSet(key string, t config.Type, value []byte) error {
	if err := config.ValidateKey(key); err != nil {
		return err
	}
	if err := h.Cfg.SetByType(key, t, value); err != nil {
		return err
	}
	return h.Cfg.Commit()
}

func (h *Handlers) ConfigGet(key string) (config.Type, []byte, error) {
	return h.Cfg.GetByType(key)
}

func (h *Handlers) ConfigDelete(key string) error {
	if err := h.Cfg.EraseKey(key); err != nil {
		return err
	}
	return h.Cfg.Commit()
}

func (h *Handlers) LogSnapshot() *logring.Reader {
	return h.Log.StartRead()
}

func (h *Handlers) LogClear() {
	h.Log.Clear()
}

var _ cmdbus.Handlers = (*Handlers)(nil)
