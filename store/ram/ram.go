// https://github.com/jerryryle/odkey
//
// Copyright (c) The ODKey Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package ram implements the RAM-backed Program Store variant: the
// same session-owned, size-header-committed contract as store/flash,
// without flash's page-alignment and erase-before-write constraints.
package ram

import (
	"sync"

	"github.com/jerryryle/odkey/store"
)

// MaxSize is the largest program a RAM store will hold.
const MaxSize = 1 << 20

// RAM is a store.Store backed by a plain byte slice, useful for
// boards without flash attached and for host-side testing of
// everything above the Store interface.
type RAM struct {
	mu sync.Mutex

	lifecycle store.Lifecycle
	owner     store.Owner

	expectedLen uint32
	buf         []byte

	committed    []byte
	committedLen uint32
	hasProgram   bool
}

// New returns an empty RAM store, Idle with no owner and no
// committed program.
func New() *RAM {
	return &RAM{}
}

func (r *RAM) Start(expectedLen uint32, owner store.Owner) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if expectedLen == 0 || expectedLen > MaxSize {
		return store.ErrBadSize
	}

	r.expectedLen = expectedLen
	r.buf = make([]byte, 0, expectedLen)
	r.owner = owner
	r.lifecycle = store.Writing

	return nil
}

func (r *RAM) WriteChunk(data []byte, owner store.Owner) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.checkWriting(owner); err != nil {
		return err
	}

	if uint64(len(r.buf))+uint64(len(data)) > uint64(r.expectedLen) {
		r.lifecycle = store.SessionError
		return store.ErrOverflowExpected
	}

	r.buf = append(r.buf, data...)

	return nil
}

func (r *RAM) Finish(finalLen uint32, owner store.Owner) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.checkWriting(owner); err != nil {
		return err
	}

	if uint32(len(r.buf)) < finalLen {
		r.lifecycle = store.SessionError
		return store.ErrBadSize
	}

	r.committed = append([]byte(nil), r.buf[:finalLen]...)
	r.committedLen = finalLen
	r.hasProgram = true
	r.lifecycle = store.Idle

	return nil
}

func (r *RAM) Erase() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.lifecycle = store.Idle
	r.owner = store.NoOwner
	r.expectedLen = 0
	r.buf = nil
	r.committed = nil
	r.committedLen = 0
	r.hasProgram = false

	return nil
}

func (r *RAM) Get() ([]byte, uint32, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.hasProgram {
		return nil, 0, store.ErrNoProgram
	}

	out := append([]byte(nil), r.committed...)
	return out, r.committedLen, nil
}

func (r *RAM) checkWriting(owner store.Owner) error {
	if r.lifecycle != store.Writing {
		if r.owner != store.NoOwner && r.owner != owner {
			return store.ErrSourceMismatch
		}
		return store.ErrStateMismatch
	}
	if r.owner != owner {
		return store.ErrSourceMismatch
	}
	return nil
}

