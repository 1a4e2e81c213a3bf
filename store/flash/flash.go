// https://github.com/jerryryle/odkey
//
// Copyright (c) The ODKey Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package flash implements the flash-backed Program Store variant:
// a page-aligned, session-owned write pipeline over a 1MiB region
// whose first 4096-byte page is a reserved size header, committed
// last so a torn write is never observed as a valid program.
package flash

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/jerryryle/odkey/store"
)

// Layout constants (spec.md §4.E).
const (
	PageSize   = 4096
	HeaderPage = 0
	MaxSize    = 1<<20 - PageSize // ~1 MiB minus the reserved header page
	TotalSize  = 1 << 20
)

// Backing is the erasable byte-region contract a Flash store writes
// through. A real implementation talks to SPI NOR flash (see
// SPINORBacking); tests use an in-memory fake.
type Backing interface {
	// EraseRange erases every page overlapping [offset, offset+length)
	// to the backing's erased pattern. offset and length must be
	// page-aligned.
	EraseRange(offset, length uint32) error
	// ReadAt reads len(buf) bytes starting at offset.
	ReadAt(offset uint32, buf []byte) error
	// WriteAt programs exactly one page's worth of data at a
	// page-aligned offset. buf must be exactly PageSize bytes.
	WriteAt(offset uint32, buf []byte) error
}

// Flash is a store.Store backed by a page-aligned erasable region.
type Flash struct {
	mu sync.Mutex

	backing Backing

	lifecycle store.Lifecycle
	owner     store.Owner

	expectedLen uint32
	written     uint32
	accum       []byte // partial page, < PageSize bytes
	nextDataPg  uint32 // next data page index to flush (0-based, excludes header)
}

// New returns a Flash store over the given backing region, starting
// Idle with no owner.
func New(backing Backing) *Flash {
	return &Flash{backing: backing}
}

func pageCount(n uint32) uint32 {
	return (n + PageSize - 1) / PageSize
}

// Start validates expectedLen, erases exactly the pages this session
// will need (header + data), and begins a new Writing session under
// owner. A Start from a different owner than the current session's
// explicitly interrupts it; the prior owner's subsequent calls then
// fail with ErrSourceMismatch.
func (f *Flash) Start(expectedLen uint32, owner store.Owner) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if expectedLen == 0 || expectedLen > MaxSize {
		return store.ErrBadSize
	}

	dataPages := pageCount(expectedLen)
	regionLen := (1 + dataPages) * PageSize // header page + data pages

	if err := f.backing.EraseRange(0, regionLen); err != nil {
		f.lifecycle = store.SessionError
		return fmt.Errorf("%w: %v", store.ErrBackingIoFailure, err)
	}

	f.expectedLen = expectedLen
	f.written = 0
	f.accum = f.accum[:0]
	f.nextDataPg = 0
	f.owner = owner
	f.lifecycle = store.Writing

	return nil
}

// WriteChunk appends data to the in-progress page accumulator,
// flushing to the next data page every time it fills exactly
// PageSize bytes.
func (f *Flash) WriteChunk(data []byte, owner store.Owner) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.checkWriting(owner); err != nil {
		return err
	}

	if uint64(f.written)+uint64(len(data)) > uint64(f.expectedLen) {
		f.lifecycle = store.SessionError
		return store.ErrOverflowExpected
	}

	f.accum = append(f.accum, data...)
	f.written += uint32(len(data))

	for len(f.accum) >= PageSize {
		page := f.accum[:PageSize]
		offset := (1 + f.nextDataPg) * PageSize
		if err := f.backing.WriteAt(offset, page); err != nil {
			f.lifecycle = store.SessionError
			return fmt.Errorf("%w: %v", store.ErrBackingIoFailure, err)
		}
		f.nextDataPg++
		f.accum = append(f.accum[:0], f.accum[PageSize:]...)
	}

	return nil
}

// Finish flushes any partial page (zero-padded), verifies the total
// written meets finalLen, and writes the size header last — the
// operation that makes the store's commit atomic with respect to
// power loss.
func (f *Flash) Finish(finalLen uint32, owner store.Owner) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.checkWriting(owner); err != nil {
		return err
	}

	if len(f.accum) > 0 {
		padded := make([]byte, PageSize)
		copy(padded, f.accum)
		offset := (1 + f.nextDataPg) * PageSize
		if err := f.backing.WriteAt(offset, padded); err != nil {
			f.lifecycle = store.SessionError
			return fmt.Errorf("%w: %v", store.ErrBackingIoFailure, err)
		}
		f.nextDataPg++
		f.accum = f.accum[:0]
	}

	if f.written < finalLen {
		f.lifecycle = store.SessionError
		return store.ErrBadSize
	}

	var header [PageSize]byte
	binary.LittleEndian.PutUint32(header[:4], finalLen)
	if err := f.backing.WriteAt(HeaderPage*PageSize, header[:]); err != nil {
		f.lifecycle = store.SessionError
		return fmt.Errorf("%w: %v", store.ErrBackingIoFailure, err)
	}

	f.lifecycle = store.Idle

	return nil
}

// Erase wipes the entire region and returns to Idle with no owner.
func (f *Flash) Erase() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.backing.EraseRange(0, TotalSize); err != nil {
		return fmt.Errorf("%w: %v", store.ErrBackingIoFailure, err)
	}

	f.lifecycle = store.Idle
	f.owner = store.NoOwner
	f.expectedLen = 0
	f.written = 0
	f.accum = nil
	f.nextDataPg = 0

	return nil
}

// Get reads the size header and, if valid, returns the committed
// program's bytes. A header of 0 or > MaxSize means no program is
// committed.
func (f *Flash) Get() ([]byte, uint32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var header [4]byte
	if err := f.backing.ReadAt(HeaderPage*PageSize, header[:]); err != nil {
		return nil, 0, fmt.Errorf("%w: %v", store.ErrBackingIoFailure, err)
	}

	size := binary.LittleEndian.Uint32(header[:])
	if size == 0 || size > MaxSize {
		return nil, 0, store.ErrNoProgram
	}

	buf := make([]byte, size)
	if err := f.backing.ReadAt(PageSize, buf); err != nil {
		return nil, 0, fmt.Errorf("%w: %v", store.ErrBackingIoFailure, err)
	}

	return buf, size, nil
}

func (f *Flash) checkWriting(owner store.Owner) error {
	if f.lifecycle != store.Writing {
		if f.owner != store.NoOwner && f.owner != owner {
			return store.ErrSourceMismatch
		}
		return store.ErrStateMismatch
	}
	if f.owner != owner {
		return store.ErrSourceMismatch
	}
	return nil
}
