// https://github.com/jerryryle/odkey
//
// Copyright (c) The ODKey Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package config

import "sync"

type entry struct {
	t Type
	v []byte
}

// Fake is an in-memory config.Store for tests and for boards without
// a persistent key-value store wired up yet.
type Fake struct {
	mu       sync.Mutex
	entries  map[string]entry
	readOnly bool
	open     bool
}

// NewFake returns an unopened Fake.
func NewFake() *Fake {
	return &Fake{entries: map[string]entry{}}
}

func (f *Fake) OpenRW() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.open, f.readOnly = true, false
	return nil
}

func (f *Fake) OpenRO() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.open, f.readOnly = true, true
	return nil
}

func (f *Fake) GetByType(key string) (Type, []byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.open {
		return 0, nil, ErrNotOpen
	}
	e, ok := f.entries[key]
	if !ok {
		return 0, nil, ErrNotFound
	}
	return e.t, append([]byte(nil), e.v...), nil
}

func (f *Fake) SetByType(key string, t Type, value []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.open {
		return ErrNotOpen
	}
	if f.readOnly {
		return ErrReadOnly
	}
	f.entries[key] = entry{t: t, v: append([]byte(nil), value...)}
	return nil
}

func (f *Fake) EraseKey(key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.open {
		return ErrNotOpen
	}
	if f.readOnly {
		return ErrReadOnly
	}
	delete(f.entries, key)
	return nil
}

func (f *Fake) Commit() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.open {
		return ErrNotOpen
	}
	if f.readOnly {
		return ErrReadOnly
	}
	return nil
}

func (f *Fake) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.open = false
	return nil
}
