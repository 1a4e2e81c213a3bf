// https://github.com/jerryryle/odkey
//
// Copyright (c) The ODKey Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package button

import (
	"context"
	"sync"
	"testing"
	"time"

	"periph.io/x/conn/v3/gpio"

	"github.com/jerryryle/odkey/config"
	"github.com/jerryryle/odkey/vm"
)

type fakeVM struct {
	mu      sync.Mutex
	running bool
	starts  int
	runMS   time.Duration
}

func (f *fakeVM) Start(program []byte, onComplete func(vm.Lifecycle, error)) bool {
	f.mu.Lock()
	if f.running {
		f.mu.Unlock()
		return false
	}
	f.running = true
	f.starts++
	f.mu.Unlock()

	go func() {
		time.Sleep(f.runMS)
		f.mu.Lock()
		f.running = false
		f.mu.Unlock()
		if onComplete != nil {
			onComplete(vm.Finished, nil)
		}
	}()

	return true
}

func (f *fakeVM) IsRunning() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running
}

func (f *fakeVM) startCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.starts
}

type fakeSource struct {
	program []byte
}

func (s *fakeSource) Get() ([]byte, uint32, error) {
	return s.program, uint32(len(s.program)), nil
}

func newTestController(t *testing.T, vmTask VMTask) (*Controller, *FakePin) {
	t.Helper()
	pin := NewFakePin()
	cfg := config.NewFake()
	cfg.OpenRW()
	cfg.SetByType(config.KeyDebounceMS, config.TypeU32, []byte{5, 0, 0, 0})
	cfg.SetByType(config.KeyRepeatDelay, config.TypeU32, []byte{10, 0, 0, 0})

	c, err := New(pin, vmTask, &fakeSource{program: []byte{0x12}}, cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c, pin
}

func TestControllerPressRunsProgramOnce(t *testing.T) {
	vmTask := &fakeVM{runMS: 5 * time.Millisecond}
	c, pin := newTestController(t, vmTask)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	pin.SetLevel(gpio.Low)
	time.Sleep(10 * time.Millisecond) // past debounce
	pin.SetLevel(gpio.High)           // release before repeat fires

	time.Sleep(40 * time.Millisecond)

	if got := vmTask.startCount(); got != 1 {
		t.Fatalf("expected exactly 1 start, got %d", got)
	}
}

func TestControllerSpuriousEdgeDoesNotRun(t *testing.T) {
	vmTask := &fakeVM{runMS: 5 * time.Millisecond}
	c, pin := newTestController(t, vmTask)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	pin.SetLevel(gpio.Low)
	pin.SetLevel(gpio.High) // released before debounce elapses: spurious
	time.Sleep(40 * time.Millisecond)

	if got := vmTask.startCount(); got != 0 {
		t.Fatalf("expected 0 starts for a spurious edge, got %d", got)
	}
}

func TestControllerHoldRepeats(t *testing.T) {
	vmTask := &fakeVM{runMS: 2 * time.Millisecond}
	c, pin := newTestController(t, vmTask)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	pin.SetLevel(gpio.Low)
	time.Sleep(100 * time.Millisecond)
	pin.SetLevel(gpio.High)
	time.Sleep(20 * time.Millisecond)

	if got := vmTask.startCount(); got < 2 {
		t.Fatalf("expected repeated starts while held, got %d", got)
	}
}
