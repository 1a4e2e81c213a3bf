// https://github.com/jerryryle/odkey
//
// Copyright (c) The ODKey Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package button

import (
	"sync"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/pin"
)

// FakePin is a host-testable gpio.PinIO: level changes are driven by
// test code via SetLevel, and WaitForEdge wakes whenever the level
// transitions to Low (the only edge this package cares about).
type FakePin struct {
	mu     sync.Mutex
	level  gpio.Level
	edgeC  chan struct{}
	halted bool
}

// NewFakePin returns a FakePin initially High (button released, given
// the active-low/pull-up wiring spec.md §4.D assumes).
func NewFakePin() *FakePin {
	return &FakePin{level: gpio.High, edgeC: make(chan struct{}, 1)}
}

// SetLevel changes the simulated input level, waking a blocked
// WaitForEdge call if this is a High-to-Low transition.
func (p *FakePin) SetLevel(l gpio.Level) {
	p.mu.Lock()
	falling := p.level == gpio.High && l == gpio.Low
	p.level = l
	p.mu.Unlock()

	if falling {
		select {
		case p.edgeC <- struct{}{}:
		default:
		}
	}
}

func (p *FakePin) In(pull gpio.Pull, edge gpio.Edge) error { return nil }

func (p *FakePin) Read() gpio.Level {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.level
}

// WaitForEdge blocks until SetLevel delivers a falling edge, the
// timeout elapses, or Halt is called; it returns false in the latter
// two cases. A negative timeout waits indefinitely.
func (p *FakePin) WaitForEdge(timeout time.Duration) bool {
	var timeoutC <-chan time.Time
	if timeout >= 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		timeoutC = t.C
	}

	select {
	case <-p.edgeC:
		p.mu.Lock()
		halted := p.halted
		p.mu.Unlock()
		return !halted
	case <-timeoutC:
		return false
	}
}

func (p *FakePin) Out(l gpio.Level) error {
	p.SetLevel(l)
	return nil
}

func (p *FakePin) Pull() gpio.Pull { return gpio.PullUp }

func (p *FakePin) DefaultPull() gpio.Pull { return gpio.PullUp }

func (p *FakePin) Name() string     { return "FAKE0" }
func (p *FakePin) Number() int      { return 0 }
func (p *FakePin) Function() string { return "In/FakePin" }
func (p *FakePin) String() string   { return "FAKE0(0)" }

// Halt unblocks any pending WaitForEdge call, matching pin.Pin's
// contract that Halt aborts a pending operation.
func (p *FakePin) Halt() error {
	p.mu.Lock()
	p.halted = true
	p.mu.Unlock()
	select {
	case p.edgeC <- struct{}{}:
	default:
	}
	return nil
}

var _ gpio.PinIO = (*FakePin)(nil)
var _ pin.Pin = (*FakePin)(nil)
