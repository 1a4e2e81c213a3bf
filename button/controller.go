// https://github.com/jerryryle/odkey
//
// Copyright (c) The ODKey Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package button drives the VM Task from the physical macro key: a
// debounce + hold-to-repeat state machine over a falling-edge,
// active-low GPIO input, modeled on board/usbarmory/mk2's GPIO
// init/error idiom and wired through periph.io/x/conn/v3/gpio's pin
// contracts instead of the teacher's register-level imx6.GPIO driver.
package button

import (
	"context"
	"log"
	"time"

	"periph.io/x/conn/v3/gpio"

	"github.com/jerryryle/odkey/config"
	"github.com/jerryryle/odkey/vm"
)

// VMTask is the subset of vm/task.Task the controller depends on.
type VMTask interface {
	Start(program []byte, onComplete func(vm.Lifecycle, error)) bool
	IsRunning() bool
}

// ProgramSource is the subset of store.Store the controller reads
// from; it never writes (uploads are handled entirely by the command
// bus/handlers).
type ProgramSource interface {
	Get() ([]byte, uint32, error)
}

// Controller is the button-driven execution state machine (spec.md
// §4.D). One Controller drives exactly one program source (the Flash
// variant, per spec.md's "start program (FLASH variant)").
type Controller struct {
	pin     gpio.PinIO
	vmTask  VMTask
	program ProgramSource

	debounce time.Duration
	repeat   time.Duration
}

// New configures pin as active-low with a pull-up and falling-edge
// sensitivity, and returns a Controller reading its debounce/repeat
// timing from cfg (falling back to spec.md §6's defaults).
func New(pin gpio.PinIO, vmTask VMTask, program ProgramSource, cfg config.Store) (*Controller, error) {
	if err := pin.In(gpio.PullUp, gpio.FallingEdge); err != nil {
		return nil, err
	}

	return &Controller{
		pin:      pin,
		vmTask:   vmTask,
		program:  program,
		debounce: time.Duration(config.GetUint32(cfg, config.KeyDebounceMS, config.DefaultDebounce)) * time.Millisecond,
		repeat:   time.Duration(config.GetUint32(cfg, config.KeyRepeatDelay, config.DefaultRepeat)) * time.Millisecond,
	}, nil
}

// Run drives the Armed/Debouncing/AwaitingRepeat loop until ctx is
// cancelled. It must own its own goroutine: pin.WaitForEdge blocks the
// calling goroutine until a falling edge arrives. Interrupts are
// "disabled" for the whole of onEdge — WaitForEdge is not called again
// until the button is observed released — which is this package's
// polling-driven equivalent of spec.md §4.D's "interrupts are disabled
// from the instant the edge is taken until the button is observed
// released".
func (c *Controller) Run(ctx context.Context) {
	for ctx.Err() == nil {
		if !c.pin.WaitForEdge(-1) {
			continue
		}
		c.onEdge(ctx)
	}
}

// onEdge implements Debouncing: arm the debounce timer, then check the
// input level. A high reading is spurious and simply re-arms; a low
// reading starts the program and enters the non-preemptive hold-repeat
// loop.
func (c *Controller) onEdge(ctx context.Context) {
	if !c.sleep(ctx, c.debounce) {
		return
	}
	if c.pin.Read() != gpio.Low {
		return
	}
	c.pressLoop(ctx)
}

// pressLoop runs the program to completion (no preemption, per spec.md
// §4.D/§7: a press during Running is never queued or interrupted), then
// — AwaitingRepeat — re-checks the button and either repeats after
// repeat_delay_ms or re-arms.
func (c *Controller) pressLoop(ctx context.Context) {
	for {
		c.runProgram()

		if c.pin.Read() != gpio.Low {
			return
		}
		if !c.sleep(ctx, c.repeat) {
			return
		}
		if c.pin.Read() != gpio.Low {
			return
		}
	}
}

// runProgram reads the committed flash program and executes it to
// completion, blocking the controller goroutine until the VM Task's
// completion callback fires. A press while a program is already
// running (which should not happen given this loop's own
// serialization, but may if another caller shares the same VMTask) is
// silently dropped, per spec.md's non-preemption guarantee.
func (c *Controller) runProgram() {
	program, _, err := c.program.Get()
	if err != nil {
		log.Printf("button: no program to run: %v", err)
		return
	}

	done := make(chan struct{})
	started := c.vmTask.Start(program, func(lifecycle vm.Lifecycle, err error) {
		if err != nil {
			log.Printf("button: program finished in error: %v", err)
		}
		close(done)
	})
	if !started {
		log.Printf("button: press dropped, a program is already running")
		return
	}

	<-done
}

// sleep waits for d or ctx cancellation, whichever first, reporting
// whether it completed the full duration.
func (c *Controller) sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
