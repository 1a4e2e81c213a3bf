// https://github.com/jerryryle/odkey
//
// Copyright (c) The ODKey Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package odkey wires together the core components (VM Task, Program
// Stores, Button Controller, Command Bus, transports) into a running
// device, the same way board/usbarmory/mk2's usbarmory.go wires imx6
// drivers into a USB armory board — except every dependency here is
// an interface, since the USB device stack, GPIO pin, flash backing,
// and network stack are all external collaborators (spec.md §1).
package odkey

import (
	"context"
	"errors"
	"log"

	"periph.io/x/conn/v3/gpio"

	"gvisor.dev/gvisor/pkg/tcpip"
	"gvisor.dev/gvisor/pkg/tcpip/stack"

	"github.com/jerryryle/odkey/button"
	"github.com/jerryryle/odkey/cmdbus"
	"github.com/jerryryle/odkey/config"
	"github.com/jerryryle/odkey/handlers"
	"github.com/jerryryle/odkey/hid"
	"github.com/jerryryle/odkey/logring"
	odkeyhttp "github.com/jerryryle/odkey/transport/http"
	"github.com/jerryryle/odkey/transport/usbhid"
	"github.com/jerryryle/odkey/store/flash"
	"github.com/jerryryle/odkey/store/ram"
	"github.com/jerryryle/odkey/vm/task"
)

// ErrHTTPDisabled is returned by ServeHTTP when http_api_key is unset,
// per spec.md §6's "unset disables HTTP".
var ErrHTTPDisabled = errors.New("odkey: http control plane disabled (http_api_key unset)")

// Hardware collects every external collaborator a Device needs. Real
// firmware supplies the USB armory's actual GPIO/SPI/USB/HID
// peripherals; host tests supply fakes (button.FakePin,
// flash.FakeBacking, usbhid.FakeDevice, hid.Recorder).
type Hardware struct {
	FlashBacking flash.Backing
	ButtonPin    gpio.PinIO
	USBDevice    usbhid.Device
	HIDEmitter   hid.Emitter
	Config       config.Store
}

// Device is one fully-wired ODKey firmware instance.
type Device struct {
	Flash  *flash.Flash
	RAM    *ram.RAM
	Config config.Store
	Log    *logring.Ring
	VM     *task.Task
	Button *button.Controller
	Bus    *cmdbus.Bus
	USB    *usbhid.Transport
	HTTP   *odkeyhttp.Server // nil if http_api_key is unset
}

// New builds a Device from hw, provisioning factory defaults into
// hw.Config if it is empty (Provision is idempotent) and wiring the
// VM Task, both Program Stores, the Button Controller, and the
// Command Bus together.
func New(hw Hardware) (*Device, error) {
	if err := hw.Config.OpenRW(); err != nil {
		return nil, err
	}
	if err := Provision(hw.Config); err != nil {
		return nil, err
	}

	vmTask := &task.Task{}
	if err := vmTask.Init(hw.HIDEmitter); err != nil {
		return nil, err
	}

	flashStore := flash.New(hw.FlashBacking)
	ramStore := ram.New()
	logRing := &logring.Ring{}

	h := &handlers.Handlers{
		Flash: flashStore,
		RAM:   ramStore,
		Cfg:   hw.Config,
		VM:    vmTask,
		Log:   logRing,
	}

	btn, err := button.New(hw.ButtonPin, vmTask, flashStore, hw.Config)
	if err != nil {
		return nil, err
	}

	bus := cmdbus.New(h)
	usbTransport := usbhid.New(hw.USBDevice, bus)

	var httpServer *odkeyhttp.Server
	if _, apiKey, err := hw.Config.GetByType("http_api_key"); err == nil && len(apiKey) > 0 {
		httpServer = odkeyhttp.New(h, string(apiKey))
	}

	d := &Device{
		Flash:  flashStore,
		RAM:    ramStore,
		Config: hw.Config,
		Log:    logRing,
		VM:     vmTask,
		Button: btn,
		Bus:    bus,
		USB:    usbTransport,
		HTTP:   httpServer,
	}

	d.logStartup()

	return d, nil
}

// logStartup records program-store commit status and the active
// button timing parameters to the Log Ring, giving field debugging a
// starting point (SPEC_FULL.md "Structured startup log line").
func (d *Device) logStartup() {
	msg := "odkey: cold boot, flash program: "
	if _, size, err := d.Flash.Get(); err == nil {
		msg += formatUint(size) + " bytes committed"
	} else {
		msg += "none"
	}

	debounce := config.GetUint32(d.Config, config.KeyDebounceMS, config.DefaultDebounce)
	repeat := config.GetUint32(d.Config, config.KeyRepeatDelay, config.DefaultRepeat)
	msg += ", debounce=" + formatUint(debounce) + "ms repeat=" + formatUint(repeat) + "ms"

	log.Print(msg)
	d.Log.Write([]byte(msg + "\n"))
}

func formatUint(v uint32) string {
	if v == 0 {
		return "0"
	}
	var buf [10]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	return string(buf[i:])
}

// ServeHTTP brings up the HTTP control plane on stk/addr/nic, reading
// the listening port from Config's "http_port" key (seeded by
// Provision, overridable over the USB/HTTP control planes like any
// other key) rather than a hardcoded value. It blocks until the
// listener stops. The network stack itself (WiFi bring-up, address
// assignment) is an external collaborator outside this package's
// scope (spec.md §1); the caller supplies an already-configured stk.
func (d *Device) ServeHTTP(stk *stack.Stack, addr tcpip.Address, nic tcpip.NICID) error {
	if d.HTTP == nil {
		return ErrHTTPDisabled
	}
	port := uint16(config.GetUint32(d.Config, "http_port", 80))
	return d.HTTP.Serve(stk, addr, port, nic)
}

// Run starts the Button Controller and USB transport loops. After ctx
// is cancelled it returns once both loops have stopped; each loop
// notices cancellation only when its current blocking wait (a button
// edge, a USB packet read) returns. The HTTP server (if configured) is
// started separately by the caller once a network stack is available
// — bringing up WiFi is outside this package's scope (spec.md §1).
func (d *Device) Run(ctx context.Context) {
	done := make(chan struct{}, 2)

	go func() {
		d.Button.Run(ctx)
		done <- struct{}{}
	}()
	go func() {
		if err := d.USB.Run(ctx); err != nil {
			log.Printf("odkey: usb transport stopped: %v", err)
		}
		done <- struct{}{}
	}()

	<-ctx.Done()
	<-done
	<-done
}
