// https://github.com/jerryryle/odkey
//
// Copyright (c) The ODKey Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package usbhid_test

import (
	"context"
	"testing"
	"time"

	"github.com/jerryryle/odkey/cmdbus"
	"github.com/jerryryle/odkey/config"
	"github.com/jerryryle/odkey/handlers"
	"github.com/jerryryle/odkey/logring"
	"github.com/jerryryle/odkey/store/ram"
	"github.com/jerryryle/odkey/transport/usbhid"
	"github.com/jerryryle/odkey/vm"
)

type noopVM struct{}

func (noopVM) Start(program []byte, onComplete func(vm.Lifecycle, error)) bool { return true }
func (noopVM) IsRunning() bool                                                { return false }
func (noopVM) Halt()                                                          {}

func TestTransportRoundTripsLogClear(t *testing.T) {
	cfg := config.NewFake()
	cfg.OpenRW()
	h := &handlers.Handlers{Flash: ram.New(), RAM: ram.New(), Cfg: cfg, VM: noopVM{}, Log: &logring.Ring{}}
	bus := cmdbus.New(h)
	device := usbhid.NewFakeDevice(4)
	tr := usbhid.New(device, bus)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go tr.Run(ctx)

	var req cmdbus.Frame
	req[0] = cmdbus.OpLogClear
	device.Inject(req)

	select {
	case resp := <-device.Sent():
		if resp.Opcode() != cmdbus.StatusOK {
			t.Fatalf("opcode = 0x%02x, want StatusOK", resp.Opcode())
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for response")
	}
}
