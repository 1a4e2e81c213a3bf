// https://github.com/jerryryle/odkey
//
// Copyright (c) The ODKey Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package usbhid

import "github.com/jerryryle/odkey/cmdbus"

// FakeDevice is an in-memory Device for host tests: host-injected
// packets flow in via Inject, and packets written by the firmware are
// readable via Sent.
type FakeDevice struct {
	in   chan cmdbus.Frame
	sent chan cmdbus.Frame
}

// NewFakeDevice returns a FakeDevice with the given inbound queue
// depth.
func NewFakeDevice(depth int) *FakeDevice {
	return &FakeDevice{
		in:   make(chan cmdbus.Frame, depth),
		sent: make(chan cmdbus.Frame, depth),
	}
}

// Inject enqueues a host-to-device packet for ReadPacket to return.
func (d *FakeDevice) Inject(frame cmdbus.Frame) {
	d.in <- frame
}

// ReadPacket implements Device.
func (d *FakeDevice) ReadPacket() (cmdbus.Frame, error) {
	return <-d.in, nil
}

// WritePacket implements Device.
func (d *FakeDevice) WritePacket(frame cmdbus.Frame) error {
	d.sent <- frame
	return nil
}

// Sent returns the channel of device-to-host packets for test
// assertions.
func (d *FakeDevice) Sent() <-chan cmdbus.Frame {
	return d.sent
}

var _ Device = (*FakeDevice)(nil)
