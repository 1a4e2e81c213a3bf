// https://github.com/jerryryle/odkey
//
// Copyright (c) The ODKey Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package usbhid pumps raw-HID packets between a USB device endpoint
// and a cmdbus.Bus. The USB device stack itself is an external
// collaborator (spec.md §1's explicit out-of-scope boundary); this
// package only depends on the narrow Device contract below, the same
// way the rest of this repository borrows tamago's pattern of talking
// to hardware through a small interface rather than a concrete driver
// type.
package usbhid

import (
	"context"
	"log"

	"github.com/jerryryle/odkey/cmdbus"
)

// Device is the raw-HID USB endpoint contract: blocking reads of
// host-to-device packets and writes of device-to-host packets, both
// fixed at cmdbus.FrameSize bytes.
type Device interface {
	ReadPacket() (cmdbus.Frame, error)
	WritePacket(cmdbus.Frame) error
}

// Transport pumps Device reads into a Bus's work queue and Bus
// responses back out to the Device.
type Transport struct {
	device Device
	bus    *cmdbus.Bus
}

// New returns a Transport wiring device to bus.
func New(device Device, bus *cmdbus.Bus) *Transport {
	return &Transport{device: device, bus: bus}
}

// Run starts the bus worker and the packet-receive loop, blocking
// until ctx is cancelled or a read error occurs.
func (t *Transport) Run(ctx context.Context) error {
	go t.bus.Run(ctx, t.device.WritePacket)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		frame, err := t.device.ReadPacket()
		if err != nil {
			return err
		}
		if !t.bus.Submit(frame) {
			log.Printf("usbhid: command queue full, dropping packet 0x%02x", frame.Opcode())
		}
	}
}
