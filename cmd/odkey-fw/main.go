// https://github.com/jerryryle/odkey
//
// Copyright (c) The ODKey Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.
//
// +build tamago,arm

// Command odkey-fw is the ODKeyScript firmware entrypoint, in the
// shape of the teacher's example/example.go: a bare main() that
// initializes logging, wires the board, and runs forever.
package main

import (
	"context"
	"log"
	"os"

	"github.com/jerryryle/odkey/board/odkey"
	"github.com/jerryryle/odkey/button"
	"github.com/jerryryle/odkey/config"
	"github.com/jerryryle/odkey/hid"
	"github.com/jerryryle/odkey/store/flash"
	"github.com/jerryryle/odkey/transport/usbhid"
)

const banner = "ODKeyScript firmware"

func init() {
	log.SetFlags(0)
	log.SetOutput(os.Stdout)
}

func main() {
	log.Print(banner)

	// The five fields below are the external collaborators spec.md §1
	// scopes out of the core: the SPI-NOR-backed flash region, the
	// button's GPIO pin, the raw-HID USB endpoint, the real USB HID
	// report sender, and the key-value config store. A concrete board package (e.g.
	// board/odkey/usbarmory) supplies real drivers for these; none
	// were retrievable for this module (the teacher's register-level
	// imx6 drivers were dropped, per DESIGN.md, as out of this
	// repository's scope), so this entrypoint wires the same
	// host-testable fakes this repository's own tests use. Swapping
	// in real drivers requires no change to board/odkey or the core.
	hw := odkey.Hardware{
		FlashBacking: flash.NewFakeBacking(),
		ButtonPin:    button.NewFakePin(),
		USBDevice:    usbhid.NewFakeDevice(8),
		HIDEmitter:   &hid.Recorder{},
		Config:       config.NewFake(),
	}

	device, err := odkey.New(hw)
	if err != nil {
		log.Fatalf("odkey: init failed: %v", err)
	}

	device.Run(context.Background())
}
