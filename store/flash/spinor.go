// https://github.com/jerryryle/odkey
//
// Copyright (c) The ODKey Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package flash

import (
	"errors"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/spi"
)

// SPI NOR command set and busy-wait timings, adapted from a periph.io
// chip driver's page-program / sector-erase / status-register idiom.
const (
	cmdRead             = 0x03
	cmdWriteEnable      = 0x06
	cmdPageProgram      = 0x02
	cmdErase4KB         = 0x20
	cmdReadStatusReg    = 0x05
	statusBusyBit       = 0x01
	pageProgramMaxBytes = 256
)

const (
	tPP        = 3 * time.Millisecond
	tErase4KB  = 400 * time.Millisecond
	busyPoll   = 100 * time.Microsecond
)

// SPINORBacking is a Backing implemented over SPI NOR flash, addressed
// with 24-bit big-endian addresses as the chip's instruction set
// requires.
type SPINORBacking struct {
	Conn spi.Conn
	CS   gpio.PinIO
}

func (b *SPINORBacking) tx(buf []byte) (err error) {
	if err = b.CS.Out(gpio.Low); err != nil {
		return err
	}
	defer func() {
		if csErr := b.CS.Out(gpio.High); csErr != nil && err == nil {
			err = csErr
		}
	}()
	return b.Conn.Tx(buf, buf)
}

func (b *SPINORBacking) writeEnable() error {
	return b.tx([]byte{cmdWriteEnable})
}

func (b *SPINORBacking) busyWait(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		buf := []byte{cmdReadStatusReg, 0}
		if err := b.tx(buf); err != nil {
			return err
		}
		if buf[1]&statusBusyBit == 0 {
			return nil
		}
		if time.Now().After(deadline) {
			return errors.New("flash: busy-wait timeout")
		}
		time.Sleep(busyPoll)
	}
}

func addr24(offset uint32) []byte {
	return []byte{byte(offset >> 16), byte(offset >> 8), byte(offset)}
}

// EraseRange erases every 4KB sector overlapping [offset, offset+length).
func (b *SPINORBacking) EraseRange(offset, length uint32) error {
	const sector = 4096
	start := (offset / sector) * sector
	end := offset + length
	for a := start; a < end; a += sector {
		if err := b.writeEnable(); err != nil {
			return err
		}
		buf := append([]byte{cmdErase4KB}, addr24(a)...)
		if err := b.tx(buf); err != nil {
			return err
		}
		if err := b.busyWait(tErase4KB); err != nil {
			return err
		}
	}
	return nil
}

// ReadAt reads len(buf) bytes starting at offset.
func (b *SPINORBacking) ReadAt(offset uint32, buf []byte) error {
	frame := append([]byte{cmdRead}, addr24(offset)...)
	frame = append(frame, make([]byte, len(buf))...)
	if err := b.tx(frame); err != nil {
		return err
	}
	copy(buf, frame[4:])
	return nil
}

// WriteAt programs a page, internally chunked into the chip's
// 256-byte page-program limit.
func (b *SPINORBacking) WriteAt(offset uint32, buf []byte) error {
	for off := 0; off < len(buf); off += pageProgramMaxBytes {
		end := off + pageProgramMaxBytes
		if end > len(buf) {
			end = len(buf)
		}
		chunk := buf[off:end]

		if err := b.writeEnable(); err != nil {
			return err
		}
		frame := append([]byte{cmdPageProgram}, addr24(offset+uint32(off))...)
		frame = append(frame, chunk...)
		if err := b.tx(frame); err != nil {
			return err
		}
		if err := b.busyWait(tPP); err != nil {
			return err
		}
	}
	return nil
}
