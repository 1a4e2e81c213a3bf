// https://github.com/jerryryle/odkey
//
// Copyright (c) The ODKey Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package flash

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jerryryle/odkey/store"
)

// TestS4FlashRoundTrip covers spec.md scenario S4: a 5000-byte payload
// of 0xAA round-trips through Start/WriteChunk/Finish/Get, and the
// size header and first data byte land at the documented offsets.
func TestS4FlashRoundTrip(t *testing.T) {
	backing := NewFakeBacking()
	f := New(backing)

	payload := bytes.Repeat([]byte{0xAA}, 5000)

	require.NoError(t, f.Start(uint32(len(payload)), store.UsbChannel))
	require.NoError(t, f.WriteChunk(payload, store.UsbChannel))
	require.NoError(t, f.Finish(uint32(len(payload)), store.UsbChannel))

	got, size, err := f.Get()
	require.NoError(t, err)
	assert.EqualValues(t, 5000, size)
	assert.True(t, bytes.Equal(got, payload))

	var header [4]byte
	require.NoError(t, backing.ReadAt(0, header[:]))
	assert.Equal(t, []byte{0x88, 0x13, 0x00, 0x00}, header[:])

	var firstByte [1]byte
	require.NoError(t, backing.ReadAt(PageSize, firstByte[:]))
	assert.Equal(t, byte(0xAA), firstByte[0])
}

// TestS5OwnerInterruption covers spec.md scenario S5: an Http-owned
// Start interrupts a Usb-owned session in progress; every subsequent
// Usb call fails with ErrSourceMismatch, and the committed program
// reflects only the interrupting session.
func TestS5OwnerInterruption(t *testing.T) {
	f := New(NewFakeBacking())

	require.NoError(t, f.Start(1000, store.UsbChannel))
	require.NoError(t, f.WriteChunk(bytes.Repeat([]byte{0x01}, 400), store.UsbChannel))

	require.NoError(t, f.Start(500, store.HttpChannel))
	require.NoError(t, f.WriteChunk(bytes.Repeat([]byte{0x02}, 500), store.HttpChannel))
	require.NoError(t, f.Finish(500, store.HttpChannel))

	err := f.WriteChunk([]byte{0x03}, store.UsbChannel)
	assert.ErrorIs(t, err, store.ErrSourceMismatch)

	_, size, err := f.Get()
	require.NoError(t, err)
	assert.EqualValues(t, 500, size)
}

func TestStartRejectsOversizedLength(t *testing.T) {
	f := New(NewFakeBacking())
	err := f.Start(MaxSize+1, store.UsbChannel)
	assert.ErrorIs(t, err, store.ErrBadSize)
}

func TestWriteChunkRejectsOverflow(t *testing.T) {
	f := New(NewFakeBacking())
	require.NoError(t, f.Start(10, store.UsbChannel))
	err := f.WriteChunk(make([]byte, 11), store.UsbChannel)
	assert.ErrorIs(t, err, store.ErrOverflowExpected)
}

func TestGetWithNoCommittedProgram(t *testing.T) {
	f := New(NewFakeBacking())
	_, _, err := f.Get()
	assert.ErrorIs(t, err, store.ErrNoProgram)
}

func TestEraseReturnsToIdle(t *testing.T) {
	f := New(NewFakeBacking())
	require.NoError(t, f.Start(100, store.UsbChannel))
	require.NoError(t, f.WriteChunk(make([]byte, 100), store.UsbChannel))
	require.NoError(t, f.Finish(100, store.UsbChannel))

	require.NoError(t, f.Erase())

	_, _, err := f.Get()
	assert.ErrorIs(t, err, store.ErrNoProgram)

	// A fresh session after Erase is not gated by the old owner.
	require.NoError(t, f.Start(10, store.HttpChannel))
}
