// Package hw provides the register access primitives used by the transfer
// engines: ordered and raw 8/16/32-bit loads and stores, a 64-bit store and a
// memory barrier, over absolute device addresses.
package hw

import (
	"encoding/binary"
	"sync/atomic"
)

// Order selects how a multi-byte access is observed by the device.
type Order uint8

const (
	// Ordered accesses are little-endian on the device and complete in
	// program order.
	Ordered Order = iota
	// Raw accesses keep host byte order and carry no ordering guarantee;
	// callers follow them with Barrier.
	Raw
)

func (o Order) String() string {
	if o == Raw {
		return "raw"
	}
	return "ordered"
}

// Window is the backing store of a single BAR. Offsets are relative to the
// start of the BAR and are trusted to be in range.
type Window interface {
	Size() uint64

	Load8(off uint64) uint8
	Load16(off uint64, order Order) uint16
	Load32(off uint64, order Order) uint32

	Store8(off uint64, v uint8)
	Store16(off uint64, v uint16, order Order)
	Store32(off uint64, v uint32, order Order)
	Store64(off uint64, v uint64)
}

// Registers is the hardware register interface consumed by the transfer
// engines and the segment translator.
type Registers interface {
	Read8(addr uint64) uint8
	Read16(addr uint64) uint16
	Read32(addr uint64) uint32
	RawRead16(addr uint64) uint16
	RawRead32(addr uint64) uint32

	Write8(addr uint64, v uint8)
	Write16(addr uint64, v uint16)
	Write32(addr uint64, v uint32)
	RawWrite16(addr uint64, v uint16)
	RawWrite32(addr uint64, v uint32)

	// Write64 is used only for the segment-select register.
	Write64(addr uint64, v uint64)

	Barrier()
}

var fence atomic.Uint64

// MemoryBarrier orders all earlier loads and stores before later ones.
// Go atomics are sequentially consistent, so a read-modify-write on a shared
// word acts as a full fence on every supported architecture.
func MemoryBarrier() {
	fence.Add(1)
}

var hostLittleEndian = binary.NativeEndian.Uint16([]byte{1, 0}) == 1

// HostLittleEndian reports whether raw accesses see little-endian values.
func HostLittleEndian() bool { return hostLittleEndian }
