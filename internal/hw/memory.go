package hw

import (
	"encoding/binary"
	"math/bits"
	"sync/atomic"
	"unsafe"
)

// Memory is a Window backed by ordinary host memory. Accesses of any
// alignment are allowed.
type Memory struct {
	buf []byte
}

// NewMemory returns a zeroed Memory window of size bytes.
func NewMemory(size uint64) *Memory {
	return &Memory{buf: make([]byte, size)}
}

// Bytes exposes the backing store.
func (m *Memory) Bytes() []byte { return m.buf }

func (m *Memory) Size() uint64 { return uint64(len(m.buf)) }

func order(o Order) binary.ByteOrder {
	if o == Raw {
		return binary.NativeEndian
	}
	return binary.LittleEndian
}

func (m *Memory) Load8(off uint64) uint8 { return m.buf[off] }
func (m *Memory) Load16(off uint64, o Order) uint16 {
	return order(o).Uint16(m.buf[off : off+2])
}
func (m *Memory) Load32(off uint64, o Order) uint32 {
	return order(o).Uint32(m.buf[off : off+4])
}
func (m *Memory) Store8(off uint64, v uint8) { m.buf[off] = v }
func (m *Memory) Store16(off uint64, v uint16, o Order) {
	order(o).PutUint16(m.buf[off:off+2], v)
}
func (m *Memory) Store32(off uint64, v uint32, o Order) {
	order(o).PutUint32(m.buf[off:off+4], v)
}
func (m *Memory) Store64(off uint64, v uint64) {
	binary.LittleEndian.PutUint64(m.buf[off:off+8], v)
}

// Mapping is a Window over memory-mapped device registers. Every access is
// issued as a single load or store of its natural width, so multi-byte
// accesses must be naturally aligned.
type Mapping struct {
	mem []byte
}

// NewMapping wraps an mmap'd BAR.
func NewMapping(mem []byte) *Mapping {
	return &Mapping{mem: mem}
}

func (m *Mapping) Size() uint64 { return uint64(len(m.mem)) }

func (m *Mapping) ptr(off uint64) unsafe.Pointer {
	return unsafe.Pointer(&m.mem[off])
}

func toLE16(v uint16) uint16 {
	if hostLittleEndian {
		return v
	}
	return bits.ReverseBytes16(v)
}

func toLE32(v uint32) uint32 {
	if hostLittleEndian {
		return v
	}
	return bits.ReverseBytes32(v)
}

func toLE64(v uint64) uint64 {
	if hostLittleEndian {
		return v
	}
	return bits.ReverseBytes64(v)
}

// Ordered loads read the register and then fence; ordered stores fence and
// then write. 32 and 64-bit accesses go through sync/atomic so they are never
// split. Raw accesses are plain and unfenced.

func (m *Mapping) Load8(off uint64) uint8 {
	v := *(*uint8)(m.ptr(off))
	MemoryBarrier()
	return v
}

func (m *Mapping) Load16(off uint64, o Order) uint16 {
	if o == Raw {
		return *(*uint16)(m.ptr(off))
	}
	v := *(*uint16)(m.ptr(off))
	MemoryBarrier()
	return toLE16(v)
}

func (m *Mapping) Load32(off uint64, o Order) uint32 {
	if o == Raw {
		return *(*uint32)(m.ptr(off))
	}
	v := atomic.LoadUint32((*uint32)(m.ptr(off)))
	MemoryBarrier()
	return toLE32(v)
}

func (m *Mapping) Store8(off uint64, v uint8) {
	MemoryBarrier()
	*(*uint8)(m.ptr(off)) = v
}

func (m *Mapping) Store16(off uint64, v uint16, o Order) {
	if o == Raw {
		*(*uint16)(m.ptr(off)) = v
		return
	}
	MemoryBarrier()
	*(*uint16)(m.ptr(off)) = toLE16(v)
}

func (m *Mapping) Store32(off uint64, v uint32, o Order) {
	if o == Raw {
		*(*uint32)(m.ptr(off)) = v
		return
	}
	MemoryBarrier()
	atomic.StoreUint32((*uint32)(m.ptr(off)), toLE32(v))
}

func (m *Mapping) Store64(off uint64, v uint64) {
	MemoryBarrier()
	atomic.StoreUint64((*uint64)(m.ptr(off)), toLE64(v))
}

var (
	_ Window = (*Memory)(nil)
	_ Window = (*Mapping)(nil)
)
