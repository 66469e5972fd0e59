package hw

import (
	"fmt"
	"sort"
)

type mapping struct {
	base uint64
	size uint64
	w    Window
}

// Bus routes absolute device addresses to the Window that backs them.
// Addresses reaching the bus are expected to have been validated; an access
// that hits no mapping is a programming error and panics.
type Bus struct {
	maps []mapping
}

func NewBus() *Bus {
	return &Bus{}
}

// Map places w at [base, base+w.Size()).
func (b *Bus) Map(base uint64, w Window) error {
	size := w.Size()
	if size == 0 {
		return fmt.Errorf("hw: cannot map zero-size window at %#x", base)
	}
	end := base + size
	if end < base {
		return fmt.Errorf("hw: window at %#x size %#x wraps the address space", base, size)
	}
	for _, m := range b.maps {
		if base < m.base+m.size && end > m.base {
			return fmt.Errorf("hw: window [%#x-%#x) overlaps [%#x-%#x)", base, end, m.base, m.base+m.size)
		}
	}
	b.maps = append(b.maps, mapping{base: base, size: size, w: w})
	sort.Slice(b.maps, func(i, j int) bool { return b.maps[i].base < b.maps[j].base })
	return nil
}

func (b *Bus) resolve(addr, n uint64) (Window, uint64) {
	i := sort.Search(len(b.maps), func(i int) bool { return b.maps[i].base+b.maps[i].size > addr })
	if i < len(b.maps) {
		m := b.maps[i]
		if addr >= m.base && addr+n <= m.base+m.size {
			return m.w, addr - m.base
		}
	}
	panic(fmt.Sprintf("hw: unmapped %d-byte access at %#x", n, addr))
}

func (b *Bus) Read8(addr uint64) uint8 {
	w, off := b.resolve(addr, 1)
	return w.Load8(off)
}

func (b *Bus) Read16(addr uint64) uint16 {
	w, off := b.resolve(addr, 2)
	return w.Load16(off, Ordered)
}

func (b *Bus) Read32(addr uint64) uint32 {
	w, off := b.resolve(addr, 4)
	return w.Load32(off, Ordered)
}

func (b *Bus) RawRead16(addr uint64) uint16 {
	w, off := b.resolve(addr, 2)
	return w.Load16(off, Raw)
}

func (b *Bus) RawRead32(addr uint64) uint32 {
	w, off := b.resolve(addr, 4)
	return w.Load32(off, Raw)
}

func (b *Bus) Write8(addr uint64, v uint8) {
	w, off := b.resolve(addr, 1)
	w.Store8(off, v)
}

func (b *Bus) Write16(addr uint64, v uint16) {
	w, off := b.resolve(addr, 2)
	w.Store16(off, v, Ordered)
}

func (b *Bus) Write32(addr uint64, v uint32) {
	w, off := b.resolve(addr, 4)
	w.Store32(off, v, Ordered)
}

func (b *Bus) RawWrite16(addr uint64, v uint16) {
	w, off := b.resolve(addr, 2)
	w.Store16(off, v, Raw)
}

func (b *Bus) RawWrite32(addr uint64, v uint32) {
	w, off := b.resolve(addr, 4)
	w.Store32(off, v, Raw)
}

func (b *Bus) Write64(addr uint64, v uint64) {
	w, off := b.resolve(addr, 8)
	w.Store64(off, v)
}

func (b *Bus) Barrier() { MemoryBarrier() }

var _ Registers = (*Bus)(nil)
