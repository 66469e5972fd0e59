// Package bar tracks the BARs of one device and validates accesses to them.
//
// A Span is the only way to name device memory outside this package. It can
// be obtained solely from Table.Validate, so every address handed to a
// transfer engine has been bounds-checked against exactly one BAR.
package bar

import (
	"errors"
	"fmt"
	"math/bits"
	"sync"

	"github.com/tinyrange/fpgaio/internal/hw"
)

var ErrOutOfRange = errors.New("device address out of range")

// BAR is one registered base-address region.
type BAR struct {
	Index  int
	Base   uint64
	Length uint64
}

func (b BAR) End() uint64 { return b.Base + b.Length }

// Span is a validated device address range inside a single BAR.
type Span struct {
	bar    int
	start  uint64
	length uint64
}

// BAR returns the index of the BAR the span was validated against.
func (s Span) BAR() int { return s.bar }

// Addr returns the absolute address of the first byte.
func (s Span) Addr() uint64 { return s.start }

func (s Span) Len() uint64 { return s.length }

// At returns the absolute address of an n-byte access at off within the
// span. Leaving the span is a programming error and panics.
func (s Span) At(off, n uint64) uint64 {
	end, carry := bits.Add64(off, n, 0)
	if carry != 0 || end > s.length {
		panic(fmt.Sprintf("bar: %d-byte access at +%#x escapes %d-byte span at %#x", n, off, s.length, s.start))
	}
	return s.start + off
}

func (s Span) String() string {
	return fmt.Sprintf("bar%d[%#x+%#x]", s.bar, s.start, s.length)
}

// Table holds a fixed number of BAR slots and the index of the host-control
// BAR that every PIO access must resolve into.
type Table struct {
	mu          sync.Mutex
	bars        []BAR
	present     []bool
	hostControl int
}

// NewTable returns a table with count empty slots.
func NewTable(count, hostControl int) (*Table, error) {
	if count <= 0 {
		return nil, fmt.Errorf("bar: table needs at least one slot")
	}
	if hostControl < 0 || hostControl >= count {
		return nil, fmt.Errorf("bar: host-control BAR %d outside [0,%d)", hostControl, count)
	}
	return &Table{
		bars:        make([]BAR, count),
		present:     make([]bool, count),
		hostControl: hostControl,
	}, nil
}

// Add registers BAR index at [base, base+length). Overlapping an existing
// BAR is rejected.
func (t *Table) Add(index int, base, length uint64) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if index < 0 || index >= len(t.bars) {
		return fmt.Errorf("bar: index %d outside [0,%d)", index, len(t.bars))
	}
	if length == 0 {
		return fmt.Errorf("bar: cannot register zero-length BAR %d", index)
	}
	end, carry := bits.Add64(base, length, 0)
	if carry != 0 {
		return fmt.Errorf("bar: BAR %d at %#x length %#x wraps the address space", index, base, length)
	}
	if t.present[index] {
		return fmt.Errorf("bar: BAR %d already registered", index)
	}
	for i, b := range t.bars {
		if !t.present[i] {
			continue
		}
		if base < b.End() && end > b.Base {
			return fmt.Errorf("bar: BAR %d [%#x-%#x) overlaps BAR %d [%#x-%#x)", index, base, end, i, b.Base, b.End())
		}
	}
	t.bars[index] = BAR{Index: index, Base: base, Length: length}
	t.present[index] = true
	return nil
}

// Count returns the number of slots.
func (t *Table) Count() int { return len(t.bars) }

// HostControl returns the index of the host-control BAR.
func (t *Table) HostControl() int { return t.hostControl }

// Get returns BAR index if it is registered.
func (t *Table) Get(index int) (BAR, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if index < 0 || index >= len(t.bars) || !t.present[index] {
		return BAR{}, false
	}
	return t.bars[index], true
}

// BARs returns a copy of every registered BAR.
func (t *Table) BARs() []BAR {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []BAR
	for i, b := range t.bars {
		if t.present[i] {
			out = append(out, b)
		}
	}
	return out
}

// Validate checks that [offset, offset+length) lies inside BAR index and
// returns the resulting span.
func (t *Table) Validate(index int, offset, length uint64) (Span, error) {
	b, ok := t.Get(index)
	if !ok {
		return Span{}, fmt.Errorf("%w: BAR %d not present (have %d slots)", ErrOutOfRange, index, len(t.bars))
	}
	end, carry := bits.Add64(offset, length, 0)
	if carry != 0 || end > b.Length {
		return Span{}, fmt.Errorf("%w: BAR %d range [%#x-%#x) exceeds length %#x", ErrOutOfRange, index, offset, end, b.Length)
	}
	return Span{bar: index, start: b.Base + offset, length: length}, nil
}

// RangeCheck reports whether the absolute range named by (index, offset,
// length) lies entirely inside the host-control BAR. It is independent of
// Validate: a request that validates against its own BAR can still resolve
// outside the host-control range.
func (t *Table) RangeCheck(index int, offset, length uint64) bool {
	b, ok := t.Get(index)
	if !ok {
		return false
	}
	hc, ok := t.Get(t.hostControl)
	if !ok {
		return false
	}
	first, carry := bits.Add64(b.Base, offset, 0)
	if carry != 0 {
		return false
	}
	end, carry := bits.Add64(first, length, 0)
	if carry != 0 {
		return false
	}
	return first >= hc.Base && end <= hc.End()
}

// Map places a window for every registered BAR on bus. windows is indexed
// by BAR id; missing entries are skipped.
func (t *Table) Map(bus *hw.Bus, windows map[int]hw.Window) error {
	for _, b := range t.BARs() {
		w, ok := windows[b.Index]
		if !ok {
			continue
		}
		if w.Size() != b.Length {
			return fmt.Errorf("bar: window for BAR %d is %#x bytes, BAR is %#x", b.Index, w.Size(), b.Length)
		}
		if err := bus.Map(b.Base, w); err != nil {
			return fmt.Errorf("bar: map BAR %d: %w", b.Index, err)
		}
	}
	return nil
}
