package bar

import (
	"errors"
	"math"
	"testing"

	"github.com/tinyrange/fpgaio/internal/hw"
)

const (
	base0 = 0x1000_0000
	base4 = 0x2000_0000
)

func newTestTable(t *testing.T) *Table {
	t.Helper()
	tbl, err := NewTable(6, 4)
	if err != nil {
		t.Fatalf("NewTable failed: %v", err)
	}
	if err := tbl.Add(0, base0, 4096); err != nil {
		t.Fatalf("Add BAR0 failed: %v", err)
	}
	if err := tbl.Add(4, base4, 0x20000); err != nil {
		t.Fatalf("Add BAR4 failed: %v", err)
	}
	return tbl
}

func TestValidateScenario(t *testing.T) {
	tbl := newTestTable(t)

	span, err := tbl.Validate(0, 4092, 4)
	if err != nil {
		t.Fatalf("Validate(0, 4092, 4) failed: %v", err)
	}
	if span.Addr() != base0+4092 {
		t.Fatalf("address = %#x, want %#x", span.Addr(), base0+4092)
	}
	if span.BAR() != 0 || span.Len() != 4 {
		t.Fatalf("span = %v", span)
	}

	if _, err := tbl.Validate(0, 4093, 4); !errors.Is(err, ErrOutOfRange) {
		t.Fatalf("Validate(0, 4093, 4) = %v, want ErrOutOfRange", err)
	}
}

func TestValidateProperty(t *testing.T) {
	tbl := newTestTable(t)
	lengths := map[int]uint64{0: 4096, 4: 0x20000}

	offsets := []uint64{0, 1, 4095, 4096, 0x1fffc, 0x20000, math.MaxUint64 - 3, math.MaxUint64}
	sizes := []uint64{0, 1, 4, 8, 4096, math.MaxUint64}
	for _, index := range []int{-1, 0, 1, 4, 5, 6, 22} {
		for _, off := range offsets {
			for _, n := range sizes {
				span, err := tbl.Validate(index, off, n)
				barLen, known := lengths[index]
				sum, overflow := off+n, off+n < off
				want := known && !overflow && sum <= barLen
				if (err == nil) != want {
					t.Fatalf("Validate(%d, %#x, %#x) err=%v, want ok=%v", index, off, n, err, want)
				}
				if err != nil {
					if !errors.Is(err, ErrOutOfRange) {
						t.Fatalf("Validate(%d, %#x, %#x) err=%v, want ErrOutOfRange", index, off, n, err)
					}
					continue
				}
				b, _ := tbl.Get(index)
				if span.Addr() < b.Base || span.Addr()+span.Len() > b.End() {
					t.Fatalf("span %v escapes BAR %d", span, index)
				}
			}
		}
	}
}

func TestRangeCheck(t *testing.T) {
	tbl := newTestTable(t)

	tests := []struct {
		name  string
		index int
		off   uint64
		n     uint64
		want  bool
	}{
		{"inside host control", 4, 0x100, 8, true},
		{"last byte", 4, 0x1ffff, 1, true},
		{"crosses end", 4, 0x1fffc, 8, false},
		{"other BAR", 0, 0, 4, false},
		{"unknown BAR", 3, 0, 4, false},
		{"overflow", 4, math.MaxUint64, 2, false},
		{"offset steered into host control", 0, base4 - base0, 4, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tbl.RangeCheck(tt.index, tt.off, tt.n); got != tt.want {
				t.Fatalf("RangeCheck(%d, %#x, %d) = %v, want %v", tt.index, tt.off, tt.n, got, tt.want)
			}
		})
	}
}

func TestAddRejectsOverlap(t *testing.T) {
	tbl := newTestTable(t)
	if err := tbl.Add(1, base0+0x800, 0x1000); err == nil {
		t.Fatalf("overlapping Add succeeded")
	}
	if err := tbl.Add(0, 0x3000_0000, 16); err == nil {
		t.Fatalf("duplicate index Add succeeded")
	}
	if err := tbl.Add(2, 0x4000_0000, 0); err == nil {
		t.Fatalf("zero-length Add succeeded")
	}
	if err := tbl.Add(6, 0x4000_0000, 16); err == nil {
		t.Fatalf("out-of-range index Add succeeded")
	}
}

func TestSpanAt(t *testing.T) {
	tbl := newTestTable(t)
	span, err := tbl.Validate(4, 0x10, 11)
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if got := span.At(8, 3); got != base4+0x18 {
		t.Fatalf("At(8, 3) = %#x", got)
	}
	defer func() {
		if recover() == nil {
			t.Fatalf("At past the span did not panic")
		}
	}()
	span.At(8, 4)
}

func TestMapPlacesWindows(t *testing.T) {
	tbl := newTestTable(t)
	bus := hw.NewBus()
	bar0 := hw.NewMemory(4096)
	if err := tbl.Map(bus, map[int]hw.Window{0: bar0, 4: hw.NewMemory(0x20000)}); err != nil {
		t.Fatalf("Map failed: %v", err)
	}
	span, err := tbl.Validate(0, 8, 4)
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	bus.Write32(span.At(0, 4), 0x12345678)
	if got := bar0.Load32(8, hw.Ordered); got != 0x12345678 {
		t.Fatalf("BAR0 word = %#x", got)
	}

	if err := tbl.Map(hw.NewBus(), map[int]hw.Window{0: hw.NewMemory(16)}); err == nil {
		t.Fatalf("Map with mis-sized window succeeded")
	}
}
