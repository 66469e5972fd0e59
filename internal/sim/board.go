// Package sim provides a software model of an accelerator board: BARs laid
// out in an MMIO range, a host-control BAR with a segment window onto
// global memory, and a DMA engine over the same memory.
package sim

import (
	"fmt"
	"log/slog"
	"math/bits"
	"slices"

	"github.com/tinyrange/fpgaio/internal/bar"
	"github.com/tinyrange/fpgaio/internal/config"
	"github.com/tinyrange/fpgaio/internal/dma"
	"github.com/tinyrange/fpgaio/internal/hw"
)

const (
	MMIOBase = 0xc000_0000
	MMIOSize = 0x2000_0000
)

type linearAllocator struct {
	base uint64
	size uint64
	next uint64
}

func newLinearAllocator(base, size uint64) *linearAllocator {
	return &linearAllocator{
		base: base,
		size: size,
		next: base,
	}
}

// Allocate returns a naturally aligned base for a BAR of size bytes.
func (a *linearAllocator) Allocate(size uint64) (uint64, error) {
	if size == 0 {
		return 0, fmt.Errorf("BAR size must be non-zero")
	}
	align := size
	if align&(align-1) != 0 {
		align = 1 << bits.Len64(align)
	}
	base := (a.next + align - 1) &^ (align - 1)
	if base < a.base || base+size < base || base+size > a.base+a.size {
		return 0, fmt.Errorf("MMIO space exhausted")
	}
	a.next = base + size
	return base, nil
}

// Board is a simulated accelerator.
type Board struct {
	Table  *bar.Table
	Bus    *hw.Bus
	Global *hw.Memory
	Host   *HostControl
	DMA    *dma.Sim

	windows map[int]hw.Window
}

// NewBoard lays out the BARs named by cfg.Sim.BARSizes in ascending index
// order. The memory-window BAR is backed by a HostControl model and every
// other BAR by plain memory.
func NewBoard(cfg config.Config) (*Board, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if _, ok := cfg.Sim.BARSizes[cfg.MemWindow.BAR]; !ok {
		return nil, fmt.Errorf("sim: no size for memory-window BAR %d", cfg.MemWindow.BAR)
	}
	if _, ok := cfg.Sim.BARSizes[cfg.HostControlBAR]; !ok {
		return nil, fmt.Errorf("sim: no size for host-control BAR %d", cfg.HostControlBAR)
	}

	table, err := bar.NewTable(cfg.BARs, cfg.HostControlBAR)
	if err != nil {
		return nil, err
	}
	b := &Board{
		Table:   table,
		Bus:     hw.NewBus(),
		Global:  hw.NewMemory(cfg.Sim.GlobalMemory),
		windows: make(map[int]hw.Window),
	}

	alloc := newLinearAllocator(MMIOBase, MMIOSize)
	indices := make([]int, 0, len(cfg.Sim.BARSizes))
	for idx := range cfg.Sim.BARSizes {
		indices = append(indices, idx)
	}
	slices.Sort(indices)

	for _, idx := range indices {
		size := cfg.Sim.BARSizes[idx]
		base, err := alloc.Allocate(size)
		if err != nil {
			return nil, fmt.Errorf("sim: allocate BAR %d: %w", idx, err)
		}
		if err := table.Add(idx, base, size); err != nil {
			return nil, err
		}
		if idx == cfg.MemWindow.BAR {
			w := cfg.MemWindow
			b.Host, err = NewHostControl(size, b.Global.Bytes(), w.Control, w.Base, w.Size)
			if err != nil {
				return nil, err
			}
			b.windows[idx] = b.Host.Window()
		} else {
			b.windows[idx] = hw.NewMemory(size)
		}
	}
	if err := table.Map(b.Bus, b.windows); err != nil {
		return nil, err
	}

	b.DMA, err = dma.NewSim(b.Global.Bytes(), dma.DefaultDescriptorSize, dma.DefaultQueueDepth)
	if err != nil {
		return nil, err
	}
	return b, nil
}

// SetLogger routes the models' diagnostics to logger.
func (b *Board) SetLogger(logger *slog.Logger) {
	if logger == nil {
		return
	}
	if b.Host != nil {
		b.Host.SetLogger(logger)
	}
	for _, w := range b.windows {
		if m, ok := w.(*hw.MMIOWindow); ok {
			m.SetLogger(logger)
		}
	}
	b.DMA.SetLogger(logger)
}

// Window returns the backing store of BAR index, or nil.
func (b *Board) Window(index int) hw.Window {
	return b.windows[index]
}

// Close releases the DMA engine's descriptor queue.
func (b *Board) Close() {
	b.DMA.Close()
}
