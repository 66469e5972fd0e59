package sim

import (
	"encoding/binary"
	"fmt"
	"log/slog"

	"github.com/tinyrange/fpgaio/internal/hw"
)

// HostControl models the host-control BAR: an 8-byte segment-select
// register, a window onto global memory at the selected segment, and plain
// read/write registers everywhere else.
type HostControl struct {
	regs    []byte
	global  []byte
	control uint64
	base    uint64
	size    uint64
	segment uint64

	logger *slog.Logger
}

// NewHostControl returns a model of length bytes whose window
// [base, base+size) forwards to global.
func NewHostControl(length uint64, global []byte, control, base, size uint64) (*HostControl, error) {
	if base+size > length || control+8 > length {
		return nil, fmt.Errorf("sim: window [%#x+%#x) or control %#x outside %#x-byte BAR", base, size, control, length)
	}
	return &HostControl{
		regs:    make([]byte, length),
		global:  global,
		control: control,
		base:    base,
		size:    size,
		logger:  slog.Default(),
	}, nil
}

func (h *HostControl) SetLogger(logger *slog.Logger) {
	if logger != nil {
		h.logger = logger
	}
}

// Segment returns the value last written to the segment-select register.
func (h *HostControl) Segment() uint64 { return h.segment }

// Window returns the model as a BAR window.
func (h *HostControl) Window() *hw.MMIOWindow {
	w := hw.NewMMIOWindow(uint64(len(h.regs)), hw.SimpleMMIOHandler{
		ReadFunc:  h.ReadMMIO,
		WriteFunc: h.WriteMMIO,
	})
	w.SetLogger(h.logger)
	return w
}

func (h *HostControl) ReadMMIO(off uint64, data []byte) error {
	for i := range data {
		b, err := h.load(off + uint64(i))
		if err != nil {
			return err
		}
		data[i] = b
	}
	return nil
}

func (h *HostControl) WriteMMIO(off uint64, data []byte) error {
	for i, b := range data {
		if err := h.store(off+uint64(i), b); err != nil {
			return err
		}
	}
	if off < h.control+8 && off+uint64(len(data)) > h.control {
		h.logger.Debug("segment register written", "segment", fmt.Sprintf("%#x", h.segment))
	}
	return nil
}

func (h *HostControl) load(a uint64) (byte, error) {
	switch {
	case a >= h.control && a < h.control+8:
		var seg [8]byte
		binary.LittleEndian.PutUint64(seg[:], h.segment)
		return seg[a-h.control], nil
	case a >= h.base && a < h.base+h.size:
		g := h.segment + (a - h.base)
		if g >= uint64(len(h.global)) {
			return 0, fmt.Errorf("sim: global address %#x beyond %#x bytes of memory", g, len(h.global))
		}
		return h.global[g], nil
	case a < uint64(len(h.regs)):
		return h.regs[a], nil
	}
	return 0, fmt.Errorf("sim: host-control offset %#x out of range", a)
}

func (h *HostControl) store(a uint64, b byte) error {
	switch {
	case a >= h.control && a < h.control+8:
		var seg [8]byte
		binary.LittleEndian.PutUint64(seg[:], h.segment)
		seg[a-h.control] = b
		h.segment = binary.LittleEndian.Uint64(seg[:])
		return nil
	case a >= h.base && a < h.base+h.size:
		g := h.segment + (a - h.base)
		if g >= uint64(len(h.global)) {
			return fmt.Errorf("sim: global address %#x beyond %#x bytes of memory", g, len(h.global))
		}
		h.global[g] = b
		return nil
	case a < uint64(len(h.regs)):
		h.regs[a] = b
		return nil
	}
	return fmt.Errorf("sim: host-control offset %#x out of range", a)
}

var _ hw.MMIOHandler = (*HostControl)(nil)
