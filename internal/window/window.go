// Package window maps a large global address space onto a small BAR window
// by programming a segment-select register.
package window

import (
	"fmt"
	"log/slog"

	"github.com/tinyrange/fpgaio/internal/bar"
	"github.com/tinyrange/fpgaio/internal/hw"
)

// Translator owns the cached segment value of one device. It is not safe
// for concurrent use; the device handle serialises access.
type Translator struct {
	regs    hw.Registers
	ctrl    bar.Span
	hasCtrl bool

	base uint64
	size uint64

	current uint64
	writes  uint64

	logger *slog.Logger
}

// New returns a translator for a window of size bytes starting at offset
// base inside its BAR. ctrl is the validated 8-byte segment-select register.
// size must be a power of two.
func New(regs hw.Registers, ctrl bar.Span, base, size uint64) (*Translator, error) {
	if size == 0 || size&(size-1) != 0 {
		return nil, fmt.Errorf("window: size %#x is not a power of two", size)
	}
	if ctrl.Len() < 8 {
		return nil, fmt.Errorf("window: segment register span %v is shorter than 8 bytes", ctrl)
	}
	return &Translator{
		regs:    regs,
		ctrl:    ctrl,
		hasCtrl: true,
		base:    base,
		size:    size,
		logger:  slog.Default(),
	}, nil
}

// NewDetached returns a translator with no segment-select register. Segment
// switches are ignored and the cache stays at its current value.
func NewDetached(base, size uint64) (*Translator, error) {
	if size == 0 || size&(size-1) != 0 {
		return nil, fmt.Errorf("window: size %#x is not a power of two", size)
	}
	return &Translator{base: base, size: size, logger: slog.Default()}, nil
}

func (t *Translator) SetLogger(logger *slog.Logger) {
	if logger != nil {
		t.logger = logger
	}
}

// Control returns the segment-select register span and whether one exists.
func (t *Translator) Control() (bar.Span, bool) { return t.ctrl, t.hasCtrl }

// Current returns the cached segment value.
func (t *Translator) Current() uint64 { return t.current }

// Writes returns how many hardware segment switches have been issued.
func (t *Translator) Writes() uint64 { return t.writes }

func (t *Translator) Base() uint64 { return t.base }
func (t *Translator) Size() uint64 { return t.size }

// Segment returns the segment that contains raw.
func (t *Translator) Segment(raw uint64) uint64 {
	return raw &^ (t.size - 1)
}

// Select makes raw visible through the window and returns its offset inside
// the window's BAR.
func (t *Translator) Select(raw uint64) uint64 {
	t.set(t.Segment(raw))
	return t.base + raw&(t.size-1)
}

// Restore switches back to a previously recorded segment.
func (t *Translator) Restore(segment uint64) {
	t.set(segment)
}

// Observe records a segment value that the caller is writing to the
// segment-select register through the ordinary register path.
func (t *Translator) Observe(segment uint64) {
	t.logger.Debug("intercepted segment change", "segment", fmt.Sprintf("%#x", segment))
	t.current = segment
}

// Reset forgets the cached segment. The hardware register is not touched.
func (t *Translator) Reset() {
	t.current = 0
}

func (t *Translator) set(segment uint64) {
	if !t.hasCtrl || segment == t.current {
		return
	}
	t.regs.Write64(t.ctrl.At(0, 8), segment)
	t.writes++
	t.current = segment
	t.logger.Debug("changed segment", "segment", fmt.Sprintf("%#x", segment))
}
