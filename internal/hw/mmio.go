package hw

import (
	"encoding/binary"
	"fmt"
	"log/slog"
)

// MMIOHandler serves byte-level accesses to a modelled device. data holds
// the bytes as they appear on the device (little-endian for ordered accesses).
type MMIOHandler interface {
	ReadMMIO(off uint64, data []byte) error
	WriteMMIO(off uint64, data []byte) error
}

// SimpleMMIOHandler adapts a pair of functions to MMIOHandler.
type SimpleMMIOHandler struct {
	ReadFunc  func(off uint64, data []byte) error
	WriteFunc func(off uint64, data []byte) error
}

func (h SimpleMMIOHandler) ReadMMIO(off uint64, data []byte) error {
	if h.ReadFunc != nil {
		return h.ReadFunc(off, data)
	}
	return fmt.Errorf("unhandled read from MMIO offset 0x%X", off)
}

func (h SimpleMMIOHandler) WriteMMIO(off uint64, data []byte) error {
	if h.WriteFunc != nil {
		return h.WriteFunc(off, data)
	}
	return fmt.Errorf("unhandled write to MMIO offset 0x%X", off)
}

// MMIOWindow exposes an MMIOHandler as a Window. Failed reads return all
// ones, as a master abort would on PCIe; failed writes are dropped. Both are
// logged.
type MMIOWindow struct {
	size    uint64
	handler MMIOHandler
	logger  *slog.Logger
}

func NewMMIOWindow(size uint64, handler MMIOHandler) *MMIOWindow {
	return &MMIOWindow{size: size, handler: handler, logger: slog.Default()}
}

func (w *MMIOWindow) SetLogger(logger *slog.Logger) {
	if logger != nil {
		w.logger = logger
	}
}

func (w *MMIOWindow) Size() uint64 { return w.size }

func (w *MMIOWindow) read(off uint64, data []byte) {
	if err := w.handler.ReadMMIO(off, data); err != nil {
		w.logger.Warn("mmio read failed", "offset", fmt.Sprintf("%#x", off), "size", len(data), "err", err)
		for i := range data {
			data[i] = 0xff
		}
	}
}

func (w *MMIOWindow) write(off uint64, data []byte) {
	if err := w.handler.WriteMMIO(off, data); err != nil {
		w.logger.Warn("mmio write failed", "offset", fmt.Sprintf("%#x", off), "size", len(data), "err", err)
	}
}

func (w *MMIOWindow) Load8(off uint64) uint8 {
	var b [1]byte
	w.read(off, b[:])
	return b[0]
}

func (w *MMIOWindow) Load16(off uint64, o Order) uint16 {
	var b [2]byte
	w.read(off, b[:])
	return order(o).Uint16(b[:])
}

func (w *MMIOWindow) Load32(off uint64, o Order) uint32 {
	var b [4]byte
	w.read(off, b[:])
	return order(o).Uint32(b[:])
}

func (w *MMIOWindow) Store8(off uint64, v uint8) {
	w.write(off, []byte{v})
}

func (w *MMIOWindow) Store16(off uint64, v uint16, o Order) {
	var b [2]byte
	order(o).PutUint16(b[:], v)
	w.write(off, b[:])
}

func (w *MMIOWindow) Store32(off uint64, v uint32, o Order) {
	var b [4]byte
	order(o).PutUint32(b[:], v)
	w.write(off, b[:])
}

func (w *MMIOWindow) Store64(off uint64, v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	w.write(off, b[:])
}

var _ Window = (*MMIOWindow)(nil)
