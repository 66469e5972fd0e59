package xfer

import (
	"encoding/binary"
	"fmt"

	"github.com/tinyrange/fpgaio/internal/bar"
	"github.com/tinyrange/fpgaio/internal/hw"
)

// IsSmall reports whether n is handled by the small transfer engine.
func IsSmall(n uint64) bool {
	switch n {
	case 1, 2, 4, 8:
		return true
	}
	return false
}

// Small performs single 1, 2, 4 or 8-byte accesses. The length of the
// access is the length of the span.
type Small struct {
	Regs hw.Registers
}

// Read loads span from the device and stores it at user in caller memory.
// The device is read even when the copy out fails.
func (s Small) Read(span bar.Span, mem CallerMemory, user uint64, mode Mode) error {
	n := span.Len()
	if !IsSmall(n) {
		return fmt.Errorf("%w: %d bytes", ErrBadLength, n)
	}
	r := s.Regs
	var buf [8]byte
	switch n {
	case 1:
		buf[0] = r.Read8(span.At(0, 1))
	case 2:
		var v uint16
		if mode == Raw {
			v = r.RawRead16(span.At(0, 2))
		} else {
			v = r.Read16(span.At(0, 2))
		}
		binary.NativeEndian.PutUint16(buf[:], v)
	case 4:
		var v uint32
		if mode == Raw {
			v = r.RawRead32(span.At(0, 4))
		} else {
			v = r.Read32(span.At(0, 4))
		}
		binary.NativeEndian.PutUint32(buf[:], v)
	case 8:
		var lo, hi uint32
		if mode == Raw {
			lo = r.RawRead32(span.At(0, 4))
			r.Barrier()
			hi = r.RawRead32(span.At(4, 4))
		} else {
			lo = r.Read32(span.At(0, 4))
			hi = r.Read32(span.At(4, 4))
		}
		binary.NativeEndian.PutUint32(buf[0:4], lo)
		binary.NativeEndian.PutUint32(buf[4:8], hi)
	}
	if mode == Raw {
		r.Barrier()
	}
	return CopyToCaller(mem, user, buf[:n])
}

// Write stages n bytes from caller memory and stores them to span. If
// staging fails the device is not touched.
func (s Small) Write(span bar.Span, mem CallerMemory, user uint64, mode Mode) error {
	n := span.Len()
	if !IsSmall(n) {
		return fmt.Errorf("%w: %d bytes", ErrBadLength, n)
	}
	var buf [8]byte
	if err := CopyFromCaller(mem, user, buf[:n]); err != nil {
		return err
	}
	r := s.Regs
	switch n {
	case 1:
		r.Write8(span.At(0, 1), buf[0])
	case 2:
		v := binary.NativeEndian.Uint16(buf[:])
		if mode == Raw {
			r.RawWrite16(span.At(0, 2), v)
		} else {
			r.Write16(span.At(0, 2), v)
		}
	case 4:
		v := binary.NativeEndian.Uint32(buf[:])
		if mode == Raw {
			r.RawWrite32(span.At(0, 4), v)
		} else {
			r.Write32(span.At(0, 4), v)
		}
	case 8:
		lo := binary.NativeEndian.Uint32(buf[0:4])
		hi := binary.NativeEndian.Uint32(buf[4:8])
		if mode == Raw {
			r.RawWrite32(span.At(0, 4), lo)
			r.Barrier()
			r.RawWrite32(span.At(4, 4), hi)
		} else {
			r.Write32(span.At(0, 4), lo)
			r.Write32(span.At(4, 4), hi)
		}
	}
	if mode == Raw {
		r.Barrier()
	}
	return nil
}
