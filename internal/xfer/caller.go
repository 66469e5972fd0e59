// Package xfer moves data between caller memory and device registers.
package xfer

import (
	"errors"
	"fmt"
	"io"
	"math"
)

var (
	ErrUserCopyFault = errors.New("caller memory copy failed")
	ErrBadLength     = errors.New("unsupported transfer length")
)

// CallerMemory is the memory a request's user address refers to.
type CallerMemory interface {
	io.ReaderAt
	io.WriterAt
}

// Mode selects the byte-order behaviour of a transfer.
type Mode uint8

const (
	// Natural accesses are ordered and little-endian on the device.
	Natural Mode = iota
	// Raw accesses preserve host byte order and are fenced with barriers.
	Raw
)

func (m Mode) String() string {
	if m == Raw {
		return "raw"
	}
	return "natural"
}

// Direction is the direction of a transfer relative to the device.
type Direction uint8

const (
	// ToCaller reads device memory into caller memory.
	ToCaller Direction = iota
	// FromCaller writes caller memory to the device.
	FromCaller
)

func (d Direction) String() string {
	if d == FromCaller {
		return "write"
	}
	return "read"
}

// CopyFromCaller fills dst from caller memory at addr.
func CopyFromCaller(mem CallerMemory, addr uint64, dst []byte) error {
	if len(dst) == 0 {
		return nil
	}
	if mem == nil || addr > math.MaxInt64 {
		return fmt.Errorf("%w: read %d bytes at %#x", ErrUserCopyFault, len(dst), addr)
	}
	n, err := mem.ReadAt(dst, int64(addr))
	if n == len(dst) && (err == nil || err == io.EOF) {
		return nil
	}
	if err == nil {
		err = io.ErrUnexpectedEOF
	}
	return fmt.Errorf("%w: read %d bytes at %#x: %v", ErrUserCopyFault, len(dst), addr, err)
}

// CopyToCaller stores src into caller memory at addr.
func CopyToCaller(mem CallerMemory, addr uint64, src []byte) error {
	if len(src) == 0 {
		return nil
	}
	if mem == nil || addr > math.MaxInt64 {
		return fmt.Errorf("%w: write %d bytes at %#x", ErrUserCopyFault, len(src), addr)
	}
	n, err := mem.WriteAt(src, int64(addr))
	if n == len(src) && err == nil {
		return nil
	}
	if err == nil {
		err = io.ErrShortWrite
	}
	return fmt.Errorf("%w: write %d bytes at %#x: %v", ErrUserCopyFault, len(src), addr, err)
}

// Buffer is CallerMemory over a byte slice. Accesses outside the slice fail.
type Buffer []byte

func (b Buffer) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off > int64(len(b)) {
		return 0, fmt.Errorf("offset %d outside %d-byte buffer", off, len(b))
	}
	n := copy(p, b[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (b Buffer) WriteAt(p []byte, off int64) (int, error) {
	if off < 0 || off > int64(len(b)) {
		return 0, fmt.Errorf("offset %d outside %d-byte buffer", off, len(b))
	}
	n := copy(b[off:], p)
	if n < len(p) {
		return n, io.ErrShortWrite
	}
	return n, nil
}

var _ CallerMemory = Buffer(nil)
