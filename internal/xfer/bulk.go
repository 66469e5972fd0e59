package xfer

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"time"

	"github.com/tinyrange/fpgaio/internal/bar"
	"github.com/tinyrange/fpgaio/internal/hw"
)

const (
	// DefaultChunkSize bounds the scratch buffer used per bulk chunk.
	DefaultChunkSize = 8192

	wordSize = 4
)

// Stats describes one bulk transfer.
type Stats struct {
	Bytes      uint64
	Chunks     int
	DeviceTime time.Duration
	CopyTime   time.Duration
}

// Bulk copies arbitrary lengths in chunks through a scratch buffer, moving
// 32-bit words to the device and any trailing bytes one at a time.
type Bulk struct {
	regs    hw.Registers
	scratch []byte
	logger  *slog.Logger
}

// NewBulk allocates a scratch buffer of chunkSize bytes, which must be a
// positive multiple of the word size.
func NewBulk(regs hw.Registers, chunkSize int) (*Bulk, error) {
	if chunkSize <= 0 || chunkSize%wordSize != 0 {
		return nil, fmt.Errorf("xfer: chunk size %d must be a positive multiple of %d", chunkSize, wordSize)
	}
	return &Bulk{
		regs:    regs,
		scratch: make([]byte, chunkSize),
		logger:  slog.Default(),
	}, nil
}

func (b *Bulk) SetLogger(logger *slog.Logger) {
	if logger != nil {
		b.logger = logger
	}
}

// ChunkSize returns the scratch buffer size.
func (b *Bulk) ChunkSize() int { return len(b.scratch) }

// Transfer moves span.Len() bytes between span and caller memory at user.
// A caller copy failure aborts immediately; chunks already written to the
// device stay written.
func (b *Bulk) Transfer(span bar.Span, mem CallerMemory, user uint64, dir Direction, mode Mode) (Stats, error) {
	var st Stats
	start := time.Now()
	left := span.Len()
	var off uint64

	for left > 0 {
		chunk := uint64(len(b.scratch))
		if left < chunk {
			chunk = left
		}
		buf := b.scratch[:chunk]

		if dir == FromCaller {
			t := time.Now()
			if err := CopyFromCaller(mem, user+off, buf); err != nil {
				return st, err
			}
			st.CopyTime += time.Since(t)
		}

		t := time.Now()
		words := chunk / wordSize
		for i := uint64(0); i < words; i++ {
			addr := span.At(off+i*wordSize, wordSize)
			w := buf[i*wordSize : i*wordSize+wordSize]
			if dir == ToCaller {
				var v uint32
				if mode == Raw {
					v = b.regs.RawRead32(addr)
					b.regs.Barrier()
				} else {
					v = b.regs.Read32(addr)
				}
				binary.NativeEndian.PutUint32(w, v)
			} else {
				v := binary.NativeEndian.Uint32(w)
				if mode == Raw {
					b.regs.RawWrite32(addr, v)
					b.regs.Barrier()
				} else {
					b.regs.Write32(addr, v)
				}
			}
		}

		// Only the final chunk can have a tail.
		for i := words * wordSize; i < chunk; i++ {
			addr := span.At(off+i, 1)
			if dir == ToCaller {
				buf[i] = b.regs.Read8(addr)
			} else {
				b.regs.Write8(addr, buf[i])
			}
		}
		st.DeviceTime += time.Since(t)

		if dir == ToCaller {
			t := time.Now()
			if err := CopyToCaller(mem, user+off, buf); err != nil {
				return st, err
			}
			st.CopyTime += time.Since(t)
		}

		off += chunk
		left -= chunk
		st.Bytes += chunk
		st.Chunks++
	}

	b.logger.Debug("bulk transfer",
		slog.String("dir", dir.String()),
		slog.Uint64("bytes", st.Bytes),
		slog.Int("chunks", st.Chunks),
		slog.Duration("total", time.Since(start)),
		slog.Duration("device", st.DeviceTime),
		slog.Duration("copy", st.CopyTime),
	)
	return st, nil
}
