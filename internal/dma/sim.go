package dma

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"

	"github.com/tinyrange/fpgaio/internal/queue"
	"github.com/tinyrange/fpgaio/internal/xfer"
)

const (
	// DefaultDescriptorSize is the largest piece one descriptor moves.
	DefaultDescriptorSize = 4096
	// DefaultQueueDepth is the number of descriptors in flight at once.
	DefaultQueueDepth = 32
)

// Descriptor is one in-flight piece of a DMA transfer.
type Descriptor struct {
	DevAddr  uint64
	UserAddr uint64
	Length   uint32
	Dir      xfer.Direction
}

type descriptorCodec struct{}

func (descriptorCodec) Size() int { return 24 }

func (descriptorCodec) Encode(dst []byte, d Descriptor) {
	binary.LittleEndian.PutUint64(dst[0:8], d.DevAddr)
	binary.LittleEndian.PutUint64(dst[8:16], d.UserAddr)
	binary.LittleEndian.PutUint32(dst[16:20], d.Length)
	dst[20] = byte(d.Dir)
	dst[21], dst[22], dst[23] = 0, 0, 0
}

func (descriptorCodec) Decode(src []byte) Descriptor {
	return Descriptor{
		DevAddr:  binary.LittleEndian.Uint64(src[0:8]),
		UserAddr: binary.LittleEndian.Uint64(src[8:16]),
		Length:   binary.LittleEndian.Uint32(src[16:20]),
		Dir:      xfer.Direction(src[20]),
	}
}

// Sim is a software DMA engine over a byte slice of device global memory.
// Transfers are split into descriptors that pass through a fixed-depth
// queue, so at most QueueDepth descriptors are ever outstanding.
type Sim struct {
	global   []byte
	descSize uint64
	pending  *queue.Of[Descriptor]

	completed uint64
	logger    *slog.Logger
}

// NewSim returns an engine over global using descSize-byte descriptors and
// depth queue slots.
func NewSim(global []byte, descSize uint64, depth uint32) (*Sim, error) {
	if descSize == 0 || descSize > 1<<31 {
		return nil, fmt.Errorf("dma: descriptor size %d out of range", descSize)
	}
	q, err := queue.NewOf[Descriptor](descriptorCodec{}, depth)
	if err != nil {
		return nil, fmt.Errorf("dma: %w", err)
	}
	return &Sim{
		global:   global,
		descSize: descSize,
		pending:  q,
		logger:   slog.Default(),
	}, nil
}

func (s *Sim) SetLogger(logger *slog.Logger) {
	if logger != nil {
		s.logger = logger
	}
}

// Idle reports whether no descriptor is outstanding.
func (s *Sim) Idle() bool { return s.pending.Empty() }

// Completed returns the number of descriptors retired so far.
func (s *Sim) Completed() uint64 { return s.completed }

// Close releases the descriptor queue.
func (s *Sim) Close() { s.pending.Close() }

func (s *Sim) Transfer(ctx context.Context, devAddr uint64, mem xfer.CallerMemory, user, length uint64, dir xfer.Direction) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	end := devAddr + length
	if end < devAddr || end > uint64(len(s.global)) {
		return fmt.Errorf("dma: transfer [%#x-%#x) outside %#x bytes of global memory", devAddr, end, len(s.global))
	}

	var off uint64
	for off < length || !s.pending.Empty() {
		for off < length && !s.pending.Full() {
			n := min(length-off, s.descSize)
			s.pending.Push(Descriptor{
				DevAddr:  devAddr + off,
				UserAddr: user + off,
				Length:   uint32(n),
				Dir:      dir,
			})
			off += n
		}
		if err := s.retire(mem); err != nil {
			s.drain()
			return err
		}
	}
	s.logger.Debug("dma transfer",
		slog.String("dir", dir.String()),
		slog.Uint64("dev", devAddr),
		slog.Uint64("bytes", length),
	)
	return nil
}

func (s *Sim) retire(mem xfer.CallerMemory) error {
	d, ok := s.pending.Front()
	if !ok {
		return nil
	}
	s.pending.Pop()
	s.completed++
	dev := s.global[d.DevAddr : d.DevAddr+uint64(d.Length)]
	if d.Dir == xfer.ToCaller {
		return xfer.CopyToCaller(mem, d.UserAddr, dev)
	}
	return xfer.CopyFromCaller(mem, d.UserAddr, dev)
}

// drain discards outstanding descriptors after a failed one, as the
// hardware does when a transfer is aborted.
func (s *Sim) drain() {
	for !s.pending.Empty() {
		s.pending.Pop()
	}
}

var _ Engine = (*Sim)(nil)
