package hw

import (
	"fmt"
	"log/slog"
)

// Op names a traced register operation.
type Op string

const (
	OpRead8      Op = "read8"
	OpRead16     Op = "read16"
	OpRead32     Op = "read32"
	OpRawRead16  Op = "rawread16"
	OpRawRead32  Op = "rawread32"
	OpWrite8     Op = "write8"
	OpWrite16    Op = "write16"
	OpWrite32    Op = "write32"
	OpRawWrite16 Op = "rawwrite16"
	OpRawWrite32 Op = "rawwrite32"
	OpWrite64    Op = "write64"
	OpBarrier    Op = "barrier"
)

// Access is one traced operation. Addr and Value are zero for barriers.
type Access struct {
	Op    Op
	Addr  uint64
	Value uint64
}

func (a Access) String() string {
	if a.Op == OpBarrier {
		return string(a.Op)
	}
	return fmt.Sprintf("%s %#x=%#x", a.Op, a.Addr, a.Value)
}

// Tracer wraps Registers and records every operation in order. When a
// logger is set each operation is also logged at debug level.
type Tracer struct {
	Next Registers

	log    []Access
	record bool
	logger *slog.Logger
}

// NewTracer records operations forwarded to next.
func NewTracer(next Registers) *Tracer {
	return &Tracer{Next: next, record: true}
}

// SetLogger logs operations to logger. Passing nil stops logging.
func (t *Tracer) SetLogger(logger *slog.Logger) { t.logger = logger }

// SetRecording toggles in-memory recording.
func (t *Tracer) SetRecording(on bool) { t.record = on }

// Log returns the recorded operations.
func (t *Tracer) Log() []Access { return t.log }

// Ops returns only the operation names, in order.
func (t *Tracer) Ops() []Op {
	ops := make([]Op, len(t.log))
	for i, a := range t.log {
		ops[i] = a.Op
	}
	return ops
}

func (t *Tracer) Reset() { t.log = t.log[:0] }

func (t *Tracer) add(op Op, addr, v uint64) {
	a := Access{Op: op, Addr: addr, Value: v}
	if t.record {
		t.log = append(t.log, a)
	}
	if t.logger != nil {
		t.logger.Debug("reg", "op", string(op), "addr", fmt.Sprintf("%#x", addr), "value", fmt.Sprintf("%#x", v))
	}
}

func (t *Tracer) Read8(addr uint64) uint8 {
	v := t.Next.Read8(addr)
	t.add(OpRead8, addr, uint64(v))
	return v
}

func (t *Tracer) Read16(addr uint64) uint16 {
	v := t.Next.Read16(addr)
	t.add(OpRead16, addr, uint64(v))
	return v
}

func (t *Tracer) Read32(addr uint64) uint32 {
	v := t.Next.Read32(addr)
	t.add(OpRead32, addr, uint64(v))
	return v
}

func (t *Tracer) RawRead16(addr uint64) uint16 {
	v := t.Next.RawRead16(addr)
	t.add(OpRawRead16, addr, uint64(v))
	return v
}

func (t *Tracer) RawRead32(addr uint64) uint32 {
	v := t.Next.RawRead32(addr)
	t.add(OpRawRead32, addr, uint64(v))
	return v
}

func (t *Tracer) Write8(addr uint64, v uint8) {
	t.add(OpWrite8, addr, uint64(v))
	t.Next.Write8(addr, v)
}

func (t *Tracer) Write16(addr uint64, v uint16) {
	t.add(OpWrite16, addr, uint64(v))
	t.Next.Write16(addr, v)
}

func (t *Tracer) Write32(addr uint64, v uint32) {
	t.add(OpWrite32, addr, uint64(v))
	t.Next.Write32(addr, v)
}

func (t *Tracer) RawWrite16(addr uint64, v uint16) {
	t.add(OpRawWrite16, addr, uint64(v))
	t.Next.RawWrite16(addr, v)
}

func (t *Tracer) RawWrite32(addr uint64, v uint32) {
	t.add(OpRawWrite32, addr, uint64(v))
	t.Next.RawWrite32(addr, v)
}

func (t *Tracer) Write64(addr uint64, v uint64) {
	t.add(OpWrite64, addr, v)
	t.Next.Write64(addr, v)
}

func (t *Tracer) Barrier() {
	t.add(OpBarrier, 0, 0)
	t.Next.Barrier()
}

var _ Registers = (*Tracer)(nil)
