package device

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"time"

	"github.com/tinyrange/fpgaio/internal/bar"
	"github.com/tinyrange/fpgaio/internal/xfer"
)

// idlePoll is the interval between DMA completion checks.
const idlePoll = 10 * time.Microsecond

// dispatch runs one request with the request token held.
func (h *Handle) dispatch(ctx context.Context, mem xfer.CallerMemory, cmd Command, dir xfer.Direction) error {
	if cmd.BarID == h.commandBAR {
		return h.exec.Exec(ctx, cmd, mem, dir)
	}

	mode := cmd.Mode()
	if h.useDMA(cmd) {
		return h.transferDMA(ctx, mem, cmd, dir)
	}

	barID := int(cmd.BarID)
	off := cmd.DeviceAddr
	if cmd.BarID == h.dmaBAR {
		// Global memory reached through the segment window. The previous
		// segment is restored however the transfer ends.
		old := h.win.Current()
		defer h.win.Restore(old)
		barID = h.memWindowBAR
		off = h.win.Select(cmd.DeviceAddr)
	}

	span, err := h.table.Validate(barID, off, cmd.Size)
	if err != nil {
		return fmt.Errorf("device: bar %d offset %#x size %#x: %w", barID, off, cmd.Size, err)
	}
	if !h.table.RangeCheck(barID, off, cmd.Size) {
		h.logger.Debug("blocked illegal device address access",
			slog.Int("bar", barID),
			slog.String("offset", fmt.Sprintf("%#x", off)),
			slog.Uint64("size", cmd.Size),
		)
		return fmt.Errorf("device: blocked illegal device address access: %w", bar.ErrOutOfRange)
	}

	if barID == h.memWindowBAR && dir == xfer.FromCaller {
		if err := h.intercept(span, mem, cmd); err != nil {
			return err
		}
	}

	if xfer.IsSmall(cmd.Size) {
		if dir == xfer.ToCaller {
			return h.small.Read(span, mem, cmd.UserAddr, mode)
		}
		return h.small.Write(span, mem, cmd.UserAddr, mode)
	}
	_, err = h.bulk.Transfer(span, mem, cmd.UserAddr, dir, mode)
	return err
}

func (h *Handle) useDMA(cmd Command) bool {
	if cmd.BarID != h.dmaBAR || h.engine == nil {
		return false
	}
	ok, err := h.policy.Eligible(cmd.Size, cmd.UserAddr, cmd.DeviceAddr)
	if err != nil {
		h.logger.Debug("dma fast path disabled", slog.Any("err", err))
	}
	return ok
}

// MaxRequest returns how many of cmd's bytes one request can move. Global
// memory requests that do not take the DMA path are limited to the rest of
// the window segment holding DeviceAddr; everything else is returned whole.
func (h *Handle) MaxRequest(cmd Command) uint64 {
	if cmd.BarID != h.dmaBAR || h.useDMA(cmd) {
		return cmd.Size
	}
	size := h.win.Size()
	return min(cmd.Size, size-cmd.DeviceAddr&(size-1))
}

// intercept mirrors a write that starts at the segment-select register into
// the translator's cache. The write itself still goes to the device.
func (h *Handle) intercept(span bar.Span, mem xfer.CallerMemory, cmd Command) error {
	ctrl, ok := h.win.Control()
	if !ok || span.Addr() != ctrl.Addr() || cmd.Size == 0 {
		return nil
	}
	n := min(cmd.Size, 8)
	var buf [8]byte
	if err := xfer.CopyFromCaller(mem, cmd.UserAddr, buf[:n]); err != nil {
		return err
	}

	img := registerImage(buf, n, cmd.Mode())
	v := binary.LittleEndian.Uint64(img[:])
	if n < 8 {
		mask := uint64(1)<<(8*n) - 1
		v = h.win.Current()&^mask | v&mask
	}
	h.win.Observe(v)
	return nil
}

// registerImage returns the first n bytes the engines leave in the segment
// register for a write of buf. The register is little-endian. Ordered stores
// put each 16 or 32-bit host value there little-endian, raw stores and single
// bytes copy the caller's bytes unchanged. Writes of 8 bytes or more go out
// as 32-bit words; lengths 3, 5, 6 and 7 are whole words then single bytes.
func registerImage(buf [8]byte, n uint64, mode xfer.Mode) [8]byte {
	if mode == xfer.Raw {
		return buf
	}
	var img [8]byte
	i := uint64(0)
	if n == 2 {
		binary.LittleEndian.PutUint16(img[:], binary.NativeEndian.Uint16(buf[:]))
		i = 2
	}
	for ; i+4 <= n; i += 4 {
		binary.LittleEndian.PutUint32(img[i:], binary.NativeEndian.Uint32(buf[i:]))
	}
	copy(img[i:n], buf[i:n])
	return img
}

func (h *Handle) transferDMA(ctx context.Context, mem xfer.CallerMemory, cmd Command, dir xfer.Direction) error {
	if err := h.engine.Transfer(ctx, cmd.DeviceAddr, mem, cmd.UserAddr, cmd.Size, dir); err != nil {
		return fmt.Errorf("device: dma %s: %w", dir, err)
	}
	for !h.engine.Idle() {
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: waiting for dma: %v", ErrInterrupted, ctx.Err())
		case <-time.After(idlePoll):
		}
	}
	return nil
}
