// Package device implements the request path of an accelerator handle:
// request decoding, classification, address validation, segment window
// translation and dispatch to the transfer engines.
package device

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/tinyrange/fpgaio/internal/bar"
	"github.com/tinyrange/fpgaio/internal/config"
	"github.com/tinyrange/fpgaio/internal/dma"
	"github.com/tinyrange/fpgaio/internal/hw"
	"github.com/tinyrange/fpgaio/internal/window"
	"github.com/tinyrange/fpgaio/internal/xfer"
)

var (
	ErrInterrupted        = errors.New("interrupted while waiting for the device")
	ErrBusy               = errors.New("device already open")
	ErrNotOpen            = errors.New("device not open")
	ErrUnsupportedCommand = errors.New("unsupported command")
)

// Handle is an open accelerator. At most one request runs at a time.
type Handle struct {
	table *bar.Table
	regs  hw.Registers
	win   *window.Translator
	small xfer.Small
	bulk  *xfer.Bulk

	engine dma.Engine
	exec   CommandExecutor
	policy dma.Policy

	commandBAR   uint32
	dmaBAR       uint32
	memWindowBAR int

	// sem holds a token while a request is in flight.
	sem chan struct{}

	mu     sync.Mutex
	isOpen bool

	logger *slog.Logger
}

// New builds a handle over table and regs laid out as cfg describes. When
// the memory-window BAR is absent the segment register is treated as
// unavailable and segment switches are skipped.
func New(cfg config.Config, table *bar.Table, regs hw.Registers) (*Handle, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	bulk, err := xfer.NewBulk(regs, cfg.ChunkSize)
	if err != nil {
		return nil, err
	}

	h := &Handle{
		table:        table,
		regs:         regs,
		small:        xfer.Small{Regs: regs},
		bulk:         bulk,
		exec:         unsupportedExecutor{},
		policy:       cfg.Policy(),
		commandBAR:   uint32(cfg.CommandBAR),
		dmaBAR:       uint32(cfg.DMABAR),
		memWindowBAR: cfg.MemWindow.BAR,
		sem:          make(chan struct{}, 1),
		logger:       slog.Default(),
	}

	w := cfg.MemWindow
	if ctrl, err := table.Validate(w.BAR, w.Control, 8); err == nil {
		h.win, err = window.New(regs, ctrl, w.Base, w.Size)
		if err != nil {
			return nil, err
		}
	} else {
		h.logger.Warn("segment register unavailable", slog.Int("bar", w.BAR), slog.Any("err", err))
		h.win, err = window.NewDetached(w.Base, w.Size)
		if err != nil {
			return nil, err
		}
	}
	return h, nil
}

func (h *Handle) SetLogger(logger *slog.Logger) {
	if logger == nil {
		return
	}
	h.logger = logger
	h.win.SetLogger(logger)
	h.bulk.SetLogger(logger)
}

// SetEngine installs the DMA engine. Without one, requests eligible for DMA
// fall back to the bulk engine through the segment window.
func (h *Handle) SetEngine(e dma.Engine) { h.engine = e }

// SetExecutor installs the command channel executor.
func (h *Handle) SetExecutor(e CommandExecutor) {
	if e == nil {
		e = unsupportedExecutor{}
	}
	h.exec = e
}

// Translator exposes the segment window state.
func (h *Handle) Translator() *window.Translator { return h.win }

// Table returns the BAR table.
func (h *Handle) Table() *bar.Table { return h.table }

// Open marks the handle open and forgets the cached segment. A second Open
// without Close fails with ErrBusy.
func (h *Handle) Open() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.isOpen {
		return ErrBusy
	}
	h.isOpen = true
	h.win.Reset()
	h.logger.Debug("device opened")
	return nil
}

func (h *Handle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.isOpen {
		return ErrNotOpen
	}
	h.isOpen = false
	h.logger.Debug("device closed")
	return nil
}

func (h *Handle) opened() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.isOpen
}

// acquire takes the request token, giving up with ErrInterrupted if ctx
// ends first.
func (h *Handle) acquire(ctx context.Context) error {
	select {
	case h.sem <- struct{}{}:
		return nil
	default:
	}
	select {
	case h.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", ErrInterrupted, ctx.Err())
	}
}

func (h *Handle) release() { <-h.sem }

// Read copies cmd.Size bytes from the device into caller memory.
func (h *Handle) Read(ctx context.Context, mem xfer.CallerMemory, cmd Command) error {
	return h.run(ctx, mem, cmd, xfer.ToCaller)
}

// Write copies cmd.Size bytes from caller memory to the device.
func (h *Handle) Write(ctx context.Context, mem xfer.CallerMemory, cmd Command) error {
	return h.run(ctx, mem, cmd, xfer.FromCaller)
}

// Dispatch decodes the command stored at cmdAddr in caller memory and runs
// it in direction dir.
func (h *Handle) Dispatch(ctx context.Context, mem xfer.CallerMemory, cmdAddr uint64, dir xfer.Direction) error {
	if !h.opened() {
		return ErrNotOpen
	}
	if err := h.acquire(ctx); err != nil {
		return err
	}
	defer h.release()

	var raw [CommandSize]byte
	if err := xfer.CopyFromCaller(mem, cmdAddr, raw[:]); err != nil {
		return err
	}
	cmd, err := DecodeCommand(raw[:])
	if err != nil {
		return err
	}
	return h.dispatch(ctx, mem, cmd, dir)
}

func (h *Handle) run(ctx context.Context, mem xfer.CallerMemory, cmd Command, dir xfer.Direction) error {
	if !h.opened() {
		return ErrNotOpen
	}
	if err := h.acquire(ctx); err != nil {
		return err
	}
	defer h.release()
	return h.dispatch(ctx, mem, cmd, dir)
}
