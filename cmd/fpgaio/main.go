package main

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"

	"github.com/schollz/progressbar/v3"
	"golang.org/x/term"

	"github.com/tinyrange/fpgaio/internal/bar"
	"github.com/tinyrange/fpgaio/internal/config"
	"github.com/tinyrange/fpgaio/internal/device"
	"github.com/tinyrange/fpgaio/internal/hw"
	"github.com/tinyrange/fpgaio/internal/pcie"
	"github.com/tinyrange/fpgaio/internal/sim"
	"github.com/tinyrange/fpgaio/internal/xfer"
)

// pieceSize is the most a single dump or load request moves. It keeps the
// DMA alignment of the reference board. Requests that go through the segment
// window are cut shorter at segment boundaries.
const pieceSize = 1 << 20

type requestError struct {
	err error
}

func (e *requestError) Error() string { return e.err.Error() }
func (e *requestError) Unwrap() error { return e.err }

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fpgaio: %v\n", err)
		var re *requestError
		if errors.As(err, &re) {
			fmt.Fprintf(os.Stderr, "fpgaio: result code %d\n", device.ResultCode(re.err))
		}
		os.Exit(1)
	}
}

type app struct {
	cfg    config.Config
	logger *slog.Logger
	handle *device.Handle
	close  func() error
}

func run() error {
	configPath := flag.String("config", "", "board configuration file (YAML)")
	addr := flag.String("device", "", "PCI address of the board, e.g. 0000:03:00.0")
	useSim := flag.Bool("sim", false, "use the simulated board")
	verbose := flag.Bool("v", false, "enable debug logging")
	trace := flag.Bool("trace", false, "log every register access (implies -v)")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, `fpgaio - read and write accelerator BARs

USAGE:
  fpgaio [flags] <command> [command flags]

FLAGS:
  -config FILE   Board configuration (default: built-in reference layout)
  -device BDF    Map the BARs of this PCI function through sysfs
  -sim           Use the simulated board (default when -device is not given)
  -v             Debug logging
  -trace         Log every register access

COMMANDS:
  read  -bar N -addr A -size S [-raw]      Read S bytes and print them
  write -bar N -addr A -value HEX [-size S] [-raw]
                                           Write a 1, 2, 4 or 8-byte value
  dump  -bar N -addr A -size S -o FILE     Copy device memory to FILE
  load  -bar N -addr A FILE                Copy FILE to device memory

BAR 22 addresses global memory through the segment window (or DMA when
the request qualifies). Simulated board state lasts for one invocation.
`)
	}
	flag.Parse()

	if flag.NArg() < 1 {
		flag.Usage()
		os.Exit(1)
	}

	level := slog.LevelInfo
	if *verbose || *trace {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	cfg := config.Default()
	if *configPath != "" {
		var err error
		cfg, err = config.Load(*configPath)
		if err != nil {
			return err
		}
	}
	if *addr != "" && *useSim {
		return fmt.Errorf("-device and -sim are mutually exclusive")
	}

	a := &app{cfg: cfg, logger: logger}
	if err := a.open(*addr, *trace); err != nil {
		return err
	}
	defer a.close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	cmd, args := flag.Arg(0), flag.Args()[1:]
	switch cmd {
	case "read":
		return a.read(ctx, args)
	case "write":
		return a.write(ctx, args)
	case "dump":
		return a.dump(ctx, args)
	case "load":
		return a.load(ctx, args)
	default:
		flag.Usage()
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func (a *app) open(addr string, trace bool) error {
	var (
		table  *bar.Table
		regs   hw.Registers
		board  *sim.Board
		closer func() error
	)
	if addr != "" {
		d, err := pcie.Open(addr, a.cfg.BARs, a.cfg.HostControlBAR)
		if err != nil {
			return err
		}
		table, regs, closer = d.Table, d.Bus, d.Close
	} else {
		var err error
		board, err = sim.NewBoard(a.cfg)
		if err != nil {
			return err
		}
		board.SetLogger(a.logger)
		table, regs = board.Table, board.Bus
		closer = func() error { board.Close(); return nil }
	}

	if trace {
		t := hw.NewTracer(regs)
		t.SetRecording(false)
		t.SetLogger(a.logger)
		regs = t
	}

	h, err := device.New(a.cfg, table, regs)
	if err != nil {
		closer()
		return err
	}
	h.SetLogger(a.logger)
	if board != nil {
		h.SetEngine(board.DMA)
	}
	if err := h.Open(); err != nil {
		closer()
		return err
	}
	a.handle = h
	a.close = func() error {
		h.Close()
		return closer()
	}
	return nil
}

type target struct {
	bar  uint
	addr string
}

func (t *target) register(fs *flag.FlagSet) {
	fs.UintVar(&t.bar, "bar", uint(config.DefaultHostControlBAR), "BAR id")
	fs.StringVar(&t.addr, "addr", "0", "device address (offset inside the BAR)")
}

func (t *target) parse() (uint32, uint64, error) {
	addr, err := strconv.ParseUint(t.addr, 0, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("bad -addr %q: %w", t.addr, err)
	}
	return uint32(t.bar), addr, nil
}

func (a *app) read(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("read", flag.ExitOnError)
	var tg target
	tg.register(fs)
	size := fs.Uint64("size", 4, "bytes to read")
	raw := fs.Bool("raw", false, "host byte order on the device")
	fs.Parse(args)

	barID, addr, err := tg.parse()
	if err != nil {
		return err
	}
	mem := make(xfer.Buffer, *size)
	cmd := device.Command{BarID: barID, DeviceAddr: addr, Size: *size, IsDiffEndian: *raw}
	if err := a.handle.Read(ctx, mem, cmd); err != nil {
		return &requestError{err}
	}

	switch *size {
	case 1:
		fmt.Printf("%#02x\n", mem[0])
	case 2:
		fmt.Printf("%#04x\n", binary.NativeEndian.Uint16(mem))
	case 4:
		fmt.Printf("%#08x\n", binary.NativeEndian.Uint32(mem))
	case 8:
		fmt.Printf("%#016x\n", binary.NativeEndian.Uint64(mem))
	default:
		fmt.Print(hex.Dump(mem))
	}
	return nil
}

func (a *app) write(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("write", flag.ExitOnError)
	var tg target
	tg.register(fs)
	value := fs.String("value", "", "value to write (hex)")
	size := fs.Uint64("size", 4, "access size: 1, 2, 4 or 8")
	raw := fs.Bool("raw", false, "host byte order on the device")
	fs.Parse(args)

	barID, addr, err := tg.parse()
	if err != nil {
		return err
	}
	v, err := strconv.ParseUint(*value, 16, 64)
	if err != nil {
		return fmt.Errorf("bad -value %q: %w", *value, err)
	}
	mem := make(xfer.Buffer, 8)
	switch *size {
	case 1:
		mem[0] = byte(v)
	case 2:
		binary.NativeEndian.PutUint16(mem, uint16(v))
	case 4:
		binary.NativeEndian.PutUint32(mem, uint32(v))
	case 8:
		binary.NativeEndian.PutUint64(mem, v)
	default:
		return fmt.Errorf("bad -size %d: want 1, 2, 4 or 8", *size)
	}
	cmd := device.Command{BarID: barID, DeviceAddr: addr, Size: *size, IsDiffEndian: *raw}
	if err := a.handle.Write(ctx, mem, cmd); err != nil {
		return &requestError{err}
	}
	return nil
}

// progress returns w wrapped with a byte progress bar when stderr is a
// terminal. The returned func finishes the bar.
func progress(w io.Writer, total int64, title string) (io.Writer, func()) {
	if !term.IsTerminal(int(os.Stderr.Fd())) {
		return w, func() {}
	}
	pb := progressbar.DefaultBytes(total, title)
	return io.MultiWriter(w, pb), func() { pb.Close() }
}

func (a *app) dump(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("dump", flag.ExitOnError)
	var tg target
	tg.register(fs)
	size := fs.Uint64("size", 0, "bytes to dump")
	out := fs.String("o", "", "output file")
	fs.Parse(args)

	if *out == "" {
		return fmt.Errorf("dump: -o is required")
	}
	barID, addr, err := tg.parse()
	if err != nil {
		return err
	}
	f, err := os.Create(*out)
	if err != nil {
		return fmt.Errorf("create %s: %w", *out, err)
	}
	defer f.Close()

	w, done := progress(f, int64(*size), fmt.Sprintf("dump bar %d", barID))
	defer done()

	mem := make(xfer.Buffer, min(*size, pieceSize))
	for off := uint64(0); off < *size; {
		cmd := device.Command{BarID: barID, DeviceAddr: addr + off, Size: min(*size-off, pieceSize)}
		cmd.Size = a.handle.MaxRequest(cmd)
		n := cmd.Size
		if err := a.handle.Read(ctx, mem, cmd); err != nil {
			return &requestError{fmt.Errorf("dump at %#x: %w", addr+off, err)}
		}
		if _, err := w.Write(mem[:n]); err != nil {
			return fmt.Errorf("write %s: %w", *out, err)
		}
		off += n
	}
	return nil
}

func (a *app) load(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("load", flag.ExitOnError)
	var tg target
	tg.register(fs)
	fs.Parse(args)

	if fs.NArg() != 1 {
		return fmt.Errorf("load: want exactly one input file")
	}
	barID, addr, err := tg.parse()
	if err != nil {
		return err
	}
	data, err := os.ReadFile(fs.Arg(0))
	if err != nil {
		return fmt.Errorf("read %s: %w", fs.Arg(0), err)
	}

	counter, done := progress(io.Discard, int64(len(data)), fmt.Sprintf("load bar %d", barID))
	defer done()

	mem := xfer.Buffer(data)
	total := uint64(len(data))
	for off := uint64(0); off < total; {
		cmd := device.Command{BarID: barID, DeviceAddr: addr + off, UserAddr: off, Size: min(total-off, pieceSize)}
		cmd.Size = a.handle.MaxRequest(cmd)
		n := cmd.Size
		if err := a.handle.Write(ctx, mem, cmd); err != nil {
			return &requestError{fmt.Errorf("load at %#x: %w", addr+off, err)}
		}
		counter.Write(data[off : off+n])
		off += n
	}
	a.logger.Info("loaded", slog.String("file", fs.Arg(0)), slog.Uint64("bytes", total))
	return nil
}
